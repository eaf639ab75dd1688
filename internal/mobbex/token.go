// Package mobbex implements the gateway-specific pieces of the integration:
// security token validation, status code classification, and webhook payload
// parsing into the typed domain notification.
package mobbex

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// TokenValidator verifies the security token Mobbex attaches to webhook and
// return-flow requests. The token is derived from the installation's API key
// and access token, so it is stable per store and never transmitted secrets.
type TokenValidator struct {
	expected   []byte
	configured bool
}

// NewTokenValidator derives the expected token from the installation
// credentials.
func NewTokenValidator(apiKey, accessToken string) *TokenValidator {
	if apiKey == "" && accessToken == "" {
		return &TokenValidator{}
	}
	sum := sha256.Sum256([]byte(apiKey + "|" + accessToken))
	return &TokenValidator{
		expected:   []byte(hex.EncodeToString(sum[:])),
		configured: true,
	}
}

// Validate reports whether the given token matches the expected derivation.
// The comparison is constant-time. A missing token or unconfigured secret
// always fails; the caller must treat a false result as an authentication
// failure, never as a different error class.
func (v *TokenValidator) Validate(token string) bool {
	if !v.configured || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), v.expected) == 1
}

// Token returns the expected token value. It is what the checkout flow
// embeds in the webhook and return URLs it registers with the gateway.
func (v *TokenValidator) Token() string {
	return string(v.expected)
}
