// Package domain contains the core business entities and interfaces for the
// payment reconciliation service.
package domain

import "errors"

// Domain errors represent business rule violations.
// These are used to communicate specific error conditions from the domain layer.
var (
	// ErrInvalidToken is returned when the notification's security token does
	// not match the per-installation secret.
	ErrInvalidToken = errors.New("invalid security token")

	// ErrMalformedNotification is returned when required fields (status code,
	// order id, token) are missing from a webhook delivery.
	ErrMalformedNotification = errors.New("malformed notification")

	// ErrOrderNotFound is returned when the order id does not resolve in the
	// Order Store.
	ErrOrderNotFound = errors.New("order not found")

	// ErrStoreFailure is returned when the transaction log append or an order
	// persistence call failed. Reconciliation must not proceed past it.
	ErrStoreFailure = errors.New("store failure")

	// ErrRefundFailed is returned when the Order Store rejected a refund
	// request. The stored transaction record is not rolled back.
	ErrRefundFailed = errors.New("refund request failed")

	// ErrCoreAPIError is returned when there's an error communicating with
	// the ShopCore Core API.
	ErrCoreAPIError = errors.New("error communicating with ShopCore Core")
)

// ReconcileError wraps a domain error with additional context.
type ReconcileError struct {
	Err     error
	Message string
	Code    string
}

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with ReconcileError.
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// NewReconcileError creates a new ReconcileError with the given error and message.
func NewReconcileError(err error, message, code string) *ReconcileError {
	return &ReconcileError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}
