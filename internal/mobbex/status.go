// Package mobbex implements the gateway-specific pieces of the integration.
package mobbex

import (
	"github.com/shopcore/shopcore-payments/config"
	"github.com/shopcore/shopcore-payments/internal/domain"
)

// StatusResolver classifies Mobbex numeric status codes into domain statuses.
// The code sets come from configuration because the gateway owns its codes
// and may introduce new ones; an unrecognized code resolves to pending so the
// system never silently treats it as success.
type StatusResolver struct {
	classes map[int]domain.Status
	refunds map[int]struct{}
}

// NewStatusResolver builds the classification table from the configured sets.
func NewStatusResolver(codes config.StatusCodes) *StatusResolver {
	r := &StatusResolver{
		classes: make(map[int]domain.Status),
		refunds: make(map[int]struct{}),
	}
	for _, set := range []struct {
		codes  []int
		status domain.Status
	}{
		{codes.Pending, domain.StatusPending},
		{codes.InReview, domain.StatusInReview},
		{codes.Approved, domain.StatusApproved},
		{codes.Rejected, domain.StatusRejected},
		{codes.Cancelled, domain.StatusCancelled},
		{codes.Refunded, domain.StatusRefunded},
	} {
		for _, code := range set.codes {
			r.classes[code] = set.status
		}
	}
	for _, code := range codes.Refunded {
		r.refunds[code] = struct{}{}
	}
	return r
}

// Classify maps a gateway status code to its domain status.
// Unknown codes default to pending.
func (r *StatusResolver) Classify(code int) domain.Status {
	if status, ok := r.classes[code]; ok {
		return status
	}
	return domain.StatusPending
}

// IsRefund reports whether the code denotes a refund. Refund handling
// pre-empts normal reconciliation regardless of the parent flag, so this
// narrower check runs before full classification.
func (r *StatusResolver) IsRefund(code int) bool {
	_, ok := r.refunds[code]
	return ok
}
