// Package domain contains the core business entities and interfaces for the
// payment reconciliation service.
package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderStore defines the interface to the externally owned order aggregate.
// This is a "port" in hexagonal architecture - the domain defines what it
// needs, and infrastructure provides the implementation. The store is the
// sole source of truth for order state.
type OrderStore interface {
	// Get retrieves the order aggregate by id.
	// Returns ErrOrderNotFound if the order doesn't exist.
	Get(ctx context.Context, orderID string) (*Order, error)

	// Save persists the aggregate's metadata, notes, fee items, totals,
	// flags and payment method title as one durable update.
	Save(ctx context.Context, order *Order) error

	// SetStatus transitions the order status, recording the gateway's
	// human-readable status message alongside.
	SetStatus(ctx context.Context, orderID string, status Status, message string) error

	// CompletePayment marks the order's payment as completed with the
	// gateway payment reference.
	CompletePayment(ctx context.Context, orderID, paymentRef string) error

	// AddNote appends a single audit note without touching the rest of the
	// aggregate. Used for child transaction notes.
	AddNote(ctx context.Context, orderID, text string) error

	// CreateRefund requests a refund of the given amount against the order.
	CreateRefund(ctx context.Context, orderID string, amount decimal.Decimal) error
}

// TransactionStore appends an immutable record of every received webhook,
// parent or child. Records are keyed by a delivery id and are never updated
// or deleted.
type TransactionStore interface {
	// Append durably stores the notification and returns the delivery id.
	Append(ctx context.Context, n *Notification) (string, error)
}

// EventPublisher emits the reconciled event to external subscribers.
// Delivery is fire-and-forget: a publish failure must not fail the webhook.
type EventPublisher interface {
	PublishReconciled(ctx context.Context, event ReconciledEvent) error
}
