// Package domain contains the core business entities and interfaces for the
// payment reconciliation service. This is the innermost layer of the Clean
// Architecture - it has no dependencies on external frameworks or
// infrastructure.
package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Status is the gateway-independent classification of a payment state.
type Status string

// Domain statuses produced by classifying a gateway status code.
const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusInReview  Status = "in_review"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Installment describes the financing plan of a card payment.
type Installment struct {
	Description string          `json:"description"`
	Count       int             `json:"count"`
	Amount      decimal.Decimal `json:"amount"`
}

// PaymentSource describes the payment method reported by Mobbex.
// Number is the masked card number when Type is "card".
type PaymentSource struct {
	Type        string      `json:"type"`
	Name        string      `json:"name"`
	Number      string      `json:"number"`
	Installment Installment `json:"installment"`
}

// Notification is one webhook delivery from Mobbex, parsed into a typed
// structure at the boundary. It is immutable once stored: the transaction
// log is append-only and keyed by a delivery id, not by PaymentID, so
// duplicate deliveries of the same logical payment each get their own row.
type Notification struct {
	OrderID       string          `json:"order_id"`
	PaymentID     string          `json:"payment_id"`
	StatusCode    int             `json:"status_code"`
	StatusMessage string          `json:"status_message"`
	Total         decimal.Decimal `json:"total"`

	// Parent is true for the primary payment operation of an order.
	// Child operations (installments, split payment legs) are informational
	// except when their status code denotes a refund.
	Parent bool `json:"parent"`

	// EntityUID is the gateway-issued reference used to build the coupon URL.
	EntityUID string `json:"entity_uid,omitempty"`

	Source PaymentSource `json:"source"`

	// RiskScore is the gateway's fraud evaluation; zero means not evaluated.
	RiskScore float64 `json:"risk_score,omitempty"`

	// RawPayload is the delivery kept for audit: the body verbatim for JSON
	// transports, or the form fields re-encoded as a JSON object. It is
	// always valid JSON, which the transaction log and the reconciled event
	// both rely on.
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
}

// FeeItem is a fee or discount line added to an order when the collected
// total differs from the order total.
type FeeItem struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Order is this service's view of the externally owned order aggregate.
// It is read from and written back to the Order Store; it is never cached
// across requests.
type Order struct {
	ID                 string            `json:"id"`
	Status             Status            `json:"status"`
	Total              decimal.Decimal   `json:"total"`
	PaymentMethodTitle string            `json:"payment_method_title,omitempty"`
	Metadata           map[string]string `json:"metadata"`
	Notes              []string          `json:"notes"`
	FeeItems           []FeeItem         `json:"fee_items"`

	// TotalReconciled guards the fee/discount adjustment so it is applied at
	// most once per order no matter how many parent webhooks arrive.
	TotalReconciled bool `json:"total_reconciled"`

	// PaymentCompleted is set at most once, only on an approved status.
	PaymentCompleted bool `json:"payment_completed"`
}

// SetMeta stores a metadata value, allocating the map on first use.
func (o *Order) SetMeta(key, value string) {
	if o.Metadata == nil {
		o.Metadata = make(map[string]string)
	}
	o.Metadata[key] = value
}

// AddNote appends an audit note. Notes are append-only: they are never
// edited or reordered.
func (o *Order) AddNote(text string) {
	o.Notes = append(o.Notes, text)
}

// ReconciledEvent is the outbound signal emitted after a parent notification
// has been fully reconciled. Delivery is best-effort and never affects the
// webhook outcome.
type ReconciledEvent struct {
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Status    Status          `json:"status"`
	Total     decimal.Decimal `json:"total"`
	Payload   json.RawMessage `json:"payload"`
}
