// Package reconcile implements the core business logic of the service: it
// applies the effects of a Mobbex webhook notification to the order
// aggregate exactly once per meaningful financial effect, tolerating
// duplicated, out-of-order and parent/child-split deliveries.
// This is the service/use-case layer in Clean Architecture.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopcore/shopcore-payments/internal/domain"
	"github.com/shopcore/shopcore-payments/internal/mobbex"
)

// Metadata keys written onto the order aggregate.
const (
	metaWebhook      = "mobbex_webhook"
	metaPaymentID    = "mobbex_payment_id"
	metaCouponURL    = "mobbex_coupon_url"
	metaCardInfo     = "mobbex_card_info"
	metaCardPlan     = "mobbex_plan"
	metaRiskAnalysis = "mobbex_risk_analysis"
)

// publishTimeout bounds the fire-and-forget event publish; the webhook
// response never waits on it.
const publishTimeout = 5 * time.Second

// Service implements the webhook reconciliation business logic.
// It orchestrates the transaction log (write-ahead of any effect), the
// Order Store (sole source of truth for order state) and the outbound
// event publisher.
type Service struct {
	orders       domain.OrderStore
	transactions domain.TransactionStore
	publisher    domain.EventPublisher
	tokens       *mobbex.TokenValidator
	statuses     *mobbex.StatusResolver
	couponURL    string
	logger       *slog.Logger
	locks        *lockTable
}

// NewService creates a new reconciliation service with the required
// dependencies. couponURL is a template with {entity.uid} and {payment.id}
// placeholders.
func NewService(
	orders domain.OrderStore,
	transactions domain.TransactionStore,
	publisher domain.EventPublisher,
	tokens *mobbex.TokenValidator,
	statuses *mobbex.StatusResolver,
	couponURL string,
) *Service {
	return &Service{
		orders:       orders,
		transactions: transactions,
		publisher:    publisher,
		tokens:       tokens,
		statuses:     statuses,
		couponURL:    couponURL,
		logger:       slog.Default(),
		locks:        newLockTable(),
	}
}

// SetLogger replaces the default logger.
func (s *Service) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// ProcessWebhook handles one webhook delivery end to end:
// validation and authentication first (fail fast, no partial mutation),
// then the durable append to the transaction log, then reconciliation.
// The append happens before any order mutation so no notification effect
// is ever applied without an audit trail; if the append fails the caller
// must report failure so the gateway redelivers.
func (s *Service) ProcessWebhook(ctx context.Context, token string, n *domain.Notification) error {
	if n.StatusCode == 0 || n.OrderID == "" || token == "" {
		return domain.NewReconcileError(domain.ErrMalformedNotification,
			"status code, order id and token are required",
			"MALFORMED_NOTIFICATION")
	}
	if !s.tokens.Validate(token) {
		s.logger.WarnContext(ctx, "webhook rejected: invalid token", "order_id", n.OrderID)
		return domain.NewReconcileError(domain.ErrInvalidToken,
			"security token mismatch",
			"INVALID_TOKEN")
	}

	deliveryID, err := s.transactions.Append(ctx, n)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to append transaction record",
			"order_id", n.OrderID, "payment_id", n.PaymentID, "err", err)
		return domain.NewReconcileError(domain.ErrStoreFailure,
			"failed to persist transaction record",
			"STORE_FAILURE")
	}
	s.logger.DebugContext(ctx, "transaction record stored",
		"delivery_id", deliveryID, "order_id", n.OrderID, "parent", n.Parent)

	return s.Reconcile(ctx, n)
}

// Reconcile applies the notification's effects to the order aggregate.
// All effects for a given order run under a per-order lock: two concurrent
// approved deliveries must not both observe payment_completed == false, and
// two concurrent parents must not both adjust the total.
func (s *Service) Reconcile(ctx context.Context, n *domain.Notification) error {
	if n.StatusCode == 0 || n.OrderID == "" {
		return domain.NewReconcileError(domain.ErrMalformedNotification,
			"status code and order id are required",
			"MALFORMED_NOTIFICATION")
	}

	unlock := s.locks.Lock(n.OrderID)
	defer unlock()

	order, err := s.orders.Get(ctx, n.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			s.logger.WarnContext(ctx, "webhook for unknown order", "order_id", n.OrderID)
			return domain.NewReconcileError(domain.ErrOrderNotFound,
				fmt.Sprintf("order '%s' not found", n.OrderID),
				"ORDER_NOT_FOUND")
		}
		return domain.NewReconcileError(domain.ErrCoreAPIError,
			"failed to fetch order",
			"CORE_API_ERROR")
	}

	// Refunds pre-empt the parent/child branch: they can originate from
	// either side of the split.
	if s.statuses.IsRefund(n.StatusCode) {
		return s.refund(ctx, n)
	}

	if !n.Parent {
		return s.addChildNote(ctx, order, n)
	}

	return s.reconcileParent(ctx, order, n)
}

// refund requests a refund of the notification's total from the Order Store.
// A failure is surfaced to the gate so the gateway redelivers; the stored
// transaction record is kept either way.
func (s *Service) refund(ctx context.Context, n *domain.Notification) error {
	if err := s.orders.CreateRefund(ctx, n.OrderID, n.Total); err != nil {
		s.logger.ErrorContext(ctx, "refund request failed",
			"order_id", n.OrderID, "payment_id", n.PaymentID, "err", err)
		return domain.NewReconcileError(domain.ErrRefundFailed,
			fmt.Sprintf("refund of %s for order '%s' failed", n.Total, n.OrderID),
			"REFUND_FAILED")
	}
	s.logger.InfoContext(ctx, "refund requested",
		"order_id", n.OrderID, "amount", n.Total.String())
	return nil
}

// addChildNote records a sub-transaction as a single audit note. Child
// notifications are informational only: status, totals, flags and metadata
// stay untouched.
func (s *Service) addChildNote(ctx context.Context, order *domain.Order, n *domain.Notification) error {
	note := fmt.Sprintf(
		"Child transaction processed: ID: %s. Status: %d (%s). Total: $%s. Method: %s %s (%dx$%s). Card: %s.",
		n.PaymentID,
		n.StatusCode,
		n.StatusMessage,
		n.Total,
		n.Source.Name,
		n.Source.Installment.Description,
		n.Source.Installment.Count,
		n.Source.Installment.Amount,
		n.Source.Number,
	)
	if err := s.orders.AddNote(ctx, order.ID, note); err != nil {
		return domain.NewReconcileError(domain.ErrStoreFailure,
			"failed to append child transaction note",
			"STORE_FAILURE")
	}
	s.logger.InfoContext(ctx, "child transaction noted",
		"order_id", order.ID, "payment_id", n.PaymentID)
	return nil
}

// reconcileParent applies the full effect of a parent, non-refund
// notification. Step ordering matters for partial-failure recovery: all
// metadata and notes are staged on the aggregate and flushed with one Save,
// then status and completion, then the total adjustment. A crash in between
// leaves the order partially annotated but not completed, which a
// redelivered notification can safely finish.
func (s *Service) reconcileParent(ctx context.Context, order *domain.Order, n *domain.Notification) error {
	order.SetMeta(metaWebhook, string(n.RawPayload))
	order.SetMeta(metaPaymentID, n.PaymentID)

	if n.EntityUID != "" {
		couponURL := strings.NewReplacer(
			"{entity.uid}", n.EntityUID,
			"{payment.id}", n.PaymentID,
		).Replace(s.couponURL)

		order.SetMeta(metaCouponURL, couponURL)
		order.AddNote("Coupon URL: " + couponURL)
	}

	note := fmt.Sprintf("Mobbex operation ID: %s. ", n.PaymentID)
	if n.Source.Type == "card" {
		cardInfo := fmt.Sprintf("%s ( %s )", n.Source.Name, n.Source.Number)
		cardPlan := fmt.Sprintf("%s. %d installment(s) of %s",
			n.Source.Installment.Description,
			n.Source.Installment.Count,
			n.Source.Installment.Amount)

		order.SetMeta(metaCardInfo, cardInfo)
		order.SetMeta(metaCardPlan, cardPlan)
		note += fmt.Sprintf("Paid with %s. %s. ", cardInfo, cardPlan)
	} else {
		note += fmt.Sprintf("Paid with %s. ", n.Source.Name)
	}
	order.AddNote(note)

	if n.RiskScore > 0 {
		order.AddNote(fmt.Sprintf("Operation risk evaluated at: %v", n.RiskScore))
		order.SetMeta(metaRiskAnalysis, fmt.Sprintf("%v", n.RiskScore))
	}

	if n.Source.Name != "" {
		order.PaymentMethodTitle = n.Source.Name + " via Mobbex"
	}

	if err := s.orders.Save(ctx, order); err != nil {
		return domain.NewReconcileError(domain.ErrStoreFailure,
			"failed to persist order annotations",
			"STORE_FAILURE")
	}

	status := s.statuses.Classify(n.StatusCode)
	if err := s.orders.SetStatus(ctx, order.ID, status, n.StatusMessage); err != nil {
		return domain.NewReconcileError(domain.ErrStoreFailure,
			"failed to transition order status",
			"STORE_FAILURE")
	}
	order.Status = status

	// Complete payment only on approval, and at most once per order no
	// matter how many approved deliveries arrive.
	if status == domain.StatusApproved && !order.PaymentCompleted {
		if err := s.orders.CompletePayment(ctx, order.ID, n.PaymentID); err != nil {
			return domain.NewReconcileError(domain.ErrStoreFailure,
				"failed to complete payment",
				"STORE_FAILURE")
		}
		order.PaymentCompleted = true
	}

	s.reconcileTotal(order, n)
	order.Total = n.Total

	if err := s.orders.Save(ctx, order); err != nil {
		return domain.NewReconcileError(domain.ErrStoreFailure,
			"failed to persist order totals",
			"STORE_FAILURE")
	}

	s.logger.InfoContext(ctx, "parent notification reconciled",
		"order_id", order.ID, "payment_id", n.PaymentID,
		"status", string(status), "total", n.Total.String())

	// Best-effort signal to external subscribers; a detached context keeps
	// the publish alive past the request, and failures are only logged.
	event := domain.ReconciledEvent{
		OrderID:   order.ID,
		PaymentID: n.PaymentID,
		Status:    status,
		Total:     n.Total,
		Payload:   n.RawPayload,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.publisher.PublishReconciled(ctx, event); err != nil {
			s.logger.Error("failed to publish reconciled event",
				"order_id", event.OrderID, "err", err)
		}
	}()

	return nil
}

// reconcileTotal applies the fee/discount adjustment idempotently. If the
// totals already match, or the adjustment was applied by an earlier
// delivery, it is a no-op; otherwise the difference becomes one fee line
// item and the total_reconciled flag blocks any further adjustment.
func (s *Service) reconcileTotal(order *domain.Order, n *domain.Notification) {
	if order.Total.Equal(n.Total) || order.TotalReconciled {
		return
	}

	delta := n.Total.Sub(order.Total)
	name := "Financial surcharge"
	if delta.IsNegative() {
		name = "Discount"
	}

	order.FeeItems = append(order.FeeItems, domain.FeeItem{Name: name, Amount: delta})
	order.Total = order.Total.Add(delta)
	order.TotalReconciled = true
}
