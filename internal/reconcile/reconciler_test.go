package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopcore/shopcore-payments/config"
	"github.com/shopcore/shopcore-payments/internal/domain"
	"github.com/shopcore/shopcore-payments/internal/mobbex"
)

// fakeOrderStore holds a single order aggregate in memory and records every
// mutating call.
type fakeOrderStore struct {
	mu          sync.Mutex
	order       *domain.Order
	refunds     []decimal.Decimal
	refundErr   error
	saveErr     error
	saveCount   int
	addedNotes  []string
	statusCalls []string
	completions []string
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Metadata = make(map[string]string, len(o.Metadata))
	for k, v := range o.Metadata {
		cp.Metadata[k] = v
	}
	cp.Notes = append([]string(nil), o.Notes...)
	cp.FeeItems = append([]domain.FeeItem(nil), o.FeeItems...)
	return &cp
}

func (f *fakeOrderStore) Get(_ context.Context, orderID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.order == nil || f.order.ID != orderID {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(f.order), nil
}

func (f *fakeOrderStore) Save(_ context.Context, order *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.order = cloneOrder(order)
	f.saveCount++
	return nil
}

func (f *fakeOrderStore) SetStatus(_ context.Context, orderID string, status domain.Status, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order.Status = status
	f.statusCalls = append(f.statusCalls, string(status))
	return nil
}

func (f *fakeOrderStore) CompletePayment(_ context.Context, orderID, paymentRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order.PaymentCompleted = true
	f.completions = append(f.completions, paymentRef)
	return nil
}

func (f *fakeOrderStore) AddNote(_ context.Context, orderID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order.Notes = append(f.order.Notes, text)
	f.addedNotes = append(f.addedNotes, text)
	return nil
}

func (f *fakeOrderStore) CreateRefund(_ context.Context, orderID string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return f.refundErr
	}
	f.refunds = append(f.refunds, amount)
	return nil
}

func (f *fakeOrderStore) snapshot() *domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneOrder(f.order)
}

type fakeTransactionStore struct {
	mu      sync.Mutex
	records []*domain.Notification
	err     error
}

func (f *fakeTransactionStore) Append(_ context.Context, n *domain.Notification) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.records = append(f.records, n)
	return fmt.Sprintf("delivery-%d", len(f.records)), nil
}

func (f *fakeTransactionStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakePublisher struct {
	events chan domain.ReconciledEvent
}

func (f *fakePublisher) PublishReconciled(_ context.Context, event domain.ReconciledEvent) error {
	f.events <- event
	return nil
}

func defaultCodes() config.StatusCodes {
	return config.StatusCodes{
		Pending:   []int{1, 100},
		InReview:  []int{2, 3, 201, 300},
		Approved:  []int{4, 200, 210},
		Rejected:  []int{400, 402, 403, 500},
		Cancelled: []int{401, 601, 603},
		Refunded:  []int{602, 605},
	}
}

type testEnv struct {
	service   *Service
	orders    *fakeOrderStore
	log       *fakeTransactionStore
	publisher *fakePublisher
	token     string
}

func newTestEnv(t *testing.T, orderTotal string) *testEnv {
	t.Helper()

	orders := &fakeOrderStore{
		order: &domain.Order{
			ID:     "order-1",
			Status: domain.StatusPending,
			Total:  decimal.RequireFromString(orderTotal),
		},
	}
	log := &fakeTransactionStore{}
	publisher := &fakePublisher{events: make(chan domain.ReconciledEvent, 32)}
	tokens := mobbex.NewTokenValidator("api-key", "access-token")

	service := NewService(
		orders, log, publisher,
		tokens,
		mobbex.NewStatusResolver(defaultCodes()),
		"https://mobbex.com/console/coupons/{entity.uid}/{payment.id}",
	)
	return &testEnv{
		service:   service,
		orders:    orders,
		log:       log,
		publisher: publisher,
		token:     tokens.Token(),
	}
}

func parentNotification(code int, total string) *domain.Notification {
	return &domain.Notification{
		OrderID:       "order-1",
		PaymentID:     "PAY-123",
		StatusCode:    code,
		StatusMessage: "status message",
		Total:         decimal.RequireFromString(total),
		Parent:        true,
		RawPayload:    []byte(`{"data":{}}`),
		Source: domain.PaymentSource{
			Type:   "card",
			Name:   "Visa",
			Number: "xxxx-1234",
			Installment: domain.Installment{
				Description: "3 months no interest",
				Count:       3,
				Amount:      decimal.RequireFromString("350"),
			},
		},
	}
}

func waitForEvent(t *testing.T, env *testEnv) domain.ReconciledEvent {
	t.Helper()
	select {
	case event := <-env.publisher.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no reconciled event published")
		return domain.ReconciledEvent{}
	}
}

func TestReconcileApprovedParentMatchingTotal(t *testing.T) {
	env := newTestEnv(t, "1000")
	n := parentNotification(200, "1000")

	err := env.service.ProcessWebhook(context.Background(), env.token, n)
	require.NoError(t, err)

	order := env.orders.snapshot()
	assert.Equal(t, domain.StatusApproved, order.Status)
	assert.True(t, order.PaymentCompleted)
	assert.Equal(t, []string{"PAY-123"}, env.orders.completions)

	// Totals already match: no adjustment, no flag
	assert.Empty(t, order.FeeItems)
	assert.False(t, order.TotalReconciled)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("1000")))

	assert.Equal(t, "PAY-123", order.Metadata["mobbex_payment_id"])
	assert.Equal(t, "Visa ( xxxx-1234 )", order.Metadata["mobbex_card_info"])
	assert.Equal(t, "Visa via Mobbex", order.PaymentMethodTitle)
	require.Len(t, order.Notes, 1)
	assert.Contains(t, order.Notes[0], "Mobbex operation ID: PAY-123")
	assert.Contains(t, order.Notes[0], "Visa ( xxxx-1234 )")

	event := waitForEvent(t, env)
	assert.Equal(t, "order-1", event.OrderID)
	assert.Equal(t, domain.StatusApproved, event.Status)

	assert.Equal(t, 1, env.log.count())
}

func TestReconcileSurchargeAppliedOnce(t *testing.T) {
	env := newTestEnv(t, "1000")
	n := parentNotification(200, "1050")

	require.NoError(t, env.service.ProcessWebhook(context.Background(), env.token, n))

	order := env.orders.snapshot()
	require.Len(t, order.FeeItems, 1)
	assert.Equal(t, "Financial surcharge", order.FeeItems[0].Name)
	assert.True(t, order.FeeItems[0].Amount.Equal(decimal.RequireFromString("50")))
	assert.True(t, order.TotalReconciled)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("1050")))

	// Redelivery of the same logical notification: no second line item,
	// no second completion.
	require.NoError(t, env.service.ProcessWebhook(context.Background(), env.token, n))

	order = env.orders.snapshot()
	assert.Len(t, order.FeeItems, 1)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("1050")))
	assert.True(t, order.PaymentCompleted)
	assert.Equal(t, []string{"PAY-123"}, env.orders.completions)

	// Both deliveries are still in the transaction log.
	assert.Equal(t, 2, env.log.count())
}

func TestReconcileDiscount(t *testing.T) {
	env := newTestEnv(t, "1000")
	n := parentNotification(200, "950")

	require.NoError(t, env.service.ProcessWebhook(context.Background(), env.token, n))

	order := env.orders.snapshot()
	require.Len(t, order.FeeItems, 1)
	assert.Equal(t, "Discount", order.FeeItems[0].Name)
	assert.True(t, order.FeeItems[0].Amount.Equal(decimal.RequireFromString("-50")))
	assert.True(t, order.Total.Equal(decimal.RequireFromString("950")))
}

func TestChildNotificationOnlyAddsNote(t *testing.T) {
	env := newTestEnv(t, "1000")
	n := parentNotification(200, "500")
	n.Parent = false
	n.PaymentID = "CHD-1"

	before := env.orders.snapshot()
	require.NoError(t, env.service.ProcessWebhook(context.Background(), env.token, n))

	order := env.orders.snapshot()
	require.Len(t, env.orders.addedNotes, 1)
	assert.Contains(t, env.orders.addedNotes[0], "Child transaction processed: ID: CHD-1")

	assert.Equal(t, before.Status, order.Status)
	assert.True(t, before.Total.Equal(order.Total))
	assert.Equal(t, before.TotalReconciled, order.TotalReconciled)
	assert.False(t, order.PaymentCompleted)
	assert.Zero(t, env.orders.saveCount)
	assert.Empty(t, env.orders.statusCalls)
}

func TestRefundPrecedesParentReconciliation(t *testing.T) {
	for _, parent := range []bool{true, false} {
		env := newTestEnv(t, "1000")
		n := parentNotification(602, "1000")
		n.Parent = parent

		require.NoError(t, env.service.ProcessWebhook(context.Background(), env.token, n))

		require.Len(t, env.orders.refunds, 1)
		assert.True(t, env.orders.refunds[0].Equal(decimal.RequireFromString("1000")))

		// The standard parent path must not additionally run.
		assert.Zero(t, env.orders.saveCount)
		assert.Empty(t, env.orders.statusCalls)
		assert.Empty(t, env.orders.addedNotes)
		assert.Empty(t, env.orders.snapshot().FeeItems)
	}
}

func TestRefundFailureSurfaces(t *testing.T) {
	env := newTestEnv(t, "1000")
	env.orders.refundErr = errors.New("gateway exploded")
	n := parentNotification(605, "1000")

	err := env.service.ProcessWebhook(context.Background(), env.token, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRefundFailed)

	// The transaction record is not rolled back.
	assert.Equal(t, 1, env.log.count())
	assert.Empty(t, env.orders.snapshot().FeeItems)
}

func TestInvalidTokenIsSideEffectFree(t *testing.T) {
	env := newTestEnv(t, "1000")
	n := parentNotification(200, "1000")

	err := env.service.ProcessWebhook(context.Background(), "wrong-token", n)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	assert.Zero(t, env.log.count())
	assert.Zero(t, env.orders.saveCount)
	assert.False(t, env.orders.snapshot().PaymentCompleted)
}

func TestMalformedNotificationRejectedBeforeStore(t *testing.T) {
	env := newTestEnv(t, "1000")

	missingOrder := parentNotification(200, "1000")
	missingOrder.OrderID = ""
	err := env.service.ProcessWebhook(context.Background(), env.token, missingOrder)
	assert.ErrorIs(t, err, domain.ErrMalformedNotification)

	missingStatus := parentNotification(200, "1000")
	missingStatus.StatusCode = 0
	err = env.service.ProcessWebhook(context.Background(), env.token, missingStatus)
	assert.ErrorIs(t, err, domain.ErrMalformedNotification)

	err = env.service.ProcessWebhook(context.Background(), "", parentNotification(200, "1000"))
	assert.ErrorIs(t, err, domain.ErrMalformedNotification)

	assert.Zero(t, env.log.count())
}

func TestStoreFailureBlocksReconciliation(t *testing.T) {
	env := newTestEnv(t, "1000")
	env.log.err = errors.New("disk full")
	n := parentNotification(200, "1050")

	err := env.service.ProcessWebhook(context.Background(), env.token, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreFailure)

	// No effect was applied without an audit trail.
	assert.Zero(t, env.orders.saveCount)
	assert.False(t, env.orders.snapshot().PaymentCompleted)
}

func TestOrderNotFound(t *testing.T) {
	env := newTestEnv(t, "1000")
	n := parentNotification(200, "1000")
	n.OrderID = "order-unknown"

	err := env.service.ProcessWebhook(context.Background(), env.token, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Zero(t, env.orders.saveCount)
}

func TestUnknownStatusCodeStaysPending(t *testing.T) {
	env := newTestEnv(t, "1000")
	n := parentNotification(999, "1000")

	require.NoError(t, env.service.ProcessWebhook(context.Background(), env.token, n))

	order := env.orders.snapshot()
	assert.Equal(t, domain.StatusPending, order.Status)
	assert.False(t, order.PaymentCompleted)
	assert.Empty(t, env.orders.completions)
}

func TestConcurrentApprovedDeliveries(t *testing.T) {
	env := newTestEnv(t, "1000")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := parentNotification(200, "1050")
			_ = env.service.ProcessWebhook(context.Background(), env.token, n)
		}()
	}
	wg.Wait()

	order := env.orders.snapshot()
	assert.Len(t, env.orders.completions, 1, "payment completed more than once")
	assert.Len(t, order.FeeItems, 1, "total adjusted more than once")
	assert.True(t, order.Total.Equal(decimal.RequireFromString("1050")))
	assert.Equal(t, 10, env.log.count())
}

func TestNonCardSourceNote(t *testing.T) {
	env := newTestEnv(t, "1000")
	n := parentNotification(200, "1000")
	n.Source = domain.PaymentSource{Type: "cash", Name: "Rapipago"}

	require.NoError(t, env.service.ProcessWebhook(context.Background(), env.token, n))

	order := env.orders.snapshot()
	require.Len(t, order.Notes, 1)
	assert.Contains(t, order.Notes[0], "Paid with Rapipago. ")
	assert.NotContains(t, order.Notes[0], "installment")
	_, hasCardInfo := order.Metadata["mobbex_card_info"]
	assert.False(t, hasCardInfo)
}

func TestCouponAndRiskAnnotations(t *testing.T) {
	env := newTestEnv(t, "1000")
	n := parentNotification(200, "1000")
	n.EntityUID = "ent-9"
	n.RiskScore = 42

	require.NoError(t, env.service.ProcessWebhook(context.Background(), env.token, n))

	order := env.orders.snapshot()
	assert.Equal(t, "https://mobbex.com/console/coupons/ent-9/PAY-123", order.Metadata["mobbex_coupon_url"])
	assert.Equal(t, "42", order.Metadata["mobbex_risk_analysis"])
	require.Len(t, order.Notes, 3)
	assert.Contains(t, order.Notes[0], "Coupon URL: https://mobbex.com/console/coupons/ent-9/PAY-123")
	assert.Contains(t, order.Notes[2], "Operation risk evaluated at: 42")
}
