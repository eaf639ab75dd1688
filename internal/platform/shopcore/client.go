// Package shopcore implements the Order Store interface by communicating
// with the ShopCore Core API. The Core owns the order aggregate; this
// service never caches order state across requests.
package shopcore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shopcore/shopcore-payments/internal/domain"
)

// Client implements domain.OrderStore by making HTTP requests to the
// ShopCore Core API. Every call is bounded by the client timeout so a hung
// Core cannot leave a webhook in an ambiguous, partially-applied state.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new ShopCore Core client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// orderResponse represents the JSON order payload from the Core API.
type orderResponse struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	Total              decimal.Decimal   `json:"total"`
	PaymentMethodTitle string            `json:"payment_method_title"`
	Metadata           map[string]string `json:"metadata"`
	Notes              []string          `json:"notes"`
	FeeItems           []feeItem         `json:"fee_items"`
	TotalReconciled    bool              `json:"total_reconciled"`
	PaymentCompleted   bool              `json:"payment_completed"`
	ReceivedURL        string            `json:"received_url"`
}

type feeItem struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Get retrieves the order aggregate from the Core.
// Returns domain.ErrOrderNotFound on a 404.
func (c *Client) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/internal/orders/%s/", orderID), nil, &resp); err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:                 resp.ID,
		Status:             domain.Status(resp.Status),
		Total:              resp.Total,
		PaymentMethodTitle: resp.PaymentMethodTitle,
		Metadata:           resp.Metadata,
		Notes:              resp.Notes,
		TotalReconciled:    resp.TotalReconciled,
		PaymentCompleted:   resp.PaymentCompleted,
	}
	for _, item := range resp.FeeItems {
		order.FeeItems = append(order.FeeItems, domain.FeeItem{Name: item.Name, Amount: item.Amount})
	}
	return order, nil
}

// Save persists the aggregate's annotations, totals and flags as one
// durable update.
func (c *Client) Save(ctx context.Context, order *domain.Order) error {
	payload := orderResponse{
		ID:                 order.ID,
		Status:             string(order.Status),
		Total:              order.Total,
		PaymentMethodTitle: order.PaymentMethodTitle,
		Metadata:           order.Metadata,
		Notes:              order.Notes,
		TotalReconciled:    order.TotalReconciled,
		PaymentCompleted:   order.PaymentCompleted,
	}
	for _, item := range order.FeeItems {
		payload.FeeItems = append(payload.FeeItems, feeItem{Name: item.Name, Amount: item.Amount})
	}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/internal/orders/%s/", order.ID), payload, nil)
}

// SetStatus transitions the order status on the Core.
func (c *Client) SetStatus(ctx context.Context, orderID string, status domain.Status, message string) error {
	payload := map[string]string{
		"status":  string(status),
		"message": message,
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/internal/orders/%s/status/", orderID), payload, nil)
}

// CompletePayment marks the order's payment as completed.
func (c *Client) CompletePayment(ctx context.Context, orderID, paymentRef string) error {
	payload := map[string]string{"payment_ref": paymentRef}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/internal/orders/%s/complete-payment/", orderID), payload, nil)
}

// AddNote appends one audit note to the order.
func (c *Client) AddNote(ctx context.Context, orderID, text string) error {
	payload := map[string]string{"text": text}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/internal/orders/%s/notes/", orderID), payload, nil)
}

// CreateRefund requests a refund of the given amount against the order.
func (c *Client) CreateRefund(ctx context.Context, orderID string, amount decimal.Decimal) error {
	payload := map[string]string{"amount": amount.String()}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/internal/orders/%s/refunds/", orderID), payload, nil); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRefundFailed, err)
	}
	return nil
}

// ReceivedURL returns the order-received page for the checkout return flow.
func (c *Client) ReceivedURL(ctx context.Context, orderID string) (string, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/internal/orders/%s/", orderID), nil, &resp); err != nil {
		return "", err
	}
	return resp.ReceivedURL, nil
}

// do sends one authenticated request to the Core API and decodes the
// response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Internal API authentication
	req.Header.Set("X-Internal-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		// Success - continue
	case http.StatusNotFound:
		return domain.ErrOrderNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: authentication failed", domain.ErrCoreAPIError)
	default:
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: unexpected status %d: %s", domain.ErrCoreAPIError, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
