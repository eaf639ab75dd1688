// Package api contains the HTTP handlers and routing for the payment
// reconciliation service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/shopcore/shopcore-payments/internal/domain"
	"github.com/shopcore/shopcore-payments/internal/mobbex"
	"github.com/shopcore/shopcore-payments/internal/reconcile"
)

// Version is reported in the platform block of every webhook response.
const Version = "1.2.0"

// ReceivedURLProvider resolves the order-received page for the checkout
// return flow.
type ReceivedURLProvider interface {
	ReceivedURL(ctx context.Context, orderID string) (string, error)
}

// Handler contains the HTTP handlers for the reconciliation API.
type Handler struct {
	reconciler   *reconcile.Service
	tokens       *mobbex.TokenValidator
	receivedURLs ReceivedURLProvider
	cartURL      string
	logger       *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	reconciler *reconcile.Service,
	tokens *mobbex.TokenValidator,
	receivedURLs ReceivedURLProvider,
	cartURL string,
) *Handler {
	return &Handler{
		reconciler:   reconciler,
		tokens:       tokens,
		receivedURLs: receivedURLs,
		cartURL:      cartURL,
		logger:       slog.Default(),
	}
}

// SetLogger replaces the default logger.
func (h *Handler) SetLogger(logger *slog.Logger) {
	h.logger = logger
}

// webhookResponse is the body returned to the gateway for every webhook
// delivery. The gateway decides on redelivery from the result flag alone,
// so the response is always HTTP 200 and always well-formed: a transport
// error would be ambiguous with a network failure.
type webhookResponse struct {
	Result   bool         `json:"result"`
	Platform platformInfo `json:"platform"`
}

type platformInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func webhookResult(result bool) webhookResponse {
	return webhookResponse{
		Result:   result,
		Platform: platformInfo{Name: "shopcore", Version: Version},
	}
}

// HandleWebhook handles POST /mobbex/v1/webhook.
// It parses the delivery, authenticates it, appends it to the transaction
// log and reconciles the order. Any failure anywhere in the path, panics
// included, becomes {"result": false}; nothing propagates to the transport
// layer.
func (h *Handler) HandleWebhook(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic while processing webhook", "panic", r)
			c.JSON(http.StatusOK, webhookResult(false))
		}
	}()

	body, err := c.GetRawData()
	if err != nil {
		h.logger.Warn("failed to read webhook body", "err", err)
		c.JSON(http.StatusOK, webhookResult(false))
		return
	}

	n, token, err := h.parseNotification(c, body)
	if err != nil {
		h.logger.Warn("failed to parse webhook body", "err", err)
		c.JSON(http.StatusOK, webhookResult(false))
		return
	}

	if err := h.reconciler.ProcessWebhook(c.Request.Context(), token, n); err != nil {
		h.logger.Warn("webhook not processed",
			"order_id", n.OrderID, "payment_id", n.PaymentID, "err", err)
		c.JSON(http.StatusOK, webhookResult(false))
		return
	}

	c.JSON(http.StatusOK, webhookResult(true))
}

// parseNotification decodes the delivery from a JSON or form-encoded body.
// The order id and token travel in the query string, with body fields as a
// fallback.
func (h *Handler) parseNotification(c *gin.Context, body []byte) (*domain.Notification, string, error) {
	var (
		n        *domain.Notification
		err      error
		fallback struct {
			OrderID string `json:"mobbex_order_id"`
			Token   string `json:"mobbex_token"`
		}
	)

	if strings.HasPrefix(c.ContentType(), "application/json") {
		n, err = mobbex.ParseJSON(body)
		if err == nil {
			_ = json.Unmarshal(body, &fallback)
		}
	} else {
		var values url.Values
		values, err = url.ParseQuery(string(body))
		if err == nil {
			n, err = mobbex.ParseForm(values)
			fallback.OrderID = values.Get("mobbex_order_id")
			fallback.Token = values.Get("mobbex_token")
		}
	}
	if err != nil {
		return nil, "", err
	}

	n.OrderID = c.Query("mobbex_order_id")
	if n.OrderID == "" {
		n.OrderID = fallback.OrderID
	}
	token := c.Query("mobbex_token")
	if token == "" {
		token = fallback.Token
	}
	return n, token, nil
}

// HandleReturn handles GET /mobbex/v1/return, the redirect-after-checkout
// flow. It validates the status and token query parameters and redirects
// the shopper to the order-received page, or back to the cart with an
// error message.
func (h *Handler) HandleReturn(c *gin.Context) {
	status := c.Query("status")
	orderID := c.Query("mobbex_order_id")
	token := c.Query("mobbex_token")

	if status == "" || orderID == "" || token == "" {
		h.redirectToCart(c, "The transaction could not be validated. Contact the site administrator.")
		return
	}

	if !h.tokens.Validate(token) {
		h.redirectToCart(c, "Invalid security token.")
		return
	}

	code, err := strconv.Atoi(status)
	if err != nil || code <= 1 || code >= 400 {
		h.redirectToCart(c, "Transaction failed. Retry with another payment method.")
		return
	}

	received, err := h.receivedURLs.ReceivedURL(c.Request.Context(), orderID)
	if err != nil {
		h.logger.Error("failed to resolve order received URL", "order_id", orderID, "err", err)
		h.redirectToCart(c, "Transaction failed. Retry with another payment method.")
		return
	}

	c.Redirect(http.StatusFound, received)
}

func (h *Handler) redirectToCart(c *gin.Context, message string) {
	c.Redirect(http.StatusFound, h.cartURL+"?error="+url.QueryEscape(message))
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "shopcore-payments",
	})
}
