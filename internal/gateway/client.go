package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/util"

	"go.uber.org/zap"
)

const (
	defaultBaseURL        = "https://api.mercadopago.com"
	defaultRequestTimeout = 10 * time.Second

	maxRetries     = 2
	retryBaseDelay = 500 * time.Millisecond
)

// Config carries the processor credentials and endpoint settings injected at
// construction. AccessToken is required; BaseURL overrides the endpoint for
// sandbox and tests.
type Config struct {
	AccessToken    string
	BaseURL        string
	RequestTimeout time.Duration
}

// Client is a typed wrapper over the payment processor's REST API. It holds
// no order state; callers gate capture/cancel with their own state checks.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewClient creates a payment gateway client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		retryDelay: retryBaseDelay,
		logger:     util.GetLogger(),
	}
}

// PaymentSnapshot is the authoritative payment state as reported by the
// processor.
type PaymentSnapshot struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Amount            int64  `json:"transaction_amount"`
	Currency          string `json:"currency_id"`
	ExternalReference string `json:"external_reference"`
}

// RefundSnapshot is the processor's view of a refund.
type RefundSnapshot struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// ReturnURLs are the redirect targets embedded in a checkout preference.
// The redirect flow is a UI concern; nothing in this service trusts it.
type ReturnURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type preferenceItem struct {
	ID        string `json:"id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type preferenceRequest struct {
	ExternalReference string           `json:"external_reference"`
	Items             []preferenceItem `json:"items"`
	BackURLs          ReturnURLs       `json:"back_urls"`
	// Authorize without capturing; the hold is settled later by an
	// explicit capture or cancel.
	Capture bool `json:"capture"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// CreateAuthorizationPreference creates a checkout preference that places an
// authorization hold (capture=false) for the order's line items. It returns
// the preference id and the checkout URL the customer is redirected to.
func (c *Client) CreateAuthorizationPreference(ctx context.Context, order *models.Order, urls ReturnURLs) (string, string, error) {
	items := make([]preferenceItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, preferenceItem{
			ID:        item.ItemID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	req := preferenceRequest{
		ExternalReference: order.ID,
		Items:             items,
		BackURLs:          urls,
		Capture:           false,
	}

	var resp preferenceResponse
	if err := c.do(ctx, "create_preference", http.MethodPost, "/checkout/preferences", req, &resp); err != nil {
		return "", "", err
	}
	return resp.ID, resp.InitPoint, nil
}

// GetPayment fetches the authoritative snapshot of a payment.
func (c *Client) GetPayment(ctx context.Context, externalPaymentID string) (*PaymentSnapshot, error) {
	var snap PaymentSnapshot
	err := c.do(ctx, "get_payment", http.MethodGet, "/v1/payments/"+externalPaymentID, nil, &snap)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// CapturePayment converts an authorization hold into a funds transfer for
// the given amount. The caller must have verified the payment is authorized;
// a processor-side state conflict surfaces as ErrInvalidState.
func (c *Client) CapturePayment(ctx context.Context, externalPaymentID string, amount int64) (*PaymentSnapshot, error) {
	body := map[string]interface{}{
		"capture":            true,
		"transaction_amount": amount,
	}

	var snap PaymentSnapshot
	err := c.do(ctx, "capture_payment", http.MethodPut, "/v1/payments/"+externalPaymentID, body, &snap)
	if err != nil {
		return nil, remapStateConflict(err)
	}
	return &snap, nil
}

// CancelPayment releases an authorization hold without transferring funds.
func (c *Client) CancelPayment(ctx context.Context, externalPaymentID string) (*PaymentSnapshot, error) {
	body := map[string]string{"status": "cancelled"}

	var snap PaymentSnapshot
	err := c.do(ctx, "cancel_payment", http.MethodPut, "/v1/payments/"+externalPaymentID, body, &snap)
	if err != nil {
		return nil, remapStateConflict(err)
	}
	return &snap, nil
}

// RefundPayment refunds a captured payment. A non-positive amount requests a
// full refund; partial amounts must be validated against the captured amount
// by the caller before calling out.
func (c *Client) RefundPayment(ctx context.Context, externalPaymentID string, amount int64) (*RefundSnapshot, error) {
	var body interface{}
	if amount > 0 {
		body = map[string]int64{"amount": amount}
	} else {
		body = map[string]int64{}
	}

	var refund RefundSnapshot
	err := c.do(ctx, "refund_payment", http.MethodPost, "/v1/payments/"+externalPaymentID+"/refunds", body, &refund)
	if err != nil {
		return nil, remapStateConflict(err)
	}
	return &refund, nil
}

// processorError carries the processor's 4xx response so mutating calls can
// tell a payment-state conflict apart from a genuinely malformed request.
type processorError struct {
	statusCode int
	message    string
}

func newProcessorError(statusCode int, body []byte) error {
	var parsed struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &parsed)
	msg := parsed.Message
	if msg == "" {
		msg = string(body)
	}
	return &processorError{statusCode: statusCode, message: msg}
}

func (e *processorError) Error() string {
	return fmt.Sprintf("processor returned %d: %s", e.statusCode, e.message)
}

func (e *processorError) Unwrap() error { return models.ErrInvalidRequest }

// stateConflictMarkers are the processor's error phrases for operations
// applied to a payment in the wrong state (capture of a cancelled payment,
// second refund of the same amount, and so on).
var stateConflictMarkers = []string{
	"not authorized",
	"not captured",
	"invalid status",
	"invalid state",
	"already",
}

func (e *processorError) stateConflict() bool {
	if e.statusCode == http.StatusConflict {
		return true
	}
	msg := strings.ToLower(e.message)
	for _, marker := range stateConflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// remapStateConflict converts a 4xx error on a mutating call into
// ErrInvalidState when the processor's response describes a payment-state
// conflict (typically a race with a webhook). Malformed-request responses
// keep their ErrInvalidRequest identity.
func remapStateConflict(err error) error {
	var perr *processorError
	if errors.As(err, &perr) && perr.stateConflict() {
		return fmt.Errorf("%w: %s", models.ErrInvalidState, perr.message)
	}
	return err
}

// do executes a single processor call with bounded retries. Only network
// failures and 5xx responses are retried; 4xx responses propagate
// immediately with the processor's error body attached.
func (c *Client) do(ctx context.Context, operation, method, path string, payload, out interface{}) error {
	start := time.Now()
	outcome := "error"
	defer func() {
		util.GatewayRequestDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			util.GatewayRetriesTotal.WithLabelValues(operation).Inc()
			delay := c.retryDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, ctx.Err())
			}
		}

		status, body, err := c.roundTrip(ctx, method, path, payload)
		if err != nil {
			lastErr = err
			c.logger.Warn("Gateway request failed",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		switch {
		case status >= 200 && status < 300:
			outcome = "success"
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s response: %w", operation, err)
			}
			return nil

		case status == http.StatusNotFound:
			outcome = "not_found"
			return fmt.Errorf("%w: %s", models.ErrPaymentNotFound, path)

		case status >= 400 && status < 500:
			outcome = "invalid_request"
			return newProcessorError(status, body)

		default:
			lastErr = fmt.Errorf("processor returned %d: %s", status, string(body))
			c.logger.Warn("Gateway request failed",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Int("status", status))
		}
	}

	return fmt.Errorf("%w: %v", models.ErrGatewayUnavailable, lastErr)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}
