// Package backend is the HTTP client for the remote ordering backend that
// owns orders and payment records.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"golang.org/x/sync/singleflight"

	"github.com/capactiyvirus/cafe-checkout/apperr"
	"github.com/capactiyvirus/cafe-checkout/models"
)

const maxResponseBytes = 1 << 20

// Client talks to the backend. It never retries: payment calls are not safe
// to repeat without the caller's say-so.
type Client struct {
	baseURL    string
	httpClient *http.Client
	orders     singleflight.Group
	debug      bool
}

type Option func(*Client)

// WithHTTPClient replaces the default client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithNewRelic records outbound calls as external segments.
func WithNewRelic() Option {
	return func(c *Client) {
		c.httpClient.Transport = newrelic.NewRoundTripper(c.httpClient.Transport)
	}
}

func WithDebug(debug bool) Option {
	return func(c *Client) { c.debug = debug }
}

// NewClient creates a backend client with a bounded per-request timeout.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout, Transport: http.DefaultTransport},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CaptureRequest asks the backend to capture a payment. When ProviderCaptured
// is set the proxy already captured at the provider and the backend only records it.
type CaptureRequest struct {
	ProviderCaptured      bool    `json:"provider_captured,omitempty"`
	ProviderTransactionID string  `json:"provider_transaction_id,omitempty"`
	Amount                float64 `json:"amount,omitempty"`
}

type RefundRequest struct {
	Amount           float64 `json:"amount,omitempty"`
	Reason           string  `json:"reason,omitempty"`
	ProviderRefunded bool    `json:"provider_refunded,omitempty"`
	ProviderRefundID string  `json:"provider_refund_id,omitempty"`
}

type StatusUpdate struct {
	Status                models.PaymentStatus `json:"status"`
	ProviderTransactionID string               `json:"provider_transaction_id,omitempty"`
	ErrorMessage          string               `json:"error_message,omitempty"`
}

// QClubPayload mirrors the backend's Q-Club create-payment schema.
type QClubPayload struct {
	OrderID   int64         `json:"order_id"`
	Amount    float64       `json:"amount"`
	Currency  string        `json:"currency"`
	TipAmount float64       `json:"tip_amount"`
	Metadata  QClubMetadata `json:"metadata"`
}

type QClubMetadata struct {
	ReturnURL  string `json:"return_url"`
	WebhookURL string `json:"webhook_url"`
}

// GetOrder fetches an order. Concurrent fetches of the same order share one
// request, which runs detached from any single caller's context and is
// bounded by the client timeout. Each caller still returns when its own
// context is done.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.orders.DoChan(orderID, func() (interface{}, error) {
		var order models.Order
		if err := c.do(shared, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &order, "Order not found"); err != nil {
			return nil, err
		}
		return &order, nil
	})

	select {
	case <-ctx.Done():
		return nil, apperr.Upstream("The ordering service is unavailable. Please try again.",
			fmt.Errorf("backend GET /orders/%s: %w", orderID, ctx.Err()))
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		order := *res.Val.(*models.Order)
		return &order, nil
	}
}

func (c *Client) ListOrderPayments(ctx context.Context, orderID string) ([]models.Payment, error) {
	var payments []models.Payment
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/payments", nil, &payments, "Order not found"); err != nil {
		return nil, err
	}
	normalizeAll(payments)
	return payments, nil
}

// CreatePayment records a payment or, for hosted providers, opens a hosted
// payment page whose URL comes back on the record.
func (c *Client) CreatePayment(ctx context.Context, rec *models.PaymentRecord) (*models.Payment, error) {
	var payment models.Payment
	if err := c.do(ctx, http.MethodPost, "/payments", rec, &payment, "Order not found"); err != nil {
		return nil, err
	}
	payment.Normalize()
	return &payment, nil
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &payment, "Payment not found"); err != nil {
		return nil, err
	}
	payment.Normalize()
	return &payment, nil
}

// FindPaymentsByProviderRef looks payments up by the provider's own reference.
func (c *Client) FindPaymentsByProviderRef(ctx context.Context, ref string) ([]models.Payment, error) {
	q := url.Values{"provider_transaction_id": {ref}}
	var payments []models.Payment
	if err := c.do(ctx, http.MethodGet, "/payments?"+q.Encode(), nil, &payments, "Payment not found"); err != nil {
		return nil, err
	}
	normalizeAll(payments)
	return payments, nil
}

func (c *Client) CapturePayment(ctx context.Context, paymentID string, req *CaptureRequest) (*models.Payment, error) {
	if req == nil {
		req = &CaptureRequest{}
	}
	var payment models.Payment
	if err := c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/capture", req, &payment, "Payment not found"); err != nil {
		return nil, err
	}
	payment.Normalize()
	return &payment, nil
}

func (c *Client) RefundPayment(ctx context.Context, paymentID string, req *RefundRequest) (*models.Payment, error) {
	var payment models.Payment
	if err := c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/refund", req, &payment, "Payment not found"); err != nil {
		return nil, err
	}
	payment.Normalize()
	return &payment, nil
}

func (c *Client) UpdatePaymentStatus(ctx context.Context, paymentID string, update *StatusUpdate) (*models.Payment, error) {
	var payment models.Payment
	if err := c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(paymentID)+"/status", update, &payment, "Payment not found"); err != nil {
		return nil, err
	}
	payment.Normalize()
	return &payment, nil
}

// CreateQClubPayment passes the backend's answer through untouched.
func (c *Client) CreateQClubPayment(ctx context.Context, payload *QClubPayload) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/payments/qclub/create-payment", payload, &raw, "Order not found"); err != nil {
		return nil, err
	}
	return raw, nil
}

// QClubWebhookURL is where the backend expects Q-Club notifications.
func (c *Client) QClubWebhookURL() string {
	return c.baseURL + "/payments/qclub/webhook"
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, notFoundMsg string) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Upstream("The ordering service is unavailable. Please try again.",
			fmt.Errorf("backend %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperr.Upstream("The ordering service is unavailable. Please try again.",
			fmt.Errorf("backend %s %s: read body: %w", method, path, err))
	}

	if c.debug {
		log.Printf("backend %s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(start))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NotFound(notFoundMsg)
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		return apperr.Validation(detailOr(data, "The request was rejected by the ordering service"))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return apperr.Upstream(detailOr(data, "The ordering service returned an error"),
			fmt.Errorf("backend %s %s: status %d: %s", method, path, resp.StatusCode, truncate(data)))
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Upstream("The ordering service returned an unexpected response",
			fmt.Errorf("backend %s %s: decode: %w", method, path, err))
	}
	return nil
}

// detailOr extracts FastAPI's "detail" (a string or a list of validation
// errors) or the common "error"/"message" keys.
func detailOr(data []byte, fallback string) string {
	var body struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return fallback
	}
	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil && s != "" {
			return s
		}
		var list []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(body.Detail, &list); err == nil {
			msgs := make([]string, 0, len(list))
			for _, item := range list {
				if item.Msg != "" {
					msgs = append(msgs, item.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	if body.Message != "" {
		return body.Message
	}
	if body.Error != "" {
		return body.Error
	}
	return fallback
}

func truncate(data []byte) string {
	const max = 512
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

func normalizeAll(payments []models.Payment) {
	for i := range payments {
		payments[i].Normalize()
	}
}
