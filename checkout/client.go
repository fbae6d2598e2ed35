// Package checkout is the customer-facing half of the payment protocol: a
// checkout session object that keeps the charged amount equal to the total
// on screen, plus an HTTP client for the proxy's /api/payment surface.
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/capactiyvirus/cafe-checkout/apperr"
	"github.com/capactiyvirus/cafe-checkout/models"
)

const (
	apiPrefix        = "/api/payment"
	maxResponseBytes = 1 << 20
	idempotencyKey   = "Idempotency-Key"
)

// Client calls the payment proxy. Like the proxy itself it never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a proxy client with a bounded per-request timeout.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Config(ctx context.Context) (*models.ConfigResponse, error) {
	var cfg models.ConfigResponse
	if err := c.do(ctx, http.MethodGet, "/config", nil, "", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodGet, "/order/"+url.PathEscape(orderID), nil, "", &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) CreatePaymentIntent(ctx context.Context, req *models.CreatePaymentIntentRequest, key string) (*models.PaymentIntentResponse, error) {
	var resp models.PaymentIntentResponse
	if err := c.do(ctx, http.MethodPost, "/create-payment-intent", req, key, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ConfirmPayment(ctx context.Context, req *models.ConfirmPaymentRequest, key string) (*models.PaymentResult, error) {
	return c.result(ctx, "/confirm", req, key)
}

// RecordPayment records a confirmed Stripe payment or opens an N-Genius one.
func (c *Client) RecordPayment(ctx context.Context, req *models.RecordPaymentRequest, key string) (*models.PaymentResult, error) {
	return c.result(ctx, "/", req, key)
}

// CreateQClubPayment returns the proxy's response untouched; its shape is
// owned by the backend.
func (c *Client) CreateQClubPayment(ctx context.Context, req *models.QClubPaymentRequest, key string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/qclub/create-payment", req, key, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := c.do(ctx, http.MethodGet, "/payment/"+url.PathEscape(paymentID), nil, "", &payment); err != nil {
		return nil, err
	}
	payment.Normalize()
	return &payment, nil
}

// FindPayments looks payments up by provider reference.
func (c *Client) FindPayments(ctx context.Context, ref string) ([]models.Payment, error) {
	var payments []models.Payment
	path := "/?provider_transaction_id=" + url.QueryEscape(ref)
	if err := c.do(ctx, http.MethodGet, path, nil, "", &payments); err != nil {
		return nil, err
	}
	for i := range payments {
		payments[i].Normalize()
	}
	return payments, nil
}

func (c *Client) CapturePayment(ctx context.Context, paymentID, key string) (*models.PaymentResult, error) {
	return c.result(ctx, "/"+url.PathEscape(paymentID)+"/capture", struct{}{}, key)
}

func (c *Client) RefundPayment(ctx context.Context, req *models.RefundRequest, key string) (*models.PaymentResult, error) {
	return c.result(ctx, "/refund", req, key)
}

func (c *Client) result(ctx context.Context, path string, body interface{}, key string) (*models.PaymentResult, error) {
	var res models.PaymentResult
	if err := c.do(ctx, http.MethodPost, path, body, key, &res); err != nil {
		return nil, err
	}
	if res.Data != nil {
		res.Data.Normalize()
	}
	return &res, nil
}

// do sends one request. Transport failures wrap ErrNetwork; error replies
// are mapped back onto the apperr kinds the proxy produced them from.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, key string, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reqBody)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(idempotencyKey, key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %s %s: read body: %w", ErrNetwork, method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return replyError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Upstream("The payment service returned an unexpected response",
			fmt.Errorf("%s %s: decode: %w", method, path, err))
	}
	return nil
}

func replyError(status int, data []byte) error {
	var body models.ErrorResponse
	_ = json.Unmarshal(data, &body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch status {
	case http.StatusNotFound:
		return apperr.NotFound(msg)
	case http.StatusBadRequest:
		return apperr.Validation(msg)
	case http.StatusPaymentRequired:
		return apperr.Provider(msg, nil)
	case http.StatusConflict:
		return apperr.Conflict(msg)
	case http.StatusGatewayTimeout:
		return apperr.Upstream(msg, context.DeadlineExceeded)
	default:
		return apperr.Upstream(msg, fmt.Errorf("proxy status %d", status))
	}
}
