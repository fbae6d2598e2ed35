package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/capactiyvirus/cafe-checkout/apperr"
	"github.com/capactiyvirus/cafe-checkout/config"
	"github.com/capactiyvirus/cafe-checkout/gateway"
	"github.com/capactiyvirus/cafe-checkout/handlers"
	"github.com/capactiyvirus/cafe-checkout/models"
	"github.com/capactiyvirus/cafe-checkout/store"
)

const webhookSecret = "whsec_test_secret"

// stubPayments answers each call with the configured result or error.
type stubPayments struct {
	order     *models.Order
	intent    *models.PaymentIntentResponse
	result    *models.PaymentResult
	payments  []models.Payment
	raw       json.RawMessage
	err       error
	calls     int
	lastIdem  string
	lastRef   string
	lastID    string
	applied   []*gateway.Intent
	applyType string
}

func (s *stubPayments) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	s.calls++
	s.lastID = orderID
	return s.order, s.err
}

func (s *stubPayments) CreatePaymentIntent(ctx context.Context, req *models.CreatePaymentIntentRequest, key string) (*models.PaymentIntentResponse, error) {
	s.calls++
	s.lastIdem = key
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.intent, s.err
}

func (s *stubPayments) ConfirmPayment(ctx context.Context, req *models.ConfirmPaymentRequest) (*models.PaymentResult, error) {
	s.calls++
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.result, s.err
}

func (s *stubPayments) RecordPayment(ctx context.Context, req *models.RecordPaymentRequest) (*models.PaymentResult, error) {
	s.calls++
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.result, s.err
}

func (s *stubPayments) CreateQClubPayment(ctx context.Context, req *models.QClubPaymentRequest) (json.RawMessage, error) {
	s.calls++
	return s.raw, s.err
}

func (s *stubPayments) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	s.calls++
	s.lastID = paymentID
	if s.err != nil {
		return nil, s.err
	}
	return &models.Payment{PaymentID: models.ID(paymentID), Status: models.PaymentStatusCompleted}, nil
}

func (s *stubPayments) ListOrderPayments(ctx context.Context, orderID string) ([]models.Payment, error) {
	s.calls++
	s.lastID = orderID
	return s.payments, s.err
}

func (s *stubPayments) FindPaymentsByProviderRef(ctx context.Context, ref string) ([]models.Payment, error) {
	s.calls++
	s.lastRef = ref
	return s.payments, s.err
}

func (s *stubPayments) CapturePayment(ctx context.Context, paymentID string) (*models.PaymentResult, error) {
	s.calls++
	s.lastID = paymentID
	return s.result, s.err
}

func (s *stubPayments) RefundPayment(ctx context.Context, req *models.RefundRequest) (*models.PaymentResult, error) {
	s.calls++
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.result, s.err
}

func (s *stubPayments) ApplyIntentStatus(ctx context.Context, eventType string, intent *gateway.Intent) error {
	s.applied = append(s.applied, intent)
	s.applyType = eventType
	return s.err
}

func newTestRouter(t *testing.T, payments *stubPayments, mutate ...func(*config.Config)) http.Handler {
	t.Helper()
	cfg := &config.Config{
		StripePublishableKey: "pk_test_123",
		StripeWebhookSecret:  webhookSecret,
		DefaultCurrency:      "usd",
		CorsAllowedOrigins:   []string{"*"},
		Environment:          "test",
	}
	for _, m := range mutate {
		m(cfg)
	}
	return SetupRoutes(Deps{
		Config:      cfg,
		Handlers:    handlers.NewHandlers(cfg, payments),
		Idempotency: store.NewMemoryIdempotencyCache(),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHealthAndConfig(t *testing.T) {
	h := newTestRouter(t, &stubPayments{})

	rr := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/api/payment/config", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"publishableKey":"pk_test_123","currency":"usd","tipPresets":[0,10,15,20],"defaultTipPercent":15}`, rr.Body.String())
}

func TestGetOrder(t *testing.T) {
	payments := &stubPayments{order: &models.Order{ID: "42", TotalPrice: 15.5}}
	h := newTestRouter(t, payments)

	rr := do(t, h, http.MethodGet, "/api/payment/order/42", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "42", payments.lastID)
	assert.Equal(t, 15.5, decodeBody(t, rr)["total_price"])
}

func TestErrorKindsMapToStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"not found", apperr.NotFound("Order not found"), http.StatusNotFound, "Order not found"},
		{"upstream", apperr.Upstream("The ordering service is unavailable. Please try again.", fmt.Errorf("dial tcp: refused")), http.StatusBadGateway, "The ordering service is unavailable. Please try again."},
		{"timeout", fmt.Errorf("backend: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "The payment service took too long to respond. Please try again."},
		{"internal", fmt.Errorf("pq: relation does not exist"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, &stubPayments{err: tt.err})
			rr := do(t, h, http.MethodGet, "/api/payment/order/42", "")

			assert.Equal(t, tt.wantCode, rr.Code)
			body := decodeBody(t, rr)
			assert.Equal(t, tt.wantMsg, body["error"])
			assert.NotContains(t, rr.Body.String(), "refused")
			assert.NotContains(t, rr.Body.String(), "pq:")
		})
	}
}

func TestCreatePaymentIntent(t *testing.T) {
	payments := &stubPayments{intent: &models.PaymentIntentResponse{
		ClientSecret: "pi_1_secret", PaymentIntentID: "pi_1", Amount: 17.5, TipAmount: 2, Currency: "usd",
	}}
	h := newTestRouter(t, payments)

	rr := do(t, h, http.MethodPost, "/api/payment/create-payment-intent",
		`{"orderId":42,"currency":"usd","tipAmount":2}`, "Idempotency-Key", "tag-1")

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "pi_1_secret", body["clientSecret"])
	assert.Equal(t, 17.5, body["amount"])
	assert.Equal(t, "tag-1", payments.lastIdem)
}

func TestCreatePaymentIntentRejectsInvalidBodies(t *testing.T) {
	payments := &stubPayments{}
	h := newTestRouter(t, payments)

	rr := do(t, h, http.MethodPost, "/api/payment/create-payment-intent", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/api/payment/create-payment-intent", ``)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Request body is required", decodeBody(t, rr)["error"])

	rr = do(t, h, http.MethodPost, "/api/payment/create-payment-intent", `{"currency":"usd"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "validation_error", decodeBody(t, rr)["kind"])
}

func TestPartialFailureIs207(t *testing.T) {
	payments := &stubPayments{result: &models.PaymentResult{
		Success: true,
		Data:    &models.Payment{OrderID: "42", Status: models.PaymentStatusCompleted},
		Warning: "Your payment was received, but we could not update your order yet.",
	}}
	h := newTestRouter(t, payments)

	rr := do(t, h, http.MethodPost, "/api/payment/confirm",
		`{"payment_intent_id":"pi_1","payment_method_id":"pm_1","order_id":"42"}`)

	assert.Equal(t, http.StatusMultiStatus, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["warning"])
}

func TestRecordPaymentSuccess(t *testing.T) {
	payments := &stubPayments{result: &models.PaymentResult{
		Success: true,
		Data:    &models.Payment{PaymentID: "9", OrderID: "42", Status: models.PaymentStatusCreated, HostedPaymentURL: "https://paypage.example/9"},
	}}
	h := newTestRouter(t, payments)

	rr := do(t, h, http.MethodPost, "/api/payment/",
		`{"order_id":42,"provider":"ngenius","payment_method":"card","amount":15.5,"tip_amount":2,"currency":"AED"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Nil(t, body["warning"])
}

func TestProviderDeclineIs402(t *testing.T) {
	payments := &stubPayments{err: apperr.Provider("Your card was declined.", fmt.Errorf("card_declined"))}
	h := newTestRouter(t, payments)

	rr := do(t, h, http.MethodPost, "/api/payment/confirm",
		`{"payment_intent_id":"pi_1","payment_method_id":"pm_1","order_id":"42"}`)

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Equal(t, "Your card was declined.", decodeBody(t, rr)["error"])
}

func TestSupersededSessionIs409(t *testing.T) {
	payments := &stubPayments{err: apperr.Conflict("The total changed after this payment was started.")}
	h := newTestRouter(t, payments)

	rr := do(t, h, http.MethodPost, "/api/payment/confirm",
		`{"payment_intent_id":"pi_1","payment_method_id":"pm_1","order_id":"42"}`)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "conflict", decodeBody(t, rr)["kind"])
}

func TestPaymentLookups(t *testing.T) {
	payments := &stubPayments{payments: []models.Payment{{PaymentID: "9", ProviderTransactionID: "ref-abc"}}}
	h := newTestRouter(t, payments)

	rr := do(t, h, http.MethodGet, "/api/payment/payment/9", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "9", payments.lastID)

	rr = do(t, h, http.MethodGet, "/api/payment/?provider_transaction_id=ref-abc", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ref-abc", payments.lastRef)

	rr = do(t, h, http.MethodGet, "/api/payment/order/42/payments", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "42", payments.lastID)
}

func TestEmptyPaymentListIsArray(t *testing.T) {
	h := newTestRouter(t, &stubPayments{})

	rr := do(t, h, http.MethodGet, "/api/payment/order/42/payments", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestCaptureAndRefund(t *testing.T) {
	payments := &stubPayments{result: &models.PaymentResult{Success: true, Data: &models.Payment{PaymentID: "9", Status: models.PaymentStatusCompleted}}}
	h := newTestRouter(t, payments)

	rr := do(t, h, http.MethodPost, "/api/payment/9/capture", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "9", payments.lastID)

	rr = do(t, h, http.MethodPost, "/api/payment/refund", `{"payment_id":9,"amount":2}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodPost, "/api/payment/refund", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestQClubPassThrough(t *testing.T) {
	payments := &stubPayments{raw: json.RawMessage(`{"payment_id":77,"payment_url":"https://qclub.example/pay/77"}`)}
	h := newTestRouter(t, payments)

	rr := do(t, h, http.MethodPost, "/api/payment/qclub/create-payment", `{"order_id":"42","amount":15000}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"payment_id":77,"payment_url":"https://qclub.example/pay/77"}`, rr.Body.String())
}

func TestIdempotentConfirmIsReplayed(t *testing.T) {
	payments := &stubPayments{result: &models.PaymentResult{Success: true, Data: &models.Payment{PaymentID: "9"}}}
	h := newTestRouter(t, payments)
	body := `{"payment_intent_id":"pi_1","payment_method_id":"pm_1","order_id":"42"}`

	first := do(t, h, http.MethodPost, "/api/payment/confirm", body, "Idempotency-Key", "k-1")
	second := do(t, h, http.MethodPost, "/api/payment/confirm", body, "Idempotency-Key", "k-1")

	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, payments.calls)
}

func signedEvent(t *testing.T, eventType string, intent map[string]interface{}) (string, string) {
	t.Helper()
	raw, err := json.Marshal(intent)
	require.NoError(t, err)
	payload := fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":%q,"type":%q,"data":{"object":%s}}`,
		stripe.APIVersion, eventType, raw)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func TestWebhookAppliesIntentStatus(t *testing.T) {
	payments := &stubPayments{}
	h := newTestRouter(t, payments)

	payload, sig := signedEvent(t, "payment_intent.succeeded", map[string]interface{}{
		"id":       "pi_1",
		"object":   "payment_intent",
		"status":   "succeeded",
		"amount":   1750,
		"currency": "usd",
		"metadata": map[string]string{"order_id": "42", "tip_amount": "2.00"},
	})

	rr := do(t, h, http.MethodPost, "/api/payment/webhook", payload, "Stripe-Signature", sig)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, payments.applied, 1)
	assert.Equal(t, "payment_intent.succeeded", payments.applyType)
	assert.Equal(t, "pi_1", payments.applied[0].ID)
	assert.Equal(t, models.PaymentStatusCompleted, payments.applied[0].Status)
	assert.Equal(t, "42", payments.applied[0].Metadata["order_id"])
}

func TestWebhookPaymentFailed(t *testing.T) {
	payments := &stubPayments{}
	h := newTestRouter(t, payments)

	payload, sig := signedEvent(t, "payment_intent.payment_failed", map[string]interface{}{
		"id":                 "pi_1",
		"object":             "payment_intent",
		"status":             "requires_payment_method",
		"amount":             1750,
		"currency":           "usd",
		"last_payment_error": map[string]string{"type": "card_error", "message": "Your card was declined."},
	})

	rr := do(t, h, http.MethodPost, "/api/payment/webhook", payload, "Stripe-Signature", sig)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, payments.applied, 1)
	assert.Equal(t, models.PaymentStatusFailed, payments.applied[0].Status)
	assert.Equal(t, "Your card was declined.", payments.applied[0].FailureMessage)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	payments := &stubPayments{}
	h := newTestRouter(t, payments)

	rr := do(t, h, http.MethodPost, "/api/payment/webhook", `{"id":"evt_1"}`, "Stripe-Signature", "t=1,v1=deadbeef")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Empty(t, payments.applied)
}

func TestWebhookBackendFailureAsksForRedelivery(t *testing.T) {
	payments := &stubPayments{err: apperr.Upstream("The ordering service is unavailable. Please try again.", fmt.Errorf("refused"))}
	h := newTestRouter(t, payments)

	payload, sig := signedEvent(t, "payment_intent.canceled", map[string]interface{}{
		"id": "pi_1", "object": "payment_intent", "status": "canceled", "amount": 1750, "currency": "usd",
	})

	rr := do(t, h, http.MethodPost, "/api/payment/webhook", payload, "Stripe-Signature", sig)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestWebhookDisabledWithoutSecret(t *testing.T) {
	h := newTestRouter(t, &stubPayments{}, func(c *config.Config) { c.StripeWebhookSecret = "" })

	rr := do(t, h, http.MethodPost, "/api/payment/webhook", `{}`)

	assert.NotEqual(t, http.StatusOK, rr.Code)
}

func TestApplePayDomainAssociation(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "apple-developer-merchantid-domain-association")
	require.NoError(t, os.WriteFile(file, []byte("7B227073704964"), 0o600))

	h := newTestRouter(t, &stubPayments{}, func(c *config.Config) { c.ApplePayDomainFile = file })
	rr := do(t, h, http.MethodGet, "/.well-known/apple-developer-merchantid-domain-association", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "7B227073704964", rr.Body.String())

	h = newTestRouter(t, &stubPayments{})
	rr = do(t, h, http.MethodGet, "/.well-known/apple-developer-merchantid-domain-association", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSecurityHeadersAndCORS(t *testing.T) {
	h := newTestRouter(t, &stubPayments{})

	rr := do(t, h, http.MethodOptions, "/api/payment/confirm", "", "Origin", "https://cafe.example")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://cafe.example", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}
