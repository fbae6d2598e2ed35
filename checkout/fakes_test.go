package checkout

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/capactiyvirus/cafe-checkout/models"
)

// fakeProxy implements the parts of /api/payment the checkout calls.
type fakeProxy struct {
	mu sync.Mutex

	order *models.Order

	creates       []models.CreatePaymentIntentRequest
	createGate    chan struct{}
	createStarted chan struct{}

	confirms       []models.ConfirmPaymentRequest
	confirmStatus  models.PaymentStatus
	confirmCode    int
	confirmError   string
	confirmWarning string
	confirmGate    chan struct{}
	confirmStarted chan struct{}

	records []models.RecordPaymentRequest
	qclubs  []models.QClubPaymentRequest

	payments    map[string]*models.Payment
	byRef       map[string][]models.Payment
	getCalls    int
	getCode     int
	captures    int
	captureKeys []string
	captureCode int
}

func newFakeProxy() *fakeProxy {
	return &fakeProxy{
		order: &models.Order{
			ID:         "42",
			Items:      []models.OrderItem{{ProductID: "1", Quantity: 2, Price: 7.75}},
			TotalPrice: 15.50,
		},
		confirmStatus: models.PaymentStatusCompleted,
		payments:      map[string]*models.Payment{},
		byRef:         map[string][]models.Payment{},
	}
}

func (p *fakeProxy) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/payment", func(r chi.Router) {
		r.Get("/order/{orderId}", p.getOrder)
		r.Post("/create-payment-intent", p.createIntent)
		r.Post("/confirm", p.confirm)
		r.Post("/", p.record)
		r.Get("/", p.findByRef)
		r.Post("/qclub/create-payment", p.qclub)
		r.Get("/payment/{paymentId}", p.getPayment)
		r.Post("/{paymentId}/capture", p.capture)
	})
	return r
}

func (p *fakeProxy) getOrder(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.order == nil || chi.URLParam(r, "orderId") != p.order.ID.String() {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Order not found", Kind: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, p.order)
}

func (p *fakeProxy) createIntent(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePaymentIntentRequest
	json.NewDecoder(r.Body).Decode(&req)

	p.mu.Lock()
	p.creates = append(p.creates, req)
	n := len(p.creates)
	gate, started := p.createGate, p.createStarted
	subtotal := decimal.NewFromFloat(p.order.TotalPrice)
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	tip := decimal.NewFromFloat(req.TipAmount)
	writeJSON(w, http.StatusOK, models.PaymentIntentResponse{
		ClientSecret:    fmt.Sprintf("pi_%d_secret", n),
		PaymentIntentID: fmt.Sprintf("pi_%d", n),
		Amount:          subtotal.Add(tip).Round(2).InexactFloat64(),
		TipAmount:       req.TipAmount,
		Currency:        req.Currency,
	})
}

func (p *fakeProxy) confirm(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmPaymentRequest
	json.NewDecoder(r.Body).Decode(&req)

	p.mu.Lock()
	p.confirms = append(p.confirms, req)
	gate, started := p.confirmGate, p.confirmStarted
	code, msg, status, warning := p.confirmCode, p.confirmError, p.confirmStatus, p.confirmWarning
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	if code != 0 {
		writeJSON(w, code, models.ErrorResponse{Error: msg})
		return
	}
	res := models.PaymentResult{
		Success: true,
		Data:    &models.Payment{PaymentID: "9", OrderID: req.OrderID, Status: status, ProviderTransactionID: req.PaymentIntentID},
		Warning: warning,
	}
	if warning != "" {
		writeJSON(w, http.StatusMultiStatus, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (p *fakeProxy) record(w http.ResponseWriter, r *http.Request) {
	var req models.RecordPaymentRequest
	json.NewDecoder(r.Body).Decode(&req)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, req)

	payment := &models.Payment{
		PaymentID:             "9",
		OrderID:               req.OrderID,
		Provider:              req.Provider,
		Amount:                req.Amount,
		TipAmount:             req.TipAmount,
		Status:                models.PaymentStatusCompleted,
		ProviderTransactionID: req.PaymentIntentID,
	}
	if req.Provider == models.ProviderNGenius {
		payment.Status = models.PaymentStatusCreated
		payment.HostedPaymentURL = "https://paypage.example/9"
		payment.ProviderTransactionID = "ref-abc"
	}
	cp := *payment
	p.payments["9"] = &cp
	writeJSON(w, http.StatusOK, models.PaymentResult{Success: true, Data: payment})
}

func (p *fakeProxy) qclub(w http.ResponseWriter, r *http.Request) {
	var req models.QClubPaymentRequest
	json.NewDecoder(r.Body).Decode(&req)

	p.mu.Lock()
	p.qclubs = append(p.qclubs, req)
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"payment_id":77,"payment_url":"https://qclub.example/pay/77","status":"pending"}`))
}

func (p *fakeProxy) findByRef(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payments := p.byRef[r.URL.Query().Get("provider_transaction_id")]
	if payments == nil {
		payments = []models.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func (p *fakeProxy) getPayment(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getCalls++
	if p.getCode != 0 {
		writeJSON(w, p.getCode, models.ErrorResponse{Error: "The ordering service is unavailable. Please try again."})
		return
	}
	payment, ok := p.payments[chi.URLParam(r, "paymentId")]
	if !ok {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Payment not found"})
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (p *fakeProxy) capture(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures++
	p.captureKeys = append(p.captureKeys, r.Header.Get("Idempotency-Key"))
	if p.captureCode != 0 {
		writeJSON(w, p.captureCode, models.ErrorResponse{Error: "Capture failed"})
		return
	}
	payment, ok := p.payments[chi.URLParam(r, "paymentId")]
	if !ok {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Payment not found"})
		return
	}
	payment.Status = models.PaymentStatusCompleted
	cp := *payment
	writeJSON(w, http.StatusOK, models.PaymentResult{Success: true, Data: &cp})
}

func (p *fakeProxy) setPayment(payment models.Payment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payments[payment.PaymentID.String()] = &payment
}

func (p *fakeProxy) counts() (creates, confirms, records, captures, gets int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creates), len(p.confirms), len(p.records), p.captures, p.getCalls
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// newFixture starts a fake proxy and a checkout pointed at it.
func newFixture(t *testing.T, flow Flow, opts ...Option) (*fakeProxy, *httptest.Server, *Checkout) {
	t.Helper()
	proxy := newFakeProxy()
	srv := httptest.NewServer(proxy.router())
	t.Cleanup(srv.Close)

	opts = append([]Option{WithPolling(3, time.Millisecond), WithQuietPeriod(20 * time.Millisecond)}, opts...)
	co := New(NewClient(srv.URL, 5*time.Second), flow, opts...)
	t.Cleanup(co.Stop)
	return proxy, srv, co
}
