package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/capactiyvirus/cafe-checkout/apperr"
	"github.com/capactiyvirus/cafe-checkout/backend"
	"github.com/capactiyvirus/cafe-checkout/gateway"
	"github.com/capactiyvirus/cafe-checkout/models"
	"github.com/capactiyvirus/cafe-checkout/pricing"
)

var errBackendDown = apperr.Upstream("The ordering service is unavailable. Please try again.", errors.New("connection refused"))

type fakeBackend struct {
	mu sync.Mutex

	orders   map[string]*models.Order
	payments map[string]*models.Payment

	created   []*models.PaymentRecord
	captures  []*backend.CaptureRequest
	refunds   []*backend.RefundRequest
	updates   []*backend.StatusUpdate
	qclub     []*backend.QClubPayload
	createErr error
	recordErr error // fails CapturePayment/RefundPayment
	nextID    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		orders:   map[string]*models.Order{},
		payments: map[string]*models.Payment{},
	}
}

func (f *fakeBackend) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, apperr.NotFound("Order not found")
	}
	c := *o
	return &c, nil
}

func (f *fakeBackend) ListOrderPayments(ctx context.Context, orderID string) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for _, p := range f.payments {
		if p.OrderID.String() == orderID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeBackend) CreatePayment(ctx context.Context, rec *models.PaymentRecord) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, rec)
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	p := &models.Payment{
		PaymentID:             models.ID(fmt.Sprint(f.nextID)),
		OrderID:               models.ID(rec.OrderID),
		Provider:              rec.Provider,
		PaymentMethod:         rec.PaymentMethod,
		Amount:                rec.Amount,
		TipAmount:             rec.TipAmount,
		TotalAmount:           rec.TotalAmount,
		Currency:              rec.Currency,
		Status:                rec.Status,
		ProviderTransactionID: rec.ProviderTransactionID,
	}
	if rec.Provider == models.ProviderNGenius {
		p.HostedPaymentURL = "https://paypage.ngenius.example/" + p.PaymentID.String()
		p.ProviderTransactionID = "ref-" + p.PaymentID.String()
	}
	f.payments[p.PaymentID.String()] = p
	c := *p
	return &c, nil
}

func (f *fakeBackend) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, apperr.NotFound("Payment not found")
	}
	c := *p
	return &c, nil
}

func (f *fakeBackend) FindPaymentsByProviderRef(ctx context.Context, ref string) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Payment{}
	for _, p := range f.payments {
		if p.ProviderTransactionID == ref {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeBackend) CapturePayment(ctx context.Context, paymentID string, req *backend.CaptureRequest) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures = append(f.captures, req)
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	p := f.payments[paymentID]
	p.Status = models.PaymentStatusCompleted
	c := *p
	return &c, nil
}

func (f *fakeBackend) RefundPayment(ctx context.Context, paymentID string, req *backend.RefundRequest) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, req)
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	p := f.payments[paymentID]
	p.Status = models.PaymentStatusRefunded
	c := *p
	return &c, nil
}

func (f *fakeBackend) UpdatePaymentStatus(ctx context.Context, paymentID string, update *backend.StatusUpdate) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, apperr.NotFound("Payment not found")
	}
	p.Status = update.Status
	c := *p
	return &c, nil
}

func (f *fakeBackend) CreateQClubPayment(ctx context.Context, payload *backend.QClubPayload) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qclub = append(f.qclub, payload)
	return json.RawMessage(`{"payment_id":77,"payment_url":"https://qclub.example/pay/77"}`), nil
}

func (f *fakeBackend) QClubWebhookURL() string {
	return "http://backend.test/payments/qclub/webhook"
}

// fakeGateway keeps intents in memory and behaves like Stripe for the
// transitions the service relies on.
type fakeGateway struct {
	mu sync.Mutex

	intents   map[string]*gateway.Intent
	params    map[string]*gateway.IntentParams
	nextID    int
	decline   string // non-empty makes ConfirmIntent decline with this message
	confirms  []string
	captures  []string
	canceled  []string
	refunds   []int64
	idemKeys  []string
	cancelErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		intents: map[string]*gateway.Intent{},
		params:  map[string]*gateway.IntentParams{},
	}
}

func (g *fakeGateway) CreateIntent(ctx context.Context, p *gateway.IntentParams) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := fmt.Sprintf("pi_%d", g.nextID)
	intent := &gateway.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       models.PaymentStatusCreated,
		RawStatus:    "requires_payment_method",
		AmountMinor:  pricing.MinorUnits(p.Amount, p.Currency),
		Currency:     p.Currency,
		Metadata: map[string]string{
			"order_id":       p.OrderID,
			"tip_amount":     pricing.Round2(p.TipAmount).StringFixed(2),
			"payment_method": string(p.Method),
			"provider":       string(p.Provider),
		},
	}
	if p.ManualCapture {
		intent.Metadata["capture_method"] = "manual"
	}
	g.intents[id] = intent
	g.params[id] = p
	c := *intent
	return &c, nil
}

func (g *fakeGateway) GetIntent(ctx context.Context, id string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[id]
	if !ok {
		return nil, apperr.NotFound("Payment not found")
	}
	c := *intent
	return &c, nil
}

func (g *fakeGateway) ConfirmIntent(ctx context.Context, id, paymentMethodID, returnURL, idempotencyKey string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirms = append(g.confirms, id)
	g.idemKeys = append(g.idemKeys, idempotencyKey)
	intent, ok := g.intents[id]
	if !ok {
		return nil, apperr.NotFound("Payment not found")
	}
	if g.decline != "" {
		return nil, apperr.Provider(g.decline, errors.New("card_declined"))
	}
	intent.PaymentMethodID = paymentMethodID
	if intent.Metadata["capture_method"] == "manual" {
		intent.Status = models.PaymentStatusAuthorized
		intent.RawStatus = "requires_capture"
	} else {
		intent.Status = models.PaymentStatusCompleted
		intent.RawStatus = "succeeded"
	}
	c := *intent
	return &c, nil
}

func (g *fakeGateway) CaptureIntent(ctx context.Context, id, idempotencyKey string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures = append(g.captures, id)
	g.idemKeys = append(g.idemKeys, idempotencyKey)
	intent := g.intents[id]
	intent.Status = models.PaymentStatusCompleted
	intent.RawStatus = "succeeded"
	c := *intent
	return &c, nil
}

func (g *fakeGateway) CancelIntent(ctx context.Context, id string) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, id)
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	intent := g.intents[id]
	intent.Status = models.PaymentStatusCanceled
	intent.RawStatus = "canceled"
	c := *intent
	return &c, nil
}

func (g *fakeGateway) RefundIntent(ctx context.Context, id string, amountMinor int64, reason, idempotencyKey string) (*gateway.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, amountMinor)
	g.idemKeys = append(g.idemKeys, idempotencyKey)
	return &gateway.Refund{ID: "re_1", Status: "succeeded", AmountMinor: amountMinor}, nil
}

// succeed marks an intent as paid outside the service, e.g. by the Payment Element.
func (g *fakeGateway) succeed(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[id].Status = models.PaymentStatusCompleted
	g.intents[id].RawStatus = "succeeded"
}

type fakeNotifier struct {
	mu       sync.Mutex
	receipts []*Receipt
}

func (n *fakeNotifier) SendReceipt(ctx context.Context, r *Receipt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, r)
	return nil
}
