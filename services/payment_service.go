// services/payment_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/capactiyvirus/cafe-checkout/apperr"
	"github.com/capactiyvirus/cafe-checkout/backend"
	"github.com/capactiyvirus/cafe-checkout/gateway"
	"github.com/capactiyvirus/cafe-checkout/models"
	"github.com/capactiyvirus/cafe-checkout/pricing"
	"github.com/capactiyvirus/cafe-checkout/store"
)

// BackendAPI is the part of the ordering backend the proxy calls.
type BackendAPI interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrderPayments(ctx context.Context, orderID string) ([]models.Payment, error)
	CreatePayment(ctx context.Context, rec *models.PaymentRecord) (*models.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	FindPaymentsByProviderRef(ctx context.Context, ref string) ([]models.Payment, error)
	CapturePayment(ctx context.Context, paymentID string, req *backend.CaptureRequest) (*models.Payment, error)
	RefundPayment(ctx context.Context, paymentID string, req *backend.RefundRequest) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID string, update *backend.StatusUpdate) (*models.Payment, error)
	CreateQClubPayment(ctx context.Context, payload *backend.QClubPayload) (json.RawMessage, error)
	QClubWebhookURL() string
}

// Notifier sends the customer a receipt once a payment completes.
type Notifier interface {
	SendReceipt(ctx context.Context, receipt *Receipt) error
}

// Settings are the behavioural switches taken from config.
type Settings struct {
	DefaultCurrency         string
	QClubCurrency           string
	ManualCapture           bool
	CancelSupersededIntents bool
}

const eventReceiptSent = "receipt.sent"

const recordWarning = "Your payment was received, but we could not update your order yet. " +
	"Please keep reference %s and contact support if your order does not show as paid."

// PaymentService validates checkout requests and forwards them to Stripe
// and the backend.
type PaymentService struct {
	api      BackendAPI
	gateway  gateway.Gateway
	sessions store.SessionStore
	notifier Notifier
	settings Settings
}

// NewPaymentService wires the service. notifier may be nil.
func NewPaymentService(api BackendAPI, gw gateway.Gateway, sessions store.SessionStore, notifier Notifier, settings Settings) *PaymentService {
	if settings.DefaultCurrency == "" {
		settings.DefaultCurrency = "usd"
	}
	if settings.QClubCurrency == "" {
		settings.QClubCurrency = "IQD"
	}
	return &PaymentService{
		api:      api,
		gateway:  gw,
		sessions: sessions,
		notifier: notifier,
		settings: settings,
	}
}

func (s *PaymentService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, apperr.Validation("order id is required")
	}
	return s.api.GetOrder(ctx, orderID)
}

// CreatePaymentIntent opens a Stripe session for the order subtotal plus the
// requested tip. The new session supersedes every open session of the order.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, req *models.CreatePaymentIntentRequest, idempotencyKey string) (*models.PaymentIntentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	orderID := req.OrderID.String()
	order, err := s.api.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	subtotal := order.Subtotal()
	tip := decimal.NewFromFloat(req.TipAmount)
	total := subtotal.Add(tip)
	if !total.IsPositive() {
		return nil, apperr.Validation("The order total must be greater than zero")
	}

	currency := s.currency(req.Currency, order.Currency)
	intent, err := s.gateway.CreateIntent(ctx, &gateway.IntentParams{
		OrderID:        orderID,
		Amount:         total,
		TipAmount:      tip,
		Currency:       currency,
		Provider:       req.Provider,
		Method:         req.PaymentMethod,
		ManualCapture:  s.settings.ManualCapture,
		CustomerEmail:  order.CustomerEmail,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		log.Printf("Failed to create payment intent for order %s: %v", orderID, err)
		return nil, err
	}

	session := &models.PaymentSession{
		ID:        intent.ID,
		OrderID:   orderID,
		Provider:  req.Provider,
		Method:    req.PaymentMethod,
		Amount:    total,
		TipAmount: tip,
		Currency:  currency,
		Status:    models.PaymentStatusCreated,
	}
	superseded, err := s.sessions.Register(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to register payment session: %w", err)
	}
	s.recordEvent(ctx, session.ID, orderID, "session.created", session.Status, map[string]any{
		"amount":     pricing.Round2(total).String(),
		"tip_amount": pricing.Round2(tip).String(),
	})
	s.releaseSuperseded(ctx, superseded)

	log.Printf("Created payment intent %s for order %s: %s %s", intent.ID, orderID, pricing.Display(total), currency)

	return &models.PaymentIntentResponse{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		Amount:          pricing.Float(total),
		TipAmount:       pricing.Float(tip),
		Currency:        currency,
	}, nil
}

// releaseSuperseded cancels abandoned intents at Stripe. Failure only means
// the intent expires on its own, so it is logged and not returned.
func (s *PaymentService) releaseSuperseded(ctx context.Context, superseded []*models.PaymentSession) {
	for _, old := range superseded {
		s.recordEvent(ctx, old.ID, old.OrderID, "session.superseded", models.PaymentStatusSuperseded, map[string]any{
			"superseded_by": old.SupersededBy,
		})
		if !s.settings.CancelSupersededIntents || !old.Provider.IsStripe() {
			continue
		}
		if _, err := s.gateway.CancelIntent(ctx, old.ID); err != nil {
			log.Printf("Could not cancel superseded intent %s for order %s: %v", old.ID, old.OrderID, err)
		}
	}
}

// checkSession refuses to move money on a session that is no longer the
// order's active one: it was superseded, or a newer session is open for the
// order. Unknown sessions (e.g. after a restart with the memory ledger) are
// allowed through and checked against Stripe metadata instead.
func (s *PaymentService) checkSession(ctx context.Context, intentID, orderID string) (*models.PaymentSession, error) {
	session, err := s.sessions.Get(ctx, intentID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment session: %w", err)
	}
	if session.OrderID != orderID {
		return nil, apperr.Validation("The payment does not belong to this order")
	}
	switch session.Status {
	case models.PaymentStatusSuperseded:
		return nil, apperr.Conflict("The total changed after this payment was started. Please review the new total and pay again.")
	case models.PaymentStatusCanceled:
		return nil, apperr.Conflict("This payment was canceled. Please start again.")
	}

	active, err := s.sessions.Active(ctx, orderID)
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load active session: %w", err)
	case active.ID != session.ID:
		return nil, apperr.Conflict("A newer payment was started for this order. Please pay with the current total.")
	}
	return session, nil
}

// ConfirmPayment confirms an open intent with the collected payment method
// and records the outcome with the backend.
func (s *PaymentService) ConfirmPayment(ctx context.Context, req *models.ConfirmPaymentRequest) (*models.PaymentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	orderID := req.OrderID.String()

	session, err := s.checkSession(ctx, req.PaymentIntentID, orderID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		intent, err := s.gateway.GetIntent(ctx, req.PaymentIntentID)
		if err != nil {
			return nil, err
		}
		if intent.Metadata["order_id"] != orderID {
			return nil, apperr.Validation("The payment does not belong to this order")
		}
	}

	intent, err := s.gateway.ConfirmIntent(ctx, req.PaymentIntentID, req.PaymentMethodID, req.ReturnURL, "confirm-"+req.PaymentIntentID)
	if err != nil {
		s.markSession(ctx, req.PaymentIntentID, orderID, models.PaymentStatusFailed, "payment_intent.confirm_failed")
		log.Printf("Confirm failed for intent %s (order %s): %v", req.PaymentIntentID, orderID, err)
		return nil, err
	}
	s.markSession(ctx, intent.ID, orderID, intent.Status, "payment_intent.confirmed")

	if intent.Status == models.PaymentStatusFailed {
		msg := intent.FailureMessage
		if msg == "" {
			msg = "Your payment was declined."
		}
		return nil, apperr.Provider(msg, fmt.Errorf("intent %s: %s", intent.ID, intent.RawStatus))
	}

	provider := models.ProviderStripeIntent
	if session != nil {
		provider = session.Provider
	} else if p := models.Provider(intent.Metadata["provider"]); p.IsStripe() {
		provider = p
	}
	rec := s.stripeRecord(orderID, provider, req.PaymentMethod, intent)
	return s.record(ctx, rec, intent.ID), nil
}

// RecordPayment records a Stripe intent that the page already confirmed, or
// opens an N-Genius hosted payment and returns its redirect URL.
func (s *PaymentService) RecordPayment(ctx context.Context, req *models.RecordPaymentRequest) (*models.PaymentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	orderID := req.OrderID.String()

	if req.Provider.IsStripe() {
		return s.recordStripe(ctx, req, orderID)
	}

	amount := decimal.NewFromFloat(req.Amount)
	tip := decimal.NewFromFloat(req.TipAmount)
	rec := &models.PaymentRecord{
		OrderID:       orderID,
		Provider:      req.Provider,
		PaymentMethod: req.PaymentMethod,
		Amount:        pricing.Float(amount),
		TipAmount:     pricing.Float(tip),
		TotalAmount:   pricing.Float(amount.Add(tip)),
		Currency:      s.currency(req.Currency, ""),
		Status:        models.PaymentStatusCreated,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		ReturnURL:     req.ReturnURL,
	}
	payment, err := s.api.CreatePayment(ctx, rec)
	if err != nil {
		log.Printf("Failed to create %s payment for order %s: %v", req.Provider, orderID, err)
		return nil, err
	}
	return &models.PaymentResult{Success: true, Data: payment}, nil
}

func (s *PaymentService) recordStripe(ctx context.Context, req *models.RecordPaymentRequest, orderID string) (*models.PaymentResult, error) {
	intent, err := s.gateway.GetIntent(ctx, req.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if meta := intent.Metadata["order_id"]; meta != "" && meta != orderID {
		return nil, apperr.Validation("The payment does not belong to this order")
	}

	switch intent.Status {
	case models.PaymentStatusCompleted, models.PaymentStatusAuthorized, models.PaymentStatusPending:
	case models.PaymentStatusFailed:
		msg := intent.FailureMessage
		if msg == "" {
			msg = "Your payment was declined."
		}
		s.markSession(ctx, intent.ID, orderID, models.PaymentStatusFailed, "payment_intent.record_failed")
		return nil, apperr.Provider(msg, fmt.Errorf("intent %s: %s", intent.ID, intent.RawStatus))
	default:
		return nil, apperr.Validation("The payment has not been confirmed yet")
	}

	var warning string
	session, err := s.checkSession(ctx, intent.ID, orderID)
	if err != nil {
		if !errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
		// The money already moved on a replaced session. Record it anyway so
		// it can be refunded, and say so.
		log.Printf("WARNING: superseded intent %s for order %s reached %s", intent.ID, orderID, intent.RawStatus)
		warning = "This payment was made for a previous total. Please contact support to settle the difference."
	}
	s.markSession(ctx, intent.ID, orderID, intent.Status, "payment_intent.recorded")

	method := req.PaymentMethod
	if session != nil && req.PaymentMethod == models.PaymentMethodCard && session.Method != "" {
		method = session.Method
	}
	rec := s.stripeRecord(orderID, req.Provider, method, intent)
	rec.CustomerEmail = req.CustomerEmail
	rec.CustomerPhone = req.CustomerPhone

	if req.Amount > 0 {
		expected := decimal.NewFromFloat(req.Amount).Add(decimal.NewFromFloat(req.TipAmount))
		if !pricing.Equal(expected, intent.Amount()) {
			log.Printf("WARNING: order %s recorded %s but intent %s charged %s",
				orderID, pricing.Display(expected), intent.ID, pricing.Display(intent.Amount()))
		}
	}

	result := s.record(ctx, rec, intent.ID)
	if warning != "" && result.Warning == "" {
		result.Warning = warning
	}
	return result, nil
}

// stripeRecord builds the backend record from what Stripe actually charged,
// not from what the browser claims.
func (s *PaymentService) stripeRecord(orderID string, provider models.Provider, method models.PaymentMethod, intent *gateway.Intent) *models.PaymentRecord {
	total := intent.Amount()
	tip, err := decimal.NewFromString(intent.Metadata["tip_amount"])
	if err != nil {
		tip = decimal.Zero
	}
	return &models.PaymentRecord{
		OrderID:               orderID,
		Provider:              provider,
		PaymentMethod:         method,
		Amount:                pricing.Float(total.Sub(tip)),
		TipAmount:             pricing.Float(tip),
		TotalAmount:           pricing.Float(total),
		Currency:              intent.Currency,
		Status:                intent.Status,
		ProviderTransactionID: intent.ID,
		PaymentMethodID:       intent.PaymentMethodID,
	}
}

// record stores a charge that already happened at the provider. A backend
// failure here never turns into an error: the result carries a warning.
func (s *PaymentService) record(ctx context.Context, rec *models.PaymentRecord, reference string) *models.PaymentResult {
	payment, err := s.api.CreatePayment(ctx, rec)
	if err != nil {
		log.Printf("WARNING: charge %s for order %s succeeded but recording failed: %v", reference, rec.OrderID, err)
		return &models.PaymentResult{
			Success: true,
			Data:    paymentFromRecord(rec),
			Warning: fmt.Sprintf(recordWarning, reference),
		}
	}
	return &models.PaymentResult{Success: true, Data: payment}
}

// CreateQClubPayment opens a Q-Club hosted payment. The backend's response is
// returned unchanged.
func (s *PaymentService) CreateQClubPayment(ctx context.Context, req *models.QClubPaymentRequest) (json.RawMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	orderID, _ := req.NumericOrderID()

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.settings.QClubCurrency
	}

	payload := &backend.QClubPayload{
		OrderID:   orderID,
		Amount:    req.Amount,
		Currency:  currency,
		TipAmount: req.TipAmount,
		Metadata: backend.QClubMetadata{
			ReturnURL:  req.ReturnURL,
			WebhookURL: s.api.QClubWebhookURL(),
		},
	}
	raw, err := s.api.CreateQClubPayment(ctx, payload)
	if err != nil {
		log.Printf("Failed to create Q-Club payment for order %d: %v", orderID, err)
		return nil, err
	}
	return raw, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, apperr.Validation("payment id is required")
	}
	return s.api.GetPayment(ctx, paymentID)
}

func (s *PaymentService) ListOrderPayments(ctx context.Context, orderID string) ([]models.Payment, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, apperr.Validation("order id is required")
	}
	return s.api.ListOrderPayments(ctx, orderID)
}

// FindPaymentsByProviderRef resolves an N-Genius "ref" or a Stripe intent id.
func (s *PaymentService) FindPaymentsByProviderRef(ctx context.Context, ref string) ([]models.Payment, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, apperr.Validation("provider_transaction_id is required")
	}
	return s.api.FindPaymentsByProviderRef(ctx, ref)
}

// CapturePayment settles an authorized payment. Stripe payments are captured
// through the SDK and then recorded; hosted providers are captured by the backend.
func (s *PaymentService) CapturePayment(ctx context.Context, paymentID string) (*models.PaymentResult, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case models.PaymentStatusCompleted:
		return &models.PaymentResult{Success: true, Data: payment}, nil
	case models.PaymentStatusAuthorized, models.PaymentStatusPending:
	default:
		return nil, apperr.Conflict(fmt.Sprintf("A %s payment cannot be captured", payment.Status))
	}

	if !payment.Provider.IsStripe() || payment.ProviderTransactionID == "" {
		captured, err := s.api.CapturePayment(ctx, paymentID, &backend.CaptureRequest{})
		if err != nil {
			log.Printf("Backend capture failed for payment %s: %v", paymentID, err)
			return nil, err
		}
		return &models.PaymentResult{Success: true, Data: captured}, nil
	}

	intentID := payment.ProviderTransactionID
	intent, err := s.gateway.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status == models.PaymentStatusAuthorized {
		intent, err = s.gateway.CaptureIntent(ctx, intentID, "capture-"+intentID)
		if err != nil {
			log.Printf("Capture failed for intent %s (payment %s): %v", intentID, paymentID, err)
			return nil, err
		}
	}
	if intent.Status != models.PaymentStatusCompleted {
		return nil, apperr.Conflict(fmt.Sprintf("The payment is %s and cannot be captured", intent.Status))
	}
	s.markSession(ctx, intentID, payment.OrderID.String(), models.PaymentStatusCompleted, "payment_intent.captured")

	captured, err := s.api.CapturePayment(ctx, paymentID, &backend.CaptureRequest{
		ProviderCaptured:      true,
		ProviderTransactionID: intentID,
		Amount:                pricing.Float(intent.Amount()),
	})
	if err != nil {
		log.Printf("WARNING: intent %s captured but recording payment %s failed: %v", intentID, paymentID, err)
		payment.Status = models.PaymentStatusCompleted
		return &models.PaymentResult{
			Success: true,
			Data:    payment,
			Warning: fmt.Sprintf(recordWarning, intentID),
		}, nil
	}
	return &models.PaymentResult{Success: true, Data: captured}, nil
}

// RefundPayment refunds all of a completed payment, or part of it when
// Amount is set.
func (s *PaymentService) RefundPayment(ctx context.Context, req *models.RefundRequest) (*models.PaymentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	paymentID := req.PaymentID.String()

	payment, err := s.api.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusCompleted {
		return nil, apperr.Conflict(fmt.Sprintf("A %s payment cannot be refunded", payment.Status))
	}
	amount := decimal.NewFromFloat(req.Amount)
	if total := decimal.NewFromFloat(payment.TotalAmount); payment.TotalAmount > 0 && amount.GreaterThan(total) {
		return nil, apperr.Validation("The refund amount exceeds the amount paid")
	}

	if !payment.Provider.IsStripe() || payment.ProviderTransactionID == "" {
		refunded, err := s.api.RefundPayment(ctx, paymentID, &backend.RefundRequest{
			Amount: req.Amount,
			Reason: req.Reason,
		})
		if err != nil {
			log.Printf("Backend refund failed for payment %s: %v", paymentID, err)
			return nil, err
		}
		return &models.PaymentResult{Success: true, Data: refunded}, nil
	}

	intentID := payment.ProviderTransactionID
	minor := pricing.MinorUnits(amount, payment.Currency)
	idemKey := fmt.Sprintf("refund-%s-%d", paymentID, minor)
	refund, err := s.gateway.RefundIntent(ctx, intentID, minor, req.Reason, idemKey)
	if err != nil {
		log.Printf("Refund failed for intent %s (payment %s): %v", intentID, paymentID, err)
		return nil, err
	}

	refunded, err := s.api.RefundPayment(ctx, paymentID, &backend.RefundRequest{
		Amount:           req.Amount,
		Reason:           req.Reason,
		ProviderRefunded: true,
		ProviderRefundID: refund.ID,
	})
	if err != nil {
		log.Printf("WARNING: refund %s issued but recording payment %s failed: %v", refund.ID, paymentID, err)
		payment.Status = models.PaymentStatusRefunded
		return &models.PaymentResult{
			Success: true,
			Data:    payment,
			Warning: fmt.Sprintf("The refund was issued, but we could not update the order yet. Reference %s.", refund.ID),
		}, nil
	}
	return &models.PaymentResult{Success: true, Data: refunded}, nil
}

// ApplyIntentStatus folds a webhook-reported intent state into the session
// ledger and the backend payment records, and sends a receipt on completion.
func (s *PaymentService) ApplyIntentStatus(ctx context.Context, eventType string, intent *gateway.Intent) error {
	orderID := intent.Metadata["order_id"]
	s.markSession(ctx, intent.ID, orderID, intent.Status, eventType)

	payments, err := s.api.FindPaymentsByProviderRef(ctx, intent.ID)
	if err != nil {
		return err
	}

	for i := range payments {
		p := &payments[i]
		if p.Status == intent.Status || p.Status.IsTerminal() {
			continue
		}
		if _, err := s.api.UpdatePaymentStatus(ctx, p.PaymentID.String(), &backend.StatusUpdate{
			Status:                intent.Status,
			ProviderTransactionID: intent.ID,
			ErrorMessage:          intent.FailureMessage,
		}); err != nil {
			return err
		}
		log.Printf("Payment %s for order %s is now %s (%s)", p.PaymentID, p.OrderID, intent.Status, eventType)
	}

	if intent.Status == models.PaymentStatusCompleted && orderID != "" {
		s.sendReceipt(ctx, orderID, intent)
	}
	return nil
}

func (s *PaymentService) sendReceipt(ctx context.Context, orderID string, intent *gateway.Intent) {
	if s.notifier == nil || s.receiptSent(ctx, intent.ID) {
		return
	}
	order, err := s.api.GetOrder(ctx, orderID)
	if err != nil {
		log.Printf("Receipt skipped for order %s: %v", orderID, err)
		return
	}
	if order.CustomerEmail == "" {
		return
	}
	tip, err := decimal.NewFromString(intent.Metadata["tip_amount"])
	if err != nil {
		tip = decimal.Zero
	}
	receipt := &Receipt{
		Order:     order,
		Reference: intent.ID,
		Subtotal:  order.Subtotal(),
		Tip:       tip,
		Total:     intent.Amount(),
		Currency:  intent.Currency,
		Method:    models.PaymentMethod(intent.Metadata["payment_method"]),
	}
	if err := s.notifier.SendReceipt(ctx, receipt); err != nil {
		log.Printf("Failed to send receipt for order %s: %v", orderID, err)
		return
	}
	s.recordEvent(ctx, intent.ID, orderID, eventReceiptSent, intent.Status, map[string]any{
		"email": order.CustomerEmail,
	})
}

// receiptSent keeps webhook redeliveries from emailing the customer twice.
func (s *PaymentService) receiptSent(ctx context.Context, sessionID string) bool {
	events, err := s.sessions.GetEvents(ctx, sessionID)
	if err != nil {
		return false
	}
	for _, e := range events {
		if e.EventType == eventReceiptSent {
			return true
		}
	}
	return false
}

// markSession moves a ledger session, ignoring sessions the ledger never saw.
func (s *PaymentService) markSession(ctx context.Context, id, orderID string, status models.PaymentStatus, eventType string) {
	_, err := s.sessions.UpdateStatus(ctx, id, status)
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return
	case errors.Is(err, store.ErrInvalidTransition):
		log.Printf("WARNING: session %s for order %s: %v", id, orderID, err)
	case err != nil:
		log.Printf("Failed to update session %s: %v", id, err)
		return
	}
	s.recordEvent(ctx, id, orderID, eventType, status, nil)
}

func (s *PaymentService) recordEvent(ctx context.Context, sessionID, orderID, eventType string, status models.PaymentStatus, data map[string]any) {
	err := s.sessions.AddEvent(ctx, models.SessionEvent{
		SessionID: sessionID,
		OrderID:   orderID,
		EventType: eventType,
		Status:    status,
		Data:      data,
	})
	if err != nil {
		log.Printf("Failed to record %s for session %s: %v", eventType, sessionID, err)
	}
}

func (s *PaymentService) currency(requested, orderCurrency string) string {
	for _, c := range []string{requested, orderCurrency, s.settings.DefaultCurrency} {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			return c
		}
	}
	return "usd"
}

func paymentFromRecord(rec *models.PaymentRecord) *models.Payment {
	return &models.Payment{
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
}
