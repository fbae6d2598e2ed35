// Package gateway wraps the Stripe SDK behind a small interface so the
// payment service can be exercised without network access.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"

	"github.com/capactiyvirus/cafe-checkout/apperr"
	"github.com/capactiyvirus/cafe-checkout/models"
	"github.com/capactiyvirus/cafe-checkout/pricing"
)

// IntentParams describes the PaymentIntent to open for a checkout.
type IntentParams struct {
	OrderID        string
	Amount         decimal.Decimal // subtotal + tip
	TipAmount      decimal.Decimal
	Currency       string
	Provider       models.Provider
	Method         models.PaymentMethod
	ManualCapture  bool
	CustomerEmail  string
	IdempotencyKey string
}

// Intent is the part of a Stripe PaymentIntent the proxy cares about.
type Intent struct {
	ID              string
	ClientSecret    string
	Status          models.PaymentStatus
	RawStatus       string
	AmountMinor     int64
	Currency        string
	PaymentMethodID string
	FailureMessage  string
	Metadata        map[string]string
}

// Amount converts the charged amount back to a decimal.
func (i *Intent) Amount() decimal.Decimal {
	return pricing.FromMinorUnits(i.AmountMinor, i.Currency)
}

type Refund struct {
	ID          string
	Status      string
	AmountMinor int64
}

// Gateway is the subset of Stripe the proxy uses.
type Gateway interface {
	CreateIntent(ctx context.Context, p *IntentParams) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
	ConfirmIntent(ctx context.Context, id, paymentMethodID, returnURL, idempotencyKey string) (*Intent, error)
	CaptureIntent(ctx context.Context, id, idempotencyKey string) (*Intent, error)
	CancelIntent(ctx context.Context, id string) (*Intent, error)
	RefundIntent(ctx context.Context, id string, amountMinor int64, reason, idempotencyKey string) (*Refund, error)
}

// StripeGateway implements Gateway with the package-level stripe-go clients.
type StripeGateway struct{}

type Option func(*stripe.BackendConfig)

// WithURL points the SDK at a different API host, e.g. stripe-mock.
func WithURL(url string) Option {
	return func(c *stripe.BackendConfig) { c.URL = stripe.String(url) }
}

// Configure sets the secret key and installs an API backend with a bounded
// timeout and SDK retries disabled. Retrying a confirm or capture is the
// caller's decision, never the SDK's.
func Configure(secretKey string, timeout time.Duration, opts ...Option) *StripeGateway {
	stripe.Key = secretKey

	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, cfg))
	return &StripeGateway{}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, p *IntentParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(pricing.MinorUnits(p.Amount, p.Currency)),
		Currency: stripe.String(p.Currency),
		Metadata: map[string]string{
			"order_id":       p.OrderID,
			"tip_amount":     pricing.Round2(p.TipAmount).StringFixed(2),
			"payment_method": string(p.Method),
			"provider":       string(p.Provider),
		},
	}
	if p.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(p.CustomerEmail)
	}
	if p.ManualCapture {
		params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	}
	if p.Provider == models.ProviderStripeElement {
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		}
	} else {
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, mapError(err, "The payment could not be started")
	}
	return FromPaymentIntent(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, mapError(err, "Payment not found")
	}
	return FromPaymentIntent(pi), nil
}

func (g *StripeGateway) ConfirmIntent(ctx context.Context, id, paymentMethodID, returnURL, idempotencyKey string) (*Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(paymentMethodID),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := paymentintent.Confirm(id, params)
	if err != nil {
		return nil, mapError(err, "The payment could not be confirmed")
	}
	return FromPaymentIntent(pi), nil
}

func (g *StripeGateway) CaptureIntent(ctx context.Context, id, idempotencyKey string) (*Intent, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := paymentintent.Capture(id, params)
	if err != nil {
		return nil, mapError(err, "The payment could not be captured")
	}
	return FromPaymentIntent(pi), nil
}

func (g *StripeGateway) CancelIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	pi, err := paymentintent.Cancel(id, params)
	if err != nil {
		return nil, mapError(err, "The payment could not be canceled")
	}
	return FromPaymentIntent(pi), nil
}

func (g *StripeGateway) RefundIntent(ctx context.Context, id string, amountMinor int64, reason, idempotencyKey string) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(id),
	}
	if amountMinor > 0 {
		params.Amount = stripe.Int64(amountMinor)
	}
	if reason != "" {
		params.Reason = stripe.String(refundReason(reason))
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	r, err := refund.New(params)
	if err != nil {
		return nil, mapError(err, "The refund could not be processed")
	}
	return &Refund{ID: r.ID, Status: string(r.Status), AmountMinor: r.Amount}, nil
}

// refundReason maps free text onto Stripe's enumerated reasons.
func refundReason(reason string) string {
	switch reason {
	case "duplicate", "fraudulent", "requested_by_customer":
		return reason
	default:
		return "requested_by_customer"
	}
}

// IntentStatus maps a Stripe PaymentIntent status onto the session states.
// requires_payment_method after an attempt means the attempt was declined.
func IntentStatus(status string, hasPaymentError bool) models.PaymentStatus {
	switch stripe.PaymentIntentStatus(status) {
	case stripe.PaymentIntentStatusSucceeded:
		return models.PaymentStatusCompleted
	case stripe.PaymentIntentStatusRequiresCapture:
		return models.PaymentStatusAuthorized
	case stripe.PaymentIntentStatusCanceled:
		return models.PaymentStatusCanceled
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresAction:
		return models.PaymentStatusPending
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if hasPaymentError {
			return models.PaymentStatusFailed
		}
		return models.PaymentStatusCreated
	default:
		return models.PaymentStatusCreated
	}
}

// FromPaymentIntent converts an SDK intent, e.g. one decoded from a webhook event.
func FromPaymentIntent(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		RawStatus:    string(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
	if pi.PaymentMethod != nil {
		intent.PaymentMethodID = pi.PaymentMethod.ID
	}
	if pi.LastPaymentError != nil {
		intent.FailureMessage = pi.LastPaymentError.Msg
	}
	intent.Status = IntentStatus(intent.RawStatus, pi.LastPaymentError != nil)
	return intent
}

// mapError turns SDK errors into the app taxonomy. Declines keep Stripe's
// customer-facing message; transport failures become upstream errors.
func mapError(err error, fallback string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case string(stripeErr.Code) == "resource_missing":
			return apperr.NotFound(fallback)
		case string(stripeErr.Type) == "card_error":
			msg := stripeErr.Msg
			if msg == "" {
				msg = "Your card was declined."
			}
			return apperr.Provider(msg, err)
		case string(stripeErr.Type) == "invalid_request_error":
			msg := stripeErr.Msg
			if msg == "" {
				msg = fallback
			}
			return apperr.Provider(msg, err)
		}
	}
	return apperr.Upstream("The payment provider is unavailable. Please try again.", err)
}
