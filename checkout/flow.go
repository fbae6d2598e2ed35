package checkout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/capactiyvirus/cafe-checkout/apperr"
	"github.com/capactiyvirus/cafe-checkout/models"
	"github.com/capactiyvirus/cafe-checkout/pricing"
)

// OpenRequest is what a flow needs to open a session for the current total.
type OpenRequest struct {
	Order    *models.Order
	Totals   pricing.Totals
	Currency string
	Method   models.PaymentMethod
	Key      string
}

// Details are collected from the customer when they press pay.
type Details struct {
	PaymentMethodID string // from the card element or a wallet sheet
	ReturnURL       string
	CustomerEmail   string
	CustomerPhone   string
	Key             string
}

// Result is the outcome of confirming a session.
type Result struct {
	Status      models.PaymentStatus
	PaymentID   string
	RedirectURL string
	Warning     string
	Payment     *models.Payment
}

// Flow is one way of taking a payment. The variants share the calculator
// and the session state machine and differ only in how they open and
// confirm a session.
type Flow interface {
	Provider() models.Provider
	Open(ctx context.Context, api *Client, req *OpenRequest) (*Session, error)
	Confirm(ctx context.Context, api *Client, s *Session, d *Details) (*Result, error)
}

// CardElement confirms a PaymentIntent through the proxy with a payment
// method collected by the card element.
type CardElement struct{}

func (CardElement) Provider() models.Provider { return models.ProviderStripeIntent }

func (f CardElement) Open(ctx context.Context, api *Client, req *OpenRequest) (*Session, error) {
	return openIntent(ctx, api, f.Provider(), req)
}

func (f CardElement) Confirm(ctx context.Context, api *Client, s *Session, d *Details) (*Result, error) {
	if d.PaymentMethodID == "" {
		return nil, apperr.Validation("Please enter your card details")
	}
	return confirmIntent(ctx, api, s, d)
}

// PaymentElement lets the Payment Element confirm on its own; the proxy is
// then only asked to record the result. A wallet payment method id can still
// be confirmed server side.
type PaymentElement struct{}

func (PaymentElement) Provider() models.Provider { return models.ProviderStripeElement }

func (f PaymentElement) Open(ctx context.Context, api *Client, req *OpenRequest) (*Session, error) {
	return openIntent(ctx, api, f.Provider(), req)
}

func (f PaymentElement) Confirm(ctx context.Context, api *Client, s *Session, d *Details) (*Result, error) {
	if d.PaymentMethodID != "" {
		return confirmIntent(ctx, api, s, d)
	}
	res, err := api.RecordPayment(ctx, &models.RecordPaymentRequest{
		OrderID:         models.ID(s.OrderID),
		Provider:        s.Provider,
		PaymentMethod:   s.Method,
		Amount:          pricing.Float(s.Amount.Sub(s.Tip)),
		TipAmount:       pricing.Float(s.Tip),
		Currency:        s.Currency,
		PaymentIntentID: s.ID,
		CustomerEmail:   d.CustomerEmail,
		CustomerPhone:   d.CustomerPhone,
	}, d.Key)
	if err != nil {
		return nil, err
	}
	return resultFrom(res, models.PaymentStatusCompleted), nil
}

// HostedRedirect sends the customer to a provider-hosted page. Opening only
// snapshots the total locally; confirming creates the hosted payment and
// returns the URL to redirect to. The outcome arrives later through
// reconciliation.
type HostedRedirect struct {
	Via      models.Provider // ngenius or qclub
	Currency string          // overrides the checkout currency when set
}

func (f HostedRedirect) Provider() models.Provider { return f.Via }

func (f HostedRedirect) Open(ctx context.Context, api *Client, req *OpenRequest) (*Session, error) {
	if !f.Via.IsHosted() {
		return nil, fmt.Errorf("provider %s is not a hosted flow", f.Via)
	}
	// Q-Club falls back to the proxy's configured currency.
	currency := f.Currency
	if currency == "" && f.Via != models.ProviderQClub {
		currency = req.Currency
	}
	return &Session{
		ID:       "hosted_" + uuid.NewString(),
		OrderID:  req.Order.ID.String(),
		Provider: f.Via,
		Method:   req.Method,
		Amount:   sentTotal(req.Totals),
		Tip:      pricing.Round2(req.Totals.Tip),
		Currency: currency,
		Status:   models.PaymentStatusCreated,
	}, nil
}

func (f HostedRedirect) Confirm(ctx context.Context, api *Client, s *Session, d *Details) (*Result, error) {
	subtotal := pricing.Float(s.Amount.Sub(s.Tip))

	if f.Via == models.ProviderQClub {
		raw, err := api.CreateQClubPayment(ctx, &models.QClubPaymentRequest{
			OrderID:   models.ID(s.OrderID),
			Amount:    subtotal,
			Currency:  s.Currency,
			TipAmount: pricing.Float(s.Tip),
			ReturnURL: d.ReturnURL,
		}, d.Key)
		if err != nil {
			return nil, err
		}
		return qclubResult(raw)
	}

	res, err := api.RecordPayment(ctx, &models.RecordPaymentRequest{
		OrderID:       models.ID(s.OrderID),
		Provider:      f.Via,
		PaymentMethod: s.Method,
		Amount:        subtotal,
		TipAmount:     pricing.Float(s.Tip),
		Currency:      s.Currency,
		CustomerEmail: d.CustomerEmail,
		CustomerPhone: d.CustomerPhone,
		ReturnURL:     d.ReturnURL,
	}, d.Key)
	if err != nil {
		return nil, err
	}
	if res.Data == nil || res.Data.HostedPaymentURL == "" {
		return nil, apperr.Upstream("The payment page could not be opened. Please try again.",
			fmt.Errorf("no hosted payment URL for order %s", s.OrderID))
	}
	out := resultFrom(res, models.PaymentStatusPending)
	// Settled later through reconciliation.
	out.Status = models.PaymentStatusPending
	out.RedirectURL = res.Data.HostedPaymentURL
	return out, nil
}

// qclubResult picks the redirect out of the backend's Q-Club response.
func qclubResult(raw json.RawMessage) (*Result, error) {
	var body struct {
		PaymentID        models.ID `json:"payment_id"`
		PaymentURL       string    `json:"payment_url"`
		HostedPaymentURL string    `json:"hosted_payment_url"`
		RedirectURL      string    `json:"redirect_url"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, apperr.Upstream("The payment page could not be opened. Please try again.",
			fmt.Errorf("decode qclub response: %w", err))
	}
	redirect := body.PaymentURL
	if redirect == "" {
		redirect = body.HostedPaymentURL
	}
	if redirect == "" {
		redirect = body.RedirectURL
	}
	if redirect == "" {
		return nil, apperr.Upstream("The payment page could not be opened. Please try again.",
			fmt.Errorf("no payment URL in qclub response"))
	}
	return &Result{
		Status:      models.PaymentStatusPending,
		PaymentID:   body.PaymentID.String(),
		RedirectURL: redirect,
	}, nil
}

func openIntent(ctx context.Context, api *Client, provider models.Provider, req *OpenRequest) (*Session, error) {
	resp, err := api.CreatePaymentIntent(ctx, &models.CreatePaymentIntentRequest{
		OrderID:       req.Order.ID,
		Currency:      req.Currency,
		TipAmount:     pricing.Float(req.Totals.Tip),
		Provider:      provider,
		PaymentMethod: req.Method,
	}, req.Key)
	if err != nil {
		return nil, err
	}

	expected := sentTotal(req.Totals)
	quoted := decimal.NewFromFloat(resp.Amount)
	if !pricing.Equal(quoted, expected) {
		return nil, fmt.Errorf("%w: expected %s, quoted %s", ErrAmountMismatch, pricing.Display(expected), pricing.Display(quoted))
	}

	currency := resp.Currency
	if currency == "" {
		currency = req.Currency
	}
	return &Session{
		ID:           resp.PaymentIntentID,
		OrderID:      req.Order.ID.String(),
		ClientSecret: resp.ClientSecret,
		Provider:     provider,
		Method:       req.Method,
		Amount:       expected,
		Tip:          pricing.Round2(req.Totals.Tip),
		Currency:     currency,
		Status:       models.PaymentStatusCreated,
	}, nil
}

func confirmIntent(ctx context.Context, api *Client, s *Session, d *Details) (*Result, error) {
	res, err := api.ConfirmPayment(ctx, &models.ConfirmPaymentRequest{
		PaymentIntentID: s.ID,
		PaymentMethodID: d.PaymentMethodID,
		OrderID:         models.ID(s.OrderID),
		PaymentMethod:   s.Method,
		ReturnURL:       d.ReturnURL,
	}, d.Key)
	if err != nil {
		return nil, err
	}
	return resultFrom(res, models.PaymentStatusCompleted), nil
}

func resultFrom(res *models.PaymentResult, fallback models.PaymentStatus) *Result {
	out := &Result{Status: fallback, Warning: res.Warning, Payment: res.Data}
	if res.Data != nil {
		out.PaymentID = res.Data.PaymentID.String()
		if res.Data.Status != "" {
			out.Status = res.Data.Status
		}
	}
	return out
}

// sentTotal is the total as the proxy will compute it from the rounded
// subtotal and tip sent over the wire.
func sentTotal(t pricing.Totals) decimal.Decimal {
	return pricing.Round2(t.Subtotal).Add(pricing.Round2(t.Tip))
}
