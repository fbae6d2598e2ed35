package models

import (
	"strconv"
	"strings"

	"github.com/capactiyvirus/cafe-checkout/apperr"
)

// CreatePaymentIntentRequest is sent by the checkout page to open a Stripe
// session for the current total. The field names match the page's script.
type CreatePaymentIntentRequest struct {
	OrderID       ID            `json:"orderId"`
	Currency      string        `json:"currency"`
	TipAmount     float64       `json:"tipAmount"`
	Provider      Provider      `json:"provider,omitempty"`
	PaymentMethod PaymentMethod `json:"paymentMethod,omitempty"`
}

func (r *CreatePaymentIntentRequest) Validate() error {
	if r.OrderID == "" {
		return apperr.Validation("orderId is required")
	}
	if r.TipAmount < 0 {
		return apperr.Validation("tipAmount cannot be negative")
	}
	if r.Provider == "" {
		r.Provider = ProviderStripeIntent
	}
	if !r.Provider.IsStripe() {
		return apperr.Validation("provider must be stripe_intent or stripe_element")
	}
	if r.PaymentMethod == "" {
		r.PaymentMethod = PaymentMethodCard
	}
	if !r.PaymentMethod.Valid() {
		return apperr.Validation("unsupported paymentMethod " + string(r.PaymentMethod))
	}
	return nil
}

type PaymentIntentResponse struct {
	ClientSecret    string  `json:"clientSecret"`
	PaymentIntentID string  `json:"paymentIntentId"`
	Amount          float64 `json:"amount"`
	TipAmount       float64 `json:"tipAmount"`
	Currency        string  `json:"currency"`
}

// ConfirmPaymentRequest confirms an open PaymentIntent with a payment method
// collected by the card element or a wallet sheet.
type ConfirmPaymentRequest struct {
	PaymentIntentID string        `json:"payment_intent_id"`
	PaymentMethodID string        `json:"payment_method_id"`
	OrderID         ID            `json:"order_id"`
	PaymentMethod   PaymentMethod `json:"payment_method"`
	ReturnURL       string        `json:"return_url,omitempty"`
}

func (r *ConfirmPaymentRequest) Validate() error {
	if r.PaymentIntentID == "" {
		return apperr.Validation("payment_intent_id is required")
	}
	if r.PaymentMethodID == "" {
		return apperr.Validation("payment_method_id is required")
	}
	if r.OrderID == "" {
		return apperr.Validation("order_id is required")
	}
	if r.PaymentMethod == "" {
		r.PaymentMethod = PaymentMethodCard
	}
	if !r.PaymentMethod.Valid() {
		return apperr.Validation("unsupported payment_method " + string(r.PaymentMethod))
	}
	return nil
}

// RecordPaymentRequest either records a Stripe charge the page already
// confirmed, or opens a hosted payment page for N-Genius.
type RecordPaymentRequest struct {
	OrderID         ID            `json:"order_id"`
	Provider        Provider      `json:"provider"`
	PaymentMethod   PaymentMethod `json:"payment_method"`
	Amount          float64       `json:"amount"`
	TipAmount       float64       `json:"tip_amount"`
	Currency        string        `json:"currency"`
	PaymentIntentID string        `json:"payment_intent_id,omitempty"`
	CustomerEmail   string        `json:"customer_email,omitempty"`
	CustomerPhone   string        `json:"customer_phone,omitempty"`
	ReturnURL       string        `json:"return_url,omitempty"`
}

func (r *RecordPaymentRequest) Validate() error {
	if r.OrderID == "" {
		return apperr.Validation("order_id is required")
	}
	if r.Provider == "" {
		if r.PaymentIntentID != "" {
			r.Provider = ProviderStripeIntent
		} else {
			r.Provider = ProviderNGenius
		}
	}
	switch {
	case r.Provider.IsStripe():
		if r.PaymentIntentID == "" {
			return apperr.Validation("payment_intent_id is required for " + string(r.Provider))
		}
	case r.Provider == ProviderNGenius:
		if r.Amount <= 0 {
			return apperr.Validation("amount must be greater than zero")
		}
	default:
		return apperr.Validation("unsupported provider " + string(r.Provider))
	}
	if r.Amount < 0 {
		return apperr.Validation("amount cannot be negative")
	}
	if r.TipAmount < 0 {
		return apperr.Validation("tip_amount cannot be negative")
	}
	if r.PaymentMethod == "" {
		r.PaymentMethod = PaymentMethodCard
	}
	if !r.PaymentMethod.Valid() {
		return apperr.Validation("unsupported payment_method " + string(r.PaymentMethod))
	}
	return nil
}

// QClubPaymentRequest opens a Q-Club hosted payment.
type QClubPaymentRequest struct {
	OrderID   ID      `json:"order_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	TipAmount float64 `json:"tip_amount"`
	ReturnURL string  `json:"return_url,omitempty"`
}

func (r *QClubPaymentRequest) Validate() error {
	if r.OrderID == "" {
		return apperr.Validation("order_id is required")
	}
	if _, err := r.NumericOrderID(); err != nil {
		return apperr.Validation("order_id must be numeric for Q-Club payments")
	}
	if r.Amount <= 0 {
		return apperr.Validation("amount must be greater than zero")
	}
	if r.TipAmount < 0 {
		return apperr.Validation("tip_amount cannot be negative")
	}
	return nil
}

// NumericOrderID returns the order id as the integer the Q-Club endpoint expects.
func (r *QClubPaymentRequest) NumericOrderID() (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(string(r.OrderID)), 10, 64)
}

type RefundRequest struct {
	PaymentID ID      `json:"payment_id"`
	Amount    float64 `json:"amount,omitempty"` // zero refunds the full amount
	Reason    string  `json:"reason,omitempty"`
}

func (r *RefundRequest) Validate() error {
	if r.PaymentID == "" {
		return apperr.Validation("payment_id is required")
	}
	if r.Amount < 0 {
		return apperr.Validation("amount cannot be negative")
	}
	return nil
}

// PaymentRecord is the canonical snake_case payload the backend stores.
type PaymentRecord struct {
	OrderID               string        `json:"order_id"`
	Provider              Provider      `json:"provider"`
	PaymentMethod         PaymentMethod `json:"payment_method"`
	Amount                float64       `json:"amount"`
	TipAmount             float64       `json:"tip_amount"`
	TotalAmount           float64       `json:"total_amount"`
	Currency              string        `json:"currency"`
	Status                PaymentStatus `json:"status,omitempty"`
	ProviderTransactionID string        `json:"provider_transaction_id,omitempty"`
	PaymentMethodID       string        `json:"payment_method_id,omitempty"`
	CustomerEmail         string        `json:"customer_email,omitempty"`
	CustomerPhone         string        `json:"customer_phone,omitempty"`
	ReturnURL             string        `json:"return_url,omitempty"`
}

// PaymentResult is the uniform response for calls that move money. A
// non-empty Warning means the charge went through but recording it did not.
type PaymentResult struct {
	Success bool     `json:"success"`
	Data    *Payment `json:"data,omitempty"`
	Warning string   `json:"warning,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

type ConfigResponse struct {
	PublishableKey    string `json:"publishableKey"`
	Currency          string `json:"currency"`
	TipPresets        []int  `json:"tipPresets"`
	DefaultTipPercent int    `json:"defaultTipPercent"`
}
