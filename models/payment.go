// models/payment.go
package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string
type PaymentMethod string
type Provider string

const (
	// Payment statuses
	PaymentStatusCreated    PaymentStatus = "created"
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCanceled   PaymentStatus = "canceled"
	PaymentStatusSuperseded PaymentStatus = "superseded"
	PaymentStatusRefunded   PaymentStatus = "refunded"

	// Payment methods
	PaymentMethodCard      PaymentMethod = "card"
	PaymentMethodApplePay  PaymentMethod = "apple_pay"
	PaymentMethodGooglePay PaymentMethod = "google_pay"

	// Providers
	ProviderStripeIntent  Provider = "stripe_intent"
	ProviderStripeElement Provider = "stripe_element"
	ProviderNGenius       Provider = "ngenius"
	ProviderQClub         Provider = "qclub"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodApplePay, PaymentMethodGooglePay:
		return true
	}
	return false
}

func (p Provider) Valid() bool {
	switch p {
	case ProviderStripeIntent, ProviderStripeElement, ProviderNGenius, ProviderQClub:
		return true
	}
	return false
}

// IsStripe reports whether charges for p are made through the Stripe SDK.
func (p Provider) IsStripe() bool {
	return p == ProviderStripeIntent || p == ProviderStripeElement
}

// IsHosted reports whether p takes card details on a provider-hosted page.
func (p Provider) IsHosted() bool {
	return p == ProviderNGenius || p == ProviderQClub
}

// NormalizeStatus maps the backend's and providers' spellings onto ours.
func NormalizeStatus(s string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "created", "new", "requires_payment_method", "requires_confirmation":
		return PaymentStatusCreated
	case "pending", "processing", "started", "requires_action", "await_3ds":
		return PaymentStatusPending
	case "authorized", "authorised", "requires_capture":
		return PaymentStatusAuthorized
	case "completed", "captured", "succeeded", "success", "paid", "purchased":
		return PaymentStatusCompleted
	case "failed", "declined", "error":
		return PaymentStatusFailed
	case "canceled", "cancelled", "reversed":
		return PaymentStatusCanceled
	case "superseded":
		return PaymentStatusSuperseded
	case "refunded", "partially_refunded":
		return PaymentStatusRefunded
	default:
		return PaymentStatusPending
	}
}

var sessionTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusCreated: {
		PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusCanceled, PaymentStatusSuperseded,
	},
	PaymentStatusPending: {
		PaymentStatusAuthorized, PaymentStatusCompleted, PaymentStatusFailed,
		PaymentStatusCanceled, PaymentStatusSuperseded,
	},
	PaymentStatusAuthorized: {
		PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCanceled,
		PaymentStatusSuperseded,
	},
}

// CanTransitionTo encodes the payment session state machine. Completed,
// failed, canceled and superseded sessions never change again.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further session transition is possible.
func (s PaymentStatus) IsTerminal() bool {
	return len(sessionTransitions[s]) == 0
}

// ID is an identifier the backend may send either as a string or a number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Order is the café order as served by the backend.
type Order struct {
	ID            ID          `json:"id"`
	Items         []OrderItem `json:"items"`
	TotalPrice    float64     `json:"total_price"`
	Currency      string      `json:"currency,omitempty"`
	Status        string      `json:"status,omitempty"`
	CustomerEmail string      `json:"customer_email,omitempty"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
}

// OrderItem represents an item in an order
type OrderItem struct {
	ProductID ID      `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Subtotal is the order total before tip.
func (o *Order) Subtotal() decimal.Decimal {
	return decimal.NewFromFloat(o.TotalPrice)
}

// Payment is the backend's payment record. The proxy reads it and changes
// it only through explicit create, capture, refund and status calls.
type Payment struct {
	PaymentID             ID            `json:"payment_id"`
	OrderID               ID            `json:"order_id"`
	Provider              Provider      `json:"provider,omitempty"`
	PaymentMethod         PaymentMethod `json:"payment_method,omitempty"`
	Amount                float64       `json:"amount"`
	TipAmount             float64       `json:"tip_amount"`
	TotalAmount           float64       `json:"total_amount"`
	Currency              string        `json:"currency,omitempty"`
	Status                PaymentStatus `json:"status"`
	ProviderTransactionID string        `json:"provider_transaction_id,omitempty"`
	HostedPaymentURL      string        `json:"hosted_payment_url,omitempty"`
	ErrorMessage          string        `json:"error_message,omitempty"`
	CreatedAt             *time.Time    `json:"created_at,omitempty"`
}

// Normalize rewrites the status into our vocabulary.
func (p *Payment) Normalize() {
	p.Status = NormalizeStatus(string(p.Status))
}
