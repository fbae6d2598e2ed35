package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentSession is one attempt to charge an order with a provider. At most
// one session per order is active; registering a new one supersedes the rest.
type PaymentSession struct {
	ID           string          `json:"id"` // provider-issued, e.g. a PaymentIntent ID
	OrderID      string          `json:"order_id"`
	Provider     Provider        `json:"provider"`
	Method       PaymentMethod   `json:"payment_method"`
	Amount       decimal.Decimal `json:"amount"` // total charged, snapshot at creation
	TipAmount    decimal.Decimal `json:"tip_amount"`
	Currency     string          `json:"currency"`
	Status       PaymentStatus   `json:"status"`
	SupersededBy string          `json:"superseded_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// SessionEvent records a status change on a session.
type SessionEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	OrderID   string         `json:"order_id"`
	EventType string         `json:"event_type"`
	Status    PaymentStatus  `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
