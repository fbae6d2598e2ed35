package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/capactiyvirus/cafe-checkout/models"
	"github.com/capactiyvirus/cafe-checkout/pricing"
)

// Session is one attempt to charge the checkout's total. Amount is the total
// at the moment the session was opened and never changes afterwards.
type Session struct {
	ID            string // PaymentIntent ID, or a local ID for hosted flows
	OrderID       string
	ClientSecret  string
	Provider      models.Provider
	Method        models.PaymentMethod
	Amount        decimal.Decimal
	Tip           decimal.Decimal
	Currency      string
	Status        models.PaymentStatus
	PaymentID     string // backend payment record, once one exists
	RedirectURL   string
	FailureReason string
	Warning       string
}

// transition applies next if the state machine allows it.
func (s *Session) transition(next models.PaymentStatus) bool {
	if s.Status == next {
		return true
	}
	if !s.Status.CanTransitionTo(next) {
		return false
	}
	s.Status = next
	return true
}

// Locked reports whether the amount may no longer change. A pending session
// can still be completed by the provider for the amount it was opened with.
func (s *Session) Locked() bool {
	switch s.Status {
	case models.PaymentStatusPending, models.PaymentStatusAuthorized, models.PaymentStatusCompleted:
		return true
	}
	return false
}

// Matches reports whether the session was opened for total.
func (s *Session) Matches(total decimal.Decimal) bool {
	return pricing.Equal(s.Amount, total)
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
