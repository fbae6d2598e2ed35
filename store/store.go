// Package store keeps the ledger of payment sessions opened through the
// proxy, so that a superseded session can never be confirmed.
package store

import (
	"context"
	"errors"

	"github.com/capactiyvirus/cafe-checkout/models"
)

var (
	ErrSessionNotFound   = errors.New("payment session not found")
	ErrInvalidTransition = errors.New("invalid payment session transition")
)

// SessionStore is implemented by MemoryStore and PostgresStore.
type SessionStore interface {
	// Register stores s as the active session for its order and marks every
	// other open session of that order superseded. The superseded sessions
	// are returned so the caller can release them at the provider.
	Register(ctx context.Context, s *models.PaymentSession) ([]*models.PaymentSession, error)
	Get(ctx context.Context, id string) (*models.PaymentSession, error)
	// Active returns the open session for an order, or ErrSessionNotFound.
	Active(ctx context.Context, orderID string) (*models.PaymentSession, error)
	// UpdateStatus applies a state machine transition. Repeating the current
	// status is a no-op so webhook redeliveries are harmless.
	UpdateStatus(ctx context.Context, id string, status models.PaymentStatus) (*models.PaymentSession, error)
	AddEvent(ctx context.Context, event models.SessionEvent) error
	GetEvents(ctx context.Context, sessionID string) ([]models.SessionEvent, error)
	Close() error
}

// isOpen reports whether a session can still be confirmed or captured.
func isOpen(status models.PaymentStatus) bool {
	switch status {
	case models.PaymentStatusCreated, models.PaymentStatusPending, models.PaymentStatusAuthorized:
		return true
	}
	return false
}
