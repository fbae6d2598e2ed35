// store/memory_store.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capactiyvirus/cafe-checkout/models"
)

// MemoryStore is the in-process ledger used when no database is configured.
type MemoryStore struct {
	sessions   map[string]*models.PaymentSession
	events     map[string][]models.SessionEvent
	orderIndex map[string][]string // orderID -> []sessionID
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*models.PaymentSession),
		events:     make(map[string][]models.SessionEvent),
		orderIndex: make(map[string][]string),
	}
}

func (s *MemoryStore) Register(ctx context.Context, session *models.PaymentSession) ([]*models.PaymentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == "" {
		return nil, fmt.Errorf("session ID cannot be empty")
	}
	if _, exists := s.sessions[session.ID]; exists {
		return nil, fmt.Errorf("session already registered: %s", session.ID)
	}

	now := time.Now()
	var superseded []*models.PaymentSession
	for _, id := range s.orderIndex[session.OrderID] {
		prev := s.sessions[id]
		if !isOpen(prev.Status) {
			continue
		}
		prev.Status = models.PaymentStatusSuperseded
		prev.SupersededBy = session.ID
		prev.UpdatedAt = now
		prevCopy := *prev
		superseded = append(superseded, &prevCopy)
	}

	if session.Status == "" {
		session.Status = models.PaymentStatusCreated
	}
	session.CreatedAt = now
	session.UpdatedAt = now

	stored := *session
	s.sessions[session.ID] = &stored
	s.orderIndex[session.OrderID] = append(s.orderIndex[session.OrderID], session.ID)

	return superseded, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	// Return a copy to prevent external modifications
	sessionCopy := *session
	return &sessionCopy, nil
}

func (s *MemoryStore) Active(ctx context.Context, orderID string) (*models.PaymentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.orderIndex[orderID]
	for i := len(ids) - 1; i >= 0; i-- {
		if session := s.sessions[ids[i]]; isOpen(session.Status) {
			sessionCopy := *session
			return &sessionCopy, nil
		}
	}
	return nil, fmt.Errorf("%w: no open session for order %s", ErrSessionNotFound, orderID)
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.PaymentStatus) (*models.PaymentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if session.Status != status {
		if !session.Status.CanTransitionTo(status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, session.Status, status)
		}
		session.Status = status
		session.UpdatedAt = time.Now()
	}

	sessionCopy := *session
	return &sessionCopy, nil
}

func (s *MemoryStore) AddEvent(ctx context.Context, event models.SessionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = "evt_" + uuid.NewString()
	}
	event.CreatedAt = time.Now()

	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, sessionID string) ([]models.SessionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, exists := s.events[sessionID]
	if !exists {
		return []models.SessionEvent{}, nil
	}

	// Return a copy
	eventsCopy := make([]models.SessionEvent, len(events))
	copy(eventsCopy, events)
	sort.SliceStable(eventsCopy, func(i, j int) bool {
		return eventsCopy[i].CreatedAt.Before(eventsCopy[j].CreatedAt)
	})

	return eventsCopy, nil
}

func (s *MemoryStore) Close() error { return nil }
