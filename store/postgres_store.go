// store/postgres_store.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/capactiyvirus/cafe-checkout/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS payment_sessions (
	id             TEXT PRIMARY KEY,
	order_id       TEXT NOT NULL,
	provider       TEXT NOT NULL,
	payment_method TEXT NOT NULL,
	amount         NUMERIC(12, 4) NOT NULL,
	tip_amount     NUMERIC(12, 4) NOT NULL,
	currency       TEXT NOT NULL,
	status         TEXT NOT NULL,
	superseded_by  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS payment_sessions_order_idx ON payment_sessions (order_id, created_at);

CREATE TABLE IF NOT EXISTS session_events (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	order_id   TEXT NOT NULL,
	event_type TEXT NOT NULL,
	status     TEXT NOT NULL,
	data       JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS session_events_session_idx ON session_events (session_id, created_at);
`

var openStatuses = pq.StringArray{
	string(models.PaymentStatusCreated),
	string(models.PaymentStatusPending),
	string(models.PaymentStatusAuthorized),
}

// PostgresStore implements SessionStore using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database and creates the ledger tables if needed.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Register(ctx context.Context, session *models.PaymentSession) ([]*models.PaymentSession, error) {
	if session.ID == "" {
		return nil, fmt.Errorf("session ID cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	// Lock the order's open sessions so two registrations cannot both win.
	rows, err := tx.QueryContext(ctx, `
		UPDATE payment_sessions SET status = $2, superseded_by = $3, updated_at = $4
		WHERE id IN (
			SELECT id FROM payment_sessions
			WHERE order_id = $1 AND status = ANY($5)
			FOR UPDATE
		)
		RETURNING `+sessionColumns,
		session.OrderID, models.PaymentStatusSuperseded, session.ID, now, openStatuses,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to supersede sessions: %w", err)
	}
	superseded, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}

	if session.Status == "" {
		session.Status = models.PaymentStatusCreated
	}
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_sessions (
			id, order_id, provider, payment_method, amount, tip_amount,
			currency, status, superseded_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', $9, $10)`,
		session.ID,
		session.OrderID,
		session.Provider,
		session.Method,
		session.Amount,
		session.TipAmount,
		session.Currency,
		session.Status,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session: %w", err)
	}
	return superseded, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.PaymentSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM payment_sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) Active(ctx context.Context, orderID string) (*models.PaymentSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM payment_sessions
		WHERE order_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1`, orderID, openStatuses)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no open session for order %s", ErrSessionNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.PaymentStatus) (*models.PaymentSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM payment_sessions WHERE id = $1 FOR UPDATE`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if session.Status == status {
		return session, nil
	}
	if !session.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, session.Status, status)
	}

	session.Status = status
	session.UpdatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE payment_sessions SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, session.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) AddEvent(ctx context.Context, event models.SessionEvent) error {
	if event.ID == "" {
		event.ID = "evt_" + uuid.NewString()
	}
	event.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_events (id, session_id, order_id, event_type, status, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.SessionID, event.OrderID, event.EventType, event.Status, data, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEvents(ctx context.Context, sessionID string) ([]models.SessionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, order_id, event_type, status, data, created_at
		FROM session_events
		WHERE session_id = $1
		ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []models.SessionEvent{}
	for rows.Next() {
		var event models.SessionEvent
		var data []byte
		if err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.OrderID,
			&event.EventType,
			&event.Status,
			&data,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &event.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

const sessionColumns = `id, order_id, provider, payment_method, amount, tip_amount,
	currency, status, superseded_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*models.PaymentSession, error) {
	var session models.PaymentSession
	err := row.Scan(
		&session.ID,
		&session.OrderID,
		&session.Provider,
		&session.Method,
		&session.Amount,
		&session.TipAmount,
		&session.Currency,
		&session.Status,
		&session.SupersededBy,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func scanSessions(rows *sql.Rows) ([]*models.PaymentSession, error) {
	defer rows.Close()

	var sessions []*models.PaymentSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}
