package confirm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anf-aiops/opsbot/pkg/database"
	"github.com/google/uuid"
)

// active_key is the ticket key while the ticket is live and NULL once it is
// consumed or retired, so the UNIQUE index admits one live ticket per key.
const confirmSchema = `
CREATE TABLE IF NOT EXISTS confirmation_tickets (
	ticket_id TEXT PRIMARY KEY,
	ticket_key TEXT NOT NULL,
	active_key TEXT UNIQUE,
	tenant_id TEXT NOT NULL DEFAULT '',
	conversation_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	operation_name TEXT NOT NULL,
	params TEXT NOT NULL,
	issued_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL,
	consumed INTEGER NOT NULL DEFAULT 0
)`

const (
	retireQuery = `UPDATE confirmation_tickets SET active_key = NULL WHERE active_key = ? AND expires_at <= ?`

	insertQuery = `INSERT INTO confirmation_tickets (ticket_id, ticket_key, active_key, tenant_id, conversation_id, user_id, operation_name, params, issued_at, expires_at, consumed) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0) ON CONFLICT (active_key) DO NOTHING`

	selectActiveQuery = `SELECT ticket_id, tenant_id, conversation_id, user_id, operation_name, params, issued_at, expires_at, consumed FROM confirmation_tickets WHERE active_key = ?`

	consumeQuery = `UPDATE confirmation_tickets SET consumed = 1, active_key = NULL WHERE ticket_id = ? AND consumed = 0 AND expires_at > ? RETURNING ticket_id, tenant_id, conversation_id, user_id, operation_name, params, issued_at, expires_at, consumed`

	statusQuery = `SELECT consumed, expires_at FROM confirmation_tickets WHERE ticket_id = ?`

	sweepQuery = `DELETE FROM confirmation_tickets WHERE expires_at <= ?`
)

// SQLStore persists tickets in SQLite (lite mode) or Postgres. Consume is a
// single conditional UPDATE, which the database serializes per row.
type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
	ttl     time.Duration
	clock   func() time.Time
}

// NewSQLStore creates the table if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect database.Dialect, ttl time.Duration) (*SQLStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &SQLStore{db: db, dialect: dialect, ttl: ttl, clock: time.Now}
	if _, err := db.ExecContext(ctx, confirmSchema); err != nil {
		return nil, fmt.Errorf("confirm: migrate: %w", err)
	}
	return s, nil
}

// WithClock overrides the clock for deterministic testing.
func (s *SQLStore) WithClock(clock func() time.Time) *SQLStore {
	s.clock = clock
	return s
}

func (s *SQLStore) RequestConfirmation(ctx context.Context, tenantID, conversationID, userID, operationName string, params map[string]string) (Ticket, error) {
	key, err := ticketKey(tenantID, conversationID, userID, operationName, params)
	if err != nil {
		return Ticket{}, err
	}
	if params == nil {
		params = map[string]string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return Ticket{}, fmt.Errorf("encode params: %w", err)
	}

	now := s.clock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Ticket{}, fmt.Errorf("confirm: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(retireQuery), key, now.UnixMilli()); err != nil {
		return Ticket{}, fmt.Errorf("confirm: retire: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(insertQuery),
		uuid.New().String(), key, key, tenantID, conversationID, userID, operationName, string(paramsJSON),
		now.UnixMilli(), now.Add(s.ttl).UnixMilli(),
	); err != nil {
		return Ticket{}, fmt.Errorf("confirm: insert: %w", err)
	}

	t, err := scanTicket(tx.QueryRowContext(ctx, s.dialect.Rebind(selectActiveQuery), key))
	if err != nil {
		return Ticket{}, fmt.Errorf("confirm: load: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Ticket{}, fmt.Errorf("confirm: commit: %w", err)
	}
	return t, nil
}

func (s *SQLStore) Consume(ctx context.Context, ticketID string) (Ticket, error) {
	now := s.clock().UnixMilli()

	t, err := scanTicket(s.db.QueryRowContext(ctx, s.dialect.Rebind(consumeQuery), ticketID, now))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Ticket{}, fmt.Errorf("confirm: consume: %w", err)
	}

	// Nothing updated: work out which precondition failed.
	var consumed int
	var expiresAt int64
	err = s.db.QueryRowContext(ctx, s.dialect.Rebind(statusQuery), ticketID).Scan(&consumed, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Ticket{}, ErrNotFound
	case err != nil:
		return Ticket{}, fmt.Errorf("confirm: status: %w", err)
	case expiresAt <= now:
		return Ticket{}, ErrExpired
	default:
		return Ticket{}, ErrAlreadyConsumed
	}
}

// Sweep deletes expired tickets and returns how many were removed.
func (s *SQLStore) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(sweepQuery), s.clock().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("confirm: sweep: %w", err)
	}
	return res.RowsAffected()
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *SQLStore) RunSweeper(ctx context.Context, interval time.Duration) {
	log := slog.Default().With("component", "confirm")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				log.WarnContext(ctx, "ticket sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.DebugContext(ctx, "swept expired tickets", "count", n)
			}
		}
	}
}

func scanTicket(row *sql.Row) (Ticket, error) {
	var (
		t        Ticket
		params   string
		issued   int64
		expires  int64
		consumed int
	)
	if err := row.Scan(&t.TicketID, &t.TenantID, &t.ConversationID, &t.UserID, &t.OperationName, &params, &issued, &expires, &consumed); err != nil {
		return Ticket{}, err
	}
	if err := json.Unmarshal([]byte(params), &t.TargetParameters); err != nil {
		return Ticket{}, fmt.Errorf("decode params: %w", err)
	}
	t.IssuedAt = time.UnixMilli(issued)
	t.ExpiresAt = time.UnixMilli(expires)
	t.Consumed = consumed != 0
	return t.clone(), nil
}
