package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anf-aiops/opsbot/pkg/database"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	ts BIGINT NOT NULL,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	modality TEXT NOT NULL,
	action TEXT NOT NULL,
	entity TEXT NOT NULL,
	parameters TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	operation TEXT NOT NULL,
	outcome TEXT NOT NULL,
	kind TEXT NOT NULL,
	ticket_id TEXT NOT NULL,
	metadata TEXT NOT NULL
)`

const insertEventQuery = `INSERT INTO audit_events (id, correlation_id, ts, tenant_id, user_id, conversation_id, modality, action, entity, parameters, confidence, operation, outcome, kind, ticket_id, metadata) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectByCorrelationQuery = `SELECT id, correlation_id, ts, tenant_id, user_id, conversation_id, modality, action, entity, parameters, confidence, operation, outcome, kind, ticket_id FROM audit_events WHERE correlation_id = ? ORDER BY ts`

// SQLSink persists events to the audit_events table.
type SQLSink struct {
	db      *sql.DB
	dialect database.Dialect
	log     *slog.Logger
}

// NewSQLSink creates the table if needed.
func NewSQLSink(ctx context.Context, db *sql.DB, dialect database.Dialect) (*SQLSink, error) {
	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &SQLSink{db: db, dialect: dialect, log: slog.Default().With("component", "audit")}, nil
}

func (s *SQLSink) Record(ctx context.Context, e Event) {
	if err := s.Insert(ctx, e); err != nil {
		s.log.WarnContext(ctx, "audit insert failed", "id", e.ID, "correlation_id", e.CorrelationID, "error", err)
	}
}

// Insert writes one event and reports failure.
func (s *SQLSink) Insert(ctx context.Context, e Event) error {
	params, err := json.Marshal(orEmpty(e.Parameters))
	if err != nil {
		return err
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(insertEventQuery),
		e.ID, e.CorrelationID, e.Timestamp.UnixMilli(), e.TenantID, e.UserID, e.ConversationID,
		e.Modality, e.Action, e.Entity, string(params), e.Confidence, e.Operation,
		string(e.Outcome), e.Kind, e.TicketID, string(meta),
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// ByCorrelation returns the events recorded for one request.
func (s *SQLSink) ByCorrelation(ctx context.Context, correlationID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(selectByCorrelationQuery), correlationID)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			ts      int64
			params  string
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.CorrelationID, &ts, &e.TenantID, &e.UserID, &e.ConversationID,
			&e.Modality, &e.Action, &e.Entity, &params, &e.Confidence, &e.Operation, &outcome, &e.Kind, &e.TicketID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &e.Parameters); err != nil {
			return nil, fmt.Errorf("audit: decode parameters: %w", err)
		}
		e.Timestamp = timeFromMillis(ts)
		e.Outcome = Outcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
