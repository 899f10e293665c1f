// Package audit records one structured event per dispatched request.
//
// Sinks are fire-and-forget: Record never returns an error and must not
// block the dispatcher for long. Failures are logged and dropped.
package audit

import (
	"context"
	"time"
)

// Outcome is the top-level result of a dispatch.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomePending Outcome = "pending_confirmation"
	OutcomeError   Outcome = "error"
)

// Event is a structured audit record.
type Event struct {
	ID             string            `json:"id"`
	CorrelationID  string            `json:"correlation_id"`
	Timestamp      time.Time         `json:"timestamp"`
	TenantID       string            `json:"tenant_id"`
	UserID         string            `json:"user_id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Modality       string            `json:"modality"`
	Action         string            `json:"action"`
	Entity         string            `json:"entity,omitempty"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	Confidence     float64           `json:"confidence"`
	Operation      string            `json:"operation,omitempty"`
	Outcome        Outcome           `json:"outcome"`
	// Kind is the deny reason or error kind; empty on success.
	Kind     string         `json:"kind,omitempty"`
	TicketID string         `json:"ticket_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Record(ctx context.Context, e Event) { f(ctx, e) }

// Multi fans one event out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return multi(live)
}

type multi []Sink

func (m multi) Record(ctx context.Context, e Event) {
	for _, s := range m {
		s.Record(ctx, e)
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})
