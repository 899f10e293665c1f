// Package dispatch runs one chat request end to end: resolve the intent,
// authorize it, validate parameters, enforce two-phase confirmation for
// destructive operations, and invoke the backend.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/anf-aiops/opsbot/pkg/audit"
	"github.com/anf-aiops/opsbot/pkg/authz"
	"github.com/anf-aiops/opsbot/pkg/backend"
	"github.com/anf-aiops/opsbot/pkg/confirm"
	"github.com/anf-aiops/opsbot/pkg/intent"
	"github.com/anf-aiops/opsbot/pkg/registry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// TicketParam is the parameter that carries a confirmation ticket back.
const TicketParam = "confirmationTicketId"

// DefaultConfidenceFloor rejects nothing the resolver produces on a match.
const DefaultConfidenceFloor = 0.5

var ErrMissingDependency = errors.New("dispatch: missing dependency")

// Tracker wraps an operation in a span and RED metrics.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// Config wires a Dispatcher. Audit and Tracker are optional.
type Config struct {
	Resolver        *intent.Resolver
	Authz           *authz.Engine
	Registry        *registry.Registry
	Confirm         confirm.Store
	Backend         backend.Backend
	Audit           audit.Sink
	Tracker         Tracker
	ConfidenceFloor float64
	Clock           func() time.Time
}

// Dispatcher is safe for concurrent use. Every call to Dispatch is independent.
type Dispatcher struct {
	resolver *intent.Resolver
	authz    *authz.Engine
	registry *registry.Registry
	confirm  confirm.Store
	backend  backend.Backend
	audit    audit.Sink
	tracker  Tracker
	floor    float64
	clock    func() time.Time
	logger   *slog.Logger
}

func New(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Resolver == nil:
		return nil, fmt.Errorf("%w: resolver", ErrMissingDependency)
	case cfg.Authz == nil:
		return nil, fmt.Errorf("%w: authz", ErrMissingDependency)
	case cfg.Registry == nil:
		return nil, fmt.Errorf("%w: registry", ErrMissingDependency)
	case cfg.Confirm == nil:
		return nil, fmt.Errorf("%w: confirmation store", ErrMissingDependency)
	case cfg.Backend == nil:
		return nil, fmt.Errorf("%w: backend", ErrMissingDependency)
	}
	d := &Dispatcher{
		resolver: cfg.Resolver,
		authz:    cfg.Authz,
		registry: cfg.Registry,
		confirm:  cfg.Confirm,
		backend:  cfg.Backend,
		audit:    cfg.Audit,
		tracker:  cfg.Tracker,
		floor:    cfg.ConfidenceFloor,
		clock:    cfg.Clock,
		logger:   slog.Default().With("component", "dispatch"),
	}
	if d.audit == nil {
		d.audit = audit.Discard
	}
	if d.floor <= 0 {
		d.floor = DefaultConfidenceFloor
	}
	if d.clock == nil {
		d.clock = time.Now
	}
	return d, nil
}

// Dispatch handles one raw input on behalf of user. It never returns an
// error; every failure is a Result. Exactly one audit event is recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, in intent.RawInput, user authz.UserContext) Result {
	correlationID := in.RequestID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	ctx, done := d.track(ctx, "dispatch",
		attribute.String("modality", string(in.Modality)),
		attribute.String("tenant", user.TenantID),
	)

	it := d.resolver.Resolve(in)
	res := d.run(ctx, in, it, user)
	res.CorrelationID = correlationID
	res.Intent = it

	d.record(ctx, in, user, res)
	done(res.trackErr())
	return res
}

func (d *Dispatcher) run(ctx context.Context, in intent.RawInput, it intent.Intent, user authz.UserContext) Result {
	if it.IsUnknown() || it.Confidence < d.floor {
		return failure(KindUnrecognizedInput, "input not recognized", nil)
	}

	op, ok := d.registry.Lookup(it.Action, it.Entity)
	if !ok {
		return failure(KindUnknownOperation, "no operation for "+describe(it), nil)
	}

	decision := d.authz.Authorize(user, it)
	if !decision.Allowed {
		return Result{Status: StatusDenied, OperationName: op.Name, Reason: decision.Reason}
	}

	if op.Name == registry.HelpOperation {
		return Result{Status: StatusSuccess, OperationName: op.Name, Payload: d.help(user)}
	}

	requested := maps.Clone(it.Parameters)
	ticketID, hasTicket := requested[TicketParam]
	delete(requested, TicketParam)

	params, err := d.registry.Validate(op, requested)
	if err != nil {
		res := failure(KindInvalidParameters, "invalid parameters for "+op.Name, err)
		res.OperationName = op.Name
		var verr *registry.ValidationError
		if errors.As(err, &verr) {
			res.Details = make(map[string]string, len(verr.Fields))
			for _, f := range verr.Fields {
				res.Details[f.Field] = f.Message
			}
		}
		return res
	}

	if op.Destructive {
		if !hasTicket {
			return d.requestConfirmation(ctx, in, user, op, params)
		}
		if res, ok := d.consumeTicket(ctx, in, user, op, params, ticketID); !ok {
			return res
		}
	}

	return d.invoke(ctx, op, params)
}

func (d *Dispatcher) requestConfirmation(ctx context.Context, in intent.RawInput, user authz.UserContext, op registry.OperationDescriptor, params registry.Params) Result {
	tk, err := d.confirm.RequestConfirmation(ctx, user.TenantID, in.ConversationID, user.UserID, op.Name, params.Raw)
	if err != nil {
		res := failure(KindBackendFailure, "could not start confirmation", err)
		res.OperationName = op.Name
		return res
	}
	return Result{
		Status:        StatusPendingConfirmation,
		OperationName: op.Name,
		TicketID:      tk.TicketID,
		ExpiresAt:     tk.ExpiresAt,
		Parameters:    maps.Clone(tk.TargetParameters),
	}
}

// consumeTicket burns the ticket before checking it matches, so a
// mismatched ticket cannot be retried.
func (d *Dispatcher) consumeTicket(ctx context.Context, in intent.RawInput, user authz.UserContext, op registry.OperationDescriptor, params registry.Params, ticketID string) (Result, bool) {
	tk, err := d.confirm.Consume(ctx, ticketID)
	if err != nil {
		res := failure(KindConfirmationInvalid, "confirmation is no longer valid", err)
		res.OperationName = op.Name
		res.TicketID = ticketID
		return res, false
	}

	var mismatch string
	switch {
	case tk.OperationName != op.Name:
		mismatch = "operation"
	case tk.TenantID != user.TenantID:
		mismatch = "tenant"
	case tk.UserID != user.UserID:
		mismatch = "user"
	case tk.ConversationID != in.ConversationID:
		mismatch = "conversation"
	case !maps.Equal(tk.TargetParameters, params.Raw):
		mismatch = "parameters"
	}
	if mismatch != "" {
		res := failure(KindConfirmationMismatch, "confirmation does not match the request", nil)
		res.OperationName = op.Name
		res.TicketID = ticketID
		res.Details = map[string]string{"mismatch": mismatch}
		return res, false
	}
	return Result{TicketID: ticketID}, true
}

func (d *Dispatcher) invoke(ctx context.Context, op registry.OperationDescriptor, params registry.Params) Result {
	bctx, done := d.track(ctx, "backend.invoke", attribute.String("operation", op.Name))
	out, err := d.backend.Invoke(bctx, op.Name, params.Typed)
	done(err)

	res := Result{OperationName: op.Name}
	switch {
	case ctx.Err() != nil:
		// The caller is gone; whatever the backend said is not actionable.
		res = failure(KindBackendFailure, "operation failed", ctx.Err())
		res.OperationName = op.Name
		res.Details = map[string]string{"cause": "cancelled"}
	case err != nil:
		res = failure(KindBackendFailure, "operation failed", err)
		res.OperationName = op.Name
	case !out.OK:
		res = failure(KindBackendFailure, "operation failed", fmt.Errorf("backend %s: %s", out.ErrorCode, out.Message))
		res.OperationName = op.Name
		if out.ErrorCode != "" {
			res.Details = map[string]string{"errorCode": out.ErrorCode}
		}
	default:
		res.Status = StatusSuccess
		res.Payload = out.Data
	}
	return res
}

// help lists the operations the user may run, in registration order.
func (d *Dispatcher) help(user authz.UserContext) []HelpEntry {
	var out []HelpEntry
	for _, op := range d.registry.All() {
		if op.Name == registry.HelpOperation {
			continue
		}
		if !d.authz.Check(user, d.authz.RequiredPermission(op.Action, op.Entity)).Allowed {
			continue
		}
		out = append(out, HelpEntry{
			Operation:   op.Name,
			Usage:       usage(d.resolver.Namespace(), op),
			Summary:     op.Summary,
			Destructive: op.Destructive,
		})
	}
	return out
}

func (d *Dispatcher) record(ctx context.Context, in intent.RawInput, user authz.UserContext, res Result) {
	e := audit.Event{
		ID:             uuid.NewString(),
		CorrelationID:  res.CorrelationID,
		Timestamp:      d.clock().UTC(),
		TenantID:       user.TenantID,
		UserID:         user.UserID,
		ConversationID: in.ConversationID,
		Modality:       string(res.Intent.Modality),
		Action:         res.Intent.Action,
		Entity:         res.Intent.Entity,
		Parameters:     maps.Clone(res.Intent.Parameters),
		Confidence:     res.Intent.Confidence,
		Operation:      res.OperationName,
		TicketID:       res.TicketID,
	}
	switch res.Status {
	case StatusSuccess:
		e.Outcome = audit.OutcomeSuccess
	case StatusDenied:
		e.Outcome = audit.OutcomeDenied
		e.Kind = string(res.Reason)
	case StatusPendingConfirmation:
		e.Outcome = audit.OutcomePending
	default:
		e.Outcome = audit.OutcomeError
		e.Kind = string(res.Kind)
	}
	if len(res.Intent.Dropped) > 0 || res.cause != nil || len(res.Details) > 0 {
		e.Metadata = map[string]any{}
		if len(res.Intent.Dropped) > 0 {
			e.Metadata["dropped"] = res.Intent.Dropped
		}
		if res.cause != nil {
			e.Metadata["cause"] = res.cause.Error()
		}
		if len(res.Details) > 0 {
			e.Metadata["details"] = res.Details
		}
	}

	if res.Status == StatusError && res.Kind == KindBackendFailure {
		d.logger.WarnContext(ctx, "dispatch failed",
			"correlation_id", res.CorrelationID,
			"operation", res.OperationName,
			"error", res.cause,
		)
	}

	// The request may already be cancelled; the audit record is still owed.
	d.audit.Record(context.WithoutCancel(ctx), e)
}

func (d *Dispatcher) track(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if d.tracker == nil {
		return ctx, func(error) {}
	}
	return d.tracker.TrackOperation(ctx, name, attrs...)
}

func (r Result) trackErr() error {
	if r.Status != StatusError {
		return nil
	}
	if r.cause != nil {
		return r.cause
	}
	return errors.New(string(r.Kind))
}

func failure(kind Kind, msg string, cause error) Result {
	return Result{Status: StatusError, Kind: kind, Message: msg, cause: cause}
}

func describe(it intent.Intent) string {
	if it.Entity == "" {
		return it.Action
	}
	return it.Action + " " + it.Entity
}
