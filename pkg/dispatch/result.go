package dispatch

import (
	"time"

	"github.com/anf-aiops/opsbot/pkg/authz"
	"github.com/anf-aiops/opsbot/pkg/intent"
)

// Status discriminates the Result variants.
type Status string

const (
	StatusSuccess             Status = "success"
	StatusDenied              Status = "denied"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusError               Status = "error"
)

// Kind classifies an error result.
type Kind string

const (
	KindUnrecognizedInput    Kind = "UnrecognizedInput"
	KindUnknownOperation     Kind = "UnknownOperation"
	KindInvalidParameters    Kind = "InvalidParameters"
	KindConfirmationInvalid  Kind = "ConfirmationInvalid"
	KindConfirmationMismatch Kind = "ConfirmationMismatch"
	KindBackendFailure       Kind = "BackendFailure"
)

// Result is the outcome of one dispatch. Which fields are meaningful depends
// on Status:
//
//	success               OperationName, Payload
//	denied                Reason
//	pending_confirmation  TicketID, ExpiresAt, Parameters
//	error                 Kind, Message, Details
//
// CorrelationID and Intent are always set.
type Result struct {
	Status        Status        `json:"status"`
	CorrelationID string        `json:"correlationId"`
	Intent        intent.Intent `json:"intent"`
	OperationName string        `json:"operationName,omitempty"`

	Payload any `json:"payload,omitempty"`

	Reason authz.Reason `json:"reason,omitempty"`

	TicketID  string    `json:"ticketId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	// Parameters are the validated parameters the ticket was issued for.
	Parameters map[string]string `json:"parameters,omitempty"`

	Kind    Kind              `json:"kind,omitempty"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`

	// cause is the internal error behind a failure; audited, never rendered.
	cause error
}

// Cause returns the internal error behind an error result, if any.
func (r Result) Cause() error { return r.cause }

func (r Result) IsSuccess() bool { return r.Status == StatusSuccess }
