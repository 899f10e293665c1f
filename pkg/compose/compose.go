// Package compose turns dispatch results into transport-agnostic responses.
//
// Success payloads are not rendered here. The composer only picks the render
// hint the chat layer should use for an operation and passes the payload
// through untouched.
package compose

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anf-aiops/opsbot/pkg/dispatch"
	"github.com/anf-aiops/opsbot/pkg/intent"
)

// Render hints understood by the chat layer.
const (
	HintTable        = "table"
	HintResource     = "resource"
	HintStatus       = "status"
	HintHelp         = "help"
	HintConfirmation = "confirmation"
	HintResult       = "operation_result"
)

// DeniedText is the only thing a denied user is told.
const DeniedText = "You are not authorized to perform this action."

const fallbackText = "Something went wrong while handling your request."

var errorTexts = map[dispatch.Kind]string{
	dispatch.KindUnrecognizedInput:    "Sorry, I didn't understand that. Try %q to see what I can do.",
	dispatch.KindUnknownOperation:     "That operation isn't supported. Try %q to see what I can do.",
	dispatch.KindInvalidParameters:    "Some parameters are missing or invalid",
	dispatch.KindConfirmationInvalid:  "This confirmation has expired or was already used. Please run the command again.",
	dispatch.KindConfirmationMismatch: "This confirmation does not match the requested operation. Please run the command again.",
	dispatch.KindBackendFailure:       "The operation could not be completed. Please try again later.",
}

// OutboundResponse is either plain Text or a RenderHint with Data.
type OutboundResponse struct {
	Text       string         `json:"text,omitempty"`
	RenderHint string         `json:"renderHint,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Composer is immutable after construction and safe for concurrent use.
type Composer struct {
	namespace string
	hints     map[string]string
}

// Option configures a Composer.
type Option func(*Composer)

// WithNamespace sets the slash command namespace used in suggestions.
func WithNamespace(ns string) Option {
	return func(c *Composer) {
		if ns != "" {
			c.namespace = strings.TrimPrefix(ns, "/")
		}
	}
}

// WithRenderHint overrides the hint chosen for one operation.
func WithRenderHint(operation, hint string) Option {
	return func(c *Composer) { c.hints[operation] = hint }
}

func New(opts ...Option) *Composer {
	c := &Composer{
		namespace: intent.DefaultNamespace,
		hints:     map[string]string{"help": HintHelp},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose maps a dispatch result to a response.
func (c *Composer) Compose(r dispatch.Result) OutboundResponse {
	switch r.Status {
	case dispatch.StatusSuccess:
		return c.success(r)
	case dispatch.StatusDenied:
		return OutboundResponse{Text: DeniedText}
	case dispatch.StatusPendingConfirmation:
		return c.confirmation(r)
	default:
		return OutboundResponse{Text: c.errorText(r)}
	}
}

// RenderHint returns the hint for an operation name.
func (c *Composer) RenderHint(operation string) string {
	if h, ok := c.hints[operation]; ok {
		return h
	}
	verb, _, _ := strings.Cut(operation, "_")
	switch verb {
	case "list":
		return HintTable
	case "create", "resize", "update":
		return HintResource
	case "delete":
		return HintStatus
	}
	return HintResult
}

func (c *Composer) success(r dispatch.Result) OutboundResponse {
	data := map[string]any{
		"operation":     r.OperationName,
		"correlationId": r.CorrelationID,
	}
	if r.Payload != nil {
		data["result"] = r.Payload
	}
	return OutboundResponse{RenderHint: c.RenderHint(r.OperationName), Data: data}
}

func (c *Composer) confirmation(r dispatch.Result) OutboundResponse {
	params := make(map[string]any, len(r.Parameters)+1)
	for k, v := range r.Parameters {
		params[k] = v
	}
	params[dispatch.TicketParam] = r.TicketID

	what := r.Intent.Action
	if r.Intent.Entity != "" {
		what += " " + r.Intent.Entity
	}

	return OutboundResponse{
		RenderHint: HintConfirmation,
		Data: map[string]any{
			"confirmationTicketId": r.TicketID,
			"expiresAt":            r.ExpiresAt.UTC().Format(time.RFC3339),
			"operation":            r.OperationName,
			"action":               r.Intent.Action,
			"entity":               r.Intent.Entity,
			"parameters":           params,
			"confirmCommand":       c.confirmCommand(r),
			"prompt":               fmt.Sprintf("Are you sure you want to %s? This cannot be undone.", describeTarget(what, r.Parameters)),
			"correlationId":        r.CorrelationID,
		},
	}
}

// confirmCommand is the slash command that confirms the pending operation.
func (c *Composer) confirmCommand(r dispatch.Result) string {
	var b strings.Builder
	b.WriteString("/" + c.namespace + " " + r.Intent.Action)
	if r.Intent.Entity != "" {
		b.WriteString(" " + r.Intent.Entity)
	}
	for _, k := range sortedKeys(r.Parameters) {
		b.WriteString(" " + k + " " + r.Parameters[k])
	}
	b.WriteString(" " + dispatch.TicketParam + " " + r.TicketID)
	return b.String()
}

func (c *Composer) errorText(r dispatch.Result) string {
	text, ok := errorTexts[r.Kind]
	if !ok {
		text = fallbackText
	}
	switch r.Kind {
	case dispatch.KindUnrecognizedInput, dispatch.KindUnknownOperation:
		text = fmt.Sprintf(text, "/"+c.namespace+" help")
	case dispatch.KindInvalidParameters:
		if len(r.Details) > 0 {
			parts := make([]string, 0, len(r.Details))
			for _, k := range sortedKeys(r.Details) {
				parts = append(parts, k+" "+r.Details[k])
			}
			text += ": " + strings.Join(parts, "; ")
		}
		text += "."
	}
	if r.CorrelationID != "" {
		text += " (reference: " + r.CorrelationID + ")"
	}
	return text
}

func describeTarget(what string, params map[string]string) string {
	if len(params) == 0 {
		return what
	}
	parts := make([]string, 0, len(params))
	for _, k := range sortedKeys(params) {
		parts = append(parts, k+"="+params[k])
	}
	return what + " (" + strings.Join(parts, ", ") + ")"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
