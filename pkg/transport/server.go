// Package transport exposes the dispatcher to the chat framework over HTTP.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/anf-aiops/opsbot/pkg/api"
	"github.com/anf-aiops/opsbot/pkg/auth"
	"github.com/anf-aiops/opsbot/pkg/authz"
	"github.com/anf-aiops/opsbot/pkg/compose"
	"github.com/anf-aiops/opsbot/pkg/dispatch"
	"github.com/anf-aiops/opsbot/pkg/intent"
)

const maxMessageBytes = 64 << 10

// Dispatcher runs one request. *dispatch.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, in intent.RawInput, user authz.UserContext) dispatch.Result
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// MessageRequest is the body of POST /api/messages.
type MessageRequest struct {
	Modality       intent.Modality `json:"modality,omitempty"`
	Text           string          `json:"text,omitempty"`
	Payload        map[string]any  `json:"payload,omitempty"`
	ConversationID string          `json:"conversationId"`
}

// MessageResponse wraps the composed response with its correlation id.
type MessageResponse struct {
	CorrelationID string                   `json:"correlationId"`
	Status        dispatch.Status          `json:"status"`
	Response      compose.OutboundResponse `json:"response"`
}

// Server routes chat messages to the dispatcher.
type Server struct {
	dispatcher Dispatcher
	composer   *compose.Composer
	checks     map[string]ReadinessCheck
	logger     *slog.Logger
}

func NewServer(d Dispatcher, c *compose.Composer) *Server {
	if c == nil {
		c = compose.New()
	}
	return &Server{
		dispatcher: d,
		composer:   c,
		checks:     make(map[string]ReadinessCheck),
		logger:     slog.Default().With("component", "transport"),
	}
}

// AddReadinessCheck registers a dependency checked by GET /readiness.
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.checks[name] = check
}

// Middleware wraps the routes, outermost first.
type Middleware func(http.Handler) http.Handler

// Handler returns the routes wrapped in mw. Request ids are always assigned
// first so every later layer can log them.
func (s *Server) Handler(mw ...Middleware) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", s.handleMessage)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/readiness", s.handleReadiness)

	var h http.Handler = mux
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return auth.RequestIDMiddleware(h)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		api.WriteUnsupportedMediaType(w)
		return
	}

	user, err := auth.UserFrom(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	var req MessageRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Malformed message body")
		return
	}
	if req.ConversationID == "" {
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "conversationId is required")
		return
	}
	if req.Modality != "" && !req.Modality.Valid() {
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "unknown modality")
		return
	}
	if req.Text == "" && req.Payload == nil {
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "text or payload is required")
		return
	}

	res := s.dispatcher.Dispatch(r.Context(), intent.RawInput{
		Modality:       req.Modality,
		RawText:        req.Text,
		Payload:        req.Payload,
		ConversationID: req.ConversationID,
		RequestID:      auth.GetRequestID(r.Context()),
	}, user)

	s.logger.InfoContext(r.Context(), "message handled",
		"correlation_id", res.CorrelationID,
		"user_id", user.UserID,
		"status", res.Status,
		"operation", res.OperationName,
	)

	api.WriteJSON(w, http.StatusOK, MessageResponse{
		CorrelationID: res.CorrelationID,
		Status:        res.Status,
		Response:      s.composer.Compose(res),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	var failed error
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			status[name] = "unavailable"
			failed = errors.Join(failed, err)
			continue
		}
		status[name] = "ok"
	}
	if failed != nil {
		api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": status})
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": status})
}
