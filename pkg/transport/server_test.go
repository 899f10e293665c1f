package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anf-aiops/opsbot/pkg/auth"
	"github.com/anf-aiops/opsbot/pkg/authz"
	"github.com/anf-aiops/opsbot/pkg/backend"
	"github.com/anf-aiops/opsbot/pkg/catalog"
	"github.com/anf-aiops/opsbot/pkg/compose"
	"github.com/anf-aiops/opsbot/pkg/confirm"
	"github.com/anf-aiops/opsbot/pkg/dispatch"
	"github.com/anf-aiops/opsbot/pkg/intent"
	"github.com/anf-aiops/opsbot/pkg/registry"
	"github.com/anf-aiops/opsbot/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	handler http.Handler
	keys    *auth.Keys
	backend *backend.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.Default()
	resolver, err := intent.NewResolver(intent.Vocabulary{Actions: reg.Actions(), Entities: reg.Entities()})
	require.NoError(t, err)

	mem := backend.NewMemory()
	d, err := dispatch.New(dispatch.Config{
		Resolver: resolver,
		Authz:    authz.NewEngine(catalog.Default()),
		Registry: reg,
		Confirm:  confirm.NewMemoryStore(time.Minute),
		Backend:  mem,
	})
	require.NoError(t, err)

	keys, err := auth.DeriveKeys("secret")
	require.NoError(t, err)

	srv := transport.NewServer(d, compose.New())
	srv.AddReadinessCheck("backend", func(context.Context) error { return nil })
	return &fixture{
		handler: srv.Handler(auth.NewMiddleware(keys), auth.NewRateLimiter(100, 100).Middleware),
		keys:    keys,
		backend: mem,
	}
}

func (f *fixture) post(t *testing.T, role, body string) (*httptest.ResponseRecorder, transport.MessageResponse) {
	t.Helper()
	token, err := f.keys.Issue("alice", "tenant-1", []string{role}, time.Hour, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(auth.RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	var out transport.MessageResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	}
	return w, out
}

func TestMessage_TwoPhaseOverHTTP(t *testing.T) {
	f := newFixture(t)
	_, err := f.backend.Invoke(context.Background(), "create_volume", map[string]any{"name": "vol1"})
	require.NoError(t, err)

	w, out := f.post(t, catalog.RoleOperator, `{"text":"/anf delete volume name vol1","conversationId":"c1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", out.CorrelationID)
	assert.Equal(t, dispatch.StatusPendingConfirmation, out.Status)
	assert.Equal(t, compose.HintConfirmation, out.Response.RenderHint)

	// the card's confirm button posts the parameters straight back
	params, err := json.Marshal(out.Response.Data["parameters"])
	require.NoError(t, err)
	body := `{"modality":"card_action","conversationId":"c1","payload":{"action":"delete","entity":"volume","parameters":` + string(params) + `}}`
	w, out = f.post(t, catalog.RoleOperator, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dispatch.StatusSuccess, out.Status)
	assert.Equal(t, compose.HintStatus, out.Response.RenderHint)
}

func TestMessage_DeniedText(t *testing.T) {
	f := newFixture(t)
	w, out := f.post(t, catalog.RoleReader, `{"text":"/anf delete volume name vol1","conversationId":"c1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dispatch.StatusDenied, out.Status)
	assert.Equal(t, compose.DeniedText, out.Response.Text)
}

func TestMessage_BadRequests(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"text":`},
		{"no conversation", `{"text":"/anf help"}`},
		{"bad modality", `{"text":"/anf help","conversationId":"c","modality":"telepathy"}`},
		{"empty", `{"conversationId":"c"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := f.post(t, catalog.RoleReader, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}
}

func TestMessage_RequiresAuthAndJSON(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get(auth.RequestIDHeader))

	token, _ := f.keys.Issue("alice", "t", nil, time.Hour, time.Now())
	req = httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(`text=hi`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	srv := transport.NewServer(nil, nil)
	srv.AddReadinessCheck("redis", func(context.Context) error { return errors.New("down") })
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"unavailable"`)
}
