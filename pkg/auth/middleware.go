package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anf-aiops/opsbot/pkg/api"
	"github.com/anf-aiops/opsbot/pkg/authz"
)

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/health",
	"/readiness",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware creates JWT auth middleware.
// If keys is nil, all non-public requests are rejected (fail closed).
func NewMiddleware(keys *Keys) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "Missing Authorization header")
				return
			}
			scheme, tokenStr, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" || tokenStr == "" {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			if keys == nil {
				api.WriteUnauthorized(w, "Authentication not configured")
				return
			}

			claims, err := keys.Validate(tokenStr)
			if err != nil {
				logger.DebugContext(r.Context(), "token rejected", "error", err, "request_id", GetRequestID(r.Context()))
				if errors.Is(err, ErrMissingClaim) {
					api.WriteUnauthorized(w, "Token subject and tenant binding are required")
					return
				}
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			user := authz.UserContext{
				UserID:   claims.Subject,
				TenantID: claims.TenantID,
				Roles:    claims.Roles,
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
