// Package auth authenticates chat transport requests and attaches the caller's
// identity to the request context.
package auth

import (
	"context"
	"errors"

	"github.com/anf-aiops/opsbot/pkg/authz"
)

var ErrNoUser = errors.New("no user in context")

type contextKey string

const userKey contextKey = "user"

// WithUser attaches the authenticated caller to the context.
func WithUser(ctx context.Context, u authz.UserContext) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFrom retrieves the caller set by the middleware.
func UserFrom(ctx context.Context) (authz.UserContext, error) {
	u, ok := ctx.Value(userKey).(authz.UserContext)
	if !ok {
		return authz.UserContext{}, ErrNoUser
	}
	return u, nil
}

// GetTenantID is a helper to get the tenant of the caller.
func GetTenantID(ctx context.Context) (string, error) {
	u, err := UserFrom(ctx)
	if err != nil {
		return "", err
	}
	return u.TenantID, nil
}
