// Package authz decides whether a user may perform a resolved intent.
//
// Decisions are pure functions of the catalog, the user's roles, and the
// intent. There is no I/O and no error return: anything that cannot be
// resolved is denied.
package authz

import (
	"github.com/anf-aiops/opsbot/pkg/catalog"
	"github.com/anf-aiops/opsbot/pkg/intent"
)

// UserContext identifies the caller as asserted by the transport.
type UserContext struct {
	UserID   string   `json:"userId"`
	TenantID string   `json:"tenantId"`
	Roles    []string `json:"roles"`
}

// Reason explains a denial. It is audit-only and never shown to users.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonNoMatchingPermission Reason = "NoMatchingPermission"
	ReasonUnknownAction        Reason = "UnknownAction"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed            bool   `json:"allowed"`
	Reason             Reason `json:"reason,omitempty"`
	RequiredPermission string `json:"requiredPermission,omitempty"`
}

// Engine evaluates intents against a permission catalog.
type Engine struct {
	catalog *catalog.Catalog
}

func NewEngine(c *catalog.Catalog) *Engine {
	if c == nil {
		c = catalog.Default()
	}
	return &Engine{catalog: c}
}

// Catalog returns the catalog the engine evaluates against.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// RequiredPermission returns the permission guarding (action, entity). When the
// catalog has no rule the verb's class decides, which for unrecognised verbs
// is the administrator permission.
func (e *Engine) RequiredPermission(action, entity string) string {
	if p, ok := e.catalog.RequiredPermission(action, entity); ok {
		return p
	}
	return e.catalog.ClassPermission(catalog.ClassifyVerb(action))
}

// Authorize checks a single intent.
func (e *Engine) Authorize(user UserContext, in intent.Intent) Decision {
	if in.IsUnknown() {
		return Decision{Reason: ReasonUnknownAction}
	}
	return e.Check(user, e.RequiredPermission(in.Action, in.Entity))
}

// Check tests a user against an already-known permission.
func (e *Engine) Check(user UserContext, permission string) Decision {
	d := Decision{RequiredPermission: permission}
	if e.catalog.IsAdmin(user.Roles) {
		d.Allowed = true
		return d
	}

	perms := e.catalog.Permissions(user.Roles)
	if _, ok := perms[catalog.Wildcard]; ok {
		d.Allowed = true
		return d
	}
	if _, ok := perms[permission]; ok && permission != "" {
		d.Allowed = true
		return d
	}
	d.Reason = ReasonNoMatchingPermission
	return d
}
