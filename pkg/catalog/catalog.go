// Package catalog holds the static permission catalog: which permissions each
// role grants and which permission each (action, entity) pair requires.
//
// A Catalog is built once at startup and never mutated afterwards, so it is
// safe for concurrent readers without locking.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Permission strings understood by the default ANF catalog.
const (
	PermRead   = "anf.read"
	PermWrite  = "anf.write"
	PermDelete = "anf.delete"
	PermAdmin  = "anf.admin"

	// Public is granted to every user. Only an explicit action rule can
	// require it; the verb fallback never resolves to Public.
	Public = "public"

	// Wildcard in a role's permission list grants everything.
	Wildcard = "*"
)

// DefaultAdminRole is the role that bypasses permission checks.
const DefaultAdminRole = "ANF.Admin"

var (
	ErrEmptyRoleName   = errors.New("role name is required")
	ErrDuplicateRole   = errors.New("duplicate role definition")
	ErrEmptyAction     = errors.New("action rule requires an action")
	ErrEmptyPermission = errors.New("action rule requires a permission")
)

// RoleDefinition maps a role name to the permissions it grants.
type RoleDefinition struct {
	Name        string   `yaml:"name" json:"name"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// ActionRule binds an (action, entity) pair to the permission it requires.
// An empty Entity matches any entity for that action.
type ActionRule struct {
	Action     string `yaml:"action" json:"action"`
	Entity     string `yaml:"entity,omitempty" json:"entity,omitempty"`
	Permission string `yaml:"permission" json:"permission"`
}

type ruleKey struct {
	action string
	entity string
}

// Catalog is the immutable role/permission table.
type Catalog struct {
	adminRole string
	roles     map[string]map[string]struct{}
	rules     map[ruleKey]string
	classes   map[Class]string
}

// New builds a Catalog. Role and rule names are compared case-sensitively for
// roles and case-insensitively for actions and entities.
func New(adminRole string, roles []RoleDefinition, rules []ActionRule) (*Catalog, error) {
	if adminRole == "" {
		adminRole = DefaultAdminRole
	}
	c := &Catalog{
		adminRole: adminRole,
		roles:     make(map[string]map[string]struct{}, len(roles)),
		rules:     make(map[ruleKey]string, len(rules)),
		classes: map[Class]string{
			ClassRead:   PermRead,
			ClassWrite:  PermWrite,
			ClassDelete: PermDelete,
			ClassAdmin:  PermAdmin,
		},
	}

	for _, r := range roles {
		if r.Name == "" {
			return nil, ErrEmptyRoleName
		}
		if _, dup := c.roles[r.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRole, r.Name)
		}
		perms := make(map[string]struct{}, len(r.Permissions))
		for _, p := range r.Permissions {
			perms[p] = struct{}{}
		}
		c.roles[r.Name] = perms
	}

	for _, rule := range rules {
		if rule.Action == "" {
			return nil, ErrEmptyAction
		}
		if rule.Permission == "" {
			return nil, fmt.Errorf("%w: %s %s", ErrEmptyPermission, rule.Action, rule.Entity)
		}
		c.rules[ruleKey{normalize(rule.Action), normalize(rule.Entity)}] = rule.Permission
	}

	return c, nil
}

// AdminRole returns the name of the wildcard role.
func (c *Catalog) AdminRole() string {
	return c.adminRole
}

// IsAdmin reports whether any of the roles is the administrator role.
func (c *Catalog) IsAdmin(roles []string) bool {
	for _, r := range roles {
		if r == c.adminRole {
			return true
		}
	}
	return false
}

// Permissions returns the derived permission set for a set of roles. Unknown
// roles contribute nothing. Public is always present; Wildcard is added for
// the administrator role.
func (c *Catalog) Permissions(roles []string) map[string]struct{} {
	out := map[string]struct{}{Public: {}}
	for _, r := range roles {
		for p := range c.roles[r] {
			out[p] = struct{}{}
		}
	}
	if c.IsAdmin(roles) {
		out[Wildcard] = struct{}{}
	}
	return out
}

// RequiredPermission looks up the explicit rule for (action, entity), falling
// back to an entity-agnostic rule for the action.
func (c *Catalog) RequiredPermission(action, entity string) (string, bool) {
	a, e := normalize(action), normalize(entity)
	if p, ok := c.rules[ruleKey{a, e}]; ok {
		return p, true
	}
	if p, ok := c.rules[ruleKey{a, ""}]; ok {
		return p, true
	}
	return "", false
}

// ClassPermission returns the permission guarding a verb class.
func (c *Catalog) ClassPermission(class Class) string {
	if p, ok := c.classes[class]; ok {
		return p
	}
	return c.classes[ClassAdmin]
}

// Roles returns the role table sorted by name, with sorted permissions.
func (c *Catalog) Roles() []RoleDefinition {
	out := make([]RoleDefinition, 0, len(c.roles))
	for name, perms := range c.roles {
		def := RoleDefinition{Name: name, Permissions: make([]string, 0, len(perms))}
		for p := range perms {
			def.Permissions = append(def.Permissions, p)
		}
		sort.Strings(def.Permissions)
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Rules returns the action rules sorted by action then entity.
func (c *Catalog) Rules() []ActionRule {
	out := make([]ActionRule, 0, len(c.rules))
	for k, p := range c.rules {
		out = append(out, ActionRule{Action: k.action, Entity: k.entity, Permission: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Action != out[j].Action {
			return out[i].Action < out[j].Action
		}
		return out[i].Entity < out[j].Entity
	})
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
