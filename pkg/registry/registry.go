// Package registry holds the operation descriptors the dispatcher can invoke.
//
// A Registry is built once at startup. Lookups are lock-free because nothing
// mutates it afterwards.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
)

var (
	ErrOperationNotFound = errors.New("operation not found")
	ErrDuplicateName     = errors.New("duplicate operation name")
	ErrDuplicateKey      = errors.New("duplicate (action, entity) binding")
	ErrInvalidParameters = errors.New("invalid parameters")
)

// HelpOperation is answered by the dispatcher itself, never by the backend.
const HelpOperation = "help"

// Kind is the scalar type a parameter is coerced to.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
)

// ParamSpec declares one parameter of an operation.
type ParamSpec struct {
	Required    bool   `json:"required"`
	Kind        Kind   `json:"kind"`
	Description string `json:"description,omitempty"`
}

// Constraint is a CEL expression over the coerced `params` map that must
// evaluate to true. Absent optional parameters are absent from the map.
type Constraint struct {
	Expr    string `json:"expr"`
	Message string `json:"message"`
}

// OperationDescriptor describes one backend operation.
type OperationDescriptor struct {
	Name               string               `json:"name"`
	Action             string               `json:"action"`
	Entity             string               `json:"entity,omitempty"`
	RequiredPermission string               `json:"requiredPermission"`
	Destructive        bool                 `json:"destructive"`
	ParameterSchema    map[string]ParamSpec `json:"parameterSchema"`
	Constraints        []Constraint         `json:"constraints,omitempty"`
	Summary            string               `json:"summary,omitempty"`
}

// FieldError reports a single parameter problem.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates every problem found in one parameter bag.
type ValidationError struct {
	Operation string
	Fields    []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", e.Operation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidParameters }

// Params is a validated parameter bag. Raw holds the canonical string form of
// every declared parameter that was supplied; Typed holds the coerced values.
type Params struct {
	Raw   map[string]string
	Typed map[string]any
}

type opKey struct {
	action string
	entity string
}

type compiled struct {
	program cel.Program
	message string
}

// Registry is the immutable operation table.
type Registry struct {
	byKey       map[opKey]*OperationDescriptor
	byName      map[string]*OperationDescriptor
	order       []string
	constraints map[string][]compiled
}

// New validates and indexes the descriptors. Constraint expressions are
// compiled here so a bad expression fails startup, not a request.
func New(descs ...OperationDescriptor) (*Registry, error) {
	env, err := cel.NewEnv(
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	r := &Registry{
		byKey:       make(map[opKey]*OperationDescriptor, len(descs)),
		byName:      make(map[string]*OperationDescriptor, len(descs)),
		constraints: make(map[string][]compiled),
	}

	for i := range descs {
		d := descs[i]
		if d.Name == "" || d.Action == "" {
			return nil, fmt.Errorf("operation %d: name and action are required", i)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
		}
		k := opKey{strings.ToLower(d.Action), strings.ToLower(d.Entity)}
		if _, dup := r.byKey[k]; dup {
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicateKey, d.Action, d.Entity)
		}

		for name, spec := range d.ParameterSchema {
			switch spec.Kind {
			case KindString, KindInt, KindBool:
			default:
				return nil, fmt.Errorf("operation %s: parameter %s has unsupported kind %q", d.Name, name, spec.Kind)
			}
		}

		for _, c := range d.Constraints {
			ast, issues := env.Compile(c.Expr)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("operation %s: CEL compile error: %w", d.Name, issues.Err())
			}
			prg, err := env.Program(ast)
			if err != nil {
				return nil, fmt.Errorf("operation %s: CEL program error: %w", d.Name, err)
			}
			r.constraints[d.Name] = append(r.constraints[d.Name], compiled{program: prg, message: c.Message})
		}

		d.ParameterSchema = cloneSchema(d.ParameterSchema)
		d.Constraints = append([]Constraint(nil), d.Constraints...)
		r.byKey[k] = &d
		r.byName[d.Name] = &d
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// Lookup finds the operation bound to (action, entity). An operation
// registered without an entity answers for every entity of its action.
func (r *Registry) Lookup(action, entity string) (OperationDescriptor, bool) {
	a, e := strings.ToLower(action), strings.ToLower(entity)
	if d, ok := r.byKey[opKey{a, e}]; ok {
		return d.clone(), true
	}
	if d, ok := r.byKey[opKey{a, ""}]; ok {
		return d.clone(), true
	}
	return OperationDescriptor{}, false
}

// ByName finds an operation by its unique name.
func (r *Registry) ByName(name string) (OperationDescriptor, error) {
	d, ok := r.byName[name]
	if !ok {
		return OperationDescriptor{}, fmt.Errorf("%w: %s", ErrOperationNotFound, name)
	}
	return d.clone(), nil
}

// All returns the descriptors in registration order.
func (r *Registry) All() []OperationDescriptor {
	out := make([]OperationDescriptor, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n].clone())
	}
	return out
}

// Actions returns the distinct action verbs, sorted.
func (r *Registry) Actions() []string {
	return r.distinct(func(d *OperationDescriptor) string { return d.Action })
}

// Entities returns the distinct non-empty entities, sorted.
func (r *Registry) Entities() []string {
	return r.distinct(func(d *OperationDescriptor) string { return d.Entity })
}

func (r *Registry) distinct(field func(*OperationDescriptor) string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range r.byName {
		v := strings.ToLower(field(d))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Validate checks presence and coerces every declared parameter. Keys that
// the schema does not declare are dropped. The returned error, if any, is a
// *ValidationError listing every problem.
func (r *Registry) Validate(op OperationDescriptor, params map[string]string) (Params, error) {
	out := Params{
		Raw:   make(map[string]string, len(op.ParameterSchema)),
		Typed: make(map[string]any, len(op.ParameterSchema)),
	}
	var errs []FieldError

	names := make([]string, 0, len(op.ParameterSchema))
	for n := range op.ParameterSchema {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := op.ParameterSchema[name]
		raw, ok := params[name]
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			if spec.Required {
				errs = append(errs, FieldError{Field: name, Message: "is required"})
			}
			continue
		}

		switch spec.Kind {
		case KindInt:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				errs = append(errs, FieldError{Field: name, Message: "must be an integer"})
				continue
			}
			out.Typed[name] = n
			out.Raw[name] = strconv.FormatInt(n, 10)
		case KindBool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				errs = append(errs, FieldError{Field: name, Message: "must be true or false"})
				continue
			}
			out.Typed[name] = b
			out.Raw[name] = strconv.FormatBool(b)
		default:
			out.Typed[name] = raw
			out.Raw[name] = raw
		}
	}

	// Constraints only make sense once every field has the right type.
	if len(errs) == 0 {
		errs = append(errs, r.checkConstraints(op.Name, out.Typed)...)
	}

	if len(errs) > 0 {
		return Params{}, &ValidationError{Operation: op.Name, Fields: errs}
	}
	return out, nil
}

func (r *Registry) checkConstraints(name string, typed map[string]any) []FieldError {
	var errs []FieldError
	for _, c := range r.constraints[name] {
		val, _, err := c.program.Eval(map[string]any{"params": typed})
		if err != nil {
			errs = append(errs, FieldError{Field: "params", Message: c.message})
			continue
		}
		if ok, isBool := val.Value().(bool); !isBool || !ok {
			errs = append(errs, FieldError{Field: "params", Message: c.message})
		}
	}
	return errs
}

// clone hands out a copy that shares no maps or slices with the registry.
func (d *OperationDescriptor) clone() OperationDescriptor {
	out := *d
	out.ParameterSchema = cloneSchema(d.ParameterSchema)
	out.Constraints = append([]Constraint(nil), d.Constraints...)
	return out
}

func cloneSchema(in map[string]ParamSpec) map[string]ParamSpec {
	out := make(map[string]ParamSpec, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
