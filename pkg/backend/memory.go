package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process inventory that serves every routed operation.
// It backs lite mode and tests; no cloud resources are touched.
type Memory struct {
	mu        sync.Mutex
	resources map[string]map[string]map[string]any // entity -> key -> attributes
	calls     []Call
}

// Call records one invocation.
type Call struct {
	Operation string
	Params    map[string]any
}

func NewMemory() *Memory {
	return &Memory{resources: make(map[string]map[string]map[string]any)}
}

// Calls returns the invocations seen so far.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

func (m *Memory) Invoke(ctx context.Context, operationName string, params map[string]any) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if _, ok := routes[operationName]; !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownOperation, operationName)
	}
	verb, entity, _ := strings.Cut(operationName, "_")
	entity = strings.TrimSuffix(entity, "s")

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Operation: operationName, Params: copyParams(params)})

	items := m.resources[entity]
	if items == nil {
		items = make(map[string]map[string]any)
		m.resources[entity] = items
	}

	if verb == "list" {
		return Result{OK: true, Data: list(items, params)}, nil
	}

	key := resourceKey(entity, params)
	switch verb {
	case "create":
		if _, exists := items[key]; exists {
			return Result{OK: false, ErrorCode: "409", Message: entity + " already exists"}, nil
		}
		attrs := copyParams(params)
		delete(attrs, "wait")
		items[key] = attrs
		return Result{OK: true, Data: copyParams(attrs)}, nil
	case "delete":
		if _, exists := items[key]; !exists {
			return Result{OK: false, ErrorCode: "404", Message: entity + " not found"}, nil
		}
		delete(items, key)
		return Result{OK: true, Data: map[string]any{"status": "deleted"}}, nil
	default: // resize, update
		attrs, exists := items[key]
		if !exists {
			return Result{OK: false, ErrorCode: "404", Message: entity + " not found"}, nil
		}
		for k, v := range params {
			switch k {
			case "wait":
			case "new_size_tb":
				attrs["size_tb"] = v
			default:
				attrs[k] = v
			}
		}
		return Result{OK: true, Data: copyParams(attrs)}, nil
	}
}

// resourceKey scopes a resource by its parents so pools in different
// accounts never collide.
func resourceKey(entity string, params map[string]any) string {
	var parts []string
	switch entity {
	case "pool":
		parts = []string{"account", "pool"}
	case "snapshot":
		parts = []string{"volume", "name"}
	default:
		parts = []string{"name"}
	}
	vals := make([]string, len(parts))
	for i, p := range parts {
		vals[i] = fmt.Sprint(params[p])
	}
	return strings.Join(vals, "/")
}

// list returns the items whose attributes match every filter parameter.
func list(items map[string]map[string]any, filter map[string]any) []map[string]any {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []map[string]any{}
next:
	for _, k := range keys {
		attrs := items[k]
		for fk, fv := range filter {
			if av, ok := attrs[fk]; ok && fmt.Sprint(av) != fmt.Sprint(fv) {
				continue next
			}
		}
		out = append(out, copyParams(attrs))
	}
	return out
}

func copyParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
