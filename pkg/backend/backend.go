// Package backend talks to the storage-management (MCP) API that executes
// operations on Azure NetApp Files.
package backend

import (
	"context"
	"errors"
)

var ErrUnknownOperation = errors.New("backend: unknown operation")

// Result is what the backend reports for one invocation. A non-nil error
// from Invoke means the call itself failed; OK=false means the backend
// answered and refused.
type Result struct {
	OK        bool   `json:"ok"`
	Data      any    `json:"data,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Backend invokes a registered operation by name with coerced parameters.
type Backend interface {
	Invoke(ctx context.Context, operationName string, params map[string]any) (Result, error)
}

// Func adapts a function to the Backend interface.
type Func func(ctx context.Context, operationName string, params map[string]any) (Result, error)

func (f Func) Invoke(ctx context.Context, operationName string, params map[string]any) (Result, error) {
	return f(ctx, operationName, params)
}
