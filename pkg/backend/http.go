package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/anf-aiops/opsbot/pkg/util/resiliency"
)

// DefaultAPIKey matches the MCP server's fallback key.
const DefaultAPIKey = "changeme"

// maxBody bounds how much of a response is decoded.
const maxBody = 4 << 20

// HTTPClient invokes operations against the MCP REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *resiliency.Client
	logger  *slog.Logger
}

func NewHTTPClient(baseURL, apiKey string, client *resiliency.Client) *HTTPClient {
	if apiKey == "" {
		apiKey = DefaultAPIKey
	}
	if client == nil {
		client = resiliency.NewClient("mcp")
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		logger:  slog.Default().With("component", "backend"),
	}
}

func (c *HTTPClient) Invoke(ctx context.Context, operationName string, params map[string]any) (Result, error) {
	rt, ok := routes[operationName]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownOperation, operationName)
	}
	target, err := rt.target(params)
	if err != nil {
		return Result{}, fmt.Errorf("backend: %s: %w", operationName, err)
	}

	var body io.Reader
	if payload := rt.payload(params); payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Result{}, fmt.Errorf("backend: encode %s: %w", operationName, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, rt.method, c.baseURL+target, body)
	if err != nil {
		return Result{}, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("backend: %s: %w", operationName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Result{}, fmt.Errorf("backend: read %s: %w", operationName, err)
	}

	if resp.StatusCode >= 400 {
		c.logger.WarnContext(ctx, "backend refused operation",
			"operation", operationName,
			"status", resp.StatusCode,
		)
		return Result{
			OK:        false,
			ErrorCode: strconv.Itoa(resp.StatusCode),
			Message:   errorDetail(raw),
		}, nil
	}

	var data any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return Result{}, fmt.Errorf("backend: decode %s: %w", operationName, err)
		}
	}
	return Result{OK: true, Data: data}, nil
}

// errorDetail pulls the "detail" field the MCP server uses for errors.
func errorDetail(raw []byte) string {
	var body struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != nil {
		return fmt.Sprint(body.Detail)
	}
	return strings.TrimSpace(string(raw))
}
