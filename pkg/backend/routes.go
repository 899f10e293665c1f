package backend

import (
	"fmt"
	"net/url"
	"strings"
)

// route maps an operation onto the MCP REST surface. Path segments written
// as {key} are filled from params; query and body list the params sent in
// the query string or JSON body when present.
type route struct {
	method string
	path   string
	query  []string
	body   []string
}

var routes = map[string]route{
	"list_accounts":  {method: "GET", path: "/accounts"},
	"create_account": {method: "POST", path: "/accounts", query: []string{"wait"}, body: []string{"name", "location"}},
	"delete_account": {method: "DELETE", path: "/accounts/{name}", query: []string{"wait"}},

	"list_pools":  {method: "GET", path: "/pools", query: []string{"account"}},
	"create_pool": {method: "POST", path: "/pools", query: []string{"wait"}, body: []string{"account", "pool", "location", "size_tb", "service_level"}},
	"resize_pool": {method: "PATCH", path: "/pools", query: []string{"account", "pool", "new_size_tb", "wait"}},
	"update_pool": {method: "PATCH", path: "/pools", query: []string{"account", "pool", "new_size_tb", "service_level", "wait"}},
	"delete_pool": {method: "DELETE", path: "/pools", query: []string{"account", "pool", "wait"}},

	"list_volumes":  {method: "GET", path: "/volumes", query: []string{"account", "pool"}},
	"create_volume": {method: "POST", path: "/volumes", query: []string{"wait"}, body: []string{"account", "pool", "name", "size"}},
	"resize_volume": {method: "PATCH", path: "/volumes", query: []string{"account", "pool", "name", "size", "wait"}},
	"delete_volume": {method: "DELETE", path: "/volumes", query: []string{"account", "pool", "name", "wait"}},

	"list_snapshots":  {method: "GET", path: "/snapshots", query: []string{"volume"}},
	"create_snapshot": {method: "POST", path: "/snapshots", body: []string{"volume", "name"}},
	"delete_snapshot": {method: "DELETE", path: "/snapshots", query: []string{"volume", "name"}},
}

// Operations lists the operation names the HTTP client can route.
func Operations() []string {
	out := make([]string, 0, len(routes))
	for name := range routes {
		out = append(out, name)
	}
	return out
}

func (r route) target(params map[string]any) (string, error) {
	path := r.path
	for {
		open := strings.IndexByte(path, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(path[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("malformed route %q", r.path)
		}
		key := path[open+1 : open+end]
		v, ok := params[key]
		if !ok {
			return "", fmt.Errorf("missing path parameter %q", key)
		}
		path = path[:open] + url.PathEscape(fmt.Sprint(v)) + path[open+end+1:]
	}

	q := url.Values{}
	for _, key := range r.query {
		if v, ok := params[key]; ok {
			q.Set(key, fmt.Sprint(v))
		}
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return path, nil
}

func (r route) payload(params map[string]any) map[string]any {
	if len(r.body) == 0 {
		return nil
	}
	out := make(map[string]any, len(r.body))
	for _, key := range r.body {
		if v, ok := params[key]; ok {
			out[key] = v
		}
	}
	return out
}
