package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]interface{}
}

func fakeServer(t *testing.T, status int) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &rec.body); err != nil {
				t.Errorf("body is not JSON: %q", data)
			}
		}
		calls = append(calls, rec)
		w.WriteHeader(status)
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func execute(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--server", srv.URL, "--token", "tok"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandsHitRoutes(t *testing.T) {
	tests := []struct {
		args   []string
		method string
		path   string
		check  func(t *testing.T, r recorded)
	}{
		{
			args:   []string{"task", "assign", "--role", "r-1", "--title", "Launch plan", "--max-attempts", "2"},
			method: http.MethodPost,
			path:   "/api/v1/tasks",
			check: func(t *testing.T, r recorded) {
				if r.body["role_id"] != "r-1" || r.body["max_attempts"] != float64(2) {
					t.Errorf("assign body = %v", r.body)
				}
			},
		},
		{args: []string{"task", "execute", "t-1"}, method: http.MethodPost, path: "/api/v1/tasks/t-1/execute"},
		{args: []string{"task", "reset", "t-1"}, method: http.MethodPost, path: "/api/v1/tasks/t-1/reset"},
		{args: []string{"task", "get", "t-1"}, method: http.MethodGet, path: "/api/v1/tasks/t-1"},
		{
			args:   []string{"request", "deny", "wr-1", "--notes", "not now"},
			method: http.MethodPost,
			path:   "/api/v1/workflow-requests/wr-1/review",
			check: func(t *testing.T, r recorded) {
				if r.body["action"] != "deny" || r.body["notes"] != "not now" {
					t.Errorf("review body = %v", r.body)
				}
			},
		},
		{
			args:   []string{"request", "list", "--status", "approved"},
			method: http.MethodGet,
			path:   "/api/v1/workflow-requests",
			check: func(t *testing.T, r recorded) {
				if r.query != "status=approved" {
					t.Errorf("query = %q", r.query)
				}
			},
		},
		{
			args:   []string{"dlq", "resolve", "dl-1", "retry"},
			method: http.MethodPost,
			path:   "/api/v1/dead-letter/dl-1/resolve",
			check: func(t *testing.T, r recorded) {
				if r.body["resolution"] != "retry" {
					t.Errorf("resolve body = %v", r.body)
				}
			},
		},
		{args: []string{"loop", "run", "r-1"}, method: http.MethodPost, path: "/api/v1/roles/r-1/autonomous-loop"},
		{args: []string{"action", "complete", "oa-1"}, method: http.MethodPost, path: "/api/v1/output-actions/oa-1/complete"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args[:2], " "), func(t *testing.T) {
			srv, calls := fakeServer(t, http.StatusOK)
			out, err := execute(t, srv, tt.args...)
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if len(*calls) != 1 {
				t.Fatalf("calls = %d, want 1", len(*calls))
			}
			got := (*calls)[0]
			if got.method != tt.method || got.path != tt.path {
				t.Errorf("request = %s %s, want %s %s", got.method, got.path, tt.method, tt.path)
			}
			if got.auth != "Bearer tok" {
				t.Errorf("Authorization = %q", got.auth)
			}
			if !strings.Contains(out, `"ok": true`) {
				t.Errorf("output = %q", out)
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestServerErrorsFail(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusForbidden)
	_, err := execute(t, srv, "dlq", "list")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err = %v, want a 403 error", err)
	}
}
