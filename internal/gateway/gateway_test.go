package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jordanhubbard/axis/pkg/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.GatewayConfig{Endpoint: srv.URL + "/v1/", APIKey: "k", Model: "m", MaxTokens: 100})
}

func TestCreateChatCompletion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != "m" || req.MaxTokens != 100 {
			t.Errorf("expected defaults applied, got %+v", req)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	})

	resp, err := c.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content, _ := resp.Content()
	if content != "hello" {
		t.Errorf("expected hello, got %q", content)
	}
}

func TestCreateChatCompletion_ResponseFormatOmitsMaxTokens(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]interface{}
		json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["max_tokens"]; ok {
			t.Error("max_tokens should be omitted with response_format")
		}
		if rf, ok := raw["response_format"].(map[string]interface{}); !ok || rf["type"] != "json_object" {
			t.Errorf("expected json_object response format, got %v", raw["response_format"])
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	})

	var out struct{ OK bool }
	if err := CompleteJSON(context.Background(), c, []ChatMessage{{Role: "user", Content: "x"}}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.OK {
		t.Error("expected ok=true")
	}
}

func TestCreateChatCompletion_StatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		sentinel  error
		retryable bool
	}{
		{http.StatusTooManyRequests, ErrRateLimited, true},
		{http.StatusPaymentRequired, ErrQuotaExhausted, false},
		{http.StatusBadGateway, nil, true},
		{http.StatusBadRequest, nil, false},
	}
	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		})
		_, err := c.CreateChatCompletion(context.Background(), &ChatCompletionRequest{})
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != tt.status {
			t.Errorf("status %d: expected StatusError, got %v", tt.status, err)
		}
		if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
			t.Errorf("status %d: expected %v", tt.status, tt.sentinel)
		}
		if errors.Is(err, ErrRateLimited) && tt.status != http.StatusTooManyRequests {
			t.Errorf("status %d: must not be rate limited", tt.status)
		}
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("status %d: IsRetryable = %v, want %v", tt.status, got, tt.retryable)
		}
	}
}

func TestCreateChatCompletion_NoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})
	_, err := c.CreateChatCompletion(context.Background(), &ChatCompletionRequest{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", `{"action":"wait"}`, "wait", false},
		{"fenced", "```json\n{\"action\":\"propose_task\"}\n```", "propose_task", false},
		{"bare fence", "```\n{\"action\":\"wait\"}\n```", "wait", false},
		{"prose around", "Here you go:\n{\"action\":\"propose_memo\"}\nThanks", "propose_memo", false},
		{"garbage", "no json here", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				Action string `json:"action"`
			}
			err := DecodeJSON(tt.in, &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if out.Action != tt.want {
				t.Errorf("got %q, want %q", out.Action, tt.want)
			}
		})
	}
}
