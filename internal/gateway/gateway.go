// Package gateway talks to the OpenAI-compatible inference gateway used for
// autonomous decisions and memo refinement.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/axis/pkg/config"
)

var (
	// ErrRateLimited is returned when the gateway answers 429
	ErrRateLimited = errors.New("inference gateway rate limited")

	// ErrQuotaExhausted is returned when the gateway answers 402
	ErrQuotaExhausted = errors.New("inference gateway quota exhausted")

	// ErrEmptyResponse is returned when the gateway returns no choices
	ErrEmptyResponse = errors.New("inference gateway returned no choices")
)

// StatusError carries a non-200 gateway response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps 429 and 402 onto their sentinels so callers can use errors.Is.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusPaymentRequired:
		return ErrQuotaExhausted
	}
	return nil
}

// Completer produces chat completions. It is the seam the autonomy loop and
// the workflow gate depend on.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// ChatMessage represents a message in the chat
type ChatMessage struct {
	Role    string `json:"role"`    // system, user, assistant
	Content string `json:"content"` // message content
}

// ResponseFormat asks the gateway for a constrained output shape
type ResponseFormat struct {
	Type string `json:"type"` // "json_object"
}

// ChatCompletionRequest represents a chat completion request
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatCompletionResponse represents a chat completion response
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int         `json:"index"`
		Message ChatMessage `json:"message"`
		Finish  string      `json:"finish_reason"`
	} `json:"choices"`
}

// Content returns the first choice's message content.
func (r *ChatCompletionResponse) Content() (string, error) {
	if len(r.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return r.Choices[0].Message.Content, nil
}

// Client implements Completer over HTTP
type Client struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

var _ Completer = (*Client)(nil)

// NewClient creates a gateway client
func NewClient(cfg config.GatewayConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// CreateChatCompletion sends a chat completion request. Model, temperature and
// max_tokens fall back to the configured defaults when unset.
func (c *Client) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.Temperature == 0 {
		req.Temperature = c.temperature
	}
	if req.MaxTokens == 0 && req.ResponseFormat == nil {
		req.MaxTokens = c.maxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	var completion ChatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	return &completion, nil
}

// CompleteJSON asks for a json_object response and decodes it into out,
// tolerating markdown code fences around the payload.
func CompleteJSON(ctx context.Context, c Completer, messages []ChatMessage, out interface{}) error {
	resp, err := c.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Messages:       messages,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return err
	}
	content, err := resp.Content()
	if err != nil {
		return err
	}
	return DecodeJSON(content, out)
}

// DecodeJSON extracts the first JSON object from s, stripping markdown fences
// and surrounding prose.
func DecodeJSON(s string, out interface{}) error {
	payload := StripFences(s)
	if start := strings.Index(payload, "{"); start >= 0 {
		if end := strings.LastIndex(payload, "}"); end > start {
			payload = payload[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("invalid JSON response: %w", err)
	}
	return nil
}

// StripFences removes a surrounding ```json ... ``` block if present.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// IsRetryable reports whether err is a transient gateway failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "context deadline exceeded", "dial tcp", "no such host", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
