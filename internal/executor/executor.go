// Package executor runs task attempts on the external execution backend,
// which answers with a Server-Sent-Events stream.
package executor

import (
	"bufio"
	"bytes"
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
	"github.com/jordanhubbard/axis/pkg/models"
)

var (
	// ErrIncompleteStream is returned when the stream ends before a done event
	ErrIncompleteStream = errors.New("execution stream ended without a done event")
)

// Executor runs one attempt of a task
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// TaskSpec is the task portion of an execution request
type TaskSpec struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	CompletionCriteria string `json:"completion_criteria"`
}

// Request is the body posted to the execution backend
type Request struct {
	CompanyID string   `json:"company_id"`
	RoleID    string   `json:"role_id"`
	Task      TaskSpec `json:"task"`
}

// NewRequest builds a request for task
func NewRequest(task *models.Task) *Request {
	return &Request{
		CompanyID: task.CompanyID,
		RoleID:    task.RoleID,
		Task: TaskSpec{
			ID:                 task.ID,
			Title:              task.Title,
			Description:        task.Description,
			CompletionCriteria: task.CompletionCriteria,
		},
	}
}

// Result is the backend's final answer for an attempt
type Result struct {
	Output     string                  `json:"output"`
	Evaluation models.EvaluationResult `json:"evaluation"`
	Success    bool                    `json:"success"`
	Reason     string                  `json:"evaluation_reason"`
}

// ErrorEvent is sent by the backend when the attempt failed
type ErrorEvent struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// RemoteError is a failure reported by (or inferred from) the backend stream.
// Partial holds any output streamed before the failure.
type RemoteError struct {
	Message string
	Partial string
	Err     error
}

func (e *RemoteError) Error() string {
	return "execution backend error: " + e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ChunkHandler receives incremental output as it streams
type ChunkHandler func(chunk string)

// HTTPExecutor posts requests to the backend and reads its SSE response
type HTTPExecutor struct {
	endpoint string
	apiKey   string
	client   *http.Client
	onChunk  ChunkHandler
}

var _ Executor = (*HTTPExecutor)(nil)

// NewHTTPExecutor creates an executor for the configured backend
func NewHTTPExecutor(cfg config.ExecutorConfig) *HTTPExecutor {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 4 * time.Minute
	}
	return &HTTPExecutor{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// OnChunk registers a handler for incremental output
func (e *HTTPExecutor) OnChunk(h ChunkHandler) {
	e.onChunk = h
}

// Execute runs one attempt and waits for the backend's done event.
func (e *HTTPExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", e.apiKey))
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	return ReadStream(ctx, resp.Body, e.onChunk)
}

// ReadStream consumes an execution SSE stream until done or error.
func ReadStream(ctx context.Context, r io.Reader, onChunk ChunkHandler) (*Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	var (
		event   string
		data    strings.Builder
		partial strings.Builder
	)

	dispatch := func() (*Result, bool, error) {
		defer func() {
			event = ""
			data.Reset()
		}()
		payload := data.String()

		switch event {
		case "output", "":
			chunk := decodeChunk(payload)
			if chunk == "" {
				return nil, false, nil
			}
			partial.WriteString(chunk)
			if onChunk != nil {
				onChunk(chunk)
			}
			return nil, false, nil

		case "done":
			var res Result
			if err := json.Unmarshal([]byte(payload), &res); err != nil {
				return nil, true, fmt.Errorf("invalid done event: %w", err)
			}
			if res.Output == "" {
				res.Output = partial.String()
			}
			res.Evaluation = normalizeVerdict(res.Evaluation, res.Success)
			return &res, true, nil

		case "error":
			var ev ErrorEvent
			msg := payload
			if err := json.Unmarshal([]byte(payload), &ev); err == nil {
				if ev.Message != "" {
					msg = ev.Message
				} else if ev.Error != "" {
					msg = ev.Error
				}
			}
			return nil, true, &RemoteError{Message: msg, Partial: partial.String()}
		}
		return nil, false, nil
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 && event == "" {
				continue
			}
			if res, final, err := dispatch(); final {
				return res, err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}

	// flush a trailing event without a blank line
	if data.Len() > 0 || event != "" {
		if res, final, err := dispatch(); final {
			return res, err
		}
	}

	return nil, &RemoteError{Message: ErrIncompleteStream.Error(), Partial: partial.String(), Err: ErrIncompleteStream}
}

// decodeChunk accepts either a JSON {"chunk"|"content"|"output": "..."} object
// or a raw text payload.
func decodeChunk(payload string) string {
	if payload == "" {
		return ""
	}
	var obj struct {
		Chunk   string `json:"chunk"`
		Content string `json:"content"`
		Output  string `json:"output"`
	}
	if strings.HasPrefix(strings.TrimSpace(payload), "{") && json.Unmarshal([]byte(payload), &obj) == nil {
		switch {
		case obj.Chunk != "":
			return obj.Chunk
		case obj.Content != "":
			return obj.Content
		default:
			return obj.Output
		}
	}
	var s string
	if json.Unmarshal([]byte(payload), &s) == nil {
		return s
	}
	return payload
}

func normalizeVerdict(v models.EvaluationResult, success bool) models.EvaluationResult {
	if v == "" {
		if success {
			return models.EvaluationPass
		}
		return models.EvaluationFail
	}
	return models.ParseEvaluationResult(strings.ToLower(strings.TrimSpace(string(v))))
}
