package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jordanhubbard/axis/pkg/config"
	"github.com/jordanhubbard/axis/pkg/models"
)

func TestReadStream_Done(t *testing.T) {
	stream := "event: output\ndata: {\"chunk\":\"# Plan\\n\"}\n\n" +
		": keepalive\n\n" +
		"event: output\ndata: {\"chunk\":\"- item\"}\n\n" +
		"event: done\ndata: {\"output\":\"# Plan\\n- item\",\"evaluation\":\"PASS\",\"success\":true,\"evaluation_reason\":\"looks good\"}\n\n"

	var chunks []string
	res, err := ReadStream(context.Background(), strings.NewReader(stream), func(c string) { chunks = append(chunks, c) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "# Plan\n- item" {
		t.Errorf("unexpected output %q", res.Output)
	}
	if res.Evaluation != models.EvaluationPass {
		t.Errorf("expected pass, got %q", res.Evaluation)
	}
	if res.Reason != "looks good" {
		t.Errorf("unexpected reason %q", res.Reason)
	}
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %v", chunks)
	}
}

func TestReadStream_DoneWithoutOutputUsesChunks(t *testing.T) {
	stream := "event: output\ndata: \"part one \"\n\n" +
		"event: output\ndata: part two\n\n" +
		"event: done\ndata: {\"success\":false}\n\n"

	res, err := ReadStream(context.Background(), strings.NewReader(stream), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Output != "part one part two" {
		t.Errorf("unexpected output %q", res.Output)
	}
	if res.Evaluation != models.EvaluationFail {
		t.Errorf("expected fail when success=false without verdict, got %q", res.Evaluation)
	}
}

func TestReadStream_UnknownVerdictIsUnclear(t *testing.T) {
	stream := "event: done\ndata: {\"output\":\"x\",\"evaluation\":\"maybe\",\"success\":true}"
	res, err := ReadStream(context.Background(), strings.NewReader(stream), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Evaluation != models.EvaluationUnclear {
		t.Errorf("expected unclear, got %q", res.Evaluation)
	}
}

func TestReadStream_ErrorEvent(t *testing.T) {
	stream := "event: output\ndata: {\"chunk\":\"partial\"}\n\n" +
		"event: error\ndata: {\"message\":\"model overloaded\"}\n\n"

	_, err := ReadStream(context.Background(), strings.NewReader(stream), nil)
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if re.Message != "model overloaded" {
		t.Errorf("unexpected message %q", re.Message)
	}
	if re.Partial != "partial" {
		t.Errorf("unexpected partial %q", re.Partial)
	}
}

func TestReadStream_Incomplete(t *testing.T) {
	stream := "event: output\ndata: {\"chunk\":\"abc\"}\n\n"
	_, err := ReadStream(context.Background(), strings.NewReader(stream), nil)
	if !errors.Is(err, ErrIncompleteStream) {
		t.Fatalf("expected ErrIncompleteStream, got %v", err)
	}
}

func TestReadStream_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadStream(ctx, strings.NewReader("event: output\ndata: x\n\n"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHTTPExecutor_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Task.ID != "t-1" || req.CompanyID != "c-1" || req.RoleID != "r-1" {
			t.Errorf("unexpected request %+v", req)
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("expected SSE accept header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: output\ndata: {\"chunk\":\"hi\"}\n\n")
		fmt.Fprint(w, "event: done\ndata: {\"output\":\"hi\",\"evaluation\":\"unclear\",\"success\":true}\n\n")
	}))
	defer srv.Close()

	e := NewHTTPExecutor(config.ExecutorConfig{Endpoint: srv.URL})
	task := &models.Task{ID: "t-1", CompanyID: "c-1", RoleID: "r-1", Title: "x"}
	res, err := e.Execute(context.Background(), NewRequest(task))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Evaluation != models.EvaluationUnclear || res.Output != "hi" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHTTPExecutor_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewHTTPExecutor(config.ExecutorConfig{Endpoint: srv.URL})
	_, err := e.Execute(context.Background(), &Request{})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected 503 error, got %v", err)
	}
}
