package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Shared(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	if a != b {
		t.Fatal("expected NewMetrics to return the shared instance")
	}
}

func TestRecordAttempt(t *testing.T) {
	m := NewMetrics()
	before := testutil.ToFloat64(m.TaskAttempts.WithLabelValues("fail"))
	m.RecordAttempt("fail", 2*time.Second)
	after := testutil.ToFloat64(m.TaskAttempts.WithLabelValues("fail"))
	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestRecordWorkflowRequest(t *testing.T) {
	m := NewMetrics()
	before := testutil.ToFloat64(m.WorkflowRequests.WithLabelValues("send_memo", "already_processed"))
	m.RecordWorkflowRequest("send_memo", "already_processed")
	m.RecordWorkflowRequest("send_memo", "already_processed")
	after := testutil.ToFloat64(m.WorkflowRequests.WithLabelValues("send_memo", "already_processed"))
	if after-before != 2 {
		t.Errorf("expected counter to increase by 2, got %v", after-before)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordAttempt("pass", time.Second)
	m.RecordTransition("completed")
	m.RecordDeadLetter("created")
	m.RecordWorkflowRequest("send_memo", "approved")
	m.RecordLoopDecision("wait", "")
	m.RecordGatewayRequest("loop", "ok", time.Second)
	m.RecordWebhookDispatch("ok")
	m.RecordJob("execute_task", "ok")
	m.RecordHTTPRequest("GET", "/health", "200", 0.1)
}
