package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Axis.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Task metrics
	TaskAttempts    *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	TaskTransitions *prometheus.CounterVec
	DeadLetters     *prometheus.CounterVec

	// Workflow metrics
	WorkflowRequests *prometheus.CounterVec
	LoopDecisions    *prometheus.CounterVec

	// Collaborator metrics
	GatewayRequests   *prometheus.CounterVec
	GatewayLatency    prometheus.Histogram
	WebhookDispatches *prometheus.CounterVec
	JobsProcessed     *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			TaskAttempts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "axis_task_attempts_total",
					Help: "Total number of task attempts by evaluation result",
				},
				[]string{"result"},
			),
			AttemptDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "axis_task_attempt_duration_seconds",
					Help:    "Duration of task attempts in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to 512s
				},
				[]string{"result"},
			),
			TaskTransitions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "axis_task_transitions_total",
					Help: "Total number of task status transitions",
				},
				[]string{"to_status"},
			),
			DeadLetters: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "axis_dead_letters_total",
					Help: "Dead letter entries created and resolved",
				},
				[]string{"event"},
			),
			WorkflowRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "axis_workflow_requests_total",
					Help: "Workflow requests by type and outcome",
				},
				[]string{"request_type", "outcome"},
			),
			LoopDecisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "axis_loop_decisions_total",
					Help: "Autonomous loop decisions by action",
				},
				[]string{"action", "reason"},
			),
			GatewayRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "axis_gateway_requests_total",
					Help: "Inference gateway requests by result",
				},
				[]string{"purpose", "result"},
			),
			GatewayLatency: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "axis_gateway_latency_seconds",
					Help:    "Inference gateway latency in seconds",
					Buckets: prometheus.DefBuckets,
				},
			),
			WebhookDispatches: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "axis_webhook_dispatches_total",
					Help: "Outbound webhook deliveries by result",
				},
				[]string{"result"},
			),
			JobsProcessed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "axis_jobs_processed_total",
					Help: "Queue jobs processed by kind and result",
				},
				[]string{"kind", "result"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "axis_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "axis_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordAttempt records one evaluated task attempt
func (m *Metrics) RecordAttempt(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TaskAttempts.WithLabelValues(result).Inc()
	m.AttemptDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordTransition records a task moving to a new status
func (m *Metrics) RecordTransition(toStatus string) {
	if m == nil {
		return
	}
	m.TaskTransitions.WithLabelValues(toStatus).Inc()
}

// RecordDeadLetter records a dead letter event (created, retry, archive)
func (m *Metrics) RecordDeadLetter(event string) {
	if m == nil {
		return
	}
	m.DeadLetters.WithLabelValues(event).Inc()
}

// RecordWorkflowRequest records a request outcome (submitted, approved, denied, auto_approved, already_processed)
func (m *Metrics) RecordWorkflowRequest(requestType, outcome string) {
	if m == nil {
		return
	}
	m.WorkflowRequests.WithLabelValues(requestType, outcome).Inc()
}

// RecordLoopDecision records an autonomous loop outcome
func (m *Metrics) RecordLoopDecision(action, reason string) {
	if m == nil {
		return
	}
	m.LoopDecisions.WithLabelValues(action, reason).Inc()
}

// RecordGatewayRequest records an inference gateway call
func (m *Metrics) RecordGatewayRequest(purpose, result string, latency time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(purpose, result).Inc()
	m.GatewayLatency.Observe(latency.Seconds())
}

// RecordWebhookDispatch records an outbound webhook delivery
func (m *Metrics) RecordWebhookDispatch(result string) {
	if m == nil {
		return
	}
	m.WebhookDispatches.WithLabelValues(result).Inc()
}

// RecordJob records a processed queue job
func (m *Metrics) RecordJob(kind, result string) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(kind, result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
