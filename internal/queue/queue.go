// Package queue carries deferred work (retry continuations, loop ticks and
// webhook dispatch) with at-least-once delivery. Handlers must be idempotent.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/pkg/config"
)

// Kind identifies what a job does
type Kind string

const (
	KindExecuteTask     Kind = "execute_task"
	KindRunLoop         Kind = "run_loop"
	KindDispatchWebhook Kind = "dispatch_webhook"
)

// Job is one unit of deferred work
type Job struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	TaskID          string    `json:"task_id,omitempty"`
	ExpectedAttempt int       `json:"expected_attempt,omitempty"`
	RoleID          string    `json:"role_id,omitempty"`
	ActionID        string    `json:"action_id,omitempty"`
	NotBefore       time.Time `json:"not_before,omitempty"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
}

// ExecuteTask builds a job that runs the next attempt of a task.
// expectedAttempt is the attempt counter the task must still be at.
func ExecuteTask(taskID string, expectedAttempt int) *Job {
	return &Job{Kind: KindExecuteTask, TaskID: taskID, ExpectedAttempt: expectedAttempt}
}

// RunLoop builds a job that runs the autonomous loop for a role
func RunLoop(roleID string) *Job {
	return &Job{Kind: KindRunLoop, RoleID: roleID}
}

// DispatchWebhook builds a job that notifies webhooks of an output action
func DispatchWebhook(actionID string) *Job {
	return &Job{Kind: KindDispatchWebhook, ActionID: actionID}
}

// Validate checks that the job carries the ids its kind needs
func (j *Job) Validate() error {
	switch j.Kind {
	case KindExecuteTask:
		if j.TaskID == "" {
			return errors.New("execute_task job requires task_id")
		}
	case KindRunLoop:
		if j.RoleID == "" {
			return errors.New("run_loop job requires role_id")
		}
	case KindDispatchWebhook:
		if j.ActionID == "" {
			return errors.New("dispatch_webhook job requires action_id")
		}
	default:
		return fmt.Errorf("unknown job kind %q", j.Kind)
	}
	return nil
}

// stamp fills in the id and timing fields before publishing
func (j *Job) stamp(delay time.Duration) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	j.EnqueuedAt = time.Now().UTC()
	if delay > 0 {
		j.NotBefore = j.EnqueuedAt.Add(delay)
	}
}

// Handler processes a job. Returning an error redelivers it later,
// unless the error is wrapped with Permanent.
type Handler func(ctx context.Context, job *Job) error

// Enqueuer publishes jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, job *Job, delay time.Duration) error
}

// Queue is a work queue with a pool of consumers
type Queue interface {
	Enqueuer
	// Start launches the consumers. They stop when ctx is cancelled.
	Start(ctx context.Context, handler Handler) error
	Close() error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// redeliveryDelay is the backoff before a failed job is tried again
func redeliveryDelay(delivered int) time.Duration {
	d := time.Second << uint(min(delivered, 6))
	return min(d, time.Minute)
}

// New builds the queue selected by cfg.Backend
func New(cfg config.QueueConfig, logger *zap.Logger) (Queue, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryQueue(cfg, logger), nil
	case "nats":
		return NewNATSQueue(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}
