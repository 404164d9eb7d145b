// Package fakes provides in-memory collaborators for package tests.
package fakes

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jordanhubbard/axis/internal/executor"
	"github.com/jordanhubbard/axis/internal/gateway"
	"github.com/jordanhubbard/axis/internal/queue"
	"github.com/jordanhubbard/axis/pkg/models"
)

// PlanOutput passes the evaluator for tasks created by testutil.Task
const PlanOutput = `# Launch plan for the onboarding product

## Pricing
- Starter tier at $19 per seat covering core onboarding
- Growth tier at $49 per seat with analytics

## Marketing channels
- Partner newsletters and a webinar series
- Paid search limited to high intent keywords

## Timeline
1. Week 1: finalize pricing tiers and landing page
2. Week 3: launch channels and measure signups
3. Week 6: review the plan against activation targets
`

// Step is one scripted executor response
type Step struct {
	Result *executor.Result
	Err    error
	Panic  string
	// Before runs inside Execute before the response is returned
	Before func()
}

// Pass is a step whose backend verdict is pass
func Pass(output string) Step {
	return Step{Result: &executor.Result{Output: output, Evaluation: models.EvaluationPass, Success: true}}
}

// Fail is a step whose backend verdict is fail
func Fail(output, reason string) Step {
	return Step{Result: &executor.Result{Output: output, Evaluation: models.EvaluationFail, Reason: reason}}
}

// Unclear is a step whose backend verdict is unclear
func Unclear(output string) Step {
	return Step{Result: &executor.Result{Output: output, Evaluation: models.EvaluationUnclear, Success: true}}
}

// Executor replays scripted steps; the last step repeats once the script runs out.
type Executor struct {
	mu       sync.Mutex
	steps    []Step
	Requests []*executor.Request
}

var _ executor.Executor = (*Executor)(nil)

// NewExecutor creates a scripted executor
func NewExecutor(steps ...Step) *Executor {
	return &Executor{steps: steps}
}

// Calls returns how many times Execute ran
func (e *Executor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Requests)
}

// Execute returns the next scripted step
func (e *Executor) Execute(ctx context.Context, req *executor.Request) (*executor.Result, error) {
	e.mu.Lock()
	e.Requests = append(e.Requests, req)
	if len(e.steps) == 0 {
		e.mu.Unlock()
		return nil, errors.New("no scripted response")
	}
	step := e.steps[0]
	if len(e.steps) > 1 {
		e.steps = e.steps[1:]
	}
	e.mu.Unlock()

	if step.Before != nil {
		step.Before()
	}
	if step.Panic != "" {
		panic(step.Panic)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	res := *step.Result
	return &res, nil
}

// Enqueued is one recorded job
type Enqueued struct {
	Job   *queue.Job
	Delay time.Duration
}

// Queue records jobs instead of running them
type Queue struct {
	mu   sync.Mutex
	jobs []Enqueued
	Err  error
}

var _ queue.Enqueuer = (*Queue)(nil)

// Enqueue records job
func (q *Queue) Enqueue(ctx context.Context, job *queue.Job, delay time.Duration) error {
	if q.Err != nil {
		return q.Err
	}
	if err := job.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, Enqueued{Job: job, Delay: delay})
	return nil
}

// Jobs returns the recorded jobs
func (q *Queue) Jobs() []Enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Enqueued(nil), q.jobs...)
}

// Drain returns and clears the recorded jobs
func (q *Queue) Drain() []Enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := q.jobs
	q.jobs = nil
	return jobs
}

// OfKind returns recorded jobs of one kind
func (q *Queue) OfKind(kind queue.Kind) []*queue.Job {
	var out []*queue.Job
	for _, e := range q.Jobs() {
		if e.Job.Kind == kind {
			out = append(out, e.Job)
		}
	}
	return out
}

// Completer answers chat completions with scripted contents
type Completer struct {
	mu       sync.Mutex
	replies  []string
	Err      error
	Requests []*gateway.ChatCompletionRequest
}

var _ gateway.Completer = (*Completer)(nil)

// NewCompleter creates a completer; the last reply repeats
func NewCompleter(replies ...string) *Completer {
	return &Completer{replies: replies}
}

// CreateChatCompletion returns the next scripted reply
func (c *Completer) CreateChatCompletion(ctx context.Context, req *gateway.ChatCompletionRequest) (*gateway.ChatCompletionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Requests = append(c.Requests, req)
	if c.Err != nil {
		return nil, c.Err
	}
	if len(c.replies) == 0 {
		return nil, gateway.ErrEmptyResponse
	}
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}

	body, err := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": reply}},
		},
	})
	if err != nil {
		return nil, err
	}
	var resp gateway.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Calls returns how many completions were requested
func (c *Completer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}
