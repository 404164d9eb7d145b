// Package tasks owns the task lifecycle: assignment, bounded execution
// attempts, evaluation, retry scheduling and dead-lettering.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/classify"
	"github.com/jordanhubbard/axis/internal/evaluator"
	"github.com/jordanhubbard/axis/internal/executor"
	"github.com/jordanhubbard/axis/internal/metrics"
	"github.com/jordanhubbard/axis/internal/queue"
	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/internal/telemetry"
	"github.com/jordanhubbard/axis/pkg/config"
	"github.com/jordanhubbard/axis/pkg/models"
)

const (
	minMaxAttempts = 1
	maxMaxAttempts = 10

	maxSummaryChars = 4000
	systemSender    = "system"
)

// CompletionHandler runs the governance side effects of a completed task
type CompletionHandler interface {
	TaskCompleted(ctx context.Context, task *models.Task) error
}

// Outcome describes what an attempt did to its task
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeBlocked     Outcome = "blocked"
	OutcomeRetrying    Outcome = "retrying"
	OutcomeSystemAlert Outcome = "system_alert"
	// OutcomeDiscarded means the task left running (stopped) while the attempt was in flight
	OutcomeDiscarded Outcome = "discarded"
)

// ExecutionResult is returned by Execute
type ExecutionResult struct {
	Task       *models.Task            `json:"task"`
	Attempt    *models.TaskAttempt     `json:"attempt"`
	Outcome    Outcome                 `json:"outcome"`
	DeadLetter *models.DeadLetterEntry `json:"dead_letter,omitempty"`
}

// AssignInput describes a new task
type AssignInput struct {
	CompanyID          string   `json:"company_id"`
	RoleID             string   `json:"role_id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	CompletionCriteria string   `json:"completion_criteria"`
	MaxAttempts        int      `json:"max_attempts"`
	DependsOn          []string `json:"depends_on,omitempty"`
}

// Engine is the task state machine. All state lives in the store; the
// engine itself holds only collaborators.
type Engine struct {
	store      store.Store
	executor   executor.Executor
	queue      queue.Enqueuer
	recorder   *Recorder
	classifier classify.Classifier
	completion CompletionHandler
	metrics    *metrics.Metrics
	logger     *zap.Logger
	cfg        config.TasksConfig
}

// NewEngine creates a task engine
func NewEngine(st store.Store, exec executor.Executor, q queue.Enqueuer, cfg config.TasksConfig, logger *zap.Logger) *Engine {
	if cfg.DefaultMaxAttempts == 0 {
		cfg.DefaultMaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:      st,
		executor:   exec,
		queue:      q,
		recorder:   NewRecorder(st),
		classifier: classify.NewKeywordClassifier(),
		logger:     logger.Named("tasks"),
		cfg:        cfg,
	}
}

// SetCompletionHandler installs the handler run after a task completes
func (e *Engine) SetCompletionHandler(h CompletionHandler) {
	e.completion = h
}

// SetClassifier replaces the keyword classifier
func (e *Engine) SetClassifier(c classify.Classifier) {
	e.classifier = c
}

// SetMetrics enables Prometheus recording
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// Recorder exposes the attempt log
func (e *Engine) Recorder() *Recorder {
	return e.recorder
}

// Assign creates a pending task for a role
func (e *Engine) Assign(ctx context.Context, in AssignInput) (*models.Task, error) {
	return e.AssignIn(ctx, e.store, in)
}

// AssignIn is Assign against st, so callers can create the task inside their
// own transaction.
func (e *Engine) AssignIn(ctx context.Context, st store.Store, in AssignInput) (*models.Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if in.RoleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidTask)
	}
	if in.MaxAttempts == 0 {
		in.MaxAttempts = e.cfg.DefaultMaxAttempts
	}
	if in.MaxAttempts < minMaxAttempts || in.MaxAttempts > maxMaxAttempts {
		return nil, fmt.Errorf("%w: max_attempts must be between %d and %d", ErrInvalidTask, minMaxAttempts, maxMaxAttempts)
	}

	role, err := st.GetRole(ctx, in.RoleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: role %s does not exist", ErrInvalidTask, in.RoleID)
		}
		return nil, err
	}
	if in.CompanyID == "" {
		in.CompanyID = role.CompanyID
	}
	if role.CompanyID != in.CompanyID {
		return nil, fmt.Errorf("%w: role %s belongs to another company", ErrInvalidTask, in.RoleID)
	}

	task := &models.Task{
		CompanyID:          in.CompanyID,
		RoleID:             in.RoleID,
		Title:              in.Title,
		Description:        strings.TrimSpace(in.Description),
		CompletionCriteria: strings.TrimSpace(in.CompletionCriteria),
		Status:             models.TaskStatusPending,
		MaxAttempts:        in.MaxAttempts,
		DependsOn:          models.StringList(in.DependsOn),
		DependencyStatus:   models.DependencyNone,
	}

	if len(in.DependsOn) > 0 {
		ready, err := e.dependenciesComplete(ctx, st, task)
		if err != nil {
			return nil, err
		}
		task.DependencyStatus = models.DependencyWaiting
		if ready {
			task.DependencyStatus = models.DependencyReady
		}
	}

	if err := st.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	e.metrics.RecordTransition(string(models.TaskStatusPending))
	e.logger.Info("Task assigned",
		zap.String("task_id", task.ID),
		zap.String("role_id", task.RoleID),
		zap.Int("max_attempts", task.MaxAttempts))
	return task, nil
}

// Get loads a task
func (e *Engine) Get(ctx context.Context, id string) (*models.Task, error) {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, err
	}
	return task, nil
}

// Execute runs the next attempt of a task from its current attempt counter
func (e *Engine) Execute(ctx context.Context, taskID string) (*ExecutionResult, error) {
	task, err := e.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, task)
}

// HandleExecuteJob is the queue handler for execute_task jobs. A job whose
// expected attempt no longer matches the task is stale and is dropped.
func (e *Engine) HandleExecuteJob(ctx context.Context, job *queue.Job) error {
	task, err := e.Get(ctx, job.TaskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return queue.Permanent(err)
		}
		return err
	}
	if task.CurrentAttempt != job.ExpectedAttempt || !task.Status.Executable() {
		e.logger.Debug("Skipping stale execute job",
			zap.String("task_id", task.ID),
			zap.Int("expected_attempt", job.ExpectedAttempt),
			zap.Int("current_attempt", task.CurrentAttempt),
			zap.String("status", string(task.Status)))
		return nil
	}

	if _, err := e.execute(ctx, task); err != nil {
		if IsBenign(err) {
			e.logger.Info("Execute job ended without an attempt", zap.String("task_id", task.ID), zap.Error(err))
			return nil
		}
		if errors.Is(err, ErrInternal) {
			// the task was forced to blocked; redelivery cannot help
			return queue.Permanent(err)
		}
		return err
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, task *models.Task) (result *ExecutionResult, err error) {
	if !task.Status.Executable() {
		return nil, fmt.Errorf("%w: task %s is %s", ErrTerminalState, task.ID, task.Status)
	}

	if task.DependencyStatus == models.DependencyWaiting {
		ready, err := e.dependenciesComplete(ctx, e.store, task)
		if err != nil {
			return nil, err
		}
		if !ready {
			return nil, fmt.Errorf("%w: task %s", ErrDependenciesPending, task.ID)
		}
		if err := e.store.SetDependencyStatus(ctx, task.ID, models.DependencyReady); err != nil {
			return nil, err
		}
		task.DependencyStatus = models.DependencyReady
	}

	if task.CurrentAttempt >= task.MaxAttempts {
		if ok, err := e.store.TransitionTask(ctx, task.ID, models.TaskStatusBlocked,
			models.TaskStatusPending, models.TaskStatusRunning); err != nil {
			return nil, err
		} else if ok {
			e.metrics.RecordTransition(string(models.TaskStatusBlocked))
			e.postMessage(ctx, task, models.MessageAlert,
				fmt.Sprintf("Task %q is blocked: all %d attempts were used.", task.Title, task.MaxAttempts))
		}
		return nil, fmt.Errorf("%w: task %s used %d of %d", ErrMaxAttemptsReached, task.ID, task.CurrentAttempt, task.MaxAttempts)
	}

	// number is the attempt's position in the log, which continues across resets
	number := task.NextAttemptNumber()
	claimed, err := e.store.BeginAttempt(ctx, task.ID, task.CurrentAttempt)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: task %s attempt %d", ErrAttemptConflict, task.ID, number)
	}

	task.CurrentAttempt++
	task.Status = models.TaskStatusRunning

	// From here the task is running; a failure must not leave it stuck there.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrInternal, r)
		}
		if err != nil && !IsBenign(err) {
			e.forceBlocked(context.WithoutCancel(ctx), task, err)
			if !errors.Is(err, ErrInternal) {
				err = fmt.Errorf("%w: %v", ErrInternal, err)
			}
		}
	}()

	ctx, span := telemetry.StartSpan(ctx, "tasks.execute",
		attribute.String("task_id", task.ID),
		attribute.Int("attempt", number))
	defer func() { telemetry.EndSpan(span, err) }()

	e.logger.Info("Executing attempt",
		zap.String("task_id", task.ID),
		zap.Int("attempt", number),
		zap.Int("max_attempts", task.MaxAttempts))

	started := time.Now()
	output, runtimeVerdict, runtimeReason := e.invoke(ctx, task)

	// the caller may have gone away; the attempt still has to be recorded
	ctx = context.WithoutCancel(ctx)

	verdict := evaluator.Evaluate(task, output, runtimeVerdict, runtimeReason)
	e.metrics.RecordAttempt(string(verdict.Result), time.Since(started))

	attempt, err := e.recorder.Record(ctx, task.ID, number, output, verdict)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Attempt evaluated",
		zap.String("task_id", task.ID),
		zap.Int("attempt", number),
		zap.String("result", string(verdict.Result)),
		zap.String("reason", verdict.Reason),
		zap.Float64("coverage", verdict.Coverage))

	result = &ExecutionResult{Attempt: attempt}
	switch verdict.Result {
	case models.EvaluationPass:
		result.Outcome, err = e.complete(ctx, task, output)
	case models.EvaluationUnclear:
		result.Outcome, err = e.block(ctx, task, verdict.Reason)
	default:
		result.Outcome, result.DeadLetter, err = e.fail(ctx, task, output, verdict.Reason)
	}
	if err != nil {
		return nil, err
	}

	if result.Task, err = e.store.GetTask(ctx, task.ID); err != nil {
		return nil, err
	}
	return result, nil
}

// invoke calls the execution backend. Backend failures become a failing
// runtime verdict with synthetic output so they consume an attempt.
func (e *Engine) invoke(ctx context.Context, task *models.Task) (string, models.EvaluationResult, string) {
	res, err := e.executor.Execute(ctx, executor.NewRequest(task))
	if err != nil {
		e.logger.Warn("Execution backend failed", zap.String("task_id", task.ID), zap.Error(err))
		var partial string
		var re *executor.RemoteError
		if errors.As(err, &re) {
			partial = strings.TrimSpace(re.Partial)
		}
		output := "Execution failed: " + err.Error()
		if partial != "" {
			output = partial + "\n\n" + output
		}
		return output, models.EvaluationFail, err.Error()
	}
	return res.Output, res.Evaluation, res.Reason
}

func (e *Engine) complete(ctx context.Context, task *models.Task, output string) (Outcome, error) {
	requiresVerification := e.classifier.RequiresVerification(task.Title, task.Description)
	ok, err := e.store.CompleteTask(ctx, task.ID, summarize(output), requiresVerification, models.TaskStatusRunning)
	if err != nil {
		return "", err
	}
	if !ok {
		e.logger.Info("Task left running during attempt, discarding pass", zap.String("task_id", task.ID))
		return OutcomeDiscarded, nil
	}
	e.metrics.RecordTransition(string(models.TaskStatusCompleted))
	e.afterCompletion(ctx, task.ID)
	return OutcomeCompleted, nil
}

// afterCompletion runs governance side effects and releases dependents.
// Failures are logged; the completion itself already happened.
func (e *Engine) afterCompletion(ctx context.Context, taskID string) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		e.logger.Error("Failed to reload completed task", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if e.completion != nil {
		if err := e.completion.TaskCompleted(ctx, task); err != nil {
			e.logger.Error("Completion side effects failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
	if err := e.releaseDependents(ctx, task); err != nil {
		e.logger.Error("Failed to release dependent tasks", zap.String("task_id", task.ID), zap.Error(err))
	}
}

func (e *Engine) block(ctx context.Context, task *models.Task, reason string) (Outcome, error) {
	ok, err := e.store.TransitionTask(ctx, task.ID, models.TaskStatusBlocked, models.TaskStatusRunning)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeDiscarded, nil
	}
	e.metrics.RecordTransition(string(models.TaskStatusBlocked))
	e.postMessage(ctx, task, models.MessageAlert,
		fmt.Sprintf("Task %q needs review: %s", task.Title, reason))
	return OutcomeBlocked, nil
}

// fail retries while budget is left and dead-letters the task once it is spent.
// task.CurrentAttempt is the number of attempts claimed since the last reset.
func (e *Engine) fail(ctx context.Context, task *models.Task, output, reason string) (Outcome, *models.DeadLetterEntry, error) {
	used := task.CurrentAttempt
	if used < task.MaxAttempts {
		current, err := e.store.GetTask(ctx, task.ID)
		if err != nil {
			return "", nil, err
		}
		if current.Status != models.TaskStatusRunning {
			return OutcomeDiscarded, nil, nil
		}
		if err := e.queue.Enqueue(ctx, queue.ExecuteTask(task.ID, used), e.cfg.RetryDelay); err != nil {
			return "", nil, fmt.Errorf("failed to schedule retry: %w", err)
		}
		e.logger.Info("Retry scheduled",
			zap.String("task_id", task.ID),
			zap.Int("next_attempt", task.NextAttemptNumber()),
			zap.Duration("delay", e.cfg.RetryDelay))
		return OutcomeRetrying, nil, nil
	}

	entry := &models.DeadLetterEntry{
		TaskID:        task.ID,
		RoleID:        task.RoleID,
		CompanyID:     task.CompanyID,
		FailureReason: reason,
		AttemptsMade:  used,
		LastOutput:    output,
	}
	moved := false
	err := e.store.InTx(ctx, func(tx store.Store) error {
		ok, err := tx.TransitionTask(ctx, task.ID, models.TaskStatusSystemAlert, models.TaskStatusRunning)
		if err != nil || !ok {
			return err
		}
		moved = true
		return tx.InsertDeadLetter(ctx, entry)
	})
	if err != nil {
		return "", nil, err
	}
	if !moved {
		return OutcomeDiscarded, nil, nil
	}

	e.metrics.RecordTransition(string(models.TaskStatusSystemAlert))
	e.metrics.RecordDeadLetter("created")
	e.logger.Warn("Task dead-lettered",
		zap.String("task_id", task.ID),
		zap.String("dead_letter_id", entry.ID),
		zap.Int("attempts", used))
	e.postMessage(ctx, task, models.MessageAlert,
		fmt.Sprintf("Task %q failed all %d attempts and was moved to the dead letter queue: %s", task.Title, used, reason))
	return OutcomeSystemAlert, entry, nil
}

// forceBlocked is best-effort cleanup after an unexpected failure
func (e *Engine) forceBlocked(ctx context.Context, task *models.Task, cause error) {
	e.logger.Error("Unexpected failure during attempt, blocking task", zap.String("task_id", task.ID), zap.Error(cause))
	ok, err := e.store.TransitionTask(ctx, task.ID, models.TaskStatusBlocked, models.TaskStatusRunning)
	if err != nil {
		e.logger.Error("Failed to block task", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	if ok {
		e.metrics.RecordTransition(string(models.TaskStatusBlocked))
		e.postMessage(ctx, task, models.MessageAlert,
			fmt.Sprintf("Task %q was blocked after an internal error.", task.Title))
	}
}

// Stop halts a pending or running task permanently. An in-flight attempt
// finishes but its result no longer changes the task.
func (e *Engine) Stop(ctx context.Context, taskID string) (*models.Task, error) {
	return e.humanTransition(ctx, taskID, func(ctx context.Context) (bool, error) {
		return e.store.TransitionTask(ctx, taskID, models.TaskStatusStopped,
			models.TaskStatusPending, models.TaskStatusRunning)
	}, models.TaskStatusStopped)
}

// Reset returns a blocked or alerted task to pending with a fresh budget.
// Any open dead letter entry for the task is resolved as a retry.
func (e *Engine) Reset(ctx context.Context, taskID, by string) (*models.Task, error) {
	task, err := e.humanTransition(ctx, taskID, func(ctx context.Context) (bool, error) {
		return e.store.ResetTask(ctx, taskID, models.TaskStatusBlocked, models.TaskStatusSystemAlert)
	}, models.TaskStatusPending)
	if err != nil {
		return nil, err
	}
	e.closeDeadLetters(ctx, task, models.ResolutionRetry, by, "task reset")
	return task, nil
}

// Archive retires a task that is not currently running
func (e *Engine) Archive(ctx context.Context, taskID, by string) (*models.Task, error) {
	task, err := e.humanTransition(ctx, taskID, func(ctx context.Context) (bool, error) {
		return e.store.TransitionTask(ctx, taskID, models.TaskStatusArchived,
			models.TaskStatusPending, models.TaskStatusBlocked, models.TaskStatusSystemAlert,
			models.TaskStatusCompleted, models.TaskStatusStopped)
	}, models.TaskStatusArchived)
	if err != nil {
		return nil, err
	}
	e.closeDeadLetters(ctx, task, models.ResolutionArchive, by, "task archived")
	return task, nil
}

func (e *Engine) humanTransition(ctx context.Context, taskID string, apply func(context.Context) (bool, error), to models.TaskStatus) (*models.Task, error) {
	task, err := e.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ok, err := apply(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := e.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cannot move task %s from %s to %s", ErrInvalidTransition, taskID, current.Status, to)
	}
	e.metrics.RecordTransition(string(to))
	e.logger.Info("Task transitioned",
		zap.String("task_id", taskID),
		zap.String("from", string(task.Status)),
		zap.String("to", string(to)))
	return e.Get(ctx, taskID)
}

// CompleteExternal completes a task whose work was done outside the system
// and runs the usual completion side effects.
func (e *Engine) CompleteExternal(ctx context.Context, taskID, summary string) (*models.Task, error) {
	task, err := e.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	requiresVerification := e.classifier.RequiresVerification(task.Title, task.Description)
	ok, err := e.store.CompleteTask(ctx, taskID, summarize(summary), requiresVerification,
		models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusBlocked)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: task %s is %s", ErrTerminalState, taskID, task.Status)
	}
	e.metrics.RecordTransition(string(models.TaskStatusCompleted))
	e.afterCompletion(ctx, taskID)
	return e.Get(ctx, taskID)
}

// BlockExternal blocks a task whose external execution reported failure
func (e *Engine) BlockExternal(ctx context.Context, taskID, reason string) (*models.Task, error) {
	task, err := e.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	ok, err := e.store.TransitionTask(ctx, taskID, models.TaskStatusBlocked,
		models.TaskStatusPending, models.TaskStatusRunning)
	if err != nil {
		return nil, err
	}
	if ok {
		e.metrics.RecordTransition(string(models.TaskStatusBlocked))
		e.postMessage(ctx, task, models.MessageAlert,
			fmt.Sprintf("External execution of %q failed: %s", task.Title, reason))
	}
	return e.Get(ctx, taskID)
}

// Schedule enqueues the next attempt of a task without waiting for it
func (e *Engine) Schedule(ctx context.Context, task *models.Task) error {
	return e.queue.Enqueue(ctx, queue.ExecuteTask(task.ID, task.CurrentAttempt), 0)
}

// Resume moves a task back to running and schedules its next attempt.
// Blocked tasks with budget left resume where they stopped; an attempt whose
// worker died before recording it is released, not refunded twice.
func (e *Engine) Resume(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := e.ResumeIn(ctx, e.store, taskID)
	if err != nil {
		return nil, err
	}
	if err := e.Schedule(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// ResumeIn moves a task back to running against st without scheduling it.
// The caller schedules the returned task once st's writes are durable.
func (e *Engine) ResumeIn(ctx context.Context, st store.Store, taskID string) (*models.Task, error) {
	task, err := st.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, err
	}
	ok, err := st.ResumeTask(ctx, taskID,
		models.TaskStatusPending, models.TaskStatusRunning, models.TaskStatusBlocked)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: task %s is %s", ErrTerminalState, taskID, task.Status)
	}
	if task, err = st.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	if task.CurrentAttempt >= task.MaxAttempts {
		// nothing left to run; put it back where a human will see it
		if _, err := st.TransitionTask(ctx, taskID, models.TaskStatusBlocked, models.TaskStatusRunning); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: task %s", ErrMaxAttemptsReached, taskID)
	}
	e.metrics.RecordTransition(string(models.TaskStatusRunning))
	return task, nil
}

// BlockStale blocks running tasks that have not advanced since before cutoff.
// It returns the number of tasks blocked.
func (e *Engine) BlockStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := e.store.ListStaleRunningTasks(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	blocked := 0
	for _, task := range stale {
		ok, err := e.store.TransitionTask(ctx, task.ID, models.TaskStatusBlocked, models.TaskStatusRunning)
		if err != nil {
			return blocked, err
		}
		if !ok {
			continue
		}
		blocked++
		e.metrics.RecordTransition(string(models.TaskStatusBlocked))
		e.logger.Warn("Blocked stale running task",
			zap.String("task_id", task.ID),
			zap.Time("updated_at", task.UpdatedAt))
		e.postMessage(ctx, task, models.MessageAlert,
			fmt.Sprintf("Task %q stopped making progress and was blocked. Reset it to try again.", task.Title))
	}
	return blocked, nil
}

// postMessage writes an entry to the task role's activity stream
func (e *Engine) postMessage(ctx context.Context, task *models.Task, kind models.MessageKind, content string) {
	err := e.store.AppendMessage(ctx, &models.RoleMessage{
		CompanyID: task.CompanyID,
		RoleID:    task.RoleID,
		Kind:      kind,
		Sender:    systemSender,
		Content:   content,
	})
	if err != nil {
		e.logger.Warn("Failed to post role message", zap.String("task_id", task.ID), zap.Error(err))
	}
}

func summarize(output string) string {
	output = strings.TrimSpace(output)
	if len(output) <= maxSummaryChars {
		return output
	}
	cut := maxSummaryChars
	for cut > 0 && !utf8.RuneStart(output[cut]) {
		cut--
	}
	return output[:cut] + "..."
}
