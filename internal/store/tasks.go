package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/axis/pkg/models"
)

const taskColumns = `id, company_id, role_id, title, description, completion_criteria, status,
	current_attempt, prior_attempts, max_attempts, completion_summary, depends_on, dependency_status,
	requires_verification, created_at, updated_at`

// CreateTask inserts a task. Zero-valued id, status and timestamps are filled in.
func (s *SQLStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.DependencyStatus == "" {
		task.DependencyStatus = models.DependencyNone
	}
	ts := now()
	task.CreatedAt = ts
	task.UpdatedAt = ts

	_, err := s.exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.CompanyID, task.RoleID, task.Title, task.Description, task.CompletionCriteria,
		task.Status, task.CurrentAttempt, task.PriorAttempts, task.MaxAttempts, task.CompletionSummary, task.DependsOn,
		task.DependencyStatus, task.RequiresVerification, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s: %w", task.ID, ErrConflict)
		}
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTask loads one task by id
func (s *SQLStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.get(ctx, &task, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("task %s: %w", id, err)
	}
	return &task, nil
}

// ListTasksByIDs loads the given tasks; unknown ids are skipped.
func (s *SQLStore) ListTasksByIDs(ctx context.Context, ids []string) ([]*models.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := inClause(ids)
	var tasks []*models.Task
	if err := s.selectAll(ctx, &tasks, `SELECT `+taskColumns+` FROM tasks WHERE id IN `+in, args...); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// ListTasksByRole lists a role's tasks, oldest first.
func (s *SQLStore) ListTasksByRole(ctx context.Context, roleID string) ([]*models.Task, error) {
	var tasks []*models.Task
	err := s.selectAll(ctx, &tasks, `SELECT `+taskColumns+` FROM tasks WHERE role_id = ? ORDER BY created_at`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks of role %s: %w", roleID, err)
	}
	return tasks, nil
}

// ListDependentTasks returns tasks that list taskID in depends_on and are still waiting.
func (s *SQLStore) ListDependentTasks(ctx context.Context, taskID string) ([]*models.Task, error) {
	var tasks []*models.Task
	// depends_on is a JSON array of quoted ids
	pattern := `%"` + strings.ReplaceAll(taskID, `%`, ``) + `"%`
	err := s.selectAll(ctx, &tasks, `
		SELECT `+taskColumns+` FROM tasks
		WHERE depends_on LIKE ? AND dependency_status = ?
		ORDER BY created_at`,
		pattern, models.DependencyWaiting)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependents of %s: %w", taskID, err)
	}
	return tasks, nil
}

// ListStaleRunningTasks returns running tasks not touched since updatedBefore.
func (s *SQLStore) ListStaleRunningTasks(ctx context.Context, updatedBefore time.Time) ([]*models.Task, error) {
	var tasks []*models.Task
	err := s.selectAll(ctx, &tasks, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at`,
		models.TaskStatusRunning, updatedBefore.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale tasks: %w", err)
	}
	return tasks, nil
}

// attemptCount counts a task's recorded attempts
const attemptCount = `(SELECT COUNT(*) FROM task_attempts WHERE task_attempts.task_id = tasks.id)`

// BeginAttempt claims the next attempt slot. It succeeds only when the task's
// counter is still expectedAttempt, it is pending or running, budget is left,
// and every previously claimed attempt has been recorded (none in flight).
// The loser of a race gets false.
func (s *SQLStore) BeginAttempt(ctx context.Context, taskID string, expectedAttempt int) (bool, error) {
	ok, err := s.execAffected(ctx, `
		UPDATE tasks
		SET status = ?, current_attempt = current_attempt + 1, updated_at = ?
		WHERE id = ? AND current_attempt = ? AND current_attempt < max_attempts
			AND status IN (?, ?)
			AND `+attemptCount+` = prior_attempts + current_attempt`,
		models.TaskStatusRunning, now(), taskID, expectedAttempt,
		models.TaskStatusPending, models.TaskStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to begin attempt on %s: %w", taskID, err)
	}
	return ok, nil
}

// TransitionTask moves a task to status `to`. When from is non-empty the
// update only applies if the current status is one of them.
func (s *SQLStore) TransitionTask(ctx context.Context, taskID string, to models.TaskStatus, from ...models.TaskStatus) (bool, error) {
	query := `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`
	args := []interface{}{to, now(), taskID}
	if len(from) > 0 {
		in, inArgs := inClause(from)
		query += ` AND status IN ` + in
		args = append(args, inArgs...)
	}
	ok, err := s.execAffected(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to move task %s to %s: %w", taskID, to, err)
	}
	return ok, nil
}

// CompleteTask marks a task completed with its summary.
func (s *SQLStore) CompleteTask(ctx context.Context, taskID, summary string, requiresVerification bool, from ...models.TaskStatus) (bool, error) {
	query := `
		UPDATE tasks
		SET status = ?, completion_summary = ?, requires_verification = ?, updated_at = ?
		WHERE id = ?`
	args := []interface{}{models.TaskStatusCompleted, summary, requiresVerification, now(), taskID}
	if len(from) > 0 {
		in, inArgs := inClause(from)
		query += ` AND status IN ` + in
		args = append(args, inArgs...)
	}
	ok, err := s.execAffected(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to complete task %s: %w", taskID, err)
	}
	return ok, nil
}

// ResetTask puts a task back to pending with a fresh attempt budget. The
// attempt log is kept; numbering resumes after its last recorded attempt.
func (s *SQLStore) ResetTask(ctx context.Context, taskID string, from ...models.TaskStatus) (bool, error) {
	query := `
		UPDATE tasks
		SET status = ?, prior_attempts = ` + attemptCount + `, current_attempt = 0,
			completion_summary = NULL, updated_at = ?
		WHERE id = ?`
	args := []interface{}{models.TaskStatusPending, now(), taskID}
	if len(from) > 0 {
		in, inArgs := inClause(from)
		query += ` AND status IN ` + in
		args = append(args, inArgs...)
	}
	ok, err := s.execAffected(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to reset task %s: %w", taskID, err)
	}
	return ok, nil
}

// ResumeTask moves a task back to running without refunding its budget. An
// attempt claimed but never recorded (its worker died) is released.
func (s *SQLStore) ResumeTask(ctx context.Context, taskID string, from ...models.TaskStatus) (bool, error) {
	query := `
		UPDATE tasks
		SET status = ?, current_attempt = ` + attemptCount + ` - prior_attempts, updated_at = ?
		WHERE id = ?`
	args := []interface{}{models.TaskStatusRunning, now(), taskID}
	if len(from) > 0 {
		in, inArgs := inClause(from)
		query += ` AND status IN ` + in
		args = append(args, inArgs...)
	}
	ok, err := s.execAffected(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to resume task %s: %w", taskID, err)
	}
	return ok, nil
}

// SetDependencyStatus records whether a task's prerequisites are complete
func (s *SQLStore) SetDependencyStatus(ctx context.Context, taskID string, status models.DependencyStatus) error {
	_, err := s.exec(ctx, `UPDATE tasks SET dependency_status = ?, updated_at = ? WHERE id = ?`,
		status, now(), taskID)
	if err != nil {
		return fmt.Errorf("failed to set dependency status on %s: %w", taskID, err)
	}
	return nil
}

// InsertAttempt appends to the attempt log. A duplicate attempt number is a conflict.
func (s *SQLStore) InsertAttempt(ctx context.Context, attempt *models.TaskAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	attempt.CreatedAt = now()

	_, err := s.exec(ctx, `
		INSERT INTO task_attempts (id, task_id, attempt_number, model_output, evaluation_result, evaluation_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.TaskID, attempt.AttemptNumber, attempt.ModelOutput,
		attempt.EvaluationResult, attempt.EvaluationReason, attempt.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("attempt %d of task %s: %w", attempt.AttemptNumber, attempt.TaskID, ErrConflict)
		}
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns a task's attempts in order
func (s *SQLStore) ListAttempts(ctx context.Context, taskID string) ([]*models.TaskAttempt, error) {
	var attempts []*models.TaskAttempt
	err := s.selectAll(ctx, &attempts, `
		SELECT id, task_id, attempt_number, model_output, evaluation_result, evaluation_reason, created_at
		FROM task_attempts WHERE task_id = ? ORDER BY attempt_number`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts for %s: %w", taskID, err)
	}
	return attempts, nil
}

const deadLetterColumns = `id, task_id, role_id, company_id, failure_reason, attempts_made, last_output,
	created_at, resolved_at, resolved_by, resolution_notes, resolution`

// InsertDeadLetter records an exhausted task. ErrConflict means the task
// already has an unresolved entry.
func (s *SQLStore) InsertDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = now()

	_, err := s.exec(ctx, `
		INSERT INTO dead_letter_queue (id, task_id, role_id, company_id, failure_reason, attempts_made, last_output, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TaskID, entry.RoleID, entry.CompanyID, entry.FailureReason,
		entry.AttemptsMade, entry.LastOutput, entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("dead letter for task %s: %w", entry.TaskID, ErrConflict)
		}
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return nil
}

// GetDeadLetter loads one entry
func (s *SQLStore) GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterEntry, error) {
	var entry models.DeadLetterEntry
	if err := s.get(ctx, &entry, `SELECT `+deadLetterColumns+` FROM dead_letter_queue WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("dead letter %s: %w", id, err)
	}
	return &entry, nil
}

// ListDeadLetters lists a company's entries, newest first.
func (s *SQLStore) ListDeadLetters(ctx context.Context, companyID string, unresolvedOnly bool) ([]*models.DeadLetterEntry, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_queue WHERE company_id = ?`
	if unresolvedOnly {
		query += ` AND resolved_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	var entries []*models.DeadLetterEntry
	if err := s.selectAll(ctx, &entries, query, companyID); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return entries, nil
}

// ResolveDeadLetter records a human disposition. Returns false when the
// entry was already resolved.
func (s *SQLStore) ResolveDeadLetter(ctx context.Context, id string, resolution models.DeadLetterResolution, by, notes string) (bool, error) {
	ok, err := s.execAffected(ctx, `
		UPDATE dead_letter_queue
		SET resolved_at = ?, resolved_by = ?, resolution_notes = ?, resolution = ?
		WHERE id = ? AND resolved_at IS NULL`,
		now(), nullable(by), nullable(notes), resolution, id)
	if err != nil {
		return false, fmt.Errorf("failed to resolve dead letter %s: %w", id, err)
	}
	return ok, nil
}
