package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/jordanhubbard/axis/internal/evaluator"
	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/pkg/models"
)

// Recorder appends evaluated attempts to a task's log.
// The log is append-only: rows are never updated or deleted.
type Recorder struct {
	store store.TaskStore
}

// NewRecorder creates a recorder over st
func NewRecorder(st store.TaskStore) *Recorder {
	return &Recorder{store: st}
}

// Record writes attempt number for taskID. A duplicate number means another
// worker already recorded it and yields ErrAttemptConflict.
func (r *Recorder) Record(ctx context.Context, taskID string, number int, output string, v evaluator.Verdict) (*models.TaskAttempt, error) {
	if number < 1 {
		return nil, fmt.Errorf("attempt number must be >= 1, got %d", number)
	}
	attempt := &models.TaskAttempt{
		TaskID:           taskID,
		AttemptNumber:    number,
		ModelOutput:      output,
		EvaluationResult: v.Result,
		EvaluationReason: v.Reason,
	}
	if err := r.store.InsertAttempt(ctx, attempt); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrAttemptConflict, err)
		}
		return nil, err
	}
	return attempt, nil
}

// History returns the attempts of a task, oldest first
func (r *Recorder) History(ctx context.Context, taskID string) ([]*models.TaskAttempt, error) {
	return r.store.ListAttempts(ctx, taskID)
}
