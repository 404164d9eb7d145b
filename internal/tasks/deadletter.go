package tasks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/pkg/models"
)

// DeadLetters lists a company's dead letter entries, newest first
func (e *Engine) DeadLetters(ctx context.Context, companyID string, unresolvedOnly bool) ([]*models.DeadLetterEntry, error) {
	return e.store.ListDeadLetters(ctx, companyID, unresolvedOnly)
}

// GetDeadLetter loads one entry
func (e *Engine) GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterEntry, error) {
	entry, err := e.store.GetDeadLetter(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDeadLetterNotFound, id)
		}
		return nil, err
	}
	return entry, nil
}

// ResolveDeadLetter applies a human disposition. Retry resets the task to
// pending with attempt 0 (it does not start an attempt); archive retires it.
// The entry and the task change in one transaction.
func (e *Engine) ResolveDeadLetter(ctx context.Context, id string, resolution models.DeadLetterResolution, by, notes string) (*models.DeadLetterEntry, *models.Task, error) {
	if resolution != models.ResolutionRetry && resolution != models.ResolutionArchive {
		return nil, nil, fmt.Errorf("%w: unknown resolution %q", ErrInvalidTransition, resolution)
	}

	entry, err := e.GetDeadLetter(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if entry.Resolved() {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}

	taskMoved := false
	err = e.store.InTx(ctx, func(tx store.Store) error {
		ok, err := tx.ResolveDeadLetter(ctx, id, resolution, by, notes)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
		}

		frozen := []models.TaskStatus{models.TaskStatusSystemAlert, models.TaskStatusBlocked}
		if resolution == models.ResolutionRetry {
			taskMoved, err = tx.ResetTask(ctx, entry.TaskID, frozen...)
		} else {
			taskMoved, err = tx.TransitionTask(ctx, entry.TaskID, models.TaskStatusArchived, frozen...)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	e.metrics.RecordDeadLetter(string(resolution))
	if taskMoved {
		to := models.TaskStatusArchived
		if resolution == models.ResolutionRetry {
			to = models.TaskStatusPending
		}
		e.metrics.RecordTransition(string(to))
	} else {
		// a human already moved the task; the entry is closed regardless
		e.logger.Info("Dead letter resolved without moving task",
			zap.String("dead_letter_id", id),
			zap.String("task_id", entry.TaskID))
	}
	e.logger.Info("Dead letter resolved",
		zap.String("dead_letter_id", id),
		zap.String("task_id", entry.TaskID),
		zap.String("resolution", string(resolution)),
		zap.String("resolved_by", by))

	if entry, err = e.GetDeadLetter(ctx, id); err != nil {
		return nil, nil, err
	}
	task, err := e.Get(ctx, entry.TaskID)
	if err != nil {
		return nil, nil, err
	}
	return entry, task, nil
}

// closeDeadLetters resolves any open entries for task after a direct human
// reset or archive, so a task never carries a stale unresolved entry.
func (e *Engine) closeDeadLetters(ctx context.Context, task *models.Task, resolution models.DeadLetterResolution, by, notes string) {
	entries, err := e.store.ListDeadLetters(ctx, task.CompanyID, true)
	if err != nil {
		e.logger.Warn("Failed to list dead letters", zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.TaskID != task.ID {
			continue
		}
		if _, err := e.store.ResolveDeadLetter(ctx, entry.ID, resolution, by, notes); err != nil {
			e.logger.Warn("Failed to resolve dead letter",
				zap.String("dead_letter_id", entry.ID), zap.Error(err))
			continue
		}
		e.metrics.RecordDeadLetter(string(resolution))
	}
}
