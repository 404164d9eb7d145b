package tasks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/pkg/models"
)

// dependenciesComplete reports whether every task in depends_on exists in
// the same company and is completed.
func (e *Engine) dependenciesComplete(ctx context.Context, st store.TaskStore, task *models.Task) (bool, error) {
	if len(task.DependsOn) == 0 {
		return true, nil
	}
	deps, err := st.ListTasksByIDs(ctx, task.DependsOn)
	if err != nil {
		return false, err
	}

	found := make(map[string]*models.Task, len(deps))
	for _, d := range deps {
		found[d.ID] = d
	}
	for _, id := range task.DependsOn {
		d, ok := found[id]
		if !ok || d.CompanyID != task.CompanyID {
			return false, fmt.Errorf("%w: unknown dependency %s", ErrInvalidTask, id)
		}
		if d.Status != models.TaskStatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// releaseDependents marks waiting tasks ready once all their prerequisites
// completed, and schedules their first attempt.
func (e *Engine) releaseDependents(ctx context.Context, completed *models.Task) error {
	dependents, err := e.store.ListDependentTasks(ctx, completed.ID)
	if err != nil {
		return err
	}
	for _, dep := range dependents {
		ready, err := e.dependenciesComplete(ctx, e.store, dep)
		if err != nil {
			e.logger.Warn("Cannot evaluate dependencies", zap.String("task_id", dep.ID), zap.Error(err))
			continue
		}
		if !ready {
			continue
		}
		if err := e.store.SetDependencyStatus(ctx, dep.ID, models.DependencyReady); err != nil {
			return err
		}
		e.logger.Info("Dependencies complete",
			zap.String("task_id", dep.ID),
			zap.String("released_by", completed.ID))
		if dep.Status.Executable() {
			if err := e.Schedule(ctx, dep); err != nil {
				return err
			}
		}
	}
	return nil
}
