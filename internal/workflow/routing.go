package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/classify"
	"github.com/jordanhubbard/axis/internal/queue"
	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/pkg/models"
)

// route sends a freshly created task to where it will run. External work
// becomes a mark_external action dispatched to the company's webhooks, work
// needing a person becomes a delegate_to_human action, and everything else is
// scheduled on the execution backend. Actions are written through run's store;
// enqueues wait for the review to commit.
func (g *Gate) route(ctx context.Context, run *effectRun, task *models.Task, role *models.Role) error {
	r := g.classifier.Route(task.Title + "\n" + task.Description)
	if r == classify.RouteExternal && !g.cfg.ExternalRouting {
		r = classify.RouteInternal
	}

	logger := g.logger.With(
		zap.String("task_id", task.ID),
		zap.String("route", string(r)))

	switch r {
	case classify.RouteExternal:
		action, err := g.createAction(ctx, run.st, task, role, models.ActionMarkExternal, r)
		if err != nil {
			return err
		}
		run.fx.OutputActionIDs = append(run.fx.OutputActionIDs, action.ID)
		run.onCommit(func(ctx context.Context) error {
			if err := g.queue.Enqueue(ctx, queue.DispatchWebhook(action.ID), 0); err != nil {
				return fmt.Errorf("failed to enqueue webhook dispatch: %w", err)
			}
			logger.Info("Task routed to external execution", zap.String("action_id", action.ID))
			return nil
		})

	case classify.RouteHuman:
		action, err := g.createAction(ctx, run.st, task, role, models.ActionDelegateToHuman, r)
		if err != nil {
			return err
		}
		run.fx.OutputActionIDs = append(run.fx.OutputActionIDs, action.ID)
		logger.Info("Task delegated to a human", zap.String("action_id", action.ID))

	default:
		run.onCommit(func(ctx context.Context) error {
			if err := g.tasks.Schedule(ctx, task); err != nil {
				return fmt.Errorf("failed to schedule task %s: %w", task.ID, err)
			}
			logger.Info("Task scheduled for execution")
			return nil
		})
	}
	return nil
}

func (g *Gate) createAction(ctx context.Context, st store.Store, task *models.Task, role *models.Role, kind models.OutputActionType, r classify.Route) (*models.OutputAction, error) {
	data, err := json.Marshal(models.OutputActionData{
		Summary:        task.Title,
		RoleName:       role.Name,
		ExecutionRoute: string(r),
	})
	if err != nil {
		return nil, err
	}
	action := &models.OutputAction{
		TaskID:     task.ID,
		CompanyID:  task.CompanyID,
		ActionType: kind,
		ActionData: string(data),
		Status:     models.OutputActionPending,
	}
	if err := st.CreateOutputAction(ctx, action); err != nil {
		return nil, err
	}
	return action, nil
}
