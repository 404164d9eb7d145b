package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jordanhubbard/axis/pkg/models"
)

const actionColumns = `id, task_id, company_id, action_type, action_data, status, notes,
	completed_at, completed_by, created_at`

// CreateOutputAction inserts a pending output action
func (s *SQLStore) CreateOutputAction(ctx context.Context, action *models.OutputAction) error {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	if action.Status == "" {
		action.Status = models.OutputActionPending
	}
	if action.ActionData == "" {
		action.ActionData = "{}"
	}
	action.CreatedAt = now()

	_, err := s.exec(ctx, `
		INSERT INTO output_actions (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		action.ID, action.TaskID, action.CompanyID, action.ActionType, action.ActionData, action.Status,
		action.Notes, action.CompletedAt, action.CompletedBy, action.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create output action: %w", err)
	}
	return nil
}

// GetOutputAction loads one output action
func (s *SQLStore) GetOutputAction(ctx context.Context, id string) (*models.OutputAction, error) {
	var action models.OutputAction
	if err := s.get(ctx, &action, `SELECT `+actionColumns+` FROM output_actions WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("output action %s: %w", id, err)
	}
	return &action, nil
}

// ListOutputActions lists the actions raised for a task
func (s *SQLStore) ListOutputActions(ctx context.Context, taskID string) ([]*models.OutputAction, error) {
	var actions []*models.OutputAction
	err := s.selectAll(ctx, &actions, `
		SELECT `+actionColumns+` FROM output_actions WHERE task_id = ? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list output actions: %w", err)
	}
	return actions, nil
}

// ResolveOutputAction completes or fails a pending action. Returns false when
// it was already resolved.
func (s *SQLStore) ResolveOutputAction(ctx context.Context, id string, status models.OutputActionStatus, by, notes string) (bool, error) {
	ok, err := s.execAffected(ctx, `
		UPDATE output_actions
		SET status = ?, notes = ?, completed_at = ?, completed_by = ?
		WHERE id = ? AND status = ?`,
		status, nullable(notes), now(), nullable(by), id, models.OutputActionPending)
	if err != nil {
		return false, fmt.Errorf("failed to resolve output action %s: %w", id, err)
	}
	return ok, nil
}
