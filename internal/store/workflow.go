package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jordanhubbard/axis/pkg/models"
)

const requestColumns = `id, company_id, requesting_role_id, target_role_id, request_type, summary,
	proposed_content, status, reviewed_by, reviewed_at, review_notes, source_task_id, created_at`

// CreateRequest inserts a workflow request. Status defaults to pending.
func (s *SQLStore) CreateRequest(ctx context.Context, req *models.WorkflowRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = models.RequestPending
	}
	req.CreatedAt = now()

	_, err := s.exec(ctx, `
		INSERT INTO workflow_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.CompanyID, req.RequestingRoleID, req.TargetRoleID, req.RequestType, req.Summary,
		req.ProposedContent, req.Status, req.ReviewedBy, req.ReviewedAt, req.ReviewNotes,
		req.SourceTaskID, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create workflow request: %w", err)
	}
	return nil
}

// GetRequest loads one workflow request
func (s *SQLStore) GetRequest(ctx context.Context, id string) (*models.WorkflowRequest, error) {
	var req models.WorkflowRequest
	if err := s.get(ctx, &req, `SELECT `+requestColumns+` FROM workflow_requests WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("workflow request %s: %w", id, err)
	}
	return &req, nil
}

// ListRequests lists a company's requests, newest first. An empty status lists all.
func (s *SQLStore) ListRequests(ctx context.Context, companyID string, status models.RequestStatus) ([]*models.WorkflowRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM workflow_requests WHERE company_id = ?`
	args := []interface{}{companyID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	var reqs []*models.WorkflowRequest
	if err := s.selectAll(ctx, &reqs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list workflow requests: %w", err)
	}
	return reqs, nil
}

// CountPendingRequests counts pending requests raised by a role
func (s *SQLStore) CountPendingRequests(ctx context.Context, roleID string) (int, error) {
	var n int
	err := s.get(ctx, &n, `
		SELECT COUNT(*) FROM workflow_requests WHERE requesting_role_id = ? AND status = ?`,
		roleID, models.RequestPending)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending requests: %w", err)
	}
	return n, nil
}

// ClaimRequest moves a pending request to its final status. It returns false
// when the request is no longer pending, so exactly one reviewer wins.
func (s *SQLStore) ClaimRequest(ctx context.Context, id string, status models.RequestStatus, reviewedBy, notes string) (bool, error) {
	ok, err := s.execAffected(ctx, `
		UPDATE workflow_requests
		SET status = ?, reviewed_by = ?, reviewed_at = ?, review_notes = ?
		WHERE id = ? AND status = ?`,
		status, nullable(reviewedBy), now(), nullable(notes), id, models.RequestPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim workflow request %s: %w", id, err)
	}
	return ok, nil
}
