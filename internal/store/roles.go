package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jordanhubbard/axis/pkg/models"
)

const roleColumns = `id, company_id, name, mandate, system_prompt, authority_level, is_activated,
	awaiting_approval, created_at`

// CreateRole inserts a role
func (s *SQLStore) CreateRole(ctx context.Context, role *models.Role) error {
	if role.ID == "" {
		role.ID = uuid.New().String()
	}
	if role.AuthorityLevel == "" {
		role.AuthorityLevel = models.AuthorityContributor
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now()
	}

	_, err := s.exec(ctx, `
		INSERT INTO roles (`+roleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		role.ID, role.CompanyID, role.Name, role.Mandate, role.SystemPrompt, role.AuthorityLevel,
		role.IsActivated, role.AwaitingApproval, role.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetRole loads one role
func (s *SQLStore) GetRole(ctx context.Context, id string) (*models.Role, error) {
	var role models.Role
	if err := s.get(ctx, &role, `SELECT `+roleColumns+` FROM roles WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("role %s: %w", id, err)
	}
	return &role, nil
}

// ListRoles lists a company's roles, oldest first.
func (s *SQLStore) ListRoles(ctx context.Context, companyID string) ([]*models.Role, error) {
	var roles []*models.Role
	err := s.selectAll(ctx, &roles, `
		SELECT `+roleColumns+` FROM roles WHERE company_id = ? ORDER BY created_at, id`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// ListActivatedRoles lists activated roles across all companies
func (s *SQLStore) ListActivatedRoles(ctx context.Context) ([]*models.Role, error) {
	var roles []*models.Role
	err := s.selectAll(ctx, &roles, `
		SELECT `+roleColumns+` FROM roles WHERE is_activated = ? ORDER BY created_at, id`, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list activated roles: %w", err)
	}
	return roles, nil
}

// SetRoleActivated flips the role's activated flag
func (s *SQLStore) SetRoleActivated(ctx context.Context, id string, activated bool) error {
	if _, err := s.exec(ctx, `UPDATE roles SET is_activated = ? WHERE id = ?`, activated, id); err != nil {
		return fmt.Errorf("failed to update role %s: %w", id, err)
	}
	return nil
}

// SetAwaitingApproval flips the role's awaiting_approval flag
func (s *SQLStore) SetAwaitingApproval(ctx context.Context, id string, awaiting bool) error {
	if _, err := s.exec(ctx, `UPDATE roles SET awaiting_approval = ? WHERE id = ?`, awaiting, id); err != nil {
		return fmt.Errorf("failed to update role %s: %w", id, err)
	}
	return nil
}

const objectiveColumns = `id, role_id, company_id, title, description, status, priority, created_at, completed_at`

// CreateObjective inserts an active objective
func (s *SQLStore) CreateObjective(ctx context.Context, obj *models.RoleObjective) error {
	if obj.ID == "" {
		obj.ID = uuid.New().String()
	}
	if obj.Status == "" {
		obj.Status = models.ObjectiveActive
	}
	obj.CreatedAt = now()

	_, err := s.exec(ctx, `
		INSERT INTO role_objectives (`+objectiveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obj.ID, obj.RoleID, obj.CompanyID, obj.Title, obj.Description, obj.Status, obj.Priority,
		obj.CreatedAt, obj.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create objective: %w", err)
	}
	return nil
}

// GetObjective loads one objective
func (s *SQLStore) GetObjective(ctx context.Context, id string) (*models.RoleObjective, error) {
	var obj models.RoleObjective
	if err := s.get(ctx, &obj, `SELECT `+objectiveColumns+` FROM role_objectives WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("objective %s: %w", id, err)
	}
	return &obj, nil
}

// ListActiveObjectives lists a role's active objectives by priority
func (s *SQLStore) ListActiveObjectives(ctx context.Context, roleID string) ([]*models.RoleObjective, error) {
	var objs []*models.RoleObjective
	err := s.selectAll(ctx, &objs, `
		SELECT `+objectiveColumns+` FROM role_objectives
		WHERE role_id = ? AND status = ?
		ORDER BY priority DESC, created_at`,
		roleID, models.ObjectiveActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list objectives: %w", err)
	}
	return objs, nil
}

// CompleteObjective completes an objective only if it belongs to roleID and is active.
func (s *SQLStore) CompleteObjective(ctx context.Context, id, roleID string) (bool, error) {
	ok, err := s.execAffected(ctx, `
		UPDATE role_objectives SET status = ?, completed_at = ?
		WHERE id = ? AND role_id = ? AND status = ?`,
		models.ObjectiveCompleted, now(), id, roleID, models.ObjectiveActive)
	if err != nil {
		return false, fmt.Errorf("failed to complete objective %s: %w", id, err)
	}
	return ok, nil
}

// CreateMemo inserts a memo
func (s *SQLStore) CreateMemo(ctx context.Context, memo *models.Memo) error {
	if memo.ID == "" {
		memo.ID = uuid.New().String()
	}
	memo.CreatedAt = now()

	_, err := s.exec(ctx, `
		INSERT INTO role_memos (id, company_id, from_role_id, to_role_id, content, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		memo.ID, memo.CompanyID, memo.FromRoleID, memo.ToRoleID, memo.Content, memo.RequestID, memo.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create memo: %w", err)
	}
	return nil
}

// ListMemos lists memos addressed to a role, oldest first.
func (s *SQLStore) ListMemos(ctx context.Context, toRoleID string) ([]*models.Memo, error) {
	var memos []*models.Memo
	err := s.selectAll(ctx, &memos, `
		SELECT id, company_id, from_role_id, to_role_id, content, request_id, created_at
		FROM role_memos WHERE to_role_id = ? ORDER BY created_at`, toRoleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memos: %w", err)
	}
	return memos, nil
}

// AppendMessage adds an entry to a role's activity stream
func (s *SQLStore) AppendMessage(ctx context.Context, msg *models.RoleMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.CreatedAt = now()

	_, err := s.exec(ctx, `
		INSERT INTO role_messages (id, company_id, role_id, kind, sender, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.CompanyID, msg.RoleID, msg.Kind, msg.Sender, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// ListRecentMessages returns up to limit messages for a role, newest first.
func (s *SQLStore) ListRecentMessages(ctx context.Context, roleID string, limit int) ([]*models.RoleMessage, error) {
	var msgs []*models.RoleMessage
	err := s.selectAll(ctx, &msgs, `
		SELECT id, company_id, role_id, kind, sender, content, created_at
		FROM role_messages WHERE role_id = ?
		ORDER BY created_at DESC LIMIT ?`,
		roleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}
