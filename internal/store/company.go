package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jordanhubbard/axis/pkg/models"
)

// GetGrounding loads the company's grounding facts. ErrNotFound means the
// company never started grounding.
func (s *SQLStore) GetGrounding(ctx context.Context, companyID string) (*models.CompanyGrounding, error) {
	var g models.CompanyGrounding
	err := s.get(ctx, &g, `
		SELECT company_id, is_confirmed, products, target_customer, business_constraints,
			known_facts, assumptions, open_questions, updated_at
		FROM company_grounding WHERE company_id = ?`, companyID)
	if err != nil {
		return nil, fmt.Errorf("grounding for %s: %w", companyID, err)
	}
	return &g, nil
}

// UpsertGrounding writes the company's grounding facts
func (s *SQLStore) UpsertGrounding(ctx context.Context, g *models.CompanyGrounding) error {
	g.UpdatedAt = now()
	_, err := s.exec(ctx, `
		INSERT INTO company_grounding (company_id, is_confirmed, products, target_customer,
			business_constraints, known_facts, assumptions, open_questions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (company_id) DO UPDATE SET
			is_confirmed = excluded.is_confirmed,
			products = excluded.products,
			target_customer = excluded.target_customer,
			business_constraints = excluded.business_constraints,
			known_facts = excluded.known_facts,
			assumptions = excluded.assumptions,
			open_questions = excluded.open_questions,
			updated_at = excluded.updated_at`,
		g.CompanyID, g.IsConfirmed, g.Products, g.TargetCustomer, g.Constraints,
		g.KnownFacts, g.Assumptions, g.OpenQuestions, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert grounding: %w", err)
	}
	return nil
}

// AddMemory appends a company memory entry
func (s *SQLStore) AddMemory(ctx context.Context, entry *models.MemoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = now()
	_, err := s.exec(ctx, `
		INSERT INTO company_memory (id, company_id, category, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.CompanyID, entry.Category, entry.Content, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add memory: %w", err)
	}
	return nil
}

// ListRecentMemory returns up to limit memory entries, newest first.
func (s *SQLStore) ListRecentMemory(ctx context.Context, companyID string, limit int) ([]*models.MemoryEntry, error) {
	var entries []*models.MemoryEntry
	err := s.selectAll(ctx, &entries, `
		SELECT id, company_id, category, content, created_at
		FROM company_memory WHERE company_id = ?
		ORDER BY created_at DESC LIMIT ?`,
		companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory: %w", err)
	}
	return entries, nil
}

// CreateWebhook registers an outbound webhook. SecretHash must already be hashed.
func (s *SQLStore) CreateWebhook(ctx context.Context, hook *models.Webhook) error {
	if hook.ID == "" {
		hook.ID = uuid.New().String()
	}
	hook.CreatedAt = now()
	_, err := s.exec(ctx, `
		INSERT INTO webhooks (id, company_id, name, url, secret_hash, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		hook.ID, hook.CompanyID, hook.Name, hook.URL, hook.SecretHash, hook.IsActive, hook.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

// ListActiveWebhooks lists a company's active webhooks
func (s *SQLStore) ListActiveWebhooks(ctx context.Context, companyID string) ([]*models.Webhook, error) {
	var hooks []*models.Webhook
	err := s.selectAll(ctx, &hooks, `
		SELECT id, company_id, name, url, secret_hash, is_active, created_at
		FROM webhooks WHERE company_id = ? AND is_active = ?
		ORDER BY created_at`,
		companyID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	return hooks, nil
}

// CreateNotification inserts an owner notification
func (s *SQLStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = now()
	_, err := s.exec(ctx, `
		INSERT INTO notifications (id, company_id, audience, title, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.CompanyID, n.Audience, n.Title, n.Body, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListNotifications lists a company's notifications, newest first.
func (s *SQLStore) ListNotifications(ctx context.Context, companyID string) ([]*models.Notification, error) {
	var ns []*models.Notification
	err := s.selectAll(ctx, &ns, `
		SELECT id, company_id, audience, title, body, created_at
		FROM notifications WHERE company_id = ? ORDER BY created_at DESC`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return ns, nil
}
