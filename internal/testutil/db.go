package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/pkg/models"
)

// NewStore opens a migrated SQLite store in a temp dir, closed on cleanup.
func NewStore(t *testing.T) *store.SQLStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "axis.db")
	s, err := store.Open("sqlite3", "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	require.NoError(t, err)
	require.NoError(t, s.MigrateUp())

	t.Cleanup(func() { s.Close() })
	return s
}

// Company seeds a confirmed grounding row and returns the company id.
func Company(t *testing.T, s store.Store, companyID string) string {
	t.Helper()
	err := s.UpsertGrounding(context.Background(), &models.CompanyGrounding{
		CompanyID:      companyID,
		IsConfirmed:    true,
		Products:       models.StringList{"Axis"},
		TargetCustomer: "operations teams",
	})
	require.NoError(t, err)
	return companyID
}

// Role inserts a role. createdOffset orders roles created in the same test.
func Role(t *testing.T, s store.Store, companyID, name string, level models.AuthorityLevel, createdOffset time.Duration) *models.Role {
	t.Helper()
	role := &models.Role{
		CompanyID:      companyID,
		Name:           name,
		Mandate:        name + " mandate",
		SystemPrompt:   "You are the " + name + ".",
		AuthorityLevel: level,
		CreatedAt:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(createdOffset),
	}
	require.NoError(t, s.CreateRole(context.Background(), role))
	return role
}

// Task inserts a pending task for role.
func Task(t *testing.T, s store.Store, role *models.Role, title string, maxAttempts int) *models.Task {
	t.Helper()
	task := &models.Task{
		CompanyID:          role.CompanyID,
		RoleID:             role.ID,
		Title:              title,
		Description:        "Write a launch plan covering pricing, channels and timeline for the onboarding product.",
		CompletionCriteria: "Plan lists pricing tiers, marketing channels and a dated timeline.",
		MaxAttempts:        maxAttempts,
	}
	require.NoError(t, s.CreateTask(context.Background(), task))
	return task
}
