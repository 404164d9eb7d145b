package governance

import (
	"testing"
	"time"

	"github.com/jordanhubbard/axis/pkg/config"
	"github.com/jordanhubbard/axis/pkg/models"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func role(id, name string, level models.AuthorityLevel, minutes int) *models.Role {
	return &models.Role{ID: id, Name: name, AuthorityLevel: level, CreatedAt: epoch.Add(time.Duration(minutes) * time.Minute)}
}

func TestIsGovernance(t *testing.T) {
	h := Default()
	tests := []struct {
		role *models.Role
		want bool
	}{
		{role("1", "CEO", models.AuthorityContributor, 0), true},
		{role("2", "Chief of Staff", models.AuthorityManager, 0), true},
		{role("3", "Growth Lead", models.AuthorityExecutive, 0), true},
		{role("4", "Ops", models.AuthorityOrchestrator, 0), true},
		{role("5", "Writer", models.AuthorityContributor, 0), false},
		{role("6", "Proceeds Analyst", models.AuthorityContributor, 0), false},
	}
	for _, tt := range tests {
		if got := h.IsGovernance(tt.role); got != tt.want {
			t.Errorf("IsGovernance(%q) = %v, want %v", tt.role.Name, got, tt.want)
		}
	}
}

func TestBest_Ranking(t *testing.T) {
	h := Default()
	roles := []*models.Role{
		role("orch", "Ops Orchestrator", models.AuthorityOrchestrator, 0),
		role("exec", "VP Sales", models.AuthorityExecutive, 1),
		role("cos", "Chief of Staff", models.AuthorityManager, 2),
		role("cexo", "Chief Executive Officer", models.AuthorityManager, 3),
		role("ceo", "CEO", models.AuthorityContributor, 4),
		role("writer", "Writer", models.AuthorityContributor, 5),
	}

	order := []string{"ceo", "cexo", "cos", "exec", "orch"}
	remaining := roles
	var excluded []string
	for _, want := range order {
		got := h.Best(remaining, excluded...)
		if got == nil || got.ID != want {
			t.Fatalf("expected %s next, got %+v", want, got)
		}
		excluded = append(excluded, want)
	}
	if got := h.Best(roles, excluded...); got != nil {
		t.Errorf("expected no governance role left, got %s", got.ID)
	}
}

func TestBest_TieBrokenByCreation(t *testing.T) {
	h := Default()
	roles := []*models.Role{
		role("late", "Exec B", models.AuthorityExecutive, 10),
		role("early", "Exec A", models.AuthorityExecutive, 1),
	}
	if got := h.Best(roles); got.ID != "early" {
		t.Errorf("expected earliest executive, got %s", got.ID)
	}
}

func TestConfigurableHierarchy(t *testing.T) {
	h := New(config.GovernanceConfig{
		NameRanking:      []string{"Managing Director"},
		AuthorityRanking: []string{"manager"},
		CoordinatorName:  "Operations Lead",
	})
	roles := []*models.Role{
		role("ceo", "CEO", models.AuthorityExecutive, 0),
		role("md", "Managing Director", models.AuthorityContributor, 1),
		role("mgr", "Team Manager", models.AuthorityManager, 2),
		role("ops", "Operations Lead", models.AuthorityContributor, 3),
	}
	if got := h.Best(roles); got.ID != "md" {
		t.Errorf("expected configured name to rank first, got %s", got.ID)
	}
	if h.IsGovernance(roles[0]) {
		t.Error("CEO should not govern under a custom hierarchy")
	}
	if got := h.Coordinator(roles); got == nil || got.ID != "ops" {
		t.Errorf("expected ops coordinator, got %+v", got)
	}
}

func TestIsProductRole(t *testing.T) {
	h := Default()
	if !h.IsProductRole(role("p", "Head of Product", models.AuthorityManager, 0)) {
		t.Error("expected Head of Product to be a product role")
	}
	if h.IsProductRole(role("p", "Productivity Coach", models.AuthorityManager, 0)) {
		t.Error("partial word must not match")
	}
}

func TestCoordinator_Missing(t *testing.T) {
	h := Default()
	if got := h.Coordinator([]*models.Role{role("1", "CEO", models.AuthorityExecutive, 0)}); got != nil {
		t.Errorf("expected nil, got %s", got.ID)
	}
}
