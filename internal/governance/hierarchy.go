// Package governance decides which roles govern a company and how they rank.
package governance

import (
	"sort"
	"strings"

	"github.com/jordanhubbard/axis/pkg/config"
	"github.com/jordanhubbard/axis/pkg/models"
)

// Hierarchy ranks roles by configured name matches first, then by authority level.
type Hierarchy struct {
	names          []string
	levels         []models.AuthorityLevel
	coordinator    string
	productKeyword string
}

// New builds a Hierarchy from configuration
func New(cfg config.GovernanceConfig) *Hierarchy {
	h := &Hierarchy{
		coordinator:    strings.ToLower(strings.TrimSpace(cfg.CoordinatorName)),
		productKeyword: strings.ToLower(strings.TrimSpace(cfg.ProductRoleKeyword)),
	}
	for _, n := range cfg.NameRanking {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			h.names = append(h.names, n)
		}
	}
	for _, l := range cfg.AuthorityRanking {
		h.levels = append(h.levels, models.AuthorityLevel(strings.ToLower(strings.TrimSpace(l))))
	}
	return h
}

// Default returns the hierarchy used when nothing is configured.
func Default() *Hierarchy {
	return New(config.DefaultConfig().Governance)
}

// Rank returns the role's governance rank (lower is more senior) and whether
// it is a governance role at all.
func (h *Hierarchy) Rank(role *models.Role) (int, bool) {
	name := strings.ToLower(role.Name)
	for i, n := range h.names {
		if containsWord(name, n) {
			return i, true
		}
	}
	for i, l := range h.levels {
		if role.AuthorityLevel == l {
			return len(h.names) + i, true
		}
	}
	return 0, false
}

// IsGovernance reports whether role may receive completion reviews
func (h *Hierarchy) IsGovernance(role *models.Role) bool {
	_, ok := h.Rank(role)
	return ok
}

// Best returns the most senior governance role, ties broken by earliest
// creation. Roles whose id is in exclude are skipped. Nil when none qualify.
func (h *Hierarchy) Best(roles []*models.Role, exclude ...string) *models.Role {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	type ranked struct {
		role *models.Role
		rank int
	}
	var candidates []ranked
	for _, r := range roles {
		if skip[r.ID] {
			continue
		}
		if rank, ok := h.Rank(r); ok {
			candidates = append(candidates, ranked{r, rank})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if !a.role.CreatedAt.Equal(b.role.CreatedAt) {
			return a.role.CreatedAt.Before(b.role.CreatedAt)
		}
		return a.role.ID < b.role.ID
	})
	return candidates[0].role
}

// Coordinator returns the earliest role matching the configured coordinator
// name (by default the Chief of Staff), or nil.
func (h *Hierarchy) Coordinator(roles []*models.Role) *models.Role {
	if h.coordinator == "" {
		return nil
	}
	var found *models.Role
	for _, r := range roles {
		if !containsWord(strings.ToLower(r.Name), h.coordinator) {
			continue
		}
		if found == nil || r.CreatedAt.Before(found.CreatedAt) {
			found = r
		}
	}
	return found
}

// IsProductRole reports whether role owns product direction and so triggers
// lane handoffs when its output is approved.
func (h *Hierarchy) IsProductRole(role *models.Role) bool {
	return h.productKeyword != "" && containsWord(strings.ToLower(role.Name), h.productKeyword)
}

// containsWord reports whether phrase occurs in name on word boundaries.
func containsWord(name, phrase string) bool {
	for start := 0; ; {
		i := strings.Index(name[start:], phrase)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(phrase)
		if (i == 0 || !isWordByte(name[i-1])) && (end == len(name) || !isWordByte(name[end])) {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
