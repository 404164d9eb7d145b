package autonomy

import (
	"fmt"
	"strings"

	"github.com/jordanhubbard/axis/internal/gateway"
	"github.com/jordanhubbard/axis/pkg/models"
)

// decisionContract is appended to the role's own system prompt.
const decisionContract = `You act autonomously on behalf of your role. Every proposal you make is reviewed by a human before it takes effect.
Respond with strict JSON only. No text outside JSON.

Choose exactly one action:
{"action": "propose_task", "reasoning": "...", "task": {"title": "...", "description": "...", "completion_criteria": "..."}}
{"action": "propose_memo", "reasoning": "...", "memo": {"to_role": "<role name>", "content": "..."}}
{"action": "complete_objective", "reasoning": "...", "objective_id": "<id from the list>"}
{"action": "wait", "reasoning": "..."}

Propose at most one thing. Prefer wait when the next step depends on someone else.`

// snapshot is the context read fresh from the store for one invocation
type snapshot struct {
	role       *models.Role
	grounding  *models.CompanyGrounding
	objectives []*models.RoleObjective
	memory     []*models.MemoryEntry
	messages   []*models.RoleMessage
	roles      []*models.Role
}

func buildMessages(s *snapshot) []gateway.ChatMessage {
	system := strings.TrimSpace(s.role.SystemPrompt)
	if system != "" {
		system += "\n\n"
	}
	system += decisionContract

	var b strings.Builder
	fmt.Fprintf(&b, "Role: %s\n", s.role.Name)
	if s.role.Mandate != "" {
		fmt.Fprintf(&b, "Mandate: %s\n", s.role.Mandate)
	}

	b.WriteString("\nActive objectives:\n")
	if len(s.objectives) == 0 {
		b.WriteString("- none\n")
	}
	for _, o := range s.objectives {
		fmt.Fprintf(&b, "- [%s] %s", o.ID, o.Title)
		if o.Description != "" {
			fmt.Fprintf(&b, ": %s", o.Description)
		}
		b.WriteString("\n")
	}

	if g := s.grounding; g != nil {
		b.WriteString("\nCompany grounding:\n")
		writeList(&b, "Products", g.Products)
		if g.TargetCustomer != "" {
			fmt.Fprintf(&b, "Target customer: %s\n", g.TargetCustomer)
		}
		writeList(&b, "Constraints", g.Constraints)
		writeList(&b, "Known facts", g.KnownFacts)
		writeList(&b, "Assumptions", g.Assumptions)
		writeList(&b, "Open questions", g.OpenQuestions)
	}

	if len(s.memory) > 0 {
		b.WriteString("\nCompany memory:\n")
		for _, m := range s.memory {
			fmt.Fprintf(&b, "- (%s) %s\n", m.Category, m.Content)
		}
	}

	if len(s.roles) > 0 {
		b.WriteString("\nColleagues:\n")
		for _, r := range s.roles {
			if r.ID == s.role.ID {
				continue
			}
			fmt.Fprintf(&b, "- %s (%s)\n", r.Name, r.AuthorityLevel)
		}
	}

	if len(s.messages) > 0 {
		b.WriteString("\nRecent activity, oldest first:\n")
		// stored newest first
		for i := len(s.messages) - 1; i >= 0; i-- {
			m := s.messages[i]
			fmt.Fprintf(&b, "- [%s] %s: %s\n", m.Kind, m.Sender, m.Content)
		}
	}

	b.WriteString("\nDecide your next action.")
	return []gateway.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

func writeList(b *strings.Builder, label string, items models.StringList) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(items, "; "))
}
