package workflow

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/gateway"
	"github.com/jordanhubbard/axis/pkg/models"
)

const (
	maxTitleChars       = 80
	maxObjectiveChars   = 1000
	defaultCriteriaNote = "A written deliverable that addresses every point of the memo."
)

// DerivedWork is the objective and first task a memo creates for its recipient
type DerivedWork struct {
	ObjectiveTitle       string `json:"objective_title"`
	ObjectiveDescription string `json:"objective_description"`
	Task                 TaskSpec
}

// refinement is the JSON contract of the AI summarisation call
type refinement struct {
	ObjectiveTitle       string `json:"objective_title"`
	ObjectiveDescription string `json:"objective_description"`
	TaskTitle            string `json:"task_title"`
	TaskDescription      string `json:"task_description"`
	CompletionCriteria   string `json:"completion_criteria"`
}

const refinePrompt = `You turn an approved memo into one objective and one concrete first task for its recipient.
Respond with a single JSON object and nothing else:
{"objective_title": string, "objective_description": string, "task_title": string, "task_description": string, "completion_criteria": string}
Titles are at most 80 characters. The task must be completable by the recipient alone.`

// DeriveFromMemo extracts work from a memo body by heuristics
func DeriveFromMemo(content string) DerivedWork {
	body := strings.TrimSpace(content)
	title := headline(body)
	if title == "" {
		title = "Follow up on memo"
	}

	var criteria []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		for _, bullet := range []string{"- ", "* ", "• "} {
			if strings.HasPrefix(line, bullet) {
				criteria = append(criteria, strings.TrimSpace(strings.TrimPrefix(line, bullet)))
				break
			}
		}
	}
	completion := defaultCriteriaNote
	if len(criteria) > 0 {
		completion = "Covers: " + strings.Join(criteria, "; ")
	}

	return DerivedWork{
		ObjectiveTitle:       title,
		ObjectiveDescription: clip(body, maxObjectiveChars),
		Task: TaskSpec{
			Title:              title,
			Description:        body,
			CompletionCriteria: completion,
		},
	}
}

// derive returns the heuristic derivation, refined by the gateway when one is
// configured. Any gateway or contract failure falls back to the heuristic.
func (g *Gate) derive(ctx context.Context, target *models.Role, content string) DerivedWork {
	work := DeriveFromMemo(content)
	if g.completer == nil || !g.cfg.RefineMemosWithAI {
		return work
	}

	var out refinement
	err := gateway.CompleteJSON(ctx, g.completer, []gateway.ChatMessage{
		{Role: "system", Content: refinePrompt},
		{Role: "user", Content: fmt.Sprintf("Recipient role: %s\nMandate: %s\n\nMemo:\n%s", target.Name, target.Mandate, content)},
	}, &out)
	if err != nil {
		g.logger.Warn("Memo refinement failed, using heuristic derivation",
			zap.String("role_id", target.ID), zap.Error(err))
		return work
	}
	if strings.TrimSpace(out.TaskTitle) == "" || strings.TrimSpace(out.ObjectiveTitle) == "" {
		g.logger.Warn("Memo refinement returned incomplete JSON, using heuristic derivation",
			zap.String("role_id", target.ID))
		return work
	}

	work.ObjectiveTitle = clip(strings.TrimSpace(out.ObjectiveTitle), maxTitleChars)
	if d := strings.TrimSpace(out.ObjectiveDescription); d != "" {
		work.ObjectiveDescription = clip(d, maxObjectiveChars)
	}
	work.Task.Title = clip(strings.TrimSpace(out.TaskTitle), maxTitleChars)
	if d := strings.TrimSpace(out.TaskDescription); d != "" {
		work.Task.Description = d
	}
	if c := strings.TrimSpace(out.CompletionCriteria); c != "" {
		work.Task.CompletionCriteria = c
	}
	return work
}

// headline picks a short title from the first meaningful line of text
func headline(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#*-• "))
		if line == "" {
			continue
		}
		for _, prefix := range []string{"subject:", "re:", "title:", "memo:"} {
			if strings.HasPrefix(strings.ToLower(line), prefix) {
				line = strings.TrimSpace(line[len(prefix):])
			}
		}
		if i := strings.IndexAny(line, ".!?"); i > 0 && i < maxTitleChars {
			line = line[:i]
		}
		if line != "" {
			return clip(line, maxTitleChars)
		}
	}
	return ""
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}
