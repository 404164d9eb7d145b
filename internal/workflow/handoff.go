package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/classify"
	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/pkg/models"
)

// laneRole is the execution role that owns a lane after a product handoff
type laneRole struct {
	name        string
	prompt      string
	level       models.AuthorityLevel
	integration string
}

var laneRoles = map[classify.Lane]laneRole{
	classify.LaneDevelopment: {
		name:        "Development Lead",
		prompt:      "You turn approved product direction into shipped software. Break work into small, verifiable engineering tasks and report what was built.",
		level:       models.AuthorityManager,
		integration: "a coding agent webhook that can open branches and pull requests",
	},
	classify.LaneMarketing: {
		name:        "Marketing Lead",
		prompt:      "You turn approved product direction into campaigns. Plan channels, draft content and report measurable results.",
		level:       models.AuthorityManager,
		integration: "a marketing automation webhook for email and social publishing",
	},
	classify.LaneResearch: {
		name:        "Research Analyst",
		prompt:      "You answer the open questions behind approved product direction with sourced findings and clear recommendations.",
		level:       models.AuthorityContributor,
		integration: "a research automation webhook for surveys and data collection",
	},
}

// handoff passes approved product direction to the execution role of the
// lane the work falls in, creating that role on first use. It writes through
// st and returns the lane role's id.
func (g *Gate) handoff(ctx context.Context, st store.Store, product *models.Role, p ReviewOutput) (string, error) {
	text := p.Summary
	if p.TaskID != "" {
		if task, err := st.GetTask(ctx, p.TaskID); err == nil {
			text = task.Title + "\n" + task.Description + "\n" + text
		}
	}
	lane := g.classifier.Lane(text)
	def, ok := laneRoles[lane]
	if !ok {
		def = laneRoles[classify.LaneResearch]
	}

	roles, err := st.ListRoles(ctx, product.CompanyID)
	if err != nil {
		return "", err
	}
	var target *models.Role
	for _, r := range roles {
		if strings.EqualFold(r.Name, def.name) {
			target = r
			break
		}
	}
	if target == nil {
		target = &models.Role{
			CompanyID:      product.CompanyID,
			Name:           def.name,
			Mandate:        fmt.Sprintf("Execute %s work handed off by %s.", lane, product.Name),
			SystemPrompt:   def.prompt,
			AuthorityLevel: def.level,
		}
		if err := st.CreateRole(ctx, target); err != nil {
			return "", err
		}
		roles = append(roles, target)
	}
	if err := st.SetRoleActivated(ctx, target.ID, true); err != nil {
		return "", err
	}

	brief := strings.TrimSpace(p.Summary)
	if brief == "" {
		brief = "See the approved output of " + product.Name + "."
	}
	if err := st.CreateMemo(ctx, &models.Memo{
		CompanyID:  product.CompanyID,
		FromRoleID: product.ID,
		ToRoleID:   target.ID,
		Content:    brief,
	}); err != nil {
		return "", err
	}
	if err := st.AppendMessage(ctx, &models.RoleMessage{
		CompanyID: product.CompanyID,
		RoleID:    target.ID,
		Kind:      models.MessageInbound,
		Sender:    product.Name,
		Content:   brief,
	}); err != nil {
		return "", err
	}

	if coord := g.hierarchy.Coordinator(roles); coord != nil {
		err := st.AppendMessage(ctx, &models.RoleMessage{
			CompanyID: product.CompanyID,
			RoleID:    coord.ID,
			Kind:      models.MessageInbound,
			Sender:    SystemReviewer,
			Content: fmt.Sprintf("Approved direction from %s was handed to %s (%s lane). Coordinate the handoff and track delivery.",
				product.Name, target.Name, lane),
		})
		if err != nil {
			return "", err
		}
	}

	if err := st.CreateNotification(ctx, &models.Notification{
		CompanyID: product.CompanyID,
		Audience:  ReviewerOwner,
		Title:     fmt.Sprintf("Connect a %s integration", lane),
		Body: fmt.Sprintf("%s now owns %s work. Connect %s so its tasks can run outside Axis.",
			target.Name, lane, def.integration),
	}); err != nil {
		return "", err
	}

	g.logger.Info("Lane handoff",
		zap.String("from_role_id", product.ID),
		zap.String("to_role_id", target.ID),
		zap.String("lane", string(lane)))
	return target.ID, nil
}
