// Package autonomy runs a role's autonomous loop: check that the role may
// act, ask the inference gateway for its next move and turn that move into a
// workflow request.
package autonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/gateway"
	"github.com/jordanhubbard/axis/internal/governance"
	"github.com/jordanhubbard/axis/internal/metrics"
	"github.com/jordanhubbard/axis/internal/queue"
	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/internal/telemetry"
	"github.com/jordanhubbard/axis/internal/workflow"
	"github.com/jordanhubbard/axis/pkg/config"
	"github.com/jordanhubbard/axis/pkg/models"
)

// ErrRoleNotFound is returned for an unknown role id
var ErrRoleNotFound = errors.New("role not found")

// Action is what the loop decided
type Action string

const (
	ActionProposeTask       Action = "propose_task"
	ActionProposeMemo       Action = "propose_memo"
	ActionCompleteObjective Action = "complete_objective"
	ActionWait              Action = "wait"
	// ActionBlocked means a precondition stopped the loop before any model call
	ActionBlocked Action = "blocked"
)

// Reason explains a decision
type Reason string

const (
	ReasonNotGrounded      Reason = "company_not_grounded"
	ReasonNotActivated     Reason = "role_not_activated"
	ReasonAwaitingApproval Reason = "awaiting_approval"
	ReasonPendingRequests  Reason = "pending_requests"
	ReasonDecided          Reason = "decided"
	ReasonInvalidDecision  Reason = "invalid_decision"
	ReasonUnknownObjective Reason = "unknown_objective"
)

// Decision is the outcome of one loop run
type Decision struct {
	RoleID      string `json:"role_id"`
	Action      Action `json:"action"`
	Reason      Reason `json:"reason"`
	Reasoning   string `json:"reasoning,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	ObjectiveID string `json:"objective_id,omitempty"`
}

// modelDecision is the JSON contract the model answers with
type modelDecision struct {
	Action    string             `json:"action"`
	Reasoning string             `json:"reasoning"`
	Task      *workflow.TaskSpec `json:"task,omitempty"`
	Memo      *struct {
		ToRole  string `json:"to_role"`
		Content string `json:"content"`
	} `json:"memo,omitempty"`
	ObjectiveID string `json:"objective_id,omitempty"`
}

// auditSender signs the loop's entries in a role's activity stream
const auditSender = "autonomy"

// Submitter files workflow requests
type Submitter interface {
	Submit(ctx context.Context, in workflow.SubmitInput) (*models.WorkflowRequest, error)
}

// Loop is the autonomous loop trigger. It keeps no state between runs;
// every run reads its context from the store.
type Loop struct {
	store     store.Store
	gate      Submitter
	completer gateway.Completer
	hierarchy *governance.Hierarchy
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       config.AutonomyConfig
}

// NewLoop creates a loop trigger
func NewLoop(st store.Store, gate Submitter, completer gateway.Completer, cfg config.AutonomyConfig, logger *zap.Logger) *Loop {
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = 10
	}
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		store:     st,
		gate:      gate,
		completer: completer,
		hierarchy: governance.Default(),
		logger:    logger.Named("autonomy"),
		cfg:       cfg,
	}
}

// SetHierarchy replaces the default governance hierarchy
func (l *Loop) SetHierarchy(h *governance.Hierarchy) {
	l.hierarchy = h
}

// SetMetrics enables Prometheus recording
func (l *Loop) SetMetrics(m *metrics.Metrics) {
	l.metrics = m
}

// Run evaluates the role's preconditions in order and, if all hold, asks the
// model for the role's next move.
func (l *Loop) Run(ctx context.Context, roleID string) (d *Decision, err error) {
	ctx, span := telemetry.StartSpan(ctx, "autonomy.run", attribute.String("role_id", roleID))
	defer func() { telemetry.EndSpan(span, err) }()

	role, err := l.store.GetRole(ctx, roleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
		}
		return nil, err
	}

	grounding, err := l.store.GetGrounding(ctx, role.CompanyID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if grounding == nil || !grounding.IsConfirmed {
		return l.short(ctx, role, ActionBlocked, ReasonNotGrounded), nil
	}
	if !role.IsActivated {
		return l.short(ctx, role, ActionBlocked, ReasonNotActivated), nil
	}
	if role.AwaitingApproval {
		return l.short(ctx, role, ActionWait, ReasonAwaitingApproval), nil
	}
	pending, err := l.store.CountPendingRequests(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return l.short(ctx, role, ActionWait, ReasonPendingRequests), nil
	}

	snap, err := l.snapshot(ctx, role, grounding)
	if err != nil {
		return nil, err
	}

	resp, err := l.completer.CreateChatCompletion(ctx, &gateway.ChatCompletionRequest{
		Messages:       buildMessages(snap),
		ResponseFormat: &gateway.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("loop decision for role %s: %w", role.ID, err)
	}
	content, err := resp.Content()
	if err != nil {
		return nil, fmt.Errorf("loop decision for role %s: %w", role.ID, err)
	}

	// a proposal must reach the store even if the caller gives up now
	ctx = context.WithoutCancel(ctx)
	d = l.act(ctx, snap, content)
	l.record(ctx, role, d)
	return d, nil
}

// HandleJob is the queue handler for run_loop jobs. Rate limits and other
// transient gateway failures are redelivered; everything else is final.
func (l *Loop) HandleJob(ctx context.Context, job *queue.Job) error {
	_, err := l.Run(ctx, job.RoleID)
	if err == nil {
		return nil
	}
	if gateway.IsRetryable(err) {
		return err
	}
	return queue.Permanent(err)
}

func (l *Loop) snapshot(ctx context.Context, role *models.Role, grounding *models.CompanyGrounding) (*snapshot, error) {
	s := &snapshot{role: role, grounding: grounding}
	var err error
	if s.objectives, err = l.store.ListActiveObjectives(ctx, role.ID); err != nil {
		return nil, err
	}
	if s.memory, err = l.store.ListRecentMemory(ctx, role.CompanyID, l.cfg.MemoryLimit); err != nil {
		return nil, err
	}
	if s.messages, err = l.store.ListRecentMessages(ctx, role.ID, l.cfg.MessageLimit); err != nil {
		return nil, err
	}
	if s.roles, err = l.store.ListRoles(ctx, role.CompanyID); err != nil {
		return nil, err
	}
	return s, nil
}

// act turns the model's answer into a decision. A malformed answer or a
// proposal that cannot be filed degrades to wait.
func (l *Loop) act(ctx context.Context, s *snapshot, content string) *Decision {
	role := s.role
	d := &Decision{RoleID: role.ID, Action: ActionWait, Reason: ReasonDecided}

	var md modelDecision
	if err := gateway.DecodeJSON(content, &md); err != nil {
		l.logger.Warn("Unparseable loop decision", zap.String("role_id", role.ID), zap.Error(err))
		d.Reason = ReasonInvalidDecision
		return d
	}
	d.Reasoning = strings.TrimSpace(md.Reasoning)

	invalid := func(msg string) *Decision {
		l.logger.Warn("Invalid loop decision", zap.String("role_id", role.ID), zap.String("problem", msg))
		d.Action = ActionWait
		d.Reason = ReasonInvalidDecision
		return d
	}

	switch Action(strings.TrimSpace(md.Action)) {
	case ActionWait:
		return d

	case ActionProposeTask:
		if md.Task == nil || (strings.TrimSpace(md.Task.Title) == "" && strings.TrimSpace(md.Task.Description) == "") {
			return invalid("propose_task without a task")
		}
		req, err := l.gate.Submit(ctx, workflow.SubmitInput{
			CompanyID:        role.CompanyID,
			RequestingRoleID: role.ID,
			TargetRoleID:     role.ID,
			Payload:          workflow.StartTask{Spec: *md.Task},
			Summary:          md.Task.Title,
		})
		if err != nil {
			l.logger.Error("Failed to file task proposal", zap.String("role_id", role.ID), zap.Error(err))
			return invalid("task proposal rejected: " + err.Error())
		}
		d.Action, d.RequestID = ActionProposeTask, req.ID
		return d

	case ActionProposeMemo:
		if md.Memo == nil || strings.TrimSpace(md.Memo.Content) == "" {
			return invalid("propose_memo without content")
		}
		target := l.resolveRole(s, md.Memo.ToRole)
		if target == nil {
			return invalid("no recipient for memo")
		}
		req, err := l.gate.Submit(ctx, workflow.SubmitInput{
			CompanyID:        role.CompanyID,
			RequestingRoleID: role.ID,
			TargetRoleID:     target.ID,
			Payload:          workflow.SendMemo{Content: strings.TrimSpace(md.Memo.Content)},
			Summary:          fmt.Sprintf("Memo to %s", target.Name),
		})
		if err != nil {
			l.logger.Error("Failed to file memo proposal", zap.String("role_id", role.ID), zap.Error(err))
			return invalid("memo proposal rejected: " + err.Error())
		}
		d.Action, d.RequestID = ActionProposeMemo, req.ID
		return d

	case ActionCompleteObjective:
		id := strings.TrimSpace(md.ObjectiveID)
		if id == "" && len(s.objectives) == 1 {
			id = s.objectives[0].ID
		}
		if id == "" {
			return invalid("complete_objective without objective_id")
		}
		ok, err := l.store.CompleteObjective(ctx, id, role.ID)
		if err != nil {
			l.logger.Error("Failed to complete objective", zap.String("objective_id", id), zap.Error(err))
			return invalid("objective update failed")
		}
		d.Action, d.ObjectiveID = ActionCompleteObjective, id
		if !ok {
			d.Action, d.Reason = ActionWait, ReasonUnknownObjective
		}
		return d
	}
	return invalid(fmt.Sprintf("unknown action %q", md.Action))
}

// resolveRole finds a memo recipient by id or name, defaulting to the most
// senior governance role other than the sender.
func (l *Loop) resolveRole(s *snapshot, ref string) *models.Role {
	ref = strings.TrimSpace(ref)
	if ref != "" {
		for _, r := range s.roles {
			if r.ID == ref || strings.EqualFold(r.Name, ref) {
				return r
			}
		}
	}
	return l.hierarchy.Best(s.roles, s.role.ID)
}

// short records a precondition decision without consulting the model. A
// repeat of the role's latest audit entry is not written again, so periodic
// ticks of an idle role leave one entry.
func (l *Loop) short(ctx context.Context, role *models.Role, action Action, reason Reason) *Decision {
	d := &Decision{RoleID: role.ID, Action: action, Reason: reason}
	if l.repeatsLatest(ctx, role, d) {
		l.metrics.RecordLoopDecision(string(action), string(reason))
		l.logger.Debug("Loop short-circuited",
			zap.String("role_id", role.ID),
			zap.String("action", string(action)),
			zap.String("reason", string(reason)))
		return d
	}
	l.record(ctx, role, d)
	return d
}

func (l *Loop) repeatsLatest(ctx context.Context, role *models.Role, d *Decision) bool {
	body, err := json.Marshal(d)
	if err != nil {
		return false
	}
	recent, err := l.store.ListRecentMessages(ctx, role.ID, 1)
	if err != nil || len(recent) == 0 {
		return false
	}
	last := recent[0]
	return last.Kind == models.MessageAudit && last.Sender == auditSender && last.Content == string(body)
}

// record writes the decision to the role's activity stream
func (l *Loop) record(ctx context.Context, role *models.Role, d *Decision) {
	l.metrics.RecordLoopDecision(string(d.Action), string(d.Reason))
	l.logger.Info("Loop decision",
		zap.String("role_id", role.ID),
		zap.String("action", string(d.Action)),
		zap.String("reason", string(d.Reason)),
		zap.String("request_id", d.RequestID))

	body, err := json.Marshal(d)
	if err != nil {
		return
	}
	err = l.store.AppendMessage(ctx, &models.RoleMessage{
		CompanyID: role.CompanyID,
		RoleID:    role.ID,
		Kind:      models.MessageAudit,
		Sender:    auditSender,
		Content:   string(body),
	})
	if err != nil {
		l.logger.Warn("Failed to record loop decision", zap.String("role_id", role.ID), zap.Error(err))
	}
}
