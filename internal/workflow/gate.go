// Package workflow is the approval gate between AI-proposed actions and their
// effects. Requests are claimed with a conditional update before any effect
// runs, so a request is acted on at most once however often it is reviewed.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/classify"
	"github.com/jordanhubbard/axis/internal/gateway"
	"github.com/jordanhubbard/axis/internal/governance"
	"github.com/jordanhubbard/axis/internal/metrics"
	"github.com/jordanhubbard/axis/internal/queue"
	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/internal/tasks"
	"github.com/jordanhubbard/axis/internal/telemetry"
	"github.com/jordanhubbard/axis/pkg/config"
	"github.com/jordanhubbard/axis/pkg/models"
)

// SystemReviewer is recorded as reviewed_by on auto-approved requests
const SystemReviewer = "system"

// Reviewer auth roles. Approval by an owner counts as CEO-level.
const (
	ReviewerOwner  = "owner"
	ReviewerAdmin  = "admin"
	ReviewerSystem = "system"
)

// Action is a review decision
type Action string

const (
	ActionApprove Action = "approve"
	ActionDeny    Action = "deny"
)

// TaskEngine is the part of the task state machine the gate drives. The In
// variants write through the store they are given and never enqueue.
type TaskEngine interface {
	AssignIn(ctx context.Context, st store.Store, in tasks.AssignInput) (*models.Task, error)
	ResumeIn(ctx context.Context, st store.Store, taskID string) (*models.Task, error)
	Schedule(ctx context.Context, task *models.Task) error
}

// ReviewInput is one approve or deny call
type ReviewInput struct {
	RequestID     string `json:"request_id"`
	Action        Action `json:"action"`
	EditedContent string `json:"edited_content,omitempty"`
	Notes         string `json:"notes,omitempty"`
	ReviewerID    string `json:"-"`
	ReviewerRole  string `json:"-"`
}

// Effects lists what an approval changed
type Effects struct {
	MemoID             string   `json:"memo_id,omitempty"`
	ObjectiveID        string   `json:"objective_id,omitempty"`
	TaskIDs            []string `json:"task_ids,omitempty"`
	OutputActionIDs    []string `json:"output_action_ids,omitempty"`
	RoleActivated      string   `json:"role_activated,omitempty"`
	ObjectiveCompleted string   `json:"objective_completed,omitempty"`
	HandoffRoleID      string   `json:"handoff_role_id,omitempty"`
	LoopTriggered      bool     `json:"loop_triggered,omitempty"`
}

// ReviewResult is the outcome of a successful review
type ReviewResult struct {
	Request *models.WorkflowRequest `json:"request"`
	Status  models.RequestStatus    `json:"status"`
	Effects Effects                 `json:"effects"`
}

// SubmitInput describes a new request
type SubmitInput struct {
	CompanyID        string
	RequestingRoleID string
	TargetRoleID     string
	Payload          Payload
	Summary          string
	SourceTaskID     string
	// AutoApprove approves the request on submission regardless of policy
	AutoApprove bool
}

// Gate is the workflow approval gate
type Gate struct {
	store      store.Store
	tasks      TaskEngine
	queue      queue.Enqueuer
	completer  gateway.Completer
	hierarchy  *governance.Hierarchy
	classifier classify.Classifier
	metrics    *metrics.Metrics
	logger     *zap.Logger
	cfg        config.WorkflowConfig
	autoTypes  map[models.RequestType]bool
}

// NewGate creates a gate
func NewGate(st store.Store, engine TaskEngine, q queue.Enqueuer, cfg config.WorkflowConfig, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		store:      st,
		tasks:      engine,
		queue:      q,
		hierarchy:  governance.Default(),
		classifier: classify.NewKeywordClassifier(),
		logger:     logger.Named("workflow"),
		cfg:        cfg,
		autoTypes:  make(map[models.RequestType]bool),
	}
	for _, t := range cfg.AutoApprove {
		g.autoTypes[models.RequestType(strings.TrimSpace(t))] = true
	}
	return g
}

// SetCompleter enables AI refinement of memo-derived work
func (g *Gate) SetCompleter(c gateway.Completer) {
	g.completer = c
}

// SetHierarchy replaces the default governance hierarchy
func (g *Gate) SetHierarchy(h *governance.Hierarchy) {
	g.hierarchy = h
}

// SetClassifier replaces the keyword classifier
func (g *Gate) SetClassifier(c classify.Classifier) {
	g.classifier = c
}

// SetMetrics enables Prometheus recording
func (g *Gate) SetMetrics(m *metrics.Metrics) {
	g.metrics = m
}

// Get loads one request
func (g *Gate) Get(ctx context.Context, id string) (*models.WorkflowRequest, error) {
	req, err := g.store.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		return nil, err
	}
	return req, nil
}

// List returns a company's requests; an empty status lists all
func (g *Gate) List(ctx context.Context, companyID string, status models.RequestStatus) ([]*models.WorkflowRequest, error) {
	return g.store.ListRequests(ctx, companyID, status)
}

// Submit records a pending request and flags the requesting role as awaiting
// approval. Requests of an auto-approved type are approved straight away by
// the system reviewer.
func (g *Gate) Submit(ctx context.Context, in SubmitInput) (*models.WorkflowRequest, error) {
	if in.Payload == nil {
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidRequest)
	}
	if in.RequestingRoleID == "" {
		return nil, fmt.Errorf("%w: requesting role is required", ErrInvalidRequest)
	}
	requester, err := g.store.GetRole(ctx, in.RequestingRoleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: role %s does not exist", ErrInvalidRequest, in.RequestingRoleID)
		}
		return nil, err
	}
	if in.CompanyID == "" {
		in.CompanyID = requester.CompanyID
	}

	req := &models.WorkflowRequest{
		CompanyID:        in.CompanyID,
		RequestingRoleID: in.RequestingRoleID,
		RequestType:      in.Payload.Type(),
		Summary:          strings.TrimSpace(in.Summary),
		ProposedContent:  encodePayload(in.Payload),
		Status:           models.RequestPending,
	}
	if in.TargetRoleID != "" {
		req.TargetRoleID = &in.TargetRoleID
	}
	if in.SourceTaskID != "" {
		req.SourceTaskID = &in.SourceTaskID
	}
	if req.Summary == "" {
		req.Summary = string(req.RequestType)
	}
	if err := g.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	g.metrics.RecordWorkflowRequest(string(req.RequestType), "submitted")
	g.logger.Info("Workflow request submitted",
		zap.String("request_id", req.ID),
		zap.String("request_type", string(req.RequestType)),
		zap.String("role_id", req.RequestingRoleID))

	if !in.AutoApprove && !g.autoTypes[req.RequestType] {
		if err := g.store.SetAwaitingApproval(ctx, req.RequestingRoleID, true); err != nil {
			return nil, err
		}
		return req, nil
	}

	res, err := g.Review(ctx, ReviewInput{
		RequestID:    req.ID,
		Action:       ActionApprove,
		Notes:        "auto-approved",
		ReviewerID:   SystemReviewer,
		ReviewerRole: ReviewerSystem,
	})
	if err != nil {
		return nil, fmt.Errorf("auto-approval of %s failed: %w", req.ID, err)
	}
	return res.Request, nil
}

// effectRun collects the writes of one approval. Store writes go through st,
// the review transaction; after holds the enqueues that must wait for commit.
type effectRun struct {
	st    store.Store
	fx    Effects
	after []func(context.Context) error
}

func (r *effectRun) onCommit(fn func(context.Context) error) {
	r.after = append(r.after, fn)
}

// Review approves or denies a pending request. A request that is no longer
// pending yields an *AlreadyProcessedError and no effect runs. The claim and
// every store write of the approval commit together, so a failed effect
// leaves the request pending and reviewable.
func (g *Gate) Review(ctx context.Context, in ReviewInput) (res *ReviewResult, err error) {
	if in.Action != ActionApprove && in.Action != ActionDeny {
		return nil, fmt.Errorf("%w: action must be approve or deny", ErrInvalidReview)
	}

	ctx, span := telemetry.StartSpan(ctx, "workflow.review",
		attribute.String("request_id", in.RequestID),
		attribute.String("action", string(in.Action)))
	defer func() { telemetry.EndSpan(span, err) }()

	req, err := g.Get(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}

	// decode before claiming so a malformed approval leaves the request pending
	var payload Payload
	var work *DerivedWork
	if in.Action == ActionApprove {
		if payload, err = ParsePayload(req, in.EditedContent); err != nil {
			return nil, err
		}
		if in.EditedContent != "" {
			req.ProposedContent = in.EditedContent
		}
		// derivation may call the model; keep it out of the transaction and
		// skip it when the claim below is bound to lose
		if req.Status == models.RequestPending {
			if work, err = g.prepare(ctx, req, payload); err != nil {
				return nil, err
			}
		}
	}

	status := models.RequestApproved
	if in.Action == ActionDeny {
		status = models.RequestDenied
	}

	run := &effectRun{}
	claimed := false
	err = g.store.InTx(ctx, func(tx store.Store) error {
		ok, err := tx.ClaimRequest(ctx, req.ID, status, in.ReviewerID, in.Notes)
		if err != nil || !ok {
			return err
		}
		claimed = true
		if in.Action == ActionApprove {
			run.st = tx
			if err := g.apply(ctx, run, req, payload, work, in); err != nil {
				return err
			}
		}
		return tx.SetAwaitingApproval(ctx, req.RequestingRoleID, false)
	})
	if err != nil {
		if claimed {
			g.metrics.RecordWorkflowRequest(string(req.RequestType), "effect_failed")
			g.logger.Error("Approved request effects failed; request left pending",
				zap.String("request_id", req.ID),
				zap.String("request_type", string(req.RequestType)),
				zap.Error(err))
		}
		return nil, err
	}
	if !claimed {
		current, err := g.Get(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		g.metrics.RecordWorkflowRequest(string(req.RequestType), "already_processed")
		g.logger.Info("Workflow request already processed",
			zap.String("request_id", req.ID),
			zap.String("status", string(current.Status)))
		return nil, &AlreadyProcessedError{RequestID: req.ID, Status: current.Status}
	}

	// the decision is committed; follow-ups run even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	for _, fn := range run.after {
		if err := fn(ctx); err != nil {
			g.metrics.RecordWorkflowRequest(string(req.RequestType), "followup_failed")
			g.logger.Error("Approved request follow-up failed",
				zap.String("request_id", req.ID),
				zap.String("request_type", string(req.RequestType)),
				zap.Error(err))
		}
	}

	res = &ReviewResult{Status: status, Effects: run.fx}
	verb := "approved"
	if in.Action == ActionDeny {
		verb = "denied"
	}
	g.audit(ctx, req, fmt.Sprintf("Request %q was %s by %s.%s", req.Summary, verb, reviewerName(in), notesSuffix(in.Notes)))

	g.metrics.RecordWorkflowRequest(string(req.RequestType), string(status))
	g.logger.Info("Workflow request reviewed",
		zap.String("request_id", req.ID),
		zap.String("request_type", string(req.RequestType)),
		zap.String("status", string(status)),
		zap.String("reviewer", in.ReviewerID))

	if res.Request, err = g.Get(ctx, req.ID); err != nil {
		return nil, err
	}
	return res, nil
}

// prepare derives the objective and task a memo turns into. It returns nil
// for memos that create no work.
func (g *Gate) prepare(ctx context.Context, req *models.WorkflowRequest, payload Payload) (*DerivedWork, error) {
	p, ok := payload.(SendMemo)
	if !ok || p.CompletionUpdate {
		return nil, nil
	}
	target, err := g.store.GetRole(ctx, req.TargetOrRequester())
	if err != nil {
		return nil, err
	}
	if g.hierarchy.IsGovernance(target) {
		return nil, nil
	}
	work := g.derive(ctx, target, p.Content)
	return &work, nil
}

// apply runs the effects of an approved request
func (g *Gate) apply(ctx context.Context, run *effectRun, req *models.WorkflowRequest, payload Payload, work *DerivedWork, in ReviewInput) error {
	switch p := payload.(type) {
	case SendMemo:
		return g.applySendMemo(ctx, run, req, p, work)
	case StartTask:
		return g.applyTaskProposal(ctx, run, req, p.Spec)
	case SuggestNextTask:
		return g.applyTaskProposal(ctx, run, req, p.Spec)
	case ContinueTask:
		return g.applyContinueTask(ctx, run, p)
	case ReviewOutput:
		return g.applyReviewOutput(ctx, run, req, p, in)
	}
	return fmt.Errorf("%w: unhandled payload %T", ErrInvalidRequest, payload)
}

func (g *Gate) applySendMemo(ctx context.Context, run *effectRun, req *models.WorkflowRequest, p SendMemo, work *DerivedWork) error {
	from, err := run.st.GetRole(ctx, req.RequestingRoleID)
	if err != nil {
		return err
	}
	target, err := run.st.GetRole(ctx, req.TargetOrRequester())
	if err != nil {
		return err
	}

	reqID := req.ID
	memo := &models.Memo{
		CompanyID:  req.CompanyID,
		FromRoleID: from.ID,
		ToRoleID:   target.ID,
		Content:    p.Content,
		RequestID:  &reqID,
	}
	if err := run.st.CreateMemo(ctx, memo); err != nil {
		return err
	}
	run.fx.MemoID = memo.ID
	if err := run.st.AppendMessage(ctx, &models.RoleMessage{
		CompanyID: req.CompanyID,
		RoleID:    target.ID,
		Kind:      models.MessageInbound,
		Sender:    from.Name,
		Content:   p.Content,
	}); err != nil {
		return err
	}

	if work == nil {
		return nil
	}

	obj := &models.RoleObjective{
		RoleID:      target.ID,
		CompanyID:   target.CompanyID,
		Title:       work.ObjectiveTitle,
		Description: work.ObjectiveDescription,
	}
	if err := run.st.CreateObjective(ctx, obj); err != nil {
		return err
	}
	run.fx.ObjectiveID = obj.ID

	task, err := g.tasks.AssignIn(ctx, run.st, tasks.AssignInput{
		CompanyID:          target.CompanyID,
		RoleID:             target.ID,
		Title:              work.Task.Title,
		Description:        work.Task.Description,
		CompletionCriteria: work.Task.CompletionCriteria,
	})
	if err != nil {
		return err
	}
	run.fx.TaskIDs = append(run.fx.TaskIDs, task.ID)

	if err := run.st.SetRoleActivated(ctx, target.ID, true); err != nil {
		return err
	}
	run.fx.RoleActivated = target.ID

	return g.route(ctx, run, task, target)
}

func (g *Gate) applyTaskProposal(ctx context.Context, run *effectRun, req *models.WorkflowRequest, spec TaskSpec) error {
	role, err := run.st.GetRole(ctx, req.TargetOrRequester())
	if err != nil {
		return err
	}
	task, err := g.tasks.AssignIn(ctx, run.st, tasks.AssignInput{
		CompanyID:          role.CompanyID,
		RoleID:             role.ID,
		Title:              spec.Title,
		Description:        spec.Description,
		CompletionCriteria: spec.CompletionCriteria,
	})
	if err != nil {
		return err
	}
	run.fx.TaskIDs = append(run.fx.TaskIDs, task.ID)
	return g.route(ctx, run, task, role)
}

func (g *Gate) applyContinueTask(ctx context.Context, run *effectRun, p ContinueTask) error {
	task, err := g.tasks.ResumeIn(ctx, run.st, p.TaskID)
	if err != nil {
		return err
	}
	run.fx.TaskIDs = []string{task.ID}
	run.onCommit(func(ctx context.Context) error {
		return g.tasks.Schedule(ctx, task)
	})
	return nil
}

func (g *Gate) applyReviewOutput(ctx context.Context, run *effectRun, req *models.WorkflowRequest, p ReviewOutput, in ReviewInput) error {
	if p.ObjectiveCompleted && p.ObjectiveID != "" {
		ok, err := run.st.CompleteObjective(ctx, p.ObjectiveID, req.RequestingRoleID)
		if err != nil {
			return err
		}
		if ok {
			run.fx.ObjectiveCompleted = p.ObjectiveID
		} else {
			g.logger.Info("Objective not completed: not active or owned by another role",
				zap.String("objective_id", p.ObjectiveID),
				zap.String("role_id", req.RequestingRoleID))
		}
	}

	requester, err := run.st.GetRole(ctx, req.RequestingRoleID)
	if err != nil {
		return err
	}
	if g.hierarchy.IsProductRole(requester) && in.ReviewerRole == ReviewerOwner {
		roleID, err := g.handoff(ctx, run.st, requester, p)
		if err != nil {
			return err
		}
		run.fx.HandoffRoleID = roleID
	}

	// the role's next step is decided by its own loop
	run.onCommit(func(ctx context.Context) error {
		if err := g.queue.Enqueue(ctx, queue.RunLoop(requester.ID), 0); err != nil {
			return fmt.Errorf("failed to re-trigger loop: %w", err)
		}
		run.fx.LoopTriggered = true
		return nil
	})
	return nil
}

// TaskCompleted raises the governance follow-up for a completed task: a
// self-review for governance roles, otherwise an auto-approved memo to the
// most senior governance role.
func (g *Gate) TaskCompleted(ctx context.Context, task *models.Task) error {
	role, err := g.store.GetRole(ctx, task.RoleID)
	if err != nil {
		return err
	}
	summary := ""
	if task.CompletionSummary != nil {
		summary = *task.CompletionSummary
	}

	if g.hierarchy.IsGovernance(role) {
		_, err := g.Submit(ctx, SubmitInput{
			CompanyID:        task.CompanyID,
			RequestingRoleID: role.ID,
			TargetRoleID:     role.ID,
			Payload:          ReviewOutput{TaskID: task.ID, Summary: summary},
			Summary:          "Review output: " + task.Title,
			SourceTaskID:     task.ID,
		})
		return err
	}

	roles, err := g.store.ListRoles(ctx, task.CompanyID)
	if err != nil {
		return err
	}
	best := g.hierarchy.Best(roles, role.ID)
	if best == nil {
		g.logger.Info("No governance role to notify of completion",
			zap.String("task_id", task.ID),
			zap.String("company_id", task.CompanyID))
		return nil
	}

	content := fmt.Sprintf("%s completed %q.\n\n%s", role.Name, task.Title, summary)
	if task.RequiresVerification {
		content += "\n\nThis output claims work outside the system and should be verified independently."
	}
	_, err = g.Submit(ctx, SubmitInput{
		CompanyID:        task.CompanyID,
		RequestingRoleID: role.ID,
		TargetRoleID:     best.ID,
		Payload:          SendMemo{Content: content, CompletionUpdate: true},
		Summary:          "Completed: " + task.Title,
		SourceTaskID:     task.ID,
		AutoApprove:      true,
	})
	return err
}

func (g *Gate) audit(ctx context.Context, req *models.WorkflowRequest, content string) {
	err := g.store.AppendMessage(ctx, &models.RoleMessage{
		CompanyID: req.CompanyID,
		RoleID:    req.RequestingRoleID,
		Kind:      models.MessageAudit,
		Sender:    SystemReviewer,
		Content:   content,
	})
	if err != nil {
		g.logger.Warn("Failed to write audit message", zap.String("request_id", req.ID), zap.Error(err))
	}
}

func reviewerName(in ReviewInput) string {
	if in.ReviewerID == "" {
		return "a reviewer"
	}
	return in.ReviewerID
}

func notesSuffix(notes string) string {
	if notes = strings.TrimSpace(notes); notes == "" {
		return ""
	}
	return " Notes: " + notes
}
