package autonomy

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/gateway"
	"github.com/jordanhubbard/axis/internal/queue"
	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/internal/tasks"
	"github.com/jordanhubbard/axis/internal/testutil"
	"github.com/jordanhubbard/axis/internal/testutil/fakes"
	"github.com/jordanhubbard/axis/internal/workflow"
	"github.com/jordanhubbard/axis/pkg/config"
	"github.com/jordanhubbard/axis/pkg/models"
)

type loopHarness struct {
	store     *store.SQLStore
	completer *fakes.Completer
	loop      *Loop
	ceo       *models.Role
	writer    *models.Role
}

func newLoopHarness(t *testing.T, replies ...string) *loopHarness {
	t.Helper()
	st := testutil.NewStore(t)
	company := testutil.Company(t, st, "c-1")
	ceo := testutil.Role(t, st, company, "CEO", models.AuthorityExecutive, 0)
	writer := testutil.Role(t, st, company, "Content Writer", models.AuthorityContributor, time.Minute)
	require.NoError(t, st.SetRoleActivated(context.Background(), writer.ID, true))
	writer.IsActivated = true

	q := &fakes.Queue{}
	engine := tasks.NewEngine(st, fakes.NewExecutor(), q, config.TasksConfig{}, zap.NewNop())
	gate := workflow.NewGate(st, engine, q, config.WorkflowConfig{}, zap.NewNop())
	completer := fakes.NewCompleter(replies...)
	loop := NewLoop(st, gate, completer, config.AutonomyConfig{}, zap.NewNop())
	return &loopHarness{store: st, completer: completer, loop: loop, ceo: ceo, writer: writer}
}

func TestRun_Preconditions(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, h *loopHarness) string
		wantAction Action
		wantReason Reason
	}{
		{
			name: "company not grounded",
			setup: func(t *testing.T, h *loopHarness) string {
				r := testutil.Role(t, h.store, "c-ungrounded", "Writer", models.AuthorityContributor, 0)
				require.NoError(t, h.store.SetRoleActivated(context.Background(), r.ID, true))
				return r.ID
			},
			wantAction: ActionBlocked,
			wantReason: ReasonNotGrounded,
		},
		{
			name: "grounding unconfirmed",
			setup: func(t *testing.T, h *loopHarness) string {
				require.NoError(t, h.store.UpsertGrounding(context.Background(), &models.CompanyGrounding{CompanyID: "c-draft"}))
				r := testutil.Role(t, h.store, "c-draft", "Writer", models.AuthorityContributor, 0)
				require.NoError(t, h.store.SetRoleActivated(context.Background(), r.ID, true))
				return r.ID
			},
			wantAction: ActionBlocked,
			wantReason: ReasonNotGrounded,
		},
		{
			name:       "not activated",
			setup:      func(t *testing.T, h *loopHarness) string { return h.ceo.ID },
			wantAction: ActionBlocked,
			wantReason: ReasonNotActivated,
		},
		{
			name: "awaiting approval",
			setup: func(t *testing.T, h *loopHarness) string {
				require.NoError(t, h.store.SetAwaitingApproval(context.Background(), h.writer.ID, true))
				return h.writer.ID
			},
			wantAction: ActionWait,
			wantReason: ReasonAwaitingApproval,
		},
		{
			name: "pending requests",
			setup: func(t *testing.T, h *loopHarness) string {
				require.NoError(t, h.store.CreateRequest(context.Background(), &models.WorkflowRequest{
					CompanyID:        "c-1",
					RequestingRoleID: h.writer.ID,
					RequestType:      models.RequestStartTask,
					ProposedContent:  `{"title":"x"}`,
				}))
				return h.writer.ID
			},
			wantAction: ActionWait,
			wantReason: ReasonPendingRequests,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newLoopHarness(t, `{"action":"wait"}`)
			d, err := h.loop.Run(context.Background(), tt.setup(t, h))
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, d.Action)
			assert.Equal(t, tt.wantReason, d.Reason)
			assert.Equal(t, 0, h.completer.Calls(), "preconditions short-circuit before the model")

			msgs, err := h.store.ListRecentMessages(context.Background(), d.RoleID, 10)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, models.MessageAudit, msgs[0].Kind)
			assert.Contains(t, msgs[0].Content, string(tt.wantReason))
		})
	}
}

func TestRun_RepeatedShortCircuitAuditedOnce(t *testing.T) {
	h := newLoopHarness(t, `{"action":"wait"}`)
	ctx := context.Background()
	require.NoError(t, h.store.SetAwaitingApproval(ctx, h.writer.ID, true))

	for i := 0; i < 3; i++ {
		_, err := h.loop.Run(ctx, h.writer.ID)
		require.NoError(t, err)
	}
	msgs, err := h.store.ListRecentMessages(ctx, h.writer.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// a different outcome is a new entry
	require.NoError(t, h.store.SetAwaitingApproval(ctx, h.writer.ID, false))
	require.NoError(t, h.store.SetRoleActivated(ctx, h.writer.ID, false))
	d, err := h.loop.Run(ctx, h.writer.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonNotActivated, d.Reason)
	msgs, err = h.store.ListRecentMessages(ctx, h.writer.ID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestRun_ProposeTask(t *testing.T) {
	h := newLoopHarness(t, "```json\n"+`{"action":"propose_task","reasoning":"blog is stale",`+
		`"task":{"title":"Write launch post","description":"Announce the release","completion_criteria":"800 words"}}`+"\n```")
	ctx := context.Background()

	d, err := h.loop.Run(ctx, h.writer.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionProposeTask, d.Action)
	assert.Equal(t, "blog is stale", d.Reasoning)
	require.NotEmpty(t, d.RequestID)

	req, err := h.store.GetRequest(ctx, d.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, req.Status)
	assert.Equal(t, models.RequestStartTask, req.RequestType)
	assert.Contains(t, req.ProposedContent, "Write launch post")

	role, err := h.store.GetRole(ctx, h.writer.ID)
	require.NoError(t, err)
	assert.True(t, role.AwaitingApproval)

	msgs, err := h.store.ListRecentMessages(ctx, h.writer.ID, 5)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, models.MessageAudit, msgs[0].Kind)
	assert.Contains(t, msgs[0].Content, `"action":"propose_task"`)

	// the next run waits on the pending proposal
	d, err = h.loop.Run(ctx, h.writer.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonAwaitingApproval, d.Reason)
	assert.Equal(t, 1, h.completer.Calls())
}

func TestRun_ProposeMemo(t *testing.T) {
	tests := []struct {
		name   string
		toRole string
	}{
		{"by name", "ceo"},
		{"unknown name goes to governance", "Board of Directors"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newLoopHarness(t, `{"action":"propose_memo","memo":{"to_role":"`+tt.toRole+`","content":"Draft is ready for review."}}`)
			ctx := context.Background()

			d, err := h.loop.Run(ctx, h.writer.ID)
			require.NoError(t, err)
			assert.Equal(t, ActionProposeMemo, d.Action)

			req, err := h.store.GetRequest(ctx, d.RequestID)
			require.NoError(t, err)
			assert.Equal(t, models.RequestSendMemo, req.RequestType)
			assert.Equal(t, h.ceo.ID, req.TargetOrRequester())
			assert.Equal(t, "Draft is ready for review.", req.ProposedContent)
		})
	}
}

func TestRun_CompleteObjective(t *testing.T) {
	h := newLoopHarness(t)
	ctx := context.Background()
	obj := &models.RoleObjective{RoleID: h.writer.ID, CompanyID: "c-1", Title: "Publish blog"}
	require.NoError(t, h.store.CreateObjective(ctx, obj))

	h.completer = fakes.NewCompleter(`{"action":"complete_objective","objective_id":"` + obj.ID + `"}`)
	h.loop.completer = h.completer
	d, err := h.loop.Run(ctx, h.writer.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionCompleteObjective, d.Action)
	assert.Equal(t, obj.ID, d.ObjectiveID)

	got, err := h.store.GetObjective(ctx, obj.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ObjectiveCompleted, got.Status)

	// no approval gate for objective completion
	pending, err := h.store.CountPendingRequests(ctx, h.writer.ID)
	require.NoError(t, err)
	assert.Zero(t, pending)

	h.loop.completer = fakes.NewCompleter(`{"action":"complete_objective","objective_id":"` + obj.ID + `"}`)
	d, err = h.loop.Run(ctx, h.writer.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.Action)
	assert.Equal(t, ReasonUnknownObjective, d.Reason)
}

func TestRun_MalformedDecisionsDegradeToWait(t *testing.T) {
	replies := []string{
		"I think we should write a blog post",
		`{"action":"launch_rocket"}`,
		`{"action":"propose_task"}`,
		`{"action":"propose_memo","memo":{"to_role":"ceo","content":""}}`,
		`{"action":"complete_objective"}`,
	}
	for _, reply := range replies {
		h := newLoopHarness(t, reply)
		d, err := h.loop.Run(context.Background(), h.writer.ID)
		require.NoError(t, err, reply)
		assert.Equal(t, ActionWait, d.Action, reply)
		assert.Equal(t, ReasonInvalidDecision, d.Reason, reply)

		msgs, err := h.store.ListRecentMessages(context.Background(), h.writer.ID, 5)
		require.NoError(t, err)
		require.Len(t, msgs, 1, "every decision is audited")
	}
}

func TestRun_GatewayErrors(t *testing.T) {
	h := newLoopHarness(t)
	h.completer.Err = &gateway.StatusError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}

	_, err := h.loop.Run(context.Background(), h.writer.ID)
	require.ErrorIs(t, err, gateway.ErrRateLimited)

	err = h.loop.HandleJob(context.Background(), queue.RunLoop(h.writer.ID))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err), "rate limits are redelivered")

	h.completer.Err = &gateway.StatusError{StatusCode: http.StatusPaymentRequired}
	err = h.loop.HandleJob(context.Background(), queue.RunLoop(h.writer.ID))
	require.ErrorIs(t, err, gateway.ErrQuotaExhausted)
	assert.True(t, queue.IsPermanent(err))

	err = h.loop.HandleJob(context.Background(), queue.RunLoop("missing"))
	require.ErrorIs(t, err, ErrRoleNotFound)
	assert.True(t, queue.IsPermanent(err))
}

func TestRun_ReadsContextFreshEachTime(t *testing.T) {
	h := newLoopHarness(t, `{"action":"wait"}`)
	ctx := context.Background()

	_, err := h.loop.Run(ctx, h.writer.ID)
	require.NoError(t, err)
	require.NoError(t, h.store.AddMemory(ctx, &models.MemoryEntry{CompanyID: "c-1", Category: "decision", Content: "Pricing is frozen until Q3"}))
	_, err = h.loop.Run(ctx, h.writer.ID)
	require.NoError(t, err)

	require.Len(t, h.completer.Requests, 2)
	first := h.completer.Requests[0].Messages[1].Content
	second := h.completer.Requests[1].Messages[1].Content
	assert.NotContains(t, first, "Pricing is frozen")
	assert.Contains(t, second, "Pricing is frozen")

	system := h.completer.Requests[0].Messages[0].Content
	assert.True(t, strings.HasPrefix(system, h.writer.SystemPrompt))
	assert.Contains(t, second, "Products: Axis")
	assert.Contains(t, second, "CEO (executive)")
	require.NotNil(t, h.completer.Requests[0].ResponseFormat)
	assert.Equal(t, "json_object", h.completer.Requests[0].ResponseFormat.Type)
}

func TestHandleJob_Wait(t *testing.T) {
	h := newLoopHarness(t, `{"action":"wait","reasoning":"nothing to do"}`)
	require.NoError(t, h.loop.HandleJob(context.Background(), queue.RunLoop(h.writer.ID)))

	msgs, err := h.store.ListRecentMessages(context.Background(), h.writer.ID, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "nothing to do")
}
