package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/auth"
	"github.com/jordanhubbard/axis/internal/autonomy"
	"github.com/jordanhubbard/axis/internal/gateway"
	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/internal/tasks"
	"github.com/jordanhubbard/axis/internal/testutil"
	"github.com/jordanhubbard/axis/internal/testutil/fakes"
	"github.com/jordanhubbard/axis/internal/webhooks"
	"github.com/jordanhubbard/axis/internal/workflow"
	"github.com/jordanhubbard/axis/pkg/config"
	"github.com/jordanhubbard/axis/pkg/models"
)

type apiHarness struct {
	store   *store.SQLStore
	exec    *fakes.Executor
	auth    *auth.Manager
	handler http.Handler
	writer  *models.Role
}

func newAPIHarness(t *testing.T, steps ...fakes.Step) *apiHarness {
	t.Helper()
	st := testutil.NewStore(t)
	company := testutil.Company(t, st, "c-1")
	testutil.Role(t, st, company, "CEO", models.AuthorityExecutive, 0)
	writer := testutil.Role(t, st, company, "Content Writer", models.AuthorityContributor, 0)
	require.NoError(t, st.SetRoleActivated(context.Background(), writer.ID, true))

	cfg := config.DefaultConfig()
	cfg.Security.JWTSecret = "test-secret"

	if len(steps) == 0 {
		steps = []fakes.Step{fakes.Pass(fakes.PlanOutput)}
	}
	exec := fakes.NewExecutor(steps...)
	q := &fakes.Queue{}
	engine := tasks.NewEngine(st, exec, q, config.TasksConfig{}, zap.NewNop())
	gate := workflow.NewGate(st, engine, q, config.WorkflowConfig{}, zap.NewNop())
	loop := autonomy.NewLoop(st, gate, fakes.NewCompleter(`{"action":"wait"}`), config.AutonomyConfig{}, zap.NewNop())
	hooks := webhooks.NewService(st, engine, cfg.Webhooks, zap.NewNop())
	authManager := auth.NewManager(cfg.Security.JWTSecret)

	srv := NewServer(Deps{
		Store:    st,
		Tasks:    engine,
		Gate:     gate,
		Loop:     loop,
		Webhooks: hooks,
		Auth:     authManager,
		Health:   map[string]func() error{"database": func() error { return st.Ping(context.Background()) }},
	}, cfg, zap.NewNop())

	return &apiHarness{store: st, exec: exec, auth: authManager, handler: srv.SetupRoutes(), writer: writer}
}

func (h *apiHarness) token(t *testing.T, company string, role auth.Role) string {
	t.Helper()
	token, err := h.auth.GenerateToken(auth.Principal{UserID: "u-" + string(role), CompanyID: company, Role: role})
	require.NoError(t, err)
	return token
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestUnauthenticatedRoutes(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var health HealthStatus
	decode(t, w, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "healthy", health.Dependencies["database"].Status)

	w = h.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/dead-letter", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/dead-letter", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTaskLifecycle(t *testing.T) {
	h := newAPIHarness(t)
	member := h.token(t, "c-1", auth.RoleMember)

	w := h.do(t, http.MethodPost, "/api/v1/tasks", member, map[string]interface{}{
		"role_id":             h.writer.ID,
		"title":               "Launch plan",
		"description":         "Write a launch plan covering pricing, channels and timeline for the onboarding product.",
		"completion_criteria": "Plan lists pricing tiers, marketing channels and a dated timeline.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var task models.Task
	decode(t, w, &task)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, 3, task.MaxAttempts)

	w = h.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/execute", member, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res tasks.ExecutionResult
	decode(t, w, &res)
	assert.Equal(t, tasks.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, res.Attempt.AttemptNumber)

	w = h.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID, member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail TaskDetail
	decode(t, w, &detail)
	assert.Equal(t, models.TaskStatusCompleted, detail.Task.Status)
	assert.Len(t, detail.Attempts, 1)
	assert.Empty(t, detail.OutputActions)

	// completed is terminal
	w = h.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/execute", member, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/fly", member, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/tasks/missing", member, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskAccessAcrossCompanies(t *testing.T) {
	h := newAPIHarness(t)
	task := testutil.Task(t, h.store, h.writer, "Launch plan", 3)
	outsider := h.token(t, "c-2", auth.RoleOwner)

	w := h.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID, outsider, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/tasks", outsider, map[string]interface{}{"role_id": h.writer.ID, "title": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTaskHumanActions(t *testing.T) {
	h := newAPIHarness(t)
	task := testutil.Task(t, h.store, h.writer, "Launch plan", 3)
	admin := h.token(t, "c-1", auth.RoleAdmin)

	w := h.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/stop", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got models.Task
	decode(t, w, &got)
	assert.Equal(t, models.TaskStatusStopped, got.Status)

	// only blocked or alerted tasks can be reset
	w = h.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/reset", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = h.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/archive", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &got)
	assert.Equal(t, models.TaskStatusArchived, got.Status)

	w = h.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID+"/stop", admin, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestReviewWorkflowRequest(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	req := &models.WorkflowRequest{
		CompanyID:        "c-1",
		RequestingRoleID: h.writer.ID,
		RequestType:      models.RequestStartTask,
		ProposedContent:  `{"title":"Draft FAQ","description":"Answer the ten most common onboarding questions."}`,
		Summary:          "Draft FAQ",
	}
	require.NoError(t, h.store.CreateRequest(ctx, req))

	member := h.token(t, "c-1", auth.RoleMember)
	owner := h.token(t, "c-1", auth.RoleOwner)

	w := h.do(t, http.MethodGet, "/api/v1/workflow-requests?status=pending", member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)

	path := "/api/v1/workflow-requests/" + req.ID + "/review"
	w = h.do(t, http.MethodPost, path, member, map[string]string{"action": "approve"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPost, path, owner, map[string]string{"action": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, path, owner, map[string]string{"action": "approve", "notes": "go"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var first ReviewResponse
	decode(t, w, &first)
	assert.True(t, first.Success)
	assert.False(t, first.AlreadyProcessed)
	assert.Equal(t, models.RequestApproved, first.Status)
	require.NotNil(t, first.Effects)
	assert.Len(t, first.Effects.TaskIDs, 1)

	w = h.do(t, http.MethodPost, path, owner, map[string]string{"action": "deny"})
	require.Equal(t, http.StatusOK, w.Code)
	var second ReviewResponse
	decode(t, w, &second)
	assert.True(t, second.Success)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, models.RequestApproved, second.Status)

	w = h.do(t, http.MethodPost, "/api/v1/workflow-requests/missing/review", owner, map[string]string{"action": "approve"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListWorkflowRequests_Status(t *testing.T) {
	h := newAPIHarness(t)
	require.NoError(t, h.store.CreateRequest(context.Background(), &models.WorkflowRequest{
		CompanyID:        "c-1",
		RequestingRoleID: h.writer.ID,
		RequestType:      models.RequestStartTask,
		ProposedContent:  `{"title":"Draft FAQ"}`,
		Summary:          "Draft FAQ",
	}))
	member := h.token(t, "c-1", auth.RoleMember)

	tests := []struct {
		query     string
		wantCode  int
		wantCount int
	}{
		{"", http.StatusOK, 1},
		{"?status=pending", http.StatusOK, 1},
		{"?status=approved", http.StatusOK, 0},
		{"?status=denied", http.StatusOK, 0},
		{"?status=archived", http.StatusBadRequest, 0},
		{"?status=PENDING", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		w := h.do(t, http.MethodGet, "/api/v1/workflow-requests"+tt.query, member, nil)
		require.Equal(t, tt.wantCode, w.Code, tt.query)
		if tt.wantCode != http.StatusOK {
			continue
		}
		var list struct {
			Count int `json:"count"`
		}
		decode(t, w, &list)
		assert.Equal(t, tt.wantCount, list.Count, tt.query)
	}
}

func TestReviewWorkflowRequest_FailedApprovalStaysPending(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	task := testutil.Task(t, h.store, h.writer, "Launch plan", 3)
	req := &models.WorkflowRequest{
		CompanyID:        "c-1",
		RequestingRoleID: h.writer.ID,
		RequestType:      models.RequestContinueTask,
		ProposedContent:  `{"task_id":"` + task.ID + `"}`,
		Summary:          "Continue launch plan",
	}
	require.NoError(t, h.store.CreateRequest(ctx, req))
	_, err := h.store.TransitionTask(ctx, task.ID, models.TaskStatusStopped)
	require.NoError(t, err)

	owner := h.token(t, "c-1", auth.RoleOwner)
	path := "/api/v1/workflow-requests/" + req.ID + "/review"
	w := h.do(t, http.MethodPost, path, owner, map[string]string{"action": "approve"})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	got, err := h.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, got.Status)

	w = h.do(t, http.MethodPost, path, owner, map[string]string{"action": "deny"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res ReviewResponse
	decode(t, w, &res)
	assert.False(t, res.AlreadyProcessed)
	assert.Equal(t, models.RequestDenied, res.Status)
}

func TestDeadLetterEndpoints(t *testing.T) {
	h := newAPIHarness(t, fakes.Fail("draft", "missing timeline"))
	task := testutil.Task(t, h.store, h.writer, "Launch plan", 1)
	admin := h.token(t, "c-1", auth.RoleAdmin)
	member := h.token(t, "c-1", auth.RoleMember)

	w := h.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID+"/execute", member, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res tasks.ExecutionResult
	decode(t, w, &res)
	require.NotNil(t, res.DeadLetter)

	w = h.do(t, http.MethodGet, "/api/v1/dead-letter", member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Entries []*models.DeadLetterEntry `json:"entries"`
	}
	decode(t, w, &list)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, 1, list.Entries[0].AttemptsMade)

	path := "/api/v1/dead-letter/" + res.DeadLetter.ID + "/resolve"
	w = h.do(t, http.MethodPost, path, member, map[string]string{"resolution": "retry"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodPost, path, admin, map[string]string{"resolution": "retry", "notes": "timeline added to brief"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resolved struct {
		Task *models.Task `json:"task"`
	}
	decode(t, w, &resolved)
	assert.Equal(t, models.TaskStatusPending, resolved.Task.Status)

	w = h.do(t, http.MethodPost, path, admin, map[string]string{"resolution": "archive"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodGet, "/api/v1/dead-letter", member, nil)
	decode(t, w, &list)
	assert.Empty(t, list.Entries)
}

func TestAutonomousLoopEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	member := h.token(t, "c-1", auth.RoleMember)

	w := h.do(t, http.MethodPost, "/api/v1/roles/"+h.writer.ID+"/autonomous-loop", member, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var d autonomy.Decision
	decode(t, w, &d)
	assert.Equal(t, autonomy.ActionWait, d.Action)

	w = h.do(t, http.MethodGet, "/api/v1/roles/"+h.writer.ID+"/messages", member, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, http.MethodPost, "/api/v1/roles/missing/autonomous-loop", member, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	task := testutil.Task(t, h.store, h.writer, "Book a podcast slot", 3)
	action := &models.OutputAction{TaskID: task.ID, CompanyID: "c-1", ActionType: models.ActionMarkExternal}
	require.NoError(t, h.store.CreateOutputAction(ctx, action))
	owner := h.token(t, "c-1", auth.RoleOwner)

	w := h.do(t, http.MethodPost, "/api/v1/webhooks", owner, map[string]string{"name": "zapier", "url": "https://hooks.example.com/a"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var reg struct {
		Secret string `json:"secret"`
	}
	decode(t, w, &reg)
	require.NotEmpty(t, reg.Secret)

	callback := map[string]string{"action_id": action.ID, "status": "completed", "notes": "Booked for Tuesday", "api_key": "wrong"}
	w = h.do(t, http.MethodPost, "/api/v1/webhooks/callback", "", callback)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	callback["api_key"] = reg.Secret
	w = h.do(t, http.MethodPost, "/api/v1/webhooks/callback", "", callback)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out map[string]interface{}
	decode(t, w, &out)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, false, out["already_processed"])

	w = h.do(t, http.MethodPost, "/api/v1/webhooks/callback", "", callback)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &out)
	assert.Equal(t, true, out["already_processed"])

	w = h.do(t, http.MethodPost, "/api/v1/output-actions/"+action.ID+"/complete", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var done webhooks.Result
	decode(t, w, &done)
	assert.True(t, done.AlreadyProcessed)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", tasks.ErrTaskNotFound), http.StatusNotFound},
		{tasks.ErrMaxAttemptsReached, http.StatusBadRequest},
		{workflow.ErrInvalidReview, http.StatusBadRequest},
		{auth.ErrForbidden, http.StatusForbidden},
		{webhooks.ErrUnauthorized, http.StatusUnauthorized},
		{&gateway.StatusError{StatusCode: http.StatusTooManyRequests}, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct{ path, want string }{
		{"/health", "/health"},
		{"/api/v1/tasks", "/api/v1/tasks"},
		{"/api/v1/tasks/abc-123/execute", "/api/v1/tasks/{id}/execute"},
		{"/api/v1/webhooks/callback", "/api/v1/webhooks/callback"},
		{"/api/v1/workflow-requests/r-9/review", "/api/v1/workflow-requests/{id}/review"},
	}
	for _, tt := range tests {
		if got := routeLabel(tt.path); got != tt.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
