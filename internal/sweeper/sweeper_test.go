package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/queue"
	"github.com/jordanhubbard/axis/internal/tasks"
	"github.com/jordanhubbard/axis/internal/testutil"
	"github.com/jordanhubbard/axis/internal/testutil/fakes"
	"github.com/jordanhubbard/axis/pkg/config"
	"github.com/jordanhubbard/axis/pkg/models"
)

func TestSweepStale(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	company := testutil.Company(t, st, "c-1")
	role := testutil.Role(t, st, company, "Content Writer", models.AuthorityContributor, 0)
	running := testutil.Task(t, st, role, "Launch plan", 3)
	idle := testutil.Task(t, st, role, "Pricing page", 3)

	ok, err := st.BeginAttempt(ctx, running.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)

	engine := tasks.NewEngine(st, fakes.NewExecutor(), &fakes.Queue{}, config.TasksConfig{}, zap.NewNop())
	s, err := New(engine, st, &fakes.Queue{}, config.SweeperConfig{Schedule: "@every 1m", StaleAfter: 15 * time.Minute}, zap.NewNop())
	require.NoError(t, err)

	// nothing is stale yet
	n, err := s.SweepStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = s.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetTask(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusBlocked, got.Status)

	got, err = st.GetTask(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status, "pending tasks are not swept")

	msgs, err := st.ListRecentMessages(ctx, role.ID, 5)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, models.MessageAlert, msgs[0].Kind)
}

func TestTickLoops(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	company := testutil.Company(t, st, "c-1")
	active := testutil.Role(t, st, company, "Content Writer", models.AuthorityContributor, 0)
	testutil.Role(t, st, company, "Research Analyst", models.AuthorityContributor, time.Minute)
	require.NoError(t, st.SetRoleActivated(ctx, active.ID, true))

	q := &fakes.Queue{}
	s, err := New(nil, st, q, config.SweeperConfig{LoopSchedule: "@every 5m"}, zap.NewNop())
	require.NoError(t, err)

	n, err := s.TickLoops(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs := q.OfKind(queue.KindRunLoop)
	require.Len(t, jobs, 1)
	assert.Equal(t, active.ID, jobs[0].RoleID)
}

func TestNew_RejectsBadSchedules(t *testing.T) {
	tests := []config.SweeperConfig{
		{Schedule: "every minute", StaleAfter: time.Minute},
		{LoopSchedule: "61 * * * *"},
	}
	for _, cfg := range tests {
		if _, err := New(nil, nil, nil, cfg, zap.NewNop()); err == nil {
			t.Errorf("New(%+v) succeeded, want error", cfg)
		}
	}
}

func TestStartStop(t *testing.T) {
	s, err := New(nil, nil, nil, config.SweeperConfig{}, zap.NewNop())
	require.NoError(t, err)
	s.Start()
	s.Stop()
}
