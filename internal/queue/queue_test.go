package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/testutil"
	"github.com/jordanhubbard/axis/pkg/config"
)

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		job     *Job
		wantErr bool
	}{
		{"execute", ExecuteTask("t-1", 1), false},
		{"execute missing task", &Job{Kind: KindExecuteTask}, true},
		{"loop", RunLoop("r-1"), false},
		{"loop missing role", &Job{Kind: KindRunLoop}, true},
		{"dispatch", DispatchWebhook("a-1"), false},
		{"dispatch missing action", &Job{Kind: KindDispatchWebhook}, true},
		{"unknown", &Job{Kind: "nope"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.job.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("boom")
	err := Permanent(base)
	if !IsPermanent(err) {
		t.Error("expected permanent")
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error")
	}
	if IsPermanent(base) {
		t.Error("plain error must not be permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestRedeliveryDelay(t *testing.T) {
	if got := redeliveryDelay(1); got != 2*time.Second {
		t.Errorf("redeliveryDelay(1) = %v", got)
	}
	if got := redeliveryDelay(20); got != time.Minute {
		t.Errorf("redeliveryDelay(20) = %v, want cap", got)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(config.QueueConfig{Backend: "kafka"}, zap.NewNop())
	require.Error(t, err)
}

func collect(t *testing.T, ch <-chan *Job, n int, timeout time.Duration) []*Job {
	t.Helper()
	var got []*Job
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case j := <-ch:
			got = append(got, j)
		case <-deadline:
			t.Fatalf("timed out after receiving %d of %d jobs", len(got), n)
		}
	}
	return got
}

func TestMemoryQueue_DeliversAndDelays(t *testing.T) {
	q := NewMemoryQueue(config.QueueConfig{Workers: 2, MaxDeliver: 3}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer q.Close()

	received := make(chan *Job, 4)
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *Job) error {
		received <- job
		return nil
	}))

	start := time.Now()
	require.NoError(t, q.Enqueue(ctx, RunLoop("r-now"), 0))
	require.NoError(t, q.Enqueue(ctx, ExecuteTask("t-later", 1), 150*time.Millisecond))

	got := collect(t, received, 2, 3*time.Second)
	assert.Equal(t, "r-now", got[0].RoleID)
	assert.Equal(t, "t-later", got[1].TaskID)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.NotEmpty(t, got[1].ID)
	assert.False(t, got[1].NotBefore.IsZero())
}

func TestMemoryQueue_PermanentErrorNotRedelivered(t *testing.T) {
	q := NewMemoryQueue(config.QueueConfig{Workers: 1, MaxDeliver: 5}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer q.Close()

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return Permanent(errors.New("bad job"))
	}))
	require.NoError(t, q.Enqueue(ctx, DispatchWebhook("a-1"), 0))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMemoryQueue_RejectsInvalidAndClosed(t *testing.T) {
	q := NewMemoryQueue(config.QueueConfig{}, nil)
	ctx := context.Background()
	require.Error(t, q.Enqueue(ctx, &Job{Kind: KindRunLoop}, 0))

	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	require.Error(t, q.Enqueue(ctx, RunLoop("r-1"), 0))
}

func TestNATSQueue_RoundTrip(t *testing.T) {
	url := testutil.StartJetStream(t)

	q, err := NewNATSQueue(config.QueueConfig{
		NATSURL:    url,
		StreamName: "AXIS_TEST",
		Durable:    "axis-test",
		AckWait:    10 * time.Second,
		MaxDeliver: 3,
		Workers:    1,
	}, zap.NewNop())
	require.NoError(t, err)
	defer q.Close()
	require.NoError(t, q.Health())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	attempts := map[string]int{}
	received := make(chan *Job, 4)
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *Job) error {
		mu.Lock()
		attempts[job.ID]++
		n := attempts[job.ID]
		mu.Unlock()
		// the execute job fails once and succeeds on redelivery
		if job.Kind == KindExecuteTask && n == 1 {
			return errors.New("transient")
		}
		received <- job
		return nil
	}))

	require.NoError(t, q.Enqueue(ctx, ExecuteTask("t-1", 2), 0))
	require.NoError(t, q.Enqueue(ctx, RunLoop("r-1"), 500*time.Millisecond))

	got := collect(t, received, 2, 15*time.Second)
	kinds := map[Kind]*Job{}
	for _, j := range got {
		kinds[j.Kind] = j
	}
	require.Contains(t, kinds, KindExecuteTask)
	require.Contains(t, kinds, KindRunLoop)
	assert.Equal(t, 2, kinds[KindExecuteTask].ExpectedAttempt)
	assert.Equal(t, "r-1", kinds[KindRunLoop].RoleID)

	mu.Lock()
	assert.Equal(t, 2, attempts[kinds[KindExecuteTask].ID])
	mu.Unlock()
}

func TestNewNATSQueue_BadURL(t *testing.T) {
	_, err := NewNATSQueue(config.QueueConfig{NATSURL: "nats://127.0.0.1:1"}, zap.NewNop())
	if err == nil {
		t.Error("expected error connecting to unreachable NATS")
	}
}
