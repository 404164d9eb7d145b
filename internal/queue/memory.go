package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/pkg/config"
)

// MemoryQueue is an in-process queue for single-node deployments and tests.
// Jobs do not survive a restart; the sweeper recovers tasks left running.
type MemoryQueue struct {
	logger     *zap.Logger
	workers    int
	maxDeliver int

	jobs chan delivery
	done chan struct{}

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
	wg     sync.WaitGroup
}

type delivery struct {
	job       *Job
	delivered int
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an in-process queue
func NewMemoryQueue(cfg config.QueueConfig, logger *zap.Logger) *MemoryQueue {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	maxDeliver := cfg.MaxDeliver
	if maxDeliver <= 0 {
		maxDeliver = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryQueue{
		logger:     logger.Named("queue"),
		workers:    workers,
		maxDeliver: maxDeliver,
		jobs:       make(chan delivery, 1024),
		done:       make(chan struct{}),
		timers:     make(map[*time.Timer]struct{}),
	}
}

// Enqueue schedules job to run after delay
func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job, delay time.Duration) error {
	if err := job.Validate(); err != nil {
		return err
	}
	job.stamp(delay)
	return q.schedule(ctx, delivery{job: job}, delay)
}

func (q *MemoryQueue) schedule(ctx context.Context, d delivery, delay time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("queue closed")
	}
	if delay > 0 {
		var timer *time.Timer
		timer = time.AfterFunc(delay, func() {
			q.mu.Lock()
			delete(q.timers, timer)
			q.mu.Unlock()
			select {
			case q.jobs <- d:
			case <-q.done:
			}
		})
		q.timers[timer] = struct{}{}
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	select {
	case q.jobs <- d:
		return nil
	case <-q.done:
		return errors.New("queue closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the worker pool
func (q *MemoryQueue) Start(ctx context.Context, handler Handler) error {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	q.logger.Info("Memory queue started", zap.Int("workers", q.workers))
	return nil
}

func (q *MemoryQueue) worker(ctx context.Context, handler Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case d := <-q.jobs:
			q.process(ctx, handler, d)
		}
	}
}

func (q *MemoryQueue) process(ctx context.Context, handler Handler, d delivery) {
	d.delivered++
	err := handler(ctx, d.job)
	if err == nil {
		return
	}

	fields := []zap.Field{
		zap.String("job_id", d.job.ID),
		zap.String("kind", string(d.job.Kind)),
		zap.Int("delivered", d.delivered),
		zap.Error(err),
	}
	if IsPermanent(err) || d.delivered >= q.maxDeliver {
		q.logger.Error("Dropping job", fields...)
		return
	}
	q.logger.Warn("Job failed, redelivering", fields...)
	if err := q.schedule(ctx, d, redeliveryDelay(d.delivered)); err != nil {
		q.logger.Warn("Failed to redeliver job", zap.String("job_id", d.job.ID), zap.Error(err))
	}
}

// Close stops pending timers and waits for workers to exit
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = nil
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}
