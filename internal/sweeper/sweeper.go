// Package sweeper runs periodic maintenance: blocking tasks whose worker died
// mid-attempt and ticking the autonomous loop of activated roles.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/queue"
	"github.com/jordanhubbard/axis/pkg/config"
	"github.com/jordanhubbard/axis/pkg/models"
)

// StaleBlocker blocks running tasks that stopped advancing
type StaleBlocker interface {
	BlockStale(ctx context.Context, cutoff time.Time) (int, error)
}

// RoleLister lists roles whose loop may run
type RoleLister interface {
	ListActivatedRoles(ctx context.Context) ([]*models.Role, error)
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// Sweeper owns the cron schedule
type Sweeper struct {
	cron    *cron.Cron
	tasks   StaleBlocker
	roles   RoleLister
	queue   queue.Enqueuer
	cfg     config.SweeperConfig
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

// New registers the sweeps described by cfg. An empty LoopSchedule disables
// loop ticks.
func New(tasks StaleBlocker, roles RoleLister, q queue.Enqueuer, cfg config.SweeperConfig, logger *zap.Logger) (*Sweeper, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sweeper")
	cl := &cronLogger{logger: logger}
	s := &Sweeper{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		tasks:   tasks,
		roles:   roles,
		queue:   q,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		timeout: time.Minute,
	}

	if cfg.StaleAfter > 0 && cfg.Schedule != "" {
		if _, err := s.cron.AddFunc(cfg.Schedule, s.runStale); err != nil {
			return nil, fmt.Errorf("invalid sweeper schedule %q: %w", cfg.Schedule, err)
		}
	}
	if cfg.LoopSchedule != "" {
		if _, err := s.cron.AddFunc(cfg.LoopSchedule, s.runLoops); err != nil {
			return nil, fmt.Errorf("invalid loop schedule %q: %w", cfg.LoopSchedule, err)
		}
	}
	return s, nil
}

// Start starts the scheduler in its own goroutine
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("Sweeper started",
		zap.String("schedule", s.cfg.Schedule),
		zap.Duration("stale_after", s.cfg.StaleAfter),
		zap.String("loop_schedule", s.cfg.LoopSchedule))
}

// Stop stops the scheduler and waits for running sweeps
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// SweepStale blocks tasks running without progress for longer than StaleAfter
func (s *Sweeper) SweepStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	n, err := s.tasks.BlockStale(ctx, cutoff)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.logger.Info("Blocked stale tasks", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// TickLoops enqueues one loop run per activated role. The loop's own
// preconditions decide whether anything happens.
func (s *Sweeper) TickLoops(ctx context.Context) (int, error) {
	roles, err := s.roles.ListActivatedRoles(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, role := range roles {
		if err := s.queue.Enqueue(ctx, queue.RunLoop(role.ID), 0); err != nil {
			return n, fmt.Errorf("failed to enqueue loop for role %s: %w", role.ID, err)
		}
		n++
	}
	s.logger.Debug("Loop ticks enqueued", zap.Int("count", n))
	return n, nil
}

func (s *Sweeper) runStale() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.SweepStale(ctx); err != nil {
		s.logger.Error("Stale task sweep failed", zap.Error(err))
	}
}

func (s *Sweeper) runLoops() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.TickLoops(ctx); err != nil {
		s.logger.Error("Loop tick failed", zap.Error(err))
	}
}
