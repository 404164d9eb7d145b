// Package axis wires the store, queue, engines and API into one service.
package axis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/api"
	"github.com/jordanhubbard/axis/internal/auth"
	"github.com/jordanhubbard/axis/internal/autonomy"
	"github.com/jordanhubbard/axis/internal/classify"
	"github.com/jordanhubbard/axis/internal/executor"
	"github.com/jordanhubbard/axis/internal/gateway"
	"github.com/jordanhubbard/axis/internal/governance"
	"github.com/jordanhubbard/axis/internal/logging"
	"github.com/jordanhubbard/axis/internal/metrics"
	"github.com/jordanhubbard/axis/internal/queue"
	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/internal/sweeper"
	"github.com/jordanhubbard/axis/internal/tasks"
	"github.com/jordanhubbard/axis/internal/telemetry"
	"github.com/jordanhubbard/axis/internal/webhooks"
	"github.com/jordanhubbard/axis/internal/workflow"
	"github.com/jordanhubbard/axis/pkg/config"
)

// Axis is the running service
type Axis struct {
	config  *config.Config
	logger  *zap.Logger
	logs    *logging.Manager
	store   *store.SQLStore
	queue   queue.Queue
	metrics *metrics.Metrics

	tasks    *tasks.Engine
	gate     *workflow.Gate
	loop     *autonomy.Loop
	webhooks *webhooks.Service
	sweeper  *sweeper.Sweeper
	auth     *auth.Manager

	shutdownTelemetry telemetry.ShutdownFunc
	cancel            context.CancelFunc
	shutdownOnce      sync.Once
}

// New opens the database and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, logs *logging.Manager) (*Axis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Axis{config: cfg, logger: logger, logs: logs}

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		// tracing is optional; keep serving without it
		logger.Warn("Failed to initialize telemetry", zap.Error(err))
		shutdown = func(context.Context) error { return nil }
	}
	a.shutdownTelemetry = shutdown

	st, err := store.Open(cfg.Database.Driver(), cfg.Database.DataSource())
	if err != nil {
		return nil, err
	}
	a.store = st
	if cfg.Database.AutoMigrate {
		if err := st.MigrateUp(); err != nil {
			st.Close()
			return nil, err
		}
	}

	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	a.queue = q

	a.metrics = metrics.NewMetrics()
	hierarchy := governance.New(cfg.Governance)
	classifier := classify.NewKeywordClassifier()
	completer := gateway.NewClient(cfg.Gateway)

	a.tasks = tasks.NewEngine(st, executor.NewHTTPExecutor(cfg.Executor), q, cfg.Tasks, logger)
	a.tasks.SetClassifier(classifier)
	a.tasks.SetMetrics(a.metrics)

	a.gate = workflow.NewGate(st, a.tasks, q, cfg.Workflow, logger)
	a.gate.SetHierarchy(hierarchy)
	a.gate.SetClassifier(classifier)
	a.gate.SetMetrics(a.metrics)
	if cfg.Workflow.RefineMemosWithAI {
		a.gate.SetCompleter(completer)
	}
	a.tasks.SetCompletionHandler(a.gate)

	a.loop = autonomy.NewLoop(st, a.gate, completer, cfg.Autonomy, logger)
	a.loop.SetHierarchy(hierarchy)
	a.loop.SetMetrics(a.metrics)

	a.webhooks = webhooks.NewService(st, a.tasks, cfg.Webhooks, logger)
	a.webhooks.SetMetrics(a.metrics)

	if cfg.Sweeper.Enabled {
		a.sweeper, err = sweeper.New(a.tasks, st, q, cfg.Sweeper, logger)
		if err != nil {
			a.closeBackends()
			return nil, err
		}
	}

	a.auth = auth.NewManager(cfg.Security.JWTSecret)
	return a, nil
}

// Start launches the queue consumers and the sweeper
func (a *Axis) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	if err := a.queue.Start(runCtx, a.HandleJob); err != nil {
		cancel()
		return fmt.Errorf("failed to start queue consumers: %w", err)
	}
	if a.sweeper != nil {
		a.sweeper.Start()
	}
	a.logger.Info("Axis started",
		zap.String("database", a.config.Database.Type),
		zap.String("queue", a.config.Queue.Backend),
		zap.Int("workers", a.config.Queue.Workers))
	return nil
}

// HandleJob routes a queue job to the component that owns its kind
func (a *Axis) HandleJob(ctx context.Context, job *queue.Job) error {
	var err error
	switch job.Kind {
	case queue.KindExecuteTask:
		err = a.tasks.HandleExecuteJob(ctx, job)
	case queue.KindRunLoop:
		err = a.loop.HandleJob(ctx, job)
	case queue.KindDispatchWebhook:
		err = a.webhooks.HandleDispatchJob(ctx, job)
	default:
		err = queue.Permanent(fmt.Errorf("unknown job kind %q", job.Kind))
	}

	result := "ok"
	switch {
	case err == nil:
	case queue.IsPermanent(err):
		result = "dropped"
	default:
		result = "retry"
	}
	a.metrics.RecordJob(string(job.Kind), result)
	return err
}

// Handler builds the HTTP API
func (a *Axis) Handler() http.Handler {
	srv := api.NewServer(api.Deps{
		Store:    a.store,
		Tasks:    a.tasks,
		Gate:     a.gate,
		Loop:     a.loop,
		Webhooks: a.webhooks,
		Auth:     a.auth,
		Logs:     a.logs,
		Metrics:  a.metrics,
		Health: map[string]func() error{
			"database": a.pingDatabase,
		},
	}, a.config, a.logger)
	return srv.SetupRoutes()
}

// Store exposes the database (CLI migrations, tests)
func (a *Axis) Store() *store.SQLStore {
	return a.store
}

// Auth exposes the token manager
func (a *Axis) Auth() *auth.Manager {
	return a.auth
}

// Shutdown stops background work and closes backends. Safe to call twice.
func (a *Axis) Shutdown(ctx context.Context) {
	a.shutdownOnce.Do(func() {
		if a.sweeper != nil {
			a.sweeper.Stop()
		}
		if a.cancel != nil {
			a.cancel()
		}
		a.closeBackends()
		if err := a.shutdownTelemetry(ctx); err != nil {
			a.logger.Warn("Error shutting down telemetry", zap.Error(err))
		}
		a.logger.Info("Axis stopped")
	})
}

func (a *Axis) closeBackends() {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Error closing backends", zap.Error(err))
	}
}

func (a *Axis) pingDatabase() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.store.Ping(ctx)
}
