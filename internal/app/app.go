// Package app assembles the shared dependency graph behind all three
// long-lived services (Coordinator, Worker, Monitor): one database pool,
// one event bus, one lock manager, one workflow graph. Each cmd/*
// entrypoint builds an App and starts only the background loops its own
// service owns.
//
// Grounded on the teacher's internal/app/app.go (App struct, New()
// wiring logger → config → postgres → repos → services → handlers →
// router in a fixed order, Start/Run/Close lifecycle), generalized from
// the teacher's single do-everything process into three thin
// service-specific entrypoints sharing this one wiring function.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/neurobridge-labs/reelforge/internal/assets"
	"github.com/neurobridge-labs/reelforge/internal/checkpoint"
	"github.com/neurobridge-labs/reelforge/internal/config"
	"github.com/neurobridge-labs/reelforge/internal/events"
	"github.com/neurobridge-labs/reelforge/internal/httpapi"
	"github.com/neurobridge-labs/reelforge/internal/jobs"
	"github.com/neurobridge-labs/reelforge/internal/jobworker"
	"github.com/neurobridge-labs/reelforge/internal/jobworker/stagehandlers"
	"github.com/neurobridge-labs/reelforge/internal/lockmgr"
	"github.com/neurobridge-labs/reelforge/internal/metrics"
	"github.com/neurobridge-labs/reelforge/internal/monitor"
	"github.com/neurobridge-labs/reelforge/internal/operator"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
	"github.com/neurobridge-labs/reelforge/internal/storage/circuit"
	"github.com/neurobridge-labs/reelforge/internal/storage/postgres"
	"github.com/neurobridge-labs/reelforge/internal/tracing"
	"github.com/neurobridge-labs/reelforge/internal/workflow"
	"github.com/neurobridge-labs/reelforge/internal/workflow/temporalrunner"
)

// App holds every wired dependency. Individual cmd/* entrypoints read
// only the fields their service needs and call the Start* method(s) that
// belong to it. New itself starts only the rate limiter's cleanup ticker
// (and the tracing exporter when tracing is enabled); no service loop is
// started here.
type App struct {
	Log    *logger.Logger
	Config config.Config

	DB    *postgres.Pool
	Locks *lockmgr.Manager
	Bus   events.Bus

	JobRepo     *jobs.Repo
	JobSvc      *jobs.Service
	Assets      *assets.Store
	Checkpoints *checkpoint.Store

	Dispatcher *workflow.Dispatcher
	Graph      *workflow.Graph
	Runner     *workflow.Runner
	Operator   *operator.Operator

	Monitor *monitor.Monitor

	Registry   *jobworker.Registry
	WorkerPool *jobworker.Pool

	Metrics         *metrics.Collector
	tracingShutdown func(context.Context) error
	stopRateLimiter func()

	Router   *gin.Engine
	Handlers *httpapi.Handlers

	Temporal *temporalrunner.Runner

	workerID string
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envLogMode())
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := config.Load(log)

	shutdownTracing := tracing.Init(ctx, log, tracing.LoadConfig())

	mc := metrics.New()

	workerID := workerIdentity()

	dbPool, err := postgres.Open(postgres.Options{
		DSN:             cfg.DatabaseURL,
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		Breaker: circuit.Config{
			Name:                "postgres-pool",
			MaxRequests:         cfg.CircuitMaxRequests,
			Interval:            cfg.CircuitInterval,
			Timeout:             cfg.CircuitTimeout,
			ConsecutiveFailures: cfg.CircuitFailureThreshold,
		},
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := dbPool.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	db := dbPool.DB()

	bus := events.NewRedisBus(cfg.EventBusAddr, log)

	locks := lockmgr.New(db, log, workerID, dbPool.Breaker())

	jobRepo := jobs.NewRepo(db)
	jobSvc := jobs.NewService(jobRepo, bus, log, cfg.MaxConcurrentJobsPerProject)
	assetStore := assets.NewStore(db)
	cpStore := checkpoint.NewStore(db)

	disp := workflow.NewDispatcher(jobSvc, cpStore, assetStore, cfg, log)
	graph := workflow.NewGraph(db, disp)
	runner := workflow.NewRunner(graph, disp, cpStore, bus, log)

	op := operator.New(db, locks, jobSvc, assetStore, cpStore, runner, graph, bus, log, cfg.LockTTL, cfg.HeartbeatInterval)

	mon := monitor.New(jobRepo, jobSvc, log)

	registry := jobworker.NewRegistry()
	stagehandlers.RegisterAll(registry, stagehandlers.Deps{DB: db, Assets: assetStore})
	pool := jobworker.NewPool(jobSvc, jobRepo, registry, bus, log, jobworker.Options{
		Concurrency:  cfg.MaxParallelJobs,
		PollInterval: cfg.LockSweepInterval,
	})

	handlers := httpapi.NewHandlers(db, op, jobSvc, log)
	rateLimiter := httpapi.NewRateLimiter(20, 40)
	stopRateLimiterCleanup := rateLimiter.StartCleanup(5 * time.Minute)
	router := httpapi.NewRouter(httpapi.RouterConfig{Handlers: handlers, RateLimiter: rateLimiter})

	var temporal *temporalrunner.Runner
	if cfg.Executor == "temporal" {
		tc, err := temporalrunner.NewClient(temporalrunner.Config{
			HostPort:  cfg.TemporalHostPort,
			TaskQueue: cfg.TemporalTaskQueue,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("temporal client: %w", err)
		}
		temporal, err = temporalrunner.NewRunner(log, tc, temporalrunner.Config{
			HostPort:  cfg.TemporalHostPort,
			TaskQueue: cfg.TemporalTaskQueue,
		}, runner, cpStore, cfg.MaxParallelJobs)
		if err != nil {
			return nil, fmt.Errorf("temporal runner: %w", err)
		}
	}

	return &App{
		Log:             log,
		Config:          cfg,
		DB:              dbPool,
		Locks:           locks,
		Bus:             bus,
		JobRepo:         jobRepo,
		JobSvc:          jobSvc,
		Assets:          assetStore,
		Checkpoints:     cpStore,
		Dispatcher:      disp,
		Graph:           graph,
		Runner:          runner,
		Operator:        op,
		Monitor:         mon,
		Registry:        registry,
		WorkerPool:      pool,
		Metrics:         mc,
		tracingShutdown: shutdownTracing,
		stopRateLimiter: stopRateLimiterCleanup,
		Router:          router,
		Handlers:        handlers,
		Temporal:        temporal,
		workerID:        workerID,
	}, nil
}

// Close releases everything with a background shutdown, never blocking on
// ctx cancellation, matching the teacher's defer a.Close() pattern.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.WorkerPool != nil {
		a.WorkerPool.Stop()
	}
	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	if a.Locks != nil {
		a.Locks.ReleaseAllLocks(context.Background())
	}
	if a.stopRateLimiter != nil {
		a.stopRateLimiter()
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.tracingShutdown != nil {
		_ = a.tracingShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

func envLogMode() string {
	mode := os.Getenv("LOG_MODE")
	if mode == "" {
		return "development"
	}
	return mode
}

// workerIdentity derives a stable-enough worker id for lease ownership
// (the lock manager's owner id): hostname plus a random
// per-process suffix, so two processes on the same host never collide.
func workerIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}
