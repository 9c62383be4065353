package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/outbox"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	publisher, closePublisher := app.NewPublisher(cfg, logger)
	defer func() {
		if err := closePublisher(); err != nil {
			logger.Warn("publisher close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	leaser := cache.NewLeaser(redisClient, "worker")

	repo := inventory.NewRepository(pool)
	queries := inventory.NewQueryService(repo, redisClient, inventory.QueryConfig{CacheTTL: cfg.AvailabilityTTL, Logger: logger})
	stockService := inventory.NewService(repo, shared.NewAuditLogger(pool), inventory.ServiceConfig{
		ReservationTTL: cfg.ReservationTTL,
		Invalidator:    queries,
		Metrics:        observability.NewStockMetrics(metrics.Registerer()),
		Logger:         logger,
	})
	expiryJob := jobs.NewReservationExpiryJob(stockService, leaser, logger, jobMetrics)

	dispatcher := outbox.NewDispatcher(outbox.NewStore(pool), publisher, logger, cfg.OutboxBatch, cfg.OutboxMaxRetry)
	drainJob := jobs.NewOutboxDrainJob(dispatcher, leaser, logger, jobMetrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, jobMetrics)

	sweepTask, err := jobs.NewReservationSweepTask(cfg.ReservationSweepBatch)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	drainTask, err := jobs.NewOutboxDrainTask()
	if err != nil {
		logger.Error("build drain task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReservationExpire, Handler: expiryJob.Handle},
			{Type: jobs.TaskOutboxDrain, Handler: drainJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReservationSweepCron, Task: sweepTask},
			{Spec: cfg.OutboxDrainCron, Task: drainTask},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	client := jobs.NewClient(redisOpts)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: metrics,
		Mounts:  []app.Mount{{Prefix: "/jobs", Handler: jobs.NewHandler(inspector, client, logger)}},
	})

	logger.Info("worker started",
		slog.String("sweep_cron", cfg.ReservationSweepCron),
		slog.String("drain_cron", cfg.OutboxDrainCron),
		slog.String("idempotency_cleanup_cron", cfg.IdempotencyCleanupCron))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return app.Serve(gctx, cfg, router, logger) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
