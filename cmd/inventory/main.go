package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "inventory")

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Availability caching is optional; the service runs uncached without Redis.
	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, availability cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	stockMetrics := observability.NewStockMetrics(metrics.Registerer())

	repo := inventory.NewRepository(pool)
	queries := inventory.NewQueryService(repo, redisClient, inventory.QueryConfig{
		LowStockThreshold: cfg.LowStockThreshold,
		CacheTTL:          cfg.AvailabilityTTL,
		Logger:            logger,
	})
	service := inventory.NewService(repo, shared.NewAuditLogger(pool), inventory.ServiceConfig{
		ReservationTTL: cfg.ReservationTTL,
		Catalog:        inventory.NewCatalog(pool),
		Invalidator:    queries,
		Metrics:        stockMetrics,
		Logger:         logger,
	})
	handler := inventory.NewHandler(logger, service, queries, shared.NewIdempotencyStore(pool))

	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: metrics,
		Mounts:  []app.Mount{{Prefix: "/", Handler: handler}},
	})

	if err := app.Serve(ctx, cfg, router, logger); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
