package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/integration/orders"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
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

	logger := app.NewLogger(cfg, "purchasing")

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The receive lease needs Redis; two concurrent receives of one order
	// would otherwise both reach the Orders service.
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

	ordersClient := orders.NewClient(orders.Config{
		BaseURL:    cfg.OrdersBaseURL,
		Timeout:    cfg.OrdersTimeout,
		MaxRetries: cfg.OrdersMaxRetries,
		Logger:     logger,
	})
	service := procurement.NewService(procurement.NewRepository(pool), ordersClient, shared.NewAuditLogger(pool), procurement.Config{
		Publisher: publisher,
		Leaser:    cache.NewLeaser(redisClient, "purchasing"),
		LeaseTTL:  cfg.PurchasingReceiveLeaseTTL,
		Metrics:   observability.NewStockMetrics(metrics.Registerer()),
		Logger:    logger,
	})
	handler := procurement.NewHandler(logger, service, shared.NewIdempotencyStore(pool))

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
