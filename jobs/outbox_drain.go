package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
)

// OutboxDrainer publishes one batch of pending outbox rows.
type OutboxDrainer interface {
	DrainOnce(ctx context.Context) (int, error)
}

// OutboxDrainJob drains the outbox until it is empty or the round budget is
// spent. The lease keeps per-key publish order with several workers.
type OutboxDrainJob struct {
	Drainer  OutboxDrainer
	Leaser   *cache.Leaser
	LeaseTTL time.Duration
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewOutboxDrainJob wires dependencies for the drain handler.
func NewOutboxDrainJob(drainer OutboxDrainer, leaser *cache.Leaser, logger *slog.Logger, metrics *jobmetrics.Metrics) *OutboxDrainJob {
	return &OutboxDrainJob{Drainer: drainer, Leaser: leaser, LeaseTTL: time.Minute, Logger: logger, Metrics: metrics}
}

// Handle executes one drain run.
func (j *OutboxDrainJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Drainer == nil {
		return errors.New("outbox drain: handler not configured")
	}
	var payload OutboxDrainPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.MaxRounds <= 0 {
		payload.MaxRounds = 20
	}

	logger := j.logger()
	lease, err := j.Leaser.Acquire(ctx, TaskOutboxDrain, j.LeaseTTL)
	if errors.Is(err, cache.ErrLeaseHeld) {
		j.metrics().Skipped(TaskOutboxDrain, "lease_held")
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release drain lease", slog.Any("error", err))
		}
	}()

	tracker := j.metrics().Track(TaskOutboxDrain)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	total := 0
	for round := 0; round < payload.MaxRounds; round++ {
		n, err := j.Drainer.DrainOnce(ctx)
		total += n
		if err != nil {
			tracker.Processed(total)
			logger.Error("drain failed", slog.Int("published", total), slog.Any("error", err))
			return err
		}
		if n == 0 {
			break
		}
	}
	tracker.Processed(total)
	if total > 0 {
		logger.Debug("outbox drained", slog.Int("published", total))
	}
	return nil
}

func (j *OutboxDrainJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOutboxDrain))
	}
	return slog.Default().With(slog.String("job", TaskOutboxDrain))
}

func (j *OutboxDrainJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
