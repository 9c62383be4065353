package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// IdempotencyCleaner deletes idempotency keys older than the retention window.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob prunes stored idempotent responses.
type IdempotencyCleanupJob struct {
	Cleaner IdempotencyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob wires dependencies for the cleanup handler.
func NewIdempotencyCleanupJob(cleaner IdempotencyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Cleaner: cleaner, Logger: logger, Metrics: metrics}
}

// Handle deletes keys past the payload retention.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Cleaner == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Retention <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskIdempotencyCleanup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	removed, err := j.Cleaner.Cleanup(ctx, payload.Retention)
	if err != nil {
		j.logger().Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	tracker.Processed(int(removed))
	if removed > 0 {
		j.logger().Info("idempotency keys pruned", slog.Int64("removed", removed), slog.Duration("retention", payload.Retention))
	}
	return nil
}

func (j *IdempotencyCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIdempotencyCleanup))
	}
	return slog.Default().With(slog.String("job", TaskIdempotencyCleanup))
}

func (j *IdempotencyCleanupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
