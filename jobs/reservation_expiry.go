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

// ReservationExpirer returns expired reservations to available stock.
type ReservationExpirer interface {
	ExpireReservations(ctx context.Context, now time.Time, limit int) (int, error)
}

// ReservationExpiryJob runs the expiry sweep. A Redis lease keeps a single
// worker sweeping at a time; rows are claimed with SKIP LOCKED regardless.
type ReservationExpiryJob struct {
	Expirer  ReservationExpirer
	Leaser   *cache.Leaser
	LeaseTTL time.Duration
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewReservationExpiryJob wires dependencies for the sweep handler.
func NewReservationExpiryJob(expirer ReservationExpirer, leaser *cache.Leaser, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReservationExpiryJob {
	return &ReservationExpiryJob{
		Expirer:  expirer,
		Leaser:   leaser,
		LeaseTTL: time.Minute,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sweep.
func (j *ReservationExpiryJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Expirer == nil {
		return errors.New("reservation expiry: handler not configured")
	}
	var payload ReservationSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = 200
	}
	if payload.MaxRounds <= 0 {
		payload.MaxRounds = 10
	}

	logger := j.logger()
	lease, err := j.Leaser.Acquire(ctx, TaskReservationExpire, j.LeaseTTL)
	if errors.Is(err, cache.ErrLeaseHeld) {
		logger.Debug("sweep already running elsewhere")
		j.metrics().Skipped(TaskReservationExpire, "lease_held")
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release sweep lease", slog.Any("error", err))
		}
	}()

	tracker := j.metrics().Track(TaskReservationExpire)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	total := 0
	for round := 0; round < payload.MaxRounds; round++ {
		n, err := j.Expirer.ExpireReservations(ctx, j.now(), payload.BatchSize)
		if err != nil {
			logger.Error("sweep failed", slog.Int("expired", total), slog.Any("error", err))
			tracker.Processed(total)
			return err
		}
		total += n
		if n < payload.BatchSize {
			break
		}
	}
	tracker.Processed(total)
	if total > 0 {
		logger.Info("sweep finished", slog.Int("expired", total))
	}
	return nil
}

func (j *ReservationExpiryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReservationExpire))
	}
	return slog.Default().With(slog.String("job", TaskReservationExpire))
}

func (j *ReservationExpiryJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReservationExpiryJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
