package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReservationExpire returns the quantity of reservations past their expiry.
	TaskReservationExpire = "inventory:reservations:expire"
	// TaskOutboxDrain publishes pending outbox rows to the event bus.
	TaskOutboxDrain = "outbox:drain"
	// TaskIdempotencyCleanup prunes stored idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReservationSweepPayload tunes one expiry sweep.
type ReservationSweepPayload struct {
	BatchSize int `json:"batch_size"`
	MaxRounds int `json:"max_rounds"`
}

// OutboxDrainPayload tunes one drain run.
type OutboxDrainPayload struct {
	MaxRounds int `json:"max_rounds"`
}

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewReservationSweepTask constructs the expiry sweep task.
func NewReservationSweepTask(batchSize int) (*asynq.Task, error) {
	body, err := json.Marshal(ReservationSweepPayload{BatchSize: batchSize, MaxRounds: 10})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReservationExpire, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(2),
		asynq.Timeout(time.Minute),
	), nil
}

// NewOutboxDrainTask constructs the outbox drain task.
func NewOutboxDrainTask() (*asynq.Task, error) {
	body, err := json.Marshal(OutboxDrainPayload{MaxRounds: 20})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxDrain, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(2),
		asynq.Timeout(time.Minute),
	), nil
}

// NewIdempotencyCleanupTask constructs the idempotency key cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(1),
		asynq.Timeout(5*time.Minute),
	), nil
}
