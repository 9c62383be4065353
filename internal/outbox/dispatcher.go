package outbox

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/bus"
)

// BatchSource yields claimed messages and persists their outcomes.
type BatchSource interface {
	WithBatch(ctx context.Context, limit, maxRetry int, fn func([]Message) []Result) error
}

// Dispatcher relays pending outbox rows to the bus.
type Dispatcher struct {
	source    BatchSource
	publisher bus.Publisher
	logger    *slog.Logger
	batchSize int
	maxRetry  int
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(source BatchSource, publisher bus.Publisher, logger *slog.Logger, batchSize, maxRetry int) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxRetry <= 0 {
		maxRetry = 10
	}
	return &Dispatcher{source: source, publisher: publisher, logger: logger, batchSize: batchSize, maxRetry: maxRetry}
}

// DrainOnce publishes one batch and returns how many rows were delivered.
func (d *Dispatcher) DrainOnce(ctx context.Context) (int, error) {
	delivered := 0
	err := d.source.WithBatch(ctx, d.batchSize, d.maxRetry, func(msgs []Message) []Result {
		results := make([]Result, 0, len(msgs))
		for _, msg := range msgs {
			err := d.publisher.Publish(bus.WithEventID(ctx, msg.ID.String()), msg.Topic, msg.Key, msg.Payload)
			if err != nil {
				d.logger.Warn("outbox publish failed",
					slog.String("topic", msg.Topic),
					slog.String("id", msg.ID.String()),
					slog.Int("retry", msg.RetryCount+1),
					slog.Any("error", err))
				if msg.RetryCount+1 >= d.maxRetry {
					d.logger.Error("outbox message exhausted retries",
						slog.String("topic", msg.Topic),
						slog.String("id", msg.ID.String()))
				}
			} else {
				delivered++
			}
			results = append(results, Result{ID: msg.ID, Err: err})
		}
		return results
	})
	return delivered, err
}
