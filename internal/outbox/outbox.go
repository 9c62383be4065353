// Package outbox stores integration events in the same transaction as the
// state change that produced them and relays them to the bus.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Message is one pending or processed outbox row.
type Message struct {
	ID          uuid.UUID
	Topic       string
	Key         string
	Payload     json.RawMessage
	OccurredAt  time.Time
	RetryCount  int
	ProcessedAt *time.Time
	LastError   string
}

// NewMessage encodes payload into a Message ready for insert.
func NewMessage(topic, key string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("outbox: encode %s: %w", topic, err)
	}
	return Message{
		ID:         uuid.New(),
		Topic:      topic,
		Key:        key,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// Insert writes msg using q, normally the caller's open transaction.
func Insert(ctx context.Context, q db.Querier, msg Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}
	_, err := q.Exec(ctx, `INSERT INTO outbox_messages (id, topic, message_key, payload, occurred_at, retry_count)
VALUES ($1, $2, $3, $4, $5, 0)`, msg.ID, msg.Topic, msg.Key, []byte(msg.Payload), msg.OccurredAt)
	if err != nil {
		return fmt.Errorf("outbox: insert %s: %w", msg.Topic, err)
	}
	return nil
}
