package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Store reads and settles outbox rows in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Enqueue inserts a message outside any caller transaction.
func (s *Store) Enqueue(ctx context.Context, msg Message) error {
	return Insert(ctx, s.pool, msg)
}

// WithBatch claims up to limit pending rows with SKIP LOCKED and hands them to
// fn. Results returned by fn are written back before commit so concurrent
// drainers never publish the same row twice.
func (s *Store) WithBatch(ctx context.Context, limit, maxRetry int, fn func([]Message) []Result) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, topic, message_key, payload, occurred_at, retry_count
FROM outbox_messages
WHERE processed_at IS NULL AND retry_count < $1
ORDER BY occurred_at
LIMIT $2
FOR UPDATE SKIP LOCKED`, maxRetry, limit)
		if err != nil {
			return fmt.Errorf("outbox: claim batch: %w", err)
		}
		msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
			var m Message
			var payload []byte
			if err := row.Scan(&m.ID, &m.Topic, &m.Key, &payload, &m.OccurredAt, &m.RetryCount); err != nil {
				return Message{}, err
			}
			m.Payload = payload
			return m, nil
		})
		if err != nil {
			return fmt.Errorf("outbox: scan batch: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}
		for _, res := range fn(msgs) {
			if err := settle(ctx, tx, res); err != nil {
				return err
			}
		}
		return nil
	})
}

func settle(ctx context.Context, tx pgx.Tx, res Result) error {
	var err error
	if res.Err == nil {
		_, err = tx.Exec(ctx, `UPDATE outbox_messages SET processed_at=$2, last_error=NULL WHERE id=$1`, res.ID, time.Now().UTC())
	} else {
		_, err = tx.Exec(ctx, `UPDATE outbox_messages SET retry_count=retry_count+1, last_error=$2 WHERE id=$1`, res.ID, res.Err.Error())
	}
	if err != nil {
		return fmt.Errorf("outbox: settle %s: %w", res.ID, err)
	}
	return nil
}

// Result is the publish outcome for one message.
type Result struct {
	ID  uuid.UUID
	Err error
}
