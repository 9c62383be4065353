package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
)

// ErrIdempotencyConflict indicates the key is claimed by a request still in flight.
var ErrIdempotencyConflict = httpx.NewError("idempotent request already in progress", httpx.ErrDuplicate)

// StoredResponse is the replayable outcome of a completed request.
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyBackend persists idempotency keys per scope.
type IdempotencyBackend interface {
	// Claim reserves key. When the key already completed the stored response is
	// returned; when it is still in flight ErrIdempotencyConflict is returned.
	Claim(ctx context.Context, scope, key string) (*StoredResponse, error)
	Complete(ctx context.Context, scope, key string, resp StoredResponse) error
	Release(ctx context.Context, scope, key string) error
}

// IdempotencyStore persists processed keys in idempotency_keys.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Claim implements IdempotencyBackend.
func (s *IdempotencyStore) Claim(ctx context.Context, scope, key string) (*StoredResponse, error) {
	if s == nil {
		return nil, errors.New("idempotency store not initialised")
	}
	if key == "" || scope == "" {
		return nil, errors.New("idempotency key and scope required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (scope, key, created_at) VALUES ($1, $2, $3)`, scope, key, time.Now())
	if err == nil {
		return nil, nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil, err
	}

	var status *int
	var body []byte
	err = s.pool.QueryRow(ctx, `SELECT status_code, response FROM idempotency_keys WHERE scope=$1 AND key=$2`, scope, key).Scan(&status, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIdempotencyConflict
	}
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, ErrIdempotencyConflict
	}
	return &StoredResponse{Status: *status, Body: body}, nil
}

// Complete stores the response for replay.
func (s *IdempotencyStore) Complete(ctx context.Context, scope, key string, resp StoredResponse) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE idempotency_keys SET status_code=$3, response=$4, completed_at=NOW() WHERE scope=$1 AND key=$2`, scope, key, resp.Status, resp.Body)
	return err
}

// Release removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE scope=$1 AND key=$2`, scope, key)
	return err
}

// Cleanup removes entries older than retention.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
