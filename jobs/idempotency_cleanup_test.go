package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

type fakeCleaner struct {
	removed   int64
	err       error
	retention time.Duration
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return f.removed, f.err
}

func TestIdempotencyCleanupUsesTaskRetention(t *testing.T) {
	cleaner := &fakeCleaner{removed: 12}
	job := NewIdempotencyCleanupJob(cleaner, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIdempotencyCleanupTask(36 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, TaskIdempotencyCleanup, task.Type())
	require.NoError(t, job.Handle(t.Context(), task))
	require.Equal(t, 36*time.Hour, cleaner.retention)
}

func TestIdempotencyCleanupReturnsStoreError(t *testing.T) {
	boom := errors.New("delete failed")
	job := NewIdempotencyCleanupJob(&fakeCleaner{err: boom}, nil, nil)

	task, err := NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(t.Context(), task), boom)
}

func TestIdempotencyCleanupRejectsMissingRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, nil, nil)

	require.ErrorIs(t, job.Handle(t.Context(), asynq.NewTask(TaskIdempotencyCleanup, []byte(`{}`))), asynq.SkipRetry)
	require.Zero(t, cleaner.retention)
}
