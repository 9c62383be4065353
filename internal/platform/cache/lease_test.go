package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLeaser(t *testing.T) (*Leaser, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLeaser(client, "stock"), mr
}

func TestLeaseExclusive(t *testing.T) {
	leaser, _ := newTestLeaser(t)
	ctx := context.Background()

	first, err := leaser.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	_, err = leaser.Acquire(ctx, "sweep", time.Minute)
	require.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, first.Release(ctx))

	second, err := leaser.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestLeaseExpires(t *testing.T) {
	leaser, mr := newTestLeaser(t)
	ctx := context.Background()

	_, err := leaser.Acquire(ctx, "sweep", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = leaser.Acquire(ctx, "sweep", time.Second)
	require.NoError(t, err)
}

func TestStaleLeaseDoesNotReleaseNewHolder(t *testing.T) {
	leaser, mr := newTestLeaser(t)
	ctx := context.Background()

	stale, err := leaser.Acquire(ctx, "sweep", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, err = leaser.Acquire(ctx, "sweep", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	require.True(t, mr.Exists("stock:lease:sweep"))
}

func TestLeaseExtendKeepsOwnerAlive(t *testing.T) {
	leaser, mr := newTestLeaser(t)
	ctx := context.Background()

	lease, err := leaser.Acquire(ctx, "receive", 2*time.Second)
	require.NoError(t, err)
	mr.FastForward(time.Second)
	require.NoError(t, lease.Extend(ctx, 5*time.Second))
	require.Equal(t, 5*time.Second, mr.TTL("stock:lease:receive"))

	mr.FastForward(3 * time.Second)
	_, err = leaser.Acquire(ctx, "receive", time.Second)
	require.ErrorIs(t, err, ErrLeaseHeld)
}

func TestLeaseExtendAfterExpiryIsLost(t *testing.T) {
	leaser, mr := newTestLeaser(t)
	ctx := context.Background()

	stale, err := leaser.Acquire(ctx, "receive", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := leaser.Acquire(ctx, "receive", time.Minute)
	require.NoError(t, err)

	require.ErrorIs(t, stale.Extend(ctx, time.Minute), ErrLeaseLost)
	require.NoError(t, fresh.Extend(ctx, time.Minute))
}

func TestNilLeaserAlwaysGrants(t *testing.T) {
	var leaser *Leaser
	lease, err := leaser.Acquire(context.Background(), "x", time.Second)
	require.NoError(t, err)
	require.NoError(t, lease.Extend(context.Background(), time.Second))
	require.NoError(t, lease.Release(context.Background()))
}

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(t.Context(), mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = New(t.Context(), mr.Addr())
	require.Error(t, err)
}
