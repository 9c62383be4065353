package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newCachedQueries(t *testing.T, repo *memoryRepo) (*QueryService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueryService(repo, client, QueryConfig{CacheTTL: time.Minute}), mr
}

func TestReconcileDetectsDrift(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})
	queries := NewQueryService(repo, nil, QueryConfig{})
	ctx := context.Background()

	_, _, err := svc.PostInbound(ctx, MovementInput{ProductID: 1, WarehouseID: 1, Quantity: 40})
	require.NoError(t, err)
	res, err := svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 15})
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, AdjustInput{ProductID: 1, WarehouseID: 1, QuantityChange: -5, Reason: "damaged"})
	require.NoError(t, err)
	_, _, err = svc.PostOutbound(ctx, MovementInput{ProductID: 1, WarehouseID: 1, ReservationID: &res.ID})
	require.NoError(t, err)

	report, err := queries.Reconcile(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, report.InSync())
	require.EqualValues(t, 20, report.LedgerOnHand)
	require.EqualValues(t, 20, report.SnapshotOnHand)
	require.Equal(t, 3, report.Transactions)

	repo.seed(WarehouseStock{ProductID: 1, WarehouseID: 1, Available: 25})
	report, err = queries.Reconcile(ctx, 1, 1)
	require.NoError(t, err)
	require.False(t, report.InSync())
	require.EqualValues(t, 5, report.Drift)

	_, err = queries.Reconcile(ctx, 1, 9)
	require.ErrorIs(t, err, ErrStockNotFound)
}

func TestAvailabilityIsCachedUntilInvalidated(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(
		WarehouseStock{ProductID: 4, WarehouseID: 1, Available: 10, Reserved: 2},
		WarehouseStock{ProductID: 4, WarehouseID: 2, Available: 5, OnOrder: 7},
	)
	queries, mr := newCachedQueries(t, repo)
	ctx := context.Background()

	out, err := queries.Availability(ctx, 4)
	require.NoError(t, err)
	require.EqualValues(t, 15, out.Available)
	require.EqualValues(t, 2, out.Reserved)
	require.EqualValues(t, 7, out.OnOrder)
	require.Equal(t, 2, out.Warehouses)
	require.True(t, mr.Exists(availabilityKey(4)))

	repo.seed(WarehouseStock{ProductID: 4, WarehouseID: 2, Available: 50})
	out, err = queries.Availability(ctx, 4)
	require.NoError(t, err)
	require.EqualValues(t, 15, out.Available, "served from cache")

	queries.Invalidate(ctx, 4)
	require.False(t, mr.Exists(availabilityKey(4)))
	out, err = queries.Availability(ctx, 4)
	require.NoError(t, err)
	require.EqualValues(t, 60, out.Available)
}

func TestServiceInvalidatesAvailabilityOnMutation(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(WarehouseStock{ProductID: 4, WarehouseID: 1, Available: 10})
	queries, _ := newCachedQueries(t, repo)
	svc := newTestService(repo, ServiceConfig{Invalidator: queries})
	ctx := context.Background()

	out, err := queries.Availability(ctx, 4)
	require.NoError(t, err)
	require.EqualValues(t, 10, out.Available)

	_, err = svc.Reserve(ctx, ReserveInput{ProductID: 4, WarehouseID: 1, Quantity: 3})
	require.NoError(t, err)

	out, err = queries.Availability(ctx, 4)
	require.NoError(t, err)
	require.EqualValues(t, 7, out.Available)
	require.EqualValues(t, 3, out.Reserved)
}

func TestAvailabilityUnknownProduct(t *testing.T) {
	queries := NewQueryService(newMemoryRepo(), nil, QueryConfig{})
	_, err := queries.Availability(context.Background(), 99)
	require.ErrorIs(t, err, ErrStockNotFound)
}

func TestLowStockUsesDefaultThreshold(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(
		WarehouseStock{ProductID: 1, WarehouseID: 1, Available: 3},
		WarehouseStock{ProductID: 2, WarehouseID: 1, Available: 30},
		WarehouseStock{ProductID: 3, WarehouseID: 1, Available: 8},
	)
	queries := NewQueryService(repo, nil, QueryConfig{LowStockThreshold: 5})
	ctx := context.Background()

	low, err := queries.LowStock(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.EqualValues(t, 1, low[0].ProductID)

	low, err = queries.LowStock(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, low, 2)
}

func TestTransactionsByReferenceRequiresReference(t *testing.T) {
	queries := NewQueryService(newMemoryRepo(), nil, QueryConfig{})
	_, err := queries.TransactionsByReference(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidInput)
}
