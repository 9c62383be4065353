package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestService(repo *memoryRepo, cfg ServiceConfig) *Service {
	return NewService(repo, nil, cfg)
}

func TestReserveAndReleaseRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(WarehouseStock{ProductID: 1, WarehouseID: 1, Available: 100})
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	res, err := svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 30, OrderID: 9, OrderLineID: 91})
	require.NoError(t, err)
	require.Equal(t, ReservationReserved, res.Status)

	stock, _ := repo.stock(1, 1)
	require.EqualValues(t, 70, stock.Available)
	require.EqualValues(t, 30, stock.Reserved)
	require.Empty(t, repo.transactions(), "reservations do not touch the ledger")

	require.NoError(t, svc.Release(ctx, res.ID))
	stock, _ = repo.stock(1, 1)
	require.EqualValues(t, 100, stock.Available)
	require.EqualValues(t, 0, stock.Reserved)

	stored, err := repo.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	require.Equal(t, ReservationReleased, stored.Status)
	require.NotNil(t, stored.ReleasedAt)
}

func TestReserveInsufficientStockLeavesRowUnchanged(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(WarehouseStock{ProductID: 1, WarehouseID: 1, Available: 10, Reserved: 5})
	svc := newTestService(repo, ServiceConfig{})

	_, err := svc.Reserve(context.Background(), ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 11})
	require.ErrorIs(t, err, ErrInsufficientStock)

	var insufficient *InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	require.EqualValues(t, 11, insufficient.Requested)
	require.EqualValues(t, 10, insufficient.Available)

	stock, _ := repo.stock(1, 1)
	require.EqualValues(t, 10, stock.Available)
	require.EqualValues(t, 5, stock.Reserved)
}

func TestReserveWithoutStockRow(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceConfig{})

	_, err := svc.Reserve(context.Background(), ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 1})
	require.ErrorIs(t, err, ErrStockNotFound)
	_, ok := repo.stock(1, 1)
	require.False(t, ok, "reserve must not create a stock row")
}

func TestReserveRejectsInvalidInput(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(WarehouseStock{ProductID: 1, WarehouseID: 1, Available: 10})
	clock := &fixedClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc := newTestService(repo, ServiceConfig{Clock: clock.Now})
	ctx := context.Background()

	_, err := svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Reserve(ctx, ReserveInput{ProductID: 0, WarehouseID: 1, Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidInput)

	past := clock.Now().Add(-time.Minute)
	_, err = svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 1, ExpiresAt: &past})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestReserveExpiryDefaultsToTTL(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(WarehouseStock{ProductID: 1, WarehouseID: 1, Available: 10})
	clock := &fixedClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	svc := newTestService(repo, ServiceConfig{Clock: clock.Now, ReservationTTL: 45 * time.Minute})
	ctx := context.Background()

	res, err := svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, clock.Now().Add(45*time.Minute), res.ReservedUntil)

	explicit := clock.Now().Add(2 * time.Hour)
	res, err = svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 1, ExpiresAt: &explicit})
	require.NoError(t, err)
	require.Equal(t, explicit, res.ReservedUntil)

	require.Equal(t, DefaultReservationTTL, newTestService(repo, ServiceConfig{}).ReservationTTL())
}

func TestReleaseIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(WarehouseStock{ProductID: 1, WarehouseID: 1, Available: 20})
	svc := newTestService(repo, ServiceConfig{})
	ctx := context.Background()

	require.NoError(t, svc.Release(ctx, uuid.New()), "unknown reservation is a no-op")

	res, err := svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 5})
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, res.ID))
	require.NoError(t, svc.Release(ctx, res.ID))

	stock, _ := repo.stock(1, 1)
	require.EqualValues(t, 20, stock.Available)
	require.EqualValues(t, 0, stock.Reserved)
}

func TestConcurrentReservesNeverOverReserve(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(WarehouseStock{ProductID: 7, WarehouseID: 3, Available: 100})
	svc := newTestService(repo, ServiceConfig{})

	var wg sync.WaitGroup
	var ok, short atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), ReserveInput{ProductID: 7, WarehouseID: 3, Quantity: 7})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrInsufficientStock):
				short.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 14, ok.Load())
	require.EqualValues(t, 36, short.Load())
	stock, _ := repo.stock(7, 3)
	require.EqualValues(t, 2, stock.Available)
	require.EqualValues(t, 98, stock.Reserved)
}

func TestConcurrentOversizedReservesAllowAtMostOne(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(WarehouseStock{ProductID: 1, WarehouseID: 1, Available: 100})
	svc := newTestService(repo, ServiceConfig{})

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Reserve(context.Background(), ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 60}); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, ok.Load())
	stock, _ := repo.stock(1, 1)
	require.EqualValues(t, 40, stock.Available)
	require.EqualValues(t, 60, stock.Reserved)
}

func TestExpireReservationsReturnsQuantity(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(WarehouseStock{ProductID: 1, WarehouseID: 1, Available: 50})
	clock := &fixedClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	svc := newTestService(repo, ServiceConfig{Clock: clock.Now, ReservationTTL: 30 * time.Minute})
	ctx := context.Background()

	short, err := svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 10})
	require.NoError(t, err)
	later := clock.Now().Add(3 * time.Hour)
	long, err := svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 5, ExpiresAt: &later})
	require.NoError(t, err)
	released, err := svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 3})
	require.NoError(t, err)
	require.NoError(t, svc.Release(ctx, released.ID))

	clock.Advance(time.Hour)
	n, err := svc.ExpireReservations(ctx, clock.Now(), 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	stock, _ := repo.stock(1, 1)
	require.EqualValues(t, 45, stock.Available)
	require.EqualValues(t, 5, stock.Reserved)

	got, err := repo.GetReservation(ctx, short.ID)
	require.NoError(t, err)
	require.Equal(t, ReservationExpired, got.Status)
	got, err = repo.GetReservation(ctx, long.ID)
	require.NoError(t, err)
	require.Equal(t, ReservationReserved, got.Status)

	events := repo.events()
	require.Len(t, events, 1)
	require.Equal(t, TopicReservationExpired, events[0].Topic)
	require.Equal(t, "1", events[0].Key)

	n, err = svc.ExpireReservations(ctx, clock.Now(), 100)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, svc.Release(ctx, short.ID), "releasing an expired reservation is a no-op")
	stock, _ = repo.stock(1, 1)
	require.EqualValues(t, 45, stock.Available)
}

func TestExpireReservationsHonoursLimit(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(WarehouseStock{ProductID: 1, WarehouseID: 1, Available: 10})
	clock := &fixedClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	svc := newTestService(repo, ServiceConfig{Clock: clock.Now, ReservationTTL: time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 1})
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Minute)

	n, err := svc.ExpireReservations(ctx, clock.Now(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = svc.ExpireReservations(ctx, clock.Now(), 10)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	stock, _ := repo.stock(1, 1)
	require.EqualValues(t, 10, stock.Available)
	require.Zero(t, stock.Reserved)
}

func TestReserveChecksCatalog(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(WarehouseStock{ProductID: 1, WarehouseID: 1, Available: 10})
	catalog := stubCatalog{products: map[int64]bool{1: true}, warehouses: map[int64]bool{1: true}}
	svc := newTestService(repo, ServiceConfig{Catalog: catalog})
	ctx := context.Background()

	_, err := svc.Reserve(ctx, ReserveInput{ProductID: 2, WarehouseID: 1, Quantity: 1})
	require.ErrorIs(t, err, ErrProductNotFound)
	_, err = svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 2, Quantity: 1})
	require.ErrorIs(t, err, ErrWarehouseNotFound)
	_, err = svc.Reserve(ctx, ReserveInput{ProductID: 1, WarehouseID: 1, Quantity: 1})
	require.NoError(t, err)
}
