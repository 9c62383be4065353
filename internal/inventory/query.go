package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ReadRepository is the non-locking read side of the ledger.
type ReadRepository interface {
	GetStock(ctx context.Context, productID, warehouseID int64) (WarehouseStock, error)
	ListStockByProduct(ctx context.Context, productID int64) ([]WarehouseStock, error)
	ListStockByWarehouse(ctx context.Context, warehouseID int64) ([]WarehouseStock, error)
	ListLowStock(ctx context.Context, threshold int64, limit int) ([]WarehouseStock, error)
	ProductAvailability(ctx context.Context, productID int64) (Availability, error)
	ListTransactionsByReference(ctx context.Context, reference string) ([]InventoryTransaction, error)
	ListTransactions(ctx context.Context, productID, warehouseID int64, limit int) ([]InventoryTransaction, error)
	LedgerTotals(ctx context.Context, productID, warehouseID int64) (int64, int, error)
	GetReservation(ctx context.Context, id uuid.UUID) (Reservation, error)
}

// QueryConfig tunes the read projections.
type QueryConfig struct {
	LowStockThreshold int64
	CacheTTL          time.Duration
	Logger            *slog.Logger
}

// QueryService serves warehouse-stock read projections. Product availability
// is cached in Redis and concurrent loads for one product are collapsed.
type QueryService struct {
	repo      ReadRepository
	cache     *redis.Client
	ttl       time.Duration
	threshold int64
	logger    *slog.Logger
	group     singleflight.Group
}

// NewQueryService builds QueryService. cache may be nil.
func NewQueryService(repo ReadRepository, cache *redis.Client, cfg QueryConfig) *QueryService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	threshold := cfg.LowStockThreshold
	if threshold <= 0 {
		threshold = 10
	}
	return &QueryService{repo: repo, cache: cache, ttl: ttl, threshold: threshold, logger: logger}
}

// GetStock returns the row for a pair.
func (q *QueryService) GetStock(ctx context.Context, productID, warehouseID int64) (WarehouseStock, error) {
	stock, err := q.repo.GetStock(ctx, productID, warehouseID)
	if errors.Is(err, ErrStockNotFound) {
		return WarehouseStock{}, stockNotFound(productID, warehouseID)
	}
	return stock, err
}

// ListByProduct lists a product across warehouses.
func (q *QueryService) ListByProduct(ctx context.Context, productID int64) ([]WarehouseStock, error) {
	return q.repo.ListStockByProduct(ctx, productID)
}

// ListByWarehouse lists a warehouse's products.
func (q *QueryService) ListByWarehouse(ctx context.Context, warehouseID int64) ([]WarehouseStock, error) {
	return q.repo.ListStockByWarehouse(ctx, warehouseID)
}

// LowStock lists rows at or below threshold; zero uses the configured default.
func (q *QueryService) LowStock(ctx context.Context, threshold int64, limit int) ([]WarehouseStock, error) {
	if threshold <= 0 {
		threshold = q.threshold
	}
	return q.repo.ListLowStock(ctx, threshold, limit)
}

// TransactionsByReference returns ledger rows sharing a reference number.
func (q *QueryService) TransactionsByReference(ctx context.Context, reference string) ([]InventoryTransaction, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: reference required", ErrInvalidInput)
	}
	return q.repo.ListTransactionsByReference(ctx, reference)
}

// Transactions lists the newest ledger rows for a pair.
func (q *QueryService) Transactions(ctx context.Context, productID, warehouseID int64, limit int) ([]InventoryTransaction, error) {
	return q.repo.ListTransactions(ctx, productID, warehouseID, limit)
}

// GetReservation loads a reservation by id.
func (q *QueryService) GetReservation(ctx context.Context, id uuid.UUID) (Reservation, error) {
	return q.repo.GetReservation(ctx, id)
}

// Reconcile replays the ledger for a pair and compares it with the snapshot's
// on-hand quantity.
func (q *QueryService) Reconcile(ctx context.Context, productID, warehouseID int64) (ReconcileReport, error) {
	stock, err := q.GetStock(ctx, productID, warehouseID)
	if err != nil {
		return ReconcileReport{}, err
	}
	sum, count, err := q.repo.LedgerTotals(ctx, productID, warehouseID)
	if err != nil {
		return ReconcileReport{}, err
	}
	report := ReconcileReport{
		ProductID:      productID,
		WarehouseID:    warehouseID,
		LedgerOnHand:   sum,
		SnapshotOnHand: stock.OnHand(),
		Drift:          stock.OnHand() - sum,
		Transactions:   count,
	}
	if !report.InSync() {
		q.logger.Warn("stock ledger drift detected",
			slog.Int64("product_id", productID),
			slog.Int64("warehouse_id", warehouseID),
			slog.Int64("drift", report.Drift))
	}
	return report, nil
}

// Availability sums a product across warehouses.
func (q *QueryService) Availability(ctx context.Context, productID int64) (Availability, error) {
	key := availabilityKey(productID)
	if q.cache != nil {
		payload, err := q.cache.Get(ctx, key).Bytes()
		if err == nil {
			var out Availability
			if err := json.Unmarshal(payload, &out); err == nil {
				return out, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			q.logger.Warn("availability cache read failed", slog.Any("error", err))
		}
	}

	ch := q.group.DoChan(key, func() (any, error) {
		out, err := q.repo.ProductAvailability(context.WithoutCancel(ctx), productID)
		if err != nil {
			return Availability{}, err
		}
		if q.cache != nil {
			if raw, err := json.Marshal(out); err == nil {
				if err := q.cache.Set(context.WithoutCancel(ctx), key, raw, q.ttl).Err(); err != nil {
					q.logger.Warn("availability cache write failed", slog.Any("error", err))
				}
			}
		}
		return out, nil
	})
	select {
	case <-ctx.Done():
		return Availability{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, ErrStockNotFound) {
				return Availability{}, &notFoundError{sentinel: ErrStockNotFound, ProductID: productID}
			}
			return Availability{}, res.Err
		}
		return res.Val.(Availability), nil
	}
}

// Invalidate implements AvailabilityInvalidator.
func (q *QueryService) Invalidate(ctx context.Context, productIDs ...int64) {
	if q == nil || q.cache == nil || len(productIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, availabilityKey(id))
	}
	if err := q.cache.Del(ctx, keys...).Err(); err != nil {
		q.logger.Warn("availability cache invalidation failed", slog.Any("error", err))
	}
}

func availabilityKey(productID int64) string {
	return fmt.Sprintf("inventory:availability:%d", productID)
}
