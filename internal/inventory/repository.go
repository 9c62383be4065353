package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/outbox"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Repository persists stock, ledger and reservation data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the services. Every
// stock mutation and its ledger rows go through one TxRepository.
type TxRepository interface {
	// EnsureStock creates an all-zero row when the pair has none.
	EnsureStock(ctx context.Context, productID, warehouseID int64) error
	// GetStockForUpdate locks the row; ErrStockNotFound when absent.
	GetStockForUpdate(ctx context.Context, productID, warehouseID int64) (WarehouseStock, error)
	UpsertStock(ctx context.Context, stock WarehouseStock) (WarehouseStock, error)
	InsertTransaction(ctx context.Context, txn InventoryTransaction) (InventoryTransaction, error)
	InsertReservation(ctx context.Context, res Reservation) error
	// GetReservationForUpdate locks the reservation; ErrReservationNotFound when absent.
	GetReservationForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error)
	UpdateReservationStatus(ctx context.Context, id uuid.UUID, status ReservationStatus, at time.Time) error
	// ClaimExpiredReservations locks due Reserved rows, skipping rows held by others.
	ClaimExpiredReservations(ctx context.Context, now time.Time, limit int) ([]Reservation, error)
	EnqueueEvent(ctx context.Context, msg outbox.Message) error
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

const stockColumns = `product_id, warehouse_id, available_quantity, reserved_quantity, on_order_quantity, updated_at`

const reservationColumns = `id, product_id, warehouse_id, order_id, order_line_id, quantity, reserved_until, status, created_at, released_at`

func (r *txRepo) EnsureStock(ctx context.Context, productID, warehouseID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO warehouse_stocks (product_id, warehouse_id, available_quantity, reserved_quantity, on_order_quantity, updated_at)
VALUES ($1, $2, 0, 0, 0, NOW())
ON CONFLICT (product_id, warehouse_id) DO NOTHING`, productID, warehouseID)
	return err
}

func (r *txRepo) GetStockForUpdate(ctx context.Context, productID, warehouseID int64) (WarehouseStock, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+stockColumns+`
FROM warehouse_stocks
WHERE product_id=$1 AND warehouse_id=$2
FOR UPDATE`, productID, warehouseID)
	stock, err := scanStock(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return WarehouseStock{ProductID: productID, WarehouseID: warehouseID}, ErrStockNotFound
	}
	return stock, err
}

// storeStock rejects negative counters before writing the row.
func storeStock(ctx context.Context, tx TxRepository, stock WarehouseStock) (WarehouseStock, error) {
	if !stock.valid() {
		return WarehouseStock{}, fmt.Errorf("%w: product %d, warehouse %d", ErrNegativeStock, stock.ProductID, stock.WarehouseID)
	}
	return tx.UpsertStock(ctx, stock)
}

func (r *txRepo) UpsertStock(ctx context.Context, stock WarehouseStock) (WarehouseStock, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO warehouse_stocks (product_id, warehouse_id, available_quantity, reserved_quantity, on_order_quantity, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (product_id, warehouse_id) DO UPDATE
SET available_quantity = EXCLUDED.available_quantity,
    reserved_quantity = EXCLUDED.reserved_quantity,
    on_order_quantity = EXCLUDED.on_order_quantity,
    updated_at = NOW()
RETURNING `+stockColumns, stock.ProductID, stock.WarehouseID, stock.Available, stock.Reserved, stock.OnOrder)
	return scanStock(row)
}

func (r *txRepo) InsertTransaction(ctx context.Context, txn InventoryTransaction) (InventoryTransaction, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_transactions (product_id, warehouse_id, quantity_change, transaction_type, reason, reference_number, transaction_date)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, txn.ProductID, txn.WarehouseID, txn.QuantityChange, string(txn.Type), nullString(txn.Reason), txn.ReferenceNumber, txn.TransactionDate).Scan(&txn.ID)
	if err != nil {
		return InventoryTransaction{}, fmt.Errorf("inventory: insert transaction: %w", err)
	}
	return txn, nil
}

func (r *txRepo) InsertReservation(ctx context.Context, res Reservation) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_reservations (`+reservationColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL)`,
		res.ID, res.ProductID, res.WarehouseID, res.OrderID, res.OrderLineID, res.Quantity, res.ReservedUntil, string(res.Status), res.CreatedAt)
	if err != nil {
		return fmt.Errorf("inventory: insert reservation: %w", err)
	}
	return nil
}

func (r *txRepo) GetReservationForUpdate(ctx context.Context, id uuid.UUID) (Reservation, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM stock_reservations WHERE id=$1 FOR UPDATE`, id)
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrReservationNotFound
	}
	return res, err
}

func (r *txRepo) UpdateReservationStatus(ctx context.Context, id uuid.UUID, status ReservationStatus, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_reservations SET status=$2, released_at=$3 WHERE id=$1`, id, string(status), at)
	return err
}

func (r *txRepo) ClaimExpiredReservations(ctx context.Context, now time.Time, limit int) ([]Reservation, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+reservationColumns+`
FROM stock_reservations
WHERE status=$1 AND reserved_until <= $2
ORDER BY reserved_until
LIMIT $3
FOR UPDATE SKIP LOCKED`, string(ReservationReserved), now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Reservation, error) {
		return scanReservation(row)
	})
}

func (r *txRepo) EnqueueEvent(ctx context.Context, msg outbox.Message) error {
	return outbox.Insert(ctx, r.tx, msg)
}

// GetStock reads one row without locking.
func (r *Repository) GetStock(ctx context.Context, productID, warehouseID int64) (WarehouseStock, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+stockColumns+` FROM warehouse_stocks WHERE product_id=$1 AND warehouse_id=$2`, productID, warehouseID)
	stock, err := scanStock(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return WarehouseStock{}, ErrStockNotFound
	}
	return stock, err
}

// ListStockByProduct lists every warehouse row for a product.
func (r *Repository) ListStockByProduct(ctx context.Context, productID int64) ([]WarehouseStock, error) {
	return r.queryStocks(ctx, `SELECT `+stockColumns+` FROM warehouse_stocks WHERE product_id=$1 ORDER BY warehouse_id`, productID)
}

// ListStockByWarehouse lists every product row in a warehouse.
func (r *Repository) ListStockByWarehouse(ctx context.Context, warehouseID int64) ([]WarehouseStock, error) {
	return r.queryStocks(ctx, `SELECT `+stockColumns+` FROM warehouse_stocks WHERE warehouse_id=$1 ORDER BY product_id`, warehouseID)
}

// ListLowStock lists rows whose available quantity is at or below threshold.
func (r *Repository) ListLowStock(ctx context.Context, threshold int64, limit int) ([]WarehouseStock, error) {
	if limit <= 0 {
		limit = 200
	}
	return r.queryStocks(ctx, `SELECT `+stockColumns+`
FROM warehouse_stocks
WHERE available_quantity <= $1
ORDER BY available_quantity, product_id, warehouse_id
LIMIT $2`, threshold, limit)
}

// ProductAvailability sums counters across warehouses.
func (r *Repository) ProductAvailability(ctx context.Context, productID int64) (Availability, error) {
	out := Availability{ProductID: productID}
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(available_quantity),0), COALESCE(SUM(reserved_quantity),0), COALESCE(SUM(on_order_quantity),0), COUNT(*)
FROM warehouse_stocks WHERE product_id=$1`, productID).Scan(&out.Available, &out.Reserved, &out.OnOrder, &out.Warehouses)
	if err != nil {
		return Availability{}, err
	}
	if out.Warehouses == 0 {
		return out, ErrStockNotFound
	}
	return out, nil
}

// ListTransactionsByReference returns every ledger row sharing a reference.
func (r *Repository) ListTransactionsByReference(ctx context.Context, reference string) ([]InventoryTransaction, error) {
	return r.queryTransactions(ctx, `SELECT id, product_id, warehouse_id, quantity_change, transaction_type, COALESCE(reason,''), reference_number, transaction_date
FROM inventory_transactions WHERE reference_number=$1 ORDER BY id`, reference)
}

// ListTransactions returns the newest ledger rows for a pair.
func (r *Repository) ListTransactions(ctx context.Context, productID, warehouseID int64, limit int) ([]InventoryTransaction, error) {
	if limit <= 0 {
		limit = 200
	}
	return r.queryTransactions(ctx, `SELECT id, product_id, warehouse_id, quantity_change, transaction_type, COALESCE(reason,''), reference_number, transaction_date
FROM inventory_transactions WHERE product_id=$1 AND warehouse_id=$2 ORDER BY transaction_date DESC, id DESC LIMIT $3`, productID, warehouseID, limit)
}

// LedgerTotals replays the ledger for a pair.
func (r *Repository) LedgerTotals(ctx context.Context, productID, warehouseID int64) (sum int64, count int, err error) {
	err = r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity_change),0), COUNT(*) FROM inventory_transactions WHERE product_id=$1 AND warehouse_id=$2`,
		productID, warehouseID).Scan(&sum, &count)
	return sum, count, err
}

// GetReservation reads a reservation without locking.
func (r *Repository) GetReservation(ctx context.Context, id uuid.UUID) (Reservation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM stock_reservations WHERE id=$1`, id)
	res, err := scanReservation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrReservationNotFound
	}
	return res, err
}

func (r *Repository) queryStocks(ctx context.Context, sql string, args ...any) ([]WarehouseStock, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (WarehouseStock, error) {
		return scanStock(row)
	})
}

func (r *Repository) queryTransactions(ctx context.Context, sql string, args ...any) ([]InventoryTransaction, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (InventoryTransaction, error) {
		var t InventoryTransaction
		var typ string
		err := row.Scan(&t.ID, &t.ProductID, &t.WarehouseID, &t.QuantityChange, &typ, &t.Reason, &t.ReferenceNumber, &t.TransactionDate)
		t.Type = TransactionType(typ)
		return t, err
	})
}

func scanStock(row pgx.Row) (WarehouseStock, error) {
	var s WarehouseStock
	err := row.Scan(&s.ProductID, &s.WarehouseID, &s.Available, &s.Reserved, &s.OnOrder, &s.UpdatedAt)
	return s, err
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var res Reservation
	var status string
	err := row.Scan(&res.ID, &res.ProductID, &res.WarehouseID, &res.OrderID, &res.OrderLineID, &res.Quantity,
		&res.ReservedUntil, &status, &res.CreatedAt, &res.ReleasedAt)
	res.Status = ReservationStatus(status)
	return res, err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
