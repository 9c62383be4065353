package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	// GetPurchaseOrderForUpdate locks the header row and loads the lines.
	GetPurchaseOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdatePOStatus(ctx context.Context, id int64, status POStatus, at time.Time) error
	// FindResumableStep returns the newest unfinished step for the line,
	// quantity and warehouse, or ErrNotFound.
	FindResumableStep(ctx context.Context, lineID, quantity, warehouseID int64) (ReceiptStep, error)
	NextStepSequence(ctx context.Context, lineID int64) (int, error)
	InsertStep(ctx context.Context, step ReceiptStep) (ReceiptStep, error)
	// UpdateStep writes the step state unless it is already Fulfilled and
	// reports whether a row changed.
	UpdateStep(ctx context.Context, step ReceiptStep) (bool, error)
	// ApplyReceipt adds quantity to the line and recomputes IsFullyReceived.
	ApplyReceipt(ctx context.Context, lineID, quantity int64) (POLine, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const poColumns = `id, number, supplier_id, status, approved_at, received_at`

const lineColumns = `id, po_id, product_id, quantity, received_quantity, is_fully_received`

const stepColumns = `id, po_id, po_line_id, sequence, quantity, warehouse_id, idempotency_key, status, COALESCE(remote_order_id, ''), COALESCE(error, ''), created_at, updated_at`

// GetPurchaseOrder returns purchase order and lines.
func (r *Repository) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return loadPurchaseOrder(ctx, r.pool, id, false)
}

// ListReceiptSteps returns the saga step log for an order, oldest first.
func (r *Repository) ListReceiptSteps(ctx context.Context, poID int64) ([]ReceiptStep, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+stepColumns+`
FROM po_receipt_steps
WHERE po_id=$1
ORDER BY po_line_id, sequence`, poID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ReceiptStep, error) {
		return scanStep(row)
	})
}

func loadPurchaseOrder(ctx context.Context, q db.Querier, id int64, lock bool) (PurchaseOrder, error) {
	query := `SELECT ` + poColumns + ` FROM purchase_orders WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	var po PurchaseOrder
	var status string
	err := q.QueryRow(ctx, query, id).Scan(&po.ID, &po.Number, &po.SupplierID, &status, &po.ApprovedAt, &po.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, fmt.Errorf("%w: purchase order %d", ErrNotFound, id)
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = POStatus(status)

	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM po_lines WHERE po_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (POLine, error) {
		return scanLine(row)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (tx *txRepo) CreatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, status, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
RETURNING id`, po.Number, po.SupplierID, string(po.Status)).Scan(&po.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return PurchaseOrder{}, fmt.Errorf("%w: purchase order number %s already exists", ErrValidation, po.Number)
		}
		return PurchaseOrder{}, fmt.Errorf("procurement: insert purchase order: %w", err)
	}
	for i := range po.Lines {
		line := &po.Lines[i]
		line.POID = po.ID
		err := tx.tx.QueryRow(ctx, `INSERT INTO po_lines (po_id, product_id, quantity, received_quantity, is_fully_received)
VALUES ($1, $2, $3, 0, FALSE)
RETURNING id`, po.ID, line.ProductID, line.Quantity).Scan(&line.ID)
		if err != nil {
			return PurchaseOrder{}, fmt.Errorf("procurement: insert purchase order line: %w", err)
		}
	}
	return po, nil
}

func (tx *txRepo) GetPurchaseOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return loadPurchaseOrder(ctx, tx.tx, id, true)
}

func (tx *txRepo) UpdatePOStatus(ctx context.Context, id int64, status POStatus, at time.Time) error {
	var column string
	switch status {
	case POStatusApproved:
		column = "approved_at"
	case POStatusReceived:
		column = "received_at"
	default:
		column = "updated_at"
	}
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, `+column+`=$3, updated_at=NOW() WHERE id=$1`, id, string(status), at)
	return err
}

func (tx *txRepo) FindResumableStep(ctx context.Context, lineID, quantity, warehouseID int64) (ReceiptStep, error) {
	row := tx.tx.QueryRow(ctx, `SELECT `+stepColumns+`
FROM po_receipt_steps
WHERE po_line_id=$1 AND quantity=$2 AND warehouse_id=$3 AND status <> $4
ORDER BY sequence DESC
LIMIT 1
FOR UPDATE`, lineID, quantity, warehouseID, string(StepFulfilled))
	step, err := scanStep(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReceiptStep{}, ErrNotFound
	}
	return step, err
}

func (tx *txRepo) NextStepSequence(ctx context.Context, lineID int64) (int, error) {
	var next int
	err := tx.tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM po_receipt_steps WHERE po_line_id=$1`, lineID).Scan(&next)
	return next, err
}

func (tx *txRepo) InsertStep(ctx context.Context, step ReceiptStep) (ReceiptStep, error) {
	err := tx.tx.QueryRow(ctx, `INSERT INTO po_receipt_steps (po_id, po_line_id, sequence, quantity, warehouse_id, idempotency_key, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
RETURNING id`, step.POID, step.POLineID, step.Sequence, step.Quantity, step.WarehouseID, step.IdempotencyKey, string(step.Status), step.CreatedAt).Scan(&step.ID)
	if err != nil {
		return ReceiptStep{}, fmt.Errorf("procurement: insert receipt step: %w", err)
	}
	step.UpdatedAt = step.CreatedAt
	return step, nil
}

func (tx *txRepo) UpdateStep(ctx context.Context, step ReceiptStep) (bool, error) {
	tag, err := tx.tx.Exec(ctx, `UPDATE po_receipt_steps
SET status=$2, remote_order_id=NULLIF($3, ''), error=NULLIF($4, ''), updated_at=$5
WHERE id=$1 AND status <> $6`, step.ID, string(step.Status), step.RemoteOrderID, step.Error, step.UpdatedAt, string(StepFulfilled))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (tx *txRepo) ApplyReceipt(ctx context.Context, lineID, quantity int64) (POLine, error) {
	row := tx.tx.QueryRow(ctx, `UPDATE po_lines
SET received_quantity = received_quantity + $2,
    is_fully_received = received_quantity + $2 >= quantity
WHERE id=$1
RETURNING `+lineColumns, lineID, quantity)
	line, err := scanLine(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return POLine{}, fmt.Errorf("%w: purchase order line %d", ErrNotFound, lineID)
	}
	return line, err
}

func scanLine(row pgx.Row) (POLine, error) {
	var l POLine
	err := row.Scan(&l.ID, &l.POID, &l.ProductID, &l.Quantity, &l.ReceivedQuantity, &l.IsFullyReceived)
	return l, err
}

func scanStep(row pgx.Row) (ReceiptStep, error) {
	var s ReceiptStep
	var status string
	err := row.Scan(&s.ID, &s.POID, &s.POLineID, &s.Sequence, &s.Quantity, &s.WarehouseID, &s.IdempotencyKey,
		&status, &s.RemoteOrderID, &s.Error, &s.CreatedAt, &s.UpdatedAt)
	s.Status = StepStatus(status)
	return s, err
}
