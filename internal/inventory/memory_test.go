package inventory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-stock/internal/outbox"
)

type stockKey struct {
	productID   int64
	warehouseID int64
}

type memoryState struct {
	stocks       map[stockKey]WarehouseStock
	txns         []InventoryTransaction
	reservations map[uuid.UUID]Reservation
	events       []outbox.Message
	nextTxnID    int64
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		stocks:       maps.Clone(s.stocks),
		txns:         slices.Clone(s.txns),
		reservations: maps.Clone(s.reservations),
		events:       slices.Clone(s.events),
		nextTxnID:    s.nextTxnID,
	}
}

// memoryRepo commits a copy of the state only when the callback succeeds and
// serialises transactions the way row locks would.
type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState

	// retries discards that many successful attempts and runs the callback
	// again, like db.WithTx after a deadlock.
	retries int
}

type memoryTx struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		stocks:       make(map[stockKey]WarehouseStock),
		reservations: make(map[uuid.UUID]Reservation),
	}}
}

func (r *memoryRepo) seed(stocks ...WarehouseStock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range stocks {
		r.state.stocks[stockKey{s.ProductID, s.WarehouseID}] = s
	}
}

func (r *memoryRepo) stock(productID, warehouseID int64) (WarehouseStock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state.stocks[stockKey{productID, warehouseID}]
	return s, ok
}

func (r *memoryRepo) transactions() []InventoryTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.state.txns)
}

func (r *memoryRepo) events() []outbox.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.state.events)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ; r.retries > 0; r.retries-- {
		if err := fn(ctx, &memoryTx{state: r.state.clone()}); err != nil {
			return err
		}
	}
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (tx *memoryTx) EnsureStock(_ context.Context, productID, warehouseID int64) error {
	k := stockKey{productID, warehouseID}
	if _, ok := tx.state.stocks[k]; !ok {
		tx.state.stocks[k] = WarehouseStock{ProductID: productID, WarehouseID: warehouseID}
	}
	return nil
}

func (tx *memoryTx) GetStockForUpdate(_ context.Context, productID, warehouseID int64) (WarehouseStock, error) {
	if s, ok := tx.state.stocks[stockKey{productID, warehouseID}]; ok {
		return s, nil
	}
	return WarehouseStock{ProductID: productID, WarehouseID: warehouseID}, ErrStockNotFound
}

func (tx *memoryTx) UpsertStock(_ context.Context, stock WarehouseStock) (WarehouseStock, error) {
	stock.UpdatedAt = time.Now().UTC()
	tx.state.stocks[stockKey{stock.ProductID, stock.WarehouseID}] = stock
	return stock, nil
}

func (tx *memoryTx) InsertTransaction(_ context.Context, txn InventoryTransaction) (InventoryTransaction, error) {
	tx.state.nextTxnID++
	txn.ID = tx.state.nextTxnID
	tx.state.txns = append(tx.state.txns, txn)
	return txn, nil
}

func (tx *memoryTx) InsertReservation(_ context.Context, res Reservation) error {
	tx.state.reservations[res.ID] = res
	return nil
}

func (tx *memoryTx) GetReservationForUpdate(_ context.Context, id uuid.UUID) (Reservation, error) {
	res, ok := tx.state.reservations[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return res, nil
}

func (tx *memoryTx) UpdateReservationStatus(_ context.Context, id uuid.UUID, status ReservationStatus, at time.Time) error {
	res := tx.state.reservations[id]
	res.Status = status
	res.ReleasedAt = &at
	tx.state.reservations[id] = res
	return nil
}

func (tx *memoryTx) ClaimExpiredReservations(_ context.Context, now time.Time, limit int) ([]Reservation, error) {
	var due []Reservation
	for _, res := range tx.state.reservations {
		if res.Status == ReservationReserved && !res.ReservedUntil.After(now) {
			due = append(due, res)
		}
	}
	slices.SortFunc(due, func(a, b Reservation) int { return a.ReservedUntil.Compare(b.ReservedUntil) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (tx *memoryTx) EnqueueEvent(_ context.Context, msg outbox.Message) error {
	tx.state.events = append(tx.state.events, msg)
	return nil
}

func (r *memoryRepo) GetStock(_ context.Context, productID, warehouseID int64) (WarehouseStock, error) {
	if s, ok := r.stock(productID, warehouseID); ok {
		return s, nil
	}
	return WarehouseStock{}, ErrStockNotFound
}

func (r *memoryRepo) filterStocks(keep func(WarehouseStock) bool) []WarehouseStock {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WarehouseStock
	for _, s := range r.state.stocks {
		if keep(s) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b WarehouseStock) int {
		if a.ProductID != b.ProductID {
			return int(a.ProductID - b.ProductID)
		}
		return int(a.WarehouseID - b.WarehouseID)
	})
	return out
}

func (r *memoryRepo) ListStockByProduct(_ context.Context, productID int64) ([]WarehouseStock, error) {
	return r.filterStocks(func(s WarehouseStock) bool { return s.ProductID == productID }), nil
}

func (r *memoryRepo) ListStockByWarehouse(_ context.Context, warehouseID int64) ([]WarehouseStock, error) {
	return r.filterStocks(func(s WarehouseStock) bool { return s.WarehouseID == warehouseID }), nil
}

func (r *memoryRepo) ListLowStock(_ context.Context, threshold int64, limit int) ([]WarehouseStock, error) {
	out := r.filterStocks(func(s WarehouseStock) bool { return s.Available <= threshold })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) ProductAvailability(_ context.Context, productID int64) (Availability, error) {
	out := Availability{ProductID: productID}
	for _, s := range r.filterStocks(func(s WarehouseStock) bool { return s.ProductID == productID }) {
		out.Available += s.Available
		out.Reserved += s.Reserved
		out.OnOrder += s.OnOrder
		out.Warehouses++
	}
	if out.Warehouses == 0 {
		return out, ErrStockNotFound
	}
	return out, nil
}

func (r *memoryRepo) ListTransactionsByReference(_ context.Context, reference string) ([]InventoryTransaction, error) {
	var out []InventoryTransaction
	for _, t := range r.transactions() {
		if t.ReferenceNumber == reference {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListTransactions(_ context.Context, productID, warehouseID int64, limit int) ([]InventoryTransaction, error) {
	var out []InventoryTransaction
	for _, t := range r.transactions() {
		if t.ProductID == productID && t.WarehouseID == warehouseID {
			out = append(out, t)
		}
	}
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) LedgerTotals(_ context.Context, productID, warehouseID int64) (int64, int, error) {
	var sum int64
	var count int
	for _, t := range r.transactions() {
		if t.ProductID == productID && t.WarehouseID == warehouseID {
			sum += t.QuantityChange
			count++
		}
	}
	return sum, count, nil
}

func (r *memoryRepo) GetReservation(_ context.Context, id uuid.UUID) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.state.reservations[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return res, nil
}

type stubCatalog struct {
	products   map[int64]bool
	warehouses map[int64]bool
}

func (c stubCatalog) ProductExists(_ context.Context, id int64) (bool, error) {
	return c.products[id], nil
}

func (c stubCatalog) WarehouseExists(_ context.Context, id int64) (bool, error) {
	return c.warehouses[id], nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
