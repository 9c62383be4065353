package procurement

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/integration/orders"
)

type memoryState struct {
	orders   map[int64]PurchaseOrder
	steps    map[int64]ReceiptStep
	nextPO   int64
	nextLine int64
	nextStep int64
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		orders:   make(map[int64]PurchaseOrder, len(s.orders)),
		steps:    maps.Clone(s.steps),
		nextPO:   s.nextPO,
		nextLine: s.nextLine,
		nextStep: s.nextStep,
	}
	for id, po := range s.orders {
		po.Lines = slices.Clone(po.Lines)
		out.orders[id] = po
	}
	return out
}

type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryTx struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{orders: map[int64]PurchaseOrder{}, steps: map[int64]ReceiptStep{}}}
}

// seedOrder stores po with fresh line ids and returns it.
func (r *memoryRepo) seedOrder(status POStatus, quantities ...int64) PurchaseOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.nextPO++
	po := PurchaseOrder{ID: r.state.nextPO, Number: fmt.Sprintf("PO-%d", r.state.nextPO), SupplierID: 77, Status: status}
	for i, q := range quantities {
		r.state.nextLine++
		po.Lines = append(po.Lines, POLine{ID: r.state.nextLine, POID: po.ID, ProductID: int64(100 + i), Quantity: q})
	}
	r.state.orders[po.ID] = po
	return po
}

func (r *memoryRepo) order(id int64) PurchaseOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	po := r.state.orders[id]
	po.Lines = slices.Clone(po.Lines)
	return po
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) GetPurchaseOrder(_ context.Context, id int64) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.state.orders[id]
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("%w: purchase order %d", ErrNotFound, id)
	}
	po.Lines = slices.Clone(po.Lines)
	return po, nil
}

func (r *memoryRepo) ListReceiptSteps(_ context.Context, poID int64) ([]ReceiptStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ReceiptStep
	for _, s := range r.state.steps {
		if s.POID == poID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b ReceiptStep) int {
		if a.POLineID != b.POLineID {
			return int(a.POLineID - b.POLineID)
		}
		return a.Sequence - b.Sequence
	})
	return out, nil
}

func (tx *memoryTx) CreatePurchaseOrder(_ context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	tx.state.nextPO++
	po.ID = tx.state.nextPO
	po.Lines = slices.Clone(po.Lines)
	for i := range po.Lines {
		tx.state.nextLine++
		po.Lines[i].ID = tx.state.nextLine
		po.Lines[i].POID = po.ID
	}
	tx.state.orders[po.ID] = po
	return po, nil
}

func (tx *memoryTx) GetPurchaseOrderForUpdate(_ context.Context, id int64) (PurchaseOrder, error) {
	po, ok := tx.state.orders[id]
	if !ok {
		return PurchaseOrder{}, fmt.Errorf("%w: purchase order %d", ErrNotFound, id)
	}
	po.Lines = slices.Clone(po.Lines)
	return po, nil
}

func (tx *memoryTx) UpdatePOStatus(_ context.Context, id int64, status POStatus, at time.Time) error {
	po := tx.state.orders[id]
	po.Status = status
	switch status {
	case POStatusApproved:
		po.ApprovedAt = &at
	case POStatusReceived:
		po.ReceivedAt = &at
	}
	tx.state.orders[id] = po
	return nil
}

func (tx *memoryTx) FindResumableStep(_ context.Context, lineID, quantity, warehouseID int64) (ReceiptStep, error) {
	var found *ReceiptStep
	for _, s := range tx.state.steps {
		if s.POLineID != lineID || s.Quantity != quantity || s.WarehouseID != warehouseID || !s.Resumable() {
			continue
		}
		if found == nil || s.Sequence > found.Sequence {
			found = &s
		}
	}
	if found == nil {
		return ReceiptStep{}, ErrNotFound
	}
	return *found, nil
}

func (tx *memoryTx) NextStepSequence(_ context.Context, lineID int64) (int, error) {
	next := 1
	for _, s := range tx.state.steps {
		if s.POLineID == lineID && s.Sequence >= next {
			next = s.Sequence + 1
		}
	}
	return next, nil
}

func (tx *memoryTx) InsertStep(_ context.Context, step ReceiptStep) (ReceiptStep, error) {
	tx.state.nextStep++
	step.ID = tx.state.nextStep
	step.UpdatedAt = step.CreatedAt
	tx.state.steps[step.ID] = step
	return step, nil
}

func (tx *memoryTx) UpdateStep(_ context.Context, step ReceiptStep) (bool, error) {
	current, ok := tx.state.steps[step.ID]
	if !ok || !current.Resumable() {
		return false, nil
	}
	current.Status = step.Status
	current.RemoteOrderID = step.RemoteOrderID
	current.Error = step.Error
	current.UpdatedAt = step.UpdatedAt
	tx.state.steps[step.ID] = current
	return true, nil
}

func (tx *memoryTx) ApplyReceipt(_ context.Context, lineID, quantity int64) (POLine, error) {
	for id, po := range tx.state.orders {
		for i, l := range po.Lines {
			if l.ID != lineID {
				continue
			}
			l.ReceivedQuantity += quantity
			l.IsFullyReceived = l.ReceivedQuantity >= l.Quantity
			po.Lines = slices.Clone(po.Lines)
			po.Lines[i] = l
			tx.state.orders[id] = po
			return l, nil
		}
	}
	return POLine{}, fmt.Errorf("%w: purchase order line %d", ErrNotFound, lineID)
}

type ordersCall struct {
	op      string
	key     string
	orderID string
	create  orders.CreateOrderRequest
}

// fakeOrders records calls and fails the operations named in failCreate or
// failFulfill, keyed by product id.
type fakeOrders struct {
	mu          sync.Mutex
	calls       []ordersCall
	failCreate  map[int64]error
	failFulfill map[string]error
	created     map[string]string
	nextID      int

	// beforeCreate runs outside the lock on every create call.
	beforeCreate func()
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{failCreate: map[int64]error{}, failFulfill: map[string]error{}, created: map[string]string{}}
}

func (f *fakeOrders) CreateInboundOrder(_ context.Context, key string, req orders.CreateOrderRequest) (orders.Order, error) {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ordersCall{op: "create", key: key, create: req})
	if err := f.failCreate[req.Lines[0].ProductID]; err != nil {
		return orders.Order{}, err
	}
	if id, ok := f.created[key]; ok {
		return orders.Order{ID: orders.OrderID(id)}, nil
	}
	f.nextID++
	id := fmt.Sprintf("ord-%d", f.nextID)
	f.created[key] = id
	return orders.Order{ID: orders.OrderID(id), OrderNumber: req.OrderNumber}, nil
}

func (f *fakeOrders) FulfillOrder(_ context.Context, key string, orderID string, _ orders.FulfillRequest) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ordersCall{op: "fulfill", key: key, orderID: orderID})
	if err := f.failFulfill[orderID]; err != nil {
		return orders.Order{}, err
	}
	return orders.Order{ID: orders.OrderID(orderID), Status: "Fulfilled"}, nil
}

func (f *fakeOrders) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (f *fakeOrders) clearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCreate = map[int64]error{}
	f.failFulfill = map[string]error{}
}

var errRemote = errors.New("orders unavailable")
