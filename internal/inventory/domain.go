package inventory

import (
	"time"

	"github.com/google/uuid"
)

// WarehouseStock is the counter snapshot for one (product, warehouse) pair.
type WarehouseStock struct {
	ProductID   int64     `json:"productId"`
	WarehouseID int64     `json:"warehouseId"`
	Available   int64     `json:"availableQuantity"`
	Reserved    int64     `json:"reservedQuantity"`
	OnOrder     int64     `json:"onOrderQuantity"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// OnHand is the physical quantity: available plus reserved.
func (s WarehouseStock) OnHand() int64 {
	return s.Available + s.Reserved
}

func (s WarehouseStock) valid() bool {
	return s.Available >= 0 && s.Reserved >= 0 && s.OnOrder >= 0
}

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	// TransactionTypeInbound represents goods arriving at a warehouse.
	TransactionTypeInbound TransactionType = "Inbound"
	// TransactionTypeOutbound represents goods leaving a warehouse.
	TransactionTypeOutbound TransactionType = "Outbound"
	// TransactionTypeAdjustment indicates manual corrections.
	TransactionTypeAdjustment TransactionType = "Adjustment"
	// TransactionTypeTransferOut is the source leg of a transfer.
	TransactionTypeTransferOut TransactionType = "TransferOut"
	// TransactionTypeTransferIn is the destination leg of a transfer.
	TransactionTypeTransferIn TransactionType = "TransferIn"
)

// InventoryTransaction is an immutable ledger fact.
type InventoryTransaction struct {
	ID              int64           `json:"id"`
	ProductID       int64           `json:"productId"`
	WarehouseID     int64           `json:"warehouseId"`
	QuantityChange  int64           `json:"quantityChange"`
	Type            TransactionType `json:"transactionType"`
	Reason          string          `json:"reason,omitempty"`
	ReferenceNumber string          `json:"referenceNumber"`
	TransactionDate time.Time       `json:"transactionDate"`
}

// ReservationStatus tracks the reservation lifecycle.
type ReservationStatus string

const (
	// ReservationReserved holds quantity against an order line.
	ReservationReserved ReservationStatus = "Reserved"
	// ReservationReleased returned its quantity on request.
	ReservationReleased ReservationStatus = "Released"
	// ReservationExpired returned its quantity after ReservedUntil passed.
	ReservationExpired ReservationStatus = "Expired"
	// ReservationConsumed left the warehouse through an outbound movement.
	ReservationConsumed ReservationStatus = "Consumed"
)

// Reservation earmarks available stock for an order line.
type Reservation struct {
	ID            uuid.UUID         `json:"id"`
	ProductID     int64             `json:"productId"`
	WarehouseID   int64             `json:"warehouseId"`
	OrderID       int64             `json:"orderId"`
	OrderLineID   int64             `json:"orderLineId"`
	Quantity      int64             `json:"quantity"`
	ReservedUntil time.Time         `json:"reservedUntil"`
	Status        ReservationStatus `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	ReleasedAt    *time.Time        `json:"releasedAt,omitempty"`
}

// ReserveInput describes a reservation request.
type ReserveInput struct {
	ProductID   int64
	WarehouseID int64
	Quantity    int64
	OrderID     int64
	OrderLineID int64
	ExpiresAt   *time.Time
}

// TransferInput describes a transfer between warehouses.
type TransferInput struct {
	ProductID       int64
	FromWarehouseID int64
	ToWarehouseID   int64
	Quantity        int64
	ReferenceNumber string
}

// TransferResult reports both rows and both ledger legs.
type TransferResult struct {
	ReferenceNumber string                 `json:"referenceNumber"`
	Source          WarehouseStock         `json:"source"`
	Destination     WarehouseStock         `json:"destination"`
	Legs            []InventoryTransaction `json:"legs"`
}

// AdjustInput describes a signed correction to available stock.
type AdjustInput struct {
	ProductID       int64
	WarehouseID     int64
	QuantityChange  int64
	Reason          string
	ReferenceNumber string
}

// MovementInput describes an inbound or outbound movement.
type MovementInput struct {
	ProductID       int64
	WarehouseID     int64
	Quantity        int64
	Reason          string
	ReferenceNumber string
	// ReservationID consumes a reservation on outbound instead of free stock.
	ReservationID *uuid.UUID
	// ReleaseOnOrder reduces the on-order counter by the inbound quantity.
	ReleaseOnOrder bool
}

// OnOrderInput changes the expected-inbound counter.
type OnOrderInput struct {
	ProductID   int64
	WarehouseID int64
	Delta       int64
}

// Availability sums a product's counters across warehouses.
type Availability struct {
	ProductID  int64 `json:"productId"`
	Available  int64 `json:"availableQuantity"`
	Reserved   int64 `json:"reservedQuantity"`
	OnOrder    int64 `json:"onOrderQuantity"`
	Warehouses int   `json:"warehouseCount"`
}

// ReconcileReport compares the replayed ledger with the stock snapshot.
type ReconcileReport struct {
	ProductID      int64 `json:"productId"`
	WarehouseID    int64 `json:"warehouseId"`
	LedgerOnHand   int64 `json:"ledgerOnHand"`
	SnapshotOnHand int64 `json:"snapshotOnHand"`
	Drift          int64 `json:"drift"`
	Transactions   int   `json:"transactionCount"`
}

// InSync reports whether ledger and snapshot agree.
func (r ReconcileReport) InSync() bool {
	return r.Drift == 0
}
