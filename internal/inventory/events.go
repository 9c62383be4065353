package inventory

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-stock/internal/outbox"
)

// Event topics written to the outbox.
const (
	TopicReservationExpired = "inventory.reservation.expired"
	TopicStockAdjusted      = "inventory.stock.adjusted"
	TopicStockTransferred   = "inventory.stock.transferred"
)

// ReservationExpiredEvent is emitted when the sweep returns a reservation's quantity.
type ReservationExpiredEvent struct {
	ReservationID uuid.UUID `json:"reservationId"`
	ProductID     int64     `json:"productId"`
	WarehouseID   int64     `json:"warehouseId"`
	OrderID       int64     `json:"orderId"`
	OrderLineID   int64     `json:"orderLineId"`
	Quantity      int64     `json:"quantity"`
	ReservedUntil time.Time `json:"reservedUntil"`
	ExpiredAt     time.Time `json:"expiredAt"`
}

// StockAdjustedEvent describes a posted adjustment.
type StockAdjustedEvent struct {
	ProductID       int64     `json:"productId"`
	WarehouseID     int64     `json:"warehouseId"`
	QuantityChange  int64     `json:"quantityChange"`
	Available       int64     `json:"availableQuantity"`
	Reason          string    `json:"reason"`
	ReferenceNumber string    `json:"referenceNumber"`
	PostedAt        time.Time `json:"postedAt"`
}

// StockTransferredEvent describes a completed transfer.
type StockTransferredEvent struct {
	ProductID       int64     `json:"productId"`
	FromWarehouseID int64     `json:"fromWarehouseId"`
	ToWarehouseID   int64     `json:"toWarehouseId"`
	Quantity        int64     `json:"quantity"`
	ReferenceNumber string    `json:"referenceNumber"`
	PostedAt        time.Time `json:"postedAt"`
}

func productKey(productID int64) string {
	return strconv.FormatInt(productID, 10)
}

func newEvent(topic string, productID int64, payload any) (outbox.Message, error) {
	return outbox.NewMessage(topic, productKey(productID), payload)
}
