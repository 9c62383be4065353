package inventory

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
)

var (
	// ErrStockNotFound means the product was never stocked at the warehouse.
	ErrStockNotFound = httpx.NewError("inventory: stock record not found", httpx.ErrNotFound)
	// ErrInsufficientStock is matched by *InsufficientStockError.
	ErrInsufficientStock = httpx.NewError("inventory: insufficient stock", httpx.ErrBusinessRule)
	// ErrStockTransferFailed wraps the cause of a rejected transfer.
	ErrStockTransferFailed = httpx.NewError("inventory: stock transfer failed", httpx.ErrBusinessRule)
	// ErrAdjustmentWouldUnderflow is matched by *UnderflowError.
	ErrAdjustmentWouldUnderflow = httpx.NewError("inventory: adjustment would underflow available stock", httpx.ErrBusinessRule)
	// ErrOnOrderUnderflow rejects on-order decrements below zero.
	ErrOnOrderUnderflow = httpx.NewError("inventory: on-order quantity would go negative", httpx.ErrBusinessRule)
	// ErrInvalidQuantity indicates a zero or negative quantity where one is not allowed.
	ErrInvalidQuantity = httpx.NewError("inventory: invalid quantity", httpx.ErrValidation)
	// ErrInvalidInput covers other request validation failures.
	ErrInvalidInput = httpx.NewError("inventory: invalid input", httpx.ErrValidation)
	// ErrReservationNotFound indicates an unknown reservation id.
	ErrReservationNotFound = httpx.NewError("inventory: reservation not found", httpx.ErrNotFound)
	// ErrReservationNotActive rejects consuming a reservation that is no longer held.
	ErrReservationNotActive = httpx.NewError("inventory: reservation not active", httpx.ErrConflict)
	// ErrProductNotFound is returned when the catalog does not know the product.
	ErrProductNotFound = httpx.NewError("inventory: product not found", httpx.ErrNotFound)
	// ErrWarehouseNotFound is returned when the catalog does not know the warehouse.
	ErrWarehouseNotFound = httpx.NewError("inventory: warehouse not found", httpx.ErrNotFound)
	// ErrNegativeStock rejects a stock row with a negative counter.
	ErrNegativeStock = httpx.NewError("inventory: stock counters cannot be negative", httpx.ErrBusinessRule)
)

// InsufficientStockError carries requested versus available quantities.
type InsufficientStockError struct {
	ProductID   int64
	WarehouseID int64
	Requested   int64
	Available   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %d in warehouse %d: requested %d, available %d",
		e.ProductID, e.WarehouseID, e.Requested, e.Available)
}

// Is makes errors.Is(err, ErrInsufficientStock) match.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ProblemExtensions exposes the quantities to HTTP callers.
func (e *InsufficientStockError) ProblemExtensions() map[string]any {
	return map[string]any{
		"productId":         e.ProductID,
		"warehouseId":       e.WarehouseID,
		"requestedQuantity": e.Requested,
		"availableQuantity": e.Available,
	}
}

// UnderflowError reports an adjustment that would drive available stock negative.
type UnderflowError struct {
	ProductID      int64
	WarehouseID    int64
	QuantityChange int64
	Available      int64
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("inventory: adjustment %d on product %d in warehouse %d would underflow available %d",
		e.QuantityChange, e.ProductID, e.WarehouseID, e.Available)
}

// Is makes errors.Is(err, ErrAdjustmentWouldUnderflow) match.
func (e *UnderflowError) Is(target error) bool {
	return target == ErrAdjustmentWouldUnderflow
}

// ProblemExtensions exposes the quantities to HTTP callers.
func (e *UnderflowError) ProblemExtensions() map[string]any {
	return map[string]any{
		"productId":         e.ProductID,
		"warehouseId":       e.WarehouseID,
		"quantityChange":    e.QuantityChange,
		"availableQuantity": e.Available,
	}
}

// notFoundError attaches ids to a not-found sentinel.
type notFoundError struct {
	sentinel    error
	ProductID   int64
	WarehouseID int64
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("%s: product %d, warehouse %d", e.sentinel.Error(), e.ProductID, e.WarehouseID)
}

func (e *notFoundError) Unwrap() error { return e.sentinel }

func (e *notFoundError) ProblemExtensions() map[string]any {
	return map[string]any{"productId": e.ProductID, "warehouseId": e.WarehouseID}
}

func stockNotFound(productID, warehouseID int64) error {
	return &notFoundError{sentinel: ErrStockNotFound, ProductID: productID, WarehouseID: warehouseID}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrAdjustmentWouldUnderflow), errors.Is(err, ErrOnOrderUnderflow), errors.Is(err, ErrNegativeStock):
		return "underflow"
	case errors.Is(err, ErrStockNotFound), errors.Is(err, ErrProductNotFound), errors.Is(err, ErrWarehouseNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrReservationNotActive):
		return "invalid"
	default:
		return "error"
	}
}
