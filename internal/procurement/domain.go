package procurement

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
)

// POStatus is the purchase order lifecycle.
type POStatus string

const (
	POStatusDraft    POStatus = "Draft"
	POStatusApproved POStatus = "Approved"
	POStatusReceived POStatus = "Received"
)

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID         int64      `json:"id"`
	Number     string     `json:"number"`
	SupplierID int64      `json:"supplierId"`
	Status     POStatus   `json:"status"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
	Lines      []POLine   `json:"lines"`
}

// Line returns the line with id.
func (po PurchaseOrder) Line(id int64) (POLine, bool) {
	for _, l := range po.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return POLine{}, false
}

// FullyReceived reports whether every line has been received in full.
func (po PurchaseOrder) FullyReceived() bool {
	if len(po.Lines) == 0 {
		return false
	}
	for _, l := range po.Lines {
		if !l.IsFullyReceived {
			return false
		}
	}
	return true
}

// POLine represents PO lines.
type POLine struct {
	ID               int64 `json:"id"`
	POID             int64 `json:"purchaseOrderId"`
	ProductID        int64 `json:"productId"`
	Quantity         int64 `json:"quantity"`
	ReceivedQuantity int64 `json:"receivedQuantity"`
	IsFullyReceived  bool  `json:"isFullyReceived"`
}

// StepStatus tracks one receipt step through the remote calls.
type StepStatus string

const (
	// StepPending is opened before any remote call.
	StepPending StepStatus = "Pending"
	// StepCreated has a remote inbound order that is not yet fulfilled.
	StepCreated StepStatus = "Created"
	// StepFulfilled is terminal; its quantity is counted on the line.
	StepFulfilled StepStatus = "Fulfilled"
	// StepFailed stopped at a remote call and can be resumed.
	StepFailed StepStatus = "Failed"
)

// ReceiptStep is the persisted saga state for receiving one quantity on one line.
type ReceiptStep struct {
	ID             int64      `json:"id"`
	POID           int64      `json:"purchaseOrderId"`
	POLineID       int64      `json:"purchaseOrderLineId"`
	Sequence       int        `json:"sequence"`
	Quantity       int64      `json:"quantity"`
	WarehouseID    int64      `json:"warehouseId"`
	IdempotencyKey uuid.UUID  `json:"idempotencyKey"`
	Status         StepStatus `json:"status"`
	RemoteOrderID  string     `json:"remoteOrderId,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Resumable reports whether a retry may continue this step.
func (s ReceiptStep) Resumable() bool {
	return s.Status != StepFulfilled
}

// CreatePOInput describes a new draft purchase order.
type CreatePOInput struct {
	Number     string
	SupplierID int64
	Lines      []POLineInput
}

// POLineInput describes an ordered product.
type POLineInput struct {
	ProductID int64
	Quantity  int64
}

// ReceiveInput is a goods receipt against an approved purchase order.
type ReceiveInput struct {
	POID         int64
	WarehouseID  int64
	ReceivedDate time.Time
	Lines        []ReceiveLine
}

// ReceiveLine is the quantity received for one PO line.
type ReceiveLine struct {
	POLineID         int64
	ReceivedQuantity int64
}

// LineOutcome describes a line received in this call.
type LineOutcome struct {
	POLineID      int64  `json:"purchaseOrderLineId"`
	ProductID     int64  `json:"productId"`
	Quantity      int64  `json:"quantity"`
	RemoteOrderID string `json:"remoteOrderId"`
	Resumed       bool   `json:"resumed,omitempty"`
}

// LineFailure describes a line whose remote calls did not complete.
type LineFailure struct {
	POLineID      int64  `json:"purchaseOrderLineId"`
	Quantity      int64  `json:"quantity"`
	Stage         string `json:"stage"`
	RemoteOrderID string `json:"remoteOrderId,omitempty"`
	Error         string `json:"error"`
}

// ReceiveResult reports the saga outcome per line.
type ReceiveResult struct {
	PurchaseOrder PurchaseOrder `json:"purchaseOrder"`
	Received      []LineOutcome `json:"receivedLines"`
	Skipped       []int64       `json:"skippedLines"`
	Failed        []LineFailure `json:"failedLines"`
}

var (
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = httpx.NewError("procurement: invalid purchase order state", httpx.ErrConflict)
	// ErrNotFound indicates record missing.
	ErrNotFound = httpx.NewError("procurement: not found", httpx.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = httpx.NewError("procurement: invalid input", httpx.ErrValidation)
	// ErrReceiveInProgress is returned while another receipt holds the order.
	ErrReceiveInProgress = httpx.NewError("procurement: receipt already in progress", httpx.ErrConflict)
)
