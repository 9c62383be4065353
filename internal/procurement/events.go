package procurement

import (
	"strconv"
	"time"
)

// Integration event topics.
const (
	TopicOrderApproved = "purchasing.order.approved"
	TopicLineReceived  = "purchasing.line.received"
	TopicOrderReceived = "purchasing.order.received"
)

// OrderApprovedEvent is published after Draft → Approved.
type OrderApprovedEvent struct {
	PurchaseOrderID int64     `json:"purchaseOrderId"`
	Number          string    `json:"number"`
	SupplierID      int64     `json:"supplierId"`
	ApprovedAt      time.Time `json:"approvedAt"`
}

// LineReceivedEvent is published once a line's inbound order is fulfilled.
type LineReceivedEvent struct {
	PurchaseOrderID int64  `json:"purchaseOrderId"`
	POLineID        int64  `json:"purchaseOrderLineId"`
	ProductID       int64  `json:"productId"`
	Quantity        int64  `json:"quantity"`
	WarehouseID     int64  `json:"warehouseId"`
	RemoteOrderID   string `json:"remoteOrderId"`
}

// OrderReceivedEvent is published when every line is fully received.
type OrderReceivedEvent struct {
	PurchaseOrderID int64     `json:"purchaseOrderId"`
	Number          string    `json:"number"`
	SupplierID      int64     `json:"supplierId"`
	ReceivedAt      time.Time `json:"receivedAt"`
}

func orderKey(poID int64) string {
	return strconv.FormatInt(poID, 10)
}
