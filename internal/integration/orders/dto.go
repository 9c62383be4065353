package orders

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// OrderType classifies orders in the Orders service.
type OrderType string

// OrderTypeInbound is an order that brings goods into a warehouse.
const OrderTypeInbound OrderType = "Inbound"

// OrderLine is one product line on a remote order.
type OrderLine struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
}

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	OrderNumber     string      `json:"orderNumber"`
	Type            OrderType   `json:"type"`
	SourceID        int64       `json:"sourceId"`
	TargetID        int64       `json:"targetId"`
	ExternalOrderID string      `json:"externalOrderId"`
	WarehouseID     int64       `json:"warehouseId"`
	OrderDate       time.Time   `json:"orderDate"`
	Lines           []OrderLine `json:"lines"`
}

// FulfillRequest is the body of POST /orders/{id}/fulfill.
type FulfillRequest struct {
	OrderID         string `json:"orderId"`
	WarehouseID     int64  `json:"warehouseId"`
	ShippingAddress string `json:"shippingAddress,omitempty"`
	TrackingNumber  string `json:"trackingNumber,omitempty"`
}

// Order is the subset of the remote order representation the saga reads.
type Order struct {
	ID          OrderID `json:"id"`
	OrderNumber string  `json:"orderNumber,omitempty"`
	Status      string  `json:"status,omitempty"`
}

// OrderID accepts both numeric and string identifiers.
type OrderID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *OrderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = OrderID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*id = OrderID(n.String())
	return nil
}

func (id OrderID) String() string { return string(id) }
