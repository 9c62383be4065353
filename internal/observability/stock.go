package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StockMetrics counts stock ledger and receiving outcomes. A nil receiver is a
// no-op so services can run without instrumentation in tests.
type StockMetrics struct {
	reservations *prometheus.CounterVec
	units        *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	receipts     *prometheus.CounterVec
}

// NewStockMetrics registers the stock collectors on registerer.
func NewStockMetrics(registerer prometheus.Registerer) *StockMetrics {
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_reservations_total",
		Help: "Reservation lifecycle transitions by outcome.",
	}, []string{"outcome"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_movement_units_total",
		Help: "Absolute units moved per operation.",
	}, []string{"operation"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_stock_rejections_total",
		Help: "Stock operations rejected by business rules.",
	}, []string{"operation", "reason"})
	receipts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_po_receipt_lines_total",
		Help: "Purchase order lines processed by the receiving saga.",
	}, []string{"outcome"})
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(reservations, units, rejections, receipts)
	return &StockMetrics{
		reservations: reservations,
		units:        units,
		rejections:   rejections,
		receipts:     receipts,
	}
}

// Reservation records a reservation transition: created, released or expired.
func (m *StockMetrics) Reservation(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reservations.WithLabelValues(outcome).Add(float64(count))
}

// Moved records units moved by an operation.
func (m *StockMetrics) Moved(operation string, units int64) {
	if m == nil {
		return
	}
	if units < 0 {
		units = -units
	}
	m.units.WithLabelValues(operation).Add(float64(units))
}

// Rejected records a business rule rejection.
func (m *StockMetrics) Rejected(operation, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation, reason).Inc()
}

// ReceiptLine records a saga line outcome: received, failed, skipped or
// already_fulfilled.
func (m *StockMetrics) ReceiptLine(outcome string) {
	if m == nil {
		return
	}
	m.receipts.WithLabelValues(outcome).Inc()
}
