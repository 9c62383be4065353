package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	metrics.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected body to contain runtime metrics, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/stock-operations/reserve")

	req := httptest.NewRequest(http.MethodPost, "/stock-operations/reserve", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	metricsBody := metricsRR.Body.String()
	if !strings.Contains(metricsBody, `odyssey_http_requests_total{code="409",method="POST",route="/stock-operations/reserve"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, `odyssey_http_request_duration_seconds_bucket{route="/stock-operations/reserve"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", metricsBody)
	}
	if !strings.Contains(metricsBody, "odyssey_http_requests_in_flight 0") {
		t.Fatalf("expected in-flight gauge to settle at zero, got: %s", metricsBody)
	}
}

func TestStockMetricsNilSafe(t *testing.T) {
	var m *StockMetrics
	m.Reservation("created", 1)
	m.Moved("transfer", 5)
	m.Rejected("reserve", "insufficient_stock")
	m.ReceiptLine("received")
}

func TestStockMetricsExposed(t *testing.T) {
	metrics := NewMetrics()
	stock := NewStockMetrics(metrics.Registerer())
	stock.Reservation("expired", 3)
	stock.Moved("adjust", -4)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	if !strings.Contains(body, `odyssey_stock_reservations_total{outcome="expired"} 3`) {
		t.Fatalf("expected reservation counter, got: %s", body)
	}
	if !strings.Contains(body, `odyssey_stock_movement_units_total{operation="adjust"} 4`) {
		t.Fatalf("expected movement counter, got: %s", body)
	}
}
