package orders

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL + "/", Timeout: time.Second, MaxRetries: retries})
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestCreateInboundOrderSendsKeyAndBody(t *testing.T) {
	var got CreateOrderRequest
	var key string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		key = r.Header.Get(IdempotencyHeader)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42,"orderNumber":"INB-1"}`))
	}, 0)

	order, err := c.CreateInboundOrder(t.Context(), "key-1", CreateOrderRequest{
		OrderNumber: "INB-1",
		SourceID:    7,
		TargetID:    3,
		WarehouseID: 3,
		Lines:       []OrderLine{{ProductID: 5, Quantity: 10}},
	})
	require.NoError(t, err)
	require.Equal(t, OrderID("42"), order.ID)
	require.Equal(t, "key-1", key)
	require.Equal(t, OrderTypeInbound, got.Type)
	require.Len(t, got.Lines, 1)
}

func TestFulfillRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	keys := make(chan string, 3)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/ord-9/fulfill", r.URL.Path)
		keys <- r.Header.Get(IdempotencyHeader)
		if calls.Add(1) < 3 {
			http.Error(w, "upstream busy", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"ord-9","status":"Fulfilled"}`))
	}, 3)

	order, err := c.FulfillOrder(t.Context(), "key-2", "ord-9", FulfillRequest{WarehouseID: 3})
	require.NoError(t, err)
	require.Equal(t, "Fulfilled", order.Status)
	require.EqualValues(t, 3, calls.Load())
	close(keys)
	for k := range keys {
		require.Equal(t, "key-2", k, "retries reuse the idempotency key")
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"title":"bad line"}`, http.StatusUnprocessableEntity)
	}, 3)

	_, err := c.CreateInboundOrder(t.Context(), "key-3", CreateOrderRequest{OrderNumber: "X"})
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
	require.EqualValues(t, 1, calls.Load())
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 2)

	_, err := c.CreateInboundOrder(t.Context(), "key-4", CreateOrderRequest{OrderNumber: "X"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.True(t, statusErr.Temporary())
	require.EqualValues(t, 3, calls.Load())
}

func TestClientRejectsMissingOrderID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"Created"}`))
	}, 3)

	_, err := c.CreateInboundOrder(t.Context(), "key-5", CreateOrderRequest{OrderNumber: "X"})
	require.ErrorIs(t, err, ErrEmptyOrderID)
}
