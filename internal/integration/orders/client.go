// Package orders is the HTTP client for the external Orders service.
package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// IdempotencyHeader carries the caller supplied request key.
const IdempotencyHeader = "Idempotency-Key"

// ErrEmptyOrderID is returned when the service answers without an order id.
var ErrEmptyOrderID = errors.New("orders: response carried no order id")

// StatusError reports a non-2xx answer from the Orders service.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("orders: %s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Temporary reports whether a retry may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Config tunes the client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// Client calls the Orders service. Every request carries an Idempotency-Key so
// retries after a timeout do not create duplicate orders. Transport errors and
// 5xx answers are retried with exponential backoff; 4xx answers are not.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger
	newBackOff func() backoff.BackOff
}

// NewClient constructs a new client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		maxRetries: retries,
		logger:     logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 4 * timeout
			return b
		},
	}
}

// CreateInboundOrder creates an order via POST /orders.
func (c *Client) CreateInboundOrder(ctx context.Context, key string, req CreateOrderRequest) (Order, error) {
	if req.Type == "" {
		req.Type = OrderTypeInbound
	}
	return c.post(ctx, key, "/orders", req)
}

// FulfillOrder fulfils an order via POST /orders/{id}/fulfill.
func (c *Client) FulfillOrder(ctx context.Context, key string, orderID string, req FulfillRequest) (Order, error) {
	if req.OrderID == "" {
		req.OrderID = orderID
	}
	return c.post(ctx, key, "/orders/"+url.PathEscape(orderID)+"/fulfill", req)
}

func (c *Client) post(ctx context.Context, key, path string, body any) (Order, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Order{}, fmt.Errorf("orders: encode request: %w", err)
	}

	var out Order
	attempt := 0
	operation := func() error {
		attempt++
		order, err := c.do(ctx, key, path, payload)
		if err == nil {
			out = order
			return nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Temporary() {
			return backoff.Permanent(err)
		}
		if errors.Is(err, ErrEmptyOrderID) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WarnContext(ctx, "orders call failed, retrying",
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxRetries)), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return Order{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, key, path string, payload []byte) (Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Order{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Order{}, fmt.Errorf("orders: POST %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Order{}, &StatusError{
			Method:     http.MethodPost,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return Order{}, fmt.Errorf("orders: decode %s response: %w", path, err)
	}
	if order.ID == "" {
		return Order{}, ErrEmptyOrderID
	}
	return order, nil
}
