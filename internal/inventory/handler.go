package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler wires HTTP endpoints for stock operations and read projections.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	queries     *QueryService
	idempotency shared.IdempotencyBackend
	validator   *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, queries *QueryService, idem shared.IdempotencyBackend) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		queries:     queries,
		idempotency: idem,
		validator:   httpx.NewValidator(),
	}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock-operations", func(r chi.Router) {
		r.With(h.idempotent("inventory.reserve")).Post("/reserve", h.handleReserve)
		r.Get("/reservations/{id}", h.handleGetReservation)
		r.Delete("/reservations/{id}", h.handleRelease)
		r.With(h.idempotent("inventory.adjust")).Post("/adjust", h.handleAdjust)
		r.With(h.idempotent("inventory.transfer")).Post("/transfer", h.handleTransfer)
		r.With(h.idempotent("inventory.inbound")).Post("/inbound", h.handleInbound)
		r.With(h.idempotent("inventory.outbound")).Post("/outbound", h.handleOutbound)
		r.With(h.idempotent("inventory.on_order")).Post("/on-order", h.handleOnOrder)
	})
	r.Route("/warehouse-stocks", func(r chi.Router) {
		r.Get("/by-product-warehouse/{productId}/{warehouseId}", h.handleGetStock)
		r.Get("/product/{productId}", h.handleByProduct)
		r.Get("/warehouse/{warehouseId}", h.handleByWarehouse)
		r.Get("/availability/{productId}", h.handleAvailability)
		r.Get("/low-stock", h.handleLowStock)
		r.Get("/reconcile/{productId}/{warehouseId}", h.handleReconcile)
		r.Get("/transactions", h.handleTransactionsByReference)
		r.Get("/transactions/{productId}/{warehouseId}", h.handleTransactions)
	})
}

func (h *Handler) idempotent(scope string) func(http.Handler) http.Handler {
	return shared.Idempotent(h.idempotency, scope, h.logger)
}

type reserveRequest struct {
	ProductID   int64      `json:"productId" validate:"gt=0"`
	WarehouseID int64      `json:"warehouseId" validate:"gt=0"`
	Quantity    int64      `json:"quantity" validate:"gt=0"`
	OrderID     int64      `json:"orderId" validate:"gte=0"`
	OrderLineID int64      `json:"orderLineId" validate:"gte=0"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

type adjustRequest struct {
	ProductID       int64  `json:"productId" validate:"gt=0"`
	WarehouseID     int64  `json:"warehouseId" validate:"gt=0"`
	QuantityChange  int64  `json:"quantityChange" validate:"ne=0"`
	Reason          string `json:"reason" validate:"required,max=500"`
	ReferenceNumber string `json:"referenceNumber,omitempty" validate:"max=100"`
}

type transferRequest struct {
	ProductID       int64  `json:"productId" validate:"gt=0"`
	FromWarehouseID int64  `json:"fromWarehouseId" validate:"gt=0"`
	ToWarehouseID   int64  `json:"toWarehouseId" validate:"gt=0,nefield=FromWarehouseID"`
	Quantity        int64  `json:"quantity" validate:"gt=0"`
	ReferenceNumber string `json:"referenceNumber,omitempty" validate:"max=100"`
}

type movementRequest struct {
	ProductID       int64      `json:"productId" validate:"gt=0"`
	WarehouseID     int64      `json:"warehouseId" validate:"gt=0"`
	Quantity        int64      `json:"quantity" validate:"gte=0"`
	Reason          string     `json:"reason,omitempty" validate:"max=500"`
	ReferenceNumber string     `json:"referenceNumber,omitempty" validate:"max=100"`
	ReservationID   *uuid.UUID `json:"reservationId,omitempty"`
	ReleaseOnOrder  bool       `json:"releaseOnOrder,omitempty"`
}

type onOrderRequest struct {
	ProductID   int64 `json:"productId" validate:"gt=0"`
	WarehouseID int64 `json:"warehouseId" validate:"gt=0"`
	Delta       int64 `json:"delta" validate:"ne=0"`
}

type movementResponse struct {
	Stock       WarehouseStock       `json:"stock"`
	Transaction InventoryTransaction `json:"transaction"`
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Reserve(r.Context(), ReserveInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Quantity:    req.Quantity,
		OrderID:     req.OrderID,
		OrderLineID: req.OrderLineID,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reservationID(w, r)
	if !ok {
		return
	}
	res, err := h.queries.GetReservation(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reservationID(w, r)
	if !ok {
		return
	}
	if _, err := h.queries.GetReservation(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.Release(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	_, err := h.service.Adjust(r.Context(), AdjustInput{
		ProductID:       req.ProductID,
		WarehouseID:     req.WarehouseID,
		QuantityChange:  req.QuantityChange,
		Reason:          req.Reason,
		ReferenceNumber: req.ReferenceNumber,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Transfer(r.Context(), TransferInput{
		ProductID:       req.ProductID,
		FromWarehouseID: req.FromWarehouseID,
		ToWarehouseID:   req.ToWarehouseID,
		Quantity:        req.Quantity,
		ReferenceNumber: req.ReferenceNumber,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	stock, txn, err := h.service.PostInbound(r.Context(), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{Stock: stock, Transaction: txn})
}

func (h *Handler) handleOutbound(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	stock, txn, err := h.service.PostOutbound(r.Context(), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movementResponse{Stock: stock, Transaction: txn})
}

func (req movementRequest) input() MovementInput {
	return MovementInput{
		ProductID:       req.ProductID,
		WarehouseID:     req.WarehouseID,
		Quantity:        req.Quantity,
		Reason:          req.Reason,
		ReferenceNumber: req.ReferenceNumber,
		ReservationID:   req.ReservationID,
		ReleaseOnOrder:  req.ReleaseOnOrder,
	}
}

func (h *Handler) handleOnOrder(w http.ResponseWriter, r *http.Request) {
	var req onOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	stock, err := h.service.AdjustOnOrder(r.Context(), OnOrderInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Delta:       req.Delta,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, ok := h.pairParams(w, r)
	if !ok {
		return
	}
	stock, err := h.queries.GetStock(r.Context(), productID, warehouseID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) handleByProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.idParam(w, r, "productId")
	if !ok {
		return
	}
	stocks, err := h.queries.ListByProduct(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(stocks))
}

func (h *Handler) handleByWarehouse(w http.ResponseWriter, r *http.Request) {
	warehouseID, ok := h.idParam(w, r, "warehouseId")
	if !ok {
		return
	}
	stocks, err := h.queries.ListByWarehouse(r.Context(), warehouseID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(stocks))
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.idParam(w, r, "productId")
	if !ok {
		return
	}
	out, err := h.queries.Availability(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	threshold, err := optionalInt(q.Get("threshold"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "threshold must be an integer")
		return
	}
	limit, err := optionalInt(q.Get("limit"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be an integer")
		return
	}
	stocks, err := h.queries.LowStock(r.Context(), threshold, int(limit))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(stocks))
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, ok := h.pairParams(w, r)
	if !ok {
		return
	}
	report, err := h.queries.Reconcile(r.Context(), productID, warehouseID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleTransactionsByReference(w http.ResponseWriter, r *http.Request) {
	txns, err := h.queries.TransactionsByReference(r.Context(), r.URL.Query().Get("reference"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(txns))
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, ok := h.pairParams(w, r)
	if !ok {
		return
	}
	limit, err := optionalInt(r.URL.Query().Get("limit"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be an integer")
		return
	}
	txns, err := h.queries.Transactions(r.Context(), productID, warehouseID, int(limit))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(txns))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := httpx.Validate(h.validator, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) reservationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "reservation id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) pairParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	productID, ok := h.idParam(w, r, "productId")
	if !ok {
		return 0, 0, false
	}
	warehouseID, ok := h.idParam(w, r, "warehouseId")
	if !ok {
		return 0, 0, false
	}
	return productID, warehouseID, true
}

// writeError maps domain errors to problem documents. Anything unrecognised is
// logged and reported as a bare 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ext := problemExtensions(err)
	switch {
	case errors.Is(err, ErrStockTransferFailed):
		httpx.ProblemWith(w, http.StatusBadRequest, "Stock Transfer Failed", err.Error(), ext)
	case errors.Is(err, ErrStockNotFound),
		errors.Is(err, ErrReservationNotFound),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrWarehouseNotFound):
		httpx.ProblemWith(w, http.StatusNotFound, "Not Found", err.Error(), ext)
	case errors.Is(err, ErrInsufficientStock):
		httpx.ProblemWith(w, http.StatusBadRequest, "Insufficient Stock", err.Error(), ext)
	case errors.Is(err, ErrAdjustmentWouldUnderflow), errors.Is(err, ErrOnOrderUnderflow):
		httpx.ProblemWith(w, http.StatusBadRequest, "Stock Underflow", err.Error(), ext)
	case errors.Is(err, ErrReservationNotActive):
		httpx.ProblemWith(w, http.StatusConflict, "Reservation Not Active", err.Error(), ext)
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidInput):
		httpx.ProblemWith(w, http.StatusBadRequest, "Invalid Operation", err.Error(), ext)
	case errors.Is(err, ErrNegativeStock):
		httpx.ProblemWith(w, http.StatusBadRequest, "Stock Underflow", err.Error(), ext)
	default:
		if httpx.StatusOf(err) == http.StatusInternalServerError {
			h.logger.Error("inventory request failed",
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func problemExtensions(err error) map[string]any {
	var x httpx.Extender
	if errors.As(err, &x) {
		return x.ProblemExtensions()
	}
	return nil
}

func optionalInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
