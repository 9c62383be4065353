package procurement

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler manages purchasing endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency shared.IdempotencyBackend
	validator   *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, idem shared.IdempotencyBackend) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, idempotency: idem, validator: httpx.NewValidator()}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchasing/orders", func(r chi.Router) {
		r.With(shared.Idempotent(h.idempotency, "purchasing.create", h.logger)).Post("/", h.createPO)
		r.Get("/{id}", h.getPO)
		r.Get("/{id}/receipts", h.listReceipts)
		r.Post("/{id}/approve", h.approvePO)
		r.With(shared.Idempotent(h.idempotency, "purchasing.receive", h.logger)).Post("/{id}/receive", h.receivePO)
	})
}

type createPORequest struct {
	Number     string `json:"number,omitempty" validate:"max=64"`
	SupplierID int64  `json:"supplierId" validate:"gt=0"`
	Lines      []struct {
		ProductID int64 `json:"productId" validate:"gt=0"`
		Quantity  int64 `json:"quantity" validate:"gt=0"`
	} `json:"lines" validate:"required,min=1,dive"`
}

type approveRequest struct {
	PurchaseOrderID int64 `json:"purchaseOrderId,omitempty"`
}

type receiveRequest struct {
	PurchaseOrderID int64      `json:"purchaseOrderId,omitempty" validate:"gte=0"`
	WarehouseID     int64      `json:"warehouseId" validate:"gt=0"`
	ReceivedDate    *time.Time `json:"receivedDate,omitempty"`
	Lines           []struct {
		POLineID         int64 `json:"purchaseOrderLineId" validate:"gt=0"`
		ReceivedQuantity int64 `json:"receivedQuantity" validate:"gt=0"`
	} `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	var req createPORequest
	if !h.decode(w, r, &req) {
		return
	}
	input := CreatePOInput{Number: req.Number, SupplierID: req.SupplierID}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, POLineInput{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	steps, err := h.service.ListReceipts(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if steps == nil {
		steps = []ReceiptStep{}
	}
	httpx.JSON(w, http.StatusOK, steps)
}

func (h *Handler) approvePO(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	// The body is optional; when present its id must agree with the path.
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", "request body could not be decoded")
		return
	}
	if !h.sameOrder(w, id, req.PurchaseOrderID) {
		return
	}
	po, err := h.service.ApprovePurchaseOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) receivePO(w http.ResponseWriter, r *http.Request) {
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.sameOrder(w, id, req.PurchaseOrderID) {
		return
	}
	input := ReceiveInput{POID: id, WarehouseID: req.WarehouseID}
	if req.ReceivedDate != nil {
		input.ReceivedDate = req.ReceivedDate.UTC()
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, ReceiveLine{POLineID: l.POLineID, ReceivedQuantity: l.ReceivedQuantity})
	}
	result, err := h.service.ReceivePurchaseOrder(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
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

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "purchase order id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) sameOrder(w http.ResponseWriter, pathID, bodyID int64) bool {
	if bodyID != 0 && bodyID != pathID {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "purchaseOrderId does not match the order in the path")
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid Purchase Order State", err.Error())
	case errors.Is(err, ErrReceiveInProgress):
		httpx.Problem(w, http.StatusConflict, "Receipt In Progress", err.Error())
	default:
		if httpx.StatusOf(err) == http.StatusInternalServerError {
			h.logger.Error("purchasing request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
