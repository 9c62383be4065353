package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/integration/orders"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/bus"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListReceiptSteps(ctx context.Context, poID int64) ([]ReceiptStep, error)
}

// OrdersPort is the external Orders service that materialises inbound stock.
type OrdersPort interface {
	CreateInboundOrder(ctx context.Context, key string, req orders.CreateOrderRequest) (orders.Order, error)
	FulfillOrder(ctx context.Context, key string, orderID string, req orders.FulfillRequest) (orders.Order, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config groups optional collaborators.
type Config struct {
	Publisher bus.Publisher
	Leaser    *cache.Leaser
	LeaseTTL  time.Duration
	Metrics   *observability.StockMetrics
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Service orchestrates purchase order approval and receiving.
type Service struct {
	repo      RepositoryPort
	orders    OrdersPort
	audit     AuditPort
	publisher bus.Publisher
	leaser    *cache.Leaser
	leaseTTL  time.Duration
	metrics   *observability.StockMetrics
	logger    *slog.Logger
	clock     func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, ordersPort OrdersPort, audit AuditPort, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = bus.NewLogPublisher(logger)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		repo:      repo,
		orders:    ordersPort,
		audit:     audit,
		publisher: publisher,
		leaser:    cfg.Leaser,
		leaseTTL:  ttl,
		metrics:   cfg.Metrics,
		logger:    logger,
		clock:     clock,
	}
}

// CreatePurchaseOrder persists a Draft order with its lines.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if input.SupplierID <= 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	number := strings.TrimSpace(input.Number)
	if number == "" {
		number = generateNumber("PO", s.now())
	}
	po := PurchaseOrder{Number: number, SupplierID: input.SupplierID, Status: POStatusDraft}
	for _, line := range input.Lines {
		if line.ProductID <= 0 || line.Quantity <= 0 {
			return PurchaseOrder{}, fmt.Errorf("%w: lines need a product and a positive quantity", ErrValidation)
		}
		po.Lines = append(po.Lines, POLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	var created PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.CreatePurchaseOrder(ctx, po)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "purchasing:create", created.ID, map[string]any{"number": created.Number, "lines": len(created.Lines)})
	return created, nil
}

// GetPurchaseOrder loads an order with its lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPurchaseOrder(ctx, id)
}

// ListReceipts returns the receipt step log for an order.
func (s *Service) ListReceipts(ctx context.Context, id int64) ([]ReceiptStep, error) {
	if _, err := s.repo.GetPurchaseOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListReceiptSteps(ctx, id)
}

// ApprovePurchaseOrder moves a Draft order to Approved and publishes
// purchasing.order.approved. Publish failures are logged only.
func (s *Service) ApprovePurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	now := s.now()
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPurchaseOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft {
			return fmt.Errorf("%w: purchase order %d is %s", ErrInvalidState, id, po.Status)
		}
		if err := tx.UpdatePOStatus(ctx, id, POStatusApproved, now); err != nil {
			return err
		}
		po.Status = POStatusApproved
		po.ApprovedAt = &now
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}

	s.publish(ctx, TopicOrderApproved, po.ID, OrderApprovedEvent{
		PurchaseOrderID: po.ID,
		Number:          po.Number,
		SupplierID:      po.SupplierID,
		ApprovedAt:      now,
	})
	s.recordAudit(ctx, "purchasing:approve", po.ID, map[string]any{"number": po.Number})
	return po, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// publish delivers an integration event best-effort.
func (s *Service) publish(ctx context.Context, topic string, poID int64, payload any) {
	if err := s.publisher.Publish(ctx, topic, orderKey(poID), payload); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("topic", topic),
			slog.Int64("purchase_order_id", poID),
			slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "purchase_order", EntityID: fmt.Sprintf("%d", entityID), Meta: meta, At: s.now()})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func generateNumber(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, at.UnixNano())
}
