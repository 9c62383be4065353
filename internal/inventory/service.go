package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// DefaultReservationTTL applies when the caller omits an expiry.
const DefaultReservationTTL = 30 * time.Minute

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CatalogPort answers whether master data ids exist.
type CatalogPort interface {
	ProductExists(ctx context.Context, id int64) (bool, error)
	WarehouseExists(ctx context.Context, id int64) (bool, error)
}

// AvailabilityInvalidator drops cached read projections after a mutation.
type AvailabilityInvalidator interface {
	Invalidate(ctx context.Context, productIDs ...int64)
}

// ServiceConfig groups optional settings and collaborators.
type ServiceConfig struct {
	ReservationTTL time.Duration
	Catalog        CatalogPort
	Invalidator    AvailabilityInvalidator
	Metrics        *observability.StockMetrics
	Logger         *slog.Logger
	Clock          func() time.Time
}

// Service coordinates stock mutations. Each operation locks the rows it
// touches and writes ledger and outbox rows in the same transaction.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	catalog     CatalogPort
	invalidator AvailabilityInvalidator
	metrics     *observability.StockMetrics
	logger      *slog.Logger
	ttl         time.Duration
	clock       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	ttl := cfg.ReservationTTL
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		catalog:     cfg.Catalog,
		invalidator: cfg.Invalidator,
		metrics:     cfg.Metrics,
		logger:      logger,
		ttl:         ttl,
		clock:       clock,
	}
}

// ReservationTTL reports the default reservation window.
func (s *Service) ReservationTTL() time.Duration {
	return s.ttl
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) checkCatalog(ctx context.Context, productID int64, warehouseIDs ...int64) error {
	if s.catalog == nil {
		return nil
	}
	ok, err := s.catalog.ProductExists(ctx, productID)
	if err != nil {
		return fmt.Errorf("inventory: catalog lookup: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}
	for _, id := range warehouseIDs {
		ok, err := s.catalog.WarehouseExists(ctx, id)
		if err != nil {
			return fmt.Errorf("inventory: catalog lookup: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %d", ErrWarehouseNotFound, id)
		}
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, productIDs ...int64) {
	if s.invalidator == nil || len(productIDs) == 0 {
		return
	}
	s.invalidator.Invalidate(ctx, productIDs...)
}

func (s *Service) recordAudit(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) rejected(operation string, err error) {
	s.metrics.Rejected(operation, rejectionReason(err))
}

func validatePair(productID, warehouseID int64) error {
	if productID <= 0 || warehouseID <= 0 {
		return fmt.Errorf("%w: product and warehouse required", ErrInvalidInput)
	}
	return nil
}

func stockEntityID(productID, warehouseID int64) string {
	return fmt.Sprintf("%d:%d", productID, warehouseID)
}

func generateReference(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
