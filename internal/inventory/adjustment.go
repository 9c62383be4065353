package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Adjust applies a signed correction to available stock and records it.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (WarehouseStock, error) {
	if err := validatePair(input.ProductID, input.WarehouseID); err != nil {
		return WarehouseStock{}, err
	}
	if input.QuantityChange == 0 {
		return WarehouseStock{}, fmt.Errorf("%w: quantity change must be non zero", ErrInvalidQuantity)
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return WarehouseStock{}, fmt.Errorf("%w: reason required", ErrInvalidInput)
	}
	if err := s.checkCatalog(ctx, input.ProductID, input.WarehouseID); err != nil {
		return WarehouseStock{}, err
	}
	ref := input.ReferenceNumber
	if ref == "" {
		ref = generateReference("ADJ")
	}
	now := s.now()

	var updated WarehouseStock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := tx.GetStockForUpdate(ctx, input.ProductID, input.WarehouseID)
		if errors.Is(err, ErrStockNotFound) {
			return stockNotFound(input.ProductID, input.WarehouseID)
		}
		if err != nil {
			return err
		}
		if stock.Available+input.QuantityChange < 0 {
			return &UnderflowError{
				ProductID:      input.ProductID,
				WarehouseID:    input.WarehouseID,
				QuantityChange: input.QuantityChange,
				Available:      stock.Available,
			}
		}
		stock.Available += input.QuantityChange
		if updated, err = storeStock(ctx, tx, stock); err != nil {
			return err
		}
		if _, err := tx.InsertTransaction(ctx, InventoryTransaction{
			ProductID:       input.ProductID,
			WarehouseID:     input.WarehouseID,
			QuantityChange:  input.QuantityChange,
			Type:            TransactionTypeAdjustment,
			Reason:          reason,
			ReferenceNumber: ref,
			TransactionDate: now,
		}); err != nil {
			return err
		}
		msg, err := newEvent(TopicStockAdjusted, input.ProductID, StockAdjustedEvent{
			ProductID:       input.ProductID,
			WarehouseID:     input.WarehouseID,
			QuantityChange:  input.QuantityChange,
			Available:       updated.Available,
			Reason:          reason,
			ReferenceNumber: ref,
			PostedAt:        now,
		})
		if err != nil {
			return err
		}
		return tx.EnqueueEvent(ctx, msg)
	})
	if err != nil {
		s.rejected("adjust", err)
		return WarehouseStock{}, err
	}

	s.metrics.Moved("adjust", input.QuantityChange)
	s.invalidate(ctx, input.ProductID)
	s.recordAudit(ctx, "inventory:adjust", "warehouse_stock", stockEntityID(input.ProductID, input.WarehouseID), map[string]any{
		"quantity_change":  input.QuantityChange,
		"reason":           reason,
		"reference_number": ref,
	})
	return updated, nil
}
