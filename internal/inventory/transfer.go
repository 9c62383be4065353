package inventory

import (
	"context"
	"errors"
	"fmt"
)

// Transfer moves available stock between two warehouses. Both rows and both
// ledger legs commit together or not at all.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if input.ProductID <= 0 || input.FromWarehouseID <= 0 || input.ToWarehouseID <= 0 {
		return TransferResult{}, fmt.Errorf("%w: product and warehouses required", ErrInvalidInput)
	}
	if input.FromWarehouseID == input.ToWarehouseID {
		return TransferResult{}, fmt.Errorf("%w: source and destination warehouse must differ", ErrInvalidInput)
	}
	if input.Quantity <= 0 {
		return TransferResult{}, fmt.Errorf("%w: transfer quantity must be positive", ErrInvalidQuantity)
	}
	if err := s.checkCatalog(ctx, input.ProductID, input.FromWarehouseID, input.ToWarehouseID); err != nil {
		return TransferResult{}, err
	}

	ref := input.ReferenceNumber
	if ref == "" {
		ref = generateReference("TRF")
	}
	now := s.now()
	var result TransferResult

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = TransferResult{}
		if err := tx.EnsureStock(ctx, input.ProductID, input.ToWarehouseID); err != nil {
			return err
		}

		var source, dest WarehouseStock
		first, second := input.FromWarehouseID, input.ToWarehouseID
		if second < first {
			first, second = second, first
		}
		for _, wh := range []int64{first, second} {
			stock, err := tx.GetStockForUpdate(ctx, input.ProductID, wh)
			if errors.Is(err, ErrStockNotFound) {
				return fmt.Errorf("%w: %w", ErrStockTransferFailed, stockNotFound(input.ProductID, wh))
			}
			if err != nil {
				return err
			}
			if wh == input.FromWarehouseID {
				source = stock
			} else {
				dest = stock
			}
		}

		if source.Available < input.Quantity {
			return fmt.Errorf("%w: %w", ErrStockTransferFailed, &InsufficientStockError{
				ProductID:   input.ProductID,
				WarehouseID: input.FromWarehouseID,
				Requested:   input.Quantity,
				Available:   source.Available,
			})
		}

		source.Available -= input.Quantity
		dest.Available += input.Quantity

		var err error
		if result.Source, err = storeStock(ctx, tx, source); err != nil {
			return err
		}
		if result.Destination, err = storeStock(ctx, tx, dest); err != nil {
			return err
		}

		legs := []InventoryTransaction{
			{
				ProductID:       input.ProductID,
				WarehouseID:     input.FromWarehouseID,
				QuantityChange:  -input.Quantity,
				Type:            TransactionTypeTransferOut,
				Reason:          fmt.Sprintf("transfer to warehouse %d", input.ToWarehouseID),
				ReferenceNumber: ref,
				TransactionDate: now,
			},
			{
				ProductID:       input.ProductID,
				WarehouseID:     input.ToWarehouseID,
				QuantityChange:  input.Quantity,
				Type:            TransactionTypeTransferIn,
				Reason:          fmt.Sprintf("transfer from warehouse %d", input.FromWarehouseID),
				ReferenceNumber: ref,
				TransactionDate: now,
			},
		}
		for _, leg := range legs {
			saved, err := tx.InsertTransaction(ctx, leg)
			if err != nil {
				return err
			}
			result.Legs = append(result.Legs, saved)
		}

		msg, err := newEvent(TopicStockTransferred, input.ProductID, StockTransferredEvent{
			ProductID:       input.ProductID,
			FromWarehouseID: input.FromWarehouseID,
			ToWarehouseID:   input.ToWarehouseID,
			Quantity:        input.Quantity,
			ReferenceNumber: ref,
			PostedAt:        now,
		})
		if err != nil {
			return err
		}
		return tx.EnqueueEvent(ctx, msg)
	})
	if err != nil {
		s.rejected("transfer", err)
		return TransferResult{}, err
	}

	result.ReferenceNumber = ref
	s.metrics.Moved("transfer", input.Quantity)
	s.invalidate(ctx, input.ProductID)
	s.recordAudit(ctx, "inventory:transfer", "inventory_transfer", ref, map[string]any{
		"product_id":        input.ProductID,
		"from_warehouse_id": input.FromWarehouseID,
		"to_warehouse_id":   input.ToWarehouseID,
		"quantity":          input.Quantity,
	})
	return result, nil
}
