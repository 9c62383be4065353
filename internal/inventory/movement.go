package inventory

import (
	"context"
	"errors"
	"fmt"
)

// PostInbound records goods arriving at a warehouse, creating the stock row on
// first receipt. When ReleaseOnOrder is set the expected quantity is reduced.
func (s *Service) PostInbound(ctx context.Context, input MovementInput) (WarehouseStock, InventoryTransaction, error) {
	if err := validatePair(input.ProductID, input.WarehouseID); err != nil {
		return WarehouseStock{}, InventoryTransaction{}, err
	}
	if input.Quantity <= 0 {
		return WarehouseStock{}, InventoryTransaction{}, fmt.Errorf("%w: inbound quantity must be positive", ErrInvalidQuantity)
	}
	if input.ReservationID != nil {
		return WarehouseStock{}, InventoryTransaction{}, fmt.Errorf("%w: reservations apply to outbound movements only", ErrInvalidInput)
	}
	if err := s.checkCatalog(ctx, input.ProductID, input.WarehouseID); err != nil {
		return WarehouseStock{}, InventoryTransaction{}, err
	}
	ref := input.ReferenceNumber
	if ref == "" {
		ref = generateReference("INB")
	}
	now := s.now()

	var stock WarehouseStock
	var txn InventoryTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.EnsureStock(ctx, input.ProductID, input.WarehouseID); err != nil {
			return err
		}
		current, err := tx.GetStockForUpdate(ctx, input.ProductID, input.WarehouseID)
		if err != nil {
			return err
		}
		current.Available += input.Quantity
		if input.ReleaseOnOrder {
			current.OnOrder -= min(current.OnOrder, input.Quantity)
		}
		if stock, err = storeStock(ctx, tx, current); err != nil {
			return err
		}
		txn, err = tx.InsertTransaction(ctx, InventoryTransaction{
			ProductID:       input.ProductID,
			WarehouseID:     input.WarehouseID,
			QuantityChange:  input.Quantity,
			Type:            TransactionTypeInbound,
			Reason:          input.Reason,
			ReferenceNumber: ref,
			TransactionDate: now,
		})
		return err
	})
	if err != nil {
		s.rejected("inbound", err)
		return WarehouseStock{}, InventoryTransaction{}, err
	}
	s.metrics.Moved("inbound", input.Quantity)
	s.invalidate(ctx, input.ProductID)
	return stock, txn, nil
}

// PostOutbound records goods leaving a warehouse. With a ReservationID the
// reserved quantity is consumed; otherwise free available stock is used.
func (s *Service) PostOutbound(ctx context.Context, input MovementInput) (WarehouseStock, InventoryTransaction, error) {
	if err := validatePair(input.ProductID, input.WarehouseID); err != nil {
		return WarehouseStock{}, InventoryTransaction{}, err
	}
	if input.Quantity < 0 || (input.Quantity == 0 && input.ReservationID == nil) {
		return WarehouseStock{}, InventoryTransaction{}, fmt.Errorf("%w: outbound quantity must be positive", ErrInvalidQuantity)
	}
	ref := input.ReferenceNumber
	if ref == "" {
		ref = generateReference("OUT")
	}
	now := s.now()

	var stock WarehouseStock
	var txn InventoryTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		qty := input.Quantity
		var res *Reservation
		if input.ReservationID != nil {
			r, err := tx.GetReservationForUpdate(ctx, *input.ReservationID)
			if err != nil {
				return err
			}
			if r.Status != ReservationReserved {
				return fmt.Errorf("%w: reservation %s is %s", ErrReservationNotActive, r.ID, r.Status)
			}
			if r.ProductID != input.ProductID || r.WarehouseID != input.WarehouseID {
				return fmt.Errorf("%w: reservation %s belongs to another product or warehouse", ErrInvalidInput, r.ID)
			}
			if qty == 0 {
				qty = r.Quantity
			}
			if qty != r.Quantity {
				return fmt.Errorf("%w: outbound quantity %d must match reservation quantity %d", ErrInvalidQuantity, qty, r.Quantity)
			}
			res = &r
		}

		current, err := tx.GetStockForUpdate(ctx, input.ProductID, input.WarehouseID)
		if errors.Is(err, ErrStockNotFound) {
			return stockNotFound(input.ProductID, input.WarehouseID)
		}
		if err != nil {
			return err
		}
		if res != nil {
			if current.Reserved < qty {
				return fmt.Errorf("inventory: reserved quantity %d below reservation %s quantity %d", current.Reserved, res.ID, qty)
			}
			current.Reserved -= qty
			if err := tx.UpdateReservationStatus(ctx, res.ID, ReservationConsumed, now); err != nil {
				return err
			}
		} else {
			if current.Available < qty {
				return &InsufficientStockError{
					ProductID:   input.ProductID,
					WarehouseID: input.WarehouseID,
					Requested:   qty,
					Available:   current.Available,
				}
			}
			current.Available -= qty
		}
		if stock, err = storeStock(ctx, tx, current); err != nil {
			return err
		}
		txn, err = tx.InsertTransaction(ctx, InventoryTransaction{
			ProductID:       input.ProductID,
			WarehouseID:     input.WarehouseID,
			QuantityChange:  -qty,
			Type:            TransactionTypeOutbound,
			Reason:          input.Reason,
			ReferenceNumber: ref,
			TransactionDate: now,
		})
		return err
	})
	if err != nil {
		s.rejected("outbound", err)
		return WarehouseStock{}, InventoryTransaction{}, err
	}
	if input.ReservationID != nil {
		s.metrics.Reservation("consumed", 1)
	}
	s.metrics.Moved("outbound", txn.QuantityChange)
	s.invalidate(ctx, input.ProductID)
	return stock, txn, nil
}

// AdjustOnOrder changes the quantity expected from approved purchase orders.
// Positive deltas create the row when needed.
func (s *Service) AdjustOnOrder(ctx context.Context, input OnOrderInput) (WarehouseStock, error) {
	if err := validatePair(input.ProductID, input.WarehouseID); err != nil {
		return WarehouseStock{}, err
	}
	if input.Delta == 0 {
		return WarehouseStock{}, fmt.Errorf("%w: on-order delta must be non zero", ErrInvalidQuantity)
	}
	var stock WarehouseStock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.Delta > 0 {
			if err := tx.EnsureStock(ctx, input.ProductID, input.WarehouseID); err != nil {
				return err
			}
		}
		current, err := tx.GetStockForUpdate(ctx, input.ProductID, input.WarehouseID)
		if errors.Is(err, ErrStockNotFound) {
			return stockNotFound(input.ProductID, input.WarehouseID)
		}
		if err != nil {
			return err
		}
		if current.OnOrder+input.Delta < 0 {
			return fmt.Errorf("%w: on order %d, delta %d", ErrOnOrderUnderflow, current.OnOrder, input.Delta)
		}
		current.OnOrder += input.Delta
		stock, err = storeStock(ctx, tx, current)
		return err
	})
	if err != nil {
		s.rejected("on_order", err)
		return WarehouseStock{}, err
	}
	s.invalidate(ctx, input.ProductID)
	return stock, nil
}
