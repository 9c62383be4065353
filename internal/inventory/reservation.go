package inventory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Reserve moves quantity from available to reserved for an order line.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) (Reservation, error) {
	if err := validatePair(input.ProductID, input.WarehouseID); err != nil {
		return Reservation{}, err
	}
	if input.Quantity <= 0 {
		return Reservation{}, fmt.Errorf("%w: reservation quantity must be positive", ErrInvalidQuantity)
	}
	now := s.now()
	until := now.Add(s.ttl)
	if input.ExpiresAt != nil {
		if !input.ExpiresAt.After(now) {
			return Reservation{}, fmt.Errorf("%w: expiresAt must be in the future", ErrInvalidInput)
		}
		until = input.ExpiresAt.UTC()
	}
	if err := s.checkCatalog(ctx, input.ProductID, input.WarehouseID); err != nil {
		return Reservation{}, err
	}

	res := Reservation{
		ID:            uuid.New(),
		ProductID:     input.ProductID,
		WarehouseID:   input.WarehouseID,
		OrderID:       input.OrderID,
		OrderLineID:   input.OrderLineID,
		Quantity:      input.Quantity,
		ReservedUntil: until,
		Status:        ReservationReserved,
		CreatedAt:     now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := tx.GetStockForUpdate(ctx, input.ProductID, input.WarehouseID)
		if errors.Is(err, ErrStockNotFound) {
			return stockNotFound(input.ProductID, input.WarehouseID)
		}
		if err != nil {
			return err
		}
		if input.Quantity > stock.Available {
			return &InsufficientStockError{
				ProductID:   input.ProductID,
				WarehouseID: input.WarehouseID,
				Requested:   input.Quantity,
				Available:   stock.Available,
			}
		}
		stock.Available -= input.Quantity
		stock.Reserved += input.Quantity
		if _, err := storeStock(ctx, tx, stock); err != nil {
			return err
		}
		return tx.InsertReservation(ctx, res)
	})
	if err != nil {
		s.rejected("reserve", err)
		return Reservation{}, err
	}

	s.metrics.Reservation("created", 1)
	s.invalidate(ctx, input.ProductID)
	s.recordAudit(ctx, "inventory:reserve", "stock_reservation", res.ID.String(), map[string]any{
		"product_id":    res.ProductID,
		"warehouse_id":  res.WarehouseID,
		"order_id":      res.OrderID,
		"order_line_id": res.OrderLineID,
		"quantity":      res.Quantity,
	})
	return res, nil
}

// Release returns a reservation's quantity to available stock. Unknown or
// already settled reservations are a successful no-op.
func (s *Service) Release(ctx context.Context, id uuid.UUID) error {
	var released *Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.GetReservationForUpdate(ctx, id)
		if errors.Is(err, ErrReservationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if res.Status != ReservationReserved {
			return nil
		}
		if err := returnReserved(ctx, tx, res); err != nil {
			return err
		}
		if err := tx.UpdateReservationStatus(ctx, res.ID, ReservationReleased, s.now()); err != nil {
			return err
		}
		released = &res
		return nil
	})
	if err != nil {
		return err
	}
	if released == nil {
		s.logger.Debug("release ignored", slog.String("reservation_id", id.String()))
		return nil
	}
	s.metrics.Reservation("released", 1)
	s.invalidate(ctx, released.ProductID)
	s.recordAudit(ctx, "inventory:release", "stock_reservation", id.String(), map[string]any{
		"product_id":   released.ProductID,
		"warehouse_id": released.WarehouseID,
		"quantity":     released.Quantity,
	})
	return nil
}

// ExpireReservations returns the quantity of up to limit reservations whose
// expiry is at or before now. Each expiry also writes an outbox event.
func (s *Service) ExpireReservations(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 200
	}
	var expired []Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		claimed, err := tx.ClaimExpiredReservations(ctx, now, limit)
		if err != nil {
			return err
		}
		slices.SortFunc(claimed, func(a, b Reservation) int {
			if c := cmp.Compare(a.WarehouseID, b.WarehouseID); c != 0 {
				return c
			}
			return cmp.Compare(a.ProductID, b.ProductID)
		})
		for _, res := range claimed {
			if err := returnReserved(ctx, tx, res); err != nil {
				return fmt.Errorf("inventory: expire reservation %s: %w", res.ID, err)
			}
			if err := tx.UpdateReservationStatus(ctx, res.ID, ReservationExpired, now); err != nil {
				return err
			}
			msg, err := newEvent(TopicReservationExpired, res.ProductID, ReservationExpiredEvent{
				ReservationID: res.ID,
				ProductID:     res.ProductID,
				WarehouseID:   res.WarehouseID,
				OrderID:       res.OrderID,
				OrderLineID:   res.OrderLineID,
				Quantity:      res.Quantity,
				ReservedUntil: res.ReservedUntil,
				ExpiredAt:     now,
			})
			if err != nil {
				return err
			}
			if err := tx.EnqueueEvent(ctx, msg); err != nil {
				return err
			}
		}
		expired = claimed
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	products := make([]int64, 0, len(expired))
	for _, res := range expired {
		products = append(products, res.ProductID)
	}
	s.metrics.Reservation("expired", len(expired))
	s.invalidate(ctx, slices.Compact(slices.Sorted(slices.Values(products)))...)
	s.logger.Info("reservations expired", slog.Int("count", len(expired)))
	return len(expired), nil
}

func returnReserved(ctx context.Context, tx TxRepository, res Reservation) error {
	stock, err := tx.GetStockForUpdate(ctx, res.ProductID, res.WarehouseID)
	if errors.Is(err, ErrStockNotFound) {
		return stockNotFound(res.ProductID, res.WarehouseID)
	}
	if err != nil {
		return err
	}
	if stock.Reserved < res.Quantity {
		return fmt.Errorf("inventory: reserved quantity %d below reservation %s quantity %d", stock.Reserved, res.ID, res.Quantity)
	}
	stock.Reserved -= res.Quantity
	stock.Available += res.Quantity
	_, err = storeStock(ctx, tx, stock)
	return err
}
