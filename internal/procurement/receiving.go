package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-stock/internal/integration/orders"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
)

// stepNamespace seeds the deterministic idempotency keys of receipt steps.
var stepNamespace = uuid.MustParse("6f1d7c52-3a8e-4b0f-9a61-2c5d8e7f4a10")

// StepKey derives the idempotency key for receipt step seq of a PO line.
func StepKey(poID, lineID int64, seq int) uuid.UUID {
	return uuid.NewSHA1(stepNamespace, []byte(fmt.Sprintf("PO:%d:LINE:%d:SEQ:%d", poID, lineID, seq)))
}

// Saga stages reported in LineFailure.Stage.
const (
	stageOpen    = "open"
	stageCreate  = "create"
	stageFulfill = "fulfill"
	stageRecord  = "record"
)

// ReceivePurchaseOrder receives goods against an Approved order. Each line is
// materialised as an inbound order in the Orders service and fulfilled there.
// Lines succeed or fail independently: a fulfilled line is persisted at once,
// a failed line keeps its step so a retry resumes where it stopped. Unknown
// line ids are skipped.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	if input.POID <= 0 || input.WarehouseID <= 0 {
		return ReceiveResult{}, fmt.Errorf("%w: purchase order and warehouse required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return ReceiveResult{}, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	for _, l := range input.Lines {
		if l.ReceivedQuantity <= 0 {
			return ReceiveResult{}, fmt.Errorf("%w: received quantity for line %d must be positive", ErrValidation, l.POLineID)
		}
	}
	if s.orders == nil {
		return ReceiveResult{}, errors.New("procurement: orders integration not configured")
	}

	lease, err := s.leaser.Acquire(ctx, fmt.Sprintf("po-receive:%d", input.POID), s.leaseTTL)
	if errors.Is(err, cache.ErrLeaseHeld) {
		return ReceiveResult{}, fmt.Errorf("%w: purchase order %d", ErrReceiveInProgress, input.POID)
	}
	if err != nil {
		return ReceiveResult{}, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release receive lease failed", slog.Int64("purchase_order_id", input.POID), slog.Any("error", err))
		}
	}()

	po, err := s.repo.GetPurchaseOrder(ctx, input.POID)
	if err != nil {
		return ReceiveResult{}, err
	}
	if po.Status != POStatusApproved {
		return ReceiveResult{}, fmt.Errorf("%w: purchase order %d is %s", ErrInvalidState, po.ID, po.Status)
	}
	receivedAt := input.ReceivedDate
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}

	result := ReceiveResult{Received: []LineOutcome{}, Skipped: []int64{}, Failed: []LineFailure{}}
	for _, req := range input.Lines {
		line, ok := po.Line(req.POLineID)
		if !ok {
			s.logger.WarnContext(ctx, "receipt line not on purchase order, skipping",
				slog.Int64("purchase_order_id", po.ID),
				slog.Int64("po_line_id", req.POLineID))
			s.metrics.ReceiptLine("skipped")
			result.Skipped = append(result.Skipped, req.POLineID)
			continue
		}
		outcome, failure := s.receiveLine(ctx, po, line, req.ReceivedQuantity, input.WarehouseID, receivedAt)
		if err := lease.Extend(ctx, s.leaseTTL); err != nil {
			s.logger.WarnContext(ctx, "extend receive lease failed",
				slog.Int64("purchase_order_id", po.ID),
				slog.Any("error", err))
		}
		if failure != nil {
			result.Failed = append(result.Failed, *failure)
			continue
		}
		result.Received = append(result.Received, outcome)
	}

	final, completed, err := s.completeIfReceived(ctx, po.ID, receivedAt)
	if err != nil {
		return ReceiveResult{}, err
	}
	result.PurchaseOrder = final
	if completed {
		s.publish(ctx, TopicOrderReceived, final.ID, OrderReceivedEvent{
			PurchaseOrderID: final.ID,
			Number:          final.Number,
			SupplierID:      final.SupplierID,
			ReceivedAt:      receivedAt,
		})
	}

	s.recordAudit(ctx, "purchasing:receive", po.ID, map[string]any{
		"warehouse_id": input.WarehouseID,
		"received":     len(result.Received),
		"skipped":      len(result.Skipped),
		"failed":       len(result.Failed),
		"completed":    completed,
	})
	s.logger.InfoContext(ctx, "purchase order receipt processed",
		slog.Int64("purchase_order_id", po.ID),
		slog.Int("received", len(result.Received)),
		slog.Int("skipped", len(result.Skipped)),
		slog.Int("failed", len(result.Failed)),
		slog.String("status", string(final.Status)))
	return result, nil
}

func (s *Service) receiveLine(ctx context.Context, po PurchaseOrder, line POLine, qty, warehouseID int64, receivedAt time.Time) (LineOutcome, *LineFailure) {
	step, resumed, err := s.openStep(ctx, po.ID, line.ID, qty, warehouseID)
	if err != nil {
		s.metrics.ReceiptLine("failed")
		return LineOutcome{}, &LineFailure{POLineID: line.ID, Quantity: qty, Stage: stageOpen, Error: err.Error()}
	}
	key := step.IdempotencyKey.String()

	if step.RemoteOrderID == "" {
		order, err := s.orders.CreateInboundOrder(ctx, key, orders.CreateOrderRequest{
			OrderNumber:     fmt.Sprintf("%s-L%d-%d", po.Number, line.ID, step.Sequence),
			Type:            orders.OrderTypeInbound,
			SourceID:        po.SupplierID,
			TargetID:        warehouseID,
			ExternalOrderID: orderKey(po.ID),
			WarehouseID:     warehouseID,
			OrderDate:       receivedAt,
			Lines:           []orders.OrderLine{{ProductID: line.ProductID, Quantity: qty}},
		})
		if err != nil {
			return LineOutcome{}, s.failStep(ctx, step, stageCreate, err)
		}
		step.RemoteOrderID = order.ID.String()
		step.Status = StepCreated
		step.Error = ""
		step.UpdatedAt = s.now()
		if err := s.saveStep(ctx, step); err != nil {
			return LineOutcome{}, s.failStep(ctx, step, stageCreate, err)
		}
	}

	if _, err := s.orders.FulfillOrder(ctx, key+":fulfill", step.RemoteOrderID, orders.FulfillRequest{
		OrderID:     step.RemoteOrderID,
		WarehouseID: warehouseID,
	}); err != nil {
		return LineOutcome{}, s.failStep(ctx, step, stageFulfill, err)
	}

	updated, applied, err := s.completeStep(ctx, step)
	if err != nil {
		s.metrics.ReceiptLine("failed")
		s.logger.ErrorContext(ctx, "fulfilled receipt step not recorded",
			slog.Int64("step_id", step.ID),
			slog.String("remote_order_id", step.RemoteOrderID),
			slog.Any("error", err))
		return LineOutcome{}, &LineFailure{POLineID: line.ID, Quantity: qty, Stage: stageRecord, RemoteOrderID: step.RemoteOrderID, Error: err.Error()}
	}
	if !applied {
		s.metrics.ReceiptLine("already_fulfilled")
		s.logger.InfoContext(ctx, "receipt step fulfilled by a concurrent receive",
			slog.Int64("step_id", step.ID),
			slog.String("remote_order_id", step.RemoteOrderID))
		return LineOutcome{
			POLineID:      line.ID,
			ProductID:     line.ProductID,
			Quantity:      qty,
			RemoteOrderID: step.RemoteOrderID,
			Resumed:       true,
		}, nil
	}

	s.metrics.ReceiptLine("received")
	s.publish(ctx, TopicLineReceived, po.ID, LineReceivedEvent{
		PurchaseOrderID: po.ID,
		POLineID:        updated.ID,
		ProductID:       updated.ProductID,
		Quantity:        qty,
		WarehouseID:     warehouseID,
		RemoteOrderID:   step.RemoteOrderID,
	})
	return LineOutcome{
		POLineID:      line.ID,
		ProductID:     line.ProductID,
		Quantity:      qty,
		RemoteOrderID: step.RemoteOrderID,
		Resumed:       resumed,
	}, nil
}

// openStep resumes the unfinished step for this line, quantity and warehouse
// or opens the next Pending one.
func (s *Service) openStep(ctx context.Context, poID, lineID, qty, warehouseID int64) (ReceiptStep, bool, error) {
	var step ReceiptStep
	resumed := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.FindResumableStep(ctx, lineID, qty, warehouseID)
		if err == nil {
			step = existing
			resumed = true
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		seq, err := tx.NextStepSequence(ctx, lineID)
		if err != nil {
			return err
		}
		step, err = tx.InsertStep(ctx, ReceiptStep{
			POID:           poID,
			POLineID:       lineID,
			Sequence:       seq,
			Quantity:       qty,
			WarehouseID:    warehouseID,
			IdempotencyKey: StepKey(poID, lineID, seq),
			Status:         StepPending,
			CreatedAt:      s.now(),
		})
		return err
	})
	return step, resumed, err
}

func (s *Service) saveStep(ctx context.Context, step ReceiptStep) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := tx.UpdateStep(ctx, step)
		return err
	})
}

// failStep marks the step Failed. The remote order id is kept so a retry
// skips the create call.
func (s *Service) failStep(ctx context.Context, step ReceiptStep, stage string, cause error) *LineFailure {
	s.metrics.ReceiptLine("failed")
	s.logger.WarnContext(ctx, "receipt step failed",
		slog.Int64("po_line_id", step.POLineID),
		slog.Int64("step_id", step.ID),
		slog.String("stage", stage),
		slog.Any("error", cause))

	step.Status = StepFailed
	step.Error = fmt.Sprintf("%s: %v", stage, cause)
	step.UpdatedAt = s.now()
	if err := s.saveStep(context.WithoutCancel(ctx), step); err != nil {
		s.logger.Error("persist failed receipt step", slog.Int64("step_id", step.ID), slog.Any("error", err))
	}
	return &LineFailure{
		POLineID:      step.POLineID,
		Quantity:      step.Quantity,
		Stage:         stage,
		RemoteOrderID: step.RemoteOrderID,
		Error:         cause.Error(),
	}
}

// completeStep records the fulfilled step and the received quantity together.
// The quantity is applied only by the call that moves the step to Fulfilled;
// applied is false when another receive got there first.
func (s *Service) completeStep(ctx context.Context, step ReceiptStep) (line POLine, applied bool, err error) {
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		line, applied = POLine{}, false
		step.Status = StepFulfilled
		step.Error = ""
		step.UpdatedAt = s.now()
		changed, err := tx.UpdateStep(ctx, step)
		if err != nil || !changed {
			return err
		}
		line, err = tx.ApplyReceipt(ctx, step.POLineID, step.Quantity)
		applied = err == nil
		return err
	})
	return line, applied, err
}

// completeIfReceived moves the order to Received once every line is fully
// received. It reports whether this call made the transition.
func (s *Service) completeIfReceived(ctx context.Context, poID int64, at time.Time) (PurchaseOrder, bool, error) {
	var po PurchaseOrder
	completed := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPurchaseOrderForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusApproved || !po.FullyReceived() {
			return nil
		}
		if err := tx.UpdatePOStatus(ctx, poID, POStatusReceived, at); err != nil {
			return err
		}
		po.Status = POStatusReceived
		po.ReceivedAt = &at
		completed = true
		return nil
	})
	return po, completed, err
}
