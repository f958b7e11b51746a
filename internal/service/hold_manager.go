package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/util"

	"go.uber.org/zap"
)

// HoldManager drives the capture/cancel/refund transitions of a payment
// hold. Every operation re-fetches the authoritative processor snapshot
// before acting, corrects the local state if the snapshot moved ahead of it,
// and commits the result with a version-gated write.
type HoldManager struct {
	repo    OrderRepository
	gateway PaymentGateway
	logger  *zap.Logger
}

// NewHoldManager creates a new hold manager
func NewHoldManager(repo OrderRepository, gw PaymentGateway) *HoldManager {
	return &HoldManager{
		repo:    repo,
		gateway: gw,
		logger:  util.GetLogger(),
	}
}

// Capture converts the order's authorization hold into a funds transfer.
// A non-positive amount captures the full authorized amount. The amount may
// never exceed the authorized amount.
func (m *HoldManager) Capture(ctx context.Context, orderID string, amount int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "HoldManager.Capture")
	defer span.End()

	var result *models.Order
	err := m.withOCCRetry(ctx, orderID, func(order *models.Order) error {
		if err := m.resyncHold(ctx, order); err != nil {
			return err
		}

		captureAmount := amount
		if captureAmount <= 0 {
			captureAmount = order.AuthorizedAmount
		}
		if captureAmount > order.AuthorizedAmount {
			return fmt.Errorf("%w: capture amount %d exceeds authorized %d",
				models.ErrInvalidRequest, captureAmount, order.AuthorizedAmount)
		}

		if !models.CanTransitionHold(order.HoldState, models.HoldStateCaptured) {
			util.IllegalTransitionsTotal.WithLabelValues("hold").Inc()
			return fmt.Errorf("%w: cannot capture hold in state %s", models.ErrInvalidTransition, order.HoldState)
		}

		snap, err := m.gateway.CapturePayment(ctx, order.ExternalPaymentID, captureAmount)
		if err != nil {
			return err
		}

		now := time.Now()
		order.HoldState = models.HoldStateCaptured
		order.CapturedAmount = captureAmount
		order.CapturedAt = &now
		order.ProcessorStatus = snap.Status
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.HoldsCapturedTotal.Inc()
	m.logger.Info("Payment hold captured",
		zap.String("order_id", orderID),
		zap.Int64("amount", result.CapturedAmount))
	return result, nil
}

// Cancel releases the order's authorization hold and cancels the order.
func (m *HoldManager) Cancel(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "HoldManager.Cancel")
	defer span.End()

	var result *models.Order
	err := m.withOCCRetry(ctx, orderID, func(order *models.Order) error {
		if err := m.resyncHold(ctx, order); err != nil {
			return err
		}

		if !models.CanTransitionHold(order.HoldState, models.HoldStateCancelled) {
			util.IllegalTransitionsTotal.WithLabelValues("hold").Inc()
			return fmt.Errorf("%w: cannot cancel hold in state %s", models.ErrInvalidTransition, order.HoldState)
		}

		snap, err := m.gateway.CancelPayment(ctx, order.ExternalPaymentID)
		if err != nil {
			return err
		}

		now := time.Now()
		order.HoldState = models.HoldStateCancelled
		order.CancelledAt = &now
		order.ProcessorStatus = snap.Status
		if models.CanTransitionFulfillment(order.Status, models.OrderStatusCancelled) {
			order.Status = models.OrderStatusCancelled
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.HoldsCancelledTotal.Inc()
	m.logger.Info("Payment hold cancelled", zap.String("order_id", orderID))
	return result, nil
}

// Refund refunds all or part of a captured payment. A non-positive amount
// refunds the remaining captured amount; cumulative refunds never exceed the
// captured amount.
func (m *HoldManager) Refund(ctx context.Context, orderID string, amount int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "HoldManager.Refund")
	defer span.End()

	var result *models.Order
	err := m.withOCCRetry(ctx, orderID, func(order *models.Order) error {
		if err := m.resyncHold(ctx, order); err != nil {
			return err
		}

		if order.HoldState != models.HoldStateCaptured && order.HoldState != models.HoldStatePartiallyRefunded {
			util.IllegalTransitionsTotal.WithLabelValues("hold").Inc()
			return fmt.Errorf("%w: cannot refund hold in state %s", models.ErrInvalidTransition, order.HoldState)
		}

		remaining := order.CapturedAmount - order.RefundedAmount
		refundAmount := amount
		if refundAmount <= 0 {
			refundAmount = remaining
		}
		if refundAmount > remaining {
			return fmt.Errorf("%w: refund amount %d exceeds remaining captured %d",
				models.ErrInvalidRequest, refundAmount, remaining)
		}

		target := models.HoldStatePartiallyRefunded
		if order.RefundedAmount+refundAmount == order.CapturedAmount {
			target = models.HoldStateRefunded
		}
		if !models.CanTransitionHold(order.HoldState, target) {
			util.IllegalTransitionsTotal.WithLabelValues("hold").Inc()
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, order.HoldState, target)
		}

		// The processor treats an omitted amount as a full refund; only
		// send one when this is a partial refund of the captured total.
		gatewayAmount := refundAmount
		if refundAmount == order.CapturedAmount && order.RefundedAmount == 0 {
			gatewayAmount = 0
		}
		if _, err := m.gateway.RefundPayment(ctx, order.ExternalPaymentID, gatewayAmount); err != nil {
			return err
		}

		now := time.Now()
		order.HoldState = target
		order.RefundedAmount += refundAmount
		order.RefundedAt = &now
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	kind := "partial"
	if result.HoldState == models.HoldStateRefunded {
		kind = "full"
	}
	util.RefundsTotal.WithLabelValues(kind).Inc()
	m.logger.Info("Payment refunded",
		zap.String("order_id", orderID),
		zap.Int64("refunded_total", result.RefundedAmount))
	return result, nil
}

// resyncHold re-fetches the authoritative payment snapshot and moves the
// local hold state forward to match it when a concurrent webhook or a
// previously timed-out call already advanced the payment. Corrections only
// ever move forward; the snapshot cannot rewind a hold.
func (m *HoldManager) resyncHold(ctx context.Context, order *models.Order) error {
	if order.ExternalPaymentID == "" {
		return fmt.Errorf("%w: order %s has no payment attached", models.ErrInvalidState, order.ID)
	}

	snap, err := m.gateway.GetPayment(ctx, order.ExternalPaymentID)
	if err != nil {
		return err
	}

	order.ProcessorStatus = snap.Status
	implied := models.HoldStateForProcessorStatus(snap.Status)
	if implied == "" || implied == order.HoldState {
		return nil
	}
	if models.CanTransitionHold(order.HoldState, implied) {
		m.logger.Warn("Local hold state corrected from processor snapshot",
			zap.String("order_id", order.ID),
			zap.String("from", string(order.HoldState)),
			zap.String("to", string(implied)),
			zap.String("processor_status", snap.Status))
		order.HoldState = implied
		if implied == models.HoldStateAuthorized && order.AuthorizedAmount == 0 {
			order.AuthorizedAmount = snap.Amount
		}
	}
	return nil
}

// withOCCRetry runs a read-modify-write cycle under optimistic concurrency:
// read the order, let fn mutate the in-memory copy, write back gated on the
// version read. A conflicting writer restarts the cycle from a fresh read.
func (m *HoldManager) withOCCRetry(ctx context.Context, orderID string, fn func(order *models.Order) error) error {
	var lastErr error
	for attempt := 0; attempt < occMaxAttempts; attempt++ {
		order, err := m.repo.GetOrderByID(ctx, orderID)
		if err != nil {
			return err
		}

		readVersion := order.Version
		if err := fn(order); err != nil {
			return err
		}

		err = m.repo.UpdateOrderVersioned(ctx, order, readVersion)
		if err == nil {
			return nil
		}
		if !errors.Is(err, models.ErrConcurrentUpdate) {
			return err
		}
		util.ConcurrentUpdateConflicts.Inc()
		lastErr = err
	}
	return lastErr
}
