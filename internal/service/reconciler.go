package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookReconciler turns inbound, untrusted, at-least-once payment
// notifications into at-most-one order state update. The notification only
// says "something changed"; every decision is made from a freshly fetched
// processor snapshot, so deliveries converge to the processor's current
// state regardless of ordering or duplication.
type WebhookReconciler struct {
	repo      OrderRepository
	gateway   PaymentGateway
	cache     OrderCache
	publisher LifecycleEventPublisher
	logger    *zap.Logger
}

// NewWebhookReconciler creates a new webhook reconciler
func NewWebhookReconciler(repo OrderRepository, gw PaymentGateway, cache OrderCache, publisher LifecycleEventPublisher) *WebhookReconciler {
	return &WebhookReconciler{
		repo:      repo,
		gateway:   gw,
		cache:     cache,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// ProcessPaymentNotification reconciles order state against the processor
// for the payment named in a webhook delivery. A returned
// ErrGatewayUnavailable is retryable: nothing was recorded and the caller
// should elicit a redelivery. All other outcomes, including duplicates and
// payments this service does not know, are terminal successes.
func (r *WebhookReconciler) ProcessPaymentNotification(ctx context.Context, externalPaymentID string) error {
	ctx, span := util.StartSpan(ctx, "WebhookReconciler.ProcessPaymentNotification")
	defer span.End()

	snap, err := r.gateway.GetPayment(ctx, externalPaymentID)
	if err != nil {
		if errors.Is(err, models.ErrPaymentNotFound) {
			r.logger.Warn("Webhook for payment unknown to processor",
				zap.String("external_payment_id", externalPaymentID))
			return nil
		}
		util.WebhooksRetryableTotal.Inc()
		return err
	}

	eventKey := reconciliationKey(externalPaymentID, snap.Status, snap.Amount)

	if r.cache != nil {
		if seen, err := r.cache.WebhookEventSeen(ctx, eventKey); err == nil && seen {
			util.WebhooksDuplicateTotal.Inc()
			return nil
		}
	}

	order, err := r.findOrder(ctx, externalPaymentID, snap.ExternalReference)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			r.logger.Warn("Webhook for payment with no matching order",
				zap.String("external_payment_id", externalPaymentID),
				zap.String("external_reference", snap.ExternalReference))
			return nil
		}
		util.WebhooksRetryableTotal.Inc()
		return err
	}

	var applied *models.Order
	inserted := false
	for attempt := 0; attempt < occMaxAttempts; attempt++ {
		next := *order
		next.Items = order.Items
		r.deriveState(&next, externalPaymentID, snap.Status, snap.Amount)

		event := &models.ProcessedEvent{
			EventKey:   eventKey,
			OrderID:    order.ID,
			RecordedAt: time.Now(),
		}

		inserted, err = r.repo.ApplyReconciliation(ctx, event, &next, order.Version)
		if err == nil {
			applied = &next
			break
		}
		if !errors.Is(err, models.ErrConcurrentUpdate) {
			util.WebhooksRetryableTotal.Inc()
			return err
		}
		util.ConcurrentUpdateConflicts.Inc()
		if order, err = r.repo.GetOrderByID(ctx, order.ID); err != nil {
			util.WebhooksRetryableTotal.Inc()
			return err
		}
	}
	if applied == nil {
		util.WebhooksRetryableTotal.Inc()
		return fmt.Errorf("%w: reconciling order %s", models.ErrConcurrentUpdate, order.ID)
	}

	if !inserted {
		util.WebhooksDuplicateTotal.Inc()
		r.logger.Info("Duplicate webhook delivery skipped",
			zap.String("order_id", applied.ID),
			zap.String("event_key", eventKey))
		return nil
	}

	util.WebhooksProcessedTotal.Inc()
	r.afterApply(ctx, order, applied, eventKey)
	return nil
}

// deriveState rewrites the order copy to the state implied by the processor
// snapshot. Illegal implied transitions are logged and dropped; the order
// keeps its current, already-consistent state and the delivery is still
// recorded, since a stale notification must not rewind anything.
func (r *WebhookReconciler) deriveState(order *models.Order, externalPaymentID, processorStatus string, amount int64) {
	if order.ExternalPaymentID == "" {
		order.ExternalPaymentID = externalPaymentID
	}
	order.ProcessorStatus = processorStatus

	now := time.Now()

	if implied := models.HoldStateForProcessorStatus(processorStatus); implied != "" && implied != order.HoldState {
		if models.CanTransitionHold(order.HoldState, implied) {
			order.HoldState = implied
			switch implied {
			case models.HoldStateAuthorized:
				order.AuthorizedAmount = amount
				order.AuthorizedAt = &now
				util.HoldsAuthorizedTotal.Inc()
			case models.HoldStateFailed:
				util.HoldsFailedTotal.Inc()
			case models.HoldStateCancelled:
				order.CancelledAt = &now
			case models.HoldStateRefunded:
				order.RefundedAmount = order.CapturedAmount
				order.RefundedAt = &now
			}
		} else {
			util.IllegalTransitionsTotal.WithLabelValues("hold").Inc()
			r.logger.Warn("Snapshot implies illegal hold transition, keeping current state",
				zap.String("order_id", order.ID),
				zap.String("current", string(order.HoldState)),
				zap.String("implied", string(implied)),
				zap.String("processor_status", processorStatus))
		}
	}

	status, mapped := models.FulfillmentStatusForProcessorStatus(processorStatus)
	if !mapped {
		util.WebhookUnmappedStatusTotal.WithLabelValues(processorStatus).Inc()
		r.logger.Warn("Unmapped processor status, defaulting to pending",
			zap.String("order_id", order.ID),
			zap.String("processor_status", processorStatus))
	}
	if status != order.Status {
		if models.CanTransitionFulfillment(order.Status, status) {
			order.Status = status
		} else {
			util.IllegalTransitionsTotal.WithLabelValues("fulfillment").Inc()
			r.logger.Warn("Snapshot implies illegal fulfillment transition, keeping current state",
				zap.String("order_id", order.ID),
				zap.String("current", string(order.Status)),
				zap.String("implied", string(status)))
		}
	}
}

func (r *WebhookReconciler) afterApply(ctx context.Context, before, after *models.Order, eventKey string) {
	if r.cache != nil {
		if err := r.cache.MarkWebhookEvent(ctx, eventKey, ledgerRetention); err != nil {
			r.logger.Warn("Failed to mark webhook event in cache", zap.Error(err))
		}
		if err := r.cache.InvalidateOrder(ctx, after.ID); err != nil {
			r.logger.Warn("Failed to invalidate order cache", zap.Error(err))
		}
	}

	if r.publisher == nil || before.Status == after.Status {
		return
	}

	switch after.Status {
	case models.OrderStatusAccepted:
		event := &models.OrderAcceptedEvent{
			BaseEvent:   newBaseEvent(models.EventTypeOrderAccepted),
			OrderID:     after.ID,
			CustomerID:  after.CustomerID,
			SellerID:    after.SellerID,
			TotalAmount: after.TotalAmount,
		}
		if err := r.publisher.PublishOrderAccepted(ctx, event); err != nil {
			r.logger.Error("Failed to publish OrderAccepted event", zap.Error(err))
		}
	case models.OrderStatusCancelled:
		event := &models.OrderCancelledEvent{
			BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
			OrderID:   after.ID,
			Reason:    "payment_" + after.ProcessorStatus,
		}
		if err := r.publisher.PublishOrderCancelled(ctx, event); err != nil {
			r.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
		}
	}
}

func (r *WebhookReconciler) findOrder(ctx context.Context, externalPaymentID, externalReference string) (*models.Order, error) {
	order, err := r.repo.GetOrderByExternalPaymentID(ctx, externalPaymentID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, models.ErrOrderNotFound) || externalReference == "" {
		return nil, err
	}
	// First notification for this payment: the processor's external
	// reference carries the order id set at preference creation.
	return r.repo.GetOrderByID(ctx, externalReference)
}

// reconciliationKey derives the idempotency key for a delivery. Processor
// event ids are not assumed unique, so the key hashes the observed snapshot:
// redeliveries of the same observed state collapse to one ledger entry.
func reconciliationKey(externalPaymentID, status string, amount int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", externalPaymentID, status, amount)))
	return hex.EncodeToString(sum[:])
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
