package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-orders/internal/gateway"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const orderCacheTTL = 5 * time.Minute

// OrderLifecycleController is the façade the API layer talks to. It
// composes the hold manager and the order store behind the operator-facing
// operations and owns the view cache and lifecycle event publishing.
type OrderLifecycleController struct {
	repo       OrderRepository
	gateway    PaymentGateway
	holds      *HoldManager
	cache      OrderCache
	publisher  LifecycleEventPublisher
	returnURLs gateway.ReturnURLs
	logger     *zap.Logger
}

// NewOrderLifecycleController creates the controller façade.
func NewOrderLifecycleController(
	repo OrderRepository,
	gw PaymentGateway,
	holds *HoldManager,
	cache OrderCache,
	publisher LifecycleEventPublisher,
	returnURLs gateway.ReturnURLs,
) *OrderLifecycleController {
	return &OrderLifecycleController{
		repo:       repo,
		gateway:    gw,
		holds:      holds,
		cache:      cache,
		publisher:  publisher,
		returnURLs: returnURLs,
		logger:     util.GetLogger(),
	}
}

// CreateOrderInput is a request to create an order with a payment hold.
type CreateOrderInput struct {
	CustomerID string          `json:"customer_id" binding:"required"`
	SellerID   string          `json:"seller_id" binding:"required"`
	Items      []LineItemInput `json:"items" binding:"required,min=1"`
}

// LineItemInput is a single requested line item.
type LineItemInput struct {
	ItemID    string `json:"item_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	UnitPrice int64  `json:"unit_price"`
}

// CreateHeldOrder validates and persists a new order, then creates an
// authorize-only checkout preference at the processor. If preference
// creation fails the order stays persisted in pending/none for manual
// reconciliation; the order is returned alongside the error so the caller
// can report the orphaned id.
func (c *OrderLifecycleController) CreateHeldOrder(ctx context.Context, in CreateOrderInput) (*models.Order, string, error) {
	ctx, span := util.StartSpan(ctx, "OrderLifecycleController.CreateHeldOrder")
	defer span.End()

	if err := validateCreateOrder(in); err != nil {
		return nil, "", err
	}

	items := make([]models.LineItem, 0, len(in.Items))
	var total int64
	for _, item := range in.Items {
		items = append(items, models.LineItem{
			ItemID:    item.ItemID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
		total += item.UnitPrice * int64(item.Quantity)
	}

	order := &models.Order{
		ID:          uuid.New().String(),
		CustomerID:  in.CustomerID,
		SellerID:    in.SellerID,
		TotalAmount: total,
		Status:      models.OrderStatusPending,
		PaymentHold: models.PaymentHold{HoldState: models.HoldStateNone},
		Items:       items,
	}

	if err := c.repo.CreateOrder(ctx, order); err != nil {
		return nil, "", fmt.Errorf("failed to create order: %w", err)
	}
	util.OrdersCreatedTotal.Inc()
	c.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.Int64("total_amount", order.TotalAmount))

	preferenceID, checkoutURL, err := c.gateway.CreateAuthorizationPreference(ctx, order, c.returnURLs)
	if err != nil {
		util.OrdersOrphanedTotal.Inc()
		c.logger.Error("Preference creation failed, order kept for manual reconciliation",
			zap.String("order_id", order.ID),
			zap.Error(err))
		return order, "", err
	}

	order.PreferenceID = preferenceID
	if err := c.repo.UpdateOrderVersioned(ctx, order, order.Version); err != nil {
		return order, "", fmt.Errorf("failed to persist preference id: %w", err)
	}

	return order, checkoutURL, nil
}

// Capture captures the order's payment hold, fully or for a partial amount.
func (c *OrderLifecycleController) Capture(ctx context.Context, orderID string, amount int64) (*models.Order, error) {
	order, err := c.holds.Capture(ctx, orderID, amount)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, orderID)

	event := &models.PaymentCapturedEvent{
		BaseEvent:         newBaseEvent(models.EventTypePaymentCaptured),
		OrderID:           order.ID,
		ExternalPaymentID: order.ExternalPaymentID,
		Amount:            order.CapturedAmount,
	}
	if err := c.publisher.PublishPaymentCaptured(ctx, event); err != nil {
		c.logger.Error("Failed to publish PaymentCaptured event", zap.Error(err))
	}
	return order, nil
}

// Cancel releases the order's payment hold and cancels the order.
func (c *OrderLifecycleController) Cancel(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := c.holds.Cancel(ctx, orderID)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, orderID)

	event := &models.OrderCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   order.ID,
		Reason:    "operator_cancel",
	}
	if err := c.publisher.PublishOrderCancelled(ctx, event); err != nil {
		c.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}
	return order, nil
}

// Refund refunds all or part of the order's captured payment.
func (c *OrderLifecycleController) Refund(ctx context.Context, orderID string, amount int64) (*models.Order, error) {
	order, err := c.holds.Refund(ctx, orderID, amount)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, orderID)

	event := &models.PaymentRefundedEvent{
		BaseEvent:         newBaseEvent(models.EventTypePaymentRefunded),
		OrderID:           order.ID,
		ExternalPaymentID: order.ExternalPaymentID,
		Amount:            amount,
		RefundedTotal:     order.RefundedAmount,
	}
	if err := c.publisher.PublishPaymentRefunded(ctx, event); err != nil {
		c.logger.Error("Failed to publish PaymentRefunded event", zap.Error(err))
	}
	return order, nil
}

// GetOrder returns the order view, served from cache when possible.
func (c *OrderLifecycleController) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if c.cache != nil {
		if cached, err := c.cache.GetCachedOrder(ctx, orderID); err == nil && cached != nil {
			return cached, nil
		}
	}

	order, err := c.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.CacheOrder(ctx, order, orderCacheTTL); err != nil {
			c.logger.Warn("Failed to cache order", zap.Error(err))
		}
	}
	return order, nil
}

// AdvanceFulfillment applies an operational fulfillment transition
// (preparing, ready, delivering, delivered) from kitchen/driver actors.
// Terminal orders and backward moves are rejected with ErrInvalidTransition
// so stale updates are detectable.
func (c *OrderLifecycleController) AdvanceFulfillment(ctx context.Context, orderID string, target models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderLifecycleController.AdvanceFulfillment")
	defer span.End()

	var from models.OrderStatus
	var result *models.Order
	var lastErr error
	for attempt := 0; attempt < occMaxAttempts; attempt++ {
		order, err := c.repo.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, err
		}

		if !models.CanTransitionFulfillment(order.Status, target) {
			util.IllegalTransitionsTotal.WithLabelValues("fulfillment").Inc()
			return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, order.Status, target)
		}

		from = order.Status
		readVersion := order.Version
		order.Status = target

		err = c.repo.UpdateOrderVersioned(ctx, order, readVersion)
		if err == nil {
			result = order
			break
		}
		if !errors.Is(err, models.ErrConcurrentUpdate) {
			return nil, err
		}
		util.ConcurrentUpdateConflicts.Inc()
		lastErr = err
	}
	if result == nil {
		return nil, lastErr
	}

	c.invalidate(ctx, orderID)

	event := &models.OrderStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   result.ID,
		From:      from,
		To:        target,
	}
	if err := c.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		c.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}
	return result, nil
}

func (c *OrderLifecycleController) invalidate(ctx context.Context, orderID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.InvalidateOrder(ctx, orderID); err != nil {
		c.logger.Warn("Failed to invalidate order cache",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

func validateCreateOrder(in CreateOrderInput) error {
	if in.CustomerID == "" || in.SellerID == "" {
		return fmt.Errorf("%w: customer and seller are required", models.ErrInvalidRequest)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: order must have at least one item", models.ErrInvalidRequest)
	}
	for _, item := range in.Items {
		if item.ItemID == "" {
			return fmt.Errorf("%w: item id is required", models.ErrInvalidRequest)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1 for item %s", models.ErrInvalidRequest, item.ItemID)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: unit price must be non-negative for item %s", models.ErrInvalidRequest, item.ItemID)
		}
	}
	return nil
}
