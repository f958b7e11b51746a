package service

import (
	"context"
	"time"

	"marketplace-orders/internal/gateway"
	"marketplace-orders/internal/models"
)

// OrderRepository is the persistence surface the services need. The sqlx
// store implements it; tests use in-memory fakes.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.Order, error)
	UpdateOrderVersioned(ctx context.Context, order *models.Order, expectedVersion int64) error
	ApplyReconciliation(ctx context.Context, event *models.ProcessedEvent, order *models.Order, expectedVersion int64) (bool, error)
}

// PaymentGateway is the processor surface, as implemented by gateway.Client.
type PaymentGateway interface {
	CreateAuthorizationPreference(ctx context.Context, order *models.Order, urls gateway.ReturnURLs) (preferenceID string, checkoutURL string, err error)
	GetPayment(ctx context.Context, externalPaymentID string) (*gateway.PaymentSnapshot, error)
	CapturePayment(ctx context.Context, externalPaymentID string, amount int64) (*gateway.PaymentSnapshot, error)
	CancelPayment(ctx context.Context, externalPaymentID string) (*gateway.PaymentSnapshot, error)
	RefundPayment(ctx context.Context, externalPaymentID string, amount int64) (*gateway.RefundSnapshot, error)
}

// OrderCache is the Redis-backed view cache and webhook fast path. All of it
// is advisory; a nil-tolerant caller treats errors as cache misses.
type OrderCache interface {
	WebhookEventSeen(ctx context.Context, key string) (bool, error)
	MarkWebhookEvent(ctx context.Context, key string, ttl time.Duration) error
	CacheOrder(ctx context.Context, order *models.Order, ttl time.Duration) error
	GetCachedOrder(ctx context.Context, orderID string) (*models.Order, error)
	InvalidateOrder(ctx context.Context, orderID string) error
}

// LifecycleEventPublisher publishes order lifecycle events for downstream
// consumers (notifications, analytics). Publish failures never fail the
// transition that produced them.
type LifecycleEventPublisher interface {
	PublishOrderAccepted(ctx context.Context, event *models.OrderAcceptedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error
	PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error
}

// occMaxAttempts bounds optimistic-concurrency retries before surfacing
// ErrConcurrentUpdate to the caller.
const occMaxAttempts = 3

// ledgerRetention is how long processed-event markers are kept before pruning.
const ledgerRetention = 90 * 24 * time.Hour
