package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketplace-orders/internal/gateway"
	"marketplace-orders/internal/models"
)

// fakeRepo is an in-memory OrderRepository with real version semantics so
// optimistic-concurrency paths can be exercised without a database.
type fakeRepo struct {
	mu            sync.Mutex
	orders        map[string]models.Order
	ledger        map[string]string
	getCalls      int
	failConflicts int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders: make(map[string]models.Order),
		ledger: make(map[string]string),
	}
}

func (r *fakeRepo) seed(order models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.Version == 0 {
		order.Version = 1
	}
	r.orders[order.ID] = order
}

func (r *fakeRepo) get(id string) models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[id]
}

func (r *fakeRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order.Version = 1
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	r.orders[order.ID] = *order
	return nil
}

func (r *fakeRepo) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCalls++
	order, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, id)
	}
	return &order, nil
}

func (r *fakeRepo) GetOrderByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, order := range r.orders {
		if order.ExternalPaymentID != "" && order.ExternalPaymentID == externalPaymentID {
			o := order
			return &o, nil
		}
	}
	return nil, fmt.Errorf("%w: payment %s", models.ErrOrderNotFound, externalPaymentID)
}

func (r *fakeRepo) UpdateOrderVersioned(ctx context.Context, order *models.Order, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(order, expectedVersion)
}

func (r *fakeRepo) updateLocked(order *models.Order, expectedVersion int64) error {
	if r.failConflicts > 0 {
		r.failConflicts--
		return fmt.Errorf("%w: injected", models.ErrConcurrentUpdate)
	}
	current, ok := r.orders[order.ID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrOrderNotFound, order.ID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: order %s at version %d", models.ErrConcurrentUpdate, order.ID, expectedVersion)
	}
	order.Version = expectedVersion + 1
	order.UpdatedAt = time.Now()
	r.orders[order.ID] = *order
	return nil
}

func (r *fakeRepo) ApplyReconciliation(ctx context.Context, event *models.ProcessedEvent, order *models.Order, expectedVersion int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ledger[event.EventKey]; ok {
		return false, nil
	}
	if err := r.updateLocked(order, expectedVersion); err != nil {
		return false, err
	}
	r.ledger[event.EventKey] = event.OrderID
	return true, nil
}

func fakeSnapshot(status string, amount int64) gateway.PaymentSnapshot {
	return gateway.PaymentSnapshot{Status: status, Amount: amount}
}

// fakeGateway is a scripted PaymentGateway.
type fakeGateway struct {
	mu sync.Mutex

	snapshot gateway.PaymentSnapshot
	getErr   error

	prefID      string
	checkoutURL string
	prefErr     error

	captureErr error
	cancelErr  error
	refundErr  error

	getCalls     int
	captureCalls int
	cancelCalls  int
	refundCalls  int

	lastCaptureAmount int64
	lastRefundAmount  int64
}

func (g *fakeGateway) CreateAuthorizationPreference(ctx context.Context, order *models.Order, urls gateway.ReturnURLs) (string, string, error) {
	if g.prefErr != nil {
		return "", "", g.prefErr
	}
	return g.prefID, g.checkoutURL, nil
}

func (g *fakeGateway) GetPayment(ctx context.Context, externalPaymentID string) (*gateway.PaymentSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	snap := g.snapshot
	if snap.ID == "" {
		snap.ID = externalPaymentID
	}
	return &snap, nil
}

func (g *fakeGateway) CapturePayment(ctx context.Context, externalPaymentID string, amount int64) (*gateway.PaymentSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureCalls++
	g.lastCaptureAmount = amount
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return &gateway.PaymentSnapshot{ID: externalPaymentID, Status: "approved", Amount: amount}, nil
}

func (g *fakeGateway) CancelPayment(ctx context.Context, externalPaymentID string) (*gateway.PaymentSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	return &gateway.PaymentSnapshot{ID: externalPaymentID, Status: "cancelled"}, nil
}

func (g *fakeGateway) RefundPayment(ctx context.Context, externalPaymentID string, amount int64) (*gateway.RefundSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls++
	g.lastRefundAmount = amount
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return &gateway.RefundSnapshot{ID: "refund-1", PaymentID: externalPaymentID, Amount: amount, Status: "approved"}, nil
}

// fakeCache is an in-memory OrderCache.
type fakeCache struct {
	mu     sync.Mutex
	seen   map[string]bool
	orders map[string]models.Order
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		seen:   make(map[string]bool),
		orders: make(map[string]models.Order),
	}
}

func (c *fakeCache) WebhookEventSeen(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[key], nil
}

func (c *fakeCache) MarkWebhookEvent(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[key] = true
	return nil
}

func (c *fakeCache) CacheOrder(ctx context.Context, order *models.Order, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[order.ID] = *order
	return nil
}

func (c *fakeCache) GetCachedOrder(ctx context.Context, orderID string) (*models.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (c *fakeCache) InvalidateOrder(ctx context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.orders, orderID)
	return nil
}

// fakePublisher records published lifecycle events.
type fakePublisher struct {
	mu        sync.Mutex
	accepted  []*models.OrderAcceptedEvent
	cancelled []*models.OrderCancelledEvent
	status    []*models.OrderStatusChangedEvent
	captured  []*models.PaymentCapturedEvent
	refunded  []*models.PaymentRefundedEvent
}

func (p *fakePublisher) PublishOrderAccepted(ctx context.Context, event *models.OrderAcceptedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accepted = append(p.accepted, event)
	return nil
}

func (p *fakePublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, event)
	return nil
}

func (p *fakePublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = append(p.status, event)
	return nil
}

func (p *fakePublisher) PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captured = append(p.captured, event)
	return nil
}

func (p *fakePublisher) PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunded = append(p.refunded, event)
	return nil
}
