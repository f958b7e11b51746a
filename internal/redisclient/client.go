package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketplace-orders/internal/models"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// WebhookEventSeen reports whether a webhook idempotency key has already
// been observed. Advisory fast path only; the database ledger is
// authoritative.
func (c *Client) WebhookEventSeen(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, "webhook:"+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkWebhookEvent records a webhook idempotency key after the database
// commit succeeded, with the ledger retention window as TTL.
func (c *Client) MarkWebhookEvent(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Set(ctx, "webhook:"+key, "1", ttl).Err()
}

// CacheOrder stores an order view for the read endpoint.
func (c *Client) CacheOrder(ctx context.Context, order *models.Order, ttl time.Duration) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, orderKey(order.ID), raw, ttl).Err()
}

// GetCachedOrder returns the cached order view, or nil on a miss.
func (c *Client) GetCachedOrder(ctx context.Context, orderID string) (*models.Order, error) {
	raw, err := c.rdb.Get(ctx, orderKey(orderID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// InvalidateOrder drops the cached view after a mutation.
func (c *Client) InvalidateOrder(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, orderKey(orderID)).Err()
}

func orderKey(orderID string) string {
	return "order:" + orderID
}
