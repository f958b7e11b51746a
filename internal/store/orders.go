package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace-orders/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, customer_id, seller_id, total_amount, status, version,
	preference_id, external_payment_id, hold_state, authorized_amount,
	captured_amount, refunded_amount, processor_status,
	authorized_at, captured_at, cancelled_at, refunded_at,
	created_at, updated_at`

// CreateOrder persists a new order and its line items in one transaction.
// The order starts at version 1.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (id, customer_id, seller_id, total_amount, status, hold_state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING version, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.ID, order.CustomerID, order.SellerID, order.TotalAmount, order.Status, order.HoldState).
		Scan(&order.Version, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err = tx.QueryRowxContext(ctx,
			`INSERT INTO order_items (order_id, item_id, quantity, unit_price)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			item.OrderID, item.ItemID, item.Quantity, item.UnitPrice).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order with its line items.
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		fmt.Sprintf("SELECT %s FROM orders WHERE id = $1", orderColumns), id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadItems(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByExternalPaymentID retrieves the order a processor payment id is
// attached to. Returns ErrOrderNotFound when no order references it yet.
func (s *Store) GetOrderByExternalPaymentID(ctx context.Context, externalPaymentID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		fmt.Sprintf("SELECT %s FROM orders WHERE external_payment_id = $1", orderColumns), externalPaymentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: payment %s", models.ErrOrderNotFound, externalPaymentID)
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadItems(ctx, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) loadItems(ctx context.Context, order *models.Order) error {
	return s.db.SelectContext(ctx, &order.Items,
		"SELECT id, order_id, item_id, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY id",
		order.ID)
}

// UpdateOrderVersioned writes the order's status and payment hold back,
// conditioned on the version being unchanged since the caller read it. On
// conflict it returns ErrConcurrentUpdate and the caller restarts from a
// fresh read. On success the order's Version and UpdatedAt are refreshed.
func (s *Store) UpdateOrderVersioned(ctx context.Context, order *models.Order, expectedVersion int64) error {
	return s.applyVersionedUpdate(ctx, s.db, order, expectedVersion)
}

type execer interface {
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

func (s *Store) applyVersionedUpdate(ctx context.Context, q execer, order *models.Order, expectedVersion int64) error {
	query := `
		UPDATE orders SET
			status = $1,
			preference_id = $2,
			external_payment_id = $3,
			hold_state = $4,
			authorized_amount = $5,
			captured_amount = $6,
			refunded_amount = $7,
			processor_status = $8,
			authorized_at = $9,
			captured_at = $10,
			cancelled_at = $11,
			refunded_at = $12,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $13 AND version = $14
		RETURNING version, updated_at`

	err := q.QueryRowxContext(ctx, query,
		order.Status, order.PreferenceID, order.ExternalPaymentID,
		order.HoldState, order.AuthorizedAmount, order.CapturedAmount, order.RefundedAmount,
		order.ProcessorStatus,
		order.AuthorizedAt, order.CapturedAt, order.CancelledAt, order.RefundedAt,
		order.ID, expectedVersion).
		Scan(&order.Version, &order.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: order %s at version %d", models.ErrConcurrentUpdate, order.ID, expectedVersion)
	}
	return err
}

// RecordProcessedEvent inserts an idempotency marker with a single
// conditional insert. It reports false when the key was already present.
func (s *Store) RecordProcessedEvent(ctx context.Context, event *models.ProcessedEvent) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_key, order_id) VALUES ($1, $2) ON CONFLICT (event_key) DO NOTHING",
		event.EventKey, event.OrderID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ApplyReconciliation records the idempotency marker and the order mutation
// as one transaction: either the event is new and the versioned update
// commits with it, or the event is a duplicate and nothing changes.
func (s *Store) ApplyReconciliation(ctx context.Context, event *models.ProcessedEvent, order *models.Order, expectedVersion int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_key, order_id) VALUES ($1, $2) ON CONFLICT (event_key) DO NOTHING",
		event.EventKey, event.OrderID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, tx.Commit()
	}

	if err := s.applyVersionedUpdate(ctx, tx, order, expectedVersion); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// PruneProcessedEvents deletes ledger entries recorded before the cutoff.
// Redelivery windows are processor-defined and finite, so old markers can go.
func (s *Store) PruneProcessedEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM processed_events WHERE recorded_at < $1", before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
