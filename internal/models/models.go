package models

import "time"

// OrderStatus is the fulfillment status of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusAccepted   OrderStatus = "accepted"
	OrderStatusPreparing  OrderStatus = "preparing"
	OrderStatusReady      OrderStatus = "ready"
	OrderStatusDelivering OrderStatus = "delivering"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// HoldState is the state of the payment authorization hold attached to an order.
type HoldState string

const (
	HoldStateNone              HoldState = "none"
	HoldStateAuthorized        HoldState = "authorized"
	HoldStateCaptured          HoldState = "captured"
	HoldStateCancelled         HoldState = "cancelled"
	HoldStateRefunded          HoldState = "refunded"
	HoldStatePartiallyRefunded HoldState = "partially_refunded"
	HoldStateFailed            HoldState = "failed"
)

// PaymentHold tracks the authorization hold placed against the payment
// processor for an order. It is stored alongside the order and mutated only
// through version-gated updates.
type PaymentHold struct {
	PreferenceID      string    `db:"preference_id" json:"preference_id,omitempty"`
	ExternalPaymentID string    `db:"external_payment_id" json:"external_payment_id,omitempty"`
	HoldState         HoldState `db:"hold_state" json:"hold_state"`
	AuthorizedAmount  int64     `db:"authorized_amount" json:"authorized_amount"`
	CapturedAmount    int64     `db:"captured_amount" json:"captured_amount"`
	RefundedAmount    int64     `db:"refunded_amount" json:"refunded_amount"`
	// ProcessorStatus is the last raw status string reported by the processor.
	// Diagnostic only; transitions are decided from HoldState.
	ProcessorStatus string     `db:"processor_status" json:"processor_status,omitempty"`
	AuthorizedAt    *time.Time `db:"authorized_at" json:"authorized_at,omitempty"`
	CapturedAt      *time.Time `db:"captured_at" json:"captured_at,omitempty"`
	CancelledAt     *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	RefundedAt      *time.Time `db:"refunded_at" json:"refunded_at,omitempty"`
}

// Order represents a customer order with its embedded payment hold.
type Order struct {
	ID          string      `db:"id" json:"id"`
	CustomerID  string      `db:"customer_id" json:"customer_id"`
	SellerID    string      `db:"seller_id" json:"seller_id"`
	TotalAmount int64       `db:"total_amount" json:"total_amount"`
	Status      OrderStatus `db:"status" json:"status"`
	Version     int64       `db:"version" json:"version"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
	PaymentHold
	Items []LineItem `db:"-" json:"items,omitempty"`
}

// LineItem represents a single ordered item.
type LineItem struct {
	ID        int64  `db:"id" json:"id"`
	OrderID   string `db:"order_id" json:"order_id"`
	ItemID    string `db:"item_id" json:"item_id"`
	Quantity  int    `db:"quantity" json:"quantity"`
	UnitPrice int64  `db:"unit_price" json:"unit_price"`
}

// ProcessedEvent is an idempotency marker for webhook deliveries. EventKey is
// unique across the ledger; a delivery whose key is already present is a no-op.
type ProcessedEvent struct {
	EventKey   string    `db:"event_key"`
	OrderID    string    `db:"order_id"`
	RecordedAt time.Time `db:"recorded_at"`
}
