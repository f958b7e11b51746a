package models

import "time"

// Event types
const (
	EventTypeOrderAccepted      = "ORDER_ACCEPTED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePaymentCaptured    = "PAYMENT_CAPTURED"
	EventTypePaymentRefunded    = "PAYMENT_REFUNDED"
	EventTypeFulfillmentAction  = "FULFILLMENT_ACTION"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderAcceptedEvent published when a payment hold is confirmed and the
// order moves to accepted
type OrderAcceptedEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	CustomerID  string `json:"customer_id"`
	SellerID    string `json:"seller_id"`
	TotalAmount int64  `json:"total_amount"`
}

// OrderCancelledEvent published when an order is cancelled
type OrderCancelledEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderStatusChangedEvent published on operational fulfillment transitions
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID string      `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}

// PaymentCapturedEvent published when a hold is captured
type PaymentCapturedEvent struct {
	BaseEvent
	OrderID           string `json:"order_id"`
	ExternalPaymentID string `json:"external_payment_id"`
	Amount            int64  `json:"amount"`
}

// PaymentRefundedEvent published after a full or partial refund
type PaymentRefundedEvent struct {
	BaseEvent
	OrderID           string `json:"order_id"`
	ExternalPaymentID string `json:"external_payment_id"`
	Amount            int64  `json:"amount"`
	RefundedTotal     int64  `json:"refunded_total"`
}

// FulfillmentActionEvent consumed from kitchen/driver systems to advance an
// order through the operational fulfillment statuses
type FulfillmentActionEvent struct {
	BaseEvent
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
	ActorID string      `json:"actor_id,omitempty"`
}
