package models

// holdTransitions lists the legal forward moves of the hold state machine.
// captured→refunded, cancelled and failed are terminal once fully refunded.
var holdTransitions = map[HoldState][]HoldState{
	HoldStateNone:       {HoldStateAuthorized, HoldStateFailed},
	HoldStateAuthorized: {HoldStateCaptured, HoldStateCancelled, HoldStateFailed},
	HoldStateCaptured:   {HoldStateRefunded, HoldStatePartiallyRefunded},
	// A partial refund that still leaves a remainder keeps the hold in
	// partially_refunded; refunding the remainder finishes it.
	HoldStatePartiallyRefunded: {HoldStatePartiallyRefunded, HoldStateRefunded},
}

// CanTransitionHold reports whether the hold state machine permits moving
// from one state to another. Any move not listed is illegal, including
// re-entering the current state (except repeated partial refunds).
func CanTransitionHold(from, to HoldState) bool {
	for _, next := range holdTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// fulfillmentStage orders the nominal fulfillment chain. Cancelled and
// delivered are handled separately as terminal states.
var fulfillmentStage = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusAccepted:   1,
	OrderStatusPreparing:  2,
	OrderStatusReady:      3,
	OrderStatusDelivering: 4,
	OrderStatusDelivered:  5,
}

// KnownOrderStatus reports whether s is one of the defined fulfillment
// statuses. Inbound status strings are checked against this before they
// reach the state machine.
func KnownOrderStatus(s OrderStatus) bool {
	if s == OrderStatusCancelled {
		return true
	}
	_, ok := fulfillmentStage[s]
	return ok
}

// IsTerminalOrderStatus reports whether no further fulfillment transitions
// are allowed from the given status.
func IsTerminalOrderStatus(s OrderStatus) bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionFulfillment reports whether an order may move from one
// fulfillment status to another. Cancellation is allowed from any
// non-terminal status; otherwise the chain only moves forward, so a stale
// update (e.g. "preparing" arriving after "ready") is rejected rather than
// silently rewinding the order.
func CanTransitionFulfillment(from, to OrderStatus) bool {
	if IsTerminalOrderStatus(from) {
		return false
	}
	if to == OrderStatusCancelled {
		return true
	}
	fromStage, ok := fulfillmentStage[from]
	if !ok {
		return false
	}
	toStage, ok := fulfillmentStage[to]
	if !ok {
		return false
	}
	return toStage > fromStage
}

// FulfillmentStatusForProcessorStatus maps a processor payment status to the
// fulfillment status it implies. The second return value is false for
// statuses outside the fixed table; callers treat those as pending and log
// them as unmapped.
func FulfillmentStatusForProcessorStatus(processorStatus string) (OrderStatus, bool) {
	switch processorStatus {
	case "approved":
		return OrderStatusAccepted, true
	case "pending", "in_process":
		return OrderStatusPending, true
	case "rejected", "cancelled":
		return OrderStatusCancelled, true
	default:
		return OrderStatusPending, false
	}
}

// HoldStateForProcessorStatus maps a processor payment status to the hold
// state it implies. An empty result means the status carries no hold
// implication (the hold is left as is).
func HoldStateForProcessorStatus(processorStatus string) HoldState {
	switch processorStatus {
	case "approved", "authorized":
		return HoldStateAuthorized
	case "rejected":
		return HoldStateFailed
	case "cancelled":
		return HoldStateCancelled
	case "refunded":
		return HoldStateRefunded
	default:
		return ""
	}
}
