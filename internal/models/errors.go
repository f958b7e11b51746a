package models

import "errors"

var (
	// ErrInvalidRequest marks caller errors; never retried.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrGatewayUnavailable marks transient processor failures; retryable.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrInvalidState means the processor reports the payment in a state the
	// requested operation does not apply to.
	ErrInvalidState = errors.New("payment not in required state")
	// ErrInvalidTransition means the requested state-machine move is illegal
	// from the record's current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrConcurrentUpdate is an optimistic-concurrency conflict after retries.
	ErrConcurrentUpdate = errors.New("concurrent update conflict")
	// ErrPaymentNotFound means the external payment id is unknown to the processor.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrOrderNotFound means no order exists for the given identifier.
	ErrOrderNotFound = errors.New("order not found")
)
