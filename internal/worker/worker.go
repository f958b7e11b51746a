package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"marketplace-orders/internal/broker"
	"marketplace-orders/internal/models"
	"marketplace-orders/internal/service"

	"github.com/segmentio/kafka-go"
)

// FulfillmentWorker consumes fulfillment actions emitted by kitchen and
// driver systems and applies them to orders. Illegal transitions (stale or
// duplicate actions) are logged and the message is still committed; they
// are not worth a redelivery.
type FulfillmentWorker struct {
	consumer   *broker.Consumer
	controller *service.OrderLifecycleController
}

// NewFulfillmentWorker creates a new fulfillment worker
func NewFulfillmentWorker(consumer *broker.Consumer, controller *service.OrderLifecycleController) *FulfillmentWorker {
	return &FulfillmentWorker{
		consumer:   consumer,
		controller: controller,
	}
}

// Start starts the worker
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	log.Println("Starting fulfillment worker...")

	return w.consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		var base models.BaseEvent
		if err := json.Unmarshal(msg.Value, &base); err != nil {
			log.Printf("Failed to unmarshal event: %v", err)
			return nil
		}

		if base.EventType != models.EventTypeFulfillmentAction {
			return nil
		}

		var event models.FulfillmentActionEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("Failed to unmarshal FulfillmentAction event: %v", err)
			return nil
		}

		_, err := w.controller.AdvanceFulfillment(ctx, event.OrderID, event.Status)
		if err != nil {
			if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrOrderNotFound) {
				log.Printf("Dropping stale fulfillment action: order=%s status=%s err=%v",
					event.OrderID, event.Status, err)
				return nil
			}
			return err
		}

		log.Printf("Fulfillment action applied: order=%s status=%s", event.OrderID, event.Status)
		return nil
	})
}

// Stop stops the worker
func (w *FulfillmentWorker) Stop() error {
	log.Println("Stopping fulfillment worker...")
	return w.consumer.Close()
}
