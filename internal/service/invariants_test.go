package service

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"marketplace-orders/internal/gateway"
	"marketplace-orders/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// holdReachable reports whether the hold state machine permits a path from
// one state to another in any number of steps. A committed write may fold a
// snapshot correction and the operation itself into one version bump, so
// persisted states can legally advance by more than one step.
func holdReachable(from, to models.HoldState) bool {
	if from == to {
		return true
	}
	all := []models.HoldState{
		models.HoldStateNone, models.HoldStateAuthorized, models.HoldStateCaptured,
		models.HoldStateCancelled, models.HoldStateRefunded,
		models.HoldStatePartiallyRefunded, models.HoldStateFailed,
	}
	seen := map[models.HoldState]bool{from: true}
	queue := []models.HoldState{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range all {
			if seen[next] || !models.CanTransitionHold(cur, next) {
				continue
			}
			if next == to {
				return true
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
	return false
}

func assertOrderInvariants(t *testing.T, before, after models.Order) {
	t.Helper()
	assert.True(t, holdReachable(before.HoldState, after.HoldState),
		"hold %s -> %s has no legal path", before.HoldState, after.HoldState)
	if after.Status != before.Status {
		assert.True(t, models.CanTransitionFulfillment(before.Status, after.Status),
			"fulfillment %s -> %s is illegal", before.Status, after.Status)
	}
	if after.AuthorizedAmount > 0 {
		assert.LessOrEqual(t, after.CapturedAmount, after.AuthorizedAmount)
	}
	assert.GreaterOrEqual(t, after.RefundedAmount, int64(0))
	assert.LessOrEqual(t, after.RefundedAmount, after.CapturedAmount)
}

func TestRandomizedSequencesPreserveInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()
	processorStatuses := []string{
		"approved", "authorized", "pending", "in_process",
		"rejected", "cancelled", "refunded", "charged_back",
	}
	fulfillmentTargets := []models.OrderStatus{
		models.OrderStatusAccepted, models.OrderStatusPreparing, models.OrderStatusReady,
		models.OrderStatusDelivering, models.OrderStatusDelivered, models.OrderStatusCancelled,
	}

	for seq := 0; seq < 50; seq++ {
		repo := newFakeRepo()
		order := pendingOrder("ord-1", 2500)
		order.ExternalPaymentID = "pay-1"
		repo.seed(order)
		gw := &fakeGateway{snapshot: gateway.PaymentSnapshot{
			ID: "pay-1", Status: "pending", Amount: 2500, ExternalReference: "ord-1",
		}}
		holds := NewHoldManager(repo, gw)
		reconciler := NewWebhookReconciler(repo, gw, nil, &fakePublisher{})
		controller := newTestController(repo, gw, newFakeCache(), &fakePublisher{})

		for step := 0; step < 40; step++ {
			gw.snapshot.Status = processorStatuses[rng.Intn(len(processorStatuses))]
			before := repo.get("ord-1")

			// Errors are expected here: most random operations are
			// illegal from the current state and must leave it untouched.
			switch rng.Intn(5) {
			case 0:
				holds.Capture(ctx, "ord-1", rng.Int63n(3000))
			case 1:
				holds.Cancel(ctx, "ord-1")
			case 2:
				holds.Refund(ctx, "ord-1", rng.Int63n(3000))
			case 3:
				reconciler.ProcessPaymentNotification(ctx, "pay-1")
			case 4:
				controller.AdvanceFulfillment(ctx, "ord-1", fulfillmentTargets[rng.Intn(len(fulfillmentTargets))])
			}

			assertOrderInvariants(t, before, repo.get("ord-1"))
		}
	}
}

func TestConcurrentCancelAndWebhookConverge(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		repo := newFakeRepo()
		repo.seed(authorizedOrder("ord-1", 2500))
		gw := &fakeGateway{snapshot: gateway.PaymentSnapshot{
			ID: "pay-ord-1", Status: "rejected", Amount: 2500, ExternalReference: "ord-1",
		}}
		holds := NewHoldManager(repo, gw)
		reconciler := NewWebhookReconciler(repo, gw, nil, &fakePublisher{})

		var wg sync.WaitGroup
		var cancelErr, webhookErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancelErr = holds.Cancel(ctx, "ord-1")
		}()
		go func() {
			defer wg.Done()
			webhookErr = reconciler.ProcessPaymentNotification(ctx, "pay-ord-1")
		}()
		wg.Wait()

		// The processor already rejected the payment, so the cancel loses
		// regardless of interleaving and the order converges to the
		// processor's state.
		assert.ErrorIs(t, cancelErr, models.ErrInvalidTransition)
		require.NoError(t, webhookErr)
		assert.Equal(t, 0, gw.cancelCalls)

		final := repo.get("ord-1")
		assert.Equal(t, models.HoldStateFailed, final.HoldState)
		assert.Equal(t, models.OrderStatusCancelled, final.Status)
	}
}
