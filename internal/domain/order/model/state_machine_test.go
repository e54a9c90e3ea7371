package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Run("Happy path transitions", func(t *testing.T) {
		path := []OrderStatus{StatusPending, StatusProcessing, StatusDispatched, StatusInTransit, StatusDelivered}
		for i := 0; i < len(path)-1; i++ {
			assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s should be allowed", path[i], path[i+1])
		}
	})

	t.Run("No skipping states", func(t *testing.T) {
		assert.False(t, CanTransition(StatusPending, StatusDelivered))
		assert.False(t, CanTransition(StatusPending, StatusDispatched))
		assert.False(t, CanTransition(StatusProcessing, StatusInTransit))
		assert.False(t, CanTransition(StatusDispatched, StatusDelivered))
	})

	t.Run("No backward transitions", func(t *testing.T) {
		assert.False(t, CanTransition(StatusDelivered, StatusInTransit))
		assert.False(t, CanTransition(StatusInTransit, StatusDispatched))
		assert.False(t, CanTransition(StatusProcessing, StatusPending))
	})

	t.Run("Cancel only before dispatch", func(t *testing.T) {
		assert.True(t, CanTransition(StatusPending, StatusCancelled))
		assert.True(t, CanTransition(StatusProcessing, StatusCancelled))
		assert.False(t, CanTransition(StatusDispatched, StatusCancelled))
		assert.False(t, CanTransition(StatusInTransit, StatusCancelled))
	})

	t.Run("Terminal states allow nothing", func(t *testing.T) {
		for _, terminal := range []OrderStatus{StatusDelivered, StatusCancelled, StatusPaymentFailed} {
			assert.True(t, Terminal(terminal))
			for to := range AllowTransition {
				assert.False(t, CanTransition(terminal, to), "%s -> %s must be rejected", terminal, to)
			}
		}
	})

	t.Run("Self transition rejected", func(t *testing.T) {
		for s := range AllowTransition {
			assert.False(t, CanTransition(s, s))
		}
	})

	t.Run("Unknown status rejected", func(t *testing.T) {
		assert.False(t, CanTransition(OrderStatus("shipped"), StatusDelivered))
		assert.False(t, CanTransition(StatusPending, OrderStatus("archived")))
	})
}

func TestIntentValidate(t *testing.T) {
	t.Run("Valid accept intent", func(t *testing.T) {
		intent := Intent{Type: IntentAcceptDelivery, Expected: StatusProcessing}
		assert.NoError(t, intent.Validate())
	})

	t.Run("Expected state must match the intent graph", func(t *testing.T) {
		intent := Intent{Type: IntentAcceptDelivery, Expected: StatusPending}
		assert.Error(t, intent.Validate())
	})

	t.Run("Confirm delivery requires a code", func(t *testing.T) {
		intent := Intent{Type: IntentConfirmDelivery, Expected: StatusInTransit}
		assert.Error(t, intent.Validate())

		intent.Code = "4821"
		assert.NoError(t, intent.Validate())
	})

	t.Run("Unknown intent type", func(t *testing.T) {
		intent := Intent{Type: IntentType("refund"), Expected: StatusDelivered}
		assert.Error(t, intent.Validate())
	})
}

func TestOrderComputedTotal(t *testing.T) {
	order := &Order{
		Items: OrderItems{
			{Name: "Paracetamol 500mg", Price: 15000, Quantity: 2},
			{Name: "Vitamin C", Price: 5000, Quantity: 3},
		},
		Tax:      1000,
		Discount: 1000,
	}
	assert.InDelta(t, 45000.0, order.ComputedTotal(), 0.001)
}
