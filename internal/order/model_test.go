package order_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/restaurant-orders/internal/order"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    order.Status
		to      order.Status
		allowed bool
	}{
		{"pending_to_paid", order.StatusPending, order.StatusPaid, true},
		{"pending_to_cancelled", order.StatusPending, order.StatusCancelled, true},
		{"pending_to_preparing_skips_payment", order.StatusPending, order.StatusPreparing, false},
		{"paid_to_preparing", order.StatusPaid, order.StatusPreparing, true},
		{"paid_to_cancelled", order.StatusPaid, order.StatusCancelled, true},
		{"paid_to_ready_skips_preparing", order.StatusPaid, order.StatusReady, false},
		{"preparing_to_ready", order.StatusPreparing, order.StatusReady, true},
		{"preparing_to_cancelled_not_allowed", order.StatusPreparing, order.StatusCancelled, false},
		{"ready_to_completed", order.StatusReady, order.StatusCompleted, true},
		{"ready_to_preparing_backwards", order.StatusReady, order.StatusPreparing, false},
		{"completed_is_terminal", order.StatusCompleted, order.StatusPreparing, false},
		{"cancelled_is_terminal", order.StatusCancelled, order.StatusPending, false},
		{"paid_back_to_pending", order.StatusPaid, order.StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, order.StatusCompleted.Terminal())
	assert.True(t, order.StatusCancelled.Terminal())
	assert.False(t, order.StatusPending.Terminal())
	assert.False(t, order.StatusPaid.Terminal())
	assert.False(t, order.StatusPreparing.Terminal())
	assert.False(t, order.StatusReady.Terminal())
}

func TestParseStatus(t *testing.T) {
	s, err := order.ParseStatus("preparing")
	assert.NoError(t, err)
	assert.Equal(t, order.StatusPreparing, s)

	_, err = order.ParseStatus("shipped")
	assert.True(t, errors.Is(err, order.ErrValidation))

	_, err = order.ParseStatus("")
	assert.True(t, errors.Is(err, order.ErrValidation))
}

func TestOrder_CheckTotal(t *testing.T) {
	ord := &order.Order{
		Items: []order.OrderItem{
			{Quantity: 2, UnitPrice: 950},
			{Quantity: 1, UnitPrice: 400},
		},
	}

	assert.Equal(t, int64(2300), ord.ItemsTotal())

	ord.TotalAmount = 2300
	assert.NoError(t, ord.CheckTotal())

	ord.TotalAmount = 2200
	err := ord.CheckTotal()
	assert.True(t, errors.Is(err, order.ErrValidation))
}
