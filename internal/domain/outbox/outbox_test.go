package outbox_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
)

type unkeyed struct{}

func (unkeyed) EventName() string { return "test.unkeyed" }

func TestKeyOf(t *testing.T) {
	assert.Equal(t, "o-1", outbox.KeyOf(order.OrderPaidEvent{OrderID: "o-1"}))
	assert.Equal(t, "o-2", outbox.KeyOf(inventory.StockReservedEvent{OrderID: "o-2"}))
	assert.Empty(t, outbox.KeyOf(unkeyed{}))
}
