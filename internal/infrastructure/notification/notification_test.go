package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

type captureNotifier struct {
	msgs []Message
	err  error
}

func (n *captureNotifier) Notify(_ context.Context, msg Message) error {
	n.msgs = append(n.msgs, msg)
	return n.err
}

type subscriberFunc map[string]int

func (s subscriberFunc) Subscribe(name string, _ domoutbox.Handler) { s[name]++ }

func TestWorker_Register(t *testing.T) {
	subs := subscriberFunc{}
	NewWorker(&captureNotifier{}, observability.Nop()).Register(subs)

	assert.Equal(t, subscriberFunc{"order.paid": 1, "order.cancelled": 1, "order.refunded": 1}, subs)
}

func TestWorker_HandlePaid(t *testing.T) {
	n := &captureNotifier{}
	w := NewWorker(n, observability.Nop())

	ev := order.OrderPaidEvent{
		OrderID:     "o-1",
		OrderNumber: "20261017-000001",
		BuyerEmail:  "ada@example.com",
		CaptureID:   "cap-1",
		Amount:      decimal.RequireFromString("24.97"),
		OccurredAt:  time.Now(),
	}
	require.NoError(t, w.Handle(context.Background(), ev))

	require.Len(t, n.msgs, 1)
	msg := n.msgs[0]
	assert.Equal(t, "order.paid", msg.Event)
	assert.Equal(t, "ada@example.com", msg.Recipient)
	assert.Equal(t, "cap-1", msg.Reference)
	assert.True(t, msg.Amount.Equal(decimal.RequireFromString("24.97")))
	assert.Contains(t, msg.Subject, "20261017-000001")
}

func TestWorker_HandleCancelledCarriesReason(t *testing.T) {
	n := &captureNotifier{}
	w := NewWorker(n, nil)

	require.NoError(t, w.Handle(context.Background(), order.OrderCancelledEvent{OrderID: "o-1", Reason: order.EventPaymentFailed}))

	require.Len(t, n.msgs, 1)
	assert.Equal(t, string(order.EventPaymentFailed), n.msgs[0].Reason)
	assert.Nil(t, n.msgs[0].Amount)
}

func TestWorker_IgnoresOtherEvents(t *testing.T) {
	n := &captureNotifier{}
	w := NewWorker(n, nil)

	require.NoError(t, w.Handle(context.Background(), inventory.StockReservedEvent{}))
	assert.Empty(t, n.msgs)
}

func TestWorker_PropagatesNotifierError(t *testing.T) {
	boom := errors.New("broker down")
	w := NewWorker(&captureNotifier{err: boom}, nil)

	err := w.Handle(context.Background(), order.OrderRefundedEvent{OrderID: "o-1"})
	assert.ErrorIs(t, err, boom)
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(nil).Notify(context.Background(), Message{Event: "order.paid"}))
}
