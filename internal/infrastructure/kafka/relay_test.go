package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/notification"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(m kafkago.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestRelay_Notify(t *testing.T) {
	w := &fakeWriter{}
	r := NewRelay(w, "order-notifications", observability.Nop())
	r.propagator = propagation.TraceContext{}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0xa},
		SpanID:     trace.SpanID{0xb},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	amount := decimal.RequireFromString("24.97")
	msg := notification.Message{
		Event:       "order.paid",
		OrderID:     "o-1",
		OrderNumber: "20261017-000001",
		Amount:      &amount,
		OccurredAt:  time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, r.Notify(ctx, msg))

	require.Len(t, w.msgs, 1)
	got := w.msgs[0]
	assert.Equal(t, "o-1", string(got.Key))
	assert.Equal(t, "order.paid", header(got, "event"))
	assert.Contains(t, header(got, "traceparent"), sc.TraceID().String())

	var decoded notification.Message
	require.NoError(t, json.Unmarshal(got.Value, &decoded))
	assert.Equal(t, "20261017-000001", decoded.OrderNumber)
	assert.True(t, decoded.Amount.Equal(amount))
}

func TestRelay_WriteError(t *testing.T) {
	boom := errors.New("no brokers")
	r := NewRelay(&fakeWriter{err: boom}, "t", nil)

	err := r.Notify(context.Background(), notification.Message{Event: "order.refunded", OrderID: "o-1"})
	assert.ErrorIs(t, err, boom)
}

func TestRelay_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, NewRelay(w, "t", nil).Close())
	assert.True(t, w.closed)
}

func TestNewWriter(t *testing.T) {
	w := NewWriter(Config{Brokers: []string{"localhost:9092"}, Topic: "order-notifications"})
	assert.Equal(t, "order-notifications", w.Topic)
	assert.IsType(t, &kafkago.Hash{}, w.Balancer)
}
