package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

func TestNew_NilPartsAreNoops(t *testing.T) {
	p := New(nil, nil, nil)

	assert.NotPanics(t, func() {
		p.Metrics().Counter(observability.MOrderTransitions).Add(1)
		p.Metrics().Histogram(observability.MUsecaseDuration).Observe(1)
		p.Logger().Info("hello")
	})
}

func TestInstruments_UnknownKeyFallsBackToNop(t *testing.T) {
	m := Instruments{}
	assert.NotPanics(t, func() {
		m.Counter("missing").Add(1)
		m.Histogram("missing").Observe(1)
	})
}

func TestNewPrometheus_RegistersCheckoutMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(nil, nil, reg, "")

	p.Metrics().Counter(observability.MPaymentAttempts).Add(1,
		observability.L("operation", "capture"),
		observability.L("outcome", "success"),
	)
	p.Metrics().Counter(observability.MOrderTransitions).Add(1,
		observability.L("event", "payment_captured"),
		observability.L("from", "pending_payment"),
		observability.L("to", "paid"),
	)
	n, err := testutil.GatherAndCount(reg, "payment_attempts_total", "order_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
