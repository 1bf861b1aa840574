package zaplogger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

func TestWrap_CarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(core), observability.F("service", "order-service"))

	l.With(observability.F("use_case", "order.submit")).Info("use_case_done",
		observability.F("status", "OK"),
		observability.F("error", errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "order-service", ctx["service"])
	assert.Equal(t, "order.submit", ctx["use_case"])
	assert.Equal(t, "OK", ctx["status"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestWrap_LogsMoneyAsExactStrings(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := Wrap(zap.New(core))

	total := decimal.RequireFromString("24.99")
	var missing *decimal.Decimal
	l.Info("order_placed",
		observability.F("grand_total", total),
		observability.F("refund", &total),
		observability.F("expected", missing),
		observability.F("elapsed", 1500*time.Millisecond),
	)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "24.99", ctx["grand_total"])
	assert.Equal(t, "24.99", ctx["refund"])
	assert.NotContains(t, ctx, "expected")
	assert.Equal(t, 1500*time.Millisecond, ctx["elapsed"])
}
