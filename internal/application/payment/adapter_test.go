package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

type staticSettings struct{ s dompay.Settings }

func (p staticSettings) PaymentSettings(context.Context) (dompay.Settings, error) { return p.s, nil }

var usable = dompay.Settings{Mode: dompay.ModeSandbox, ClientID: "id", ClientSecret: "secret", BaseURL: "http://paypal.test", Currency: "EUR"}

type scriptedProvider struct {
	mu          sync.Mutex
	captureErrs []error
	calls       map[string]int
	intent      *dompay.Intent
	block       bool
}

func (p *scriptedProvider) Name() string { return "fake" }

func (p *scriptedProvider) hit(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[op]++
	return p.calls[op]
}

func (p *scriptedProvider) CreateIntent(ctx context.Context, s dompay.Settings, req dompay.IntentRequest) (*dompay.Intent, error) {
	p.hit(opCreateIntent)
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &dompay.Intent{ID: "PAY-" + req.OrderID, ApprovalURL: "https://approve/" + req.Currency, Status: dompay.IntentCreated}, nil
}

func (p *scriptedProvider) Capture(ctx context.Context, s dompay.Settings, intentID, requestID string) (*dompay.Capture, error) {
	n := p.hit(opCapture)
	if n <= len(p.captureErrs) && p.captureErrs[n-1] != nil {
		return nil, p.captureErrs[n-1]
	}
	return &dompay.Capture{ID: "CAP-1", IntentID: intentID, Amount: decimal.RequireFromString("24.97"), Status: dompay.StatusCaptured}, nil
}

func (p *scriptedProvider) Refund(ctx context.Context, s dompay.Settings, captureID string, amount *decimal.Decimal, requestID string) (*dompay.Refund, error) {
	p.hit(opRefund)
	return &dompay.Refund{ID: "REF-1", Amount: *amount, Status: dompay.StatusRefunded}, nil
}

func (p *scriptedProvider) GetIntent(ctx context.Context, s dompay.Settings, intentID string) (*dompay.Intent, error) {
	p.hit(opGetIntent)
	return p.intent, nil
}

func fastConfig() Config {
	return Config{CallTimeout: 50 * time.Millisecond, MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestAdapter_DisabledSettings(t *testing.T) {
	for name, s := range map[string]dompay.Settings{
		"disabled mode":      {Mode: dompay.ModeDisabled, ClientID: "id", ClientSecret: "x", BaseURL: "u"},
		"missing credential": {Mode: dompay.ModeLive, ClientID: "id", BaseURL: "u"},
	} {
		t.Run(name, func(t *testing.T) {
			p := &scriptedProvider{}
			a := NewAdapter(p, staticSettings{s}, fastConfig(), observability.Nop())

			_, err := a.CreateIntent(context.Background(), dompay.IntentRequest{OrderID: "o1"})
			assert.ErrorIs(t, err, dompay.ErrDisabled)
			assert.Zero(t, p.calls[opCreateIntent])
		})
	}
}

func TestAdapter_CreateIntentDefaultsCurrency(t *testing.T) {
	a := NewAdapter(&scriptedProvider{}, staticSettings{usable}, fastConfig(), observability.Nop())

	intent, err := a.CreateIntent(context.Background(), dompay.IntentRequest{OrderID: "o1", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "PAY-o1", intent.ID)
	assert.Equal(t, "https://approve/EUR", intent.ApprovalURL)
}

func TestAdapter_RetriesTransientThenSucceeds(t *testing.T) {
	p := &scriptedProvider{captureErrs: []error{
		&dompay.ProviderError{Operation: "capture", StatusCode: 503, Temporary: true},
		&dompay.ProviderError{Operation: "capture", StatusCode: 429, Temporary: true},
	}}
	a := NewAdapter(p, staticSettings{usable}, fastConfig(), observability.Nop())

	capture, err := a.Capture(context.Background(), "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, "CAP-1", capture.ID)
	assert.Equal(t, 3, p.calls[opCapture])
}

func TestAdapter_ExhaustedRetriesAreUnavailable(t *testing.T) {
	transient := &dompay.ProviderError{Operation: "capture", StatusCode: 502, Temporary: true}
	p := &scriptedProvider{captureErrs: []error{transient, transient, transient, transient}}
	a := NewAdapter(p, staticSettings{usable}, fastConfig(), observability.Nop())

	_, err := a.Capture(context.Background(), "PAY-1")
	assert.ErrorIs(t, err, dompay.ErrUnavailable)
	assert.Equal(t, 3, p.calls[opCapture])
}

func TestAdapter_DeclineIsNotRetried(t *testing.T) {
	p := &scriptedProvider{captureErrs: []error{&dompay.ProviderError{Operation: "capture", StatusCode: 422, Code: "INSTRUMENT_DECLINED"}}}
	a := NewAdapter(p, staticSettings{usable}, fastConfig(), observability.Nop())

	_, err := a.Capture(context.Background(), "PAY-1")
	assert.ErrorIs(t, err, dompay.ErrDeclined)
	assert.False(t, errors.Is(err, dompay.ErrUnavailable))
	assert.Equal(t, 1, p.calls[opCapture])
}

func TestAdapter_AlreadyCapturedReturnsExistingCapture(t *testing.T) {
	p := &scriptedProvider{
		captureErrs: []error{dompay.ErrAlreadyCaptured},
		intent:      &dompay.Intent{ID: "PAY-1", Status: dompay.IntentCompleted, CaptureID: "CAP-OLD", CapturedTotal: decimal.RequireFromString("24.97")},
	}
	a := NewAdapter(p, staticSettings{usable}, fastConfig(), observability.Nop())

	capture, err := a.Capture(context.Background(), "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, "CAP-OLD", capture.ID)
	assert.Equal(t, dompay.StatusCaptured, capture.Status)
}

func TestAdapter_AttemptTimeoutIsTransient(t *testing.T) {
	p := &scriptedProvider{block: true}
	a := NewAdapter(p, staticSettings{usable}, fastConfig(), observability.Nop())

	_, err := a.CreateIntent(context.Background(), dompay.IntentRequest{OrderID: "o1"})
	assert.ErrorIs(t, err, dompay.ErrUnavailable)
	assert.Equal(t, 3, p.calls[opCreateIntent])
}
