package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

const paymentService = "payment-service"

const (
	opCreateIntent = "create_intent"
	opCapture      = "capture"
	opRefund       = "refund"
	opGetIntent    = "get_intent"
)

// Config bounds how long and how often the adapter talks to the provider.
type Config struct {
	CallTimeout     time.Duration
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		CallTimeout:     20 * time.Second,
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Adapter implements dompay.Gateway on top of a wire Provider. It resolves
// settings per call, bounds every attempt with a timeout and retries
// transient failures.
type Adapter struct {
	provider dompay.Provider
	settings dompay.SettingsProvider
	cfg      Config
	inst     *application.Instrument

	attempts     observability.Counter   // payment_attempts_total{operation,outcome}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

var _ dompay.Gateway = (*Adapter)(nil)

func NewAdapter(provider dompay.Provider, settings dompay.SettingsProvider, cfg Config, tel observability.Observability) *Adapter {
	def := DefaultConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	metrics := observability.NopMetrics()
	if tel != nil {
		metrics = tel.Metrics()
	}
	return &Adapter{
		provider:     provider,
		settings:     settings,
		cfg:          cfg,
		inst:         application.NewInstrument(tel, paymentService),
		attempts:     metrics.Counter(observability.MPaymentAttempts),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
	}
}

func (a *Adapter) CreateIntent(ctx context.Context, req dompay.IntentRequest) (_ *dompay.Intent, err error) {
	ctx, call := a.inst.Start(ctx, "payment.create_intent", "CreateIntent", attribute.String("order.id", req.OrderID))
	defer func() { call.End(err) }()

	s, err := a.resolve(ctx)
	if err != nil {
		call.Fail("PAYMENTS_DISABLED")
		return nil, err
	}
	if req.Currency == "" {
		req.Currency = s.Currency
	}

	var intent *dompay.Intent
	err = a.call(ctx, opCreateIntent, func(ctx context.Context) error {
		var cerr error
		intent, cerr = a.provider.CreateIntent(ctx, s, req)
		return cerr
	})
	if err != nil {
		call.Fail(statusFor(err))
		return nil, err
	}
	call.Field("intent_id", intent.ID)
	return intent, nil
}

// Capture captures an approved intent. Capturing twice returns the capture
// recorded by the provider the first time.
func (a *Adapter) Capture(ctx context.Context, intentID string) (_ *dompay.Capture, err error) {
	ctx, call := a.inst.Start(ctx, "payment.capture", "CapturePayment", attribute.String("payment.intent_id", intentID))
	defer func() { call.End(err) }()
	call.Field("intent_id", intentID)

	s, err := a.resolve(ctx)
	if err != nil {
		call.Fail("PAYMENTS_DISABLED")
		return nil, err
	}

	var capture *dompay.Capture
	err = a.call(ctx, opCapture, func(ctx context.Context) error {
		var cerr error
		capture, cerr = a.provider.Capture(ctx, s, intentID, "capture-"+intentID)
		return cerr
	})
	if errors.Is(err, dompay.ErrAlreadyCaptured) {
		call.Status("ALREADY_CAPTURED")
		var intent *dompay.Intent
		err = a.call(ctx, opGetIntent, func(ctx context.Context) error {
			var cerr error
			intent, cerr = a.provider.GetIntent(ctx, s, intentID)
			return cerr
		})
		if err != nil {
			call.Fail(statusFor(err))
			return nil, err
		}
		if intent.CaptureID == "" {
			call.Fail("CAPTURE_ID_MISSING")
			return nil, fmt.Errorf("%w: intent %s reported captured without a capture id", dompay.ErrUnavailable, intentID)
		}
		return &dompay.Capture{ID: intent.CaptureID, IntentID: intentID, Amount: intent.CapturedTotal, Status: dompay.StatusCaptured}, nil
	}
	if err != nil {
		call.Fail(statusFor(err))
		return nil, err
	}
	return capture, nil
}

func (a *Adapter) Refund(ctx context.Context, captureID string, amount *decimal.Decimal, idempotencyKey string) (_ *dompay.Refund, err error) {
	ctx, call := a.inst.Start(ctx, "payment.refund", "RefundPayment", attribute.String("payment.capture_id", captureID))
	defer func() { call.End(err) }()

	s, err := a.resolve(ctx)
	if err != nil {
		call.Fail("PAYMENTS_DISABLED")
		return nil, err
	}
	if idempotencyKey == "" {
		idempotencyKey = "refund-" + captureID
	}

	var refund *dompay.Refund
	err = a.call(ctx, opRefund, func(ctx context.Context) error {
		var cerr error
		refund, cerr = a.provider.Refund(ctx, s, captureID, amount, idempotencyKey)
		return cerr
	})
	if err != nil {
		call.Fail(statusFor(err))
		return nil, err
	}
	return refund, nil
}

func (a *Adapter) IntentStatus(ctx context.Context, intentID string) (*dompay.Intent, error) {
	s, err := a.resolve(ctx)
	if err != nil {
		return nil, err
	}
	var intent *dompay.Intent
	err = a.call(ctx, opGetIntent, func(ctx context.Context) error {
		var cerr error
		intent, cerr = a.provider.GetIntent(ctx, s, intentID)
		return cerr
	})
	return intent, err
}

func (a *Adapter) resolve(ctx context.Context) (dompay.Settings, error) {
	if a.settings == nil {
		return dompay.Settings{}, dompay.ErrDisabled
	}
	s, err := a.settings.PaymentSettings(ctx)
	if err != nil {
		return dompay.Settings{}, fmt.Errorf("%w: load settings: %w", dompay.ErrUnavailable, err)
	}
	if !s.Usable() {
		return dompay.Settings{}, dompay.ErrDisabled
	}
	return s, nil
}

// call runs fn with a per-attempt timeout and retries transient failures with
// exponential backoff. Exhausted retries surface as ErrUnavailable.
func (a *Adapter) call(ctx context.Context, op string, fn func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = a.cfg.InitialInterval
	eb.MaxInterval = a.cfg.MaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(a.cfg.MaxAttempts-1)), ctx)

	peer := a.provider.Name()
	var last error
	err := backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
		defer cancel()

		start := time.Now()
		err := fn(attemptCtx)
		outcome := "success"
		switch {
		case err == nil:
		case Transient(err):
			outcome = "retryable"
		default:
			outcome = "error"
		}
		a.attempts.Add(1, observability.L("operation", op), observability.L("outcome", outcome))
		a.extCounter.Add(1,
			observability.L("peer", peer),
			observability.L("endpoint", op),
			observability.L("outcome", outcome),
		)
		a.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", peer),
			observability.L("endpoint", op),
		)

		if err == nil {
			return nil
		}
		last = err
		if Transient(err) && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	if err == nil {
		return nil
	}
	if last != nil && Transient(last) {
		return fmt.Errorf("%w: %s: %w", dompay.ErrUnavailable, op, last)
	}
	if last == nil {
		return fmt.Errorf("%w: %s: %w", dompay.ErrUnavailable, op, err)
	}
	return err
}

// Transient reports whether err is worth retrying.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var perr *dompay.ProviderError
	if errors.As(err, &perr) {
		return perr.Temporary
	}
	if errors.Is(err, dompay.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, dompay.ErrDisabled):
		return "PAYMENTS_DISABLED"
	case errors.Is(err, dompay.ErrUnavailable):
		return "PROVIDER_UNAVAILABLE"
	case errors.Is(err, dompay.ErrDeclined):
		return "PAYMENT_DECLINED"
	case errors.Is(err, dompay.ErrNotFound):
		return "INTENT_NOT_FOUND"
	default:
		return "PROVIDER_ERROR"
	}
}
