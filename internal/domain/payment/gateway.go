package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is what the order orchestrator needs from a payment provider.
// Every method is safe to retry.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Capture(ctx context.Context, intentID string) (*Capture, error)
	// Refund refunds amount, or the full capture when amount is nil.
	Refund(ctx context.Context, captureID string, amount *decimal.Decimal, idempotencyKey string) (*Refund, error)
	IntentStatus(ctx context.Context, intentID string) (*Intent, error)
}

// Provider is a wire client for one payment provider. It does not retry.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, s Settings, req IntentRequest) (*Intent, error)
	Capture(ctx context.Context, s Settings, intentID, requestID string) (*Capture, error)
	Refund(ctx context.Context, s Settings, captureID string, amount *decimal.Decimal, requestID string) (*Refund, error)
	GetIntent(ctx context.Context, s Settings, intentID string) (*Intent, error)
}

// SettingsProvider resolves provider settings. Callers ask on every operation.
type SettingsProvider interface {
	PaymentSettings(ctx context.Context) (Settings, error)
}
