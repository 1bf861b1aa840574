package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrDisabled means payments are switched off or credentials are missing.
	ErrDisabled = errors.New("payment: provider disabled")
	// ErrUnavailable means transient provider failures outlasted the retry budget.
	ErrUnavailable = errors.New("payment: provider unavailable")
	// ErrDeclined is a permanent provider rejection.
	ErrDeclined = errors.New("payment: declined by provider")
	// ErrAlreadyCaptured is returned by providers for a duplicate capture.
	ErrAlreadyCaptured = errors.New("payment: intent already captured")
	ErrNotFound        = errors.New("payment: intent not found")
)

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusCaptured  Status = "captured"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// IntentStatus is the provider-side state of a payment intent.
type IntentStatus string

const (
	IntentCreated   IntentStatus = "created"
	IntentApproved  IntentStatus = "approved"
	IntentCompleted IntentStatus = "completed"
	IntentVoided    IntentStatus = "voided"
)

type Mode string

const (
	ModeSandbox  Mode = "sandbox"
	ModeLive     Mode = "live"
	ModeDisabled Mode = "disabled"
)

// Settings is the resolved provider configuration for one call.
type Settings struct {
	Mode         Mode
	ClientID     string
	ClientSecret string
	BaseURL      string
	Currency     string
	ReturnURL    string
	CancelURL    string
}

// Usable reports whether the settings allow talking to the provider.
func (s Settings) Usable() bool {
	return s.Mode != ModeDisabled && s.Mode != "" && s.ClientID != "" && s.ClientSecret != "" && s.BaseURL != ""
}

type IntentRequest struct {
	OrderID     string
	OrderNumber string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

type Intent struct {
	ID          string
	ApprovalURL string
	Status      IntentStatus
	// CaptureID is set once the provider reports the intent as captured.
	CaptureID     string
	CapturedTotal decimal.Decimal
}

type Capture struct {
	ID       string
	IntentID string
	Amount   decimal.Decimal
	Status   Status
}

type Refund struct {
	ID     string
	Amount decimal.Decimal
	Status Status
}

// Record is the payment attempt kept on an order.
type Record struct {
	Provider      string          `json:"provider"`
	IntentID      string          `json:"intent_id"`
	CaptureID     string          `json:"capture_id,omitempty"`
	RefundID      string          `json:"refund_id,omitempty"`
	Status        Status          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	RefundedTotal decimal.Decimal `json:"refunded_total"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CapturedAt    *time.Time      `json:"captured_at,omitempty"`
}

// ProviderError is a classified failure returned by a provider client.
type ProviderError struct {
	Operation  string
	StatusCode int
	Code       string
	Message    string
	Temporary  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment: %s failed: status %d %s %s", e.Operation, e.StatusCode, e.Code, e.Message)
}

// Unwrap maps permanent rejections onto ErrDeclined.
func (e *ProviderError) Unwrap() error {
	if e.Temporary {
		return nil
	}
	return ErrDeclined
}
