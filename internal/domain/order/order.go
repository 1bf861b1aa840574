package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("order: not found")
	ErrConflict        = errors.New("order: concurrent modification")
	ErrInvalidQuantity = errors.New("order: quantity must be greater than zero")
	ErrInvalidAmount   = errors.New("order: unit price must be zero or greater")
	ErrNoLines         = errors.New("order: at least one line is required")
	ErrNoActivePayment = errors.New("order: no active payment")
)

type Status string

const (
	StatusNew            Status = "new"
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusFulfilling     Status = "fulfilling"
	StatusShipped        Status = "shipped"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
)

// Terminal reports whether no further transitions leave s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// Snapshot freezes the article as it was sold.
type Snapshot struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category,omitempty"`
	Weight      decimal.Decimal `json:"weight"`
}

type Line struct {
	ArticleRef string          `json:"article_ref"`
	Snapshot   Snapshot        `json:"snapshot"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	LineTotal  decimal.Decimal `json:"line_total"`
}

// NewLine builds a line with a server-computed total.
func NewLine(articleRef string, snap Snapshot, quantity int, unitPrice decimal.Decimal) (Line, error) {
	if quantity <= 0 {
		return Line{}, ErrInvalidQuantity
	}
	if unitPrice.IsNegative() {
		return Line{}, ErrInvalidAmount
	}
	return Line{
		ArticleRef: articleRef,
		Snapshot:   snap,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		LineTotal:  money.LineTotal(unitPrice, quantity),
	}, nil
}

// Buyer is the single identity an order is placed under. Guest buyers have no ID.
type Buyer struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

type Address struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	PostalCode string `json:"postal_code"`
	City       string `json:"city"`
	Country    string `json:"country"`
}

// Missing lists the required fields that are blank.
func (a Address) Missing() []string {
	var out []string
	for _, f := range []struct{ name, v string }{
		{"name", a.Name}, {"street", a.Street}, {"postal_code", a.PostalCode}, {"city", a.City}, {"country", a.Country},
	} {
		if strings.TrimSpace(f.v) == "" {
			out = append(out, f.name)
		}
	}
	return out
}

func (a Address) IsZero() bool { return a == Address{} }

type HistoryEntry struct {
	Status Status    `json:"status"`
	Event  Event     `json:"event,omitempty"`
	Actor  string    `json:"actor"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

type Order struct {
	ID              string
	Number          string
	Buyer           Buyer
	BillingAddress  Address
	ShippingAddress Address
	Lines           []Line
	Pricing         money.Breakdown
	Status          Status
	History         []HistoryEntry
	Payments        []payment.Record
	// Pending is set between a committed transition and its settlement.
	Pending *Settlement
	// Version is bumped by the repository on every successful update.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates an order in status new. Shipping defaults to billing.
func New(id, number string, buyer Buyer, billing, shipping Address, lines []Line, pricing money.Breakdown, actor string) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}
	for i := range lines {
		if lines[i].Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if lines[i].UnitPrice.IsNegative() {
			return nil, ErrInvalidAmount
		}
		lines[i].LineTotal = money.LineTotal(lines[i].UnitPrice, lines[i].Quantity)
	}
	if shipping.IsZero() {
		shipping = billing
	}

	now := time.Now().UTC()
	return &Order{
		ID:              id,
		Number:          number,
		Buyer:           buyer,
		BillingAddress:  billing,
		ShippingAddress: shipping,
		Lines:           lines,
		Pricing:         pricing,
		Status:          StatusNew,
		History:         []HistoryEntry{{Status: StatusNew, Actor: actor, At: now}},
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Quantities sums line quantities per article.
func (o *Order) Quantities() map[string]int {
	out := make(map[string]int, len(o.Lines))
	for _, l := range o.Lines {
		out[l.ArticleRef] += l.Quantity
	}
	return out
}

// ActivePayment returns the latest payment record that has not failed.
func (o *Order) ActivePayment() (*payment.Record, bool) {
	for i := len(o.Payments) - 1; i >= 0; i-- {
		if o.Payments[i].Status != payment.StatusFailed {
			return &o.Payments[i], true
		}
	}
	return nil, false
}

// PaymentByIntent finds the record for an intent id.
func (o *Order) PaymentByIntent(intentID string) (*payment.Record, bool) {
	for i := len(o.Payments) - 1; i >= 0; i-- {
		if o.Payments[i].IntentID == intentID {
			return &o.Payments[i], true
		}
	}
	return nil, false
}

// AddPayment appends a new attempt. Any still-initiated attempt is failed first
// so at most one record is active.
func (o *Order) AddPayment(rec payment.Record) {
	for i := range o.Payments {
		if o.Payments[i].Status == payment.StatusInitiated {
			o.Payments[i].Status = payment.StatusFailed
			o.Payments[i].FailureReason = "superseded"
		}
	}
	o.Payments = append(o.Payments, rec)
	o.touch()
}

func (o *Order) MarkPaymentCaptured(intentID, captureID string, amount decimal.Decimal, at time.Time) error {
	rec, ok := o.PaymentByIntent(intentID)
	if !ok {
		return fmt.Errorf("%w: intent %s", ErrNoActivePayment, intentID)
	}
	rec.Status = payment.StatusCaptured
	rec.CaptureID = captureID
	rec.Amount = amount
	rec.CapturedAt = &at
	o.touch()
	return nil
}

func (o *Order) MarkPaymentFailed(intentID, reason string) {
	if rec, ok := o.PaymentByIntent(intentID); ok {
		rec.Status = payment.StatusFailed
		rec.FailureReason = reason
		o.touch()
	}
}

// MarkRefunded records a refund against the active captured payment.
func (o *Order) MarkRefunded(refundID string, amount decimal.Decimal) error {
	rec, ok := o.ActivePayment()
	if !ok || rec.CaptureID == "" {
		return ErrNoActivePayment
	}
	rec.RefundID = refundID
	rec.RefundedTotal = rec.RefundedTotal.Add(amount)
	if rec.RefundedTotal.GreaterThanOrEqual(rec.Amount) {
		rec.Status = payment.StatusRefunded
	}
	o.touch()
	return nil
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Lines = append([]Line(nil), o.Lines...)
	c.History = append([]HistoryEntry(nil), o.History...)
	c.Payments = make([]payment.Record, len(o.Payments))
	for i, p := range o.Payments {
		if p.CapturedAt != nil {
			at := *p.CapturedAt
			p.CapturedAt = &at
		}
		c.Payments[i] = p
	}
	c.Pending = o.Pending.clone()
	return &c
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
