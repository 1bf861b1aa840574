package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settlement is what a committed transition still owes outside the order
// record: a refund at the provider and a stock movement in the ledger. It is
// stored with the transition and cleared once both are done, so a crash or
// a failed call leaves a visible debt instead of silent drift.
type Settlement struct {
	Event  Event          `json:"event"`
	Effect StockEffect    `json:"effect"`
	Lines  map[string]int `json:"lines,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Refund bool           `json:"refund,omitempty"`
	// RefundAmount nil refunds the whole capture.
	RefundAmount *decimal.Decimal `json:"refund_amount,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Empty reports whether nothing is owed.
func (s *Settlement) Empty() bool {
	return s == nil || ((s.Effect == "" || s.Effect == EffectNone) && !s.Refund)
}

func (s *Settlement) clone() *Settlement {
	if s == nil {
		return nil
	}
	c := *s
	if s.Lines != nil {
		c.Lines = make(map[string]int, len(s.Lines))
		for k, v := range s.Lines {
			c.Lines[k] = v
		}
	}
	if s.RefundAmount != nil {
		a := *s.RefundAmount
		c.RefundAmount = &a
	}
	return &c
}

// Owe records the side effects of the transition about to be applied. An
// empty settlement clears nothing and records nothing.
func (o *Order) Owe(s Settlement) {
	if s.Empty() {
		return
	}
	o.Pending = s.clone()
}

// Settle clears the debt left by ev. It reports false when the order owes
// nothing for ev, for instance because another worker settled it first.
func (o *Order) Settle(ev Event) bool {
	if o.Pending == nil || o.Pending.Event != ev {
		return false
	}
	o.Pending = nil
	o.touch()
	return true
}
