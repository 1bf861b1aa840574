package httppresentation

import (
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

type orderView struct {
	ID              string                  `json:"id"`
	Number          string                  `json:"number"`
	Status          domorder.Status         `json:"status"`
	Buyer           domorder.Buyer          `json:"buyer"`
	BillingAddress  domorder.Address        `json:"billing_address"`
	ShippingAddress domorder.Address        `json:"shipping_address"`
	Lines           []domorder.Line         `json:"lines"`
	Pricing         money.Breakdown         `json:"pricing"`
	History         []domorder.HistoryEntry `json:"history"`
	Payments        []dompay.Record         `json:"payments"`
	NextEvents      []domorder.Event        `json:"next_events"`
	// Reserved is stock still held for the order, per article.
	Reserved map[string]int `json:"reserved,omitempty"`
	// SettlementPending is set while a committed transition still owes a
	// refund or stock movement.
	SettlementPending bool      `json:"settlement_pending,omitempty"`
	Version           int       `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func newOrderView(o *domorder.Order) orderView {
	payments := o.Payments
	if payments == nil {
		payments = []dompay.Record{}
	}
	return orderView{
		ID:                o.ID,
		Number:            o.Number,
		Status:            o.Status,
		Buyer:             o.Buyer,
		BillingAddress:    o.BillingAddress,
		ShippingAddress:   o.ShippingAddress,
		Lines:             o.Lines,
		Pricing:           o.Pricing,
		History:           o.History,
		Payments:          payments,
		NextEvents:        domorder.Allowed(o.Status),
		SettlementPending: o.Pending != nil,
		Version:           o.Version,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}
