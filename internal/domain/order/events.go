package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderPlacedEvent is emitted once an order holds its stock reservation.
type OrderPlacedEvent struct {
	OrderID     string
	OrderNumber string
	BuyerEmail  string
	GrandTotal  decimal.Decimal
	Lines       map[string]int
	OccurredAt  time.Time
}

func (OrderPlacedEvent) EventName() string     { return "order.placed" }
func (e OrderPlacedEvent) AggregateID() string { return e.OrderID }

func NewOrderPlacedEvent(o *Order) OrderPlacedEvent {
	return OrderPlacedEvent{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		BuyerEmail:  o.Buyer.Email,
		GrandTotal:  o.Pricing.GrandTotal,
		Lines:       o.Quantities(),
		OccurredAt:  time.Now().UTC(),
	}
}

type OrderPaidEvent struct {
	OrderID     string
	OrderNumber string
	BuyerEmail  string
	CaptureID   string
	Amount      decimal.Decimal
	OccurredAt  time.Time
}

func (OrderPaidEvent) EventName() string     { return "order.paid" }
func (e OrderPaidEvent) AggregateID() string { return e.OrderID }

func NewOrderPaidEvent(o *Order, captureID string, amount decimal.Decimal) OrderPaidEvent {
	return OrderPaidEvent{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		BuyerEmail:  o.Buyer.Email,
		CaptureID:   captureID,
		Amount:      amount,
		OccurredAt:  time.Now().UTC(),
	}
}

type OrderCancelledEvent struct {
	OrderID     string
	OrderNumber string
	BuyerEmail  string
	Reason      Event
	Note        string
	OccurredAt  time.Time
}

func (OrderCancelledEvent) EventName() string     { return "order.cancelled" }
func (e OrderCancelledEvent) AggregateID() string { return e.OrderID }

func NewOrderCancelledEvent(o *Order, reason Event, note string) OrderCancelledEvent {
	return OrderCancelledEvent{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		BuyerEmail:  o.Buyer.Email,
		Reason:      reason,
		Note:        note,
		OccurredAt:  time.Now().UTC(),
	}
}

type OrderRefundedEvent struct {
	OrderID     string
	OrderNumber string
	BuyerEmail  string
	RefundID    string
	Amount      decimal.Decimal
	OccurredAt  time.Time
}

func (OrderRefundedEvent) EventName() string     { return "order.refunded" }
func (e OrderRefundedEvent) AggregateID() string { return e.OrderID }

func NewOrderRefundedEvent(o *Order, refundID string, amount decimal.Decimal) OrderRefundedEvent {
	return OrderRefundedEvent{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		BuyerEmail:  o.Buyer.Email,
		RefundID:    refundID,
		Amount:      amount,
		OccurredAt:  time.Now().UTC(),
	}
}
