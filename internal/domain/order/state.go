package order

import (
	"fmt"
	"time"
)

type Event string

const (
	EventStockReserved      Event = "stock_reserved"
	EventPaymentCaptured    Event = "payment_captured"
	EventPaymentFailed      Event = "payment_failed"
	EventCustomerCancelled  Event = "customer_cancelled"
	EventAdminCancelled     Event = "admin_cancelled"
	EventFulfillmentStarted Event = "fulfillment_started"
	EventShipmentDispatched Event = "shipment_dispatched"
	EventDeliveryConfirmed  Event = "delivery_confirmed"
	EventReturnAccepted     Event = "return_accepted"
)

// Cancels reports whether ev ends the order in cancelled.
func (ev Event) Cancels() bool {
	switch ev {
	case EventCustomerCancelled, EventAdminCancelled, EventPaymentFailed:
		return true
	}
	return false
}

// StockEffect is the ledger operation a transition requires.
type StockEffect string

const (
	EffectNone    StockEffect = "none"
	EffectRelease StockEffect = "release"
	EffectDebit   StockEffect = "debit"
	EffectCredit  StockEffect = "credit"
)

type edge struct {
	from  Status
	event Event
}

type target struct {
	to     Status
	effect StockEffect
}

var transitions = map[edge]target{
	{StatusNew, EventStockReserved}:     {StatusPendingPayment, EffectNone},
	{StatusNew, EventCustomerCancelled}: {StatusCancelled, EffectNone},
	{StatusNew, EventAdminCancelled}:    {StatusCancelled, EffectNone},

	{StatusPendingPayment, EventPaymentCaptured}:   {StatusPaid, EffectDebit},
	{StatusPendingPayment, EventPaymentFailed}:     {StatusCancelled, EffectRelease},
	{StatusPendingPayment, EventCustomerCancelled}: {StatusCancelled, EffectRelease},
	{StatusPendingPayment, EventAdminCancelled}:    {StatusCancelled, EffectRelease},

	{StatusPaid, EventAdminCancelled}:     {StatusCancelled, EffectCredit},
	{StatusPaid, EventFulfillmentStarted}: {StatusFulfilling, EffectNone},
	{StatusPaid, EventShipmentDispatched}: {StatusShipped, EffectNone},
	{StatusPaid, EventReturnAccepted}:     {StatusRefunded, EffectCredit},

	{StatusFulfilling, EventShipmentDispatched}: {StatusShipped, EffectNone},
	{StatusFulfilling, EventReturnAccepted}:     {StatusRefunded, EffectCredit},

	{StatusShipped, EventDeliveryConfirmed}: {StatusCompleted, EffectNone},
	{StatusShipped, EventReturnAccepted}:    {StatusRefunded, EffectCredit},

	{StatusCompleted, EventReturnAccepted}: {StatusRefunded, EffectCredit},
}

// InvalidTransitionError names the pair that has no row in the table.
type InvalidTransitionError struct {
	From  Status
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order: event %q not allowed in status %q", e.Event, e.From)
}

// Transition describes the outcome of applying an event.
type Transition struct {
	From   Status
	To     Status
	Event  Event
	Effect StockEffect
	// Noop is set when the event was already applied.
	Noop bool
}

// Resolve looks up the table without touching any order.
func Resolve(from Status, ev Event) (Transition, error) {
	t, ok := transitions[edge{from, ev}]
	if !ok {
		return Transition{}, &InvalidTransitionError{From: from, Event: ev}
	}
	return Transition{From: from, To: t.to, Event: ev, Effect: t.effect}, nil
}

// Allowed lists the events accepted in status s.
func Allowed(s Status) []Event {
	var out []Event
	for _, ev := range AllEvents() {
		if _, ok := transitions[edge{s, ev}]; ok {
			out = append(out, ev)
		}
	}
	return out
}

func AllStatuses() []Status {
	return []Status{
		StatusNew, StatusPendingPayment, StatusPaid, StatusFulfilling,
		StatusShipped, StatusCompleted, StatusCancelled, StatusRefunded,
	}
}

func AllEvents() []Event {
	return []Event{
		EventStockReserved, EventPaymentCaptured, EventPaymentFailed,
		EventCustomerCancelled, EventAdminCancelled, EventFulfillmentStarted,
		EventShipmentDispatched, EventDeliveryConfirmed, EventReturnAccepted,
	}
}

// Plan reports what Apply would do without mutating the order.
func (o *Order) Plan(ev Event) (Transition, error) {
	if o.replayed(ev) {
		return Transition{From: o.Status, To: o.Status, Event: ev, Effect: EffectNone, Noop: true}, nil
	}
	return Resolve(o.Status, ev)
}

// Apply moves the order along the table and appends a history entry.
// On error the order is left untouched.
func (o *Order) Apply(ev Event, actor, note string, at time.Time) (Transition, error) {
	t, err := o.Plan(ev)
	if err != nil || t.Noop {
		return t, err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	o.Status = t.To
	o.History = append(o.History, HistoryEntry{Status: t.To, Event: ev, Actor: actor, Note: note, At: at})
	o.UpdatedAt = at
	return t, nil
}

// replayed reports whether ev has nothing left to do: it produced the
// current status, or it would cancel an order that is already cancelled.
func (o *Order) replayed(ev Event) bool {
	if o.Status == StatusCancelled && ev.Cancels() {
		return true
	}
	if len(o.History) == 0 {
		return false
	}
	last := o.History[len(o.History)-1]
	return last.Event == ev && last.Status == o.Status
}
