package outbox

import "context"

// Event is a domain fact raised by the order or stock aggregates.
type Event interface {
	EventName() string
}

// Keyed events belong to one order. Transports use the key for partitioning
// so a consumer sees an order's events in publish order.
type Keyed interface {
	Event
	AggregateID() string
}

// KeyOf returns the order id an event belongs to, or "" when it is unkeyed.
func KeyOf(e Event) string {
	if k, ok := e.(Keyed); ok {
		return k.AggregateID()
	}
	return ""
}

// Handler reacts to a published event. Returned errors are logged by the bus
// and never reach the publisher.
type Handler func(ctx context.Context, e Event) error

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber registers handlers by event name; "*" receives everything.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
