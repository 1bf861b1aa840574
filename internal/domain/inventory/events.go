package inventory

import "time"

const (
	FailureReasonNotFound          = "not_found"
	FailureReasonInsufficientStock = "insufficient_stock"
	FailureReasonPersistenceError  = "persist_error"
)

// StockReservedEvent is emitted when every line of an order has been reserved.
type StockReservedEvent struct {
	OrderID    string
	Lines      map[string]int
	OccurredAt time.Time
}

func (StockReservedEvent) EventName() string     { return "inventory.reserved" }
func (e StockReservedEvent) AggregateID() string { return e.OrderID }

func NewStockReservedEvent(orderID string, lines map[string]int) StockReservedEvent {
	return StockReservedEvent{
		OrderID:    orderID,
		Lines:      lines,
		OccurredAt: time.Now().UTC(),
	}
}

// StockReservationFailedEvent is emitted when a reservation batch is rejected.
type StockReservationFailedEvent struct {
	OrderID    string
	ArticleRef string
	Requested  int
	Available  int
	Reason     string
	OccurredAt time.Time
}

func (StockReservationFailedEvent) EventName() string     { return "inventory.reservation_failed" }
func (e StockReservationFailedEvent) AggregateID() string { return e.OrderID }

func NewStockReservationFailedEvent(orderID, articleRef string, requested, available int, reason string) StockReservationFailedEvent {
	return StockReservationFailedEvent{
		OrderID:    orderID,
		ArticleRef: articleRef,
		Requested:  requested,
		Available:  available,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}
