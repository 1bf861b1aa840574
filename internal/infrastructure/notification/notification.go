package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
	workerpresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/worker"
)

// Message is a buyer-facing notification derived from an order event.
type Message struct {
	Event       string           `json:"event"`
	OrderID     string           `json:"order_id"`
	OrderNumber string           `json:"order_number"`
	Recipient   string           `json:"recipient"`
	Subject     string           `json:"subject"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Reference   string           `json:"reference,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Events lists the order events that produce notifications.
var Events = []string{
	order.OrderPaidEvent{}.EventName(),
	order.OrderCancelledEvent{}.EventName(),
	order.OrderRefundedEvent{}.EventName(),
}

type Worker struct {
	notifier Notifier
	log      observability.Logger
	metrics  observability.Metrics
}

func NewWorker(notifier Notifier, tel observability.Observability) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Worker{
		notifier: notifier,
		log:      tel.Logger().With(observability.F("component", "notification_worker")),
		metrics:  tel.Metrics(),
	}
}

func (w *Worker) Register(sub domoutbox.Subscriber) {
	for _, name := range Events {
		sub.Subscribe(name, w.Handle)
	}
}

func (w *Worker) Handle(ctx context.Context, e domoutbox.Event) error {
	ctx = workerpresentation.WithEventContext(ctx, w.log, map[string]string{"event": e.EventName()})
	logger := logctx.FromOr(ctx, w.log)

	msg, ok := MessageFor(e)
	if !ok {
		logger.Debug("notification_skipped")
		return nil
	}

	start := time.Now()
	err := w.notifier.Notify(ctx, msg)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	w.metrics.Counter(observability.MExternalRequests).Add(1,
		observability.L("peer", "notifier"),
		observability.L("endpoint", msg.Event),
		observability.L("outcome", outcome),
	)
	w.metrics.Histogram(observability.MExternalRequestDuration).Observe(time.Since(start).Seconds(),
		observability.L("peer", "notifier"),
		observability.L("endpoint", msg.Event),
	)
	if err != nil {
		logger.Error("notification_failed", observability.F("order_id", msg.OrderID), observability.F("error", err))
		return fmt.Errorf("notify %s: %w", msg.Event, err)
	}
	logger.Info("notification_sent", observability.F("order_id", msg.OrderID))
	return nil
}

// MessageFor maps an order event to its notification.
func MessageFor(e domoutbox.Event) (Message, bool) {
	switch ev := e.(type) {
	case order.OrderPaidEvent:
		return Message{
			Event:       ev.EventName(),
			OrderID:     ev.OrderID,
			OrderNumber: ev.OrderNumber,
			Recipient:   ev.BuyerEmail,
			Subject:     fmt.Sprintf("Payment received for order %s", ev.OrderNumber),
			Amount:      &ev.Amount,
			Reference:   ev.CaptureID,
			OccurredAt:  ev.OccurredAt,
		}, true
	case order.OrderCancelledEvent:
		return Message{
			Event:       ev.EventName(),
			OrderID:     ev.OrderID,
			OrderNumber: ev.OrderNumber,
			Recipient:   ev.BuyerEmail,
			Subject:     fmt.Sprintf("Order %s cancelled", ev.OrderNumber),
			Reason:      string(ev.Reason),
			OccurredAt:  ev.OccurredAt,
		}, true
	case order.OrderRefundedEvent:
		return Message{
			Event:       ev.EventName(),
			OrderID:     ev.OrderID,
			OrderNumber: ev.OrderNumber,
			Recipient:   ev.BuyerEmail,
			Subject:     fmt.Sprintf("Refund issued for order %s", ev.OrderNumber),
			Amount:      &ev.Amount,
			Reference:   ev.RefundID,
			OccurredAt:  ev.OccurredAt,
		}, true
	default:
		return Message{}, false
	}
}

// LogNotifier writes notifications to the log. Used when no broker is configured.
type LogNotifier struct {
	log observability.Logger
}

func NewLogNotifier(logger observability.Logger) *LogNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	logctx.FromOr(ctx, n.log).Info("notification",
		observability.F("event", msg.Event),
		observability.F("order_number", msg.OrderNumber),
		observability.F("recipient", msg.Recipient),
		observability.F("subject", msg.Subject),
	)
	return nil
}
