package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	inventoryService = "inventory-service"
	publishTimeout   = 300 * time.Millisecond

	useCaseReserve = "inventory.reserve"
	useCaseRelease = "inventory.release"
	useCaseDebit   = "inventory.debit"
	useCaseCredit  = "inventory.credit"
	useCaseRestock = "inventory.restock"
	useCaseVerify  = "inventory.verify"
)

var ErrInvalidRequest = errors.New("inventory: invalid request")

// Ledger is the only writer of stock quantities. Every change goes through the
// store together with its movement.
type Ledger struct {
	store     dominv.Store
	publisher domoutbox.Publisher
	inst      *application.Instrument
	movements observability.Counter // stock_movements_total{kind}
}

func NewLedger(store dominv.Store, publisher domoutbox.Publisher, tel observability.Observability) *Ledger {
	metrics := observability.NopMetrics()
	if tel != nil {
		metrics = tel.Metrics()
	}
	return &Ledger{
		store:     store,
		publisher: publisher,
		inst:      application.NewInstrument(tel, inventoryService),
		movements: metrics.Counter(observability.MStockMovements),
	}
}

// Reserve holds every line for orderID or none of them. A repeated call for
// the same order returns the movements of the first one.
func (l *Ledger) Reserve(ctx context.Context, orderID string, lines map[string]int) (_ []dominv.Movement, err error) {
	ctx, call := l.inst.Start(ctx, useCaseReserve, "ReserveStock", attribute.String("order.id", orderID))
	defer func() { call.End(err) }()
	call.Field("order_id", orderID)

	moves, err := l.apply(ctx, dominv.KindReserve, orderID, lines, "order placed")
	if err != nil {
		var serr *dominv.InsufficientStockError
		switch {
		case errors.As(err, &serr):
			call.Fail("INSUFFICIENT_STOCK")
			l.publish(ctx, call, dominv.NewStockReservationFailedEvent(orderID, serr.ArticleRef, serr.Requested, serr.Available, dominv.FailureReasonInsufficientStock))
		case errors.Is(err, dominv.ErrNotFound):
			call.Fail("ARTICLE_NOT_FOUND")
			l.publish(ctx, call, dominv.NewStockReservationFailedEvent(orderID, "", 0, 0, dominv.FailureReasonNotFound))
		case errors.Is(err, ErrInvalidRequest):
			call.Fail("INVALID_REQUEST")
		default:
			call.Fail("LEDGER_APPLY_FAILED")
		}
		return nil, err
	}
	l.publish(ctx, call, dominv.NewStockReservedEvent(orderID, lines))
	return moves, nil
}

// Release returns held units to available.
func (l *Ledger) Release(ctx context.Context, orderID string, lines map[string]int, reason string) (_ []dominv.Movement, err error) {
	ctx, call := l.inst.Start(ctx, useCaseRelease, "ReleaseStock", attribute.String("order.id", orderID))
	defer func() { call.End(err) }()
	call.Field("order_id", orderID)

	moves, err := l.apply(ctx, dominv.KindRelease, orderID, lines, reason)
	if err != nil {
		call.Fail("LEDGER_APPLY_FAILED")
	}
	return moves, err
}

// Debit consumes held units once payment is captured.
func (l *Ledger) Debit(ctx context.Context, orderID string, lines map[string]int) (_ []dominv.Movement, err error) {
	ctx, call := l.inst.Start(ctx, useCaseDebit, "DebitStock", attribute.String("order.id", orderID))
	defer func() { call.End(err) }()
	call.Field("order_id", orderID)

	moves, err := l.apply(ctx, dominv.KindDebit, orderID, lines, "payment captured")
	if err != nil {
		call.Fail("LEDGER_APPLY_FAILED")
	}
	return moves, err
}

// Credit puts debited units back on the shelf, for cancellations after payment and returns.
func (l *Ledger) Credit(ctx context.Context, orderID string, lines map[string]int, reason string) (_ []dominv.Movement, err error) {
	ctx, call := l.inst.Start(ctx, useCaseCredit, "CreditStock", attribute.String("order.id", orderID))
	defer func() { call.End(err) }()
	call.Field("order_id", orderID)

	moves, err := l.apply(ctx, dominv.KindCredit, orderID, lines, reason)
	if err != nil {
		call.Fail("LEDGER_APPLY_FAILED")
	}
	return moves, err
}

// Restock credits an article outside any order. A non-empty key makes it idempotent.
func (l *Ledger) Restock(ctx context.Context, articleRef string, quantity int, reason, idempotencyKey string) (_ dominv.Movement, err error) {
	ctx, call := l.inst.Start(ctx, useCaseRestock, "Restock", attribute.String("article.ref", articleRef))
	defer func() { call.End(err) }()
	call.Field("article_ref", articleRef)

	if articleRef == "" || quantity <= 0 {
		call.Fail("INVALID_REQUEST")
		return dominv.Movement{}, fmt.Errorf("%w: article ref and positive quantity required", ErrInvalidRequest)
	}
	moves, err := l.store.Apply(ctx, dominv.Operation{
		Kind:           dominv.KindCredit,
		ArticleRef:     articleRef,
		Quantity:       quantity,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		call.Fail("LEDGER_APPLY_FAILED")
		return dominv.Movement{}, err
	}
	l.count(moves)
	return moves[0], nil
}

func (l *Ledger) Entry(ctx context.Context, articleRef string) (*dominv.Entry, error) {
	return l.store.Entry(ctx, articleRef)
}

func (l *Ledger) Movements(ctx context.Context, articleRef string) ([]dominv.Movement, error) {
	return l.store.Movements(ctx, articleRef)
}

// Verify folds the movement log of articleRef and compares it with the entry.
func (l *Ledger) Verify(ctx context.Context, articleRef string) (err error) {
	ctx, call := l.inst.Start(ctx, useCaseVerify, "VerifyStock", attribute.String("article.ref", articleRef))
	defer func() { call.End(err) }()

	entry, err := l.store.Entry(ctx, articleRef)
	if err != nil {
		call.Fail("ENTRY_LOAD_FAILED")
		return err
	}
	moves, err := l.store.Movements(ctx, articleRef)
	if err != nil {
		call.Fail("MOVEMENTS_LOAD_FAILED")
		return err
	}
	if err := dominv.Verify(entry, moves); err != nil {
		call.Fail("DRIFT_DETECTED")
		return err
	}
	return nil
}

// VerifyAll verifies every article and joins the failures.
func (l *Ledger) VerifyAll(ctx context.Context) error {
	refs, err := l.store.Articles(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, ref := range refs {
		if err := l.Verify(ctx, ref); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenReservations returns units still held per order and article. Orders
// whose first reservation is not older than olderThan are left out; a zero
// olderThan keeps everything.
func (l *Ledger) OpenReservations(ctx context.Context, olderThan time.Time) (map[string]map[string]int, error) {
	moves, err := l.store.ReservationMovements(ctx)
	if err != nil {
		return nil, err
	}
	open := dominv.Outstanding(moves)
	if olderThan.IsZero() {
		return open, nil
	}
	first := make(map[string]time.Time, len(open))
	for _, m := range moves {
		if m.Kind != dominv.KindReserve {
			continue
		}
		if t, ok := first[m.OrderID]; !ok || m.CreatedAt.Before(t) {
			first[m.OrderID] = m.CreatedAt
		}
	}
	for orderID := range open {
		if !first[orderID].Before(olderThan) {
			delete(open, orderID)
		}
	}
	return open, nil
}

// HeldFor returns the units still reserved for one order.
func (l *Ledger) HeldFor(ctx context.Context, orderID string) (map[string]int, error) {
	moves, err := l.store.MovementsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	held := dominv.Outstanding(moves)[orderID]
	if held == nil {
		held = map[string]int{}
	}
	return held, nil
}

func (l *Ledger) apply(ctx context.Context, kind dominv.Kind, orderID string, lines map[string]int, reason string) ([]dominv.Movement, error) {
	if orderID == "" || len(lines) == 0 {
		return nil, fmt.Errorf("%w: order id and lines required", ErrInvalidRequest)
	}
	ops, err := Operations(kind, orderID, lines, reason)
	if err != nil {
		return nil, err
	}
	moves, err := l.store.Apply(ctx, ops...)
	if err != nil {
		return nil, err
	}
	l.count(moves)
	return moves, nil
}

// Operations turns order lines into ledger operations in article order. Each
// carries the key <order>:<kind>:<article>.
func Operations(kind dominv.Kind, orderID string, lines map[string]int, reason string) ([]dominv.Operation, error) {
	refs := make([]string, 0, len(lines))
	for ref := range lines {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	ops := make([]dominv.Operation, 0, len(refs))
	for _, ref := range refs {
		q := lines[ref]
		if ref == "" || q <= 0 {
			return nil, fmt.Errorf("%w: line %q has quantity %d", ErrInvalidRequest, ref, q)
		}
		ops = append(ops, dominv.Operation{
			Kind:           kind,
			ArticleRef:     ref,
			Quantity:       q,
			Reason:         reason,
			OrderID:        orderID,
			IdempotencyKey: IdempotencyKey(orderID, kind, ref),
		})
	}
	return ops, nil
}

func IdempotencyKey(orderID string, kind dominv.Kind, articleRef string) string {
	return orderID + ":" + string(kind) + ":" + articleRef
}

func (l *Ledger) count(moves []dominv.Movement) {
	for _, m := range moves {
		l.movements.Add(1, observability.L("kind", string(m.Kind)))
	}
}

func (l *Ledger) publish(ctx context.Context, call *application.Call, e domoutbox.Event) {
	if l.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := l.publisher.Publish(pubCtx, e); err != nil {
		call.Span().RecordError(err)
		call.Logger().Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
	}
}
