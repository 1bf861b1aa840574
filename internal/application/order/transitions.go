package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const reasonPaymentTimeout = "payment_timeout"

// HandlePaymentCallback captures the approved intent and moves the order to
// paid. Calling it again for a paid or later order returns the order as is.
func (s *Orchestrator) HandlePaymentCallback(ctx context.Context, intentID string) (_ *domain.Order, err error) {
	ctx, call := s.inst.Start(ctx, useCaseCallback, "HandlePaymentCallback", attribute.String("payment.intent_id", intentID))
	defer func() { call.End(err) }()
	call.Field("intent_id", intentID)
	logger := call.Logger()

	if intentID == "" {
		call.Fail("INTENT_ID_REQUIRED")
		return nil, newValidation("token", "required")
	}
	ord, err := s.repo.FindByIntentID(ctx, intentID)
	if err != nil {
		call.Fail("ORDER_LOOKUP_FAILED")
		return nil, wrapRepositoryError(err)
	}
	call.Field("order_id", ord.ID)
	if alreadyPaid(ord.Status) {
		call.Status("IDEMPOTENT_REPLAY")
		return ord, nil
	}
	if _, err := ord.Plan(domain.EventPaymentCaptured); err != nil {
		call.Fail("INVALID_TRANSITION")
		return ord, err
	}

	capture, err := s.gateway.Capture(ctx, intentID)
	if err != nil {
		if errors.Is(err, dompay.ErrUnavailable) || errors.Is(err, dompay.ErrDisabled) || ctx.Err() != nil {
			call.Fail("PROVIDER_UNAVAILABLE")
			return ord, err
		}
		call.Fail("CAPTURE_DECLINED")
		failed, ferr := s.failPayment(context.WithoutCancel(ctx), ord.ID, intentID, err.Error(), "gateway")
		if ferr != nil {
			return ord, errors.Join(err, ferr)
		}
		return failed, err
	}

	// Money has moved; the rest must complete.
	ctx = context.WithoutCancel(ctx)
	if !capture.Amount.IsZero() && !capture.Amount.Equal(ord.Pricing.GrandTotal) {
		logger.Warn("capture_amount_mismatch",
			observability.F("order_id", ord.ID),
			observability.F("captured", capture.Amount.String()),
			observability.F("expected", ord.Pricing.GrandTotal.String()),
		)
	}

	at := s.now()
	paid, tr, err := s.transition(ctx, ord.ID, domain.EventPaymentCaptured, "gateway", "capture "+capture.ID, change{
		prepare: func(o *domain.Order) error {
			amount := capture.Amount
			if amount.IsZero() {
				amount = o.Pricing.GrandTotal
			}
			return o.MarkPaymentCaptured(intentID, capture.ID, amount, at)
		},
	})
	committed := err == nil || (errors.Is(err, ErrSettlementPending) && !tr.Noop)
	if !committed {
		return s.captureLost(ctx, call, ord.ID, intentID, capture, err)
	}
	if !tr.Noop {
		s.publish(ctx, domain.NewOrderPaidEvent(paid, capture.ID, capture.Amount))
	}
	if err != nil {
		call.Fail("SETTLEMENT_PENDING")
	}
	return paid, err
}

// captureLost handles a capture whose transition to paid did not commit. An
// order that left pending_payment meanwhile (cancelled or expired) gets its
// money back; one still pending keeps the capture for the next callback or
// reconciler round, which find it already captured.
func (s *Orchestrator) captureLost(ctx context.Context, call *application.Call, orderID, intentID string, capture *dompay.Capture, cause error) (*domain.Order, error) {
	logger := call.Logger()
	ord, err := s.repo.Get(ctx, orderID)
	if err != nil {
		call.Fail("TRANSITION_FAILED")
		logger.Error("capture_not_recorded",
			observability.F("capture_id", capture.ID),
			observability.F("error", cause.Error()),
		)
		return nil, errors.Join(cause, wrapRepositoryError(err))
	}
	if ord.Status == domain.StatusPendingPayment || alreadyPaid(ord.Status) {
		call.Fail(statusFor(cause))
		return ord, cause
	}

	call.Fail("CAPTURED_AFTER_CANCEL")
	if _, rerr := s.gateway.Refund(ctx, capture.ID, nil, "refund-"+intentID); rerr != nil {
		logger.Error("capture_refund_failed",
			observability.F("capture_id", capture.ID),
			observability.F("error", rerr.Error()),
		)
		return ord, errors.Join(cause, rerr)
	}
	logger.Warn("capture_refunded",
		observability.F("capture_id", capture.ID),
		observability.F("status", string(ord.Status)),
	)
	return ord, cause
}

type CancelOrderInput struct {
	OrderID string
	Reason  string
	Actor   string
	// ByAdmin selects admin_cancelled, which is also allowed after payment.
	ByAdmin bool
}

// CancelOrder cancels before payment (release) or, for admins, after payment
// (refund then credit).
func (s *Orchestrator) CancelOrder(ctx context.Context, in CancelOrderInput) (_ *domain.Order, err error) {
	ctx, call := s.inst.Start(ctx, useCaseCancel, "CancelOrder", attribute.String("order.id", in.OrderID))
	defer func() { call.End(err) }()
	call.Field("order_id", in.OrderID)

	ev := domain.EventCustomerCancelled
	if in.ByAdmin {
		ev = domain.EventAdminCancelled
	}
	ord, err := s.Get(ctx, in.OrderID)
	if err != nil {
		call.Fail("ORDER_LOAD_FAILED")
		return nil, err
	}
	tr, err := ord.Plan(ev)
	if err != nil {
		call.Fail("INVALID_TRANSITION")
		return ord, err
	}
	if tr.Noop && ord.Pending == nil {
		call.Status("IDEMPOTENT_REPLAY")
		return ord, nil
	}
	ctx = context.WithoutCancel(ctx)

	ord, tr, err = s.transition(ctx, in.OrderID, ev, actorOr(in.Actor, "customer"), in.Reason, change{})
	if err != nil && !errors.Is(err, ErrSettlementPending) {
		call.Fail(statusFor(err))
		return ord, err
	}
	if !tr.Noop {
		s.publish(ctx, domain.NewOrderCancelledEvent(ord, ev, in.Reason))
	}
	if err != nil {
		call.Fail("SETTLEMENT_PENDING")
	}
	return ord, err
}

type AcceptReturnInput struct {
	OrderID string
	// Lines to take back. Empty means the whole order.
	Lines  map[string]int
	Reason string
	Actor  string
}

// AcceptReturn refunds the value of the returned lines and credits them back
// to stock.
func (s *Orchestrator) AcceptReturn(ctx context.Context, in AcceptReturnInput) (_ *domain.Order, err error) {
	ctx, call := s.inst.Start(ctx, useCaseReturn, "AcceptReturn", attribute.String("order.id", in.OrderID))
	defer func() { call.End(err) }()
	call.Field("order_id", in.OrderID)

	ord, err := s.Get(ctx, in.OrderID)
	if err != nil {
		call.Fail("ORDER_LOAD_FAILED")
		return nil, err
	}
	tr, err := ord.Plan(domain.EventReturnAccepted)
	if err != nil {
		call.Fail("INVALID_TRANSITION")
		return ord, err
	}
	if tr.Noop && ord.Pending == nil {
		call.Status("IDEMPOTENT_REPLAY")
		return ord, nil
	}

	ordered := ord.Quantities()
	lines := in.Lines
	full := len(lines) == 0
	if full {
		lines = ordered
	}
	for ref, q := range lines {
		if q <= 0 || q > ordered[ref] {
			call.Fail("RETURN_LINES_INVALID")
			return ord, newValidation("lines", fmt.Sprintf("cannot return %d of %s", q, ref))
		}
	}
	if !full {
		full = sameQuantities(lines, ordered)
	}

	var amount *decimal.Decimal
	if !full {
		v := returnValue(ord, lines)
		amount = &v
	}
	ctx = context.WithoutCancel(ctx)

	ord, _, err = s.transition(ctx, in.OrderID, domain.EventReturnAccepted, actorOr(in.Actor, "admin"), in.Reason, change{
		lines:  lines,
		amount: amount,
	})
	if err != nil {
		if errors.Is(err, ErrSettlementPending) {
			call.Fail("SETTLEMENT_PENDING")
		} else {
			call.Fail(statusFor(err))
		}
		return ord, err
	}
	return ord, nil
}

func (s *Orchestrator) StartFulfillment(ctx context.Context, orderID, actor string) (*domain.Order, error) {
	return s.advance(ctx, orderID, domain.EventFulfillmentStarted, actor, "StartFulfillment")
}

func (s *Orchestrator) MarkShipped(ctx context.Context, orderID, actor, note string) (*domain.Order, error) {
	return s.advance(ctx, orderID, domain.EventShipmentDispatched, actor, "MarkShipped", note)
}

func (s *Orchestrator) ConfirmDelivery(ctx context.Context, orderID, actor string) (*domain.Order, error) {
	return s.advance(ctx, orderID, domain.EventDeliveryConfirmed, actor, "ConfirmDelivery")
}

func (s *Orchestrator) advance(ctx context.Context, orderID string, ev domain.Event, actor, name string, note ...string) (_ *domain.Order, err error) {
	ctx, call := s.inst.Start(ctx, useCaseAdvance, name,
		attribute.String("order.id", orderID),
		attribute.String("order.event", string(ev)),
	)
	defer func() { call.End(err) }()
	call.Field("order_id", orderID)
	call.Field("event", string(ev))

	var n string
	if len(note) > 0 {
		n = note[0]
	}
	ord, tr, err := s.transition(ctx, orderID, ev, actorOr(actor, "admin"), n, change{})
	if err != nil {
		call.Fail(statusFor(err))
		return ord, err
	}
	if tr.Noop {
		call.Status("IDEMPOTENT_REPLAY")
	}
	return ord, nil
}

// failPayment records a failed attempt and cancels the order, releasing stock.
func (s *Orchestrator) failPayment(ctx context.Context, orderID, intentID, reason, actor string) (*domain.Order, error) {
	ord, tr, err := s.transition(ctx, orderID, domain.EventPaymentFailed, actor, reason, change{
		prepare: func(o *domain.Order) error {
			if intentID != "" {
				o.MarkPaymentFailed(intentID, reason)
			}
			return nil
		},
	})
	if err != nil && !errors.Is(err, ErrSettlementPending) {
		return ord, err
	}
	if !tr.Noop && s.publisher != nil {
		_, call := s.inst.Start(ctx, "order.payment_failed", "PaymentFailed", attribute.String("order.id", orderID))
		s.publish(ctx, domain.NewOrderCancelledEvent(ord, domain.EventPaymentFailed, reason))
		call.End(nil)
	}
	return ord, err
}

// change is what a transition carries besides its event.
type change struct {
	// lines moved by the stock effect; nil means the whole order.
	lines map[string]int
	// amount refunded with a credit; nil refunds the whole capture.
	amount  *decimal.Decimal
	prepare func(*domain.Order) error
}

// transition commits ev together with the settlement it owes, then settles.
// The version check decides the winner before any refund or stock movement
// happens, so a transition that loses a race leaves no side effects; the
// loser reloads and either applies on the fresh state, no-ops, or fails.
// A committed transition whose settlement fails returns the order with
// ErrSettlementPending and the reconciler finishes it.
func (s *Orchestrator) transition(ctx context.Context, orderID string, ev domain.Event, actor, note string, ch change) (*domain.Order, domain.Transition, error) {
	var last error
	for attempt := 0; attempt < s.cfg.MaxConflictRetries; attempt++ {
		ord, err := s.repo.Get(ctx, orderID)
		if err != nil {
			return nil, domain.Transition{}, wrapRepositoryError(err)
		}
		if ord.Pending != nil {
			// Debts of an earlier transition come first.
			if ord, err = s.settle(ctx, ord); err != nil {
				return ord, domain.Transition{From: ord.Status, To: ord.Status, Event: ev, Noop: true}, err
			}
		}
		tr, err := ord.Plan(ev)
		if err != nil || tr.Noop {
			return ord, tr, err
		}
		// Goods only come back to stock against money going back to the buyer.
		refund := tr.Effect == domain.EffectCredit
		if refund {
			if err := requireCapture(ord); err != nil {
				return ord, tr, err
			}
		}
		if ch.prepare != nil {
			if err := ch.prepare(ord); err != nil {
				return ord, tr, err
			}
		}
		lines := ch.lines
		if lines == nil {
			lines = ord.Quantities()
		}
		ord.Owe(domain.Settlement{
			Event:        ev,
			Effect:       tr.Effect,
			Lines:        lines,
			Reason:       string(ev),
			Refund:       refund,
			RefundAmount: ch.amount,
			CreatedAt:    s.now(),
		})
		if _, err := ord.Apply(ev, actor, note, s.now()); err != nil {
			return ord, tr, err
		}
		err = s.repo.Update(ctx, ord)
		if errors.Is(err, domain.ErrConflict) {
			last = err
			continue
		}
		if err != nil {
			return ord, tr, wrapRepositoryError(err)
		}
		s.countTransition(tr)
		settled, err := s.settle(ctx, ord)
		return settled, tr, err
	}
	return nil, domain.Transition{}, fmt.Errorf("%w: gave up after %d attempts: %w", ErrConflict, s.cfg.MaxConflictRetries, last)
}

// settle pays what ord owes and clears the debt. Each step is idempotent:
// the refund through its provider request id, the stock movement through
// its ledger keys. Running it twice, or from two workers, moves nothing twice.
func (s *Orchestrator) settle(ctx context.Context, ord *domain.Order) (*domain.Order, error) {
	debt := ord.Pending
	if debt == nil {
		return ord, nil
	}
	ctx = context.WithoutCancel(ctx)
	logger := logctx.FromOr(ctx, s.inst.Logger()).With(
		observability.F("order_id", ord.ID),
		observability.F("event", string(debt.Event)),
	)
	pending := func(step string, err error) (*domain.Order, error) {
		logger.Warn("settlement_pending", observability.F("step", step), observability.F("error", err.Error()))
		return ord, fmt.Errorf("%w: %s: %w", ErrSettlementPending, step, err)
	}

	var refund *dompay.Refund
	if debt.Refund {
		r, err := s.refund(ctx, ord, debt.RefundAmount)
		if err != nil {
			return pending("refund", err)
		}
		refund = r
	}
	if err := s.applyStock(ctx, ord.ID, debt.Effect, debt.Lines, debt.Reason); err != nil {
		return pending("stock", err)
	}

	var cleared bool
	settled, err := s.mutate(ctx, ord.ID, func(o *domain.Order) (bool, error) {
		if !o.Settle(debt.Event) {
			return false, nil
		}
		if refund != nil {
			if err := o.MarkRefunded(refund.ID, refund.Amount); err != nil {
				return false, err
			}
		}
		cleared = true
		return true, nil
	})
	if err != nil {
		return pending("clear", err)
	}
	if cleared && refund != nil {
		s.publish(ctx, domain.NewOrderRefundedEvent(settled, refund.ID, refund.Amount))
	}
	return settled, nil
}

func (s *Orchestrator) applyStock(ctx context.Context, orderID string, effect domain.StockEffect, lines map[string]int, reason string) error {
	var err error
	switch effect {
	case domain.EffectRelease:
		_, err = s.ledger.Release(ctx, orderID, lines, reason)
	case domain.EffectDebit:
		_, err = s.ledger.Debit(ctx, orderID, lines)
	case domain.EffectCredit:
		_, err = s.ledger.Credit(ctx, orderID, lines, reason)
	}
	if err != nil {
		return fmt.Errorf("order: stock %s: %w", effect, err)
	}
	return nil
}

// mutate reloads the order, applies fn and saves when fn reports a change.
func (s *Orchestrator) mutate(ctx context.Context, orderID string, fn func(*domain.Order) (bool, error)) (*domain.Order, error) {
	for attempt := 0; attempt < s.cfg.MaxConflictRetries; attempt++ {
		ord, err := s.repo.Get(ctx, orderID)
		if err != nil {
			return nil, wrapRepositoryError(err)
		}
		changed, err := fn(ord)
		if err != nil || !changed {
			return ord, err
		}
		err = s.repo.Update(ctx, ord)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, wrapRepositoryError(err)
		}
		return ord, nil
	}
	return nil, ErrConflict
}

// refund pays back amount, or the whole capture when amount is nil.
func (s *Orchestrator) refund(ctx context.Context, ord *domain.Order, amount *decimal.Decimal) (*dompay.Refund, error) {
	rec, ok := ord.ActivePayment()
	if !ok || rec.CaptureID == "" {
		return nil, domain.ErrNoActivePayment
	}
	r, err := s.gateway.Refund(ctx, rec.CaptureID, amount, "refund-"+ord.ID)
	if err != nil {
		return nil, err
	}
	if r.Amount.IsZero() {
		if amount != nil {
			r.Amount = *amount
		} else {
			r.Amount = rec.Amount
		}
	}
	return r, nil
}

// requireCapture rejects refunding orders that hold no captured payment.
func requireCapture(ord *domain.Order) error {
	if rec, ok := ord.ActivePayment(); !ok || rec.CaptureID == "" {
		return domain.ErrNoActivePayment
	}
	return nil
}

// returnValue is the gross value of returned lines, shipping excluded.
func returnValue(ord *domain.Order, lines map[string]int) decimal.Decimal {
	total := decimal.Zero
	for _, l := range ord.Lines {
		if q := lines[l.ArticleRef]; q > 0 {
			total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(q))))
		}
	}
	if !ord.Pricing.TaxInclusive {
		total = total.Mul(decimal.NewFromInt(1).Add(ord.Pricing.TaxRate))
	}
	return money.Round(total)
}

func sameQuantities(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func alreadyPaid(st domain.Status) bool {
	switch st {
	case domain.StatusPaid, domain.StatusFulfilling, domain.StatusShipped, domain.StatusCompleted, domain.StatusRefunded:
		return true
	}
	return false
}

func statusFor(err error) string {
	var ierr *domain.InvalidTransitionError
	switch {
	case errors.As(err, &ierr):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrNotFound):
		return "ORDER_NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrSettlementPending):
		return "SETTLEMENT_PENDING"
	default:
		return "TRANSITION_FAILED"
	}
}
