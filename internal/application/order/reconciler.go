package order

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

const useCaseReconcile = "order.reconcile"

type ReconcilerConfig struct {
	// StaleAfter is how long an order may sit in pending_payment before the
	// provider is asked about it.
	StaleAfter time.Duration
	// ExpireAfter cancels orders whose intent was never approved.
	ExpireAfter time.Duration
	// SettleAfter is how long a committed transition may owe its refund or
	// stock movement before the reconciler pays it.
	SettleAfter time.Duration
	Interval    time.Duration
}

func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		StaleAfter:  15 * time.Minute,
		ExpireAfter: 24 * time.Hour,
		SettleAfter: time.Minute,
		Interval:    5 * time.Minute,
	}
}

// ReconcileReport summarizes one sweep.
type ReconcileReport struct {
	Checked       int
	Captured      int
	Failed        int
	Skipped       int
	LeaksReleased int
	// Settled counts committed transitions whose owed refund or stock
	// movement this sweep completed.
	Settled int
}

// Reconciler settles orders whose payment callback never arrived and returns
// reservations nobody owns to stock.
type Reconciler struct {
	orders   *Orchestrator
	cfg      ReconcilerConfig
	outcomes observability.Counter
}

func NewReconciler(orders *Orchestrator, cfg ReconcilerConfig) *Reconciler {
	def := DefaultReconcilerConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = def.ExpireAfter
	}
	if cfg.SettleAfter <= 0 {
		cfg.SettleAfter = def.SettleAfter
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Reconciler{
		orders:   orders,
		cfg:      cfg,
		outcomes: orders.inst.Metrics().Counter(observability.MReconcileOutcomes),
	}
}

// Start runs RunOnce every Interval until ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.RunOnce(ctx)
		}
	}
}

func (r *Reconciler) RunOnce(ctx context.Context) (report ReconcileReport, err error) {
	s := r.orders
	ctx, call := s.inst.Start(ctx, useCaseReconcile, "Reconcile")
	defer func() {
		call.Field("checked", report.Checked)
		call.Field("captured", report.Captured)
		call.Field("failed", report.Failed)
		call.Field("skipped", report.Skipped)
		call.Field("leaks_released", report.LeaksReleased)
		call.Field("settled", report.Settled)
		call.End(err)
	}()
	logger := call.Logger()
	now := s.now()

	unsettled, err := s.repo.ListUnsettled(ctx, now.Add(-r.cfg.SettleAfter))
	if err != nil {
		call.Fail("LIST_UNSETTLED_FAILED")
		return report, wrapRepositoryError(err)
	}
	for _, ord := range unsettled {
		if ctx.Err() != nil {
			break
		}
		if _, serr := s.settle(ctx, ord); serr != nil {
			logger.Warn("settlement_retry_failed",
				observability.F("order_id", ord.ID),
				observability.F("error", serr.Error()),
			)
			continue
		}
		report.Settled++
		r.outcomes.Add(1, observability.L("outcome", "settled"))
	}

	stale, err := s.repo.ListByStatus(ctx, domain.StatusPendingPayment, now.Add(-r.cfg.StaleAfter))
	if err != nil {
		call.Fail("LIST_PENDING_FAILED")
		return report, wrapRepositoryError(err)
	}
	for _, ord := range stale {
		if ctx.Err() != nil {
			break
		}
		report.Checked++
		outcome := r.settle(ctx, ord, now)
		switch outcome {
		case settleCaptured:
			report.Captured++
		case settleFailed:
			report.Failed++
		default:
			report.Skipped++
		}
		r.outcomes.Add(1, observability.L("outcome", outcome.String()))
	}

	open, err := s.ledger.OpenReservations(ctx, now.Add(-r.cfg.StaleAfter))
	if err != nil {
		call.Fail("OPEN_RESERVATIONS_FAILED")
		return report, err
	}
	for orderID, lines := range open {
		ord, gerr := s.repo.Get(ctx, orderID)
		switch {
		case errors.Is(gerr, domain.ErrNotFound):
		case gerr != nil:
			continue
		case !ord.Status.Terminal():
			continue
		}
		logger.Warn("reservation_leak",
			observability.F("order_id", orderID),
			observability.F("lines", lines),
		)
		if _, rerr := s.ledger.Release(ctx, orderID, lines, "reservation_leak"); rerr != nil {
			logger.Error("reservation_leak_release_failed",
				observability.F("order_id", orderID),
				observability.F("error", rerr.Error()),
			)
			continue
		}
		report.LeaksReleased++
		r.outcomes.Add(1, observability.L("outcome", "leak_released"))
	}
	return report, nil
}

type settleOutcome int

const (
	settleSkipped settleOutcome = iota
	settleCaptured
	settleFailed
)

func (o settleOutcome) String() string {
	switch o {
	case settleCaptured:
		return "captured"
	case settleFailed:
		return "failed"
	default:
		return "skipped"
	}
}

func (r *Reconciler) settle(ctx context.Context, ord *domain.Order, now time.Time) settleOutcome {
	s := r.orders
	logger := s.inst.Logger().With(observability.F("order_id", ord.ID))
	expired := now.Sub(ord.CreatedAt) > r.cfg.ExpireAfter

	rec, ok := ord.ActivePayment()
	if !ok || rec.IntentID == "" {
		if expired {
			return r.fail(ctx, ord, "", reasonPaymentTimeout)
		}
		return settleSkipped
	}

	intent, err := s.gateway.IntentStatus(ctx, rec.IntentID)
	if err != nil {
		if errors.Is(err, dompay.ErrNotFound) || (expired && !errors.Is(err, dompay.ErrUnavailable)) {
			return r.fail(ctx, ord, rec.IntentID, reasonPaymentTimeout)
		}
		logger.Warn("reconcile_status_unavailable", observability.F("error", err.Error()))
		return settleSkipped
	}

	switch intent.Status {
	case dompay.IntentApproved, dompay.IntentCompleted:
		if _, err := s.HandlePaymentCallback(ctx, rec.IntentID); err != nil {
			logger.Warn("reconcile_capture_failed", observability.F("error", err.Error()))
			return settleSkipped
		}
		return settleCaptured
	case dompay.IntentVoided:
		return r.fail(ctx, ord, rec.IntentID, "payment_voided")
	default:
		if expired {
			return r.fail(ctx, ord, rec.IntentID, reasonPaymentTimeout)
		}
		return settleSkipped
	}
}

func (r *Reconciler) fail(ctx context.Context, ord *domain.Order, intentID, reason string) settleOutcome {
	ctx, call := r.orders.inst.Start(ctx, "order.payment_expired", "ExpirePayment", attribute.String("order.id", ord.ID))
	_, err := r.orders.failPayment(ctx, ord.ID, intentID, reason, "reconciler")
	call.Field("reason", reason)
	call.End(err)
	if err != nil && !errors.Is(err, ErrSettlementPending) {
		return settleSkipped
	}
	return settleFailed
}
