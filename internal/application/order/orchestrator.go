package order

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	domcatalog "github.com/Zhima-Mochi/minishop-checkout/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability/logctx"
)

const (
	orderService       = "order-service"
	publishPeer        = "outbox"
	publishTimeout     = 300 * time.Millisecond
	defaultMaxConflict = 3

	useCaseSubmit   = "order.submit"
	useCaseCallback = "order.payment_callback"
	useCaseCancel   = "order.cancel"
	useCaseReturn   = "order.return"
	useCaseAdvance  = "order.advance"
)

// Config carries the pricing rules and retry budget of the orchestrator.
type Config struct {
	TaxRate  decimal.Decimal
	Shipping money.ShippingPolicy
	Currency string
	// MaxConflictRetries bounds reload-and-retry on optimistic lock conflicts.
	MaxConflictRetries int
	Provider           string
}

// Orchestrator drives an order through its lifecycle, keeping the stock
// ledger, the payment provider and the order record in step.
type Orchestrator struct {
	repo      domain.Repository
	numbers   domain.NumberGenerator
	ids       IDGenerator
	catalog   domcatalog.Repository
	ledger    StockLedger
	gateway   dompay.Gateway
	publisher domoutbox.Publisher
	cfg       Config

	inst         *application.Instrument
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
	transitions  observability.Counter
	now          func() time.Time
}

type Deps struct {
	Repo      domain.Repository
	Numbers   domain.NumberGenerator
	IDs       IDGenerator
	Catalog   domcatalog.Repository
	Ledger    StockLedger
	Gateway   dompay.Gateway
	Publisher domoutbox.Publisher
}

func NewOrchestrator(deps Deps, cfg Config, tel observability.Observability) *Orchestrator {
	if cfg.Shipping == nil {
		cfg.Shipping = money.FreeShipping()
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = defaultMaxConflict
	}
	if cfg.Provider == "" {
		cfg.Provider = "paypal"
	}
	metrics := observability.NopMetrics()
	if tel != nil {
		metrics = tel.Metrics()
	}
	return &Orchestrator{
		repo:         deps.Repo,
		numbers:      deps.Numbers,
		ids:          deps.IDs,
		catalog:      deps.Catalog,
		ledger:       deps.Ledger,
		gateway:      deps.Gateway,
		publisher:    deps.Publisher,
		cfg:          cfg,
		inst:         application.NewInstrument(tel, orderService),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
		transitions:  metrics.Counter(observability.MOrderTransitions),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type CartLine struct {
	ArticleRef string
	Quantity   int
	// UnitPrice and LineTotal are what the client displayed. They are never
	// used for pricing.
	UnitPrice *decimal.Decimal
	LineTotal *decimal.Decimal
}

type Cart struct {
	Lines            []CartLine
	ExpectedTotal    *decimal.Decimal
	PricesIncludeTax *bool
}

type SubmitOrderInput struct {
	Cart            Cart
	Buyer           domain.Buyer
	BillingAddress  domain.Address
	ShippingAddress domain.Address
	Actor           string
}

type SubmitOrderResult struct {
	Order       *domain.Order
	ApprovalURL string
}

// SubmitOrder validates and prices the cart, reserves every line, persists the
// order and opens a payment intent. When the provider cannot be reached the
// order stays pending_payment and is returned together with the error.
func (s *Orchestrator) SubmitOrder(ctx context.Context, in SubmitOrderInput) (_ *SubmitOrderResult, err error) {
	ctx, call := s.inst.Start(ctx, useCaseSubmit, "SubmitOrder",
		attribute.Int("order.line_count", len(in.Cart.Lines)),
	)
	defer func() { call.End(err) }()
	logger := call.Logger()

	quantities, verr := validateSubmit(in)
	if verr != nil {
		call.Fail("VALIDATION_FAILED")
		return nil, verr
	}

	refs := sortedRefs(quantities)
	articles, err := s.catalog.Lookup(ctx, refs...)
	if err != nil {
		call.Fail("CATALOG_LOOKUP_FAILED")
		return nil, fmt.Errorf("order: catalog lookup: %w", err)
	}

	lines := make([]domain.Line, 0, len(refs))
	priced := make([]money.Line, 0, len(refs))
	for _, ref := range refs {
		a, ok := articles[ref]
		if !ok || !a.Active {
			call.Fail("UNKNOWN_ARTICLE")
			return nil, newValidation("lines", "unknown article "+ref)
		}
		line, lerr := domain.NewLine(ref, domain.Snapshot{
			Name:        a.Name,
			Description: a.Description,
			Category:    a.Category,
			Weight:      a.Weight,
		}, quantities[ref], a.UnitPrice)
		if lerr != nil {
			call.Fail("LINE_INVALID")
			return nil, newValidation("lines", lerr.Error())
		}
		lines = append(lines, line)
		priced = append(priced, money.Line{UnitPrice: a.UnitPrice, Quantity: quantities[ref]})
	}
	s.warnOnClientPrices(logger, in.Cart.Lines, articles)

	breakdown, err := money.Resolve(priced, s.cfg.Shipping, s.cfg.TaxRate, in.Cart.PricesIncludeTax, in.Cart.ExpectedTotal)
	if err != nil {
		call.Fail("PRICING_FAILED")
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		call.Fail("CONTEXT_CANCELED")
		return nil, err
	}
	number, err := s.numbers.Next(ctx, s.now())
	if err != nil {
		call.Fail("ORDER_NUMBER_FAILED")
		return nil, fmt.Errorf("order: number: %w", err)
	}
	orderID := s.ids.NewID()
	call.Field("order_id", orderID)
	call.Span().SetAttributes(attribute.String("order.id", orderID))

	if _, err := s.ledger.Reserve(ctx, orderID, quantities); err != nil {
		var serr *dominv.InsufficientStockError
		if errors.As(err, &serr) {
			call.Fail("INSUFFICIENT_STOCK")
		} else {
			call.Fail("RESERVATION_FAILED")
		}
		return nil, err
	}

	// The reservation exists from here on; finish regardless of the caller.
	ctx = context.WithoutCancel(ctx)

	ord, err := domain.New(orderID, number, in.Buyer, in.BillingAddress, in.ShippingAddress, lines, breakdown, actorOr(in.Actor, "customer"))
	if err == nil {
		_, err = ord.Apply(domain.EventStockReserved, "system", "", s.now())
	}
	if err == nil {
		err = s.repo.Insert(ctx, ord)
	}
	if err != nil {
		call.Fail("ORDER_PERSIST_FAILED")
		if _, rerr := s.ledger.Release(ctx, orderID, quantities, "order persist failed"); rerr != nil {
			logger.Error("reservation_leak",
				observability.F("order_id", orderID),
				observability.F("error", rerr.Error()),
			)
		}
		return nil, wrapRepositoryError(err)
	}
	s.countTransition(domain.Transition{From: domain.StatusNew, To: ord.Status, Event: domain.EventStockReserved})
	s.publish(ctx, domain.NewOrderPlacedEvent(ord))

	intent, perr := s.gateway.CreateIntent(ctx, dompay.IntentRequest{
		OrderID:     ord.ID,
		OrderNumber: ord.Number,
		Amount:      ord.Pricing.GrandTotal,
		Currency:    s.cfg.Currency,
		Description: "Order " + ord.Number,
	})
	if perr != nil {
		if errors.Is(perr, dompay.ErrDeclined) {
			call.Fail("PAYMENT_DECLINED")
			failed, ferr := s.failPayment(ctx, ord.ID, "", perr.Error(), "gateway")
			if ferr != nil {
				logger.Error("payment_failure_not_recorded",
					observability.F("order_id", ord.ID),
					observability.F("error", ferr.Error()),
				)
			} else {
				ord = failed
			}
			return &SubmitOrderResult{Order: ord}, perr
		}
		call.Fail("PAYMENT_INTENT_FAILED")
		return &SubmitOrderResult{Order: ord}, perr
	}

	recorded, err := s.mutate(ctx, ord.ID, func(o *domain.Order) (bool, error) {
		if _, ok := o.PaymentByIntent(intent.ID); ok {
			return false, nil
		}
		o.AddPayment(dompay.Record{
			Provider:  s.cfg.Provider,
			IntentID:  intent.ID,
			Status:    dompay.StatusInitiated,
			Amount:    o.Pricing.GrandTotal,
			CreatedAt: s.now(),
		})
		return true, nil
	})
	if err != nil {
		// The intent exists at the provider but not on the order. The buyer
		// can still approve it; the callback then fails its lookup and the
		// reconciler expires the order.
		call.Fail("PAYMENT_RECORD_FAILED")
		logger.Error("payment_intent_orphaned",
			observability.F("order_id", ord.ID),
			observability.F("intent_id", intent.ID),
			observability.F("error", err.Error()),
		)
		return &SubmitOrderResult{Order: ord, ApprovalURL: intent.ApprovalURL}, err
	}
	ord = recorded

	call.Field("order_number", ord.Number)
	call.Span().SetAttributes(attribute.String("order.status", string(ord.Status)))
	call.Span().AddEvent("order.placed", trace.WithAttributes(attribute.String("order.id", ord.ID)))
	return &SubmitOrderResult{Order: ord, ApprovalURL: intent.ApprovalURL}, nil
}

func (s *Orchestrator) Get(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, newValidation("id", "required")
	}
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return o, nil
}

func (s *Orchestrator) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	if number == "" {
		return nil, newValidation("number", "required")
	}
	o, err := s.repo.GetByNumber(ctx, number)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return o, nil
}

func validateSubmit(in SubmitOrderInput) (map[string]int, error) {
	if len(in.Cart.Lines) == 0 {
		return nil, newValidation("lines", "cart is empty")
	}
	quantities := make(map[string]int, len(in.Cart.Lines))
	for _, l := range in.Cart.Lines {
		ref := strings.TrimSpace(l.ArticleRef)
		if ref == "" {
			return nil, newValidation("lines", "article ref is required")
		}
		if l.Quantity <= 0 {
			return nil, newValidation("lines", fmt.Sprintf("quantity for %s must be greater than zero", ref))
		}
		quantities[ref] += l.Quantity
	}
	if strings.TrimSpace(in.Buyer.Name) == "" {
		return nil, newValidation("buyer.name", "required")
	}
	if _, err := mail.ParseAddress(in.Buyer.Email); err != nil {
		return nil, newValidation("buyer.email", "invalid address")
	}
	if missing := in.BillingAddress.Missing(); len(missing) > 0 {
		return nil, newValidation("billing_address", "missing "+strings.Join(missing, ", "))
	}
	if !in.ShippingAddress.IsZero() {
		if missing := in.ShippingAddress.Missing(); len(missing) > 0 {
			return nil, newValidation("shipping_address", "missing "+strings.Join(missing, ", "))
		}
	}
	return quantities, nil
}

func (s *Orchestrator) warnOnClientPrices(logger observability.Logger, lines []CartLine, articles map[string]domcatalog.Article) {
	for _, l := range lines {
		a, ok := articles[strings.TrimSpace(l.ArticleRef)]
		if !ok || l.UnitPrice == nil || l.UnitPrice.Equal(a.UnitPrice) {
			continue
		}
		logger.Warn("client_price_ignored",
			observability.F("article_ref", a.Ref),
			observability.F("client_price", l.UnitPrice.String()),
			observability.F("catalog_price", a.UnitPrice.String()),
		)
	}
}

// publish is fire-and-forget: failures are logged and recorded on the span.
func (s *Orchestrator) publish(ctx context.Context, e domoutbox.Event) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	start := time.Now()
	outcome := "success"
	if err := s.publisher.Publish(pubCtx, e); err != nil {
		outcome = "error"
		trace.SpanFromContext(ctx).RecordError(err)
		logctx.FromOr(ctx, s.inst.Logger()).Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.F("error", err.Error()),
		)
	}
	s.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", e.EventName()),
		observability.L("outcome", outcome),
	)
	s.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", e.EventName()),
	)
}

func (s *Orchestrator) countTransition(tr domain.Transition) {
	s.transitions.Add(1,
		observability.L("event", string(tr.Event)),
		observability.L("from", string(tr.From)),
		observability.L("to", string(tr.To)),
	)
}

func sortedRefs(quantities map[string]int) []string {
	refs := make([]string, 0, len(quantities))
	for ref := range quantities {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

func actorOr(actor, fallback string) string {
	if actor == "" {
		return fallback
	}
	return actor
}
