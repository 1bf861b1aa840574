package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	appInventory "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	appOrder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	appPayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	domCatalog "github.com/Zhima-Mochi/minishop-checkout/internal/domain/catalog"
	domInventory "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/money"
	domOrder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/config"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/kafka"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/notification"
	infraObs "github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/paypal"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/http"
)

type stores struct {
	orders  domOrder.Repository
	numbers domOrder.NumberGenerator
	catalog domCatalog.Repository
	stock   domInventory.Store
	seed    bool
	close   func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	baseLogger := logging.MustNewLogger(logging.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := oteltrace.Setup(ctx, oteltrace.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		systemLogger.Fatal("tracing_setup_failed", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel := infraObs.NewPrometheus(oteltrace.New(cfg.ServiceName), zaplogger.Wrap(baseLogger), registry, "minishop")

	st, err := openStores(ctx, cfg, systemLogger)
	if err != nil {
		systemLogger.Fatal("store_open_failed", zap.Error(err))
	}
	defer st.close()

	bus := outbox.NewBus(tel.Logger(), outbox.Options{})

	ledger := appInventory.NewLedger(st.stock, bus, tel)
	if st.seed {
		seedDemoCatalog(ctx, st.catalog, ledger, systemLogger)
	}
	if err := ledger.VerifyAll(ctx); err != nil {
		systemLogger.Error("stock_ledger_drift", zap.Error(err))
	}

	settings := config.NewPaymentSettingsProvider(".env", cfg.PaymentSettingsTTL, cfg.Currency)
	payCfg := appPayment.DefaultConfig()
	payCfg.CallTimeout = cfg.PaymentCallTimeout
	payCfg.MaxAttempts = cfg.PaymentMaxAttempts
	gateway := appPayment.NewAdapter(paypal.NewClient(nil), settings, payCfg, tel)

	orders := appOrder.NewOrchestrator(appOrder.Deps{
		Repo:      st.orders,
		Numbers:   st.numbers,
		IDs:       id.Generator{},
		Catalog:   st.catalog,
		Ledger:    ledger,
		Gateway:   gateway,
		Publisher: bus,
	}, appOrder.Config{
		TaxRate:  cfg.TaxRate,
		Shipping: money.ThresholdShipping{FreeFrom: cfg.FreeShippingFrom, FlatFee: cfg.ShippingFee},
		Currency: cfg.Currency,
	}, tel)

	notifier, closeNotifier := newNotifier(cfg, tel, systemLogger)
	defer closeNotifier()
	notification.NewWorker(notifier, tel).Register(bus)
	bus.Start(ctx)

	reconciler := appOrder.NewReconciler(orders, appOrder.ReconcilerConfig{
		StaleAfter:  cfg.ReconcileStaleAfter,
		ExpireAfter: cfg.ReconcileExpire,
		SettleAfter: cfg.ReconcileSettle,
		Interval:    cfg.ReconcileInterval,
	})
	go reconciler.Start(ctx)

	handler := httppresentation.NewHandler(orders, ledger, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), tel)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		systemLogger.Info("http_server_start", zap.String("addr", server.Addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error", zap.Error(err))
	} else {
		systemLogger.Info("http_server_stopped")
	}
	bus.Stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		systemLogger.Error("tracing_shutdown_error", zap.Error(err))
	}
}

// openStores picks postgres when a DSN is configured and in-process stores otherwise.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (stores, error) {
	if cfg.PostgresDSN == "" {
		logger.Warn("using_in_memory_stores")
		return stores{
			orders:  memory.NewOrderRepository(),
			numbers: id.NewDailyNumbers(),
			catalog: memory.NewCatalogRepository(),
			stock:   memory.NewStockStore(),
			seed:    true,
			close:   func() {},
		}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return stores{}, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return stores{}, err
	}
	logger.Info("postgres_ready")
	return stores{
		orders:  postgres.NewOrderRepository(pool),
		numbers: postgres.NewNumberGenerator(pool),
		catalog: postgres.NewCatalogRepository(pool),
		stock:   postgres.NewStockStore(pool),
		close:   pool.Close,
	}, nil
}

func newNotifier(cfg config.Config, tel observability.Observability, logger *zap.Logger) (notification.Notifier, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("notifications_log_only")
		return notification.NewLogNotifier(tel.Logger()), func() {}
	}
	relay := kafka.NewRelay(kafka.NewWriter(kafka.Config{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		ClientID: cfg.ServiceName,
	}), cfg.KafkaTopic, tel)
	logger.Info("notifications_kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	return relay, func() {
		if err := relay.Close(); err != nil {
			logger.Error("kafka_close_error", zap.Error(err))
		}
	}
}

// seedDemoCatalog fills the in-memory stores so a fresh process can take orders.
func seedDemoCatalog(ctx context.Context, catalog domCatalog.Repository, ledger *appInventory.Ledger, logger *zap.Logger) {
	demo := []struct {
		article domCatalog.Article
		stock   int
	}{
		{domCatalog.Article{Ref: "SOAP-1", Name: "Olive soap", Category: "bath", Weight: decimal.RequireFromString("0.1"), UnitPrice: decimal.RequireFromString("9.99"), Active: true}, 10},
		{domCatalog.Article{Ref: "TOWEL-1", Name: "Linen towel", Category: "bath", Weight: decimal.RequireFromString("0.4"), UnitPrice: decimal.RequireFromString("24.50"), Active: true}, 5},
	}
	for _, d := range demo {
		if err := catalog.Upsert(ctx, d.article); err != nil {
			logger.Error("demo_seed_failed", zap.String("article", d.article.Ref), zap.Error(err))
			continue
		}
		if _, err := ledger.Restock(ctx, d.article.Ref, d.stock, "demo seed", "seed:"+d.article.Ref); err != nil {
			logger.Error("demo_seed_failed", zap.String("article", d.article.Ref), zap.Error(err))
		}
	}
}
