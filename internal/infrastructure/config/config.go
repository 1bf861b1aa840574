package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	Env            string
	HTTPAddr       string
	LogLevel       string
	LogFile        string

	PostgresDSN  string
	KafkaBrokers []string
	KafkaTopic   string
	OTLPEndpoint string
	OTLPInsecure bool

	TaxRate          decimal.Decimal
	FreeShippingFrom decimal.Decimal
	ShippingFee      decimal.Decimal
	Currency         string

	PaymentCallTimeout  time.Duration
	PaymentMaxAttempts  int
	PaymentSettingsTTL  time.Duration
	ReconcileInterval   time.Duration
	ReconcileStaleAfter time.Duration
	ReconcileExpire     time.Duration
	ReconcileSettle     time.Duration
	ShutdownTimeout     time.Duration
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.Getenv)
}

// FromLookup builds a Config from an arbitrary key lookup.
func FromLookup(lookup func(string) string) (Config, error) {
	r := reader{lookup: lookup}
	cfg := Config{
		ServiceName:    r.str("SERVICE_NAME", "minishop-checkout"),
		ServiceVersion: r.str("SERVICE_VERSION", "dev"),
		Env:            r.str("APP_ENV", "local"),
		HTTPAddr:       r.str("HTTP_ADDR", ":8080"),
		LogLevel:       r.str("LOG_LEVEL", "info"),
		LogFile:        r.str("LOG_FILE", ""),

		PostgresDSN:  r.str("POSTGRES_DSN", ""),
		KafkaBrokers: r.list("KAFKA_BROKERS"),
		KafkaTopic:   r.str("KAFKA_TOPIC", "order-notifications"),
		OTLPEndpoint: r.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure: r.boolean("OTEL_EXPORTER_OTLP_INSECURE", false),

		TaxRate:          r.decimal("TAX_RATE", "0.19"),
		FreeShippingFrom: r.decimal("SHIPPING_FREE_FROM", "50"),
		ShippingFee:      r.decimal("SHIPPING_FLAT_FEE", "4.99"),
		Currency:         strings.ToUpper(r.str("CURRENCY", "EUR")),

		PaymentCallTimeout:  r.duration("PAYMENT_CALL_TIMEOUT", 20*time.Second),
		PaymentMaxAttempts:  r.integer("PAYMENT_MAX_ATTEMPTS", 3),
		PaymentSettingsTTL:  r.duration("PAYMENT_SETTINGS_TTL", time.Minute),
		ReconcileInterval:   r.duration("RECONCILE_INTERVAL", 5*time.Minute),
		ReconcileStaleAfter: r.duration("RECONCILE_STALE_AFTER", 15*time.Minute),
		ReconcileExpire:     r.duration("RECONCILE_EXPIRE_AFTER", 24*time.Hour),
		ReconcileSettle:     r.duration("RECONCILE_SETTLE_AFTER", time.Minute),
		ShutdownTimeout:     r.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if r.err != nil {
		return Config{}, r.err
	}
	if cfg.TaxRate.IsNegative() {
		return Config{}, fmt.Errorf("config: TAX_RATE must not be negative")
	}
	if cfg.PaymentMaxAttempts < 1 {
		return Config{}, fmt.Errorf("config: PAYMENT_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.ReconcileExpire <= cfg.ReconcileStaleAfter {
		return Config{}, fmt.Errorf("config: RECONCILE_EXPIRE_AFTER must exceed RECONCILE_STALE_AFTER")
	}
	return cfg, nil
}

// reader keeps the first parse error so Load can report it once.
type reader struct {
	lookup func(string) string
	err    error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(r.lookup(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) fail(key, raw string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("config: %s=%q: %w", key, raw, err)
	}
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(r.str(key, ""), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *reader) boolean(key string, def bool) bool {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(key, raw, err)
		return def
	}
	return v
}

func (r *reader) integer(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(key, raw, err)
		return def
	}
	return v
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, raw, err)
		return def
	}
	return v
}

func (r *reader) decimal(key, def string) decimal.Decimal {
	raw := r.str(key, def)
	v, err := decimal.NewFromString(raw)
	if err != nil {
		r.fail(key, raw, err)
		return decimal.Zero
	}
	return v
}
