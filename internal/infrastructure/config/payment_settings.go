package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
)

const (
	sandboxURL = "https://api-m.sandbox.paypal.com"
	liveURL    = "https://api-m.paypal.com"
)

// PaymentSettingsProvider resolves payment settings from the environment and
// an optional env file, re-reading them once the TTL has elapsed. Operators can
// switch mode or rotate credentials without a restart.
type PaymentSettingsProvider struct {
	envFile  string
	ttl      time.Duration
	currency string
	lookup   func(string) string
	now      func() time.Time

	mu       sync.Mutex
	cached   dompay.Settings
	loadedAt time.Time
	loaded   bool
}

func NewPaymentSettingsProvider(envFile string, ttl time.Duration, currency string) *PaymentSettingsProvider {
	return &PaymentSettingsProvider{
		envFile:  envFile,
		ttl:      ttl,
		currency: currency,
		lookup:   os.Getenv,
		now:      time.Now,
	}
}

func (p *PaymentSettingsProvider) PaymentSettings(ctx context.Context) (dompay.Settings, error) {
	if err := ctx.Err(); err != nil {
		return dompay.Settings{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded && p.now().Sub(p.loadedAt) < p.ttl {
		return p.cached, nil
	}
	s, err := p.read()
	if err != nil {
		return dompay.Settings{}, err
	}
	p.cached, p.loadedAt, p.loaded = s, p.now(), true
	return s, nil
}

// Refresh drops the cached settings so the next call re-reads them.
func (p *PaymentSettingsProvider) Refresh() {
	p.mu.Lock()
	p.loaded = false
	p.mu.Unlock()
}

func (p *PaymentSettingsProvider) read() (dompay.Settings, error) {
	file := map[string]string{}
	if p.envFile != "" {
		m, err := godotenv.Read(p.envFile)
		switch {
		case err == nil:
			file = m
		case !errors.Is(err, fs.ErrNotExist):
			return dompay.Settings{}, err
		}
	}
	get := func(key string) string {
		if v, ok := file[key]; ok && v != "" {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(p.lookup(key))
	}

	mode := dompay.Mode(strings.ToLower(get("PAYPAL_MODE")))
	if mode != dompay.ModeSandbox && mode != dompay.ModeLive {
		mode = dompay.ModeDisabled
	}
	s := dompay.Settings{
		Mode:         mode,
		ClientID:     get("PAYPAL_CLIENT_ID"),
		ClientSecret: get("PAYPAL_CLIENT_SECRET"),
		BaseURL:      get("PAYPAL_BASE_URL"),
		Currency:     p.currency,
		ReturnURL:    get("PAYPAL_RETURN_URL"),
		CancelURL:    get("PAYPAL_CANCEL_URL"),
	}
	if s.BaseURL == "" {
		switch mode {
		case dompay.ModeSandbox:
			s.BaseURL = sandboxURL
		case dompay.ModeLive:
			s.BaseURL = liveURL
		}
	}
	return s, nil
}
