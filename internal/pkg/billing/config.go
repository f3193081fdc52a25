package billing

import (
	"strings"
	"time"

	"github.com/ManuelReschke/SubLedger/app/models"
	"github.com/ManuelReschke/SubLedger/internal/pkg/env"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

const (
	DefaultHandlerTimeout    = 10 * time.Second
	DefaultSideEffectWorkers = 3
	DefaultSideEffectBuffer  = 256
)

// Config holds webhook processing settings
type Config struct {
	WebhookSecrets    []string
	StripeAPIKey      string
	HandlerTimeout    time.Duration
	DefaultCurrency   string
	SideEffectWorkers int
	SideEffectBuffer  int
}

// LoadConfig loads billing configuration from environment variables.
// STRIPE_WEBHOOK_SECRET may list several comma separated secrets.
func LoadConfig() Config {
	return Config{
		WebhookSecrets:    splitList(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		StripeAPIKey:      strings.TrimSpace(env.GetEnv("STRIPE_API_KEY", "")),
		HandlerTimeout:    env.GetEnvDuration("BILLING_HANDLER_TIMEOUT", DefaultHandlerTimeout),
		DefaultCurrency:   strings.ToLower(env.GetEnv("BILLING_DEFAULT_CURRENCY", models.DefaultCurrency)),
		SideEffectWorkers: env.GetEnvInt("BILLING_SIDE_EFFECT_WORKERS", DefaultSideEffectWorkers),
		SideEffectBuffer:  env.GetEnvInt("BILLING_SIDE_EFFECT_BUFFER", DefaultSideEffectBuffer),
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = models.DefaultCurrency
	}
	if c.SideEffectWorkers <= 0 {
		c.SideEffectWorkers = DefaultSideEffectWorkers
	}
	if c.SideEffectBuffer <= 0 {
		c.SideEffectBuffer = DefaultSideEffectBuffer
	}
	return c
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
