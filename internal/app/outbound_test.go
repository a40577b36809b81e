package app_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/quote-configurator/internal/app"
	"github.com/noah-isme/quote-configurator/internal/config"
	"github.com/noah-isme/quote-configurator/internal/events"
	"github.com/noah-isme/quote-configurator/internal/resilience"
)

func TestOutboundUsesConfiguredPolicy(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":       "postgres://localhost/cfg",
		"REDIS_URL":          "redis://localhost:6379/0",
		"PRICING_BASE_URL":   "http://pricing",
		"CATALOG_BASE_URL":   "http://catalog",
		"OUTBOUND_TIMEOUT":   "2s",
		"RETRY_MAX_ATTEMPTS": "4",
	})
	require.NoError(t, err)

	pricing := app.Outbound(cfg, "pricing", zerolog.Nop())
	catalog := app.Outbound(cfg, "catalog", zerolog.Nop())

	require.Equal(t, 4, pricing.MaxAttempts)
	require.Equal(t, 2*time.Second, pricing.Timeout)
	require.NotNil(t, pricing.Client)
	require.Equal(t, resilience.Closed, pricing.Breaker.State())
	require.NotSame(t, pricing.Breaker, catalog.Breaker)
}

func TestEventBusAddsWebhookWhenConfigured(t *testing.T) {
	base := map[string]string{
		"DATABASE_URL":     "postgres://localhost/cfg",
		"REDIS_URL":        "redis://localhost:6379/0",
		"PRICING_BASE_URL": "http://pricing",
		"CATALOG_BASE_URL": "http://catalog",
	}
	cfg, err := config.LoadForTests(base)
	require.NoError(t, err)
	require.Len(t, app.EventBus(cfg, nil, zerolog.Nop()).Notifiers, 1)

	base["EVENTS_WEBHOOK_URL"] = "http://hooks.example/quotations"
	cfg, err = config.LoadForTests(base)
	require.NoError(t, err)
	bus := app.EventBus(cfg, nil, zerolog.Nop())
	require.Len(t, bus.Notifiers, 2)
	require.IsType(t, events.WebhookNotifier{}, bus.Notifiers[1])
}
