package app

import (
	"github.com/rs/zerolog"

	"github.com/noah-isme/quote-configurator/internal/config"
	"github.com/noah-isme/quote-configurator/internal/obs"
	"github.com/noah-isme/quote-configurator/internal/resilience"
)

// Outbound builds the retrying, circuit-guarded client of one collaborator
// (catalog, pricing or upload). Each target gets its own breaker so that an
// unavailable pricing service does not block catalog reads.
func Outbound(cfg *config.Config, target string, logger zerolog.Logger) resilience.HTTPClient {
	breaker := resilience.NewBreaker(cfg.CircuitMinRequests, cfg.CircuitFailureRatio, cfg.CircuitOpenFor).
		WithTarget(target).
		WithLogger(logger)
	return resilience.HTTPClient{
		Client:      obs.NewHTTPClient(cfg.OutboundTimeout),
		Breaker:     breaker,
		BaseBackoff: cfg.RetryBaseBackoff,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      cfg.RetryJitter,
		Timeout:     cfg.OutboundTimeout,
	}
}
