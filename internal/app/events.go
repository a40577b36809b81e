package app

import (
	"github.com/rs/zerolog"

	"github.com/noah-isme/quote-configurator/internal/config"
	"github.com/noah-isme/quote-configurator/internal/events"
	"github.com/noah-isme/quote-configurator/internal/repo"
)

// EventBus persists domain events in Postgres, logs them and, when
// EVENTS_WEBHOOK_URL is set, delivers them to the subscriber webhook.
func EventBus(cfg *config.Config, db repo.DB, logger zerolog.Logger) *events.Bus {
	notifiers := []events.Notifier{events.LogNotifier{Logger: logger}}
	if cfg.EventsWebhookURL != "" {
		notifiers = append(notifiers, events.WebhookNotifier{
			URL:    cfg.EventsWebhookURL,
			Secret: cfg.EventsWebhookSecret,
			Topics: cfg.EventsWebhookTopics,
			HTTP:   Outbound(cfg, "events-webhook", logger),
		})
	}
	return &events.Bus{
		Store:     repo.EventStore{DB: db},
		Notifiers: notifiers,
	}
}
