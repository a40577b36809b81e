package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/quote-configurator/internal/events"
)

const insertEventSQL = `
INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING occurred_at`

// EventStore persists domain events emitted by the bus.
type EventStore struct {
	DB DB
}

// InsertEvent implements events.EventStore.
func (s EventStore) InsertEvent(ctx context.Context, ev events.Event) (events.Event, error) {
	if s.DB == nil {
		return events.Event{}, errors.New("repo: database not configured")
	}
	if err := s.DB.QueryRow(ctx, insertEventSQL, ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt).Scan(&ev.OccurredAt); err != nil {
		return events.Event{}, fmt.Errorf("insert domain event: %w", translate(err))
	}
	return ev, nil
}
