package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/noah-isme/quote-configurator/internal/events"
	"github.com/noah-isme/quote-configurator/internal/queue"
	"github.com/noah-isme/quote-configurator/internal/quote"
	"github.com/noah-isme/quote-configurator/internal/repo"
	"github.com/noah-isme/quote-configurator/internal/resilience"
)

// DesignStore records the uploaded URL on the persisted item.
type DesignStore interface {
	SetDesignImage(ctx context.Context, quotationID, itemID int64, url string) error
}

// Emitter is satisfied by *events.Bus.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Processor handles design-upload tasks.
type Processor struct {
	Uploader Uploader
	Store    DesignStore
	Events   Emitter
	Logger   zerolog.Logger
}

// Handle is the queue.Worker handler. Returning an error schedules a retry;
// on the final attempt a failure event is emitted before giving up.
func (p Processor) Handle(ctx context.Context, task queue.Task) error {
	var up quote.PendingUpload
	if err := json.Unmarshal(task.Payload, &up); err != nil {
		// unreadable payloads never succeed
		p.Logger.Error().Err(err).Str("key", task.IdempotencyKey).Msg("design_upload_payload_invalid")
		return nil
	}
	log := p.Logger.With().Int64("quotation_id", up.QuotationID).Int64("item_id", up.ItemID).Int("attempt", task.Attempt).Logger()

	url, err := p.Uploader.Upload(ctx, up)
	if err == nil {
		err = p.Store.SetDesignImage(ctx, up.QuotationID, up.ItemID, url)
	}
	if err != nil {
		if task.Attempt >= task.MaxAttempts || !retryable(err) {
			p.emit(ctx, events.TopicDesignUploadFailed, up, map[string]any{
				"quotationId": up.QuotationID,
				"itemId":      up.ItemID,
				"file":        up.LocalFile,
				"error":       err.Error(),
			})
			log.Error().Err(err).Msg("design_upload_failed")
			if !retryable(err) {
				return nil
			}
		}
		return fmt.Errorf("uploads: item %d: %w", up.ItemID, err)
	}

	p.emit(ctx, events.TopicDesignUploaded, up, map[string]any{
		"quotationId": up.QuotationID,
		"itemId":      up.ItemID,
		"url":         url,
	})
	log.Info().Str("url", url).Msg("design_uploaded")
	return nil
}

func (p Processor) emit(ctx context.Context, topic string, up quote.PendingUpload, payload map[string]any) {
	if p.Events == nil {
		return
	}
	if _, err := p.Events.Emit(ctx, topic, strconv.FormatInt(up.QuotationID, 10), payload); err != nil {
		p.Logger.Warn().Err(err).Str("topic", topic).Msg("design_upload_event_failed")
	}
}

// retryable reports whether another attempt could succeed. Client errors
// from the upload service and items deleted since the save are final.
func retryable(err error) bool {
	if errors.Is(err, repo.ErrItemMismatch) {
		return false
	}
	var status *resilience.StatusError
	if errors.As(err, &status) {
		return status.StatusCode >= 500 || status.StatusCode == 429
	}
	return true
}
