// Package uploads moves design files referenced by saved line items to the
// upload service in the background.
package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/quote-configurator/internal/queue"
	"github.com/noah-isme/quote-configurator/internal/quote"
)

// TaskKind is the queue kind carrying design uploads.
const TaskKind = "design-upload"

// Enqueuer is satisfied by queue.Enqueuer.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) (bool, error)
}

// Scheduler turns pending uploads into queue tasks.
type Scheduler struct {
	Queue       Enqueuer
	MaxAttempts int
}

// Schedule implements quote.UploadScheduler. Scheduling the same file for
// the same item twice while the first task is pending is a no-op.
func (s Scheduler) Schedule(ctx context.Context, up quote.PendingUpload) error {
	if s.Queue == nil {
		return errors.New("uploads: queue not configured")
	}
	if up.ItemID <= 0 || strings.TrimSpace(up.LocalFile) == "" {
		return fmt.Errorf("uploads: invalid pending upload for item %d", up.ItemID)
	}
	payload, err := json.Marshal(up)
	if err != nil {
		return err
	}
	_, err = s.Queue.Enqueue(ctx, queue.Task{
		Kind:           TaskKind,
		Payload:        payload,
		IdempotencyKey: fmt.Sprintf("%d:%d:%s", up.QuotationID, up.ItemID, up.LocalFile),
		MaxAttempts:    s.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("uploads: enqueue item %d: %w", up.ItemID, err)
	}
	return nil
}
