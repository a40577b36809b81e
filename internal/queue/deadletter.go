package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadTask is a task that exhausted its attempts.
type DeadTask struct {
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Payload        []byte    `json:"payload"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"lastError,omitempty"`
	EnqueuedAt     time.Time `json:"enqueuedAt"`
}

// DeadLetters inspects and replays the dead letter list of a kind.
type DeadLetters struct {
	R      redis.UniversalClient
	Prefix string
}

// List returns up to limit dead tasks, newest first.
func (d DeadLetters) List(ctx context.Context, kind string, limit int) ([]DeadTask, error) {
	if d.R == nil {
		return nil, ErrNotConfigured
	}
	k, err := d.keys(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	raws, err := d.R.LRange(ctx, k.dead(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadTask, 0, len(raws))
	for _, raw := range raws {
		msg, err := decodeEnvelope(raw)
		if err != nil {
			continue
		}
		out = append(out, DeadTask{
			Kind:           msg.Kind,
			IdempotencyKey: msg.Key,
			Payload:        msg.Payload,
			Attempts:       msg.Attempt,
			LastError:      msg.LastError,
			EnqueuedAt:     time.Unix(0, msg.EnqueuedAt).UTC(),
		})
	}
	return out, nil
}

// Replay moves up to limit of the oldest dead tasks back to the ready set
// with a fresh attempt budget and returns how many were moved.
func (d DeadLetters) Replay(ctx context.Context, kind string, limit int) (int, error) {
	if d.R == nil {
		return 0, ErrNotConfigured
	}
	k, err := d.keys(kind)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 50
	}
	moved := 0
	for moved < limit {
		raw, err := d.R.RPop(ctx, k.dead()).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return moved, err
		}
		msg, err := decodeEnvelope(raw)
		if err != nil {
			continue
		}
		msg.Attempt = 0
		msg.LastError = ""
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := d.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); err != nil {
			_ = d.R.RPush(ctx, k.dead(), raw).Err()
			return moved, err
		}
		moved++
		if QueueDLQSize != nil {
			QueueDLQSize.WithLabelValues(k.kind).Dec()
		}
		if QueueDepth != nil {
			QueueDepth.WithLabelValues(k.kind).Inc()
		}
	}
	return moved, nil
}

// Size reports the dead letter length of a kind.
func (d DeadLetters) Size(ctx context.Context, kind string) (int64, error) {
	if d.R == nil {
		return 0, ErrNotConfigured
	}
	k, err := d.keys(kind)
	if err != nil {
		return 0, err
	}
	return d.R.LLen(ctx, k.dead()).Result()
}

func (d DeadLetters) keys(kind string) (keys, error) {
	clean := sanitizeKind(kind)
	if clean == "" {
		return keys{}, fmt.Errorf("queue: invalid task kind %q", kind)
	}
	return keys{prefix: d.Prefix, kind: clean}, nil
}
