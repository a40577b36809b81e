package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/quote-configurator/internal/resilience"
)

// ErrNotConfigured is returned when the Redis client is missing.
var ErrNotConfigured = errors.New("queue: redis client not configured")

// Task is one unit of background work.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	// Attempt is set on delivery, starting at 1.
	Attempt int
}

// keys names the Redis structures of one task kind.
type keys struct {
	prefix string
	kind   string
}

func (k keys) base() string {
	if k.prefix == "" {
		return "queue:" + k.kind
	}
	return k.prefix + ":queue:" + k.kind
}

func (k keys) ready() string      { return k.base() }
func (k keys) processing() string { return k.base() + ":processing" }
func (k keys) dead() string       { return k.base() + ":dlq" }
func (k keys) dedup(key string) string {
	return k.base() + ":dedup:" + key
}

// Enqueuer publishes tasks to Redis sorted sets scored by due time.
type Enqueuer struct {
	R           redis.UniversalClient
	Prefix      string
	DedupTTL    time.Duration
	MaxAttempts int
}

// Enqueue stores the task. A task whose idempotency key is already pending is
// dropped; the boolean reports whether the task was added.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) (bool, error) {
	if e.R == nil {
		return false, ErrNotConfigured
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return false, fmt.Errorf("queue: invalid task kind %q", t.Kind)
	}
	k := keys{prefix: e.Prefix, kind: kind}

	msg := envelope{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: firstPositive(t.MaxAttempts, e.MaxAttempts, 10),
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
		EnqueuedAt:  time.Now().UnixNano(),
	}
	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, k.dedup(msg.Key), "1", ttl).Result()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	if err := e.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: string(raw)}).Err(); err != nil {
		return false, err
	}
	if QueueDepth != nil {
		QueueDepth.WithLabelValues(kind).Inc()
	}
	return true, nil
}

// Worker consumes tasks of one kind. Claimed tasks sit in a processing set
// until acknowledged so that a crashed worker's tasks are redelivered after
// the visibility timeout.
type Worker struct {
	R                 redis.UniversalClient
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	Handler           func(context.Context, Task) error
	RetryBase         time.Duration
	RetryJitter       float64
	Logger            zerolog.Logger
}

// Run processes tasks until ctx is cancelled, then waits for in-flight
// handlers.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return ErrNotConfigured
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid worker kind %q", w.Kind)
	}
	k := keys{prefix: w.Prefix, kind: kind}
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	sem := make(chan struct{}, firstPositive(w.Concurrency, 1))
	var wg sync.WaitGroup
	defer wg.Wait()

	lastSweep := time.Time{}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(lastSweep) >= visibility/2 {
			if err := w.redeliverExpired(ctx, k); err != nil && ctx.Err() == nil {
				return err
			}
			lastSweep = time.Now()
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		raw, msg, ok, err := w.claim(ctx, k, visibility)
		if err != nil || !ok {
			<-sem
			if err != nil && ctx.Err() == nil {
				w.Logger.Warn().Err(err).Str("kind", kind).Msg("queue_claim_failed")
			}
			if !sleepCtx(ctx, poll) {
				return nil
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, k, raw, msg)
		}()
	}
}

// claim moves the earliest due task into the processing set. ZRem decides
// ownership when several workers race for the same member.
func (w Worker) claim(ctx context.Context, k keys, visibility time.Duration) (string, envelope, bool, error) {
	now := time.Now().UnixNano()
	due, err := w.R.ZRangeByScore(ctx, k.ready(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: 1,
	}).Result()
	if err != nil || len(due) == 0 {
		return "", envelope{}, false, err
	}
	member := due[0]
	removed, err := w.R.ZRem(ctx, k.ready(), member).Result()
	if err != nil || removed == 0 {
		return "", envelope{}, false, err
	}
	if QueueDepth != nil {
		QueueDepth.WithLabelValues(k.kind).Dec()
	}
	msg, err := decodeEnvelope(member)
	if err != nil {
		w.Logger.Error().Err(err).Str("kind", k.kind).Msg("queue_message_corrupt")
		return "", envelope{}, false, nil
	}
	msg.Attempt++
	encoded, err := json.Marshal(msg)
	if err != nil {
		return "", envelope{}, false, err
	}
	raw := string(encoded)
	deadline := time.Now().Add(visibility).UnixNano()
	if err := w.R.ZAdd(ctx, k.processing(), redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
		return "", envelope{}, false, err
	}
	return raw, msg, true, nil
}

func (w Worker) process(ctx context.Context, k keys, raw string, msg envelope) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// acknowledgement must survive worker shutdown
	ackCtx := context.WithoutCancel(ctx)

	err := w.Handler(jobCtx, Task{
		Kind:           k.kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
		Attempt:        msg.Attempt,
	})
	_ = w.R.ZRem(ackCtx, k.processing(), raw).Err()
	if err == nil {
		w.release(ackCtx, k, msg)
		countProcessed(k.kind, "ok")
		return
	}

	log := w.Logger.With().Str("kind", k.kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Logger()
	msg.LastError = err.Error()
	if msg.Attempt >= msg.MaxAttempts {
		encoded, mErr := json.Marshal(msg)
		if mErr == nil {
			_ = w.R.LPush(ackCtx, k.dead(), string(encoded)).Err()
		}
		w.release(ackCtx, k, msg)
		if QueueDLQSize != nil {
			QueueDLQSize.WithLabelValues(k.kind).Inc()
		}
		countProcessed(k.kind, "dead")
		log.Error().Err(err).Msg("queue_task_dead_lettered")
		return
	}

	delay := resilience.Backoff(firstDuration(w.RetryBase, 200*time.Millisecond), msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	encoded, mErr := json.Marshal(msg)
	if mErr != nil {
		return
	}
	if zErr := w.R.ZAdd(ackCtx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); zErr == nil && QueueDepth != nil {
		QueueDepth.WithLabelValues(k.kind).Inc()
	}
	countProcessed(k.kind, "retry")
	log.Warn().Err(err).Dur("retry_in", delay).Msg("queue_task_retry")
}

func (w Worker) release(ctx context.Context, k keys, msg envelope) {
	if msg.Key != "" {
		_ = w.R.Del(ctx, k.dedup(msg.Key)).Err()
	}
}

// redeliverExpired returns tasks whose visibility deadline passed to the
// ready set.
func (w Worker) redeliverExpired(ctx context.Context, k keys) error {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	expired, err := w.R.ZRangeByScore(ctx, k.processing(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range expired {
		removed, err := w.R.ZRem(ctx, k.processing(), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg, err := decodeEnvelope(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := w.R.ZAdd(ctx, k.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err(); err != nil {
			return err
		}
		w.Logger.Warn().Str("kind", k.kind).Str("key", msg.Key).Int("attempt", msg.Attempt).Msg("queue_task_redelivered")
	}
	return nil
}

type envelope struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
	EnqueuedAt  int64  `json:"enqueued_at"`
	LastError   string `json:"last_error,omitempty"`
}

func decodeEnvelope(raw string) (envelope, error) {
	var msg envelope
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return envelope{}, err
	}
	return msg, nil
}

func sanitizeKind(kind string) string {
	if kind == "" {
		return ""
	}
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return ""
		}
	}
	return kind
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstDuration(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
