package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/quote-configurator/internal/queue"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnqueueDeliversPayload(t *testing.T) {
	client := newRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "test"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	added, err := enq.Enqueue(ctx, queue.Task{Kind: "design-upload", Payload: []byte("payload"), IdempotencyKey: "item-1"})
	require.NoError(t, err)
	require.True(t, added)

	processed := make(chan queue.Task, 1)
	worker := queue.Worker{
		R:                 client,
		Prefix:            "test",
		Kind:              "design-upload",
		VisibilityTimeout: time.Second,
		PollInterval:      10 * time.Millisecond,
		Handler: func(_ context.Context, task queue.Task) error {
			processed <- task
			return nil
		},
	}
	done := make(chan struct{})
	go func() {
		_ = worker.Run(ctx)
		close(done)
	}()

	select {
	case task := <-processed:
		require.Equal(t, []byte("payload"), task.Payload)
		require.Equal(t, "item-1", task.IdempotencyKey)
		require.Equal(t, 1, task.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for task")
	}
	cancel()
	<-done

	require.Eventually(t, func() bool {
		n, err := client.Exists(context.Background(), "test:queue:design-upload:dedup:item-1").Result()
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond, "dedup key released after ack")
}

func TestEnqueueDeduplicatesPendingKey(t *testing.T) {
	client := newRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "dedup", DedupTTL: time.Minute}
	ctx := context.Background()

	added, err := enq.Enqueue(ctx, queue.Task{Kind: "design-upload", Payload: []byte("a"), IdempotencyKey: "k"})
	require.NoError(t, err)
	require.True(t, added)
	added, err = enq.Enqueue(ctx, queue.Task{Kind: "design-upload", Payload: []byte("b"), IdempotencyKey: "k"})
	require.NoError(t, err)
	require.False(t, added)

	depth, err := client.ZCard(ctx, "dedup:queue:design-upload").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, depth)
}

func TestEnqueueRejectsInvalidKind(t *testing.T) {
	client := newRedis(t)
	_, err := queue.Enqueuer{R: client}.Enqueue(context.Background(), queue.Task{Kind: "Bad Kind"})
	require.Error(t, err)

	_, err = queue.Enqueuer{}.Enqueue(context.Background(), queue.Task{Kind: "ok"})
	require.ErrorIs(t, err, queue.ErrNotConfigured)
}

func TestWorkerRetriesFailedTask(t *testing.T) {
	client := newRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "retry"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := enq.Enqueue(ctx, queue.Task{Kind: "design-upload", Payload: []byte("retry"), IdempotencyKey: "r1", MaxAttempts: 3})
	require.NoError(t, err)

	var attempts atomic.Int32
	worker := queue.Worker{
		R:                 client,
		Prefix:            "retry",
		Kind:              "design-upload",
		VisibilityTimeout: time.Second,
		PollInterval:      5 * time.Millisecond,
		RetryBase:         5 * time.Millisecond,
		RetryJitter:       0.1,
		Handler: func(context.Context, queue.Task) error {
			if attempts.Add(1) == 1 {
				return errors.New("fail first")
			}
			cancel()
			return nil
		},
	}
	go func() { _ = worker.Run(ctx) }()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not retry in time")
	}
	require.GreaterOrEqual(t, attempts.Load(), int32(2))
}

func TestDelayedTaskWaitsUntilDue(t *testing.T) {
	client := newRedis(t)
	enq := queue.Enqueuer{R: client, Prefix: "delay"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	_, err := enq.Enqueue(ctx, queue.Task{Kind: "design-upload", Payload: []byte("later"), Delay: 150 * time.Millisecond})
	require.NoError(t, err)

	delivered := make(chan time.Time, 1)
	worker := queue.Worker{
		R:            client,
		Prefix:       "delay",
		Kind:         "design-upload",
		PollInterval: 10 * time.Millisecond,
		Handler: func(context.Context, queue.Task) error {
			delivered <- time.Now()
			return nil
		},
	}
	go func() { _ = worker.Run(ctx) }()

	select {
	case at := <-delivered:
		require.GreaterOrEqual(t, at.Sub(start), 150*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never delivered")
	}
}
