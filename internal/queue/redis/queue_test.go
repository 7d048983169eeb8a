package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
)

func newQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	q := New(client, Config{Key: "test:queue", PollTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = q.Close() })
	return q, srv
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q, srv := newQueue(t)
	ctx := context.Background()
	submitted := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, q.Enqueue(ctx, scraper.QueueItem{JobID: "first", UserID: "u1", Attempt: 1, Submitted: submitted}))
	require.NoError(t, q.Enqueue(ctx, scraper.QueueItem{JobID: "second", UserID: "u2", Attempt: 1, Submitted: submitted}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.True(t, srv.Exists("test:queue"))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "first", first.JobID)
	require.Equal(t, "u1", first.UserID)
	require.True(t, first.Submitted.Equal(submitted))

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", second.JobID)
}

func TestQueueDequeueHonorsContext(t *testing.T) {
	t.Parallel()

	q, _ := newQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueRejectsCorruptItem(t *testing.T) {
	t.Parallel()

	q, srv := newQueue(t)
	_, err := srv.Lpush("test:queue", "not-json")
	require.NoError(t, err)

	_, err = q.Dequeue(context.Background())
	require.ErrorContains(t, err, "decode queue item")
}

func TestQueuePing(t *testing.T) {
	t.Parallel()

	q, srv := newQueue(t)
	require.NoError(t, q.Ping(context.Background()))
	srv.Close()
	require.Error(t, q.Ping(context.Background()))
}
