// Package redis implements the run queue on a Redis list so several
// processes can share one backlog.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
)

// DefaultKey is the list holding pending runs.
const DefaultKey = "scrapejobs:queue"

// Config tunes the Redis queue.
type Config struct {
	Key string
	// PollTimeout bounds each BRPOP so Dequeue notices context cancellation.
	PollTimeout time.Duration
}

// Queue pushes JSON-encoded items with LPUSH and pops with BRPOP (FIFO).
type Queue struct {
	client goredis.UniversalClient
	key    string
	poll   time.Duration
}

// New wraps an existing client.
func New(client goredis.UniversalClient, cfg Config) *Queue {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	return &Queue{client: client, key: cfg.Key, poll: cfg.PollTimeout}
}

// Enqueue appends item to the list.
func (q *Queue) Enqueue(ctx context.Context, item scraper.QueueItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Dequeue blocks until an item is available or ctx ends.
func (q *Queue) Dequeue(ctx context.Context) (scraper.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return scraper.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		res, err := q.client.BRPop(ctx, q.poll, q.key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return scraper.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctxErr)
			}
			return scraper.QueueItem{}, fmt.Errorf("redis brpop: %w", err)
		}
		// BRPOP replies with [key, value].
		if len(res) != 2 {
			return scraper.QueueItem{}, fmt.Errorf("redis brpop: unexpected reply length %d", len(res))
		}
		var item scraper.QueueItem
		if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
			return scraper.QueueItem{}, fmt.Errorf("decode queue item: %w", err)
		}
		return item, nil
	}
}

// Len reports the pending backlog.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return n, nil
}

// Ping checks connectivity for readiness probes.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (q *Queue) Close() error {
	return q.client.Close()
}
