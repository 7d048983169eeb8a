// Package dispatcher manages worker fan-out over the run queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
	"github.com/JakeFAU/scrapejobs/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   scraper.Queue
	workers []*worker.Worker
	clock   scraper.Clock
}

// New creates a Dispatcher.
func New(queue scraper.Queue, workers []*worker.Worker, clock scraper.Clock) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		clock:   clock,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit queues a first-attempt run of job on behalf of its owner.
func (d *Dispatcher) Submit(ctx context.Context, job scraper.Job) (scraper.QueueItem, error) {
	submitted := time.Now().UTC()
	if d.clock != nil {
		submitted = d.clock.Now()
	}
	item := scraper.QueueItem{
		JobID:     job.ID,
		UserID:    job.UserID,
		Attempt:   1,
		Submitted: submitted,
	}
	if err := d.Enqueue(ctx, item); err != nil {
		return scraper.QueueItem{}, err
	}
	return item, nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item scraper.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
