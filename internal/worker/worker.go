// Package worker drains the run queue and hands jobs to the runner.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
)

// JobLoader fetches the current job definition for a queued run.
type JobLoader interface {
	GetJob(ctx context.Context, jobID string) (scraper.Job, error)
}

// Runner executes a single job.
type Runner interface {
	Run(ctx context.Context, job scraper.Job) scraper.ScrapeResult
}

// Worker consumes queue items one at a time. Runs are single-attempt; a
// failed run is left in the failed state for the operator to rerun.
type Worker struct {
	id     int
	queue  scraper.Queue
	jobs   JobLoader
	runner Runner
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, queue scraper.Queue, jobs JobLoader, runner Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		jobs:   jobs,
		runner: runner,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until ctx finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, scraper.ErrQueueClosed) {
				w.logger.Info("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.Int("attempt", item.Attempt))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item scraper.QueueItem) {
	job, err := w.jobs.GetJob(ctx, item.JobID)
	if err != nil {
		if errors.Is(err, scraper.ErrJobNotFound) {
			w.logger.Warn("queued job no longer exists", zap.String("job_id", item.JobID))
			return
		}
		w.logger.Error("load queued job", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	if item.UserID != "" && job.UserID != item.UserID {
		w.logger.Warn("queued job owner mismatch",
			zap.String("job_id", item.JobID),
			zap.String("queued_user", item.UserID),
		)
		return
	}

	result := w.runner.Run(ctx, job)
	if result.Success {
		w.logger.Info("queued run completed", zap.String("job_id", job.ID), zap.Int("count", result.Count))
		return
	}
	w.logger.Warn("queued run failed", zap.String("job_id", job.ID), zap.String("error", result.Error))
}
