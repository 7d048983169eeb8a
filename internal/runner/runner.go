// Package runner executes one scrape job: fetch, parse, extract, and record
// the outcome on the job's lifecycle.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapejobs/internal/clock/system"
	"github.com/JakeFAU/scrapejobs/internal/extract"
	"github.com/JakeFAU/scrapejobs/internal/id/uuid"
	"github.com/JakeFAU/scrapejobs/internal/metrics"
	"github.com/JakeFAU/scrapejobs/internal/scraper"
	"github.com/JakeFAU/scrapejobs/internal/selector"
)

var tracer = otel.Tracer("github.com/JakeFAU/scrapejobs/internal/runner")

// Persister receives the lifecycle writes of a run.
type Persister interface {
	UpdateJobStatus(ctx context.Context, update scraper.StatusUpdate) error
	RecordResult(ctx context.Context, result scraper.ResultRecord) error
}

// Config controls Runner behavior.
type Config struct {
	FetchTimeout   time.Duration
	PersistTimeout time.Duration
	ArchivePrefix  string
	ContentType    string
	Topic          string
}

// Runner executes jobs. It holds no per-run state, so one Runner serves
// concurrent runs of distinct jobs.
type Runner struct {
	store     Persister
	fetcher   scraper.Fetcher
	clock     scraper.Clock
	idGen     scraper.IDGenerator
	limiter   scraper.Limiter
	blobStore scraper.BlobStore
	hasher    scraper.Hasher
	publisher scraper.Publisher
	tracker   *Tracker
	cfg       Config
	logger    *zap.Logger
}

// Option configures optional Runner collaborators.
type Option func(*Runner)

// WithLimiter throttles fetches per host.
func WithLimiter(l scraper.Limiter) Option {
	return func(r *Runner) { r.limiter = l }
}

// WithArchive stores each fetched page under a content hash.
func WithArchive(store scraper.BlobStore, hasher scraper.Hasher) Option {
	return func(r *Runner) {
		r.blobStore = store
		r.hasher = hasher
	}
}

// WithPublisher sends a notification when a run finishes.
func WithPublisher(p scraper.Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithTracker shares a cancellation tracker with other components.
func WithTracker(t *Tracker) Option {
	return func(r *Runner) { r.tracker = t }
}

// WithIDGenerator overrides result row ID generation.
func WithIDGenerator(g scraper.IDGenerator) Option {
	return func(r *Runner) { r.idGen = g }
}

// New constructs a Runner.
func New(
	store Persister,
	fetcher scraper.Fetcher,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Runner {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		store:   store,
		fetcher: fetcher,
		clock:   clock,
		idGen:   uuid.New(),
		tracker: NewTracker(),
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tracker returns the cancellation tracker used by this Runner.
func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

// Run executes job once and returns the envelope. Failures are reported in
// the envelope, never as a panic or error.
func (r *Runner) Run(ctx context.Context, job scraper.Job) scraper.ScrapeResult {
	ctx, span := tracer.Start(ctx, "runner.Run", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.url", job.URL),
	))
	defer span.End()

	logger := r.logger.With(zap.String("job_id", job.ID), zap.String("url", job.URL))
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	if err := r.store.UpdateJobStatus(ctx, scraper.StatusUpdate{
		JobID:     job.ID,
		Status:    scraper.JobStatusRunning,
		UpdatedAt: r.clock.Now(),
	}); err != nil {
		logger.Warn("mark job running failed", zap.Error(err))
		metrics.ObserveRun("rejected")
		span.SetStatus(codes.Error, err.Error())
		return scraper.FailureResult(job.URL, fmt.Errorf("start job: %w", err))
	}
	logger.Info("job running")

	runCtx, done := r.tracker.Begin(ctx, job.ID)
	defer done()

	page, records, err := r.scrape(runCtx, job)
	if err != nil {
		if errors.Is(context.Cause(runCtx), scraper.ErrRunCanceled) {
			err = scraper.ErrRunCanceled
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return r.fail(ctx, job, err, logger)
	}
	result := r.complete(ctx, job, page, records, logger)
	span.SetAttributes(attribute.Int("scrape.records", result.Count))
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}
	return result
}

func (r *Runner) scrape(
	ctx context.Context,
	job scraper.Job,
) (scraper.FetchResponse, []scraper.ExtractedRecord, error) {
	delay := job.Settings.DelayDuration()
	fetchCtx, cancel := context.WithTimeout(ctx, delay+r.cfg.FetchTimeout)
	defer cancel()

	if r.limiter != nil {
		if err := r.limiter.Wait(fetchCtx, job.URL); err != nil {
			return scraper.FetchResponse{}, nil, &scraper.FetchError{URL: job.URL, Err: err}
		}
	}
	page, err := r.fetcher.Fetch(fetchCtx, scraper.FetchRequest{
		JobID:   job.ID,
		URL:     job.URL,
		Delay:   delay,
		Headers: scraper.BrowserHeaders(),
	})
	if err != nil {
		return page, nil, err
	}
	metrics.ObserveFetch(job.URL, page.Duration, len(page.Body))

	doc, err := selector.ParseBytes(page.Body)
	if err != nil {
		return page, nil, err
	}
	return page, extract.Extract(doc, job.Selectors, job.Settings, job.URL), nil
}

func (r *Runner) fail(ctx context.Context, job scraper.Job, runErr error, logger *zap.Logger) scraper.ScrapeResult {
	result := scraper.FailureResult(job.URL, runErr)
	logger.Warn("job failed", zap.Error(runErr))

	persistCtx, cancel := r.persistContext(ctx)
	defer cancel()
	if err := r.store.UpdateJobStatus(persistCtx, scraper.StatusUpdate{
		JobID:     job.ID,
		Status:    scraper.JobStatusFailed,
		Data:      errorPayload(result.Error),
		UpdatedAt: r.clock.Now(),
	}); err != nil {
		metrics.ObservePersistFailure("failed")
		logger.Error("persist failed status", zap.Error(err))
	}
	metrics.ObserveRun(string(scraper.JobStatusFailed))
	r.notify(persistCtx, job, result, scraper.JobStatusFailed, logger)
	return result
}

func (r *Runner) complete(
	ctx context.Context,
	job scraper.Job,
	page scraper.FetchResponse,
	records []scraper.ExtractedRecord,
	logger *zap.Logger,
) scraper.ScrapeResult {
	now := r.clock.Now()
	result := scraper.SuccessResult(job.URL, records, now)
	data, err := json.Marshal(result.Data)
	if err != nil {
		return r.fail(ctx, job, fmt.Errorf("encode records: %w", err), logger)
	}

	persistCtx, cancel := r.persistContext(ctx)
	defer cancel()
	if err := r.store.UpdateJobStatus(persistCtx, scraper.StatusUpdate{
		JobID:       job.ID,
		Status:      scraper.JobStatusCompleted,
		Data:        data,
		UpdatedAt:   now,
		CompletedAt: &now,
	}); err != nil {
		metrics.ObservePersistFailure("completed")
		logger.Error("persist completed status", zap.Error(err))
		return r.fail(ctx, job, fmt.Errorf("persist results: %w", err), logger)
	}

	hash, blobURI := r.archive(persistCtx, job, page, logger)
	r.recordResult(persistCtx, job, result, hash, blobURI, now, logger)

	metrics.ObserveRun(string(scraper.JobStatusCompleted))
	metrics.ObserveRecords(job.URL, result.Count)
	logger.Info("job completed", zap.Int("count", result.Count))
	r.notify(persistCtx, job, result, scraper.JobStatusCompleted, logger)
	return result
}

// recordResult writes the audit row. The job is already completed, so a
// failure here is logged rather than failing the run.
func (r *Runner) recordResult(
	ctx context.Context,
	job scraper.Job,
	result scraper.ScrapeResult,
	hash, blobURI string,
	at time.Time,
	logger *zap.Logger,
) {
	id, err := r.idGen.NewID()
	if err != nil {
		metrics.ObservePersistFailure("result")
		logger.Error("generate result id", zap.Error(err))
		return
	}
	if err := r.store.RecordResult(ctx, scraper.ResultRecord{
		ID:          id,
		JobID:       job.ID,
		UserID:      job.UserID,
		Data:        result.Data,
		RowCount:    result.Count,
		ContentHash: hash,
		BlobURI:     blobURI,
		CreatedAt:   at,
	}); err != nil {
		metrics.ObservePersistFailure("result")
		logger.Error("record result", zap.Error(err))
	}
}

func (r *Runner) archive(
	ctx context.Context,
	job scraper.Job,
	page scraper.FetchResponse,
	logger *zap.Logger,
) (string, string) {
	if r.blobStore == nil || r.hasher == nil || len(page.Body) == 0 {
		return "", ""
	}
	hash, err := r.hasher.Hash(page.Body)
	if err != nil {
		logger.Warn("hash page", zap.Error(err))
		return "", ""
	}
	uri, err := r.blobStore.PutObject(ctx, r.archivePath(job.ID, hash), r.cfg.ContentType, bytes.NewReader(page.Body))
	if err != nil {
		logger.Warn("archive page", zap.Error(err))
		return hash, ""
	}
	logger.Debug("page archived", zap.String("blob_uri", uri))
	return hash, uri
}

func (r *Runner) archivePath(jobID, hash string) string {
	prefix := strings.Trim(r.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

// Notification is the payload published when a run finishes.
type Notification struct {
	JobID     string    `json:"job_id"`
	UserID    string    `json:"user_id"`
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	Count     int       `json:"count"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (r *Runner) notify(
	ctx context.Context,
	job scraper.Job,
	result scraper.ScrapeResult,
	status scraper.JobStatus,
	logger *zap.Logger,
) {
	if r.publisher == nil || r.cfg.Topic == "" {
		return
	}
	msg := Notification{
		JobID:     job.ID,
		UserID:    job.UserID,
		URL:       job.URL,
		Status:    string(status),
		Count:     result.Count,
		Error:     result.Error,
		Timestamp: r.clock.Now(),
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.Topic, msg); err != nil {
		logger.Warn("publish run notification", zap.Error(err))
	}
}

// persistContext outlives cancellation of the run so terminal states are
// always written.
func (r *Runner) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PersistTimeout)
}

func errorPayload(msg string) json.RawMessage {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return json.RawMessage(`{"error":"unknown error"}`)
	}
	return data
}
