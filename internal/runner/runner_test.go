package runner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapejobs/internal/hash/sha256"
	memorypublisher "github.com/JakeFAU/scrapejobs/internal/publisher/memory"
	"github.com/JakeFAU/scrapejobs/internal/scraper"
	memorystorage "github.com/JakeFAU/scrapejobs/internal/storage/memory"
)

const itemMarkup = `<div class="item"><h2 class="t">Widget</h2><span class="p">$9.99</span></div>`

func newJob(t *testing.T, store *memorystorage.JobStore) scraper.Job {
	t.Helper()
	job := scraper.Job{
		ID:        "job-1",
		UserID:    "user-1",
		Name:      "widgets",
		URL:       "https://shop.test/cat",
		Selectors: scraper.SelectorConfig{Container: ".item", Title: ".t", Price: ".p"},
		Settings:  scraper.RunSettings{Delay: 1},
		Status:    scraper.JobStatusPending,
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func TestRunCompletesJob(t *testing.T) {
	t.Parallel()

	store := memorystorage.NewJobStore()
	job := newJob(t, store)
	fetcher := &fakeFetcher{body: itemMarkup}
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	recorder := &recordingStore{Store: store}
	r := New(recorder, fetcher, clock, Config{}, zap.NewNop(), WithIDGenerator(&fakeIDGen{}))

	result := r.Run(context.Background(), job)

	require.True(t, result.Success)
	require.Equal(t, 1, result.Count)
	require.Equal(t, job.URL, result.URL)
	require.NotNil(t, result.ScrapedAt)
	require.Equal(t, "Widget", *result.Data[0].Title)
	require.Equal(t, "$9.99", *result.Data[0].Price)
	require.Equal(t, []scraper.JobStatus{scraper.JobStatusRunning, scraper.JobStatusCompleted}, recorder.statuses())

	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCompleted, stored.Status)
	require.JSONEq(t, `[{"title":"Widget","price":"$9.99"}]`, string(stored.Data))
	require.NotNil(t, stored.CompletedAt)
	require.True(t, stored.CompletedAt.Equal(clock.now))

	results, err := store.ListResults(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1, results[0].RowCount)
	require.Equal(t, "user-1", results[0].UserID)
	require.Equal(t, "id-1", results[0].ID)

	require.Equal(t, time.Millisecond, fetcher.lastRequest().Delay)
	require.Equal(t, scraper.BrowserUserAgent, fetcher.lastRequest().Headers.Get("User-Agent"))
	require.False(t, r.Tracker().Running(job.ID))
}

func TestRunFetchFailure(t *testing.T) {
	t.Parallel()

	store := memorystorage.NewJobStore()
	job := newJob(t, store)
	fetcher := &fakeFetcher{err: scraper.NewStatusError(job.URL, 404)}
	r := New(store, fetcher, nil, Config{}, zap.NewNop())

	result := r.Run(context.Background(), job)

	require.False(t, result.Success)
	require.Contains(t, result.Error, "404")
	require.NotNil(t, result.Data)
	require.Empty(t, result.Data)
	require.Zero(t, result.Count)
	require.Nil(t, result.ScrapedAt)

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"data":[]`)

	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusFailed, stored.Status)
	require.Nil(t, stored.CompletedAt)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(stored.Data, &payload))
	require.Contains(t, payload["error"], "404")

	results, err := store.ListResults(context.Background(), job.ID)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestRunRejectsJobAlreadyRunning(t *testing.T) {
	t.Parallel()

	store := memorystorage.NewJobStore()
	job := newJob(t, store)
	require.NoError(t, store.UpdateJobStatus(context.Background(), scraper.StatusUpdate{
		JobID: job.ID, Status: scraper.JobStatusRunning,
	}))
	fetcher := &fakeFetcher{body: itemMarkup}
	r := New(store, fetcher, nil, Config{}, zap.NewNop())

	result := r.Run(context.Background(), job)

	require.False(t, result.Success)
	require.Contains(t, result.Error, scraper.ErrJobRunning.Error())
	require.Zero(t, fetcher.calls())
	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusRunning, stored.Status)
}

func TestRunCanBeCanceled(t *testing.T) {
	t.Parallel()

	store := memorystorage.NewJobStore()
	job := newJob(t, store)
	fetcher := &fakeFetcher{block: true, started: make(chan struct{})}
	r := New(store, fetcher, nil, Config{FetchTimeout: time.Minute}, zap.NewNop())

	done := make(chan scraper.ScrapeResult, 1)
	go func() {
		done <- r.Run(context.Background(), job)
	}()

	select {
	case <-fetcher.started:
	case <-time.After(time.Second):
		t.Fatal("fetch never started")
	}
	require.True(t, r.Tracker().Running(job.ID))
	require.True(t, r.Tracker().Cancel(job.ID))

	var result scraper.ScrapeResult
	select {
	case result = <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop after cancel")
	}
	require.False(t, result.Success)
	require.Equal(t, scraper.ErrRunCanceled.Error(), result.Error)

	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusFailed, stored.Status)
	require.False(t, r.Tracker().Cancel(job.ID))
}

func TestRunTimesOut(t *testing.T) {
	t.Parallel()

	store := memorystorage.NewJobStore()
	job := newJob(t, store)
	fetcher := &fakeFetcher{block: true}
	r := New(store, fetcher, nil, Config{FetchTimeout: 20 * time.Millisecond}, zap.NewNop())

	result := r.Run(context.Background(), job)

	require.False(t, result.Success)
	require.Contains(t, result.Error, context.DeadlineExceeded.Error())
	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusFailed, stored.Status)
}

func TestRunArchivesAndNotifies(t *testing.T) {
	t.Parallel()

	store := memorystorage.NewJobStore()
	job := newJob(t, store)
	blobs := memorystorage.NewBlobStore()
	publisher := memorypublisher.New()
	hasher := sha256.New()
	r := New(store, &fakeFetcher{body: itemMarkup}, nil,
		Config{ArchivePrefix: "/pages/", Topic: "scrape-runs"}, zap.NewNop(),
		WithArchive(blobs, hasher),
		WithPublisher(publisher),
		WithLimiter(&fakeLimiter{}),
	)

	result := r.Run(context.Background(), job)
	require.True(t, result.Success)

	digest, err := hasher.Hash([]byte(itemMarkup))
	require.NoError(t, err)
	path := "pages/job-1/" + digest + ".html"
	content, ok := blobs.Object(path)
	require.True(t, ok)
	require.Equal(t, itemMarkup, string(content))

	results, err := store.ListResults(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, digest, results[0].ContentHash)
	require.Equal(t, "memory://"+path, results[0].BlobURI)

	messages := publisher.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "scrape-runs", messages[0].Topic)
	note, ok := messages[0].Payload.(Notification)
	require.True(t, ok)
	require.Equal(t, "completed", note.Status)
	require.Equal(t, 1, note.Count)
}

func TestRunLimiterFailureFailsJob(t *testing.T) {
	t.Parallel()

	store := memorystorage.NewJobStore()
	job := newJob(t, store)
	fetcher := &fakeFetcher{body: itemMarkup}
	r := New(store, fetcher, nil, Config{}, zap.NewNop(),
		WithLimiter(&fakeLimiter{err: errors.New("limiter closed")}))

	result := r.Run(context.Background(), job)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "limiter closed")
	require.Zero(t, fetcher.calls())
}

func TestRunResultFailureKeepsCompletion(t *testing.T) {
	t.Parallel()

	store := memorystorage.NewJobStore()
	job := newJob(t, store)
	recorder := &recordingStore{Store: store, resultErr: errors.New("results table missing")}
	r := New(recorder, &fakeFetcher{body: itemMarkup}, nil, Config{}, zap.NewNop())

	result := r.Run(context.Background(), job)
	require.True(t, result.Success)

	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCompleted, stored.Status)
}

func TestRunConcurrentJobsAreIndependent(t *testing.T) {
	t.Parallel()

	store := memorystorage.NewJobStore()
	r := New(store, &fakeFetcher{body: itemMarkup}, nil, Config{}, zap.NewNop())

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.CreateJob(context.Background(), scraper.Job{
			ID:        id,
			URL:       "https://shop.test/" + id,
			Selectors: scraper.SelectorConfig{Container: ".item", Title: ".t"},
			Settings:  scraper.RunSettings{Delay: 1},
		}))
		wg.Add(1)
		go func(jobID string) {
			defer wg.Done()
			job, err := store.GetJob(context.Background(), jobID)
			if err != nil {
				t.Errorf("get job: %v", err)
				return
			}
			if res := r.Run(context.Background(), job); !res.Success || !strings.HasSuffix(res.URL, jobID) {
				t.Errorf("unexpected result for %s: %+v", jobID, res)
			}
		}(id)
	}
	wg.Wait()
}

type fakeFetcher struct {
	mu      sync.Mutex
	body    string
	err     error
	block   bool
	started chan struct{}
	reqs    []scraper.FetchRequest
}

func (f *fakeFetcher) Fetch(ctx context.Context, req scraper.FetchRequest) (scraper.FetchResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.block {
		if f.started != nil {
			close(f.started)
		}
		<-ctx.Done()
		return scraper.FetchResponse{}, &scraper.FetchError{URL: req.URL, Err: ctx.Err()}
	}
	if f.err != nil {
		return scraper.FetchResponse{}, f.err
	}
	return scraper.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(f.body)}, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeFetcher) lastRequest() scraper.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type recordingStore struct {
	scraper.Store
	mu        sync.Mutex
	seen      []scraper.JobStatus
	resultErr error
}

func (s *recordingStore) UpdateJobStatus(ctx context.Context, update scraper.StatusUpdate) error {
	s.mu.Lock()
	s.seen = append(s.seen, update.Status)
	s.mu.Unlock()
	return s.Store.UpdateJobStatus(ctx, update)
}

func (s *recordingStore) RecordResult(ctx context.Context, result scraper.ResultRecord) error {
	if s.resultErr != nil {
		return s.resultErr
	}
	return s.Store.RecordResult(ctx, result)
}

func (s *recordingStore) statuses() []scraper.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scraper.JobStatus(nil), s.seen...)
}

type fakeLimiter struct {
	err error
}

func (l *fakeLimiter) Wait(context.Context, string) error {
	return l.err
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "id-" + string(rune('0'+g.n)), nil
}
