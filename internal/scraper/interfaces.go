package scraper

import (
	"context"
	"io"
	"time"
)

// JobStore persists job definitions and their lifecycle.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, userID string) ([]Job, error)
	UpdateJob(ctx context.Context, job Job) error
	DeleteJob(ctx context.Context, jobID string) error
	UpdateJobStatus(ctx context.Context, update StatusUpdate) error
}

// ResultStore keeps the per-run audit rows.
type ResultStore interface {
	RecordResult(ctx context.Context, result ResultRecord) error
	ListResults(ctx context.Context, jobID string) ([]ResultRecord, error)
}

// Store combines job and result persistence.
type Store interface {
	JobStore
	ResultStore
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher retrieves the markup for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Queue provides enqueue/dequeue semantics for asynchronous runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Limiter throttles fetches per target host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for archived pages.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and result IDs.
type IDGenerator interface {
	NewID() (string, error)
}
