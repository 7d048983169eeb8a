package scraper

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// JobStatus enumerates lifecycle states.
type JobStatus string

// Job lifecycle states.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// DefaultDelay is applied when a job does not carry a positive delay.
const DefaultDelay = 1000 * time.Millisecond

// MaxDelayMillis bounds the pre-request delay a job may configure. It stays
// well below the default synchronous request timeout.
const MaxDelayMillis = 60_000

// SelectorConfig maps record roles to CSS selectors.
type SelectorConfig struct {
	Container   string `json:"container,omitempty"`
	Title       string `json:"title,omitempty"`
	Price       string `json:"price,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// Selectors returns the configured selectors keyed by role, container included.
func (c SelectorConfig) Selectors() map[string]string {
	out := make(map[string]string, 5)
	for role, sel := range map[string]string{
		"container":   c.Container,
		"title":       c.Title,
		"price":       c.Price,
		"description": c.Description,
		"image":       c.Image,
	} {
		if configured(sel) {
			out[role] = strings.TrimSpace(sel)
		}
	}
	return out
}

// HasContainer reports whether records are scoped to container elements.
func (c SelectorConfig) HasContainer() bool {
	return configured(c.Container)
}

func configured(sel string) bool {
	return strings.TrimSpace(sel) != ""
}

// RunSettings are the per-job runtime knobs.
type RunSettings struct {
	// Delay is the pre-request pause in milliseconds.
	Delay int `json:"delay"`
	// MaxPages is reserved; runs always fetch a single page.
	MaxPages      int  `json:"maxPages"`
	IncludeImages bool `json:"includeImages"`
}

// DefaultRunSettings mirrors the settings given to jobs created without any.
func DefaultRunSettings() RunSettings {
	return RunSettings{Delay: int(DefaultDelay / time.Millisecond), MaxPages: 1}
}

// DelayDuration converts Delay to a duration, treating non-positive values as the default.
func (s RunSettings) DelayDuration() time.Duration {
	if s.Delay <= 0 {
		return DefaultDelay
	}
	return time.Duration(s.Delay) * time.Millisecond
}

// Normalize fills zero values with defaults.
func (s RunSettings) Normalize() RunSettings {
	if s.Delay <= 0 {
		s.Delay = int(DefaultDelay / time.Millisecond)
	}
	if s.MaxPages <= 0 {
		s.MaxPages = 1
	}
	return s
}

// Job is a persisted scrape definition plus its run status.
type Job struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Name        string          `json:"name"`
	URL         string          `json:"url"`
	Selectors   SelectorConfig  `json:"selectors"`
	Settings    RunSettings     `json:"settings"`
	Status      JobStatus       `json:"status"`
	Data        json.RawMessage `json:"data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// StatusUpdate describes one lifecycle transition. A nil Data leaves the
// stored payload untouched.
type StatusUpdate struct {
	JobID       string
	Status      JobStatus
	Data        json.RawMessage
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// ResultRecord is the audit row written after each successful run.
type ResultRecord struct {
	ID          string            `json:"id"`
	JobID       string            `json:"job_id"`
	UserID      string            `json:"user_id"`
	Data        []ExtractedRecord `json:"data"`
	RowCount    int               `json:"row_count"`
	ContentHash string            `json:"content_hash,omitempty"`
	BlobURI     string            `json:"blob_uri,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// FetchRequest describes a single page retrieval.
type FetchRequest struct {
	JobID   string
	URL     string
	Delay   time.Duration
	Headers http.Header
}

// FetchResponse captures the retrieved markup and metadata.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// QueueItem wraps a job ready to run asynchronously.
type QueueItem struct {
	JobID     string    `json:"job_id"`
	UserID    string    `json:"user_id"`
	Attempt   int       `json:"attempt"`
	Submitted time.Time `json:"submitted"`
}
