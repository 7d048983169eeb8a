// Package memory provides in-process stores for development and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
)

// JobStore keeps jobs and result rows in maps guarded by a mutex. It
// enforces the same lifecycle rules as the Postgres store.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]scraper.Job
	results map[string][]scraper.ResultRecord
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]scraper.Job),
		results: make(map[string][]scraper.ResultRecord),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job scraper.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return scraper.ErrJobExists
	}
	if job.Status == "" {
		job.Status = scraper.JobStatusPending
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.Job{}, scraper.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// ListJobs returns the jobs owned by userID, newest first.
func (s *JobStore) ListJobs(_ context.Context, userID string) ([]scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.Job, 0)
	for _, job := range s.jobs {
		if job.UserID == userID {
			out = append(out, cloneJob(job))
		}
	}
	slices.SortFunc(out, func(a, b scraper.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

// UpdateJob replaces the definition fields of a job that is not running.
func (s *JobStore) UpdateJob(_ context.Context, job scraper.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok {
		return scraper.ErrJobNotFound
	}
	if current.Status == scraper.JobStatusRunning {
		return scraper.ErrJobRunning
	}
	current.Name = job.Name
	current.URL = job.URL
	current.Selectors = job.Selectors
	current.Settings = job.Settings
	current.UpdatedAt = job.UpdatedAt
	s.jobs[job.ID] = current
	return nil
}

// DeleteJob removes a job that is not running, along with its results.
func (s *JobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.ErrJobNotFound
	}
	if job.Status == scraper.JobStatusRunning {
		return scraper.ErrJobRunning
	}
	delete(s.jobs, jobID)
	delete(s.results, jobID)
	return nil
}

// UpdateJobStatus applies a lifecycle transition.
func (s *JobStore) UpdateJobStatus(_ context.Context, update scraper.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[update.JobID]
	if !ok {
		return scraper.ErrJobNotFound
	}
	if err := scraper.CheckTransition(job.Status, update.Status); err != nil {
		return fmt.Errorf("job %s: %w", update.JobID, err)
	}
	job.Status = update.Status
	job.UpdatedAt = update.UpdatedAt
	if update.Data != nil {
		job.Data = append([]byte(nil), update.Data...)
	}
	if update.CompletedAt != nil {
		ts := *update.CompletedAt
		job.CompletedAt = &ts
	}
	s.jobs[update.JobID] = job
	return nil
}

// RecordResult appends a result row for a job.
func (s *JobStore) RecordResult(_ context.Context, result scraper.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[result.JobID]; !ok {
		return scraper.ErrJobNotFound
	}
	result.Data = slices.Clone(result.Data)
	s.results[result.JobID] = append(s.results[result.JobID], result)
	return nil
}

// ListResults returns the result rows recorded for a job, oldest first.
func (s *JobStore) ListResults(_ context.Context, jobID string) ([]scraper.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.ResultRecord, len(s.results[jobID]))
	copy(out, s.results[jobID])
	return out, nil
}

func cloneJob(job scraper.Job) scraper.Job {
	if job.Data != nil {
		job.Data = append([]byte(nil), job.Data...)
	}
	if job.CompletedAt != nil {
		ts := *job.CompletedAt
		job.CompletedAt = &ts
	}
	return job
}
