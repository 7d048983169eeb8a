package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
	"github.com/JakeFAU/scrapejobs/internal/selector"
)

type jobRequest struct {
	Name      string                 `json:"name"`
	URL       string                 `json:"url"`
	Selectors scraper.SelectorConfig `json:"selectors"`
	Settings  *scraper.RunSettings   `json:"settings,omitempty"`
}

func (req jobRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name is required")
	}
	if err := validateURL(req.URL); err != nil {
		return err
	}
	for role, sel := range req.Selectors.Selectors() {
		if err := selector.Validate(sel); err != nil {
			return fmt.Errorf("selectors.%s: %w", role, err)
		}
	}
	if req.Settings != nil {
		if req.Settings.Delay < 0 {
			return errors.New("settings.delay must not be negative")
		}
		if req.Settings.Delay > scraper.MaxDelayMillis {
			return fmt.Errorf("settings.delay must not exceed %d ms", scraper.MaxDelayMillis)
		}
		if req.Settings.MaxPages < 0 {
			return errors.New("settings.maxPages must not be negative")
		}
	}
	return nil
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("url %q must be an absolute http(s) URL", raw)
	}
	return nil
}

type jobList struct {
	Jobs  []scraper.Job `json:"jobs"`
	Count int           `json:"count"`
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Store.ListJobs(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.writeStoreError(w, r, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []scraper.Job{}
	}
	writeJSON(w, http.StatusOK, jobList{Jobs: jobs, Count: len(jobs)})
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settings := scraper.DefaultRunSettings()
	if req.Settings != nil {
		settings = req.Settings.Normalize()
	}
	job, err := s.newJob(ownerFrom(r.Context()), req.Name, req.URL, req.Selectors, settings)
	if err != nil {
		s.writeStoreError(w, r, "create job", err)
		return
	}
	if err := s.deps.Store.CreateJob(r.Context(), job); err != nil {
		s.writeStoreError(w, r, "create job", err)
		return
	}
	s.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("user_id", job.UserID),
		zap.String("url", job.URL),
	)
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) newJob(
	owner, name, rawURL string,
	selectors scraper.SelectorConfig,
	settings scraper.RunSettings,
) (scraper.Job, error) {
	id, err := s.deps.IDGen.NewID()
	if err != nil {
		return scraper.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	now := s.deps.Clock.Now()
	return scraper.Job{
		ID:        id,
		UserID:    owner,
		Name:      strings.TrimSpace(name),
		URL:       strings.TrimSpace(rawURL),
		Selectors: selectors,
		Settings:  settings,
		Status:    scraper.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) updateJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	var req jobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job.Name = strings.TrimSpace(req.Name)
	job.URL = strings.TrimSpace(req.URL)
	job.Selectors = req.Selectors
	if req.Settings != nil {
		job.Settings = req.Settings.Normalize()
	}
	job.UpdatedAt = s.deps.Clock.Now()
	if err := s.deps.Store.UpdateJob(r.Context(), job); err != nil {
		s.writeStoreError(w, r, "update job", err)
		return
	}
	updated, err := s.deps.Store.GetJob(r.Context(), job.ID)
	if err != nil {
		s.writeStoreError(w, r, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteJob(r.Context(), job.ID); err != nil {
		s.writeStoreError(w, r, "delete job", err)
		return
	}
	s.logger.Info("job deleted", zap.String("job_id", job.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	if err := scraper.CanStart(job.Status, s.opts.AllowRerun); err != nil {
		s.writeStoreError(w, r, "run job", err)
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		s.submitJob(w, r, job)
		return
	}

	if job.Settings.DelayDuration() >= s.opts.RequestTimeout {
		writeError(w, http.StatusBadRequest,
			"settings.delay exceeds the request timeout, run the job with ?async=true")
		return
	}

	result := s.deps.Runner.Run(r.Context(), job)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request, job scraper.Job) {
	if s.deps.Submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "async runs are not enabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	item, err := s.deps.Submitter.Submit(ctx, job)
	if err != nil {
		s.logger.Error("submit job failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    item.JobID,
		"status":    "queued",
		"submitted": item.Submitted,
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	if s.deps.Canceler == nil || !s.deps.Canceler.Cancel(job.ID) {
		writeError(w, http.StatusConflict, "job has no run in progress on this instance")
		return
	}
	s.logger.Info("job cancel requested", zap.String("job_id", job.ID))
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "status": "canceling"})
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	results, err := s.deps.Store.ListResults(r.Context(), job.ID)
	if err != nil {
		s.writeStoreError(w, r, "list results", err)
		return
	}
	if results == nil {
		results = []scraper.ResultRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": job.ID, "results": results})
}

type jobStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Store.ListJobs(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.writeStoreError(w, r, "list jobs", err)
		return
	}
	var stats jobStats
	for _, job := range jobs {
		stats.Total++
		switch job.Status {
		case scraper.JobStatusPending:
			stats.Pending++
		case scraper.JobStatusRunning:
			stats.Running++
		case scraper.JobStatusCompleted:
			stats.Completed++
		case scraper.JobStatusFailed:
			stats.Failed++
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

// ownedJob loads the job named in the path. Jobs of other owners are reported
// as missing.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (scraper.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Store.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeStoreError(w, r, "get job", err)
		return scraper.Job{}, false
	}
	if job.UserID != ownerFrom(r.Context()) {
		writeError(w, http.StatusNotFound, scraper.ErrJobNotFound.Error())
		return scraper.Job{}, false
	}
	return job, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}
