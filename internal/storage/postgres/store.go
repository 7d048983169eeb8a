// Package postgres persists jobs and run results in Postgres via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
)

// pgErrForeignKeyViolation is the SQLSTATE for a missing parent row.
const pgErrForeignKeyViolation = "23503"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool used by Store; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements scraper.Store on the scraping_jobs and scraping_results
// tables. Lifecycle transitions are guarded in the UPDATE itself so two
// processes cannot both move a job to running.
type Store struct {
	pool pool
}

// NewStore connects a pool using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewStoreWithPool wraps an existing pool (primarily for testing).
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const jobColumns = `id, user_id, name, url, selectors, settings, status, data, created_at, updated_at, completed_at`

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, job scraper.Job) error {
	selectors, settings, err := encodeDefinition(job)
	if err != nil {
		return err
	}
	if job.Status == "" {
		job.Status = scraper.JobStatusPending
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO scraping_jobs (`+jobColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING`,
		job.ID,
		job.UserID,
		job.Name,
		job.URL,
		selectors,
		settings,
		string(job.Status),
		nullableJSON(job.Data),
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrJobExists
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (scraper.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scraping_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.Job{}, scraper.ErrJobNotFound
	}
	if err != nil {
		return scraper.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns the jobs owned by userID, newest first.
func (s *Store) ListJobs(ctx context.Context, userID string) ([]scraper.Job, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+jobColumns+`
FROM scraping_jobs
WHERE user_id = $1
ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]scraper.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJob replaces the definition fields of a job that is not running.
func (s *Store) UpdateJob(ctx context.Context, job scraper.Job) error {
	selectors, settings, err := encodeDefinition(job)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE scraping_jobs
SET name = $2, url = $3, selectors = $4, settings = $5, updated_at = $6
WHERE id = $1 AND status <> 'running'`,
		job.ID, job.Name, job.URL, selectors, settings, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainRefusal(ctx, job.ID)
	}
	return nil
}

// DeleteJob removes a job that is not running. Result rows cascade.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scraping_jobs WHERE id = $1 AND status <> 'running'`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainRefusal(ctx, jobID)
	}
	return nil
}

// UpdateJobStatus applies a lifecycle transition. The WHERE clause only
// matches rows whose current status may legally move to update.Status.
func (s *Store) UpdateJobStatus(ctx context.Context, update scraper.StatusUpdate) error {
	from := allowedFrom(update.Status)
	if len(from) == 0 {
		return fmt.Errorf("job %s: %w: -> %q", update.JobID, scraper.ErrInvalidTransition, update.Status)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE scraping_jobs
SET status = $2,
	updated_at = $3,
	data = COALESCE($4, data),
	completed_at = COALESCE($5, completed_at)
WHERE id = $1 AND status = ANY($6)`,
		update.JobID,
		string(update.Status),
		update.UpdatedAt,
		nullableJSON(update.Data),
		update.CompletedAt,
		from,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	current, err := s.status(ctx, update.JobID)
	if err != nil {
		return err
	}
	if err := scraper.CheckTransition(current, update.Status); err != nil {
		return fmt.Errorf("job %s: %w", update.JobID, err)
	}
	// The row changed between the UPDATE and the re-read.
	return fmt.Errorf("job %s: %w: concurrent update", update.JobID, scraper.ErrInvalidTransition)
}

// RecordResult appends an audit row for a completed run.
func (s *Store) RecordResult(ctx context.Context, result scraper.ResultRecord) error {
	records := result.Data
	if records == nil {
		records = []scraper.ExtractedRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal result data: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO scraping_results (id, job_id, user_id, data, row_count, content_hash, blob_uri, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		result.ID,
		result.JobID,
		result.UserID,
		data,
		result.RowCount,
		result.ContentHash,
		result.BlobURI,
		result.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrForeignKeyViolation {
			return scraper.ErrJobNotFound
		}
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ListResults returns the audit rows of a job, oldest first.
func (s *Store) ListResults(ctx context.Context, jobID string) ([]scraper.ResultRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, job_id, user_id, data, row_count, content_hash, blob_uri, created_at
FROM scraping_results
WHERE job_id = $1
ORDER BY created_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	results := make([]scraper.ResultRecord, 0)
	for rows.Next() {
		var (
			rec  scraper.ResultRecord
			data []byte
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.JobID,
			&rec.UserID,
			&data,
			&rec.RowCount,
			&rec.ContentHash,
			&rec.BlobURI,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return nil, fmt.Errorf("decode result data: %w", err)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

func (s *Store) status(ctx context.Context, jobID string) (scraper.JobStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM scraping_jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", scraper.ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read job status: %w", err)
	}
	return scraper.JobStatus(status), nil
}

// explainRefusal maps a guarded write that touched no rows to the reason.
func (s *Store) explainRefusal(ctx context.Context, jobID string) error {
	status, err := s.status(ctx, jobID)
	if err != nil {
		return err
	}
	if status == scraper.JobStatusRunning {
		return scraper.ErrJobRunning
	}
	return fmt.Errorf("job %s: no rows changed in status %q", jobID, status)
}

// allowedFrom lists the statuses that may transition to "to".
func allowedFrom(to scraper.JobStatus) []string {
	out := make([]string, 0, 3)
	for _, from := range []scraper.JobStatus{
		scraper.JobStatusPending,
		scraper.JobStatusRunning,
		scraper.JobStatusCompleted,
		scraper.JobStatusFailed,
	} {
		if scraper.CheckTransition(from, to) == nil {
			out = append(out, string(from))
		}
	}
	return out
}

func scanJob(row pgx.Row) (scraper.Job, error) {
	var (
		job       scraper.Job
		status    string
		selectors []byte
		settings  []byte
		data      []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Name,
		&job.URL,
		&selectors,
		&settings,
		&status,
		&data,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		return scraper.Job{}, err
	}
	job.Status = scraper.JobStatus(status)
	if len(selectors) > 0 {
		if err := json.Unmarshal(selectors, &job.Selectors); err != nil {
			return scraper.Job{}, fmt.Errorf("decode selectors: %w", err)
		}
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &job.Settings); err != nil {
			return scraper.Job{}, fmt.Errorf("decode settings: %w", err)
		}
	}
	if len(data) > 0 {
		job.Data = json.RawMessage(data)
	}
	return job, nil
}

func encodeDefinition(job scraper.Job) ([]byte, []byte, error) {
	selectors, err := json.Marshal(job.Selectors)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal selectors: %w", err)
	}
	settings, err := json.Marshal(job.Settings)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal settings: %w", err)
	}
	return selectors, settings, nil
}

// nullableJSON maps an absent payload to SQL NULL.
func nullableJSON(data json.RawMessage) any {
	if data == nil {
		return nil
	}
	return []byte(data)
}
