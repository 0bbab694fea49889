package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// ErrJobNotFound is returned for an unknown job id
var ErrJobNotFound = errors.New("job not found")

// Repository provides database operations
type Repository struct {
	db     *DB
	logger *logging.Logger
}

// NewRepository creates a new repository. A nil logger discards query logs.
func NewRepository(db *DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Repository{db: db, logger: logger}
}

const jobColumns = `id, url, format, quality, status, progress, error_msg, retry_count,
	object_key, file_size, muxed, callback_url, started_at, completed_at, created_at, updated_at`

func scanJob(row pgx.Row) (*models.DownloadJob, error) {
	var job models.DownloadJob
	err := row.Scan(
		&job.ID, &job.URL, &job.Format, &job.Quality, &job.Status, &job.Progress,
		&job.ErrorMsg, &job.RetryCount, &job.ObjectKey, &job.FileSize, &job.Muxed,
		&job.CallbackURL, &job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *Repository) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, ErrJobNotFound) {
		status = "error"
	} else {
		err = nil
	}
	elapsed := time.Since(start)
	metrics.RecordDatabaseOperation(operation, status, elapsed.Seconds())
	r.logger.LogDatabaseOperation(operation, elapsed, err)
}

// CreateJob inserts a queued job
func (r *Repository) CreateJob(ctx context.Context, job *models.DownloadJob) (err error) {
	defer func(start time.Time) { r.observe("create_job", start, err) }(time.Now())

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}

	query := `
		INSERT INTO download_jobs (id, url, format, quality, status, callback_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		job.ID, job.URL, job.Format, job.Quality, job.Status, job.CallbackURL,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID
func (r *Repository) GetJob(ctx context.Context, id string) (job *models.DownloadJob, err error) {
	defer func(start time.Time) { r.observe("get_job", start, err) }(time.Now())

	if _, parseErr := uuid.Parse(id); parseErr != nil {
		return nil, ErrJobNotFound
	}

	query := `SELECT ` + jobColumns + ` FROM download_jobs WHERE id = $1`

	job, err = scanJob(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListJobs retrieves jobs, newest first
func (r *Repository) ListJobs(ctx context.Context, limit, offset int) (jobs []*models.DownloadJob, err error) {
	defer func(start time.Time) { r.observe("list_jobs", start, err) }(time.Now())

	query := `SELECT ` + jobColumns + ` FROM download_jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// StartJob moves a job to processing and records the attempt number
func (r *Repository) StartJob(ctx context.Context, id string, retryCount int) (err error) {
	defer func(start time.Time) { r.observe("start_job", start, err) }(time.Now())

	query := `
		UPDATE download_jobs
		SET status = $2, retry_count = $3, error_msg = '', started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		WHERE id = $1
	`

	return r.execOne(ctx, query, id, models.JobStatusProcessing, retryCount)
}

// UpdateProgress records download progress in percent
func (r *Repository) UpdateProgress(ctx context.Context, id string, progress float64) (err error) {
	defer func(start time.Time) { r.observe("update_progress", start, err) }(time.Now())

	query := `UPDATE download_jobs SET progress = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, query, id, progress)
}

// CompleteJob records the stored artifact
func (r *Repository) CompleteJob(ctx context.Context, id, objectKey string, fileSize int64, muxed bool) (err error) {
	defer func(start time.Time) { r.observe("complete_job", start, err) }(time.Now())

	query := `
		UPDATE download_jobs
		SET status = $2, progress = 100, object_key = $3, file_size = $4, muxed = $5,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`

	return r.execOne(ctx, query, id, models.JobStatusCompleted, objectKey, fileSize, muxed)
}

// FailJob records an error. final marks the job failed; otherwise it goes
// back to queued for another attempt.
func (r *Repository) FailJob(ctx context.Context, id, errorMsg string, final bool) (err error) {
	defer func(start time.Time) { r.observe("fail_job", start, err) }(time.Now())

	status := models.JobStatusQueued
	if final {
		status = models.JobStatusFailed
	}

	query := `
		UPDATE download_jobs
		SET status = $2, error_msg = $3,
		    completed_at = CASE WHEN $2 = 'failed' THEN NOW() ELSE completed_at END,
		    updated_at = NOW()
		WHERE id = $1
	`

	return r.execOne(ctx, query, id, status, errorMsg)
}

func (r *Repository) execOne(ctx context.Context, query string, args ...interface{}) error {
	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}
