package main

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/downloader"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/extractor"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/storage"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

const (
	jobLockTTL  = 30 * time.Minute
	jobCacheTTL = time.Hour
)

// JobRepository records job state transitions
type JobRepository interface {
	StartJob(ctx context.Context, id string, retryCount int) error
	UpdateProgress(ctx context.Context, id string, progress float64) error
	CompleteJob(ctx context.Context, id, objectKey string, fileSize int64, muxed bool) error
	FailJob(ctx context.Context, id, errorMsg string, final bool) error
}

// Fetcher downloads a request into a local file. Forget drops the live
// progress record once the job row holds the outcome.
type Fetcher interface {
	FetchToFile(ctx context.Context, downloadID string, req models.VideoRequest, dir string, onProgress func(float64)) (*downloader.FileResult, error)
	Forget(ctx context.Context, downloadID string)
}

// Uploader stores finished files
type Uploader interface {
	UploadFile(ctx context.Context, objectName, filePath string) (int64, error)
	Delete(ctx context.Context, objectName string) error
}

// Notifier tells callers about finished jobs
type Notifier interface {
	NotifyJobCompleted(ctx context.Context, job *models.DownloadJob) error
	NotifyJobFailed(ctx context.Context, job *models.DownloadJob) error
}

// JobCache shares job snapshots with the API and keeps two workers off the
// same job
type JobCache interface {
	SetJob(ctx context.Context, job *models.DownloadJob, ttl time.Duration) error
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource string) error
}

type processor struct {
	repo       JobRepository
	fetcher    Fetcher
	uploader   Uploader
	notifier   Notifier
	cache      JobCache // optional
	dir        string
	maxRetries int
	logger     *logging.Logger
	inProgress atomic.Int32
}

// handle runs one delivery of a job. A returned error hands the job back to
// the queue for a retry; permanent failures are recorded and acknowledged.
func (p *processor) handle(ctx context.Context, job *models.DownloadJob, retryCount int) error {
	log := p.logger.WithJobID(job.ID)

	if p.cache != nil {
		lock := "job:" + job.ID
		ok, err := p.cache.AcquireLock(ctx, lock, jobLockTTL)
		if err != nil {
			log.WithError(err).Warn("Failed to acquire job lock, processing anyway")
		} else if !ok {
			log.Warn("Job is held by another worker, skipping")
			return nil
		} else {
			defer func() {
				if err := p.cache.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
					log.WithError(err).Warn("Failed to release job lock")
				}
			}()
		}
	}

	p.inProgress.Add(1)
	defer p.inProgress.Add(-1)

	start := time.Now()
	if err := p.repo.StartJob(ctx, job.ID, retryCount); err != nil {
		return err
	}
	now := start.UTC()
	job.Status = models.JobStatusProcessing
	job.RetryCount = retryCount
	job.Progress = 0
	job.StartedAt = &now
	p.snapshot(ctx, job)
	p.logger.LogJobEvent(job.ID, "started", job.Status, map[string]interface{}{"retry_count": retryCount})

	onProgress := func(progress float64) {
		job.Progress = progress
		if err := p.repo.UpdateProgress(ctx, job.ID, progress); err != nil {
			log.WithError(err).Debug("Failed to record progress")
		}
		p.snapshot(ctx, job)
	}

	req := models.VideoRequest{URL: job.URL, Format: job.Format, Quality: job.Quality}
	res, err := p.fetcher.FetchToFile(ctx, job.ID, req, p.dir, onProgress)
	p.fetcher.Forget(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return p.fail(ctx, job, retryCount, err)
	}
	defer os.Remove(res.Path)

	key := storage.ObjectKey(job.ID, res.Plan.FileName())
	size, err := p.uploader.UploadFile(ctx, key, res.Path)
	if err != nil {
		return p.fail(ctx, job, retryCount, err)
	}

	if err := p.repo.CompleteJob(ctx, job.ID, key, size, res.Plan.Muxed()); err != nil {
		// the retry uploads again; an orphaned object would never be linked
		if derr := p.uploader.Delete(context.WithoutCancel(ctx), key); derr != nil {
			log.WithError(derr).Warn("Failed to remove unrecorded upload")
		}
		return err
	}
	done := time.Now().UTC()
	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.ObjectKey = key
	job.FileSize = size
	job.Muxed = res.Plan.Muxed()
	job.ErrorMsg = ""
	job.CompletedAt = &done
	p.snapshot(ctx, job)

	metrics.RecordJobCompleted(job.Status, time.Since(start).Seconds(), job.Format)
	p.logger.LogJobEvent(job.ID, "completed", job.Status, map[string]interface{}{
		"object_key": key,
		"file_size":  size,
		"muxed":      job.Muxed,
		"duration":   time.Since(start).String(),
	})

	if err := p.notifier.NotifyJobCompleted(ctx, job); err != nil {
		log.WithError(err).Warn("Completion webhook failed")
	}
	return nil
}

// fail records a failed attempt. The attempt is final when the error cannot
// succeed on retry or the retry budget is spent.
func (p *processor) fail(ctx context.Context, job *models.DownloadJob, retryCount int, cause error) error {
	permanent := isPermanent(cause)
	final := permanent || retryCount >= p.maxRetries

	if err := p.repo.FailJob(ctx, job.ID, cause.Error(), final); err != nil {
		p.logger.WithJobID(job.ID).WithError(err).Error("Failed to record job failure")
	}
	job.ErrorMsg = cause.Error()
	job.RetryCount = retryCount
	if final {
		job.Status = models.JobStatusFailed
	} else {
		job.Status = models.JobStatusQueued
	}
	p.snapshot(ctx, job)
	p.logger.LogJobEvent(job.ID, "failed", job.Status, map[string]interface{}{
		"error":       cause.Error(),
		"retry_count": retryCount,
		"final":       final,
	})

	if final {
		metrics.RecordJobCompleted(models.JobStatusFailed, 0, job.Format)
		if err := p.notifier.NotifyJobFailed(ctx, job); err != nil {
			p.logger.WithJobID(job.ID).WithError(err).Warn("Failure webhook failed")
		}
	}
	if permanent {
		return nil
	}
	return cause
}

func (p *processor) snapshot(ctx context.Context, job *models.DownloadJob) {
	if p.cache == nil {
		return
	}
	job.UpdatedAt = time.Now().UTC()
	if err := p.cache.SetJob(ctx, job, jobCacheTTL); err != nil {
		p.logger.WithJobID(job.ID).WithError(err).Debug("Failed to cache job snapshot")
	}
}

// isPermanent reports errors that no retry can fix
func isPermanent(err error) bool {
	var manual *downloader.ManualError
	switch {
	case errors.As(err, &manual):
		return true
	case errors.Is(err, downloader.ErrInvalidRequest),
		errors.Is(err, downloader.ErrNoFormats),
		errors.Is(err, extractor.ErrInvalidURL),
		errors.Is(err, extractor.ErrUnsupportedURL),
		errors.Is(err, extractor.ErrNotFound),
		errors.Is(err, extractor.ErrRestricted):
		return true
	}
	return false
}
