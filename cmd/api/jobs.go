package main

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/database"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/extractor"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/middleware"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

const jobCacheTTL = 10 * time.Minute

// JobStore persists download jobs
type JobStore interface {
	CreateJob(ctx context.Context, job *models.DownloadJob) error
	GetJob(ctx context.Context, id string) (*models.DownloadJob, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*models.DownloadJob, error)
	FailJob(ctx context.Context, id, errorMsg string, final bool) error
}

// JobPublisher hands jobs to the worker
type JobPublisher interface {
	PublishJob(ctx context.Context, job *models.DownloadJob) error
}

// FileLinker issues temporary links to finished artifacts
type FileLinker interface {
	PresignedURL(ctx context.Context, objectName, fileName string) (string, error)
}

// JobCache holds recent job snapshots written by the worker
type JobCache interface {
	GetJob(ctx context.Context, jobID string) (*models.DownloadJob, error)
	SetJob(ctx context.Context, job *models.DownloadJob, ttl time.Duration) error
}

// POST /download/jobs
func (api *API) createJob(c *gin.Context) {
	var req models.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := extractor.ParseURL(req.URL); err != nil {
		badRequest(c, err)
		return
	}
	if req.CallbackURL != "" {
		if _, err := extractor.ParseURL(req.CallbackURL); err != nil {
			badRequest(c, errors.New("invalid callbackUrl"))
			return
		}
	}

	now := time.Now().UTC()
	job := &models.DownloadJob{
		ID:          uuid.NewString(),
		URL:         strings.TrimSpace(req.URL),
		Format:      strings.ToLower(req.Format),
		Quality:     req.Quality,
		Status:      models.JobStatusQueued,
		CallbackURL: req.CallbackURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if job.Format == "" {
		job.Format = "mp4"
	}
	if job.Quality == "" {
		job.Quality = "best"
	}

	ctx := c.Request.Context()
	log := api.logger.WithJobID(job.ID)
	if clientID, ok := middleware.GetClientID(c); ok {
		log = log.WithField("client_id", clientID)
	}

	if err := api.jobs.CreateJob(ctx, job); err != nil {
		api.respondError(c, err)
		return
	}

	if err := api.publisher.PublishJob(ctx, job); err != nil {
		log.WithError(err).Error("Failed to queue job")
		if ferr := api.jobs.FailJob(ctx, job.ID, "failed to queue job", true); ferr != nil {
			log.WithError(ferr).Warn("Failed to mark unqueued job as failed")
		}
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Error:      "job queue temporarily unavailable",
			Suggestion: suggestionRetry,
			Retryable:  true,
		})
		return
	}

	metrics.RecordJobCreated(job.Format)
	api.logger.LogJobEvent(job.ID, "created", job.Status, map[string]interface{}{
		"format":  job.Format,
		"quality": job.Quality,
	})

	c.JSON(http.StatusAccepted, job)
}

// lookupJob prefers the worker's cached snapshot over the database row
func (api *API) lookupJob(ctx context.Context, id string) (*models.DownloadJob, error) {
	if api.jobCache != nil {
		job, err := api.jobCache.GetJob(ctx, id)
		if err != nil {
			api.logger.WithJobID(id).WithError(err).Warn("Job cache read failed")
		} else if job != nil {
			return job, nil
		}
	}

	job, err := api.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if api.jobCache != nil && job.IsTerminal() {
		_ = api.jobCache.SetJob(ctx, job, jobCacheTTL)
	}
	return job, nil
}

func (api *API) jobError(c *gin.Context, err error) {
	if errors.Is(err, database.ErrJobNotFound) {
		_ = c.Error(err)
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Job not found"})
		return
	}
	api.respondError(c, err)
}

// GET /download/jobs/:id
func (api *API) getJob(c *gin.Context) {
	job, err := api.lookupJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.jobError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// GET /download/jobs
func (api *API) listJobs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		badRequest(c, errors.New("limit must be between 1 and 100"))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		badRequest(c, errors.New("offset must not be negative"))
		return
	}

	jobs, err := api.jobs.ListJobs(c.Request.Context(), limit, offset)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"limit":  limit,
		"offset": offset,
	})
}

// GET /download/jobs/:id/file redirects to a presigned link
func (api *API) getJobFile(c *gin.Context) {
	if api.files == nil {
		c.JSON(http.StatusNotImplemented, models.ErrorResponse{Error: "object storage is not configured"})
		return
	}

	job, err := api.lookupJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.jobError(c, err)
		return
	}
	if job.Status != models.JobStatusCompleted || job.ObjectKey == "" {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:      "job is " + job.Status,
			Suggestion: "Poll the job until it completes.",
		})
		return
	}

	link, err := api.files.PresignedURL(c.Request.Context(), job.ObjectKey, path.Base(job.ObjectKey))
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.Redirect(http.StatusFound, link)
}
