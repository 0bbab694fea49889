package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/downloader"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/extractor"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/media"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/storage"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const (
	suggestionCheckURL    = "Check that the URL is complete and points to a single video."
	suggestionNotFound    = "The video could not be found. Check that it is public and still available."
	suggestionRestricted  = "This video is restricted. Try another video or use Extract Links to download it manually."
	suggestionRetry       = "The service is busy. Wait a moment and try again, or try a lower quality."
	suggestionManual      = "Download the streams below manually."
	suggestionUnknownTask = "This download is not tracked by the server."
)

// HealthCheck probes one backing service
type HealthCheck func(ctx context.Context) error

// API serves the download endpoints
type API struct {
	downloads  *downloader.Service
	extractors []string
	checks     map[string]HealthCheck
	jobs       JobStore
	publisher  JobPublisher
	files      FileLinker
	jobCache   JobCache
	logger     *logging.Logger
	started    time.Time
}

// respondError maps service errors onto status codes the client classifies:
// 400 client input, 404 missing, 429 and 503 retryable, 503 with
// suggestedAction manual for streams the server cannot deliver.
func (api *API) respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var manual *downloader.ManualError
	switch {
	case errors.As(err, &manual):
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Error:           manual.Reason,
			Suggestion:      suggestionManual,
			SuggestedAction: models.SuggestedActionManual,
			RequiresManual:  true,
			Instructions:    manual.Instructions,
		})
	case errors.Is(err, downloader.ErrInvalidRequest), errors.Is(err, extractor.ErrInvalidURL), errors.Is(err, extractor.ErrUnsupportedURL):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Suggestion: suggestionCheckURL})
	case errors.Is(err, downloader.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error(), Suggestion: suggestionUnknownTask})
	case errors.Is(err, extractor.ErrNotFound), errors.Is(err, downloader.ErrNoFormats):
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error(), Suggestion: suggestionNotFound})
	case errors.Is(err, extractor.ErrRestricted):
		c.JSON(http.StatusForbidden, models.ErrorResponse{Error: err.Error(), Suggestion: suggestionRestricted})
	case errors.Is(err, extractor.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, models.ErrorResponse{Error: "rate limit reached upstream", Suggestion: suggestionRetry, Retryable: true})
	case errors.Is(err, extractor.ErrUnavailable), errors.Is(err, downloader.ErrSourceFailed), errors.Is(err, media.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "media source temporarily unavailable", Suggestion: suggestionRetry, Retryable: true})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, models.ErrorResponse{Error: "request timed out", Suggestion: suggestionRetry, Retryable: true})
	default:
		metrics.RecordError("api", "internal")
		api.logger.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "internal server error"})
	}
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Suggestion: suggestionCheckURL})
}

// POST /download/metadata
func (api *API) getMetadata(c *gin.Context) {
	var req models.MetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := api.downloads.Metadata(c.Request.Context(), req)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// POST /download/extract-links
func (api *API) extractLinks(c *gin.Context) {
	var req models.ExtractLinksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := api.downloads.ExtractLinks(c.Request.Context(), req)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// POST /download/video streams the selected format, muxing when needed
func (api *API) downloadVideo(c *gin.Context) {
	var req models.VideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.URL == "" && req.DirectURL == "" {
		badRequest(c, errors.New("url is required"))
		return
	}

	ctx := c.Request.Context()
	plan, err := api.downloads.Plan(ctx, req)
	if err != nil {
		api.respondError(c, err)
		return
	}

	downloadID := c.GetHeader(models.HeaderDownloadID)
	if downloadID == "" {
		downloadID = api.downloads.NewDownloadID()
	}
	api.downloads.Begin(ctx, downloadID, plan)

	h := c.Writer.Header()
	h.Set(models.HeaderDownloadID, downloadID)
	h.Set(models.HeaderMuxed, strconv.FormatBool(plan.Muxed()))
	h.Set(models.HeaderVideoQuality, plan.VideoQuality())
	h.Set(models.HeaderAudioQuality, plan.AudioQuality())
	h.Set("Content-Type", plan.ContentType())
	h.Set("Content-Disposition", storage.ContentDisposition(plan.FileName()))
	c.Status(http.StatusOK)

	if _, err := api.downloads.Deliver(ctx, downloadID, plan, c.Writer); err != nil {
		if !c.Writer.Written() {
			h.Del("Content-Type")
			h.Del("Content-Disposition")
			api.respondError(c, err)
			return
		}
		// the body is partially sent; the client sees a truncated stream
		_ = c.Error(err)
		api.logger.WithDownloadID(downloadID).WithError(err).Warn("Delivery interrupted")
	}
}

// POST /download/status
func (api *API) downloadStatus(c *gin.Context) {
	var req models.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	record, err := api.downloads.Status(c.Request.Context(), req.DownloadID)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// GET /health
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := models.HealthResponse{
		Status:     "healthy",
		Version:    version,
		Uptime:     time.Since(api.started).Round(time.Second).String(),
		Extractors: api.extractors,
		Muxing:     api.downloads.CanMux(),
	}

	status := http.StatusOK
	if len(api.checks) > 0 {
		resp.Checks = make(map[string]string, len(api.checks))
		for name, check := range api.checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	c.JSON(status, resp)
}
