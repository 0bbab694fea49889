package main

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/middleware"
)

type routerConfig struct {
	limiter        *middleware.RateLimiter
	jwtSecret      string // empty leaves the job routes open
	quota          middleware.QuotaChecker
	jobQuota       int64
	jobQuotaWindow time.Duration
}

func setupRouter(api *API, rc routerConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Tracing(), middleware.Logger(api.logger))

	// Health check
	router.GET("/health", api.healthCheck)

	download := router.Group("/download")
	if rc.limiter != nil {
		download.Use(middleware.RateLimit(rc.limiter))
	}
	{
		download.POST("/metadata", api.getMetadata)
		download.POST("/video", api.downloadVideo)
		download.POST("/extract-links", api.extractLinks)
		download.POST("/status", api.downloadStatus)
	}

	if api.jobs == nil || api.publisher == nil {
		return router
	}

	jobs := download.Group("/jobs")
	if rc.jwtSecret != "" {
		jobs.Use(middleware.JWTAuth(rc.jwtSecret))
	}
	{
		create := []gin.HandlerFunc{}
		if rc.quota != nil && rc.jobQuota > 0 {
			create = append(create, middleware.QuotaLimit(rc.quota, rc.jobQuota, rc.jobQuotaWindow))
		}
		jobs.POST("", append(create, api.createJob)...)
		jobs.GET("", api.listJobs)
		jobs.GET("/:id", api.getJob)
		jobs.GET("/:id/file", api.getJobFile)
	}

	return router
}
