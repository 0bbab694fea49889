package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/app"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/config"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/database"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/middleware"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/queue"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/storage"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	tracer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer tracer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dl, err := app.NewDownloader(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize downloader: %v", err)
	}
	defer dl.Close()

	api := &API{
		downloads:  dl.Service,
		extractors: dl.Registry.Names(),
		checks:     map[string]HealthCheck{},
		logger:     logger,
		started:    time.Now(),
	}

	rc := routerConfig{
		limiter:        middleware.NewRateLimiter(float64(cfg.Server.RateLimit), cfg.Server.RateBurst),
		jobQuota:       cfg.Auth.JobQuota,
		jobQuotaWindow: cfg.Auth.JobQuotaWindow,
	}
	if cfg.Auth.Enabled {
		if cfg.Auth.JWTSecret == "" {
			logger.Fatal("auth.jwtSecret is required when auth is enabled")
		}
		rc.jwtSecret = cfg.Auth.JWTSecret
		logger.Info("JWT authentication configured for job routes")
	}
	go rc.limiter.Cleanup(ctx, time.Minute, 10*time.Minute)

	if dl.Cache != nil {
		api.checks["redis"] = dl.Cache.Ping
		api.jobCache = dl.Cache
		rc.quota = dl.Cache
	}

	// The job API needs the database and the queue
	if cfg.Database.Enabled && cfg.Queue.Enabled {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatalf("Failed to migrate database: %v", err)
		}
		api.jobs = database.NewRepository(db, logger)
		api.checks["database"] = db.Health

		q, err := queue.New(cfg.Queue, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to queue: %v", err)
		}
		defer q.Close()
		api.publisher = q
		api.checks["queue"] = func(context.Context) error { return q.Ping() }

		if cfg.Storage.Enabled {
			stor, err := storage.New(ctx, cfg.Storage, logger)
			if err != nil {
				logger.Fatalf("Failed to initialize storage: %v", err)
			}
			api.files = stor
			api.checks["storage"] = stor.Ping
		}
		logger.Info("Job API enabled")
	}

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server stopped", err)
			}
		}()
		defer metricsServer.Shutdown(context.Background())
	}

	gin.SetMode(cfg.Server.Mode)
	router := setupRouter(api, rc)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}

	logger.Info("Server stopped")
}
