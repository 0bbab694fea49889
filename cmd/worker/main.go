package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/app"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/cache"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/config"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/database"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/queue"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/storage"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/tracing"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/webhook"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

func main() {
	replayDLQ := pflag.Bool("replay-dlq", false, "move dead-lettered jobs back onto the download queue and exit")
	pflag.Parse()

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

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize queue
	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	if *replayDLQ {
		var snapshots SnapshotDropper
		if cfg.Redis.Enabled {
			c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				logger.Fatalf("Failed to connect to Redis: %v", err)
			}
			defer c.Close()
			snapshots = c
		}
		replay(ctx, q, snapshots, logger)
		return
	}

	// Initialize database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize storage
	stor, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	dl, err := app.NewDownloader(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize downloader: %v", err)
	}
	defer dl.Close()

	p := &processor{
		repo:       database.NewRepository(db, logger),
		fetcher:    dl.Service,
		uploader:   stor,
		notifier:   webhook.NewService(cfg.Webhook.Secret, cfg.Webhook.Timeout, cfg.Webhook.MaxRetries, logger),
		dir:        cfg.Server.DownloadDir,
		maxRetries: cfg.Queue.MaxRetries,
		logger:     logger,
	}
	if dl.Cache != nil {
		p.cache = dl.Cache
	}

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server stopped", err)
			}
		}()
		defer metricsServer.Shutdown(context.Background())
		go reportQueueMetrics(ctx, q, p, logger)
	}

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	go cleanupStale(ctx, cfg.Server.DownloadDir, time.Hour, logger)

	// Start consuming jobs
	logger.Info("Worker started, waiting for jobs...")
	if err := q.ConsumeJobs(ctx, p.handle); err != nil {
		logger.Fatalf("Failed to consume jobs: %v", err)
	}

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("Worker stopped")
}

func reportQueueMetrics(ctx context.Context, q *queue.Queue, p *processor, logger *logging.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := q.GetQueueDepth()
			if err != nil {
				logger.WithError(err).Debug("Failed to inspect queue depth")
				continue
			}
			metrics.UpdateJobMetrics(int(p.inProgress.Load()), depth)
		}
	}
}

// SnapshotDropper forgets cached job snapshots
type SnapshotDropper interface {
	DeleteJob(ctx context.Context, jobID string) error
}

// replay drains the dead letter queue back into the download queue. Cached
// snapshots of replayed jobs still say failed, so they are dropped.
func replay(ctx context.Context, q *queue.Queue, snapshots SnapshotDropper, logger *logging.Logger) {
	depth, err := q.GetDLQDepth()
	if err != nil {
		logger.Fatalf("Failed to inspect dead letter queue: %v", err)
	}
	if depth == 0 {
		logger.Info("Dead letter queue is empty")
		return
	}

	replayed := make(chan struct{}, depth)
	replayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err = q.ConsumeDLQ(replayCtx, func(job *models.DownloadJob, reason string) error {
		job.Status = models.JobStatusQueued
		job.ErrorMsg = ""
		if err := q.RetryFromDLQ(replayCtx, job); err != nil {
			return err
		}
		if snapshots != nil {
			if err := snapshots.DeleteJob(replayCtx, job.ID); err != nil {
				logger.WithJobID(job.ID).WithError(err).Warn("Failed to drop cached job snapshot")
			}
		}
		logger.WithJobID(job.ID).Infof("Replayed dead-lettered job (%s)", reason)
		select {
		case replayed <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		logger.Fatalf("Failed to consume dead letter queue: %v", err)
	}

	timeout := time.After(time.Minute)
	for i := 0; i < depth; i++ {
		select {
		case <-replayed:
		case <-timeout:
			logger.Warnf("Replayed %d of %d jobs before timing out", i, depth)
			return
		}
	}
	logger.Infof("Replayed %d jobs", depth)
}
