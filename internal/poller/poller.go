// Package poller tracks the progress of a download through the status
// endpoint, degrading to locally simulated progress when the backend has no
// such endpoint.
package poller

import (
	"context"
	"math/rand"
	"time"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/client"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/clock"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// StatusFetcher queries the real-time status of a download
type StatusFetcher interface {
	Status(ctx context.Context, req models.StatusRequest) (*models.StatusResponse, error)
}

// Config holds poller configuration
type Config struct {
	Interval          time.Duration
	MaxAttempts       int
	SimulatedInterval time.Duration
	SimulatedMinStep  float64
	SimulatedMaxStep  float64
}

// DefaultConfig polls every 2s up to 30 times and simulates 5-15% steps every 1.5s
func DefaultConfig() Config {
	return Config{
		Interval:          2 * time.Second,
		MaxAttempts:       30,
		SimulatedInterval: 1500 * time.Millisecond,
		SimulatedMinStep:  5,
		SimulatedMaxStep:  15,
	}
}

// Poller drives one task's progress. It owns the task it runs and publishes
// a snapshot after every change.
type Poller struct {
	fetcher StatusFetcher
	clock   clock.Clock
	rand    func() float64
	cfg     Config
	logger  *logging.Logger
}

// Option configures a Poller
type Option func(*Poller)

// WithClock replaces the clock
func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithRand replaces the [0,1) random source used by simulated mode
func WithRand(r func() float64) Option {
	return func(p *Poller) { p.rand = r }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// New creates a poller
func New(fetcher StatusFetcher, cfg Config, opts ...Option) *Poller {
	p := &Poller{
		fetcher: fetcher,
		clock:   clock.New(),
		rand:    rand.Float64,
		cfg:     cfg,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until the task finishes and returns the final task. publish is
// called with a copy of the task after every update and may be nil.
func (p *Poller) Run(ctx context.Context, task models.DownloadTask, req models.StatusRequest, publish func(models.DownloadTask)) (models.DownloadTask, error) {
	if publish == nil {
		publish = func(models.DownloadTask) {}
	}
	logger := p.logger.WithDownloadID(task.ID)

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := p.clock.Sleep(ctx, p.cfg.Interval); err != nil {
			return task, err
		}

		resp, err := p.fetcher.Status(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return task, ctx.Err()
			}
			if client.IsCapabilityMissing(err) {
				logger.Info("Status endpoint missing, switching to simulated progress")
				return p.simulate(ctx, task, publish)
			}

			// the download itself may have succeeded; stop showing progress
			logger.WithError(err).Warn("Status polling stopped")
			task.Status = models.TaskStatusCompleted
			task.FileSize = models.DownloadReadyNotice
			publish(task)
			return task, nil
		}

		task.Apply(resp)
		publish(task)
		if task.Status.IsFinished() {
			return task, nil
		}
	}

	logger.Warnf("Poll budget of %d attempts exhausted, marking completed", p.cfg.MaxAttempts)
	task.Status = models.TaskStatusCompleted
	task.Progress = 100
	publish(task)
	return task, nil
}

// simulate synthesizes progress. Once entered it never returns to real-time.
func (p *Poller) simulate(ctx context.Context, task models.DownloadTask, publish func(models.DownloadTask)) (models.DownloadTask, error) {
	task.RealTime = false
	task.Status = models.TaskStatusDownloading
	publish(task)

	spread := p.cfg.SimulatedMaxStep - p.cfg.SimulatedMinStep
	for task.Progress < 100 {
		if err := p.clock.Sleep(ctx, p.cfg.SimulatedInterval); err != nil {
			return task, err
		}

		task.Progress += p.cfg.SimulatedMinStep + p.rand()*spread
		if task.Progress >= 100 {
			task.Progress = 100
			task.Status = models.TaskStatusCompleted
		}
		publish(task)
	}

	task.Status = models.TaskStatusCompleted
	return task, nil
}
