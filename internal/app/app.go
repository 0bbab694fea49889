// Package app builds the components shared by the API server and the worker
// from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/cache"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/config"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/downloader"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/extractor"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/media"
)

// NewLogger builds the logger described by cfg
func NewLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	return logging.NewLogger(logging.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	})
}

// NewRegistry builds the enabled extractors in priority order: the native
// YouTube client, yt-dlp, then the generic page scraper
func NewRegistry(cfg config.ExtractorConfig, logger *logging.Logger) (*extractor.Registry, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var extractors []extractor.Extractor
	if cfg.EnableYouTube {
		extractors = append(extractors, extractor.NewYouTube(httpClient))
	}
	if cfg.EnableYtDlp {
		var opts []extractor.YtDlpOption
		if cfg.CookiesFile != "" {
			opts = append(opts, extractor.WithCookiesFile(cfg.CookiesFile))
		}
		extractors = append(extractors, extractor.NewYtDlp(cfg.YtDlpPath, cfg.YtDlpTimeout, opts...))
	}
	if cfg.EnableOpenGraph {
		extractors = append(extractors, extractor.NewOpenGraph(httpClient))
	}

	if len(extractors) == 0 {
		return nil, fmt.Errorf("no extractors enabled")
	}
	return extractor.NewRegistry(logger, extractors...), nil
}

// Downloader is a download service with the resources it holds
type Downloader struct {
	Service  *downloader.Service
	Registry *extractor.Registry
	Cache    *cache.Cache // nil when redis is disabled
}

// Close releases the redis connection
func (d *Downloader) Close() error {
	if d.Cache != nil {
		return d.Cache.Close()
	}
	return nil
}

// NewDownloader wires extractors, ffmpeg and the progress store. Redis backs
// the metadata cache and progress when enabled; otherwise progress lives in
// memory. Muxing is enabled only when ffmpeg runs.
func NewDownloader(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Downloader, error) {
	registry, err := NewRegistry(cfg.Extractor, logger)
	if err != nil {
		return nil, err
	}

	opts := []downloader.Option{
		downloader.WithLogger(logger),
		downloader.WithUserAgent(cfg.Media.UserAgent),
		downloader.WithProgressTTL(cfg.Server.ProgressTTL),
	}

	d := &Downloader{Registry: registry}
	var store downloader.ProgressStore = downloader.NewMemoryStore(nil)
	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		d.Cache = c
		store = c
		opts = append(opts, downloader.WithCache(c, cfg.Redis.MetadataTTL))
		logger.Info("Redis metadata cache and progress store enabled")
	}

	ffmpeg := media.NewFFmpeg(cfg.Media.FFmpegPath, cfg.Media.FFprobePath, cfg.Media.UserAgent)
	if ffmpeg.Available(ctx) {
		opts = append(opts, downloader.WithMuxer(ffmpeg))
	} else {
		logger.Warn("ffmpeg not found, muxed and mp3 downloads are disabled")
	}

	d.Service = downloader.NewService(registry, store, opts...)
	return d, nil
}
