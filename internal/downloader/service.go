// Package downloader implements the server side of the download API: format
// listing, delivery planning, streaming with progress tracking and status.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/clock"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/extractor"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/formats"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/media"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/tracing"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("download not found")
	ErrNoFormats      = errors.New("no downloadable formats")
	ErrSourceFailed   = errors.New("source fetch failed")
)

// ManualError means the service cannot deliver the request itself. The
// instructions tell the user how to fetch the media by hand.
type ManualError struct {
	Reason       string
	Instructions []string
}

func (e *ManualError) Error() string { return e.Reason }

// Source reports the formats of a source URL
type Source interface {
	Extract(ctx context.Context, rawURL string) (*models.MediaInfo, error)
}

// InfoCache caches extraction results. A miss is nil without an error.
type InfoCache interface {
	GetMediaInfo(ctx context.Context, sourceURL string) (*models.MediaInfo, error)
	SetMediaInfo(ctx context.Context, sourceURL string, info *models.MediaInfo, ttl time.Duration) error
	DeleteMediaInfo(ctx context.Context, sourceURL string) error
}

// Muxer combines and converts streams
type Muxer interface {
	Mux(ctx context.Context, opts media.MuxOptions, w io.Writer) error
	MuxToFile(ctx context.Context, opts media.MuxOptions, outputPath string, progressCB media.ProgressCallback) error
	TranscodeAudio(ctx context.Context, input string, bitrate int, w io.Writer) error
	Probe(ctx context.Context, input string) (*media.ProbeResult, error)
}

// Service answers metadata, download and status requests
type Service struct {
	source        Source
	store         ProgressStore
	cache         InfoCache
	cacheTTL      time.Duration
	muxer         Muxer
	httpClient    *http.Client
	clock         clock.Clock
	logger        *logging.Logger
	userAgent     string
	progressTTL   time.Duration
	flushInterval time.Duration
	newID         func() string
}

// Option configures a Service
type Option func(*Service)

// WithCache caches extraction results for ttl
func WithCache(c InfoCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithMuxer enables muxed and transcoded delivery
func WithMuxer(m Muxer) Option {
	return func(s *Service) { s.muxer = m }
}

// WithHTTPClient sets the client used to fetch source media
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// WithClock sets the clock used for progress timing
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithUserAgent sets the User-Agent sent to media hosts
func WithUserAgent(ua string) Option {
	return func(s *Service) { s.userAgent = ua }
}

// WithProgressTTL sets how long progress records are kept
func WithProgressTTL(ttl time.Duration) Option {
	return func(s *Service) { s.progressTTL = ttl }
}

// WithFlushInterval sets the minimum time between progress writes
func WithFlushInterval(d time.Duration) Option {
	return func(s *Service) { s.flushInterval = d }
}

// WithIDGenerator overrides download id generation
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a Service. store must not be nil.
func NewService(source Source, store ProgressStore, opts ...Option) *Service {
	s := &Service{
		source:        source,
		store:         store,
		httpClient:    &http.Client{},
		clock:         clock.New(),
		logger:        logging.Nop(),
		progressTTL:   time.Hour,
		flushInterval: 500 * time.Millisecond,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CanMux reports whether muxed and transcoded delivery is enabled
func (s *Service) CanMux() bool {
	return s.muxer != nil
}

// NewDownloadID returns a fresh download id
func (s *Service) NewDownloadID() string {
	return s.newID()
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

// mediaInfo extracts a source URL, going through the cache when configured
func (s *Service) mediaInfo(ctx context.Context, rawURL string) (*models.MediaInfo, error) {
	if _, err := extractor.ParseURL(rawURL); err != nil {
		return nil, err
	}
	rawURL = strings.TrimSpace(rawURL)
	log := s.logger.WithSourceURL(rawURL)

	if s.cache != nil {
		info, err := s.cache.GetMediaInfo(ctx, rawURL)
		if err != nil {
			log.WithError(err).Warn("Media info cache read failed")
		} else if info != nil {
			return info, nil
		}
	}

	info, err := s.source.Extract(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetMediaInfo(ctx, rawURL, info, s.cacheTTL); err != nil {
			log.WithError(err).Warn("Media info cache write failed")
		}
	}
	return info, nil
}

// invalidate drops the cached formats of a page whose stream URLs stopped
// working so the next request extracts fresh, signed ones
func (s *Service) invalidate(ctx context.Context, plan *Plan, cause error) {
	if s.cache == nil || plan.Page == "" || !errors.Is(cause, ErrSourceFailed) {
		return
	}
	if err := s.cache.DeleteMediaInfo(context.WithoutCancel(ctx), plan.Page); err != nil {
		s.logger.WithSourceURL(plan.Page).WithError(err).Warn("Media info cache delete failed")
	}
}

// Metadata lists the formats of a source, filtered by category and sorted
func (s *Service) Metadata(ctx context.Context, req models.MetadataRequest) (*models.MetadataResponse, error) {
	span, ctx := tracing.StartSpan(ctx, "downloader.metadata")
	defer tracing.FinishSpan(span)

	category, err := formats.ParseCategory(req.Category)
	if err != nil {
		return nil, invalid(err)
	}
	sortKey, err := formats.ParseSortKey(req.SortBy)
	if err != nil {
		return nil, invalid(err)
	}

	info, err := s.mediaInfo(ctx, req.URL)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	all := formats.Prepare(info.Formats, category, sortKey)
	video, audio := formats.Split(all)
	tracing.SetTag(span, "formats", len(all))

	return &models.MetadataResponse{
		Title:        info.Title,
		Uploader:     info.Uploader,
		Duration:     info.Duration,
		Thumbnail:    info.Thumbnail,
		Extractor:    info.Extractor,
		VideoFormats: video,
		AudioFormats: audio,
		AllFormats:   all,
	}, nil
}

// ExtractLinks lists every format that can be fetched directly, for the
// client's fallback and manual paths
func (s *Service) ExtractLinks(ctx context.Context, req models.ExtractLinksRequest) (*models.ExtractLinksResponse, error) {
	span, ctx := tracing.StartSpan(ctx, "downloader.extract_links")
	defer tracing.FinishSpan(span)

	info, err := s.mediaInfo(ctx, req.URL)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}

	var direct []models.MediaFormat
	for _, f := range formats.Clean(formats.Normalize(info.Formats), formats.CategoryAll, formats.SortByQuality) {
		if f.DirectURL != "" {
			direct = append(direct, f)
		}
	}
	if len(direct) == 0 {
		return nil, ErrNoFormats
	}

	video, audio := formats.Split(direct)
	return &models.ExtractLinksResponse{
		Success:      true,
		Title:        info.Title,
		VideoFormats: video,
		AudioFormats: audio,
		QualityStats: Stats(video, audio),
	}, nil
}

// Stats summarizes a split format list
func Stats(video, audio []models.MediaFormat) models.QualityStats {
	st := models.QualityStats{
		TotalFormats: len(video) + len(audio),
		VideoFormats: len(video),
		AudioFormats: len(audio),
	}
	for _, f := range video {
		if f.IsComplete() {
			st.ProgressiveCount++
		}
		if h := f.HeightValue(); h > st.MaxHeight {
			st.MaxHeight = h
		}
	}
	for _, f := range audio {
		if b := f.BitrateValue(); b > st.MaxAudioBitrate {
			st.MaxAudioBitrate = b
		}
	}
	return st
}

// Status returns the progress of a download started on this service
func (s *Service) Status(ctx context.Context, downloadID string) (*models.ProgressRecord, error) {
	if strings.TrimSpace(downloadID) == "" {
		return nil, invalid(errors.New("downloadId is required"))
	}
	record, err := s.store.GetProgress(ctx, downloadID)
	if err != nil {
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}
	if record == nil {
		return nil, ErrNotFound
	}
	return record, nil
}
