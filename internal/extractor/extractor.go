// Package extractor asks extraction backends which media formats a source
// URL offers.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

var (
	ErrInvalidURL     = errors.New("invalid URL")
	ErrUnsupportedURL = errors.New("unsupported URL")
	ErrNotFound       = errors.New("media not found")
	ErrRestricted     = errors.New("media is private or requires sign-in")
	ErrRateLimited    = errors.New("extraction rate limited")
	ErrUnavailable    = errors.New("extractor temporarily unavailable")
)

// Extractor reports the formats of a source URL
type Extractor interface {
	Name() string
	Supports(u *url.URL) bool
	Extract(ctx context.Context, rawURL string) (*models.MediaInfo, error)
}

// Registry tries extractors in order until one succeeds
type Registry struct {
	extractors []Extractor
	logger     *logging.Logger
}

// NewRegistry creates a registry over extractors, in priority order
func NewRegistry(logger *logging.Logger, extractors ...Extractor) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{extractors: extractors, logger: logger}
}

// Names returns the extractor names in priority order
func (r *Registry) Names() []string {
	names := make([]string, len(r.extractors))
	for i, e := range r.extractors {
		names[i] = e.Name()
	}
	return names
}

// ParseURL validates a source URL
func ParseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// Extract runs the first extractor that supports the URL. Not-found and
// restricted answers are final; any other failure falls through to the next
// extractor.
func (r *Registry) Extract(ctx context.Context, rawURL string) (*models.MediaInfo, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, e := range r.extractors {
		if !e.Supports(u) {
			continue
		}

		start := time.Now()
		info, err := e.Extract(ctx, u.String())
		duration := time.Since(start)

		formats := 0
		if info != nil {
			formats = len(info.Formats)
		}
		r.logger.LogExtraction(e.Name(), u.String(), formats, duration, err)
		metrics.RecordExtraction(e.Name(), extractionResult(err), duration)

		if err == nil {
			if info.Extractor == "" {
				info.Extractor = e.Name()
			}
			if info.SourceURL == "" {
				info.SourceURL = u.String()
			}
			return info, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRestricted) {
			return nil, err
		}
	}

	if lastErr == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, u.Host)
	}
	return nil, lastErr
}

func extractionResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRestricted):
		return "restricted"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}

// IsYouTubeHost reports whether host serves YouTube videos
func IsYouTubeHost(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be", "youtube-nocookie.com":
		return true
	}
	return false
}
