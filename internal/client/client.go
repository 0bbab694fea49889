// Package client is the API adapter for the download service. All calls made
// through one Client share a single rate limiter and retry policy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/clock"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// Config holds client configuration
type Config struct {
	BaseURL              string
	Timeout              time.Duration
	MinInterval          time.Duration
	MaxBackoffMultiplier int
	UserAgent            string
}

// DefaultConfig returns the client defaults: 2s between calls, backoff up to 8x
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:              baseURL,
		Timeout:              10 * time.Minute,
		MinInterval:          2 * time.Second,
		MaxBackoffMultiplier: 8,
		UserAgent:            "mediadl/1.0",
	}
}

// Client calls the download API
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *RateLimiter
	retry      RetryPolicy
	clock      clock.Clock
	logger     *logging.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock replaces the clock used for rate limiting and retries
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithRetryPolicy replaces the retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client. The rate limiter is built after options apply so it
// shares the configured clock.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      DefaultRetryPolicy(),
		clock:      clock.New(),
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	interval := cfg.MinInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	c.limiter = NewRateLimiter(c.clock, interval, cfg.MaxBackoffMultiplier)
	return c
}

// Limiter exposes the client's rate limiter
func (c *Client) Limiter() *RateLimiter {
	return c.limiter
}

// Clock returns the client's clock
func (c *Client) Clock() clock.Clock {
	return c.clock
}

// Metadata lists the formats of a source URL
func (c *Client) Metadata(ctx context.Context, req models.MetadataRequest) (*models.MetadataResponse, error) {
	var out models.MetadataResponse
	err := c.retry.Do(ctx, c.clock, func(attempt int) error {
		return c.postJSON(ctx, "metadata", "/download/metadata", req, &out, false)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExtractLinks lists the directly fetchable formats of a source URL
func (c *Client) ExtractLinks(ctx context.Context, req models.ExtractLinksRequest) (*models.ExtractLinksResponse, error) {
	var out models.ExtractLinksResponse
	err := c.retry.Do(ctx, c.clock, func(attempt int) error {
		return c.postJSON(ctx, "extract-links", "/download/extract-links", req, &out, false)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the real-time progress of a download. It is not retried; a
// 404 comes back as a capability-missing error.
func (c *Client) Status(ctx context.Context, req models.StatusRequest) (*models.StatusResponse, error) {
	var out models.StatusResponse
	if err := c.postJSON(ctx, "status", "/download/status", req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches the service health
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var out models.HealthResponse
	err := c.retry.Do(ctx, c.clock, func(attempt int) error {
		resp, err := c.do(ctx, "health", http.MethodGet, "/health", nil, nil, false)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return decodeBody("health", resp, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// VideoStream is a binary download in flight. The caller must close Body.
type VideoStream struct {
	Body          io.ReadCloser
	DownloadID    string
	Muxed         bool
	VideoQuality  string
	AudioQuality  string
	ContentType   string
	ContentLength int64
	Filename      string
}

// DownloadVideo asks the backend to fetch, and mux when needed, a format and
// stream it back. It is not retried; fallback belongs to the dispatcher.
func (c *Client) DownloadVideo(ctx context.Context, req models.VideoRequest, downloadID string) (*VideoStream, error) {
	headers := http.Header{}
	if downloadID != "" {
		headers.Set(models.HeaderDownloadID, downloadID)
	}

	resp, err := c.do(ctx, "video", http.MethodPost, "/download/video", req, headers, false)
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		// adaptive streams the server cannot serve come back as instructions
		defer resp.Body.Close()
		var body models.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, newTransportError("video", fmt.Errorf("decode fallback body: %w", err))
		}
		return nil, newStatusError("video", http.StatusServiceUnavailable, &body, false)
	}

	stream := &VideoStream{
		Body:          resp.Body,
		DownloadID:    resp.Header.Get(models.HeaderDownloadID),
		Muxed:         resp.Header.Get(models.HeaderMuxed) == "true",
		VideoQuality:  resp.Header.Get(models.HeaderVideoQuality),
		AudioQuality:  resp.Header.Get(models.HeaderAudioQuality),
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
		Filename:      filenameFromDisposition(resp.Header.Get("Content-Disposition")),
	}
	if stream.DownloadID == "" {
		stream.DownloadID = downloadID
	}
	return stream, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out interface{}, optional bool) error {
	resp, err := c.do(ctx, op, http.MethodPost, path, in, nil, optional)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeBody(op, resp, out)
}

// do sends one request through the rate limiter. Non-2xx responses are
// returned as *APIError with the body consumed.
func (c *Client) do(ctx context.Context, op, method, path string, in interface{}, headers http.Header, optional bool) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		return nil, newTransportError(op, err)
	}
	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	release()
	if err != nil {
		c.logger.WithField("op", op).WithError(err).Warn("API request failed")
		return nil, newTransportError(op, err)
	}

	c.limiter.Observe(resp.StatusCode)
	c.logger.WithFields(map[string]interface{}{
		"op":          op,
		"status_code": resp.StatusCode,
		"duration_ms": c.clock.Now().Sub(start).Milliseconds(),
	}).Debug("API request")

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, newStatusError(op, resp.StatusCode, readErrorBody(resp.Body), optional)
	}
	return resp, nil
}

func readErrorBody(r io.Reader) *models.ErrorResponse {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(data) == 0 {
		return nil
	}
	var body models.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return &models.ErrorResponse{Error: strings.TrimSpace(string(data))}
	}
	return &body
}

func decodeBody(op string, resp *http.Response, out interface{}) error {
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Kind:       KindTerminal,
			Message:    "invalid response body",
			Suggestion: SuggestionLowerQuality,
			Err:        err,
		}
	}
	return nil
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

