package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// Runner executes a command and returns its stdout and stderr
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// YtDlp extracts formats by running yt-dlp -J
type YtDlp struct {
	path        string
	timeout     time.Duration
	cookiesFile string
	run         Runner
}

// YtDlpOption configures YtDlp
type YtDlpOption func(*YtDlp)

// WithRunner replaces the command runner
func WithRunner(r Runner) YtDlpOption {
	return func(y *YtDlp) { y.run = r }
}

// WithCookiesFile passes a Netscape cookies file to yt-dlp
func WithCookiesFile(path string) YtDlpOption {
	return func(y *YtDlp) { y.cookiesFile = path }
}

// NewYtDlp creates a yt-dlp extractor
func NewYtDlp(path string, timeout time.Duration, opts ...YtDlpOption) *YtDlp {
	if path == "" {
		path = "yt-dlp"
	}
	y := &YtDlp{path: path, timeout: timeout, run: ExecRunner}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

func (y *YtDlp) Name() string { return "yt-dlp" }

// Supports accepts any web URL; yt-dlp decides itself
func (y *YtDlp) Supports(u *url.URL) bool { return true }

type ytdlpInfo struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	Uploader     string             `json:"uploader"`
	Channel      string             `json:"channel"`
	Duration     float64            `json:"duration"`
	Thumbnail    string             `json:"thumbnail"`
	ExtractorKey string             `json:"extractor_key"`
	WebpageURL   string             `json:"webpage_url"`
	Formats      []models.RawFormat `json:"formats"`

	// single-format sources report the format at the top level
	models.RawFormat
}

func (y *YtDlp) Extract(ctx context.Context, rawURL string) (*models.MediaInfo, error) {
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	args := []string{"-J", "--no-warnings", "--skip-download", "--no-playlist"}
	if y.cookiesFile != "" {
		args = append(args, "--cookies", y.cookiesFile)
	}
	args = append(args, rawURL)

	stdout, stderr, err := y.run(ctx, y.path, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: yt-dlp timed out", ErrUnavailable)
		}
		return nil, classifyYtDlpError(err, stderr)
	}

	return ParseYtDlpJSON(stdout)
}

// ParseYtDlpJSON converts yt-dlp -J output into MediaInfo
func ParseYtDlpJSON(data []byte) (*models.MediaInfo, error) {
	var info ytdlpInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}

	formats := info.Formats
	if len(formats) == 0 && info.RawFormat.URL != "" {
		formats = []models.RawFormat{info.RawFormat}
	}

	uploader := info.Uploader
	if uploader == "" {
		uploader = info.Channel
	}

	return &models.MediaInfo{
		SourceURL: info.WebpageURL,
		Extractor: extractorName(info.ExtractorKey),
		Title:     info.Title,
		Uploader:  uploader,
		Duration:  info.Duration,
		Thumbnail: info.Thumbnail,
		Formats:   formats,
	}, nil
}

func extractorName(key string) string {
	if key == "" {
		return "yt-dlp"
	}
	return "yt-dlp:" + strings.ToLower(key)
}

// Version returns the installed yt-dlp version
func (y *YtDlp) Version(ctx context.Context) (string, error) {
	stdout, stderr, err := y.run(ctx, y.path, "--version")
	if err != nil {
		return "", fmt.Errorf("yt-dlp not available: %v | %s", err, strings.TrimSpace(string(stderr)))
	}
	return strings.TrimSpace(string(stdout)), nil
}

func classifyYtDlpError(err error, stderr []byte) error {
	msg := strings.TrimSpace(string(stderr))
	if i := strings.LastIndex(msg, "ERROR:"); i >= 0 {
		msg = strings.TrimSpace(msg[i+len("ERROR:"):])
	}
	lower := strings.ToLower(msg)

	var kind error
	switch {
	case strings.Contains(lower, "unsupported url"):
		kind = ErrUnsupportedURL
	case strings.Contains(lower, "private video"),
		strings.Contains(lower, "sign in"),
		strings.Contains(lower, "members-only"),
		strings.Contains(lower, "age-restricted"),
		strings.Contains(lower, "http error 403"):
		kind = ErrRestricted
	case strings.Contains(lower, "http error 429"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "rate-limit"),
		strings.Contains(lower, "rate limit"):
		kind = ErrRateLimited
	case strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "http error 404"),
		strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "has been removed"):
		kind = ErrNotFound
	default:
		kind = ErrUnavailable
	}

	if msg == "" {
		return fmt.Errorf("%w: %v", kind, err)
	}
	return fmt.Errorf("%w: %s", kind, msg)
}
