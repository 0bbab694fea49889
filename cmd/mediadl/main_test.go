package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/dispatch"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func newAPIServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.HealthResponse{
			Status:     "healthy",
			Version:    "1.2.3",
			Uptime:     "5m0s",
			Extractors: []string{"youtube", "ytdlp"},
			Muxing:     true,
		})
	})
	mux.HandleFunc("/download/metadata", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.MetadataResponse{
			Title:    "Clip",
			Uploader: "someone",
			VideoFormats: []models.MediaFormat{{
				ID:                  "137",
				Type:                models.FormatTypeVideoOnly,
				Container:           models.ParseAttr("mp4"),
				Codec:               models.ParseAttr("avc1"),
				Height:              intPtr(1080),
				Quality:             "1080p",
				ApproxFileSizeBytes: int64Ptr(1536),
			}},
			AudioFormats: []models.MediaFormat{{
				ID:        "140",
				Type:      models.FormatTypeAudioOnly,
				Container: models.ParseAttr("m4a"),
				Bitrate:   intPtr(128),
			}},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestRunHealth(t *testing.T) {
	server := newAPIServer(t)
	var stdout, stderr bytes.Buffer

	code := run([]string{"--client.baseURL", server.URL, "health"}, strings.NewReader(""), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "healthy (version 1.2.3, up 5m0s)")
	assert.Contains(t, out, "extractors: youtube, ytdlp")
	assert.Contains(t, out, "muxing: true")
}

func TestRunFormats(t *testing.T) {
	server := newAPIServer(t)
	var stdout, stderr bytes.Buffer

	code := run([]string{"--client.baseURL", server.URL, "formats", "https://youtu.be/abc"}, strings.NewReader(""), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "Clip by someone")
	assert.Contains(t, out, "1080p")
	assert.Contains(t, out, "1.5 KB")
	assert.Contains(t, out, "128k")
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 2, run(nil, strings.NewReader(""), &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Commands:")

	stderr.Reset()
	assert.Equal(t, 2, run([]string{"frobnicate"}, strings.NewReader(""), &stdout, &stderr))
	assert.Contains(t, stderr.String(), `unknown command "frobnicate"`)

	assert.Equal(t, 0, run([]string{"--version"}, strings.NewReader(""), &stdout, &stderr))
	assert.Contains(t, stdout.String(), "mediadl dev")
}

func TestRunFormatsNeedsURL(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"formats"}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "expected exactly one url")
}

func TestRunFormatsRejectsUnknownFilters(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	t.Cleanup(server.Close)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--client.baseURL", server.URL, "--category", "progressive", "formats", "https://youtu.be/abc"}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), `invalid category: "progressive"`)

	stderr.Reset()
	code = run([]string{"--client.baseURL", server.URL, "--sort", "bitrate", "formats", "https://youtu.be/abc"}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), `invalid sort key: "bitrate"`)
	assert.Zero(t, requests)
}

func TestRunFormatsAcceptsCategory(t *testing.T) {
	server := newAPIServer(t)
	var stdout, stderr bytes.Buffer

	code := run([]string{"--client.baseURL", server.URL, "--category", "8k", "--sort", "format", "formats", "https://youtu.be/abc"}, strings.NewReader(""), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
}

func TestBatchURLs(t *testing.T) {
	urls, err := batchURLs([]string{"https://a", "https://b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a", "https://b"}, urls)

	input := "https://a\n\n# comment\n  https://b  \n"
	urls, err = batchURLs([]string{"-"}, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a", "https://b"}, urls)

	_, err = batchURLs([]string{"/does/not/exist.txt"}, nil)
	assert.Error(t, err)
}

func TestDescribeDelivery(t *testing.T) {
	assert.Equal(t, "saved out/Clip.mp4 (2.0 KB) via backend-fetch, muxed 1080p + 128kbps",
		describeDelivery(&dispatch.Delivery{
			Strategy:     dispatch.StrategyBackendFetch,
			Path:         "out/Clip.mp4",
			Bytes:        2048,
			Muxed:        true,
			VideoQuality: "1080p",
			AudioQuality: "128kbps",
		}))

	assert.Equal(t, "handed off https://cdn/x via clipboard",
		describeDelivery(&dispatch.Delivery{Strategy: dispatch.StrategyClipboard, URL: "https://cdn/x"}))
}

func TestProgressLine(t *testing.T) {
	line := progressLine(models.DownloadTask{
		ID:       "0123456789abcdef",
		Status:   models.TaskStatusDownloading,
		Progress: 42.5,
		Speed:    "1.0 MB/s",
		ETA:      "00:10",
		RealTime: true,
	})
	assert.Equal(t, "01234567 downloading   42.5%  1.0 MB/s  eta 00:10", line)

	line = progressLine(models.DownloadTask{ID: "short", Status: models.TaskStatusDownloading, Progress: 10})
	assert.True(t, strings.HasSuffix(line, "(estimated)"))
}

func TestDescribeError(t *testing.T) {
	failure := &dispatch.Failure{Message: "all strategies failed", Suggestion: "try later"}
	assert.Equal(t, "all strategies failed (try later)", describeError(failure))
	assert.Equal(t, "plain", describeError(errors.New("plain")))
	assert.Equal(t, "context canceled", describeError(context.Canceled))
}
