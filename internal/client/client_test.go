package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/clock"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *clock.Fake) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(DefaultConfig(server.URL), WithClock(clk), WithRetryPolicy(noJitterPolicy()))
	return c, clk
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestClient_Metadata(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/download/metadata", r.URL.Path)

		var req models.MetadataRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://youtu.be/abc", req.URL)

		height := 720
		writeJSON(w, http.StatusOK, models.MetadataResponse{
			Title: "Clip",
			VideoFormats: []models.MediaFormat{{
				ID: "22", Type: models.FormatTypeProgressive, Height: &height,
				Codec: models.Known("avc1"), Container: models.Known("mp4"),
			}},
		})
	})

	resp, err := c.Metadata(context.Background(), models.MetadataRequest{URL: "https://youtu.be/abc"})
	require.NoError(t, err)
	assert.Equal(t, "Clip", resp.Title)
	require.Len(t, resp.VideoFormats, 1)
	assert.Equal(t, 720, resp.VideoFormats[0].HeightValue())
	assert.True(t, resp.VideoFormats[0].Codec.Is("avc1"))
}

func TestClient_MetadataRetriesTransientFailures(t *testing.T) {
	var calls int32
	c, clk := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{Error: "extractor temporarily unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, models.MetadataResponse{Title: "ok"})
	})

	resp, err := c.Metadata(context.Background(), models.MetadataRequest{URL: "https://youtu.be/abc"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Title)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	// retry delays, each followed by the limiter's interval wait for the remainder
	var total time.Duration
	for _, d := range clk.Sleeps() {
		total += d
	}
	assert.GreaterOrEqual(t, total, 3*time.Second)
}

func TestClient_ClientInputNotRetried(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid URL"})
	})

	_, err := c.Metadata(context.Background(), models.MetadataRequest{URL: "nope"})
	require.Error(t, err)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, KindClientInput, apiErr.Kind)
	assert.Equal(t, "invalid URL", apiErr.Message)
	assert.Equal(t, SuggestionCheckURL, apiErr.Suggestion)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_NotFoundOnPrimaryResourceIsTerminal(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "video not found"})
	})

	_, err := c.ExtractLinks(context.Background(), models.ExtractLinksRequest{URL: "https://youtu.be/gone"})
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, KindTerminal, apiErr.Kind)
	assert.Equal(t, SuggestionNotFound, apiErr.Suggestion)
}

func TestClient_StatusNotFoundIsCapabilityMissing(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.Status(context.Background(), models.StatusRequest{DownloadID: "dl-1"})
	assert.True(t, IsCapabilityMissing(err))
	assert.False(t, IsRetryable(err))
}

func TestClient_Status(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req models.StatusRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dl-1", req.DownloadID)
		assert.Equal(t, "720p", req.Quality)

		writeJSON(w, http.StatusOK, models.StatusResponse{
			Progress: 42, Status: models.TaskStatusDownloading, Speed: "1.2 MB/s", IsMuxed: true,
		})
	})

	resp, err := c.Status(context.Background(), models.StatusRequest{DownloadID: "dl-1", Quality: "720p"})
	require.NoError(t, err)
	assert.Equal(t, 42.0, resp.Progress)
	assert.Equal(t, models.TaskStatusDownloading, resp.Status)
	assert.True(t, resp.IsMuxed)
}

func TestClient_TooManyRequestsBacksOff(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, models.ErrorResponse{Error: "slow down"})
	})

	_, err := c.Status(context.Background(), models.StatusRequest{DownloadID: "dl-1"})
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 2, c.Limiter().Multiplier())
}

func TestClient_DownloadVideo(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dl-9", r.Header.Get(models.HeaderDownloadID))

		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Disposition", `attachment; filename="clip.mp4"`)
		w.Header().Set(models.HeaderDownloadID, "dl-9")
		w.Header().Set(models.HeaderMuxed, "true")
		w.Header().Set(models.HeaderVideoQuality, "1080p")
		w.Header().Set(models.HeaderAudioQuality, "128kbps")
		w.Write([]byte("binary-payload"))
	})

	stream, err := c.DownloadVideo(context.Background(), models.VideoRequest{URL: "https://youtu.be/abc", Format: "mp4", Quality: "1080p"}, "dl-9")
	require.NoError(t, err)
	defer stream.Body.Close()

	data, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, "binary-payload", string(data))
	assert.Equal(t, "dl-9", stream.DownloadID)
	assert.True(t, stream.Muxed)
	assert.Equal(t, "1080p", stream.VideoQuality)
	assert.Equal(t, "128kbps", stream.AudioQuality)
	assert.Equal(t, "clip.mp4", stream.Filename)
}

func TestClient_DownloadVideoManualFallback(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{
			Error:           "This video requires manual download",
			SuggestedAction: models.SuggestedActionManual,
			Instructions:    []string{"Open the video", "Use Extract Links"},
		})
	})

	_, err := c.DownloadVideo(context.Background(), models.VideoRequest{URL: "https://youtu.be/abc"}, "dl-1")
	require.Error(t, err)
	assert.True(t, IsManual(err))
	assert.False(t, IsRetryable(err))

	apiErr, _ := AsAPIError(err)
	assert.Equal(t, []string{"Open the video", "Use Extract Links"}, apiErr.Instructions)
}

func TestClient_DownloadVideoRateLimitMessageIsRetryable(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Upstream rate limit reached"})
	})

	_, err := c.DownloadVideo(context.Background(), models.VideoRequest{URL: "https://youtu.be/abc"}, "")
	assert.True(t, IsRetryable(err))
}

func TestClient_Health(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Version: "1.0.0"})
	})

	resp, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestClient_TransportErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	clk := clock.NewFake(time.Now())
	policy := noJitterPolicy()
	policy.MaxAttempts = 1
	c := New(DefaultConfig(url), WithClock(clk), WithRetryPolicy(policy))

	_, err := c.Health(context.Background())
	assert.True(t, IsRetryable(err))
}
