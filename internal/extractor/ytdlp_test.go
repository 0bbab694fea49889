package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ytdlpSample = `{
  "id": "abc123",
  "title": "Sample clip",
  "channel": "Sample Channel",
  "duration": 212.5,
  "thumbnail": "https://i.example.com/abc123.jpg",
  "extractor_key": "Youtube",
  "webpage_url": "https://www.youtube.com/watch?v=abc123",
  "formats": [
    {"format_id": "18", "ext": "mp4", "vcodec": "avc1.42001E", "acodec": "mp4a.40.2", "width": 640, "height": 360, "url": "https://cdn/18"},
    {"format_id": "137", "ext": "mp4", "vcodec": "avc1.640028", "acodec": "none", "height": 1080, "filesize_approx": 52428800, "url": "https://cdn/137"},
    {"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "abr": 129.5, "url": "https://cdn/140"}
  ]
}`

func TestParseYtDlpJSON(t *testing.T) {
	info, err := ParseYtDlpJSON([]byte(ytdlpSample))
	require.NoError(t, err)

	assert.Equal(t, "Sample clip", info.Title)
	assert.Equal(t, "Sample Channel", info.Uploader)
	assert.Equal(t, "yt-dlp:youtube", info.Extractor)
	assert.Equal(t, 212.5, info.Duration)
	require.Len(t, info.Formats, 3)
	assert.Equal(t, "137", info.Formats[1].FormatID)
	assert.Equal(t, int64(52428800), info.Formats[1].FilesizeApprox)
	assert.Equal(t, 129.5, info.Formats[2].ABR)
}

func TestParseYtDlpJSON_SingleFormat(t *testing.T) {
	data := `{"title": "direct", "ext": "mp4", "url": "https://cdn/only.mp4", "vcodec": "h264", "acodec": "aac", "height": 720}`

	info, err := ParseYtDlpJSON([]byte(data))
	require.NoError(t, err)
	require.Len(t, info.Formats, 1)
	assert.Equal(t, "https://cdn/only.mp4", info.Formats[0].URL)
	assert.Equal(t, 720, info.Formats[0].Height)
	assert.Equal(t, "yt-dlp", info.Extractor)
}

func TestParseYtDlpJSON_Invalid(t *testing.T) {
	_, err := ParseYtDlpJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestYtDlp_ExtractArgs(t *testing.T) {
	var gotName string
	var gotArgs []string
	runner := func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		gotName, gotArgs = name, args
		return []byte(ytdlpSample), nil, nil
	}

	y := NewYtDlp("/usr/local/bin/yt-dlp", 0, WithRunner(runner), WithCookiesFile("/tmp/cookies.txt"))
	info, err := y.Extract(context.Background(), "https://www.youtube.com/watch?v=abc123")
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/yt-dlp", gotName)
	assert.Equal(t, []string{
		"-J", "--no-warnings", "--skip-download", "--no-playlist",
		"--cookies", "/tmp/cookies.txt",
		"https://www.youtube.com/watch?v=abc123",
	}, gotArgs)
	assert.Len(t, info.Formats, 3)
}

func TestYtDlp_ClassifiesStderr(t *testing.T) {
	tests := map[string]error{
		"ERROR: [youtube] abc: Private video. Sign in if you've been granted access": ErrRestricted,
		"ERROR: Unsupported URL: https://example.com/":                                ErrUnsupportedURL,
		"ERROR: unable to download webpage: HTTP Error 429: Too Many Requests":         ErrRateLimited,
		"ERROR: [youtube] abc: Video unavailable":                                      ErrNotFound,
		"ERROR: something odd happened":                                                ErrUnavailable,
	}

	for stderr, want := range tests {
		runner := func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
			return nil, []byte("WARNING: noise\n" + stderr), errors.New("exit status 1")
		}
		_, err := NewYtDlp("", 0, WithRunner(runner)).Extract(context.Background(), "https://example.com/")
		assert.ErrorIs(t, err, want, stderr)
	}
}

func TestYtDlp_Version(t *testing.T) {
	runner := func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		assert.Equal(t, []string{"--version"}, args)
		return []byte("2024.08.06\n"), nil, nil
	}
	v, err := NewYtDlp("", 0, WithRunner(runner)).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2024.08.06", v)
}
