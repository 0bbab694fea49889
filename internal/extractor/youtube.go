package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/formats"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// YouTube extracts formats natively through the YouTube player API
type YouTube struct {
	client *youtube.Client
}

// NewYouTube creates a native YouTube extractor
func NewYouTube(httpClient *http.Client) *YouTube {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &YouTube{client: &youtube.Client{HTTPClient: httpClient}}
}

func (y *YouTube) Name() string { return "youtube" }

func (y *YouTube) Supports(u *url.URL) bool {
	return IsYouTubeHost(u.Hostname())
}

func (y *YouTube) Extract(ctx context.Context, rawURL string) (*models.MediaInfo, error) {
	video, err := y.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return nil, classifyYouTubeError(err)
	}

	info := &models.MediaInfo{
		SourceURL: "https://www.youtube.com/watch?v=" + video.ID,
		Extractor: y.Name(),
		Title:     video.Title,
		Uploader:  video.Author,
		Duration:  video.Duration.Seconds(),
		Formats:   make([]models.RawFormat, 0, len(video.Formats)),
	}
	if n := len(video.Thumbnails); n > 0 {
		info.Thumbnail = video.Thumbnails[n-1].URL
	}

	for i := range video.Formats {
		f := &video.Formats[i]
		raw := rawFromYouTube(f)
		if raw.URL == "" {
			// ciphered formats need the player's signature function
			streamURL, err := y.client.GetStreamURLContext(ctx, video, f)
			if err == nil {
				raw.URL = streamURL
			}
		}
		info.Formats = append(info.Formats, raw)
	}
	return info, nil
}

func rawFromYouTube(f *youtube.Format) models.RawFormat {
	raw := models.RawFormat{
		FormatID: strconv.Itoa(f.ItagNo),
		MimeType: f.MimeType,
		Ext:      formats.ContainerFromMime(f.MimeType),
		Width:    f.Width,
		Height:   f.Height,
		FPS:      float64(f.FPS),
		Filesize: f.ContentLength,
		URL:      f.URL,
		Protocol: "https",
		Note:     f.QualityLabel,
	}

	kbps := float64(bitrateForFormat(f)) / 1000
	raw.TBR = kbps
	codecs := formats.CodecsFromMime(f.MimeType)

	switch {
	case strings.HasPrefix(f.MimeType, "audio/"):
		raw.VCodec = "none"
		raw.ACodec = firstOr(codecs, 0, "")
		raw.ABR = kbps
	case f.AudioChannels > 0:
		raw.VCodec = firstOr(codecs, 0, "")
		raw.ACodec = firstOr(codecs, 1, "")
	default:
		raw.VCodec = firstOr(codecs, 0, "")
		raw.ACodec = "none"
	}
	return raw
}

func bitrateForFormat(f *youtube.Format) int {
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}
	return f.Bitrate
}

func firstOr(values []string, i int, fallback string) string {
	if i < len(values) {
		return values[i]
	}
	return fallback
}

func classifyYouTubeError(err error) error {
	switch {
	case errors.Is(err, youtube.ErrLoginRequired), errors.Is(err, youtube.ErrVideoPrivate):
		return fmt.Errorf("%w: %v", ErrRestricted, err)
	case errors.Is(err, youtube.ErrInvalidCharactersInVideoID), errors.Is(err, youtube.ErrVideoIDMinLength):
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	var statusErr youtube.ErrUnexpectedStatusCode
	if errors.As(err, &statusErr) {
		switch int(statusErr) {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrRestricted, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}

	var playErr *youtube.ErrPlayabiltyStatus
	if errors.As(err, &playErr) {
		if playErr.Status == "ERROR" {
			return fmt.Errorf("%w: %s", ErrNotFound, playErr.Reason)
		}
		return fmt.Errorf("%w: %s", ErrRestricted, playErr.Reason)
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
