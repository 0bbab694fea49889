package extractor

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
)

func TestRawFromYouTube(t *testing.T) {
	progressive := rawFromYouTube(&youtube.Format{
		ItagNo:        18,
		MimeType:      `video/mp4; codecs="avc1.42001E, mp4a.40.2"`,
		Width:         640,
		Height:        360,
		Bitrate:       500000,
		AudioChannels: 2,
		ContentLength: 1024,
		URL:           "https://cdn/18",
		QualityLabel:  "360p",
	})
	assert.Equal(t, "18", progressive.FormatID)
	assert.Equal(t, "mp4", progressive.Ext)
	assert.Equal(t, "avc1.42001E", progressive.VCodec)
	assert.Equal(t, "mp4a.40.2", progressive.ACodec)
	assert.Equal(t, int64(1024), progressive.Filesize)

	videoOnly := rawFromYouTube(&youtube.Format{
		ItagNo:   248,
		MimeType: `video/webm; codecs="vp9"`,
		Height:   1080,
	})
	assert.Equal(t, "webm", videoOnly.Ext)
	assert.Equal(t, "vp9", videoOnly.VCodec)
	assert.Equal(t, "none", videoOnly.ACodec)

	audio := rawFromYouTube(&youtube.Format{
		ItagNo:         140,
		MimeType:       `audio/mp4; codecs="mp4a.40.2"`,
		Bitrate:        130000,
		AverageBitrate: 128000,
		AudioChannels:  2,
	})
	assert.Equal(t, "m4a", audio.Ext)
	assert.Equal(t, "none", audio.VCodec)
	assert.Equal(t, "mp4a.40.2", audio.ACodec)
	assert.Equal(t, 128.0, audio.ABR)
}

func TestClassifyYouTubeError(t *testing.T) {
	assert.ErrorIs(t, classifyYouTubeError(youtube.ErrVideoPrivate), ErrRestricted)
	assert.ErrorIs(t, classifyYouTubeError(youtube.ErrLoginRequired), ErrRestricted)
	assert.ErrorIs(t, classifyYouTubeError(youtube.ErrVideoIDMinLength), ErrInvalidURL)
	assert.ErrorIs(t, classifyYouTubeError(fmt.Errorf("fetch: %w", youtube.ErrUnexpectedStatusCode(http.StatusTooManyRequests))), ErrRateLimited)
	assert.ErrorIs(t, classifyYouTubeError(&youtube.ErrPlayabiltyStatus{Status: "ERROR", Reason: "Video unavailable"}), ErrNotFound)
	assert.ErrorIs(t, classifyYouTubeError(&youtube.ErrPlayabiltyStatus{Status: "UNPLAYABLE", Reason: "region"}), ErrRestricted)
	assert.ErrorIs(t, classifyYouTubeError(errors.New("connection reset")), ErrUnavailable)
}

func TestYouTube_Supports(t *testing.T) {
	y := NewYouTube(nil)
	u, _ := url.Parse("https://youtu.be/abc")
	assert.True(t, y.Supports(u))
	u, _ = url.Parse("https://vimeo.com/1")
	assert.False(t, y.Supports(u))
}
