package formats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

func TestNormalize_Classification(t *testing.T) {
	raw := []models.RawFormat{
		{FormatID: "18", Ext: "mp4", VCodec: "avc1.42001E", ACodec: "mp4a.40.2", Width: 640, Height: 360, Filesize: 1000},
		{FormatID: "137", Ext: "mp4", VCodec: "avc1.640028", ACodec: "none", Width: 1920, Height: 1080, FilesizeApprox: 5000},
		{FormatID: "140", Ext: "m4a", VCodec: "none", ACodec: "mp4a.40.2", ABR: 129.5},
		{FormatID: "en", Ext: "vtt"},
		{FormatID: "sb0", Ext: "mhtml", VCodec: "none", ACodec: "none"},
		{FormatID: "junk", Ext: "bin", VCodec: "none", ACodec: "none"},
	}

	out := Normalize(raw)
	require.Len(t, out, 5)

	assert.Equal(t, models.FormatTypeProgressive, out[0].Type)
	assert.True(t, out[0].IsComplete())
	assert.Equal(t, "avc1.42001E", out[0].Codec.Value)
	assert.Equal(t, int64(1000), out[0].SizeValue())
	assert.Equal(t, "360p", out[0].Quality)

	assert.Equal(t, models.FormatTypeVideoOnly, out[1].Type)
	assert.False(t, out[1].HasAudio)
	assert.Equal(t, int64(5000), out[1].SizeValue())

	assert.Equal(t, models.FormatTypeAudioOnly, out[2].Type)
	assert.Equal(t, 130, out[2].BitrateValue())
	assert.Equal(t, "mp4a.40.2", out[2].Codec.Value)
	assert.Nil(t, out[2].Height)
	assert.Equal(t, "130kbps", out[2].Quality)

	assert.Equal(t, models.FormatTypeSubtitle, out[3].Type)
	assert.Equal(t, models.FormatTypeThumbnail, out[4].Type)
}

func TestNormalize_TriState(t *testing.T) {
	raw := []models.RawFormat{
		{FormatID: "a", Ext: "unknown_video", VCodec: "unknown", ACodec: "none", Height: 720},
		{FormatID: "b", Height: 480},
	}

	out := Normalize(raw)
	require.Len(t, out, 2)

	assert.True(t, out[0].Container.IsUnknown())
	assert.True(t, out[0].Codec.IsUnknown())

	// no codec strings at all: present by dimensions, fields absent
	assert.Equal(t, models.FormatTypeVideoOnly, out[1].Type)
	assert.True(t, out[1].Codec.IsAbsent())
	assert.True(t, out[1].Container.IsAbsent())

	valid := FilterValid(out)
	require.Len(t, valid, 1)
	assert.Equal(t, "b", valid[0].ID)
}

func TestNormalize_AssignsMissingIDs(t *testing.T) {
	out := Normalize([]models.RawFormat{{Ext: "mp4", VCodec: "avc1", ACodec: "mp4a", Height: 360}})
	require.Len(t, out, 1)
	assert.Equal(t, "fmt-0", out[0].ID)
}

func TestNormalize_ContainerFromMime(t *testing.T) {
	out := Normalize([]models.RawFormat{{FormatID: "251", MimeType: `audio/webm; codecs="opus"`, ACodec: "opus", ABR: 160}})
	require.Len(t, out, 1)
	assert.Equal(t, "webm", out[0].Container.Value)
}

func TestContainerFromMime(t *testing.T) {
	tests := map[string]string{
		`video/mp4; codecs="avc1.64001F, mp4a.40.2"`: "mp4",
		`audio/mp4; codecs="mp4a.40.2"`:             "m4a",
		"audio/mpeg":                                 "mp3",
		"video/3gpp":                                 "3gp",
		"video/x-flv":                                "flv",
		"application/vnd.apple.mpegurl":              "m3u8",
		"garbage":                                    "",
	}

	for in, want := range tests {
		assert.Equal(t, want, ContainerFromMime(in), in)
	}
}

func TestCodecsFromMime(t *testing.T) {
	assert.Equal(t, []string{"avc1.64001F", "mp4a.40.2"}, CodecsFromMime(`video/mp4; codecs="avc1.64001F, mp4a.40.2"`))
	assert.Nil(t, CodecsFromMime("video/mp4"))
}

func TestPrepare(t *testing.T) {
	raw := []models.RawFormat{
		{FormatID: "160", Ext: "mp4", VCodec: "avc1", ACodec: "none", Height: 144},
		{FormatID: "136", Ext: "mp4", VCodec: "avc1", ACodec: "none", Height: 720},
		{FormatID: "247", Ext: "webm", VCodec: "vp9", ACodec: "none", Height: 720},
		{FormatID: "22", Ext: "mp4", VCodec: "avc1", ACodec: "mp4a", Height: 720},
		{FormatID: "140", Ext: "m4a", VCodec: "none", ACodec: "mp4a", ABR: 128},
	}

	out := Prepare(raw, CategoryHD, SortByQuality)
	require.Len(t, out, 1)
	assert.Equal(t, "22", out[0].ID)

	all := Prepare(raw, CategoryAll, SortByQuality)
	assert.Len(t, all, 3)
}
