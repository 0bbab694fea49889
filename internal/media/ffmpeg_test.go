package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMuxArgs_StreamingMP4(t *testing.T) {
	f := NewFFmpeg("", "", "mediadl-test")
	args := f.MuxArgs(MuxOptions{
		VideoURL:  "https://cdn/v.mp4",
		AudioURL:  "https://cdn/a.m4a",
		Container: "mp4",
	}, "pipe:1")

	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-user_agent", "mediadl-test", "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5", "-i", "https://cdn/v.mp4",
		"-user_agent", "mediadl-test", "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5", "-i", "https://cdn/a.m4a",
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy", "-c:a", "aac", "-b:a", "192k",
		"-shortest",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof", "-f", "mp4",
		"pipe:1",
	}, args)
}

func TestMuxArgs_WebMToFile(t *testing.T) {
	f := NewFFmpeg("", "", "")
	args := f.MuxArgs(MuxOptions{VideoURL: "/tmp/v.webm", AudioURL: "/tmp/a.webm", Container: "WEBM"}, "/tmp/out.webm")

	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", "/tmp/v.webm",
		"-i", "/tmp/a.webm",
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "copy", "-c:a", "libopus",
		"-shortest",
		"-progress", "pipe:1", "-y",
		"/tmp/out.webm",
	}, args)
}

func TestMuxArgs_UnknownContainerFallsBackToMP4(t *testing.T) {
	args := NewFFmpeg("", "", "").MuxArgs(MuxOptions{VideoURL: "v", AudioURL: "a", Container: "avi"}, "pipe:1")
	assert.Contains(t, args, "aac")
	assert.Equal(t, []string{"-f", "mp4", "pipe:1"}, args[len(args)-3:])
}

func TestMuxArgs_MKVStream(t *testing.T) {
	args := NewFFmpeg("", "", "").MuxArgs(MuxOptions{VideoURL: "v", AudioURL: "a", Container: "mkv"}, "pipe:1")
	assert.Equal(t, []string{"-f", "matroska", "pipe:1"}, args[len(args)-3:])
}

func TestAudioArgs(t *testing.T) {
	args := NewFFmpeg("", "", "").AudioArgs("/tmp/a.webm", 0)
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", "/tmp/a.webm",
		"-vn", "-c:a", "libmp3lame", "-b:a", "192k", "-f", "mp3", "pipe:1",
	}, args)

	args = NewFFmpeg("", "", "").AudioArgs("/tmp/a.webm", 320)
	assert.Contains(t, args, "320k")
}

func TestParseProgress(t *testing.T) {
	p, ok := ParseProgress("out_time_ms=30000000", 60)
	assert.True(t, ok)
	assert.InDelta(t, 50.0, p, 0.001)

	p, ok = ParseProgress("out_time_ms=90000000", 60)
	assert.True(t, ok)
	assert.Equal(t, 100.0, p)

	_, ok = ParseProgress("frame=120", 60)
	assert.False(t, ok)

	_, ok = ParseProgress("out_time_ms=1000", 0)
	assert.False(t, ok)
}

func TestProbeResult(t *testing.T) {
	p := &ProbeResult{
		Format:  FormatInfo{Duration: "12.5"},
		Streams: []StreamInfo{{CodecType: "video"}, {CodecType: "audio"}},
	}
	assert.Equal(t, 12.5, p.DurationSeconds())
	assert.True(t, p.HasStream("audio"))
	assert.False(t, p.HasStream("subtitle"))
}
