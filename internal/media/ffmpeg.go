// Package media combines separate video and audio streams and converts audio
// with ffmpeg.
package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrUnavailable is returned when the ffmpeg binary cannot be run
var ErrUnavailable = errors.New("ffmpeg not available")

// FFmpeg wraps FFmpeg operations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	userAgent   string
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath, userAgent string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		userAgent:   userAgent,
	}
}

// Available reports whether ffmpeg can be executed
func (f *FFmpeg) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, f.ffmpegPath, "-hide_banner", "-version").Run() == nil
}

// ProbeResult holds what ffprobe reports about a media file
type ProbeResult struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	BitRate   string `json:"bit_rate"`
}

// DurationSeconds returns the container duration or 0 when unknown
func (p *ProbeResult) DurationSeconds() float64 {
	d, _ := strconv.ParseFloat(p.Format.Duration, 64)
	return d
}

// HasStream reports whether a stream of the codec type ("video" or "audio") exists
func (p *ProbeResult) HasStream(codecType string) bool {
	for _, s := range p.Streams {
		if s.CodecType == codecType {
			return true
		}
	}
	return false
}

// Probe extracts metadata from a media file or URL
func (f *FFmpeg) Probe(ctx context.Context, input string) (*ProbeResult, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	var result ProbeResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &result, nil
}

// MuxOptions describes one combine job
type MuxOptions struct {
	VideoURL  string
	AudioURL  string
	Container string // mp4, webm or mkv
	// Duration of the source in seconds, used for progress
	Duration float64
}

// ProgressCallback is called with progress updates in percent
type ProgressCallback func(progress float64)

// MuxArgs builds the ffmpeg arguments that copy the video and audio streams
// into one container. Output "pipe:1" produces a fragmented, streamable file.
func (f *FFmpeg) MuxArgs(opts MuxOptions, output string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, f.inputArgs(opts.VideoURL)...)
	args = append(args, f.inputArgs(opts.AudioURL)...)
	args = append(args,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
	)

	container := strings.ToLower(opts.Container)
	switch container {
	case "webm":
		// webm only carries opus or vorbis audio
		args = append(args, "-c:a", "libopus")
	case "mkv":
		args = append(args, "-c:a", "copy")
	default:
		container = "mp4"
		args = append(args, "-c:a", "aac", "-b:a", "192k")
	}
	args = append(args, "-shortest")

	if output == "pipe:1" {
		switch container {
		case "mp4":
			args = append(args, "-movflags", "frag_keyframe+empty_moov+default_base_moof", "-f", "mp4")
		case "mkv":
			args = append(args, "-f", "matroska")
		default:
			args = append(args, "-f", container)
		}
	} else {
		if container == "mp4" {
			args = append(args, "-movflags", "+faststart")
		}
		args = append(args, "-progress", "pipe:1", "-y")
	}

	return append(args, output)
}

// AudioArgs builds the ffmpeg arguments that convert an audio source to mp3
// at bitrate kbps and stream it to stdout
func (f *FFmpeg) AudioArgs(input string, bitrate int) []string {
	if bitrate <= 0 {
		bitrate = 192
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, f.inputArgs(input)...)
	return append(args,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", fmt.Sprintf("%dk", bitrate),
		"-f", "mp3",
		"pipe:1",
	)
}

func (f *FFmpeg) inputArgs(input string) []string {
	var args []string
	if isRemote(input) {
		if f.userAgent != "" {
			args = append(args, "-user_agent", f.userAgent)
		}
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
	}
	return append(args, "-i", input)
}

func isRemote(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

// Mux combines the streams and writes the fragmented result to w
func (f *FFmpeg) Mux(ctx context.Context, opts MuxOptions, w io.Writer) error {
	return f.stream(ctx, f.MuxArgs(opts, "pipe:1"), w)
}

// TranscodeAudio converts input to mp3 and writes it to w
func (f *FFmpeg) TranscodeAudio(ctx context.Context, input string, bitrate int, w io.Writer) error {
	return f.stream(ctx, f.AudioArgs(input, bitrate), w)
}

func (f *FFmpeg) stream(ctx context.Context, args []string, w io.Writer) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	cmd.Stdout = w

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// MuxToFile combines the streams into outputPath, reporting progress
func (f *FFmpeg) MuxToFile(ctx context.Context, opts MuxOptions, outputPath string, progressCB ProgressCallback) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath, f.MuxArgs(opts, outputPath)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if p, ok := ParseProgress(scanner.Text(), opts.Duration); ok && progressCB != nil {
				progressCB(p)
			}
		}
	}()

	// Capture stderr for error reporting
	var stderrBuf bytes.Buffer
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrBuf.WriteString(scanner.Text() + "\n")
		}
	}()

	wg.Wait()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, stderrBuf.String())
	}

	if progressCB != nil {
		progressCB(100)
	}
	return nil
}

var progressRegex = regexp.MustCompile(`^out_time_ms=(\d+)$`)

// ParseProgress reads one line of ffmpeg -progress output. out_time_ms is
// reported in microseconds.
func ParseProgress(line string, totalSeconds float64) (float64, bool) {
	if totalSeconds <= 0 {
		return 0, false
	}
	matches := progressRegex.FindStringSubmatch(strings.TrimSpace(line))
	if len(matches) < 2 {
		return 0, false
	}
	us, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, false
	}

	progress := (us / 1e6 / totalSeconds) * 100
	if progress > 100 {
		progress = 100
	}
	return progress, true
}
