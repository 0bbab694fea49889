package downloader

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/extractor"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/formats"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// Mode is how a plan is delivered
type Mode string

const (
	// ModeDirect relays one URL as is
	ModeDirect Mode = "direct"
	// ModeMuxed combines a video-only and an audio-only stream
	ModeMuxed Mode = "muxed"
	// ModeTranscode converts an audio stream to mp3
	ModeTranscode Mode = "transcode"
)

const defaultTranscodeBitrate = 192

var muxContainers = map[string]bool{"mp4": true, "webm": true, "mkv": true}

// Plan is the decision of what to fetch for one download request
type Plan struct {
	Mode         Mode
	Title        string
	Page         string // source page the formats were extracted from

	Video        models.MediaFormat
	Audio        models.MediaFormat
	Container    string
	AudioBitrate int
	Duration     float64
}

// Muxed reports whether the plan combines two streams
func (p *Plan) Muxed() bool {
	return p.Mode == ModeMuxed
}

// SourceURL is the URL a direct plan relays
func (p *Plan) SourceURL() string {
	if p.Video.DirectURL != "" {
		return p.Video.DirectURL
	}
	return p.Audio.DirectURL
}

// VideoQuality labels the video part of the plan
func (p *Plan) VideoQuality() string {
	return p.Video.Quality
}

// AudioQuality labels the audio part of the plan
func (p *Plan) AudioQuality() string {
	if p.Mode == ModeTranscode {
		return fmt.Sprintf("%dkbps", p.AudioBitrate)
	}
	if p.Audio.Quality != "" {
		return p.Audio.Quality
	}
	if p.Video.HasAudio {
		return "embedded"
	}
	return ""
}

// AudioCodec names the codec of the delivered audio track
func (p *Plan) AudioCodec() string {
	if p.Mode == ModeTranscode {
		return "mp3"
	}
	if p.Mode == ModeMuxed {
		switch p.Container {
		case "webm":
			return "opus"
		case "mkv":
			return p.Audio.Codec.String()
		default:
			return "aac"
		}
	}
	if p.Audio.Codec.IsKnown() {
		return p.Audio.Codec.Value
	}
	return ""
}

// ContentType is the MIME type the plan is served with
func (p *Plan) ContentType() string {
	return formats.ContentType(p.Container)
}

// FileName is a filesystem-safe name for the delivered file
func (p *Plan) FileName() string {
	ext := p.Container
	if ext == "" {
		ext = "bin"
	}
	name := formats.CleanFileName(p.Title)
	if name == "" {
		name = "download"
	}
	return name + "." + ext
}

// ExpectedSize estimates the delivered size in bytes, 0 when unknown
func (p *Plan) ExpectedSize() int64 {
	switch p.Mode {
	case ModeMuxed:
		if p.Video.ApproxFileSizeBytes == nil || p.Audio.ApproxFileSizeBytes == nil {
			return 0
		}
		return p.Video.SizeValue() + p.Audio.SizeValue()
	case ModeTranscode:
		if p.Duration <= 0 {
			return 0
		}
		return int64(p.Duration * float64(p.AudioBitrate) * 1000 / 8)
	default:
		if p.Video.DirectURL != "" {
			return p.Video.SizeValue()
		}
		return p.Audio.SizeValue()
	}
}

// Plan decides how to serve a download request. Complete formats are relayed
// directly; a video-only selection is muxed with the best matching audio when
// a muxer is configured, falls back to the nearest progressive format
// otherwise, and fails with a ManualError when neither is possible.
func (s *Service) Plan(ctx context.Context, req models.VideoRequest) (*Plan, error) {
	if req.DirectURL != "" {
		return directPlan(req)
	}

	info, err := s.mediaInfo(ctx, req.URL)
	if err != nil {
		return nil, err
	}

	all := formats.FilterValid(formats.Normalize(info.Formats))
	format := strings.ToLower(strings.TrimSpace(req.Format))

	var p *Plan
	if formats.IsAudioRequest(format, req.Quality) {
		p, err = s.planAudio(all, format, req.Quality)
	} else {
		p, err = s.planVideo(all, format, req.Quality)
	}
	if err != nil {
		return nil, err
	}

	p.Title = firstNonEmpty(req.Title, info.Title)
	p.Page = strings.TrimSpace(req.URL)
	p.Duration = info.Duration
	return p, nil
}

// directPlan relays a URL the client already picked
func directPlan(req models.VideoRequest) (*Plan, error) {
	u, err := extractor.ParseURL(req.DirectURL)
	if err != nil {
		return nil, invalid(err)
	}

	container := formats.ContainerFromMime(req.MimeType)
	if container == "" {
		container = strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	}
	if container == "" {
		container = strings.ToLower(req.Format)
	}

	f := models.MediaFormat{
		ID:        "direct",
		DirectURL: req.DirectURL,
		Container: models.ParseAttr(container),
		Quality:   req.Quality,
	}
	if strings.HasPrefix(req.MimeType, "audio/") || formats.IsAudioRequest(req.Format, req.Quality) {
		f.Type = models.FormatTypeAudioOnly
		f.HasAudio = true
		return &Plan{Mode: ModeDirect, Title: firstNonEmpty(req.Title, titleFromURL(u)), Audio: f, Container: container}, nil
	}

	f.Type = models.FormatTypeProgressive
	f.HasVideo, f.HasAudio = true, true
	return &Plan{Mode: ModeDirect, Title: firstNonEmpty(req.Title, titleFromURL(u)), Video: f, Container: container}, nil
}

func (s *Service) planAudio(all []models.MediaFormat, format, quality string) (*Plan, error) {
	target, err := formats.ParseBitrate(quality)
	if err != nil {
		return nil, invalid(err)
	}

	audio, ok := formats.SelectAudio(all, target)
	if !ok {
		return nil, ErrNoFormats
	}

	if format == "mp3" && !audio.Container.Is("mp3") {
		if s.muxer == nil {
			return nil, &ManualError{
				Reason:       "mp3 conversion is not available on this server",
				Instructions: manualInstructions(models.MediaFormat{}, audio),
			}
		}
		bitrate := target
		if bitrate <= 0 {
			bitrate = defaultTranscodeBitrate
		}
		return &Plan{Mode: ModeTranscode, Audio: audio, Container: "mp3", AudioBitrate: bitrate}, nil
	}

	return &Plan{Mode: ModeDirect, Audio: audio, Container: containerOf(audio, "m4a")}, nil
}

func (s *Service) planVideo(all []models.MediaFormat, format, quality string) (*Plan, error) {
	target, err := formats.ParseHeight(quality)
	if err != nil {
		return nil, invalid(err)
	}

	candidates := all
	if muxContainers[format] {
		if same := withContainer(all, format); hasVideo(same) {
			candidates = same
		}
	}

	video, ok := formats.SelectVideo(candidates, target)
	if !ok {
		return nil, ErrNoFormats
	}
	if video.IsComplete() {
		return &Plan{Mode: ModeDirect, Video: video, Container: containerOf(video, "mp4")}, nil
	}

	audio, hasAudio := audioPartner(all, video)
	if hasAudio && s.muxer != nil {
		return &Plan{
			Mode:      ModeMuxed,
			Video:     video,
			Audio:     audio,
			Container: muxContainer(format, video, audio),
		}, nil
	}

	if fb, ok := formats.ProgressiveFallback(all, target); ok && fb.IsComplete() {
		s.logger.WithField("requested", quality).WithField("fallback", fb.Quality).
			Info("Serving progressive fallback for video-only selection")
		return &Plan{Mode: ModeDirect, Video: fb, Container: containerOf(fb, "mp4")}, nil
	}

	return nil, &ManualError{
		Reason:       fmt.Sprintf("%s is only available as separate video and audio streams", video.Quality),
		Instructions: manualInstructions(video, audio),
	}
}

// audioPartner picks the audio stream to mux with video, preferring the
// same container family
func audioPartner(all []models.MediaFormat, video models.MediaFormat) (models.MediaFormat, bool) {
	family := "m4a"
	if video.Container.Is("webm") {
		family = "webm"
	}
	if a, ok := formats.BestAudio(withContainer(all, family)); ok {
		return a, true
	}
	return formats.BestAudio(all)
}

func muxContainer(requested string, video, audio models.MediaFormat) string {
	if muxContainers[requested] {
		return requested
	}
	switch {
	case video.Container.Is("webm") && audio.Container.Is("webm"):
		return "webm"
	case video.Container.Is("mp4"):
		return "mp4"
	default:
		return "mkv"
	}
}

func manualInstructions(video, audio models.MediaFormat) []string {
	var steps []string
	if video.DirectURL != "" {
		steps = append(steps, fmt.Sprintf("Download the video stream (%s): %s", video.Quality, video.DirectURL))
	}
	if audio.DirectURL != "" {
		steps = append(steps, fmt.Sprintf("Download the audio stream (%s): %s", audio.Quality, audio.DirectURL))
	}
	if video.DirectURL != "" && audio.DirectURL != "" {
		steps = append(steps, "Combine them with: ffmpeg -i video -i audio -c copy output.mkv")
	}
	if len(steps) == 0 {
		steps = append(steps, "Open the source page in a browser and save the media from there")
	}
	return steps
}

func withContainer(in []models.MediaFormat, container string) []models.MediaFormat {
	var out []models.MediaFormat
	for _, f := range in {
		if f.Container.Is(container) {
			out = append(out, f)
		}
	}
	return out
}

func hasVideo(in []models.MediaFormat) bool {
	for _, f := range in {
		if f.Type.IsVideo() {
			return true
		}
	}
	return false
}

func containerOf(f models.MediaFormat, fallback string) string {
	if f.Container.IsKnown() {
		return f.Container.Value
	}
	return fallback
}

func titleFromURL(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return u.Hostname()
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
