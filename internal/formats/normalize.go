// Package formats normalizes extractor format lists and selects formats for
// display and download.
package formats

import (
	"fmt"
	"math"
	"mime"
	"strings"

	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// yt-dlp reports these when it cannot name the container
var unknownExts = map[string]bool{
	"unknown_video": true,
	"unknown_audio": true,
}

var subtitleExts = map[string]bool{
	"vtt": true, "srt": true, "ass": true, "ttml": true, "srv1": true, "srv2": true, "srv3": true, "json3": true,
}

var thumbnailExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "webp": true, "mhtml": true,
}

// Normalize maps raw extractor formats into MediaFormat values. Entries that
// carry neither a media track nor a subtitle or image extension are dropped.
func Normalize(raw []models.RawFormat) []models.MediaFormat {
	out := make([]models.MediaFormat, 0, len(raw))
	for i, r := range raw {
		f, ok := normalizeOne(r)
		if !ok {
			continue
		}
		if f.ID == "" {
			f.ID = fmt.Sprintf("fmt-%d", i)
		}
		out = append(out, f)
	}
	return out
}

func normalizeOne(r models.RawFormat) (models.MediaFormat, bool) {
	vcodec := strings.ToLower(strings.TrimSpace(r.VCodec))
	acodec := strings.ToLower(strings.TrimSpace(r.ACodec))
	container := containerFor(r)

	hasVideo := trackPresent(vcodec, r.Height > 0 || r.Width > 0)
	hasAudio := trackPresent(acodec, r.ABR > 0 && !hasVideo)

	f := models.MediaFormat{
		ID:        r.FormatID,
		Container: container,
		HasVideo:  hasVideo,
		HasAudio:  hasAudio,
		DirectURL: r.URL,
	}

	switch {
	case hasVideo && hasAudio:
		f.Type = models.FormatTypeProgressive
	case hasVideo:
		f.Type = models.FormatTypeVideoOnly
	case hasAudio:
		f.Type = models.FormatTypeAudioOnly
	case subtitleExts[container.Value]:
		f.Type = models.FormatTypeSubtitle
	case thumbnailExts[container.Value]:
		f.Type = models.FormatTypeThumbnail
	default:
		return models.MediaFormat{}, false
	}

	if hasVideo {
		f.Codec = codecAttr(vcodec)
		if r.Height > 0 {
			f.Height = intPtr(r.Height)
		}
		if r.Width > 0 {
			f.Width = intPtr(r.Width)
		}
	} else if hasAudio {
		f.Codec = codecAttr(acodec)
	}

	if hasAudio && !hasVideo {
		switch {
		case r.ABR > 0:
			f.Bitrate = intPtr(int(math.Round(r.ABR)))
		case r.TBR > 0:
			f.Bitrate = intPtr(int(math.Round(r.TBR)))
		}
	}

	switch {
	case r.Filesize > 0:
		f.ApproxFileSizeBytes = int64Ptr(r.Filesize)
	case r.FilesizeApprox > 0:
		f.ApproxFileSizeBytes = int64Ptr(r.FilesizeApprox)
	}

	f.Quality = QualityLabel(f)
	return f, true
}

// trackPresent decides whether a codec string denotes a track. An empty codec
// falls back to the hint derived from dimensions or bitrate.
func trackPresent(codec string, hint bool) bool {
	switch codec {
	case "none":
		return false
	case "":
		return hint
	default:
		return true
	}
}

func codecAttr(codec string) models.Attr {
	if codec == "none" {
		return models.Absent()
	}
	return models.ParseAttr(codec)
}

func containerFor(r models.RawFormat) models.Attr {
	ext := strings.ToLower(strings.TrimSpace(r.Ext))
	if unknownExts[ext] {
		return models.Unknown()
	}
	if ext != "" {
		return models.ParseAttr(ext)
	}
	if r.MimeType != "" {
		return models.ParseAttr(ContainerFromMime(r.MimeType))
	}
	return models.Absent()
}

// ContainerFromMime derives a container name from a MIME type such as
// `video/mp4; codecs="avc1.64001F, mp4a.40.2"`
func ContainerFromMime(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}

	switch mediaType {
	case "audio/mp4":
		return "m4a"
	case "audio/mpeg":
		return "mp3"
	case "video/3gpp":
		return "3gp"
	case "application/x-mpegurl", "application/vnd.apple.mpegurl":
		return "m3u8"
	}

	parts := strings.SplitN(mediaType, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return ""
	}
	return strings.TrimPrefix(parts[1], "x-")
}

// ContentType maps a container name to the MIME type it is served with
func ContentType(container string) string {
	switch strings.ToLower(container) {
	case "mp4":
		return "video/mp4"
	case "m4a":
		return "audio/mp4"
	case "mp3":
		return "audio/mpeg"
	case "mkv":
		return "video/x-matroska"
	case "webm":
		return "video/webm"
	case "opus", "ogg":
		return "audio/ogg"
	case "3gp":
		return "video/3gpp"
	case "flv":
		return "video/x-flv"
	default:
		return "application/octet-stream"
	}
}

// CodecsFromMime returns the codecs parameter of a MIME type
func CodecsFromMime(mimeType string) []string {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return nil
	}
	raw := params["codecs"]
	if raw == "" {
		return nil
	}

	var codecs []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codecs = append(codecs, c)
		}
	}
	return codecs
}

// QualityLabel renders the user-facing quality of a format, e.g. "720p" or "128kbps"
func QualityLabel(f models.MediaFormat) string {
	switch {
	case f.Type.IsVideo() && f.Height != nil:
		return fmt.Sprintf("%dp", *f.Height)
	case f.Type == models.FormatTypeAudioOnly && f.Bitrate != nil:
		return fmt.Sprintf("%dkbps", *f.Bitrate)
	default:
		return ""
	}
}

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }
