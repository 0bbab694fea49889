package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AttrState distinguishes a field the extractor reported, one it explicitly
// could not determine, and one it never mentioned.
type AttrState uint8

const (
	AttrAbsent AttrState = iota
	AttrUnknown
	AttrKnown
)

// UnknownValue is the wire form of an explicitly unknown attribute
const UnknownValue = "unknown"

// Attr is a tri-state string attribute: Known(value), Unknown or Absent.
// On the wire Known is the plain string, Unknown is "unknown" and Absent is null.
type Attr struct {
	State AttrState
	Value string
}

// Known returns an attribute holding v
func Known(v string) Attr {
	return Attr{State: AttrKnown, Value: v}
}

// Unknown returns the explicit unknown attribute
func Unknown() Attr {
	return Attr{State: AttrUnknown}
}

// Absent returns the attribute for an omitted field
func Absent() Attr {
	return Attr{}
}

// IsKnown reports whether the attribute carries a value
func (a Attr) IsKnown() bool { return a.State == AttrKnown }

// IsUnknown reports whether the attribute was explicitly reported as unknown
func (a Attr) IsUnknown() bool { return a.State == AttrUnknown }

// IsAbsent reports whether the attribute was never reported
func (a Attr) IsAbsent() bool { return a.State == AttrAbsent }

// Is reports whether the attribute is known and equal to v
func (a Attr) Is(v string) bool {
	return a.State == AttrKnown && a.Value == v
}

func (a Attr) String() string {
	switch a.State {
	case AttrKnown:
		return a.Value
	case AttrUnknown:
		return UnknownValue
	default:
		return ""
	}
}

// MarshalJSON implements json.Marshaler
func (a Attr) MarshalJSON() ([]byte, error) {
	switch a.State {
	case AttrKnown:
		return json.Marshal(a.Value)
	case AttrUnknown:
		return json.Marshal(UnknownValue)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Attr) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*a = Absent()
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("attribute must be a string or null: %w", err)
	}

	*a = ParseAttr(s)
	return nil
}

// ParseAttr maps an extractor string into the tri-state. Empty strings are
// absent and "unknown" is the explicit sentinel.
func ParseAttr(s string) Attr {
	switch s {
	case "":
		return Absent()
	case UnknownValue:
		return Unknown()
	default:
		return Known(s)
	}
}

// FormatType classifies a media variant
type FormatType string

const (
	FormatTypeProgressive FormatType = "video-progressive"
	FormatTypeVideoOnly   FormatType = "video-only"
	FormatTypeAudioOnly   FormatType = "audio-only"
	FormatTypeSubtitle    FormatType = "subtitle"
	FormatTypeThumbnail   FormatType = "thumbnail"
)

// IsVideo reports whether the type carries a video track
func (t FormatType) IsVideo() bool {
	return t == FormatTypeProgressive || t == FormatTypeVideoOnly
}

// MediaFormat is a normalized description of one downloadable variant of a source video
type MediaFormat struct {
	ID                  string     `json:"id"`
	Type                FormatType `json:"type"`
	Container           Attr       `json:"container"`
	Codec               Attr       `json:"codec"`
	Height              *int       `json:"height,omitempty"`
	Width               *int       `json:"width,omitempty"`
	Bitrate             *int       `json:"bitrate,omitempty"` // kbps
	HasVideo            bool       `json:"hasVideo"`
	HasAudio            bool       `json:"hasAudio"`
	ApproxFileSizeBytes *int64     `json:"approxFileSizeBytes,omitempty"`
	DirectURL           string     `json:"directUrl,omitempty"`
	Quality             string     `json:"quality,omitempty"`
}

// IsComplete reports whether the format is directly playable without muxing
func (f MediaFormat) IsComplete() bool {
	return f.HasVideo && f.HasAudio
}

// HeightValue returns the height or 0 when absent
func (f MediaFormat) HeightValue() int {
	if f.Height == nil {
		return 0
	}
	return *f.Height
}

// BitrateValue returns the bitrate in kbps or 0 when absent
func (f MediaFormat) BitrateValue() int {
	if f.Bitrate == nil {
		return 0
	}
	return *f.Bitrate
}

// SizeValue returns the approximate size in bytes or 0 when absent
func (f MediaFormat) SizeValue() int64 {
	if f.ApproxFileSizeBytes == nil {
		return 0
	}
	return *f.ApproxFileSizeBytes
}

// RawFormat is a format as an extraction backend reports it. Zero values mean
// the backend did not report the field; codec strings keep the backend's own
// "none" and "unknown" markers.
type RawFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	MimeType       string  `json:"mime_type,omitempty"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	FPS            float64 `json:"fps,omitempty"`
	ABR            float64 `json:"abr,omitempty"`
	TBR            float64 `json:"tbr,omitempty"`
	Filesize       int64   `json:"filesize,omitempty"`
	FilesizeApprox int64   `json:"filesize_approx,omitempty"`
	URL            string  `json:"url,omitempty"`
	Protocol       string  `json:"protocol,omitempty"`
	Note           string  `json:"format_note,omitempty"`
}

// MediaInfo is what an extraction backend reports for one source URL
type MediaInfo struct {
	SourceURL string      `json:"source_url"`
	Extractor string      `json:"extractor"`
	Title     string      `json:"title"`
	Uploader  string      `json:"uploader"`
	Duration  float64     `json:"duration"`
	Thumbnail string      `json:"thumbnail"`
	Formats   []RawFormat `json:"formats"`
}
