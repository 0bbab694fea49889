package formats

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

const (
	// MinVideoHeight is the lowest listed video height, inclusive
	MinVideoHeight = 144
	// MinAudioBitrate is the lowest listed audio bitrate in kbps, inclusive
	MinAudioBitrate = 64
	// DefaultAudioBitrate stands in for a missing bitrate when grouping
	DefaultAudioBitrate = 128
)

// Category narrows a format list to a quality tier
type Category string

const (
	CategoryAll       Category = "all"
	CategoryHD        Category = "hd"
	CategoryFHD       Category = "fhd"
	Category2K        Category = "2k"
	Category4K        Category = "4k"
	Category8K        Category = "8k"
	CategoryAudioHigh Category = "audio-high"
)

var categoryHeights = map[Category]int{
	CategoryHD:  720,
	CategoryFHD: 1080,
	Category2K:  1440,
	Category4K:  2160,
	Category8K:  4320,
}

const audioHighBitrate = 192

// SortKey orders a format list
type SortKey string

const (
	SortByQuality SortKey = "quality"
	SortBySize    SortKey = "size"
	SortByFormat  SortKey = "format"
)

var (
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidSortKey  = errors.New("invalid sort key")
)

// ParseCategory validates a category name. Empty means all.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return CategoryAll, nil
	}
	if c == CategoryAll || c == CategoryAudioHigh {
		return c, nil
	}
	if _, ok := categoryHeights[c]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// ParseSortKey validates a sort key name. Empty means quality.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SortByQuality, nil
	case SortByQuality, SortBySize, SortByFormat:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSortKey, s)
	}
}

// FilterValid drops formats that are not worth offering: explicit unknown
// codec or container, video below 144p or without a height, and audio with a
// reported bitrate below 64kbps. Absent values are kept.
func FilterValid(in []models.MediaFormat) []models.MediaFormat {
	out := make([]models.MediaFormat, 0, len(in))
	for _, f := range in {
		if f.Codec.IsUnknown() || f.Container.IsUnknown() {
			continue
		}
		if f.Type.IsVideo() && (f.Height == nil || *f.Height < MinVideoHeight) {
			continue
		}
		if f.Type == models.FormatTypeAudioOnly && f.Bitrate != nil && *f.Bitrate < MinAudioBitrate {
			continue
		}
		out = append(out, f)
	}
	return out
}

// QualityKey groups formats of the same nominal quality
func QualityKey(f models.MediaFormat) string {
	switch {
	case f.Type.IsVideo():
		return fmt.Sprintf("video-%d", f.HeightValue())
	case f.Type == models.FormatTypeAudioOnly:
		bitrate := DefaultAudioBitrate
		if f.Bitrate != nil {
			bitrate = *f.Bitrate
		}
		return fmt.Sprintf("audio-%d", bitrate)
	default:
		return string(f.Type) + "-" + f.ID
	}
}

// ChooseBetter resolves two formats of the same quality. Rules apply in
// order and the first that discriminates decides: complete audio+video,
// known codec, known file size, mp4 container. Ties keep a.
func ChooseBetter(a, b models.MediaFormat) models.MediaFormat {
	if a.IsComplete() != b.IsComplete() {
		if b.IsComplete() {
			return b
		}
		return a
	}
	if a.Codec.IsKnown() != b.Codec.IsKnown() {
		if b.Codec.IsKnown() {
			return b
		}
		return a
	}
	if (a.ApproxFileSizeBytes != nil) != (b.ApproxFileSizeBytes != nil) {
		if b.ApproxFileSizeBytes != nil {
			return b
		}
		return a
	}
	if a.Container.Is("mp4") != b.Container.Is("mp4") {
		if b.Container.Is("mp4") {
			return b
		}
		return a
	}
	return a
}

// DedupeByQuality keeps one format per quality key, in first-seen key order
func DedupeByQuality(in []models.MediaFormat) []models.MediaFormat {
	index := make(map[string]int, len(in))
	out := make([]models.MediaFormat, 0, len(in))
	for _, f := range in {
		key := QualityKey(f)
		if i, ok := index[key]; ok {
			out[i] = ChooseBetter(out[i], f)
			continue
		}
		index[key] = len(out)
		out = append(out, f)
	}
	return out
}

// FilterByCategory keeps the formats that meet the category's floor
func FilterByCategory(in []models.MediaFormat, c Category) []models.MediaFormat {
	if c == "" || c == CategoryAll {
		return append([]models.MediaFormat(nil), in...)
	}

	out := make([]models.MediaFormat, 0, len(in))
	for _, f := range in {
		if c == CategoryAudioHigh {
			if f.Type == models.FormatTypeAudioOnly && f.BitrateValue() >= audioHighBitrate {
				out = append(out, f)
			}
			continue
		}
		if f.Type.IsVideo() && f.HeightValue() >= categoryHeights[c] {
			out = append(out, f)
		}
	}
	return out
}

func qualityValue(f models.MediaFormat) int {
	if f.Height != nil {
		return *f.Height
	}
	if f.Bitrate != nil {
		return *f.Bitrate
	}
	return 0
}

// Sort returns a sorted copy. Quality and size sort descending with missing
// values as 0; format sorts ascending by container name. The sort is stable.
func Sort(in []models.MediaFormat, key SortKey) []models.MediaFormat {
	out := append([]models.MediaFormat(nil), in...)

	var less func(i, j int) bool
	switch key {
	case SortBySize:
		less = func(i, j int) bool { return out[i].SizeValue() > out[j].SizeValue() }
	case SortByFormat:
		less = func(i, j int) bool { return out[i].Container.String() < out[j].Container.String() }
	default:
		less = func(i, j int) bool { return qualityValue(out[i]) > qualityValue(out[j]) }
	}

	sort.SliceStable(out, less)
	return out
}

// Prepare runs the whole listing pipeline over raw extractor output
func Prepare(raw []models.RawFormat, c Category, key SortKey) []models.MediaFormat {
	return Clean(Normalize(raw), c, key)
}

// Clean runs filter, dedupe, category and sort over normalized formats
func Clean(in []models.MediaFormat, c Category, key SortKey) []models.MediaFormat {
	return Sort(FilterByCategory(DedupeByQuality(FilterValid(in)), c), key)
}

// Split partitions a list into video and audio-only formats
func Split(in []models.MediaFormat) (video, audio []models.MediaFormat) {
	video = []models.MediaFormat{}
	audio = []models.MediaFormat{}
	for _, f := range in {
		switch {
		case f.Type.IsVideo():
			video = append(video, f)
		case f.Type == models.FormatTypeAudioOnly:
			audio = append(audio, f)
		}
	}
	return video, audio
}

// BestAudio returns the highest-bitrate audio-only format with a direct URL
func BestAudio(in []models.MediaFormat) (models.MediaFormat, bool) {
	var best models.MediaFormat
	found := false
	for _, f := range in {
		if f.Type != models.FormatTypeAudioOnly || f.DirectURL == "" {
			continue
		}
		if !found || f.BitrateValue() > best.BitrateValue() {
			best = f
			found = true
		}
	}
	return best, found
}

// ProgressiveFallback finds a substitute for a format the backend could not
// deliver: the progressive format at the nearest height not above maxHeight,
// or failing that the best audio-only format. maxHeight <= 0 means no limit.
func ProgressiveFallback(in []models.MediaFormat, maxHeight int) (models.MediaFormat, bool) {
	var best models.MediaFormat
	found := false
	for _, f := range in {
		if f.Type != models.FormatTypeProgressive || f.Height == nil {
			continue
		}
		if maxHeight > 0 && *f.Height > maxHeight {
			continue
		}
		if !found || *f.Height > *best.Height {
			best = f
			found = true
		}
	}
	if found {
		return best, true
	}
	return BestAudio(in)
}

// SelectVideo picks the video format for a requested height: the highest
// available height not above target, preferring complete formats at that
// height. target <= 0 selects the highest available.
func SelectVideo(in []models.MediaFormat, target int) (models.MediaFormat, bool) {
	var best models.MediaFormat
	found := false
	for _, f := range in {
		if !f.Type.IsVideo() || f.DirectURL == "" || f.Height == nil {
			continue
		}
		if target > 0 && *f.Height > target {
			continue
		}
		switch {
		case !found, *f.Height > *best.Height:
			best = f
			found = true
		case *f.Height == *best.Height:
			best = ChooseBetter(best, f)
		}
	}
	return best, found
}

// SelectAudio picks the highest audio bitrate not above target kbps, falling
// back to the best audio overall. target <= 0 selects the best.
func SelectAudio(in []models.MediaFormat, target int) (models.MediaFormat, bool) {
	if target <= 0 {
		return BestAudio(in)
	}

	var best models.MediaFormat
	found := false
	for _, f := range in {
		if f.Type != models.FormatTypeAudioOnly || f.DirectURL == "" {
			continue
		}
		if f.BitrateValue() > target {
			continue
		}
		if !found || f.BitrateValue() > best.BitrateValue() {
			best = f
			found = true
		}
	}
	if found {
		return best, true
	}
	return BestAudio(in)
}

// ParseHeight reads a height from labels such as "720p", "1080", "4k" or
// "best". It returns 0 for best or empty.
func ParseHeight(quality string) (int, error) {
	q := strings.ToLower(strings.TrimSpace(quality))
	switch q {
	case "", "best", "highest", "max":
		return 0, nil
	case "2k":
		return 1440, nil
	case "4k":
		return 2160, nil
	case "8k":
		return 4320, nil
	}

	q = strings.TrimSuffix(q, "p")
	if i := strings.IndexAny(q, "p@"); i > 0 {
		q = q[:i]
	}
	h, err := strconv.Atoi(q)
	if err != nil || h <= 0 {
		return 0, fmt.Errorf("invalid video quality %q", quality)
	}
	return h, nil
}

// ParseBitrate reads a bitrate in kbps from labels such as "192kbps", "128k"
// or "best". It returns 0 for best or empty.
func ParseBitrate(quality string) (int, error) {
	q := strings.ToLower(strings.TrimSpace(quality))
	switch q {
	case "", "best", "highest", "max":
		return 0, nil
	}
	q = strings.TrimSuffix(q, "kbps")
	q = strings.TrimSuffix(q, "k")
	b, err := strconv.Atoi(q)
	if err != nil || b <= 0 {
		return 0, fmt.Errorf("invalid audio quality %q", quality)
	}
	return b, nil
}

// IsAudioRequest reports whether a requested format or quality names audio
func IsAudioRequest(format, quality string) bool {
	switch strings.ToLower(format) {
	case "mp3", "m4a", "aac", "opus", "ogg", "wav", "audio":
		return true
	}
	q := strings.ToLower(quality)
	return strings.HasSuffix(q, "kbps") || strings.HasSuffix(q, "k") && !strings.HasSuffix(q, "4k") && !strings.HasSuffix(q, "2k") && !strings.HasSuffix(q, "8k")
}
