package models

import "time"

// MetadataRequest is the body of POST /download/metadata
type MetadataRequest struct {
	URL      string `json:"url" binding:"required"`
	Category string `json:"category,omitempty"`
	SortBy   string `json:"sortBy,omitempty"`
}

// MetadataResponse describes a source and its selectable formats
type MetadataResponse struct {
	Title        string        `json:"title"`
	Uploader     string        `json:"uploader"`
	Duration     float64       `json:"duration"`
	Thumbnail    string        `json:"thumbnail"`
	Extractor    string        `json:"extractor,omitempty"`
	VideoFormats []MediaFormat `json:"videoFormats"`
	AudioFormats []MediaFormat `json:"audioFormats"`
	AllFormats   []MediaFormat `json:"allFormats"`
}

// VideoRequest is the body of POST /download/video
type VideoRequest struct {
	URL       string `json:"url"`
	Format    string `json:"format"`
	Quality   string `json:"quality"`
	DirectURL string `json:"directUrl,omitempty"`
	Title     string `json:"title,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
}

// Response headers of POST /download/video
const (
	HeaderDownloadID   = "X-Download-ID"
	HeaderMuxed        = "X-Muxed-Download"
	HeaderVideoQuality = "X-Video-Quality"
	HeaderAudioQuality = "X-Audio-Quality"
)

// SuggestedActionManual tells the client to stop automatic delivery and show
// manual download instructions
const SuggestedActionManual = "manual"

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error           string   `json:"error"`
	Suggestion      string   `json:"suggestion,omitempty"`
	SuggestedAction string   `json:"suggestedAction,omitempty"`
	RequiresManual  bool     `json:"requiresManual,omitempty"`
	Instructions    []string `json:"instructions,omitempty"`
	Retryable       bool     `json:"retryable,omitempty"`
}

// ExtractLinksRequest is the body of POST /download/extract-links
type ExtractLinksRequest struct {
	URL     string `json:"url" binding:"required"`
	Format  string `json:"format"`
	Quality string `json:"quality"`
}

// QualityStats summarizes what an extract-links call found
type QualityStats struct {
	TotalFormats     int `json:"totalFormats"`
	VideoFormats     int `json:"videoFormats"`
	AudioFormats     int `json:"audioFormats"`
	ProgressiveCount int `json:"progressiveCount"`
	MaxHeight        int `json:"maxHeight"`
	MaxAudioBitrate  int `json:"maxAudioBitrate"`
}

// ExtractLinksResponse lists directly fetchable formats
type ExtractLinksResponse struct {
	Success      bool          `json:"success"`
	Title        string        `json:"title,omitempty"`
	VideoFormats []MediaFormat `json:"videoFormats"`
	AudioFormats []MediaFormat `json:"audioFormats"`
	QualityStats QualityStats  `json:"qualityStats"`
}

// StatusRequest is the body of POST /download/status
type StatusRequest struct {
	DownloadID string `json:"downloadId" binding:"required"`
	URL        string `json:"url"`
	Format     string `json:"format"`
	Quality    string `json:"quality"`
}

// StatusResponse is a real-time progress report
type StatusResponse struct {
	Progress     float64    `json:"progress"`
	Status       TaskStatus `json:"status"`
	Speed        string     `json:"speed"`
	ETA          string     `json:"eta"`
	FileSize     string     `json:"fileSize"`
	IsMuxed      bool       `json:"isMuxed,omitempty"`
	VideoQuality string     `json:"videoQuality,omitempty"`
	AudioQuality string     `json:"audioQuality,omitempty"`
	AudioCodec   string     `json:"audioCodec,omitempty"`
}

// ProgressRecord is the server-side progress of one download
type ProgressRecord struct {
	ID string `json:"id"`
	StatusResponse
	BytesDone  int64     `json:"bytesDone"`
	BytesTotal int64     `json:"bytesTotal"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	Extractors []string          `json:"extractors"`
	Muxing     bool              `json:"muxing"`
	Checks     map[string]string `json:"checks,omitempty"`
}
