package storage

import (
	"testing"
)

func TestContentType(t *testing.T) {
	tests := []struct {
		filePath string
		wantType string
	}{
		{"video.mp4", "video/mp4"},
		{"VIDEO.MP4", "video/mp4"},
		{"song.mp3", "audio/mpeg"},
		{"song.m4a", "audio/mp4"},
		{"video.mkv", "video/x-matroska"},
		{"video.webm", "video/webm"},
		{"voice.opus", "audio/ogg"},
		{"unknown.xyz", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.filePath, func(t *testing.T) {
			contentType := ContentType(tt.filePath)
			if contentType != tt.wantType {
				t.Errorf("ContentType(%q) = %q, want %q", tt.filePath, contentType, tt.wantType)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("job-1", "/tmp/work/Clip.mp4"); got != "jobs/job-1/Clip.mp4" {
		t.Errorf("ObjectKey = %q", got)
	}
	if got := ObjectKey("job-1", "../../etc/passwd"); got != "jobs/job-1/passwd" {
		t.Errorf("ObjectKey should drop directories, got %q", got)
	}
}

func TestContentDisposition(t *testing.T) {
	if got := ContentDisposition("clip.mp4"); got != "attachment; filename=clip.mp4" {
		t.Errorf("ContentDisposition = %q", got)
	}
	if got := ContentDisposition("my clip.mp4"); got != `attachment; filename="my clip.mp4"` {
		t.Errorf("ContentDisposition = %q", got)
	}
}
