package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "JSON format to stdout",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Unwritable file path",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "/nonexistent-dir/mediadl.log",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]interface{}{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	logger.Info("dropped")
	logger.Warn("kept")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0]["message"] != "kept" {
		t.Errorf("Expected message 'kept', got %v", entries[0]["message"])
	}
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug")

	logger.WithDownloadID("dl-1").WithSourceURL("https://youtu.be/x").WithFields(map[string]interface{}{
		"quality": "720p",
	}).Info("started")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0]["download_id"] != "dl-1" {
		t.Errorf("Expected download_id dl-1, got %v", entries[0]["download_id"])
	}
	if entries[0]["source_url"] != "https://youtu.be/x" {
		t.Errorf("Expected source_url, got %v", entries[0]["source_url"])
	}
	if entries[0]["quality"] != "720p" {
		t.Errorf("Expected quality 720p, got %v", entries[0]["quality"])
	}
}

func TestLogDownloadEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.LogDownloadEvent("dl-2", "muxed", "downloading", map[string]interface{}{
		"video_quality": "1080p",
	})

	entries := decodeLines(t, &buf)
	if entries[0]["event"] != "muxed" || entries[0]["status"] != "downloading" {
		t.Errorf("Unexpected entry: %v", entries[0])
	}
	if entries[0]["video_quality"] != "1080p" {
		t.Errorf("Expected video_quality 1080p, got %v", entries[0]["video_quality"])
	}
}

func TestLogExtractionAndStrategy(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.LogExtraction("yt-dlp", "https://youtu.be/x", 12, 300*time.Millisecond, nil)
	logger.LogStrategyAttempt("dl-3", "backend-fetch", errors.New("503"))

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0]["level"] != "info" {
		t.Errorf("Expected info level, got %v", entries[0]["level"])
	}
	if entries[1]["level"] != "warn" || entries[1]["delivered"] != false {
		t.Errorf("Unexpected strategy entry: %v", entries[1])
	}
}

func TestLogHTTPRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.LogHTTPRequest("POST", "/download/metadata", "192.168.1.1", 200, 100*time.Millisecond)

	entries := decodeLines(t, &buf)
	if entries[0]["status_code"] != float64(200) {
		t.Errorf("Expected status_code 200, got %v", entries[0]["status_code"])
	}
}

func TestLogStorageAndDatabaseOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	logger.LogStorageOperation("upload", "downloads", "jobs/1/video.mp4", 1048576, 2*time.Second, nil)
	logger.LogDatabaseOperation("UPDATE", 50*time.Millisecond, errors.New("conn refused"))

	logger.LogDatabaseOperation("get_job", time.Millisecond, nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("Expected successful query to stay below info, got %d entries", len(entries))
	}
	if entries[0]["key"] != "jobs/1/video.mp4" {
		t.Errorf("Expected object key, got %v", entries[0]["key"])
	}
	if entries[1]["level"] != "error" {
		t.Errorf("Expected error level, got %v", entries[1]["level"])
	}
}

func TestNop(t *testing.T) {
	Nop().WithJobID("job-1").Info("discarded")
}

func BenchmarkLogWithFields(b *testing.B) {
	logger := New(&bytes.Buffer{}, "info")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.WithFields(map[string]interface{}{
			"key1": "value1",
			"key2": 123,
		}).Info("benchmark message")
	}
}
