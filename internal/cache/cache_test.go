package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	if err := cache.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewCache_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	host, port := mr.Host(), mr.Server().Addr().Port
	mr.Close()

	if _, err := NewCache(host, port, "", 0); err == nil {
		t.Error("Expected an error for a closed Redis")
	}
}

func TestCache_MediaInfoOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	url := "https://www.youtube.com/watch?v=abc123"

	// Miss before set
	got, err := cache.GetMediaInfo(ctx, url)
	if err != nil {
		t.Fatalf("GetMediaInfo failed: %v", err)
	}
	if got != nil {
		t.Fatal("Expected cache miss")
	}

	info := &models.MediaInfo{
		SourceURL: url,
		Extractor: "youtube",
		Title:     "Sample clip",
		Duration:  212,
		Formats: []models.RawFormat{
			{FormatID: "18", Ext: "mp4", VCodec: "avc1", ACodec: "mp4a", Height: 360},
		},
	}
	if err := cache.SetMediaInfo(ctx, url, info, time.Hour); err != nil {
		t.Fatalf("SetMediaInfo failed: %v", err)
	}

	// Surrounding whitespace maps to the same key
	got, err = cache.GetMediaInfo(ctx, "  "+url+" ")
	if err != nil {
		t.Fatalf("GetMediaInfo failed: %v", err)
	}
	if got == nil || got.Title != "Sample clip" || len(got.Formats) != 1 {
		t.Fatalf("Unexpected cached media info: %+v", got)
	}

	mr.FastForward(2 * time.Hour)
	got, _ = cache.GetMediaInfo(ctx, url)
	if got != nil {
		t.Error("Expected entry to expire")
	}

	cache.SetMediaInfo(ctx, url, info, time.Hour)
	if err := cache.DeleteMediaInfo(ctx, url); err != nil {
		t.Fatalf("DeleteMediaInfo failed: %v", err)
	}
	got, _ = cache.GetMediaInfo(ctx, url)
	if got != nil {
		t.Error("Expected entry to be deleted")
	}
}

func TestCache_ProgressOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	record := &models.ProgressRecord{
		ID: "dl-1",
		StatusResponse: models.StatusResponse{
			Progress: 42.5,
			Status:   models.TaskStatusDownloading,
			Speed:    "1.2 MB/s",
			IsMuxed:  true,
		},
		BytesDone:  425,
		BytesTotal: 1000,
	}

	if err := cache.SetProgress(ctx, record, time.Minute); err != nil {
		t.Fatalf("SetProgress failed: %v", err)
	}

	got, err := cache.GetProgress(ctx, "dl-1")
	if err != nil {
		t.Fatalf("GetProgress failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected progress record")
	}
	if got.Progress != 42.5 || got.Status != models.TaskStatusDownloading || !got.IsMuxed {
		t.Errorf("Unexpected progress record: %+v", got)
	}

	missing, err := cache.GetProgress(ctx, "unknown")
	if err != nil || missing != nil {
		t.Errorf("Expected nil, nil for unknown id, got %+v, %v", missing, err)
	}

	if err := cache.DeleteProgress(ctx, "dl-1"); err != nil {
		t.Fatalf("DeleteProgress failed: %v", err)
	}
	if mr.Exists("progress:dl-1") {
		t.Error("Progress key should be gone")
	}
}

func TestCache_JobOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	job := &models.DownloadJob{
		ID:       "job-1",
		URL:      "https://example.com/v",
		Format:   "mp4",
		Status:   models.JobStatusProcessing,
		Progress: 10,
	}

	if err := cache.SetJob(ctx, job, time.Hour); err != nil {
		t.Fatalf("SetJob failed: %v", err)
	}

	if ttl := mr.TTL("job:job-1"); ttl != time.Hour {
		t.Errorf("Expected TTL of 1h, got %v", ttl)
	}

	got, err := cache.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got == nil || got.Status != models.JobStatusProcessing || got.URL != job.URL {
		t.Errorf("Unexpected job: %+v", got)
	}

	if err := cache.DeleteJob(ctx, "job-1"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	got, err = cache.GetJob(ctx, "job-1")
	if err != nil || got != nil {
		t.Errorf("Expected cache miss after delete, got %+v, %v", got, err)
	}
}

func TestCache_RateLimit(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	key := "ip:10.0.0.1"
	limit := int64(5)
	window := 1 * time.Minute

	// Should allow first 5 requests
	for i := 0; i < 5; i++ {
		allowed, err := cache.CheckRateLimit(ctx, key, limit, window)
		if err != nil {
			t.Fatalf("CheckRateLimit failed: %v", err)
		}

		if !allowed {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	// Should deny 6th request
	allowed, err := cache.CheckRateLimit(ctx, key, limit, window)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}

	if allowed {
		t.Error("Request beyond limit should be denied")
	}

	// A new window starts after expiry
	mr.FastForward(window + time.Second)
	allowed, _ = cache.CheckRateLimit(ctx, key, limit, window)
	if !allowed {
		t.Error("Request in a new window should be allowed")
	}
}

func TestCache_Locking(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	resource := "job:test-123"

	acquired, err := cache.AcquireLock(ctx, resource, 1*time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	if !acquired {
		t.Error("First lock acquisition should succeed")
	}

	acquired, err = cache.AcquireLock(ctx, resource, 1*time.Minute)
	if err != nil {
		t.Fatalf("Second AcquireLock failed: %v", err)
	}

	if acquired {
		t.Error("Second lock acquisition should fail")
	}

	if err := cache.ReleaseLock(ctx, resource); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}

	acquired, err = cache.AcquireLock(ctx, resource, 1*time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock after release failed: %v", err)
	}

	if !acquired {
		t.Error("Lock acquisition after release should succeed")
	}
}

func BenchmarkCache_GetMediaInfo(b *testing.B) {
	mr, _ := miniredis.Run()
	defer mr.Close()

	cache, _ := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	defer cache.Close()

	ctx := context.Background()
	url := "https://example.com/v"
	cache.SetMediaInfo(ctx, url, &models.MediaInfo{Title: "bench"}, time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.GetMediaInfo(ctx, url)
	}
}
