package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// mediaKey hashes the source URL so keys stay short and free of separators
func mediaKey(sourceURL string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(sourceURL)))
	return "media:" + hex.EncodeToString(sum[:])
}

// Media Info Cache Operations

// SetMediaInfo caches extractor output for a source URL
func (c *Cache) SetMediaInfo(ctx context.Context, sourceURL string, info *models.MediaInfo, ttl time.Duration) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal media info: %w", err)
	}
	return c.client.Set(ctx, mediaKey(sourceURL), data, ttl).Err()
}

// GetMediaInfo retrieves cached extractor output. A miss returns nil, nil.
func (c *Cache) GetMediaInfo(ctx context.Context, sourceURL string) (*models.MediaInfo, error) {
	data, err := c.client.Get(ctx, mediaKey(sourceURL)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheAccess("media", false)
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get media info from cache: %w", err)
	}

	var info models.MediaInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal media info: %w", err)
	}

	metrics.RecordCacheAccess("media", true)
	return &info, nil
}

// DeleteMediaInfo removes a source from cache
func (c *Cache) DeleteMediaInfo(ctx context.Context, sourceURL string) error {
	return c.client.Del(ctx, mediaKey(sourceURL)).Err()
}

// Progress Operations

// SetProgress stores the progress record of a download
func (c *Cache) SetProgress(ctx context.Context, record *models.ProgressRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	key := fmt.Sprintf("progress:%s", record.ID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetProgress retrieves the progress record of a download. A miss returns nil, nil.
func (c *Cache) GetProgress(ctx context.Context, downloadID string) (*models.ProgressRecord, error) {
	key := fmt.Sprintf("progress:%s", downloadID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get progress from cache: %w", err)
	}

	var record models.ProgressRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return &record, nil
}

// DeleteProgress removes a progress record
func (c *Cache) DeleteProgress(ctx context.Context, downloadID string) error {
	return c.client.Del(ctx, fmt.Sprintf("progress:%s", downloadID)).Err()
}

// Job Cache Operations

// SetJob caches job state
func (c *Cache) SetJob(ctx context.Context, job *models.DownloadJob, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	key := fmt.Sprintf("job:%s", job.ID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetJob retrieves job state from cache. A miss returns nil, nil.
func (c *Cache) GetJob(ctx context.Context, jobID string) (*models.DownloadJob, error) {
	key := fmt.Sprintf("job:%s", jobID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheAccess("job", false)
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get job from cache: %w", err)
	}

	var job models.DownloadJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	metrics.RecordCacheAccess("job", true)
	return &job, nil
}

// DeleteJob removes job from cache
func (c *Cache) DeleteJob(ctx context.Context, jobID string) error {
	key := fmt.Sprintf("job:%s", jobID)
	return c.client.Del(ctx, key).Err()
}

// Rate Limiting Operations

// CheckRateLimit counts a request against a fixed window and reports whether
// it is still within limit
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := c.client.Incr(ctx, rateLimitKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiry on first request
	if count == 1 {
		if err := c.client.Expire(ctx, rateLimitKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set expiry: %w", err)
		}
	}

	return count <= limit, nil
}

// Locking Operations for Distributed Systems

// AcquireLock attempts to acquire a distributed lock
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.Del(ctx, key).Err()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
