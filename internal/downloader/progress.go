package downloader

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/clock"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// ProgressStore keeps progress records for the status endpoint. A missing
// record is returned as nil without an error.
type ProgressStore interface {
	SetProgress(ctx context.Context, record *models.ProgressRecord, ttl time.Duration) error
	GetProgress(ctx context.Context, downloadID string) (*models.ProgressRecord, error)
	DeleteProgress(ctx context.Context, downloadID string) error
}

type memoryEntry struct {
	record  models.ProgressRecord
	expires time.Time
}

// MemoryStore is the in-process ProgressStore used when redis is disabled
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	records map[string]memoryEntry
}

// NewMemoryStore creates an empty store
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{clock: clk, records: make(map[string]memoryEntry)}
}

// SetProgress stores a copy of record. ttl <= 0 keeps it until overwritten.
func (m *MemoryStore) SetProgress(_ context.Context, record *models.ProgressRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	e := memoryEntry{record: *record}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	m.records[record.ID] = e
	m.evict(now)
	return nil
}

// GetProgress returns a copy of the stored record
func (m *MemoryStore) GetProgress(_ context.Context, downloadID string) (*models.ProgressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.records[downloadID]
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		delete(m.records, downloadID)
		return nil, nil
	}
	record := e.record
	return &record, nil
}

// DeleteProgress drops a record. Deleting an unknown ID is not an error.
func (m *MemoryStore) DeleteProgress(_ context.Context, downloadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, downloadID)
	return nil
}

func (m *MemoryStore) evict(now time.Time) {
	for id, e := range m.records {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(m.records, id)
		}
	}
}

// FormatBytes renders a byte count such as "12.3 MB"
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed renders a transfer rate such as "1.5 MB/s"
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}

// FormatETA renders a remaining duration as mm:ss or h:mm:ss
func FormatETA(d time.Duration) string {
	if d < 0 {
		return ""
	}
	s := int(d.Round(time.Second).Seconds())
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, s%3600/60, s%60)
	}
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}

// tracker turns written bytes into progress records
type tracker struct {
	mu         sync.Mutex
	store      ProgressStore
	clock      clock.Clock
	ttl        time.Duration
	interval   time.Duration
	record     models.ProgressRecord
	start      time.Time
	lastFlush  time.Time
	onProgress func(float64)
	logger     *logging.Logger
}

func (t *tracker) setTotal(total int64) {
	t.mu.Lock()
	t.record.BytesTotal = total
	t.mu.Unlock()
}

func (t *tracker) add(ctx context.Context, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.record.BytesDone += int64(n)
	t.record.Status = models.TaskStatusDownloading
	now := t.clock.Now()
	if now.Sub(t.lastFlush) < t.interval {
		return
	}
	t.refresh(now)
	t.flush(ctx, now)
}

// report sets progress from an external source such as ffmpeg -progress
func (t *tracker) report(ctx context.Context, progress float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.record.Status = models.TaskStatusDownloading
	t.record.Progress = clampProgress(progress)
	t.flush(ctx, t.clock.Now())
}

func (t *tracker) refresh(now time.Time) {
	r := &t.record
	elapsed := now.Sub(t.start).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(r.BytesDone) / elapsed
	}
	r.Speed = FormatSpeed(speed)

	if r.BytesTotal > 0 {
		r.Progress = clampProgress(float64(r.BytesDone) / float64(r.BytesTotal) * 100)
		r.FileSize = FormatBytes(r.BytesTotal)
		if speed > 0 && r.BytesTotal > r.BytesDone {
			r.ETA = FormatETA(time.Duration(float64(r.BytesTotal-r.BytesDone) / speed * float64(time.Second)))
		}
		return
	}
	r.FileSize = FormatBytes(r.BytesDone)
}

func (t *tracker) flush(ctx context.Context, now time.Time) {
	t.lastFlush = now
	t.record.UpdatedAt = now
	if t.onProgress != nil && t.record.Progress > 0 {
		t.onProgress(t.record.Progress)
	}
	record := t.record
	// progress writes must outlive a disconnected caller
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := t.store.SetProgress(ctx, &record, t.ttl); err != nil && t.logger != nil {
		t.logger.WithDownloadID(record.ID).WithError(err).Warn("Failed to store progress")
	}
}

func (t *tracker) finish(ctx context.Context, err error) models.ProgressRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.refresh(now)
	switch {
	case err != nil && t.record.Status == models.TaskStatusInitializing:
		// nothing reached the caller, who may retry under the same ID
		t.record.Error = err.Error()
	case err != nil:
		t.record.Status = models.TaskStatusError
		t.record.Error = err.Error()
	default:
		t.record.Status = models.TaskStatusCompleted
		t.record.Progress = 100
		t.record.ETA = FormatETA(0)
		t.record.FileSize = FormatBytes(t.record.BytesDone)
	}
	t.flush(ctx, now)
	return t.record
}

// writer counts bytes written through it into the tracker
type writer struct {
	ctx context.Context
	w   io.Writer
	t   *tracker
}

func (w *writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		w.t.add(w.ctx, n)
	}
	return n, err
}

// in-flight progress stays below 100 until the delivery finishes
func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 99:
		return 99
	default:
		return p
	}
}
