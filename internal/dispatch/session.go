package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/clock"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/formats"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/poller"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// DefaultBatchPause separates the items of a batch
const DefaultBatchPause = time.Second

// MetadataAPI lists formats for batch downloads
type MetadataAPI interface {
	Metadata(ctx context.Context, req models.MetadataRequest) (*models.MetadataResponse, error)
}

// Session owns the download tasks of one user session. Each task's progress
// is driven by its own poller goroutine; the session keeps the latest
// snapshot of every task for display.
type Session struct {
	metadata   MetadataAPI
	dispatcher *Dispatcher
	poller     *poller.Poller
	clock      clock.Clock
	batchPause time.Duration
	logger     *logging.Logger
	newID      func() string

	mu        sync.Mutex
	tasks     map[string]models.DownloadTask
	order     []string
	delivered map[string]bool
	wg        sync.WaitGroup
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithSessionClock replaces the clock used for batch pauses
func WithSessionClock(c clock.Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// WithBatchPause replaces the pause between batch items
func WithBatchPause(d time.Duration) SessionOption {
	return func(s *Session) { s.batchPause = d }
}

// WithIDGenerator replaces the download ID generator
func WithIDGenerator(fn func() string) SessionOption {
	return func(s *Session) { s.newID = fn }
}

// WithSessionLogger sets the logger
func WithSessionLogger(l *logging.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSession creates a session
func NewSession(metadata MetadataAPI, dispatcher *Dispatcher, p *poller.Poller, opts ...SessionOption) *Session {
	s := &Session{
		metadata:   metadata,
		dispatcher: dispatcher,
		poller:     p,
		clock:      clock.New(),
		batchPause: DefaultBatchPause,
		logger:     logging.Nop(),
		newID:      uuid.NewString,
		tasks:      make(map[string]models.DownloadTask),
		delivered:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Download creates a task, starts polling its status and dispatches it.
// Polling continues in the background after a successful delivery; use Wait
// to block until every poller has finished.
func (s *Session) Download(ctx context.Context, url string, format models.MediaFormat, container, quality, title string) (*Delivery, error) {
	id := s.newID()
	task := models.NewDownloadTask(id, url, format)
	s.track(*task)

	if quality == "" {
		quality = format.Quality
	}
	if container == "" {
		container = format.Container.String()
	}

	pollCtx, cancelPoll := context.WithCancel(context.WithoutCancel(ctx))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancelPoll()
		_, err := s.poller.Run(pollCtx, *task, models.StatusRequest{
			DownloadID: id,
			URL:        url,
			Format:     container,
			Quality:    quality,
		}, s.update)
		if err != nil && pollCtx.Err() == nil {
			s.logger.WithDownloadID(id).WithError(err).Warn("Status poller stopped")
		}
	}()

	delivery, err := s.dispatcher.Dispatch(ctx, Request{
		ID:        id,
		URL:       url,
		Format:    format,
		Container: container,
		Quality:   quality,
		Title:     title,
	})
	if err != nil {
		cancelPoll()
		s.Stop(id)
		return nil, err
	}
	s.markDelivered(id)

	s.logger.LogDownloadEvent(id, "delivered", string(models.TaskStatusDownloading), map[string]interface{}{
		"strategy": delivery.Strategy,
		"bytes":    delivery.Bytes,
	})
	return delivery, nil
}

// BatchResult is the outcome of one batch item
type BatchResult struct {
	URL      string
	Format   models.MediaFormat
	Delivery *Delivery
	Err      error
}

// Batch downloads urls one at a time with a fixed pause between items. A
// failed item does not stop the batch.
func (s *Session) Batch(ctx context.Context, urls []string, container, quality string) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(urls))
	for i, url := range urls {
		if i > 0 {
			if err := s.clock.Sleep(ctx, s.batchPause); err != nil {
				return results, err
			}
		}

		result := BatchResult{URL: url}
		meta, err := s.metadata.Metadata(ctx, models.MetadataRequest{URL: url})
		if err != nil {
			result.Err = err
			results = append(results, result)
			continue
		}

		format, ok := ChooseFormat(meta, container, quality)
		if !ok {
			result.Err = fmt.Errorf("no format matches %s %s", container, quality)
			results = append(results, result)
			continue
		}
		result.Format = format
		result.Delivery, result.Err = s.Download(ctx, url, format, container, quality, meta.Title)
		results = append(results, result)

		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}
	return results, nil
}

// ChooseFormat selects the format matching a requested container and quality
func ChooseFormat(meta *models.MetadataResponse, container, quality string) (models.MediaFormat, bool) {
	if formats.IsAudioRequest(container, quality) {
		bitrate, _ := formats.ParseBitrate(quality)
		return formats.SelectAudio(meta.AudioFormats, bitrate)
	}
	height, _ := formats.ParseHeight(quality)
	return formats.SelectVideo(meta.VideoFormats, height)
}

// Stop removes a task from the display. It does not cancel the request or
// external fetch already in flight.
func (s *Session) Stop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return
	}
	delete(s.tasks, id)
	delete(s.delivered, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Task returns the latest snapshot of a task
func (s *Session) Task(id string) (models.DownloadTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Tasks returns snapshots of all displayed tasks in creation order
func (s *Session) Tasks() []models.DownloadTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DownloadTask, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id])
	}
	return out
}

// Active returns the IDs of tasks that have not finished, sorted
func (s *Session) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, t := range s.tasks {
		if !t.Status.IsFinished() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Wait blocks until every poller has finished
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) track(t models.DownloadTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
}

// markDelivered records a successful dispatch. A fallback strategy reuses
// the download ID, so the status of the failed first attempt may still be
// reported as an error afterwards.
func (s *Session) markDelivered(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return
	}
	s.delivered[id] = true
	s.tasks[id] = settle(t)
}

// update stores a poller snapshot unless the task was stopped
func (s *Session) update(t models.DownloadTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return
	}
	if s.delivered[t.ID] {
		t = settle(t)
	}
	s.tasks[t.ID] = t
}

// settle turns an error snapshot of a delivered task into a completed one
func settle(t models.DownloadTask) models.DownloadTask {
	if t.Status != models.TaskStatusError {
		return t
	}
	t.Status = models.TaskStatusCompleted
	t.Progress = 100
	t.ETA = ""
	if t.FileSize == "" {
		t.FileSize = models.DownloadReadyNotice
	}
	return t
}
