package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/media"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediadl/internal/tracing"
	"github.com/therealutkarshpriyadarshi/mediadl/pkg/models"
)

// Begin registers a download in the progress store so status queries find
// it before the first byte is written
func (s *Service) Begin(ctx context.Context, downloadID string, plan *Plan) {
	t := s.newTracker(downloadID, plan, nil)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flush(ctx, t.start)
}

func (s *Service) newTracker(downloadID string, plan *Plan, onProgress func(float64)) *tracker {
	now := s.clock.Now()
	return &tracker{
		store:      s.store,
		clock:      s.clock,
		ttl:        s.progressTTL,
		interval:   s.flushInterval,
		start:      now,
		lastFlush:  now,
		onProgress: onProgress,
		logger:     s.logger,
		record: models.ProgressRecord{
			ID: downloadID,
			StatusResponse: models.StatusResponse{
				Status:       models.TaskStatusInitializing,
				IsMuxed:      plan.Muxed(),
				VideoQuality: plan.VideoQuality(),
				AudioQuality: plan.AudioQuality(),
				AudioCodec:   plan.AudioCodec(),
			},
			BytesTotal: plan.ExpectedSize(),
		},
	}
}

// Forget drops the progress record of a download whose outcome is now
// tracked elsewhere
func (s *Service) Forget(ctx context.Context, downloadID string) {
	if err := s.store.DeleteProgress(ctx, downloadID); err != nil {
		s.logger.WithDownloadID(downloadID).WithError(err).Debug("Failed to drop progress record")
	}
}

// Deliver streams a plan into w and tracks its progress under downloadID.
// It returns the number of bytes written.
func (s *Service) Deliver(ctx context.Context, downloadID string, plan *Plan, w io.Writer) (int64, error) {
	return s.deliver(ctx, downloadID, plan, w, nil)
}

func (s *Service) deliver(ctx context.Context, downloadID string, plan *Plan, w io.Writer, onProgress func(float64)) (int64, error) {
	span, ctx := tracing.StartSpan(ctx, "downloader.deliver")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "download.id", downloadID)
	tracing.SetTag(span, "download.mode", string(plan.Mode))

	t := s.newTracker(downloadID, plan, onProgress)
	out := &writer{ctx: ctx, w: w, t: t}

	s.logger.LogDownloadEvent(downloadID, "started", string(plan.Mode), map[string]interface{}{
		"container": plan.Container,
		"video":     plan.VideoQuality(),
		"audio":     plan.AudioQuality(),
	})

	metrics.DownloadStarted()
	start := s.clock.Now()

	var err error
	switch plan.Mode {
	case ModeMuxed:
		err = s.muxer.Mux(ctx, s.muxOptions(plan), out)
		metrics.RecordMux(s.clock.Now().Sub(start))
	case ModeTranscode:
		err = s.muxer.TranscodeAudio(ctx, plan.Audio.DirectURL, plan.AudioBitrate, out)
	default:
		err = s.fetch(ctx, plan.SourceURL(), out, t)
	}

	record := t.finish(ctx, err)
	status := "completed"
	if err != nil {
		status = "failed"
		tracing.LogError(span, err)
		s.invalidate(ctx, plan, err)
	}
	metrics.RecordDownload(string(plan.Mode), status, record.BytesDone, s.clock.Now().Sub(start))
	s.logger.LogDownloadEvent(downloadID, "finished", status, map[string]interface{}{
		"bytes": record.BytesDone,
	})
	return record.BytesDone, err
}

func (s *Service) muxOptions(plan *Plan) media.MuxOptions {
	return media.MuxOptions{
		VideoURL:  plan.Video.DirectURL,
		AudioURL:  plan.Audio.DirectURL,
		Container: plan.Container,
		Duration:  plan.Duration,
	}
}

// fetch relays a remote URL into w
func (s *Service) fetch(ctx context.Context, sourceURL string, w io.Writer, t *tracker) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceFailed, err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	tracing.Inject(ctx, req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: source returned status %d", ErrSourceFailed, resp.StatusCode)
	}
	if resp.ContentLength > 0 {
		t.setTotal(resp.ContentLength)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("relay interrupted: %w", err)
	}
	return nil
}

// FileResult is a download written to local disk
type FileResult struct {
	Path string
	Size int64
	Plan *Plan
}

// FetchToFile plans req and writes the result into dir. Muxed plans go
// through ffmpeg's file output so the container can be finalized in place.
func (s *Service) FetchToFile(ctx context.Context, downloadID string, req models.VideoRequest, dir string, onProgress func(float64)) (*FileResult, error) {
	plan, err := s.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	outputPath := filepath.Join(dir, downloadID+"-"+plan.FileName())

	if plan.Muxed() {
		if err := s.muxToFile(ctx, downloadID, plan, outputPath, onProgress); err != nil {
			os.Remove(outputPath)
			return nil, err
		}
		info, err := os.Stat(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat output: %w", err)
		}
		return &FileResult{Path: outputPath, Size: info.Size(), Plan: plan}, nil
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	size, err := s.deliver(ctx, downloadID, plan, f, onProgress)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close output file: %w", cerr)
	}
	if err != nil {
		os.Remove(outputPath)
		return nil, err
	}
	return &FileResult{Path: outputPath, Size: size, Plan: plan}, nil
}

func (s *Service) muxToFile(ctx context.Context, downloadID string, plan *Plan, outputPath string, onProgress func(float64)) error {
	t := s.newTracker(downloadID, plan, onProgress)
	metrics.DownloadStarted()
	start := s.clock.Now()

	err := s.muxer.MuxToFile(ctx, s.muxOptions(plan), outputPath, func(p float64) {
		t.report(ctx, p)
	})
	metrics.RecordMux(s.clock.Now().Sub(start))
	if err == nil {
		err = s.verifyMux(ctx, downloadID, outputPath)
	}

	if err == nil {
		if info, serr := os.Stat(outputPath); serr == nil {
			t.mu.Lock()
			t.record.BytesDone = info.Size()
			t.mu.Unlock()
		}
	}
	record := t.finish(ctx, err)

	status := "completed"
	if err != nil {
		status = "failed"
	}
	metrics.RecordDownload(string(plan.Mode), status, record.BytesDone, s.clock.Now().Sub(start))
	return err
}

// verifyMux checks that a finished file carries both a video and an audio
// stream. ffmpeg exits cleanly when one input ends early.
func (s *Service) verifyMux(ctx context.Context, downloadID, outputPath string) error {
	probe, err := s.muxer.Probe(ctx, outputPath)
	if err != nil {
		return fmt.Errorf("%w: cannot read muxed output: %v", ErrSourceFailed, err)
	}
	for _, kind := range []string{"video", "audio"} {
		if !probe.HasStream(kind) {
			return fmt.Errorf("%w: muxed output has no %s stream", ErrSourceFailed, kind)
		}
	}
	s.logger.WithDownloadID(downloadID).Debugf("Muxed output verified (%.1fs)", probe.DurationSeconds())
	return nil
}
