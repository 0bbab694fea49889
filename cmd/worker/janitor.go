package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/logging"
)

// staleFileAge is how long a partial download may sit in the download
// directory before it is treated as left over by a crashed worker
const staleFileAge = 6 * time.Hour

// cleanupStale sweeps the download directory every interval until ctx ends
func cleanupStale(ctx context.Context, dir string, interval time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sweepStale(dir, time.Now().Add(-staleFileAge))
			if err != nil {
				logger.WithError(err).Warn("Failed to sweep download directory")
				continue
			}
			if removed > 0 {
				logger.Infof("Removed %d stale files from %s", removed, dir)
			}
		}
	}
}

// sweepStale removes regular files in dir last modified before cutoff
func sweepStale(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
