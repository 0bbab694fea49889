package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepStale(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	old := filepath.Join(dir, "job-1-Clip.mp4")
	fresh := filepath.Join(dir, "job-2-Clip.mp4")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(old, now.Add(-7*time.Hour), now.Add(-7*time.Hour)))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	removed, err := sweepStale(dir, now.Add(-staleFileAge))
	require.NoError(t, err)

	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.DirExists(t, filepath.Join(dir, "nested"))
}

func TestSweepStale_MissingDir(t *testing.T) {
	removed, err := sweepStale(filepath.Join(t.TempDir(), "missing"), time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
}
