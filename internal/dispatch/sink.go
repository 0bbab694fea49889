package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/mediadl/internal/formats"
)

// Sink stores a delivered payload
type Sink interface {
	Save(ctx context.Context, name string, r io.Reader) (path string, n int64, err error)
}

// DirSink writes payloads into a directory. Partial files are removed on failure.
type DirSink struct {
	Dir string
}

// NewDirSink creates a sink rooted at dir
func NewDirSink(dir string) *DirSink {
	return &DirSink{Dir: dir}
}

func (s *DirSink) Save(ctx context.Context, name string, r io.Reader) (string, int64, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	path := uniquePath(filepath.Join(s.Dir, filepath.Base(name)))
	file, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(file, &ctxReader{ctx: ctx, r: r})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", n, err
	}
	return path, n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// FileName builds a safe file name from a title, falling back to the download ID
func FileName(title, id, ext string) string {
	name := formats.CleanFileName(title)
	if name == "" {
		name = formats.CleanFileName(id)
	}
	if name == "" {
		name = "download"
	}
	if ext == "" {
		return name
	}
	return name + "." + ext
}
