package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/capitalize-ai/docchat/pkg/logger"
	"github.com/capitalize-ai/docchat/pkg/metrics"
)

// FileStore keeps the state blob in a single file, written atomically
// via a temp file and rename.
type FileStore struct {
	path string
	log  *logger.Logger
}

// NewFile creates a file-backed store at path. Parent directories are
// created on first save.
func NewFile(path string, log *logger.Logger) *FileStore {
	if log == nil {
		log = logger.Global()
	}
	return &FileStore{path: path, log: log}
}

func (s *FileStore) Save(_ context.Context, data []byte) error {
	start := time.Now()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing state file: %w", err)
	}

	metrics.StateSaveDuration.WithLabelValues("file").Observe(time.Since(start).Seconds())
	s.log.Debug("state saved", "path", s.path, "bytes", len(data))
	return nil
}

func (s *FileStore) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	return data, nil
}

func (s *FileStore) Close() error { return nil }
