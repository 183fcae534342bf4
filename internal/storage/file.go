package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// FileStorage keeps the catalog in a YAML document on local disk. Writes go
// through a pending file that is fsynced and renamed over the target, so
// readers (including other processes) never see a torn document.
type FileStorage struct {
	path  string
	clock func() time.Time

	mu sync.Mutex
}

type fileDocument struct {
	PackSizes []int     `yaml:"pack_sizes"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// NewFileStorage creates a file-backed storage rooted at path. The file is
// created on the first SetPackSizes call.
func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, errors.New("file storage requires a path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog path: %w", err)
	}
	return &FileStorage{
		path: abs,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Path returns the absolute location of the catalog document.
func (s *FileStorage) Path() string {
	return s.path
}

// GetPackSizes reads the catalog document. A missing file yields an empty catalog.
func (s *FileStorage) GetPackSizes(context.Context) ([]int, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	return cloneSizes(doc.PackSizes), nil
}

// SetPackSizes atomically replaces the catalog document.
func (s *FileStorage) SetPackSizes(_ context.Context, sizes []int) error {
	data, err := yaml.Marshal(fileDocument{PackSizes: sizes, UpdatedAt: s.clock()})
	if err != nil {
		return fmt.Errorf("encode catalog file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending catalog file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write catalog file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace catalog file: %w", err)
	}
	return nil
}

// Ping reports whether the catalog directory is reachable.
func (s *FileStorage) Ping(context.Context) error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("stat catalog directory: %w", err)
	}
	return nil
}

// Close is a no-op for file storage.
func (s *FileStorage) Close() error {
	return nil
}
