package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore persists the snapshot as a JSON file on local disk. Writes go to a
// temporary file in the same directory which is then renamed over the target.
type FileStore struct {
	path string
}

// NewFileStore prepares a file-backed snapshot store, creating the parent
// directory when needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("cache: snapshot file path required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("cache: create snapshot directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(context.Context) ([]byte, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("cache: read snapshot file: %w", err)
	}
	if len(payload) == 0 {
		return nil, ErrNoSnapshot
	}
	return payload, nil
}

func (s *FileStore) Save(_ context.Context, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("cache: create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("cache: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("cache: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("cache: close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("cache: replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cache: remove snapshot file: %w", err)
	}
	return nil
}

func (s *FileStore) Close(context.Context) error { return nil }
