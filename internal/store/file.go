// ABOUTME: Generic JSON-array repository backed by a single file
// ABOUTME: Load tolerates missing or corrupt files; Save writes a temp file and renames it

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileRepository loads and saves a whole []T as a pretty-printed JSON array.
type FileRepository[T any] struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewFileRepository returns a repository for the JSON file at path.
func NewFileRepository[T any](path string, logger *slog.Logger) *FileRepository[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileRepository[T]{
		path:   path,
		logger: logger.With("file", path),
	}
}

// Path returns the backing file path.
func (r *FileRepository[T]) Path() string {
	return r.path
}

// Load reads the file. A missing file is an empty list. A file that is not a
// valid JSON array is logged and also treated as empty, so a hand-edited file
// never keeps the service from starting.
func (r *FileRepository[T]) Load() ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", r.path, err)
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		r.logger.Warn("ignoring unreadable data file", "error", err)
		return []T{}, nil
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Save replaces the file contents with items.
func (r *FileRepository[T]) Save(items []T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if items == nil {
		items = []T{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", r.path, err)
	}

	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", r.path, err)
	}
	return nil
}
