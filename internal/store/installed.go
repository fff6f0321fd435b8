// ABOUTME: InstalledStore tracks which catalog plugins were installed and into which folder
// ABOUTME: Also provides the read-only RepoStore listing remote plugin catalogs

package store

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// InstalledStore is the persisted list of installed-plugin records.
type InstalledStore struct {
	mu      sync.RWMutex
	repo    *FileRepository[InstalledPlugin]
	records []InstalledPlugin
}

// OpenInstalledStore loads the installed-plugins file at path.
func OpenInstalledStore(path string, logger *slog.Logger) (*InstalledStore, error) {
	repo := NewFileRepository[InstalledPlugin](path, logger)
	records, err := repo.Load()
	if err != nil {
		return nil, err
	}
	return &InstalledStore{repo: repo, records: records}, nil
}

// List returns a copy of all records.
func (s *InstalledStore) List() []InstalledPlugin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// Contains reports whether pluginID has a record.
func (s *InstalledStore) Contains(pluginID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexLocked(pluginID) >= 0
}

// Add appends rec and persists the list. Callers check Contains first; Add
// itself does not deduplicate so the stored list mirrors what was installed.
func (s *InstalledStore) Add(rec InstalledPlugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := append(slices.Clone(s.records), rec)
	if err := s.repo.Save(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

// Remove drops the record for pluginID and returns it.
func (s *InstalledStore) Remove(pluginID string) (InstalledPlugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(pluginID)
	if i < 0 {
		return InstalledPlugin{}, fmt.Errorf("%w: plugin %q", ErrNotFound, pluginID)
	}
	rec := s.records[i]
	next := slices.Delete(slices.Clone(s.records), i, i+1)
	if err := s.repo.Save(next); err != nil {
		return InstalledPlugin{}, err
	}
	s.records = next
	return rec, nil
}

func (s *InstalledStore) indexLocked(pluginID string) int {
	return slices.IndexFunc(s.records, func(r InstalledPlugin) bool {
		return r.PluginID == pluginID
	})
}

// RepoStore reads the list of remote plugin catalogs. The file is re-read on
// every call so operators can edit it while the service runs.
type RepoStore struct {
	repo *FileRepository[Repo]
}

// NewRepoStore returns a RepoStore for the repos file at path.
func NewRepoStore(path string, logger *slog.Logger) *RepoStore {
	return &RepoStore{repo: NewFileRepository[Repo](path, logger)}
}

// List returns the configured catalogs in file order.
func (s *RepoStore) List() ([]Repo, error) {
	return s.repo.Load()
}
