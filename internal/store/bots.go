// ABOUTME: BotStore keeps the bot config list in memory and rewrites the bots file on change
// ABOUTME: Username is the case-sensitive unique key for every lookup and mutation

package store

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// BotStore is the authoritative list of bot configurations.
type BotStore struct {
	mu   sync.RWMutex
	repo *FileRepository[BotConfig]
	bots []BotConfig
}

// OpenBotStore loads the bots file at path.
func OpenBotStore(path string, logger *slog.Logger) (*BotStore, error) {
	repo := NewFileRepository[BotConfig](path, logger)
	bots, err := repo.Load()
	if err != nil {
		return nil, err
	}
	return &BotStore{repo: repo, bots: bots}, nil
}

// List returns copies of all stored configs in file order.
func (s *BotStore) List() []BotConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BotConfig, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, b.Clone())
	}
	return out
}

// Get returns a copy of the config for username.
func (s *BotStore) Get(username string) (BotConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(username)
	if i < 0 {
		return BotConfig{}, fmt.Errorf("%w: bot %q", ErrNotFound, username)
	}
	return s.bots[i].Clone(), nil
}

// Add appends a new config and persists the list.
func (s *BotStore) Add(cfg BotConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(cfg.Username) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateBot, cfg.Username)
	}
	next := append(slices.Clone(s.bots), cfg.Clone())
	return s.commitLocked(next)
}

// Update replaces the config stored under username. The username inside cfg
// may differ, which renames the bot as long as the new name is free.
func (s *BotStore) Update(username string, cfg BotConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(username)
	if i < 0 {
		return fmt.Errorf("%w: bot %q", ErrNotFound, username)
	}
	if cfg.Username != username && s.indexLocked(cfg.Username) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateBot, cfg.Username)
	}
	next := slices.Clone(s.bots)
	next[i] = cfg.Clone()
	return s.commitLocked(next)
}

// Delete removes the config stored under username.
func (s *BotStore) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(username)
	if i < 0 {
		return fmt.Errorf("%w: bot %q", ErrNotFound, username)
	}
	next := slices.Delete(slices.Clone(s.bots), i, i+1)
	return s.commitLocked(next)
}

// EnabledPlugins returns the ordered enabled-plugin list for username.
func (s *BotStore) EnabledPlugins(username string) ([]string, error) {
	cfg, err := s.Get(username)
	if err != nil {
		return nil, err
	}
	return cfg.EnabledPlugins, nil
}

// SetEnabledPlugins replaces the enabled-plugin list for username. Running
// agents are unaffected; the list applies from the next start.
func (s *BotStore) SetEnabledPlugins(username string, plugins []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(username)
	if i < 0 {
		return fmt.Errorf("%w: bot %q", ErrNotFound, username)
	}
	next := slices.Clone(s.bots)
	updated := next[i].Clone()
	updated.EnabledPlugins = slices.Clone(plugins)
	if updated.EnabledPlugins == nil {
		updated.EnabledPlugins = []string{}
	}
	next[i] = updated
	return s.commitLocked(next)
}

// indexLocked must be called with mu held.
func (s *BotStore) indexLocked(username string) int {
	return slices.IndexFunc(s.bots, func(b BotConfig) bool {
		return b.Username == username
	})
}

// commitLocked persists next and only then makes it the in-memory list.
func (s *BotStore) commitLocked(next []BotConfig) error {
	if err := s.repo.Save(next); err != nil {
		return err
	}
	s.bots = next
	return nil
}
