// ABOUTME: Thread-safe registry of plugin bundles discovered under the plugin root
// ABOUTME: Discovery rebuilds the whole map and swaps it in; one bad bundle never fails the scan

package plugins

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
)

// Bundle is a plugin whose manifest and module both loaded.
type Bundle struct {
	// ID is the bundle's folder name under the plugin root.
	ID       string
	Path     string
	Manifest Manifest
	Module   Module
}

// UIPath returns the absolute directory of the bundle's UI assets.
func (b *Bundle) UIPath() string {
	return filepath.Join(b.Path, b.Manifest.UIDir())
}

// Info is the operator-facing description of a bundle.
type Info struct {
	Folder          string `json:"folder"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	DescriptionHTML string `json:"descriptionHtml,omitempty"`
	UI              string `json:"ui"`
	AlwaysLoaded    bool   `json:"alwaysLoaded"`
	Version         string `json:"version,omitempty"`
}

// Registry maps bundle identifiers to loaded bundles.
type Registry struct {
	dir    string
	loader Loader
	logger *slog.Logger

	mu      sync.RWMutex
	bundles map[string]*Bundle
}

// NewRegistry creates an empty registry rooted at dir.
func NewRegistry(dir string, loader Loader, logger *slog.Logger) *Registry {
	if loader == nil {
		loader = ScriptLoader{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		dir:     dir,
		loader:  loader,
		logger:  logger,
		bundles: make(map[string]*Bundle),
	}
}

// Dir returns the plugin root.
func (r *Registry) Dir() string {
	return r.dir
}

// Discover drops every registered bundle and rescans the plugin root. It
// returns the identifiers that loaded, sorted. Bundles that fail to load are
// logged and skipped. If ctx ends mid-scan the registered bundles are left
// as they were and their identifiers are returned with ctx's error.
func (r *Registry) Discover(ctx context.Context) ([]string, error) {
	next := make(map[string]*Bundle)

	entries, err := os.ReadDir(r.dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		r.logger.Warn("plugin directory does not exist", "dir", r.dir)
	case err != nil:
		r.logger.Error("failed to read plugin directory", "dir", r.dir, "error", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("plugin discovery interrupted, keeping current bundles", "error", err)
			return r.ids(), fmt.Errorf("discovering plugins: %w", err)
		}
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		b, err := r.load(entry.Name())
		if err != nil {
			r.logger.Warn("skipping plugin bundle", "folder", entry.Name(), "error", err)
			continue
		}
		next[b.ID] = b
		r.logger.Info("plugin loaded",
			"folder", b.ID,
			"name", b.Manifest.Name,
			"always_loaded", b.Manifest.AlwaysLoaded,
		)
	}

	r.mu.Lock()
	r.bundles = next
	r.mu.Unlock()

	ids := r.ids()
	r.logger.Info("=== PLUGINS DISCOVERED ===", "dir", r.dir, "count", len(ids))
	return ids, nil
}

func (r *Registry) ids() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.bundles))
	for id := range r.bundles {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Register loads the bundle in folder and adds or replaces it.
func (r *Registry) Register(folder string) (*Bundle, error) {
	b, err := r.load(folder)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.bundles[b.ID] = b
	r.mu.Unlock()

	r.logger.Info("plugin registered", "folder", b.ID, "name", b.Manifest.Name)
	return b, nil
}

// Unregister removes folder from the registry if present.
func (r *Registry) Unregister(folder string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bundles[folder]; ok {
		delete(r.bundles, folder)
		r.logger.Info("plugin unregistered", "folder", folder)
	}
}

// Lookup returns the bundle whose folder name is exactly id.
func (r *Registry) Lookup(id string) (*Bundle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bundles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return b, nil
}

// Bundles returns all registered bundles sorted by identifier.
func (r *Registry) Bundles() []*Bundle {
	r.mu.RLock()
	out := make([]*Bundle, 0, len(r.bundles))
	for _, b := range r.bundles {
		out = append(out, b)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Bundle) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Count returns the number of registered bundles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bundles)
}

// ListAll returns every bundle's identifier and manifest fields. Markdown
// descriptions are also rendered to HTML for the dashboard.
func (r *Registry) ListAll() []Info {
	bundles := r.Bundles()
	out := make([]Info, 0, len(bundles))
	for _, b := range bundles {
		out = append(out, Info{
			Folder:          b.ID,
			Name:            b.Manifest.Name,
			Description:     b.Manifest.Description,
			DescriptionHTML: renderDescription(b.Manifest.Description),
			UI:              b.Manifest.UI,
			AlwaysLoaded:    b.Manifest.AlwaysLoaded,
			Version:         b.Manifest.Version,
		})
	}
	return out
}

func (r *Registry) load(folder string) (*Bundle, error) {
	if !filepath.IsLocal(folder) || strings.ContainsAny(folder, `/\`) {
		return nil, fmt.Errorf("%w: invalid folder name %q", ErrPluginLoad, folder)
	}
	dir := filepath.Join(r.dir, folder)

	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	mod, err := r.loader.Load(dir, m)
	if err != nil {
		if !errors.Is(err, ErrPluginLoad) {
			err = fmt.Errorf("%w: %v", ErrPluginLoad, err)
		}
		return nil, err
	}
	if mod.PerBot == nil && mod.AlwaysOn == nil {
		return nil, fmt.Errorf("%w: module has no entry point", ErrPluginLoad)
	}

	return &Bundle{
		ID:       folder,
		Path:     dir,
		Manifest: m,
		Module:   mod,
	}, nil
}

func renderDescription(md string) string {
	if md == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return ""
	}
	return buf.String()
}
