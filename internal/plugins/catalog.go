// ABOUTME: Remote plugin catalog: aggregates plugin listings from every configured repo
// ABOUTME: Repos are fetched concurrently; a failing repo is logged and left out of the listing

package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/2389/botfleet/internal/store"
)

// CatalogEntry is one plugin offered by a remote repo.
type CatalogEntry struct {
	PluginID    string `json:"pluginId"`
	PluginName  string `json:"pluginName"`
	PluginURL   string `json:"pluginUrl"`
	Folder      string `json:"folder"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	RepoName    string `json:"repoName"`
}

// repoDocument is the JSON served at a repo URL.
type repoDocument struct {
	Plugins []CatalogEntry `json:"plugins"`
}

// RepoSource lists the configured catalogs.
type RepoSource interface {
	List() ([]store.Repo, error)
}

// Catalog reads plugin listings from remote repos.
type Catalog struct {
	repos  RepoSource
	fetch  fetcher
	logger *slog.Logger
}

// NewCatalog creates a catalog. client may be nil to use http.DefaultClient.
func NewCatalog(repos RepoSource, client *http.Client, maxRetries uint64, logger *slog.Logger) *Catalog {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		repos:  repos,
		fetch:  fetcher{client: client, maxRetries: maxRetries, logger: logger},
		logger: logger,
	}
}

// List returns the entries of every reachable repo, in repo order. It only
// fails when the repo list itself cannot be read.
func (c *Catalog) List(ctx context.Context) ([]CatalogEntry, error) {
	repos, err := c.repos.List()
	if err != nil {
		return nil, err
	}

	results := make([][]CatalogEntry, len(repos))
	g, gctx := errgroup.WithContext(ctx)
	for i, repo := range repos {
		g.Go(func() error {
			entries, err := c.fetchRepo(gctx, repo)
			if err != nil {
				c.logger.Error("failed to fetch plugin repo", "repo", repo.RepoName, "url", repo.RepoURL, "error", err)
				return nil
			}
			results[i] = entries
			return nil
		})
	}
	_ = g.Wait()

	all := []CatalogEntry{}
	for _, entries := range results {
		all = append(all, entries...)
	}
	return all, nil
}

// Find walks the repos in order and returns the first entry whose id equals
// pluginID or whose name equals pluginName. Empty arguments never match.
func (c *Catalog) Find(ctx context.Context, pluginID, pluginName string) (CatalogEntry, error) {
	repos, err := c.repos.List()
	if err != nil {
		return CatalogEntry{}, err
	}

	var fetchErr error
	for _, repo := range repos {
		entries, err := c.fetchRepo(ctx, repo)
		if err != nil {
			c.logger.Error("failed to fetch plugin repo", "repo", repo.RepoName, "url", repo.RepoURL, "error", err)
			fetchErr = err
			continue
		}
		for _, e := range entries {
			if (pluginID != "" && e.PluginID == pluginID) || (pluginName != "" && e.PluginName == pluginName) {
				return e, nil
			}
		}
	}

	// A repo we could not read might have listed it.
	if fetchErr != nil {
		return CatalogEntry{}, fetchErr
	}
	return CatalogEntry{}, fmt.Errorf("%w: %q", ErrCatalogEntryNotFound, firstNonEmpty(pluginID, pluginName))
}

func (c *Catalog) fetchRepo(ctx context.Context, repo store.Repo) ([]CatalogEntry, error) {
	data, err := c.fetch.get(ctx, repo.RepoURL)
	if err != nil {
		return nil, err
	}
	var doc repoDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: repo %s: %v", ErrDownload, repo.RepoName, err)
	}
	for i := range doc.Plugins {
		doc.Plugins[i].RepoName = repo.RepoName
	}
	return doc.Plugins, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
