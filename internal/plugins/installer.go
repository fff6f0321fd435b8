// ABOUTME: Installs catalog plugins into the plugin root and uninstalls them again
// ABOUTME: Keeps the installed-plugins record, the bundle folders and the registry in step

package plugins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/2389/botfleet/internal/dedupe"
	"github.com/2389/botfleet/internal/store"
)

// installHoldTTL bounds how long a crashed install can block its plugin id.
const installHoldTTL = 10 * time.Minute

// InstalledRecords is the persisted list of installed plugins.
type InstalledRecords interface {
	List() []store.InstalledPlugin
	Contains(pluginID string) bool
	Add(rec store.InstalledPlugin) error
	Remove(pluginID string) (store.InstalledPlugin, error)
}

// InstallRecorder observes install and uninstall outcomes. err is nil on success.
type InstallRecorder interface {
	PluginInstall(op string, err error)
}

// Installer materializes catalog entries as bundles.
type Installer struct {
	registry *Registry
	records  InstalledRecords
	fetch    fetcher
	inflight *dedupe.Guard
	recorder InstallRecorder
	logger   *slog.Logger
}

// InstallerOptions configures NewInstaller.
type InstallerOptions struct {
	Client     *http.Client
	MaxRetries uint64
	Recorder   InstallRecorder
	Logger     *slog.Logger
}

// NewInstaller creates an installer that unpacks into registry's plugin root.
func NewInstaller(registry *Registry, records InstalledRecords, opts InstallerOptions) *Installer {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Installer{
		registry: registry,
		records:  records,
		fetch:    fetcher{client: opts.Client, maxRetries: opts.MaxRetries, logger: opts.Logger},
		inflight: dedupe.NewGuard(installHoldTTL),
		recorder: opts.Recorder,
		logger:   opts.Logger,
	}
}

// Close releases background resources.
func (i *Installer) Close() {
	i.inflight.Close()
}

// Installed returns the installed-plugin records.
func (i *Installer) Installed() []store.InstalledPlugin {
	return i.records.List()
}

// Install downloads entry's archive from archiveURL (or the entry's own URL
// when empty), unpacks it under entry.Folder, records it and registers the
// bundle. An id that already has a record fails with ErrAlreadyInstalled
// before anything touches the filesystem.
func (i *Installer) Install(ctx context.Context, entry CatalogEntry, archiveURL string) (rec store.InstalledPlugin, err error) {
	defer func() { i.record("install", err) }()

	if i.records.Contains(entry.PluginID) {
		return store.InstalledPlugin{}, fmt.Errorf("%w: %q", ErrAlreadyInstalled, entry.PluginID)
	}
	if !i.inflight.TryAcquire(entry.PluginID) {
		return store.InstalledPlugin{}, fmt.Errorf("%w: %q", ErrInstallInProgress, entry.PluginID)
	}
	defer i.inflight.Release(entry.PluginID)

	// Another install may have finished between the first check and acquiring.
	if i.records.Contains(entry.PluginID) {
		return store.InstalledPlugin{}, fmt.Errorf("%w: %q", ErrAlreadyInstalled, entry.PluginID)
	}
	if !validFolder(entry.Folder) {
		return store.InstalledPlugin{}, fmt.Errorf("%w: invalid folder %q", ErrExtract, entry.Folder)
	}

	url := archiveURL
	if url == "" {
		url = entry.PluginURL
	}
	if url == "" {
		return store.InstalledPlugin{}, fmt.Errorf("%w: no archive url for %q", ErrDownload, entry.PluginID)
	}

	i.logger.Info("downloading plugin", "plugin_id", entry.PluginID, "url", url)
	data, err := i.fetch.get(ctx, url)
	if err != nil {
		return store.InstalledPlugin{}, err
	}

	if err := os.MkdirAll(i.registry.Dir(), 0o755); err != nil {
		return store.InstalledPlugin{}, fmt.Errorf("%w: %v", ErrExtract, err)
	}
	if err := extractArchive(data, i.registry.Dir(), entry.Folder); err != nil {
		return store.InstalledPlugin{}, fmt.Errorf("%w: %v", ErrExtract, err)
	}

	rec = store.InstalledPlugin{PluginID: entry.PluginID, PluginFolder: entry.Folder}
	if err := i.records.Add(rec); err != nil {
		return store.InstalledPlugin{}, err
	}

	if _, err := i.registry.Register(entry.Folder); err != nil {
		i.logger.Warn("installed plugin did not load", "plugin_id", entry.PluginID, "folder", entry.Folder, "error", err)
	}

	i.logger.Info("=== PLUGIN INSTALLED ===", "plugin_id", entry.PluginID, "folder", entry.Folder)
	return rec, nil
}

// Uninstall removes pluginID's folder and record and drops its bundle. When
// the folder is already gone the record is still removed and the returned
// error wraps ErrFolderMissing.
func (i *Installer) Uninstall(ctx context.Context, pluginID string) (rec store.InstalledPlugin, err error) {
	defer func() { i.record("uninstall", err) }()

	if !i.inflight.TryAcquire(pluginID) {
		return store.InstalledPlugin{}, fmt.Errorf("%w: %q", ErrInstallInProgress, pluginID)
	}
	defer i.inflight.Release(pluginID)

	var found bool
	for _, r := range i.records.List() {
		if r.PluginID == pluginID {
			rec, found = r, true
			break
		}
	}
	if !found {
		return store.InstalledPlugin{}, fmt.Errorf("%w: %q", ErrNotFound, pluginID)
	}

	missing := true
	if validFolder(rec.PluginFolder) {
		dir := filepath.Join(i.registry.Dir(), rec.PluginFolder)
		_, statErr := os.Stat(dir)
		switch {
		case statErr == nil:
			missing = false
			if err := os.RemoveAll(dir); err != nil {
				return store.InstalledPlugin{}, fmt.Errorf("removing %s: %w", dir, err)
			}
		case !errors.Is(statErr, fs.ErrNotExist):
			return store.InstalledPlugin{}, fmt.Errorf("checking %s: %w", dir, statErr)
		}
	}

	if _, err := i.records.Remove(pluginID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.InstalledPlugin{}, err
	}
	i.registry.Unregister(rec.PluginFolder)

	if missing {
		i.logger.Warn("plugin folder already gone, record removed", "plugin_id", pluginID, "folder", rec.PluginFolder)
		return rec, fmt.Errorf("%w: %q", ErrFolderMissing, rec.PluginFolder)
	}
	i.logger.Info("=== PLUGIN UNINSTALLED ===", "plugin_id", pluginID, "folder", rec.PluginFolder)
	return rec, nil
}

func (i *Installer) record(op string, err error) {
	if i.recorder != nil {
		i.recorder.PluginInstall(op, err)
	}
}

func validFolder(folder string) bool {
	return folder != "" && filepath.IsLocal(folder) && !strings.ContainsAny(folder, `/\`) && !strings.HasPrefix(folder, ".")
}
