// ABOUTME: Sentinel errors for plugin discovery, loading, activation and installation
// ABOUTME: Callers match them with errors.Is; the gateway maps each to an error kind

package plugins

import "errors"

var (
	// ErrNotFound is returned when no bundle or install record matches an identifier.
	ErrNotFound = errors.New("plugin not found")

	// ErrAlreadyInstalled is returned when installing an id that already has a record.
	ErrAlreadyInstalled = errors.New("plugin is already installed")

	// ErrInstallInProgress is returned when the same id is being installed concurrently.
	ErrInstallInProgress = errors.New("plugin install already in progress")

	// ErrDownload wraps transport failures while fetching an archive or catalog.
	ErrDownload = errors.New("error downloading plugin")

	// ErrExtract wraps archive failures while unpacking a bundle.
	ErrExtract = errors.New("error extracting plugin")

	// ErrFolderMissing is returned by uninstall when the record existed but its folder did not.
	ErrFolderMissing = errors.New("plugin folder not found")

	// ErrPluginLoad is returned when a bundle's manifest or module cannot be loaded.
	ErrPluginLoad = errors.New("plugin load error")

	// ErrPluginActivation wraps an error or panic raised by a plugin's Init.
	ErrPluginActivation = errors.New("plugin activation error")

	// ErrCatalogEntryNotFound is returned when no catalog repo lists the requested plugin.
	ErrCatalogEntryNotFound = errors.New("plugin not found in repos")
)
