// Package gateway wires the botfleet components behind one HTTP server.
//
// # Overview
//
// New opens the flat-file stores, discovers plugin bundles, activates the
// always-on ones and builds the bot lifecycle manager. Run serves the
// management surface on a TCP address or, when tailscale is enabled, on a
// tsnet node, and shuts everything down when its context ends.
//
// # HTTP API
//
//   - GET/POST /api/bots, PUT/DELETE /api/bots/{username}
//   - POST /api/bots/start, POST /api/bots/stop, GET /api/bots/status
//   - GET/PUT /api/bots/{username}/plugins
//   - GET /api/plugins, GET /api/plugins/installed, GET /api/plugin-list
//   - POST /api/plugins/install, /api/plugins/uninstall, /api/plugins/reload
//   - GET /ws status push
//   - /health/live, /health/ready and the configured metrics path
//
// Failed requests return {"error": message, "kind": Kind}, where Kind names
// the error (ConfigNotFound, AlreadyRunning, NotRunning, AlreadyInstalled,
// DownloadError, ExtractError, FolderMissing, ...).
//
// # Plugin routes
//
// Always-on plugins register handlers through a surface backed by a
// replaceable router. Registering a pattern twice replaces the handler and
// a reload clears every plugin route before activation. Requests no route
// claims fall through to static files: bundle assets under /plugins/, a
// bundle's UI under /<folder>/ and finally the public directory.
package gateway
