// ABOUTME: HTTP API handlers for bot configs, bot lifecycle and plugin management
// ABOUTME: Errors are returned as {"error", "kind"} JSON with a status chosen per error kind

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/botfleet/internal/bots"
	"github.com/2389/botfleet/internal/plugins"
	"github.com/2389/botfleet/internal/store"
)

// BotActionRequest is the JSON body for POST /api/bots/start and /api/bots/stop.
type BotActionRequest struct {
	Username string `json:"username"`
}

// EnabledPluginsRequest is the JSON body for PUT /api/bots/{username}/plugins.
type EnabledPluginsRequest struct {
	EnabledPlugins []string `json:"enabledPlugins"`
}

// InstallRequest is the JSON body for POST /api/plugins/install. The catalog
// entry is looked up by id or name; PluginURL overrides the entry's archive.
type InstallRequest struct {
	PluginID   string `json:"pluginId"`
	PluginName string `json:"pluginName"`
	PluginURL  string `json:"pluginUrl"`
}

// UninstallRequest is the JSON body for POST /api/plugins/uninstall.
type UninstallRequest struct {
	PluginID string `json:"pluginId"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// errorKinds maps sentinel errors to a status code and kind, checked in order.
var errorKinds = []struct {
	err    error
	status int
	kind   string
}{
	{bots.ErrConfigNotFound, http.StatusNotFound, "ConfigNotFound"},
	{bots.ErrAlreadyRunning, http.StatusConflict, "AlreadyRunning"},
	{bots.ErrNotRunning, http.StatusNotFound, "NotRunning"},
	{bots.ErrCapacity, http.StatusServiceUnavailable, "Capacity"},
	{plugins.ErrAlreadyInstalled, http.StatusConflict, "AlreadyInstalled"},
	{plugins.ErrInstallInProgress, http.StatusConflict, "InstallInProgress"},
	{plugins.ErrCatalogEntryNotFound, http.StatusNotFound, "NotFound"},
	{plugins.ErrNotFound, http.StatusNotFound, "NotFound"},
	{plugins.ErrDownload, http.StatusBadGateway, "DownloadError"},
	{plugins.ErrExtract, http.StatusUnprocessableEntity, "ExtractError"},
	{plugins.ErrFolderMissing, http.StatusNotFound, "FolderMissing"},
	{store.ErrDuplicateBot, http.StatusConflict, "DuplicateBot"},
	{store.ErrInvalidBot, http.StatusBadRequest, "InvalidBot"},
	{store.ErrNotFound, http.StatusNotFound, "ConfigNotFound"},
}

// classify returns the status code and kind for err.
func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.kind
		}
	}
	return http.StatusInternalServerError, "Internal"
}

func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/bots", g.handleListBots)
	mux.HandleFunc("POST /api/bots", g.handleCreateBot)
	mux.HandleFunc("PUT /api/bots/{username}", g.handleUpdateBot)
	mux.HandleFunc("DELETE /api/bots/{username}", g.handleDeleteBot)
	mux.HandleFunc("POST /api/bots/start", g.handleStartBot)
	mux.HandleFunc("POST /api/bots/stop", g.handleStopBot)
	mux.HandleFunc("GET /api/bots/status", g.handleBotStatus)
	mux.HandleFunc("GET /api/bots/{username}/plugins", g.handleGetBotPlugins)
	mux.HandleFunc("PUT /api/bots/{username}/plugins", g.handleSetBotPlugins)

	mux.HandleFunc("GET /api/plugins", g.handleListPlugins)
	mux.HandleFunc("GET /api/plugins/installed", g.handleInstalledPlugins)
	mux.HandleFunc("GET /api/plugin-list", g.handleCatalog)
	mux.HandleFunc("POST /api/plugins/install", g.handleInstallPlugin)
	mux.HandleFunc("POST /api/plugins/uninstall", g.handleUninstallPlugin)
	mux.HandleFunc("POST /api/plugins/reload", g.handleReloadPlugins)
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, kind, message string) {
	g.writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

// sendError classifies err and writes it. Unclassified errors are logged and
// reported without detail.
func (g *Gateway) sendError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, status, kind, "internal server error")
		return
	}
	g.sendJSONError(w, status, kind, err.Error())
}

func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "InvalidRequest", "invalid JSON body")
		return false
	}
	return true
}

// redact drops credentials from configs returned to observers.
func redact(cfgs ...store.BotConfig) []store.BotConfig {
	out := make([]store.BotConfig, len(cfgs))
	for i, c := range cfgs {
		c = c.Clone()
		c.Password = ""
		out[i] = c
	}
	return out
}

// handleListBots handles GET /api/bots.
func (g *Gateway) handleListBots(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, redact(g.botStore.List()...))
}

// handleCreateBot handles POST /api/bots.
func (g *Gateway) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var cfg store.BotConfig
	if !g.decode(w, r, &cfg) {
		return
	}
	if cfg.EnabledPlugins == nil {
		cfg.EnabledPlugins = []string{}
	}
	if err := g.botStore.Add(cfg); err != nil {
		g.sendError(w, err)
		return
	}
	g.logger.Info("bot config added", "bot", cfg.Username)
	g.writeJSON(w, http.StatusCreated, map[string]any{"success": true, "config": redact(cfg)[0]})
}

// handleUpdateBot handles PUT /api/bots/{username}. The change applies from
// the bot's next start.
func (g *Gateway) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	var cfg store.BotConfig
	if !g.decode(w, r, &cfg) {
		return
	}
	if cfg.Username == "" {
		cfg.Username = username
	}
	if err := g.botStore.Update(username, cfg); err != nil {
		g.sendError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"success": true, "config": redact(cfg)[0]})
}

// handleDeleteBot handles DELETE /api/bots/{username}. A running bot is
// stopped first.
func (g *Gateway) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if err := g.bots.Stop(username); err != nil && !errors.Is(err, bots.ErrNotRunning) {
		g.sendError(w, err)
		return
	}
	if err := g.botStore.Delete(username); err != nil {
		g.sendError(w, err)
		return
	}
	g.logger.Info("bot config deleted", "bot", username)
	g.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleStartBot handles POST /api/bots/start.
func (g *Gateway) handleStartBot(w http.ResponseWriter, r *http.Request) {
	var req BotActionRequest
	if !g.decode(w, r, &req) {
		return
	}
	rec, err := g.bots.Start(req.Username)
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Bot %s started", req.Username),
		"status":  rec,
	})
}

// handleStopBot handles POST /api/bots/stop.
func (g *Gateway) handleStopBot(w http.ResponseWriter, r *http.Request) {
	var req BotActionRequest
	if !g.decode(w, r, &req) {
		return
	}
	if err := g.bots.Stop(req.Username); err != nil {
		g.sendError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Bot %s stopped", req.Username),
	})
}

// handleBotStatus handles GET /api/bots/status.
func (g *Gateway) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.bots.ListRunningStatus())
}

// handleGetBotPlugins handles GET /api/bots/{username}/plugins.
func (g *Gateway) handleGetBotPlugins(w http.ResponseWriter, r *http.Request) {
	enabled, err := g.botStore.EnabledPlugins(r.PathValue("username"))
	if err != nil {
		g.sendError(w, fmt.Errorf("%w: %v", bots.ErrConfigNotFound, err))
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"enabledPlugins": enabled})
}

// handleSetBotPlugins handles PUT /api/bots/{username}/plugins.
func (g *Gateway) handleSetBotPlugins(w http.ResponseWriter, r *http.Request) {
	var req EnabledPluginsRequest
	if !g.decode(w, r, &req) {
		return
	}
	if req.EnabledPlugins == nil {
		req.EnabledPlugins = []string{}
	}
	if err := g.bots.SetEnabledPlugins(r.PathValue("username"), req.EnabledPlugins); err != nil {
		g.sendError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"success": true, "enabledPlugins": req.EnabledPlugins})
}

// handleListPlugins handles GET /api/plugins.
func (g *Gateway) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.registry.ListAll())
}

// handleInstalledPlugins handles GET /api/plugins/installed.
func (g *Gateway) handleInstalledPlugins(w http.ResponseWriter, r *http.Request) {
	recs := g.installer.Installed()
	if recs == nil {
		recs = []store.InstalledPlugin{}
	}
	g.writeJSON(w, http.StatusOK, recs)
}

// handleCatalog handles GET /api/plugin-list.
func (g *Gateway) handleCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := g.catalog.List(r.Context())
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, entries)
}

// handleInstallPlugin handles POST /api/plugins/install.
func (g *Gateway) handleInstallPlugin(w http.ResponseWriter, r *http.Request) {
	var req InstallRequest
	if !g.decode(w, r, &req) {
		return
	}
	if req.PluginID == "" && req.PluginName == "" {
		g.sendJSONError(w, http.StatusBadRequest, "InvalidRequest", "pluginId or pluginName is required")
		return
	}

	if req.PluginID != "" && g.installed.Contains(req.PluginID) {
		g.sendError(w, fmt.Errorf("%w: %q", plugins.ErrAlreadyInstalled, req.PluginID))
		return
	}

	ctx := r.Context()
	entry, err := g.catalog.Find(ctx, req.PluginID, req.PluginName)
	if err != nil {
		g.sendError(w, err)
		return
	}
	if _, err := g.installer.Install(ctx, entry, req.PluginURL); err != nil {
		g.sendError(w, err)
		return
	}
	g.metrics.SetBundles(g.registry.Count())

	g.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Plugin %s installed", entry.PluginID),
		"plugins": g.registry.ListAll(),
	})
}

// handleUninstallPlugin handles POST /api/plugins/uninstall.
func (g *Gateway) handleUninstallPlugin(w http.ResponseWriter, r *http.Request) {
	var req UninstallRequest
	if !g.decode(w, r, &req) {
		return
	}
	if req.PluginID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "InvalidRequest", "pluginId is required")
		return
	}

	_, err := g.installer.Uninstall(r.Context(), req.PluginID)
	g.metrics.SetBundles(g.registry.Count())
	if err != nil {
		g.sendError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Plugin %s uninstalled", req.PluginID),
		"plugins": g.registry.ListAll(),
	})
}

// handleReloadPlugins handles POST /api/plugins/reload. The reload outlives
// a client that disconnects mid-request.
func (g *Gateway) handleReloadPlugins(w http.ResponseWriter, r *http.Request) {
	loaded, err := g.host.Reload(context.WithoutCancel(r.Context()), g.surface)
	if err != nil {
		g.sendError(w, err)
		return
	}
	g.metrics.SetBundles(len(loaded))
	g.logger.Info("plugins reloaded", "count", len(loaded))
	g.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"plugins": g.registry.ListAll(),
	})
}
