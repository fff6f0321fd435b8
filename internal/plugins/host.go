// ABOUTME: Activation protocol for plugin bundles: always-on against the surface, per-bot against an agent
// ABOUTME: Every Init runs behind panic recovery so one plugin cannot take down the host or its peers

package plugins

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/botfleet/internal/pluginapi"
)

const (
	ModeAlwaysOn = "always_on"
	ModePerBot   = "per_bot"
)

// ActivationRecorder observes activation outcomes. err is nil on success.
type ActivationRecorder interface {
	PluginActivation(plugin, mode string, err error)
}

// Host activates registered bundles.
type Host struct {
	registry *Registry
	recorder ActivationRecorder
	logger   *slog.Logger
}

// NewHost creates a host over registry. recorder may be nil.
func NewHost(registry *Registry, recorder ActivationRecorder, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{registry: registry, recorder: recorder, logger: logger}
}

// Registry returns the registry the host activates from.
func (h *Host) Registry() *Registry {
	return h.registry
}

// ActivateAlwaysOn runs Init of every always-on bundle against surface and
// returns the identifiers that activated without error.
func (h *Host) ActivateAlwaysOn(surface pluginapi.Surface) []string {
	var activated []string
	for _, b := range h.registry.Bundles() {
		if !b.Manifest.AlwaysLoaded || b.Module.AlwaysOn == nil {
			continue
		}
		err := h.activate(b, ModeAlwaysOn, func() error {
			return b.Module.AlwaysOn(surface)
		})
		if err == nil {
			activated = append(activated, b.ID)
		}
	}
	return activated
}

// ActivateForAgent resolves each name of cfg.EnabledPlugins in order and runs
// its per-bot Init with agent and cfg. Unknown names and always-on bundles
// are logged and skipped, and a name listed twice activates once. It returns
// the identifiers that activated without error.
func (h *Host) ActivateForAgent(agent pluginapi.Agent, cfg pluginapi.BotConfig) []string {
	var activated []string
	seen := make(map[string]bool, len(cfg.EnabledPlugins))

	for _, name := range cfg.EnabledPlugins {
		if seen[name] {
			continue
		}
		seen[name] = true

		b, err := h.registry.Lookup(name)
		if err != nil {
			h.logger.Warn("enabled plugin not found", "plugin", name, "bot", agent.Username())
			continue
		}
		if b.Module.PerBot == nil {
			h.logger.Warn("enabled plugin is always-on, skipping per-bot activation",
				"plugin", name,
				"bot", agent.Username(),
			)
			continue
		}

		err = h.activate(b, ModePerBot, func() error {
			return b.Module.PerBot(agent, cfg)
		}, "bot", agent.Username())
		if err == nil {
			activated = append(activated, b.ID)
		}
	}
	return activated
}

// Reload drops every bundle, rediscovers the plugin root and activates the
// always-on bundles again. If surface can be reset, routes registered by the
// previous generation of plugins are cleared first. An interrupted
// discovery leaves bundles and routes untouched and returns its error.
func (h *Host) Reload(ctx context.Context, surface pluginapi.Surface) ([]string, error) {
	loaded, err := h.registry.Discover(ctx)
	if err != nil {
		return loaded, err
	}
	if r, ok := surface.(interface{ Reset() }); ok {
		r.Reset()
	}
	h.ActivateAlwaysOn(surface)
	return loaded, nil
}

func (h *Host) activate(b *Bundle, mode string, call func() error, attrs ...any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrPluginActivation, b.ID, r)
		}
		if err != nil {
			h.logger.Error("plugin activation failed",
				append([]any{"plugin", b.ID, "mode", mode, "error", err}, attrs...)...)
		} else {
			h.logger.Info("plugin activated",
				append([]any{"plugin", b.ID, "name", b.Manifest.Name, "mode", mode}, attrs...)...)
		}
		if h.recorder != nil {
			h.recorder.PluginActivation(b.ID, mode, err)
		}
	}()

	if callErr := call(); callErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrPluginActivation, b.ID, callErr)
	}
	return nil
}
