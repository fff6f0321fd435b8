// ABOUTME: Handle is the runtime record of one running bot and its connection
// ABOUTME: Tracks status, implements the plugin-facing Agent and fans events out to plugin listeners

package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/botfleet/internal/pluginapi"
	"github.com/2389/botfleet/internal/store"
)

// ErrNotConnected is returned by Chat and Quit before the connection is up.
var ErrNotConnected = errors.New("agent not connected")

// Status is the lifecycle state of a running bot.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
	StatusFaulted    Status = "faulted"
)

// Record is the observer-facing view of a handle. It never carries the
// bot's password.
type Record struct {
	Username       string    `json:"username"`
	Server         string    `json:"server"`
	Port           int       `json:"port"`
	Version        string    `json:"version,omitempty"`
	Status         Status    `json:"status"`
	SessionID      string    `json:"sessionId"`
	EnabledPlugins []string  `json:"enabledPlugins"`
	StartedAt      time.Time `json:"startedAt"`
	ChangedAt      time.Time `json:"changedAt"`
	Error          string    `json:"error,omitempty"`
}

// Handle wraps a single bot's connection. It is safe for concurrent use.
type Handle struct {
	id        string
	cfg       store.BotConfig
	startedAt time.Time
	logger    *slog.Logger

	mu        sync.RWMutex
	conn      Conn
	status    Status
	changedAt time.Time
	lastErr   string
	listeners map[pluginapi.EventType][]func(pluginapi.Event)
}

// NewHandle creates a handle in the connecting state. cfg is copied so later
// edits to the stored config do not reach the running bot.
func NewHandle(cfg store.BotConfig, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now()
	id := uuid.New().String()
	return &Handle{
		id:        id,
		cfg:       cfg.Clone(),
		startedAt: now,
		logger:    logger.With("bot", cfg.Username, "session_id", id),
		status:    StatusConnecting,
		changedAt: now,
		listeners: make(map[pluginapi.EventType][]func(pluginapi.Event)),
	}
}

// ID returns the unique session id of this handle.
func (h *Handle) ID() string { return h.id }

// Username returns the bot identifier.
func (h *Handle) Username() string { return h.cfg.Username }

// Config returns a copy of the config the bot was started with.
func (h *Handle) Config() store.BotConfig { return h.cfg.Clone() }

// PluginConfig returns the config in the shape handed to plugins.
func (h *Handle) PluginConfig() pluginapi.BotConfig {
	c := h.cfg.Clone()
	return pluginapi.BotConfig{
		Username:       c.Username,
		Server:         c.Server,
		Port:           c.Port,
		Version:        c.Version,
		Password:       c.Password,
		EnabledPlugins: c.EnabledPlugins,
	}
}

// Logger returns the handle's scoped logger.
func (h *Handle) Logger() *slog.Logger { return h.logger }

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// SetStatus moves the handle to s. A non-empty reason is kept for the record.
func (h *Handle) SetStatus(s Status, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = s
	h.changedAt = time.Now()
	h.lastErr = reason
}

// Record returns the observer-facing snapshot.
func (h *Handle) Record() Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Record{
		Username:       h.cfg.Username,
		Server:         h.cfg.Server,
		Port:           h.cfg.Port,
		Version:        h.cfg.Version,
		Status:         h.status,
		SessionID:      h.id,
		EnabledPlugins: slices.Clone(h.cfg.EnabledPlugins),
		StartedAt:      h.startedAt,
		ChangedAt:      h.changedAt,
		Error:          h.lastErr,
	}
}

// Attach binds the live connection to the handle.
func (h *Handle) Attach(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn = conn
}

func (h *Handle) connection() Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conn
}

// Chat sends a chat line or command to the server.
func (h *Handle) Chat(text string) error {
	conn := h.connection()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Chat(text); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}

// Quit asks the server to end the session.
func (h *Handle) Quit() error {
	conn := h.connection()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Quit()
}

// Close releases the connection without a quit handshake.
func (h *Handle) Close() error {
	conn := h.connection()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// On registers a plugin listener for events of type t.
func (h *Handle) On(t pluginapi.EventType, fn func(pluginapi.Event)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[t] = append(h.listeners[t], fn)
}

// Dispatch delivers ev to every listener registered for its type. A
// panicking listener is logged and the remaining listeners still run.
func (h *Handle) Dispatch(ev pluginapi.Event) {
	h.mu.RLock()
	fns := slices.Clone(h.listeners[ev.Type])
	h.mu.RUnlock()

	for _, fn := range fns {
		h.invoke(fn, ev)
	}
}

func (h *Handle) invoke(fn func(pluginapi.Event), ev pluginapi.Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("plugin listener panicked", "event", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}

var _ pluginapi.Agent = (*Handle)(nil)
