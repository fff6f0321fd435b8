// ABOUTME: The capability surface handed to plugins when they are activated
// ABOUTME: Per-bot plugins receive an Agent and BotConfig; always-on plugins receive a Surface

package pluginapi

import (
	"log/slog"
	"net/http"
)

// EventType names a signal raised by a running agent.
type EventType string

const (
	EventLogin EventType = "login"
	EventSpawn EventType = "spawn"
	EventChat  EventType = "chat"
	EventError EventType = "error"
	EventEnd   EventType = "end"
)

// Event is one signal from an agent's event stream.
type Event struct {
	Type EventType
	// From is the sender of a chat message.
	From string
	// Text carries the chat message body.
	Text string
	// Reason explains an error or end event.
	Reason string
}

// Agent is the live bot a per-bot plugin is attached to.
type Agent interface {
	Username() string
	Chat(text string) error
	Quit() error
	// On subscribes fn to every future event of type t. Listeners run on the
	// agent's session goroutine, so a slow listener delays later events.
	On(t EventType, fn func(Event))
}

// BotConfig is the stored configuration of the bot, as of the moment it was
// started.
type BotConfig struct {
	Username       string
	Server         string
	Port           int
	Version        string
	Password       string
	EnabledPlugins []string
}

// Surface is the shared management surface. Always-on plugins use it to
// expose their own endpoints and push events to connected observers.
type Surface interface {
	Handle(pattern string, h http.Handler)
	HandleFunc(pattern string, fn func(http.ResponseWriter, *http.Request))
	Emit(event string, payload any)
	Logger() *slog.Logger
}

// PerBotFunc is the Init signature of a per-bot plugin.
type PerBotFunc = func(Agent, BotConfig) error

// AlwaysOnFunc is the Init signature of an always-on plugin.
type AlwaysOnFunc = func(Surface) error
