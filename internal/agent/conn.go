// ABOUTME: Driver contract between botfleet and the game-protocol client
// ABOUTME: A Dialer creates a Conn that emits lifecycle events and accepts chat and quit commands

package agent

import (
	"context"
	"net"
	"strconv"

	"github.com/2389/botfleet/internal/pluginapi"
	"github.com/2389/botfleet/internal/store"
)

// DefaultPort is used when a bot config carries no port.
const DefaultPort = 25565

// Options describe the server and identity a Conn is created for.
type Options struct {
	Host     string
	Port     int
	Username string
	Version  string
}

// OptionsFrom derives dial options from a stored config. A server written as
// host:port supplies the port when the config has none.
func OptionsFrom(cfg store.BotConfig) Options {
	opts := Options{
		Host:     cfg.Server,
		Port:     cfg.Port,
		Username: cfg.Username,
		Version:  cfg.Version,
	}
	if host, portStr, err := net.SplitHostPort(cfg.Server); err == nil {
		opts.Host = host
		if opts.Port == 0 {
			if p, err := strconv.Atoi(portStr); err == nil {
				opts.Port = p
			}
		}
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	return opts
}

// Conn is one live connection to a game server.
//
// Events delivers login, spawn, chat, error and end signals in the order the
// server produced them. The channel is closed once the connection is gone;
// a close without a preceding end event is treated as an end.
type Conn interface {
	Events() <-chan pluginapi.Event
	Chat(text string) error
	Quit() error
	Close() error
}

// Dialer creates connections. Dial returns once the transport is up; the
// login event arrives later on the Conn's event stream.
type Dialer interface {
	Dial(ctx context.Context, opts Options) (Conn, error)
}
