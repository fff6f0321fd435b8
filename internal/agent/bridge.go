// ABOUTME: Websocket driver that talks to an external game-protocol bridge process
// ABOUTME: Sends hello/chat/quit frames and turns login/spawn/chat/error/end frames into events

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/botfleet/internal/pluginapi"
)

const (
	bridgeWriteWait    = 5 * time.Second
	bridgePongWait     = 30 * time.Second
	bridgePingInterval = 10 * time.Second
	bridgeReadLimit    = 1 << 20
)

// bridgeFrame is the JSON shape exchanged with the bridge in both directions.
type bridgeFrame struct {
	Type     string `json:"type"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Version  string `json:"version,omitempty"`
	From     string `json:"from,omitempty"`
	Text     string `json:"text,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// BridgeDialer opens one websocket per bot to a bridge that speaks the game
// protocol on botfleet's behalf.
type BridgeDialer struct {
	URL         string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// NewBridgeDialer creates a dialer for the bridge at url.
func NewBridgeDialer(url string, dialTimeout time.Duration, logger *slog.Logger) *BridgeDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeDialer{URL: url, DialTimeout: dialTimeout, Logger: logger}
}

// Dial implements Dialer.
func (d *BridgeDialer) Dial(ctx context.Context, opts Options) (Conn, error) {
	dialer := *websocket.DefaultDialer
	if d.DialTimeout > 0 {
		dialer.HandshakeTimeout = d.DialTimeout
	}

	ws, _, err := dialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing bridge %s: %w", d.URL, err)
	}
	ws.SetReadLimit(bridgeReadLimit)

	c := &bridgeConn{
		ws:     ws,
		events: make(chan pluginapi.Event, 64),
		done:   make(chan struct{}),
		logger: d.Logger.With("bot", opts.Username),
	}

	hello := bridgeFrame{
		Type:     "hello",
		Host:     opts.Host,
		Port:     opts.Port,
		Username: opts.Username,
		Version:  opts.Version,
	}
	if err := c.write(hello); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(bridgePongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(bridgePongWait))
	})

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

type bridgeConn struct {
	ws     *websocket.Conn
	events chan pluginapi.Event
	logger *slog.Logger

	wmu       sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *bridgeConn) Events() <-chan pluginapi.Event {
	return c.events
}

func (c *bridgeConn) Chat(text string) error {
	return c.write(bridgeFrame{Type: "chat", Text: text})
}

func (c *bridgeConn) Quit() error {
	return c.write(bridgeFrame{Type: "quit"})
}

func (c *bridgeConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(500*time.Millisecond))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// write serializes all frame writes; gorilla connections allow one writer.
func (c *bridgeConn) write(f bridgeFrame) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
	return c.ws.WriteJSON(f)
}

// readLoop owns the events channel and closes it when the socket dies.
func (c *bridgeConn) readLoop() {
	defer close(c.events)
	defer c.Close()

	sawEnd := false
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !sawEnd {
				reason := "connection closed"
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
					reason = err.Error()
				}
				c.deliver(pluginapi.Event{Type: pluginapi.EventEnd, Reason: reason})
			}
			return
		}

		var f bridgeFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("dropping malformed bridge frame", "error", err)
			continue
		}

		ev, ok := frameToEvent(f)
		if !ok {
			c.logger.Debug("ignoring bridge frame", "type", f.Type)
			continue
		}
		if !c.deliver(ev) {
			return
		}
		if ev.Type == pluginapi.EventEnd {
			sawEnd = true
			return
		}
	}
}

func (c *bridgeConn) deliver(ev pluginapi.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		// Close was called; still try to hand over a final end event.
		select {
		case c.events <- ev:
			return true
		default:
			return false
		}
	}
}

func (c *bridgeConn) pingLoop() {
	t := time.NewTicker(bridgePingInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.wmu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(bridgeWriteWait))
			c.wmu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func frameToEvent(f bridgeFrame) (pluginapi.Event, bool) {
	switch pluginapi.EventType(f.Type) {
	case pluginapi.EventLogin, pluginapi.EventSpawn, pluginapi.EventChat, pluginapi.EventError, pluginapi.EventEnd:
		return pluginapi.Event{
			Type:   pluginapi.EventType(f.Type),
			From:   f.From,
			Text:   f.Text,
			Reason: f.Reason,
		}, true
	default:
		return pluginapi.Event{}, false
	}
}
