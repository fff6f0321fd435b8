// ABOUTME: In-memory agent driver used for development and as the black-box agent in tests
// ABOUTME: Connections are scripted by calling Emit; chat and quit commands are recorded

package agent

import (
	"context"
	"sync"

	"github.com/2389/botfleet/internal/pluginapi"
)

// LoopbackDialer hands out in-memory connections. With AutoLogin set, every
// new connection immediately reports a login.
type LoopbackDialer struct {
	AutoLogin bool

	mu      sync.Mutex
	conns   map[string]*LoopbackConn
	dialErr error
	dials   int
}

// NewLoopbackDialer creates a dialer.
func NewLoopbackDialer(autoLogin bool) *LoopbackDialer {
	return &LoopbackDialer{
		AutoLogin: autoLogin,
		conns:     make(map[string]*LoopbackConn),
	}
}

// FailWith makes subsequent dials return err. Pass nil to restore.
func (d *LoopbackDialer) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr = err
}

// Dial implements Dialer.
func (d *LoopbackDialer) Dial(ctx context.Context, opts Options) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}

	c := &LoopbackConn{
		Opts:   opts,
		events: make(chan pluginapi.Event, 64),
	}
	d.conns[opts.Username] = c
	if d.AutoLogin {
		c.Emit(pluginapi.Event{Type: pluginapi.EventLogin})
	}
	return c, nil
}

// Conn returns the most recent connection dialed for username.
func (d *LoopbackDialer) Conn(username string) (*LoopbackConn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[username]
	return c, ok
}

// Dials returns how many times Dial was called.
func (d *LoopbackDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// LoopbackConn is an in-memory Conn.
type LoopbackConn struct {
	Opts Options

	mu     sync.Mutex
	events chan pluginapi.Event
	chats  []string
	quit   bool
	closed bool
}

// Events implements Conn.
func (c *LoopbackConn) Events() <-chan pluginapi.Event {
	return c.events
}

// Emit queues ev as if the server had produced it. It reports false once the
// connection is closed or its buffer is full.
func (c *LoopbackConn) Emit(ev pluginapi.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitLocked(ev)
}

func (c *LoopbackConn) emitLocked(ev pluginapi.Event) bool {
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// Chat implements Conn.
func (c *LoopbackConn) Chat(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	c.chats = append(c.chats, text)
	return nil
}

// Quit implements Conn. The server answers a quit with an end event.
func (c *LoopbackConn) Quit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.quit = true
	c.emitLocked(pluginapi.Event{Type: pluginapi.EventEnd, Reason: "quit"})
	c.closeLocked()
	return nil
}

// Close implements Conn.
func (c *LoopbackConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *LoopbackConn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

// Chats returns every chat line sent so far.
func (c *LoopbackConn) Chats() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.chats))
	copy(out, c.chats)
	return out
}

// Quitted reports whether Quit was called.
func (c *LoopbackConn) Quitted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quit
}
