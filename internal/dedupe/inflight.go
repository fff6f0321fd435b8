// ABOUTME: Thread-safe in-flight guard that admits one holder per key at a time.
// ABOUTME: Used by the plugin installer to reject concurrent installs of the same plugin id.

package dedupe

import (
	"sync"
	"time"
)

// Guard tracks keys that are currently being worked on. A key that is never
// released expires after ttl, so a holder that dies mid-operation cannot
// wedge its key forever.
type Guard struct {
	mu     sync.Mutex
	held   map[string]time.Time
	ttl    time.Duration
	done   chan struct{}
	closed bool
}

// NewGuard creates a guard whose holds expire after ttl. A background
// goroutine sweeps expired holds until Close is called.
func NewGuard(ttl time.Duration) *Guard {
	g := &Guard{
		held: make(map[string]time.Time),
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go g.sweep()
	return g
}

// TryAcquire marks key as held. It returns false if key is already held and
// has not expired.
func (g *Guard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if at, ok := g.held[key]; ok && time.Since(at) < g.ttl {
		return false
	}
	g.held[key] = time.Now()
	return true
}

// Release frees key. Releasing a key that is not held is a no-op.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
}

// Held reports whether key is currently held.
func (g *Guard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	at, ok := g.held[key]
	return ok && time.Since(at) < g.ttl
}

// Len returns the number of holds, expired ones included until swept.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.held)
}

func (g *Guard) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.expire()
		case <-g.done:
			return
		}
	}
}

func (g *Guard) expire() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for key, at := range g.held {
		if now.Sub(at) >= g.ttl {
			delete(g.held, key)
		}
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
