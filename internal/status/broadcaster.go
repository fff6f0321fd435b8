// ABOUTME: In-memory fan-out of status frames to every connected observer
// ABOUTME: New subscribers receive the latest bot snapshot first; slow subscribers drop their oldest frames

package status

import (
	"context"
	"log/slog"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/botfleet/internal/agent"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// EventBotStatus names the frame carrying the running-bot snapshot.
	EventBotStatus = "botStatus"
)

// Frame is one message pushed to observers.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ObserverGauge receives the subscriber count whenever it changes.
type ObserverGauge interface {
	SetObservers(n int)
}

// Broadcaster provides in-memory pub/sub for status frames.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Frame
	snapshot    map[string]agent.Record
	closed      bool

	gauge  ObserverGauge
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster. gauge may be nil.
func NewBroadcaster(gauge ObserverGauge, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Frame),
		snapshot:    map[string]agent.Record{},
		gauge:       gauge,
		logger:      logger.With("component", "status"),
	}
}

// Subscribe registers an observer. The returned channel already holds the
// current bot snapshot. The subscription is removed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Frame, string) {
	subID := uuid.New().String()
	ch := make(chan Frame, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	ch <- Frame{Event: EventBotStatus, Data: maps.Clone(b.snapshot)}
	b.subscribers[subID] = ch
	n := len(b.subscribers)
	b.mu.Unlock()

	b.observers(n)
	b.logger.Debug("observer connected", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// PublishStatus replaces the stored snapshot and pushes it to every observer.
func (b *Broadcaster) PublishStatus(snapshot map[string]agent.Record) {
	if snapshot == nil {
		snapshot = map[string]agent.Record{}
	}

	snap := maps.Clone(snapshot)
	b.mu.Lock()
	b.snapshot = snap
	b.mu.Unlock()

	b.publish(Frame{Event: EventBotStatus, Data: snap})
}

// Emit pushes an arbitrary event to every observer.
func (b *Broadcaster) Emit(event string, payload any) {
	b.publish(Frame{Event: event, Data: payload})
}

// Snapshot returns the last published bot snapshot.
func (b *Broadcaster) Snapshot() map[string]agent.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.snapshot)
}

// Count returns the number of connected observers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// publish holds the lock while sending so Unsubscribe cannot close a
// channel mid-send. Sends never block: a full subscriber loses its oldest
// frame so the newest snapshot always gets through.
func (b *Broadcaster) publish(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- f:
			continue
		default:
		}
		select {
		case old := <-ch:
			b.logger.Debug("dropped oldest frame for slow observer", "sub_id", id, "event", old.Event)
		default:
		}
		select {
		case ch <- f:
		default:
			b.logger.Debug("dropped frame for slow observer", "sub_id", id, "event", f.Event)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	ch, ok := b.subscribers[subID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subscribers, subID)
	close(ch)
	n := len(b.subscribers)
	b.mu.Unlock()

	b.observers(n)
	b.logger.Debug("observer disconnected", "sub_id", subID)
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.closed = true
	b.mu.Unlock()

	b.observers(0)
	b.logger.Debug("broadcaster closed")
}

func (b *Broadcaster) observers(n int) {
	if b.gauge != nil {
		b.gauge.SetObservers(n)
	}
}
