// ABOUTME: Tests for the status broadcaster fan-out
// ABOUTME: Covers snapshot on subscribe, full re-publish, dropping the oldest frame when full, cancellation and close

package status

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/botfleet/internal/agent"
)

type gaugeRecorder struct {
	mu   sync.Mutex
	last int
}

func (g *gaugeRecorder) SetObservers(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = n
}

func (g *gaugeRecorder) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

func receive(t *testing.T, ch <-chan Frame) Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		require.True(t, ok, "channel closed")
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func online(username string) agent.Record {
	return agent.Record{Username: username, Server: "mc.example.com", Port: 25565, Status: agent.StatusOnline}
}

func TestBroadcaster_SnapshotOnSubscribe(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()

	t.Run("empty fleet", func(t *testing.T) {
		ch, _ := b.Subscribe(t.Context())
		f := receive(t, ch)
		assert.Equal(t, EventBotStatus, f.Event)
		assert.Empty(t, f.Data)
	})

	b.PublishStatus(map[string]agent.Record{"bot1": online("bot1")})

	t.Run("late subscriber sees current state", func(t *testing.T) {
		ch, _ := b.Subscribe(t.Context())
		f := receive(t, ch)
		snap, ok := f.Data.(map[string]agent.Record)
		require.True(t, ok)
		assert.Equal(t, agent.StatusOnline, snap["bot1"].Status)
	})
}

func TestBroadcaster_PublishStatusReachesEveryObserver(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())
	receive(t, ch1)
	receive(t, ch2)

	snap := map[string]agent.Record{"bot1": online("bot1"), "bot2": online("bot2")}
	b.PublishStatus(snap)

	for _, ch := range []<-chan Frame{ch1, ch2} {
		f := receive(t, ch)
		assert.Equal(t, EventBotStatus, f.Event)
		assert.Len(t, f.Data, 2)
	}

	snap["bot3"] = online("bot3")
	assert.Len(t, b.Snapshot(), 2, "stored snapshot is a copy")
}

func TestBroadcaster_Emit(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())
	receive(t, ch)

	b.Emit("chatLog", map[string]string{"bot": "bot1", "text": "hello"})
	f := receive(t, ch)
	assert.Equal(t, "chatLog", f.Event)
	assert.Equal(t, map[string]string{"bot": "bot1", "text": "hello"}, f.Data)
}

func TestBroadcaster_SlowSubscriberDropsFrames(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())
	for i := 0; i < subscriberBufferSize*2; i++ {
		b.Emit("tick", i)
	}
	require.Len(t, ch, subscriberBufferSize)

	first := receive(t, ch)
	assert.Equal(t, subscriberBufferSize, first.Data, "oldest frames are dropped first")
	var last Frame
	for len(ch) > 0 {
		last = receive(t, ch)
	}
	assert.Equal(t, subscriberBufferSize*2-1, last.Data)
}

func TestBroadcaster_SlowSubscriberGetsLatestSnapshot(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())
	for i := 0; i < subscriberBufferSize; i++ {
		b.Emit("tick", i)
	}
	b.PublishStatus(map[string]agent.Record{"bot1": {Username: "bot1", Status: agent.StatusOnline}})

	var last Frame
	for len(ch) > 0 {
		last = receive(t, ch)
	}
	require.Equal(t, EventBotStatus, last.Event)
	snap, ok := last.Data.(map[string]agent.Record)
	require.True(t, ok)
	assert.Equal(t, agent.StatusOnline, snap["bot1"].Status)
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	g := &gaugeRecorder{}
	b := NewBroadcaster(g, nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ch, _ := b.Subscribe(ctx)
	assert.Equal(t, 1, g.value())

	cancel()
	require.Eventually(t, func() bool { return b.Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, g.value())

	receive(t, ch) // buffered snapshot is still readable
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_UnsubscribeTwice(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()

	_, id := b.Subscribe(t.Context())
	b.Unsubscribe(id)
	b.Unsubscribe(id)
	assert.Zero(t, b.Count())
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	ch, _ := b.Subscribe(t.Context())
	b.Close()

	receive(t, ch)
	_, ok := <-ch
	assert.False(t, ok)

	late, _ := b.Subscribe(t.Context())
	_, ok = <-late
	assert.False(t, ok)

	b.Emit("ignored", nil)
}

func TestBroadcaster_ConcurrentPublish(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ch, _ := b.Subscribe(ctx)
			for range 3 {
				select {
				case <-ch:
				case <-time.After(50 * time.Millisecond):
				}
			}
		}()
		go func() {
			defer wg.Done()
			b.PublishStatus(map[string]agent.Record{"bot": online("bot")})
		}()
	}
	wg.Wait()
}
