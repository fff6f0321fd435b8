// ABOUTME: Tests for the in-flight Guard.
// ABOUTME: Validates single-holder semantics, release, TTL expiry, sweeping and concurrency safety.

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuard_AcquireRelease(t *testing.T) {
	g := NewGuard(time.Minute)
	defer g.Close()

	assert.True(t, g.TryAcquire("p1"))
	assert.False(t, g.TryAcquire("p1"), "second acquire must fail while held")
	assert.True(t, g.TryAcquire("p2"), "other keys are independent")
	assert.True(t, g.Held("p1"))

	g.Release("p1")
	assert.False(t, g.Held("p1"))
	assert.True(t, g.TryAcquire("p1"))

	// Releasing an unknown key is harmless
	g.Release("never-held")
}

func TestGuard_Expiry(t *testing.T) {
	g := NewGuard(10 * time.Millisecond)
	defer g.Close()

	assert.True(t, g.TryAcquire("stuck"))
	time.Sleep(20 * time.Millisecond)

	assert.False(t, g.Held("stuck"))
	assert.True(t, g.TryAcquire("stuck"), "expired hold can be re-acquired")
}

func TestGuard_ExpireSweeps(t *testing.T) {
	g := NewGuard(10 * time.Millisecond)
	defer g.Close()

	g.TryAcquire("a")
	g.TryAcquire("b")
	assert.Equal(t, 2, g.Len())

	time.Sleep(20 * time.Millisecond)
	g.expire()
	assert.Equal(t, 0, g.Len())
}

func TestGuard_ConcurrentAcquire(t *testing.T) {
	g := NewGuard(time.Minute)
	defer g.Close()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire("contended") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestGuard_CloseTwice(t *testing.T) {
	g := NewGuard(time.Minute)
	g.Close()
	g.Close()
}
