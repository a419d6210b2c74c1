package epoch

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_DeferWithoutGuards(t *testing.T) {
	c := NewCollector()

	var ran atomic.Bool
	c.Defer(func() { ran.Store(true) })

	c.Flush()

	assert.True(t, ran.Load())
	assert.Equal(t, int64(0), c.Stats().Pending)
	assert.Equal(t, uint64(1), c.Stats().Reclaimed)
}

func TestCollector_PinnedGuardBlocksReclamation(t *testing.T) {
	c := NewCollector()

	g := c.Pin()

	var ran atomic.Bool
	c.Defer(func() { ran.Store(true) })

	c.Flush()
	c.Flush()
	assert.False(t, ran.Load(), "callback ran while an older guard was pinned")

	g.Release()
	c.Flush()
	assert.True(t, ran.Load())
}

func TestCollector_LaterGuardDoesNotBlock(t *testing.T) {
	c := NewCollector()

	var ran atomic.Bool
	c.Defer(func() { ran.Store(true) })

	// Advance once so that a new pin lands in a newer epoch than the retirement.
	require.True(t, c.tryAdvance())
	g := c.Pin()
	defer g.Release()

	// A guard pinned after the retirement cannot have observed the object.
	c.Flush()
	assert.True(t, ran.Load())
}

func TestGuard_ReleaseIsIdempotent(t *testing.T) {
	c := NewCollector()

	g := c.Pin()
	g.Release()
	g.Release()

	assert.Equal(t, 1, c.Stats().Participants)
}

func TestCollector_PinnedCount(t *testing.T) {
	c := NewCollector()

	g1 := c.Pin()
	g2 := c.Pin()
	assert.Equal(t, 2, c.Stats().Pinned)

	g1.Release()
	assert.Equal(t, 1, c.Stats().Pinned)

	g2.Release()
	assert.Zero(t, c.Stats().Pinned)
}

func TestCollector_ParticipantReuse(t *testing.T) {
	c := NewCollector()

	for range 100 {
		g := c.Pin()
		g.Release()
	}

	assert.Equal(t, 1, c.Stats().Participants)
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()

	var reclaimed atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				g := c.Pin()
				g.Defer(func() { reclaimed.Add(1) })
				g.Release()
			}
		}()
	}
	wg.Wait()

	c.Flush()
	c.Flush()

	assert.Equal(t, int64(8000), reclaimed.Load())
	assert.Equal(t, int64(0), c.Stats().Pending)
}
