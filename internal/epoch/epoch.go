package epoch

import (
	"sync"
	"sync/atomic"
)

const pinnedBit = 1

// Collector hands out Guards and runs deferred callbacks once they are safe.
type Collector struct {
	epoch atomic.Uint64
	head  atomic.Pointer[participant]

	mu      sync.Mutex // Protects garbage
	garbage []deferred

	pending   atomic.Int64
	reclaimed atomic.Uint64
}

// participant is one pin record. Records are never unlinked; an idle record is
// reclaimed by the next goroutine that pins.
type participant struct {
	state atomic.Uint64 // 0 = idle, epoch<<1|pinnedBit = pinned
	inUse atomic.Bool
	next  *participant
}

type deferred struct {
	epoch uint64
	fn    func()
}

// Stats is a point-in-time view of the collector.
type Stats struct {
	Epoch        uint64
	Participants int
	Pinned       int // guards currently held
	Pending      int64
	Reclaimed    uint64
}

// NewCollector creates a new Collector.
func NewCollector() *Collector {
	c := &Collector{}
	c.epoch.Store(1)
	return c
}

// Pin pins the current epoch and returns a Guard that must be released.
func (c *Collector) Pin() *Guard {
	p := c.acquire()
	for {
		e := c.epoch.Load()
		p.state.Store(e<<1 | pinnedBit)
		// Re-check: if the epoch moved between load and store, a concurrent
		// advance may not have seen this pin.
		if c.epoch.Load() == e {
			return &Guard{c: c, p: p, epoch: e}
		}
	}
}

func (c *Collector) acquire() *participant {
	for p := c.head.Load(); p != nil; p = p.next {
		if !p.inUse.Load() && p.inUse.CompareAndSwap(false, true) {
			return p
		}
	}

	p := &participant{}
	p.inUse.Store(true)
	for {
		head := c.head.Load()
		p.next = head
		if c.head.CompareAndSwap(head, p) {
			return p
		}
	}
}

// Defer schedules fn to run once no Guard pinned at the current epoch (or
// earlier) is still live. The object fn reclaims must already be unreachable
// for new readers.
func (c *Collector) Defer(fn func()) {
	if fn == nil {
		return
	}

	c.mu.Lock()
	c.garbage = append(c.garbage, deferred{epoch: c.epoch.Load(), fn: fn})
	c.mu.Unlock()

	c.pending.Add(1)
}

// tryAdvance moves the global epoch forward if every pinned participant has
// observed the current one.
func (c *Collector) tryAdvance() bool {
	e := c.epoch.Load()
	for p := c.head.Load(); p != nil; p = p.next {
		s := p.state.Load()
		if s&pinnedBit == pinnedBit && s>>1 != e {
			return false
		}
	}
	return c.epoch.CompareAndSwap(e, e+1)
}

// collect advances the epoch and runs every callback that became safe.
// It never blocks: if another goroutine is collecting it returns immediately.
func (c *Collector) collect() {
	if c.pending.Load() == 0 {
		return
	}

	c.tryAdvance()

	if !c.mu.TryLock() {
		return
	}
	ready := c.takeReadyLocked(c.epoch.Load())
	c.mu.Unlock()

	c.run(ready)
}

func (c *Collector) takeReadyLocked(current uint64) []func() {
	var ready []func()
	kept := c.garbage[:0]
	for _, d := range c.garbage {
		if d.epoch+2 <= current {
			ready = append(ready, d.fn)
			continue
		}
		kept = append(kept, d)
	}
	// Drop references held by the tail of the reused backing array.
	for i := len(kept); i < len(c.garbage); i++ {
		c.garbage[i] = deferred{}
	}
	c.garbage = kept
	return ready
}

func (c *Collector) run(ready []func()) {
	for _, fn := range ready {
		fn()
	}
	if n := len(ready); n > 0 {
		c.pending.Add(-int64(n))
		c.reclaimed.Add(uint64(n))
	}
}

// Flush advances the epoch as far as currently possible and runs every
// callback that is safe. Unlike the opportunistic collection on Release it
// waits for a concurrent collector to finish.
func (c *Collector) Flush() {
	for range 3 {
		if !c.tryAdvance() {
			break
		}
	}

	c.mu.Lock()
	ready := c.takeReadyLocked(c.epoch.Load())
	c.mu.Unlock()

	c.run(ready)
}

// Stats returns the current collector statistics.
func (c *Collector) Stats() Stats {
	n, pinned := 0, 0
	for p := c.head.Load(); p != nil; p = p.next {
		n++
		if p.state.Load()&pinnedBit == pinnedBit {
			pinned++
		}
	}
	return Stats{
		Epoch:        c.epoch.Load(),
		Participants: n,
		Pinned:       pinned,
		Pending:      c.pending.Load(),
		Reclaimed:    c.reclaimed.Load(),
	}
}

// Guard is a pinned epoch. A Guard is owned by one goroutine and must be
// released exactly once; Release on an already released Guard is a no-op.
type Guard struct {
	c     *Collector
	p     *participant
	epoch uint64
}

// Epoch returns the epoch this guard pinned.
func (g *Guard) Epoch() uint64 {
	return g.epoch
}

// Defer schedules fn on the guard's collector.
func (g *Guard) Defer(fn func()) {
	g.c.Defer(fn)
}

// Release unpins the guard and opportunistically reclaims garbage.
func (g *Guard) Release() {
	p := g.p
	if p == nil {
		return
	}
	g.p = nil

	p.state.Store(0)
	p.inUse.Store(false)

	g.c.collect()
}
