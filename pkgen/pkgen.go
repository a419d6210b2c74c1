package pkgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Strategy identifies how a generator produces keys.
type Strategy int

const (
	// StrategyNone means keys are supplied by the caller.
	StrategyNone Strategy = iota
	// StrategyAutoincrement means keys come from an atomic counter.
	StrategyAutoincrement
	// StrategyCustom means keys come from caller-supplied logic.
	StrategyCustom
)

func (s Strategy) String() string {
	switch s {
	case StrategyNone:
		return "none"
	case StrategyAutoincrement:
		return "autoincrement"
	case StrategyCustom:
		return "custom"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Generator produces primary keys.
type Generator[K any] interface {
	Strategy() Strategy
	// Next returns a fresh key. Generators with StrategyNone return the zero value.
	Next() K
}

// Observer is implemented by generators that must stay ahead of keys supplied
// by the caller.
type Observer[K any] interface {
	Observe(key K)
}

// Integer is the key constraint of Autoincrement.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

type none[K any] struct{}

// None returns a generator for tables whose keys are always supplied.
func None[K any]() Generator[K] {
	return none[K]{}
}

func (none[K]) Strategy() Strategy { return StrategyNone }

func (none[K]) Next() K {
	var zero K
	return zero
}

// AutoincrementGenerator hands out consecutive keys.
type AutoincrementGenerator[K Integer] struct {
	next atomic.Uint64
}

// Autoincrement returns a counter starting at 0.
func Autoincrement[K Integer]() *AutoincrementGenerator[K] {
	return &AutoincrementGenerator[K]{}
}

// AutoincrementFrom returns a counter whose first key is start.
func AutoincrementFrom[K Integer](start K) *AutoincrementGenerator[K] {
	g := &AutoincrementGenerator[K]{}
	if start > 0 {
		g.next.Store(uint64(start))
	}
	return g
}

func (g *AutoincrementGenerator[K]) Strategy() Strategy { return StrategyAutoincrement }

// Next returns a key strictly greater than every key returned before.
func (g *AutoincrementGenerator[K]) Next() K {
	return K(g.next.Add(1) - 1)
}

// Observe advances the counter past key.
func (g *AutoincrementGenerator[K]) Observe(key K) {
	if key < 0 {
		return
	}
	want := uint64(key) + 1
	for {
		cur := g.next.Load()
		if cur >= want || g.next.CompareAndSwap(cur, want) {
			return
		}
	}
}

// Peek returns the key the next call to Next will produce.
func (g *AutoincrementGenerator[K]) Peek() K {
	return K(g.next.Load())
}

type custom[K any] struct {
	fn func() K
}

// Custom wraps caller logic. fn must be safe for concurrent use.
func Custom[K any](fn func() K) Generator[K] {
	return custom[K]{fn: fn}
}

func (custom[K]) Strategy() Strategy { return StrategyCustom }

func (c custom[K]) Next() K { return c.fn() }

// UUIDv7 returns a custom generator of time-ordered UUID strings. Keys from one
// process sort in generation order.
func UUIDv7() Generator[string] {
	return Custom(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})
}
