// Package skiplist provides a lock-free ordered map.
//
// The implementation follows the Herlihy-Shavit lock-free skip list: a node is
// removed by first marking its forward references (top level down to level 0)
// and then physically unlinking it during later traversals. Level 0 defines
// membership; upper levels are shortcuts.
//
// A marked reference is represented by an immutable ref value published
// through an atomic.Pointer, so a compare-and-swap on a forward pointer checks
// the successor and the mark in one step.
package skiplist

import (
	"cmp"
	"iter"
	"math/bits"
	"math/rand/v2"
	"sync/atomic"
)

// MaxLevel is the height of the head tower.
const MaxLevel = 24

type ref[K cmp.Ordered, V any] struct {
	node   *node[K, V]
	marked bool
}

type node[K cmp.Ordered, V any] struct {
	key  K
	val  V
	next []atomic.Pointer[ref[K, V]]
}

func newNode[K cmp.Ordered, V any](key K, val V, height int) *node[K, V] {
	return &node[K, V]{key: key, val: val, next: make([]atomic.Pointer[ref[K, V]], height)}
}

func (n *node[K, V]) removed() bool {
	return n.next[0].Load().marked
}

// Map is a concurrent ordered map. The zero value is not usable; use New.
type Map[K cmp.Ordered, V any] struct {
	head   *node[K, V]
	length atomic.Int64
}

// New creates an empty Map.
func New[K cmp.Ordered, V any]() *Map[K, V] {
	var zeroK K
	var zeroV V
	head := newNode(zeroK, zeroV, MaxLevel)
	for lvl := range head.next {
		head.next[lvl].Store(&ref[K, V]{})
	}
	return &Map[K, V]{head: head}
}

func randomLevel() int {
	lvl := bits.TrailingZeros64(rand.Uint64())
	if lvl >= MaxLevel {
		lvl = MaxLevel - 1
	}
	return lvl
}

// find locates the predecessors and successors of key on every level,
// unlinking marked nodes on the way. It reports whether succs[0] holds key.
func (m *Map[K, V]) find(key K, preds, succs *[MaxLevel]*node[K, V]) bool {
retry:
	for {
		pred := m.head
		for lvl := MaxLevel - 1; lvl >= 0; lvl-- {
			predRef := pred.next[lvl].Load()
			if predRef.marked {
				continue retry
			}
			curr := predRef.node
			for curr != nil {
				currRef := curr.next[lvl].Load()
				if currRef.marked {
					snipped := &ref[K, V]{node: currRef.node}
					if !pred.next[lvl].CompareAndSwap(predRef, snipped) {
						continue retry
					}
					predRef = snipped
					curr = snipped.node
					continue
				}
				if cmp.Less(curr.key, key) {
					pred = curr
					predRef = currRef
					curr = currRef.node
					continue
				}
				break
			}
			preds[lvl] = pred
			succs[lvl] = curr
		}
		return succs[0] != nil && cmp.Compare(succs[0].key, key) == 0
	}
}

// seek returns the first live node whose key is >= key, without helping
// unlink removed nodes.
func (m *Map[K, V]) seek(key K) *node[K, V] {
	pred := m.head
	var curr *node[K, V]
	for lvl := MaxLevel - 1; lvl >= 0; lvl-- {
		curr = pred.next[lvl].Load().node
		for curr != nil {
			r := curr.next[lvl].Load()
			if r.marked {
				curr = r.node
				continue
			}
			if cmp.Less(curr.key, key) {
				pred = curr
				curr = r.node
				continue
			}
			break
		}
	}
	for curr != nil && curr.removed() {
		curr = curr.next[0].Load().node
	}
	return curr
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	n := m.seek(key)
	if n != nil && cmp.Compare(n.key, key) == 0 {
		return n.val, true
	}
	var zero V
	return zero, false
}

// LoadOrStore inserts key with val unless key is already present. It returns
// the value now associated with key and whether it was already present.
func (m *Map[K, V]) LoadOrStore(key K, val V) (V, bool) {
	var preds, succs [MaxLevel]*node[K, V]
	top := randomLevel()

	for {
		if m.find(key, &preds, &succs) {
			return succs[0].val, true
		}

		n := newNode(key, val, top+1)
		for lvl := 0; lvl <= top; lvl++ {
			n.next[lvl].Store(&ref[K, V]{node: succs[lvl]})
		}

		predRef := preds[0].next[0].Load()
		if predRef.marked || predRef.node != succs[0] {
			continue
		}
		if !preds[0].next[0].CompareAndSwap(predRef, &ref[K, V]{node: n}) {
			continue
		}

		m.length.Add(1)
		m.linkUpper(n, top, &preds, &succs)
		return val, false
	}
}

func (m *Map[K, V]) linkUpper(n *node[K, V], top int, preds, succs *[MaxLevel]*node[K, V]) {
	for lvl := 1; lvl <= top; lvl++ {
		for {
			nRef := n.next[lvl].Load()
			if nRef.marked {
				// Removal has started; the remover owns the tower from here.
				return
			}
			if nRef.node != succs[lvl] &&
				!n.next[lvl].CompareAndSwap(nRef, &ref[K, V]{node: succs[lvl]}) {
				continue
			}

			predRef := preds[lvl].next[lvl].Load()
			if !predRef.marked && predRef.node == succs[lvl] &&
				preds[lvl].next[lvl].CompareAndSwap(predRef, &ref[K, V]{node: n}) {
				break
			}

			m.find(n.key, preds, succs)
		}
	}
}

// DeleteFunc removes key if match reports true for its current value (a nil
// match removes unconditionally). It returns the removed value.
func (m *Map[K, V]) DeleteFunc(key K, match func(V) bool) (V, bool) {
	var preds, succs [MaxLevel]*node[K, V]
	var zero V

	if !m.find(key, &preds, &succs) {
		return zero, false
	}

	n := succs[0]
	if match != nil && !match(n.val) {
		return zero, false
	}

	for lvl := len(n.next) - 1; lvl >= 1; lvl-- {
		for {
			r := n.next[lvl].Load()
			if r.marked || n.next[lvl].CompareAndSwap(r, &ref[K, V]{node: r.node, marked: true}) {
				break
			}
		}
	}

	for {
		r := n.next[0].Load()
		if r.marked {
			// Another goroutine won the removal.
			return zero, false
		}
		if n.next[0].CompareAndSwap(r, &ref[K, V]{node: r.node, marked: true}) {
			m.length.Add(-1)
			m.find(key, &preds, &succs)
			return n.val, true
		}
	}
}

// Delete removes key unconditionally.
func (m *Map[K, V]) Delete(key K) (V, bool) {
	return m.DeleteFunc(key, nil)
}

// First returns the smallest live entry.
func (m *Map[K, V]) First() (K, V, bool) {
	for n := m.head.next[0].Load().node; n != nil; n = n.next[0].Load().node {
		if !n.removed() {
			return n.key, n.val, true
		}
	}
	var zeroK K
	var zeroV V
	return zeroK, zeroV, false
}

// Ascend yields live entries with key >= from in ascending order. The
// iteration is weakly consistent: entries inserted or removed concurrently may
// or may not be observed.
func (m *Map[K, V]) Ascend(from K) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.ascendFrom(m.seek(from), yield)
	}
}

// All yields every live entry in ascending order.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.ascendFrom(m.head.next[0].Load().node, yield)
	}
}

func (m *Map[K, V]) ascendFrom(n *node[K, V], yield func(K, V) bool) {
	for ; n != nil; n = n.next[0].Load().node {
		if n.removed() {
			continue
		}
		if !yield(n.key, n.val) {
			return
		}
	}
}

// Len returns the number of live entries.
func (m *Map[K, V]) Len() int {
	return int(m.length.Load())
}
