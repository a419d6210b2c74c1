package index

import (
	"cmp"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/worktable/internal/epoch"
	"github.com/hupe1980/worktable/internal/skiplist"
	"github.com/hupe1980/worktable/model"
)

// Secondary is one declared secondary index, seen through the row type.
type Secondary[R any] interface {
	// Name returns the declared index name.
	Name() string
	// Unique reports whether the index admits one link per value.
	Unique() bool
	// Save maps row's column value to link.
	Save(row R, link model.Link, g *epoch.Guard) error
	// Remove drops the mapping of row's column value to link.
	Remove(row R, link model.Link, g *epoch.Guard)
	// Changed reports whether the indexed column differs between two rows.
	Changed(prev, next R) bool
	// Len returns the number of distinct indexed values.
	Len() int
}

// Unique maps a column value to exactly one link.
type Unique[R any, V cmp.Ordered] struct {
	name   string
	column func(R) V
	m      *skiplist.Map[V, model.Link]
}

// NewUnique creates a unique index over column.
func NewUnique[R any, V cmp.Ordered](name string, column func(R) V) *Unique[R, V] {
	return &Unique[R, V]{
		name:   name,
		column: column,
		m:      skiplist.New[V, model.Link](),
	}
}

func (u *Unique[R, V]) Name() string { return u.name }

func (u *Unique[R, V]) Unique() bool { return true }

func (u *Unique[R, V]) Len() int { return u.m.Len() }

// Save rejects a value that already maps to another link; the existing
// mapping is left untouched.
func (u *Unique[R, V]) Save(row R, link model.Link, _ *epoch.Guard) error {
	v := u.column(row)
	if existing, loaded := u.m.LoadOrStore(v, link); loaded && existing != link {
		return &DuplicateError{Index: u.name, Key: v}
	}
	return nil
}

func (u *Unique[R, V]) Remove(row R, link model.Link, _ *epoch.Guard) {
	u.m.DeleteFunc(u.column(row), func(l model.Link) bool { return l == link })
}

func (u *Unique[R, V]) Changed(prev, next R) bool {
	return u.column(prev) != u.column(next)
}

// Peek returns the link stored for value.
func (u *Unique[R, V]) Peek(value V, _ *epoch.Guard) (model.Link, bool) {
	return u.m.Get(value)
}

// linkSet holds the current bitmap of a value. A nil bitmap marks a retired
// set that is about to leave the skip list.
type linkSet struct {
	bm atomic.Pointer[roaring64.Bitmap]
}

func newLinkSet() *linkSet {
	s := &linkSet{}
	s.bm.Store(roaring64.New())
	return s
}

// NonUnique maps a column value to a set of links.
type NonUnique[R any, V cmp.Ordered] struct {
	name   string
	column func(R) V
	m      *skiplist.Map[V, *linkSet]
	pool   sync.Pool
}

// NewNonUnique creates a non-unique index over column.
func NewNonUnique[R any, V cmp.Ordered](name string, column func(R) V) *NonUnique[R, V] {
	return &NonUnique[R, V]{
		name:   name,
		column: column,
		m:      skiplist.New[V, *linkSet](),
		pool: sync.Pool{
			New: func() any { return roaring64.New() },
		},
	}
}

func (n *NonUnique[R, V]) Name() string { return n.name }

func (n *NonUnique[R, V]) Unique() bool { return false }

func (n *NonUnique[R, V]) Len() int { return n.m.Len() }

func (n *NonUnique[R, V]) Changed(prev, next R) bool {
	return n.column(prev) != n.column(next)
}

func (n *NonUnique[R, V]) clone(bm *roaring64.Bitmap) *roaring64.Bitmap {
	c := n.pool.Get().(*roaring64.Bitmap)
	c.Or(bm)
	return c
}

// recycle returns a bitmap that was never published.
func (n *NonUnique[R, V]) recycle(bm *roaring64.Bitmap) {
	bm.Clear()
	n.pool.Put(bm)
}

// retire hands a replaced bitmap back to the pool once readers are gone.
func (n *NonUnique[R, V]) retire(bm *roaring64.Bitmap, g *epoch.Guard) {
	g.Defer(func() { n.recycle(bm) })
}

func (n *NonUnique[R, V]) unlink(v V, set *linkSet) {
	n.m.DeleteFunc(v, func(s *linkSet) bool { return s == set })
}

// Save adds link to the set of row's column value.
func (n *NonUnique[R, V]) Save(row R, link model.Link, g *epoch.Guard) error {
	v := n.column(row)
	packed := link.Pack()

	var fresh *linkSet
	for {
		if fresh == nil {
			fresh = newLinkSet()
		}
		set, loaded := n.m.LoadOrStore(v, fresh)
		if !loaded {
			fresh = nil
		}

		old := set.bm.Load()
		if old == nil {
			// Retired set still linked; help remove it and start over.
			n.unlink(v, set)
			continue
		}
		if old.Contains(packed) {
			return nil
		}

		next := n.clone(old)
		next.Add(packed)
		if set.bm.CompareAndSwap(old, next) {
			n.retire(old, g)
			return nil
		}
		n.recycle(next)
	}
}

// Remove drops link from the set of row's column value. Removing the last link
// retires the set and unlinks the value.
func (n *NonUnique[R, V]) Remove(row R, link model.Link, g *epoch.Guard) {
	v := n.column(row)
	packed := link.Pack()

	for {
		set, ok := n.m.Get(v)
		if !ok {
			return
		}

		old := set.bm.Load()
		if old == nil {
			n.unlink(v, set)
			return
		}
		if !old.Contains(packed) {
			return
		}

		if old.GetCardinality() == 1 {
			if set.bm.CompareAndSwap(old, nil) {
				n.unlink(v, set)
				n.retire(old, g)
				return
			}
			continue
		}

		next := n.clone(old)
		next.Remove(packed)
		if set.bm.CompareAndSwap(old, next) {
			n.retire(old, g)
			return
		}
		n.recycle(next)
	}
}

// Peek returns a copy of the links stored for value. The copy is taken while
// g is pinned, so it stays valid after the guard is released.
func (n *NonUnique[R, V]) Peek(value V, _ *epoch.Guard) ([]model.Link, bool) {
	set, ok := n.m.Get(value)
	if !ok {
		return nil, false
	}

	bm := set.bm.Load()
	if bm == nil || bm.IsEmpty() {
		return nil, false
	}

	links := make([]model.Link, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		links = append(links, model.UnpackLink(it.Next()))
	}
	return links, true
}
