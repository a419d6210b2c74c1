package index

import (
	"cmp"
	"iter"

	"github.com/hupe1980/worktable/internal/epoch"
	"github.com/hupe1980/worktable/internal/skiplist"
	"github.com/hupe1980/worktable/model"
)

// Primary is the ordered primary key index.
type Primary[K cmp.Ordered] struct {
	m *skiplist.Map[K, model.Link]
}

// NewPrimary creates an empty primary index.
func NewPrimary[K cmp.Ordered]() *Primary[K] {
	return &Primary[K]{m: skiplist.New[K, model.Link]()}
}

// Insert adds key -> link. A live entry for key is never overwritten.
func (p *Primary[K]) Insert(key K, link model.Link, _ *epoch.Guard) error {
	if _, loaded := p.m.LoadOrStore(key, link); loaded {
		return &DuplicateError{Index: PrimaryName, Key: key}
	}
	return nil
}

// Peek returns the link stored under key. It never blocks.
func (p *Primary[K]) Peek(key K, _ *epoch.Guard) (model.Link, bool) {
	return p.m.Get(key)
}

// Remove deletes key if it still maps to link.
func (p *Primary[K]) Remove(key K, link model.Link, _ *epoch.Guard) bool {
	_, ok := p.m.DeleteFunc(key, func(l model.Link) bool { return l == link })
	return ok
}

// First returns the smallest key.
func (p *Primary[K]) First(_ *epoch.Guard) (K, model.Link, bool) {
	return p.m.First()
}

// Range yields entries with key >= from in ascending order. The iterator must
// not outlive the guard.
func (p *Primary[K]) Range(from K, _ *epoch.Guard) iter.Seq2[K, model.Link] {
	return p.m.Ascend(from)
}

// Len returns the number of entries.
func (p *Primary[K]) Len() int {
	return p.m.Len()
}
