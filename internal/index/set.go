package index

import (
	"github.com/hupe1980/worktable/internal/epoch"
	"github.com/hupe1980/worktable/model"
)

// Set projects a row onto every declared secondary index.
type Set[R any] struct {
	indexes []Secondary[R]
	byName  map[string]Secondary[R]
}

// NewSet creates a Set over indexes.
func NewSet[R any](indexes ...Secondary[R]) *Set[R] {
	s := &Set[R]{
		indexes: indexes,
		byName:  make(map[string]Secondary[R], len(indexes)),
	}
	for _, idx := range indexes {
		s.byName[idx.Name()] = idx
	}
	return s
}

// Get returns the index declared under name.
func (s *Set[R]) Get(name string) (Secondary[R], bool) {
	idx, ok := s.byName[name]
	return idx, ok
}

// All returns the indexes in declaration order.
func (s *Set[R]) All() []Secondary[R] {
	return s.indexes
}

// SaveRow inserts row's values into every index. On a conflict the mappings
// added so far are removed again and the conflict is returned.
func (s *Set[R]) SaveRow(row R, link model.Link, g *epoch.Guard) error {
	for i, idx := range s.indexes {
		if err := idx.Save(row, link, g); err != nil {
			for _, done := range s.indexes[:i] {
				done.Remove(row, link, g)
			}
			return err
		}
	}
	return nil
}

// DeleteRow removes row's values from every index.
func (s *Set[R]) DeleteRow(row R, link model.Link, g *epoch.Guard) {
	for _, idx := range s.indexes {
		idx.Remove(row, link, g)
	}
}

// Change is a staged re-keying of one row. The new mappings are live once
// Stage returns; Commit drops the old ones, Abort drops the new ones.
type Change[R any] struct {
	prev    R
	next    R
	link    model.Link
	changed []Secondary[R]
}

// Empty reports whether no indexed column changed.
func (c *Change[R]) Empty() bool {
	return len(c.changed) == 0
}

// Stage installs next's values for every index whose column differs from prev.
func (s *Set[R]) Stage(prev, next R, link model.Link, g *epoch.Guard) (*Change[R], error) {
	c := &Change[R]{prev: prev, next: next, link: link}
	for _, idx := range s.indexes {
		if !idx.Changed(prev, next) {
			continue
		}
		if err := idx.Save(next, link, g); err != nil {
			c.Abort(g)
			return nil, err
		}
		c.changed = append(c.changed, idx)
	}
	return c, nil
}

// Commit removes the old mappings of the changed indexes.
func (c *Change[R]) Commit(g *epoch.Guard) {
	for _, idx := range c.changed {
		idx.Remove(c.prev, c.link, g)
	}
}

// Abort removes the new mappings installed by Stage.
func (c *Change[R]) Abort(g *epoch.Guard) {
	for _, idx := range c.changed {
		idx.Remove(c.next, c.link, g)
	}
	c.changed = nil
}
