package worktable

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/worktable/internal/epoch"
	"github.com/hupe1980/worktable/internal/index"
	"github.com/hupe1980/worktable/internal/storage"
	"github.com/hupe1980/worktable/model"
	"github.com/hupe1980/worktable/pkgen"
)

// Schema describes the rows of a table.
type Schema[R any, K cmp.Ordered] struct {
	// Name identifies the table in logs and metrics.
	Name string
	// PrimaryKey extracts the primary key of a row. Required.
	PrimaryKey func(R) K
	// SetPrimaryKey stores a generated key into a row. Required unless
	// Generator is nil or pkgen.None.
	SetPrimaryKey func(*R, K)
	// Generator produces primary keys on Insert. nil means pkgen.None.
	Generator pkgen.Generator[K]
	// Indexes declares the secondary indexes.
	Indexes []IndexDescriptor[R]
}

func (s Schema[R, K]) validate() error {
	if s.PrimaryKey == nil {
		return fmt.Errorf("%w: primary key accessor is required", ErrInvalidSchema)
	}
	if s.Generator != nil && s.Generator.Strategy() != pkgen.StrategyNone && s.SetPrimaryKey == nil {
		return fmt.Errorf("%w: %s generator requires SetPrimaryKey", ErrInvalidSchema, s.Generator.Strategy())
	}
	seen := make(map[string]struct{}, len(s.Indexes))
	for _, d := range s.Indexes {
		if d == nil {
			return fmt.Errorf("%w: nil index descriptor", ErrInvalidSchema)
		}
		name := d.IndexName()
		if name == "" || name == index.PrimaryName {
			return fmt.Errorf("%w: invalid index name %q", ErrInvalidSchema, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: index %q declared twice", ErrInvalidSchema, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// IndexDescriptor declares one secondary index. Create descriptors with
// NewUniqueIndex and NewNonUniqueIndex.
type IndexDescriptor[R any] interface {
	IndexName() string
	IsUnique() bool
	build() index.Secondary[R]
}

// Source is a table whose declared indexes can be queried through their
// descriptors. *Table implements Source.
type Source[R any] interface {
	source() *catalog[R]
}

// catalog is the key-type independent part of a table: row storage, the
// epoch collector and the secondary indexes.
type catalog[R any] struct {
	store     *storage.Store[R]
	collector *epoch.Collector
	indexes   *index.Set[R]
	metrics   MetricsCollector
}

func (c *catalog[R]) fetch(link model.Link) (R, error) {
	row, err := c.store.Select(link)
	return row, translateError(err)
}

// fetchAll loads every link and fails on the first row that is gone.
func (c *catalog[R]) fetchAll(ctx context.Context, links []model.Link) ([]R, error) {
	rows := make([]R, 0, len(links))
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := c.fetch(link)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func lookupIndex[T any, R any](c *catalog[R], name string) (T, bool) {
	var zero T
	idx, ok := c.indexes.Get(name)
	if !ok {
		return zero, false
	}
	typed, ok := idx.(T)
	return typed, ok
}

// Filter selects the rows an update or delete query applies to. Filters come
// from Table.PrimaryKeyFilter and from index descriptors.
type Filter[R any, V any] struct {
	name    string
	resolve func(c *catalog[R], v V) ([]model.Link, error)
}

// Name returns the primary or secondary index the filter reads.
func (f Filter[R, V]) Name() string { return f.name }

// UniqueIndex declares a unique secondary index over a column. A second live
// row with the same column value is rejected with ErrDuplicateKey.
type UniqueIndex[R any, V cmp.Ordered] struct {
	name   string
	column func(R) V
}

// NewUniqueIndex declares a unique index named name over column.
func NewUniqueIndex[R any, V cmp.Ordered](name string, column func(R) V) *UniqueIndex[R, V] {
	return &UniqueIndex[R, V]{name: name, column: column}
}

// IndexName returns the index name.
func (u *UniqueIndex[R, V]) IndexName() string { return u.name }

// IsUnique reports true.
func (u *UniqueIndex[R, V]) IsUnique() bool { return true }

func (u *UniqueIndex[R, V]) build() index.Secondary[R] {
	return index.NewUnique(u.name, u.column)
}

func (u *UniqueIndex[R, V]) peek(c *catalog[R], v V) (model.Link, bool) {
	idx, ok := lookupIndex[*index.Unique[R, V]](c, u.name)
	if !ok {
		return model.Link{}, false
	}
	g := c.collector.Pin()
	defer g.Release()
	return idx.Peek(v, g)
}

// Select returns the row whose column equals v.
func (u *UniqueIndex[R, V]) Select(src Source[R], v V) (R, bool) {
	var zero R

	c := src.source()
	start := time.Now()
	link, ok := u.peek(c, v)
	if !ok {
		c.metrics.RecordSelect(0, time.Since(start), ErrNotFound)
		return zero, false
	}
	row, err := c.fetch(link)
	if err != nil {
		c.metrics.RecordSelect(0, time.Since(start), err)
		return zero, false
	}
	c.metrics.RecordSelect(1, time.Since(start), nil)
	return row, true
}

// Filter returns a filter matching the row whose column equals the value.
func (u *UniqueIndex[R, V]) Filter() Filter[R, V] {
	return Filter[R, V]{
		name: u.name,
		resolve: func(c *catalog[R], v V) ([]model.Link, error) {
			link, ok := u.peek(c, v)
			if !ok {
				return nil, fmt.Errorf("%w: %s = %v", ErrNotFound, u.name, v)
			}
			return []model.Link{link}, nil
		},
	}
}

// NonUniqueIndex declares a secondary index over a column that many rows may
// share.
type NonUniqueIndex[R any, V cmp.Ordered] struct {
	name   string
	column func(R) V
}

// NewNonUniqueIndex declares a non-unique index named name over column.
func NewNonUniqueIndex[R any, V cmp.Ordered](name string, column func(R) V) *NonUniqueIndex[R, V] {
	return &NonUniqueIndex[R, V]{name: name, column: column}
}

// IndexName returns the index name.
func (n *NonUniqueIndex[R, V]) IndexName() string { return n.name }

// IsUnique reports false.
func (n *NonUniqueIndex[R, V]) IsUnique() bool { return false }

func (n *NonUniqueIndex[R, V]) build() index.Secondary[R] {
	return index.NewNonUnique(n.name, n.column)
}

func (n *NonUniqueIndex[R, V]) peek(c *catalog[R], v V) ([]model.Link, error) {
	idx, ok := lookupIndex[*index.NonUnique[R, V]](c, n.name)
	if !ok {
		return nil, fmt.Errorf("%w: index %q", ErrNotFound, n.name)
	}

	g := c.collector.Pin()
	links, ok := idx.Peek(v, g)
	g.Release()

	if !ok {
		return nil, fmt.Errorf("%w: %s = %v", ErrNotFound, n.name, v)
	}
	return links, nil
}

// Select returns every live row whose column equals v. It fails with
// ErrNotFound when no row has the value, and with ErrNotFound when a matching
// row disappears before it is read; no partial result is returned.
func (n *NonUniqueIndex[R, V]) Select(ctx context.Context, src Source[R], v V) ([]R, error) {
	c := src.source()
	start := time.Now()

	rows, err := n.selectRows(ctx, c, v)
	c.metrics.RecordSelect(len(rows), time.Since(start), err)
	return rows, err
}

func (n *NonUniqueIndex[R, V]) selectRows(ctx context.Context, c *catalog[R], v V) ([]R, error) {
	links, err := n.peek(c, v)
	if err != nil {
		return nil, err
	}
	return c.fetchAll(ctx, links)
}

// Filter returns a filter matching every row whose column equals the value.
func (n *NonUniqueIndex[R, V]) Filter() Filter[R, V] {
	return Filter[R, V]{
		name:    n.name,
		resolve: n.peek,
	}
}
