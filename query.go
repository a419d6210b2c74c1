package worktable

import (
	"cmp"
	"context"
	"fmt"
	"time"
)

// UpdateQuery is a named update template: it resolves rows through a filter
// and applies a mutation parameterized by A to each of them.
type UpdateQuery[R any, K cmp.Ordered, A any, V any] struct {
	t      *Table[R, K]
	name   string
	filter Filter[R, V]
	apply  func(*R, A)
	logger *Logger
}

// NewUpdateQuery declares an update query on t. apply must not change the
// primary key; indexed columns may change freely.
//
// Example:
//
//	setVal := worktable.NewUpdateQuery(t, "val_by_attr", byAttr.Filter(),
//	    func(r *Row, q ValByAttr) { r.Val = q.Val })
//	n, err := setVal.Exec(ctx, ValByAttr{Val: 777}, "TEST2")
func NewUpdateQuery[R any, K cmp.Ordered, A any, V any](t *Table[R, K], name string, filter Filter[R, V], apply func(*R, A)) *UpdateQuery[R, K, A, V] {
	return &UpdateQuery[R, K, A, V]{
		t:      t,
		name:   name,
		filter: filter,
		apply:  apply,
		logger: t.logger.WithQuery(name),
	}
}

// Name returns the query name.
func (q *UpdateQuery[R, K, A, V]) Name() string { return q.name }

// Exec updates every row matching value and returns how many were written.
// A filter that matches nothing fails with ErrNotFound. The first failing row
// aborts the query; rows written before it stay written.
func (q *UpdateQuery[R, K, A, V]) Exec(ctx context.Context, args A, value V) (int, error) {
	start := time.Now()

	n, err := q.exec(ctx, args, value)

	q.t.metrics.RecordUpdate(n, time.Since(start), err)
	q.logger.LogUpdate(ctx, n, err)
	return n, err
}

func (q *UpdateQuery[R, K, A, V]) exec(ctx context.Context, args A, value V) (int, error) {
	if err := q.t.checkOpen(); err != nil {
		return 0, err
	}
	if q.filter.resolve == nil {
		return 0, fmt.Errorf("%w: query %q has no filter", ErrInvalidSchema, q.name)
	}
	links, err := q.filter.resolve(q.t.cat, value)
	if err != nil {
		return 0, err
	}
	return q.t.updateLinks(ctx, links, func(r *R) { q.apply(r, args) })
}

// DeleteQuery is a named delete template resolving rows through a filter.
type DeleteQuery[R any, K cmp.Ordered, V any] struct {
	t      *Table[R, K]
	name   string
	filter Filter[R, V]
	logger *Logger
}

// NewDeleteQuery declares a delete query on t.
func NewDeleteQuery[R any, K cmp.Ordered, V any](t *Table[R, K], name string, filter Filter[R, V]) *DeleteQuery[R, K, V] {
	return &DeleteQuery[R, K, V]{
		t:      t,
		name:   name,
		filter: filter,
		logger: t.logger.WithQuery(name),
	}
}

// Name returns the query name.
func (q *DeleteQuery[R, K, V]) Name() string { return q.name }

// Exec deletes every row matching value and returns how many were removed.
// A filter that matches nothing fails with ErrNotFound.
func (q *DeleteQuery[R, K, V]) Exec(ctx context.Context, value V) (int, error) {
	start := time.Now()

	n, err := q.exec(ctx, value)

	q.t.metrics.RecordDelete(n, time.Since(start), err)
	q.logger.LogDelete(ctx, n, err)
	return n, err
}

func (q *DeleteQuery[R, K, V]) exec(ctx context.Context, value V) (int, error) {
	if err := q.t.checkOpen(); err != nil {
		return 0, err
	}
	if q.filter.resolve == nil {
		return 0, fmt.Errorf("%w: query %q has no filter", ErrInvalidSchema, q.name)
	}
	links, err := q.filter.resolve(q.t.cat, value)
	if err != nil {
		return 0, err
	}
	return q.t.deleteLinks(ctx, links)
}
