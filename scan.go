package worktable

import (
	"cmp"
	"context"
	"errors"
	"iter"
	"time"

	"github.com/hupe1980/worktable/model"
)

// cursor walks the primary index in ascending key order. Each step pins its
// own guard, so a scan never holds one across row fetches or callbacks.
type cursor[R any, K cmp.Ordered] struct {
	t       *Table[R, K]
	from    K
	bounded bool
	last    K
	started bool
}

// step returns the link of the next distinct key after the last one seen.
func (c *cursor[R, K]) step() (model.Link, bool) {
	g := c.t.pin()
	defer g.Release()

	if !c.started {
		if !c.bounded {
			k, link, ok := c.t.primary.First(g)
			if ok {
				c.last, c.started = k, true
			}
			return link, ok
		}
		for k, link := range c.t.primary.Range(c.from, g) {
			c.last, c.started = k, true
			return link, true
		}
		return model.Link{}, false
	}

	for k, link := range c.t.primary.Range(c.last, g) {
		if k == c.last {
			continue
		}
		c.last = k
		return link, true
	}
	return model.Link{}, false
}

// scan feeds rows to yield until the index is exhausted, yield fails, a row
// vanishes between its key step and its fetch, or ctx is done.
func (t *Table[R, K]) scan(ctx context.Context, c *cursor[R, K], yield func(R) error) (int, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}

	visited := 0
	for {
		if err := ctx.Err(); err != nil {
			return visited, err
		}

		link, ok := c.step()
		if !ok {
			return visited, nil
		}

		row, err := t.cat.fetch(link)
		if err != nil {
			return visited, err
		}
		visited++
		if err := yield(row); err != nil {
			return visited, err
		}
	}
}

// IterWith calls fn for every row in ascending primary key order. An error
// from fn stops the scan and is returned. Rows inserted during the scan may or
// may not be visited; a row deleted after its key was reached but before it
// was read fails the scan with ErrNotFound.
func (t *Table[R, K]) IterWith(fn func(R) error) error {
	return t.IterWithContext(context.Background(), func(_ context.Context, row R) error {
		return fn(row)
	})
}

// IterWithContext is IterWith for callbacks that take a context. ctx is
// checked between rows.
func (t *Table[R, K]) IterWithContext(ctx context.Context, fn func(context.Context, R) error) error {
	start := time.Now()

	visited, err := t.scan(ctx, &cursor[R, K]{t: t}, func(row R) error {
		return fn(ctx, row)
	})

	t.metrics.RecordScan(visited, time.Since(start), err)
	t.logger.LogScan(ctx, visited, err)
	return err
}

// SelectQuery is a lazy scan over the table in primary key order, built by
// SelectAll.
type SelectQuery[R any, K cmp.Ordered] struct {
	t       *Table[R, K]
	from    K
	bounded bool
	where   func(R) bool
	offset  int
	limit   int
}

// SelectAll starts a query over every row.
func (t *Table[R, K]) SelectAll() *SelectQuery[R, K] {
	return &SelectQuery[R, K]{t: t}
}

// From starts the scan at the first key >= key.
func (q *SelectQuery[R, K]) From(key K) *SelectQuery[R, K] {
	q.from = key
	q.bounded = true
	return q
}

// Where keeps only rows for which pred returns true.
func (q *SelectQuery[R, K]) Where(pred func(R) bool) *SelectQuery[R, K] {
	q.where = pred
	return q
}

// Offset skips the first n matching rows.
func (q *SelectQuery[R, K]) Offset(n int) *SelectQuery[R, K] {
	q.offset = n
	return q
}

// Limit stops after n matching rows. n <= 0 means no limit.
func (q *SelectQuery[R, K]) Limit(n int) *SelectQuery[R, K] {
	q.limit = n
	return q
}

var errStopScan = errors.New("stop scan")

// run drives one scan and hands every selected row to yield. yield returning
// false ends the scan without error.
func (q *SelectQuery[R, K]) run(ctx context.Context, yield func(R) bool) (int, error) {
	skipped, taken := 0, 0
	c := &cursor[R, K]{t: q.t, from: q.from, bounded: q.bounded}

	visited, err := q.t.scan(ctx, c, func(row R) error {
		if q.where != nil && !q.where(row) {
			return nil
		}
		if skipped < q.offset {
			skipped++
			return nil
		}
		if !yield(row) {
			return errStopScan
		}
		taken++
		if q.limit > 0 && taken >= q.limit {
			return errStopScan
		}
		return nil
	})
	if errors.Is(err, errStopScan) {
		err = nil
	}
	return visited, err
}

// Rows returns the query as a sequence. Each iteration starts a fresh scan. A
// failing scan yields the error as the final element.
func (q *SelectQuery[R, K]) Rows(ctx context.Context) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		stopped := false
		_, err := q.run(ctx, func(row R) bool {
			if !yield(row, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			var zero R
			yield(zero, err)
		}
	}
}

// Execute runs the query and collects the rows. On error no rows are returned.
func (q *SelectQuery[R, K]) Execute(ctx context.Context) ([]R, error) {
	start := time.Now()

	var rows []R
	visited, err := q.run(ctx, func(row R) bool {
		rows = append(rows, row)
		return true
	})

	q.t.metrics.RecordScan(visited, time.Since(start), err)
	q.t.logger.LogScan(ctx, visited, err)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
