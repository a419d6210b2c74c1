package worktable

import (
	"cmp"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/worktable/internal/epoch"
	"github.com/hupe1980/worktable/internal/index"
	"github.com/hupe1980/worktable/internal/storage"
	"github.com/hupe1980/worktable/model"
	"github.com/hupe1980/worktable/pkgen"
	"github.com/hupe1980/worktable/resource"
)

// rowLockStripes must be a power of two.
const rowLockStripes = 256

// testHookStoreWrite runs before every row storage write.
var testHookStoreWrite = func() {}

// Table is a concurrent in-memory table of rows R keyed by K.
//
// Readers never block. Writers to the same row are serialized by a striped
// per-row mutex; writers to different rows proceed in parallel.
type Table[R any, K cmp.Ordered] struct {
	name    string
	schema  Schema[R, K]
	gen     pkgen.Generator[K]
	primary *index.Primary[K]
	cat     *catalog[R]

	rowLocks [rowLockStripes]sync.Mutex

	resources *resource.Controller
	logger    *Logger
	metrics   MetricsCollector
	closed    atomic.Bool
}

// New creates a table for schema.
func New[R any, K cmp.Ordered](schema Schema[R, K], optFns ...Option) (*Table[R, K], error) {
	if err := schema.validate(); err != nil {
		return nil, err
	}

	opts := applyOptions(optFns)

	gen := schema.Generator
	if gen == nil {
		gen = pkgen.None[K]()
	}

	rc := opts.resources
	if rc == nil {
		rc = resource.NewController(resource.Config{
			MemoryLimitBytes: opts.memoryLimit,
			MaxRows:          opts.maxRows,
		})
	}

	collector := epoch.NewCollector()

	secondaries := make([]index.Secondary[R], 0, len(schema.Indexes))
	for _, d := range schema.Indexes {
		secondaries = append(secondaries, d.build())
	}

	t := &Table[R, K]{
		name:    schema.Name,
		schema:  schema,
		gen:     gen,
		primary: index.NewPrimary[K](),
		cat: &catalog[R]{
			store: storage.New[R](storage.Options{
				PageSize:  opts.pageSize,
				RowSize:   opts.rowSizeHint,
				MaxPages:  opts.maxPages,
				Resources: rc,
				Collector: collector,
			}),
			collector: collector,
			indexes:   index.NewSet(secondaries...),
			metrics:   opts.metricsCollector,
		},
		resources: rc,
		logger:    opts.logger.WithTable(schema.Name),
		metrics:   opts.metricsCollector,
	}

	return t, nil
}

func (t *Table[R, K]) source() *catalog[R] { return t.cat }

// Name returns the schema name.
func (t *Table[R, K]) Name() string { return t.name }

// Len returns the number of live rows.
func (t *Table[R, K]) Len() int { return t.primary.Len() }

func (t *Table[R, K]) rowLock(link model.Link) *sync.Mutex {
	return &t.rowLocks[uint32(link.Slot)&(rowLockStripes-1)]
}

func (t *Table[R, K]) pin() *epoch.Guard {
	return t.cat.collector.Pin()
}

func (t *Table[R, K]) peek(key K) (model.Link, bool) {
	g := t.pin()
	defer g.Release()
	return t.primary.Peek(key, g)
}

func (t *Table[R, K]) checkOpen() error {
	if t.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Insert stores row and returns its primary key. With a generating strategy
// the key is assigned before the row is stored; otherwise the row's own key
// is used.
func (t *Table[R, K]) Insert(ctx context.Context, row R) (K, error) {
	start := time.Now()

	key, err := t.insert(ctx, row, true)

	t.metrics.RecordInsert(time.Since(start), err)
	t.logger.LogInsert(ctx, key, err)
	return key, err
}

func (t *Table[R, K]) insert(ctx context.Context, row R, generate bool) (K, error) {
	if err := t.checkOpen(); err != nil {
		var zero K
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		var zero K
		return zero, err
	}

	if generate && t.gen.Strategy() != pkgen.StrategyNone {
		t.schema.SetPrimaryKey(&row, t.gen.Next())
	}
	key := t.schema.PrimaryKey(row)

	if _, ok := t.peek(key); ok {
		return key, &DuplicateKeyError{Index: index.PrimaryName, Key: key}
	}

	testHookStoreWrite()
	link, err := t.cat.store.Insert(row)
	if err != nil {
		return key, translateError(err)
	}

	if err := t.publish(key, row, link); err != nil {
		testHookStoreWrite()
		_ = t.cat.store.Delete(link)
		return key, translateError(err)
	}

	if !generate {
		if obs, ok := t.gen.(pkgen.Observer[K]); ok {
			obs.Observe(key)
		}
	}
	return key, nil
}

// publish makes row visible in the secondary indexes and then under key in the
// primary index. On a conflict nothing stays published.
func (t *Table[R, K]) publish(key K, row R, link model.Link) error {
	g := t.pin()
	defer g.Release()

	if err := t.cat.indexes.SaveRow(row, link, g); err != nil {
		return err
	}
	if err := t.primary.Insert(key, link, g); err != nil {
		t.cat.indexes.DeleteRow(row, link, g)
		return err
	}
	return nil
}

// withGuard runs fn under a freshly pinned guard.
func (t *Table[R, K]) withGuard(fn func(*epoch.Guard)) {
	g := t.pin()
	defer g.Release()
	fn(g)
}

// Select returns the row stored under key.
func (t *Table[R, K]) Select(key K) (R, bool) {
	var zero R
	start := time.Now()

	link, ok := t.peek(key)
	if !ok {
		t.metrics.RecordSelect(0, time.Since(start), ErrNotFound)
		return zero, false
	}

	row, err := t.cat.fetch(link)
	if err != nil {
		t.metrics.RecordSelect(0, time.Since(start), err)
		return zero, false
	}

	t.metrics.RecordSelect(1, time.Since(start), nil)
	return row, true
}

// PrimaryKeyFilter returns a filter matching the row with the given key.
func (t *Table[R, K]) PrimaryKeyFilter() Filter[R, K] {
	return Filter[R, K]{
		name: index.PrimaryName,
		resolve: func(_ *catalog[R], key K) ([]model.Link, error) {
			link, ok := t.peek(key)
			if !ok {
				return nil, fmt.Errorf("%w: key %v", ErrNotFound, key)
			}
			return []model.Link{link}, nil
		},
	}
}

// updateLink rewrites the row at link with mutate applied. New index mappings
// are installed before the row is written, old ones are removed after. No
// guard is held while the row is written.
func (t *Table[R, K]) updateLink(link model.Link, mutate func(*R)) error {
	mu := t.rowLock(link)
	mu.Lock()
	defer mu.Unlock()

	prev, err := t.cat.fetch(link)
	if err != nil {
		return err
	}

	next := prev
	mutate(&next)

	if t.schema.PrimaryKey(next) != t.schema.PrimaryKey(prev) {
		return ErrPrimaryKeyChanged
	}

	var change *index.Change[R]
	t.withGuard(func(g *epoch.Guard) {
		change, err = t.cat.indexes.Stage(prev, next, link, g)
	})
	if err != nil {
		return translateError(err)
	}

	testHookStoreWrite()
	if _, err := t.cat.store.Update(link, next); err != nil {
		t.withGuard(change.Abort)
		return translateError(err)
	}
	t.withGuard(change.Commit)
	return nil
}

func (t *Table[R, K]) updateLinks(ctx context.Context, links []model.Link, mutate func(*R)) (int, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n := 0
	for _, link := range links {
		if err := t.updateLink(link, mutate); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Update replaces the row stored under row's primary key.
func (t *Table[R, K]) Update(ctx context.Context, row R) error {
	start := time.Now()

	n, err := t.update(ctx, row)

	t.metrics.RecordUpdate(n, time.Since(start), err)
	t.logger.LogUpdate(ctx, n, err)
	return err
}

func (t *Table[R, K]) update(ctx context.Context, row R) (int, error) {
	key := t.schema.PrimaryKey(row)
	link, ok := t.peek(key)
	if !ok {
		return 0, fmt.Errorf("%w: key %v", ErrNotFound, key)
	}
	return t.updateLinks(ctx, []model.Link{link}, func(r *R) { *r = row })
}

func (t *Table[R, K]) deleteLink(link model.Link) error {
	mu := t.rowLock(link)
	mu.Lock()
	defer mu.Unlock()

	row, err := t.cat.fetch(link)
	if err != nil {
		return err
	}

	t.withGuard(func(g *epoch.Guard) {
		t.cat.indexes.DeleteRow(row, link, g)
		t.primary.Remove(t.schema.PrimaryKey(row), link, g)
	})

	testHookStoreWrite()
	return translateError(t.cat.store.Delete(link))
}

func (t *Table[R, K]) deleteLinks(ctx context.Context, links []model.Link) (int, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n := 0
	for _, link := range links {
		if err := t.deleteLink(link); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Delete removes the row stored under key.
func (t *Table[R, K]) Delete(ctx context.Context, key K) error {
	start := time.Now()

	var n int
	link, ok := t.peek(key)
	err := fmt.Errorf("%w: key %v", ErrNotFound, key)
	if ok {
		n, err = t.deleteLinks(ctx, []model.Link{link})
	}

	t.metrics.RecordDelete(n, time.Since(start), err)
	t.logger.LogDelete(ctx, n, err)
	return err
}

// Upsert updates the row stored under row's primary key, or inserts row with
// that key if none exists. The presence check and the write are separate
// steps: a concurrent insert of the same key makes Upsert fail with
// ErrDuplicateKey.
func (t *Table[R, K]) Upsert(ctx context.Context, row R) error {
	start := time.Now()
	key := t.schema.PrimaryKey(row)

	_, exists := t.peek(key)

	var err error
	if exists {
		_, err = t.update(ctx, row)
	} else {
		_, err = t.insert(ctx, row, false)
	}

	t.metrics.RecordUpsert(!exists, time.Since(start), err)
	t.logger.LogUpsert(ctx, key, !exists, err)
	return err
}

// GetNextPK returns a fresh primary key from the table's generator. Keys
// handed out here are not reserved; Insert draws its own.
func (t *Table[R, K]) GetNextPK() (K, error) {
	if t.gen.Strategy() == pkgen.StrategyNone {
		var zero K
		return zero, ErrNoGenerator
	}
	return t.gen.Next(), nil
}

// Stats is a point-in-time view of a table.
type Stats struct {
	Name    string
	Rows    int
	Indexes map[string]int // distinct values per secondary index

	Pages         int
	SlotsPerPage  int
	FreeSlots     int64
	ReservedBytes int64

	MemoryUsage int64
	MemoryLimit int64

	Epoch            uint64
	PendingReclaims  int64
	ReclaimedObjects uint64
}

// Stats returns current table statistics.
func (t *Table[R, K]) Stats() Stats {
	ss := t.cat.store.Stats()
	es := t.cat.collector.Stats()

	indexes := make(map[string]int, len(t.cat.indexes.All()))
	for _, idx := range t.cat.indexes.All() {
		indexes[idx.Name()] = idx.Len()
	}

	return Stats{
		Name:             t.name,
		Rows:             t.primary.Len(),
		Indexes:          indexes,
		Pages:            ss.Pages,
		SlotsPerPage:     ss.SlotsPerPage,
		FreeSlots:        ss.FreeSlots,
		ReservedBytes:    ss.ReservedBytes,
		MemoryUsage:      t.resources.MemoryUsage(),
		MemoryLimit:      t.resources.MemoryLimit(),
		Epoch:            es.Epoch,
		PendingReclaims:  es.Pending,
		ReclaimedObjects: es.Reclaimed,
	}
}
