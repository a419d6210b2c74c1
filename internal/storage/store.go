package storage

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/worktable/internal/epoch"
	"github.com/hupe1980/worktable/model"
	"github.com/hupe1980/worktable/resource"
)

var (
	// ErrCapacityExhausted is returned when no slot can be reserved.
	ErrCapacityExhausted = errors.New("storage: capacity exhausted")
	// ErrSlotEmpty is returned when a link points at a slot that was never
	// written or has been freed.
	ErrSlotEmpty = errors.New("storage: slot is empty")
	// ErrStaleLink is returned when the slot has moved on to another generation.
	ErrStaleLink = errors.New("storage: stale link")
	// ErrClosed is returned by Insert once the store is closed.
	ErrClosed = errors.New("storage: closed")
)

const (
	// DefaultPageSize is the default page size in bytes (64 KiB).
	DefaultPageSize = 64 * 1024
	// DefaultRowSize is the row size assumed when no hint is given.
	DefaultRowSize = 64
	// MaxSlotsPerPage bounds the slot count of a single page.
	MaxSlotsPerPage = 1 << 16
	// maxSlots bounds slot indexes so that index+1 fits the free-list word.
	maxSlots = uint64(math.MaxUint32)

	freeNil = 0
)

// Options configures a Store.
type Options struct {
	// PageSize is the number of bytes budgeted per page.
	PageSize int
	// RowSize is the expected size of one row in bytes. It determines how many
	// slots a page holds.
	RowSize int
	// MaxPages bounds the number of pages. 0 means as many as the SlotID space
	// allows.
	MaxPages int
	// Resources is charged for every page and live row. May be nil.
	Resources *resource.Controller
	// Collector defers slot reuse. If nil, freed slots are reusable at once.
	Collector *epoch.Collector
}

// Stats is a point-in-time view of a Store.
type Stats struct {
	Pages         int
	SlotsPerPage  int
	SlotsUsed     uint64 // slots ever handed out (high-water mark)
	LiveRows      int64
	FreeSlots     int64
	ReservedBytes int64
}

type slot[R any] struct {
	gen      atomic.Uint32 // odd = live
	row      atomic.Pointer[R]
	nextFree atomic.Uint32 // free-list successor, slot index + 1 (0 = end)
}

type page[R any] struct {
	slots []slot[R]
}

// Store is a concurrent, paged row store for rows of type R.
type Store[R any] struct {
	pageBits     uint
	pageMask     uint64
	slotsPerPage int
	pageBytes    int64
	maxPages     int

	pages atomic.Pointer[[]*page[R]]
	mu    sync.Mutex // Protects growth

	next     atomic.Uint64 // next never-used slot
	freeHead atomic.Uint64 // tag<<32 | (slot+1)
	free     atomic.Int64
	live     atomic.Int64

	closed  atomic.Bool
	inserts atomic.Int64 // inserts in flight; Close waits for them

	rc        *resource.Controller
	collector *epoch.Collector
}

// New creates a new Store.
func New[R any](opts Options) *Store[R] {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.RowSize <= 0 {
		opts.RowSize = DefaultRowSize
	}

	perPage := opts.PageSize / opts.RowSize
	if perPage < 1 {
		perPage = 1
	}
	if perPage > MaxSlotsPerPage {
		perPage = MaxSlotsPerPage
	}
	// Round down to a power of two so that a SlotID splits with shifts.
	pageBits := uint(bits.Len(uint(perPage)) - 1)
	perPage = 1 << pageBits

	maxPages := int(maxSlots >> pageBits)
	if opts.MaxPages > 0 && opts.MaxPages < maxPages {
		maxPages = opts.MaxPages
	}

	s := &Store[R]{
		pageBits:     pageBits,
		pageMask:     uint64(perPage - 1),
		slotsPerPage: perPage,
		pageBytes:    int64(perPage) * int64(opts.RowSize),
		maxPages:     maxPages,
		rc:           opts.Resources,
		collector:    opts.Collector,
	}

	pages := make([]*page[R], 0, 16)
	s.pages.Store(&pages)
	return s
}

func (s *Store[R]) lookup(id model.SlotID) (*slot[R], bool) {
	i := uint64(id)
	pageIdx := i >> s.pageBits

	pages := *s.pages.Load()
	if pageIdx >= uint64(len(pages)) {
		return nil, false
	}
	return &pages[pageIdx].slots[i&s.pageMask], true
}

// ensurePage guarantees that the page holding slot i exists.
func (s *Store[R]) ensurePage(i uint64) error {
	pageIdx := i >> s.pageBits

	// Fast path
	if pageIdx < uint64(len(*s.pages.Load())) {
		return nil
	}

	// Slow path: grow
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	pages := *s.pages.Load()
	if pageIdx < uint64(len(pages)) {
		return nil
	}
	if len(pages) >= s.maxPages {
		return fmt.Errorf("%w: page limit %d reached", ErrCapacityExhausted, s.maxPages)
	}
	if err := s.rc.AcquireMemory(s.pageBytes); err != nil {
		return fmt.Errorf("%w: %w", ErrCapacityExhausted, err)
	}

	grown := make([]*page[R], len(pages), len(pages)+1)
	copy(grown, pages)
	grown = append(grown, &page[R]{slots: make([]slot[R], s.slotsPerPage)})

	s.pages.Store(&grown)
	return nil
}

// bump claims a never-used slot. The slot index is only claimed once its
// page exists, so a failed page allocation leaves no hole.
func (s *Store[R]) bump() (uint64, error) {
	for {
		i := s.next.Load()
		if i >= maxSlots {
			return 0, fmt.Errorf("%w: slot space exhausted", ErrCapacityExhausted)
		}
		if err := s.ensurePage(i); err != nil {
			return 0, err
		}
		if s.next.CompareAndSwap(i, i+1) {
			return i, nil
		}
	}
}

func (s *Store[R]) pushFree(i uint64) {
	sl, ok := s.lookup(model.SlotID(i))
	if !ok {
		// Store was closed while the release was deferred.
		return
	}
	for {
		head := s.freeHead.Load()
		sl.nextFree.Store(uint32(head)) //nolint:gosec // lower half by construction
		tag := head>>32 + 1
		if s.freeHead.CompareAndSwap(head, tag<<32|(i+1)) {
			s.free.Add(1)
			return
		}
	}
}

func (s *Store[R]) popFree() (uint64, bool) {
	for {
		head := s.freeHead.Load()
		top := head & math.MaxUint32
		if top == freeNil {
			return 0, false
		}
		i := top - 1
		sl, ok := s.lookup(model.SlotID(i))
		if !ok {
			return 0, false
		}
		next := uint64(sl.nextFree.Load())
		tag := head>>32 + 1
		if s.freeHead.CompareAndSwap(head, tag<<32|next) {
			s.free.Add(-1)
			return i, true
		}
	}
}

// Insert stores row in a free slot and returns its link.
func (s *Store[R]) Insert(row R) (model.Link, error) {
	s.inserts.Add(1)
	defer s.inserts.Add(-1)
	if s.closed.Load() {
		return model.Link{}, ErrClosed
	}

	if err := s.rc.AcquireRow(); err != nil {
		return model.Link{}, fmt.Errorf("%w: %w", ErrCapacityExhausted, err)
	}

	i, ok := s.popFree()
	if !ok {
		var err error
		if i, err = s.bump(); err != nil {
			s.rc.ReleaseRow()
			return model.Link{}, err
		}
	}

	sl, _ := s.lookup(model.SlotID(i))
	gen := sl.gen.Add(1)
	sl.row.Store(&row)
	s.live.Add(1)

	return model.Link{Slot: model.SlotID(i), Gen: gen}, nil
}

// Select returns a copy of the row addressed by link.
func (s *Store[R]) Select(link model.Link) (R, error) {
	var zero R

	sl, ok := s.lookup(link.Slot)
	if !ok || link.Gen&1 == 0 {
		return zero, ErrSlotEmpty
	}
	if sl.gen.Load() != link.Gen {
		return zero, ErrStaleLink
	}
	p := sl.row.Load()
	if p == nil {
		return zero, ErrSlotEmpty
	}
	// The row must still belong to link's generation after the read.
	if sl.gen.Load() != link.Gen {
		return zero, ErrStaleLink
	}
	return *p, nil
}

// Update rewrites the row addressed by link in place and returns the link
// under which it is now stored.
func (s *Store[R]) Update(link model.Link, row R) (model.Link, error) {
	sl, ok := s.lookup(link.Slot)
	if !ok || link.Gen&1 == 0 {
		return model.Link{}, ErrSlotEmpty
	}

	for {
		old := sl.row.Load()
		if sl.gen.Load() != link.Gen {
			return model.Link{}, ErrStaleLink
		}
		if old == nil {
			return model.Link{}, ErrSlotEmpty
		}
		r := row
		if sl.row.CompareAndSwap(old, &r) {
			return link, nil
		}
	}
}

// Delete frees the slot addressed by link, invalidating the link.
func (s *Store[R]) Delete(link model.Link) error {
	sl, ok := s.lookup(link.Slot)
	if !ok || link.Gen&1 == 0 {
		return ErrSlotEmpty
	}
	if !sl.gen.CompareAndSwap(link.Gen, link.Gen+1) {
		return ErrStaleLink
	}

	sl.row.Store(nil)
	s.live.Add(-1)

	i := uint64(link.Slot)
	release := func() {
		s.pushFree(i)
		s.rc.ReleaseRow()
	}
	if s.collector == nil {
		release()
		return nil
	}
	s.collector.Defer(release)
	return nil
}

// Len returns the number of live rows.
func (s *Store[R]) Len() int {
	return int(s.live.Load())
}

// Stats returns the current store statistics.
func (s *Store[R]) Stats() Stats {
	pages := len(*s.pages.Load())
	return Stats{
		Pages:         pages,
		SlotsPerPage:  s.slotsPerPage,
		SlotsUsed:     s.next.Load(),
		LiveRows:      s.live.Load(),
		FreeSlots:     s.free.Load(),
		ReservedBytes: int64(pages) * s.pageBytes,
	}
}

// Close returns every page and row reservation to the resource controller.
// It waits for inserts in flight; later inserts fail with ErrClosed. Close on a
// closed store is a no-op.
func (s *Store[R]) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	for s.inserts.Load() != 0 {
		runtime.Gosched()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pages := *s.pages.Load()
	s.rc.ReleaseMemory(int64(len(pages)) * s.pageBytes)

	// Rows whose slot release is still deferred keep their reservation until
	// the collector runs; only live rows are returned here.
	for range s.live.Swap(0) {
		s.rc.ReleaseRow()
	}

	empty := make([]*page[R], 0)
	s.pages.Store(&empty)
}
