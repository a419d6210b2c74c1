package resource

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrMemoryLimitExceeded is returned when a page reservation would exceed
	// the memory limit.
	ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

	// ErrRowLimitExceeded is returned when a row reservation would exceed the
	// row limit.
	ErrRowLimitExceeded = errors.New("row limit exceeded")
)

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for page memory reserved by row
	// storage. If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxRows is the hard limit for simultaneously live rows.
	// If 0, unlimited.
	MaxRows int64
}

// Controller manages table-wide resource budgets. A single Controller may be
// shared by several tables to enforce a joint budget.
type Controller struct {
	cfg Config

	// Memory
	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	// Rows
	rowSem  *semaphore.Weighted // nil if unlimited
	rowUsed atomic.Int64
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.MaxRows > 0 {
		c.rowSem = semaphore.NewWeighted(cfg.MaxRows)
	}

	return c
}

// AcquireMemory attempts to reserve memory.
// Returns ErrMemoryLimitExceeded if limit would be exceeded.
// Non-blocking - callers control retry/backoff policy.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return ErrMemoryLimitExceeded
	}

	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// AcquireRow reserves one live row. Non-blocking.
func (c *Controller) AcquireRow() error {
	if c == nil {
		return nil
	}

	if c.rowSem != nil && !c.rowSem.TryAcquire(1) {
		return ErrRowLimitExceeded
	}

	c.rowUsed.Add(1)
	return nil
}

// ReleaseRow returns one row reservation.
func (c *Controller) ReleaseRow() {
	if c == nil {
		return
	}

	if c.rowSem != nil {
		c.rowSem.Release(1)
	}
	c.rowUsed.Add(-1)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// RowUsage returns the number of reserved rows.
func (c *Controller) RowUsage() int64 {
	if c == nil {
		return 0
	}
	return c.rowUsed.Load()
}

// RowLimit returns the configured row limit (0 if unlimited).
func (c *Controller) RowLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MaxRows
}
