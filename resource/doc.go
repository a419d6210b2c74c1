// Package resource implements the Controller for table-wide limits.
//
// The Controller manages two budgets:
//
//   - Memory: bytes reserved by row storage pages (non-blocking, fail-fast)
//   - Rows: simultaneously live rows (non-blocking, fail-fast)
//
// Both are backed by weighted semaphores for hard limits and atomic counters
// for usage tracking. Acquire calls return immediately with
// ErrMemoryLimitExceeded or ErrRowLimitExceeded when a limit would be
// exceeded; row storage surfaces them as capacity exhaustion:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 64 << 20,
//	    MaxRows:          1_000_000,
//	})
//
//	if err := rc.AcquireRow(); err != nil {
//	    // caller decides retry/backoff
//	}
//	defer rc.ReleaseRow()
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
// This allows optional resource limiting without nil checks everywhere.
package resource
