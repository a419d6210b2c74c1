package worktable

import (
	"errors"
	"fmt"

	"github.com/hupe1980/worktable/internal/index"
	"github.com/hupe1980/worktable/internal/storage"
	"github.com/hupe1980/worktable/resource"
)

var (
	// ErrNotFound is returned when a key or index value has no live row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a primary key or unique column value
	// already has a live row. Use errors.As with *DuplicateKeyError for details.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("storage error")

	// ErrNoGenerator is returned by GetNextPK on tables without a key generator.
	ErrNoGenerator = errors.New("no primary key generator configured")

	// ErrPrimaryKeyChanged is returned when an update mutates the primary key.
	ErrPrimaryKeyChanged = errors.New("update must not change the primary key")

	// ErrInvalidSchema is returned by New for an unusable schema.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrClosed is returned by operations on a closed table.
	ErrClosed = errors.New("table is closed")
)

// DuplicateKeyError reports the index that rejected a key.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type DuplicateKeyError struct {
	Index string
	Key   any
	cause error
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %v in index %q", e.Key, e.Index)
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

func (e *DuplicateKeyError) Unwrap() error { return e.cause }

// StorageError wraps a row storage failure such as capacity exhaustion.
//
// The original underlying error can be accessed via errors.Unwrap.
type StorageError struct {
	cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %v", e.cause)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, storage.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	// Not found unification.
	if errors.Is(err, storage.ErrSlotEmpty) || errors.Is(err, storage.ErrStaleLink) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var dup *index.DuplicateError
	if errors.As(err, &dup) {
		return &DuplicateKeyError{Index: dup.Index, Key: dup.Key, cause: err}
	}

	if errors.Is(err, storage.ErrCapacityExhausted) ||
		errors.Is(err, resource.ErrMemoryLimitExceeded) ||
		errors.Is(err, resource.ErrRowLimitExceeded) {
		return &StorageError{cause: err}
	}

	return err
}
