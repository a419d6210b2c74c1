package index

import (
	"errors"
	"fmt"
)

// PrimaryName is the index name reported for primary key conflicts.
const PrimaryName = "primary"

// ErrDuplicateKey is returned when a unique mapping already has a live entry.
var ErrDuplicateKey = errors.New("index: duplicate key")

// DuplicateError reports which index rejected which key.
type DuplicateError struct {
	Index string
	Key   any
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("index %s: duplicate key %v", e.Index, e.Key)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateKey }
