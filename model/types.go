package model

import (
	"fmt"
)

// SlotID is a dense, table-local index of a physical row slot.
type SlotID uint32

// Link is an opaque handle to a row's storage slot.
//
// Gen is the slot generation at the time the row was written. A slot is reused
// after its row is deleted, at which point its generation moves on and every
// Link still carrying the old generation becomes stale.
type Link struct {
	Slot SlotID
	Gen  uint32
}

// String returns a string representation of the Link.
func (l Link) String() string {
	return fmt.Sprintf("Link(%d@%d)", l.Slot, l.Gen)
}

// Pack encodes the link into a single uint64 (generation in the high half).
func (l Link) Pack() uint64 {
	return uint64(l.Gen)<<32 | uint64(l.Slot)
}

// UnpackLink is the inverse of Link.Pack.
func UnpackLink(v uint64) Link {
	return Link{
		Slot: SlotID(uint32(v)), //nolint:gosec // lower half by construction
		Gen:  uint32(v >> 32),   //nolint:gosec // upper half by construction
	}
}
