// Package storage implements link-addressed row storage.
//
// Rows live in fixed-size pages of slots. A slot is addressed by a dense
// SlotID (page index in the high bits, offset in the low bits), so random
// access by Link is two array lookups. Pages are published through an atomic
// pointer to the page slice; only growth takes a mutex, reads are lock-free.
//
// Every slot carries a generation counter. An odd generation marks a live row;
// deleting a row bumps it to even and reusing the slot bumps it to the next
// odd value, so a Link from an earlier occupant never resolves to a newer row.
//
// Freed slots return to a lock-free free list only after an epoch grace
// period, which keeps slot reuse out of the way of readers that resolved the
// link under a still pinned Guard.
package storage
