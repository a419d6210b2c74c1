// Package index implements the primary and secondary indexes of a table.
//
// All indexes are lock-free skip lists (see internal/skiplist):
//
//   - Primary: primary key -> Link, unique
//   - Unique: column value -> Link, rejects a second live link per value
//   - NonUnique: column value -> set of Links
//
// Every operation takes a pinned *epoch.Guard. Skip list nodes are never
// recycled, so for Primary and Unique the guard only scopes the borrow.
// NonUnique keeps each value's links in an immutable roaring64 bitmap that is
// replaced copy-on-write; replaced bitmaps are recycled through a pool only
// after the epoch grace period, when no reader can still be iterating them.
//
// Set is the row -> indexes projection: it saves, removes and re-keys one row
// across every declared secondary index.
package index
