// Package epoch implements epoch-based deferred reclamation for the lock-free
// index structures.
//
// A Guard pins the global epoch for the duration of a single lookup or range
// step. Objects unlinked from a shared structure are handed to Defer together
// with a reclamation callback; the callback runs only after every Guard that
// was pinned when the object was retired has been released.
//
// # Usage
//
//	g := c.Pin()
//	link, ok := idx.Peek(key, g)
//	g.Release()
//
// Guards are cheap but must not be held across blocking work. The table pins
// one Guard per index step and releases it before touching row storage.
package epoch
