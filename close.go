package worktable

// Close releases the table's storage reservations. Operations on a closed
// table return ErrClosed; Close on a closed table is a no-op.
func (t *Table[R, K]) Close() error {
	if t == nil || !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Run what the collector can reclaim now so deferred slot releases reach
	// the resource controller before the pages are dropped.
	t.cat.collector.Flush()
	t.cat.store.Close()

	t.logger.Debug("table closed", "rows", t.primary.Len())
	return nil
}
