// Package worktable provides an embedded, concurrent, typed in-memory table
// for Go.
//
// A Table stores rows of any Go type R under a primary key K. It keeps a
// lock-free ordered primary index and any number of unique or non-unique
// secondary indexes consistent with the stored rows, without a global lock.
//
// # Quick Start
//
//	type Row struct {
//	    ID        uint64
//	    Val       int64
//	    Attribute string
//	}
//
//	byAttr := worktable.NewNonUniqueIndex("attribute", func(r Row) string { return r.Attribute })
//
//	t, _ := worktable.New(worktable.Schema[Row, uint64]{
//	    Name:          "my_table",
//	    PrimaryKey:    func(r Row) uint64 { return r.ID },
//	    SetPrimaryKey: func(r *Row, id uint64) { r.ID = id },
//	    Generator:     pkgen.Autoincrement[uint64](),
//	    Indexes:       []worktable.IndexDescriptor[Row]{byAttr},
//	})
//
//	id, _ := t.Insert(ctx, Row{Val: 1, Attribute: "TEST"})
//	row, ok := t.Select(id)
//	rows, _ := byAttr.Select(ctx, t, "TEST")
//
// # Queries
//
// Named update and delete queries resolve their rows through a filter, either
// the primary key (Table.PrimaryKeyFilter) or a secondary index
// (UniqueIndex.Filter, NonUniqueIndex.Filter):
//
//	setVal := worktable.NewUpdateQuery(t, "val_by_attr", byAttr.Filter(),
//	    func(r *Row, val int64) { r.Val = val })
//	n, _ := setVal.Exec(ctx, 777, "TEST")
//
//	delByAttr := worktable.NewDeleteQuery(t, "by_attr", byAttr.Filter())
//	n, _ = delByAttr.Exec(ctx, "TEST")
//
// A non-unique filter applies to every matching row.
//
// # Consistency Model
//
//   - Point lookups never block and see every completed write.
//   - Writers to the same row are serialized; writers to different rows are not.
//   - A unique index rejects a second live row with the same value
//     (ErrDuplicateKey); the existing row is unaffected.
//   - Scans (IterWith, SelectAll) step through the primary index one key at a
//     time. They never block writers and are not snapshots: rows inserted
//     behind the cursor may be missed, and a row deleted between its key step
//     and its fetch aborts the scan with ErrNotFound.
//   - Upsert is a presence check followed by update or insert. A concurrent
//     insert of the same key surfaces as ErrDuplicateKey.
//   - There are no multi-row transactions and no durability.
//
// # Errors
//
// Operations return ErrNotFound, ErrDuplicateKey (details in
// *DuplicateKeyError) or a *StorageError matching ErrStorage when row storage
// is out of capacity.
package worktable
