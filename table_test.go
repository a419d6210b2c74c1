package worktable

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/hupe1980/worktable/pkgen"
	"github.com/hupe1980/worktable/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRow struct {
	ID        uint64
	Val       int64
	Attribute string
}

type valByAttr struct {
	Val int64
}

func newTestTable(t *testing.T, opts ...Option) (*Table[testRow, uint64], *NonUniqueIndex[testRow, string]) {
	t.Helper()

	byAttr := NewNonUniqueIndex("attribute", func(r testRow) string { return r.Attribute })
	tbl, err := New(Schema[testRow, uint64]{
		Name:          "test",
		PrimaryKey:    func(r testRow) uint64 { return r.ID },
		SetPrimaryKey: func(r *testRow, id uint64) { r.ID = id },
		Generator:     pkgen.Autoincrement[uint64](),
		Indexes:       []IndexDescriptor[testRow]{byAttr},
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl, byAttr
}

type user struct {
	ID    string
	Email string
	Team  string
}

func newUserTable(t *testing.T) (*Table[user, string], *UniqueIndex[user, string], *NonUniqueIndex[user, string]) {
	t.Helper()

	byEmail := NewUniqueIndex("email", func(u user) string { return u.Email })
	byTeam := NewNonUniqueIndex("team", func(u user) string { return u.Team })
	tbl, err := New(Schema[user, string]{
		Name:       "users",
		PrimaryKey: func(u user) string { return u.ID },
		Indexes:    []IndexDescriptor[user]{byEmail, byTeam},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl, byEmail, byTeam
}

func ids(rows []testRow) []uint64 {
	out := make([]uint64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestTable_Scenario(t *testing.T) {
	ctx := context.Background()
	tbl, byAttr := newTestTable(t)

	inserts := []testRow{
		{Val: 1, Attribute: "TEST"},
		{Val: 2, Attribute: "TEST2"},
		{Val: 1337, Attribute: "TEST2"},
		{Val: 555, Attribute: "TEST3"},
	}
	for i, r := range inserts {
		id, err := tbl.Insert(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), id)
	}

	rows, err := byAttr.Select(ctx, tbl, "TEST2")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids(rows))

	update := NewUpdateQuery(tbl, "val_by_attr", byAttr.Filter(), func(r *testRow, q valByAttr) {
		r.Val = q.Val
	})
	n, err := update.Exec(ctx, valByAttr{Val: 777}, "TEST2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err = byAttr.Select(ctx, tbl, "TEST2")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, int64(777), r.Val)
	}

	del := NewDeleteQuery(tbl, "by_attr", byAttr.Filter())
	n, err = del.Exec(ctx, "TEST3")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := tbl.SelectAll().Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2}, ids(all))
}

func TestTable_InsertSelect(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)

	id, err := tbl.Insert(ctx, testRow{Val: 42, Attribute: "a"})
	require.NoError(t, err)

	row, ok := tbl.Select(id)
	require.True(t, ok)
	assert.Equal(t, testRow{ID: id, Val: 42, Attribute: "a"}, row)

	_, ok = tbl.Select(999)
	assert.False(t, ok)
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, "test", tbl.Name())
}

func TestTable_DuplicatePrimaryKey(t *testing.T) {
	ctx := context.Background()
	tbl, _, byTeam := newUserTable(t)

	_, err := tbl.Insert(ctx, user{ID: "u1", Email: "a@x", Team: "red"})
	require.NoError(t, err)

	_, err = tbl.Insert(ctx, user{ID: "u1", Email: "b@x", Team: "blue"})
	require.ErrorIs(t, err, ErrDuplicateKey)

	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "primary", dup.Index)
	assert.Equal(t, "u1", dup.Key)

	row, ok := tbl.Select("u1")
	require.True(t, ok)
	assert.Equal(t, "a@x", row.Email, "existing row must be unaffected")

	_, err = byTeam.Select(ctx, tbl, "blue")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTable_UniqueIndexRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	tbl, byEmail, byTeam := newUserTable(t)

	_, err := tbl.Insert(ctx, user{ID: "u1", Email: "a@x", Team: "red"})
	require.NoError(t, err)

	_, err = tbl.Insert(ctx, user{ID: "u2", Email: "a@x", Team: "blue"})
	require.ErrorIs(t, err, ErrDuplicateKey)

	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "email", dup.Index)

	// The rejected row left nothing behind.
	_, ok := tbl.Select("u2")
	assert.False(t, ok)
	_, err = byTeam.Select(ctx, tbl, "blue")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, tbl.Len())

	row, ok := byEmail.Select(tbl, "a@x")
	require.True(t, ok)
	assert.Equal(t, "u1", row.ID)

	// The key becomes available again after the row is gone.
	require.NoError(t, tbl.Delete(ctx, "u1"))
	_, err = tbl.Insert(ctx, user{ID: "u2", Email: "a@x", Team: "blue"})
	require.NoError(t, err)
}

func TestTable_UpdateIndexedColumn(t *testing.T) {
	ctx := context.Background()
	tbl, byEmail, byTeam := newUserTable(t)

	_, err := tbl.Insert(ctx, user{ID: "u1", Email: "a@x", Team: "red"})
	require.NoError(t, err)

	_, ok := byEmail.Select(tbl, "a@x")
	assert.True(t, ok)
	_, ok = byEmail.Select(tbl, "b@x")
	assert.False(t, ok)

	move := NewUpdateQuery(tbl, "email_by_id", tbl.PrimaryKeyFilter(), func(u *user, email string) {
		u.Email = email
		u.Team = "blue"
	})
	n, err := move.Exec(ctx, "b@x", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok = byEmail.Select(tbl, "a@x")
	assert.False(t, ok)
	row, ok := byEmail.Select(tbl, "b@x")
	require.True(t, ok)
	assert.Equal(t, "blue", row.Team)

	_, err = byTeam.Select(ctx, tbl, "red")
	assert.ErrorIs(t, err, ErrNotFound)
	rows, err := byTeam.Select(ctx, tbl, "blue")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestTable_UpdateConflictKeepsRow(t *testing.T) {
	ctx := context.Background()
	tbl, byEmail, _ := newUserTable(t)

	_, err := tbl.Insert(ctx, user{ID: "u1", Email: "a@x", Team: "red"})
	require.NoError(t, err)
	_, err = tbl.Insert(ctx, user{ID: "u2", Email: "b@x", Team: "red"})
	require.NoError(t, err)

	err = tbl.Update(ctx, user{ID: "u2", Email: "a@x", Team: "green"})
	require.ErrorIs(t, err, ErrDuplicateKey)

	row, ok := tbl.Select("u2")
	require.True(t, ok)
	assert.Equal(t, user{ID: "u2", Email: "b@x", Team: "red"}, row)

	row, ok = byEmail.Select(tbl, "a@x")
	require.True(t, ok)
	assert.Equal(t, "u1", row.ID)
}

func TestTable_UpdateAllMatches(t *testing.T) {
	ctx := context.Background()
	tbl, byAttr := newTestTable(t)

	for i := range 5 {
		attr := "odd"
		if i%2 == 0 {
			attr = "even"
		}
		_, err := tbl.Insert(ctx, testRow{Val: int64(i), Attribute: attr})
		require.NoError(t, err)
	}

	// Moving every match to another value of the filter column.
	relabel := NewUpdateQuery(tbl, "relabel", byAttr.Filter(), func(r *testRow, attr string) {
		r.Attribute = attr
	})
	n, err := relabel.Exec(ctx, "all", "even")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = byAttr.Select(ctx, tbl, "even")
	assert.ErrorIs(t, err, ErrNotFound)
	rows, err := byAttr.Select(ctx, tbl, "all")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 2, 4}, ids(rows))

	_, err = relabel.Exec(ctx, "x", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTable_UpdatePrimaryKeyChange(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t)

	id, err := tbl.Insert(ctx, testRow{Val: 1, Attribute: "a"})
	require.NoError(t, err)

	rekey := NewUpdateQuery(tbl, "rekey", tbl.PrimaryKeyFilter(), func(r *testRow, id uint64) {
		r.ID = id
	})
	_, err = rekey.Exec(ctx, 100, id)
	require.ErrorIs(t, err, ErrPrimaryKeyChanged)

	_, ok := tbl.Select(id)
	assert.True(t, ok)
}

func TestTable_Delete(t *testing.T) {
	ctx := context.Background()
	tbl, byAttr := newTestTable(t)

	id, err := tbl.Insert(ctx, testRow{Val: 1, Attribute: "a"})
	require.NoError(t, err)

	require.NoError(t, tbl.Delete(ctx, id))
	_, ok := tbl.Select(id)
	assert.False(t, ok)
	_, err = byAttr.Select(ctx, tbl, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, tbl.Delete(ctx, id), ErrNotFound)

	byID := NewDeleteQuery(tbl, "by_id", tbl.PrimaryKeyFilter())
	_, err = byID.Exec(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, tbl.Len())
}

func TestTable_Upsert(t *testing.T) {
	ctx := context.Background()
	tbl, byAttr := newTestTable(t)

	// Insert path with an explicit key advances the generator.
	require.NoError(t, tbl.Upsert(ctx, testRow{ID: 10, Val: 1, Attribute: "a"}))
	row, ok := tbl.Select(10)
	require.True(t, ok)
	assert.Equal(t, int64(1), row.Val)

	// Update path.
	require.NoError(t, tbl.Upsert(ctx, testRow{ID: 10, Val: 2, Attribute: "b"}))
	row, ok = tbl.Select(10)
	require.True(t, ok)
	assert.Equal(t, testRow{ID: 10, Val: 2, Attribute: "b"}, row)

	_, err := byAttr.Select(ctx, tbl, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	id, err := tbl.Insert(ctx, testRow{Val: 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(11), id)
}

func TestTable_StorageWritesRunUnpinned(t *testing.T) {
	ctx := context.Background()
	tbl, _, _ := newUserTable(t)

	var writes, pinned int
	testHookStoreWrite = func() {
		writes++
		pinned += tbl.cat.collector.Stats().Pinned
	}
	t.Cleanup(func() { testHookStoreWrite = func() {} })

	_, err := tbl.Insert(ctx, user{ID: "u1", Email: "a", Team: "red"})
	require.NoError(t, err)

	// Stored, then removed again when the email index rejects it.
	_, err = tbl.Insert(ctx, user{ID: "u2", Email: "a", Team: "red"})
	require.ErrorIs(t, err, ErrDuplicateKey)

	require.NoError(t, tbl.Update(ctx, user{ID: "u1", Email: "b", Team: "blue"}))
	require.NoError(t, tbl.Delete(ctx, "u1"))

	assert.Equal(t, 5, writes)
	assert.Zero(t, pinned)
}

func TestTable_UpdateMissing(t *testing.T) {
	tbl, _ := newTestTable(t)
	err := tbl.Update(context.Background(), testRow{ID: 5})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTable_GetNextPK(t *testing.T) {
	tbl, _ := newTestTable(t)

	a, err := tbl.GetNextPK()
	require.NoError(t, err)
	b, err := tbl.GetNextPK()
	require.NoError(t, err)
	assert.Less(t, a, b)

	users, _, _ := newUserTable(t)
	_, err = users.GetNextPK()
	assert.ErrorIs(t, err, ErrNoGenerator)
}

func TestTable_CustomGenerator(t *testing.T) {
	ctx := context.Background()
	tbl, err := New(Schema[user, string]{
		PrimaryKey:    func(u user) string { return u.ID },
		SetPrimaryKey: func(u *user, id string) { u.ID = id },
		Generator:     pkgen.UUIDv7(),
	})
	require.NoError(t, err)

	a, err := tbl.Insert(ctx, user{Email: "a"})
	require.NoError(t, err)
	b, err := tbl.Insert(ctx, user{Email: "b"})
	require.NoError(t, err)

	var order []string
	require.NoError(t, tbl.IterWith(func(u user) error {
		order = append(order, u.Email)
		return nil
	}))
	assert.Less(t, a, b)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestNew_InvalidSchema(t *testing.T) {
	_, err := New(Schema[testRow, uint64]{})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	_, err = New(Schema[testRow, uint64]{
		PrimaryKey: func(r testRow) uint64 { return r.ID },
		Generator:  pkgen.Autoincrement[uint64](),
	})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	idx := NewNonUniqueIndex("attr", func(r testRow) string { return r.Attribute })
	_, err = New(Schema[testRow, uint64]{
		PrimaryKey: func(r testRow) uint64 { return r.ID },
		Indexes:    []IndexDescriptor[testRow]{idx, idx},
	})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	_, err = New(Schema[testRow, uint64]{
		PrimaryKey: func(r testRow) uint64 { return r.ID },
		Indexes:    []IndexDescriptor[testRow]{NewUniqueIndex("primary", func(r testRow) int64 { return r.Val })},
	})
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestTable_StorageError(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t, WithMaxRows(2))

	for range 2 {
		_, err := tbl.Insert(ctx, testRow{})
		require.NoError(t, err)
	}

	_, err := tbl.Insert(ctx, testRow{})
	require.ErrorIs(t, err, ErrStorage)

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.NotNil(t, errors.Unwrap(se))
	assert.Equal(t, 2, tbl.Len())
}

func TestTable_MemoryLimit(t *testing.T) {
	ctx := context.Background()
	// One page of 4 rows fits, the second page does not.
	tbl, _ := newTestTable(t, WithPageSize(256), WithRowSizeHint(64), WithMemoryLimit(300))

	for range 4 {
		_, err := tbl.Insert(ctx, testRow{})
		require.NoError(t, err)
	}
	_, err := tbl.Insert(ctx, testRow{})
	require.ErrorIs(t, err, ErrStorage)

	s := tbl.Stats()
	assert.Equal(t, 1, s.Pages)
	assert.Equal(t, 4, s.SlotsPerPage)
	assert.Equal(t, int64(256), s.MemoryUsage)
}

func TestTable_SlotReuse(t *testing.T) {
	ctx := context.Background()
	tbl, _ := newTestTable(t, WithMaxPages(1), WithPageSize(256), WithRowSizeHint(64))

	// Freed slots come back once no guard can observe them, so a single page
	// serves far more inserts than it has slots.
	for range 50 {
		id, err := tbl.Insert(ctx, testRow{Val: 1})
		require.NoError(t, err)
		require.NoError(t, tbl.Delete(ctx, id))
	}
	assert.Equal(t, 1, tbl.Stats().Pages)
}

func TestTable_Close(t *testing.T) {
	ctx := context.Background()
	rc := resource.NewController(resource.Config{MaxRows: 10})
	tbl, _ := newTestTable(t, WithResourceController(rc))

	_, err := tbl.Insert(ctx, testRow{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rc.RowUsage())

	require.NoError(t, tbl.Close())
	require.NoError(t, tbl.Close())
	assert.Zero(t, rc.RowUsage())
	assert.Zero(t, rc.MemoryUsage())

	_, err = tbl.Insert(ctx, testRow{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, tbl.IterWith(func(testRow) error { return nil }), ErrClosed)
}

func TestTable_CanceledContext(t *testing.T) {
	tbl, _ := newTestTable(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tbl.Insert(ctx, testRow{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, tbl.Len())
}

func TestTable_Stats(t *testing.T) {
	ctx := context.Background()
	tbl, _, _ := newUserTable(t)

	_, err := tbl.Insert(ctx, user{ID: "u1", Email: "a", Team: "red"})
	require.NoError(t, err)
	_, err = tbl.Insert(ctx, user{ID: "u2", Email: "b", Team: "red"})
	require.NoError(t, err)

	s := tbl.Stats()
	assert.Equal(t, "users", s.Name)
	assert.Equal(t, 2, s.Rows)
	assert.Equal(t, map[string]int{"email": 2, "team": 1}, s.Indexes)
	assert.Equal(t, 1, s.Pages)
	assert.Positive(t, s.ReservedBytes)
}
