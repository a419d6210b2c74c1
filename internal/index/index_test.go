package index

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/hupe1980/worktable/internal/epoch"
	"github.com/hupe1980/worktable/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID    uint64
	Email string
	Team  string
}

func link(slot uint32) model.Link {
	return model.Link{Slot: model.SlotID(slot), Gen: 1}
}

func TestPrimary(t *testing.T) {
	c := epoch.NewCollector()
	g := c.Pin()
	defer g.Release()

	p := NewPrimary[uint64]()
	require.NoError(t, p.Insert(2, link(2), g))
	require.NoError(t, p.Insert(1, link(1), g))

	err := p.Insert(1, link(9), g)
	require.ErrorIs(t, err, ErrDuplicateKey)
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, PrimaryName, dup.Index)
	assert.Equal(t, uint64(1), dup.Key)

	l, ok := p.Peek(1, g)
	require.True(t, ok)
	assert.Equal(t, link(1), l)

	k, _, ok := p.First(g)
	require.True(t, ok)
	assert.Equal(t, uint64(1), k)

	var keys []uint64
	for k := range p.Range(2, g) {
		keys = append(keys, k)
	}
	assert.Equal(t, []uint64{2}, keys)

	assert.False(t, p.Remove(1, link(9), g), "stale link must not remove")
	assert.True(t, p.Remove(1, link(1), g))
	_, ok = p.Peek(1, g)
	assert.False(t, ok)
	assert.Equal(t, 1, p.Len())
}

func TestUnique(t *testing.T) {
	c := epoch.NewCollector()
	g := c.Pin()
	defer g.Release()

	u := NewUnique("by_email", func(r row) string { return r.Email })
	assert.True(t, u.Unique())
	assert.Equal(t, "by_email", u.Name())

	require.NoError(t, u.Save(row{ID: 1, Email: "a@x"}, link(1), g))
	// Saving the same mapping again is a no-op.
	require.NoError(t, u.Save(row{ID: 1, Email: "a@x"}, link(1), g))

	err := u.Save(row{ID: 2, Email: "a@x"}, link(2), g)
	require.ErrorIs(t, err, ErrDuplicateKey)

	l, ok := u.Peek("a@x", g)
	require.True(t, ok)
	assert.Equal(t, link(1), l, "existing mapping must survive a rejected save")

	u.Remove(row{Email: "a@x"}, link(2), g)
	_, ok = u.Peek("a@x", g)
	assert.True(t, ok)

	u.Remove(row{Email: "a@x"}, link(1), g)
	_, ok = u.Peek("a@x", g)
	assert.False(t, ok)

	assert.True(t, u.Changed(row{Email: "a"}, row{Email: "b"}))
	assert.False(t, u.Changed(row{Email: "a", Team: "x"}, row{Email: "a", Team: "y"}))
}

func sorted(links []model.Link) []model.Link {
	sort.Slice(links, func(i, j int) bool { return links[i].Slot < links[j].Slot })
	return links
}

func TestNonUnique(t *testing.T) {
	c := epoch.NewCollector()
	g := c.Pin()

	n := NewNonUnique("by_team", func(r row) string { return r.Team })
	assert.False(t, n.Unique())

	require.NoError(t, n.Save(row{ID: 1, Team: "red"}, link(1), g))
	require.NoError(t, n.Save(row{ID: 2, Team: "red"}, link(2), g))
	require.NoError(t, n.Save(row{ID: 3, Team: "blue"}, link(3), g))
	require.NoError(t, n.Save(row{ID: 2, Team: "red"}, link(2), g))

	links, ok := n.Peek("red", g)
	require.True(t, ok)
	assert.Equal(t, []model.Link{link(1), link(2)}, sorted(links))
	assert.Equal(t, 2, n.Len())

	n.Remove(row{Team: "red"}, link(1), g)
	links, ok = n.Peek("red", g)
	require.True(t, ok)
	assert.Equal(t, []model.Link{link(2)}, links)

	n.Remove(row{Team: "red"}, link(2), g)
	_, ok = n.Peek("red", g)
	assert.False(t, ok)
	assert.Equal(t, 1, n.Len(), "empty value must leave the index")

	_, ok = n.Peek("green", g)
	assert.False(t, ok)

	// Replaced bitmaps wait for the guard.
	c.Flush()
	assert.Positive(t, c.Stats().Pending)

	g.Release()
	c.Flush()
	assert.Zero(t, c.Stats().Pending)

	// Recycled bitmaps come back empty.
	g = c.Pin()
	defer g.Release()
	require.NoError(t, n.Save(row{ID: 4, Team: "red"}, link(4), g))
	links, ok = n.Peek("red", g)
	require.True(t, ok)
	assert.Equal(t, []model.Link{link(4)}, links)
}

func TestNonUnique_PeekSnapshot(t *testing.T) {
	c := epoch.NewCollector()
	g := c.Pin()
	defer g.Release()

	n := NewNonUnique("by_team", func(r row) string { return r.Team })
	require.NoError(t, n.Save(row{Team: "red"}, link(1), g))

	links, ok := n.Peek("red", g)
	require.True(t, ok)

	require.NoError(t, n.Save(row{Team: "red"}, link(2), g))
	assert.Len(t, links, 1, "peeked links are a copy")
}

func TestNonUnique_Concurrent(t *testing.T) {
	c := epoch.NewCollector()
	n := NewNonUnique("by_team", func(r row) string { return r.Team })

	const (
		workers = 8
		perW    = 200
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perW; i++ {
				slot := uint32(w*perW + i + 1)
				r := row{Team: fmt.Sprintf("t%d", i%4)}

				g := c.Pin()
				_ = n.Save(r, link(slot), g)
				g.Release()

				if i%2 == 1 {
					g = c.Pin()
					n.Remove(r, link(slot), g)
					g.Release()
				}
			}
		}(w)
	}
	wg.Wait()

	g := c.Pin()
	defer g.Release()

	total := 0
	for i := 0; i < 4; i++ {
		links, _ := n.Peek(fmt.Sprintf("t%d", i), g)
		for _, l := range links {
			// Only even iterations keep their link.
			assert.Equal(t, 0, int(l.Slot-1)%perW%2)
		}
		total += len(links)
	}
	assert.Equal(t, workers*perW/2, total)
}

func TestSet_SaveRowRollsBack(t *testing.T) {
	c := epoch.NewCollector()
	g := c.Pin()
	defer g.Release()

	team := NewNonUnique("by_team", func(r row) string { return r.Team })
	email := NewUnique("by_email", func(r row) string { return r.Email })
	s := NewSet[row](team, email)

	require.NoError(t, s.SaveRow(row{ID: 1, Email: "a", Team: "red"}, link(1), g))

	err := s.SaveRow(row{ID: 2, Email: "a", Team: "blue"}, link(2), g)
	require.ErrorIs(t, err, ErrDuplicateKey)

	_, ok := team.Peek("blue", g)
	assert.False(t, ok, "partial save must be undone")

	idx, ok := s.Get("by_email")
	require.True(t, ok)
	assert.True(t, idx.Unique())
	assert.Len(t, s.All(), 2)

	s.DeleteRow(row{ID: 1, Email: "a", Team: "red"}, link(1), g)
	assert.Zero(t, team.Len())
	assert.Zero(t, email.Len())
}

func TestSet_StageCommitAbort(t *testing.T) {
	c := epoch.NewCollector()
	g := c.Pin()
	defer g.Release()

	team := NewNonUnique("by_team", func(r row) string { return r.Team })
	email := NewUnique("by_email", func(r row) string { return r.Email })
	s := NewSet[row](team, email)

	prev := row{ID: 1, Email: "a", Team: "red"}
	require.NoError(t, s.SaveRow(prev, link(1), g))
	require.NoError(t, s.SaveRow(row{ID: 2, Email: "b", Team: "red"}, link(2), g))

	// Unchanged columns stage nothing.
	change, err := s.Stage(prev, prev, link(1), g)
	require.NoError(t, err)
	assert.True(t, change.Empty())

	next := row{ID: 1, Email: "c", Team: "blue"}
	change, err = s.Stage(prev, next, link(1), g)
	require.NoError(t, err)

	// Both mappings are visible until commit.
	_, ok := email.Peek("a", g)
	assert.True(t, ok)
	_, ok = email.Peek("c", g)
	assert.True(t, ok)

	change.Commit(g)
	_, ok = email.Peek("a", g)
	assert.False(t, ok)
	links, ok := team.Peek("blue", g)
	require.True(t, ok)
	assert.Equal(t, []model.Link{link(1)}, links)

	// Conflicting stage leaves nothing behind.
	_, err = s.Stage(next, row{ID: 1, Email: "b", Team: "green"}, link(1), g)
	require.ErrorIs(t, err, ErrDuplicateKey)
	_, ok = team.Peek("green", g)
	assert.False(t, ok)

	change, err = s.Stage(next, row{ID: 1, Email: "d", Team: "blue"}, link(1), g)
	require.NoError(t, err)
	change.Abort(g)
	_, ok = email.Peek("d", g)
	assert.False(t, ok)
	_, ok = email.Peek("c", g)
	assert.True(t, ok)
}
