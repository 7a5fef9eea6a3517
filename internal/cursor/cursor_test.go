package cursor

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lipandr/cursorlog/internal/cursorstore"
	"github.com/lipandr/cursorlog/internal/entrycache"
	"github.com/lipandr/cursorlog/internal/findnewest"
	"github.com/lipandr/cursorlog/internal/logview"
	"github.com/lipandr/cursorlog/internal/position"
)

type harness struct {
	lv    *logview.LogView
	meta  cursorstore.MetaStore
	store *cursorstore.Store
	cache *entrycache.Cache
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir, err := os.MkdirTemp("", "cursor-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	lv, err := logview.Open(dir+"/log", "test", logview.Config{}, nil)
	require.NoError(t, err)

	meta := cursorstore.NewMemStore()
	store := cursorstore.New(meta, cursorstore.Config{LedgerDir: dir + "/cursors"}, nil)
	return &harness{lv: lv, meta: meta, store: store, cache: entrycache.New("test", 1<<20)}
}

func (h *harness) openCursor(t *testing.T, name string) *Cursor {
	t.Helper()
	c, err := Open(context.Background(), h.lv, h.cache, h.store, "test", name, Config{}, nil)
	require.NoError(t, err)
	return c
}

func (h *harness) append(t *testing.T, payloads ...string) []position.Position {
	t.Helper()
	positions := make([]position.Position, 0, len(payloads))
	for _, p := range payloads {
		pos, err := h.lv.Append([]byte(p))
		require.NoError(t, err)
		positions = append(positions, pos)
	}
	return positions
}

func TestEmptyLogReadEntriesReturnsNothing(t *testing.T) {
	h := newHarness(t)
	c := h.openCursor(t, "c1")
	entries, err := c.ReadEntries(5)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestAppendReadAckRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c")
	c := h.openCursor(t, "c1")

	entries, err := c.ReadEntries(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []byte("a"), entries[0].Payload)
	require.Equal(t, []byte("b"), entries[1].Payload)

	require.NoError(t, c.MarkDelete(entries[1].Position))
	require.Equal(t, entries[1].Position, c.markDeletePos)
	require.Equal(t, int64(1), c.NumberOfEntriesInBacklog())
}

func TestBacklogCountingAcrossCursors(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c", "d")
	c1 := h.openCursor(t, "c1")
	c2 := h.openCursor(t, "c2")

	require.Equal(t, int64(4), c1.NumberOfEntriesInBacklog())
	require.Equal(t, int64(4), c2.NumberOfEntriesInBacklog())

	_, err := c1.ReadEntries(2)
	require.NoError(t, err)
	require.NoError(t, c1.MarkDelete(position.New(0, 1)))

	require.Equal(t, int64(2), c1.NumberOfEntriesInBacklog())
	require.Equal(t, int64(4), c2.NumberOfEntriesInBacklog())
}

func TestOutOfOrderAcksAbsorbIntoWatermark(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c", "d")
	c := h.openCursor(t, "c1")

	require.NoError(t, c.Delete(position.New(0, 1)))
	require.NoError(t, c.Delete(position.New(0, 0)))
	require.Equal(t, position.New(0, 1), c.markDeletePos)
	require.True(t, c.IsIndividuallyDeletedEntriesEmpty())

	require.NoError(t, c.Delete(position.New(0, 3)))
	require.False(t, c.IsIndividuallyDeletedEntriesEmpty())
	require.NoError(t, c.Delete(position.New(0, 2)))
	require.Equal(t, position.New(0, 3), c.markDeletePos)
	require.True(t, c.IsIndividuallyDeletedEntriesEmpty())
}

func TestRewindAfterMarkDelete(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c")
	c := h.openCursor(t, "c1")

	_, err := c.ReadEntries(3)
	require.NoError(t, err)
	require.NoError(t, c.MarkDelete(position.New(0, 1)))
	require.NoError(t, c.Rewind())
	require.Equal(t, position.New(0, 2), c.readPos)
}

func TestSeekRejectsBelowMarkDelete(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c")
	c := h.openCursor(t, "c1")
	require.NoError(t, c.MarkDelete(position.New(0, 1)))
	require.Error(t, c.Seek(position.New(0, 1)))
	require.NoError(t, c.Seek(position.New(0, 2)))
}

func TestSkipEntriesIncludePolicy(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c", "d", "e")
	c := h.openCursor(t, "c1")

	require.NoError(t, c.SkipEntries(3, IncludeIndividuallyDeleted))
	require.Equal(t, position.New(0, 3), c.readPos)
	require.Equal(t, position.New(0, 2), c.markDeletePos)
}

func TestSkipEntriesExcludePolicySkipsAckedForFree(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c", "d", "e")
	c := h.openCursor(t, "c1")
	// Ack entry c (index 2) in isolation, leaving a gap below it so it
	// cannot yet absorb into mark_delete_pos.
	require.NoError(t, c.Delete(position.New(0, 2)))

	// Skipping 3 qualifying entries from read_pos=0 passes over a, b,
	// the already-acked c (for free, uncounted) and d, landing on e.
	require.NoError(t, c.SkipEntries(3, ExcludeIndividuallyDeleted))
	require.Equal(t, position.New(0, 4), c.readPos)
	require.Equal(t, position.New(0, 3), c.markDeletePos)
	require.True(t, c.IsIndividuallyDeletedEntriesEmpty())
}

func TestSkipEntriesOnlyAcksItsOwnRange(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c", "d", "e")
	c := h.openCursor(t, "c1")

	_, err := c.ReadEntries(3) // read_pos -> 3; a, b, c read but unacked
	require.NoError(t, err)
	require.NoError(t, c.SkipEntries(1, IncludeIndividuallyDeleted)) // skip only d

	require.Equal(t, position.New(0, 4), c.readPos)
	require.Equal(t, position.Before, c.markDeletePos)
	require.False(t, c.IsIndividuallyDeletedEntriesEmpty())
}

func TestReplayEntriesSkipsAcked(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c")
	c := h.openCursor(t, "c1")
	require.NoError(t, c.MarkDelete(position.New(0, 0)))

	entries, err := c.ReplayEntries([]position.Position{position.New(0, 0), position.New(0, 1), position.New(0, 2)})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []byte("b"), entries[0].Payload)
	require.Equal(t, []byte("c"), entries[1].Payload)
}

func TestFindNewestMatching(t *testing.T) {
	h := newHarness(t)
	h.append(t, "keep", "keep", "keep", "drop", "drop")
	c := h.openCursor(t, "c1")

	pred := func(payload []byte) bool { return string(payload) == "keep" }
	got, err := c.FindNewestMatching(context.Background(), findnewest.SearchAll, pred)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, position.New(0, 2), *got)
}

func TestFindNewestMatchingSearchActiveRangeStartsAtReadPos(t *testing.T) {
	h := newHarness(t)
	h.append(t, "drop", "keep", "keep", "keep")
	c := h.openCursor(t, "c1")

	_, err := c.ReadEntries(1) // read_pos -> 1, past the unmatched lead entry
	require.NoError(t, err)

	pred := func(payload []byte) bool { return string(payload) == "keep" }

	// SearchAll starts at mark_delete_pos.Next() == 0, where "drop" fails
	// check_first, so it finds nothing.
	got, err := c.FindNewestMatching(context.Background(), findnewest.SearchAll, pred)
	require.NoError(t, err)
	require.Nil(t, got)

	// SearchActiveRange starts at read_pos == 1, skipping the dropped
	// lead entry entirely, and finds the newest "keep".
	got, err = c.FindNewestMatching(context.Background(), findnewest.SearchActiveRange, pred)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, position.New(0, 3), *got)
}

func TestPersistAndRecoverAcrossReopen(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c")
	c := h.openCursor(t, "c1")
	require.NoError(t, c.MarkDelete(position.New(0, 1)))
	c.persistLatest()
	require.NoError(t, c.Close())

	c2 := h.openCursor(t, "c1")
	require.Equal(t, position.New(0, 1), c2.markDeletePos)
	require.Equal(t, position.New(0, 2), c2.readPos)
}

func TestThrottledMarkDeleteCoalesces(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c", "d")
	c, err := Open(context.Background(), h.lv, h.cache, h.store, "test", "c1", Config{ThrottleMarkDelete: 1}, nil)
	require.NoError(t, err)

	require.NoError(t, c.MarkDelete(position.New(0, 0)))
	require.NoError(t, c.MarkDelete(position.New(0, 1)))
	require.NoError(t, c.MarkDelete(position.New(0, 2)))

	time.Sleep(1100 * time.Millisecond)
	snap, version, err := h.store.Recover(context.Background(), "test", "c1", 0)
	require.NoError(t, err)
	require.Greater(t, version, int64(0))
	// The first call persists at once; the other two coalesce into one
	// timer-driven persistence that picks up the latest mark-delete.
	require.Equal(t, int64(2), version)
	require.Equal(t, int64(2), snap.MarkDeleteEntry)
}

func TestDeleteDurableRequiresClosedFirst(t *testing.T) {
	h := newHarness(t)
	c := h.openCursor(t, "c1")
	require.Error(t, c.DeleteDurable(context.Background()))
	require.NoError(t, c.Close())
	require.NoError(t, c.DeleteDurable(context.Background()))
	require.Equal(t, Deleted, c.state)
}

func TestGetNthEntry(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c", "d", "e")
	c := h.openCursor(t, "c1")

	_, err := c.GetNthEntry(0, IncludeIndividuallyDeleted)
	require.Error(t, err)

	p, err := c.GetNthEntry(4, IncludeIndividuallyDeleted)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, position.New(0, 3), *p)

	p, err = c.GetNthEntry(10, IncludeIndividuallyDeleted)
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestAsyncReadEntriesOrWaitImmediateWhenDataAvailable(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a")
	c := h.openCursor(t, "c1")

	done := make(chan []logview.Entry, 1)
	require.NoError(t, c.AsyncReadEntriesOrWait(1, func(entries []logview.Entry, err error) {
		require.NoError(t, err)
		done <- entries
	}))

	select {
	case entries := <-done:
		require.Len(t, entries, 1)
		require.Equal(t, []byte("a"), entries[0].Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never invoked")
	}
}

func TestAsyncReadEntriesOrWaitSatisfiedByLaterAppend(t *testing.T) {
	h := newHarness(t)
	c := h.openCursor(t, "c1")

	done := make(chan []logview.Entry, 1)
	require.NoError(t, c.AsyncReadEntriesOrWait(1, func(entries []logview.Entry, err error) {
		require.NoError(t, err)
		done <- entries
	}))
	require.True(t, c.waiters.Pending())

	h.append(t, "a")

	select {
	case entries := <-done:
		require.Len(t, entries, 1)
		require.Equal(t, []byte("a"), entries[0].Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never invoked after append")
	}
}

func TestCancelPendingReadPreventsCallback(t *testing.T) {
	h := newHarness(t)
	c := h.openCursor(t, "c1")

	called := false
	require.NoError(t, c.AsyncReadEntriesOrWait(1, func([]logview.Entry, error) {
		called = true
	}))

	require.True(t, c.CancelPendingRead())
	require.False(t, c.CancelPendingRead())

	h.append(t, "a")
	time.Sleep(50 * time.Millisecond)
	require.False(t, called)
}

func TestAsyncMarkDeleteInvokesCallback(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b")
	c := h.openCursor(t, "c1")

	done := make(chan error, 1)
	c.AsyncMarkDelete(position.New(0, 0), func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never invoked")
	}
	require.Equal(t, position.New(0, 0), c.markDeletePos)
}

func TestAsyncResetCursorInvokesCallback(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c")
	c := h.openCursor(t, "c1")

	done := make(chan error, 1)
	c.AsyncResetCursor(context.Background(), position.New(0, 2), func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never invoked")
	}
	require.Equal(t, position.New(0, 2), c.readPos)
	require.Equal(t, position.New(0, 1), c.markDeletePos)
}

func TestClearBacklogAcksEverything(t *testing.T) {
	h := newHarness(t)
	h.append(t, "a", "b", "c")
	c := h.openCursor(t, "c1")

	require.NoError(t, c.ClearBacklog())
	require.Equal(t, int64(0), c.NumberOfEntriesInBacklog())
	require.Equal(t, h.lv.LastPosition(), c.markDeletePos)
}

// TestSpillToLedgerSurvivesCloseAndReopen is spec §8 scenario 6, driven
// through cursor.Open/Close/reopen rather than cursorstore in isolation:
// 100 entries, every even-indexed one acked individually. That absorbs
// entry 0 into the watermark but leaves 49 disjoint single-entry ranges
// above it, which exceeds the configured inline threshold and forces a
// switch to a dedicated cursor ledger. Closing and reopening must
// recover the exact same backlog and read out the untouched odd entries
// in order.
func TestSpillToLedgerSurvivesCloseAndReopen(t *testing.T) {
	dir, err := os.MkdirTemp("", "cursor-ledger-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	lv, err := logview.Open(dir+"/log", "test", logview.Config{}, nil)
	require.NoError(t, err)

	meta := cursorstore.NewMemStore()
	store := cursorstore.New(meta, cursorstore.Config{
		LedgerDir:                 dir + "/cursors",
		MaxUnackedRangesToPersist: 10,
	}, nil)
	cache := entrycache.New("test", 1<<20)

	const total = 100
	for i := 0; i < total; i++ {
		_, err := lv.Append([]byte(strconv.Itoa(i)))
		require.NoError(t, err)
	}

	c, err := Open(context.Background(), lv, cache, store, "test", "c1", Config{}, nil)
	require.NoError(t, err)

	for k := 0; k < total/2; k++ {
		require.NoError(t, c.Delete(position.New(0, int64(2*k))))
	}
	require.Equal(t, int64(total/2), c.NumberOfEntriesInBacklog())
	require.NoError(t, c.Close())

	c2, err := Open(context.Background(), lv, cache, store, "test", "c1", Config{}, nil)
	require.NoError(t, err)
	require.True(t, c2.ledgerID != -1, "recovered cursor should reference a cursor ledger")
	require.Equal(t, int64(total/2), c2.NumberOfEntriesInBacklog())

	entries, err := c2.ReadEntries(total / 2)
	require.NoError(t, err)
	require.Len(t, entries, total/2)
	for i, e := range entries {
		want := 1 + 2*i
		require.Equal(t, strconv.Itoa(want), string(e.Payload))
	}
}
