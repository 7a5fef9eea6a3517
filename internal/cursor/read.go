package cursor

import (
	"github.com/samber/lo"

	"github.com/lipandr/cursorlog/internal/cursorerr"
	"github.com/lipandr/cursorlog/internal/logview"
	"github.com/lipandr/cursorlog/internal/position"
	"github.com/lipandr/cursorlog/internal/waitqueue"
)

// ReadEntries returns up to max entries starting at read_pos, advancing
// read_pos past everything examined — including positions filtered out
// because they are individually deleted, which do not count against
// max but are still skipped over. Per spec §5, the cache and the caller
// share ownership of each returned entry's payload; call Entry.Release
// on every entry once done with it.
func (c *Cursor) ReadEntries(max int) ([]logview.Entry, error) {
	if max < 1 {
		return nil, cursorerr.InvalidArgument
	}
	c.mu.Lock()
	if err := c.requireActiveLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	cur := c.readPos
	c.mu.Unlock()

	out := make([]logview.Entry, 0, max)
	for len(out) < max {
		want := max - len(out)
		batch, next, err := c.lv.ReadEntries(cur, want)
		if err != nil {
			c.advanceReadPos(cur)
			return out, err
		}
		live := lo.Filter(batch, func(e logview.Entry, _ int) bool {
			return !c.individuallyDeleted.Contains(e.Position)
		})
		for _, e := range live {
			cached := c.cache.Put(e.Position, e.Payload)
			out = append(out, logview.NewEntry(e.Position, e.Payload, cached.Release))
		}
		if len(batch) < want {
			if nextSeg, ok := c.lv.NextSegmentStart(cur.Segment); ok {
				cur = nextSeg.Next()
				continue
			}
			cur = next
			break
		}
		cur = next
	}
	c.advanceReadPos(cur)
	return out, nil
}

func (c *Cursor) advanceReadPos(p position.Position) {
	c.mu.Lock()
	if c.readPos.Less(p) {
		c.readPos = p
	}
	c.mu.Unlock()
}

// AsyncReadEntriesOrWait behaves like ReadEntries if at least one live
// entry is available at read_pos; otherwise it registers a pending read
// satisfied by the next append at or after read_pos. Only one pending
// read is allowed per cursor at a time.
func (c *Cursor) AsyncReadEntriesOrWait(max int, cb func([]logview.Entry, error)) error {
	if max < 1 {
		return cursorerr.InvalidArgument
	}
	c.mu.Lock()
	if err := c.requireActiveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	cur := c.readPos
	c.mu.Unlock()

	if c.lv.HasMoreAfter(cur.Prev()) {
		go func() {
			entries, err := c.ReadEntries(max)
			cb(entries, err)
		}()
		return nil
	}

	w := &waitqueue.Waiter{At: cur, Callback: func() {
		entries, err := c.ReadEntries(max)
		cb(entries, err)
	}}
	if !c.waiters.Register(w) {
		return cursorerr.Mark(errAlreadyPending{}, cursorerr.InvalidArgument, "a pending read is already registered")
	}
	return nil
}

type errAlreadyPending struct{}

func (errAlreadyPending) Error() string { return "pending read already registered" }

// CancelPendingRead removes a pending read without invoking its
// callback, reporting whether one was present.
func (c *Cursor) CancelPendingRead() bool {
	return c.waiters.Cancel()
}

// ReplayEntries reads the given positions, in any order, skipping those
// already acknowledged (<= mark_delete_pos). It fails if any remaining
// position is unknown to the log view.
func (c *Cursor) ReplayEntries(positions []position.Position) ([]logview.Entry, error) {
	c.mu.Lock()
	if err := c.requireActiveLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	markDelete := c.markDeletePos
	c.mu.Unlock()

	out := make([]logview.Entry, 0, len(positions))
	for _, p := range positions {
		if p.LessEqual(markDelete) {
			continue
		}
		e, err := c.readAt(p)
		if err != nil {
			return nil, cursorerr.Mark(err, cursorerr.LogReadError, "replay entry")
		}
		out = append(out, e)
	}
	return out, nil
}
