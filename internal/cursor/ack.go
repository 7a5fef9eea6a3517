package cursor

import (
	"context"

	"github.com/lipandr/cursorlog/internal/cursorerr"
	"github.com/lipandr/cursorlog/internal/cursorstore"
	"github.com/lipandr/cursorlog/internal/position"
	"github.com/lipandr/cursorlog/internal/rangeset"
)

// MarkDelete sets mark_delete_pos to p, absorbing any individually-
// deleted intervals it now subsumes. p must be >= the current
// mark_delete_pos; marking the same position again is a no-op success.
// Persistence goes through the cursor's throttler: it runs before
// MarkDelete returns when throttling is disabled or the interval has
// elapsed, and is otherwise coalesced into the pending timer.
func (c *Cursor) MarkDelete(p position.Position) error {
	c.mu.Lock()
	if err := c.requireActiveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if p.Less(c.markDeletePos) {
		c.mu.Unlock()
		return cursorerr.InvalidMarkDelete
	}
	if p.Equal(c.markDeletePos) {
		c.mu.Unlock()
		return nil
	}
	c.markDeletePos = p
	c.individuallyDeleted.RemoveBelow(p)
	c.markDeletePos = c.individuallyDeleted.AbsorbInto(c.markDeletePos)
	c.bumpReadPosLocked()
	c.mu.Unlock()

	c.throttle.Request()
	return nil
}

// AsyncMarkDelete runs MarkDelete and then invokes cb, on the calling
// goroutine, with MarkDelete's result. cb does not wait for the
// persistence MarkDelete requests: with throttling enabled it can run
// before the snapshot is written, and a failed persistence is logged by
// the cursor, not reported to cb.
func (c *Cursor) AsyncMarkDelete(p position.Position, cb func(error)) {
	if err := c.MarkDelete(p); err != nil {
		cb(err)
		return
	}
	cb(nil)
}

// bumpReadPosLocked enforces invariant 1 of spec §3: mark_delete_pos
// must stay strictly below read_pos, except immediately after nothing
// has been consumed past it. This also resolves spec §9's open question
// about a mark_delete straddling an uncreated segment boundary: accept
// it, and advance read_pos even if the log view has nothing there yet.
func (c *Cursor) bumpReadPosLocked() {
	next := c.markDeletePos.Next()
	if c.readPos.Less(next) {
		c.readPos = next
	}
}

// Delete acknowledges the single position p. It silently succeeds if p
// is already covered by mark_delete_pos.
func (c *Cursor) Delete(p position.Position) error {
	c.mu.Lock()
	if err := c.requireActiveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if p.LessEqual(c.markDeletePos) {
		c.mu.Unlock()
		return nil
	}
	c.individuallyDeleted.Insert(p)
	c.markDeletePos = c.individuallyDeleted.AbsorbInto(c.markDeletePos)
	c.bumpReadPosLocked()
	c.mu.Unlock()

	c.throttle.Request()
	return nil
}

// Seek sets read_pos to p without touching mark_delete_pos. It fails if
// p precedes mark_delete_pos.Next().
func (c *Cursor) Seek(p position.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireActiveLocked(); err != nil {
		return err
	}
	if p.Less(c.markDeletePos.Next()) {
		return cursorerr.InvalidArgument
	}
	c.readPos = p
	return nil
}

// Rewind sets read_pos back to mark_delete_pos.Next().
func (c *Cursor) Rewind() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireActiveLocked(); err != nil {
		return err
	}
	c.readPos = c.markDeletePos.Next()
	return nil
}

// ResetCursor sets read_pos = p and mark_delete_pos = p.Prev(), clearing
// individually-deleted entries below the new watermark, and persists
// synchronously.
func (c *Cursor) ResetCursor(ctx context.Context, p position.Position) error {
	snap, err := c.resetCursorLocked(p)
	if err != nil {
		return err
	}
	newVersion, err := c.store.Persist(ctx, c.logName, c.name, snap.Snapshot, snap.prevVersion)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.version = newVersion
	if snap.CursorsLedgerID != -1 {
		c.ledgerID = snap.CursorsLedgerID
	}
	c.mu.Unlock()
	return nil
}

// AsyncResetCursor is ResetCursor's async form: persistence happens on
// a goroutine, cb is invoked exactly once with its outcome.
func (c *Cursor) AsyncResetCursor(ctx context.Context, p position.Position, cb func(error)) {
	snap, err := c.resetCursorLocked(p)
	if err != nil {
		cb(err)
		return
	}
	go func() {
		newVersion, err := c.store.Persist(ctx, c.logName, c.name, snap.Snapshot, snap.prevVersion)
		if err != nil {
			cb(err)
			return
		}
		c.mu.Lock()
		c.version = newVersion
		if snap.CursorsLedgerID != -1 {
			c.ledgerID = snap.CursorsLedgerID
		}
		c.mu.Unlock()
		cb(nil)
	}()
}

// snapshotWithVersion pairs a persistence snapshot with the metastore
// version it must CAS against.
type snapshotWithVersion struct {
	cursorstore.Snapshot
	prevVersion int64
}

func (c *Cursor) resetCursorLocked(p position.Position) (snapshotWithVersion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireActiveLocked(); err != nil {
		return snapshotWithVersion{}, err
	}
	c.readPos = p
	c.markDeletePos = p.Prev()
	c.individuallyDeleted.RemoveBelow(c.markDeletePos)
	snap := c.snapshotLocked()
	return snapshotWithVersion{Snapshot: snap, prevVersion: c.version}, nil
}

// ClearBacklog acknowledges everything currently in the log: equivalent
// to mark_delete(log_last_position).
func (c *Cursor) ClearBacklog() error {
	return c.MarkDelete(c.lv.LastPosition())
}

// SkipEntries advances read_pos by n live entries per policy, acking
// only the entries this call itself skips over — [start, target), where
// start is read_pos on entry and target is the resulting read_pos — not
// everything back to the existing mark_delete_pos. Entries read but not
// yet acknowledged before this call stays unacknowledged, per spec §3
// invariant 1: mark_delete_pos only advances through explicit ack calls.
func (c *Cursor) SkipEntries(n int64, policy SkipPolicy) error {
	if n < 0 {
		return cursorerr.InvalidArgument
	}
	c.mu.Lock()
	if err := c.requireActiveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	start := c.readPos
	c.mu.Unlock()

	if n == 0 {
		return nil
	}
	target := c.advancePastN(start, n, policy)

	c.mu.Lock()
	if target.LessEqual(start) {
		// read_pos already moved past start by a concurrent call; this
		// skip has nothing left to do.
		c.mu.Unlock()
		return nil
	}
	c.individuallyDeleted.InsertInterval(rangeset.Interval{Lo: start, Hi: target})
	if c.readPos.Less(target) {
		c.readPos = target
	}
	c.markDeletePos = c.individuallyDeleted.AbsorbInto(c.markDeletePos)
	c.bumpReadPosLocked()
	c.mu.Unlock()

	c.throttle.Request()
	return nil
}

// advancePastN returns the position that is n qualifying entries after
// start, per policy. With IncludeIndividuallyDeleted this is a direct
// log-view position algebra call; with ExcludeIndividuallyDeleted it
// walks entry by entry so acked positions are passed over for free.
func (c *Cursor) advancePastN(start position.Position, n int64, policy SkipPolicy) position.Position {
	if policy == IncludeIndividuallyDeleted {
		return c.lv.PositionAfterN(start, n, position.StartIncluded)
	}
	pos := start
	var counted int64
	for counted < n {
		if !c.individuallyDeleted.Contains(pos) {
			counted++
			if counted == n {
				return pos.Next()
			}
		}
		pos = c.lv.PositionAfterN(pos, 1, position.StartExcluded)
	}
	return pos
}
