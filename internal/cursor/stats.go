package cursor

import (
	"context"

	"github.com/lipandr/cursorlog/internal/cursorerr"
	"github.com/lipandr/cursorlog/internal/findnewest"
	"github.com/lipandr/cursorlog/internal/metrics"
	"github.com/lipandr/cursorlog/internal/position"
)

// NumberOfEntries returns the count of live entries at or after read_pos
// still present in the log view: what AsyncReadEntriesOrWait would still
// deliver if called repeatedly to exhaustion.
func (c *Cursor) NumberOfEntries() int64 {
	c.mu.Lock()
	readPos := c.readPos
	individuallyDeleted := c.individuallyDeleted
	c.mu.Unlock()

	total := c.lv.TotalEntriesFrom(readPos.Prev())
	return total - individuallyDeleted.CountAtOrAfter(readPos)
}

// NumberOfEntriesInBacklog counts everything after mark_delete_pos,
// minus whatever above the watermark is already individually acked —
// invariant 4 of spec §3.
func (c *Cursor) NumberOfEntriesInBacklog() int64 {
	c.mu.Lock()
	markDeletePos := c.markDeletePos
	individuallyDeleted := c.individuallyDeleted
	c.mu.Unlock()
	backlog := c.lv.TotalEntriesFrom(markDeletePos) - individuallyDeleted.Size()
	metrics.CursorBacklog.WithLabelValues(c.logName, c.name).Set(float64(backlog))
	return backlog
}

// IsIndividuallyDeletedEntriesEmpty reports whether any acks are pending
// absorption into the mark-delete watermark.
func (c *Cursor) IsIndividuallyDeletedEntriesEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.individuallyDeleted.IsEmpty()
}

// Stats returns a point-in-time operational snapshot of the cursor.
func (c *Cursor) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Name:                     c.name,
		ReadPosition:             c.readPos.String(),
		MarkDeletePosition:       c.markDeletePos.String(),
		NumberOfEntries:          c.lv.TotalEntriesFrom(c.readPos.Prev()) - c.individuallyDeleted.CountAtOrAfter(c.readPos),
		NumberOfEntriesInBacklog: c.lv.TotalEntriesFrom(c.markDeletePos) - c.individuallyDeleted.Size(),
		IndividuallyDeletedCount: c.individuallyDeleted.Size(),
		UsingCursorLedger:        c.ledgerID != -1,
	}
}

// GetNthEntry returns the position of the n-th live entry at or after
// read_pos (1-indexed: n == 1 is the entry at read_pos) under policy, or
// nil if fewer than n qualify.
func (c *Cursor) GetNthEntry(n int64, policy SkipPolicy) (*position.Position, error) {
	if n < 1 {
		return nil, cursorerr.InvalidArgument
	}
	c.mu.Lock()
	if err := c.requireActiveLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	start := c.readPos
	c.mu.Unlock()

	available := c.NumberOfEntries()
	if policy == IncludeIndividuallyDeleted {
		available = c.lv.TotalEntriesFrom(start.Prev())
	}
	if available < n {
		return nil, nil
	}
	var p position.Position
	if policy == IncludeIndividuallyDeleted {
		p = c.lv.PositionAfterN(start, n-1, position.StartIncluded)
	} else {
		// advancePastN returns the position just past the n-th qualifying
		// entry, in that entry's segment.
		p = c.advancePastN(start, n, policy).Prev()
	}
	return &p, nil
}

// FindNewestMatching runs the bounded binary search over either this
// cursor's full backlog (mark_delete_pos, log_last_position] for
// findnewest.SearchAll, or just its unread tail [read_pos,
// log_last_position] for findnewest.SearchActiveRange, resolving the
// search-range policy into the (start, n) findnewest.Run needs.
func (c *Cursor) FindNewestMatching(ctx context.Context, policy findnewest.Policy, pred findnewest.Predicate) (*position.Position, error) {
	c.mu.Lock()
	if err := c.requireActiveLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	start := c.markDeletePos.Next()
	if policy == findnewest.SearchActiveRange {
		start = c.readPos
	}
	c.mu.Unlock()

	n := c.lv.TotalEntriesFrom(start.Prev()) - 1
	if n < 0 {
		return nil, nil
	}
	return findnewest.Run(ctx, c.logName, c.lv, start, n, pred)
}

// Close unsubscribes the cursor from log-append notifications and
// cancels any pending read, marking the cursor Closed. It does not
// erase durable state; use DeleteDurable for that.
func (c *Cursor) Close() error {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return nil
	}
	c.state = Closed
	c.mu.Unlock()

	c.waiters.Cancel()
	if c.unsubscribeAppend != nil {
		c.unsubscribeAppend()
	}
	return nil
}

// DeleteDurable permanently erases the cursor's durable state (metadata
// record and, if present, its cursor ledger) and transitions it to the
// terminal Deleted state. The cursor must be closed first.
func (c *Cursor) DeleteDurable(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Active {
		c.mu.Unlock()
		return cursorerr.InvalidArgument
	}
	if c.state == Deleted {
		c.mu.Unlock()
		return nil
	}
	version := c.version
	ledgerID := c.ledgerID
	c.mu.Unlock()

	if err := c.store.Delete(ctx, c.logName, c.name, version, ledgerID); err != nil {
		return cursorerr.Mark(err, cursorerr.BrokenCursor, "delete durable cursor state")
	}

	c.mu.Lock()
	c.state = Deleted
	c.mu.Unlock()
	return nil
}
