// Package cursor implements spec component E, the hard part of this
// module: a durable, per-consumer state machine tracking read position,
// mark-delete watermark, and individually-deleted acknowledgments above
// it, under concurrent reads, acks, rewinds, seeks, resets, and skips.
package cursor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lipandr/cursorlog/internal/cursorerr"
	"github.com/lipandr/cursorlog/internal/cursorstore"
	"github.com/lipandr/cursorlog/internal/entrycache"
	"github.com/lipandr/cursorlog/internal/findnewest"
	"github.com/lipandr/cursorlog/internal/logview"
	"github.com/lipandr/cursorlog/internal/metrics"
	"github.com/lipandr/cursorlog/internal/position"
	"github.com/lipandr/cursorlog/internal/rangeset"
	"github.com/lipandr/cursorlog/internal/waitqueue"
)

// Config carries the subset of spec §6 options that affect a single
// cursor: cache size lives on the log, not here.
type Config struct {
	ThrottleMarkDelete float64 // snapshots/sec, 0 disables throttling
}

// Cursor is one named, durable consumer position over a log view.
type Cursor struct {
	name    string
	logName string

	lv    *logview.LogView
	cache *entrycache.Cache
	store *cursorstore.Store
	log   *zap.Logger

	throttle *throttler

	mu                  sync.Mutex
	readPos             position.Position
	markDeletePos       position.Position
	individuallyDeleted *rangeset.Set
	ledgerID            int64
	version             int64
	state               State

	waiters           waitqueue.Queue
	unsubscribeAppend func()
}

// Open opens (recovering durable state, or initializing a fresh cursor)
// a named cursor over lv.
func Open(ctx context.Context, lv *logview.LogView, cache *entrycache.Cache, store *cursorstore.Store, logName, name string, cfg Config, logger *zap.Logger) (*Cursor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cursor{
		name:    name,
		logName: logName,
		lv:      lv,
		cache:   cache,
		store:   store,
		log:     logger.Named("cursor").With(zap.String("log", logName), zap.String("cursor", name)),
		individuallyDeleted: rangeset.New(),
		state:               Active,
	}
	c.throttle = newThrottler(cfg.ThrottleMarkDelete, c.persistLatest, func() {
		metrics.MarkDeleteThrottled.WithLabelValues(logName, name).Inc()
	})

	snap, version, err := store.Recover(ctx, logName, name, lv.CurrentLastSegment())
	if err != nil {
		return nil, cursorerr.Mark(err, cursorerr.BrokenCursor, "recover cursor snapshot")
	}
	c.markDeletePos = position.New(snap.MarkDeleteSegment, snap.MarkDeleteEntry)
	c.readPos = c.markDeletePos.Next()
	c.ledgerID = snap.CursorsLedgerID
	if c.ledgerID == 0 {
		c.ledgerID = -1
	}
	c.version = version
	for _, r := range snap.IndividuallyDeleted {
		c.individuallyDeleted.InsertInterval(rangeset.Interval{
			Lo: position.New(r.LoSeg, r.LoEnt),
			Hi: position.New(r.HiSeg, r.HiEnt),
		})
	}

	c.unsubscribeAppend = lv.SubscribeAppend(func(p position.Position) {
		c.waiters.NotifyAppend(p)
	})
	return c, nil
}

func (c *Cursor) snapshotLocked() cursorstore.Snapshot {
	ranges := make([]cursorstore.Range, 0)
	for _, iv := range c.individuallyDeleted.Iter() {
		ranges = append(ranges, cursorstore.Range{
			LoSeg: iv.Lo.Segment, LoEnt: iv.Lo.Entry,
			HiSeg: iv.Hi.Segment, HiEnt: iv.Hi.Entry,
		})
	}
	return cursorstore.Snapshot{
		MarkDeleteSegment:   c.markDeletePos.Segment,
		MarkDeleteEntry:     c.markDeletePos.Entry,
		CursorsLedgerID:     c.ledgerID,
		IndividuallyDeleted: ranges,
		LastActive:          uint64(time.Now().Unix()),
	}
}

// persistLatest captures the current in-memory state and writes it
// durably. It is what the throttler's timer calls, which is why it
// re-snapshots rather than using a value captured at request time —
// spec §4.G: "the latest value wins".
func (c *Cursor) persistLatest() {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	version := c.version
	c.mu.Unlock()

	newVersion, err := c.store.Persist(context.Background(), c.logName, c.name, snap, version)
	if err != nil {
		c.log.Warn("persisting cursor snapshot failed", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.version = newVersion
	if snap.CursorsLedgerID != -1 {
		c.ledgerID = snap.CursorsLedgerID
	}
	c.mu.Unlock()
	metrics.MarkDeleteTotal.WithLabelValues(c.logName, c.name).Inc()
}

func (c *Cursor) requireActiveLocked() error {
	if c.state != Active {
		return cursorerr.CursorAlreadyClosed
	}
	return nil
}

// readAt fetches the payload at p, consulting the shared entry cache
// first and falling back to the log view on a miss. The returned
// Entry's Release must be called when the caller is done with it.
func (c *Cursor) readAt(p position.Position) (logview.Entry, error) {
	if hit, ok := c.cache.Get(p); ok {
		return logview.NewEntry(p, hit.Payload, hit.Release), nil
	}
	b, err := c.lv.ReadEntry(p)
	if err != nil {
		return logview.Entry{}, err
	}
	cached := c.cache.Put(p, b)
	return logview.NewEntry(p, b, cached.Release), nil
}

// Name returns the cursor's name.
func (c *Cursor) Name() string { return c.name }
