// Package logview implements the read-only surface over a segmented,
// append-only log that the cursor core is built against (spec
// component D). The underlying physical storage engine is explicitly
// out of scope per spec §1 ("ledgers/segments, replication, GC of
// segments" are an external collaborator); this package is the
// reference implementation used to exercise that interface in this
// module, adapted from the teacher's internal/log package.
package logview

import (
	"context"
	"os"
	"path"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lipandr/cursorlog/internal/cursorerr"
	"github.com/lipandr/cursorlog/internal/position"
)

// Entry is a single record handed back by a read, paired with its
// assigned position. Per spec §5, the entry cache and the caller share
// ownership of Payload for the lifetime of a returned batch: Release
// drops the caller's share. An Entry that never held a cache reference
// (e.g. one read directly off a segment, bypassing the cache) has
// nothing to release, so Release is always safe to call.
type Entry struct {
	Position position.Position
	Payload  []byte

	onRelease func()
}

// NewEntry builds an Entry carrying release as its Release callback.
// release may be nil.
func NewEntry(p position.Position, payload []byte, release func()) Entry {
	return Entry{Position: p, Payload: payload, onRelease: release}
}

// Release drops this entry's outstanding reference on the entry cache,
// if it has one.
func (e Entry) Release() {
	if e.onRelease != nil {
		e.onRelease()
	}
}

// Config mirrors spec §6's recognized options that are opaque to the
// cursor core but meaningful to the log view's segmentation.
type Config struct {
	MaxStoreBytes uint64
	MaxIndexBytes uint64
	// MaxConcurrentReads bounds the number of log-view reads that may
	// be in flight at once across all cursors of this log, per spec §5
	// ("bounded... shared resource"). 0 means a sensible default.
	MaxConcurrentReads int64
}

func (c *Config) setDefaults() {
	if c.MaxStoreBytes == 0 {
		c.MaxStoreBytes = 1 << 20
	}
	if c.MaxIndexBytes == 0 {
		c.MaxIndexBytes = entWidth * 1024
	}
	if c.MaxConcurrentReads == 0 {
		c.MaxConcurrentReads = 32
	}
}

// AppendListener is notified, synchronously, with the position of each
// newly appended entry. Used by the read-or-wait scheduler (component
// H) to satisfy pending reads.
type AppendListener func(position.Position)

// LogView is the reference segmented log: a sequence of segments with
// sequential ids starting at 0, each holding contiguous, 0-based,
// segment-relative entry ids.
type LogView struct {
	Name string
	Dir  string

	config Config
	log    *zap.Logger
	sem    *semaphore.Weighted

	mu       sync.RWMutex
	segments []*segment
	active   *segment

	listenersMu sync.Mutex
	listeners   map[int]AppendListener
	nextListen  int
}

// Open creates or reopens a log view rooted at dir.
func Open(dir, name string, c Config, logger *zap.Logger) (*LogView, error) {
	c.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, cursorerr.Mark(err, cursorerr.LogWriteError, "create log directory")
	}
	lv := &LogView{
		Name:      name,
		Dir:       dir,
		config:    c,
		log:       logger.Named("logview").With(zap.String("log", name)),
		sem:       semaphore.NewWeighted(c.MaxConcurrentReads),
		listeners: make(map[int]AppendListener),
	}
	if err := lv.setup(); err != nil {
		return nil, err
	}
	return lv, nil
}

func (lv *LogView) setup() error {
	files, err := os.ReadDir(lv.Dir)
	if err != nil {
		return cursorerr.Mark(err, cursorerr.LogReadError, "read log directory")
	}
	segIDs := map[uint64]bool{}
	for _, f := range files {
		name := f.Name()
		ext := path.Ext(name)
		if ext != ".store" && ext != ".index" {
			continue
		}
		id, err := strconv.ParseUint(name[:len(name)-len(ext)], 10, 64)
		if err != nil {
			continue
		}
		segIDs[id] = true
	}
	ids := make([]uint64, 0, len(segIDs))
	for id := range segIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := lv.openSegment(id); err != nil {
			return err
		}
	}
	if lv.segments == nil {
		if err := lv.openSegment(0); err != nil {
			return err
		}
	}
	return nil
}

func (lv *LogView) openSegment(id uint64) error {
	s, err := newSegment(lv.Dir, id, lv.config.MaxStoreBytes, lv.config.MaxIndexBytes)
	if err != nil {
		return err
	}
	lv.segments = append(lv.segments, s)
	lv.active = s
	return nil
}

// Append writes payload to the active segment, rolling to a new one if
// it is now full, and notifies every subscribed listener.
func (lv *LogView) Append(payload []byte) (position.Position, error) {
	lv.mu.Lock()
	entryID, err := lv.active.Append(payload)
	if err != nil {
		lv.mu.Unlock()
		return position.Position{}, cursorerr.Mark(err, cursorerr.LogWriteError, "append entry")
	}
	p := position.New(lv.active.segID, entryID)
	if lv.active.IsMaxed() {
		if err := lv.openSegment(lv.active.segID + 1); err != nil {
			lv.mu.Unlock()
			return p, err
		}
	}
	lv.mu.Unlock()

	lv.notify(p)
	return p, nil
}

func (lv *LogView) notify(p position.Position) {
	lv.listenersMu.Lock()
	cbs := make([]AppendListener, 0, len(lv.listeners))
	for _, cb := range lv.listeners {
		cbs = append(cbs, cb)
	}
	lv.listenersMu.Unlock()
	for _, cb := range cbs {
		cb(p)
	}
}

// SubscribeAppend registers l to be called with the position of every
// future append. The returned func unsubscribes it.
func (lv *LogView) SubscribeAppend(l AppendListener) (cancel func()) {
	lv.listenersMu.Lock()
	id := lv.nextListen
	lv.nextListen++
	lv.listeners[id] = l
	lv.listenersMu.Unlock()
	return func() {
		lv.listenersMu.Lock()
		delete(lv.listeners, id)
		lv.listenersMu.Unlock()
	}
}

func (lv *LogView) findSegment(segID uint64) *segment {
	for _, s := range lv.segments {
		if s.segID == segID {
			return s
		}
	}
	return nil
}

// ReadEntry reads the single entry at p.
func (lv *LogView) ReadEntry(p position.Position) ([]byte, error) {
	if err := lv.sem.Acquire(context.Background(), 1); err != nil {
		return nil, cursorerr.Mark(err, cursorerr.LogReadError, "acquire read slot")
	}
	defer lv.sem.Release(1)

	lv.mu.RLock()
	s := lv.findSegment(p.Segment)
	lv.mu.RUnlock()
	if s == nil {
		return nil, cursorerr.Mark(os.ErrNotExist, cursorerr.LogReadError, "segment not found")
	}
	b, err := s.Read(p.Entry)
	if err != nil {
		return nil, cursorerr.Mark(err, cursorerr.LogReadError, "read entry")
	}
	return b, nil
}

// ReadEntries returns at most max live entries starting at from, in
// order. It may return fewer than max if it reaches the end of a
// segment before filling the batch — the caller resumes from next.
func (lv *LogView) ReadEntries(from position.Position, max int) (entries []Entry, next position.Position, err error) {
	if max < 1 {
		return nil, from, cursorerr.InvalidArgument
	}
	if err := lv.sem.Acquire(context.Background(), 1); err != nil {
		return nil, from, cursorerr.Mark(err, cursorerr.LogReadError, "acquire read slot")
	}
	defer lv.sem.Release(1)
	lv.mu.RLock()
	defer lv.mu.RUnlock()

	s := lv.findSegment(from.Segment)
	if s == nil {
		return nil, from, nil
	}
	entryID := from.Entry
	if entryID < 0 {
		entryID = 0
	}
	for len(entries) < max && entryID < s.nextEntry {
		b, err := s.Read(entryID)
		if err != nil {
			return entries, position.New(s.segID, entryID), cursorerr.Mark(err, cursorerr.LogReadError, "read entry")
		}
		entries = append(entries, Entry{Position: position.New(s.segID, entryID), Payload: b})
		entryID++
	}
	return entries, position.New(s.segID, entryID), nil
}

// HasMoreAfter reports whether at least one live entry exists strictly
// after p.
func (lv *LogView) HasMoreAfter(p position.Position) bool {
	return lv.TotalEntriesFrom(p) > 0
}

// TotalEntriesFrom counts live entries with position strictly greater
// than p.
func (lv *LogView) TotalEntriesFrom(p position.Position) int64 {
	lv.mu.RLock()
	defer lv.mu.RUnlock()
	var total int64
	for _, s := range lv.segments {
		switch {
		case s.segID < p.Segment:
			continue
		case s.segID == p.Segment:
			remaining := s.nextEntry - (p.Entry + 1)
			if remaining > 0 {
				total += remaining
			}
		default:
			total += s.nextEntry
		}
	}
	return total
}

// PositionAfterN returns the position sitting n live entries after
// start, honoring bound's inclusive/exclusive treatment of start. If n
// runs past the end of the log, the returned position is LastPosition(),
// which is BeforeSegment of the first segment if the log is empty.
func (lv *LogView) PositionAfterN(start position.Position, n int64, bound position.Bound) position.Position {
	lv.mu.RLock()
	defer lv.mu.RUnlock()

	if n == 0 {
		if bound == position.StartIncluded {
			return start
		}
		return start.Next()
	}

	// n >= 1 counts the n-th live entry strictly after start (1-indexed);
	// StartIncluded and StartExcluded agree here, they only differ at
	// n == 0 (handled above).
	remaining := n
	seg, from := start.Segment, start.Entry+1
	for _, s := range lv.segments {
		if s.segID < seg {
			continue
		}
		var segFrom int64
		if s.segID == seg {
			segFrom = from
		}
		available := s.nextEntry - segFrom
		if available < 0 {
			available = 0
		}
		if remaining <= available {
			return position.New(s.segID, segFrom+remaining-1)
		}
		remaining -= available
		seg, from = s.segID+1, 0
	}
	return lv.lastPositionLocked()
}

// LastPosition returns the position of the most recently appended entry,
// or BeforeSegment(0) if the log is empty.
func (lv *LogView) LastPosition() position.Position {
	lv.mu.RLock()
	defer lv.mu.RUnlock()
	return lv.lastPositionLocked()
}

func (lv *LogView) lastPositionLocked() position.Position {
	for i := len(lv.segments) - 1; i >= 0; i-- {
		s := lv.segments[i]
		if s.nextEntry > 0 {
			return position.New(s.segID, s.nextEntry-1)
		}
	}
	return position.BeforeSegment(lv.segments[0].segID)
}

// NextSegmentStart returns the BeforeSegment position of the first known
// segment with id greater than segID, or false if none has been created
// yet. The cursor's read pipeline uses this to roll across the
// segment-boundary short-circuit that ReadEntries is allowed to make.
func (lv *LogView) NextSegmentStart(segID uint64) (position.Position, bool) {
	lv.mu.RLock()
	defer lv.mu.RUnlock()
	for _, s := range lv.segments {
		if s.segID > segID {
			return position.BeforeSegment(s.segID), true
		}
	}
	return position.Position{}, false
}

// FirstPosition returns the position immediately before the oldest
// retained entry.
func (lv *LogView) FirstPosition() position.Position {
	lv.mu.RLock()
	defer lv.mu.RUnlock()
	return position.BeforeSegment(lv.segments[0].segID)
}

// CurrentLastSegment returns the id of the newest segment, used to seed
// a freshly opened cursor's mark-delete position.
func (lv *LogView) CurrentLastSegment() uint64 {
	lv.mu.RLock()
	defer lv.mu.RUnlock()
	return lv.segments[len(lv.segments)-1].segID
}

// Close closes every segment concurrently, combining any errors.
func (lv *LogView) Close() error {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	var g errgroup.Group
	var mu sync.Mutex
	var combined error
	for _, s := range lv.segments {
		s := s
		g.Go(func() error {
			if err := s.Close(); err != nil {
				mu.Lock()
				combined = multierr.Append(combined, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return combined
}
