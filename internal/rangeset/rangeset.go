// Package rangeset implements a compact, mergeable set of half-open
// position intervals, used by the cursor core to track acknowledgments
// that lie above the mark-delete watermark (spec component B).
package rangeset

import (
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/exp/slices"

	"github.com/lipandr/cursorlog/internal/position"
)

// Interval is a half-open range [Lo, Hi) of positions. Insert only
// introduces single-entry intervals within one segment; InsertInterval
// stores whatever non-empty [Lo, Hi) it is given. Size accounting
// counts Hi.Entry - Lo.Entry, which is the interval's size only when
// both ends share the same Segment.
type Interval struct {
	Lo, Hi position.Position
}

func (iv Interval) entries() int64 {
	return iv.Hi.Entry - iv.Lo.Entry
}

// Set is a sorted, disjoint, coalesced collection of Intervals.
type Set struct {
	mu        sync.Mutex
	intervals []Interval
	count     atomic.Int64
}

// New returns an empty range set.
func New() *Set {
	return &Set{}
}

// Insert adds the single position p, i.e. inserts [p, p.Next()) and
// merges with any adjacent intervals.
func (s *Set) Insert(p position.Position) {
	s.InsertInterval(Interval{Lo: p, Hi: p.Next()})
}

// InsertInterval inserts [lo, hi) and merges with any overlapping or
// touching intervals. lo must be strictly less than hi.
func (s *Set) InsertInterval(iv Interval) {
	if !iv.Lo.Less(iv.Hi) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, _ := slices.BinarySearchFunc(s.intervals, iv, func(a, b Interval) int {
		return a.Lo.Compare(b.Lo)
	})

	// Merge with the interval immediately before idx if it overlaps or
	// touches iv.
	if idx > 0 {
		prev := s.intervals[idx-1]
		if !prev.Hi.Less(iv.Lo) {
			idx--
			if prev.Hi.Greater(iv.Hi) {
				iv.Hi = prev.Hi
			}
			iv.Lo = prev.Lo
		}
	}

	// Absorb every following interval that overlaps or touches iv.
	end := idx
	for end < len(s.intervals) && !iv.Hi.Less(s.intervals[end].Lo) {
		if s.intervals[end].Hi.Greater(iv.Hi) {
			iv.Hi = s.intervals[end].Hi
		}
		end++
	}

	var removed int64
	for _, r := range s.intervals[idx:end] {
		removed += r.entries()
	}

	merged := append([]Interval{}, s.intervals[:idx]...)
	merged = append(merged, iv)
	merged = append(merged, s.intervals[end:]...)
	s.intervals = merged

	s.count.Add(iv.entries() - removed)
}

// Contains reports whether p lies in any stored interval.
func (s *Set) Contains(p position.Position) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, found := slices.BinarySearchFunc(s.intervals, p, func(a Interval, p position.Position) int {
		return a.Lo.Compare(p)
	})
	if found {
		return true
	}
	if idx == 0 {
		return false
	}
	prev := s.intervals[idx-1]
	return !p.Less(prev.Lo) && p.Less(prev.Hi)
}

// Size returns the total number of positions covered by the set.
func (s *Set) Size() int64 {
	return s.count.Load()
}

// IsEmpty reports whether the set has no intervals.
func (s *Set) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.intervals) == 0
}

// Lowest returns the interval with the smallest Lo, or false if empty.
func (s *Set) Lowest() (Interval, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.intervals) == 0 {
		return Interval{}, false
	}
	return s.intervals[0], true
}

// Iter returns a snapshot copy of the intervals in sorted order. The
// caller may retain and inspect it without holding the set's lock.
func (s *Set) Iter() []Interval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Interval, len(s.intervals))
	copy(out, s.intervals)
	return out
}

// IntersectCount counts how many stored positions lie within [lo, hi).
func (s *Set) IntersectCount(lo, hi position.Position) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, iv := range s.intervals {
		if iv.Hi.LessEqual(lo) {
			continue
		}
		if iv.Lo.GreaterEqual(hi) {
			break
		}
		l, h := iv.Lo, iv.Hi
		if l.Less(lo) {
			l = lo
		}
		if h.Greater(hi) {
			h = hi
		}
		if l.Less(h) {
			n += Interval{Lo: l, Hi: h}.entries()
		}
	}
	return n
}

// CountAtOrAfter returns how many stored positions are >= p.
func (s *Set) CountAtOrAfter(p position.Position) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, iv := range s.intervals {
		if iv.Hi.LessEqual(p) {
			continue
		}
		lo := iv.Lo
		if lo.Less(p) {
			lo = p
		}
		n += Interval{Lo: lo, Hi: iv.Hi}.entries()
	}
	return n
}

// RemoveBelow drops every position <= p, and trims any interval that
// straddles p. Used by mark_delete to discard acknowledgments now
// subsumed by the new watermark.
func (s *Set) RemoveBelow(p position.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cut := p.Next()
	i := 0
	var removed int64
	for i < len(s.intervals) && s.intervals[i].Hi.LessEqual(cut) {
		removed += s.intervals[i].entries()
		i++
	}
	if i < len(s.intervals) && s.intervals[i].Lo.Less(cut) {
		removed += cut.Entry - s.intervals[i].Lo.Entry
		s.intervals[i].Lo = cut
	}
	s.intervals = s.intervals[i:]
	s.count.Sub(removed)
}

// AbsorbInto repeatedly merges the lowest interval into markDelete
// whenever it starts exactly at markDelete.Next(), returning the new
// mark-delete position. This implements invariant 3 of spec §3.
func (s *Set) AbsorbInto(markDelete position.Position) position.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.intervals) > 0 {
		lowest := s.intervals[0]
		if !lowest.Lo.Equal(markDelete.Next()) {
			break
		}
		markDelete = position.Position{Segment: lowest.Hi.Segment, Entry: lowest.Hi.Entry - 1}
		s.count.Sub(lowest.entries())
		s.intervals = s.intervals[1:]
	}
	return markDelete
}
