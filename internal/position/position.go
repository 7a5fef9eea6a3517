// Package position implements the total order over log positions that
// every other component in this module builds on: a pair of
// (segment, entry) identifying a single appended record.
package position

import "fmt"

// Position identifies a single entry in a segmented log. Entry -1 is the
// distinguished "before the first entry of Segment" value used as the
// initial mark-delete position of a freshly opened cursor; it is a valid
// position, not an error condition.
type Position struct {
	Segment uint64
	Entry   int64
}

// Before is the smallest possible position: the mark-delete watermark of
// a cursor that has never read anything from segment 0.
var Before = Position{Segment: 0, Entry: -1}

// New returns the position (seg, ent).
func New(seg uint64, ent int64) Position {
	return Position{Segment: seg, Entry: ent}
}

// BeforeSegment returns the distinguished "before the first entry" position
// of the given segment.
func BeforeSegment(seg uint64) Position {
	return Position{Segment: seg, Entry: -1}
}

// Next returns the position immediately following p within the same
// segment. Segment rollover is resolved lazily by the log view, not here:
// Next never jumps to the next segment on its own.
func (p Position) Next() Position {
	return Position{Segment: p.Segment, Entry: p.Entry + 1}
}

// Prev returns the position immediately preceding p within the same
// segment. Prev of (s, -1) is (s, -2), a position that is never valid to
// dereference but is useful as an intermediate value (see reset_cursor).
func (p Position) Prev() Position {
	return Position{Segment: p.Segment, Entry: p.Entry - 1}
}

// Compare returns -1, 0, or 1 as p is less than, equal to, or greater than
// other, using lexicographic order on (Segment, Entry).
func (p Position) Compare(other Position) int {
	switch {
	case p.Segment < other.Segment:
		return -1
	case p.Segment > other.Segment:
		return 1
	case p.Entry < other.Entry:
		return -1
	case p.Entry > other.Entry:
		return 1
	default:
		return 0
	}
}

func (p Position) Less(other Position) bool    { return p.Compare(other) < 0 }
func (p Position) LessEqual(other Position) bool { return p.Compare(other) <= 0 }
func (p Position) Greater(other Position) bool  { return p.Compare(other) > 0 }
func (p Position) GreaterEqual(other Position) bool {
	return p.Compare(other) >= 0
}
func (p Position) Equal(other Position) bool { return p == other }

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Segment, p.Entry)
}

// Bound selects how position_after_n treats its starting position.
type Bound int

const (
	// StartIncluded counts start itself as the 0th live entry.
	StartIncluded Bound = iota
	// StartExcluded differs from StartIncluded only at n == 0, where it
	// yields start.Next() instead of start; for n >= 1 both yield the
	// n-th live entry strictly after start.
	StartExcluded
)
