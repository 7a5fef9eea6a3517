// Package findnewest implements the bounded, resumable binary search of
// spec component F: given a monotone predicate over entries, find the
// newest entry satisfying it.
package findnewest

import (
	"context"

	"github.com/lipandr/cursorlog/internal/cursorerr"
	"github.com/lipandr/cursorlog/internal/metrics"
	"github.com/lipandr/cursorlog/internal/position"
)

// EntryReader is the subset of the log view this engine needs.
type EntryReader interface {
	ReadEntry(p position.Position) ([]byte, error)
	PositionAfterN(start position.Position, n int64, bound position.Bound) position.Position
}

// Predicate decides whether an entry's payload matches. It is assumed
// monotone in log order ("true then false" as positions increase) for
// the semantic use-case (e.g. retention cut-offs); the algorithm below
// does not itself depend on that assumption holding exactly.
type Predicate func(payload []byte) bool

// Policy selects how the search range n is computed by the caller before
// invoking Run; findnewest itself is agnostic to how n was derived.
type Policy int

const (
	SearchAll Policy = iota
	SearchActiveRange
)

// Run performs the state machine of spec §4.F: check_first, check_last,
// then binary search. For a monotone predicate it performs at most
// ceil(log2(n))+3 entry reads: two for check_first and check_last, and
// up to ceil(log2(n))+1 in the search loop.
// logName labels the FindNewestReads metric.
func Run(ctx context.Context, logName string, reader EntryReader, start position.Position, n int64, pred Predicate) (*position.Position, error) {
	read := func(p position.Position) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, cursorerr.Mark(ctx.Err(), cursorerr.FindEntryFailed, "context canceled during find-newest read")
		default:
		}
		metrics.FindNewestReads.WithLabelValues(logName).Inc()
		b, err := reader.ReadEntry(p)
		if err != nil {
			return nil, cursorerr.Mark(err, cursorerr.FindEntryFailed, "read entry during find-newest")
		}
		return b, nil
	}

	// check_first
	first, err := read(start)
	if err != nil {
		return nil, err
	}
	if !pred(first) {
		return nil, nil
	}
	lastMatch := start

	if n == 0 {
		return &lastMatch, nil
	}

	// check_last
	lastPos := reader.PositionAfterN(start, n, position.StartExcluded)
	lastPayload, err := read(lastPos)
	if err != nil {
		return nil, err
	}
	if pred(lastPayload) {
		return &lastPos, nil
	}

	// searching: binary search over [0, n], last confirmed match at
	// start (index 0), last confirmed non-match at n.
	min, max := int64(0), n
	for max > min {
		mid := min + maxInt64((max-min)/2, 1)
		p := reader.PositionAfterN(start, mid, position.StartExcluded)
		payload, err := read(p)
		if err != nil {
			return nil, err
		}
		if pred(payload) {
			lastMatch = p
			min = mid
		} else {
			max = mid - 1
		}
	}
	return &lastMatch, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
