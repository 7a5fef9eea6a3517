// Package waitqueue implements the read-or-wait scheduler of spec
// component H: at most one pending read per cursor, satisfied inline
// when the log view signals an append at or after the waited-for
// position.
package waitqueue

import (
	"sync"

	"github.com/lipandr/cursorlog/internal/position"
)

// Waiter's Callback is invoked at most once, by NotifyAppend; Cancel
// removes the waiter without invoking it.
type Waiter struct {
	At       position.Position
	Callback func()
}

// Queue holds at most one pending Waiter at a time.
type Queue struct {
	mu     sync.Mutex
	waiter *Waiter
}

// Register installs w as the pending read. It fails if one is already
// registered — spec §4.E: "at most one pending read per cursor;
// registering a second yields error."
func (q *Queue) Register(w *Waiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.waiter != nil {
		return false
	}
	q.waiter = w
	return true
}

// Cancel removes the pending waiter without invoking its callback,
// reporting whether one was present.
func (q *Queue) Cancel() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.waiter == nil {
		return false
	}
	q.waiter = nil
	return true
}

// NotifyAppend checks whether a pending waiter is satisfied by an append
// at p, and if so removes and invokes it. It is a no-op if p is before
// the waiter's position or none is pending.
func (q *Queue) NotifyAppend(p position.Position) {
	q.mu.Lock()
	w := q.waiter
	if w == nil || p.Less(w.At) {
		q.mu.Unlock()
		return
	}
	q.waiter = nil
	q.mu.Unlock()
	w.Callback()
}

// Pending reports whether a read is currently registered.
func (q *Queue) Pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiter != nil
}
