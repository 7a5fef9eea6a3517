package waitqueue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lipandr/cursorlog/internal/position"
)

func TestRegisterRejectsSecondWaiter(t *testing.T) {
	var q Queue
	require.True(t, q.Register(&Waiter{At: position.New(0, 0), Callback: func() {}}))
	require.False(t, q.Register(&Waiter{At: position.New(0, 1), Callback: func() {}}))
	require.True(t, q.Pending())
}

func TestCancelRemovesWithoutInvoking(t *testing.T) {
	var q Queue
	called := false
	q.Register(&Waiter{At: position.New(0, 0), Callback: func() { called = true }})
	require.True(t, q.Cancel())
	require.False(t, q.Pending())
	require.False(t, called)

	require.False(t, q.Cancel())
}

func TestNotifyAppendSatisfiesMatchingWaiter(t *testing.T) {
	var q Queue
	called := false
	q.Register(&Waiter{At: position.New(0, 5), Callback: func() { called = true }})

	q.NotifyAppend(position.New(0, 4))
	require.False(t, called)
	require.True(t, q.Pending())

	q.NotifyAppend(position.New(0, 5))
	require.True(t, called)
	require.False(t, q.Pending())
}

func TestNotifyAppendNoWaiterIsNoop(t *testing.T) {
	var q Queue
	require.NotPanics(t, func() { q.NotifyAppend(position.New(0, 0)) })
}

func TestNotifyAppendClearsWaiterBeforeInvoking(t *testing.T) {
	var q Queue
	var reentrantRegisterOK bool
	q.Register(&Waiter{At: position.New(0, 0), Callback: func() {
		reentrantRegisterOK = q.Register(&Waiter{At: position.New(0, 1), Callback: func() {}})
	}})
	q.NotifyAppend(position.New(0, 0))
	require.True(t, reentrantRegisterOK)
}
