package rangeset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lipandr/cursorlog/internal/position"
)

func TestInsertAndContains(t *testing.T) {
	s := New()
	s.Insert(position.New(0, 5))
	require.True(t, s.Contains(position.New(0, 5)))
	require.False(t, s.Contains(position.New(0, 4)))
	require.False(t, s.Contains(position.New(0, 6)))
	require.Equal(t, int64(1), s.Size())
}

func TestInsertMergesAdjacent(t *testing.T) {
	s := New()
	s.Insert(position.New(0, 1))
	s.Insert(position.New(0, 2))
	s.Insert(position.New(0, 3))
	require.Equal(t, int64(3), s.Size())
	iv, ok := s.Lowest()
	require.True(t, ok)
	require.Equal(t, position.New(0, 1), iv.Lo)
	require.Equal(t, position.New(0, 4), iv.Hi)
}

func TestInsertOutOfOrderStillMerges(t *testing.T) {
	s := New()
	s.Insert(position.New(0, 3))
	s.Insert(position.New(0, 1))
	s.Insert(position.New(0, 2))
	require.Equal(t, int64(3), s.Size())
	iv, ok := s.Lowest()
	require.True(t, ok)
	require.Equal(t, position.New(0, 1), iv.Lo)
	require.Equal(t, position.New(0, 4), iv.Hi)
}

func TestRemoveBelow(t *testing.T) {
	s := New()
	s.Insert(position.New(0, 1))
	s.Insert(position.New(0, 2))
	s.Insert(position.New(0, 5))
	s.RemoveBelow(position.New(0, 2))
	require.False(t, s.Contains(position.New(0, 1)))
	require.False(t, s.Contains(position.New(0, 2)))
	require.True(t, s.Contains(position.New(0, 5)))
	require.Equal(t, int64(1), s.Size())
}

func TestAbsorbInto(t *testing.T) {
	s := New()
	s.Insert(position.New(0, 1))
	s.Insert(position.New(0, 2))
	s.Insert(position.New(0, 4)) // gap at 3: should not absorb

	newMark := s.AbsorbInto(position.New(0, 0))
	require.Equal(t, position.New(0, 2), newMark)
	require.True(t, s.Contains(position.New(0, 4)))
	require.Equal(t, int64(1), s.Size())
}

func TestCountAtOrAfter(t *testing.T) {
	s := New()
	s.Insert(position.New(0, 1))
	s.Insert(position.New(0, 2))
	s.Insert(position.New(0, 5))
	require.Equal(t, int64(3), s.CountAtOrAfter(position.New(0, 0)))
	require.Equal(t, int64(2), s.CountAtOrAfter(position.New(0, 2)))
	require.Equal(t, int64(1), s.CountAtOrAfter(position.New(0, 3)))
	require.Equal(t, int64(0), s.CountAtOrAfter(position.New(0, 6)))
}

func TestIntersectCount(t *testing.T) {
	s := New()
	s.Insert(position.New(0, 1))
	s.Insert(position.New(0, 2))
	s.Insert(position.New(0, 3))
	s.Insert(position.New(0, 10))
	require.Equal(t, int64(3), s.IntersectCount(position.New(0, 0), position.New(0, 4)))
	require.Equal(t, int64(2), s.IntersectCount(position.New(0, 3), position.New(0, 11)))
}
