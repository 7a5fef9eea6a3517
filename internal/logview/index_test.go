package logview

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, maxBytes uint64) *index {
	t.Helper()
	dir := t.TempDir()
	f, err := os.OpenFile(filepath.Join(dir, "test.index"), os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	idx, err := newIndex(f, maxBytes)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndexWriteThenRead(t *testing.T) {
	idx := newTestIndex(t, entWidth*4)
	require.NoError(t, idx.Write(0, 100))
	require.NoError(t, idx.Write(1, 205))

	off, pos, err := idx.Read(0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), off)
	require.Equal(t, uint64(100), pos)

	off, pos, err = idx.Read(1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), off)
	require.Equal(t, uint64(205), pos)

	require.Equal(t, int64(2), idx.entries())
}

func TestIndexReadNegativeOneReturnsLast(t *testing.T) {
	idx := newTestIndex(t, entWidth*4)
	require.NoError(t, idx.Write(0, 100))
	require.NoError(t, idx.Write(1, 205))

	off, pos, err := idx.Read(-1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), off)
	require.Equal(t, uint64(205), pos)
}

func TestIndexReadEmptyReturnsEOF(t *testing.T) {
	idx := newTestIndex(t, entWidth*4)
	_, _, err := idx.Read(0)
	require.ErrorIs(t, err, io.EOF)
}

func TestIndexReadRejectsInvalidNegativeID(t *testing.T) {
	idx := newTestIndex(t, entWidth*4)
	require.NoError(t, idx.Write(0, 100))
	_, _, err := idx.Read(-2)
	require.Error(t, err)
}

func TestIndexWriteFailsWhenFull(t *testing.T) {
	idx := newTestIndex(t, entWidth)
	require.NoError(t, idx.Write(0, 100))
	err := idx.Write(1, 200)
	require.ErrorIs(t, err, io.EOF)
}
