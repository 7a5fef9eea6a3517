package logview

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/tysonmote/gommap"
)

var (
	offWidth uint64 = 4
	posWidth uint64 = 8
	entWidth        = offWidth + posWidth
)

// index is a memory-mapped, fixed-width file mapping an entry's relative
// id within a segment to its byte offset in the segment's store file.
// Carried over from the teacher's internal/log/index.go essentially
// unchanged — it already operates on relative, segment-local ids, which
// is exactly what a position's Entry field is here.
type index struct {
	file *os.File
	mMap gommap.MMap
	size uint64
}

func newIndex(f *os.File, maxIndexBytes uint64) (*index, error) {
	idx := &index{file: f}
	fi, err := os.Stat(f.Name())
	if err != nil {
		return nil, errors.Wrap(err, "stat index file")
	}
	idx.size = uint64(fi.Size())
	if err = os.Truncate(f.Name(), int64(maxIndexBytes)); err != nil {
		return nil, errors.Wrap(err, "truncate index file")
	}
	if idx.mMap, err = gommap.Map(
		idx.file.Fd(),
		gommap.PROT_READ|gommap.PROT_WRITE,
		gommap.MAP_SHARED,
	); err != nil {
		return nil, errors.Wrap(err, "mmap index file")
	}
	return idx, nil
}

// Read takes a relative entry id and returns its position in the store.
// -1 means "the last record in this index". Anything else below 0 is
// rejected rather than silently wrapping to a huge uint32: position.Prev()
// can legally produce entry ids like -2 as an intermediate value
// (position.go's reset_cursor algebra), but those must never be
// dereferenced.
func (i *index) Read(in int64) (out uint32, pos uint64, err error) {
	if i.size == 0 {
		return 0, 0, io.EOF
	}
	switch {
	case in == -1:
		out = uint32((i.size / entWidth) - 1)
	case in < -1:
		return 0, 0, errors.Newf("index: invalid relative entry id %d", in)
	default:
		out = uint32(in)
	}
	pos = uint64(out) * entWidth
	if i.size < pos+entWidth {
		return 0, 0, io.EOF
	}
	out = enc.Uint32(i.mMap[pos : pos+offWidth])
	pos = enc.Uint64(i.mMap[pos+offWidth : pos+entWidth])
	return out, pos, nil
}

// Write appends the given relative entry id and store position.
func (i *index) Write(off uint32, pos uint64) error {
	if uint64(len(i.mMap)) < i.size+entWidth {
		return io.EOF
	}
	enc.PutUint32(i.mMap[i.size:i.size+offWidth], off)
	enc.PutUint64(i.mMap[i.size+offWidth:i.size+entWidth], pos)
	i.size += entWidth
	return nil
}

// Close syncs the mapping and truncates the backing file to its used
// size before closing it.
func (i *index) Close() error {
	if err := i.mMap.Sync(gommap.MS_SYNC); err != nil {
		return errors.Wrap(err, "sync index mmap")
	}
	if err := i.file.Sync(); err != nil {
		return errors.Wrap(err, "sync index file")
	}
	if err := i.file.Truncate(int64(i.size)); err != nil {
		return errors.Wrap(err, "truncate index file")
	}
	return i.file.Close()
}

// Name returns the index's file path.
func (i *index) Name() string {
	return i.file.Name()
}

// entries returns how many (offset, position) records are stored.
func (i *index) entries() int64 {
	return int64(i.size / entWidth)
}
