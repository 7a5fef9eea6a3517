package logview

import (
	"bufio"
	"encoding/binary"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
)

// enc is the byte order used by both the store's length prefixes and the
// index's fixed-width records, matching the teacher's index.go.
var enc = binary.BigEndian

const lenWidth = 8

// store is a length-prefixed append-only file: each record is an 8-byte
// big-endian length followed by that many payload bytes. Adapted from
// the teacher's (missing from the retrieved pack, reconstructed in its
// idiom) store.go — the same shape index.go's enc/entWidth usage
// assumes.
type store struct {
	*os.File
	mu   sync.Mutex
	buf  *bufio.Writer
	size uint64
}

func newStore(f *os.File) (*store, error) {
	fi, err := os.Stat(f.Name())
	if err != nil {
		return nil, errors.Wrap(err, "stat store file")
	}
	return &store{
		File: f,
		size: uint64(fi.Size()),
		buf:  bufio.NewWriter(f),
	}, nil
}

// Append writes p and returns the number of bytes written and the byte
// offset at which the record (length prefix included) begins.
func (s *store) Append(p []byte) (n uint64, pos uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos = s.size
	if err := binary.Write(s.buf, enc, uint64(len(p))); err != nil {
		return 0, 0, errors.Wrap(err, "write length prefix")
	}
	w, err := s.buf.Write(p)
	if err != nil {
		return 0, 0, errors.Wrap(err, "write payload")
	}
	w += lenWidth
	s.size += uint64(w)
	return uint64(w), pos, nil
}

// Read returns the record whose length prefix begins at byte offset pos.
func (s *store) Read(pos uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return nil, errors.Wrap(err, "flush store")
	}
	sizeBuf := make([]byte, lenWidth)
	if _, err := s.File.ReadAt(sizeBuf, int64(pos)); err != nil {
		return nil, errors.Wrap(err, "read length prefix")
	}
	b := make([]byte, enc.Uint64(sizeBuf))
	if _, err := s.File.ReadAt(b, int64(pos+lenWidth)); err != nil {
		return nil, errors.Wrap(err, "read payload")
	}
	return b, nil
}

func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.buf.Flush(); err != nil {
		return errors.Wrap(err, "flush store on close")
	}
	return s.File.Close()
}
