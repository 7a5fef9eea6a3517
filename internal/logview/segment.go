package logview

import (
	"fmt"
	"os"
	"path"

	"github.com/cockroachdb/errors"
)

// segment owns one store/index file pair and hands out 0-based,
// segment-relative entry ids. Reconstructed in the teacher's idiom (its
// segment.go was not present in the retrieved pack, only referenced by
// segment_test.go and index.go's shared enc/entWidth), adapted so entry
// ids restart at 0 per segment rather than using a global baseOffset —
// that is exactly what the Entry field of a Position already models.
type segment struct {
	dir       string
	segID     uint64
	store     *store
	index     *index
	nextEntry int64
	maxStore  uint64
	maxIndex  uint64
}

func newSegment(dir string, segID uint64, maxStoreBytes, maxIndexBytes uint64) (*segment, error) {
	s := &segment{dir: dir, segID: segID, maxStore: maxStoreBytes, maxIndex: maxIndexBytes}

	storeFile, err := os.OpenFile(
		path.Join(dir, fmt.Sprintf("%020d.store", segID)),
		os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644,
	)
	if err != nil {
		return nil, errors.Wrap(err, "open store file")
	}
	if s.store, err = newStore(storeFile); err != nil {
		return nil, err
	}

	indexFile, err := os.OpenFile(
		path.Join(dir, fmt.Sprintf("%020d.index", segID)),
		os.O_RDWR|os.O_CREATE, 0644,
	)
	if err != nil {
		return nil, errors.Wrap(err, "open index file")
	}
	if s.index, err = newIndex(indexFile, maxIndexBytes); err != nil {
		return nil, err
	}

	if off, _, err := s.index.Read(-1); err != nil {
		s.nextEntry = 0
	} else {
		s.nextEntry = int64(off) + 1
	}
	return s, nil
}

// Append writes payload and returns the entry id it was assigned.
func (s *segment) Append(payload []byte) (int64, error) {
	entryID := s.nextEntry
	_, pos, err := s.store.Append(payload)
	if err != nil {
		return 0, err
	}
	if err := s.index.Write(uint32(entryID), pos); err != nil {
		return 0, err
	}
	s.nextEntry++
	return entryID, nil
}

// Read returns the payload at the given segment-relative entry id.
func (s *segment) Read(entryID int64) ([]byte, error) {
	_, pos, err := s.index.Read(entryID)
	if err != nil {
		return nil, err
	}
	return s.store.Read(pos)
}

// IsMaxed reports whether the segment's store or index has reached its
// configured capacity, meaning the log should roll to a new segment.
func (s *segment) IsMaxed() bool {
	return s.store.size >= s.maxStore || s.index.size >= s.maxIndex
}

// Remove closes and deletes the segment's backing files.
func (s *segment) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.store.Name()); err != nil {
		return errors.Wrap(err, "remove store file")
	}
	if err := os.Remove(s.index.Name()); err != nil {
		return errors.Wrap(err, "remove index file")
	}
	return nil
}

func (s *segment) Close() error {
	if err := s.index.Close(); err != nil {
		return err
	}
	return s.store.Close()
}
