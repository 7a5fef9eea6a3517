package cursorstore

import (
	"context"
	"sync"

	"github.com/lipandr/cursorlog/internal/cursorerr"
)

// Record is a metadata-store value: a snapshot plus the version the
// store assigned it. Version semantics are opaque to the caller beyond
// "pass back what Get returned to CAS a Put".
type Record struct {
	Snapshot Snapshot
	Version  int64
}

// key identifies a cursor_info record.
func key(logName, cursorName string) string {
	return logName + "/" + cursorName
}

// MetaStore is the optimistic-concurrency key-value store of spec §6.
// Versions are enforced server-side; a stale Put/Delete fails with
// cursorerr.MetaStoreBadVersion.
type MetaStore interface {
	Get(ctx context.Context, logName, cursorName string) (Record, error)
	Put(ctx context.Context, logName, cursorName string, snap Snapshot, expectedVersion int64) (newVersion int64, err error)
	Delete(ctx context.Context, logName, cursorName string, expectedVersion int64) error
}

// ErrNotFound is returned by Get when no record exists for the key.
var ErrNotFound = cursorerr.Mark(errNotFound{}, cursorerr.MetaStoreError, "cursor_info not found")

type errNotFound struct{}

func (errNotFound) Error() string { return "cursor_info not found" }

// memStore is an in-process MetaStore, used by tests and the demo
// binary when no etcd endpoint is configured.
type memStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemStore returns an in-memory MetaStore implementation.
func NewMemStore() MetaStore {
	return &memStore{records: make(map[string]Record)}
}

func (m *memStore) Get(_ context.Context, logName, cursorName string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key(logName, cursorName)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *memStore) Put(_ context.Context, logName, cursorName string, snap Snapshot, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(logName, cursorName)
	cur, exists := m.records[k]
	if expectedVersion == 0 && exists {
		return 0, cursorerr.MetaStoreBadVersion
	}
	if expectedVersion != 0 && (!exists || cur.Version != expectedVersion) {
		return 0, cursorerr.MetaStoreBadVersion
	}
	newVersion := cur.Version + 1
	m.records[k] = Record{Snapshot: snap, Version: newVersion}
	return newVersion, nil
}

func (m *memStore) Delete(_ context.Context, logName, cursorName string, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(logName, cursorName)
	cur, exists := m.records[k]
	if !exists {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return cursorerr.MetaStoreBadVersion
	}
	delete(m.records, k)
	return nil
}
