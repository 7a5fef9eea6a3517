package cursorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lipandr/cursorlog/internal/cursorerr"
	"github.com/lipandr/cursorlog/internal/logview"
	"github.com/lipandr/cursorlog/internal/metrics"
)

// Config controls when a snapshot spills from the metadata store into a
// dedicated cursor ledger, and how that ledger is segmented.
type Config struct {
	MaxUnackedRangesToPersist   int
	MetadataMaxEntriesPerLedger uint64
	LedgerDir                   string
}

func (c *Config) setDefaults() {
	if c.MaxUnackedRangesToPersist == 0 {
		c.MaxUnackedRangesToPersist = 1000
	}
	if c.MetadataMaxEntriesPerLedger == 0 {
		c.MetadataMaxEntriesPerLedger = 50000
	}
}

// Store orchestrates spec component G: it decides between the small
// (inline metadata record) and large (dedicated cursor ledger) forms,
// and performs crash-consistent recovery.
type Store struct {
	meta Meta
	cfg  Config
	log  *zap.Logger

	mu          sync.Mutex
	ledgers     map[int64]*logview.LogView
	nextLedger  atomic.Int64
}

// Meta is the subset of MetaStore Store needs; named separately so
// Store's constructor signature reads naturally.
type Meta = MetaStore

// New creates a Store backed by meta, rooting cursor ledgers under
// cfg.LedgerDir.
func New(meta MetaStore, cfg Config, logger *zap.Logger) *Store {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		meta:    meta,
		cfg:     cfg,
		log:     logger.Named("cursorstore"),
		ledgers: make(map[int64]*logview.LogView),
	}
}

func (s *Store) ledgerDir(id int64) string {
	return filepath.Join(s.cfg.LedgerDir, fmt.Sprintf("ledger-%d", id))
}

func (s *Store) openLedger(id int64) (*logview.LogView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lv, ok := s.ledgers[id]; ok {
		return lv, nil
	}
	lv, err := logview.Open(s.ledgerDir(id), fmt.Sprintf("cursor-ledger-%d", id), logview.Config{
		MaxIndexBytes: s.cfg.MetadataMaxEntriesPerLedger * 12,
	}, s.log)
	if err != nil {
		return nil, cursorerr.Mark(err, cursorerr.LedgerNotExist, "open cursor ledger")
	}
	s.ledgers[id] = lv
	return lv, nil
}

// Persist writes snap durably, choosing the small or large form.
// expectedVersion must be the version most recently observed by the
// caller (0 for a never-persisted cursor). It returns the new version
// to remember for the next call.
func (s *Store) Persist(ctx context.Context, logName, cursorName string, snap Snapshot, expectedVersion int64) (int64, error) {
	if snap.CursorsLedgerID != -1 {
		return s.persistToLedger(ctx, logName, cursorName, snap, expectedVersion)
	}
	if len(snap.IndividuallyDeleted) <= s.cfg.MaxUnackedRangesToPersist {
		return s.persistInline(ctx, logName, cursorName, snap, expectedVersion)
	}
	return s.createLedgerAndSwap(ctx, logName, cursorName, snap, expectedVersion)
}

func (s *Store) persistInline(ctx context.Context, logName, cursorName string, snap Snapshot, expectedVersion int64) (int64, error) {
	v, err := s.meta.Put(ctx, logName, cursorName, snap, expectedVersion)
	if err != nil {
		return 0, err
	}
	metrics.PersistSnapshotTotal.WithLabelValues(logName, cursorName, "inline").Inc()
	return v, nil
}

func (s *Store) persistToLedger(ctx context.Context, logName, cursorName string, snap Snapshot, expectedVersion int64) (int64, error) {
	ledger, err := s.openLedger(snap.CursorsLedgerID)
	if err != nil {
		return 0, err
	}
	ledgerOnlySnap := snap
	if _, err := ledger.Append(snap.Marshal()); err != nil {
		return 0, cursorerr.Mark(err, cursorerr.LogWriteError, "append cursor ledger snapshot")
	}
	// The metadata record keeps only the ledger reference, plus the
	// mark-delete as a fallback hint per spec §4.G.4 — not the full
	// range set, which is what made this snapshot spill in the first
	// place.
	hint := Snapshot{
		MarkDeleteSegment: ledgerOnlySnap.MarkDeleteSegment,
		MarkDeleteEntry:   ledgerOnlySnap.MarkDeleteEntry,
		CursorsLedgerID:   ledgerOnlySnap.CursorsLedgerID,
		LastActive:        ledgerOnlySnap.LastActive,
	}
	v, err := s.meta.Put(ctx, logName, cursorName, hint, expectedVersion)
	if err != nil {
		return 0, err
	}
	metrics.PersistSnapshotTotal.WithLabelValues(logName, cursorName, "ledger").Inc()
	return v, nil
}

// createLedgerAndSwap implements spec §4.G's small->large switch:
// create a new cursor ledger, write the snapshot there, then CAS the
// metadata record to reference it. On CAS failure the freshly created
// ledger is deleted — orphan cleanup is mandatory, not best-effort.
func (s *Store) createLedgerAndSwap(ctx context.Context, logName, cursorName string, snap Snapshot, expectedVersion int64) (int64, error) {
	token := uuid.New().String()
	ledgerID := s.nextLedger.Inc()
	log := s.log.With(zap.String("log", logName), zap.String("cursor", cursorName),
		zap.Int64("ledger_id", ledgerID), zap.String("attempt", token))

	ledger, err := s.openLedger(ledgerID)
	if err != nil {
		return 0, err
	}
	snap.CursorsLedgerID = ledgerID
	if _, err := ledger.Append(snap.Marshal()); err != nil {
		s.deleteOrphanLedger(ledgerID, log)
		return 0, cursorerr.Mark(err, cursorerr.LogWriteError, "append new cursor ledger")
	}

	hint := Snapshot{
		MarkDeleteSegment: snap.MarkDeleteSegment,
		MarkDeleteEntry:   snap.MarkDeleteEntry,
		CursorsLedgerID:   ledgerID,
		LastActive:        snap.LastActive,
	}
	v, err := s.meta.Put(ctx, logName, cursorName, hint, expectedVersion)
	if err != nil {
		log.Info("cas failed switching to cursor ledger, cleaning up orphan", zap.Error(err))
		s.deleteOrphanLedger(ledgerID, log)
		return 0, err
	}
	metrics.PersistSnapshotTotal.WithLabelValues(logName, cursorName, "ledger").Inc()
	log.Debug("switched cursor to ledger-backed persistence")
	return v, nil
}

func (s *Store) deleteOrphanLedger(ledgerID int64, log *zap.Logger) {
	s.mu.Lock()
	lv, ok := s.ledgers[ledgerID]
	delete(s.ledgers, ledgerID)
	s.mu.Unlock()
	if ok {
		if err := lv.Close(); err != nil {
			log.Warn("closing orphan ledger", zap.Error(err))
		}
	}
	if err := os.RemoveAll(s.ledgerDir(ledgerID)); err != nil {
		log.Warn("removing orphan ledger directory", zap.Error(err))
	}
}

// Recover reconstructs a cursor's durable state per spec §4.G's four
// steps. currentLastSegment seeds a brand-new cursor's mark-delete.
func (s *Store) Recover(ctx context.Context, logName, cursorName string, currentLastSegment uint64) (Snapshot, int64, error) {
	rec, err := s.meta.Get(ctx, logName, cursorName)
	if err != nil {
		if err == ErrNotFound {
			return Snapshot{
				MarkDeleteSegment: currentLastSegment,
				MarkDeleteEntry:   -1,
				CursorsLedgerID:   -1,
			}, 0, nil
		}
		return Snapshot{}, 0, err
	}

	if rec.Snapshot.CursorsLedgerID == -1 {
		return rec.Snapshot, rec.Version, nil
	}

	ledger, err := s.openLedger(rec.Snapshot.CursorsLedgerID)
	if err != nil {
		// Ledger gone: fall back to the mark-delete hint stored inline.
		s.log.Warn("cursor ledger unavailable, falling back to metadata hint",
			zap.String("log", logName), zap.String("cursor", cursorName), zap.Error(err))
		return Snapshot{
			MarkDeleteSegment: rec.Snapshot.MarkDeleteSegment,
			MarkDeleteEntry:   rec.Snapshot.MarkDeleteEntry,
			CursorsLedgerID:   -1,
		}, rec.Version, nil
	}

	last := ledger.LastPosition()
	payload, err := ledger.ReadEntry(last)
	if err != nil {
		return Snapshot{}, 0, cursorerr.Mark(err, cursorerr.BrokenCursor, "read last cursor-ledger entry")
	}
	snap, err := Unmarshal(payload)
	if err != nil {
		return Snapshot{}, 0, err
	}
	return snap, rec.Version, nil
}

// Delete removes every durable trace of a cursor: its metadata record
// and, if present, its cursor ledger.
func (s *Store) Delete(ctx context.Context, logName, cursorName string, version int64, ledgerID int64) error {
	if err := s.meta.Delete(ctx, logName, cursorName, version); err != nil && err != ErrNotFound {
		return err
	}
	if ledgerID != -1 {
		s.deleteOrphanLedger(ledgerID, s.log)
	}
	return nil
}
