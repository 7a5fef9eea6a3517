// Package managedlog ties a log view to the set of durable cursors
// reading it, resolving spec §9's note that cursors and their owning
// log form a cyclic reference best kept out of the cursor package
// itself (SPEC_FULL.md supplemented feature 3).
package managedlog

import (
	"context"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/lipandr/cursorlog/internal/cursor"
	"github.com/lipandr/cursorlog/internal/cursorerr"
	"github.com/lipandr/cursorlog/internal/cursorstore"
	"github.com/lipandr/cursorlog/internal/entrycache"
	"github.com/lipandr/cursorlog/internal/logview"
	"github.com/lipandr/cursorlog/internal/position"
)

// Config bundles every option from spec §6 a managed log needs across
// its log view, entry cache, and cursor store.
type Config struct {
	Dir                string
	MaxCacheSize       int64
	ThrottleMarkDelete float64
	CursorStore        cursorstore.Config
	LogView            logview.Config
}

func (c *Config) setDefaults() {
	if c.MaxCacheSize == 0 {
		c.MaxCacheSize = 64 << 20
	}
	if c.CursorStore.LedgerDir == "" {
		c.CursorStore.LedgerDir = filepath.Join(c.Dir, "cursors")
	}
}

// Log owns one log view, its shared entry cache, and the cursors
// currently open over it.
type Log struct {
	name  string
	lv    *logview.LogView
	cache *entrycache.Cache
	store *cursorstore.Store
	cfg   Config
	log   *zap.Logger

	mu      sync.Mutex
	cursors map[string]*cursor.Cursor
}

// Open creates or reopens the named log and its metadata store wiring.
func Open(name string, meta cursorstore.MetaStore, cfg Config, logger *zap.Logger) (*Log, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	lv, err := logview.Open(filepath.Join(cfg.Dir, "log"), name, cfg.LogView, logger)
	if err != nil {
		return nil, err
	}
	return &Log{
		name:    name,
		lv:      lv,
		cache:   entrycache.New(name, cfg.MaxCacheSize),
		store:   cursorstore.New(meta, cfg.CursorStore, logger),
		cfg:     cfg,
		log:     logger.Named("managedlog").With(zap.String("log", name)),
		cursors: make(map[string]*cursor.Cursor),
	}, nil
}

// Append writes payload to the log view. Any cursor with a pending
// read-or-wait at the new position is notified by the log view's own
// append-listener mechanism, not by this method directly.
func (l *Log) Append(payload []byte) (position.Position, error) {
	return l.lv.Append(payload)
}

// OpenCursor opens (recovering durable state if present) a named cursor
// over this log, registering it so ListCursors/DeleteCursor can find it.
func (l *Log) OpenCursor(ctx context.Context, name string, cursorCfg cursor.Config) (*cursor.Cursor, error) {
	l.mu.Lock()
	if _, ok := l.cursors[name]; ok {
		l.mu.Unlock()
		return nil, cursorerr.InvalidArgument
	}
	l.mu.Unlock()

	c, err := cursor.Open(ctx, l.lv, l.cache, l.store, l.name, name, cursorCfg, l.log)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cursors[name] = c
	l.mu.Unlock()
	return c, nil
}

// DeleteCursor closes and permanently erases the named cursor's durable
// state. It is a no-op if the cursor is not open.
func (l *Log) DeleteCursor(ctx context.Context, name string) error {
	l.mu.Lock()
	c, ok := l.cursors[name]
	delete(l.cursors, name)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.Close(); err != nil {
		return err
	}
	return c.DeleteDurable(ctx)
}

// ListCursors returns the names of cursors currently open over this log.
func (l *Log) ListCursors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.cursors))
	for name := range l.cursors {
		names = append(names, name)
	}
	return names
}

// Cursor returns the named open cursor, or false if none is open.
func (l *Log) Cursor(name string) (*cursor.Cursor, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.cursors[name]
	return c, ok
}

// Close closes every open cursor, then the underlying log view.
func (l *Log) Close() error {
	l.mu.Lock()
	cursors := make([]*cursor.Cursor, 0, len(l.cursors))
	for _, c := range l.cursors {
		cursors = append(cursors, c)
	}
	l.cursors = make(map[string]*cursor.Cursor)
	l.mu.Unlock()

	for _, c := range cursors {
		if err := c.Close(); err != nil {
			l.log.Warn("closing cursor during log shutdown", zap.Error(err))
		}
	}
	return l.lv.Close()
}
