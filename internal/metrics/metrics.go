// Package metrics holds the prometheus collectors shared across the
// cursor, entry cache, cursor store, and find-newest components. The teacher repo had no
// observability layer; this is enriched from the milvus example's
// prometheus/client_golang stack.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CacheHits counts entry cache hits, labeled by log name.
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorlog",
		Subsystem: "entrycache",
		Name:      "hits_total",
		Help:      "Entry cache hits.",
	}, []string{"log"})

	// CacheMisses counts entry cache misses, labeled by log name.
	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorlog",
		Subsystem: "entrycache",
		Name:      "misses_total",
		Help:      "Entry cache misses.",
	}, []string{"log"})

	// CacheSizeBytes reports the current cache occupancy.
	CacheSizeBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cursorlog",
		Subsystem: "entrycache",
		Name:      "size_bytes",
		Help:      "Current entry cache occupancy in bytes.",
	}, []string{"log"})

	// CursorBacklog reports number_of_entries_in_backlog per cursor.
	CursorBacklog = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cursorlog",
		Subsystem: "cursor",
		Name:      "backlog",
		Help:      "Live unacknowledged entries behind a cursor.",
	}, []string{"log", "cursor"})

	// MarkDeleteTotal counts successful persistences of a cursor's ack
	// state made through its throttler (requested by MarkDelete, Delete
	// and SkipEntries); requests coalesced by the throttler count once.
	MarkDeleteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorlog",
		Subsystem: "cursor",
		Name:      "mark_delete_total",
		Help:      "Successful persistences of cursor ack state.",
	}, []string{"log", "cursor"})

	// MarkDeleteThrottled counts persistence requests (from MarkDelete,
	// Delete and SkipEntries) that were deferred to the throttling timer
	// instead of persisting immediately.
	MarkDeleteThrottled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorlog",
		Subsystem: "cursor",
		Name:      "mark_delete_throttled_total",
		Help:      "Ack persistence requests deferred by the throttling timer.",
	}, []string{"log", "cursor"})

	// PersistSnapshotTotal counts persisted cursor snapshots by form.
	PersistSnapshotTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorlog",
		Subsystem: "cursorstore",
		Name:      "snapshot_total",
		Help:      "Cursor snapshots persisted, labeled by form (inline|ledger).",
	}, []string{"log", "cursor", "form"})

	// FindNewestReads counts entry reads performed by the find-newest
	// binary search engine.
	FindNewestReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cursorlog",
		Subsystem: "findnewest",
		Name:      "reads_total",
		Help:      "Entry reads performed while searching for the newest match.",
	}, []string{"log"})
)

// Registry collects every collector above so the demo binary can expose
// a single /metrics endpoint.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		CacheHits, CacheMisses, CacheSizeBytes,
		CursorBacklog, MarkDeleteTotal, MarkDeleteThrottled,
		PersistSnapshotTotal, FindNewestReads,
	)
}
