// Package metrics exposes RayDB's engine counters and gauges as
// Prometheus collectors, plus a static OpenTelemetry-flavored JSON
// snapshot for callers that don't scrape Prometheus text exposition.
// Package-level vars created with prometheus.New*, registered once in
// init.
package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WALBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raydb_wal_bytes_written_total",
		Help: "Total bytes appended to the WAL ring.",
	})

	WALFlushes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raydb_wal_flushes_total",
		Help: "Total number of WAL fsync flushes.",
	})

	CommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raydb_commits_total",
		Help: "Total number of committed transactions.",
	})

	CompactionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raydb_compactions_total",
		Help: "Total number of completed compactions.",
	})

	SnapshotBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raydb_snapshot_bytes",
		Help: "Byte size of the active snapshot generation.",
	})

	DeltaEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raydb_delta_entries",
		Help: "Number of staged mutations in the in-memory delta overlay.",
	})

	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raydb_cache_hits_total",
		Help: "Total property/traversal cache hits.",
	})

	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raydb_cache_misses_total",
		Help: "Total property/traversal cache misses.",
	})

	WALUsedFraction = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raydb_wal_used_fraction",
		Help: "Fraction of the WAL ring's byte capacity currently in use.",
	})

	Epoch = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raydb_epoch",
		Help: "Current replication epoch.",
	})

	ActiveSnapshotGen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raydb_active_snapshot_gen",
		Help: "Generation number of the active snapshot.",
	})
)

func init() {
	prometheus.MustRegister(
		WALBytesWritten,
		WALFlushes,
		CommitsTotal,
		CompactionsTotal,
		SnapshotBytes,
		DeltaEntries,
		CacheHits,
		CacheMisses,
		WALUsedFraction,
		Epoch,
		ActiveSnapshotGen,
	)
}

// Handler returns the Prometheus text-exposition HTTP handler, wired into
// cmd/raydb's serve-replication admin surface.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Snapshot is the OTEL-flavored static JSON document served alongside
// Prometheus text exposition. A full OTEL SDK integration
// (exporters, resource detectors, a collector to push to) is not used
// here; a hand-built struct is the right amount of machinery for a
// point-in-time admin snapshot.
type Snapshot struct {
	ResourceType string             `json:"resource_type"`
	GeneratedAt  time.Time          `json:"generated_at"`
	Counters     map[string]uint64  `json:"counters"`
	Gauges       map[string]float64 `json:"gauges"`
}

// Counters are the counter values a caller hands to BuildSnapshot
// (cmd/raydb/inspect.go fills the cache hit/miss pair from DB.Stat). The
// engine's own increments go to the Prometheus package vars above, which
// this struct does not read.
type Counters struct {
	WALBytesWritten  uint64
	WALFlushes       uint64
	CommitsTotal     uint64
	CompactionsTotal uint64
	CacheHits        uint64
	CacheMisses      uint64
}

// Gauges mirrors the instantaneous values backing the Prometheus gauges.
type Gauges struct {
	SnapshotBytes     uint64
	DeltaEntries      uint64
	WALUsedFraction   float64
	Epoch             uint64
	ActiveSnapshotGen uint64
}

// BuildSnapshot assembles the OTEL-flavored JSON document from the
// caller-supplied counters/gauges (typically read from a storage.DB via
// its Stat() call, see cmd/raydb/inspect.go).
func BuildSnapshot(now time.Time, c Counters, g Gauges) Snapshot {
	return Snapshot{
		ResourceType: "raydb.engine",
		GeneratedAt:  now,
		Counters: map[string]uint64{
			"wal_bytes_written": c.WALBytesWritten,
			"wal_flushes":       c.WALFlushes,
			"commits_total":     c.CommitsTotal,
			"compactions_total": c.CompactionsTotal,
			"cache_hits":        c.CacheHits,
			"cache_misses":      c.CacheMisses,
		},
		Gauges: map[string]float64{
			"snapshot_bytes":      float64(g.SnapshotBytes),
			"delta_entries":       float64(g.DeltaEntries),
			"wal_used_fraction":   g.WALUsedFraction,
			"epoch":               float64(g.Epoch),
			"active_snapshot_gen": float64(g.ActiveSnapshotGen),
		},
	}
}

// MarshalJSONDocument renders the snapshot as indented JSON bytes, so
// callers that don't want a dependency on this package's types can still
// consume the admin snapshot as bytes. cmd/raydb's inspect/stat commands
// encode the Snapshot with their own json.Encoder instead.
func (s Snapshot) MarshalJSONDocument() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
