// Package metrics exposes Prometheus metrics for a minilsm engine.
//
// Metrics are created through a promauto factory bound to the Registerer
// passed to New. A nil Registerer still yields working, unregistered
// collectors, so the engine can update them unconditionally.
//
// Example usage:
//
//	reg := prometheus.NewRegistry()
//	db, err := lsm.Open(dir, lsm.Options{Registerer: reg})
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vladgaus/minilsm/pkg/state"
)

const namespace = "minilsm"

// Metrics holds the collectors of one engine.
type Metrics struct {
	// Operation counters, by op: get, put, delete.
	Operations *prometheus.CounterVec

	// Storage layout, refreshed on every installed state.
	ActiveMemtableBytes prometheus.Gauge
	FrozenMemtables     prometheus.Gauge
	L0Tables            prometheus.Gauge
	LevelTables         *prometheus.GaugeVec
	LevelBytes          *prometheus.GaugeVec

	Freezes  prometheus.Counter
	Flushes  prometheus.Counter
	FlushDur prometheus.Histogram

	Compactions            *prometheus.CounterVec
	CompactionsInvalidated prometheus.Counter
	CompactionDur          prometheus.Histogram
	CompactionEntriesRead  prometheus.Counter
	CompactionEntriesWrite prometheus.Counter
	CompactionEntriesDrop  prometheus.Counter

	// Background failures, by worker: flush, compaction.
	BackgroundErrors *prometheus.CounterVec

	// WAL tails cut short and discarded during recovery.
	WALTruncations prometheus.Counter
}

// New creates the collectors and registers them on reg, which may be nil.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Number of engine operations by type",
		}, []string{"op"}),

		ActiveMemtableBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_memtable_bytes",
			Help:      "Approximate size of the active memtable",
		}),
		FrozenMemtables: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frozen_memtables",
			Help:      "Number of frozen memtables waiting for flush",
		}),
		L0Tables: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "l0_tables",
			Help:      "Number of tables in L0",
		}),
		LevelTables: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "level_tables",
			Help:      "Number of tables per level or tier",
		}, []string{"level"}),
		LevelBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "level_bytes",
			Help:      "Total table bytes per level or tier",
		}, []string{"level"}),

		Freezes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memtable_freezes_total",
			Help:      "Number of memtables frozen",
		}),
		Flushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Number of memtables flushed to tables",
		}),
		FlushDur: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of memtable flushes",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),

		Compactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Number of installed compactions by strategy",
		}, []string{"strategy"}),
		CompactionsInvalidated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_invalidated_total",
			Help:      "Compaction results discarded because their inputs changed",
		}),
		CompactionDur: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compaction_duration_seconds",
			Help:      "Duration of compactions, merge and install",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		CompactionEntriesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_read_entries_total",
			Help:      "Entries read by compactions",
		}),
		CompactionEntriesWrite: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_written_entries_total",
			Help:      "Entries written by compactions",
		}),
		CompactionEntriesDrop: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_dropped_entries_total",
			Help:      "Tombstones and filtered keys dropped by compactions",
		}),

		BackgroundErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_errors_total",
			Help:      "Failed background flush or compaction attempts",
		}, []string{"worker"}),

		WALTruncations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wal_truncations_total",
			Help:      "WAL files whose torn tail was discarded during recovery",
		}),
	}
}

// ObserveState refreshes the layout gauges from s.
func (m *Metrics) ObserveState(s *state.State) {
	m.ActiveMemtableBytes.Set(float64(s.Memtable.ApproximateSize()))
	m.FrozenMemtables.Set(float64(len(s.Frozen)))
	m.L0Tables.Set(float64(len(s.L0)))

	// Tier ids change with every merge, so old label values are dropped.
	m.LevelTables.Reset()
	m.LevelBytes.Reset()
	for _, l := range s.Levels {
		label := strconv.Itoa(l.ID)
		m.LevelTables.WithLabelValues(label).Set(float64(len(l.Files)))
		m.LevelBytes.WithLabelValues(label).Set(float64(s.FilesSize(l.Files)))
	}
}

// ObserveFlush records a finished flush.
func (m *Metrics) ObserveFlush(took time.Duration) {
	m.Flushes.Inc()
	m.FlushDur.Observe(took.Seconds())
}

// ObserveCompaction records an installed compaction.
func (m *Metrics) ObserveCompaction(strategy string, took time.Duration, read, written, dropped int64) {
	m.Compactions.WithLabelValues(strategy).Inc()
	m.CompactionDur.Observe(took.Seconds())
	m.CompactionEntriesRead.Add(float64(read))
	m.CompactionEntriesWrite.Add(float64(written))
	m.CompactionEntriesDrop.Add(float64(dropped))
}
