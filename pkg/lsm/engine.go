// Package lsm provides the minilsm storage engine.
//
// Writes go to the active memtable, logged to its WAL. A memtable that
// reaches the target size is frozen and a new one takes its place. The
// flush worker turns the oldest frozen memtables into L0 tables, and the
// compaction worker merges tables as the configured strategy decides.
//
// Architecture:
//
//	┌──────────────────────────────────────────────┐
//	│  Engine                                      │
//	│   state ──► State (immutable snapshot)       │
//	│             ├─ active memtable + WAL         │
//	│             ├─ frozen memtables (newest 1st) │
//	│             ├─ L0 tables (newest first)      │
//	│             └─ levels / tiers                │
//	│   manifest ─► bbolt log of transitions       │
//	│   workers  ─► flush, compaction              │
//	└──────────────────────────────────────────────┘
//
// Every transition (freeze, flush, compaction) builds a new State from a
// clone of the current one and swaps the pointer. Readers take the pointer
// under a read lock and then work on their snapshot without locks.
//
// Read Path:
//  1. Active memtable
//  2. Frozen memtables, newest first
//  3. L0 tables, newest first
//  4. Levels or tiers, in order
package lsm

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vladgaus/minilsm/internal/utils"
	"github.com/vladgaus/minilsm/pkg/compaction"
	"github.com/vladgaus/minilsm/pkg/manifest"
	"github.com/vladgaus/minilsm/pkg/memtable"
	"github.com/vladgaus/minilsm/pkg/metrics"
	"github.com/vladgaus/minilsm/pkg/sstable"
	"github.com/vladgaus/minilsm/pkg/state"
	"github.com/vladgaus/minilsm/pkg/wal"
)

// Engine is the LSM-tree storage engine.
//
// Thread Safety: all methods are safe for concurrent use.
type Engine struct {
	dir  string
	opts Options

	// Guards the state pointer only. Held for the swap, never across I/O.
	mu    sync.RWMutex
	state *state.State

	// Serializes state transitions: freeze, flush install, compaction
	// install. Get and Put never take it.
	stateLock sync.Mutex

	// One flush and one compaction at a time.
	flushLock   sync.Mutex
	compactLock sync.Mutex
	// Set by Close while holding flushLock and compactLock.
	released bool

	// Memtable and table ids share one sequence.
	ids *utils.IDGenerator

	strategy compaction.Strategy
	filters  compaction.Filters
	manifest *manifest.Manifest
	cache    *sstable.BlockCache

	logger  logrus.FieldLogger
	metrics *metrics.Metrics

	// Background workers
	flushCh   chan struct{}
	compactCh chan struct{}
	stopCh    chan struct{}
	workers   errgroup.Group

	closed atomic.Bool
}

// snapshot returns the current state. The result must not be modified.
func (e *Engine) snapshot() *state.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// install publishes next. Caller must hold e.stateLock.
func (e *Engine) install(next *state.State) {
	e.mu.Lock()
	e.state = next
	e.mu.Unlock()
	e.metrics.ObserveState(next)
}

// newMemtable creates an empty memtable, logged when the WAL is enabled.
func (e *Engine) newMemtable(id uint64) (*memtable.MemTable, error) {
	if !e.opts.EnableWAL {
		return memtable.Create(id), nil
	}
	return memtable.CreateWithWAL(id, utils.MakeWALPath(e.dir, id), e.walOptions())
}

func (e *Engine) walOptions() wal.Options {
	return wal.Options{SyncOnWrite: e.opts.WALSyncOnWrite}
}

func (e *Engine) writerOptions() sstable.WriterOptions {
	return sstable.WriterOptions{
		BlockSize:         e.opts.BlockSize,
		FalsePositiveRate: e.opts.BloomFalsePositiveRate,
	}
}

// Dir returns the engine directory.
func (e *Engine) Dir() string {
	return e.dir
}

// AddCompactionFilter registers a filter consulted by every later
// compaction. Matching keys are dropped from compaction outputs.
func (e *Engine) AddCompactionFilter(f compaction.Filter) {
	e.filters.Add(f)
}

// Stats describes the storage layout of one snapshot.
type Stats struct {
	Strategy          compaction.Kind
	ActiveMemtableID  uint64
	ActiveMemtableLen int64
	ActiveMemtableSz  int64
	FrozenMemtables   int
	Levels            []compaction.LevelStats
	Layout            string
}

// TableCount returns the number of tables across L0 and all levels.
func (s Stats) TableCount() int {
	n := 0
	for _, l := range s.Levels {
		n += l.NumFiles
	}
	return n
}

// Stats returns statistics of the current state.
func (e *Engine) Stats() Stats {
	s := e.snapshot()
	return Stats{
		Strategy:          e.strategy.Name(),
		ActiveMemtableID:  s.Memtable.ID(),
		ActiveMemtableLen: s.Memtable.Len(),
		ActiveMemtableSz:  s.Memtable.ApproximateSize(),
		FrozenMemtables:   len(s.Frozen),
		Levels:            compaction.Stats(s),
		Layout:            s.Summary(),
	}
}

// notify wakes a worker without blocking.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
