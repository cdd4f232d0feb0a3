package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/vladgaus/minilsm/internal/encoding"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/iterator"
	"github.com/vladgaus/minilsm/pkg/wal"
)

// MemTable is an in-memory sorted table for recent writes, optionally
// backed by a write-ahead log.
//
// Lifecycle:
// 1. Active: accepts reads and writes
// 2. Frozen: read-only, waiting to be flushed to a table file
// 3. Flushed: dropped from the storage state, its log deleted
//
// Thread Safety: all methods are safe for concurrent use. Puts are
// serialized so that the log and the skip list see them in the same order.
type MemTable struct {
	id uint64
	sl *SkipList

	// Serializes puts against each other and against Freeze.
	writeMu sync.Mutex
	frozen  atomic.Bool

	log     *wal.WAL
	walPath string

	// Sum of len(key)+len(value) of every put ever applied.
	approximateSize atomic.Int64
}

// Create creates an empty memtable without a log.
func Create(id uint64) *MemTable {
	return &MemTable{
		id: id,
		sl: NewSkipList(),
	}
}

// CreateWithWAL creates an empty memtable whose puts are logged to a new
// file at path.
func CreateWithWAL(id uint64, path string, opts wal.Options) (*MemTable, error) {
	log, err := wal.Create(path, opts)
	if err != nil {
		return nil, err
	}

	m := Create(id)
	m.log = log
	m.walPath = path
	return m, nil
}

// RecoverWithWAL rebuilds a memtable by replaying the log at path.
//
// If the log ends in a torn record, the memtable holding every earlier
// record is returned together with the truncated-log error; callers may log
// the error and keep the memtable.
func RecoverWithWAL(id uint64, path string, opts wal.Options) (*MemTable, error) {
	m := Create(id)
	log, err := wal.Recover(path, opts, func(key, value []byte) error {
		m.apply(encoding.CloneBytes(key), encoding.CloneBytes(value))
		return nil
	})
	if log == nil {
		return nil, err
	}

	m.log = log
	m.walPath = path
	return m, err
}

// ID returns the unique identifier for this memtable.
func (m *MemTable) ID() uint64 {
	return m.id
}

// Get returns the value stored for key. A tombstone is reported as found
// with an empty value.
func (m *MemTable) Get(key []byte) ([]byte, bool) {
	return m.sl.Get(key)
}

// Put inserts or replaces key. An empty value records a tombstone.
// The entry is appended to the log (when present) before it becomes
// visible. Returns errors.ErrFrozen once the memtable has been frozen.
func (m *MemTable) Put(key, value []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.frozen.Load() {
		return errors.ErrFrozen
	}

	if m.log != nil {
		if err := m.log.Put(key, value); err != nil {
			return err
		}
	}

	m.apply(encoding.CloneBytes(key), encoding.CloneBytes(value))
	return nil
}

func (m *MemTable) apply(key, value []byte) {
	m.sl.Put(key, value)
	m.approximateSize.Add(int64(len(key) + len(value)))
}

// ApproximateSize returns the total key and value bytes ever written.
// It never decreases, even when a key is overwritten.
func (m *MemTable) ApproximateSize() int64 {
	return m.approximateSize.Load()
}

// Len returns the number of distinct keys.
func (m *MemTable) Len() int64 {
	return m.sl.Len()
}

// IsEmpty returns true if the memtable has no entries.
func (m *MemTable) IsEmpty() bool {
	return m.sl.IsEmpty()
}

// Freeze makes the memtable read-only. It waits for puts in progress, so
// no put succeeds after Freeze returns.
func (m *MemTable) Freeze() {
	m.writeMu.Lock()
	m.frozen.Store(true)
	m.writeMu.Unlock()
}

// IsFrozen reports whether Freeze has been called.
func (m *MemTable) IsFrozen() bool {
	return m.frozen.Load()
}

// SyncWAL forces the log to stable storage. No-op without a log.
func (m *MemTable) SyncWAL() error {
	if m.log == nil {
		return nil
	}
	return m.log.Sync()
}

// CloseWAL syncs and closes the log. No-op without a log.
func (m *MemTable) CloseWAL() error {
	if m.log == nil {
		return nil
	}
	return m.log.Close()
}

// WALPath returns the log file path, or "" for an unlogged memtable.
func (m *MemTable) WALPath() string {
	return m.walPath
}

// NewIterator returns an iterator over [lower, upper), positioned at the
// first entry. Nil bounds are open. Tombstones are included.
func (m *MemTable) NewIterator(lower, upper []byte) iterator.Iterator {
	return iterator.NewBoundedIterator(m.sl.NewIterator(), lower, upper)
}
