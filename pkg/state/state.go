// Package state holds the immutable snapshot of an engine's storage layout.
//
// A State is never modified once published. Transitions (freeze, flush,
// compaction) build a new State from Clone, replace only the slices they
// change, and leave every other slice and the table map shared with the
// previous snapshot. Readers that hold an old snapshot keep a consistent
// view for as long as they need it.
package state

import (
	"fmt"
	"strings"

	"github.com/vladgaus/minilsm/pkg/iterator"
	"github.com/vladgaus/minilsm/pkg/memtable"
)

// Table is the read contract of an immutable sorted file.
type Table interface {
	ID() uint64
	FirstKey() []byte
	LastKey() []byte
	Size() int64
	// Get reports a tombstone as found with an empty value.
	Get(key []byte) ([]byte, bool, error)
	// NewIterator returns a positioned iterator over [lower, upper).
	NewIterator(lower, upper []byte) iterator.Iterator
}

// Level is one sorted run below L0: a level in leveled layouts, a tier in
// tiered layouts. Files are ordered by first key and do not overlap.
type Level struct {
	ID    int
	Files []uint64
}

// State is one snapshot of the storage layout.
type State struct {
	// Memtable receives new writes.
	Memtable *memtable.MemTable
	// Frozen memtables waiting to be flushed, newest first.
	Frozen []*memtable.MemTable
	// L0 table ids, newest first. L0 tables may overlap.
	L0 []uint64
	// Levels below L0, in search order.
	Levels []Level
	// Tables maps every referenced table id to its reader.
	Tables map[uint64]Table
}

// New creates a state with an active memtable and numLevels empty levels
// with ids 1..numLevels.
func New(mem *memtable.MemTable, numLevels int) *State {
	levels := make([]Level, numLevels)
	for i := range levels {
		levels[i] = Level{ID: i + 1}
	}
	return &State{
		Memtable: mem,
		Levels:   levels,
		Tables:   make(map[uint64]Table),
	}
}

// Clone returns a shallow copy. The Frozen, L0 and Levels headers are
// copied so they can be replaced, while every Files slice and the Tables
// map are shared. Callers must replace, never modify, shared slices.
func (s *State) Clone() *State {
	return &State{
		Memtable: s.Memtable,
		Frozen:   append([]*memtable.MemTable(nil), s.Frozen...),
		L0:       append([]uint64(nil), s.L0...),
		Levels:   append([]Level(nil), s.Levels...),
		Tables:   s.Tables,
	}
}

// WithTables replaces s.Tables with a copy that has add inserted and
// remove deleted.
func (s *State) WithTables(add []Table, remove []uint64) {
	tables := make(map[uint64]Table, len(s.Tables)+len(add))
	for id, t := range s.Tables {
		tables[id] = t
	}
	for _, id := range remove {
		delete(tables, id)
	}
	for _, t := range add {
		tables[t.ID()] = t
	}
	s.Tables = tables
}

// LevelIndex returns the index into Levels of the level with the given id,
// or -1.
func (s *State) LevelIndex(id int) int {
	for i, l := range s.Levels {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// FilesSize sums the sizes of the given tables. Unknown ids count as 0.
func (s *State) FilesSize(ids []uint64) int64 {
	var total int64
	for _, id := range ids {
		if t, ok := s.Tables[id]; ok {
			total += t.Size()
		}
	}
	return total
}

// TableCount returns the number of tables in L0 and all levels.
func (s *State) TableCount() int {
	n := len(s.L0)
	for _, l := range s.Levels {
		n += len(l.Files)
	}
	return n
}

// Summary renders the layout for logs, e.g. "L0 [5 3] L1 [1 2] L2 []".
func (s *State) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "L0 %v", s.L0)
	for _, l := range s.Levels {
		fmt.Fprintf(&b, " L%d %v", l.ID, l.Files)
	}
	return b.String()
}
