package state

import (
	"bytes"
	"sort"

	"github.com/vladgaus/minilsm/pkg/iterator"
)

// Get looks key up in recency order: active memtable, frozen memtables
// newest first, L0 newest first, then each level in order. The first layer
// holding the key decides; a tombstone there means the key is absent.
func (s *State) Get(key []byte) ([]byte, bool, error) {
	if v, ok := s.Memtable.Get(key); ok {
		return live(v)
	}
	for _, m := range s.Frozen {
		if v, ok := m.Get(key); ok {
			return live(v)
		}
	}
	for _, id := range s.L0 {
		t, ok := s.Tables[id]
		if !ok {
			continue
		}
		v, found, err := t.Get(key)
		if err != nil {
			return nil, false, err
		}
		if found {
			return live(v)
		}
	}
	for _, l := range s.Levels {
		t := s.findInRun(l.Files, key)
		if t == nil {
			continue
		}
		v, found, err := t.Get(key)
		if err != nil {
			return nil, false, err
		}
		if found {
			return live(v)
		}
	}
	return nil, false, nil
}

func live(v []byte) ([]byte, bool, error) {
	if iterator.IsTombstone(v) {
		return nil, false, nil
	}
	return v, true, nil
}

// findInRun returns the table of a sorted run whose range covers key.
func (s *State) findInRun(files []uint64, key []byte) Table {
	i := sort.Search(len(files), func(i int) bool {
		t, ok := s.Tables[files[i]]
		return !ok || bytes.Compare(t.LastKey(), key) >= 0
	})
	if i >= len(files) {
		return nil
	}
	t, ok := s.Tables[files[i]]
	if !ok || bytes.Compare(t.FirstKey(), key) > 0 {
		return nil
	}
	return t
}

// NewIterator returns a positioned iterator over every live key in
// [lower, upper) as of this snapshot. Nil bounds are open.
func (s *State) NewIterator(lower, upper []byte) iterator.Iterator {
	sources := make([]iterator.Iterator, 0, 1+len(s.Frozen)+len(s.L0)+len(s.Levels))
	sources = append(sources, s.Memtable.NewIterator(lower, upper))
	for _, m := range s.Frozen {
		sources = append(sources, m.NewIterator(lower, upper))
	}
	for _, id := range s.L0 {
		if t, ok := s.Tables[id]; ok {
			sources = append(sources, t.NewIterator(lower, upper))
		}
	}
	for _, l := range s.Levels {
		sources = append(sources, s.NewRunIterator(l.Files, lower, upper))
	}
	return iterator.NewLiveIterator(iterator.NewMergeIterator(sources...))
}

// Lookup returns the tables for ids, skipping unknown ones.
func (s *State) Lookup(ids []uint64) []Table {
	out := make([]Table, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.Tables[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// NewRunIterator iterates a sorted run of non-overlapping tables in order,
// opening one table iterator at a time.
func (s *State) NewRunIterator(files []uint64, lower, upper []byte) iterator.Iterator {
	it := &RunIterator{tables: s.Lookup(files), lower: lower, upper: upper}
	it.SeekToFirst()
	return it
}

// RunIterator concatenates the iterators of ordered, non-overlapping tables.
type RunIterator struct {
	tables       []Table
	lower, upper []byte
	idx          int
	cur          iterator.Iterator
}

// Valid returns true if positioned at an entry.
func (r *RunIterator) Valid() bool {
	return r.cur != nil && r.cur.Valid()
}

// Key returns the current key.
func (r *RunIterator) Key() []byte {
	if !r.Valid() {
		return nil
	}
	return r.cur.Key()
}

// Value returns the current value.
func (r *RunIterator) Value() []byte {
	if !r.Valid() {
		return nil
	}
	return r.cur.Value()
}

// SeekToFirst positions at the first entry >= lower.
func (r *RunIterator) SeekToFirst() {
	r.open(0, nil)
}

// Seek positions at the first entry >= target.
func (r *RunIterator) Seek(target []byte) {
	if r.lower != nil && bytes.Compare(target, r.lower) < 0 {
		target = r.lower
	}
	idx := sort.Search(len(r.tables), func(i int) bool {
		return bytes.Compare(r.tables[i].LastKey(), target) >= 0
	})
	r.open(idx, target)
}

// Next advances to the next entry.
func (r *RunIterator) Next() {
	if !r.Valid() {
		return
	}
	r.cur.Next()
	r.skipExhausted()
}

// Error returns any error encountered.
func (r *RunIterator) Error() error {
	if r.cur == nil {
		return nil
	}
	return r.cur.Error()
}

// Close releases the current table iterator.
func (r *RunIterator) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}

func (r *RunIterator) open(idx int, target []byte) {
	if r.cur != nil {
		_ = r.cur.Close()
		r.cur = nil
	}
	r.idx = idx
	if idx >= len(r.tables) {
		return
	}
	r.cur = r.tables[idx].NewIterator(r.lower, r.upper)
	if target != nil {
		r.cur.Seek(target)
	}
	r.skipExhausted()
}

func (r *RunIterator) skipExhausted() {
	if r.cur == nil || r.cur.Valid() || r.cur.Error() != nil {
		return
	}
	if r.upper != nil && r.idx+1 < len(r.tables) &&
		bytes.Compare(r.tables[r.idx+1].FirstKey(), r.upper) >= 0 {
		return
	}
	// open recurses until a table yields an entry or the run ends.
	r.open(r.idx+1, nil)
}
