package iterator

import (
	"bytes"
)

// MergeIterator merges multiple sorted iterators into one.
//
// Sources are ordered newest first. When several sources hold the same key,
// only the entry from the lowest-index source is returned; the older ones are
// skipped. Tombstones are returned like any other entry so that callers can
// decide whether a deletion shadows older data or is dropped.
//
// Every source must yield strictly increasing keys.
//
// Usage:
//
//	iter := NewMergeIterator(memIter, l0Iter, levelIter)
//	defer iter.Close()
//	for ; iter.Valid(); iter.Next() {
//	    fmt.Printf("%s = %s\n", iter.Key(), iter.Value())
//	}
type MergeIterator struct {
	sources []Iterator
	heap    *mergeHeap

	// Index of the source positioned at the current entry, or -1.
	current int
	prevKey []byte
	err     error
}

// NewMergeIterator creates a merge iterator positioned at the smallest key
// over the sources' current positions.
func NewMergeIterator(sources ...Iterator) *MergeIterator {
	m := &MergeIterator{
		sources: sources,
		current: -1,
	}
	m.heap = newMergeHeap(m, len(sources))
	m.rebuild()
	return m
}

// Valid returns true if positioned at a valid entry.
func (m *MergeIterator) Valid() bool {
	return m.current >= 0 && m.err == nil
}

// Key returns the current key.
func (m *MergeIterator) Key() []byte {
	if !m.Valid() {
		return nil
	}
	return m.sources[m.current].Key()
}

// Value returns the current value.
func (m *MergeIterator) Value() []byte {
	if !m.Valid() {
		return nil
	}
	return m.sources[m.current].Value()
}

// SeekToFirst positions at the first entry.
func (m *MergeIterator) SeekToFirst() {
	for _, src := range m.sources {
		src.SeekToFirst()
	}
	m.rebuild()
}

// Seek positions at first entry >= target.
func (m *MergeIterator) Seek(target []byte) {
	for _, src := range m.sources {
		src.Seek(target)
	}
	m.rebuild()
}

// Next advances to the next distinct key.
func (m *MergeIterator) Next() {
	if !m.Valid() {
		return
	}

	m.prevKey = append(m.prevKey[:0], m.sources[m.current].Key()...)

	// Drop every source entry carrying the key just returned.
	for m.heap.len() > 0 {
		top := m.heap.peek()
		if !bytes.Equal(m.sources[top].Key(), m.prevKey) {
			break
		}
		m.heap.pop()
		m.advance(top)
	}

	m.settle()
}

// Error returns any error encountered.
func (m *MergeIterator) Error() error {
	return m.err
}

// Close releases resources.
func (m *MergeIterator) Close() error {
	var firstErr error
	for _, src := range m.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// rebuild refills the heap from the sources' current positions.
func (m *MergeIterator) rebuild() {
	m.heap.clear()
	m.err = nil
	for i, src := range m.sources {
		if src.Valid() {
			m.heap.push(i)
		} else if err := src.Error(); err != nil {
			m.err = err
		}
	}
	m.settle()
}

// advance moves a source forward and re-adds it to the heap.
func (m *MergeIterator) advance(idx int) {
	src := m.sources[idx]
	src.Next()
	if src.Valid() {
		m.heap.push(idx)
	} else if err := src.Error(); err != nil && m.err == nil {
		m.err = err
	}
}

func (m *MergeIterator) settle() {
	if m.heap.len() == 0 {
		m.current = -1
		return
	}
	m.current = m.heap.peek()
}

// mergeHeap is a min-heap of source indexes.
// Ordering: (key ASC, source index ASC) - smallest key first, newest source first.
type mergeHeap struct {
	m     *MergeIterator
	items []int
}

func newMergeHeap(m *MergeIterator, capacity int) *mergeHeap {
	return &mergeHeap{
		m:     m,
		items: make([]int, 0, capacity),
	}
}

func (h *mergeHeap) len() int {
	return len(h.items)
}

func (h *mergeHeap) clear() {
	h.items = h.items[:0]
}

func (h *mergeHeap) less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	cmp := bytes.Compare(h.m.sources[a].Key(), h.m.sources[b].Key())
	if cmp != 0 {
		return cmp < 0
	}
	return a < b
}

func (h *mergeHeap) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *mergeHeap) push(idx int) {
	h.items = append(h.items, idx)
	h.up(len(h.items) - 1)
}

func (h *mergeHeap) pop() int {
	item := h.items[0]
	n := len(h.items) - 1
	h.items[0] = h.items[n]
	h.items = h.items[:n]
	if n > 0 {
		h.down(0)
	}
	return item
}

func (h *mergeHeap) peek() int {
	return h.items[0]
}

func (h *mergeHeap) up(i int) {
	for {
		parent := (i - 1) / 2
		if parent == i || !h.less(i, parent) {
			break
		}
		h.swap(parent, i)
		i = parent
	}
}

func (h *mergeHeap) down(i int) {
	n := len(h.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		j := left
		if right := left + 1; right < n && h.less(right, left) {
			j = right
		}
		if !h.less(j, i) {
			break
		}
		h.swap(i, j)
		i = j
	}
}
