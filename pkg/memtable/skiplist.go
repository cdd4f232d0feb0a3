// Package memtable provides the in-memory table that receives all writes.
// A memtable keeps the latest value per key in sorted order so that it can
// be scanned directly into a table file when flushed.
package memtable

import (
	"bytes"
	"math/rand"
	"sync"
	"sync/atomic"
)

const (
	// MaxHeight is the maximum number of levels in the skip list.
	// With p=0.25 and maxHeight=12, we can efficiently handle ~16 million entries.
	MaxHeight = 12

	// branchingFactor determines the probability of increasing height.
	// p = 1/branchingFactor.
	branchingFactor = 4
)

// SkipList is an ordered map from key to value with O(log n) search and
// insert. Each key appears at most once; inserting an existing key replaces
// its value.
//
// The skip list structure:
//
//	Level 3:  head -----------------------> [D] ---------> nil
//	Level 2:  head --------> [B] --------> [D] ---------> nil
//	Level 1:  head -> [A] -> [B] -> [C] -> [D] -> [E] --> nil
//	Level 0:  head -> [A] -> [B] -> [C] -> [D] -> [E] --> nil
type SkipList struct {
	head   *skipListNode
	height atomic.Int32 // Current max height in use

	// Concurrency control: multiple readers, single writer
	mu sync.RWMutex

	entryCount atomic.Int64

	// Random source for level generation (per-skiplist to avoid contention)
	randMu sync.Mutex
	rand   *rand.Rand
}

// skipListNode holds one key and forward pointers for each level.
// value is replaced under the list's write lock.
type skipListNode struct {
	key     []byte
	value   []byte
	forward []*skipListNode
}

func newSkipListNode(key, value []byte, height int) *skipListNode {
	return &skipListNode{
		key:     key,
		value:   value,
		forward: make([]*skipListNode, height),
	}
}

// NewSkipList creates a new empty skip list.
func NewSkipList() *SkipList {
	sl := &SkipList{
		head: newSkipListNode(nil, nil, MaxHeight),
		rand: rand.New(rand.NewSource(rand.Int63())),
	}
	sl.height.Store(1)
	return sl
}

// randomHeight generates a random height for a new node.
// Uses geometric distribution with p = 1/branchingFactor.
func (sl *SkipList) randomHeight() int {
	sl.randMu.Lock()
	defer sl.randMu.Unlock()

	height := 1
	for height < MaxHeight && sl.rand.Intn(branchingFactor) == 0 {
		height++
	}
	return height
}

// Put inserts key or replaces its value. The list keeps the given slices;
// callers must not modify them afterwards.
func (sl *SkipList) Put(key, value []byte) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	update := make([]*skipListNode, MaxHeight)
	current := sl.head

	for i := int(sl.height.Load()) - 1; i >= 0; i-- {
		for current.forward[i] != nil && bytes.Compare(current.forward[i].key, key) < 0 {
			current = current.forward[i]
		}
		update[i] = current
	}

	if next := current.forward[0]; next != nil && bytes.Equal(next.key, key) {
		next.value = value
		return
	}

	newHeight := sl.randomHeight()

	currentHeight := int(sl.height.Load())
	if newHeight > currentHeight {
		for i := currentHeight; i < newHeight; i++ {
			update[i] = sl.head
		}
		sl.height.Store(int32(newHeight))
	}

	newNode := newSkipListNode(key, value, newHeight)
	for i := 0; i < newHeight; i++ {
		newNode.forward[i] = update[i].forward[i]
		update[i].forward[i] = newNode
	}

	sl.entryCount.Add(1)
}

// Get returns the value stored for key.
func (sl *SkipList) Get(key []byte) ([]byte, bool) {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	node := sl.seekLocked(key)
	if node != nil && bytes.Equal(node.key, key) {
		return node.value, true
	}
	return nil, false
}

// seekLocked returns the first node with key >= target. Caller holds mu.
func (sl *SkipList) seekLocked(target []byte) *skipListNode {
	current := sl.head
	for i := int(sl.height.Load()) - 1; i >= 0; i-- {
		for current.forward[i] != nil && bytes.Compare(current.forward[i].key, target) < 0 {
			current = current.forward[i]
		}
	}
	return current.forward[0]
}

// Len returns the number of distinct keys in the skip list.
func (sl *SkipList) Len() int64 {
	return sl.entryCount.Load()
}

// IsEmpty returns true if the skip list has no entries.
func (sl *SkipList) IsEmpty() bool {
	return sl.entryCount.Load() == 0
}

// NewIterator returns an iterator positioned at the first entry.
func (sl *SkipList) NewIterator() *SkipListIterator {
	it := &SkipListIterator{sl: sl}
	it.SeekToFirst()
	return it
}

// SkipListIterator provides sequential access to skip list entries.
// It may run concurrently with inserts; it sees a key's value as of the
// moment the iterator stepped onto it.
type SkipListIterator struct {
	sl      *SkipList
	current *skipListNode
	key     []byte
	value   []byte
}

// Valid returns true if the iterator is positioned at a valid entry.
func (it *SkipListIterator) Valid() bool {
	return it.current != nil
}

// Key returns the current entry's key.
func (it *SkipListIterator) Key() []byte {
	return it.key
}

// Value returns the current entry's value.
func (it *SkipListIterator) Value() []byte {
	return it.value
}

// Next advances the iterator to the next entry.
func (it *SkipListIterator) Next() {
	if it.current == nil {
		return
	}
	it.sl.mu.RLock()
	it.setLocked(it.current.forward[0])
	it.sl.mu.RUnlock()
}

// SeekToFirst positions the iterator at the first entry.
func (it *SkipListIterator) SeekToFirst() {
	it.sl.mu.RLock()
	it.setLocked(it.sl.head.forward[0])
	it.sl.mu.RUnlock()
}

// Seek positions the iterator at the first entry with key >= target.
func (it *SkipListIterator) Seek(target []byte) {
	it.sl.mu.RLock()
	it.setLocked(it.sl.seekLocked(target))
	it.sl.mu.RUnlock()
}

func (it *SkipListIterator) setLocked(node *skipListNode) {
	it.current = node
	if node == nil {
		it.key, it.value = nil, nil
		return
	}
	it.key, it.value = node.key, node.value
}

// Close releases resources held by the iterator.
func (it *SkipListIterator) Close() error {
	it.current = nil
	it.key, it.value = nil, nil
	return nil
}

// Error returns any error encountered during iteration.
func (it *SkipListIterator) Error() error {
	return nil
}
