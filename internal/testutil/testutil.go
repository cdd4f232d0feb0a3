// Package testutil provides helpers shared by minilsm tests.
package testutil

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/vladgaus/minilsm/pkg/iterator"
)

// SequentialKey generates a sequential key.
func SequentialKey(prefix string, num int) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefix, num))
}

// SequentialValue generates a sequential value of the given size.
func SequentialValue(num, size int) []byte {
	pattern := fmt.Sprintf("value-%010d-", num)
	value := make([]byte, size)
	for i := 0; i < size; i++ {
		value[i] = pattern[i%len(pattern)]
	}
	return value
}

// NullLogger returns a logger that records entries in memory.
func NullLogger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}

// FakeTable is an in-memory table for state and compaction tests.
type FakeTable struct {
	id      uint64
	entries []iterator.KV
	size    int64
}

// NewFakeTable creates a table from alternating key, value strings.
// An empty value is a tombstone. Size defaults to the sum of key and
// value lengths.
func NewFakeTable(id uint64, pairs ...string) *FakeTable {
	t := &FakeTable{id: id}
	for i := 0; i+1 < len(pairs); i += 2 {
		t.entries = append(t.entries, iterator.KV{Key: []byte(pairs[i]), Value: []byte(pairs[i+1])})
		t.size += int64(len(pairs[i]) + len(pairs[i+1]))
	}
	sort.Slice(t.entries, func(i, j int) bool {
		return bytes.Compare(t.entries[i].Key, t.entries[j].Key) < 0
	})
	return t
}

// NewSizedTable creates a table covering [first, last] with a given size.
func NewSizedTable(id uint64, first, last string, size int64) *FakeTable {
	t := NewFakeTable(id, first, "v", last, "v")
	if first == last {
		t = NewFakeTable(id, first, "v")
	}
	t.size = size
	return t
}

func (t *FakeTable) ID() uint64       { return t.id }
func (t *FakeTable) FirstKey() []byte { return t.entries[0].Key }
func (t *FakeTable) LastKey() []byte  { return t.entries[len(t.entries)-1].Key }
func (t *FakeTable) Size() int64      { return t.size }

func (t *FakeTable) Get(key []byte) ([]byte, bool, error) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return bytes.Compare(t.entries[i].Key, key) >= 0
	})
	if i < len(t.entries) && bytes.Equal(t.entries[i].Key, key) {
		return t.entries[i].Value, true, nil
	}
	return nil, false, nil
}

func (t *FakeTable) NewIterator(lower, upper []byte) iterator.Iterator {
	return iterator.NewBoundedIterator(iterator.FromSlice(t.entries), lower, upper)
}
