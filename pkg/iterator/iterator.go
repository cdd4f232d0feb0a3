// Package iterator provides composable, forward-only iterators over sorted
// key/value sources.
//
// The read path stacks them like this:
//
//	BoundedIterator (lower/upper)  ->  LiveIterator (drop tombstones)
//	                                        |
//	                               MergeIterator (newest source wins)
//	                   /              |               \
//	          active memtable   frozen memtables   table files
//
// A tombstone is an entry with an empty value.
package iterator

import (
	"bytes"
	"sort"
)

// Iterator is the interface all iterators in this package implement.
// Key and Value are only valid until the next positioning call.
type Iterator interface {
	// Valid returns true if positioned at a valid entry.
	Valid() bool

	// Key returns the current key.
	Key() []byte

	// Value returns the current value. Empty means tombstone.
	Value() []byte

	// Next advances to the next entry.
	Next()

	// Seek positions at first entry >= target.
	Seek(target []byte)

	// SeekToFirst positions at the first entry.
	SeekToFirst()

	// Error returns any error encountered.
	Error() error

	// Close releases resources.
	Close() error
}

// IsTombstone reports whether a value marks a deletion.
func IsTombstone(value []byte) bool {
	return len(value) == 0
}

// emptyIterator is an iterator with no entries.
type emptyIterator struct{}

// Empty returns an iterator with no entries.
func Empty() Iterator {
	return &emptyIterator{}
}

func (e *emptyIterator) Valid() bool   { return false }
func (e *emptyIterator) Key() []byte   { return nil }
func (e *emptyIterator) Value() []byte { return nil }
func (e *emptyIterator) Next()         {}
func (e *emptyIterator) Seek([]byte)   {}
func (e *emptyIterator) SeekToFirst()  {}
func (e *emptyIterator) Error() error  { return nil }
func (e *emptyIterator) Close() error  { return nil }

// KV is a key/value pair held in memory.
type KV struct {
	Key   []byte
	Value []byte
}

// sliceIterator iterates a sorted slice of pairs.
type sliceIterator struct {
	entries []KV
	pos     int
}

// FromSlice creates an iterator from a slice of pairs sorted by key.
// The iterator starts positioned at the first pair.
func FromSlice(entries []KV) Iterator {
	return &sliceIterator{entries: entries}
}

func (s *sliceIterator) Valid() bool {
	return s.pos >= 0 && s.pos < len(s.entries)
}

func (s *sliceIterator) Key() []byte {
	if !s.Valid() {
		return nil
	}
	return s.entries[s.pos].Key
}

func (s *sliceIterator) Value() []byte {
	if !s.Valid() {
		return nil
	}
	return s.entries[s.pos].Value
}

func (s *sliceIterator) Next() {
	if s.pos < len(s.entries) {
		s.pos++
	}
}

func (s *sliceIterator) Seek(target []byte) {
	s.pos = sort.Search(len(s.entries), func(i int) bool {
		return bytes.Compare(s.entries[i].Key, target) >= 0
	})
}

func (s *sliceIterator) SeekToFirst() {
	s.pos = 0
}

func (s *sliceIterator) Error() error {
	return nil
}

func (s *sliceIterator) Close() error {
	return nil
}

// errorIterator is an invalid iterator that reports a fixed error.
type errorIterator struct {
	err error
}

// FromError returns an iterator that is never valid and reports err.
func FromError(err error) Iterator {
	return &errorIterator{err: err}
}

func (e *errorIterator) Valid() bool   { return false }
func (e *errorIterator) Key() []byte   { return nil }
func (e *errorIterator) Value() []byte { return nil }
func (e *errorIterator) Next()         {}
func (e *errorIterator) Seek([]byte)   {}
func (e *errorIterator) SeekToFirst()  {}
func (e *errorIterator) Error() error  { return e.err }
func (e *errorIterator) Close() error  { return nil }
