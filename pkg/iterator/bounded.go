package iterator

import (
	"bytes"
)

// BoundedIterator wraps an iterator with range bounds.
// It filters entries outside [LowerBound, UpperBound). A nil bound is open.
type BoundedIterator struct {
	inner      Iterator
	lowerBound []byte // Inclusive
	upperBound []byte // Exclusive
	valid      bool
}

// NewBoundedIterator creates a bounded iterator positioned at the first
// entry >= lower.
func NewBoundedIterator(inner Iterator, lower, upper []byte) *BoundedIterator {
	b := &BoundedIterator{
		inner:      inner,
		lowerBound: lower,
		upperBound: upper,
	}
	b.SeekToFirst()
	return b
}

// Valid returns true if positioned at a valid entry within bounds.
func (b *BoundedIterator) Valid() bool {
	return b.valid && b.inner.Valid()
}

// Key returns the current key.
func (b *BoundedIterator) Key() []byte {
	if !b.Valid() {
		return nil
	}
	return b.inner.Key()
}

// Value returns the current value.
func (b *BoundedIterator) Value() []byte {
	if !b.Valid() {
		return nil
	}
	return b.inner.Value()
}

// SeekToFirst positions at the first entry >= lower bound.
func (b *BoundedIterator) SeekToFirst() {
	if b.lowerBound != nil {
		b.inner.Seek(b.lowerBound)
	} else {
		b.inner.SeekToFirst()
	}
	b.checkBounds()
}

// Seek positions at first entry >= target within bounds.
func (b *BoundedIterator) Seek(target []byte) {
	if b.lowerBound != nil && bytes.Compare(target, b.lowerBound) < 0 {
		target = b.lowerBound
	}
	b.inner.Seek(target)
	b.checkBounds()
}

// Next advances to the next entry within bounds.
func (b *BoundedIterator) Next() {
	if !b.valid {
		return
	}
	b.inner.Next()
	b.checkBounds()
}

// Error returns any error encountered.
func (b *BoundedIterator) Error() error {
	return b.inner.Error()
}

// Close releases resources.
func (b *BoundedIterator) Close() error {
	return b.inner.Close()
}

func (b *BoundedIterator) checkBounds() {
	if !b.inner.Valid() {
		b.valid = false
		return
	}
	b.valid = b.upperBound == nil || bytes.Compare(b.inner.Key(), b.upperBound) < 0
}

// LiveIterator hides tombstones from an already merged iterator.
type LiveIterator struct {
	inner Iterator
}

// NewLiveIterator creates an iterator that skips entries with empty values.
func NewLiveIterator(inner Iterator) *LiveIterator {
	l := &LiveIterator{inner: inner}
	l.skipTombstones()
	return l
}

func (l *LiveIterator) Valid() bool   { return l.inner.Valid() }
func (l *LiveIterator) Key() []byte   { return l.inner.Key() }
func (l *LiveIterator) Value() []byte { return l.inner.Value() }
func (l *LiveIterator) Error() error  { return l.inner.Error() }
func (l *LiveIterator) Close() error  { return l.inner.Close() }

// Next advances to the next live entry.
func (l *LiveIterator) Next() {
	l.inner.Next()
	l.skipTombstones()
}

// Seek positions at the first live entry >= target.
func (l *LiveIterator) Seek(target []byte) {
	l.inner.Seek(target)
	l.skipTombstones()
}

// SeekToFirst positions at the first live entry.
func (l *LiveIterator) SeekToFirst() {
	l.inner.SeekToFirst()
	l.skipTombstones()
}

func (l *LiveIterator) skipTombstones() {
	for l.inner.Valid() && IsTombstone(l.inner.Value()) {
		l.inner.Next()
	}
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
