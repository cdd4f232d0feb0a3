package compaction

import (
	"bytes"
	"sync"
)

// Filter decides whether compaction drops a key permanently.
type Filter interface {
	Drop(key []byte) bool
}

// PrefixFilter drops every key starting with Prefix.
type PrefixFilter struct {
	Prefix []byte
}

func (f PrefixFilter) Drop(key []byte) bool {
	return bytes.HasPrefix(key, f.Prefix)
}

// Filters is a process-wide filter list. It is safe for concurrent use.
type Filters struct {
	mu   sync.Mutex
	list []Filter
}

// Add appends a filter. It applies from the next compaction on.
func (f *Filters) Add(filter Filter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list = append(f.list, filter)
}

// Snapshot returns the current filters.
func (f *Filters) Snapshot() []Filter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Filter(nil), f.list...)
}

func dropByFilters(filters []Filter, key []byte) bool {
	for _, f := range filters {
		if f.Drop(key) {
			return true
		}
	}
	return false
}
