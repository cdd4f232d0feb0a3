package compaction

import (
	"bytes"
	"sort"

	"github.com/vladgaus/minilsm/pkg/state"
)

// LevelStats contains statistics for a single level or tier.
// Level 0 is L0.
type LevelStats struct {
	Level    int
	NumFiles int
	Size     int64
}

// Stats returns per-level statistics for s, L0 first.
func Stats(s *state.State) []LevelStats {
	stats := make([]LevelStats, 0, 1+len(s.Levels))
	stats = append(stats, LevelStats{Level: 0, NumFiles: len(s.L0), Size: s.FilesSize(s.L0)})
	for _, l := range s.Levels {
		stats = append(stats, LevelStats{Level: l.ID, NumFiles: len(l.Files), Size: s.FilesSize(l.Files)})
	}
	return stats
}

// KeyRange returns the smallest first key and largest last key of the
// given tables. Unknown ids are skipped.
func KeyRange(s *state.State, ids []uint64) (minKey, maxKey []byte) {
	for _, id := range ids {
		t, ok := s.Tables[id]
		if !ok {
			continue
		}
		if minKey == nil || bytes.Compare(t.FirstKey(), minKey) < 0 {
			minKey = t.FirstKey()
		}
		if maxKey == nil || bytes.Compare(t.LastKey(), maxKey) > 0 {
			maxKey = t.LastKey()
		}
	}
	return minKey, maxKey
}

// Overlapping returns the ids in files whose key range intersects
// [minKey, maxKey], in their original order.
func Overlapping(s *state.State, files []uint64, minKey, maxKey []byte) []uint64 {
	var result []uint64
	for _, id := range files {
		t, ok := s.Tables[id]
		if !ok {
			continue
		}
		if bytes.Compare(t.LastKey(), minKey) < 0 || bytes.Compare(t.FirstKey(), maxKey) > 0 {
			continue
		}
		result = append(result, id)
	}
	return result
}

// SortByFirstKey orders ids by their tables' first keys in place. Unknown
// ids sort last.
func SortByFirstKey(s *state.State, ids []uint64) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, okA := s.Tables[ids[i]]
		b, okB := s.Tables[ids[j]]
		if !okA || !okB {
			return okA && !okB
		}
		return bytes.Compare(a.FirstKey(), b.FirstKey()) < 0
	})
}
