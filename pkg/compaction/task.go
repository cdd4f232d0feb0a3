package compaction

import (
	"fmt"
)

// Tier is one sorted run taken by a tiered task.
type Tier struct {
	ID    int      `msgpack:"id"`
	Files []uint64 `msgpack:"files"`
}

// Task is a unit of compaction work. It is recorded in the manifest, so
// every field is msgpack-tagged.
//
// Leveled and simple tasks merge UpperFiles from UpperLevel (0 for L0)
// into LowerFiles of LowerLevel. Tiered tasks merge whole Tiers.
type Task struct {
	Kind        Kind     `msgpack:"kind"`
	UpperLevel  int      `msgpack:"upper_level"`
	UpperFiles  []uint64 `msgpack:"upper_files"`
	LowerLevel  int      `msgpack:"lower_level"`
	LowerFiles  []uint64 `msgpack:"lower_files"`
	Tiers       []Tier   `msgpack:"tiers,omitempty"`
	BottomLevel bool     `msgpack:"bottom_level"`
}

// Inputs returns the ids of every table the task reads, newest data
// first: upper files before lower files, tiers in order.
func (t *Task) Inputs() []uint64 {
	if len(t.Tiers) > 0 {
		var ids []uint64
		for _, tier := range t.Tiers {
			ids = append(ids, tier.Files...)
		}
		return ids
	}
	ids := make([]uint64, 0, len(t.UpperFiles)+len(t.LowerFiles))
	ids = append(ids, t.UpperFiles...)
	return append(ids, t.LowerFiles...)
}

// Target returns the level the output lands in, for logs and metrics.
func (t *Task) Target() int {
	if len(t.Tiers) > 0 {
		return t.Tiers[len(t.Tiers)-1].ID
	}
	return t.LowerLevel
}

func (t *Task) String() string {
	if len(t.Tiers) > 0 {
		return fmt.Sprintf("%s: %d tiers, %d files, bottom=%v", t.Kind, len(t.Tiers), len(t.Inputs()), t.BottomLevel)
	}
	return fmt.Sprintf("%s: L%d %v -> L%d %v, bottom=%v",
		t.Kind, t.UpperLevel, t.UpperFiles, t.LowerLevel, t.LowerFiles, t.BottomLevel)
}

// SameFiles reports whether a and b hold the same ids in the same order.
func SameFiles(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Subtract returns from without the ids in remove, as a new slice. ok is
// false if some id in remove is missing from from.
func Subtract(from, remove []uint64) (rest []uint64, ok bool) {
	drop := make(map[uint64]struct{}, len(remove))
	for _, id := range remove {
		drop[id] = struct{}{}
	}
	rest = make([]uint64, 0, len(from))
	for _, id := range from {
		if _, found := drop[id]; found {
			delete(drop, id)
			continue
		}
		rest = append(rest, id)
	}
	return rest, len(drop) == 0
}
