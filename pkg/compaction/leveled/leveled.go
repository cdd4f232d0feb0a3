// Package leveled implements level-based compaction with dynamic level
// sizes.
//
// Each level below L0 holds non-overlapping tables sorted by first key.
// Target sizes are computed from the bottom up: the last level's target is
// its real size (at least the base level size), and each level above is
// the one below divided by the multiplier, for as long as the level below
// is larger than the base size. The first level with a non-zero target is
// the base level, where L0 flushes land. While a level above the base
// still holds data, L0 lands there instead.
//
// Level sizes with a 10x multiplier, a 128MB base and 50GB of data:
//
//	L1: 0 (skipped)
//	L2: 500MB (base level)
//	L3: 5GB
//	L4: 50GB
package leveled

import (
	"math"

	"github.com/vladgaus/minilsm/pkg/compaction"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/state"
)

// Strategy implements leveled compaction.
type Strategy struct {
	opts compaction.LeveledOptions
}

// New creates a leveled strategy. Zero fields take defaults.
func New(opts compaction.LeveledOptions) *Strategy {
	def := compaction.DefaultLeveledOptions()
	if opts.LevelSizeMultiplier <= 1 {
		opts.LevelSizeMultiplier = def.LevelSizeMultiplier
	}
	if opts.Level0FileNumCompactionTrigger <= 0 {
		opts.Level0FileNumCompactionTrigger = def.Level0FileNumCompactionTrigger
	}
	if opts.MaxLevels <= 0 {
		opts.MaxLevels = def.MaxLevels
	}
	if opts.BaseLevelSizeMB <= 0 {
		opts.BaseLevelSizeMB = def.BaseLevelSizeMB
	}
	return &Strategy{opts: opts}
}

// Name returns the strategy name.
func (s *Strategy) Name() compaction.Kind {
	return compaction.KindLeveled
}

// Options returns the effective options.
func (s *Strategy) Options() compaction.LeveledOptions {
	return s.opts
}

func (s *Strategy) InitialLevels() int { return s.opts.MaxLevels }
func (s *Strategy) FlushToL0() bool    { return true }

func (s *Strategy) baseLevelSize() int64 {
	return int64(s.opts.BaseLevelSizeMB) * 1024 * 1024
}

// TargetSizes returns the target size of each level in st.Levels and the
// id of the base level.
func (s *Strategy) TargetSizes(st *state.State) (targets []int64, baseLevel int) {
	n := len(st.Levels)
	targets = make([]int64, n)
	if n == 0 {
		return targets, 0
	}

	base := s.baseLevelSize()
	baseIdx := n - 1
	targets[n-1] = st.FilesSize(st.Levels[n-1].Files)
	if targets[n-1] < base {
		targets[n-1] = base
	}
	for i := n - 2; i >= 0; i-- {
		if targets[i+1] > base {
			targets[i] = targets[i+1] / int64(s.opts.LevelSizeMultiplier)
		}
		if targets[i] > 0 {
			baseIdx = i
		}
	}
	return targets, st.Levels[baseIdx].ID
}

// Select returns an L0 task once L0 reaches its trigger, merging all of L0
// into the overlapping tables of its target level. Otherwise it takes the
// oldest table of the level most over its target and merges it into the
// overlapping tables of the next level.
func (s *Strategy) Select(st *state.State) *compaction.Task {
	if len(st.Levels) == 0 {
		return nil
	}
	targets, baseLevel := s.TargetSizes(st)
	bottom := st.Levels[len(st.Levels)-1].ID

	if len(st.L0) >= s.opts.Level0FileNumCompactionTrigger {
		li := s.l0TargetIndex(st, st.LevelIndex(baseLevel))
		lower := st.Levels[li]
		minKey, maxKey := compaction.KeyRange(st, st.L0)
		return &compaction.Task{
			Kind:        compaction.KindLeveled,
			UpperLevel:  0,
			UpperFiles:  append([]uint64(nil), st.L0...),
			LowerLevel:  lower.ID,
			LowerFiles:  compaction.Overlapping(st, lower.Files, minKey, maxKey),
			BottomLevel: lower.ID == bottom,
		}
	}

	best, bestScore := -1, 1.0
	for i := 0; i < len(st.Levels)-1; i++ {
		size := st.FilesSize(st.Levels[i].Files)
		if size == 0 {
			continue
		}
		score := math.Inf(1)
		if targets[i] > 0 {
			score = float64(size) / float64(targets[i])
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil
	}

	upper := st.Levels[best]
	oldest := upper.Files[0]
	for _, id := range upper.Files[1:] {
		if id < oldest {
			oldest = id
		}
	}
	lower := st.Levels[best+1]
	minKey, maxKey := compaction.KeyRange(st, []uint64{oldest})
	return &compaction.Task{
		Kind:        compaction.KindLeveled,
		UpperLevel:  upper.ID,
		UpperFiles:  []uint64{oldest},
		LowerLevel:  lower.ID,
		LowerFiles:  compaction.Overlapping(st, lower.Files, minKey, maxKey),
		BottomLevel: lower.ID == bottom,
	}
}

// l0TargetIndex returns the index of the level L0 merges into: the base
// level, or the first non-empty level above it. A level above the base
// still holds data after the bottom level shrinks, and that data is newer
// than anything below it, so L0 must not skip past it.
func (s *Strategy) l0TargetIndex(st *state.State, baseIdx int) int {
	for i := 0; i < baseIdx; i++ {
		if len(st.Levels[i].Files) > 0 {
			return i
		}
	}
	return baseIdx
}

// Apply removes the task inputs from their levels and adds the outputs to
// the lower level. Outside recovery the lower level is re-sorted by first
// key; during recovery tables are not open yet and the caller sorts later.
func (s *Strategy) Apply(st *state.State, task *compaction.Task, outputs []uint64, inRecovery bool) (*state.State, []uint64, error) {
	next := st.Clone()

	if task.UpperLevel == 0 {
		rest, ok := compaction.Subtract(next.L0, task.UpperFiles)
		if !ok {
			return nil, nil, errors.ErrTaskInvalidated
		}
		next.L0 = rest
	} else {
		ui := next.LevelIndex(task.UpperLevel)
		if ui < 0 {
			return nil, nil, errors.ErrTaskInvalidated
		}
		rest, ok := compaction.Subtract(next.Levels[ui].Files, task.UpperFiles)
		if !ok {
			return nil, nil, errors.ErrTaskInvalidated
		}
		next.Levels[ui].Files = rest
	}

	li := next.LevelIndex(task.LowerLevel)
	if li < 0 {
		return nil, nil, errors.ErrTaskInvalidated
	}
	rest, ok := compaction.Subtract(next.Levels[li].Files, task.LowerFiles)
	if !ok {
		return nil, nil, errors.ErrTaskInvalidated
	}
	lower := append(rest, outputs...)
	if !inRecovery {
		compaction.SortByFirstKey(next, lower)
	}
	next.Levels[li].Files = lower

	removed := make([]uint64, 0, len(task.UpperFiles)+len(task.LowerFiles))
	removed = append(removed, task.UpperFiles...)
	removed = append(removed, task.LowerFiles...)
	return next, removed, nil
}

// SortLevels orders every level of st by first key in place. Used after
// recovery, once tables are open.
func SortLevels(st *state.State) {
	for i := range st.Levels {
		files := append([]uint64(nil), st.Levels[i].Files...)
		compaction.SortByFirstKey(st, files)
		st.Levels[i].Files = files
	}
}
