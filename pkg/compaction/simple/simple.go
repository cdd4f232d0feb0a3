// Package simple implements simple leveled compaction.
//
// Every level below L0 is one sorted run. Whole levels are merged:
// L0 into L1 once L0 holds enough tables, and level i into level i+1 once
// the lower level holds too few files relative to the upper one.
package simple

import (
	"github.com/vladgaus/minilsm/pkg/compaction"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/state"
)

// Strategy implements simple leveled compaction.
type Strategy struct {
	opts compaction.SimpleOptions
}

// New creates a simple leveled strategy. Zero fields take defaults.
func New(opts compaction.SimpleOptions) *Strategy {
	def := compaction.DefaultSimpleOptions()
	if opts.SizeRatioPercent <= 0 {
		opts.SizeRatioPercent = def.SizeRatioPercent
	}
	if opts.Level0FileNumCompactionTrigger <= 0 {
		opts.Level0FileNumCompactionTrigger = def.Level0FileNumCompactionTrigger
	}
	if opts.MaxLevels <= 0 {
		opts.MaxLevels = def.MaxLevels
	}
	return &Strategy{opts: opts}
}

// Name returns the strategy name.
func (s *Strategy) Name() compaction.Kind {
	return compaction.KindSimple
}

// Options returns the effective options.
func (s *Strategy) Options() compaction.SimpleOptions {
	return s.opts
}

func (s *Strategy) InitialLevels() int { return s.opts.MaxLevels }
func (s *Strategy) FlushToL0() bool    { return true }

// Select walks the level pairs from the top and returns the first one
// whose lower/upper file-count ratio is below SizeRatioPercent/100. The
// L0 pair is only considered once L0 reaches its trigger.
func (s *Strategy) Select(st *state.State) *compaction.Task {
	maxLevels := s.opts.MaxLevels
	if len(st.Levels) < maxLevels {
		maxLevels = len(st.Levels)
	}

	sizes := make([]int, 0, 1+maxLevels)
	sizes = append(sizes, len(st.L0))
	for i := 0; i < maxLevels; i++ {
		sizes = append(sizes, len(st.Levels[i].Files))
	}

	for i := 0; i < maxLevels; i++ {
		if i == 0 && sizes[0] < s.opts.Level0FileNumCompactionTrigger {
			continue
		}
		if sizes[i] == 0 {
			continue
		}
		ratio := float64(sizes[i+1]) / float64(sizes[i])
		if ratio >= float64(s.opts.SizeRatioPercent)/100 {
			continue
		}

		task := &compaction.Task{
			Kind:        compaction.KindSimple,
			UpperLevel:  i,
			LowerLevel:  st.Levels[i].ID,
			LowerFiles:  append([]uint64(nil), st.Levels[i].Files...),
			BottomLevel: i+1 == s.opts.MaxLevels,
		}
		if i == 0 {
			task.UpperFiles = append([]uint64(nil), st.L0...)
		} else {
			task.UpperLevel = st.Levels[i-1].ID
			task.UpperFiles = append([]uint64(nil), st.Levels[i-1].Files...)
		}
		return task
	}
	return nil
}

// Apply replaces the upper files with nothing and the lower level with
// outputs. L0 tables flushed after the task was selected stay in L0.
func (s *Strategy) Apply(st *state.State, task *compaction.Task, outputs []uint64, inRecovery bool) (*state.State, []uint64, error) {
	next := st.Clone()
	removed := make([]uint64, 0, len(task.UpperFiles)+len(task.LowerFiles))

	if task.UpperLevel == 0 {
		rest, ok := compaction.Subtract(next.L0, task.UpperFiles)
		if !ok {
			return nil, nil, errors.ErrTaskInvalidated
		}
		next.L0 = rest
	} else {
		ui := next.LevelIndex(task.UpperLevel)
		if ui < 0 || !compaction.SameFiles(next.Levels[ui].Files, task.UpperFiles) {
			return nil, nil, errors.ErrTaskInvalidated
		}
		next.Levels[ui].Files = nil
	}
	removed = append(removed, task.UpperFiles...)

	li := next.LevelIndex(task.LowerLevel)
	if li < 0 || !compaction.SameFiles(next.Levels[li].Files, task.LowerFiles) {
		return nil, nil, errors.ErrTaskInvalidated
	}
	next.Levels[li].Files = append([]uint64(nil), outputs...)
	removed = append(removed, task.LowerFiles...)

	return next, removed, nil
}
