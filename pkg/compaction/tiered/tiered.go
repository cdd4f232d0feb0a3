// Package tiered implements tiered compaction (RocksDB universal style).
//
// Every flush creates a new tier, a sorted run, in front of the others.
// Tiers are ordered newest first and are always merged whole, producing
// one larger tier in place of the merged ones.
//
// Characteristics:
// - Lower write amplification than leveled
// - Higher space amplification (old versions live until their tiers merge)
// - Read cost grows with the number of tiers
//
// Run sizes are measured in files.
package tiered

import (
	"github.com/vladgaus/minilsm/pkg/compaction"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/state"
)

// Strategy implements tiered compaction.
type Strategy struct {
	opts compaction.TieredOptions
}

// New creates a tiered strategy. Zero fields take defaults, except
// MaxMergeWidth where 0 means no cap.
func New(opts compaction.TieredOptions) *Strategy {
	def := compaction.DefaultTieredOptions()
	if opts.NumTiers <= 1 {
		opts.NumTiers = def.NumTiers
	}
	if opts.MaxSizeAmplificationPercent <= 0 {
		opts.MaxSizeAmplificationPercent = def.MaxSizeAmplificationPercent
	}
	if opts.SizeRatio < 0 {
		opts.SizeRatio = def.SizeRatio
	}
	if opts.MinMergeWidth <= 1 {
		opts.MinMergeWidth = def.MinMergeWidth
	}
	if opts.MaxMergeWidth < 0 {
		opts.MaxMergeWidth = 0
	}
	return &Strategy{opts: opts}
}

// Name returns the strategy name.
func (s *Strategy) Name() compaction.Kind {
	return compaction.KindTiered
}

// Options returns the effective options.
func (s *Strategy) Options() compaction.TieredOptions {
	return s.opts
}

func (s *Strategy) InitialLevels() int { return 0 }
func (s *Strategy) FlushToL0() bool    { return false }

// Select does nothing while there are fewer than NumTiers tiers. Then, in
// order of preference:
//  1. space amplification: if the tiers above the last one hold at least
//     MaxSizeAmplificationPercent of the last tier's files, merge all tiers
//  2. size ratio: take the shortest prefix of at least MinMergeWidth tiers
//     whose next tier exceeds the prefix by more than SizeRatio percent
//  3. otherwise merge the first MaxMergeWidth tiers (all when uncapped) to
//     bring the run count down
func (s *Strategy) Select(st *state.State) *compaction.Task {
	levels := st.Levels
	n := len(levels)
	if n < s.opts.NumTiers {
		return nil
	}

	var upper int
	for _, l := range levels[:n-1] {
		upper += len(l.Files)
	}
	last := len(levels[n-1].Files)
	if last > 0 && float64(upper)/float64(last)*100 >= float64(s.opts.MaxSizeAmplificationPercent) {
		return s.task(levels, n)
	}

	trigger := float64(100+s.opts.SizeRatio) / 100
	var size int
	for i := 0; i < n-1; i++ {
		size += len(levels[i].Files)
		if size == 0 {
			continue
		}
		ratio := float64(len(levels[i+1].Files)) / float64(size)
		if ratio > trigger && i+1 >= s.opts.MinMergeWidth {
			return s.task(levels, i+1)
		}
	}

	take := n
	if s.opts.MaxMergeWidth > 0 && s.opts.MaxMergeWidth < take {
		take = s.opts.MaxMergeWidth
	}
	return s.task(levels, take)
}

func (s *Strategy) task(levels []state.Level, take int) *compaction.Task {
	tiers := make([]compaction.Tier, take)
	for i := 0; i < take; i++ {
		tiers[i] = compaction.Tier{
			ID:    levels[i].ID,
			Files: append([]uint64(nil), levels[i].Files...),
		}
	}
	return &compaction.Task{
		Kind:        compaction.KindTiered,
		Tiers:       tiers,
		BottomLevel: take >= len(levels),
	}
}

// Apply replaces the merged tiers with one tier holding the outputs, at
// the position of the last merged tier. Tiers created by flushes after the
// task was selected stay in front. The new tier takes the id of its first
// output; a merge that produced nothing leaves no tier behind.
func (s *Strategy) Apply(st *state.State, task *compaction.Task, outputs []uint64, inRecovery bool) (*state.State, []uint64, error) {
	if len(task.Tiers) == 0 {
		return nil, nil, errors.ErrTaskInvalidated
	}
	pending := make(map[int][]uint64, len(task.Tiers))
	for _, t := range task.Tiers {
		pending[t.ID] = t.Files
	}

	next := st.Clone()
	levels := make([]state.Level, 0, len(next.Levels))
	var removed []uint64
	added := false
	for _, l := range next.Levels {
		if files, ok := pending[l.ID]; ok {
			if !compaction.SameFiles(files, l.Files) {
				return nil, nil, errors.ErrTaskInvalidated
			}
			delete(pending, l.ID)
			removed = append(removed, l.Files...)
		} else {
			levels = append(levels, l)
		}
		if len(pending) == 0 && !added {
			added = true
			if len(outputs) > 0 {
				levels = append(levels, state.Level{
					ID:    int(outputs[0]),
					Files: append([]uint64(nil), outputs...),
				})
			}
		}
	}
	if len(pending) > 0 {
		return nil, nil, errors.ErrTaskInvalidated
	}
	next.Levels = levels
	return next, removed, nil
}
