// Package compaction provides the compaction strategies of the LSM-tree.
//
// A strategy is pure decision logic. Select inspects a state snapshot and
// returns the next Task, or nil. Apply takes a state, a finished task and
// the ids of the tables the task produced, and returns the successor state.
// Neither touches files: the engine merges the inputs with Execute and
// installs the state Apply returns.
//
// Supported strategies:
// - none: every flush stays in L0 forever
// - simple: whole-level merges driven by file-count ratios
// - leveled: partial merges with dynamic level targets (RocksDB style)
// - tiered: whole-tier merges (RocksDB universal style)
//
// The implementations live in the simple, leveled and tiered subpackages.
package compaction

import (
	"fmt"
	"strings"

	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/state"
)

// Kind identifies a compaction strategy.
type Kind string

const (
	KindNone    Kind = "none"
	KindSimple  Kind = "simple"
	KindLeveled Kind = "leveled"
	KindTiered  Kind = "tiered"
)

// ParseKind parses a strategy name. The empty string means none.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindNone, nil
	case KindNone, KindSimple, KindLeveled, KindTiered:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown compaction strategy %q", errors.ErrInvalidArgument, s)
	}
}

// Strategy decides which tables to merge and how the result is laid out.
type Strategy interface {
	// Name returns the strategy kind.
	Name() Kind

	// Select returns the next task for s, or nil when nothing needs doing.
	// It does not modify s and returns equal tasks for equal states.
	Select(s *state.State) *Task

	// Apply returns a new state with the task inputs replaced by outputs,
	// and the ids of the removed tables. Levels the task does not touch
	// keep their Files slices. When inRecovery is false, s.Tables must
	// already hold the output tables. Returns ErrTaskInvalidated if the
	// task inputs are no longer laid out as Select saw them.
	Apply(s *state.State, task *Task, outputs []uint64, inRecovery bool) (*state.State, []uint64, error)

	// InitialLevels is the number of empty levels a new state starts with.
	InitialLevels() int

	// FlushToL0 reports whether flushed tables go to L0. When false each
	// flush creates a new sorted run in front of Levels.
	FlushToL0() bool
}

// Options selects and configures a strategy. Only the block matching Kind
// is used.
type Options struct {
	Kind    Kind
	Simple  SimpleOptions
	Leveled LeveledOptions
	Tiered  TieredOptions
}

// SimpleOptions configures simple leveled compaction.
type SimpleOptions struct {
	// SizeRatioPercent triggers a merge when lower/upper file counts fall
	// below SizeRatioPercent/100.
	SizeRatioPercent int
	// Level0FileNumCompactionTrigger merges L0 into L1 once L0 holds this
	// many tables.
	Level0FileNumCompactionTrigger int
	// MaxLevels is the number of levels below L0.
	MaxLevels int
}

// LeveledOptions configures leveled compaction with dynamic level sizes.
type LeveledOptions struct {
	LevelSizeMultiplier            int
	Level0FileNumCompactionTrigger int
	MaxLevels                      int
	BaseLevelSizeMB                int
}

// TieredOptions configures tiered compaction.
type TieredOptions struct {
	// NumTiers is the number of sorted runs tolerated before compacting.
	NumTiers int
	// MaxSizeAmplificationPercent triggers a full merge once the runs above
	// the last one hold this percentage of the last run's files.
	MaxSizeAmplificationPercent int
	// SizeRatio is the percentage by which a run may exceed the sum of the
	// runs above it before they are merged.
	SizeRatio int
	// MinMergeWidth is the fewest runs a size-ratio merge takes.
	MinMergeWidth int
	// MaxMergeWidth caps the runs a sorted-run reduction takes. 0 means no
	// cap.
	MaxMergeWidth int
}

// DefaultSimpleOptions returns default simple leveled options.
func DefaultSimpleOptions() SimpleOptions {
	return SimpleOptions{
		SizeRatioPercent:               200,
		Level0FileNumCompactionTrigger: 2,
		MaxLevels:                      4,
	}
}

// DefaultLeveledOptions returns default leveled options.
func DefaultLeveledOptions() LeveledOptions {
	return LeveledOptions{
		LevelSizeMultiplier:            10,
		Level0FileNumCompactionTrigger: 4,
		MaxLevels:                      4,
		BaseLevelSizeMB:                128,
	}
}

// DefaultTieredOptions returns default tiered options.
func DefaultTieredOptions() TieredOptions {
	return TieredOptions{
		NumTiers:                    3,
		MaxSizeAmplificationPercent: 200,
		SizeRatio:                   1,
		MinMergeWidth:               2,
	}
}

// DefaultOptions returns options with every block at its defaults and
// compaction disabled.
func DefaultOptions() Options {
	return Options{
		Kind:    KindNone,
		Simple:  DefaultSimpleOptions(),
		Leveled: DefaultLeveledOptions(),
		Tiered:  DefaultTieredOptions(),
	}
}

// Validate checks the block selected by Kind.
func (o Options) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: compaction: %s", errors.ErrInvalidArgument, fmt.Sprintf(format, args...))
	}
	switch o.Kind {
	case KindNone, "":
	case KindSimple:
		if o.Simple.MaxLevels < 1 {
			return invalid("simple max_levels must be at least 1")
		}
		if o.Simple.Level0FileNumCompactionTrigger < 1 {
			return invalid("simple level0 trigger must be at least 1")
		}
		if o.Simple.SizeRatioPercent < 1 {
			return invalid("simple size_ratio_percent must be positive")
		}
	case KindLeveled:
		if o.Leveled.MaxLevels < 1 {
			return invalid("leveled max_levels must be at least 1")
		}
		if o.Leveled.Level0FileNumCompactionTrigger < 1 {
			return invalid("leveled level0 trigger must be at least 1")
		}
		if o.Leveled.LevelSizeMultiplier < 2 {
			return invalid("leveled level_size_multiplier must be at least 2")
		}
		if o.Leveled.BaseLevelSizeMB < 1 {
			return invalid("leveled base_level_size_mb must be positive")
		}
	case KindTiered:
		if o.Tiered.NumTiers < 2 {
			return invalid("tiered num_tiers must be at least 2")
		}
		if o.Tiered.MinMergeWidth < 2 {
			return invalid("tiered min_merge_width must be at least 2")
		}
		if o.Tiered.MaxMergeWidth != 0 && o.Tiered.MaxMergeWidth < 2 {
			return invalid("tiered max_merge_width must be 0 or at least 2")
		}
		if o.Tiered.MaxSizeAmplificationPercent < 1 || o.Tiered.SizeRatio < 0 {
			return invalid("tiered amplification and ratio must be positive")
		}
	default:
		return invalid("unknown strategy %q", o.Kind)
	}
	return nil
}

// NoCompaction never selects a task. Every flushed table stays in L0.
type NoCompaction struct{}

func (NoCompaction) Name() Kind                { return KindNone }
func (NoCompaction) Select(*state.State) *Task { return nil }
func (NoCompaction) InitialLevels() int        { return 0 }
func (NoCompaction) FlushToL0() bool           { return true }

// Apply always fails: NoCompaction produces no tasks to apply.
func (NoCompaction) Apply(*state.State, *Task, []uint64, bool) (*state.State, []uint64, error) {
	return nil, nil, errors.ErrTaskInvalidated
}

// InstallFlush records a flushed table in a cloned state s, either at the
// front of L0 or as a new sorted run, as strategy st lays tables out.
func InstallFlush(s *state.State, st Strategy, id uint64) {
	if st.FlushToL0() {
		s.L0 = append([]uint64{id}, s.L0...)
		return
	}
	run := state.Level{ID: int(id), Files: []uint64{id}}
	s.Levels = append([]state.Level{run}, s.Levels...)
}
