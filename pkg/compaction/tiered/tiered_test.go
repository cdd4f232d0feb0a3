package tiered

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladgaus/minilsm/pkg/compaction"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/memtable"
	"github.com/vladgaus/minilsm/pkg/state"
)

// withTiers builds a state whose tiers hold the given number of files.
// Tier i (newest first) gets id 100*(len-i) and files id, id+1, ...
func withTiers(sizes ...int) *state.State {
	st := state.New(memtable.Create(1), 0)
	for i, n := range sizes {
		id := 100 * (len(sizes) - i)
		tier := state.Level{ID: id}
		for j := 0; j < n; j++ {
			tier.Files = append(tier.Files, uint64(id+j))
		}
		st.Levels = append(st.Levels, tier)
	}
	return st
}

func newStrategy(maxMergeWidth int) *Strategy {
	return New(compaction.TieredOptions{
		NumTiers:                    3,
		MaxSizeAmplificationPercent: 200,
		SizeRatio:                   1,
		MinMergeWidth:               2,
		MaxMergeWidth:               maxMergeWidth,
	})
}

func tierIDs(task *compaction.Task) []int {
	var ids []int
	for _, t := range task.Tiers {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestDefaults(t *testing.T) {
	s := New(compaction.TieredOptions{})
	assert.Equal(t, compaction.DefaultTieredOptions(), s.Options())
	assert.Equal(t, compaction.KindTiered, s.Name())
	assert.False(t, s.FlushToL0())
	assert.Zero(t, s.InitialLevels())
}

func TestFewTiers(t *testing.T) {
	assert.Nil(t, newStrategy(0).Select(withTiers(5, 5)))
}

func TestSpaceAmplification(t *testing.T) {
	s := newStrategy(0)
	st := withTiers(1, 1, 1)
	task := s.Select(st)
	require.NotNil(t, task)
	assert.Equal(t, []int{300, 200, 100}, tierIDs(task))
	assert.True(t, task.BottomLevel)
	assert.Equal(t, task, s.Select(st))
}

func TestSizeRatio(t *testing.T) {
	s := newStrategy(0)
	task := s.Select(withTiers(1, 1, 5, 10))
	require.NotNil(t, task)
	assert.Equal(t, []int{400, 300}, tierIDs(task))
	assert.False(t, task.BottomLevel)
}

func TestReduceSortedRuns(t *testing.T) {
	task := newStrategy(2).Select(withTiers(3, 1, 1, 5))
	require.NotNil(t, task)
	assert.Equal(t, []int{400, 300}, tierIDs(task))
	assert.False(t, task.BottomLevel)

	task = newStrategy(0).Select(withTiers(3, 1, 1, 5))
	require.NotNil(t, task)
	assert.Len(t, task.Tiers, 4)
	assert.True(t, task.BottomLevel)
}

func TestApply(t *testing.T) {
	s := newStrategy(0)
	st := withTiers(1, 1, 5, 10)
	task := s.Select(st)
	require.NotNil(t, task)

	// A flush creates a new tier while the task runs.
	later := st.Clone()
	compaction.InstallFlush(later, s, 900)

	next, removed, err := s.Apply(later, task, []uint64{901, 902}, false)
	require.NoError(t, err)
	require.Len(t, next.Levels, 4)
	assert.Equal(t, state.Level{ID: 900, Files: []uint64{900}}, next.Levels[0])
	assert.Equal(t, state.Level{ID: 901, Files: []uint64{901, 902}}, next.Levels[1])
	assert.Equal(t, 200, next.Levels[2].ID)
	assert.Equal(t, 100, next.Levels[3].ID)
	assert.Equal(t, []uint64{400, 300}, removed)

	// Unmerged tiers share their slices.
	assert.Same(t, &st.Levels[3].Files[0], &next.Levels[3].Files[0])
	assert.Len(t, st.Levels, 4)
}

func TestApplyEmptyOutput(t *testing.T) {
	s := newStrategy(0)
	st := withTiers(1, 1, 1)
	task := s.Select(st)
	require.NotNil(t, task)

	next, removed, err := s.Apply(st, task, nil, false)
	require.NoError(t, err)
	assert.Empty(t, next.Levels)
	assert.Len(t, removed, 3)
}

func TestApplyInvalidated(t *testing.T) {
	s := newStrategy(0)
	st := withTiers(1, 1, 1)
	task := s.Select(st)
	require.NotNil(t, task)

	gone := st.Clone()
	gone.Levels = gone.Levels[1:]
	_, _, err := s.Apply(gone, task, []uint64{7}, false)
	assert.ErrorIs(t, err, errors.ErrTaskInvalidated)

	changed := st.Clone()
	changed.Levels[0] = state.Level{ID: 300, Files: []uint64{300, 301}}
	_, _, err = s.Apply(changed, task, []uint64{7}, false)
	assert.ErrorIs(t, err, errors.ErrTaskInvalidated)

	_, _, err = s.Apply(st, &compaction.Task{Kind: compaction.KindTiered}, nil, false)
	assert.ErrorIs(t, err, errors.ErrTaskInvalidated)
}
