package simple

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladgaus/minilsm/internal/testutil"
	"github.com/vladgaus/minilsm/pkg/compaction"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/memtable"
	"github.com/vladgaus/minilsm/pkg/state"
)

func newState(t *testing.T, s *Strategy, l0 []uint64, levels ...[]uint64) *state.State {
	t.Helper()
	st := state.New(memtable.Create(1000), s.InitialLevels())
	st.L0 = l0
	var tables []state.Table
	for _, id := range l0 {
		tables = append(tables, testutil.NewSizedTable(id, "a", "z", 100))
	}
	for i, files := range levels {
		st.Levels[i].Files = files
		for j, id := range files {
			k := fmt.Sprintf("k%03d", j)
			tables = append(tables, testutil.NewSizedTable(id, k, k, 100))
		}
	}
	st.WithTables(tables, nil)
	return st
}

func TestDefaults(t *testing.T) {
	s := New(compaction.SimpleOptions{})
	assert.Equal(t, compaction.DefaultSimpleOptions(), s.Options())
	assert.Equal(t, compaction.KindSimple, s.Name())
	assert.True(t, s.FlushToL0())
	assert.Equal(t, 4, s.InitialLevels())
}

func TestL0TriggerMergesAllIntoL1(t *testing.T) {
	s := New(compaction.SimpleOptions{
		SizeRatioPercent:               10,
		Level0FileNumCompactionTrigger: 4,
		MaxLevels:                      4,
	})

	st := newState(t, s, []uint64{1, 2, 3})
	assert.Nil(t, s.Select(st), "below trigger")

	st = newState(t, s, []uint64{4, 3, 2, 1})
	task := s.Select(st)
	require.NotNil(t, task)
	assert.Equal(t, 0, task.UpperLevel)
	assert.Equal(t, []uint64{4, 3, 2, 1}, task.UpperFiles)
	assert.Equal(t, 1, task.LowerLevel)
	assert.Empty(t, task.LowerFiles)
	assert.False(t, task.BottomLevel)

	// Select is pure.
	assert.Equal(t, task, s.Select(st))
	assert.Equal(t, []uint64{4, 3, 2, 1}, st.L0)

	next, removed, err := s.Apply(st, task, []uint64{5}, false)
	require.NoError(t, err)
	assert.Empty(t, next.L0)
	assert.Equal(t, []uint64{5}, next.Levels[0].Files)
	assert.ElementsMatch(t, []uint64{1, 2, 3, 4}, removed)

	// The input state is unchanged.
	assert.Equal(t, []uint64{4, 3, 2, 1}, st.L0)
	assert.Empty(t, st.Levels[0].Files)
}

func TestApplyKeepsNewL0Tables(t *testing.T) {
	s := New(compaction.SimpleOptions{SizeRatioPercent: 100, Level0FileNumCompactionTrigger: 2, MaxLevels: 2})
	st := newState(t, s, []uint64{2, 1})
	task := s.Select(st)
	require.NotNil(t, task)

	// A flush lands while the task runs.
	later := st.Clone()
	later.L0 = append([]uint64{3}, later.L0...)

	next, _, err := s.Apply(later, task, []uint64{4}, false)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, next.L0)
	assert.Equal(t, []uint64{4}, next.Levels[0].Files)
}

func TestLevelRatio(t *testing.T) {
	s := New(compaction.SimpleOptions{SizeRatioPercent: 200, Level0FileNumCompactionTrigger: 2, MaxLevels: 3})

	// L1 has 2 files, L2 has 3: 3/2 < 2 so L1 merges into L2.
	st := newState(t, s, nil, []uint64{10, 11}, []uint64{1, 2, 3})
	task := s.Select(st)
	require.NotNil(t, task)
	assert.Equal(t, 1, task.UpperLevel)
	assert.Equal(t, []uint64{10, 11}, task.UpperFiles)
	assert.Equal(t, 2, task.LowerLevel)
	assert.Equal(t, []uint64{1, 2, 3}, task.LowerFiles)
	assert.False(t, task.BottomLevel)

	next, removed, err := s.Apply(st, task, []uint64{20, 21}, false)
	require.NoError(t, err)
	assert.Empty(t, next.Levels[0].Files)
	assert.Equal(t, []uint64{20, 21}, next.Levels[1].Files)
	assert.Equal(t, []uint64{10, 11, 1, 2, 3}, removed)

	// L3 was not touched and is shared.
	assert.Equal(t, st.Levels[2], next.Levels[2])

	// Balanced levels need nothing.
	st = newState(t, s, nil, []uint64{10}, []uint64{1, 2}, []uint64{4, 5, 6, 7})
	assert.Nil(t, s.Select(st))
}

func TestBottomLevel(t *testing.T) {
	s := New(compaction.SimpleOptions{SizeRatioPercent: 200, Level0FileNumCompactionTrigger: 2, MaxLevels: 2})
	st := newState(t, s, nil, []uint64{10, 11}, []uint64{1})
	task := s.Select(st)
	require.NotNil(t, task)
	assert.Equal(t, 2, task.LowerLevel)
	assert.True(t, task.BottomLevel)
}

func TestApplyInvalidated(t *testing.T) {
	s := New(compaction.SimpleOptions{SizeRatioPercent: 200, Level0FileNumCompactionTrigger: 2, MaxLevels: 2})
	st := newState(t, s, nil, []uint64{10, 11}, []uint64{1})
	task := s.Select(st)
	require.NotNil(t, task)

	changed := st.Clone()
	changed.Levels[1].Files = []uint64{1, 2}
	_, _, err := s.Apply(changed, task, []uint64{30}, false)
	assert.ErrorIs(t, err, errors.ErrTaskInvalidated)

	changed = st.Clone()
	changed.Levels[0].Files = []uint64{11}
	_, _, err = s.Apply(changed, task, []uint64{30}, false)
	assert.ErrorIs(t, err, errors.ErrTaskInvalidated)
}
