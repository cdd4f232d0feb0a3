package leveled

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladgaus/minilsm/internal/testutil"
	"github.com/vladgaus/minilsm/pkg/compaction"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/memtable"
	"github.com/vladgaus/minilsm/pkg/state"
)

const mb = 1024 * 1024

func newStrategy() *Strategy {
	return New(compaction.LeveledOptions{
		LevelSizeMultiplier:            10,
		Level0FileNumCompactionTrigger: 2,
		MaxLevels:                      4,
		BaseLevelSizeMB:                1,
	})
}

func TestDefaults(t *testing.T) {
	s := New(compaction.LeveledOptions{})
	assert.Equal(t, compaction.DefaultLeveledOptions(), s.Options())
	assert.Equal(t, compaction.KindLeveled, s.Name())
	assert.Equal(t, 4, s.InitialLevels())
}

func TestTargetSizes(t *testing.T) {
	s := newStrategy()

	st := state.New(memtable.Create(100), 4)
	targets, base := s.TargetSizes(st)
	assert.Equal(t, []int64{0, 0, 0, mb}, targets)
	assert.Equal(t, 4, base)

	st.Levels[3].Files = []uint64{1}
	st.WithTables([]state.Table{testutil.NewSizedTable(1, "a", "z", 50*mb)}, nil)
	targets, base = s.TargetSizes(st)
	assert.Equal(t, []int64{0, mb / 2, 5 * mb, 50 * mb}, targets)
	assert.Equal(t, 2, base)
}

func TestL0GoesToBaseLevel(t *testing.T) {
	s := newStrategy()
	st := state.New(memtable.Create(100), 4)
	st.L0 = []uint64{11, 10}
	st.Levels[3].Files = []uint64{1, 2, 3}
	st.WithTables([]state.Table{
		testutil.NewSizedTable(10, "c", "e", 100),
		testutil.NewSizedTable(11, "d", "g", 100),
		testutil.NewSizedTable(1, "a", "b", 100),
		testutil.NewSizedTable(2, "c", "f", 100),
		testutil.NewSizedTable(3, "h", "k", 100),
	}, nil)

	task := s.Select(st)
	require.NotNil(t, task)
	assert.Equal(t, 0, task.UpperLevel)
	assert.Equal(t, []uint64{11, 10}, task.UpperFiles)
	assert.Equal(t, 4, task.LowerLevel)
	assert.Equal(t, []uint64{2}, task.LowerFiles)
	assert.True(t, task.BottomLevel)
	assert.Equal(t, task, s.Select(st))

	st.WithTables([]state.Table{
		testutil.NewSizedTable(20, "c", "d", 100),
		testutil.NewSizedTable(21, "e", "g", 100),
	}, nil)
	next, removed, err := s.Apply(st, task, []uint64{21, 20}, false)
	require.NoError(t, err)
	assert.Empty(t, next.L0)
	assert.Equal(t, []uint64{1, 20, 21, 3}, next.Levels[3].Files)
	assert.Equal(t, []uint64{11, 10, 2}, removed)

	// Untouched levels share their slices.
	assert.Equal(t, st.Levels[0], next.Levels[0])
	assert.Equal(t, []uint64{1, 2, 3}, st.Levels[3].Files)
}

func TestOverBudgetLevel(t *testing.T) {
	s := newStrategy()
	st := state.New(memtable.Create(100), 4)
	st.Levels[1].Files = []uint64{7, 5, 6}
	st.Levels[2].Files = []uint64{8, 9}
	st.Levels[3].Files = []uint64{1}
	st.WithTables([]state.Table{
		testutil.NewSizedTable(5, "a", "c", mb),
		testutil.NewSizedTable(6, "d", "f", mb/2),
		testutil.NewSizedTable(7, "g", "i", mb/2),
		testutil.NewSizedTable(8, "a", "b", 3*mb),
		testutil.NewSizedTable(9, "c", "z", 3*mb),
		testutil.NewSizedTable(1, "a", "z", 50*mb),
	}, nil)

	// L2 is at 2MB against 0.5MB, L3 at 6MB against 5MB.
	task := s.Select(st)
	require.NotNil(t, task)
	assert.Equal(t, 2, task.UpperLevel)
	assert.Equal(t, []uint64{5}, task.UpperFiles, "oldest table")
	assert.Equal(t, 3, task.LowerLevel)
	assert.Equal(t, []uint64{8, 9}, task.LowerFiles)
	assert.False(t, task.BottomLevel)

	st.WithTables([]state.Table{testutil.NewSizedTable(30, "a", "z", 6*mb)}, nil)
	next, removed, err := s.Apply(st, task, []uint64{30}, false)
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 6}, next.Levels[1].Files)
	assert.Equal(t, []uint64{30}, next.Levels[2].Files)
	assert.Equal(t, []uint64{5, 8, 9}, removed)
	assert.Same(t, &st.Levels[3].Files[0], &next.Levels[3].Files[0])
}

func TestNothingToDo(t *testing.T) {
	s := newStrategy()
	st := state.New(memtable.Create(100), 4)
	st.L0 = []uint64{1}
	st.WithTables([]state.Table{testutil.NewSizedTable(1, "a", "b", 10)}, nil)
	assert.Nil(t, s.Select(st))
}

func TestApplyInRecoveryDoesNotSort(t *testing.T) {
	s := newStrategy()
	st := state.New(memtable.Create(100), 4)
	st.L0 = []uint64{3, 2}
	task := &compaction.Task{Kind: compaction.KindLeveled, UpperFiles: []uint64{3, 2}, LowerLevel: 4}

	next, _, err := s.Apply(st, task, []uint64{9, 8}, true)
	require.NoError(t, err)
	assert.Equal(t, []uint64{9, 8}, next.Levels[3].Files)

	next.WithTables([]state.Table{
		testutil.NewSizedTable(8, "a", "b", 1),
		testutil.NewSizedTable(9, "c", "d", 1),
	}, nil)
	SortLevels(next)
	assert.Equal(t, []uint64{8, 9}, next.Levels[3].Files)
}

func TestApplyInvalidated(t *testing.T) {
	s := newStrategy()
	st := state.New(memtable.Create(100), 4)
	st.L0 = []uint64{3}
	task := &compaction.Task{Kind: compaction.KindLeveled, UpperFiles: []uint64{3, 2}, LowerLevel: 4}
	_, _, err := s.Apply(st, task, []uint64{9}, true)
	assert.ErrorIs(t, err, errors.ErrTaskInvalidated)

	task = &compaction.Task{Kind: compaction.KindLeveled, UpperFiles: []uint64{3}, LowerLevel: 9}
	_, _, err = s.Apply(st, task, []uint64{9}, true)
	assert.ErrorIs(t, err, errors.ErrTaskInvalidated)
}

func TestL0StopsAtNonEmptyLevelAboveBase(t *testing.T) {
	s := newStrategy()
	st := state.New(memtable.Create(100), 4)
	st.L0 = []uint64{11, 10}
	st.Levels[2].Files = []uint64{5}
	st.Levels[3].Files = []uint64{1}
	st.WithTables([]state.Table{
		testutil.NewFakeTable(11, "a", ""),
		testutil.NewFakeTable(10, "b", "new"),
		testutil.NewFakeTable(5, "a", "old"),
		testutil.NewFakeTable(1, "z", "v"),
	}, nil)

	// The bottom level is below the base size, so the base level is L4.
	_, base := s.TargetSizes(st)
	require.Equal(t, 4, base)

	task := s.Select(st)
	require.NotNil(t, task)
	assert.Equal(t, 0, task.UpperLevel)
	assert.Equal(t, 3, task.LowerLevel)
	assert.Equal(t, []uint64{5}, task.LowerFiles)
	assert.False(t, task.BottomLevel, "L4 still holds data below the target")

	// The merge keeps the tombstone, which hides nothing older in L4.
	st.WithTables([]state.Table{testutil.NewFakeTable(20, "a", "", "b", "new")}, nil)
	next, removed, err := s.Apply(st, task, []uint64{20}, false)
	require.NoError(t, err)
	assert.Equal(t, []uint64{11, 10, 5}, removed)
	assert.Equal(t, []uint64{20}, next.Levels[2].Files)

	_, found, err := next.Get([]byte("a"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBaseLevelMovesWhenBottomShrinks(t *testing.T) {
	s := newStrategy()
	st := state.New(memtable.Create(100), 4)
	st.Levels[1].Files = []uint64{5}
	st.Levels[3].Files = []uint64{1}
	st.WithTables([]state.Table{
		testutil.NewSizedTable(5, "a", "m", mb/4),
		testutil.NewSizedTable(1, "a", "z", 50*mb),
	}, nil)
	_, base := s.TargetSizes(st)
	assert.Equal(t, 2, base)

	// Filters and deletes shrink the bottom level below the base size.
	st.Levels[3].Files = []uint64{2}
	st.L0 = []uint64{11, 10}
	st.WithTables([]state.Table{
		testutil.NewSizedTable(2, "a", "z", mb/2),
		testutil.NewSizedTable(10, "b", "c", 100),
		testutil.NewSizedTable(11, "c", "d", 100),
	}, []uint64{1})
	targets, base := s.TargetSizes(st)
	assert.Equal(t, []int64{0, 0, 0, mb}, targets)
	assert.Equal(t, 4, base)

	task := s.Select(st)
	require.NotNil(t, task)
	assert.Equal(t, 2, task.LowerLevel)
	assert.Equal(t, []uint64{5}, task.LowerFiles)
	assert.False(t, task.BottomLevel)

	// Without an L0 task, the stranded level drains into the next one.
	st.L0 = nil
	task = s.Select(st)
	require.NotNil(t, task)
	assert.Equal(t, 2, task.UpperLevel)
	assert.Equal(t, []uint64{5}, task.UpperFiles)
	assert.Equal(t, 3, task.LowerLevel)
}
