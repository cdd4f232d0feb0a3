package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lsmtest "github.com/vladgaus/minilsm/internal/testutil"
	"github.com/vladgaus/minilsm/pkg/memtable"
	"github.com/vladgaus/minilsm/pkg/state"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Operations.WithLabelValues("put").Inc()
	m.BackgroundErrors.WithLabelValues("flush").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["minilsm_operations_total"])
	assert.True(t, names["minilsm_background_errors_total"])
	assert.True(t, names["minilsm_flush_duration_seconds"])

	// A second engine on the same registry conflicts.
	assert.Panics(t, func() { New(reg) })
}

func TestUnregistered(t *testing.T) {
	m := New(nil)
	m.Freezes.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Freezes))
}

func TestObserveState(t *testing.T) {
	m := New(nil)

	mem := memtable.Create(10)
	require.NoError(t, mem.Put([]byte("key"), []byte("value")))
	s := state.New(mem, 2)
	s.Frozen = []*memtable.MemTable{memtable.Create(9)}
	s.L0 = []uint64{5, 4}
	s.Levels[1].Files = []uint64{1, 2}
	s.WithTables([]state.Table{
		lsmtest.NewSizedTable(1, "a", "b", 100),
		lsmtest.NewSizedTable(2, "c", "d", 50),
	}, nil)

	m.ObserveState(s)
	assert.Equal(t, float64(8), testutil.ToFloat64(m.ActiveMemtableBytes))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FrozenMemtables))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.L0Tables))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.LevelTables.WithLabelValues("1")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.LevelTables.WithLabelValues("2")))
	assert.Equal(t, float64(150), testutil.ToFloat64(m.LevelBytes.WithLabelValues("2")))
}

func TestObserveCompaction(t *testing.T) {
	m := New(nil)
	m.ObserveCompaction("leveled", time.Millisecond, 300, 200, 4)
	m.ObserveCompaction("leveled", time.Millisecond, 100, 100, 0)
	m.ObserveFlush(time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Compactions.WithLabelValues("leveled")))
	assert.Equal(t, float64(400), testutil.ToFloat64(m.CompactionEntriesRead))
	assert.Equal(t, float64(300), testutil.ToFloat64(m.CompactionEntriesWrite))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.CompactionEntriesDrop))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Flushes))
}
