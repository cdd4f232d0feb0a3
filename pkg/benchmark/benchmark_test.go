package benchmark

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladgaus/minilsm/internal/testutil"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/lsm"
)

func openEngine(t *testing.T) *lsm.Engine {
	t.Helper()
	opts := lsm.DefaultOptions()
	opts.TargetSSTSize = 16 << 10
	logger, _ := testutil.NullLogger()
	opts.Logger = logger
	e, err := lsm.Open(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestStats(t *testing.T) {
	stats := NewStats()
	stats.Start()
	for i := 0; i < 100; i++ {
		stats.Record(time.Duration(i+1)*time.Microsecond, 10, 20, nil)
	}
	stats.Record(time.Second, 0, 0, errors.ErrClosed)
	stats.RecordMiss()
	stats.Stop()

	r := stats.Compute()
	assert.Equal(t, uint64(100), r.Ops)
	assert.Equal(t, uint64(1), r.Errors)
	assert.Equal(t, uint64(1), r.Misses)
	assert.Equal(t, uint64(1000), r.BytesRead)
	assert.Equal(t, uint64(2000), r.BytesWritten)

	// Failed operations carry no latency.
	assert.Equal(t, time.Microsecond, r.Min)
	assert.Equal(t, 100*time.Microsecond, r.Max)
	assert.Equal(t, 50*time.Microsecond, r.P50)
	assert.Equal(t, 99*time.Microsecond, r.P99)
	assert.Equal(t, 100*time.Microsecond, r.P999)
}

func TestFormatKey(t *testing.T) {
	assert.Equal(t, []byte("key0000000042"), FormatKey(42, 13))
	assert.Equal(t, []byte("key7"), FormatKey(7, 4))
	assert.Len(t, FormatKey(123456789, 8), 8)

	// Keys sort numerically.
	assert.Equal(t, -1, bytes.Compare(FormatKey(9, 16), FormatKey(10, 16)))
}

func TestParseWorkload(t *testing.T) {
	for _, w := range Workloads {
		got, err := ParseWorkload(string(w))
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}
	_, err := ParseWorkload("tcp-set")
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestRunFillThenRead(t *testing.T) {
	e := openEngine(t)
	cfg := Config{
		Workload:  WorkloadFillSeq,
		NumOps:    2000,
		KeySize:   16,
		ValueSize: 32,
		Workers:   4,
	}

	res, err := Run(context.Background(), e, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), res.Ops)
	assert.Zero(t, res.Errors)
	assert.Equal(t, WorkloadFillSeq, res.Workload)

	v, err := e.Get(FormatKey(1999, 16))
	require.NoError(t, err)
	assert.Equal(t, Value(32), v)

	cfg.Workload = WorkloadReadRandom
	res, err = Run(context.Background(), e, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), res.Ops)
	assert.Zero(t, res.Misses, "every key in the space was filled")

	cfg.Workload = WorkloadDelete
	_, err = Run(context.Background(), e, cfg, nil)
	require.NoError(t, err)
	v, err = e.Get(FormatKey(5, 16))
	require.NoError(t, err)
	assert.Nil(t, v)

	var out bytes.Buffer
	res.Print(&out)
	assert.Contains(t, out.String(), "readrandom")
}

func TestRunCanceled(t *testing.T) {
	e := openEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultConfig()
	cfg.NumOps = 10000
	_, err := Run(ctx, e, cfg, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunClosedEngine(t *testing.T) {
	e := openEngine(t)
	require.NoError(t, e.Close())

	cfg := DefaultConfig()
	cfg.NumOps = 100
	res, err := Run(context.Background(), e, cfg, nil)
	assert.ErrorIs(t, err, errors.ErrClosed)
	assert.Zero(t, res.Ops)
}

func TestInvalidConfig(t *testing.T) {
	e := openEngine(t)
	cfg := DefaultConfig()
	cfg.Workers = 0
	_, err := Run(context.Background(), e, cfg, nil)
	assert.True(t, errors.IsInvalidArgument(err))
}
