package lsm

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladgaus/minilsm/internal/testutil"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/iterator"
)

// testOptions keeps workers idle unless woken by a threshold.
func testOptions() Options {
	opts := DefaultOptions()
	opts.TargetSSTSize = 1024
	opts.BlockSize = 256
	opts.BlockCacheSize = 64
	opts.FlushInterval = time.Hour
	opts.CompactionInterval = time.Hour
	logger, _ := testutil.NullLogger()
	opts.Logger = logger
	return opts
}

func openEngine(t *testing.T, dir string, opts Options) *Engine {
	t.Helper()
	e, err := Open(dir, opts)
	require.NoError(t, err)
	return e
}

func mustGet(t *testing.T, e *Engine, key string) []byte {
	t.Helper()
	v, err := e.Get([]byte(key))
	require.NoError(t, err)
	return v
}

func TestOpenClose(t *testing.T) {
	e := openEngine(t, t.TempDir(), testOptions())
	require.NoError(t, e.Close())
	// Second close is a no-op.
	require.NoError(t, e.Close())
}

func TestPutGetDelete(t *testing.T) {
	e := openEngine(t, t.TempDir(), testOptions())
	defer e.Close()

	assert.Nil(t, mustGet(t, e, "missing"))

	require.NoError(t, e.Put([]byte("hello"), []byte("world")))
	assert.Equal(t, []byte("world"), mustGet(t, e, "hello"))

	require.NoError(t, e.Put([]byte("hello"), []byte("there")))
	assert.Equal(t, []byte("there"), mustGet(t, e, "hello"))

	require.NoError(t, e.Delete([]byte("hello")))
	assert.Nil(t, mustGet(t, e, "hello"))

	// Deleting an absent key is fine.
	require.NoError(t, e.Delete([]byte("never")))
}

func TestInvalidArguments(t *testing.T) {
	e := openEngine(t, t.TempDir(), testOptions())
	defer e.Close()

	tests := []struct {
		name string
		err  error
	}{
		{"empty key", e.Put(nil, []byte("v"))},
		{"empty value", e.Put([]byte("k"), nil)},
		{"empty value slice", e.Put([]byte("k"), []byte{})},
		{"delete empty key", e.Delete(nil)},
		{"get empty key", func() error { _, err := e.Get(nil); return err }()},
		{"batch empty value", e.WriteBatch([]WriteOp{PutOp([]byte("a"), []byte("1")), PutOp([]byte("b"), nil)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.IsInvalidArgument(tt.err), "got %v", tt.err)
		})
	}

	// A rejected batch applies nothing.
	assert.Nil(t, mustGet(t, e, "a"))
}

func TestClosedEngine(t *testing.T) {
	e := openEngine(t, t.TempDir(), testOptions())
	require.NoError(t, e.Close())

	assert.ErrorIs(t, e.Put([]byte("k"), []byte("v")), errors.ErrClosed)
	assert.ErrorIs(t, e.Delete([]byte("k")), errors.ErrClosed)
	_, err := e.Get([]byte("k"))
	assert.ErrorIs(t, err, errors.ErrClosed)
	_, err = e.Scan(nil, nil)
	assert.ErrorIs(t, err, errors.ErrClosed)
	assert.ErrorIs(t, e.ForceFreeze(), errors.ErrClosed)
	assert.ErrorIs(t, e.Sync(), errors.ErrClosed)
}

func TestWriteBatch(t *testing.T) {
	e := openEngine(t, t.TempDir(), testOptions())
	defer e.Close()

	require.NoError(t, e.Put([]byte("c"), []byte("old")))
	require.NoError(t, e.WriteBatch([]WriteOp{
		PutOp([]byte("a"), []byte("1")),
		PutOp([]byte("b"), []byte("2")),
		DeleteOp([]byte("c")),
		PutOp([]byte("a"), []byte("3")),
	}))

	assert.Equal(t, []byte("3"), mustGet(t, e, "a"))
	assert.Equal(t, []byte("2"), mustGet(t, e, "b"))
	assert.Nil(t, mustGet(t, e, "c"))
	require.NoError(t, e.WriteBatch(nil))
}

func TestScan(t *testing.T) {
	e := openEngine(t, t.TempDir(), testOptions())
	defer e.Close()

	for i := 0; i < 100; i++ {
		require.NoError(t, e.Put(testutil.SequentialKey("key", i), testutil.SequentialValue(i, 16)))
		if i == 40 {
			require.NoError(t, e.Flush())
		}
	}
	for i := 0; i < 100; i += 10 {
		require.NoError(t, e.Delete(testutil.SequentialKey("key", i)))
	}

	it, err := e.Scan(testutil.SequentialKey("key", 5), testutil.SequentialKey("key", 25))
	require.NoError(t, err)
	kvs, err := iterator.CollectAll(it)
	require.NoError(t, err)
	require.NoError(t, it.Close())

	var want [][]byte
	for i := 5; i < 25; i++ {
		if i%10 != 0 {
			want = append(want, testutil.SequentialKey("key", i))
		}
	}
	require.Len(t, kvs, len(want))
	for i, kv := range kvs {
		assert.Equal(t, want[i], kv.Key)
	}
}

func TestRecencyAcrossBoundaries(t *testing.T) {
	opts := testOptions()
	opts.NumMemtableLimit = 10
	e := openEngine(t, t.TempDir(), opts)
	defer e.Close()

	key := []byte("key")

	// L0 table holds v1.
	require.NoError(t, e.Put(key, []byte("v1")))
	require.NoError(t, e.Flush())
	assert.Equal(t, []byte("v1"), mustGet(t, e, "key"))

	// A frozen memtable holds v2 over the table.
	require.NoError(t, e.Put(key, []byte("v2")))
	require.NoError(t, e.ForceFreeze())
	assert.Equal(t, []byte("v2"), mustGet(t, e, "key"))

	// The active memtable's tombstone hides both.
	require.NoError(t, e.Delete(key))
	assert.Nil(t, mustGet(t, e, "key"))

	// Still hidden once everything is in tables.
	require.NoError(t, e.Flush())
	s := e.snapshot()
	assert.Empty(t, s.Frozen)
	assert.Len(t, s.L0, 3)
	assert.Nil(t, mustGet(t, e, "key"))
}

func TestFreezeOnce(t *testing.T) {
	opts := testOptions()
	opts.TargetSSTSize = 100
	opts.NumMemtableLimit = 10
	e := openEngine(t, t.TempDir(), opts)
	defer e.Close()

	// Fill the active memtable past the threshold without freezing.
	mem := e.snapshot().Memtable
	for i := 0; i < 10; i++ {
		require.NoError(t, mem.Put(testutil.SequentialKey("k", i), []byte("0123456789")))
	}
	size := mem.ApproximateSize()
	require.GreaterOrEqual(t, size, opts.TargetSSTSize)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.tryFreeze(size))
		}()
	}
	wg.Wait()

	s := e.snapshot()
	require.Len(t, s.Frozen, 1)
	assert.Same(t, mem, s.Frozen[0])
	assert.NotSame(t, mem, s.Memtable)
	assert.True(t, mem.IsFrozen())
}

func TestConcurrentWriters(t *testing.T) {
	opts := testOptions()
	opts.NumMemtableLimit = 1
	opts.FlushInterval = 5 * time.Millisecond
	e := openEngine(t, t.TempDir(), opts)
	defer e.Close()

	const writers, perWriter = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := []byte(fmt.Sprintf("w%d-%05d", w, i))
				if !assert.NoError(t, e.Put(key, key)) {
					return
				}
			}
		}(w)
	}

	// Readers run against snapshots while writers freeze and flush.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_, err := e.Get([]byte("w0-00000"))
			assert.NoError(t, err)
		}
	}()

	wg.Wait()
	<-done

	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			key := fmt.Sprintf("w%d-%05d", w, i)
			assert.Equal(t, []byte(key), mustGet(t, e, key))
		}
	}
	assert.Greater(t, e.Stats().TableCount()+e.Stats().FrozenMemtables, 0)
}

func TestStats(t *testing.T) {
	opts := testOptions()
	opts.Compaction.Kind = "simple"
	e := openEngine(t, t.TempDir(), opts)
	defer e.Close()

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	st := e.Stats()
	assert.Equal(t, "simple", string(st.Strategy))
	assert.Equal(t, int64(1), st.ActiveMemtableLen)
	assert.Equal(t, int64(2), st.ActiveMemtableSz)
	// L0 plus MaxLevels empty levels.
	assert.Len(t, st.Levels, 1+opts.Compaction.Simple.MaxLevels)
	assert.Equal(t, 0, st.TableCount())
	assert.Equal(t, "L0 [] L1 [] L2 [] L3 [] L4 []", st.Layout)
}
