package memtable

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSkipListBasicOperations(t *testing.T) {
	sl := NewSkipList()
	assert.True(t, sl.IsEmpty())
	assert.Equal(t, int64(0), sl.Len())

	for i := 1; i <= 3; i++ {
		sl.Put([]byte(fmt.Sprintf("key%d", i)), []byte(fmt.Sprintf("value%d", i)))
	}
	assert.False(t, sl.IsEmpty())
	assert.Equal(t, int64(3), sl.Len())

	v, ok := sl.Get([]byte("key2"))
	require.True(t, ok)
	assert.Equal(t, []byte("value2"), v)

	_, ok = sl.Get([]byte("key4"))
	assert.False(t, ok)
}

func TestSkipListOverwrite(t *testing.T) {
	sl := NewSkipList()
	sl.Put([]byte("key"), []byte("v1"))
	sl.Put([]byte("key"), []byte("v2"))
	sl.Put([]byte("key"), []byte("v3"))

	v, ok := sl.Get([]byte("key"))
	require.True(t, ok)
	assert.Equal(t, []byte("v3"), v)
	assert.Equal(t, int64(1), sl.Len())
}

func TestSkipListTombstone(t *testing.T) {
	sl := NewSkipList()
	sl.Put([]byte("key"), []byte("value"))
	sl.Put([]byte("key"), nil)

	// A tombstone is a present key with an empty value.
	v, ok := sl.Get([]byte("key"))
	assert.True(t, ok)
	assert.Empty(t, v)
	assert.Equal(t, int64(1), sl.Len())
}

func TestSkipListIterator(t *testing.T) {
	sl := NewSkipList()
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		sl.Put([]byte(k), []byte("v"+k))
	}

	it := sl.NewIterator()
	defer it.Close()

	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
		assert.Equal(t, "v"+string(it.Key()), string(it.Value()))
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)
	assert.NoError(t, it.Error())

	// Next past the end stays invalid.
	it.Next()
	assert.False(t, it.Valid())
}

func TestSkipListIteratorSeek(t *testing.T) {
	sl := NewSkipList()
	for i := 0; i < 10; i += 2 {
		sl.Put([]byte(fmt.Sprintf("key%d", i)), []byte("v"))
	}

	tests := []struct {
		target string
		want   string
	}{
		{"key0", "key0"},
		{"key3", "key4"},
		{"a", "key0"},
		{"key8", "key8"},
	}
	it := sl.NewIterator()
	for _, tt := range tests {
		it.Seek([]byte(tt.target))
		require.True(t, it.Valid(), tt.target)
		assert.Equal(t, tt.want, string(it.Key()))
	}

	it.Seek([]byte("key9"))
	assert.False(t, it.Valid())

	it.SeekToFirst()
	require.True(t, it.Valid())
	assert.Equal(t, "key0", string(it.Key()))
}

func TestSkipListIteratorSeesOwnValue(t *testing.T) {
	sl := NewSkipList()
	sl.Put([]byte("a"), []byte("1"))
	sl.Put([]byte("b"), []byte("1"))

	it := sl.NewIterator()
	require.True(t, it.Valid())

	// The value under the iterator does not change, the next key's does.
	sl.Put([]byte("a"), []byte("2"))
	sl.Put([]byte("b"), []byte("2"))
	assert.Equal(t, []byte("1"), it.Value())
	it.Next()
	assert.Equal(t, []byte("2"), it.Value())
}

func TestSkipListConcurrentReadWrite(t *testing.T) {
	sl := NewSkipList()
	const writers, perWriter = 4, 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := []byte(fmt.Sprintf("w%d-%04d", w, i))
				sl.Put(key, key)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				sl.Get([]byte(fmt.Sprintf("w0-%04d", i)))
			}
			it := sl.NewIterator()
			var prev []byte
			for ; it.Valid(); it.Next() {
				assert.True(t, prev == nil || bytes.Compare(prev, it.Key()) < 0)
				prev = it.Key()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(writers*perWriter), sl.Len())
	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			key := []byte(fmt.Sprintf("w%d-%04d", w, i))
			v, ok := sl.Get(key)
			require.True(t, ok)
			assert.Equal(t, key, v)
		}
	}
}

func TestSkipListSortedOrder(t *testing.T) {
	sl := NewSkipList()
	rng := rand.New(rand.NewSource(1))
	want := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		k := fmt.Sprintf("%08d", rng.Intn(5000))
		sl.Put([]byte(k), []byte(k))
		want[k] = struct{}{}
	}

	sorted := make([]string, 0, len(want))
	for k := range want {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var got []string
	for it := sl.NewIterator(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	assert.Equal(t, sorted, got)
	assert.Equal(t, int64(len(want)), sl.Len())
}

func BenchmarkSkipListPut(b *testing.B) {
	sl := NewSkipList()
	value := []byte("value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sl.Put([]byte(fmt.Sprintf("key%010d", i)), value)
	}
}

func BenchmarkSkipListGet(b *testing.B) {
	sl := NewSkipList()
	for i := 0; i < 10000; i++ {
		sl.Put([]byte(fmt.Sprintf("key%010d", i)), []byte("value"))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sl.Get([]byte(fmt.Sprintf("key%010d", i%10000)))
	}
}

func BenchmarkSkipListGetParallel(b *testing.B) {
	sl := NewSkipList()
	for i := 0; i < 10000; i++ {
		sl.Put([]byte(fmt.Sprintf("key%010d", i)), []byte("value"))
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			sl.Get([]byte(fmt.Sprintf("key%010d", i%10000)))
			i++
		}
	})
}
