package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetUint32(t *testing.T) {
	buf := make([]byte, 4)
	for _, v := range []uint32{0, 1, 255, 256, 65535, 1 << 24, 1<<32 - 1} {
		PutUint32(buf, v)
		assert.Equal(t, v, GetUint32(buf))
	}
}

func TestPutGetUint64(t *testing.T) {
	buf := make([]byte, 8)
	for _, v := range []uint64{0, 1, 1 << 32, 1 << 48, 1<<64 - 1} {
		PutUint64(buf, v)
		assert.Equal(t, v, GetUint64(buf))
	}
}

func TestVarint(t *testing.T) {
	buf := make([]byte, 10)
	for _, v := range []uint64{0, 1, 127, 128, 16383, 16384, 1 << 21, 1 << 35, 1 << 63} {
		n := PutVarint(buf, v)
		got, m := GetVarint(buf)
		assert.Equal(t, n, m)
		assert.Equal(t, v, got)
		assert.Equal(t, n, VarintLen(v), "VarintLen(%d)", v)
	}
}

func TestKeyValue(t *testing.T) {
	t.Run("sequence of pairs", func(t *testing.T) {
		var buf []byte
		buf = AppendKeyValue(buf, []byte("a"), []byte("1"))
		buf = AppendKeyValue(buf, []byte("bb"), nil)
		buf = AppendKeyValue(buf, []byte("ccc"), []byte("333"))

		want := [][2]string{{"a", "1"}, {"bb", ""}, {"ccc", "333"}}
		for _, w := range want {
			k, v, n, err := DecodeKeyValue(buf)
			require.NoError(t, err)
			assert.Equal(t, w[0], string(k))
			assert.Equal(t, w[1], string(v))
			assert.Equal(t, KeyValueSize(k, v), n)
			buf = buf[n:]
		}
		assert.Empty(t, buf)
	})

	t.Run("short input", func(t *testing.T) {
		buf := AppendKeyValue(nil, []byte("key"), []byte("value"))
		for i := 0; i < len(buf); i++ {
			_, _, _, err := DecodeKeyValue(buf[:i])
			assert.ErrorIs(t, err, ErrInsufficientData, "prefix of %d bytes", i)
		}
	})
}

func TestBytes(t *testing.T) {
	buf := AppendBytes(nil, []byte("hello"))
	b, n, err := DecodeBytes(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	assert.Equal(t, len(buf), n)

	_, _, err = DecodeBytes(buf[:3])
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCloneBytes(t *testing.T) {
	assert.Nil(t, CloneBytes(nil))
	src := []byte("abc")
	dst := CloneBytes(src)
	src[0] = 'z'
	assert.Equal(t, "abc", string(dst))
}

func BenchmarkAppendKeyValue(b *testing.B) {
	key := []byte("benchmark-key-0001")
	value := make([]byte, 100)
	buf := make([]byte, 0, 256)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf = AppendKeyValue(buf[:0], key, value)
	}
}
