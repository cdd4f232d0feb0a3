package sstable

import (
	"bytes"
	"os"
	"runtime"
	"sort"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"github.com/willf/bloom"

	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/iterator"
)

// Reader provides read access to a table file.
//
// The file is memory mapped. Index and filter are decoded onto the heap
// when the reader is opened; data blocks are copied out of the mapping as
// they are read, so keys and values handed out stay valid after Close.
//
// A Reader that is dropped without Close is unmapped by a finalizer, which
// lets table files stay readable for as long as some storage state still
// references them.
//
// Thread Safety: Reader is safe for concurrent use.
type Reader struct {
	path string
	id   uint64
	data mmap.MMap
	size int64

	index  []*IndexEntry
	filter *bloom.BloomFilter
	cache  *BlockCache

	closed atomic.Bool
}

// Open opens the table at path. cache may be nil.
func Open(path string, id uint64, cache *BlockCache) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.IOError{Kind: errors.KindNotFound, Op: "open", Path: path, Err: err}
		}
		return nil, errors.NewIOError("open", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, errors.NewIOError("stat", path, err)
	}
	if info.Size() < FooterSize {
		return nil, errors.NewCorruptionError(path, -1, "file too small")
	}

	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.NewIOError("mmap", path, err)
	}

	r := &Reader{
		path:  path,
		id:    id,
		data:  data,
		size:  info.Size(),
		cache: cache,
	}

	if err := r.load(); err != nil {
		_ = data.Unmap()
		return nil, err
	}

	runtime.SetFinalizer(r, (*Reader).Close)
	return r, nil
}

// load decodes footer, index and filter.
func (r *Reader) load() error {
	footer, err := DecodeFooter(r.data[r.size-FooterSize:])
	if err != nil {
		return errors.NewCorruptionError(r.path, r.size-FooterSize, err.Error())
	}

	indexBlock, err := r.slice(footer.IndexHandle)
	if err != nil {
		return err
	}
	payload, ok := verifyChecksum(indexBlock)
	if !ok {
		return errors.NewCorruptionError(r.path, int64(footer.IndexHandle.Offset), "index checksum mismatch")
	}
	for len(payload) > 0 {
		entry, n, err := DecodeIndexEntry(payload)
		if err != nil {
			return errors.NewCorruptionError(r.path, int64(footer.IndexHandle.Offset), "bad index entry")
		}
		r.index = append(r.index, entry)
		payload = payload[n:]
	}
	if len(r.index) == 0 {
		return errors.NewCorruptionError(r.path, -1, "empty index")
	}

	filterBlock, err := r.slice(footer.FilterHandle)
	if err != nil {
		return err
	}
	payload, ok = verifyChecksum(filterBlock)
	if !ok {
		return errors.NewCorruptionError(r.path, int64(footer.FilterHandle.Offset), "filter checksum mismatch")
	}
	r.filter = &bloom.BloomFilter{}
	if _, err := r.filter.ReadFrom(bytes.NewReader(payload)); err != nil {
		return errors.NewCorruptionError(r.path, int64(footer.FilterHandle.Offset), "bad bloom filter")
	}

	return nil
}

func (r *Reader) slice(h BlockHandle) ([]byte, error) {
	end := h.Offset + h.Size
	if end < h.Offset || end > uint64(r.size) {
		return nil, errors.NewCorruptionError(r.path, int64(h.Offset), "block handle out of range")
	}
	return r.data[h.Offset:end], nil
}

// readBlock returns the decoded idx-th data block, consulting the cache.
func (r *Reader) readBlock(idx int) (*block, error) {
	if b, ok := r.cache.get(r.id, idx); ok {
		return b, nil
	}
	if r.closed.Load() {
		return nil, ErrClosed
	}

	raw, err := r.slice(r.index[idx].BlockHandle)
	if err != nil {
		return nil, err
	}
	b, err := decodeBlock(raw)
	if err != nil {
		return nil, errors.NewCorruptionError(r.path, int64(r.index[idx].BlockHandle.Offset), err.Error())
	}
	r.cache.add(r.id, idx, b)
	return b, nil
}

// findBlock returns the first block whose last key is >= key.
func (r *Reader) findBlock(key []byte) int {
	return sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].LastKey, key) >= 0
	})
}

// MayContain reports whether key can be in the table.
func (r *Reader) MayContain(key []byte) bool {
	if bytes.Compare(key, r.FirstKey()) < 0 || bytes.Compare(key, r.LastKey()) > 0 {
		return false
	}
	return r.filter.Test(key)
}

// Get looks key up. A tombstone is reported as found with an empty value.
func (r *Reader) Get(key []byte) ([]byte, bool, error) {
	if !r.MayContain(key) {
		return nil, false, nil
	}

	idx := r.findBlock(key)
	if idx >= len(r.index) || bytes.Compare(r.index[idx].FirstKey, key) > 0 {
		return nil, false, nil
	}

	b, err := r.readBlock(idx)
	if err != nil {
		return nil, false, err
	}

	i := b.search(key)
	if i >= b.len() {
		return nil, false, nil
	}
	k, v, err := b.entry(i)
	if err != nil {
		return nil, false, err
	}
	if !bytes.Equal(k, key) {
		return nil, false, nil
	}
	return v, true, nil
}

// NewIterator returns an iterator over [lower, upper) positioned at its
// first entry. Nil bounds are open. Tombstones are included.
func (r *Reader) NewIterator(lower, upper []byte) iterator.Iterator {
	it := &Iterator{r: r}
	return iterator.NewBoundedIterator(it, lower, upper)
}

// Close unmaps the file. Closing twice is a no-op.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(r, nil)
	if err := r.data.Unmap(); err != nil {
		return errors.NewIOError("munmap", r.path, err)
	}
	return nil
}

// ID returns the table id.
func (r *Reader) ID() uint64 {
	return r.id
}

// Path returns the table file path.
func (r *Reader) Path() string {
	return r.path
}

// Size returns the file size in bytes.
func (r *Reader) Size() int64 {
	return r.size
}

// FirstKey returns the smallest key in the table.
func (r *Reader) FirstKey() []byte {
	return r.index[0].FirstKey
}

// LastKey returns the largest key in the table.
func (r *Reader) LastKey() []byte {
	return r.index[len(r.index)-1].LastKey
}

// BlockCount returns the number of data blocks.
func (r *Reader) BlockCount() int {
	return len(r.index)
}

// Iterator walks a table in key order.
type Iterator struct {
	r        *Reader
	blockIdx int
	br       *BlockReader
	err      error
}

// Valid returns true if positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.err == nil && it.br != nil && it.br.Valid()
}

// Key returns the current key.
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.br.Key()
}

// Value returns the current value.
func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.br.Value()
}

// SeekToFirst positions at the first entry.
func (it *Iterator) SeekToFirst() {
	it.err = nil
	it.loadBlock(0)
}

// Seek positions at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) {
	it.err = nil
	it.loadBlock(it.r.findBlock(target))
	if it.br != nil {
		it.br.Seek(target)
		it.skipExhausted()
	}
}

// Next advances to the next entry.
func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	it.br.Next()
	it.skipExhausted()
}

// Error returns any error encountered.
func (it *Iterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.br != nil {
		return it.br.err
	}
	return nil
}

// Close releases the iterator. The table stays open.
func (it *Iterator) Close() error {
	it.br = nil
	return nil
}

func (it *Iterator) loadBlock(idx int) {
	it.blockIdx = idx
	it.br = nil
	if idx >= len(it.r.index) {
		return
	}
	b, err := it.r.readBlock(idx)
	if err != nil {
		it.err = err
		return
	}
	it.br = newBlockReader(b)
}

func (it *Iterator) skipExhausted() {
	for it.err == nil && it.br != nil && !it.br.Valid() && it.br.err == nil {
		it.loadBlock(it.blockIdx + 1)
	}
}
