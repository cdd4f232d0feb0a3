package sstable

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/vladgaus/minilsm/internal/encoding"
)

// BlockBuilder builds a data block.
type BlockBuilder struct {
	buf       []byte
	offsets   []uint32
	blockSize int
	firstKey  []byte
	lastKey   []byte
	finished  bool
}

// NewBlockBuilder creates a new block builder targeting blockSize bytes.
func NewBlockBuilder(blockSize int) *BlockBuilder {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &BlockBuilder{
		buf:       make([]byte, 0, blockSize),
		blockSize: blockSize,
	}
}

// Add adds an entry to the block.
// Returns true if entry was added, false if block is full. An empty block
// always accepts one entry, however large.
func (b *BlockBuilder) Add(key, value []byte) bool {
	if b.finished {
		return false
	}

	needed := encoding.KeyValueSize(key, value) + 4
	if len(b.offsets) > 0 && b.EstimatedSize()+needed > b.blockSize {
		return false
	}

	if len(b.offsets) == 0 {
		b.firstKey = append(b.firstKey[:0], key...)
	}
	b.offsets = append(b.offsets, uint32(len(b.buf)))
	b.buf = encoding.AppendKeyValue(b.buf, key, value)
	b.lastKey = append(b.lastKey[:0], key...)

	return true
}

// Finish finalizes the block and returns the complete data.
func (b *BlockBuilder) Finish() []byte {
	if b.finished {
		return b.buf
	}
	b.finished = true

	for _, off := range b.offsets {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, off)
	}
	b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(len(b.offsets)))
	b.buf = appendChecksum(b.buf)

	return b.buf
}

// Reset resets the builder for reuse.
func (b *BlockBuilder) Reset() {
	b.buf = b.buf[:0]
	b.offsets = b.offsets[:0]
	b.firstKey = b.firstKey[:0]
	b.lastKey = b.lastKey[:0]
	b.finished = false
}

// EstimatedSize returns the size Finish would produce.
func (b *BlockBuilder) EstimatedSize() int {
	return len(b.buf) + len(b.offsets)*4 + BlockTrailerSize
}

// EntryCount returns the number of entries added.
func (b *BlockBuilder) EntryCount() int {
	return len(b.offsets)
}

// FirstKey returns the first key added.
func (b *BlockBuilder) FirstKey() []byte {
	return b.firstKey
}

// LastKey returns the last key added.
func (b *BlockBuilder) LastKey() []byte {
	return b.lastKey
}

// IsEmpty returns true if no entries have been added.
func (b *BlockBuilder) IsEmpty() bool {
	return len(b.offsets) == 0
}

// block is a decoded data block. data is owned by the block.
type block struct {
	data    []byte
	offsets []uint32
}

// decodeBlock verifies and parses a raw block, copying it out of raw.
func decodeBlock(raw []byte) (*block, error) {
	payload, ok := verifyChecksum(raw)
	if !ok || len(payload) < 4 {
		return nil, ErrInvalidBlock
	}

	n := int(binary.LittleEndian.Uint32(payload[len(payload)-4:]))
	offsetsStart := len(payload) - 4 - n*4
	if n == 0 || offsetsStart < 0 {
		return nil, ErrInvalidBlock
	}

	data := encoding.CloneBytes(payload[:offsetsStart])
	offsets := make([]uint32, n)
	for i := range offsets {
		offsets[i] = binary.LittleEndian.Uint32(payload[offsetsStart+i*4:])
		if int(offsets[i]) >= len(data) {
			return nil, ErrInvalidBlock
		}
	}

	return &block{data: data, offsets: offsets}, nil
}

func (b *block) len() int {
	return len(b.offsets)
}

// entry returns the i-th key and value.
func (b *block) entry(i int) ([]byte, []byte, error) {
	key, value, _, err := encoding.DecodeKeyValue(b.data[b.offsets[i]:])
	if err != nil {
		return nil, nil, ErrInvalidBlock
	}
	return key, value, nil
}

// search returns the index of the first entry with key >= target.
func (b *block) search(target []byte) int {
	return sort.Search(b.len(), func(i int) bool {
		key, _, err := b.entry(i)
		return err != nil || bytes.Compare(key, target) >= 0
	})
}

// BlockReader iterates over the entries of one block.
type BlockReader struct {
	b     *block
	pos   int
	key   []byte
	value []byte
	err   error
}

func newBlockReader(b *block) *BlockReader {
	r := &BlockReader{b: b}
	r.SeekToFirst()
	return r
}

// SeekToFirst positions at the first entry.
func (r *BlockReader) SeekToFirst() {
	r.set(0)
}

// Seek positions at the first entry with key >= target.
func (r *BlockReader) Seek(target []byte) {
	r.set(r.b.search(target))
}

// Next advances to the next entry.
func (r *BlockReader) Next() {
	r.set(r.pos + 1)
}

// Valid returns true if positioned at an entry.
func (r *BlockReader) Valid() bool {
	return r.err == nil && r.pos < r.b.len()
}

// Key returns the current key.
func (r *BlockReader) Key() []byte {
	return r.key
}

// Value returns the current value.
func (r *BlockReader) Value() []byte {
	return r.value
}

func (r *BlockReader) set(pos int) {
	r.pos = pos
	r.key, r.value = nil, nil
	if pos >= r.b.len() {
		return
	}
	r.key, r.value, r.err = r.b.entry(pos)
}
