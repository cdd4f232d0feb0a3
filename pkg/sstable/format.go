// Package sstable provides the immutable sorted table files that memtables
// are flushed into and compactions rewrite.
//
// # File Format
//
//	+------------------+
//	| Data Block 0     |
//	+------------------+
//	| ...              |
//	+------------------+
//	| Data Block N     |
//	+------------------+
//	| Filter Block     |  (bloom filter + xxhash64)
//	+------------------+
//	| Index Block      |  (first/last key and handle per data block + xxhash64)
//	+------------------+
//	| Footer (48 bytes)|
//	+------------------+
//
// # Data Block Format
//
//	+------------------+
//	| Entry 0          |  uvarint klen | uvarint vlen | key | value
//	+------------------+
//	| ...              |
//	+------------------+
//	| Offsets (4B each)|  start of every entry, for binary search
//	+------------------+
//	| NumEntries (4B)  |
//	+------------------+
//	| xxhash64 (8B)    |
//	+------------------+
//
// An empty value is a tombstone. Keys are unique and strictly increasing.
package sstable

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"

	"github.com/vladgaus/minilsm/internal/encoding"
)

// File format constants
const (
	// MagicNumber identifies valid table files
	MagicNumber uint64 = 0x4D494E494C534D54 // "MINILSMT"

	// FormatVersion is the current table format version
	FormatVersion uint32 = 1

	// FooterSize is the fixed size of the footer (48 bytes)
	FooterSize = 48

	// DefaultBlockSize is the target size for data blocks (4KB)
	DefaultBlockSize = 4 * 1024

	// BlockTrailerSize is NumEntries(4) + xxhash64(8)
	BlockTrailerSize = 12

	// checksumSize is the xxhash64 trailer of filter and index blocks
	checksumSize = 8
)

// Table errors
var (
	ErrInvalidFooter = errors.New("sstable: invalid footer")
	ErrInvalidMagic  = errors.New("sstable: invalid magic number")
	ErrInvalidBlock  = errors.New("sstable: invalid block")
	ErrEmptyTable    = errors.New("sstable: table has no entries")
	ErrClosed        = errors.New("sstable: table closed")
	ErrUnsorted      = errors.New("sstable: keys must be added in strictly increasing order")
)

// BlockHandle points to a block within the file
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

// Footer contains table metadata
type Footer struct {
	FilterHandle BlockHandle
	IndexHandle  BlockHandle
	Version      uint32
}

// Encode encodes the footer to exactly FooterSize bytes
func (f *Footer) Encode() []byte {
	buf := make([]byte, FooterSize)

	binary.LittleEndian.PutUint64(buf[0:8], f.FilterHandle.Offset)
	binary.LittleEndian.PutUint64(buf[8:16], f.FilterHandle.Size)
	binary.LittleEndian.PutUint64(buf[16:24], f.IndexHandle.Offset)
	binary.LittleEndian.PutUint64(buf[24:32], f.IndexHandle.Size)
	binary.LittleEndian.PutUint32(buf[32:36], f.Version)

	// Checksum of the fields above, truncated to 32 bits.
	binary.LittleEndian.PutUint32(buf[36:40], uint32(xxhash.Sum64(buf[0:36])))

	binary.LittleEndian.PutUint64(buf[40:48], MagicNumber)

	return buf
}

// DecodeFooter decodes a footer from bytes
func DecodeFooter(data []byte) (*Footer, error) {
	if len(data) != FooterSize {
		return nil, ErrInvalidFooter
	}

	if binary.LittleEndian.Uint64(data[40:48]) != MagicNumber {
		return nil, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint32(data[36:40]) != uint32(xxhash.Sum64(data[0:36])) {
		return nil, ErrInvalidFooter
	}

	return &Footer{
		FilterHandle: BlockHandle{
			Offset: binary.LittleEndian.Uint64(data[0:8]),
			Size:   binary.LittleEndian.Uint64(data[8:16]),
		},
		IndexHandle: BlockHandle{
			Offset: binary.LittleEndian.Uint64(data[16:24]),
			Size:   binary.LittleEndian.Uint64(data[24:32]),
		},
		Version: binary.LittleEndian.Uint32(data[32:36]),
	}, nil
}

// IndexEntry describes one data block.
type IndexEntry struct {
	FirstKey    []byte
	LastKey     []byte
	BlockHandle BlockHandle
}

// AppendTo appends the encoded entry:
// bytes(FirstKey) | bytes(LastKey) | uvarint Offset | uvarint Size
func (e *IndexEntry) AppendTo(buf []byte) []byte {
	buf = encoding.AppendBytes(buf, e.FirstKey)
	buf = encoding.AppendBytes(buf, e.LastKey)
	buf = binary.AppendUvarint(buf, e.BlockHandle.Offset)
	return binary.AppendUvarint(buf, e.BlockHandle.Size)
}

// DecodeIndexEntry decodes an index entry, returns entry and bytes consumed.
// The keys are copied out of data.
func DecodeIndexEntry(data []byte) (*IndexEntry, int, error) {
	first, n1, err := encoding.DecodeBytes(data)
	if err != nil {
		return nil, 0, ErrInvalidBlock
	}
	last, n2, err := encoding.DecodeBytes(data[n1:])
	if err != nil {
		return nil, 0, ErrInvalidBlock
	}
	off := n1 + n2
	offset, n3 := binary.Uvarint(data[off:])
	if n3 <= 0 {
		return nil, 0, ErrInvalidBlock
	}
	off += n3
	size, n4 := binary.Uvarint(data[off:])
	if n4 <= 0 {
		return nil, 0, ErrInvalidBlock
	}

	return &IndexEntry{
		FirstKey:    encoding.CloneBytes(first),
		LastKey:     encoding.CloneBytes(last),
		BlockHandle: BlockHandle{Offset: offset, Size: size},
	}, off + n4, nil
}

// appendChecksum appends the xxhash64 of data.
func appendChecksum(data []byte) []byte {
	return binary.LittleEndian.AppendUint64(data, xxhash.Sum64(data))
}

// verifyChecksum splits a checksummed block into its payload.
func verifyChecksum(block []byte) ([]byte, bool) {
	if len(block) < checksumSize {
		return nil, false
	}
	payload := block[:len(block)-checksumSize]
	want := binary.LittleEndian.Uint64(block[len(block)-checksumSize:])
	return payload, xxhash.Sum64(payload) == want
}
