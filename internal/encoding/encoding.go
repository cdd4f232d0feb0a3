// Package encoding provides binary encoding utilities for minilsm.
// Fixed-width integers are stored Big-Endian; lengths use uvarints.
package encoding

import (
	"encoding/binary"
	"errors"
)

// ByteOrder is the byte order of every fixed-width integer on disk.
var ByteOrder = binary.BigEndian

// ErrInsufficientData is returned when decoding runs past the input.
var ErrInsufficientData = errors.New("encoding: insufficient data")

// PutUint32 encodes a uint32 into a byte slice.
// Returns the number of bytes written (always 4).
func PutUint32(dst []byte, v uint32) int {
	ByteOrder.PutUint32(dst, v)
	return 4
}

// PutUint64 encodes a uint64 into a byte slice.
// Returns the number of bytes written (always 8).
func PutUint64(dst []byte, v uint64) int {
	ByteOrder.PutUint64(dst, v)
	return 8
}

// GetUint32 decodes a uint32 from a byte slice.
func GetUint32(src []byte) uint32 {
	return ByteOrder.Uint32(src)
}

// GetUint64 decodes a uint64 from a byte slice.
func GetUint64(src []byte) uint64 {
	return ByteOrder.Uint64(src)
}

// PutVarint encodes a variable-length integer.
// Returns the number of bytes written.
func PutVarint(dst []byte, v uint64) int {
	return binary.PutUvarint(dst, v)
}

// GetVarint decodes a variable-length integer.
// Returns the value and number of bytes read; n <= 0 means malformed input.
func GetVarint(src []byte) (uint64, int) {
	return binary.Uvarint(src)
}

// VarintLen returns the number of bytes needed to encode v as a varint.
func VarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// AppendKeyValue appends a key/value pair in the form
//
//	uvarint(len(key)) | uvarint(len(value)) | key | value
//
// and returns the extended buffer.
func AppendKeyValue(dst, key, value []byte) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := PutVarint(tmp[:], uint64(len(key)))
	dst = append(dst, tmp[:n]...)
	n = PutVarint(tmp[:], uint64(len(value)))
	dst = append(dst, tmp[:n]...)
	dst = append(dst, key...)
	return append(dst, value...)
}

// KeyValueSize returns the encoded size of a key/value pair.
func KeyValueSize(key, value []byte) int {
	return VarintLen(uint64(len(key))) + VarintLen(uint64(len(value))) + len(key) + len(value)
}

// DecodeKeyValue decodes one pair written by AppendKeyValue.
// The returned slices alias src. n is the number of bytes consumed.
func DecodeKeyValue(src []byte) (key, value []byte, n int, err error) {
	klen, a := GetVarint(src)
	if a <= 0 {
		return nil, nil, 0, ErrInsufficientData
	}
	vlen, b := GetVarint(src[a:])
	if b <= 0 {
		return nil, nil, 0, ErrInsufficientData
	}
	off := a + b
	end := uint64(off) + klen + vlen
	if end > uint64(len(src)) {
		return nil, nil, 0, ErrInsufficientData
	}
	key = src[off : off+int(klen)]
	value = src[off+int(klen) : int(end)]
	return key, value, int(end), nil
}

// AppendBytes appends a length-prefixed byte string.
func AppendBytes(dst, b []byte) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := PutVarint(tmp[:], uint64(len(b)))
	dst = append(dst, tmp[:n]...)
	return append(dst, b...)
}

// DecodeBytes decodes a byte string written by AppendBytes.
// The returned slice aliases src.
func DecodeBytes(src []byte) ([]byte, int, error) {
	l, a := GetVarint(src)
	if a <= 0 || uint64(a)+l > uint64(len(src)) {
		return nil, 0, ErrInsufficientData
	}
	return src[a : a+int(l)], a + int(l), nil
}

// CloneBytes creates a copy of a byte slice. Nil stays nil.
func CloneBytes(src []byte) []byte {
	if src == nil {
		return nil
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst
}
