// Package wal provides the write-ahead log that backs a memtable.
//
// Every put is persisted to the log before it is acknowledged, so that a
// memtable that was never flushed can be rebuilt after a crash by replaying
// its log.
//
// # Record Format
//
// The log is a plain sequence of records:
//
//	+------------+-------------+------------+--- ... ---+
//	| CRC (4B)   | Length (4B) | Type (1B)  | Payload   |
//	+------------+-------------+------------+--- ... ---+
//
//   - CRC: CRC32 (Castagnoli) of Type + Payload
//   - Length: length of the payload in bytes
//   - Type: Put or Delete
//   - Payload: uvarint(keyLen) | uvarint(valueLen) | key | value
//
// A record is written with a single write call, so concurrent puts never
// interleave bytes. A crash can leave at most a partially written record at
// the tail; recovery keeps everything before it.
package wal

import (
	"encoding/binary"
	"hash/crc32"
)

// HeaderSize is CRC(4) + Length(4) + Type(1).
const HeaderSize = 9

// MaxPayloadSize bounds the payload length accepted while reading, so that a
// garbage length field is reported as a torn tail instead of a huge allocation.
const MaxPayloadSize = 1 << 30

// RecordType tells whether a record stores a value or a tombstone.
type RecordType byte

const (
	// RecordTypeZero is what a zero-filled (preallocated) region decodes to.
	RecordTypeZero RecordType = 0

	// RecordTypePut stores a key and a non-empty value.
	RecordTypePut RecordType = 1

	// RecordTypeDelete stores a key with an empty value.
	RecordTypeDelete RecordType = 2
)

// String returns a human-readable record type name.
func (t RecordType) String() string {
	switch t {
	case RecordTypePut:
		return "PUT"
	case RecordTypeDelete:
		return "DELETE"
	case RecordTypeZero:
		return "ZERO"
	default:
		return "UNKNOWN"
	}
}

// recordTypeFor picks the record type for a value.
func recordTypeFor(value []byte) RecordType {
	if len(value) == 0 {
		return RecordTypeDelete
	}
	return RecordTypePut
}

// CRC32 table using Castagnoli polynomial.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// computeCRC computes the checksum of a record: type byte + payload.
func computeCRC(recordType RecordType, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, []byte{byte(recordType)})
	return crc32.Update(crc, crcTable, payload)
}

// encodeHeader encodes the record header into the provided buffer.
// Buffer must be at least HeaderSize bytes.
func encodeHeader(buf []byte, crc uint32, length uint32, recordType RecordType) {
	binary.LittleEndian.PutUint32(buf[0:4], crc)
	binary.LittleEndian.PutUint32(buf[4:8], length)
	buf[8] = byte(recordType)
}

// decodeHeader decodes a record header from the buffer.
func decodeHeader(buf []byte) (crc uint32, length uint32, recordType RecordType) {
	crc = binary.LittleEndian.Uint32(buf[0:4])
	length = binary.LittleEndian.Uint32(buf[4:8])
	recordType = RecordType(buf[8])
	return crc, length, recordType
}
