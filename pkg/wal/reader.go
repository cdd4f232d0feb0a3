package wal

import (
	"bufio"
	"io"
	"os"

	"github.com/vladgaus/minilsm/internal/encoding"
	"github.com/vladgaus/minilsm/pkg/errors"
)

// Reader reads records from a log file sequentially.
//
// Thread Safety: Reader is NOT safe for concurrent use.
type Reader struct {
	file     *os.File
	filePath string
	r        *bufio.Reader

	header  [HeaderSize]byte
	payload []byte

	// Offset just past the last well-formed record.
	validOffset int64
	recordsRead int64

	// Set once a torn or corrupt record ends the valid prefix.
	torn bool
}

// NewReader opens the log at path for reading.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.IOError{Kind: errors.KindNotFound, Op: "open", Path: path, Err: err}
		}
		return nil, errors.NewIOError("open", path, err)
	}

	return &Reader{
		file:     file,
		filePath: path,
		r:        bufio.NewReaderSize(file, 64*1024),
	}, nil
}

// Next returns the next record's key and value. The slices are only valid
// until the following call. io.EOF is returned at the end of the valid
// prefix; Torn reports whether that end was a damaged record.
func (r *Reader) Next() (key, value []byte, err error) {
	if r.torn {
		return nil, nil, io.EOF
	}

	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		if err == io.EOF {
			return nil, nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return r.tear()
		}
		return nil, nil, errors.NewIOError("read", r.filePath, err)
	}

	crc, length, recordType := decodeHeader(r.header[:])
	if recordType != RecordTypePut && recordType != RecordTypeDelete {
		return r.tear()
	}
	if length > MaxPayloadSize {
		return r.tear()
	}

	if cap(r.payload) < int(length) {
		r.payload = make([]byte, length)
	}
	r.payload = r.payload[:length]
	if _, err := io.ReadFull(r.r, r.payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return r.tear()
		}
		return nil, nil, errors.NewIOError("read", r.filePath, err)
	}

	if computeCRC(recordType, r.payload) != crc {
		return r.tear()
	}

	key, value, n, derr := encoding.DecodeKeyValue(r.payload)
	if derr != nil || n != len(r.payload) {
		return r.tear()
	}
	if (recordType == RecordTypeDelete) != (len(value) == 0) {
		return r.tear()
	}

	r.validOffset += int64(HeaderSize) + int64(length)
	r.recordsRead++
	return key, value, nil
}

func (r *Reader) tear() ([]byte, []byte, error) {
	r.torn = true
	return nil, nil, io.EOF
}

// Torn reports whether reading stopped at a damaged or partial record.
func (r *Reader) Torn() bool {
	return r.torn
}

// ValidOffset returns the length of the well-formed prefix read so far.
func (r *Reader) ValidOffset() int64 {
	return r.validOffset
}

// Close closes the log reader.
func (r *Reader) Close() error {
	if err := r.file.Close(); err != nil {
		return errors.NewIOError("close", r.filePath, err)
	}
	return nil
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return ReaderStats{
		BytesRead:   r.validOffset,
		RecordsRead: r.recordsRead,
		Torn:        r.torn,
	}
}

// ReaderStats contains log reader statistics.
type ReaderStats struct {
	BytesRead   int64
	RecordsRead int64
	Torn        bool
}

// Recover replays the log at path into fn and reopens it for appending.
//
// Every well-formed record is passed to fn in write order; fn must copy the
// slices it keeps. If the tail of the log is a partial or damaged record, the
// tail is cut off and the reopened log is returned together with an
// *errors.IOError of kind KindTruncated. Callers that accept a lost tail keep
// using the returned log.
func Recover(path string, opts Options, fn func(key, value []byte) error) (*WAL, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}

	for {
		key, value, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		if err := fn(key, value); err != nil {
			_ = r.Close()
			return nil, err
		}
	}

	torn, offset := r.Torn(), r.ValidOffset()
	if err := r.Close(); err != nil {
		return nil, err
	}

	w, err := openForAppend(path, offset, opts)
	if err != nil {
		return nil, err
	}
	if torn {
		return w, errors.NewTruncatedError(path, offset)
	}
	return w, nil
}
