package wal

import (
	"os"
	"sync"

	"github.com/vladgaus/minilsm/internal/encoding"
	"github.com/vladgaus/minilsm/pkg/errors"
)

// WAL is an append-only log attached to one memtable.
//
// Thread Safety: WAL is safe for concurrent use. Each Put appends exactly
// one record under the log's mutex.
type WAL struct {
	mu sync.Mutex

	file     *os.File
	filePath string

	// Buffer for building records
	buf []byte

	syncOnWrite bool
	closed      bool

	bytesWritten int64
}

// Options configures WAL behavior.
type Options struct {
	// SyncOnWrite forces fsync after each put.
	// Provides strongest durability but impacts performance.
	SyncOnWrite bool
}

// DefaultOptions returns default WAL options.
func DefaultOptions() Options {
	return Options{
		SyncOnWrite: false,
	}
}

// Create creates a new, empty log at path.
// It fails if a file already exists there.
func Create(path string, opts Options) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.NewIOError("create", path, err)
	}

	return &WAL{
		file:        file,
		filePath:    path,
		buf:         make([]byte, 0, 256),
		syncOnWrite: opts.SyncOnWrite,
	}, nil
}

// openForAppend reopens an existing log positioned at size.
func openForAppend(path string, size int64, opts Options) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.NewIOError("open", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.NewIOError("stat", path, err)
	}

	// Drop a torn tail so new records follow the valid prefix.
	if info.Size() != size {
		if err := file.Truncate(size); err != nil {
			_ = file.Close()
			return nil, errors.NewIOError("truncate", path, err)
		}
		if err := file.Sync(); err != nil {
			_ = file.Close()
			return nil, errors.NewIOError("sync", path, err)
		}
	}

	if _, err := file.Seek(size, 0); err != nil {
		_ = file.Close()
		return nil, errors.NewIOError("seek", path, err)
	}

	return &WAL{
		file:         file,
		filePath:     path,
		buf:          make([]byte, 0, 256),
		syncOnWrite:  opts.SyncOnWrite,
		bytesWritten: size,
	}, nil
}

// Put appends a record for key/value. An empty value records a tombstone.
func (w *WAL) Put(key, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.NewIOError("write", w.filePath, os.ErrClosed)
	}

	recordType := recordTypeFor(value)

	// Header placeholder, then payload.
	w.buf = append(w.buf[:0], make([]byte, HeaderSize)...)
	w.buf = encoding.AppendKeyValue(w.buf, key, value)
	payload := w.buf[HeaderSize:]
	encodeHeader(w.buf, computeCRC(recordType, payload), uint32(len(payload)), recordType)

	if _, err := w.file.Write(w.buf); err != nil {
		return errors.NewIOError("write", w.filePath, err)
	}
	w.bytesWritten += int64(len(w.buf))

	if w.syncOnWrite {
		if err := w.file.Sync(); err != nil {
			return errors.NewIOError("sync", w.filePath, err)
		}
	}

	return nil
}

// Sync flushes pending writes to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return errors.NewIOError("sync", w.filePath, err)
	}
	return nil
}

// Close syncs and closes the log file. Closing twice is a no-op.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return errors.NewIOError("sync", w.filePath, err)
	}

	if err := w.file.Close(); err != nil {
		return errors.NewIOError("close", w.filePath, err)
	}

	return nil
}

// Size returns the current log file size.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bytesWritten
}

// Path returns the log file path.
func (w *WAL) Path() string {
	return w.filePath
}
