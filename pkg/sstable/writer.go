package sstable

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"

	"github.com/willf/bloom"

	"github.com/vladgaus/minilsm/internal/encoding"
	"github.com/vladgaus/minilsm/internal/utils"
	"github.com/vladgaus/minilsm/pkg/iterator"
)

// Writer builds a table file from sorted entries.
//
// Usage:
//
//	w, _ := NewWriter(path, id, opts)
//	for ; it.Valid(); it.Next() {
//	    w.Add(it.Key(), it.Value())
//	}
//	meta, _ := w.Finish()
//
// Keys MUST be added in strictly increasing order. The file is written to
// a temporary name and renamed into place by Finish, so a crash never
// leaves a partial file under the final name.
type Writer struct {
	file     *os.File
	writer   *bufio.Writer
	path     string
	tempPath string
	id       uint64

	dataBlock    *BlockBuilder
	indexEntries []*IndexEntry
	offset       uint64

	// Keys are buffered for the bloom filter, sized once the count is known.
	keys              [][]byte
	falsePositiveRate float64

	entryCount uint64
	firstKey   []byte
	lastKey    []byte

	finished bool
	err      error
}

// WriterOptions configures the table writer.
type WriterOptions struct {
	// BlockSize is the target data block size (default: 4KB).
	BlockSize int
	// FalsePositiveRate of the bloom filter (default: 0.01).
	FalsePositiveRate float64
}

// DefaultWriterOptions returns sensible defaults.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		BlockSize:         DefaultBlockSize,
		FalsePositiveRate: 0.01,
	}
}

// NewWriter creates a new table writer for the file at path.
func NewWriter(path string, id uint64, opts WriterOptions) (*Writer, error) {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.FalsePositiveRate <= 0 || opts.FalsePositiveRate >= 1 {
		opts.FalsePositiveRate = 0.01
	}

	tempPath := path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &Writer{
		file:              file,
		writer:            bufio.NewWriterSize(file, 64*1024),
		path:              path,
		tempPath:          tempPath,
		id:                id,
		dataBlock:         NewBlockBuilder(opts.BlockSize),
		indexEntries:      make([]*IndexEntry, 0, 128),
		falsePositiveRate: opts.FalsePositiveRate,
	}, nil
}

// Add adds an entry to the table. An empty value is a tombstone.
func (w *Writer) Add(key, value []byte) error {
	if w.finished {
		return ErrClosed
	}
	if w.err != nil {
		return w.err
	}

	if w.entryCount > 0 && bytes.Compare(key, w.lastKey) <= 0 {
		w.err = ErrUnsorted
		return w.err
	}

	if w.entryCount == 0 {
		w.firstKey = encoding.CloneBytes(key)
	}
	w.lastKey = append(w.lastKey[:0], key...)
	w.keys = append(w.keys, encoding.CloneBytes(key))

	if !w.dataBlock.Add(key, value) {
		if err := w.flushDataBlock(); err != nil {
			w.err = err
			return err
		}
		w.dataBlock.Reset()
		w.dataBlock.Add(key, value)
	}

	w.entryCount++
	return nil
}

// flushDataBlock writes the current data block to file.
func (w *Writer) flushDataBlock() error {
	if w.dataBlock.IsEmpty() {
		return nil
	}

	entry := &IndexEntry{
		FirstKey: encoding.CloneBytes(w.dataBlock.FirstKey()),
		LastKey:  encoding.CloneBytes(w.dataBlock.LastKey()),
	}

	blockData := w.dataBlock.Finish()
	n, err := w.writer.Write(blockData)
	if err != nil {
		return err
	}

	entry.BlockHandle = BlockHandle{Offset: w.offset, Size: uint64(n)}
	w.offset += uint64(n)
	w.indexEntries = append(w.indexEntries, entry)

	return nil
}

// writeFilterBlock writes the bloom filter block.
func (w *Writer) writeFilterBlock() (BlockHandle, error) {
	handle := BlockHandle{Offset: w.offset}

	filter := bloom.NewWithEstimates(uint(len(w.keys)), w.falsePositiveRate)
	for _, k := range w.keys {
		filter.Add(k)
	}

	var buf bytes.Buffer
	if _, err := filter.WriteTo(&buf); err != nil {
		return handle, err
	}

	n, err := w.writer.Write(appendChecksum(buf.Bytes()))
	if err != nil {
		return handle, err
	}

	handle.Size = uint64(n)
	w.offset += handle.Size
	return handle, nil
}

// writeIndexBlock writes the index block.
func (w *Writer) writeIndexBlock() (BlockHandle, error) {
	handle := BlockHandle{Offset: w.offset}

	var buf []byte
	for _, entry := range w.indexEntries {
		buf = entry.AppendTo(buf)
	}

	n, err := w.writer.Write(appendChecksum(buf))
	if err != nil {
		return handle, err
	}

	handle.Size = uint64(n)
	w.offset += handle.Size
	return handle, nil
}

// Finish completes the table, syncs it and moves it to its final path.
// A table must hold at least one entry.
func (w *Writer) Finish() (*Metadata, error) {
	if w.finished {
		return nil, ErrClosed
	}
	if w.err == nil && w.entryCount == 0 {
		w.err = ErrEmptyTable
	}
	if w.err != nil {
		_ = w.Abort()
		return nil, w.err
	}
	w.finished = true

	fail := func(err error) (*Metadata, error) {
		_ = w.file.Close()
		_ = os.Remove(w.tempPath)
		return nil, err
	}

	if err := w.flushDataBlock(); err != nil {
		return fail(err)
	}

	filterHandle, err := w.writeFilterBlock()
	if err != nil {
		return fail(err)
	}

	indexHandle, err := w.writeIndexBlock()
	if err != nil {
		return fail(err)
	}

	footer := &Footer{
		FilterHandle: filterHandle,
		IndexHandle:  indexHandle,
		Version:      FormatVersion,
	}
	if _, err := w.writer.Write(footer.Encode()); err != nil {
		return fail(err)
	}

	if err := w.writer.Flush(); err != nil {
		return fail(err)
	}
	if err := w.file.Sync(); err != nil {
		return fail(err)
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.tempPath)
		return nil, err
	}
	if err := os.Rename(w.tempPath, w.path); err != nil {
		_ = os.Remove(w.tempPath)
		return nil, err
	}
	if err := utils.SyncDir(filepath.Dir(w.path)); err != nil {
		return nil, err
	}

	return &Metadata{
		ID:         w.id,
		FileSize:   w.offset + FooterSize,
		EntryCount: w.entryCount,
		FirstKey:   w.firstKey,
		LastKey:    encoding.CloneBytes(w.lastKey),
		BlockCount: uint64(len(w.indexEntries)),
	}, nil
}

// Abort cancels table creation and removes the partial file.
func (w *Writer) Abort() error {
	if w.finished {
		return nil
	}
	w.finished = true
	_ = w.file.Close()
	return os.Remove(w.tempPath)
}

// EstimatedSize returns the estimated final file size, excluding the
// filter block.
func (w *Writer) EstimatedSize() uint64 {
	return w.offset + uint64(w.dataBlock.EstimatedSize()) + FooterSize
}

// EntryCount returns the number of entries added so far.
func (w *Writer) EntryCount() uint64 {
	return w.entryCount
}

// Path returns the final path of the table.
func (w *Writer) Path() string {
	return w.path
}

// Metadata contains information about a completed table.
type Metadata struct {
	ID         uint64
	FileSize   uint64
	EntryCount uint64
	FirstKey   []byte
	LastKey    []byte
	BlockCount uint64
}

// Build writes every remaining entry of it into a new table at path.
func Build(path string, id uint64, it iterator.Iterator, opts WriterOptions) (*Metadata, error) {
	w, err := NewWriter(path, id, opts)
	if err != nil {
		return nil, err
	}
	for ; it.Valid(); it.Next() {
		if err := w.Add(it.Key(), it.Value()); err != nil {
			_ = w.Abort()
			return nil, err
		}
	}
	if err := it.Error(); err != nil {
		_ = w.Abort()
		return nil, err
	}
	return w.Finish()
}
