// Package utils provides file naming and small helpers shared by minilsm packages.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
)

// FileType represents the type of a file in an engine directory.
type FileType int

const (
	FileTypeUnknown  FileType = iota
	FileTypeTable             // .sst files
	FileTypeWAL               // .wal files
	FileTypeManifest          // MANIFEST
	FileTypeTemp              // .tmp files
)

// File extensions and names.
const (
	TableExtension   = ".sst"
	WALExtension     = ".wal"
	TempExtension    = ".tmp"
	ManifestFileName = "MANIFEST"
)

// MakeTablePath creates a path for a sorted table file.
func MakeTablePath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%05d%s", id, TableExtension))
}

// MakeWALPath creates a path for a WAL file.
func MakeWALPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%05d%s", id, WALExtension))
}

// MakeManifestPath creates the manifest path for an engine directory.
func MakeManifestPath(dir string) string {
	return filepath.Join(dir, ManifestFileName)
}

// MakeTempPath creates a path for a file that is still being written.
func MakeTempPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%05d%s", id, TempExtension))
}

// ParseFileNum extracts the id from a table or WAL file name.
// Returns 0 if the name doesn't contain a valid number.
func ParseFileNum(filename string) uint64 {
	base := filepath.Base(filename)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	num, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0
	}
	return num
}

// GetFileType determines the type of a file based on its name.
func GetFileType(filename string) FileType {
	base := filepath.Base(filename)

	switch {
	case strings.HasSuffix(base, TableExtension):
		return FileTypeTable
	case strings.HasSuffix(base, WALExtension):
		return FileTypeWAL
	case base == ManifestFileName:
		return FileTypeManifest
	case strings.HasSuffix(base, TempExtension):
		return FileTypeTemp
	default:
		return FileTypeUnknown
	}
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// RemoveFile removes a file, ignoring "not exists" errors.
func RemoveFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// SyncDir syncs a directory so that created, renamed and removed
// entries are persisted.
func SyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// IDGenerator hands out unique, strictly increasing ids.
// Memtables and tables draw from the same generator.
type IDGenerator struct {
	next atomic.Uint64
}

// NewIDGenerator creates a generator whose first Next returns start+1.
func NewIDGenerator(start uint64) *IDGenerator {
	g := &IDGenerator{}
	g.next.Store(start)
	return g
}

// Next returns the next id.
func (g *IDGenerator) Next() uint64 {
	return g.next.Add(1)
}

// Current returns the last id handed out.
func (g *IDGenerator) Current() uint64 {
	return g.next.Load()
}

// Observe raises the generator so that ids up to and including id
// are never handed out again.
func (g *IDGenerator) Observe(id uint64) {
	for {
		cur := g.next.Load()
		if id <= cur || g.next.CompareAndSwap(cur, id) {
			return
		}
	}
}

// BytesToHumanReadable converts bytes to a human-readable string.
func BytesToHumanReadable(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
