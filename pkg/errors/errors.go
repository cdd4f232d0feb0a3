// Package errors defines the error taxonomy of minilsm.
// Callers match conditions with the standard errors.Is / errors.As.
package errors

import (
	"errors"
	"fmt"
	"io/fs"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors for common conditions.
var (
	// ErrInvalidArgument is returned for rejected caller input.
	ErrInvalidArgument = errors.New("minilsm: invalid argument")

	// ErrEmptyKey is returned when a key is empty.
	ErrEmptyKey = errors.New("minilsm: key cannot be empty")

	// ErrEmptyValue is returned when a caller writes an empty value.
	// The empty value is reserved for tombstones.
	ErrEmptyValue = errors.New("minilsm: value cannot be empty")

	// ErrKeyTooLarge is returned when a key exceeds the maximum size.
	ErrKeyTooLarge = errors.New("minilsm: key size exceeds maximum")

	// ErrValueTooLarge is returned when a value exceeds the maximum size.
	ErrValueTooLarge = errors.New("minilsm: value size exceeds maximum")

	// ErrClosed is returned when operating on a closed engine.
	ErrClosed = errors.New("minilsm: engine is closed")

	// ErrCorruption is returned when data corruption is detected.
	ErrCorruption = errors.New("minilsm: data corruption detected")

	// ErrChecksumMismatch is returned when a checksum does not verify.
	ErrChecksumMismatch = errors.New("minilsm: checksum mismatch")

	// ErrFrozen is returned when writing to a memtable that was frozen
	// after the writer took its snapshot. Writers retry on a fresh snapshot.
	ErrFrozen = errors.New("minilsm: memtable is frozen")

	// ErrTaskInvalidated is returned when a compaction task no longer
	// matches the current state at install time.
	ErrTaskInvalidated = errors.New("minilsm: compaction task invalidated")
)

// Maximum sizes for keys and values.
const (
	MaxKeySize   = 64 * 1024         // 64KB
	MaxValueSize = 256 * 1024 * 1024 // 256MB
)

// Kind classifies an IOError.
type Kind int

const (
	// KindIO is a plain filesystem failure.
	KindIO Kind = iota
	// KindTruncated marks a log whose tail record was cut short.
	// The well-formed prefix has been applied when this is returned.
	KindTruncated
	// KindNotFound marks a missing file.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTruncated:
		return "truncated"
	case KindNotFound:
		return "not found"
	default:
		return "io"
	}
}

// IOError wraps a filesystem error with context about the operation.
type IOError struct {
	Kind Kind
	Op   string // Operation: "open", "read", "write", "sync", "recover"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("minilsm: %s %s: %s", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("minilsm: %s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError creates a new IOError. A missing file gets KindNotFound,
// anything else KindIO.
func NewIOError(op, path string, err error) *IOError {
	kind := KindIO
	if errors.Is(err, fs.ErrNotExist) {
		kind = KindNotFound
	}
	return &IOError{Kind: kind, Op: op, Path: path, Err: err}
}

// NewTruncatedError reports a log at path whose tail was torn at offset.
func NewTruncatedError(path string, offset int64) *IOError {
	return &IOError{
		Kind: KindTruncated,
		Op:   "recover",
		Path: path,
		Err:  fmt.Errorf("valid prefix ends at offset %d", offset),
	}
}

// IsTruncated reports whether err is (or wraps) a truncated-log IOError.
func IsTruncated(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe) && ioe.Kind == KindTruncated
}

// IsNotFound reports whether err is (or wraps) a missing-file IOError.
func IsNotFound(err error) bool {
	var ioe *IOError
	return errors.As(err, &ioe) && ioe.Kind == KindNotFound
}

// CorruptionError provides details about data corruption.
type CorruptionError struct {
	File    string
	Offset  int64
	Message string
}

func (e *CorruptionError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("minilsm: corruption in %s at offset %d: %s", e.File, e.Offset, e.Message)
	}
	return fmt.Sprintf("minilsm: corruption in %s: %s", e.File, e.Message)
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorruption
}

// NewCorruptionError creates a new CorruptionError.
func NewCorruptionError(file string, offset int64, message string) *CorruptionError {
	return &CorruptionError{File: file, Offset: offset, Message: message}
}

// CompactionError wraps errors that occur during compaction.
type CompactionError struct {
	Level int
	Err   error
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("minilsm: compaction failed at level %d: %v", e.Level, e.Err)
}

func (e *CompactionError) Unwrap() error {
	return e.Err
}

// NewCompactionError creates a new CompactionError.
func NewCompactionError(level int, err error) *CompactionError {
	return &CompactionError{Level: level, Err: err}
}

// RecoveryError wraps errors that occur while opening an engine.
type RecoveryError struct {
	Phase string // "manifest", "table", "wal"
	Err   error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("minilsm: recovery failed during %s: %v", e.Phase, e.Err)
}

func (e *RecoveryError) Unwrap() error {
	return e.Err
}

// NewRecoveryError creates a new RecoveryError.
func NewRecoveryError(phase string, err error) *RecoveryError {
	return &RecoveryError{Phase: phase, Err: err}
}

// ValidateKey checks if a key is valid for storage.
func ValidateKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, ErrEmptyKey)
	}
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: %w: size %d exceeds maximum %d",
			ErrInvalidArgument, ErrKeyTooLarge, len(key), MaxKeySize)
	}
	return nil
}

// ValidateValue checks if a caller-supplied value is valid for storage.
func ValidateValue(value []byte) error {
	if len(value) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, ErrEmptyValue)
	}
	if len(value) > MaxValueSize {
		return fmt.Errorf("%w: %w: size %d exceeds maximum %d",
			ErrInvalidArgument, ErrValueTooLarge, len(value), MaxValueSize)
	}
	return nil
}

// IsInvalidArgument reports whether err was caused by rejected input.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsCorruption returns true if the error indicates data corruption.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorruption)
}

// Wrap adds context and a stack trace to an error if it's not nil.
func Wrap(err error, message string) error {
	return pkgerrors.Wrap(err, message)
}

// Wrapf adds formatted context and a stack trace to an error if it's not nil.
func Wrapf(err error, format string, args ...any) error {
	return pkgerrors.Wrapf(err, format, args...)
}

// Errorf formats a new error carrying a stack trace.
func Errorf(format string, args ...any) error {
	return pkgerrors.Errorf(format, args...)
}
