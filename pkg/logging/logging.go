// Package logging builds the structured loggers used across minilsm.
//
// Components take a logrus.FieldLogger and tag entries with
// WithField("action", ...). This package turns configuration strings into
// a ready logger.
//
// Example usage:
//
//	logger, err := logging.New(logging.Options{
//	    Level:  "info",
//	    Format: "json",
//	    Output: os.Stderr,
//	})
//
//	logger.WithField("action", "lsm_flush").Info("flushed memtable")
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Format represents the log output format.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	default:
		return "text"
	}
}

// ParseFormat parses a format string. The empty string means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format %q", s)
	}
}

// ParseLevel parses a level string. The empty string means info.
func ParseLevel(s string) (logrus.Level, error) {
	if s == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(s)
}

// Options configures the logger.
type Options struct {
	// Level is the minimum level: trace, debug, info, warn, error.
	Level string

	// Format is text or json.
	Format string

	// Output is where logs are written.
	// Default: os.Stderr
	Output io.Writer

	// Component is an optional component name added to every entry.
	Component string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Level:  "info",
		Format: "text",
		Output: os.Stderr,
	}
}

// New creates a logger from opts.
func New(opts Options) (logrus.FieldLogger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	format, err := ParseFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}

	logger := logrus.New()
	logger.SetOutput(opts.Output)
	logger.SetLevel(level)
	switch format {
	case FormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	if opts.Component != "" {
		return logger.WithField("component", opts.Component), nil
	}
	return logger, nil
}

// Discard returns a logger that drops every entry.
func Discard() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// Duration returns a duration field in milliseconds.
func Duration(d time.Duration) logrus.Fields {
	return logrus.Fields{"took_ms": float64(d.Nanoseconds()) / 1e6}
}
