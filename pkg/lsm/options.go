package lsm

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/vladgaus/minilsm/pkg/compaction"
	"github.com/vladgaus/minilsm/pkg/compaction/leveled"
	"github.com/vladgaus/minilsm/pkg/compaction/simple"
	"github.com/vladgaus/minilsm/pkg/compaction/tiered"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/sstable"
)

// Options configures the LSM engine.
type Options struct {
	// BlockSize is the data block size of table files.
	// Default: 4KB
	BlockSize int

	// TargetSSTSize freezes the active memtable once it holds this many
	// bytes, and cuts compaction outputs at the same size.
	// Default: 2MB
	TargetSSTSize int64

	// NumMemtableLimit is the number of frozen memtables kept in memory.
	// The flush worker drains the oldest while there are more.
	// Default: 2
	NumMemtableLimit int

	// Compaction selects and configures the compaction strategy. The
	// strategy is fixed for the lifetime of a directory.
	Compaction compaction.Options

	// EnableWAL logs every write of a memtable to its own file.
	// Without a log, Close flushes every memtable instead.
	EnableWAL bool

	// WALSyncOnWrite syncs the log after every write.
	WALSyncOnWrite bool

	// BloomFalsePositiveRate of per-table filters.
	// Default: 0.01
	BloomFalsePositiveRate float64

	// BlockCacheSize is the number of data blocks cached across tables.
	// 0 disables the cache.
	BlockCacheSize int

	// Worker wake-up intervals. Writes that cross a threshold also wake
	// the workers directly.
	FlushInterval      time.Duration // Default: 50ms
	CompactionInterval time.Duration // Default: 50ms

	// Logger receives engine logs. Default: discard.
	Logger logrus.FieldLogger

	// Registerer registers the engine metrics. Nil keeps them unregistered.
	Registerer prometheus.Registerer
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		BlockSize:              sstable.DefaultBlockSize,
		TargetSSTSize:          2 * 1024 * 1024, // 2MB
		NumMemtableLimit:       2,
		Compaction:             compaction.DefaultOptions(),
		EnableWAL:              true,
		BloomFalsePositiveRate: 0.01,
		BlockCacheSize:         1024,
		FlushInterval:          50 * time.Millisecond,
		CompactionInterval:     50 * time.Millisecond,
	}
}

// validate checks options and fills in defaults.
func (opts *Options) validate() error {
	if opts.BlockSize <= 0 {
		opts.BlockSize = sstable.DefaultBlockSize
	}
	if opts.TargetSSTSize <= 0 {
		opts.TargetSSTSize = 2 * 1024 * 1024
	}
	if opts.NumMemtableLimit < 0 {
		return fmt.Errorf("%w: num_memtable_limit must not be negative", errors.ErrInvalidArgument)
	}
	if opts.BloomFalsePositiveRate <= 0 || opts.BloomFalsePositiveRate >= 1 {
		opts.BloomFalsePositiveRate = 0.01
	}
	if opts.BlockCacheSize < 0 {
		opts.BlockCacheSize = 0
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 50 * time.Millisecond
	}
	if opts.CompactionInterval <= 0 {
		opts.CompactionInterval = 50 * time.Millisecond
	}
	if opts.Compaction.Kind == "" {
		opts.Compaction.Kind = compaction.KindNone
	}
	return opts.Compaction.Validate()
}

// newStrategy builds the strategy selected by opts.
func newStrategy(opts compaction.Options) (compaction.Strategy, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	switch opts.Kind {
	case compaction.KindSimple:
		return simple.New(opts.Simple), nil
	case compaction.KindLeveled:
		return leveled.New(opts.Leveled), nil
	case compaction.KindTiered:
		return tiered.New(opts.Tiered), nil
	default:
		return compaction.NoCompaction{}, nil
	}
}
