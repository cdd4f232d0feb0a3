// Package config provides configuration management for minilsm.
// It reads YAML files (JSON documents are valid YAML too) on top of
// defaults and turns them into engine options.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/vladgaus/minilsm/pkg/compaction"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/logging"
	"github.com/vladgaus/minilsm/pkg/lsm"
)

// Config holds all configuration for a minilsm engine.
type Config struct {
	// DataDir is the directory where all data files are stored.
	DataDir string `yaml:"data_dir"`

	MemTable   MemTableConfig   `yaml:"memtable"`
	WAL        WALConfig        `yaml:"wal"`
	Table      TableConfig      `yaml:"table"`
	Compaction CompactionConfig `yaml:"compaction"`
	Workers    WorkersConfig    `yaml:"workers"`
	Log        LogConfig        `yaml:"log"`
}

// MemTableConfig holds memtable settings.
type MemTableConfig struct {
	// TargetSSTSize is the memtable size that triggers a freeze. Compaction
	// outputs are cut at the same size.
	// Default: 2MB
	TargetSSTSize int64 `yaml:"target_sst_size"`

	// NumMemtableLimit is the number of frozen memtables kept in memory
	// before the oldest is flushed.
	// Default: 2
	NumMemtableLimit int `yaml:"num_memtable_limit"`
}

// WALConfig holds write-ahead log settings.
type WALConfig struct {
	// Enabled determines if every memtable is backed by a log.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// SyncOnWrite forces fsync after each write.
	// Default: false
	SyncOnWrite bool `yaml:"sync_on_write"`
}

// TableConfig holds table file settings.
type TableConfig struct {
	// BlockSize is the size of data blocks within tables.
	// Default: 4KB
	BlockSize int `yaml:"block_size"`

	// BloomFalsePositiveRate is the target rate of per-table filters.
	// Default: 0.01
	BloomFalsePositiveRate float64 `yaml:"bloom_false_positive_rate"`

	// BlockCacheSize is the number of blocks cached across tables.
	// Default: 1024
	BlockCacheSize int `yaml:"block_cache_size"`
}

// CompactionConfig selects the strategy. Only the block matching Strategy
// is read.
type CompactionConfig struct {
	// Strategy is none, simple, leveled or tiered.
	// Default: "none"
	Strategy string `yaml:"strategy"`

	Simple  SimpleConfig  `yaml:"simple"`
	Leveled LeveledConfig `yaml:"leveled"`
	Tiered  TieredConfig  `yaml:"tiered"`
}

type SimpleConfig struct {
	SizeRatioPercent    int `yaml:"size_ratio_percent"`
	L0CompactionTrigger int `yaml:"l0_compaction_trigger"`
	MaxLevels           int `yaml:"max_levels"`
}

type LeveledConfig struct {
	LevelSizeMultiplier int `yaml:"level_size_multiplier"`
	L0CompactionTrigger int `yaml:"l0_compaction_trigger"`
	MaxLevels           int `yaml:"max_levels"`
	BaseLevelSizeMB     int `yaml:"base_level_size_mb"`
}

type TieredConfig struct {
	NumTiers                    int `yaml:"num_tiers"`
	MaxSizeAmplificationPercent int `yaml:"max_size_amplification_percent"`
	SizeRatio                   int `yaml:"size_ratio"`
	MinMergeWidth               int `yaml:"min_merge_width"`
	MaxMergeWidth               int `yaml:"max_merge_width"`
}

// WorkersConfig holds background worker intervals.
type WorkersConfig struct {
	// Default: 50ms
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Default: 50ms
	CompactionInterval time.Duration `yaml:"compaction_interval"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is trace, debug, info, warn or error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is text or json.
	// Default: "text"
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	opts := lsm.DefaultOptions()
	return &Config{
		DataDir: "./minilsm_data",
		MemTable: MemTableConfig{
			TargetSSTSize:    opts.TargetSSTSize,
			NumMemtableLimit: opts.NumMemtableLimit,
		},
		WAL: WALConfig{
			Enabled:     opts.EnableWAL,
			SyncOnWrite: opts.WALSyncOnWrite,
		},
		Table: TableConfig{
			BlockSize:              opts.BlockSize,
			BloomFalsePositiveRate: opts.BloomFalsePositiveRate,
			BlockCacheSize:         opts.BlockCacheSize,
		},
		Compaction: CompactionConfig{
			Strategy: string(opts.Compaction.Kind),
			Simple: SimpleConfig{
				SizeRatioPercent:    opts.Compaction.Simple.SizeRatioPercent,
				L0CompactionTrigger: opts.Compaction.Simple.Level0FileNumCompactionTrigger,
				MaxLevels:           opts.Compaction.Simple.MaxLevels,
			},
			Leveled: LeveledConfig{
				LevelSizeMultiplier: opts.Compaction.Leveled.LevelSizeMultiplier,
				L0CompactionTrigger: opts.Compaction.Leveled.Level0FileNumCompactionTrigger,
				MaxLevels:           opts.Compaction.Leveled.MaxLevels,
				BaseLevelSizeMB:     opts.Compaction.Leveled.BaseLevelSizeMB,
			},
			Tiered: TieredConfig{
				NumTiers:                    opts.Compaction.Tiered.NumTiers,
				MaxSizeAmplificationPercent: opts.Compaction.Tiered.MaxSizeAmplificationPercent,
				SizeRatio:                   opts.Compaction.Tiered.SizeRatio,
				MinMergeWidth:               opts.Compaction.Tiered.MinMergeWidth,
				MaxMergeWidth:               opts.Compaction.Tiered.MaxMergeWidth,
			},
		},
		Workers: WorkersConfig{
			FlushInterval:      opts.FlushInterval,
			CompactionInterval: opts.CompactionInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
// Missing fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("read", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults. Unknown fields are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidArgument, err)
	}
	return cfg, nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewIOError("write", path, err)
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return invalid("data_dir cannot be empty")
	}
	if c.MemTable.TargetSSTSize <= 0 {
		return invalid("memtable.target_sst_size must be positive")
	}
	if c.MemTable.NumMemtableLimit < 0 {
		return invalid("memtable.num_memtable_limit must not be negative")
	}
	if c.Table.BlockSize <= 0 {
		return invalid("table.block_size must be positive")
	}
	if r := c.Table.BloomFalsePositiveRate; r <= 0 || r >= 1 {
		return invalid("table.bloom_false_positive_rate must be in (0, 1)")
	}
	if c.Table.BlockCacheSize < 0 {
		return invalid("table.block_cache_size must not be negative")
	}
	if c.Workers.FlushInterval <= 0 || c.Workers.CompactionInterval <= 0 {
		return invalid("workers intervals must be positive")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return invalid("log.format: %v", err)
	}
	opts, err := c.compactionOptions()
	if err != nil {
		return err
	}
	return opts.Validate()
}

func (c *Config) compactionOptions() (compaction.Options, error) {
	kind, err := compaction.ParseKind(c.Compaction.Strategy)
	if err != nil {
		return compaction.Options{}, err
	}
	return compaction.Options{
		Kind: kind,
		Simple: compaction.SimpleOptions{
			SizeRatioPercent:               c.Compaction.Simple.SizeRatioPercent,
			Level0FileNumCompactionTrigger: c.Compaction.Simple.L0CompactionTrigger,
			MaxLevels:                      c.Compaction.Simple.MaxLevels,
		},
		Leveled: compaction.LeveledOptions{
			LevelSizeMultiplier:            c.Compaction.Leveled.LevelSizeMultiplier,
			Level0FileNumCompactionTrigger: c.Compaction.Leveled.L0CompactionTrigger,
			MaxLevels:                      c.Compaction.Leveled.MaxLevels,
			BaseLevelSizeMB:                c.Compaction.Leveled.BaseLevelSizeMB,
		},
		Tiered: compaction.TieredOptions{
			NumTiers:                    c.Compaction.Tiered.NumTiers,
			MaxSizeAmplificationPercent: c.Compaction.Tiered.MaxSizeAmplificationPercent,
			SizeRatio:                   c.Compaction.Tiered.SizeRatio,
			MinMergeWidth:               c.Compaction.Tiered.MinMergeWidth,
			MaxMergeWidth:               c.Compaction.Tiered.MaxMergeWidth,
		},
	}, nil
}

// NewLogger builds the logger described by the log section.
func (c *Config) NewLogger(out io.Writer) (logrus.FieldLogger, error) {
	return logging.New(logging.Options{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		Output: out,
	})
}

// ToOptions validates the configuration and converts it to engine options.
// logger and reg are passed through; a nil logger discards engine logs.
func (c *Config) ToOptions(logger logrus.FieldLogger, reg prometheus.Registerer) (lsm.Options, error) {
	if err := c.Validate(); err != nil {
		return lsm.Options{}, err
	}
	copts, err := c.compactionOptions()
	if err != nil {
		return lsm.Options{}, err
	}
	return lsm.Options{
		BlockSize:              c.Table.BlockSize,
		TargetSSTSize:          c.MemTable.TargetSSTSize,
		NumMemtableLimit:       c.MemTable.NumMemtableLimit,
		Compaction:             copts,
		EnableWAL:              c.WAL.Enabled,
		WALSyncOnWrite:         c.WAL.SyncOnWrite,
		BloomFalsePositiveRate: c.Table.BloomFalsePositiveRate,
		BlockCacheSize:         c.Table.BlockCacheSize,
		FlushInterval:          c.Workers.FlushInterval,
		CompactionInterval:     c.Workers.CompactionInterval,
		Logger:                 logger,
		Registerer:             reg,
	}, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: config: %s", errors.ErrInvalidArgument, fmt.Sprintf(format, args...))
}
