package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladgaus/minilsm/pkg/compaction"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/lsm"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, int64(2*1024*1024), cfg.MemTable.TargetSSTSize)
	assert.Equal(t, 2, cfg.MemTable.NumMemtableLimit)
	assert.True(t, cfg.WAL.Enabled)
	assert.Equal(t, "none", cfg.Compaction.Strategy)
	assert.Equal(t, 50*time.Millisecond, cfg.Workers.FlushInterval)

	// Defaults convert back to the engine defaults.
	opts, err := cfg.ToOptions(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, lsm.DefaultOptions(), opts)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, true},
		{"zero target size", func(c *Config) { c.MemTable.TargetSSTSize = 0 }, true},
		{"zero memtable limit", func(c *Config) { c.MemTable.NumMemtableLimit = 0 }, false},
		{"negative memtable limit", func(c *Config) { c.MemTable.NumMemtableLimit = -1 }, true},
		{"zero block size", func(c *Config) { c.Table.BlockSize = 0 }, true},
		{"bloom rate of one", func(c *Config) { c.Table.BloomFalsePositiveRate = 1 }, true},
		{"negative cache", func(c *Config) { c.Table.BlockCacheSize = -1 }, true},
		{"zero flush interval", func(c *Config) { c.Workers.FlushInterval = 0 }, true},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"unknown strategy", func(c *Config) { c.Compaction.Strategy = "fifo" }, true},
		{
			name: "tiered with one tier",
			modify: func(c *Config) {
				c.Compaction.Strategy = "tiered"
				c.Compaction.Tiered.NumTiers = 1
			},
			wantErr: true,
		},
		{
			name: "unused block is not checked",
			modify: func(c *Config) {
				c.Compaction.Strategy = "simple"
				c.Compaction.Tiered.NumTiers = 1
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsInvalidArgument(err), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
data_dir: /var/lib/minilsm
memtable:
  target_sst_size: 1048576
wal:
  enabled: false
compaction:
  strategy: leveled
  leveled:
    max_levels: 6
workers:
  flush_interval: 250ms
log:
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/minilsm", cfg.DataDir)
	assert.Equal(t, int64(1<<20), cfg.MemTable.TargetSSTSize)
	assert.False(t, cfg.WAL.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Workers.FlushInterval)

	// Fields left out keep their defaults.
	assert.Equal(t, 2, cfg.MemTable.NumMemtableLimit)
	assert.Equal(t, 50*time.Millisecond, cfg.Workers.CompactionInterval)
	assert.Equal(t, compaction.DefaultLeveledOptions().LevelSizeMultiplier, cfg.Compaction.Leveled.LevelSizeMultiplier)

	reg := prometheus.NewRegistry()
	opts, err := cfg.ToOptions(nil, reg)
	require.NoError(t, err)
	assert.Equal(t, compaction.KindLeveled, opts.Compaction.Kind)
	assert.Equal(t, 6, opts.Compaction.Leveled.MaxLevels)
	assert.False(t, opts.EnableWAL)
	assert.Equal(t, prometheus.Registerer(reg), opts.Registerer)
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"data_dir": "/tmp/db", "compaction": {"strategy": "tiered"}}`))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/db", cfg.DataDir)
	assert.Equal(t, "tiered", cfg.Compaction.Strategy)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("memtable:\n  max_size: 10\n"))
	assert.True(t, errors.IsInvalidArgument(err), "got %v", err)
}

func TestConfigLoadSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	original := DefaultConfig()
	original.DataDir = "/custom/data/dir"
	original.MemTable.TargetSSTSize = 8 << 20
	original.Compaction.Strategy = "tiered"
	original.Workers.CompactionInterval = 5 * time.Second
	require.NoError(t, original.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsNotFound(err), "got %v", err)
}

func TestNewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log = LogConfig{Level: "debug", Format: "json"}

	var buf bytes.Buffer
	logger, err := cfg.NewLogger(&buf)
	require.NoError(t, err)
	logger.WithField("action", "test").Debug("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"action":"test"`)

	l, ok := logger.(*logrus.Logger)
	require.True(t, ok)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
}
