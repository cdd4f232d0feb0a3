// Package benchmark drives load against an embedded engine.
//
// A run spreads NumOps operations over Workers goroutines and records the
// latency of each call:
//
//	res, err := benchmark.Run(ctx, engine, benchmark.Config{
//	    Workload:  benchmark.WorkloadFillRandom,
//	    NumOps:    100000,
//	    KeySize:   16,
//	    ValueSize: 100,
//	    Workers:   4,
//	}, nil)
package benchmark

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/lsm"
)

// Workload names an access pattern.
type Workload string

const (
	WorkloadFillSeq    Workload = "fillseq"
	WorkloadFillRandom Workload = "fillrandom"
	WorkloadReadSeq    Workload = "readseq"
	WorkloadReadRandom Workload = "readrandom"
	WorkloadReadWrite  Workload = "readwrite"
	WorkloadDelete     Workload = "delete"
)

// Workloads lists every workload in run order.
var Workloads = []Workload{
	WorkloadFillSeq, WorkloadFillRandom, WorkloadReadSeq,
	WorkloadReadRandom, WorkloadReadWrite, WorkloadDelete,
}

// ParseWorkload parses a workload name.
func ParseWorkload(s string) (Workload, error) {
	for _, w := range Workloads {
		if string(w) == s {
			return w, nil
		}
	}
	return "", fmt.Errorf("%w: unknown workload %q", errors.ErrInvalidArgument, s)
}

// Config configures a run.
type Config struct {
	Workload Workload

	// NumOps is the total number of operations across workers.
	NumOps int

	KeySize   int
	ValueSize int
	Workers   int

	// ReadPercent is the share of reads in readwrite (0-100).
	ReadPercent int

	// NumKeys is the key space of random workloads. Default: NumOps.
	NumKeys int

	// Seed makes random workloads repeatable. 0 uses the clock.
	Seed int64
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{
		Workload:    WorkloadFillRandom,
		NumOps:      100000,
		KeySize:     16,
		ValueSize:   100,
		Workers:     1,
		ReadPercent: 80,
	}
}

func (c *Config) validate() error {
	if _, err := ParseWorkload(string(c.Workload)); err != nil {
		return err
	}
	if c.NumOps <= 0 || c.Workers <= 0 || c.ValueSize <= 0 {
		return fmt.Errorf("%w: ops, workers and value size must be positive", errors.ErrInvalidArgument)
	}
	if c.KeySize < 4 {
		return fmt.Errorf("%w: key size must be at least 4", errors.ErrInvalidArgument)
	}
	if c.ReadPercent < 0 || c.ReadPercent > 100 {
		return fmt.Errorf("%w: read percent must be within 0-100", errors.ErrInvalidArgument)
	}
	if c.NumKeys <= 0 {
		c.NumKeys = c.NumOps
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return nil
}

// FormatKey returns the key for n: "key" followed by n zero-padded, cut or
// padded to size. Keys sort in numeric order while n fits.
func FormatKey(n uint64, size int) []byte {
	key := fmt.Sprintf("key%0*d", size-3, n)
	return []byte(key[:size])
}

// Value returns a value of size bytes.
func Value(size int) []byte {
	v := make([]byte, size)
	for i := range v {
		v[i] = byte('a' + i%26)
	}
	return v
}

// Run executes cfg against e. progress, when not nil, is called every
// second with the operations done so far. Run stops early when ctx is
// canceled.
func Run(ctx context.Context, e *lsm.Engine, cfg Config, progress func(ops uint64, elapsed time.Duration)) (Result, error) {
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}

	stats := NewStats()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if progress == nil {
			<-stop
			return
		}
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		start := time.Now()
		for {
			select {
			case <-ticker.C:
				progress(stats.Ops(), time.Since(start))
			case <-stop:
				return
			}
		}
	}()

	value := Value(cfg.ValueSize)
	perWorker := cfg.NumOps / cfg.Workers

	stats.Start()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		w := w
		g.Go(func() error {
			rng := rand.New(rand.NewSource(cfg.Seed + int64(w)))
			first := w * perWorker
			for i := 0; i < perWorker; i++ {
				if i%256 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if err := runOp(e, cfg, rng, uint64(first+i), value, stats); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := g.Wait()
	stats.Stop()
	close(stop)
	<-done

	res := stats.Compute()
	res.Workload = cfg.Workload
	return res, err
}

// runOp runs operation seq. Only ErrClosed aborts the run; other failures
// are counted.
func runOp(e *lsm.Engine, cfg Config, rng *rand.Rand, seq uint64, value []byte, stats *Stats) error {
	random := func() []byte { return FormatKey(uint64(rng.Int63n(int64(cfg.NumKeys))), cfg.KeySize) }

	var (
		key     []byte
		read    bool
		deleted bool
	)
	switch cfg.Workload {
	case WorkloadFillSeq, WorkloadReadSeq:
		key = FormatKey(seq%uint64(cfg.NumKeys), cfg.KeySize)
		read = cfg.Workload == WorkloadReadSeq
	case WorkloadFillRandom, WorkloadReadRandom:
		key = random()
		read = cfg.Workload == WorkloadReadRandom
	case WorkloadReadWrite:
		key = random()
		read = rng.Intn(100) < cfg.ReadPercent
	case WorkloadDelete:
		key = FormatKey(seq%uint64(cfg.NumKeys), cfg.KeySize)
		deleted = true
	}

	start := time.Now()
	var err error
	switch {
	case read:
		var v []byte
		v, err = e.Get(key)
		stats.Record(time.Since(start), len(key)+len(v), 0, err)
		if err == nil && v == nil {
			stats.RecordMiss()
		}
	case deleted:
		err = e.Delete(key)
		stats.Record(time.Since(start), 0, len(key), err)
	default:
		err = e.Put(key, value)
		stats.Record(time.Since(start), 0, len(key)+len(value), err)
	}
	if stderrors.Is(err, errors.ErrClosed) {
		return err
	}
	return nil
}
