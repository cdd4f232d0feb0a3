// minilsm is a command-line tool for an embedded minilsm directory.
//
// Usage:
//
//	minilsm [--config FILE] [--dir DIR] [--log-level LEVEL] <command> [arguments]
//
// Commands:
//
//	put <key> <value>      Write a value
//	get <key>              Read a value
//	delete <key>           Delete a key
//	scan [--start] [--end] List keys in a range
//	flush [--compact]      Flush memtables, optionally compact
//	stats [--metrics]      Show the table layout
//	fill                   Run a load workload
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/urfave/cli/v2"

	"github.com/vladgaus/minilsm/pkg/benchmark"
	"github.com/vladgaus/minilsm/pkg/config"
	"github.com/vladgaus/minilsm/pkg/lsm"
)

// Build-time variables
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "minilsm",
		Usage:   "inspect and load an embedded LSM key-value store",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"MINILSM_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "data directory, overrides data_dir",
				EnvVars: []string{"MINILSM_DIR"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "trace, debug, info, warn or error, overrides log.level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "put",
				Usage:     "write a value",
				ArgsUsage: "<key> <value>",
				Action: withEngine(func(c *cli.Context, e *lsm.Engine, _ *prometheus.Registry) error {
					if c.NArg() != 2 {
						return cli.Exit("put takes a key and a value", 2)
					}
					return e.Put([]byte(c.Args().Get(0)), []byte(c.Args().Get(1)))
				}),
			},
			{
				Name:      "get",
				Usage:     "read a value",
				ArgsUsage: "<key>",
				Action: withEngine(func(c *cli.Context, e *lsm.Engine, _ *prometheus.Registry) error {
					if c.NArg() != 1 {
						return cli.Exit("get takes a key", 2)
					}
					v, err := e.Get([]byte(c.Args().First()))
					if err != nil {
						return err
					}
					if v == nil {
						return cli.Exit("not found", 1)
					}
					fmt.Fprintln(c.App.Writer, string(v))
					return nil
				}),
			},
			{
				Name:      "delete",
				Usage:     "delete a key",
				ArgsUsage: "<key>",
				Action: withEngine(func(c *cli.Context, e *lsm.Engine, _ *prometheus.Registry) error {
					if c.NArg() != 1 {
						return cli.Exit("delete takes a key", 2)
					}
					return e.Delete([]byte(c.Args().First()))
				}),
			},
			{
				Name:  "scan",
				Usage: "list keys in [start, end)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "start", Usage: "inclusive lower bound"},
					&cli.StringFlag{Name: "end", Usage: "exclusive upper bound"},
					&cli.IntFlag{Name: "limit", Usage: "stop after this many keys, 0 for all"},
					&cli.BoolFlag{Name: "keys-only", Usage: "print keys without values"},
				},
				Action: withEngine(scan),
			},
			{
				Name:  "flush",
				Usage: "freeze and flush every memtable",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "compact", Usage: "compact until the strategy has nothing to do"},
				},
				Action: withEngine(func(c *cli.Context, e *lsm.Engine, _ *prometheus.Registry) error {
					if err := e.Flush(); err != nil {
						return err
					}
					if c.Bool("compact") {
						if err := e.Compact(c.Context); err != nil {
							return err
						}
					}
					fmt.Fprintln(c.App.Writer, e.Stats().Layout)
					return nil
				}),
			},
			{
				Name:  "stats",
				Usage: "show the memtables and table layout",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "metrics", Usage: "also dump engine metrics"},
				},
				Action: withEngine(stats),
			},
			{
				Name:  "fill",
				Usage: "run a load workload and report latencies",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "workload", Value: string(benchmark.WorkloadFillRandom), Usage: "fillseq, fillrandom, readseq, readrandom, readwrite or delete"},
					&cli.IntFlag{Name: "num", Value: 100000, Usage: "number of operations"},
					&cli.IntFlag{Name: "key-size", Value: 16, Usage: "key size in bytes"},
					&cli.IntFlag{Name: "value-size", Value: 100, Usage: "value size in bytes"},
					&cli.IntFlag{Name: "workers", Value: 1, Usage: "concurrent workers"},
					&cli.IntFlag{Name: "read-percent", Value: 80, Usage: "read share of readwrite"},
					&cli.Int64Flag{Name: "seed", Usage: "random seed, 0 for the clock"},
				},
				Action: withEngine(fill),
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withEngine opens the engine described by the global flags around action.
func withEngine(action func(*cli.Context, *lsm.Engine, *prometheus.Registry) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg := config.DefaultConfig()
		if path := c.String("config"); path != "" {
			var err error
			if cfg, err = config.LoadFromFile(path); err != nil {
				return err
			}
		}
		if dir := c.String("dir"); dir != "" {
			cfg.DataDir = dir
		}
		if level := c.String("log-level"); level != "" {
			cfg.Log.Level = level
		}

		logger, err := cfg.NewLogger(c.App.ErrWriter)
		if err != nil {
			return err
		}
		reg := prometheus.NewRegistry()
		opts, err := cfg.ToOptions(logger, reg)
		if err != nil {
			return err
		}
		e, err := lsm.Open(cfg.DataDir, opts)
		if err != nil {
			return err
		}

		err = action(c, e, reg)
		if cerr := e.Close(); err == nil {
			err = cerr
		}
		return err
	}
}

func scan(c *cli.Context, e *lsm.Engine, _ *prometheus.Registry) error {
	var lower, upper []byte
	if s := c.String("start"); s != "" {
		lower = []byte(s)
	}
	if s := c.String("end"); s != "" {
		upper = []byte(s)
	}
	it, err := e.Scan(lower, upper)
	if err != nil {
		return err
	}
	defer it.Close()

	limit := c.Int("limit")
	n := 0
	for ; it.Valid() && (limit == 0 || n < limit); it.Next() {
		if c.Bool("keys-only") {
			fmt.Fprintln(c.App.Writer, string(it.Key()))
		} else {
			fmt.Fprintf(c.App.Writer, "%s\t%s\n", it.Key(), it.Value())
		}
		n++
	}
	return it.Error()
}

func stats(c *cli.Context, e *lsm.Engine, reg *prometheus.Registry) error {
	st := e.Stats()
	w := c.App.Writer
	fmt.Fprintf(w, "strategy:  %s\n", st.Strategy)
	fmt.Fprintf(w, "memtable:  id %d, %d entries, %d bytes\n", st.ActiveMemtableID, st.ActiveMemtableLen, st.ActiveMemtableSz)
	fmt.Fprintf(w, "frozen:    %d\n", st.FrozenMemtables)
	fmt.Fprintf(w, "tables:    %d\n", st.TableCount())
	for _, l := range st.Levels {
		fmt.Fprintf(w, "  L%-3d %5d files %12d bytes\n", l.Level, l.NumFiles, l.Size)
	}
	fmt.Fprintf(w, "layout:    %s\n", st.Layout)

	if !c.Bool("metrics") {
		return nil
	}
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func fill(c *cli.Context, e *lsm.Engine, _ *prometheus.Registry) error {
	workload, err := benchmark.ParseWorkload(c.String("workload"))
	if err != nil {
		return err
	}
	cfg := benchmark.Config{
		Workload:    workload,
		NumOps:      c.Int("num"),
		KeySize:     c.Int("key-size"),
		ValueSize:   c.Int("value-size"),
		Workers:     c.Int("workers"),
		ReadPercent: c.Int("read-percent"),
		Seed:        c.Int64("seed"),
	}

	w := c.App.Writer
	fmt.Fprintf(w, "running %s: %d ops, %d workers, %dB keys, %dB values\n",
		cfg.Workload, cfg.NumOps, cfg.Workers, cfg.KeySize, cfg.ValueSize)
	res, err := benchmark.Run(c.Context, e, cfg, func(ops uint64, elapsed time.Duration) {
		fmt.Fprintf(w, "\r  %d ops (%.0f ops/sec)    ", ops, float64(ops)/elapsed.Seconds())
	})
	fmt.Fprintln(w)
	res.Print(w)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "layout:      %s\n", e.Stats().Layout)
	return nil
}
