package lsm

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"github.com/vladgaus/minilsm/internal/utils"
	"github.com/vladgaus/minilsm/pkg/compaction"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/iterator"
	"github.com/vladgaus/minilsm/pkg/logging"
	"github.com/vladgaus/minilsm/pkg/manifest"
	"github.com/vladgaus/minilsm/pkg/sstable"
	"github.com/vladgaus/minilsm/pkg/state"
)

// Compact runs compaction rounds until the strategy selects nothing or
// ctx is done. Background compaction keeps running alongside.
func (e *Engine) Compact(ctx context.Context) error {
	for {
		if e.closed.Load() {
			return errors.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := e.compactOnce(ctx)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
	}
}

// compactOnce selects a task on a snapshot, merges its inputs without
// holding the state lock, and installs the result if the inputs are still
// laid out as they were selected. It reports whether a task was selected,
// so an invalidated task also counts and is selected again next round.
func (e *Engine) compactOnce(ctx context.Context) (bool, error) {
	e.compactLock.Lock()
	defer e.compactLock.Unlock()
	if e.released {
		return false, errors.ErrClosed
	}

	s := e.snapshot()
	task := e.strategy.Select(s)
	if task == nil {
		return false, nil
	}
	start := time.Now()
	logger := e.logger.WithField("action", "lsm_compaction").WithField("task", task.String())
	logger.Debug("compaction started")

	res, err := compaction.Execute(ctx, e.taskInputs(s, task), compaction.ExecOptions{
		BottomLevel: task.BottomLevel,
		Filters:     e.filters.Snapshot(),
		TargetSize:  e.opts.TargetSSTSize,
		NewOutput:   e.newOutput,
	})
	if err != nil {
		e.discardTables(res.Outputs...)
		return false, errors.NewCompactionError(task.Target(), err)
	}
	outputs := res.OutputIDs()

	e.stateLock.Lock()
	next := e.snapshot().Clone()
	next.WithTables(res.Outputs, nil)
	next, removed, err := e.strategy.Apply(next, task, outputs, false)
	if err != nil {
		e.stateLock.Unlock()
		e.discardTables(res.Outputs...)
		if stderrors.Is(err, errors.ErrTaskInvalidated) {
			e.metrics.CompactionsInvalidated.Inc()
			logger.Info("compaction inputs changed, discarding outputs")
			return true, nil
		}
		return false, errors.NewCompactionError(task.Target(), err)
	}
	next.WithTables(nil, removed)

	if err := e.manifest.Record(manifest.Compaction(task, outputs)); err != nil {
		e.stateLock.Unlock()
		e.discardTables(res.Outputs...)
		return false, errors.NewCompactionError(task.Target(), err)
	}
	e.install(next)
	e.stateLock.Unlock()

	// Older snapshots may still read the removed tables; their mappings are
	// released once no snapshot references them.
	for _, id := range removed {
		if err := utils.RemoveFile(utils.MakeTablePath(e.dir, id)); err != nil {
			logger.WithError(err).WithField("table", id).Warn("remove compacted table")
		}
	}

	took := time.Since(start)
	e.metrics.ObserveCompaction(string(e.strategy.Name()), took, res.Read, res.Written, res.Dropped)
	logger.WithField("outputs", outputs).
		WithField("removed", len(removed)).
		WithField("dropped", res.Dropped).
		WithField("layout", next.Summary()).
		WithFields(logging.Duration(took)).
		Info("compaction finished")
	return true, nil
}

// taskInputs opens one iterator per sorted run of task, newest first.
// L0 tables may overlap and get one iterator each.
func (e *Engine) taskInputs(s *state.State, task *compaction.Task) []iterator.Iterator {
	if len(task.Tiers) > 0 {
		inputs := make([]iterator.Iterator, 0, len(task.Tiers))
		for _, tier := range task.Tiers {
			inputs = append(inputs, s.NewRunIterator(tier.Files, nil, nil))
		}
		return inputs
	}

	var inputs []iterator.Iterator
	if task.UpperLevel == 0 {
		for _, t := range s.Lookup(task.UpperFiles) {
			inputs = append(inputs, t.NewIterator(nil, nil))
		}
	} else {
		inputs = append(inputs, s.NewRunIterator(task.UpperFiles, nil, nil))
	}
	return append(inputs, s.NewRunIterator(task.LowerFiles, nil, nil))
}

// newOutput starts a compaction output table with a fresh id.
func (e *Engine) newOutput() (compaction.Output, error) {
	id := e.ids.Next()
	w, err := sstable.NewWriter(utils.MakeTablePath(e.dir, id), id, e.writerOptions())
	if err != nil {
		return nil, errors.NewIOError("create", utils.MakeTablePath(e.dir, id), err)
	}
	return &tableOutput{w: w, id: id, cache: e.cache}, nil
}

// tableOutput adapts a table writer to compaction.Output.
type tableOutput struct {
	w     *sstable.Writer
	id    uint64
	cache *sstable.BlockCache
}

func (o *tableOutput) Add(key, value []byte) error {
	return o.w.Add(key, value)
}

func (o *tableOutput) EstimatedSize() int64 {
	return int64(o.w.EstimatedSize())
}

func (o *tableOutput) Finish() (state.Table, error) {
	if _, err := o.w.Finish(); err != nil {
		return nil, err
	}
	r, err := sstable.Open(o.w.Path(), o.id, o.cache)
	if err != nil {
		_ = utils.RemoveFile(o.w.Path())
		return nil, err
	}
	return r, nil
}

func (o *tableOutput) Abort() error {
	return o.w.Abort()
}

var _ io.Closer = (*sstable.Reader)(nil)
