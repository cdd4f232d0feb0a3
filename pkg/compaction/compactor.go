package compaction

import (
	"context"

	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/iterator"
	"github.com/vladgaus/minilsm/pkg/state"
)

// Output is a table file being written by a compaction.
type Output interface {
	Add(key, value []byte) error
	EstimatedSize() int64
	// Finish completes the file and opens it for reading.
	Finish() (state.Table, error)
	// Abort removes the partial file.
	Abort() error
}

// OutputFactory starts a new output file with a fresh id.
type OutputFactory func() (Output, error)

// ExecOptions configures Execute.
type ExecOptions struct {
	// BottomLevel drops tombstones, since nothing older can hide behind them.
	BottomLevel bool
	// Filters drop matching keys.
	Filters []Filter
	// TargetSize starts a new output once the current one reaches it.
	TargetSize int64
	// NewOutput creates output files.
	NewOutput OutputFactory
}

// Result describes an executed compaction.
type Result struct {
	// Outputs in key order.
	Outputs []state.Table
	Read    int64
	Written int64
	Dropped int64
}

// OutputIDs returns the ids of the outputs, in key order.
func (r *Result) OutputIDs() []uint64 {
	ids := make([]uint64, len(r.Outputs))
	for i, t := range r.Outputs {
		ids[i] = t.ID()
	}
	return ids
}

// Execute merges inputs, ordered newest first, into new tables.
//
// For each key only the newest version survives. Tombstones are dropped on
// bottom-level tasks, and filtered keys are always dropped. A merge that
// drops every key produces no outputs.
//
// On error the result still lists the outputs already finished so the
// caller can remove them. The context is checked between output files.
func Execute(ctx context.Context, inputs []iterator.Iterator, opts ExecOptions) (*Result, error) {
	res := &Result{}
	if opts.NewOutput == nil {
		return res, errors.Errorf("compaction: no output factory")
	}

	merged := iterator.NewMergeIterator(inputs...)
	defer merged.Close()

	var out Output
	abort := func(err error) (*Result, error) {
		if out != nil {
			_ = out.Abort()
		}
		return res, err
	}

	for ; merged.Valid(); merged.Next() {
		key, value := merged.Key(), merged.Value()
		res.Read++

		if opts.BottomLevel && iterator.IsTombstone(value) {
			res.Dropped++
			continue
		}
		if dropByFilters(opts.Filters, key) {
			res.Dropped++
			continue
		}

		if out == nil {
			if err := ctx.Err(); err != nil {
				return abort(err)
			}
			var err error
			if out, err = opts.NewOutput(); err != nil {
				return res, errors.Wrap(err, "compaction: create output")
			}
		}

		if err := out.Add(key, value); err != nil {
			return abort(errors.Wrap(err, "compaction: write output"))
		}
		res.Written++

		if opts.TargetSize > 0 && out.EstimatedSize() >= opts.TargetSize {
			t, err := out.Finish()
			out = nil
			if err != nil {
				return res, errors.Wrap(err, "compaction: finish output")
			}
			res.Outputs = append(res.Outputs, t)
		}
	}

	if err := merged.Error(); err != nil {
		return abort(errors.Wrap(err, "compaction: read inputs"))
	}

	if out != nil {
		t, err := out.Finish()
		if err != nil {
			return res, errors.Wrap(err, "compaction: finish output")
		}
		res.Outputs = append(res.Outputs, t)
	}
	return res, nil
}
