package lsm

import (
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

// Flush freezes the active memtable and flushes every frozen memtable,
// leaving all data in tables.
func (e *Engine) Flush() error {
	if err := e.ForceFreeze(); err != nil {
		return err
	}
	return e.flushAll()
}

func (e *Engine) flushAll() error {
	for {
		flushed, err := e.flushOldest()
		if err != nil || !flushed {
			return err
		}
	}
}

// flushPending flushes the oldest frozen memtables while more than
// NumMemtableLimit are waiting.
func (e *Engine) flushPending() error {
	for len(e.snapshot().Frozen) > e.opts.NumMemtableLimit {
		if _, err := e.flushOldest(); err != nil {
			return err
		}
	}
	return nil
}

// flushOldest writes the oldest frozen memtable to an L0 table that takes
// the memtable's id, and installs it. The table is built without the
// state lock; only flushes remove frozen memtables, so the memtable is
// still the oldest when the install takes the lock.
func (e *Engine) flushOldest() (bool, error) {
	e.flushLock.Lock()
	defer e.flushLock.Unlock()
	if e.released {
		return false, errors.ErrClosed
	}

	frozen := e.snapshot().Frozen
	if len(frozen) == 0 {
		return false, nil
	}
	mem := frozen[len(frozen)-1]
	if !mem.IsFrozen() {
		return false, errors.Errorf("flush memtable %d: memtable is not frozen", mem.ID())
	}
	start := time.Now()

	var table *sstable.Reader
	if !mem.IsEmpty() {
		var err error
		table, err = e.buildTable(mem.ID(), mem.NewIterator(nil, nil))
		if err != nil {
			return false, errors.Wrapf(err, "flush memtable %d", mem.ID())
		}
	}

	e.stateLock.Lock()
	cur := e.snapshot()
	if n := len(cur.Frozen); n == 0 || cur.Frozen[n-1] != mem {
		e.stateLock.Unlock()
		e.discardTables(tableOrNil(table)...)
		return false, errors.Errorf("flush memtable %d: no longer the oldest frozen memtable", mem.ID())
	}

	next := cur.Clone()
	next.Frozen = next.Frozen[:len(next.Frozen)-1]
	if table != nil {
		if err := e.manifest.Record(manifest.Flush(table.ID())); err != nil {
			e.stateLock.Unlock()
			e.discardTables(table)
			return false, err
		}
		next.WithTables([]state.Table{table}, nil)
		compaction.InstallFlush(next, e.strategy, table.ID())
	}
	e.install(next)
	e.stateLock.Unlock()

	// The flush is durable now, so the log can go.
	if err := mem.CloseWAL(); err != nil {
		e.logger.WithField("action", "lsm_flush").WithError(err).Warn("close flushed memtable log")
	}
	if path := mem.WALPath(); path != "" {
		if err := utils.RemoveFile(path); err != nil {
			e.logger.WithField("action", "lsm_flush").WithError(err).
				WithField("path", path).
				Warn("remove flushed memtable log")
		}
	}

	took := time.Since(start)
	e.metrics.ObserveFlush(took)
	e.logger.WithField("action", "lsm_flush").
		WithField("memtable", mem.ID()).
		WithField("entries", mem.Len()).
		WithField("layout", next.Summary()).
		WithFields(logging.Duration(took)).
		Debug("flushed memtable")

	if table != nil {
		notify(e.compactCh)
	}
	return true, nil
}

// buildTable writes it into a new table file and opens it.
func (e *Engine) buildTable(id uint64, it iterator.Iterator) (*sstable.Reader, error) {
	defer it.Close()

	path := utils.MakeTablePath(e.dir, id)
	if _, err := sstable.Build(path, id, it, e.writerOptions()); err != nil {
		return nil, err
	}
	r, err := sstable.Open(path, id, e.cache)
	if err != nil {
		_ = utils.RemoveFile(path)
		return nil, err
	}
	return r, nil
}

func tableOrNil(t *sstable.Reader) []state.Table {
	if t == nil {
		return nil
	}
	return []state.Table{t}
}

// discardTables closes and deletes tables that were never installed.
func (e *Engine) discardTables(tables ...state.Table) {
	for _, t := range tables {
		if c, ok := t.(io.Closer); ok {
			_ = c.Close()
		}
		path := utils.MakeTablePath(e.dir, t.ID())
		if err := utils.RemoveFile(path); err != nil {
			e.logger.WithError(err).WithField("path", path).Warn("remove discarded table")
		}
	}
}
