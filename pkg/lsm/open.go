package lsm

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/vladgaus/minilsm/internal/utils"
	"github.com/vladgaus/minilsm/pkg/compaction"
	"github.com/vladgaus/minilsm/pkg/compaction/leveled"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/logging"
	"github.com/vladgaus/minilsm/pkg/manifest"
	"github.com/vladgaus/minilsm/pkg/memtable"
	"github.com/vladgaus/minilsm/pkg/metrics"
	"github.com/vladgaus/minilsm/pkg/sstable"
	"github.com/vladgaus/minilsm/pkg/state"
)

// Open opens or creates an engine in dir.
//
// Recovery replays the manifest to rebuild the table layout, opens every
// table, and replays the logs of memtables that were never flushed into
// frozen memtables. A log with a torn tail keeps its valid prefix. Files
// no state refers to are removed.
func Open(dir string, opts Options) (*Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	strategy, err := newStrategy(opts.Compaction)
	if err != nil {
		return nil, err
	}

	if err := utils.EnsureDir(dir); err != nil {
		return nil, errors.NewIOError("mkdir", dir, err)
	}

	cache, err := sstable.NewBlockCache(opts.BlockCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create block cache")
	}

	logger := opts.Logger.WithField("component", "lsm").WithField("dir", dir)
	m, err := manifest.Open(utils.MakeManifestPath(dir), logger)
	if err != nil {
		return nil, errors.NewRecoveryError("manifest", err)
	}
	if err := m.EnsureStrategy(string(strategy.Name())); err != nil {
		_ = m.Close()
		return nil, err
	}

	e := &Engine{
		dir:       dir,
		opts:      opts,
		ids:       utils.NewIDGenerator(0),
		strategy:  strategy,
		manifest:  m,
		cache:     cache,
		logger:    logger,
		metrics:   metrics.New(opts.Registerer),
		flushCh:   make(chan struct{}, 1),
		compactCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}

	if err := e.recover(); err != nil {
		_ = m.Close()
		return nil, err
	}

	e.startWorkers()
	if len(e.snapshot().Frozen) > opts.NumMemtableLimit {
		notify(e.flushCh)
	}
	notify(e.compactCh)
	return e, nil
}

// recover rebuilds the state from the manifest and the memtable logs, and
// installs it with a fresh active memtable.
func (e *Engine) recover() error {
	s := state.New(memtable.Create(0), e.strategy.InitialLevels())
	unflushed := make(map[uint64]struct{})

	err := e.manifest.Replay(func(rec manifest.Record) error {
		switch rec.Kind {
		case manifest.KindNewMemtable:
			unflushed[rec.MemtableID] = struct{}{}
			e.ids.Observe(rec.MemtableID)
		case manifest.KindFlush:
			delete(unflushed, rec.TableID)
			compaction.InstallFlush(s, e.strategy, rec.TableID)
			e.ids.Observe(rec.TableID)
		case manifest.KindCompaction:
			next, _, err := e.strategy.Apply(s, rec.Task, rec.Outputs, true)
			if err != nil {
				return errors.Wrapf(err, "replay %s", rec)
			}
			s = next
			for _, id := range rec.Outputs {
				e.ids.Observe(id)
			}
		}
		return nil
	})
	if err != nil {
		return errors.NewRecoveryError("manifest", err)
	}

	if err := e.openTables(s); err != nil {
		e.closeTables(s)
		return errors.NewRecoveryError("table", err)
	}

	if e.opts.EnableWAL {
		if err := e.recoverMemtables(s, unflushed); err != nil {
			e.closeTables(s)
			return errors.NewRecoveryError("wal", err)
		}
	}

	if err := e.removeOrphans(s); err != nil {
		e.logger.WithField("action", "lsm_recover").WithError(err).Warn("remove orphan files")
	}

	id := e.ids.Next()
	mem, err := e.newMemtable(id)
	if err != nil {
		e.closeRecovered(s)
		return errors.NewRecoveryError("wal", err)
	}
	if err := e.manifest.Record(manifest.NewMemtable(id)); err != nil {
		e.dropMemtable(mem)
		e.closeRecovered(s)
		return errors.NewRecoveryError("manifest", err)
	}
	s.Memtable = mem

	e.stateLock.Lock()
	e.install(s)
	e.stateLock.Unlock()

	e.logger.WithField("action", "lsm_recover").
		WithField("strategy", e.strategy.Name()).
		WithField("tables", s.TableCount()).
		WithField("frozen", len(s.Frozen)).
		WithField("layout", s.Summary()).
		Info("engine opened")
	return nil
}

// openTables opens every table referenced by s. s is not yet published,
// so its table map is filled in place.
func (e *Engine) openTables(s *state.State) error {
	ids := append([]uint64(nil), s.L0...)
	for _, l := range s.Levels {
		ids = append(ids, l.Files...)
	}
	for _, id := range ids {
		e.ids.Observe(id)
		r, err := sstable.Open(utils.MakeTablePath(e.dir, id), id, e.cache)
		if err != nil {
			return err
		}
		s.Tables[id] = r
	}

	// Recovery does not sort while replaying; tables are open now.
	if e.strategy.Name() == compaction.KindLeveled {
		leveled.SortLevels(s)
	}
	return nil
}

// recoverMemtables replays the log of every unflushed memtable into a
// frozen memtable, newest first.
func (e *Engine) recoverMemtables(s *state.State, unflushed map[uint64]struct{}) error {
	ids := make([]uint64, 0, len(unflushed))
	for id := range unflushed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	logger := e.logger.WithField("action", "lsm_recover_wal")
	for _, id := range ids {
		path := utils.MakeWALPath(e.dir, id)
		mem, err := memtable.RecoverWithWAL(id, path, e.walOptions())
		switch {
		case errors.IsNotFound(err):
			// Created without a log, or flushed empty.
			continue
		case errors.IsTruncated(err):
			e.metrics.WALTruncations.Inc()
			logger.WithError(err).WithField("memtable", id).Warn("log ends in a torn record, keeping its valid prefix")
		case err != nil:
			return err
		}

		if mem.IsEmpty() {
			_ = mem.CloseWAL()
			_ = utils.RemoveFile(path)
			continue
		}
		mem.Freeze()
		s.Frozen = append(s.Frozen, mem)
		logger.WithField("memtable", id).WithField("entries", mem.Len()).Debug("recovered memtable")
	}
	return nil
}

// removeOrphans deletes files of dir that s does not refer to: tables
// left by unfinished flushes or compactions, logs of flushed memtables and
// temporary files.
func (e *Engine) removeOrphans(s *state.State) error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return err
	}
	live := make(map[uint64]struct{}, len(s.Frozen))
	for _, m := range s.Frozen {
		live[m.ID()] = struct{}{}
	}

	var result *multierror.Error
	for _, entry := range entries {
		name := entry.Name()
		id := utils.ParseFileNum(name)
		orphan := false
		switch utils.GetFileType(name) {
		case utils.FileTypeTable:
			e.ids.Observe(id)
			_, ok := s.Tables[id]
			orphan = !ok
		case utils.FileTypeWAL:
			e.ids.Observe(id)
			_, ok := live[id]
			orphan = !ok
		case utils.FileTypeTemp:
			orphan = true
		}
		if !orphan {
			continue
		}
		path := filepath.Join(e.dir, name)
		e.logger.WithField("action", "lsm_recover").WithField("path", path).Info("removing orphan file")
		if err := utils.RemoveFile(path); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// closeRecovered releases everything recover opened.
func (e *Engine) closeRecovered(s *state.State) {
	for _, m := range s.Frozen {
		_ = m.CloseWAL()
	}
	e.closeTables(s)
}

func (e *Engine) closeTables(s *state.State) {
	for _, t := range s.Tables {
		if r, ok := t.(*sstable.Reader); ok {
			_ = r.Close()
		}
	}
}

// Close stops the workers, waiting for work in progress, and releases the
// engine. With the WAL enabled unflushed memtables stay in their logs and
// are recovered by the next Open; without it every memtable is flushed
// first. Close is idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(e.stopCh)
	_ = e.workers.Wait()

	var result *multierror.Error
	if !e.opts.EnableWAL {
		e.stateLock.Lock()
		if !e.snapshot().Memtable.IsEmpty() {
			if err := e.freezeLocked(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		e.stateLock.Unlock()
		if err := e.flushAll(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	// Join a Flush or Compact started by a caller before Close.
	e.flushLock.Lock()
	e.compactLock.Lock()
	e.released = true
	e.compactLock.Unlock()
	e.flushLock.Unlock()

	s := e.snapshot()
	if err := s.Memtable.SyncWAL(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.Memtable.CloseWAL(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, m := range s.Frozen {
		if err := m.CloseWAL(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := e.manifest.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	e.closeTables(s)

	e.logger.WithField("action", "lsm_close").WithField("layout", s.Summary()).Info("engine closed")
	return result.ErrorOrNil()
}
