package lsm

import (
	stderrors "errors"

	"github.com/vladgaus/minilsm/internal/utils"
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/manifest"
	"github.com/vladgaus/minilsm/pkg/memtable"
)

// Put stores a key-value pair. Empty keys and empty values are rejected;
// the empty value is reserved for tombstones.
func (e *Engine) Put(key, value []byte) error {
	if err := errors.ValidateKey(key); err != nil {
		return err
	}
	if err := errors.ValidateValue(value); err != nil {
		return err
	}
	e.metrics.Operations.WithLabelValues("put").Inc()
	return e.write(key, value)
}

// Delete removes a key by writing a tombstone.
func (e *Engine) Delete(key []byte) error {
	if err := errors.ValidateKey(key); err != nil {
		return err
	}
	e.metrics.Operations.WithLabelValues("delete").Inc()
	return e.write(key, nil)
}

// WriteOp is one record of a batch.
type WriteOp struct {
	Key   []byte
	Value []byte
	// Delete writes a tombstone; Value is ignored.
	Delete bool
}

// PutOp returns a put record.
func PutOp(key, value []byte) WriteOp {
	return WriteOp{Key: key, Value: value}
}

// DeleteOp returns a delete record.
func DeleteOp(key []byte) WriteOp {
	return WriteOp{Key: key, Delete: true}
}

// WriteBatch applies ops in order. Every op is validated before the first
// is applied. The batch is not atomic: each op is written, and may freeze
// the memtable, on its own, and a crash can keep a prefix of the batch.
func (e *Engine) WriteBatch(ops []WriteOp) error {
	for _, op := range ops {
		if err := errors.ValidateKey(op.Key); err != nil {
			return err
		}
		if op.Delete {
			continue
		}
		if err := errors.ValidateValue(op.Value); err != nil {
			return err
		}
	}

	for _, op := range ops {
		value := op.Value
		label := "put"
		if op.Delete {
			value, label = nil, "delete"
		}
		e.metrics.Operations.WithLabelValues(label).Inc()
		if err := e.write(op.Key, value); err != nil {
			return err
		}
	}
	return nil
}

// write puts one entry into the active memtable. A freeze between taking
// the snapshot and the put makes the memtable refuse it; the put is then
// retried on the new active memtable.
func (e *Engine) write(key, value []byte) error {
	for {
		if e.closed.Load() {
			return errors.ErrClosed
		}
		mem := e.snapshot().Memtable
		err := mem.Put(key, value)
		if stderrors.Is(err, errors.ErrFrozen) {
			continue
		}
		if err != nil {
			return err
		}
		return e.tryFreeze(mem.ApproximateSize())
	}
}

// tryFreeze freezes the active memtable once estimatedSize reaches the
// target size. The size is checked again under the state lock, so
// concurrent writers crossing the threshold together freeze only once.
func (e *Engine) tryFreeze(estimatedSize int64) error {
	if estimatedSize < e.opts.TargetSSTSize {
		return nil
	}

	e.stateLock.Lock()
	defer e.stateLock.Unlock()

	if e.snapshot().Memtable.ApproximateSize() < e.opts.TargetSSTSize {
		return nil
	}
	return e.freezeLocked()
}

// ForceFreeze freezes the active memtable regardless of its size. An
// empty memtable is left in place.
func (e *Engine) ForceFreeze() error {
	if e.closed.Load() {
		return errors.ErrClosed
	}

	e.stateLock.Lock()
	defer e.stateLock.Unlock()

	if e.snapshot().Memtable.IsEmpty() {
		return nil
	}
	return e.freezeLocked()
}

// freezeLocked moves the active memtable to the front of the frozen list
// and installs a new one. Caller must hold e.stateLock.
func (e *Engine) freezeLocked() error {
	id := e.ids.Next()
	mem, err := e.newMemtable(id)
	if err != nil {
		return err
	}
	if err := e.manifest.Record(manifest.NewMemtable(id)); err != nil {
		e.dropMemtable(mem)
		return err
	}

	cur := e.snapshot()
	old := cur.Memtable

	// Freeze waits out in-flight puts, so a published frozen memtable never
	// changes under a flush. Writers refused here retry until the new
	// memtable is installed.
	old.Freeze()

	next := cur.Clone()
	next.Memtable = mem
	next.Frozen = append([]*memtable.MemTable{old}, next.Frozen...)
	e.install(next)

	if err := old.SyncWAL(); err != nil {
		e.logger.WithField("action", "lsm_freeze").WithError(err).
			WithField("memtable", old.ID()).
			Warn("sync frozen memtable log")
	}

	e.metrics.Freezes.Inc()
	e.logger.WithField("action", "lsm_freeze").
		WithField("memtable", old.ID()).
		WithField("size", old.ApproximateSize()).
		WithField("frozen", len(next.Frozen)).
		Debug("froze memtable")

	if len(next.Frozen) > e.opts.NumMemtableLimit {
		notify(e.flushCh)
	}
	return nil
}

// dropMemtable closes and removes the log of a memtable that was never
// published.
func (e *Engine) dropMemtable(mem *memtable.MemTable) {
	_ = mem.CloseWAL()
	if path := mem.WALPath(); path != "" {
		_ = utils.RemoveFile(path)
	}
}

// Sync forces the active memtable's log to stable storage.
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return errors.ErrClosed
	}
	return e.snapshot().Memtable.SyncWAL()
}
