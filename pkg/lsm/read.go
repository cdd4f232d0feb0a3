package lsm

import (
	"github.com/vladgaus/minilsm/pkg/errors"
	"github.com/vladgaus/minilsm/pkg/iterator"
)

// Get retrieves a value by key.
// Returns nil, nil if the key is absent or deleted.
func (e *Engine) Get(key []byte) ([]byte, error) {
	if err := errors.ValidateKey(key); err != nil {
		return nil, err
	}
	if e.closed.Load() {
		return nil, errors.ErrClosed
	}
	e.metrics.Operations.WithLabelValues("get").Inc()

	value, found, err := e.snapshot().Get(key)
	if err != nil || !found {
		return nil, err
	}
	return value, nil
}

// Scan returns an iterator over the live keys in [lower, upper) as of
// now. Nil bounds are open. The iterator keeps its snapshot readable
// until it is closed, and must be closed before the engine.
func (e *Engine) Scan(lower, upper []byte) (iterator.Iterator, error) {
	if e.closed.Load() {
		return nil, errors.ErrClosed
	}
	e.metrics.Operations.WithLabelValues("scan").Inc()
	return e.snapshot().NewIterator(lower, upper), nil
}
