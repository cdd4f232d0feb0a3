package lsm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// startWorkers launches the flush and compaction workers. They stop when
// stopCh is closed and are joined by Close.
func (e *Engine) startWorkers() {
	e.workers.Go(func() error {
		e.runWorker("flush", e.opts.FlushInterval, e.flushCh, e.flushPending)
		return nil
	})
	e.workers.Go(func() error {
		e.runWorker("compaction", e.opts.CompactionInterval, e.compactCh, e.compactStep)
		return nil
	})
}

// compactStep runs one compaction round and wakes itself again when there
// was work, so a backlog drains without waiting for the ticker.
func (e *Engine) compactStep() error {
	done, err := e.compactOnce(context.Background())
	if done {
		notify(e.compactCh)
	}
	return err
}

// runWorker calls work on every tick or trigger until stopCh is closed.
// Failures are logged and counted, and later attempts are held back by an
// exponential backoff that resets on the first success. Work in progress
// always finishes before the worker exits.
func (e *Engine) runWorker(name string, interval time.Duration, trigger <-chan struct{}, work func() error) {
	logger := e.logger.WithField("worker", name)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.MaxInterval = 100 * interval
	bo.MaxElapsedTime = 0
	bo.Reset()
	var retryAt time.Time

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
		case <-trigger:
		}

		if time.Now().Before(retryAt) {
			continue
		}
		if err := work(); err != nil {
			delay := bo.NextBackOff()
			retryAt = time.Now().Add(delay)
			e.metrics.BackgroundErrors.WithLabelValues(name).Inc()
			logger.WithError(err).WithField("retry_in", delay.String()).Error("background work failed")
			continue
		}
		if !retryAt.IsZero() {
			bo.Reset()
			retryAt = time.Time{}
		}
	}
}
