// Package manifest provides crash recovery through a durable log of state
// transitions.
//
// The manifest is a bbolt file holding two buckets:
//
//	records: sequence number (8B big-endian) -> msgpack Record
//	meta:    "strategy" -> compaction kind the directory was created with
//
// Every Record call is one bolt transaction, so a record is durable once
// the call returns. On open the engine replays every record in order to
// rebuild which memtables and tables are live and where each table sits.
package manifest

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/vladgaus/minilsm/pkg/errors"
)

var (
	recordsBucket = []byte("records")
	metaBucket    = []byte("meta")
	keyStrategy   = []byte("strategy")
)

// Manifest is an open manifest file. It is safe for concurrent use.
type Manifest struct {
	mu     sync.Mutex
	db     *bolt.DB
	path   string
	logger logrus.FieldLogger
}

// Open opens or creates the manifest at path.
func Open(path string, logger logrus.FieldLogger) (*Manifest, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.NewIOError("open", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(recordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "init manifest %q", path)
	}

	return &Manifest{
		db:     db,
		path:   path,
		logger: logger.WithField("component", "manifest"),
	}, nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return m.path
}

// EnsureStrategy records kind on first use and afterwards rejects a
// different kind: the table layout written by one strategy cannot be read
// by another.
func (m *Manifest) EnsureStrategy(kind string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(metaBucket)
		stored := b.Get(keyStrategy)
		if stored == nil {
			return b.Put(keyStrategy, []byte(kind))
		}
		if string(stored) != kind {
			return fmt.Errorf("%w: directory was created with compaction strategy %q, not %q",
				errors.ErrInvalidArgument, stored, kind)
		}
		return nil
	})
}

// Record durably appends rec.
func (m *Manifest) Record(rec Record) error {
	if err := rec.validate(); err != nil {
		return errors.Wrap(err, "manifest record")
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return errors.Wrap(err, "encode manifest record")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err = m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return errors.NewIOError("write", m.path, err)
	}

	m.logger.WithField("action", "manifest_record").
		WithField("record", rec.String()).
		Debug("recorded state transition")
	return nil
}

// Replay calls fn for every record in the order they were written. It
// stops at the first error fn returns.
func (m *Manifest) Replay(fn func(Record) error) error {
	return m.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			rec, err := decodeRecord(v)
			if err != nil {
				return errors.NewCorruptionError(m.path, -1,
					fmt.Sprintf("record %d: %v", binary.BigEndian.Uint64(k), err))
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len returns the number of records.
func (m *Manifest) Len() (int, error) {
	var n int
	err := m.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(recordsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the manifest file.
func (m *Manifest) Close() error {
	return m.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
