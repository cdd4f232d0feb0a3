package manifest

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vladgaus/minilsm/pkg/compaction"
)

// Kind identifies a manifest record.
type Kind uint8

const (
	// KindNewMemtable records the creation of a memtable and its WAL.
	KindNewMemtable Kind = iota + 1
	// KindFlush records a memtable flushed into the table with the same id.
	KindFlush
	// KindCompaction records a finished compaction task and its outputs.
	KindCompaction
)

func (k Kind) String() string {
	switch k {
	case KindNewMemtable:
		return "new_memtable"
	case KindFlush:
		return "flush"
	case KindCompaction:
		return "compaction"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Record is one state transition.
type Record struct {
	Kind       Kind             `msgpack:"kind"`
	MemtableID uint64           `msgpack:"memtable_id,omitempty"`
	TableID    uint64           `msgpack:"table_id,omitempty"`
	Task       *compaction.Task `msgpack:"task,omitempty"`
	Outputs    []uint64         `msgpack:"outputs,omitempty"`
}

// NewMemtable returns a record for a created memtable.
func NewMemtable(id uint64) Record {
	return Record{Kind: KindNewMemtable, MemtableID: id}
}

// Flush returns a record for a flushed memtable.
func Flush(id uint64) Record {
	return Record{Kind: KindFlush, TableID: id}
}

// Compaction returns a record for an installed compaction.
func Compaction(task *compaction.Task, outputs []uint64) Record {
	return Record{Kind: KindCompaction, Task: task, Outputs: outputs}
}

func (r Record) String() string {
	switch r.Kind {
	case KindNewMemtable:
		return fmt.Sprintf("%s %d", r.Kind, r.MemtableID)
	case KindFlush:
		return fmt.Sprintf("%s %d", r.Kind, r.TableID)
	case KindCompaction:
		return fmt.Sprintf("%s [%v] -> %v", r.Kind, r.Task, r.Outputs)
	default:
		return r.Kind.String()
	}
}

func (r Record) validate() error {
	switch r.Kind {
	case KindNewMemtable, KindFlush:
		return nil
	case KindCompaction:
		if r.Task == nil {
			return fmt.Errorf("compaction record without task")
		}
		return nil
	default:
		return fmt.Errorf("unknown record kind %d", uint8(r.Kind))
	}
}

func encodeRecord(r Record) ([]byte, error) {
	return msgpack.Marshal(&r)
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, r.validate()
}
