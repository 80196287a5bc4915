// Package batch implements the WriteBatch wire format.
//
// A batch is a 12-byte header (8-byte starting sequence, 4-byte count,
// little-endian) followed by tagged records. The same byte payload is what
// gets framed into a single WAL record, so recovery decodes batches straight
// out of the log.
//
// Reference: RocksDB v10.7.5
//   - db/write_batch.cc
//   - include/rocksdb/write_batch.h
package batch

import (
	"encoding/binary"
	"errors"

	"github.com/khr0407/rocksdb/internal/dbformat"
	"github.com/khr0407/rocksdb/internal/encoding"
)

// HeaderSize is the size of the WriteBatch header.
const HeaderSize = 12

var (
	// ErrCorrupted indicates a malformed record inside a batch.
	ErrCorrupted = errors.New("batch: corrupted write batch")

	// ErrTooSmall indicates a payload smaller than the batch header.
	ErrTooSmall = errors.New("batch: payload smaller than header")
)

// WriteBatch is an ordered collection of updates applied atomically.
type WriteBatch struct {
	data []byte
}

// New returns an empty batch.
func New() *WriteBatch {
	return &WriteBatch{data: make([]byte, HeaderSize)}
}

// NewFromData wraps an existing serialized batch (e.g. a WAL record).
func NewFromData(data []byte) (*WriteBatch, error) {
	if len(data) < HeaderSize {
		return nil, ErrTooSmall
	}
	return &WriteBatch{data: data}, nil
}

// Data returns the serialized batch including the header.
func (wb *WriteBatch) Data() []byte { return wb.data }

// Size returns the serialized size in bytes.
func (wb *WriteBatch) Size() int { return len(wb.data) }

// Count returns the number of records.
func (wb *WriteBatch) Count() uint32 {
	return binary.LittleEndian.Uint32(wb.data[8:12])
}

// SetCount overwrites the record count.
func (wb *WriteBatch) SetCount(n uint32) {
	binary.LittleEndian.PutUint32(wb.data[8:12], n)
}

// Sequence returns the starting sequence number.
func (wb *WriteBatch) Sequence() uint64 {
	return binary.LittleEndian.Uint64(wb.data[0:8])
}

// SetSequence overwrites the starting sequence number.
func (wb *WriteBatch) SetSequence(seq uint64) {
	binary.LittleEndian.PutUint64(wb.data[0:8], seq)
}

// Clear resets the batch to empty.
func (wb *WriteBatch) Clear() {
	wb.data = wb.data[:HeaderSize]
	for i := range wb.data {
		wb.data[i] = 0
	}
}

func (wb *WriteBatch) bump() {
	wb.SetCount(wb.Count() + 1)
}

func (wb *WriteBatch) appendCF(t, cfT dbformat.ValueType, cfID uint32) {
	if cfID == 0 {
		wb.data = append(wb.data, byte(t))
	} else {
		wb.data = append(wb.data, byte(cfT))
		wb.data = encoding.AppendVarint32(wb.data, cfID)
	}
}

// Put records a key/value write in the default column family.
func (wb *WriteBatch) Put(key, value []byte) { wb.PutCF(0, key, value) }

// PutCF records a key/value write in the given column family.
func (wb *WriteBatch) PutCF(cfID uint32, key, value []byte) {
	wb.appendCF(dbformat.TypeValue, dbformat.TypeColumnFamilyValue, cfID)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, value)
	wb.bump()
}

// Delete records a deletion in the default column family.
func (wb *WriteBatch) Delete(key []byte) { wb.DeleteCF(0, key) }

// DeleteCF records a deletion in the given column family.
func (wb *WriteBatch) DeleteCF(cfID uint32, key []byte) {
	wb.appendCF(dbformat.TypeDeletion, dbformat.TypeColumnFamilyDeletion, cfID)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.bump()
}

// SingleDelete records a single-deletion in the default column family.
func (wb *WriteBatch) SingleDelete(key []byte) { wb.SingleDeleteCF(0, key) }

// SingleDeleteCF records a single-deletion in the given column family.
func (wb *WriteBatch) SingleDeleteCF(cfID uint32, key []byte) {
	wb.appendCF(dbformat.TypeSingleDeletion, dbformat.TypeColumnFamilySingleDeletion, cfID)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.bump()
}

// Merge records a merge operand in the default column family.
func (wb *WriteBatch) Merge(key, value []byte) { wb.MergeCF(0, key, value) }

// MergeCF records a merge operand in the given column family.
func (wb *WriteBatch) MergeCF(cfID uint32, key, value []byte) {
	wb.appendCF(dbformat.TypeMerge, dbformat.TypeColumnFamilyMerge, cfID)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, value)
	wb.bump()
}

// DeleteRange records a range deletion [start, end) in the default column family.
func (wb *WriteBatch) DeleteRange(start, end []byte) { wb.DeleteRangeCF(0, start, end) }

// DeleteRangeCF records a range deletion in the given column family.
func (wb *WriteBatch) DeleteRangeCF(cfID uint32, start, end []byte) {
	wb.appendCF(dbformat.TypeRangeDeletion, dbformat.TypeColumnFamilyRangeDeletion, cfID)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, start)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, end)
	wb.bump()
}

// PutLogData records an out-of-band blob that is replayed but never applied
// to a memtable. Does not count toward Count.
func (wb *WriteBatch) PutLogData(blob []byte) {
	wb.data = append(wb.data, byte(dbformat.TypeLogData))
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, blob)
}

// MarkBeginPrepare starts a two-phase-commit prepared section.
func (wb *WriteBatch) MarkBeginPrepare() {
	wb.data = append(wb.data, byte(dbformat.TypeNoop), byte(dbformat.TypeBeginPrepareXID))
}

// MarkEndPrepare ends a prepared section with the transaction id.
func (wb *WriteBatch) MarkEndPrepare(xid []byte) {
	wb.data = append(wb.data, byte(dbformat.TypeEndPrepareXID))
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, xid)
}

// MarkCommit records a commit marker for the transaction id.
func (wb *WriteBatch) MarkCommit(xid []byte) {
	wb.data = append(wb.data, byte(dbformat.TypeCommitXID))
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, xid)
}

// MarkRollback records a rollback marker for the transaction id.
func (wb *WriteBatch) MarkRollback(xid []byte) {
	wb.data = append(wb.data, byte(dbformat.TypeRollbackXID))
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, xid)
}

// Handler receives the decoded records of a batch in order. Column family 0
// is the default family.
type Handler interface {
	PutCF(cfID uint32, key, value []byte) error
	DeleteCF(cfID uint32, key []byte) error
	SingleDeleteCF(cfID uint32, key []byte) error
	MergeCF(cfID uint32, key, value []byte) error
	DeleteRangeCF(cfID uint32, start, end []byte) error
	LogData(blob []byte)
}

// Handler2PC is implemented by handlers that understand two-phase-commit
// markers. Handlers without it have markers silently skipped.
type Handler2PC interface {
	MarkBeginPrepare() error
	MarkEndPrepare(xid []byte) error
	MarkCommit(xid []byte) error
	MarkRollback(xid []byte) error
}

// Iterate decodes the batch and invokes handler for each record.
func (wb *WriteBatch) Iterate(handler Handler) error {
	if len(wb.data) < HeaderSize {
		return ErrTooSmall
	}
	h2pc, _ := handler.(Handler2PC)
	data := wb.data[HeaderSize:]

	getSlice := func() ([]byte, error) {
		s, n, err := encoding.DecodeLengthPrefixedSlice(data)
		if err != nil {
			return nil, ErrCorrupted
		}
		data = data[n:]
		return s, nil
	}
	getCF := func() (uint32, error) {
		id, n, err := encoding.DecodeVarint32(data)
		if err != nil {
			return 0, ErrCorrupted
		}
		data = data[n:]
		return id, nil
	}

	for len(data) > 0 {
		tag := dbformat.ValueType(data[0])
		data = data[1:]

		var cfID uint32
		var err error
		switch tag {
		case dbformat.TypeColumnFamilyValue, dbformat.TypeColumnFamilyDeletion,
			dbformat.TypeColumnFamilySingleDeletion, dbformat.TypeColumnFamilyMerge,
			dbformat.TypeColumnFamilyRangeDeletion:
			if cfID, err = getCF(); err != nil {
				return err
			}
		}

		switch tag {
		case dbformat.TypeValue, dbformat.TypeColumnFamilyValue:
			key, err := getSlice()
			if err != nil {
				return err
			}
			value, err := getSlice()
			if err != nil {
				return err
			}
			if err := handler.PutCF(cfID, key, value); err != nil {
				return err
			}

		case dbformat.TypeDeletion, dbformat.TypeColumnFamilyDeletion:
			key, err := getSlice()
			if err != nil {
				return err
			}
			if err := handler.DeleteCF(cfID, key); err != nil {
				return err
			}

		case dbformat.TypeSingleDeletion, dbformat.TypeColumnFamilySingleDeletion:
			key, err := getSlice()
			if err != nil {
				return err
			}
			if err := handler.SingleDeleteCF(cfID, key); err != nil {
				return err
			}

		case dbformat.TypeMerge, dbformat.TypeColumnFamilyMerge:
			key, err := getSlice()
			if err != nil {
				return err
			}
			value, err := getSlice()
			if err != nil {
				return err
			}
			if err := handler.MergeCF(cfID, key, value); err != nil {
				return err
			}

		case dbformat.TypeRangeDeletion, dbformat.TypeColumnFamilyRangeDeletion:
			start, err := getSlice()
			if err != nil {
				return err
			}
			end, err := getSlice()
			if err != nil {
				return err
			}
			if err := handler.DeleteRangeCF(cfID, start, end); err != nil {
				return err
			}

		case dbformat.TypeLogData:
			blob, err := getSlice()
			if err != nil {
				return err
			}
			handler.LogData(blob)

		case dbformat.TypeNoop:
			// Precedes a BeginPrepare marker; carries nothing.

		case dbformat.TypeBeginPrepareXID:
			if h2pc != nil {
				if err := h2pc.MarkBeginPrepare(); err != nil {
					return err
				}
			}

		case dbformat.TypeEndPrepareXID:
			xid, err := getSlice()
			if err != nil {
				return err
			}
			if h2pc != nil {
				if err := h2pc.MarkEndPrepare(xid); err != nil {
					return err
				}
			}

		case dbformat.TypeCommitXID:
			xid, err := getSlice()
			if err != nil {
				return err
			}
			if h2pc != nil {
				if err := h2pc.MarkCommit(xid); err != nil {
					return err
				}
			}

		case dbformat.TypeRollbackXID:
			xid, err := getSlice()
			if err != nil {
				return err
			}
			if h2pc != nil {
				if err := h2pc.MarkRollback(xid); err != nil {
					return err
				}
			}

		default:
			return ErrCorrupted
		}
	}
	return nil
}

// Append concatenates src's records onto wb and adds src's count.
func (wb *WriteBatch) Append(src *WriteBatch) {
	count := wb.Count()
	wb.data = append(wb.data, src.data[HeaderSize:]...)
	wb.SetCount(count + src.Count())
}
