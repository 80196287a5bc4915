// Package dbformat defines the internal key format shared by the memtable,
// the SST builder and the WAL replay path.
//
// An internal key is the user key followed by an 8-byte trailer encoding
// (sequence << 8) | value_type, little-endian.
//
// Reference: RocksDB v10.7.5 db/dbformat.h
package dbformat

import (
	"bytes"
	"errors"

	"github.com/khr0407/rocksdb/internal/encoding"
)

// SequenceNumber is a 56-bit write sequence number.
type SequenceNumber uint64

// MaxSequenceNumber is the largest representable sequence number.
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// NumInternalBytes is the length of the internal key trailer.
const NumInternalBytes = 8

// ValueType tags a record in an internal key or a WriteBatch.
// The values are written to disk and must not change.
type ValueType uint8

const (
	TypeDeletion                   ValueType = 0x00
	TypeValue                      ValueType = 0x01
	TypeMerge                      ValueType = 0x02
	TypeLogData                    ValueType = 0x03
	TypeColumnFamilyDeletion       ValueType = 0x04
	TypeColumnFamilyValue          ValueType = 0x05
	TypeColumnFamilyMerge          ValueType = 0x06
	TypeSingleDeletion             ValueType = 0x07
	TypeColumnFamilySingleDeletion ValueType = 0x08
	TypeBeginPrepareXID            ValueType = 0x09
	TypeEndPrepareXID              ValueType = 0x0A
	TypeCommitXID                  ValueType = 0x0B
	TypeRollbackXID                ValueType = 0x0C
	TypeNoop                       ValueType = 0x0D
	TypeColumnFamilyRangeDeletion  ValueType = 0x0E
	TypeRangeDeletion              ValueType = 0x0F
)

// ValueTypeForSeek is the type used when building a seek target: for a given
// (user key, sequence) it sorts before every real entry of that pair.
const ValueTypeForSeek = TypeRangeDeletion

// ErrCorruptedKey indicates an internal key shorter than its trailer.
var ErrCorruptedKey = errors.New("dbformat: corrupted internal key")

// PackSequenceAndType combines a sequence number and type into a trailer.
func PackSequenceAndType(seq SequenceNumber, t ValueType) uint64 {
	return uint64(seq)<<8 | uint64(t)
}

// MakeInternalKey appends the trailer for (seq, t) to userKey.
func MakeInternalKey(dst, userKey []byte, seq SequenceNumber, t ValueType) []byte {
	dst = append(dst, userKey...)
	return encoding.AppendFixed64(dst, PackSequenceAndType(seq, t))
}

// ParseInternalKey splits an internal key into its parts.
func ParseInternalKey(key []byte) (userKey []byte, seq SequenceNumber, t ValueType, err error) {
	if len(key) < NumInternalBytes {
		return nil, 0, 0, ErrCorruptedKey
	}
	trailer := encoding.DecodeFixed64(key[len(key)-NumInternalBytes:])
	return key[:len(key)-NumInternalBytes], SequenceNumber(trailer >> 8), ValueType(trailer & 0xFF), nil
}

// UserKey returns the user-key prefix of an internal key.
func UserKey(key []byte) []byte {
	if len(key) < NumInternalBytes {
		return key
	}
	return key[:len(key)-NumInternalBytes]
}

// CompareInternalKeys orders internal keys: user key ascending, then
// sequence descending, then type descending. cmp orders user keys.
func CompareInternalKeys(cmp func(a, b []byte) int, a, b []byte) int {
	if c := cmp(UserKey(a), UserKey(b)); c != 0 {
		return c
	}
	at := encoding.DecodeFixed64(a[len(a)-NumInternalBytes:])
	bt := encoding.DecodeFixed64(b[len(b)-NumInternalBytes:])
	switch {
	case at > bt:
		return -1
	case at < bt:
		return 1
	default:
		return 0
	}
}

// BytewiseCompare is the default user-key ordering.
func BytewiseCompare(a, b []byte) int {
	return bytes.Compare(a, b)
}
