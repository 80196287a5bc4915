// Package memtable implements the in-memory write buffer that receives
// WriteBatch applications until it is flushed to a Level-0 table.
//
// Entries are stored under internal keys (user key + 8-byte trailer), so a
// forward scan yields keys in user order with the newest sequence first
// within each user key.
//
// Reference: RocksDB v10.7.5
//   - db/memtable.h
//   - db/memtable.cc
package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/khr0407/rocksdb/internal/dbformat"
)

// Comparator orders user keys; nil means bytewise.
type Comparator func(a, b []byte) int

// MemTable is a sorted in-memory buffer of recent writes.
type MemTable struct {
	mu      sync.RWMutex
	list    *skiplist
	userCmp Comparator

	memoryUsage atomic.Int64
	numEntries  atomic.Int64

	firstSeqno atomic.Uint64 // +1; 0 means empty
}

// New returns an empty memtable ordered by cmp.
func New(cmp Comparator) *MemTable {
	if cmp == nil {
		cmp = dbformat.BytewiseCompare
	}
	mt := &MemTable{userCmp: cmp}
	mt.list = newSkiplist(func(a, b []byte) int {
		return dbformat.CompareInternalKeys(cmp, a, b)
	})
	return mt
}

// Add inserts one entry.
func (mt *MemTable) Add(seq dbformat.SequenceNumber, t dbformat.ValueType, key, value []byte) {
	ikey := dbformat.MakeInternalKey(make([]byte, 0, len(key)+dbformat.NumInternalBytes), key, seq, t)
	val := append([]byte{}, value...)

	mt.mu.Lock()
	mt.list.insert(ikey, val)
	mt.mu.Unlock()

	mt.memoryUsage.Add(int64(len(ikey) + len(val) + 48))
	mt.numEntries.Add(1)
	mt.firstSeqno.CompareAndSwap(0, uint64(seq)+1)
}

// Get returns the newest entry for key visible at snapshot seq.
// deleted reports a tombstone.
func (mt *MemTable) Get(key []byte, seq dbformat.SequenceNumber) (value []byte, found, deleted bool) {
	target := dbformat.MakeInternalKey(nil, key, seq, dbformat.ValueTypeForSeek)

	mt.mu.RLock()
	defer mt.mu.RUnlock()

	for n := mt.list.findGreaterOrEqual(target, nil); n != nil; n = n.next[0] {
		uk, _, t, err := dbformat.ParseInternalKey(n.key)
		if err != nil || mt.userCmp(uk, key) != 0 {
			return nil, false, false
		}
		switch t {
		case dbformat.TypeValue:
			return n.value, true, false
		case dbformat.TypeDeletion, dbformat.TypeSingleDeletion:
			return nil, true, true
		default:
			// Merge operands and range tombstones are resolved by the read
			// path, not here.
			return nil, false, false
		}
	}
	return nil, false, false
}

// Empty reports whether the memtable has no entries.
func (mt *MemTable) Empty() bool {
	return mt.numEntries.Load() == 0
}

// Count returns the number of entries.
func (mt *MemTable) Count() int64 {
	return mt.numEntries.Load()
}

// ApproximateMemoryUsage returns an estimate of the heap held by entries.
func (mt *MemTable) ApproximateMemoryUsage() int64 {
	return mt.memoryUsage.Load()
}

// FirstSequence returns the sequence of the first write into this memtable,
// or 0 if empty.
func (mt *MemTable) FirstSequence() dbformat.SequenceNumber {
	v := mt.firstSeqno.Load()
	if v == 0 {
		return 0
	}
	return dbformat.SequenceNumber(v - 1)
}

// Iterator walks the memtable in internal-key order.
type Iterator struct {
	mt   *MemTable
	node *node
}

// NewIterator returns an iterator positioned before the first entry.
func (mt *MemTable) NewIterator() *Iterator {
	return &Iterator{mt: mt}
}

// SeekToFirst positions at the smallest internal key.
func (it *Iterator) SeekToFirst() {
	it.mt.mu.RLock()
	it.node = it.mt.list.first()
	it.mt.mu.RUnlock()
}

// Seek positions at the first entry with internal key >= target.
func (it *Iterator) Seek(target []byte) {
	it.mt.mu.RLock()
	it.node = it.mt.list.findGreaterOrEqual(target, nil)
	it.mt.mu.RUnlock()
}

// Next advances the iterator.
func (it *Iterator) Next() {
	it.node = it.node.next[0]
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.node != nil
}

// Key returns the current internal key.
func (it *Iterator) Key() []byte { return it.node.key }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.node.value }
