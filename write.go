package rocksdb

// write.go implements the steady-state write path: sequence assignment, WAL
// append, memtable insert. Recovery reuses the same memtable inserter with
// missing-column-family tolerance switched on.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl_write.cc
//   - db/write_batch.cc (MemTableInserter)

import (
	"github.com/khr0407/rocksdb/internal/batch"
	"github.com/khr0407/rocksdb/internal/dbformat"
)

// WriteBatch is the public batch type.
type WriteBatch = batch.WriteBatch

// NewWriteBatch returns an empty batch.
func NewWriteBatch() *WriteBatch { return batch.New() }

// Put writes key/value into the default column family.
func (db *DB) Put(wopts *WriteOptions, key, value []byte) error {
	wb := batch.New()
	wb.Put(key, value)
	return db.Write(wopts, wb)
}

// PutCF writes key/value into the given column family.
func (db *DB) PutCF(wopts *WriteOptions, h ColumnFamilyHandle, key, value []byte) error {
	wb := batch.New()
	wb.PutCF(h.ID(), key, value)
	return db.Write(wopts, wb)
}

// Delete removes key from the default column family.
func (db *DB) Delete(wopts *WriteOptions, key []byte) error {
	wb := batch.New()
	wb.Delete(key)
	return db.Write(wopts, wb)
}

// DeleteCF removes key from the given column family.
func (db *DB) DeleteCF(wopts *WriteOptions, h ColumnFamilyHandle, key []byte) error {
	wb := batch.New()
	wb.DeleteCF(h.ID(), key)
	return db.Write(wopts, wb)
}

// Write applies wb atomically.
func (db *DB) Write(wopts *WriteOptions, wb *WriteBatch) error {
	if wopts == nil {
		wopts = &WriteOptions{}
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return NewInvalidArgument("database is closed")
	}

	sequence := db.versions.LastSequence() + 1
	wb.SetSequence(sequence)
	count := uint64(wb.Count())

	if !wopts.DisableWAL {
		db.logWriteMu.Lock()
		lf := db.logs[len(db.logs)-1]
		n, err := lf.addRecord(wb.Data())
		if err == nil && wopts.Sync {
			err = lf.sync()
		}
		if err == nil && !db.opts.ManualWALFlush {
			err = lf.flush()
		}
		if err == nil && len(db.aliveLogFiles) > 0 {
			db.aliveLogFiles[len(db.aliveLogFiles)-1].size += uint64(n)
			db.totalLogSize += uint64(n)
		}
		db.logWriteMu.Unlock()
		if err != nil {
			db.mu.Unlock()
			return NewIOError("writing WAL", err)
		}
	}

	inserter := &memtableInserter{db: db, sequence: sequence}
	if err := wb.Iterate(inserter); err != nil {
		db.mu.Unlock()
		return err
	}
	if count > 0 {
		db.versions.SetLastSequence(sequence + count - 1)
	}
	db.mu.Unlock()

	db.maybeScheduleFlushOrCompaction()
	return nil
}

// FlushWAL drains buffered WAL writes; with sync it also fsyncs.
func (db *DB) FlushWAL(sync bool) error {
	db.logWriteMu.Lock()
	defer db.logWriteMu.Unlock()
	if len(db.logs) == 0 {
		return nil
	}
	lf := db.logs[len(db.logs)-1]
	if sync {
		return lf.sync()
	}
	return lf.flush()
}

// SyncWAL fsyncs the current WAL.
func (db *DB) SyncWAL() error {
	return db.FlushWAL(true)
}

// memtableInserter applies decoded batch records to the column family
// memtables. With ignoreMissingCF, records for families that no longer
// exist are skipped silently: they may have been dropped after the batch
// was logged.
type memtableInserter struct {
	db              *DB
	sequence        uint64
	ignoreMissingCF bool
	logNumber       uint64
}

func (m *memtableInserter) lookup(cfID uint32) (*columnFamilyData, error) {
	cfd := m.db.cfSet.get(cfID)
	if cfd == nil {
		if m.ignoreMissingCF {
			return nil, nil
		}
		return nil, NewInvalidArgument("column family id %d not found", cfID)
	}
	return cfd, nil
}

func (m *memtableInserter) add(cfID uint32, t dbformat.ValueType, key, value []byte) error {
	cfd, err := m.lookup(cfID)
	if err != nil {
		return err
	}
	if cfd != nil {
		cfd.mem.Add(dbformat.SequenceNumber(m.sequence), t, key, value)
		m.db.opts.WriteBufferManager.ReserveMem(int64(len(key) + len(value)))
	}
	m.sequence++
	return nil
}

func (m *memtableInserter) PutCF(cfID uint32, key, value []byte) error {
	return m.add(cfID, dbformat.TypeValue, key, value)
}

func (m *memtableInserter) DeleteCF(cfID uint32, key []byte) error {
	return m.add(cfID, dbformat.TypeDeletion, key, nil)
}

func (m *memtableInserter) SingleDeleteCF(cfID uint32, key []byte) error {
	return m.add(cfID, dbformat.TypeSingleDeletion, key, nil)
}

func (m *memtableInserter) MergeCF(cfID uint32, key, value []byte) error {
	return m.add(cfID, dbformat.TypeMerge, key, value)
}

func (m *memtableInserter) DeleteRangeCF(cfID uint32, start, end []byte) error {
	return m.add(cfID, dbformat.TypeRangeDeletion, start, end)
}

func (m *memtableInserter) LogData([]byte) {}

// The two-phase-commit markers carry no memtable effect here; prepared
// sections replay through their commit markers' batches.
func (m *memtableInserter) MarkBeginPrepare() error        { return nil }
func (m *memtableInserter) MarkEndPrepare(xid []byte) error { return nil }
func (m *memtableInserter) MarkCommit(xid []byte) error     { return nil }
func (m *memtableInserter) MarkRollback(xid []byte) error   { return nil }

var _ batch.Handler = (*memtableInserter)(nil)
var _ batch.Handler2PC = (*memtableInserter)(nil)
