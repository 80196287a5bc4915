package rocksdb

// flush.go implements the steady-state flush: rotate the WAL, swap the
// memtable, build a Level-0 table and commit the addition together with the
// family's new WAL frontier.
//
// Reference: RocksDB v10.7.5
//   - db/flush_job.cc
//   - db/db_impl/db_impl_compaction_flush.cc

import (
	"github.com/khr0407/rocksdb/internal/manifest"
)

// Flush flushes the default column family.
func (db *DB) Flush(fopts *FlushOptions) error {
	return db.FlushCF(fopts, db.DefaultColumnFamily())
}

// FlushCF flushes one column family's memtable to a Level-0 table.
func (db *DB) FlushCF(fopts *FlushOptions, h ColumnFamilyHandle) error {
	_ = fopts

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return NewInvalidArgument("database is closed")
	}
	cfd := db.cfSet.get(h.ID())
	if cfd == nil {
		return NewInvalidArgument("column family id %d not open", h.ID())
	}
	return db.flushMemTableLocked(cfd)
}

// flushMemTableLocked flushes cfd's active memtable. Called with db.mu
// held; the table build itself runs unlocked.
func (db *DB) flushMemTableLocked(cfd *columnFamilyData) error {
	if cfd.mem.Empty() {
		return nil
	}

	// Rotate the WAL first so the flushed family's frontier can advance
	// past everything it has logged so far.
	newLogNumber := db.versions.NewFileNumber()
	var recycle uint64
	if len(db.logsToRecycle) > 0 {
		recycle = db.logsToRecycle[0]
		db.logsToRecycle = db.logsToRecycle[1:]
	}
	lf, err := db.createWAL(newLogNumber, recycle, int64(db.walPreallocateSize()))
	if err != nil {
		return err
	}
	db.logWriteMu.Lock()
	if len(db.logs) > 0 {
		_ = db.logs[len(db.logs)-1].sync()
	}
	db.logs = append(db.logs, lf)
	db.logfileNumber = newLogNumber
	db.aliveLogFiles = append(db.aliveLogFiles, logFileNumberSize{number: newLogNumber})
	db.logWriteMu.Unlock()

	imm := cfd.rotateMemtable()
	db.opts.WriteBufferManager.FreeMem(imm.ApproximateMemoryUsage())

	edit := &manifest.VersionEdit{}
	if cfd.id != DefaultColumnFamilyID {
		edit.SetColumnFamily(cfd.id)
	}
	if err := db.writeLevel0TableForRecovery(cfd, imm, edit); err != nil {
		return err
	}
	edit.SetLogNumber(newLogNumber)
	edit.SetLastSequence(manifest.SequenceNumber(db.versions.LastSequence()))

	if err := db.versions.LogAndApply([]*manifest.VersionEdit{edit}, false); err != nil {
		return err
	}
	cfd.installSuperVersion()

	db.pruneObsoleteWALsLocked()
	return nil
}

// pruneObsoleteWALsLocked drops WALs no family needs anymore: closed,
// removed from the alive list, and either queued for recycling or deleted.
func (db *DB) pruneObsoleteWALsLocked() {
	minWAL := db.versions.MinLogNumberWithUnflushedData()
	if db.opts.Allow2PC {
		if n := db.versions.MinLogNumberToKeep2PC(); n > 0 && n < minWAL {
			minWAL = n
		}
	}

	db.logWriteMu.Lock()
	var keptLogs []*walFile
	for _, lf := range db.logs {
		if lf.number >= minWAL || lf.number == db.logfileNumber {
			keptLogs = append(keptLogs, lf)
			continue
		}
		_ = lf.close()
		if len(db.logsToRecycle) < db.opts.RecycleLogFileNum {
			db.logsToRecycle = append(db.logsToRecycle, lf.number)
		} else if err := db.opts.FS.Remove(db.logFilePath(lf.number)); err != nil {
			db.opts.Logger.Warnf("[wal] deleting obsolete WAL %06d: %v", lf.number, err)
		}
	}
	db.logs = keptLogs

	var keptAlive []logFileNumberSize
	for _, a := range db.aliveLogFiles {
		if a.number >= minWAL || a.number == db.logfileNumber {
			keptAlive = append(keptAlive, a)
		} else {
			db.totalLogSize -= a.size
		}
	}
	db.aliveLogFiles = keptAlive
	db.logWriteMu.Unlock()
}
