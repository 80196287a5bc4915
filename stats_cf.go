package rocksdb

// stats_cf.go reconciles the persistent-stats column family at open. The
// family stores two reserved keys naming the on-disk schema; an
// incompatible schema drops and recreates the family, and a fresh family
// gets the keys written once.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc
// (PersistentStatsProcessFormatVersion)

import (
	"github.com/khr0407/rocksdb/internal/encoding"
)

const (
	statsFormatVersionKey     = "__persistent_stats_format_version__"
	statsCompatibleVersionKey = "__persistent_stats_compatible_version__"

	// statsFormatVersion is the schema this code writes.
	statsFormatVersion uint64 = 1

	// statsCompatibleVersion is the oldest schema this code can read.
	statsCompatibleVersion uint64 = 1
)

// processPersistentStatsFormat probes and, when needed, resets the stats
// family. Called with db.mu held; the reads and writes release it.
func (db *DB) processPersistentStatsFormat() error {
	cfd := db.cfSet.getByName(PersistentStatsColumnFamilyName)
	if cfd == nil {
		return nil
	}

	fresh := cfd.meta.NumFiles() == 0 && cfd.mem.Empty()
	handle := &columnFamilyHandle{cfd: cfd}

	if fresh {
		return db.writeStatsVersionKeys(handle)
	}

	formatVersion, ferr := db.readStatsU64(handle, statsFormatVersionKey)
	compatibleVersion, cerr := db.readStatsU64(handle, statsCompatibleVersionKey)

	recreate := ferr != nil || cerr != nil
	if !recreate && formatVersion > statsFormatVersion && compatibleVersion > statsCompatibleVersion {
		recreate = true
	}
	if !recreate {
		return nil
	}

	db.opts.Logger.Warnf("[db] persistent stats column family has incompatible format (format %d, compatible %d); recreating",
		formatVersion, compatibleVersion)

	opts := cfd.opts
	if err := db.dropColumnFamilyLocked(cfd.id); err != nil {
		return err
	}
	newCFD, err := db.createColumnFamilyLocked(PersistentStatsColumnFamilyName, opts)
	if err != nil {
		return err
	}
	newCFD.installSuperVersion()
	return db.writeStatsVersionKeys(&columnFamilyHandle{cfd: newCFD})
}

func (db *DB) writeStatsVersionKeys(h ColumnFamilyHandle) error {
	wopts := &WriteOptions{LowPri: true, NoSlowdown: true, Sync: false}
	wb := NewWriteBatch()
	wb.PutCF(h.ID(), []byte(statsFormatVersionKey), encoding.AppendFixed64(nil, statsFormatVersion))
	wb.PutCF(h.ID(), []byte(statsCompatibleVersionKey), encoding.AppendFixed64(nil, statsCompatibleVersion))

	db.mu.Unlock()
	err := db.Write(wopts, wb)
	db.mu.Lock()
	return err
}

func (db *DB) readStatsU64(h ColumnFamilyHandle, key string) (uint64, error) {
	db.mu.Unlock()
	value, err := db.GetCF(nil, h, []byte(key))
	db.mu.Lock()
	if err != nil {
		return 0, err
	}
	if len(value) != 8 {
		return 0, NewCorruption("stats key %s has %d-byte payload", key, len(value))
	}
	return encoding.DecodeFixed64(value), nil
}
