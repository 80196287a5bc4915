package rocksdb

// read.go implements point lookups over the super-version: active memtable
// first, then Level-0 newest-first, then the sorted levels.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl.cc (DBImpl::GetImpl)

import (
	"bytes"

	"github.com/khr0407/rocksdb/internal/dbformat"
	"github.com/khr0407/rocksdb/internal/version"
)

// Get reads key from the default column family.
func (db *DB) Get(ropts *ReadOptions, key []byte) ([]byte, error) {
	return db.GetCF(ropts, db.DefaultColumnFamily(), key)
}

// GetCF reads key from the given column family. Returns a NotFound status
// when the key does not exist.
func (db *DB) GetCF(ropts *ReadOptions, h ColumnFamilyHandle, key []byte) ([]byte, error) {
	_ = ropts

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, NewInvalidArgument("database is closed")
	}
	cfd := db.cfSet.get(h.ID())
	if cfd == nil {
		db.mu.Unlock()
		return nil, NewInvalidArgument("column family id %d not open", h.ID())
	}
	sv := cfd.currentSuperVersion()
	snapshot := dbformat.SequenceNumber(db.versions.LastSequence())
	db.mu.Unlock()

	if value, found, deleted := sv.mem.Get(key, snapshot); found {
		if deleted {
			return nil, statusf(CodeNotFound, "")
		}
		return bytes.Clone(value), nil
	}

	cmp := cfd.opts.Comparator

	// Level 0 may overlap; newest file (largest number) wins.
	l0 := sv.meta.Files(0)
	for i := len(l0) - 1; i >= 0; i-- {
		f := l0[i]
		if cmp(key, dbformat.UserKey(f.Smallest)) < 0 || cmp(key, dbformat.UserKey(f.Largest)) > 0 {
			continue
		}
		value, found, deleted, err := db.getFromTable(f.FD.Number, f.FD.PathID, key, snapshot)
		if err != nil {
			return nil, err
		}
		if found {
			if deleted {
				return nil, statusf(CodeNotFound, "")
			}
			return value, nil
		}
	}

	for level := 1; level < version.MaxNumLevels; level++ {
		for _, f := range sv.meta.Files(level) {
			if cmp(key, dbformat.UserKey(f.Smallest)) < 0 || cmp(key, dbformat.UserKey(f.Largest)) > 0 {
				continue
			}
			value, found, deleted, err := db.getFromTable(f.FD.Number, f.FD.PathID, key, snapshot)
			if err != nil {
				return nil, err
			}
			if found {
				if deleted {
					return nil, statusf(CodeNotFound, "")
				}
				return value, nil
			}
		}
	}
	return nil, statusf(CodeNotFound, "")
}

func (db *DB) getFromTable(fileNum uint64, pathID uint32, key []byte, snapshot dbformat.SequenceNumber) ([]byte, bool, bool, error) {
	reader, err := db.tableCache.Get(fileNum, db.tableFilePath(fileNum, pathID))
	if err != nil {
		return nil, false, false, NewIOError("opening table", err)
	}
	return reader.Get(key, snapshot)
}
