package rocksdb

// recovery_flush.go materializes a Level-0 table from a memtable. Used by
// recovery (incremental and finalization flushes) and by the steady-state
// flush path.
//
// The build runs with the db mutex released; the output file number sits in
// pendingOutputs for the duration so the obsolete-file sweep cannot reclaim
// it.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl_open.cc (WriteLevel0TableForRecovery)
//   - db/builder.cc (BuildTable)

import (
	"time"

	"github.com/khr0407/rocksdb/internal/dbformat"
	"github.com/khr0407/rocksdb/internal/manifest"
	"github.com/khr0407/rocksdb/internal/memtable"
	"github.com/khr0407/rocksdb/internal/table"
)

// writeLevel0TableForRecovery flushes mem into a new Level-0 table and
// records the addition on the family's pending edit. Zero-size outputs are
// dropped silently. Called with db.mu held.
func (db *DB) writeLevel0TableForRecovery(cfd *columnFamilyData, mem *memtable.MemTable, edit *manifest.VersionEdit) error {
	fileNum := db.versions.NewFileNumber()
	db.pendingOutputs[fileNum] = struct{}{}
	defer delete(db.pendingOutputs, fileNum)

	db.mu.Unlock()
	meta, err := db.buildTable(cfd, mem, fileNum)
	db.mu.Lock()

	if err != nil {
		return err
	}
	if meta == nil || meta.FD.FileSize == 0 {
		// The memtable was effectively empty after filtering.
		return nil
	}

	edit.AddFile(0, meta)
	db.opts.SSTFileManager.OnAddFile(db.tableFilePath(fileNum, meta.FD.PathID), meta.FD.FileSize)
	db.opts.Logger.Infof("[flush] column family %q: recovery flush wrote table %06d (%d bytes, seq %d..%d)",
		cfd.name, fileNum, meta.FD.FileSize, meta.SmallestSeqno, meta.LargestSeqno)
	return nil
}

// buildTable writes every entry of mem into table file fileNum and returns
// its metadata, or nil when the memtable held nothing.
func (db *DB) buildTable(cfd *columnFamilyData, mem *memtable.MemTable, fileNum uint64) (*manifest.FileMetaData, error) {
	path := db.tableFilePath(fileNum, 0)
	file, err := db.opts.FS.Create(path)
	if err != nil {
		return nil, NewIOError("creating table "+path, err)
	}

	builder := table.NewBuilder(file, table.BuilderOptions{
		BlockSize:    cfd.opts.BlockSize,
		Compression:  cfd.opts.Compression,
		ChecksumType: cfd.opts.ChecksumType,
	})

	var (
		smallestSeq = dbformat.MaxSequenceNumber
		largestSeq  dbformat.SequenceNumber
	)
	iter := mem.NewIterator()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if err := builder.Add(key, iter.Value()); err != nil {
			builder.Abandon()
			_ = file.Close()
			_ = db.opts.FS.Remove(path)
			return nil, NewIOError("building table "+path, err)
		}
		if _, seq, _, perr := dbformat.ParseInternalKey(key); perr == nil {
			if seq < smallestSeq {
				smallestSeq = seq
			}
			if seq > largestSeq {
				largestSeq = seq
			}
		}
	}

	if builder.NumEntries() == 0 {
		builder.Abandon()
		_ = file.Close()
		_ = db.opts.FS.Remove(path)
		return nil, nil
	}

	if err := builder.Finish(); err != nil {
		_ = file.Close()
		_ = db.opts.FS.Remove(path)
		return nil, NewIOError("finishing table "+path, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return nil, NewIOError("syncing table "+path, err)
	}
	if err := file.Close(); err != nil {
		return nil, NewIOError("closing table "+path, err)
	}

	now := uint64(time.Now().Unix())
	meta := &manifest.FileMetaData{
		FD: manifest.FileDescriptor{
			Number:   fileNum,
			PathID:   0,
			FileSize: builder.FileSize(),
		},
		Smallest:           append([]byte{}, builder.FirstKey()...),
		Largest:            append([]byte{}, builder.LastKey()...),
		SmallestSeqno:      manifest.SequenceNumber(smallestSeq),
		LargestSeqno:       manifest.SequenceNumber(largestSeq),
		OldestAncesterTime: now,
		FileCreationTime:   now,
	}
	return meta, nil
}
