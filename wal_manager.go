package rocksdb

// wal_manager.go creates WAL files and tracks the live set.
//
// A new WAL either starts from a fresh file or, when recycling is on,
// reopens a finished log for overwrite so the filesystem keeps its
// allocation. Recycled logs use the record format that embeds the log
// number, letting the reader detect the stale tail.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (CreateWAL)

import (
	"bufio"

	"github.com/khr0407/rocksdb/internal/vfs"
	"github.com/khr0407/rocksdb/internal/wal"
)

// logFileNumberSize tracks one live WAL.
type logFileNumberSize struct {
	number uint64
	size   uint64
}

// walFile bundles a WAL's number, file handle and framed writer. With
// manual WAL flush the records accumulate in buf until FlushWAL.
type walFile struct {
	number uint64
	file   vfs.WritableFile
	buf    *bufio.Writer // nil unless manual_wal_flush
	writer *wal.Writer
}

// addRecord frames one record into the log.
func (lf *walFile) addRecord(data []byte) (int, error) {
	return lf.writer.AddRecord(data)
}

// flush drains the manual-flush buffer.
func (lf *walFile) flush() error {
	if lf.buf != nil {
		return lf.buf.Flush()
	}
	return nil
}

// sync makes the log durable.
func (lf *walFile) sync() error {
	if err := lf.flush(); err != nil {
		return err
	}
	return lf.file.Sync()
}

func (lf *walFile) close() error {
	if err := lf.flush(); err != nil {
		_ = lf.file.Close()
		return err
	}
	return lf.file.Close()
}

// createWAL opens the WAL numbered newNumber. recycleNumber, when nonzero,
// names a finished log to reuse; preallocate is the size hint for fresh
// files.
func (db *DB) createWAL(newNumber, recycleNumber uint64, preallocate int64) (*walFile, error) {
	fs := db.opts.FS
	path := db.logFilePath(newNumber)

	var (
		file vfs.WritableFile
		err  error
	)
	recycled := recycleNumber > 0
	if recycled {
		if rerr := fs.Rename(db.logFilePath(recycleNumber), path); rerr != nil {
			return nil, NewIOError("recycling WAL "+db.logFilePath(recycleNumber), rerr)
		}
		file, err = fs.ReopenWritable(path)
	} else {
		file, err = fs.Create(path)
	}
	if err != nil {
		return nil, NewIOError("creating WAL "+path, err)
	}
	if preallocate > 0 && !recycled {
		_ = file.Preallocate(preallocate)
	}

	lf := &walFile{number: newNumber, file: file}
	var dest interface {
		Write(p []byte) (int, error)
	} = file
	if db.opts.ManualWALFlush {
		lf.buf = bufio.NewWriterSize(file, 64<<10)
		dest = lf.buf
	}
	lf.writer = wal.NewWriter(writerDest{dest, file}, newNumber, db.opts.RecycleLogFileNum > 0)
	return lf, nil
}

// writerDest adapts the buffered/unbuffered destination while keeping Sync
// reachable for the framed writer.
type writerDest struct {
	w interface {
		Write(p []byte) (int, error)
	}
	file vfs.WritableFile
}

func (d writerDest) Write(p []byte) (int, error) { return d.w.Write(p) }
func (d writerDest) Sync() error                 { return d.file.Sync() }
