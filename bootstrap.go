package rocksdb

// bootstrap.go initializes a fresh database: IDENTITY, descriptor #1 and
// the CURRENT pointer. Any failure after the manifest is created unwinds by
// deleting the half-written file.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (DBImpl::NewDB)

import (
	"io"

	"github.com/khr0407/rocksdb/internal/manifest"
	"github.com/khr0407/rocksdb/internal/version"
	"github.com/khr0407/rocksdb/internal/wal"
)

// bootstrapManifestNumber is the descriptor number of a fresh database.
const bootstrapManifestNumber = 1

// newDB writes the initial on-disk state of a fresh database.
func (db *DB) newDB() error {
	db.opts.Logger.Infof("[db] creating new database at %s", db.name)

	// Step 1: IDENTITY with a fresh id.
	id := generateDBID()
	if err := db.setDBIdentity(id); err != nil {
		return NewIOError("writing IDENTITY", err)
	}

	// Step 2: the genesis edit. File number 2 is the first allocatable
	// number; descriptor #1 is being written now.
	edit := &manifest.VersionEdit{}
	edit.SetComparatorName(db.comparatorName())
	edit.SetLogNumber(0)
	edit.SetNextFileNumber(2)
	edit.SetLastSequence(0)
	if db.opts.WriteDBIDToManifest {
		edit.SetDBID(id)
	}

	// Step 3: descriptor #1.
	manifestPath := db.manifestFilePath(bootstrapManifestNumber)
	file, err := db.opts.FS.Create(manifestPath)
	if err != nil {
		return NewIOError("creating "+manifestPath, err)
	}
	if db.opts.ManifestPreallocationSize > 0 {
		_ = file.Preallocate(db.opts.ManifestPreallocationSize)
	}

	// Steps 4-5, unwinding on failure.
	err = func() error {
		w := wal.NewWriter(file, bootstrapManifestNumber, false)
		if _, werr := w.AddRecord(edit.EncodeTo()); werr != nil {
			return werr
		}
		if serr := file.Sync(); serr != nil {
			return serr
		}
		if cerr := file.Close(); cerr != nil {
			file = nil
			return cerr
		}
		file = nil
		return nil
	}()
	if err == nil {
		err = db.setCurrentFile(bootstrapManifestNumber)
	}
	if err != nil {
		if file != nil {
			_ = file.Close()
		}
		_ = db.opts.FS.Remove(manifestPath)
		return NewIOError("bootstrapping manifest", err)
	}
	return nil
}

func (db *DB) setCurrentFile(manifestNum uint64) error {
	return version.SetCurrentFile(db.opts.FS, db.name, manifestNum)
}

// checkFilesystemCompatibility probes the configured I/O flags against the
// database directory by opening CURRENT with them.
func (db *DB) checkFilesystemCompatibility() error {
	path := db.currentFilePath()
	var (
		f   io.Closer
		err error
	)
	if db.opts.UseDirectReads {
		f, err = db.opts.FS.OpenDirect(path)
	} else {
		f, err = db.opts.FS.Open(path)
	}
	if err == nil {
		return f.Close()
	}
	if db.opts.UseDirectReads {
		if retry, rerr := db.opts.FS.Open(path); rerr == nil {
			_ = retry.Close()
			return NewInvalidArgument("Direct I/O is not supported by the specified DB.")
		}
	}
	return statusWrap(CodeInvalidArgument, "Found options incompatible with filesystem", err)
}
