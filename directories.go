package rocksdb

// directories.go manages the directory handles used to fsync metadata
// operations: the database directory, the WAL directory and each data path.
// Handles live for the database's lifetime.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl.h (class Directories)

import (
	"os"

	"github.com/khr0407/rocksdb/internal/vfs"
)

type directories struct {
	dbDir   vfs.Directory
	walDir  vfs.Directory // nil when the WAL dir is the db dir
	dataDirs []vfs.Directory
}

// setDirectories creates the db, WAL and data directories and opens their
// handles.
func setDirectories(fs vfs.FS, dbname, walDir string, dataPaths []DbPath) (*directories, error) {
	d := &directories{}

	if err := fs.MkdirAll(dbname, 0755); err != nil {
		return nil, NewIOError("creating db directory "+dbname, err)
	}
	dbDir, err := fs.OpenDir(dbname)
	if err != nil {
		return nil, NewIOError("opening db directory "+dbname, err)
	}
	d.dbDir = dbDir

	if walDir != dbname {
		if err := fs.MkdirAll(walDir, 0755); err != nil {
			d.close()
			return nil, NewIOError("creating wal directory "+walDir, err)
		}
		wd, err := fs.OpenDir(walDir)
		if err != nil {
			d.close()
			return nil, NewIOError("opening wal directory "+walDir, err)
		}
		d.walDir = wd
	}

	for _, p := range dataPaths {
		if p.Path == dbname {
			d.dataDirs = append(d.dataDirs, nil)
			continue
		}
		if err := fs.MkdirAll(p.Path, os.FileMode(0755)); err != nil {
			d.close()
			return nil, NewIOError("creating data path "+p.Path, err)
		}
		dd, err := fs.OpenDir(p.Path)
		if err != nil {
			d.close()
			return nil, NewIOError("opening data path "+p.Path, err)
		}
		d.dataDirs = append(d.dataDirs, dd)
	}
	return d, nil
}

// getDBDir returns the database directory handle.
func (d *directories) getDBDir() vfs.Directory { return d.dbDir }

// getWALDir returns the WAL directory handle, falling back to the db dir.
func (d *directories) getWALDir() vfs.Directory {
	if d.walDir != nil {
		return d.walDir
	}
	return d.dbDir
}

// getDataDir returns the handle for a data path id.
func (d *directories) getDataDir(pathID uint32) vfs.Directory {
	if int(pathID) < len(d.dataDirs) && d.dataDirs[pathID] != nil {
		return d.dataDirs[pathID]
	}
	return d.dbDir
}

func (d *directories) close() {
	if d.dbDir != nil {
		_ = d.dbDir.Close()
		d.dbDir = nil
	}
	if d.walDir != nil {
		_ = d.walDir.Close()
		d.walDir = nil
	}
	for _, dd := range d.dataDirs {
		if dd != nil {
			_ = dd.Close()
		}
	}
	d.dataDirs = nil
}
