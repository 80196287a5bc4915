package rocksdb

// identity.go reads, writes and reconciles the IDENTITY file. The file
// holds the 36-character database id; the same id may also live inside the
// MANIFEST, and on mismatch the MANIFEST wins.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (SetupDBId)

import (
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/khr0407/rocksdb/internal/manifest"
)

// dbIDLength is the canonical UUID string length.
const dbIDLength = 36

// generateDBID returns a fresh database id.
func generateDBID() string {
	return uuid.NewString()
}

// getDBIdentity reads the IDENTITY file.
func (db *DB) getDBIdentity() (string, error) {
	f, err := db.opts.FS.Open(db.identityFilePath())
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, dbIDLength+2))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// setDBIdentity writes id to the IDENTITY file, replacing any previous
// contents.
func (db *DB) setDBIdentity(id string) error {
	f, err := db.opts.FS.Create(db.identityFilePath())
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(id)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// setupDBID reconciles IDENTITY with the id surfaced by manifest replay.
//
// With write_dbid_to_manifest and no id in the manifest, the id from
// IDENTITY (created if missing) is installed and persisted through one
// LogAndApply. When the manifest carries an id that differs from IDENTITY,
// the manifest wins and IDENTITY is rewritten.
func (db *DB) setupDBID(manifestID string) error {
	if manifestID == "" {
		id, err := db.getDBIdentity()
		if err != nil || id == "" {
			id = generateDBID()
			if werr := db.setDBIdentity(id); werr != nil {
				return NewIOError("writing IDENTITY", werr)
			}
		}
		db.versions.SetDBID(id)
		if db.opts.WriteDBIDToManifest {
			edit := &manifest.VersionEdit{}
			edit.SetDBID(id)
			if err := db.versions.LogAndApply([]*manifest.VersionEdit{edit}, false); err != nil {
				return err
			}
		}
		return nil
	}

	db.versions.SetDBID(manifestID)
	diskID, err := db.getDBIdentity()
	if err != nil || diskID != manifestID {
		if werr := db.setDBIdentity(manifestID); werr != nil {
			return NewIOError("rewriting IDENTITY", werr)
		}
	}
	return nil
}
