package rocksdb

// db.go implements Open and the engine's shared state.
//
// Open is a strictly sequenced pipeline: sanitize and validate options,
// create directories and take the file lock, bootstrap or replay the
// manifest, replay the WALs, then perform the go-live handshake that
// installs a fresh WAL and per-family super-versions.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl_open.cc (DB::Open, DBImpl::Open)
//   - db/db_impl/db_impl.cc

import (
	"io"
	"slices"
	"sync"

	"github.com/khr0407/rocksdb/internal/batch"
	"github.com/khr0407/rocksdb/internal/dbformat"
	"github.com/khr0407/rocksdb/internal/manifest"
	"github.com/khr0407/rocksdb/internal/table"
	"github.com/khr0407/rocksdb/internal/version"
)

// maxSequenceNumber is the sentinel meaning "no record replayed".
const maxSequenceNumber = uint64(dbformat.MaxSequenceNumber)

// DB is an open database.
type DB struct {
	name string
	opts *immutableDBOptions

	// mu serializes all shared engine state. It is released only around
	// long-running I/O (table builds, stats writes).
	mu sync.Mutex

	// logWriteMu guards logs and aliveLogFiles when two_write_queues lets
	// a second writer append concurrently.
	logWriteMu sync.Mutex

	fileLock io.Closer
	dirs     *directories

	defaultComparatorName string

	versions *version.VersionSet
	cfSet    *columnFamilySet

	tableCache *table.Cache

	logs          []*walFile
	logfileNumber uint64
	aliveLogFiles []logFileNumberSize
	totalLogSize  uint64
	logsToRecycle []uint64

	// pendingOutputs holds file numbers reserved by in-flight writers so
	// the obsolete-file sweep cannot reclaim them.
	pendingOutputs map[uint64]struct{}

	bg *backgroundWork

	opened bool
	closed bool
}

// Open opens (or creates) the database with only the default column family.
func Open(name string, opts *Options) (*DB, error) {
	db, handles, err := OpenColumnFamilies(name, opts, []ColumnFamilyDescriptor{
		{Name: DefaultColumnFamilyName, Options: DefaultColumnFamilyOptions()},
	})
	if err != nil {
		return nil, err
	}
	_ = handles
	return db, nil
}

// OpenColumnFamilies opens the database with the requested column families.
// The returned handles are in the order of the descriptors.
func OpenColumnFamilies(name string, opts *Options, cfds []ColumnFamilyDescriptor) (*DB, []ColumnFamilyHandle, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if len(cfds) == 0 {
		return nil, nil, NewInvalidArgument("no column families specified")
	}
	hasDefault := false
	seen := make(map[string]bool, len(cfds))
	for _, cfd := range cfds {
		if seen[cfd.Name] {
			return nil, nil, NewInvalidArgument("duplicate column family %q", cfd.Name)
		}
		seen[cfd.Name] = true
		if cfd.Name == DefaultColumnFamilyName {
			hasDefault = true
		}
	}
	if !hasDefault {
		return nil, nil, NewInvalidArgument("default column family not specified")
	}

	imOpts := sanitizeOptions(name, opts)
	if err := validateOptions(imOpts, cfds); err != nil {
		return nil, nil, err
	}

	db := &DB{
		name:           name,
		opts:           imOpts,
		cfSet:          newColumnFamilySet(),
		pendingOutputs: make(map[uint64]struct{}),
	}

	handles, err := db.open(cfds)
	if err != nil {
		db.teardown()
		return nil, nil, err
	}
	db.maybeScheduleFlushOrCompaction()
	return db, handles, nil
}

// open runs the recovery pipeline. On error the caller tears the half-open
// state down.
func (db *DB) open(cfds []ColumnFamilyDescriptor) ([]ColumnFamilyHandle, error) {
	opts := db.opts
	fs := opts.FS

	requestedCount := len(cfds)
	if opts.PersistStatsToDisk && db.statsDescriptorIndex(cfds) < 0 {
		cfds = append(cfds[:len(cfds):len(cfds)], ColumnFamilyDescriptor{
			Name:    PersistentStatsColumnFamilyName,
			Options: DefaultColumnFamilyOptions(),
		})
	}

	db.defaultComparatorName = comparatorNameOf(cfds[db.defaultDescriptorIndex(cfds)].Options)

	dirs, err := setDirectories(fs, db.name, opts.WALDir, opts.DbPaths)
	if err != nil {
		return nil, err
	}
	db.dirs = dirs

	lock, err := fs.LockFile(db.lockFilePath())
	if err != nil {
		return nil, statusWrap(CodeIOError, "While lock file: "+db.lockFilePath(), err)
	}
	db.fileLock = lock

	exists := fs.Exists(db.currentFilePath())
	if exists && opts.ErrorIfExists {
		return nil, NewInvalidArgument("%s exists (error_if_exists is true)", db.name)
	}
	if !exists && !opts.CreateIfMissing {
		return nil, NewInvalidArgument("%s does not exist (create_if_missing is false)", db.name)
	}

	justBootstrapped := false
	if !exists {
		if err := db.newDB(); err != nil {
			return nil, err
		}
		justBootstrapped = true
		if err := db.checkFilesystemCompatibility(); err != nil {
			return nil, err
		}
	}

	cacheCap := opts.MaxOpenFiles
	if cacheCap == -1 {
		cacheCap = 1 << 20
	}
	defaultCmp := cfds[db.defaultDescriptorIndex(cfds)].Options.Comparator
	db.tableCache = table.NewCache(fs, cacheCap, defaultCmp)

	db.versions = version.New(version.Options{
		DBName:                db.name,
		FS:                    fs,
		Logger:                opts.Logger,
		ComparatorName:        comparatorNameOf(cfds[db.defaultDescriptorIndex(cfds)].Options),
		ManifestPreallocation: opts.ManifestPreallocationSize,
	})

	db.mu.Lock()
	defer db.mu.Unlock()

	dbID, err := db.versions.Recover()
	if err != nil {
		return nil, statusWrap(CodeCorruption, "manifest replay", err)
	}

	// The requested set must match the manifest, modulo families we are
	// allowed to create afterwards.
	requested := make(map[string]*ColumnFamilyDescriptor, len(cfds))
	for i := range cfds {
		requested[cfds[i].Name] = &cfds[i]
	}
	var toCreate []*ColumnFamilyDescriptor
	for _, meta := range db.versions.ColumnFamilies() {
		desc, ok := requested[meta.Name]
		if !ok {
			// The reserved statistics family is engine-managed; opening it
			// is never the caller's job.
			if meta.Name == PersistentStatsColumnFamilyName {
				desc = &ColumnFamilyDescriptor{Name: meta.Name, Options: DefaultColumnFamilyOptions()}
			} else {
				return nil, NewInvalidArgument("column family %q exists in the database but was not opened", meta.Name)
			}
		}
		cfd := newColumnFamilyData(meta.ID, meta.Name, desc.Options, meta)
		db.cfSet.add(cfd)
	}
	for i := range cfds {
		if db.cfSet.getByName(cfds[i].Name) == nil {
			// Descriptors past requestedCount were added by the engine.
			if !opts.CreateMissingColumnFamilies && i < requestedCount {
				return nil, NewInvalidArgument("column family %q does not exist", cfds[i].Name)
			}
			toCreate = append(toCreate, &cfds[i])
		}
	}

	if err := db.setupDBID(dbID); err != nil {
		return nil, err
	}

	// WAL discovery.
	logNumbers, err := db.discoverWALs(justBootstrapped)
	if err != nil {
		return nil, err
	}

	recoveredSeq := maxSequenceNumber
	if len(logNumbers) > 0 {
		recoveredSeq, err = db.recoverLogFiles(logNumbers, false /* readOnly */)
		if err != nil {
			return nil, err
		}
	}

	// --- go-live handshake ---

	newLogNumber := db.versions.NewFileNumber()
	var recycle uint64
	if len(db.logsToRecycle) > 0 {
		recycle = db.logsToRecycle[0]
		db.logsToRecycle = db.logsToRecycle[1:]
	}
	logFile, err := db.createWAL(newLogNumber, recycle, int64(db.walPreallocateSize()))
	if err != nil {
		return nil, err
	}
	db.logWriteMu.Lock()
	db.logs = append(db.logs, logFile)
	db.logfileNumber = newLogNumber
	db.aliveLogFiles = append(db.aliveLogFiles, logFileNumberSize{number: newLogNumber})
	db.logWriteMu.Unlock()

	// Create the families that were requested but absent from the manifest.
	for _, desc := range toCreate {
		if _, err := db.createColumnFamilyLocked(desc.Name, desc.Options); err != nil {
			return nil, err
		}
	}

	for _, cfd := range db.cfSet.all() {
		cfd.installSuperVersion()
	}

	if err := db.deleteObsoleteFiles(); err != nil {
		opts.Logger.Warnf("[db] deleting obsolete files: %v", err)
	}

	if err := db.dirs.getDBDir().Fsync(); err != nil {
		return nil, NewIOError("fsync db directory", err)
	}

	// Anchor point-in-time detection across this open: the next open sees
	// the new WAL begin at the recovered sequence and knows nothing is
	// missing in between.
	if recoveredSeq != maxSequenceNumber {
		dummy := batch.New()
		dummy.SetSequence(recoveredSeq)
		if _, err := logFile.addRecord(dummy.Data()); err != nil {
			return nil, NewIOError("writing recovery anchor record", err)
		}
		if err := logFile.sync(); err != nil {
			return nil, NewIOError("syncing recovery anchor record", err)
		}
	}

	if opts.PersistStatsToDisk {
		if err := db.processPersistentStatsFormat(); err != nil {
			return nil, err
		}
	}

	for _, cfd := range db.cfSet.all() {
		if cfd.opts.CompactionStyle == CompactionStyleFIFO {
			for level := 1; level < version.MaxNumLevels; level++ {
				if len(cfd.meta.Files(level)) > 0 {
					return nil, NewInvalidArgument("column family %q: FIFO compaction requires all files at level 0", cfd.name)
				}
			}
		}
	}

	if err := db.writeOptionsFile(); err != nil {
		return nil, NewIOError("Unable to persist Options file", err)
	}

	db.bg = newBackgroundWork(db, opts.MaxFlushes, opts.MaxCompactions)
	db.opened = true

	// Handles cover only the caller's descriptors; the stats family stays
	// engine-managed.
	handles := make([]ColumnFamilyHandle, 0, requestedCount)
	for i := range cfds[:requestedCount] {
		cfd := db.cfSet.getByName(cfds[i].Name)
		if cfd == nil {
			return nil, NewInvalidArgument("column family %q was not materialized", cfds[i].Name)
		}
		handles = append(handles, &columnFamilyHandle{cfd: cfd})
	}
	return handles, nil
}

func (db *DB) defaultDescriptorIndex(cfds []ColumnFamilyDescriptor) int {
	return slices.IndexFunc(cfds, func(d ColumnFamilyDescriptor) bool {
		return d.Name == DefaultColumnFamilyName
	})
}

func (db *DB) statsDescriptorIndex(cfds []ColumnFamilyDescriptor) int {
	return slices.IndexFunc(cfds, func(d ColumnFamilyDescriptor) bool {
		return d.Name == PersistentStatsColumnFamilyName
	})
}

func (db *DB) comparatorName() string {
	if db.defaultComparatorName != "" {
		return db.defaultComparatorName
	}
	return "leveldb.BytewiseComparator"
}

func comparatorNameOf(o ColumnFamilyOptions) string {
	if o.ComparatorName != "" {
		return o.ComparatorName
	}
	return "leveldb.BytewiseComparator"
}

// walPreallocateSize sizes WAL preallocation to a tenth of the default
// family's write buffer (4 MiB when there is no default family), capped at
// 16 MiB to keep sparse-file slack reasonable.
func (db *DB) walPreallocateSize() uint64 {
	size := uint64(4 << 20)
	if cfd := db.cfSet.getByName(DefaultColumnFamilyName); cfd != nil {
		size = uint64(cfd.opts.WriteBufferSize) / 10
	}
	return min(size, 16<<20)
}

// CreateColumnFamily creates a new column family and returns its handle.
func (db *DB) CreateColumnFamily(opts ColumnFamilyOptions, name string) (ColumnFamilyHandle, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, NewInvalidArgument("database is closed")
	}
	cfd, err := db.createColumnFamilyLocked(name, opts)
	if err != nil {
		return nil, err
	}
	cfd.installSuperVersion()
	return &columnFamilyHandle{cfd: cfd}, nil
}

func (db *DB) createColumnFamilyLocked(name string, opts ColumnFamilyOptions) (*columnFamilyData, error) {
	if db.cfSet.getByName(name) != nil {
		return nil, NewInvalidArgument("column family %q already exists", name)
	}
	id := db.versions.MaxColumnFamily() + 1

	edit := &manifest.VersionEdit{}
	edit.SetColumnFamily(id)
	edit.AddColumnFamily(name)
	edit.SetMaxColumnFamily(id)
	edit.SetLogNumber(db.logfileNumber)
	if err := db.versions.LogAndApply([]*manifest.VersionEdit{edit}, false); err != nil {
		return nil, err
	}

	meta := db.versions.GetColumnFamily(name)
	if meta == nil {
		return nil, NewCorruption("column family %q missing after creation", name)
	}
	meta.LogNumber = db.logfileNumber
	cfd := newColumnFamilyData(id, name, opts, meta)
	db.cfSet.add(cfd)
	db.opts.Logger.Infof("[db] created column family %q (id %d)", name, id)
	return cfd, nil
}

// DropColumnFamily drops the family; its data becomes unreachable.
func (db *DB) DropColumnFamily(h ColumnFamilyHandle) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.dropColumnFamilyLocked(h.ID())
}

func (db *DB) dropColumnFamilyLocked(id uint32) error {
	if id == DefaultColumnFamilyID {
		return NewInvalidArgument("cannot drop the default column family")
	}
	cfd := db.cfSet.get(id)
	if cfd == nil {
		return NewInvalidArgument("column family id %d not open", id)
	}
	edit := &manifest.VersionEdit{}
	edit.SetColumnFamily(id)
	edit.DropColumnFamily()
	if err := db.versions.LogAndApply([]*manifest.VersionEdit{edit}, false); err != nil {
		return err
	}
	cfd.dropped = true
	db.cfSet.remove(cfd)
	return nil
}

// DefaultColumnFamily returns the handle of the default family.
func (db *DB) DefaultColumnFamily() ColumnFamilyHandle {
	db.mu.Lock()
	defer db.mu.Unlock()
	return &columnFamilyHandle{cfd: db.cfSet.get(DefaultColumnFamilyID)}
}

// GetLatestSequenceNumber returns the most recent committed sequence.
func (db *DB) GetLatestSequenceNumber() uint64 {
	return db.versions.LastSequence()
}

// discoverWALs lists the WAL directory and returns the log numbers in
// ascending order, enforcing the strict-open gates.
func (db *DB) discoverWALs(justBootstrapped bool) ([]uint64, error) {
	names, err := db.opts.FS.ListDir(db.opts.WALDir)
	if err != nil {
		return nil, NewIOError("listing wal_dir "+db.opts.WALDir, err)
	}

	var numbers []uint64
	for _, name := range names {
		number, ft, ok := parseFileName(name)
		if !ok || ft != FileTypeLog {
			continue
		}
		if justBootstrapped {
			return nil, NewCorruption("wal_dir %s contains existing log file: %s", db.opts.WALDir, name)
		}
		if db.opts.ErrorIfWALFileExists {
			return nil, NewCorruption("wal_dir %s contains log file %s (error_if_wal_file_exists)", db.opts.WALDir, name)
		}
		if db.opts.ErrorIfDataExistsInWALs {
			if fi, serr := db.opts.FS.Stat(db.logFilePath(number)); serr == nil && fi.Size() > 0 {
				return nil, NewCorruption("wal_dir %s contains data in log file %s", db.opts.WALDir, name)
			}
		}
		numbers = append(numbers, number)
	}
	slices.Sort(numbers)
	return numbers, nil
}

// Close flushes (unless configured not to), stops background work and
// releases every resource.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true

	var firstErr error
	if db.opened && !db.opts.AvoidFlushDuringShutdown {
		for _, cfd := range db.cfSet.all() {
			if cfd.mem.Empty() {
				continue
			}
			if err := db.flushMemTableLocked(cfd); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	db.mu.Unlock()

	if db.bg != nil {
		db.bg.stop()
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	db.teardown()
	return firstErr
}

// teardown releases resources; safe on a partially opened database.
func (db *DB) teardown() {
	db.logWriteMu.Lock()
	for _, lf := range db.logs {
		_ = lf.close()
	}
	db.logs = nil
	db.logWriteMu.Unlock()

	if db.tableCache != nil {
		_ = db.tableCache.Close()
		db.tableCache = nil
	}
	if db.versions != nil {
		_ = db.versions.Close()
	}
	if db.dirs != nil {
		db.dirs.close()
		db.dirs = nil
	}
	if db.fileLock != nil {
		_ = db.fileLock.Close()
		db.fileLock = nil
	}
}

// deleteObsoleteFiles removes stale WALs, unreferenced tables and old
// descriptors. File numbers in pendingOutputs are never touched.
func (db *DB) deleteObsoleteFiles() error {
	fs := db.opts.FS

	minWAL := db.versions.MinLogNumberWithUnflushedData()
	if db.opts.Allow2PC {
		if n := db.versions.MinLogNumberToKeep2PC(); n > 0 {
			minWAL = n
		}
	}
	alive := make(map[uint64]bool, len(db.aliveLogFiles))
	db.logWriteMu.Lock()
	for _, lf := range db.aliveLogFiles {
		alive[lf.number] = true
	}
	db.logWriteMu.Unlock()

	names, err := fs.ListDir(db.opts.WALDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		number, ft, ok := parseFileName(name)
		if !ok || ft != FileTypeLog {
			continue
		}
		if number >= minWAL || alive[number] {
			continue
		}
		if len(db.logsToRecycle) < db.opts.RecycleLogFileNum {
			db.logsToRecycle = append(db.logsToRecycle, number)
			db.opts.Logger.Debugf("[db] keeping WAL %06d for recycling", number)
			continue
		}
		path := db.logFilePath(number)
		if derr := fs.Remove(path); derr != nil {
			db.opts.Logger.Warnf("[db] deleting obsolete WAL %s: %v", path, derr)
		}
	}

	live := db.versions.LiveFileNumbers()
	for i, p := range db.opts.DbPaths {
		entries, lerr := fs.ListDir(p.Path)
		if lerr != nil {
			continue
		}
		for _, name := range entries {
			number, ft, ok := parseFileName(name)
			if !ok {
				continue
			}
			switch ft {
			case FileTypeTable:
				if _, isLive := live[number]; isLive {
					continue
				}
				if _, pending := db.pendingOutputs[number]; pending {
					continue
				}
				path := db.tableFilePath(number, uint32(i))
				db.opts.SSTFileManager.OnDeleteFile(path)
				if derr := fs.Remove(path); derr != nil {
					db.opts.Logger.Warnf("[db] deleting obsolete table %s: %v", path, derr)
				}
				db.tableCache.Evict(number)
			case FileTypeManifest:
				if p.Path == db.name && number != db.versions.ManifestFileNumber() {
					_ = fs.Remove(db.manifestFilePath(number))
				}
			}
		}
	}
	return nil
}
