// Package version maintains the durable metadata state of the database: the
// per-column-family file levels, the WAL frontier of each family, and the
// counters (next file number, last sequence) reconstructed from the MANIFEST
// and advanced at runtime.
//
// Reference: RocksDB v10.7.5
//   - db/version_set.h
//   - db/version_set.cc
package version

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/khr0407/rocksdb/internal/logging"
	"github.com/khr0407/rocksdb/internal/manifest"
	"github.com/khr0407/rocksdb/internal/vfs"
	"github.com/khr0407/rocksdb/internal/wal"
)

// MaxNumLevels is the number of LSM levels.
const MaxNumLevels = 7

// DefaultColumnFamilyName names the column family that always exists.
const DefaultColumnFamilyName = "default"

// Errors returned by VersionSet operations.
var (
	ErrNoCurrentManifest = errors.New("version: CURRENT file missing")
	ErrInvalidManifest   = errors.New("version: invalid CURRENT or MANIFEST")
	ErrManifestCorrupt   = errors.New("version: manifest corruption")
)

// ColumnFamily is the durable state of one column family.
type ColumnFamily struct {
	ID   uint32
	Name string

	// LogNumber is the family's WAL frontier: every WAL numbered below it
	// has been fully flushed into tables for this family.
	LogNumber uint64

	files [MaxNumLevels][]*manifest.FileMetaData
}

// Files returns the family's files at a level.
func (cf *ColumnFamily) Files(level int) []*manifest.FileMetaData {
	return cf.files[level]
}

// NumFiles returns the family's total file count.
func (cf *ColumnFamily) NumFiles() int {
	n := 0
	for level := 0; level < MaxNumLevels; level++ {
		n += len(cf.files[level])
	}
	return n
}

// AddFile installs a file at a level, keeping L1+ sorted by smallest key.
func (cf *ColumnFamily) AddFile(level int, meta *manifest.FileMetaData) {
	cf.files[level] = append(cf.files[level], meta)
	if level > 0 {
		fs := cf.files[level]
		for i := len(fs) - 1; i > 0 && bytes.Compare(fs[i-1].Smallest, fs[i].Smallest) > 0; i-- {
			fs[i-1], fs[i] = fs[i], fs[i-1]
		}
	}
}

func (cf *ColumnFamily) deleteFile(level int, number uint64) {
	fs := cf.files[level]
	for i, f := range fs {
		if f.FD.Number == number {
			cf.files[level] = append(fs[:i:i], fs[i+1:]...)
			return
		}
	}
}

// Options configures a VersionSet.
type Options struct {
	DBName                string
	FS                    vfs.FS
	Logger                logging.Logger
	ComparatorName        string
	ManifestPreallocation int64
}

// VersionSet owns the MANIFEST and the recovered metadata state.
type VersionSet struct {
	mu   sync.Mutex
	opts Options

	nextFileNumber atomic.Uint64
	lastSequence   atomic.Uint64

	manifestFileNumber uint64
	prevLogNumber      uint64
	minLogNumberToKeep atomic.Uint64 // explicit 2PC frontier from the manifest

	dbID            string
	maxColumnFamily uint32

	cfs    map[uint32]*ColumnFamily
	byName map[string]uint32

	manifestFile   vfs.WritableFile
	manifestWriter *wal.Writer
}

// New returns an empty VersionSet. File number 1 is reserved for the
// bootstrap MANIFEST, so allocation starts at 2.
func New(opts Options) *VersionSet {
	if opts.Logger == nil {
		opts.Logger = logging.Discard{}
	}
	if opts.ComparatorName == "" {
		opts.ComparatorName = "leveldb.BytewiseComparator"
	}
	vs := &VersionSet{
		opts:   opts,
		cfs:    make(map[uint32]*ColumnFamily),
		byName: make(map[string]uint32),
	}
	vs.nextFileNumber.Store(2)
	return vs
}

// NewFileNumber allocates the next file number.
func (vs *VersionSet) NewFileNumber() uint64 {
	return vs.nextFileNumber.Add(1) - 1
}

// PeekNextFileNumber returns the next number without allocating it.
func (vs *VersionSet) PeekNextFileNumber() uint64 {
	return vs.nextFileNumber.Load()
}

// MarkFileNumberUsed advances the counter past n so it is never reissued.
func (vs *VersionSet) MarkFileNumberUsed(n uint64) {
	for {
		cur := vs.nextFileNumber.Load()
		if cur > n {
			return
		}
		if vs.nextFileNumber.CompareAndSwap(cur, n+1) {
			return
		}
	}
}

// LastSequence returns the sequence high-water mark.
func (vs *VersionSet) LastSequence() uint64 {
	return vs.lastSequence.Load()
}

// SetLastSequence sets the sequence high-water mark.
func (vs *VersionSet) SetLastSequence(seq uint64) {
	vs.lastSequence.Store(seq)
}

// DBID returns the database id surfaced by the manifest, empty when the
// manifest never recorded one.
func (vs *VersionSet) DBID() string {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.dbID
}

// SetDBID installs the database id in memory (persisting is the caller's
// LogAndApply).
func (vs *VersionSet) SetDBID(id string) {
	vs.mu.Lock()
	vs.dbID = id
	vs.mu.Unlock()
}

// ManifestFileNumber returns the live descriptor's file number.
func (vs *VersionSet) ManifestFileNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.manifestFileNumber
}

// MaxColumnFamily returns the largest column family id ever allocated.
func (vs *VersionSet) MaxColumnFamily() uint32 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.maxColumnFamily
}

// ColumnFamilies returns the live column families in id order.
func (vs *VersionSet) ColumnFamilies() []*ColumnFamily {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make([]*ColumnFamily, 0, len(vs.cfs))
	for id := uint32(0); id <= vs.maxColumnFamily; id++ {
		if cf, ok := vs.cfs[id]; ok {
			out = append(out, cf)
		}
	}
	return out
}

// GetColumnFamily returns the named family, or nil.
func (vs *VersionSet) GetColumnFamily(name string) *ColumnFamily {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if id, ok := vs.byName[name]; ok {
		return vs.cfs[id]
	}
	return nil
}

// MinLogNumberWithUnflushedData returns the smallest WAL frontier across the
// live column families: WALs numbered below it are obsolete.
func (vs *VersionSet) MinLogNumberWithUnflushedData() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	minLog := uint64(0)
	first := true
	for _, cf := range vs.cfs {
		if first || cf.LogNumber < minLog {
			minLog = cf.LogNumber
			first = false
		}
	}
	return minLog
}

// MinLogNumberToKeep2PC returns the explicit frontier recorded for
// two-phase-commit WALs, 0 when never set.
func (vs *VersionSet) MinLogNumberToKeep2PC() uint64 {
	return vs.minLogNumberToKeep.Load()
}

// LiveFileNumbers returns every table file number referenced by any family.
func (vs *VersionSet) LiveFileNumbers() map[uint64]uint32 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make(map[uint64]uint32)
	for _, cf := range vs.cfs {
		for level := 0; level < MaxNumLevels; level++ {
			for _, f := range cf.files[level] {
				out[f.FD.Number] = f.FD.PathID
			}
		}
	}
	return out
}

// Recover parses CURRENT and the MANIFEST it names, rebuilding the column
// family set, per-family file levels and log numbers, the counters, and the
// db id. Returns the recovered db id (possibly empty).
func (vs *VersionSet) Recover() (string, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	fs := vs.opts.FS
	currentPath := filepath.Join(vs.opts.DBName, "CURRENT")
	f, err := fs.Open(currentPath)
	if err != nil {
		return "", ErrNoCurrentManifest
	}
	currentData, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return "", err
	}

	manifestName := strings.TrimSpace(string(currentData))
	numStr, ok := strings.CutPrefix(manifestName, "MANIFEST-")
	if !ok || manifestName == "" {
		return "", ErrInvalidManifest
	}
	manifestNum, err := strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return "", ErrInvalidManifest
	}

	mf, err := fs.Open(filepath.Join(vs.opts.DBName, manifestName))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	defer func() { _ = mf.Close() }()

	// MANIFEST corruption is always fatal, with one exception: a crash
	// between the descriptor append and its sync may leave a partial record
	// at the tail. The complete prefix is the authoritative state.
	reader := wal.NewReader(mf, nil, manifestNum)

	var (
		hasLastSequence bool
		maxFileNumSeen  = manifestNum
	)

	for {
		record, rerr := reader.ReadRecord()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if errors.Is(rerr, wal.ErrTruncatedTail) {
			vs.opts.Logger.Warnf("[manifest] dropping truncated record at tail of MANIFEST-%06d", manifestNum)
			break
		}
		if rerr != nil {
			return "", fmt.Errorf("%w: %v", ErrManifestCorrupt, rerr)
		}

		var edit manifest.VersionEdit
		if derr := edit.DecodeFrom(record); derr != nil {
			return "", fmt.Errorf("%w: %v", ErrManifestCorrupt, derr)
		}

		if edit.HasComparator && !comparatorNamesMatch(edit.Comparator, vs.opts.ComparatorName) {
			return "", fmt.Errorf("%w: database uses comparator %q, opening with %q",
				ErrInvalidManifest, edit.Comparator, vs.opts.ComparatorName)
		}
		if aerr := vs.applyLocked(&edit); aerr != nil {
			return "", aerr
		}
		if edit.HasLastSequence {
			hasLastSequence = true
		}
		for _, nf := range edit.NewFiles {
			maxFileNumSeen = max(maxFileNumSeen, nf.Meta.FD.Number)
		}
		if edit.HasLogNumber {
			maxFileNumSeen = max(maxFileNumSeen, edit.LogNumber)
		}
	}

	if _, ok := vs.cfs[0]; !ok {
		return "", fmt.Errorf("%w: default column family missing", ErrManifestCorrupt)
	}
	if !hasLastSequence {
		return "", fmt.Errorf("%w: missing last sequence", ErrManifestCorrupt)
	}

	// Never reissue a number at or below anything observed.
	vs.MarkFileNumberUsed(maxFileNumSeen)

	vs.manifestFileNumber = manifestNum
	return vs.dbID, nil
}

// applyLocked folds one edit into the in-memory state.
func (vs *VersionSet) applyLocked(edit *manifest.VersionEdit) error {
	cfID := edit.ColumnFamily // zero when unscoped: the default family

	switch {
	case edit.IsColumnFamilyAdd:
		if _, exists := vs.cfs[cfID]; exists {
			return fmt.Errorf("%w: duplicate column family id %d", ErrManifestCorrupt, cfID)
		}
		cf := &ColumnFamily{ID: cfID, Name: edit.ColumnFamilyName}
		vs.cfs[cfID] = cf
		vs.byName[cf.Name] = cfID
		if cfID > vs.maxColumnFamily {
			vs.maxColumnFamily = cfID
		}
	case edit.IsColumnFamilyDrop:
		if cf, exists := vs.cfs[cfID]; exists {
			delete(vs.byName, cf.Name)
			delete(vs.cfs, cfID)
		}
	}

	cf := vs.cfs[cfID]
	if cf == nil && (edit.HasLogNumber || len(edit.NewFiles) > 0 || len(edit.DeletedFiles) > 0) {
		// A missing default family is created implicitly; edits for any
		// other family that is not live here (dropped earlier in the log)
		// are skipped.
		cf = &ColumnFamily{ID: cfID}
		if cfID == 0 {
			cf.Name = DefaultColumnFamilyName
			vs.cfs[0] = cf
			vs.byName[cf.Name] = 0
		} else {
			cf = nil
		}
	}

	if cf != nil {
		if edit.HasLogNumber {
			cf.LogNumber = edit.LogNumber
		}
		for _, df := range edit.DeletedFiles {
			cf.deleteFile(df.Level, df.Number)
		}
		for _, nf := range edit.NewFiles {
			cf.AddFile(nf.Level, nf.Meta)
		}
	}

	if edit.HasPrevLogNumber {
		vs.prevLogNumber = edit.PrevLogNumber
	}
	if edit.HasNextFileNumber {
		vs.nextFileNumber.Store(edit.NextFileNumber)
	}
	if edit.HasLastSequence {
		vs.lastSequence.Store(uint64(edit.LastSequence))
	}
	if edit.HasMinLogNumberToKeep {
		vs.minLogNumberToKeep.Store(edit.MinLogNumberToKeep)
	}
	if edit.HasMaxColumnFamily && edit.MaxColumnFamily > vs.maxColumnFamily {
		vs.maxColumnFamily = edit.MaxColumnFamily
	}
	if edit.HasDBID {
		vs.dbID = edit.DBID
	}
	return nil
}

// LogAndApply atomically applies a group of edits: all records are appended
// to the descriptor, the descriptor is synced, and only then is the
// in-memory state updated. With newDescriptorLog the descriptor is rotated
// to a fresh file (written with a full snapshot first) and CURRENT is
// repointed after the sync.
func (vs *VersionSet) LogAndApply(edits []*manifest.VersionEdit, newDescriptorLog bool) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.manifestWriter == nil {
		newDescriptorLog = true
	}

	var (
		newManifestNumber uint64
		newFile           vfs.WritableFile
		newWriter         *wal.Writer
	)
	if newDescriptorLog {
		newManifestNumber = vs.NewFileNumber()
		path := filepath.Join(vs.opts.DBName, fmt.Sprintf("MANIFEST-%06d", newManifestNumber))
		f, err := vs.opts.FS.Create(path)
		if err != nil {
			return err
		}
		if vs.opts.ManifestPreallocation > 0 {
			_ = f.Preallocate(vs.opts.ManifestPreallocation)
		}
		newFile = f
		newWriter = wal.NewWriter(f, newManifestNumber, false)
		for _, snap := range vs.snapshotLocked() {
			if _, err := newWriter.AddRecord(snap.EncodeTo()); err != nil {
				_ = f.Close()
				_ = vs.opts.FS.Remove(path)
				return err
			}
		}
	}

	file, writer := vs.manifestFile, vs.manifestWriter
	if newDescriptorLog {
		file, writer = newFile, newWriter
	}

	for _, edit := range edits {
		// Persist the counter with every commit so recovery never reissues
		// a file number.
		edit.SetNextFileNumber(vs.nextFileNumber.Load())
		if _, err := writer.AddRecord(edit.EncodeTo()); err != nil {
			return err
		}
	}
	if err := file.Sync(); err != nil {
		return err
	}

	if newDescriptorLog {
		if err := setCurrentFile(vs.opts.FS, vs.opts.DBName, newManifestNumber); err != nil {
			return err
		}
		if vs.manifestFile != nil {
			_ = vs.manifestFile.Close()
		}
		vs.manifestFile = newFile
		vs.manifestWriter = newWriter
		vs.manifestFileNumber = newManifestNumber
	}

	for _, edit := range edits {
		if err := vs.applyLocked(edit); err != nil {
			return err
		}
	}
	return nil
}

// snapshotLocked encodes the current state as a sequence of edits: one
// header, a state edit for the default family, then an add+state pair per
// non-default family.
func (vs *VersionSet) snapshotLocked() []*manifest.VersionEdit {
	header := &manifest.VersionEdit{}
	header.SetComparatorName(vs.opts.ComparatorName)
	header.SetNextFileNumber(vs.nextFileNumber.Load())
	header.SetLastSequence(manifest.SequenceNumber(vs.lastSequence.Load()))
	header.SetMaxColumnFamily(vs.maxColumnFamily)
	if vs.dbID != "" {
		header.SetDBID(vs.dbID)
	}
	if n := vs.minLogNumberToKeep.Load(); n > 0 {
		header.SetMinLogNumberToKeep(n)
	}
	out := []*manifest.VersionEdit{header}

	for id := uint32(0); id <= vs.maxColumnFamily; id++ {
		cf, ok := vs.cfs[id]
		if !ok {
			continue
		}
		if id != 0 {
			add := &manifest.VersionEdit{}
			add.SetColumnFamily(id)
			add.AddColumnFamily(cf.Name)
			out = append(out, add)
		}
		state := &manifest.VersionEdit{}
		if id != 0 {
			state.SetColumnFamily(id)
		}
		state.SetLogNumber(cf.LogNumber)
		for level := 0; level < MaxNumLevels; level++ {
			for _, f := range cf.files[level] {
				state.AddFile(level, f)
			}
		}
		out = append(out, state)
	}
	return out
}

// Close releases the descriptor file.
func (vs *VersionSet) Close() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.manifestFile != nil {
		err := vs.manifestFile.Close()
		vs.manifestFile = nil
		vs.manifestWriter = nil
		return err
	}
	return nil
}

// setCurrentFile atomically repoints CURRENT at the given descriptor.
func setCurrentFile(fs vfs.FS, dbname string, manifestNum uint64) error {
	content := fmt.Sprintf("MANIFEST-%06d\n", manifestNum)
	tmpPath := filepath.Join(dbname, "CURRENT.tmp")
	f, err := fs.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(content)); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmpPath)
		return err
	}
	return fs.Rename(tmpPath, filepath.Join(dbname, "CURRENT"))
}

// SetCurrentFile is the exported hook used during bootstrap, before any
// VersionSet exists.
func SetCurrentFile(fs vfs.FS, dbname string, manifestNum uint64) error {
	return setCurrentFile(fs, dbname, manifestNum)
}

func comparatorNamesMatch(diskName, optName string) bool {
	if diskName == optName {
		return true
	}
	bytewise := func(n string) bool {
		return n == "leveldb.BytewiseComparator" || n == "rocksdb.BytewiseComparator"
	}
	return bytewise(diskName) && bytewise(optName)
}
