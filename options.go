package rocksdb

// options.go implements database configuration.
//
// Options as supplied by the user are sanitized once at Open into an
// immutable copy (options_sanitize.go) shared by every component.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/options.h
//   - options/db_options.cc

import (
	"github.com/khr0407/rocksdb/internal/checksum"
	"github.com/khr0407/rocksdb/internal/compression"
	"github.com/khr0407/rocksdb/internal/logging"
	"github.com/khr0407/rocksdb/internal/vfs"
)

// Logger is the logging interface accepted by Options.
type Logger = logging.Logger

// CompressionType selects the SST block codec.
type CompressionType = compression.Type

// Compression type constants.
const (
	NoCompression     = compression.NoCompression
	SnappyCompression = compression.SnappyCompression
	LZ4Compression    = compression.LZ4Compression
	ZstdCompression   = compression.ZstdCompression
)

// ChecksumType selects the SST block checksum algorithm.
type ChecksumType = checksum.Type

// Checksum type constants.
const (
	ChecksumTypeNoChecksum = checksum.TypeNoChecksum
	ChecksumTypeCRC32C     = checksum.TypeCRC32C
	ChecksumTypeXXH3       = checksum.TypeXXH3
)

// WALRecoveryMode selects the replay policy applied to WAL corruption.
//
// Reference: RocksDB v10.7.5 include/rocksdb/options.h (WALRecoveryMode)
type WALRecoveryMode int

const (
	// TolerateCorruptedTailRecords drops a torn record at the tail of the
	// last log and fails on any other corruption. The default.
	TolerateCorruptedTailRecords WALRecoveryMode = iota

	// AbsoluteConsistency fails recovery on any corruption, including a
	// torn tail produced by a crash mid-append.
	AbsoluteConsistency

	// PointInTimeRecovery stops replay at the first corruption, recovering
	// the longest consistent prefix of the write history.
	PointInTimeRecovery

	// SkipAnyCorruptedRecords skips every unreadable record. Data loss.
	SkipAnyCorruptedRecords
)

// String returns the mode name.
func (m WALRecoveryMode) String() string {
	switch m {
	case TolerateCorruptedTailRecords:
		return "kTolerateCorruptedTailRecords"
	case AbsoluteConsistency:
		return "kAbsoluteConsistency"
	case PointInTimeRecovery:
		return "kPointInTimeRecovery"
	case SkipAnyCorruptedRecords:
		return "kSkipAnyCorruptedRecords"
	default:
		return "kUnknown"
	}
}

// CompactionStyle selects the compaction strategy.
type CompactionStyle int

const (
	// CompactionStyleLevel is leveled compaction, the default.
	CompactionStyleLevel CompactionStyle = iota
	// CompactionStyleUniversal is size-tiered compaction.
	CompactionStyleUniversal
	// CompactionStyleFIFO deletes oldest files past a size cap; all files
	// stay in level 0.
	CompactionStyleFIFO
)

// DbPath is one data directory with a soft size target. Path 0 is the
// default destination for new files.
type DbPath struct {
	Path            string
	TargetSizeBytes uint64
}

// MaxDbPaths bounds the db_paths list.
const MaxDbPaths = 4

// DefaultColumnFamilyName names the column family that always exists.
const DefaultColumnFamilyName = "default"

// PersistentStatsColumnFamilyName names the reserved statistics family.
const PersistentStatsColumnFamilyName = "__system_stats__"

// MergeOperator combines merge operands with an existing value.
type MergeOperator interface {
	// FullMerge resolves operands (oldest first) against existingValue.
	FullMerge(key, existingValue []byte, operands [][]byte) ([]byte, bool)

	// Name identifies the operator; persisted for compatibility checks.
	Name() string
}

// ColumnFamilyOptions configures one column family.
type ColumnFamilyOptions struct {
	// WriteBufferSize is the memtable size that triggers a flush.
	// Default: 64 MiB.
	WriteBufferSize int

	// Comparator orders user keys; nil means bytewise.
	Comparator func(a, b []byte) int

	// ComparatorName is persisted in the MANIFEST; defaults to
	// "leveldb.BytewiseComparator" when Comparator is nil.
	ComparatorName string

	// MergeOperator combines merge operands. The write, replay and read
	// paths do not consult it: Merge records are stored unresolved, and a
	// nil operator does not reject them.
	MergeOperator MergeOperator

	// CompactionStyle selects the compaction strategy.
	CompactionStyle CompactionStyle

	// Compression selects the SST block codec.
	Compression CompressionType

	// BlockSize is the SST data block size.
	BlockSize int

	// ChecksumType selects the SST block checksum.
	ChecksumType ChecksumType

	// Level0FileNumCompactionTrigger is the L0 file count that makes the
	// family a compaction candidate.
	Level0FileNumCompactionTrigger int
}

// DefaultColumnFamilyOptions returns the standard per-family configuration.
func DefaultColumnFamilyOptions() ColumnFamilyOptions {
	return ColumnFamilyOptions{
		WriteBufferSize:                64 << 20,
		CompactionStyle:                CompactionStyleLevel,
		Compression:                    SnappyCompression,
		BlockSize:                      4096,
		ChecksumType:                   ChecksumTypeCRC32C,
		Level0FileNumCompactionTrigger: 4,
	}
}

// ColumnFamilyDescriptor pairs a family name with its options for Open.
type ColumnFamilyDescriptor struct {
	Name    string
	Options ColumnFamilyOptions
}

// Options configures the database. The zero value plus DefaultOptions()
// adjustments opens an existing database with conservative settings.
type Options struct {
	// --- open behavior ---

	// CreateIfMissing bootstraps a fresh database when CURRENT is absent.
	CreateIfMissing bool

	// CreateMissingColumnFamilies creates requested families absent from
	// the manifest instead of failing.
	CreateMissingColumnFamilies bool

	// ErrorIfExists fails Open when the database already exists.
	ErrorIfExists bool

	// ParanoidChecks enables extra integrity checking where optional.
	// WAL record checksums are always verified regardless.
	ParanoidChecks bool

	// ErrorIfWALFileExists fails Open when any WAL is present.
	ErrorIfWALFileExists bool

	// ErrorIfDataExistsInWALs fails Open when any non-empty WAL is present.
	ErrorIfDataExistsInWALs bool

	// --- recovery behavior ---

	// WALRecoveryMode selects the corruption policy during replay.
	WALRecoveryMode WALRecoveryMode

	// AvoidFlushDuringRecovery keeps replayed data in memtables instead of
	// writing Level-0 files, retaining the replayed WALs.
	AvoidFlushDuringRecovery bool

	// Allow2PC enables two-phase-commit WALs. Forces
	// AvoidFlushDuringRecovery off: prepared sections make the sequence
	// stream non-contiguous, so logs cannot be retained selectively.
	Allow2PC bool

	// WALFilter is consulted for every replayed record.
	WALFilter WALFilter

	// WriteDBIDToManifest stores the database id inside the MANIFEST and
	// reconciles IDENTITY against it on open.
	WriteDBIDToManifest bool

	// PersistStatsToDisk maintains the reserved statistics column family.
	PersistStatsToDisk bool

	// --- placement ---

	// WALDir holds the WAL files; empty means the database directory.
	WALDir string

	// DbPaths are the data directories; empty means the database directory
	// with no size cap. At most MaxDbPaths entries.
	DbPaths []DbPath

	// --- resources ---

	// FS is the filesystem; nil means the operating system.
	FS vfs.FS

	// Logger receives engine diagnostics; nil means stderr at INFO.
	Logger Logger

	// MaxOpenFiles caps open table readers; -1 means unbounded.
	MaxOpenFiles int

	// WriteBufferManager accounts memtable memory across the database;
	// nil creates one sized to DBWriteBufferSize.
	WriteBufferManager *WriteBufferManager

	// DBWriteBufferSize caps total memtable memory; 0 means unlimited.
	DBWriteBufferSize uint64

	// SSTFileManager tracks and deletes table files; nil creates one.
	SSTFileManager *SSTFileManager

	// RateLimiter bounds background write I/O; nil means none.
	RateLimiter *RateLimiter

	// --- background jobs ---

	// MaxBackgroundJobs splits into flush and compaction limits.
	// Default: 2.
	MaxBackgroundJobs int

	// MaxBackgroundFlushes and MaxBackgroundCompactions override the split
	// when positive (legacy knobs).
	MaxBackgroundFlushes    int
	MaxBackgroundCompactions int

	// --- WAL lifecycle ---

	// RecycleLogFileNum keeps up to this many finished WALs for reuse.
	// Incompatible with PointInTimeRecovery/AbsoluteConsistency and with
	// bounded WAL retention; sanitization zeroes it in those cases.
	RecycleLogFileNum int

	// WALTtlSeconds and WALSizeLimitMB bound archived WAL retention.
	WALTtlSeconds  uint64
	WALSizeLimitMB uint64

	// KeepLogFileNum caps retained info-log files. Must be positive.
	KeepLogFileNum int

	// ManualWALFlush buffers WAL writes until FlushWAL is called.
	ManualWALFlush bool

	// ManifestPreallocationSize is the descriptor preallocation hint.
	ManifestPreallocationSize int64

	// --- I/O behavior ---

	// AllowMmapReads and AllowMmapWrites enable memory-mapped file I/O.
	AllowMmapReads  bool
	AllowMmapWrites bool

	// UseDirectReads bypasses the page cache for reads.
	UseDirectReads bool

	// UseDirectIOForFlushAndCompaction bypasses the page cache for
	// background writes.
	UseDirectIOForFlushAndCompaction bool

	// CompactionReadaheadSize is the readahead for compaction inputs.
	CompactionReadaheadSize int

	// NewTableReaderForCompactionInputs gives each compaction its own
	// table readers. Derived during sanitization.
	NewTableReaderForCompactionInputs bool

	// BytesPerSync incrementally syncs table writes every N bytes.
	BytesPerSync uint64

	// DelayedWriteRate is the throttled write rate under stalls; 0 derives
	// from the rate limiter or a 16 MiB/s default.
	DelayedWriteRate uint64

	// --- write path ---

	// AllowConcurrentMemtableWrite admits parallel memtable writers.
	AllowConcurrentMemtableWrite bool

	// UnorderedWrite relaxes write ordering for throughput.
	UnorderedWrite bool

	// EnablePipelinedWrite overlaps WAL and memtable writes.
	EnablePipelinedWrite bool

	// AtomicFlush flushes all column families together.
	AtomicFlush bool

	// TwoWriteQueues maintains a second queue for WAL-only writes.
	TwoWriteQueues bool

	// SkipCheckingSSTFileSizesOnDBOpen trusts manifest file sizes.
	// Derived from ParanoidChecks during sanitization.
	SkipCheckingSSTFileSizesOnDBOpen bool

	// AvoidFlushDuringShutdown leaves memtables unflushed on Close.
	AvoidFlushDuringShutdown bool
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() *Options {
	return &Options{
		ParanoidChecks:            true,
		WALRecoveryMode:           TolerateCorruptedTailRecords,
		MaxOpenFiles:              1000,
		MaxBackgroundJobs:         2,
		KeepLogFileNum:            1000,
		ManifestPreallocationSize: 4 << 20,
		AllowConcurrentMemtableWrite: true,
	}
}

// ReadOptions configures read operations.
type ReadOptions struct {
	// VerifyChecksums verifies block checksums on this read.
	VerifyChecksums bool
}

// WriteOptions configures write operations.
type WriteOptions struct {
	// Sync fsyncs the WAL before the write returns.
	Sync bool

	// DisableWAL skips the log; the write is lost on crash until flushed.
	DisableWAL bool

	// LowPri marks the write as background-priority.
	LowPri bool

	// NoSlowdown fails instead of stalling when the writer is throttled.
	NoSlowdown bool
}

// FlushOptions configures Flush.
type FlushOptions struct {
	// Wait blocks until the flush completes.
	Wait bool
}
