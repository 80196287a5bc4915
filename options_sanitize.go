package rocksdb

// options_sanitize.go normalizes user options into the immutable copy
// shared by every component. Sanitization decides the defaults that change
// recovery behavior; it runs before any other open step.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (SanitizeOptions)

import (
	"strings"

	"github.com/khr0407/rocksdb/internal/logging"
	"github.com/khr0407/rocksdb/internal/vfs"
)

const (
	minMaxOpenFiles  = 20
	maxMaxOpenFiles  = 1 << 22
	defaultBytesPerSync = 1 << 20
	defaultDelayedWriteRate = 16 << 20
	defaultCompactionReadahead = 2 << 20
)

// immutableDBOptions is the sanitized configuration. It never changes after
// Open begins and is shared by reference.
type immutableDBOptions struct {
	Options

	DBName string

	FS     vfs.FS
	Logger Logger

	WriteBufferManager *WriteBufferManager
	SSTFileManager     *SSTFileManager

	MaxFlushes     int
	MaxCompactions int
}

// sanitizeOptions applies the normalization rules in order and returns the
// immutable copy.
func sanitizeOptions(dbname string, src *Options) *immutableDBOptions {
	opts := &immutableDBOptions{Options: *src, DBName: dbname}

	// Resolve the filesystem and logger singletons into explicit fields.
	opts.FS = src.FS
	if opts.FS == nil {
		opts.FS = vfs.Default()
	}
	opts.Logger = src.Logger
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger(logging.LevelInfo)
	}

	// max_open_files: -1 is unbounded, anything else is clamped.
	if opts.MaxOpenFiles != -1 {
		limit := min(osOpenFileLimit(), maxMaxOpenFiles)
		opts.MaxOpenFiles = min(max(opts.MaxOpenFiles, minMaxOpenFiles), limit)
	}

	opts.WriteBufferManager = src.WriteBufferManager
	if opts.WriteBufferManager == nil {
		opts.WriteBufferManager = NewWriteBufferManager(opts.DBWriteBufferSize)
	}

	// Background job limits: a quarter of the budget flushes, the rest
	// compacts, with the legacy knobs taking precedence.
	jobs := opts.MaxBackgroundJobs
	if jobs <= 0 {
		jobs = 2
	}
	opts.MaxFlushes = opts.MaxBackgroundFlushes
	if opts.MaxFlushes <= 0 {
		opts.MaxFlushes = max(1, jobs/4)
	}
	opts.MaxCompactions = opts.MaxBackgroundCompactions
	if opts.MaxCompactions <= 0 {
		opts.MaxCompactions = max(1, jobs-opts.MaxFlushes)
	}

	if opts.RateLimiter != nil && opts.BytesPerSync == 0 {
		opts.BytesPerSync = defaultBytesPerSync
	}

	if opts.DelayedWriteRate == 0 {
		if opts.RateLimiter != nil {
			opts.DelayedWriteRate = uint64(opts.RateLimiter.BytesPerSecond())
		} else {
			opts.DelayedWriteRate = defaultDelayedWriteRate
		}
	}

	// Bounded WAL retention moves finished logs to the archive, where a
	// recycled file would be overwritten.
	if opts.WALTtlSeconds > 0 || opts.WALSizeLimitMB > 0 {
		opts.RecycleLogFileNum = 0
	}

	// A recycled file's stale tail is structurally valid, which defeats
	// "first corrupt record is the end of the log".
	if opts.RecycleLogFileNum > 0 &&
		(opts.WALRecoveryMode == PointInTimeRecovery || opts.WALRecoveryMode == AbsoluteConsistency) {
		opts.Logger.Warnf("[db] recycle_log_file_num disabled under %s", opts.WALRecoveryMode)
		opts.RecycleLogFileNum = 0
	}

	if opts.WALDir == "" {
		opts.WALDir = dbname
	}
	opts.WALDir = strings.TrimRight(opts.WALDir, "/")
	if opts.WALDir == "" {
		opts.WALDir = "/"
	}

	if len(opts.DbPaths) == 0 {
		opts.DbPaths = []DbPath{{Path: dbname, TargetSizeBytes: ^uint64(0)}}
	}

	if opts.UseDirectReads && opts.CompactionReadaheadSize == 0 {
		opts.CompactionReadaheadSize = defaultCompactionReadahead
	}
	if opts.CompactionReadaheadSize > 0 || opts.UseDirectReads {
		opts.NewTableReaderForCompactionInputs = true
	}

	if opts.Allow2PC {
		opts.AvoidFlushDuringRecovery = false
	}

	opts.SSTFileManager = src.SSTFileManager
	if opts.SSTFileManager == nil {
		opts.SSTFileManager = NewSSTFileManager(opts.FS, opts.Logger)
	}

	// With a separate WAL directory, soft-deleted logs cannot be metered
	// against the data path's deletion budget; unlink them now.
	if opts.WALDir != opts.DbPaths[0].Path {
		opts.SSTFileManager.DeleteTrashLogs(opts.WALDir)
	}

	if !opts.ParanoidChecks {
		opts.SkipCheckingSSTFileSizesOnDBOpen = true
	}

	return opts
}
