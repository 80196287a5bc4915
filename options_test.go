package rocksdb

// options_test.go covers the sanitizer's normalization rules and the
// validator's rejection table.

import (
	"strings"
	"testing"
)

func TestSanitizeDefaults(t *testing.T) {
	opts := DefaultOptions()
	opts.Logger = discardLogger{}
	im := sanitizeOptions("/tmp/db", opts)

	if im.FS == nil {
		t.Error("filesystem not defaulted")
	}
	if im.WriteBufferManager == nil {
		t.Error("write buffer manager not defaulted")
	}
	if im.SSTFileManager == nil {
		t.Error("sst file manager not defaulted")
	}
	if im.WALDir != "/tmp/db" {
		t.Errorf("wal dir = %q", im.WALDir)
	}
	if len(im.DbPaths) != 1 || im.DbPaths[0].Path != "/tmp/db" {
		t.Errorf("db paths = %v", im.DbPaths)
	}
	if im.DelayedWriteRate != 16<<20 {
		t.Errorf("delayed write rate = %d", im.DelayedWriteRate)
	}
	if im.MaxFlushes < 1 || im.MaxCompactions < 1 {
		t.Errorf("job limits = %d/%d", im.MaxFlushes, im.MaxCompactions)
	}
}

func TestSanitizeMaxOpenFiles(t *testing.T) {
	cases := []struct {
		in      int
		wantMin int
		wantMax int
	}{
		{-1, -1, -1},          // unbounded passes through
		{5, 20, 20},           // clamped up
		{1 << 30, 20, 1 << 22}, // clamped down
		{500, 500, 500},
	}
	for _, tc := range cases {
		opts := DefaultOptions()
		opts.Logger = discardLogger{}
		opts.MaxOpenFiles = tc.in
		im := sanitizeOptions("/tmp/db", opts)
		if im.MaxOpenFiles < tc.wantMin || im.MaxOpenFiles > tc.wantMax {
			t.Errorf("MaxOpenFiles(%d) = %d, want within [%d, %d]",
				tc.in, im.MaxOpenFiles, tc.wantMin, tc.wantMax)
		}
	}
}

func TestSanitizeRecycleConflicts(t *testing.T) {
	// Bounded WAL retention disables recycling.
	opts := DefaultOptions()
	opts.Logger = discardLogger{}
	opts.RecycleLogFileNum = 4
	opts.WALTtlSeconds = 60
	if im := sanitizeOptions("/tmp/db", opts); im.RecycleLogFileNum != 0 {
		t.Errorf("recycle with WAL TTL = %d, want 0", im.RecycleLogFileNum)
	}

	// Point-in-time and absolute-consistency modes disable recycling.
	for _, mode := range []WALRecoveryMode{PointInTimeRecovery, AbsoluteConsistency} {
		opts := DefaultOptions()
		opts.Logger = discardLogger{}
		opts.RecycleLogFileNum = 4
		opts.WALRecoveryMode = mode
		if im := sanitizeOptions("/tmp/db", opts); im.RecycleLogFileNum != 0 {
			t.Errorf("recycle under %s = %d, want 0", mode, im.RecycleLogFileNum)
		}
	}

	// The default tolerate mode keeps it.
	opts2 := DefaultOptions()
	opts2.Logger = discardLogger{}
	opts2.RecycleLogFileNum = 4
	if im := sanitizeOptions("/tmp/db", opts2); im.RecycleLogFileNum != 4 {
		t.Errorf("recycle under default mode = %d, want 4", im.RecycleLogFileNum)
	}
}

func TestSanitizeWALDirTrimsSlash(t *testing.T) {
	opts := DefaultOptions()
	opts.Logger = discardLogger{}
	opts.WALDir = "/tmp/wal///"
	if im := sanitizeOptions("/tmp/db", opts); im.WALDir != "/tmp/wal" {
		t.Errorf("wal dir = %q", im.WALDir)
	}
}

func TestSanitizeDirectReadReadahead(t *testing.T) {
	opts := DefaultOptions()
	opts.Logger = discardLogger{}
	opts.UseDirectReads = true
	im := sanitizeOptions("/tmp/db", opts)
	if im.CompactionReadaheadSize != 2<<20 {
		t.Errorf("readahead = %d, want 2 MiB", im.CompactionReadaheadSize)
	}
	if !im.NewTableReaderForCompactionInputs {
		t.Error("new table reader for compaction inputs not derived")
	}
}

func TestSanitize2PCDisablesAvoidFlush(t *testing.T) {
	opts := DefaultOptions()
	opts.Logger = discardLogger{}
	opts.Allow2PC = true
	opts.AvoidFlushDuringRecovery = true
	if im := sanitizeOptions("/tmp/db", opts); im.AvoidFlushDuringRecovery {
		t.Error("avoid_flush_during_recovery survived allow_2pc")
	}
}

func TestSanitizeRateLimiterDerivations(t *testing.T) {
	opts := DefaultOptions()
	opts.Logger = discardLogger{}
	opts.RateLimiter = NewRateLimiter(8 << 20)
	im := sanitizeOptions("/tmp/db", opts)
	if im.BytesPerSync != 1<<20 {
		t.Errorf("bytes_per_sync = %d, want 1 MiB", im.BytesPerSync)
	}
	if im.DelayedWriteRate != 8<<20 {
		t.Errorf("delayed_write_rate = %d, want limiter rate", im.DelayedWriteRate)
	}
}

func TestSanitizeParanoidOff(t *testing.T) {
	opts := DefaultOptions()
	opts.Logger = discardLogger{}
	opts.ParanoidChecks = false
	if im := sanitizeOptions("/tmp/db", opts); !im.SkipCheckingSSTFileSizesOnDBOpen {
		t.Error("skip_checking_sst_file_sizes_on_db_open not derived")
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Options {
		o := DefaultOptions()
		o.Logger = discardLogger{}
		return o
	}
	defaultCFDs := []ColumnFamilyDescriptor{
		{Name: DefaultColumnFamilyName, Options: DefaultColumnFamilyOptions()},
	}

	cases := []struct {
		name     string
		mutate   func(*Options)
		wantKind func(error) bool
	}{
		{
			name:     "five db paths",
			mutate:   func(o *Options) { o.DbPaths = make([]DbPath, 5) },
			wantKind: IsNotSupported,
		},
		{
			name: "mmap reads with direct reads",
			mutate: func(o *Options) {
				o.AllowMmapReads = true
				o.UseDirectReads = true
			},
			wantKind: IsNotSupported,
		},
		{
			name: "mmap writes with direct flush io",
			mutate: func(o *Options) {
				o.AllowMmapWrites = true
				o.UseDirectIOForFlushAndCompaction = true
			},
			wantKind: IsNotSupported,
		},
		{
			name:     "keep_log_file_num zero",
			mutate:   func(o *Options) { o.KeepLogFileNum = 0 },
			wantKind: IsInvalidArgument,
		},
		{
			name: "unordered write without concurrent memtable",
			mutate: func(o *Options) {
				o.UnorderedWrite = true
				o.AllowConcurrentMemtableWrite = false
			},
			wantKind: IsInvalidArgument,
		},
		{
			name: "unordered write with pipelined write",
			mutate: func(o *Options) {
				o.UnorderedWrite = true
				o.EnablePipelinedWrite = true
			},
			wantKind: IsInvalidArgument,
		},
		{
			name: "atomic flush with pipelined write",
			mutate: func(o *Options) {
				o.AtomicFlush = true
				o.EnablePipelinedWrite = true
			},
			wantKind: IsInvalidArgument,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := base()
			tc.mutate(opts)
			for i := range opts.DbPaths {
				opts.DbPaths[i].Path = "/tmp/p" + strings.Repeat("x", i)
			}
			err := validateOptions(sanitizeOptions("/tmp/db", opts), defaultCFDs)
			if err == nil || !tc.wantKind(err) {
				t.Fatalf("got %v", err)
			}
		})
	}

	// Four paths are fine.
	opts := base()
	opts.DbPaths = []DbPath{
		{Path: "/tmp/a"}, {Path: "/tmp/b"}, {Path: "/tmp/c"}, {Path: "/tmp/d"},
	}
	if err := validateOptions(sanitizeOptions("/tmp/db", opts), defaultCFDs); err != nil {
		t.Fatalf("four db paths rejected: %v", err)
	}
}

func TestValidateColumnFamilyOptions(t *testing.T) {
	bad := ColumnFamilyDescriptor{Name: "meta", Options: DefaultColumnFamilyOptions()}
	bad.Options.WriteBufferSize = 0

	opts := DefaultOptions()
	opts.Logger = discardLogger{}
	err := validateOptions(sanitizeOptions("/tmp/db", opts), []ColumnFamilyDescriptor{bad})
	if !IsInvalidArgument(err) {
		t.Fatalf("want InvalidArgument, got %v", err)
	}
}
