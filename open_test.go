package rocksdb

// open_test.go covers the open pipeline: bootstrap, clean reopen, the
// strict-open gates and the option validator's front door.

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testOptions() *Options {
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	opts.Logger = discardLogger{}
	return opts
}

type discardLogger struct{}

func (discardLogger) Errorf(string, ...any) {}
func (discardLogger) Warnf(string, ...any)  {}
func (discardLogger) Infof(string, ...any)  {}
func (discardLogger) Debugf(string, ...any) {}

// crashClose releases every resource without flushing, simulating a kill.
func crashClose(db *DB) {
	db.mu.Lock()
	db.closed = true
	db.mu.Unlock()
	if db.bg != nil {
		db.bg.stop()
	}
	db.mu.Lock()
	db.teardown()
	db.mu.Unlock()
}

func listFiles(t *testing.T, dir, suffix string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestOpenFreshDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	current, err := os.ReadFile(filepath.Join(dir, "CURRENT"))
	if err != nil {
		t.Fatalf("CURRENT: %v", err)
	}
	if string(current) != "MANIFEST-000001\n" {
		t.Errorf("CURRENT = %q", current)
	}

	identity, err := os.ReadFile(filepath.Join(dir, "IDENTITY"))
	if err != nil {
		t.Fatalf("IDENTITY: %v", err)
	}
	if len(identity) != 36 {
		t.Errorf("IDENTITY is %d bytes, want 36", len(identity))
	}

	if logs := listFiles(t, dir, ".log"); len(logs) != 1 {
		t.Errorf("log files = %v, want exactly one", logs)
	}
	if db.GetLatestSequenceNumber() != 0 {
		t.Errorf("last sequence = %d", db.GetLatestSequenceNumber())
	}
	if _, err := os.Stat(filepath.Join(dir, "LOCK")); err != nil {
		t.Errorf("LOCK: %v", err)
	}
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	opts := testOptions()
	opts.CreateIfMissing = false
	if _, err := Open(t.TempDir(), opts); !IsInvalidArgument(err) {
		t.Fatalf("want InvalidArgument, got %v", err)
	}
}

func TestOpenErrorIfExists(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	opts := testOptions()
	opts.ErrorIfExists = true
	if _, err := Open(dir, opts); !IsInvalidArgument(err) {
		t.Fatalf("want InvalidArgument, got %v", err)
	}
}

func TestOpenIncompatibleOptionsTouchesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-created")
	opts := testOptions()
	opts.AllowMmapReads = true
	opts.UseDirectReads = true

	_, err := Open(dir, opts)
	if !IsNotSupported(err) {
		t.Fatalf("want NotSupported, got %v", err)
	}
	if _, serr := os.Stat(dir); !os.IsNotExist(serr) {
		t.Errorf("database directory was created despite invalid options")
	}
}

func TestOpenLockExclusion(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := Open(dir, testOptions()); err == nil {
		t.Fatal("second Open succeeded while lock held")
	}
}

func TestCleanReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	// Three batches of sizes {1, 2, 1}: sequences 1..4.
	if err := db.Put(nil, []byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	wb := NewWriteBatch()
	wb.Put([]byte("b"), []byte("2"))
	wb.Put([]byte("c"), []byte("3"))
	if err := db.Write(nil, wb); err != nil {
		t.Fatal(err)
	}
	if err := db.Put(nil, []byte("d"), []byte("4")); err != nil {
		t.Fatal(err)
	}
	if got := db.GetLatestSequenceNumber(); got != 4 {
		t.Fatalf("last sequence before close = %d", got)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := Open(dir, testOptions())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := db2.GetLatestSequenceNumber(); got != 4 {
		t.Errorf("last sequence after reopen = %d, want 4", got)
	}
	// Close flushed everything, so recovery wrote no additional tables.
	if n := db2.cfSet.get(DefaultColumnFamilyID).meta.NumFiles(); n != 1 {
		t.Errorf("table files after clean reopen = %d, want 1", n)
	}
	for key, want := range map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"} {
		value, err := db2.Get(nil, []byte(key))
		if err != nil || string(value) != want {
			t.Errorf("Get(%s) = %q, %v", key, value, err)
		}
	}
	if err := db2.Close(); err != nil {
		t.Fatal(err)
	}

	if logs := listFiles(t, dir, ".log"); len(logs) != 1 {
		t.Errorf("log files after reopen = %v, want exactly one", logs)
	}
}

func TestIdempotentReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		if err := db.Put(nil, []byte(fmt.Sprintf("k%03d", i)), []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	_ = db.Close()

	snapshotState := func() (uint64, int, []string) {
		d, err := Open(dir, testOptions())
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer d.Close()
		var names []string
		for _, cfd := range d.cfSet.all() {
			names = append(names, cfd.name)
		}
		return d.GetLatestSequenceNumber(), d.cfSet.get(0).meta.NumFiles(), names
	}

	seq1, files1, cfs1 := snapshotState()
	seq2, files2, cfs2 := snapshotState()
	if seq1 != seq2 || files1 != files2 {
		t.Errorf("state changed across reopen: seq %d/%d files %d/%d", seq1, seq2, files1, files2)
	}
	if len(cfs1) != len(cfs2) {
		t.Errorf("column families changed: %v vs %v", cfs1, cfs2)
	}
}

func TestIdentityRewrittenFromManifest(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.WriteDBIDToManifest = true

	db, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	wantID, err := db.getDBIdentity()
	if err != nil || len(wantID) != 36 {
		t.Fatalf("identity: %q %v", wantID, err)
	}
	_ = db.Close()

	// Clobber IDENTITY; the manifest's copy must win on reopen.
	if err := os.WriteFile(filepath.Join(dir, "IDENTITY"), []byte("bogus"), 0644); err != nil {
		t.Fatal(err)
	}
	db2, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	gotID, err := db2.getDBIdentity()
	if err != nil || gotID != wantID {
		t.Errorf("IDENTITY after reopen = %q, want %q (%v)", gotID, wantID, err)
	}
}
