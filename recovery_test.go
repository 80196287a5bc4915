package rocksdb

// recovery_test.go covers WAL replay: crash recovery, the four recovery
// modes, and point-in-time semantics across log files.

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/khr0407/rocksdb/internal/batch"
	"github.com/khr0407/rocksdb/internal/wal"
)

// fillAndCrash writes n single-record batches and simulates a kill.
func fillAndCrash(t *testing.T, dir string, n int) {
	t.Helper()
	db, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= n; i++ {
		key := fmt.Sprintf("k%04d", i)
		if err := db.Put(nil, []byte(key), []byte("v"+key)); err != nil {
			t.Fatal(err)
		}
	}
	crashClose(db)
}

func singleLogPath(t *testing.T, dir string) (string, uint64) {
	t.Helper()
	logs := listFiles(t, dir, ".log")
	if len(logs) != 1 {
		t.Fatalf("log files = %v, want exactly one", logs)
	}
	number, ft, ok := parseFileName(logs[0])
	if !ok || ft != FileTypeLog {
		t.Fatalf("unexpected log name %q", logs[0])
	}
	return filepath.Join(dir, logs[0]), number
}

// recordEnds parses a WAL and returns the end offset of every record.
func recordEnds(t *testing.T, path string, number uint64) []int64 {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r := wal.NewReader(f, nil, number)
	var ends []int64
	for {
		_, err := r.ReadRecord()
		if errors.Is(err, io.EOF) || errors.Is(err, wal.ErrOldRecord) {
			return ends
		}
		if err != nil {
			t.Fatalf("parsing WAL: %v", err)
		}
		ends = append(ends, r.LastRecordEnd())
	}
}

func TestCrashRecovery(t *testing.T) {
	dir := t.TempDir()
	fillAndCrash(t, dir, 4)

	db, err := Open(dir, testOptions())
	if err != nil {
		t.Fatalf("reopen after crash: %v", err)
	}
	defer db.Close()

	if got := db.GetLatestSequenceNumber(); got != 4 {
		t.Errorf("last sequence = %d, want 4", got)
	}
	// avoid_flush_during_recovery defaults off: replay materialized one
	// Level-0 table.
	if n := len(db.cfSet.get(0).meta.Files(0)); n != 1 {
		t.Errorf("L0 files = %d, want 1", n)
	}
	for i := 1; i <= 4; i++ {
		key := fmt.Sprintf("k%04d", i)
		value, err := db.Get(nil, []byte(key))
		if err != nil || string(value) != "v"+key {
			t.Errorf("Get(%s) = %q, %v", key, value, err)
		}
	}
	// The crashed WAL is obsolete; only the go-live WAL remains.
	if logs := listFiles(t, dir, ".log"); len(logs) != 1 {
		t.Errorf("log files = %v, want exactly one", logs)
	}
}

func TestRecoveryAnchorRecord(t *testing.T) {
	dir := t.TempDir()
	fillAndCrash(t, dir, 4)

	db, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	logPath, number := singleLogPath(t, dir)
	f, err := os.Open(logPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	record, err := wal.NewReader(f, nil, number).ReadRecord()
	if err != nil {
		t.Fatalf("reading anchor: %v", err)
	}
	anchor, err := batch.NewFromData(record)
	if err != nil {
		t.Fatal(err)
	}
	if anchor.Count() != 0 || anchor.Sequence() != 4 {
		t.Errorf("anchor: seq=%d count=%d, want seq=4 count=0", anchor.Sequence(), anchor.Count())
	}
}

func TestTornTailTolerated(t *testing.T) {
	dir := t.TempDir()
	fillAndCrash(t, dir, 5)

	logPath, number := singleLogPath(t, dir)
	ends := recordEnds(t, logPath, number)
	if len(ends) != 5 {
		t.Fatalf("WAL has %d records, want 5", len(ends))
	}
	// Cut into the middle of the last record.
	if err := os.Truncate(logPath, ends[4]-3); err != nil {
		t.Fatal(err)
	}

	db, err := Open(dir, testOptions())
	if err != nil {
		t.Fatalf("reopen with torn tail: %v", err)
	}
	defer db.Close()

	if got := db.GetLatestSequenceNumber(); got != 4 {
		t.Errorf("last sequence = %d, want 4", got)
	}
	if _, err := db.Get(nil, []byte("k0005")); !IsNotFound(err) {
		t.Errorf("torn record visible: %v", err)
	}
	if value, err := db.Get(nil, []byte("k0004")); err != nil || string(value) != "vk0004" {
		t.Errorf("Get(k0004) = %q, %v", value, err)
	}
}

func TestTornTailAbsoluteConsistency(t *testing.T) {
	dir := t.TempDir()
	fillAndCrash(t, dir, 5)

	logPath, number := singleLogPath(t, dir)
	ends := recordEnds(t, logPath, number)
	if err := os.Truncate(logPath, ends[4]-3); err != nil {
		t.Fatal(err)
	}

	opts := testOptions()
	opts.WALRecoveryMode = AbsoluteConsistency
	if _, err := Open(dir, opts); !IsCorruption(err) {
		t.Fatalf("want Corruption under absolute consistency, got %v", err)
	}
}

func TestCorruptRecordSkipMode(t *testing.T) {
	dir := t.TempDir()
	fillAndCrash(t, dir, 5)

	logPath, number := singleLogPath(t, dir)
	ends := recordEnds(t, logPath, number)

	// Flip a payload byte in the third record.
	f, err := os.OpenFile(logPath, os.O_RDWR, 0644)
	if err != nil {
		t.Fatal(err)
	}
	buf := []byte{0}
	if _, err := f.ReadAt(buf, ends[2]-1); err != nil {
		t.Fatal(err)
	}
	buf[0] ^= 0xFF
	if _, err := f.WriteAt(buf, ends[2]-1); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	// The default mode fails on mid-file corruption.
	if _, err := Open(dir, testOptions()); !IsCorruption(err) {
		t.Fatalf("want Corruption in default mode, got %v", err)
	}

	// Skip mode recovers everything else.
	opts := testOptions()
	opts.WALRecoveryMode = SkipAnyCorruptedRecords
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("skip mode: %v", err)
	}
	defer db.Close()
	if _, err := db.Get(nil, []byte("k0003")); !IsNotFound(err) {
		t.Errorf("corrupt record visible: %v", err)
	}
	for _, key := range []string{"k0001", "k0002", "k0004", "k0005"} {
		if value, err := db.Get(nil, []byte(key)); err != nil || string(value) != "v"+key {
			t.Errorf("Get(%s) = %q, %v", key, value, err)
		}
	}
}

// craftWALs sets up a database directory whose WALs are written by hand.
func craftWALs(t *testing.T, dir string) {
	t.Helper()
	db, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	crashClose(db)
}

func makeBatch(seq uint64, keys ...string) []byte {
	wb := batch.New()
	for _, key := range keys {
		wb.Put([]byte(key), []byte("v"+key))
	}
	wb.SetSequence(seq)
	return wb.Data()
}

func writeLog(t *testing.T, path string, number uint64, corruptLast bool, batches ...[]byte) {
	t.Helper()
	var data []byte
	var lastStart int
	{
		buf := &byteSliceWriter{}
		w := wal.NewWriter(buf, number, false)
		for i, b := range batches {
			if i == len(batches)-1 {
				lastStart = len(buf.data)
			}
			if _, err := w.AddRecord(b); err != nil {
				t.Fatal(err)
			}
		}
		data = buf.data
	}
	if corruptLast {
		data[lastStart+wal.HeaderSize+2] ^= 0xFF
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()
}

type byteSliceWriter struct {
	data []byte
}

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func TestPointInTimeCrossLogRecovery(t *testing.T) {
	dir := t.TempDir()
	craftWALs(t, dir)

	_, firstLog := singleLogPath(t, dir)

	// First WAL: one batch of 100 records ending at sequence 100.
	keys := make([]string, 100)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%04d", i+1)
	}
	writeLog(t, filepath.Join(dir, logFileName(firstLog)), firstLog, false, makeBatch(1, keys...))

	// Second WAL: sequences 101 and 102 intact, 103 corrupt.
	second := firstLog + 1
	writeLog(t, filepath.Join(dir, logFileName(second)), second, true,
		makeBatch(101, "k0101"), makeBatch(102, "k0102"), makeBatch(103, "k0103"))

	opts := testOptions()
	opts.WALRecoveryMode = PointInTimeRecovery
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("point-in-time open: %v", err)
	}
	defer db.Close()

	if got := db.GetLatestSequenceNumber(); got != 102 {
		t.Errorf("last sequence = %d, want 102", got)
	}
	if value, err := db.Get(nil, []byte("k0102")); err != nil || string(value) != "vk0102" {
		t.Errorf("Get(k0102) = %q, %v", value, err)
	}
	if _, err := db.Get(nil, []byte("k0103")); !IsNotFound(err) {
		t.Errorf("record past corruption visible: %v", err)
	}
}

func TestPointInTimeSequenceGapStopsReplay(t *testing.T) {
	dir := t.TempDir()
	craftWALs(t, dir)

	_, firstLog := singleLogPath(t, dir)
	writeLog(t, filepath.Join(dir, logFileName(firstLog)), firstLog, false,
		makeBatch(1, "k0001", "k0002"))

	// Second WAL starts at sequence 4: a hole at 3.
	second := firstLog + 1
	writeLog(t, filepath.Join(dir, logFileName(second)), second, false,
		makeBatch(4, "k0004"))

	opts := testOptions()
	opts.WALRecoveryMode = PointInTimeRecovery
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if got := db.GetLatestSequenceNumber(); got != 2 {
		t.Errorf("last sequence = %d, want 2", got)
	}
	if _, err := db.Get(nil, []byte("k0004")); !IsNotFound(err) {
		t.Errorf("record past sequence gap visible: %v", err)
	}
}

func TestAvoidFlushDuringRecoveryRetainsLogs(t *testing.T) {
	dir := t.TempDir()
	fillAndCrash(t, dir, 3)

	opts := testOptions()
	opts.AvoidFlushDuringRecovery = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}

	// Nothing was flushed; the data lives in the memtable and the old WAL
	// stays alive alongside the new one.
	if n := db.cfSet.get(0).meta.NumFiles(); n != 0 {
		t.Errorf("table files = %d, want 0", n)
	}
	if value, err := db.Get(nil, []byte("k0002")); err != nil || string(value) != "vk0002" {
		t.Errorf("Get(k0002) = %q, %v", value, err)
	}
	if logs := listFiles(t, dir, ".log"); len(logs) != 2 {
		t.Errorf("log files = %v, want retained + new", logs)
	}
	if len(db.aliveLogFiles) != 2 {
		t.Errorf("alive logs = %d, want 2", len(db.aliveLogFiles))
	}
	crashClose(db)

	// A second crash-reopen must still find everything.
	db2, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	if value, err := db2.Get(nil, []byte("k0003")); err != nil || string(value) != "vk0003" {
		t.Errorf("Get(k0003) after second reopen = %q, %v", value, err)
	}
}

func TestEmptyWALAdvancesFrontier(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	crashClose(db) // leaves one empty WAL behind

	db2, err := Open(dir, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	_, newLog := singleLogPath(t, dir)
	frontier := db2.cfSet.get(0).meta.LogNumber
	if frontier == 0 || frontier > newLog {
		t.Errorf("frontier = %d, new log = %d", frontier, newLog)
	}
	_ = db2.Close()
}

func TestAllow2PCForcesRecoveryFlush(t *testing.T) {
	dir := t.TempDir()
	fillAndCrash(t, dir, 2)

	opts := testOptions()
	opts.Allow2PC = true
	opts.AvoidFlushDuringRecovery = true // must be overridden
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if n := db.cfSet.get(0).meta.NumFiles(); n != 1 {
		t.Errorf("table files = %d, want 1 (2PC forces recovery flush)", n)
	}
}
