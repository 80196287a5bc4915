package rocksdb

// walfilter_test.go covers the per-record replay hook.

import (
	"fmt"
	"testing"

	"github.com/khr0407/rocksdb/internal/batch"
)

type funcWALFilter struct {
	name string
	fn   func(logNumber uint64, fname string, b *batch.WriteBatch) (WALFilterProcessing, *batch.WriteBatch, bool)
}

func (f *funcWALFilter) Name() string { return f.name }

func (f *funcWALFilter) LogRecordFound(logNumber uint64, fname string, b *batch.WriteBatch) (WALFilterProcessing, *batch.WriteBatch, bool) {
	return f.fn(logNumber, fname, b)
}

func openWithFilter(t *testing.T, dir string, filter WALFilter) *DB {
	t.Helper()
	opts := testOptions()
	opts.WALFilter = filter
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("open with filter: %v", err)
	}
	return db
}

func TestWALFilterIdentity(t *testing.T) {
	dir := t.TempDir()
	fillAndCrash(t, dir, 4)

	calls := 0
	db := openWithFilter(t, dir, &funcWALFilter{
		name: "identity",
		fn: func(uint64, string, *batch.WriteBatch) (WALFilterProcessing, *batch.WriteBatch, bool) {
			calls++
			return WALProcessingContinue, nil, false
		},
	})
	defer db.Close()

	if calls != 4 {
		t.Errorf("filter saw %d records, want 4", calls)
	}
	if got := db.GetLatestSequenceNumber(); got != 4 {
		t.Errorf("last sequence = %d, want 4", got)
	}
	for i := 1; i <= 4; i++ {
		key := fmt.Sprintf("k%04d", i)
		if value, err := db.Get(nil, []byte(key)); err != nil || string(value) != "v"+key {
			t.Errorf("Get(%s) = %q, %v", key, value, err)
		}
	}
}

func TestWALFilterIgnoreRecord(t *testing.T) {
	dir := t.TempDir()
	fillAndCrash(t, dir, 4)

	db := openWithFilter(t, dir, &funcWALFilter{
		name: "drop-second",
		fn: func(_ uint64, _ string, b *batch.WriteBatch) (WALFilterProcessing, *batch.WriteBatch, bool) {
			if b.Sequence() == 2 {
				return WALProcessingIgnoreCurrentRecord, nil, false
			}
			return WALProcessingContinue, nil, false
		},
	})
	defer db.Close()

	if _, err := db.Get(nil, []byte("k0002")); !IsNotFound(err) {
		t.Errorf("ignored record visible: %v", err)
	}
	if value, err := db.Get(nil, []byte("k0003")); err != nil || string(value) != "vk0003" {
		t.Errorf("Get(k0003) = %q, %v", value, err)
	}
}

func TestWALFilterStopReplay(t *testing.T) {
	dir := t.TempDir()
	fillAndCrash(t, dir, 4)

	db := openWithFilter(t, dir, &funcWALFilter{
		name: "stop-after-two",
		fn: func(_ uint64, _ string, b *batch.WriteBatch) (WALFilterProcessing, *batch.WriteBatch, bool) {
			if b.Sequence() >= 3 {
				return WALProcessingStopReplay, nil, false
			}
			return WALProcessingContinue, nil, false
		},
	})
	defer db.Close()

	if got := db.GetLatestSequenceNumber(); got != 2 {
		t.Errorf("last sequence = %d, want 2", got)
	}
	if _, err := db.Get(nil, []byte("k0003")); !IsNotFound(err) {
		t.Errorf("record after stop visible: %v", err)
	}
	if value, err := db.Get(nil, []byte("k0002")); err != nil || string(value) != "vk0002" {
		t.Errorf("Get(k0002) = %q, %v", value, err)
	}
}

func TestWALFilterRewriteRecord(t *testing.T) {
	dir := t.TempDir()
	fillAndCrash(t, dir, 2)

	db := openWithFilter(t, dir, &funcWALFilter{
		name: "rewrite-first",
		fn: func(_ uint64, _ string, b *batch.WriteBatch) (WALFilterProcessing, *batch.WriteBatch, bool) {
			if b.Sequence() != 1 {
				return WALProcessingContinue, nil, false
			}
			replacement := batch.New()
			replacement.Put([]byte("k0001"), []byte("rewritten"))
			return WALProcessingContinue, replacement, true
		},
	})
	defer db.Close()

	if value, err := db.Get(nil, []byte("k0001")); err != nil || string(value) != "rewritten" {
		t.Errorf("Get(k0001) = %q, %v", value, err)
	}
}

func TestWALFilterOversizedRewriteRejected(t *testing.T) {
	dir := t.TempDir()
	fillAndCrash(t, dir, 1)

	opts := testOptions()
	opts.WALFilter = &funcWALFilter{
		name: "grow",
		fn: func(_ uint64, _ string, b *batch.WriteBatch) (WALFilterProcessing, *batch.WriteBatch, bool) {
			replacement := batch.New()
			replacement.Put([]byte("a"), []byte("1"))
			replacement.Put([]byte("b"), []byte("2"))
			return WALProcessingContinue, replacement, true
		},
	}
	if _, err := Open(dir, opts); !IsNotSupported(err) {
		t.Fatalf("want NotSupported for oversized rewrite, got %v", err)
	}
}

func TestWALFilterCorruptedRecord(t *testing.T) {
	dir := t.TempDir()
	fillAndCrash(t, dir, 2)

	// Default mode treats a filter-reported corruption as fatal.
	opts := testOptions()
	opts.WALFilter = &funcWALFilter{
		name: "poison",
		fn: func(_ uint64, _ string, b *batch.WriteBatch) (WALFilterProcessing, *batch.WriteBatch, bool) {
			return WALProcessingCorruptedRecord, nil, false
		},
	}
	if _, err := Open(dir, opts); !IsCorruption(err) {
		t.Fatalf("want Corruption, got %v", err)
	}

	// Skip mode drops the records instead.
	opts2 := testOptions()
	opts2.WALRecoveryMode = SkipAnyCorruptedRecords
	opts2.WALFilter = opts.WALFilter
	db, err := Open(dir, opts2)
	if err != nil {
		t.Fatalf("skip mode: %v", err)
	}
	defer db.Close()
	if _, err := db.Get(nil, []byte("k0001")); !IsNotFound(err) {
		t.Errorf("poisoned record visible: %v", err)
	}
}
