package rocksdb

// stats_cf_test.go covers the persistent-stats column family reconciler.

import (
	"testing"

	"github.com/khr0407/rocksdb/internal/encoding"
)

func statsHandle(t *testing.T, db *DB) ColumnFamilyHandle {
	t.Helper()
	cfd := db.cfSet.getByName(PersistentStatsColumnFamilyName)
	if cfd == nil {
		t.Fatal("stats column family missing")
	}
	return &columnFamilyHandle{cfd: cfd}
}

func TestPersistStatsCreatesVersionKeys(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.PersistStatsToDisk = true

	db, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	h := statsHandle(t, db)

	for _, key := range []string{statsFormatVersionKey, statsCompatibleVersionKey} {
		value, err := db.GetCF(nil, h, []byte(key))
		if err != nil {
			t.Fatalf("GetCF(%s): %v", key, err)
		}
		if len(value) != 8 || encoding.DecodeFixed64(value) != 1 {
			t.Errorf("%s = %v", key, value)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen with stats still enabled: the keys survive.
	db2, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	value, err := db2.GetCF(nil, statsHandle(t, db2), []byte(statsFormatVersionKey))
	if err != nil || encoding.DecodeFixed64(value) != 1 {
		t.Errorf("format version after reopen: %v %v", value, err)
	}
}

func TestStatsCFOpenableWithoutFlag(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.PersistStatsToDisk = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	// The engine-managed family must not break a plain reopen.
	db2, err := Open(dir, testOptions())
	if err != nil {
		t.Fatalf("reopen without persist_stats_to_disk: %v", err)
	}
	defer db2.Close()
	if db2.cfSet.getByName(PersistentStatsColumnFamilyName) == nil {
		t.Error("stats column family not bound on reopen")
	}
}

func TestStatsCFRecreatedOnIncompatibleFormat(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.PersistStatsToDisk = true
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	h := statsHandle(t, db)
	oldID := h.ID()

	// Pretend a future version wrote the family.
	wb := NewWriteBatch()
	wb.PutCF(oldID, []byte(statsFormatVersionKey), encoding.AppendFixed64(nil, 999))
	wb.PutCF(oldID, []byte(statsCompatibleVersionKey), encoding.AppendFixed64(nil, 999))
	if err := db.Write(nil, wb); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen with future stats format: %v", err)
	}
	defer db2.Close()

	h2 := statsHandle(t, db2)
	if h2.ID() == oldID {
		t.Errorf("stats column family not recreated (id still %d)", oldID)
	}
	value, err := db2.GetCF(nil, h2, []byte(statsFormatVersionKey))
	if err != nil || encoding.DecodeFixed64(value) != 1 {
		t.Errorf("format version after recreate: %v %v", value, err)
	}
}
