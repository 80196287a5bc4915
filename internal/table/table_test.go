package table

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/khr0407/rocksdb/internal/checksum"
	"github.com/khr0407/rocksdb/internal/compression"
	"github.com/khr0407/rocksdb/internal/dbformat"
	"github.com/khr0407/rocksdb/internal/vfs"
)

func buildTestTable(t *testing.T, dir string, opts BuilderOptions, n int) string {
	t.Helper()
	path := filepath.Join(dir, "000001.sst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(f, opts)
	for i := 0; i < n; i++ {
		key := dbformat.MakeInternalKey(nil,
			[]byte(fmt.Sprintf("key%05d", i)), dbformat.SequenceNumber(i+1), dbformat.TypeValue)
		if err := b.Add(key, []byte(fmt.Sprintf("value%05d", i))); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if got := b.NumEntries(); got != uint64(n) {
		t.Fatalf("NumEntries = %d, want %d", got, n)
	}
	return path
}

func openTestTable(t *testing.T, path string) *Reader {
	t.Helper()
	f, err := vfs.Default().OpenRandomAccess(path)
	if err != nil {
		t.Fatal(err)
	}
	r, err := Open(f, ReaderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestTableRoundTrip(t *testing.T) {
	codecs := []compression.Type{
		compression.NoCompression,
		compression.SnappyCompression,
		compression.LZ4Compression,
		compression.ZstdCompression,
	}
	for _, codec := range codecs {
		t.Run(codec.String(), func(t *testing.T) {
			opts := DefaultBuilderOptions()
			opts.Compression = codec
			opts.BlockSize = 512 // force multiple blocks
			path := buildTestTable(t, t.TempDir(), opts, 200)
			r := openTestTable(t, path)

			value, found, deleted, err := r.Get([]byte("key00123"), dbformat.MaxSequenceNumber)
			if err != nil || !found || deleted {
				t.Fatalf("Get: %v found=%v deleted=%v", err, found, deleted)
			}
			if string(value) != "value00123" {
				t.Fatalf("value = %q", value)
			}
			if _, found, _, err := r.Get([]byte("nope"), dbformat.MaxSequenceNumber); err != nil || found {
				t.Fatalf("missing key: found=%v err=%v", found, err)
			}

			it := r.NewIterator()
			n := 0
			for it.SeekToFirst(); it.Valid(); it.Next() {
				n++
			}
			if it.Error() != nil {
				t.Fatal(it.Error())
			}
			if n != 200 {
				t.Fatalf("iterated %d entries, want 200", n)
			}
		})
	}
}

func TestTableXXH3Checksum(t *testing.T) {
	opts := DefaultBuilderOptions()
	opts.ChecksumType = checksum.TypeXXH3
	path := buildTestTable(t, t.TempDir(), opts, 10)
	r := openTestTable(t, path)
	if _, found, _, err := r.Get([]byte("key00003"), dbformat.MaxSequenceNumber); err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
}

func TestTableChecksumCorruption(t *testing.T) {
	opts := DefaultBuilderOptions()
	opts.Compression = compression.NoCompression
	dir := t.TempDir()
	path := buildTestTable(t, dir, opts, 10)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[10] ^= 0xFF // corrupt the first data block
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	r := openTestTable(t, path)
	if _, _, _, err := r.Get([]byte("key00001"), dbformat.MaxSequenceNumber); err == nil {
		t.Fatal("want checksum error reading corrupt block")
	}
}

func TestTableBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.sst")
	if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := vfs.Default().OpenRandomAccess(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := Open(f, ReaderOptions{}); err == nil {
		t.Fatal("want ErrBadMagic")
	}
}
