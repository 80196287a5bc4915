package manifest

import (
	"bytes"
	"testing"

	"github.com/khr0407/rocksdb/internal/encoding"
)

func TestVersionEditRoundTrip(t *testing.T) {
	edit := &VersionEdit{}
	edit.SetComparatorName("leveldb.BytewiseComparator")
	edit.SetDBID("0123456789abcdef0123456789abcdef0123")
	edit.SetLogNumber(12)
	edit.SetPrevLogNumber(3)
	edit.SetNextFileNumber(99)
	edit.SetLastSequence(1<<40 + 7)
	edit.SetMinLogNumberToKeep(9)
	edit.SetMaxColumnFamily(4)
	edit.SetColumnFamily(2)
	edit.DeleteFile(1, 17)
	edit.AddFile(0, &FileMetaData{
		FD:                   FileDescriptor{Number: 23, PathID: 1, FileSize: 4096},
		Smallest:             []byte("aaa\x01\x00\x00\x00\x00\x00\x00\x00"),
		Largest:              []byte("zzz\x01\x00\x00\x00\x00\x00\x00\x00"),
		SmallestSeqno:        5,
		LargestSeqno:         100,
		MarkedForCompaction:  true,
		OldestBlobFileNumber: 11,
		OldestAncesterTime:   1700000000,
		FileCreationTime:     1700000100,
	})

	var decoded VersionEdit
	if err := decoded.DecodeFrom(edit.EncodeTo()); err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}

	if decoded.Comparator != edit.Comparator || !decoded.HasComparator {
		t.Errorf("comparator: %+v", decoded)
	}
	if decoded.DBID != edit.DBID {
		t.Errorf("db id = %q", decoded.DBID)
	}
	if decoded.LogNumber != 12 || decoded.PrevLogNumber != 3 || decoded.NextFileNumber != 99 {
		t.Errorf("numbers: %+v", decoded)
	}
	if decoded.LastSequence != edit.LastSequence {
		t.Errorf("last sequence = %d", decoded.LastSequence)
	}
	if decoded.MinLogNumberToKeep != 9 || decoded.MaxColumnFamily != 4 || decoded.ColumnFamily != 2 {
		t.Errorf("cf fields: %+v", decoded)
	}
	if len(decoded.DeletedFiles) != 1 || decoded.DeletedFiles[0] != (DeletedFileEntry{Level: 1, Number: 17}) {
		t.Errorf("deleted files: %v", decoded.DeletedFiles)
	}
	if len(decoded.NewFiles) != 1 {
		t.Fatalf("new files: %v", decoded.NewFiles)
	}
	nf := decoded.NewFiles[0]
	orig := edit.NewFiles[0]
	if nf.Level != 0 || nf.Meta.FD != orig.Meta.FD {
		t.Errorf("file descriptor: %+v", nf)
	}
	if !bytes.Equal(nf.Meta.Smallest, orig.Meta.Smallest) || !bytes.Equal(nf.Meta.Largest, orig.Meta.Largest) {
		t.Errorf("bounds differ")
	}
	if nf.Meta.SmallestSeqno != 5 || nf.Meta.LargestSeqno != 100 {
		t.Errorf("seqnos: %+v", nf.Meta)
	}
	if !nf.Meta.MarkedForCompaction || nf.Meta.OldestBlobFileNumber != 11 {
		t.Errorf("custom fields: %+v", nf.Meta)
	}
	if nf.Meta.OldestAncesterTime != 1700000000 || nf.Meta.FileCreationTime != 1700000100 {
		t.Errorf("times: %+v", nf.Meta)
	}
}

func TestVersionEditColumnFamilyRecords(t *testing.T) {
	add := &VersionEdit{}
	add.SetColumnFamily(3)
	add.AddColumnFamily("users")

	var decodedAdd VersionEdit
	if err := decodedAdd.DecodeFrom(add.EncodeTo()); err != nil {
		t.Fatal(err)
	}
	if !decodedAdd.IsColumnFamilyAdd || decodedAdd.ColumnFamilyName != "users" || decodedAdd.ColumnFamily != 3 {
		t.Errorf("add: %+v", decodedAdd)
	}

	drop := &VersionEdit{}
	drop.SetColumnFamily(3)
	drop.DropColumnFamily()

	var decodedDrop VersionEdit
	if err := decodedDrop.DecodeFrom(drop.EncodeTo()); err != nil {
		t.Fatal(err)
	}
	if !decodedDrop.IsColumnFamilyDrop || decodedDrop.ColumnFamily != 3 {
		t.Errorf("drop: %+v", decodedDrop)
	}
}

func TestVersionEditIgnoresUnknownSafeTag(t *testing.T) {
	edit := &VersionEdit{}
	edit.SetLogNumber(8)
	data := edit.EncodeTo()

	// Forward-compatible record: a tag with the safe-ignore bit and a
	// length-prefixed payload.
	data = encoding.AppendVarint32(data, uint32(TagSafeIgnoreMask|77))
	data = encoding.AppendLengthPrefixedSlice(data, []byte("future stuff"))
	data = encoding.AppendVarint32(data, uint32(TagNextFileNumber))
	data = encoding.AppendVarint64(data, 44)

	var decoded VersionEdit
	if err := decoded.DecodeFrom(data); err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}
	if decoded.LogNumber != 8 || decoded.NextFileNumber != 44 {
		t.Errorf("decoded: %+v", decoded)
	}
}

func TestVersionEditUnknownTagFails(t *testing.T) {
	data := encoding.AppendVarint32(nil, 55) // unknown, not safe to ignore
	var decoded VersionEdit
	if err := decoded.DecodeFrom(data); err == nil {
		t.Fatal("want error for unknown tag")
	}
}
