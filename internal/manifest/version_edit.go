// Package manifest encodes and decodes the VersionEdit records that make up
// the MANIFEST descriptor log.
//
// Reference: RocksDB v10.7.5
//   - db/version_edit.h
//   - db/version_edit.cc
package manifest

import (
	"errors"
	"fmt"

	"github.com/khr0407/rocksdb/internal/encoding"
)

// SequenceNumber mirrors dbformat.SequenceNumber for manifest records.
type SequenceNumber uint64

// Tag identifies a serialized VersionEdit field. On-disk values; do not
// change.
type Tag uint32

const (
	TagComparator         Tag = 1
	TagLogNumber          Tag = 2
	TagNextFileNumber     Tag = 3
	TagLastSequence       Tag = 4
	TagDeletedFile        Tag = 6
	TagNewFile            Tag = 7
	TagPrevLogNumber      Tag = 9
	TagMinLogNumberToKeep Tag = 10

	TagNewFile4         Tag = 103
	TagColumnFamily     Tag = 200
	TagColumnFamilyAdd  Tag = 201
	TagColumnFamilyDrop Tag = 202
	TagMaxColumnFamily  Tag = 203

	// TagSafeIgnoreMask marks tags a reader may skip when unknown. Such
	// records are length-prefixed so the payload can be stepped over.
	TagSafeIgnoreMask Tag = 1 << 13

	TagDBID Tag = TagSafeIgnoreMask | 1
)

// Custom sub-tags inside a NewFile4 entry.
const (
	customTagTerminate          uint32 = 1
	customTagNeedCompaction     uint32 = 2
	customTagOldestBlobFileNo   uint32 = 4
	customTagOldestAncesterTime uint32 = 5
	customTagFileCreationTime   uint32 = 6
	customTagPathID             uint32 = 65
	customTagSafeIgnoreMask     uint32 = 1 << 6
)

// ErrCorrupted indicates a VersionEdit record that fails to decode.
var ErrCorrupted = errors.New("manifest: corrupted version edit")

// FileDescriptor locates a table file.
type FileDescriptor struct {
	Number   uint64
	PathID   uint32
	FileSize uint64
}

// GetNumber returns the file number.
func (fd *FileDescriptor) GetNumber() uint64 { return fd.Number }

// FileMetaData describes one table file in a version.
type FileMetaData struct {
	FD FileDescriptor

	// Smallest and Largest are internal keys bounding the file.
	Smallest []byte
	Largest  []byte

	SmallestSeqno SequenceNumber
	LargestSeqno  SequenceNumber

	MarkedForCompaction  bool
	OldestBlobFileNumber uint64
	OldestAncesterTime   uint64
	FileCreationTime     uint64
}

// DeletedFileEntry names a file removed from a level.
type DeletedFileEntry struct {
	Level  int
	Number uint64
}

// NewFileEntry names a file added to a level.
type NewFileEntry struct {
	Level int
	Meta  *FileMetaData
}

// VersionEdit is one delta record in the MANIFEST. During recovery one edit
// is accumulated per column family and the set is committed in a single
// LogAndApply.
type VersionEdit struct {
	HasComparator bool
	Comparator    string

	HasLogNumber bool
	LogNumber    uint64

	HasPrevLogNumber bool
	PrevLogNumber    uint64

	HasNextFileNumber bool
	NextFileNumber    uint64

	HasLastSequence bool
	LastSequence    SequenceNumber

	HasMinLogNumberToKeep bool
	MinLogNumberToKeep    uint64

	HasDBID bool
	DBID    string

	HasMaxColumnFamily bool
	MaxColumnFamily    uint32

	// ColumnFamily is the family this edit applies to; 0 is the default.
	HasColumnFamily bool
	ColumnFamily    uint32

	IsColumnFamilyAdd bool
	ColumnFamilyName  string

	IsColumnFamilyDrop bool

	DeletedFiles []DeletedFileEntry
	NewFiles     []NewFileEntry
}

// SetComparatorName records the comparator the database was built with.
func (ve *VersionEdit) SetComparatorName(name string) {
	ve.HasComparator = true
	ve.Comparator = name
}

// SetLogNumber records the column family's WAL frontier.
func (ve *VersionEdit) SetLogNumber(n uint64) {
	ve.HasLogNumber = true
	ve.LogNumber = n
}

// SetPrevLogNumber records the legacy pre-rotation log number.
func (ve *VersionEdit) SetPrevLogNumber(n uint64) {
	ve.HasPrevLogNumber = true
	ve.PrevLogNumber = n
}

// SetNextFileNumber records the file-number high-water mark.
func (ve *VersionEdit) SetNextFileNumber(n uint64) {
	ve.HasNextFileNumber = true
	ve.NextFileNumber = n
}

// SetLastSequence records the sequence high-water mark.
func (ve *VersionEdit) SetLastSequence(seq SequenceNumber) {
	ve.HasLastSequence = true
	ve.LastSequence = seq
}

// SetMinLogNumberToKeep records the oldest WAL still needed.
func (ve *VersionEdit) SetMinLogNumberToKeep(n uint64) {
	ve.HasMinLogNumberToKeep = true
	ve.MinLogNumberToKeep = n
}

// SetDBID records the database id.
func (ve *VersionEdit) SetDBID(id string) {
	ve.HasDBID = true
	ve.DBID = id
}

// SetMaxColumnFamily records the largest column family id ever allocated.
func (ve *VersionEdit) SetMaxColumnFamily(cf uint32) {
	ve.HasMaxColumnFamily = true
	ve.MaxColumnFamily = cf
}

// SetColumnFamily scopes this edit to the given column family.
func (ve *VersionEdit) SetColumnFamily(cf uint32) {
	ve.HasColumnFamily = true
	ve.ColumnFamily = cf
}

// AddColumnFamily marks this edit as creating the named column family.
func (ve *VersionEdit) AddColumnFamily(name string) {
	ve.IsColumnFamilyAdd = true
	ve.ColumnFamilyName = name
}

// DropColumnFamily marks this edit as dropping its column family.
func (ve *VersionEdit) DropColumnFamily() {
	ve.IsColumnFamilyDrop = true
}

// DeleteFile records the removal of a file from a level.
func (ve *VersionEdit) DeleteFile(level int, number uint64) {
	ve.DeletedFiles = append(ve.DeletedFiles, DeletedFileEntry{Level: level, Number: number})
}

// AddFile records the addition of a file to a level.
func (ve *VersionEdit) AddFile(level int, meta *FileMetaData) {
	ve.NewFiles = append(ve.NewFiles, NewFileEntry{Level: level, Meta: meta})
}

// EncodeTo serializes the edit.
func (ve *VersionEdit) EncodeTo() []byte {
	var dst []byte
	if ve.HasComparator {
		dst = encoding.AppendVarint32(dst, uint32(TagComparator))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(ve.Comparator))
	}
	if ve.HasDBID {
		dst = encoding.AppendVarint32(dst, uint32(TagDBID))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(ve.DBID))
	}
	if ve.HasLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagLogNumber))
		dst = encoding.AppendVarint64(dst, ve.LogNumber)
	}
	if ve.HasPrevLogNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagPrevLogNumber))
		dst = encoding.AppendVarint64(dst, ve.PrevLogNumber)
	}
	if ve.HasNextFileNumber {
		dst = encoding.AppendVarint32(dst, uint32(TagNextFileNumber))
		dst = encoding.AppendVarint64(dst, ve.NextFileNumber)
	}
	if ve.HasLastSequence {
		dst = encoding.AppendVarint32(dst, uint32(TagLastSequence))
		dst = encoding.AppendVarint64(dst, uint64(ve.LastSequence))
	}
	if ve.HasMinLogNumberToKeep {
		dst = encoding.AppendVarint32(dst, uint32(TagMinLogNumberToKeep))
		dst = encoding.AppendVarint64(dst, ve.MinLogNumberToKeep)
	}
	if ve.HasMaxColumnFamily {
		dst = encoding.AppendVarint32(dst, uint32(TagMaxColumnFamily))
		dst = encoding.AppendVarint32(dst, ve.MaxColumnFamily)
	}

	for _, df := range ve.DeletedFiles {
		dst = encoding.AppendVarint32(dst, uint32(TagDeletedFile))
		dst = encoding.AppendVarint32(dst, uint32(df.Level))
		dst = encoding.AppendVarint64(dst, df.Number)
	}
	for _, nf := range ve.NewFiles {
		dst = ve.encodeNewFile4(dst, nf)
	}

	if ve.HasColumnFamily {
		dst = encoding.AppendVarint32(dst, uint32(TagColumnFamily))
		dst = encoding.AppendVarint32(dst, ve.ColumnFamily)
	}
	if ve.IsColumnFamilyAdd {
		dst = encoding.AppendVarint32(dst, uint32(TagColumnFamilyAdd))
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte(ve.ColumnFamilyName))
	}
	if ve.IsColumnFamilyDrop {
		dst = encoding.AppendVarint32(dst, uint32(TagColumnFamilyDrop))
	}
	return dst
}

func (ve *VersionEdit) encodeNewFile4(dst []byte, nf NewFileEntry) []byte {
	m := nf.Meta
	dst = encoding.AppendVarint32(dst, uint32(TagNewFile4))
	dst = encoding.AppendVarint32(dst, uint32(nf.Level))
	dst = encoding.AppendVarint64(dst, m.FD.Number)
	dst = encoding.AppendVarint64(dst, m.FD.FileSize)
	dst = encoding.AppendLengthPrefixedSlice(dst, m.Smallest)
	dst = encoding.AppendLengthPrefixedSlice(dst, m.Largest)
	dst = encoding.AppendVarint64(dst, uint64(m.SmallestSeqno))
	dst = encoding.AppendVarint64(dst, uint64(m.LargestSeqno))

	// Custom fields, each tag + length-prefixed payload, closed by a
	// terminate tag.
	if m.FD.PathID != 0 {
		dst = encoding.AppendVarint32(dst, customTagPathID)
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte{byte(m.FD.PathID)})
	}
	if m.MarkedForCompaction {
		dst = encoding.AppendVarint32(dst, customTagNeedCompaction)
		dst = encoding.AppendLengthPrefixedSlice(dst, []byte{1})
	}
	if m.OldestBlobFileNumber != 0 {
		dst = encoding.AppendVarint32(dst, customTagOldestBlobFileNo)
		dst = encoding.AppendLengthPrefixedSlice(dst, encoding.AppendVarint64(nil, m.OldestBlobFileNumber))
	}
	if m.OldestAncesterTime != 0 {
		dst = encoding.AppendVarint32(dst, customTagOldestAncesterTime)
		dst = encoding.AppendLengthPrefixedSlice(dst, encoding.AppendVarint64(nil, m.OldestAncesterTime))
	}
	if m.FileCreationTime != 0 {
		dst = encoding.AppendVarint32(dst, customTagFileCreationTime)
		dst = encoding.AppendLengthPrefixedSlice(dst, encoding.AppendVarint64(nil, m.FileCreationTime))
	}
	dst = encoding.AppendVarint32(dst, customTagTerminate)
	return dst
}

// DecodeFrom parses a serialized edit.
func (ve *VersionEdit) DecodeFrom(data []byte) error {
	s := data
	getVarint32 := func() (uint32, error) {
		v, n, err := encoding.DecodeVarint32(s)
		if err != nil {
			return 0, ErrCorrupted
		}
		s = s[n:]
		return v, nil
	}
	getVarint64 := func() (uint64, error) {
		v, n, err := encoding.DecodeVarint64(s)
		if err != nil {
			return 0, ErrCorrupted
		}
		s = s[n:]
		return v, nil
	}
	getSlice := func() ([]byte, error) {
		v, n, err := encoding.DecodeLengthPrefixedSlice(s)
		if err != nil {
			return nil, ErrCorrupted
		}
		s = s[n:]
		return v, nil
	}

	for len(s) > 0 {
		tagVal, err := getVarint32()
		if err != nil {
			return err
		}
		tag := Tag(tagVal)
		switch tag {
		case TagComparator:
			b, err := getSlice()
			if err != nil {
				return err
			}
			ve.HasComparator = true
			ve.Comparator = string(b)

		case TagDBID:
			b, err := getSlice()
			if err != nil {
				return err
			}
			ve.HasDBID = true
			ve.DBID = string(b)

		case TagLogNumber:
			if ve.LogNumber, err = getVarint64(); err != nil {
				return err
			}
			ve.HasLogNumber = true

		case TagPrevLogNumber:
			if ve.PrevLogNumber, err = getVarint64(); err != nil {
				return err
			}
			ve.HasPrevLogNumber = true

		case TagNextFileNumber:
			if ve.NextFileNumber, err = getVarint64(); err != nil {
				return err
			}
			ve.HasNextFileNumber = true

		case TagLastSequence:
			v, err := getVarint64()
			if err != nil {
				return err
			}
			ve.HasLastSequence = true
			ve.LastSequence = SequenceNumber(v)

		case TagMinLogNumberToKeep:
			if ve.MinLogNumberToKeep, err = getVarint64(); err != nil {
				return err
			}
			ve.HasMinLogNumberToKeep = true

		case TagMaxColumnFamily:
			if ve.MaxColumnFamily, err = getVarint32(); err != nil {
				return err
			}
			ve.HasMaxColumnFamily = true

		case TagDeletedFile:
			level, err := getVarint32()
			if err != nil {
				return err
			}
			number, err := getVarint64()
			if err != nil {
				return err
			}
			ve.DeletedFiles = append(ve.DeletedFiles, DeletedFileEntry{Level: int(level), Number: number})

		case TagNewFile4:
			rest, err := decodeNewFile4(s)
			if err != nil {
				return err
			}
			nf, err := parseNewFile4(s[:len(s)-len(rest)])
			if err != nil {
				return err
			}
			ve.NewFiles = append(ve.NewFiles, nf)
			s = rest

		case TagColumnFamily:
			if ve.ColumnFamily, err = getVarint32(); err != nil {
				return err
			}
			ve.HasColumnFamily = true

		case TagColumnFamilyAdd:
			b, err := getSlice()
			if err != nil {
				return err
			}
			ve.IsColumnFamilyAdd = true
			ve.ColumnFamilyName = string(b)

		case TagColumnFamilyDrop:
			ve.IsColumnFamilyDrop = true

		default:
			if tag&TagSafeIgnoreMask != 0 {
				// Forward-compatible record: length-prefixed payload.
				if _, err := getSlice(); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("%w: unknown tag %d", ErrCorrupted, tag)
		}
	}
	return nil
}

// decodeNewFile4 returns the suffix of s after a complete NewFile4 entry.
func decodeNewFile4(s []byte) ([]byte, error) {
	skipVarint := func() error {
		_, n, err := encoding.DecodeVarint64(s)
		if err != nil {
			return ErrCorrupted
		}
		s = s[n:]
		return nil
	}
	skipSlice := func() error {
		_, n, err := encoding.DecodeLengthPrefixedSlice(s)
		if err != nil {
			return ErrCorrupted
		}
		s = s[n:]
		return nil
	}

	// level, number, size
	for i := 0; i < 3; i++ {
		if err := skipVarint(); err != nil {
			return nil, err
		}
	}
	// smallest, largest
	for i := 0; i < 2; i++ {
		if err := skipSlice(); err != nil {
			return nil, err
		}
	}
	// seqnos
	for i := 0; i < 2; i++ {
		if err := skipVarint(); err != nil {
			return nil, err
		}
	}
	// custom fields
	for {
		tag, n, err := encoding.DecodeVarint32(s)
		if err != nil {
			return nil, ErrCorrupted
		}
		s = s[n:]
		if tag == customTagTerminate {
			return s, nil
		}
		if err := skipSlice(); err != nil {
			return nil, err
		}
	}
}

// parseNewFile4 decodes the entry bytes consumed by decodeNewFile4.
func parseNewFile4(s []byte) (NewFileEntry, error) {
	var nf NewFileEntry
	m := &FileMetaData{}
	nf.Meta = m

	getVarint64 := func() (uint64, error) {
		v, n, err := encoding.DecodeVarint64(s)
		if err != nil {
			return 0, ErrCorrupted
		}
		s = s[n:]
		return v, nil
	}
	getSlice := func() ([]byte, error) {
		v, n, err := encoding.DecodeLengthPrefixedSlice(s)
		if err != nil {
			return nil, ErrCorrupted
		}
		s = s[n:]
		return v, nil
	}

	level, err := getVarint64()
	if err != nil {
		return nf, err
	}
	nf.Level = int(level)
	if m.FD.Number, err = getVarint64(); err != nil {
		return nf, err
	}
	if m.FD.FileSize, err = getVarint64(); err != nil {
		return nf, err
	}
	smallest, err := getSlice()
	if err != nil {
		return nf, err
	}
	m.Smallest = append([]byte{}, smallest...)
	largest, err := getSlice()
	if err != nil {
		return nf, err
	}
	m.Largest = append([]byte{}, largest...)
	ss, err := getVarint64()
	if err != nil {
		return nf, err
	}
	m.SmallestSeqno = SequenceNumber(ss)
	ls, err := getVarint64()
	if err != nil {
		return nf, err
	}
	m.LargestSeqno = SequenceNumber(ls)

	for {
		tag, n, err := encoding.DecodeVarint32(s)
		if err != nil {
			return nf, ErrCorrupted
		}
		s = s[n:]
		if tag == customTagTerminate {
			return nf, nil
		}
		field, err := getSlice()
		if err != nil {
			return nf, err
		}
		switch tag {
		case customTagPathID:
			if len(field) != 1 {
				return nf, ErrCorrupted
			}
			m.FD.PathID = uint32(field[0])
		case customTagNeedCompaction:
			if len(field) != 1 {
				return nf, ErrCorrupted
			}
			m.MarkedForCompaction = field[0] == 1
		case customTagOldestBlobFileNo:
			v, _, err := encoding.DecodeVarint64(field)
			if err != nil {
				return nf, ErrCorrupted
			}
			m.OldestBlobFileNumber = v
		case customTagOldestAncesterTime:
			v, _, err := encoding.DecodeVarint64(field)
			if err != nil {
				return nf, ErrCorrupted
			}
			m.OldestAncesterTime = v
		case customTagFileCreationTime:
			v, _, err := encoding.DecodeVarint64(field)
			if err != nil {
				return nf, ErrCorrupted
			}
			m.FileCreationTime = v
		default:
			if tag&customTagSafeIgnoreMask == 0 {
				return nf, fmt.Errorf("%w: unknown custom tag %d", ErrCorrupted, tag)
			}
		}
	}
}
