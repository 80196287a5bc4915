// Table file reader.
//
// Reference: RocksDB v10.7.5 table/block_based/block_based_table_reader.cc
package table

import (
	"errors"
	"fmt"

	"github.com/khr0407/rocksdb/internal/checksum"
	"github.com/khr0407/rocksdb/internal/compression"
	"github.com/khr0407/rocksdb/internal/dbformat"
	"github.com/khr0407/rocksdb/internal/encoding"
	"github.com/khr0407/rocksdb/internal/vfs"
)

var (
	// ErrBadMagic indicates a file that is not a table file.
	ErrBadMagic = errors.New("table: bad magic number")

	// ErrBlockChecksum indicates a block failing checksum verification.
	ErrBlockChecksum = errors.New("table: block checksum mismatch")
)

type indexEntry struct {
	lastKey []byte
	handle  BlockHandle
}

// Reader reads a table file.
type Reader struct {
	file         vfs.RandomAccessFile
	checksumType checksum.Type
	index        []indexEntry
	userCmp      func(a, b []byte) int
}

// ReaderOptions configures Open.
type ReaderOptions struct {
	// Comparator orders user keys; nil means bytewise.
	Comparator func(a, b []byte) int
}

// Open reads the footer and index of a table file.
func Open(file vfs.RandomAccessFile, opts ReaderOptions) (*Reader, error) {
	size := file.Size()
	if size < footerSize {
		return nil, ErrBadMagic
	}

	var footer [footerSize]byte
	if _, err := file.ReadAt(footer[:], size-footerSize); err != nil {
		return nil, err
	}
	if encoding.DecodeFixed64(footer[17:25]) != TableMagicNumber {
		return nil, ErrBadMagic
	}

	r := &Reader{
		file:         file,
		checksumType: checksum.Type(footer[0]),
		userCmp:      opts.Comparator,
	}
	if r.userCmp == nil {
		r.userCmp = dbformat.BytewiseCompare
	}

	indexHandle := BlockHandle{
		Offset: encoding.DecodeFixed64(footer[1:9]),
		Size:   encoding.DecodeFixed64(footer[9:17]),
	}
	indexBody, err := r.readBlock(indexHandle)
	if err != nil {
		return nil, fmt.Errorf("table: reading index: %w", err)
	}
	for len(indexBody) > 0 {
		key, n, err := encoding.DecodeLengthPrefixedSlice(indexBody)
		if err != nil {
			return nil, fmt.Errorf("table: corrupt index: %w", err)
		}
		indexBody = indexBody[n:]
		off, n, err := encoding.DecodeVarint64(indexBody)
		if err != nil {
			return nil, fmt.Errorf("table: corrupt index: %w", err)
		}
		indexBody = indexBody[n:]
		sz, n, err := encoding.DecodeVarint64(indexBody)
		if err != nil {
			return nil, fmt.Errorf("table: corrupt index: %w", err)
		}
		indexBody = indexBody[n:]
		r.index = append(r.index, indexEntry{
			lastKey: append([]byte{}, key...),
			handle:  BlockHandle{Offset: off, Size: sz},
		})
	}
	return r, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// readBlock fetches, verifies and decompresses one block.
func (r *Reader) readBlock(h BlockHandle) ([]byte, error) {
	buf := make([]byte, h.Size+blockTrailerSize)
	if _, err := r.file.ReadAt(buf, int64(h.Offset)); err != nil {
		return nil, err
	}
	body := buf[:h.Size]
	codec := compression.Type(buf[h.Size])
	stored := encoding.DecodeFixed32(buf[h.Size+1:])
	if r.checksumType != checksum.TypeNoChecksum {
		if checksum.BlockChecksum(r.checksumType, body, buf[h.Size]) != stored {
			return nil, ErrBlockChecksum
		}
	}
	// Uncompressed blocks dominate the small-table case; 4x is a generous
	// bound for the codecs in use.
	return compression.Decompress(codec, body, len(body)*4+64)
}

// Get returns the newest entry for userKey visible at snapshot seq.
func (r *Reader) Get(userKey []byte, seq dbformat.SequenceNumber) (value []byte, found, deleted bool, err error) {
	target := dbformat.MakeInternalKey(nil, userKey, seq, dbformat.ValueTypeForSeek)

	// First block whose last key is >= target.
	lo, hi := 0, len(r.index)
	for lo < hi {
		mid := (lo + hi) / 2
		if dbformat.CompareInternalKeys(r.userCmp, r.index[mid].lastKey, target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == len(r.index) {
		return nil, false, false, nil
	}

	body, err := r.readBlock(r.index[lo].handle)
	if err != nil {
		return nil, false, false, err
	}
	for len(body) > 0 {
		key, n, derr := encoding.DecodeLengthPrefixedSlice(body)
		if derr != nil {
			return nil, false, false, fmt.Errorf("table: corrupt block: %w", derr)
		}
		body = body[n:]
		val, n, derr := encoding.DecodeLengthPrefixedSlice(body)
		if derr != nil {
			return nil, false, false, fmt.Errorf("table: corrupt block: %w", derr)
		}
		body = body[n:]

		if dbformat.CompareInternalKeys(r.userCmp, key, target) < 0 {
			continue
		}
		uk, _, t, kerr := dbformat.ParseInternalKey(key)
		if kerr != nil || r.userCmp(uk, userKey) != 0 {
			return nil, false, false, nil
		}
		switch t {
		case dbformat.TypeValue:
			return append([]byte{}, val...), true, false, nil
		case dbformat.TypeDeletion, dbformat.TypeSingleDeletion:
			return nil, true, true, nil
		default:
			return nil, false, false, nil
		}
	}
	return nil, false, false, nil
}

// Iterator walks all entries of the table in order.
type Iterator struct {
	r        *Reader
	blockIdx int
	body     []byte
	key      []byte
	value    []byte
	err      error
	valid    bool
}

// NewIterator returns an iterator positioned before the first entry.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r, blockIdx: -1}
}

// SeekToFirst positions at the first entry.
func (it *Iterator) SeekToFirst() {
	it.blockIdx = -1
	it.body = nil
	it.Next()
}

// Next advances to the next entry.
func (it *Iterator) Next() {
	for {
		if len(it.body) == 0 {
			it.blockIdx++
			if it.blockIdx >= len(it.r.index) {
				it.valid = false
				return
			}
			body, err := it.r.readBlock(it.r.index[it.blockIdx].handle)
			if err != nil {
				it.err = err
				it.valid = false
				return
			}
			it.body = body
			continue
		}
		key, n, err := encoding.DecodeLengthPrefixedSlice(it.body)
		if err != nil {
			it.err = fmt.Errorf("table: corrupt block: %w", err)
			it.valid = false
			return
		}
		it.body = it.body[n:]
		val, n, err := encoding.DecodeLengthPrefixedSlice(it.body)
		if err != nil {
			it.err = fmt.Errorf("table: corrupt block: %w", err)
			it.valid = false
			return
		}
		it.body = it.body[n:]
		it.key = key
		it.value = val
		it.valid = true
		return
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the current internal key.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.value }

// Error returns the first error the iterator hit.
func (it *Iterator) Error() error { return it.err }
