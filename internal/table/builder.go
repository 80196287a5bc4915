// Package table implements the block-based table (SST) builder and reader.
//
// File layout:
//
//	[data block]*
//	[index block]
//	[footer]
//
// Every block is followed by a 5-byte trailer: one compression-type byte and
// a 4-byte checksum of the block body plus that byte. The index block maps
// the last internal key of each data block to its handle. The fixed-size
// footer carries the index handle, the checksum type and a magic number.
//
// Reference: RocksDB v10.7.5
//   - table/block_based/block_based_table_builder.cc
//   - table/format.cc
package table

import (
	"fmt"
	"io"

	"github.com/khr0407/rocksdb/internal/checksum"
	"github.com/khr0407/rocksdb/internal/compression"
	"github.com/khr0407/rocksdb/internal/encoding"
)

// TableMagicNumber marks the end of a table file.
const TableMagicNumber uint64 = 0x8b7440d384f3ac1b

// blockTrailerSize is the compression byte plus the checksum.
const blockTrailerSize = 5

// footerSize is the fixed encoded footer length.
const footerSize = 1 + 8 + 8 + 8 // checksum type, index offset, index size, magic

// BlockHandle locates a block within the file.
type BlockHandle struct {
	Offset uint64
	Size   uint64 // block body only, without trailer
}

// BuilderOptions configures a table builder.
type BuilderOptions struct {
	// BlockSize is the uncompressed data block size threshold.
	BlockSize int

	// Compression selects the block codec.
	Compression compression.Type

	// ChecksumType selects the block checksum algorithm.
	ChecksumType checksum.Type
}

// DefaultBuilderOptions returns the standard builder configuration.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		BlockSize:    4096,
		Compression:  compression.SnappyCompression,
		ChecksumType: checksum.TypeCRC32C,
	}
}

// Builder writes a table file. Keys must be added in ascending internal-key
// order.
type Builder struct {
	w    io.Writer
	opts BuilderOptions

	offset     uint64
	numEntries uint64

	block      []byte
	blockFirst bool
	lastKey    []byte
	firstKey   []byte

	index []byte // accumulated index entries

	finished bool
	err      error
}

// NewBuilder returns a builder writing to w.
func NewBuilder(w io.Writer, opts BuilderOptions) *Builder {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	return &Builder{w: w, opts: opts, blockFirst: true}
}

// Add appends one internal key/value entry.
func (b *Builder) Add(key, value []byte) error {
	if b.err != nil {
		return b.err
	}
	if b.firstKey == nil {
		b.firstKey = append([]byte{}, key...)
	}
	b.block = encoding.AppendLengthPrefixedSlice(b.block, key)
	b.block = encoding.AppendLengthPrefixedSlice(b.block, value)
	b.lastKey = append(b.lastKey[:0], key...)
	b.numEntries++

	if len(b.block) >= b.opts.BlockSize {
		b.err = b.flushBlock()
	}
	return b.err
}

func (b *Builder) flushBlock() error {
	if len(b.block) == 0 {
		return nil
	}
	handle, err := b.writeBlock(b.block)
	if err != nil {
		return err
	}
	b.index = encoding.AppendLengthPrefixedSlice(b.index, b.lastKey)
	b.index = encoding.AppendVarint64(b.index, handle.Offset)
	b.index = encoding.AppendVarint64(b.index, handle.Size)
	b.block = b.block[:0]
	return nil
}

// writeBlock emits body (compressed if useful) plus the trailer and returns
// the handle of the stored block.
func (b *Builder) writeBlock(body []byte) (BlockHandle, error) {
	stored := body
	codec := compression.NoCompression
	if compressed, ok := compression.Compress(b.opts.Compression, body); ok {
		stored = compressed
		codec = b.opts.Compression
	}

	handle := BlockHandle{Offset: b.offset, Size: uint64(len(stored))}
	if _, err := b.w.Write(stored); err != nil {
		return handle, err
	}

	var trailer [blockTrailerSize]byte
	trailer[0] = byte(codec)
	encoding.EncodeFixed32(trailer[1:], checksum.BlockChecksum(b.opts.ChecksumType, stored, trailer[0]))
	if _, err := b.w.Write(trailer[:]); err != nil {
		return handle, err
	}

	b.offset += uint64(len(stored)) + blockTrailerSize
	return handle, nil
}

// Finish flushes the last data block, the index and the footer.
func (b *Builder) Finish() error {
	if b.err != nil {
		return b.err
	}
	if b.finished {
		return nil
	}
	b.finished = true

	if err := b.flushBlock(); err != nil {
		b.err = err
		return err
	}

	// The index block is stored uncompressed so Open never needs a codec to
	// bootstrap.
	indexBody := b.index
	indexHandle := BlockHandle{Offset: b.offset, Size: uint64(len(indexBody))}
	if _, err := b.w.Write(indexBody); err != nil {
		b.err = err
		return err
	}
	var trailer [blockTrailerSize]byte
	trailer[0] = byte(compression.NoCompression)
	encoding.EncodeFixed32(trailer[1:], checksum.BlockChecksum(b.opts.ChecksumType, indexBody, trailer[0]))
	if _, err := b.w.Write(trailer[:]); err != nil {
		b.err = err
		return err
	}
	b.offset += uint64(len(indexBody)) + blockTrailerSize

	var footer [footerSize]byte
	footer[0] = byte(b.opts.ChecksumType)
	encoding.EncodeFixed64(footer[1:9], indexHandle.Offset)
	encoding.EncodeFixed64(footer[9:17], indexHandle.Size)
	encoding.EncodeFixed64(footer[17:25], TableMagicNumber)
	if _, err := b.w.Write(footer[:]); err != nil {
		b.err = err
		return err
	}
	b.offset += footerSize
	return nil
}

// Abandon discards the builder after an error; the caller removes the file.
func (b *Builder) Abandon() {
	b.finished = true
	if b.err == nil {
		b.err = fmt.Errorf("table: builder abandoned")
	}
}

// NumEntries returns the number of entries added.
func (b *Builder) NumEntries() uint64 { return b.numEntries }

// FileSize returns the bytes written so far (final size after Finish).
func (b *Builder) FileSize() uint64 { return b.offset }

// FirstKey returns the first internal key added, nil when empty.
func (b *Builder) FirstKey() []byte { return b.firstKey }

// LastKey returns the last internal key added, nil when empty.
func (b *Builder) LastKey() []byte { return b.lastKey }
