// Package encoding provides the fixed-width and varint primitives shared by
// the WAL, MANIFEST and WriteBatch wire formats.
//
// All fixed-width integers are little-endian. Varints are the LEB128-style
// encoding used by LevelDB/RocksDB.
//
// Reference: RocksDB v10.7.5 util/coding.h
package encoding

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer indicates a decode ran off the end of its input.
var ErrShortBuffer = errors.New("encoding: short buffer")

// EncodeFixed16 writes value into dst[0:2].
func EncodeFixed16(dst []byte, value uint16) {
	binary.LittleEndian.PutUint16(dst, value)
}

// DecodeFixed16 reads a uint16 from src[0:2].
func DecodeFixed16(src []byte) uint16 {
	return binary.LittleEndian.Uint16(src)
}

// EncodeFixed32 writes value into dst[0:4].
func EncodeFixed32(dst []byte, value uint32) {
	binary.LittleEndian.PutUint32(dst, value)
}

// DecodeFixed32 reads a uint32 from src[0:4].
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// EncodeFixed64 writes value into dst[0:8].
func EncodeFixed64(dst []byte, value uint64) {
	binary.LittleEndian.PutUint64(dst, value)
}

// DecodeFixed64 reads a uint64 from src[0:8].
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// AppendFixed32 appends a little-endian uint32 to dst.
func AppendFixed32(dst []byte, value uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, value)
}

// AppendFixed64 appends a little-endian uint64 to dst.
func AppendFixed64(dst []byte, value uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, value)
}

// AppendVarint32 appends a varint-encoded uint32 to dst.
func AppendVarint32(dst []byte, value uint32) []byte {
	return binary.AppendUvarint(dst, uint64(value))
}

// AppendVarint64 appends a varint-encoded uint64 to dst.
func AppendVarint64(dst []byte, value uint64) []byte {
	return binary.AppendUvarint(dst, value)
}

// DecodeVarint32 decodes a varint-encoded uint32 from src.
// Returns the value and the number of bytes consumed.
func DecodeVarint32(src []byte) (uint32, int, error) {
	v, n, err := DecodeVarint64(src)
	if err != nil {
		return 0, 0, err
	}
	if v > 0xFFFFFFFF {
		return 0, 0, ErrShortBuffer
	}
	return uint32(v), n, nil
}

// DecodeVarint64 decodes a varint-encoded uint64 from src.
// Returns the value and the number of bytes consumed.
func DecodeVarint64(src []byte) (uint64, int, error) {
	v, n := binary.Uvarint(src)
	if n <= 0 {
		return 0, 0, ErrShortBuffer
	}
	return v, n, nil
}

// VarintLength returns the number of bytes needed to varint-encode v.
func VarintLength(v uint64) int {
	n := 1
	for v >= 128 {
		v >>= 7
		n++
	}
	return n
}

// AppendLengthPrefixedSlice appends a varint length followed by the bytes.
func AppendLengthPrefixedSlice(dst, value []byte) []byte {
	dst = AppendVarint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// DecodeLengthPrefixedSlice decodes a varint length followed by that many bytes.
// Returns the slice (aliasing src) and the total bytes consumed.
func DecodeLengthPrefixedSlice(src []byte) ([]byte, int, error) {
	length, n, err := DecodeVarint32(src)
	if err != nil {
		return nil, 0, err
	}
	if len(src) < n+int(length) {
		return nil, 0, ErrShortBuffer
	}
	return src[n : n+int(length)], n + int(length), nil
}
