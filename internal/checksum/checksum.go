// Package checksum implements the checksum algorithms used by the WAL,
// MANIFEST and SST formats.
//
// CRC32C values stored on disk are masked: the raw CRC is rotated and offset
// so that a CRC computed over data that itself contains embedded CRCs does
// not degenerate.
//
// Reference: RocksDB v10.7.5
//   - util/crc32c.h
//   - util/hash.h
package checksum

import (
	"hash/crc32"

	"github.com/zeebo/xxh3"
)

// maskDelta is the offset added while masking CRCs for storage.
const maskDelta = 0xa282ead8

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Type selects the checksum algorithm for SST blocks.
type Type uint8

const (
	// TypeNoChecksum disables block checksums.
	TypeNoChecksum Type = 0
	// TypeCRC32C is the default masked CRC32C.
	TypeCRC32C Type = 1
	// TypeXXH3 is the 64-bit XXH3 hash truncated to 32 bits.
	TypeXXH3 Type = 4
)

// String returns the option-file name of the checksum type.
func (t Type) String() string {
	switch t {
	case TypeNoChecksum:
		return "kNoChecksum"
	case TypeCRC32C:
		return "kCRC32c"
	case TypeXXH3:
		return "kXXH3"
	default:
		return "kUnknown"
	}
}

// Value returns the unmasked CRC32C of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Extend returns the CRC of the concatenation of the data that produced
// initCRC and data.
func Extend(initCRC uint32, data []byte) uint32 {
	return crc32.Update(initCRC, castagnoli, data)
}

// Mask converts a raw CRC into the form stored on disk.
func Mask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Unmask reverses Mask.
func Unmask(masked uint32) uint32 {
	rot := masked - maskDelta
	return (rot >> 17) | (rot << 15)
}

// XXH3Value returns the low 32 bits of the XXH3-64 hash of data.
func XXH3Value(data []byte) uint32 {
	return uint32(xxh3.Hash(data))
}

// BlockChecksum computes the checksum of a block body plus its one-byte
// compression-type trailer, using the selected algorithm.
func BlockChecksum(t Type, data []byte, lastByte byte) uint32 {
	switch t {
	case TypeNoChecksum:
		return 0
	case TypeXXH3:
		return XXH3Value(append(append([]byte{}, data...), lastByte))
	default:
		crc := Value(data)
		crc = Extend(crc, []byte{lastByte})
		return Mask(crc)
	}
}
