// Package compression wraps the block compression codecs supported by the
// SST builder: snappy, LZ4 and zstd.
//
// Compress returns (nil, false) when the codec cannot shrink the input; the
// caller then stores the block uncompressed, matching the table format's
// "abort compression if not useful" rule.
//
// Reference: RocksDB v10.7.5 util/compression.h
package compression

import (
	"errors"
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a compression codec. The values are stored in the SST
// block trailer and must not change.
type Type uint8

const (
	// NoCompression stores blocks verbatim.
	NoCompression Type = 0x0
	// SnappyCompression is the default codec.
	SnappyCompression Type = 0x1
	// LZ4Compression uses LZ4 block format.
	LZ4Compression Type = 0x4
	// ZstdCompression uses zstd.
	ZstdCompression Type = 0x7
)

// ErrUnsupported indicates an unknown codec byte in a block trailer.
var ErrUnsupported = errors.New("compression: unsupported type")

// String returns the option-file name of the codec.
func (t Type) String() string {
	switch t {
	case NoCompression:
		return "kNoCompression"
	case SnappyCompression:
		return "kSnappyCompression"
	case LZ4Compression:
		return "kLZ4Compression"
	case ZstdCompression:
		return "kZSTD"
	default:
		return "kUnknownCompression"
	}
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Compress compresses src with the given codec. The second return value is
// false when the codec is NoCompression or did not reduce the size.
func Compress(t Type, src []byte) ([]byte, bool) {
	var out []byte
	switch t {
	case SnappyCompression:
		out = snappy.Encode(nil, src)
	case LZ4Compression:
		buf := make([]byte, lz4.CompressBlockBound(len(src)))
		var c lz4.Compressor
		n, err := c.CompressBlock(src, buf)
		if err != nil || n == 0 {
			return nil, false
		}
		out = buf[:n]
	case ZstdCompression:
		out = zstdEncoder.EncodeAll(src, nil)
	default:
		return nil, false
	}
	if len(out) >= len(src) {
		return nil, false
	}
	return out, true
}

// Decompress reverses Compress. rawSize is the expected uncompressed size
// and is used to bound LZ4 output.
func Decompress(t Type, src []byte, rawSize int) ([]byte, error) {
	switch t {
	case NoCompression:
		return src, nil
	case SnappyCompression:
		return snappy.Decode(nil, src)
	case LZ4Compression:
		// rawSize is a hint; grow on short-buffer failures.
		size := max(rawSize, len(src)*2)
		var lastErr error
		for i := 0; i < 8; i++ {
			dst := make([]byte, size)
			n, err := lz4.UncompressBlock(src, dst)
			if err == nil {
				return dst[:n], nil
			}
			lastErr = err
			size *= 2
		}
		return nil, lastErr
	case ZstdCompression:
		return zstdDecoder.DecodeAll(src, nil)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnsupported, uint8(t))
	}
}
