// WAL log stream writer.
//
// Records are fragmented so that no physical record crosses a block
// boundary; block tails too small for a header are zero-padded.
//
// Reference: RocksDB v10.7.5
//   - db/log_writer.h
//   - db/log_writer.cc
package wal

import (
	"fmt"
	"io"

	"github.com/khr0407/rocksdb/internal/checksum"
	"github.com/khr0407/rocksdb/internal/encoding"
)

// Writer frames logical records into a log stream.
type Writer struct {
	dest        io.Writer
	blockOffset int
	logNumber   uint64
	recyclable  bool
	headerSize  int

	typeCRC   [MaxRecordType + 1]uint32
	headerBuf [RecyclableHeaderSize]byte
}

// NewWriter returns a writer framing records into dest. When recyclable is
// set, records carry logNumber so a reader can detect the stale tail of a
// reused file.
func NewWriter(dest io.Writer, logNumber uint64, recyclable bool) *Writer {
	w := &Writer{
		dest:       dest,
		logNumber:  logNumber,
		recyclable: recyclable,
		headerSize: HeaderSize,
	}
	if recyclable {
		w.headerSize = RecyclableHeaderSize
	}
	for i := 0; i <= int(MaxRecordType); i++ {
		w.typeCRC[i] = checksum.Value([]byte{byte(i)})
	}
	return w
}

// AddRecord appends one logical record. An empty payload still emits one
// zero-length physical record.
func (w *Writer) AddRecord(data []byte) (int, error) {
	left := len(data)
	total := 0
	begin := true

	for {
		leftover := BlockSize - w.blockOffset
		if leftover < w.headerSize {
			if leftover > 0 {
				n, err := w.dest.Write(make([]byte, leftover))
				total += n
				if err != nil {
					return total, err
				}
			}
			w.blockOffset = 0
		}

		avail := BlockSize - w.blockOffset - w.headerSize
		fragLen := min(left, avail)

		end := left == fragLen
		var t RecordType
		switch {
		case begin && end:
			t = FullType
		case begin:
			t = FirstType
		case end:
			t = LastType
		default:
			t = MiddleType
		}
		if w.recyclable {
			t = ToRecyclable(t)
		}

		n, err := w.emitPhysicalRecord(t, data[len(data)-left:len(data)-left+fragLen])
		total += n
		if err != nil {
			return total, err
		}

		left -= fragLen
		begin = false
		if left == 0 {
			return total, nil
		}
	}
}

func (w *Writer) emitPhysicalRecord(t RecordType, payload []byte) (int, error) {
	n := len(payload)
	if n > 0xFFFF {
		return 0, fmt.Errorf("wal: fragment of %d bytes exceeds record format", n)
	}

	encoding.EncodeFixed16(w.headerBuf[4:6], uint16(n))
	w.headerBuf[6] = byte(t)

	crc := w.typeCRC[t]
	headerSize := HeaderSize
	if IsRecyclableType(t) {
		headerSize = RecyclableHeaderSize
		encoding.EncodeFixed32(w.headerBuf[7:11], uint32(w.logNumber))
		crc = checksum.Extend(crc, w.headerBuf[7:11])
	}
	crc = checksum.Mask(checksum.Extend(crc, payload))
	encoding.EncodeFixed32(w.headerBuf[0:4], crc)

	total := 0
	written, err := w.dest.Write(w.headerBuf[:headerSize])
	total += written
	if err != nil {
		return total, err
	}
	written, err = w.dest.Write(payload)
	total += written
	if err != nil {
		return total, err
	}

	w.blockOffset += headerSize + n
	return total, nil
}

// LogNumber returns the log number the writer frames records for.
func (w *Writer) LogNumber() uint64 { return w.logNumber }

// Sync flushes the destination if it supports syncing.
func (w *Writer) Sync() error {
	if s, ok := w.dest.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}
