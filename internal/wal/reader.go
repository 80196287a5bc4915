// WAL log stream reader.
//
// The reader reassembles logical records from physical fragments and reports
// every anomaly to a Reporter. Corruption in the middle of a file and a
// truncated tail are reported with distinct sentinel errors so recovery can
// apply the WALRecoveryMode policies, which treat the two differently.
//
// Reference: RocksDB v10.7.5
//   - db/log_reader.h
//   - db/log_reader.cc
package wal

import (
	"errors"
	"io"

	"github.com/khr0407/rocksdb/internal/checksum"
	"github.com/khr0407/rocksdb/internal/encoding"
)

var (
	// ErrBadChecksum indicates a record whose stored CRC does not match.
	ErrBadChecksum = errors.New("wal: checksum mismatch")

	// ErrShortRecord indicates a record length running past its block.
	ErrShortRecord = errors.New("wal: record length past end of block")

	// ErrBadRecordType indicates an unknown, non-ignorable record type.
	ErrBadRecordType = errors.New("wal: unknown record type")

	// ErrTruncatedTail indicates a partial record at end of file.
	ErrTruncatedTail = errors.New("wal: truncated record at end of file")

	// ErrBadFragment indicates fragments in an impossible order.
	ErrBadFragment = errors.New("wal: fragment out of order")

	// ErrOldRecord indicates a structurally valid record left over from a
	// previous life of a recycled log file. It marks the logical end of the
	// current log.
	ErrOldRecord = errors.New("wal: stale record from recycled log")
)

// Reporter receives corruption notifications with the number of bytes
// dropped and a sentinel error describing the anomaly.
type Reporter interface {
	Corruption(bytes int, err error)
}

// Reader reads logical records from a log stream. Checksums are always
// verified; the WAL format has no unchecked mode.
type Reader struct {
	src       io.Reader
	reporter  Reporter
	logNumber uint64

	backing []byte
	buffer  []byte // unconsumed remainder of the current block
	eof     bool

	fileOffset    int64 // bytes consumed from src
	lastRecordEnd int64 // file offset just past the last good record

	fragments  []byte
	inFragment bool
}

// NewReader returns a reader over src. logNumber is the expected log number
// for recyclable records; reporter may be nil.
func NewReader(src io.Reader, reporter Reporter, logNumber uint64) *Reader {
	return &Reader{
		src:       src,
		reporter:  reporter,
		logNumber: logNumber,
		backing:   make([]byte, BlockSize),
	}
}

// ReadRecord returns the next logical record, io.EOF at clean end of log,
// ErrOldRecord at the stale tail of a recycled file, or a corruption error.
// Corruption errors are also sent to the reporter before returning; the
// caller decides whether to keep calling ReadRecord to scan past them.
func (r *Reader) ReadRecord() ([]byte, error) {
	r.fragments = r.fragments[:0]
	r.inFragment = false

	for {
		recordType, fragment, err := r.readPhysicalRecord()
		if err != nil {
			if errors.Is(err, io.EOF) && r.inFragment {
				// A fragmented record with no Last fragment: the writer died
				// mid-append. Tail truncation, not mid-file corruption.
				r.report(len(r.fragments), ErrTruncatedTail)
				return nil, ErrTruncatedTail
			}
			return nil, err
		}

		switch ToLegacy(recordType) {
		case FullType:
			if r.inFragment {
				r.report(len(r.fragments), ErrBadFragment)
			}
			return fragment, nil

		case FirstType:
			if r.inFragment {
				r.report(len(r.fragments), ErrBadFragment)
			}
			r.fragments = append(r.fragments[:0], fragment...)
			r.inFragment = true

		case MiddleType:
			if !r.inFragment {
				r.report(len(fragment), ErrBadFragment)
				continue
			}
			r.fragments = append(r.fragments, fragment...)

		case LastType:
			if !r.inFragment {
				r.report(len(fragment), ErrBadFragment)
				continue
			}
			r.fragments = append(r.fragments, fragment...)
			r.inFragment = false
			out := make([]byte, len(r.fragments))
			copy(out, r.fragments)
			return out, nil

		case ZeroType:
			// Padding from preallocation.
			continue

		default:
			if recordType&RecordTypeSafeIgnoreMask != 0 {
				continue
			}
			r.report(len(fragment), ErrBadRecordType)
			return nil, ErrBadRecordType
		}
	}
}

// readPhysicalRecord returns the next physical record in the stream. The
// buffer always holds the unread remainder of the current block; sub-header
// leftovers at a block tail are writer padding and are dropped.
func (r *Reader) readPhysicalRecord() (RecordType, []byte, error) {
	for {
		if len(r.buffer) < HeaderSize {
			if r.eof {
				if len(r.buffer) > 0 && !allZero(r.buffer) {
					n := len(r.buffer)
					r.buffer = nil
					r.report(n, ErrTruncatedTail)
					return 0, nil, ErrTruncatedTail
				}
				return 0, nil, io.EOF
			}
			n, err := io.ReadFull(r.src, r.backing)
			r.fileOffset += int64(n)
			if err != nil {
				if err != io.EOF && err != io.ErrUnexpectedEOF {
					return 0, nil, err
				}
				r.eof = true
				if n == 0 {
					continue
				}
			}
			r.buffer = r.backing[:n]
			continue
		}

		header := r.buffer[:HeaderSize]
		storedCRC := encoding.DecodeFixed32(header[0:4])
		length := int(encoding.DecodeFixed16(header[4:6]))
		recordType := RecordType(header[6])

		if recordType == ZeroType && length == 0 {
			// Zero padding: either a preallocated remainder or explicit
			// block-tail fill. Either way nothing follows it in this block.
			if allZero(r.buffer) {
				r.buffer = nil
				continue
			}
			r.buffer = r.buffer[HeaderSize:]
			continue
		}

		headerSize := HeaderSize
		if IsRecyclableType(recordType) {
			headerSize = RecyclableHeaderSize
		}

		if len(r.buffer) < headerSize+length {
			dropped := len(r.buffer)
			r.buffer = nil
			if r.eof {
				r.report(dropped, ErrTruncatedTail)
				return 0, nil, ErrTruncatedTail
			}
			// Fragments never span blocks, so a length running past the
			// block is corrupt framing.
			r.report(dropped, ErrShortRecord)
			return 0, nil, ErrShortRecord
		}

		payload := r.buffer[headerSize : headerSize+length]

		crc := checksum.Value(r.buffer[6:7])
		if IsRecyclableType(recordType) {
			recordLog := encoding.DecodeFixed32(r.buffer[7:11])
			if uint64(recordLog) != r.logNumber {
				// Leftover from the file's previous incarnation.
				r.buffer = r.buffer[headerSize+length:]
				return 0, nil, ErrOldRecord
			}
			crc = checksum.Extend(crc, r.buffer[7:11])
		}
		crc = checksum.Mask(checksum.Extend(crc, payload))
		if crc != storedCRC {
			dropped := headerSize + length
			r.buffer = r.buffer[headerSize+length:]
			r.report(dropped, ErrBadChecksum)
			return 0, nil, ErrBadChecksum
		}

		r.buffer = r.buffer[headerSize+length:]
		r.lastRecordEnd = r.fileOffset - int64(len(r.buffer))
		out := make([]byte, len(payload))
		copy(out, payload)
		return recordType, out, nil
	}
}

// LastRecordEnd returns the file offset just past the last record read
// successfully. Used to truncate preallocated slack off a retained log.
func (r *Reader) LastRecordEnd() int64 {
	return r.lastRecordEnd
}

func (r *Reader) report(bytes int, err error) {
	if r.reporter != nil {
		r.reporter.Corruption(bytes, err)
	}
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
