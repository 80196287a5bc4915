package rocksdb

// status.go implements the error surface of the public API.
//
// Every failure is a *Status carrying one of a closed set of kinds plus a
// primary and optional secondary message. errors.Is matches against the
// kind sentinels (ErrCorruption, ErrInvalidArgument, ...), so callers can
// branch without string inspection.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/status.h
//   - util/status.cc

import (
	"errors"
	"fmt"
)

// Code is the kind of a Status.
type Code uint8

const (
	CodeOk Code = iota
	CodeNotFound
	CodeCorruption
	CodeNotSupported
	CodeInvalidArgument
	CodeIOError
	CodeAborted
	CodeBusy
)

// String returns the kind name used in error text.
func (c Code) String() string {
	switch c {
	case CodeOk:
		return "OK"
	case CodeNotFound:
		return "NotFound"
	case CodeCorruption:
		return "Corruption"
	case CodeNotSupported:
		return "Not implemented"
	case CodeInvalidArgument:
		return "Invalid argument"
	case CodeIOError:
		return "IO error"
	case CodeAborted:
		return "Operation aborted"
	case CodeBusy:
		return "Resource busy"
	default:
		return "Unknown"
	}
}

// Kind sentinels matched by errors.Is.
var (
	ErrNotFound        = errors.New("rocksdb: not found")
	ErrCorruption      = errors.New("rocksdb: corruption")
	ErrNotSupported    = errors.New("rocksdb: not supported")
	ErrInvalidArgument = errors.New("rocksdb: invalid argument")
	ErrIOError         = errors.New("rocksdb: i/o error")
	ErrAborted         = errors.New("rocksdb: aborted")
	ErrBusy            = errors.New("rocksdb: busy")
)

func (c Code) sentinel() error {
	switch c {
	case CodeNotFound:
		return ErrNotFound
	case CodeCorruption:
		return ErrCorruption
	case CodeNotSupported:
		return ErrNotSupported
	case CodeInvalidArgument:
		return ErrInvalidArgument
	case CodeIOError:
		return ErrIOError
	case CodeAborted:
		return ErrAborted
	case CodeBusy:
		return ErrBusy
	default:
		return nil
	}
}

// Status is an error with a kind and up to two messages. A wrapped cause,
// when present, is reachable through Unwrap alongside the kind sentinel.
type Status struct {
	code  Code
	msg   string
	cause error
}

// Error formats like "Corruption: primary: secondary".
func (s *Status) Error() string {
	out := s.code.String()
	if s.msg != "" {
		out += ": " + s.msg
	}
	if s.cause != nil {
		out += ": " + s.cause.Error()
	}
	return out
}

// Code returns the status kind.
func (s *Status) Code() Code { return s.code }

// Unwrap exposes the kind sentinel and any wrapped cause.
func (s *Status) Unwrap() []error {
	if s.cause != nil {
		return []error{s.code.sentinel(), s.cause}
	}
	return []error{s.code.sentinel()}
}

func statusf(code Code, format string, args ...any) *Status {
	return &Status{code: code, msg: fmt.Sprintf(format, args...)}
}

func statusWrap(code Code, msg string, cause error) *Status {
	return &Status{code: code, msg: msg, cause: cause}
}

// NewCorruption returns a Corruption status.
func NewCorruption(format string, args ...any) *Status {
	return statusf(CodeCorruption, format, args...)
}

// NewNotSupported returns a NotSupported status.
func NewNotSupported(format string, args ...any) *Status {
	return statusf(CodeNotSupported, format, args...)
}

// NewInvalidArgument returns an InvalidArgument status.
func NewInvalidArgument(format string, args ...any) *Status {
	return statusf(CodeInvalidArgument, format, args...)
}

// NewIOError returns an IOError status wrapping cause.
func NewIOError(msg string, cause error) *Status {
	return statusWrap(CodeIOError, msg, cause)
}

// IsCorruption reports whether err carries the Corruption kind.
func IsCorruption(err error) bool { return errors.Is(err, ErrCorruption) }

// IsNotSupported reports whether err carries the NotSupported kind.
func IsNotSupported(err error) bool { return errors.Is(err, ErrNotSupported) }

// IsInvalidArgument reports whether err carries the InvalidArgument kind.
func IsInvalidArgument(err error) bool { return errors.Is(err, ErrInvalidArgument) }

// IsNotFound reports whether err carries the NotFound kind.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsIOError reports whether err carries the IOError kind.
func IsIOError(err error) bool { return errors.Is(err, ErrIOError) }
