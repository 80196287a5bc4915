// Package logging provides the logging interface used across the engine.
//
// The interface is the four-level printf shape found in Badger, Pebble and
// RocksDB wrappers: Errorf/Warnf/Infof/Debugf. Messages carry a component
// prefix for filtering:
//
//	[recovery] [manifest] [wal] [flush] [db]
//
// Reference: RocksDB v10.7.5 include/rocksdb/env.h (Logger class)
package logging

import (
	"io"
	"log"
	"os"
)

// Level filters log output.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings and errors.
	LevelInfo
	// LevelDebug logs everything.
	LevelDebug
)

// String returns the level name as it appears in log lines.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Logger is the logging interface accepted by Options.
// Implementations must be safe for concurrent use.
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)
}

// DefaultLogger writes timestamped lines to a writer. It is stateless after
// construction and safe for concurrent use.
type DefaultLogger struct {
	logger *log.Logger
	level  Level
}

// NewDefaultLogger returns a logger writing to stderr at the given level.
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(os.Stderr, level)
}

// NewLogger returns a logger writing to w at the given level.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

func (l *DefaultLogger) output(level Level, format string, args ...any) {
	if level > l.level {
		return
	}
	l.logger.Printf(level.String()+" "+format, args...)
}

// Errorf logs a formatted error message.
func (l *DefaultLogger) Errorf(format string, args ...any) {
	l.output(LevelError, format, args...)
}

// Warnf logs a formatted warning message.
func (l *DefaultLogger) Warnf(format string, args ...any) {
	l.output(LevelWarn, format, args...)
}

// Infof logs a formatted informational message.
func (l *DefaultLogger) Infof(format string, args ...any) {
	l.output(LevelInfo, format, args...)
}

// Debugf logs a formatted debug message.
func (l *DefaultLogger) Debugf(format string, args ...any) {
	l.output(LevelDebug, format, args...)
}

// Discard drops all messages.
type Discard struct{}

func (Discard) Errorf(string, ...any) {}
func (Discard) Warnf(string, ...any)  {}
func (Discard) Infof(string, ...any)  {}
func (Discard) Debugf(string, ...any) {}
