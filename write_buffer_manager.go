package rocksdb

// write_buffer_manager.go accounts memtable memory across the database.
//
// Reference: RocksDB v10.7.5 include/rocksdb/write_buffer_manager.h

import "sync/atomic"

// WriteBufferManager tracks memtable memory against a soft cap. A cap of 0
// disables enforcement but keeps accounting.
type WriteBufferManager struct {
	bufferSize uint64
	usage      atomic.Int64
}

// NewWriteBufferManager returns a manager with the given cap in bytes.
func NewWriteBufferManager(bufferSize uint64) *WriteBufferManager {
	return &WriteBufferManager{bufferSize: bufferSize}
}

// BufferSize returns the configured cap.
func (m *WriteBufferManager) BufferSize() uint64 { return m.bufferSize }

// MemoryUsage returns the tracked usage.
func (m *WriteBufferManager) MemoryUsage() int64 { return m.usage.Load() }

// ReserveMem records memory taken by a memtable.
func (m *WriteBufferManager) ReserveMem(n int64) { m.usage.Add(n) }

// FreeMem records memory released by a flushed memtable.
func (m *WriteBufferManager) FreeMem(n int64) { m.usage.Add(-n) }

// ShouldFlush reports whether usage is over the cap.
func (m *WriteBufferManager) ShouldFlush() bool {
	return m.bufferSize > 0 && uint64(m.usage.Load()) > m.bufferSize
}
