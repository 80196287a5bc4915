package rocksdb

// wal_filter.go implements the per-record replay hook.
//
// Reference: RocksDB v10.7.5 include/rocksdb/wal_filter.h

import "github.com/khr0407/rocksdb/internal/batch"

// WALFilterProcessing is the action a WALFilter takes for one record.
type WALFilterProcessing int

const (
	// WALProcessingContinue replays the (possibly rewritten) record.
	WALProcessingContinue WALFilterProcessing = iota

	// WALProcessingIgnoreCurrentRecord skips the record.
	WALProcessingIgnoreCurrentRecord

	// WALProcessingStopReplay skips the record and every later one, in
	// this and all later WALs.
	WALProcessingStopReplay

	// WALProcessingCorruptedRecord treats the record as corrupt; the
	// WALRecoveryMode policy then applies.
	WALProcessingCorruptedRecord
)

// WALFilter inspects every record replayed from the WALs during open.
type WALFilter interface {
	// LogRecordFound is called with each decoded batch. When it rewrites
	// the batch it returns the replacement and changed=true; the
	// replacement must not contain more records than the original, and its
	// sequence is forced back to the original's.
	LogRecordFound(logNumber uint64, logFileName string, b *batch.WriteBatch) (action WALFilterProcessing, newBatch *batch.WriteBatch, changed bool)

	// Name identifies the filter in log output.
	Name() string
}
