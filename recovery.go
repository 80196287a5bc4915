package rocksdb

// recovery.go replays the write-ahead logs during open.
//
// WALs are replayed in ascending number order; within a file, records in
// file order. Corruption handling follows the WALRecoveryMode:
//
//	mode                           record corruption   tail truncation
//	TolerateCorruptedTailRecords   fail                accept, stop file
//	AbsoluteConsistency            fail                fail
//	PointInTimeRecovery            stop replay here    accept
//	SkipAnyCorruptedRecords        ignore, continue    ignore, continue
//
// Point-in-time mode carries one extra rule: when a later WAL's first
// record lands exactly on the expected next sequence, the sequence stream
// is contiguous across the corruption and replay resumes. Recycled WALs are
// forbidden in that mode because a reused file's stale tail is structurally
// valid and would end the log silently.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_open.cc (RecoverLogFiles)

import (
	"errors"
	"io"

	"github.com/khr0407/rocksdb/internal/batch"
	"github.com/khr0407/rocksdb/internal/manifest"
	"github.com/khr0407/rocksdb/internal/wal"
)

// recoverLogFiles replays logNumbers (ascending) into the column family
// memtables, flushing to Level-0 as needed, and commits the accumulated
// version edits in one LogAndApply. Returns the last sequence after replay,
// or maxSequenceNumber when no WAL file was replayed.
func (db *DB) recoverLogFiles(logNumbers []uint64, readOnly bool) (uint64, error) {
	opts := db.opts
	mode := opts.WALRecoveryMode

	minLog := db.versions.MinLogNumberWithUnflushedData()
	if opts.Allow2PC {
		if n := db.versions.MinLogNumberToKeep2PC(); n > 0 {
			minLog = n
		}
	}

	edits := make(map[uint32]*manifest.VersionEdit)
	editFor := func(cfd *columnFamilyData) *manifest.VersionEdit {
		if e, ok := edits[cfd.id]; ok {
			return e
		}
		e := &manifest.VersionEdit{}
		if cfd.id != DefaultColumnFamilyID {
			e.SetColumnFamily(cfd.id)
		}
		edits[cfd.id] = e
		return e
	}

	var (
		maxSequence  uint64
		nextSequence uint64
		dataSeen     bool
		flushed       = make(map[uint32]bool)
		anyFlushed    bool
		replayed      []uint64
		recordEnds    = make(map[uint64]int64)

		stopReplayForCorruption bool
		corruptedLogNumber      uint64
		stopReplayByWALFilter   bool
	)

	// recordCorruption applies the mode policy to one bad record. A nil
	// return means "skip it and keep going".
	recordCorruption := func(logNum uint64, rerr error) error {
		switch mode {
		case TolerateCorruptedTailRecords, AbsoluteConsistency:
			return statusWrap(CodeCorruption,
				"log record corruption in WAL "+logFileName(logNum), rerr)
		case PointInTimeRecovery:
			if !stopReplayForCorruption {
				stopReplayForCorruption = true
				corruptedLogNumber = logNum
				opts.Logger.Warnf("[recovery] point-in-time recovery stopping at WAL %06d: %v", logNum, rerr)
			}
			return nil
		default: // SkipAnyCorruptedRecords
			opts.Logger.Warnf("[recovery] skipping corrupt record in WAL %06d: %v", logNum, rerr)
			return nil
		}
	}

	for _, logNum := range logNumbers {
		// Even skipped numbers must never be reissued.
		db.versions.MarkFileNumberUsed(logNum)

		if logNum < minLog {
			opts.Logger.Infof("[recovery] skipping WAL %06d already flushed (min log to keep %d)", logNum, minLog)
			continue
		}
		if stopReplayByWALFilter {
			continue
		}

		fname := db.logFilePath(logNum)
		file, err := opts.FS.Open(fname)
		if err != nil {
			if mode == PointInTimeRecovery || mode == SkipAnyCorruptedRecords {
				opts.Logger.Warnf("[recovery] cannot open WAL %06d, skipping: %v", logNum, err)
				continue
			}
			return 0, NewIOError("opening WAL "+fname, err)
		}

		opts.Logger.Infof("[recovery] replaying WAL %06d", logNum)
		reader := wal.NewReader(file, nil, logNum)
		replayed = append(replayed, logNum)

		fileDone := false
		for !fileDone {
			record, rerr := reader.ReadRecord()
			if rerr != nil {
				switch {
				case errors.Is(rerr, io.EOF):
					fileDone = true
				case errors.Is(rerr, wal.ErrOldRecord):
					// Stale tail of a recycled file: the logical end.
					fileDone = true
				case errors.Is(rerr, wal.ErrTruncatedTail):
					switch mode {
					case AbsoluteConsistency:
						_ = file.Close()
						return 0, statusWrap(CodeCorruption,
							"truncated record at tail of WAL "+logFileName(logNum), rerr)
					case SkipAnyCorruptedRecords:
						// Keep scanning; the reader hits EOF next.
					default:
						// Tolerate and point-in-time both accept the torn
						// tail and move to the next file.
						fileDone = true
					}
				default:
					if cerr := recordCorruption(logNum, rerr); cerr != nil {
						_ = file.Close()
						return 0, cerr
					}
				}
				continue
			}

			if len(record) < batch.HeaderSize {
				if cerr := recordCorruption(logNum, batch.ErrTooSmall); cerr != nil {
					_ = file.Close()
					return 0, cerr
				}
				continue
			}

			wb, berr := batch.NewFromData(record)
			if berr != nil {
				if cerr := recordCorruption(logNum, berr); cerr != nil {
					_ = file.Close()
					return 0, cerr
				}
				continue
			}
			sequence := wb.Sequence()

			if mode == PointInTimeRecovery && nextSequence != 0 {
				// The empty anchor batch written at go-live sits at the last
				// applied sequence, one below the next expected one.
				contiguous := sequence == nextSequence ||
					(wb.Count() == 0 && sequence == nextSequence-1)
				if stopReplayForCorruption && contiguous {
					// Contiguous sequence across the corruption point: the
					// lost record carried nothing, roll forward.
					stopReplayForCorruption = false
					opts.Logger.Warnf("[recovery] resuming point-in-time recovery at sequence %d in WAL %06d", sequence, logNum)
				} else if !stopReplayForCorruption && !contiguous {
					// A hole in the sequence stream: records were lost to an
					// accepted truncation somewhere before this point.
					stopReplayForCorruption = true
					corruptedLogNumber = logNum
					opts.Logger.Warnf("[recovery] sequence gap at WAL %06d: got %d, expected %d; stopping point-in-time recovery", logNum, sequence, nextSequence)
				}
			}
			if stopReplayForCorruption {
				continue
			}

			if opts.WALFilter != nil {
				action, newBatch, changed := opts.WALFilter.LogRecordFound(logNum, fname, wb)
				switch action {
				case WALProcessingContinue:
				case WALProcessingIgnoreCurrentRecord:
					continue
				case WALProcessingStopReplay:
					stopReplayByWALFilter = true
					fileDone = true
					continue
				case WALProcessingCorruptedRecord:
					if cerr := recordCorruption(logNum, NewCorruption("WAL filter %s reported record as corrupt", opts.WALFilter.Name())); cerr != nil {
						_ = file.Close()
						return 0, cerr
					}
					continue
				}
				if changed {
					if newBatch.Count() > wb.Count() {
						_ = file.Close()
						return 0, NewNotSupported(
							"WAL filter %s returned a batch with more records than the original", opts.WALFilter.Name())
					}
					newBatch.SetSequence(sequence)
					wb = newBatch
				}
			}

			inserter := &memtableInserter{
				db:              db,
				sequence:        sequence,
				ignoreMissingCF: true,
				logNumber:       logNum,
			}
			if ierr := wb.Iterate(inserter); ierr != nil {
				if cerr := recordCorruption(logNum, ierr); cerr != nil {
					_ = file.Close()
					return 0, cerr
				}
				continue
			}

			count := uint64(wb.Count())
			if count > 0 {
				dataSeen = true
				nextSequence = sequence + count
				if end := sequence + count - 1; end > maxSequence {
					maxSequence = end
				}
			} else {
				// An anchor batch asserts everything through its sequence
				// exists; the next real batch starts one past it.
				nextSequence = sequence + 1
				if sequence > maxSequence {
					maxSequence = sequence
				}
			}

			// Incremental flush of any family whose memtable filled up.
			if !readOnly {
				for _, cfd := range db.cfSet.all() {
					if !cfd.shouldFlush(opts.WriteBufferManager) {
						continue
					}
					imm := cfd.rotateMemtable()
					if ferr := db.writeLevel0TableForRecovery(cfd, imm, editFor(cfd)); ferr != nil {
						_ = file.Close()
						return 0, ferr
					}
					flushed[cfd.id] = true
					anyFlushed = true
				}
			}
		}

		recordEnds[logNum] = reader.LastRecordEnd()
		_ = file.Close()
	}

	if maxSequence > db.versions.LastSequence() {
		db.versions.SetLastSequence(maxSequence)
	}

	// A family flushed past the corruption point cannot be rolled back;
	// recovery would be inconsistent.
	if stopReplayForCorruption {
		for _, cfd := range db.cfSet.all() {
			if cfd.meta.LogNumber > corruptedLogNumber {
				return 0, NewCorruption(
					"SST file is ahead of WALs in column family %q (log %d > corrupted log %d)",
					cfd.name, cfd.meta.LogNumber, corruptedLogNumber)
			}
		}
	}

	// Finalization: advance each family's WAL frontier past every replayed
	// log, flushing whatever must not stay memory-only.
	maxLog := logNumbers[len(logNumbers)-1]
	for _, cfd := range db.cfSet.all() {
		if cfd.meta.LogNumber > maxLog {
			if !cfd.mem.Empty() {
				return 0, NewCorruption(
					"column family %q has memtable data but its log number %d is ahead of all WALs",
					cfd.name, cfd.meta.LogNumber)
			}
			continue
		}
		if !cfd.mem.Empty() && (flushed[cfd.id] || !opts.AvoidFlushDuringRecovery) {
			imm := cfd.rotateMemtable()
			if err := db.writeLevel0TableForRecovery(cfd, imm, editFor(cfd)); err != nil {
				return 0, err
			}
			flushed[cfd.id] = true
			anyFlushed = true
		}
		if flushed[cfd.id] || cfd.mem.Empty() {
			editFor(cfd).SetLogNumber(maxLog + 1)
		}
	}
	db.versions.MarkFileNumberUsed(maxLog + 1)

	if len(edits) > 0 && !readOnly {
		ordered := make([]*manifest.VersionEdit, 0, len(edits))
		for _, cfd := range db.cfSet.all() {
			if e, ok := edits[cfd.id]; ok {
				ordered = append(ordered, e)
			}
		}
		// One commit for every family, rotating the descriptor.
		if err := db.versions.LogAndApply(ordered, true); err != nil {
			return 0, err
		}
	}

	if dataSeen && !anyFlushed {
		db.restoreAliveLogFiles(replayed, recordEnds)
	}

	// Any replayed WAL, even an empty one, gets the anchor record in the
	// go-live WAL so the next open can verify sequence continuity.
	if len(replayed) == 0 {
		return maxSequenceNumber, nil
	}
	return db.versions.LastSequence(), nil
}

// restoreAliveLogFiles keeps the replayed WALs live when recovery stayed
// memory-only: their sizes feed the WAL budget and the highest log loses
// its preallocated slack.
func (db *DB) restoreAliveLogFiles(replayed []uint64, recordEnds map[uint64]int64) {
	if len(replayed) == 0 {
		return
	}
	highest := replayed[len(replayed)-1]

	db.logWriteMu.Lock()
	defer db.logWriteMu.Unlock()

	for _, logNum := range replayed {
		path := db.logFilePath(logNum)
		fi, err := db.opts.FS.Stat(path)
		if err != nil {
			db.opts.Logger.Warnf("[recovery] stat retained WAL %s: %v", path, err)
			continue
		}
		size := fi.Size()
		if logNum == highest {
			if end := recordEnds[logNum]; end > 0 && end < size {
				if terr := db.opts.FS.Truncate(path, end); terr != nil {
					// Best effort: slack only wastes space.
					db.opts.Logger.Warnf("[recovery] truncating retained WAL %s: %v", path, terr)
				} else {
					size = end
				}
			}
		}
		db.totalLogSize += uint64(size)
		db.aliveLogFiles = append(db.aliveLogFiles, logFileNumberSize{number: logNum, size: uint64(size)})
	}
}
