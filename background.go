package rocksdb

// background.go runs the flush and compaction workers. The pools are sized
// by option sanitization but receive no work until the end of a successful
// open.
//
// Reference: RocksDB v10.7.5 db/db_impl/db_impl_compaction_flush.cc
// (MaybeScheduleFlushOrCompaction)

import (
	"github.com/panjf2000/ants/v2"
)

type backgroundWork struct {
	db          *DB
	flushPool   *ants.Pool
	compactPool *ants.Pool
}

func newBackgroundWork(db *DB, maxFlushes, maxCompactions int) *backgroundWork {
	flushPool, _ := ants.NewPool(max(maxFlushes, 1))
	compactPool, _ := ants.NewPool(max(maxCompactions, 1))
	return &backgroundWork{
		db:          db,
		flushPool:   flushPool,
		compactPool: compactPool,
	}
}

func (b *backgroundWork) stop() {
	b.flushPool.Release()
	b.compactPool.Release()
}

// maybeScheduleFlushOrCompaction submits work for every family whose
// memtable is over budget or whose Level-0 is due for compaction.
func (db *DB) maybeScheduleFlushOrCompaction() {
	if db.bg == nil {
		return
	}

	db.mu.Lock()
	if db.closed || !db.opened {
		db.mu.Unlock()
		return
	}
	var toFlush []*columnFamilyData
	var toCompact []*columnFamilyData
	for _, cfd := range db.cfSet.all() {
		if cfd.shouldFlush(db.opts.WriteBufferManager) && !cfd.flushScheduled {
			cfd.flushScheduled = true
			toFlush = append(toFlush, cfd)
		}
		if len(cfd.meta.Files(0)) >= cfd.opts.Level0FileNumCompactionTrigger {
			toCompact = append(toCompact, cfd)
		}
	}
	db.mu.Unlock()

	for _, cfd := range toFlush {
		cfd := cfd
		if err := db.bg.flushPool.Submit(func() { db.backgroundFlush(cfd) }); err != nil {
			db.backgroundFlush(cfd)
		}
	}
	for _, cfd := range toCompact {
		cfd := cfd
		if err := db.bg.compactPool.Submit(func() { db.backgroundCompaction(cfd) }); err != nil {
			db.opts.Logger.Debugf("[compact] scheduling compaction for %q: %v", cfd.name, err)
		}
	}
}

func (db *DB) backgroundFlush(cfd *columnFamilyData) {
	db.mu.Lock()
	cfd.flushScheduled = false
	if db.closed || cfd.dropped {
		db.mu.Unlock()
		return
	}
	err := db.flushMemTableLocked(cfd)
	db.mu.Unlock()
	if err != nil {
		db.opts.Logger.Errorf("[flush] background flush of %q: %v", cfd.name, err)
	}
}

// backgroundCompaction only reports Level-0 pressure; it does not run a
// compaction or remove any file.
func (db *DB) backgroundCompaction(cfd *columnFamilyData) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed || cfd.dropped {
		return
	}
	l0 := len(cfd.meta.Files(0))
	if l0 < cfd.opts.Level0FileNumCompactionTrigger {
		return
	}
	db.opts.Logger.Debugf("[compact] column family %q has %d files at L0 (trigger %d)",
		cfd.name, l0, cfd.opts.Level0FileNumCompactionTrigger)
}
