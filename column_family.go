package rocksdb

// column_family.go implements the in-memory side of column families: the
// per-family memtable, options and super-version, layered over the durable
// state owned by the version set.
//
// Reference: RocksDB v10.7.5
//   - db/column_family.h
//   - db/column_family.cc

import (
	"sync/atomic"

	"github.com/khr0407/rocksdb/internal/dbformat"
	"github.com/khr0407/rocksdb/internal/memtable"
	"github.com/khr0407/rocksdb/internal/version"
)

// DefaultColumnFamilyID is the id of the "default" family.
const DefaultColumnFamilyID uint32 = 0

// ColumnFamilyHandle names an open column family.
type ColumnFamilyHandle interface {
	// ID returns the family's id.
	ID() uint32
	// Name returns the family's name.
	Name() string
}

type columnFamilyHandle struct {
	cfd *columnFamilyData
}

func (h *columnFamilyHandle) ID() uint32   { return h.cfd.id }
func (h *columnFamilyHandle) Name() string { return h.cfd.name }

// superVersion is the atomic bundle a read path consumes: the active
// memtable and the durable file state current at install time.
type superVersion struct {
	mem     *memtable.MemTable
	meta    *version.ColumnFamily
	number  uint64
}

// columnFamilyData is the runtime state of one family.
type columnFamilyData struct {
	id   uint32
	name string
	opts ColumnFamilyOptions

	// meta is the durable state inside the version set.
	meta *version.ColumnFamily

	mem *memtable.MemTable

	super atomic.Pointer[superVersion]
	superNumber atomic.Uint64

	dropped bool

	// flush bookkeeping during recovery and steady state
	flushScheduled bool
}

func newColumnFamilyData(id uint32, name string, opts ColumnFamilyOptions, meta *version.ColumnFamily) *columnFamilyData {
	if opts.Comparator == nil {
		opts.Comparator = dbformat.BytewiseCompare
		if opts.ComparatorName == "" {
			opts.ComparatorName = "leveldb.BytewiseComparator"
		}
	}
	cfd := &columnFamilyData{
		id:   id,
		name: name,
		opts: opts,
		meta: meta,
	}
	cfd.mem = memtable.New(memtable.Comparator(opts.Comparator))
	return cfd
}

// installSuperVersion publishes the family's current memtable and durable
// state as a fresh super-version.
func (cfd *columnFamilyData) installSuperVersion() {
	sv := &superVersion{
		mem:    cfd.mem,
		meta:   cfd.meta,
		number: cfd.superNumber.Add(1),
	}
	cfd.super.Store(sv)
}

// currentSuperVersion returns the last installed super-version.
func (cfd *columnFamilyData) currentSuperVersion() *superVersion {
	return cfd.super.Load()
}

// shouldFlush reports whether the active memtable has outgrown its buffer.
func (cfd *columnFamilyData) shouldFlush(wbm *WriteBufferManager) bool {
	if cfd.mem.Empty() {
		return false
	}
	if cfd.mem.ApproximateMemoryUsage() >= int64(cfd.opts.WriteBufferSize) {
		return true
	}
	return wbm != nil && wbm.ShouldFlush()
}

// rotateMemtable replaces the active memtable with an empty one and returns
// the old one.
func (cfd *columnFamilyData) rotateMemtable() *memtable.MemTable {
	old := cfd.mem
	cfd.mem = memtable.New(memtable.Comparator(cfd.opts.Comparator))
	return old
}

// columnFamilySet indexes the open families.
type columnFamilySet struct {
	byID   map[uint32]*columnFamilyData
	byName map[string]uint32
}

func newColumnFamilySet() *columnFamilySet {
	return &columnFamilySet{
		byID:   make(map[uint32]*columnFamilyData),
		byName: make(map[string]uint32),
	}
}

func (s *columnFamilySet) add(cfd *columnFamilyData) {
	s.byID[cfd.id] = cfd
	s.byName[cfd.name] = cfd.id
}

func (s *columnFamilySet) remove(cfd *columnFamilyData) {
	delete(s.byID, cfd.id)
	delete(s.byName, cfd.name)
}

func (s *columnFamilySet) get(id uint32) *columnFamilyData {
	return s.byID[id]
}

func (s *columnFamilySet) getByName(name string) *columnFamilyData {
	if id, ok := s.byName[name]; ok {
		return s.byID[id]
	}
	return nil
}

// all returns the families in id order.
func (s *columnFamilySet) all() []*columnFamilyData {
	var maxID uint32
	for id := range s.byID {
		if id > maxID {
			maxID = id
		}
	}
	out := make([]*columnFamilyData, 0, len(s.byID))
	for id := uint32(0); id <= maxID; id++ {
		if cfd, ok := s.byID[id]; ok {
			out = append(out, cfd)
		}
	}
	return out
}
