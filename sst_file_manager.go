package rocksdb

// sst_file_manager.go tracks table files and performs deletions, including
// the immediate unlink of soft-deleted "*.log.trash" WALs when the WAL
// directory is separate from the data path.
//
// Reference: RocksDB v10.7.5 file/sst_file_manager_impl.cc

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/khr0407/rocksdb/internal/logging"
	"github.com/khr0407/rocksdb/internal/vfs"
)

// SSTFileManager tracks live table files and deletes obsolete ones.
type SSTFileManager struct {
	mu     sync.Mutex
	fs     vfs.FS
	logger logging.Logger

	trackedSize map[string]uint64
	totalSize   uint64
}

// NewSSTFileManager returns a manager over fs.
func NewSSTFileManager(fs vfs.FS, logger logging.Logger) *SSTFileManager {
	if logger == nil {
		logger = logging.Discard{}
	}
	return &SSTFileManager{
		fs:          fs,
		logger:      logger,
		trackedSize: make(map[string]uint64),
	}
}

// OnAddFile records a new live file.
func (m *SSTFileManager) OnAddFile(path string, size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.trackedSize[path]; ok {
		m.totalSize -= old
	}
	m.trackedSize[path] = size
	m.totalSize += size
}

// OnDeleteFile forgets a file.
func (m *SSTFileManager) OnDeleteFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.trackedSize[path]; ok {
		m.totalSize -= old
		delete(m.trackedSize, path)
	}
}

// TotalSize returns the tracked byte total.
func (m *SSTFileManager) TotalSize() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalSize
}

// DeleteFile removes path, best effort, and forgets it.
func (m *SSTFileManager) DeleteFile(path string) error {
	m.OnDeleteFile(path)
	return m.fs.Remove(path)
}

// DeleteTrashLogs unlinks every "*.log.trash" in dir. Used when the WAL
// directory differs from the data path, where trash cannot be rate-limited
// against the data budget.
func (m *SSTFileManager) DeleteTrashLogs(dir string) {
	names, err := m.fs.ListDir(dir)
	if err != nil {
		return
	}
	for _, name := range names {
		if !strings.HasSuffix(name, ".log.trash") {
			continue
		}
		path := filepath.Join(dir, name)
		if err := m.fs.Remove(path); err != nil {
			m.logger.Warnf("[db] deleting trash log %s: %v", path, err)
		}
	}
}
