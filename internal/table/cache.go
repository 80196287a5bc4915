// Table reader cache.
//
// Open table readers are kept in an LRU keyed by file number; eviction
// closes the reader. Capacity follows the sanitized max_open_files.
//
// Reference: RocksDB v10.7.5 db/table_cache.cc
package table

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/khr0407/rocksdb/internal/vfs"
)

// Cache caches open table readers by file number.
type Cache struct {
	mu    sync.Mutex
	fs    vfs.FS
	cache *lru.Cache[uint64, *Reader]
	cmp   func(a, b []byte) int
}

// NewCache returns a cache holding at most capacity open readers.
func NewCache(fs vfs.FS, capacity int, cmp func(a, b []byte) int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	c := &Cache{fs: fs, cmp: cmp}
	c.cache, _ = lru.NewWithEvict(capacity, func(_ uint64, r *Reader) {
		_ = r.Close()
	})
	return c
}

// Get returns the reader for fileNum, opening path on a miss.
func (c *Cache) Get(fileNum uint64, path string) (*Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.cache.Get(fileNum); ok {
		return r, nil
	}
	f, err := c.fs.OpenRandomAccess(path)
	if err != nil {
		return nil, err
	}
	r, err := Open(f, ReaderOptions{Comparator: c.cmp})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	c.cache.Add(fileNum, r)
	return r, nil
}

// Evict drops a file's reader, closing it if cached.
func (c *Cache) Evict(fileNum uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Remove(fileNum)
}

// Close evicts every reader.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
	return nil
}
