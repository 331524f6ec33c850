package services

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// documentCache holds file-tier document contents by path. An entry is reused
// only while the file's modification time and size are unchanged, so keys are
// bounded by the documents that actually exist on disk.
type documentCache struct {
	mu      sync.Mutex
	entries map[string]cachedDocument
}

type cachedDocument struct {
	modTime time.Time
	size    int64
	valid   bool
	data    []byte
}

func newDocumentCache() *documentCache {
	return &documentCache{entries: make(map[string]cachedDocument)}
}

// get returns the cached contents of path and whether they were valid JSON.
func (c *documentCache) get(path string, info fs.FileInfo) (data []byte, valid, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, found := c.entries[path]
	if !found || doc.size != info.Size() || !doc.modTime.Equal(info.ModTime()) {
		return nil, false, false
	}
	return append([]byte(nil), doc.data...), doc.valid, true
}

func (c *documentCache) put(path string, info fs.FileInfo, data []byte, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	c.entries[path] = cachedDocument{
		modTime: info.ModTime(),
		size:    info.Size(),
		valid:   valid,
		data:    stored,
	}
}

func (c *documentCache) forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// prune drops entries in dir whose file was not seen in the latest listing.
func (c *documentCache) prune(dir string, seen map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path := range c.entries {
		if filepath.Dir(path) != filepath.Clean(dir) {
			continue
		}
		if _, ok := seen[path]; !ok {
			delete(c.entries, path)
		}
	}
}

func (c *documentCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
