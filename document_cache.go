package pdfviewport

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultDocumentCacheCapacity is the default number of open document
// handles DocumentCache keeps before evicting (spec §3: "bounded by count,
// default 5").
const DefaultDocumentCacheCapacity = 5

type documentCacheEntry struct {
	path string
	doc  Document
	elem *list.Element
}

// DocumentCache is a strict-LRU, count-bounded cache of opened Documents
// (spec §3, §4.B). It is safe for concurrent use; a single mutex guards the
// map and the LRU list, mirroring DocumentManager in original_source's
// renderer.py. On eviction the handle is closed; on Open failure nothing is
// inserted.
type DocumentCache struct {
	mu         sync.Mutex
	rasterizer Rasterizer
	capacity   int
	entries    map[string]*documentCacheEntry
	order      *list.List // front = most recently used
	logger     *slog.Logger
}

// NewDocumentCache returns a DocumentCache bounded to capacity entries,
// opening documents through rasterizer. capacity <= 0 uses
// DefaultDocumentCacheCapacity.
func NewDocumentCache(rasterizer Rasterizer, capacity int, logger *slog.Logger) (*DocumentCache, error) {
	if rasterizer == nil {
		return nil, ErrNilRasterizer
	}
	if capacity <= 0 {
		capacity = DefaultDocumentCacheCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentCache{
		rasterizer: rasterizer,
		capacity:   capacity,
		entries:    make(map[string]*documentCacheEntry),
		order:      list.New(),
		logger:     logger,
	}, nil
}

// Get returns the document opened for path, opening and caching it on a
// miss. The returned Document is borrowed: the cache may close it once it
// is evicted, so callers must not retain it past their use of it. Eviction
// happens before insertion of a new entry when the cache is already at
// capacity (spec §4.B, §8.7).
func (c *DocumentCache) Get(path string) (Document, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}

	c.mu.Lock()
	if entry, ok := c.entries[path]; ok {
		c.order.MoveToFront(entry.elem)
		c.mu.Unlock()
		return entry.doc, nil
	}
	c.mu.Unlock()

	// Open outside the lock: opening a document is comparatively slow and
	// must not be serialized with lookups for other paths.
	doc, err := c.rasterizer.Open(path)
	if err != nil {
		return nil, fmt.Errorf("document cache: open %q: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have opened and inserted the same path while we
	// held no lock; prefer the already-cached handle and close ours.
	if entry, ok := c.entries[path]; ok {
		c.order.MoveToFront(entry.elem)
		_ = doc.Close()
		return entry.doc, nil
	}

	if len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	elem := c.order.PushFront(path)
	c.entries[path] = &documentCacheEntry{path: path, doc: doc, elem: elem}
	c.logger.Debug("document cache insert", "path", path, "size", len(c.entries))
	return doc, nil
}

// Len returns the number of currently cached document handles.
func (c *DocumentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close evicts and closes every cached document handle.
func (c *DocumentCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for path, entry := range c.entries {
		if err := entry.doc.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("document cache: close %q: %w", path, err)
		}
	}
	c.entries = make(map[string]*documentCacheEntry)
	c.order.Init()
	return firstErr
}

func (c *DocumentCache) evictOldestLocked() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	path := oldest.Value.(string)
	entry := c.entries[path]
	c.order.Remove(oldest)
	delete(c.entries, path)
	if err := entry.doc.Close(); err != nil {
		c.logger.Warn("document cache evict close failed", "path", path, "error", err)
	} else {
		c.logger.Debug("document cache evict", "path", path)
	}
}
