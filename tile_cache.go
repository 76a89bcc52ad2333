package pdfviewport

import (
	"container/list"
	"log/slog"
	"sync"
)

// DefaultTileCacheMaxBytes is the default byte budget for TileCache (spec
// §3: "bounded by sum-of-bytes, default 100 MiB").
const DefaultTileCacheMaxBytes = 100 * 1024 * 1024

// Image is a read-only, immutable view of a rendered frame or tile. It
// borrows its Pixels slice; consumers must not mutate or retain it beyond
// the lifetime documented by whichever cache handed it out.
type Image struct {
	Width, Height int
	Stride        int
	Format        PixelFormat
	DPR           float64
	Pixels        []byte
}

// Bytes returns the image's footprint for cache accounting purposes.
func (img Image) Bytes() int {
	if img.Pixels == nil {
		return 0
	}
	return len(img.Pixels)
}

type tileCacheEntry struct {
	key   string
	image Image
	elem  *list.Element
}

// TileCache is a byte-budget-bounded, strict-LRU cache of rendered tiles
// keyed by fingerprint (spec §3, §4.C). It is the tiled-mode counterpart to
// FrameCache's single-slot generation gate. A single mutex guards all
// state, mirroring original_source's renderer.py TileCache class.
type TileCache struct {
	mu        sync.Mutex
	maxBytes  int
	curBytes  int
	entries   map[string]*tileCacheEntry
	order     *list.List // front = most recently used
	logger    *slog.Logger
}

// NewTileCache returns a TileCache bounded to maxBytes. maxBytes <= 0 uses
// DefaultTileCacheMaxBytes.
func NewTileCache(maxBytes int, logger *slog.Logger) *TileCache {
	if maxBytes <= 0 {
		maxBytes = DefaultTileCacheMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TileCache{
		maxBytes: maxBytes,
		entries:  make(map[string]*tileCacheEntry),
		order:    list.New(),
		logger:   logger,
	}
}

// Get returns the cached image for key and touches its LRU position. The
// second return value is false on a miss.
func (c *TileCache) Get(key string) (Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Image{}, false
	}
	c.order.MoveToFront(entry.elem)
	return entry.image, true
}

// Put inserts image under key, evicting least-recently-used entries until
// the byte budget holds. It rejects a nil/zero-byte image without touching
// the cache (spec §4.C). If key already exists its old byte count is
// subtracted before the eviction loop runs, so replacing an entry in place
// never itself triggers eviction of its own previous value. An image larger
// than the whole budget evicts every entry and is still inserted, leaving
// CurrentBytes above the budget.
func (c *TileCache) Put(key string, image Image) bool {
	if image.Bytes() == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.curBytes -= existing.image.Bytes()
		c.order.Remove(existing.elem)
		delete(c.entries, key)
	}

	for c.curBytes+image.Bytes() > c.maxBytes && c.order.Len() > 0 {
		c.evictOldestLocked()
	}

	elem := c.order.PushFront(key)
	c.entries[key] = &tileCacheEntry{key: key, image: image, elem: elem}
	c.curBytes += image.Bytes()
	c.logger.Debug("tile cache put", "key", key, "bytes", image.Bytes(), "current_bytes", c.curBytes)
	return true
}

// Len returns the number of cached tiles.
func (c *TileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CurrentBytes returns the sum of cached image sizes.
func (c *TileCache) CurrentBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.curBytes
}

func (c *TileCache) evictOldestLocked() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	key := oldest.Value.(string)
	entry := c.entries[key]
	c.order.Remove(oldest)
	delete(c.entries, key)
	c.curBytes -= entry.image.Bytes()
	c.logger.Debug("tile cache evict", "key", key)
}
