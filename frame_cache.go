package pdfviewport

import "sync/atomic"

// frameCacheSlot is the value FrameCache swaps atomically; generation 0
// means "no frame yet" and is never a valid assigned generation (the
// controller's counter starts at 1).
type frameCacheSlot struct {
	generation uint64
	image      Image
}

// FrameCache holds at most one image per ViewportController, replacing it
// only with strictly newer generations (spec §3, §5, §8.1). Unlike
// DocumentCache/TileCache it needs no mutex: a single atomic pointer swap is
// enough for a one-slot cell, so reads never block writers.
type FrameCache struct {
	slot atomic.Pointer[frameCacheSlot]
}

// NewFrameCache returns an empty FrameCache.
func NewFrameCache() *FrameCache {
	return &FrameCache{}
}

// Get returns the most recently accepted frame, or false if none has been
// set yet.
func (c *FrameCache) Get() (Image, bool) {
	slot := c.slot.Load()
	if slot == nil {
		return Image{}, false
	}
	return slot.image, true
}

// Generation returns the generation of the currently held frame, or 0 if
// none has been set.
func (c *FrameCache) Generation() uint64 {
	slot := c.slot.Load()
	if slot == nil {
		return 0
	}
	return slot.generation
}

// Set stores image under generation if and only if generation is strictly
// greater than the generation already held (or none is held yet). It
// returns false for a nil-pixels image or a non-advancing generation, in
// which case the cache is left unchanged.
func (c *FrameCache) Set(generation uint64, image Image) bool {
	if image.Bytes() == 0 {
		return false
	}
	for {
		old := c.slot.Load()
		if old != nil && generation <= old.generation {
			return false
		}
		next := &frameCacheSlot{generation: generation, image: image}
		if c.slot.CompareAndSwap(old, next) {
			return true
		}
	}
}
