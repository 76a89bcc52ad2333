package pdfviewport

import (
	"container/heap"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// TileSize is the nominal tile edge length in pixels at bucket zoom 1.0
// (spec §3, §4.H: "TILE_SIZE = 256").
const TileSize = 256.0

// bucketZoomRatio is the geometric ladder step bucketZoom snaps onto (spec
// §3: "r = 1.125").
const bucketZoomRatio = 1.125

// BucketZoom snaps zoom onto the geometric ladder r^k (r = 1.125) so
// nearby zoom levels address the same cached tiles (spec §3, §8.5). It is
// idempotent: BucketZoom(BucketZoom(z)) == BucketZoom(z).
func BucketZoom(zoom float64) float64 {
	if zoom <= 0 {
		return 0
	}
	k := math.Round(math.Log(zoom) / math.Log(bucketZoomRatio))
	return math.Pow(bucketZoomRatio, k)
}

// TileRect is a tile's page-coordinate bounding box, already clipped to the
// page.
type TileRect struct {
	X0, Y0, X1, Y1 float64
}

// degenerate reports whether the rect has zero or negative area.
func (r TileRect) degenerate() bool {
	return r.X0 >= r.X1 || r.Y0 >= r.Y1
}

// TileFingerprint computes the content-addressing key for a tile (spec §3):
// hash(pdf_path)[0..8] ⧺ "_" ⧺ page ⧺ "_" ⧺ bucket_zoom(4dp) ⧺ "_" ⧺ row ⧺
// "_" ⧺ col.
func TileFingerprint(pdfPath string, page int, bucketZoom float64, row, col int) string {
	h := xxhash.Sum64String(pdfPath)
	return fmt.Sprintf("%016x", h)[:8] + fmt.Sprintf("_%d_%.4f_%d_%d", page, bucketZoom, row, col)
}

// TileRenderRequest is a pending tile render, priority-ordered by distance
// from the visible viewport's center (spec §4.H step 5).
type TileRenderRequest struct {
	Fingerprint string
	PdfPath     string
	PageNumber  int
	Row, Col    int
	PageRect    TileRect
	BucketZoom  float64
	Generation  uint64
}

// tileQueueItem is the heap.Interface element backing TileScheduler's
// priority queue: lower priority value dequeues first, ties broken by
// insertion order (spec §4.H step 6: "ties broken by insertion counter").
type tileQueueItem struct {
	req      TileRenderRequest
	priority float64
	seq      uint64
	index    int
}

type tileHeap []*tileQueueItem

func (h tileHeap) Len() int { return len(h) }
func (h tileHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h tileHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *tileHeap) Push(x any) {
	item := x.(*tileQueueItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *tileHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// TileScheduler converts a viewport into prioritized tile render requests
// for the tiled cache variant (spec §4.H). Center-first priority makes the
// perceived viewport center sharpen first; the generation counter dropped
// in at Dequeue time prevents stale tiles (from a viewport the user has
// since panned or zoomed away from) from ever being rendered, mirroring
// original_source's renderer.py RenderWorker priority queue plus its
// current_generation check at dequeue.
type TileScheduler struct {
	mu          sync.Mutex
	cache       *TileCache
	queue       tileHeap
	seq         uint64
	generation  uint64
	onTileReady func(fingerprint string, row, col int, bucketZoom float64)
	logger      *slog.Logger
}

// NewTileScheduler returns a scheduler backed by cache. onTileReady, if
// non-nil, is invoked synchronously from Schedule for every tile already
// present in the cache (spec §4.H step 5 "emit TileReady immediately").
func NewTileScheduler(cache *TileCache, onTileReady func(fingerprint string, row, col int, bucketZoom float64), logger *slog.Logger) *TileScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &TileScheduler{cache: cache, onTileReady: onTileReady, logger: logger}
	heap.Init(&s.queue)
	return s
}

// Schedule computes the tiles covering viewport (x, y, w, h) in pixel
// coordinates at the given zoom, for pdfPath/page of size pageW x pageH
// page units (spec §4.H steps 1-6). Tiles already in the cache fire
// onTileReady immediately and are not queued; the rest are pushed onto the
// priority queue for Dequeue to drain. It bumps the scheduler's generation
// first, so every newly queued request (and any request already queued
// from a prior call) carries a Generation that Dequeue can compare against
// the latest call's.
func (s *TileScheduler) Schedule(pdfPath string, page int, pageW, pageH float64, viewportX, viewportY, viewportW, viewportH, zoom float64) int {
	if zoom <= 0 || viewportW <= 0 || viewportH <= 0 || pageW <= 0 || pageH <= 0 {
		return 0
	}

	bucket := BucketZoom(zoom)
	tileUnits := TileSize / bucket

	x0 := viewportX / zoom
	x1 := (viewportX + viewportW) / zoom
	y0 := viewportY / zoom
	y1 := (viewportY + viewportH) / zoom

	colStart := int(math.Floor(x0 / tileUnits))
	colEnd := int(math.Ceil(x1 / tileUnits))
	rowStart := int(math.Floor(y0 / tileUnits))
	rowEnd := int(math.Ceil(y1 / tileUnits))

	midCol := float64(colStart+colEnd-1) / 2.0
	midRow := float64(rowStart+rowEnd-1) / 2.0

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	generation := s.generation

	enqueued := 0
	for row := rowStart; row < rowEnd; row++ {
		for col := colStart; col < colEnd; col++ {
			rect := TileRect{
				X0: math.Max(float64(col)*tileUnits, 0),
				Y0: math.Max(float64(row)*tileUnits, 0),
				X1: math.Min(float64(col+1)*tileUnits, pageW),
				Y1: math.Min(float64(row+1)*tileUnits, pageH),
			}
			if rect.degenerate() {
				continue
			}

			fp := TileFingerprint(pdfPath, page, bucket, row, col)
			if s.cache != nil {
				if _, ok := s.cache.Get(fp); ok {
					if s.onTileReady != nil {
						s.onTileReady(fp, row, col, bucket)
					}
					continue
				}
			}

			priority := math.Abs(float64(row)-midRow) + math.Abs(float64(col)-midCol)
			s.seq++
			heap.Push(&s.queue, &tileQueueItem{
				req: TileRenderRequest{
					Fingerprint: fp,
					PdfPath:     pdfPath,
					PageNumber:  page,
					Row:         row,
					Col:         col,
					PageRect:    rect,
					BucketZoom:  bucket,
					Generation:  generation,
				},
				priority: priority,
				seq:      s.seq,
			})
			enqueued++
		}
	}
	s.logger.Debug("tile scheduler scheduled viewport", "enqueued", enqueued, "bucket_zoom", bucket, "generation", generation)
	return enqueued
}

// Dequeue pops the highest-priority pending request, silently discarding
// any that carry a generation older than the most recent Schedule call
// (spec §4.H step 6). ok is false once the queue is empty.
func (s *TileScheduler) Dequeue() (TileRenderRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.queue.Len() > 0 {
		item := heap.Pop(&s.queue).(*tileQueueItem)
		if item.req.Generation < s.generation {
			s.logger.Debug("tile scheduler dropped stale request", "fingerprint", item.req.Fingerprint, "generation", item.req.Generation, "current_generation", s.generation)
			continue
		}
		return item.req, true
	}
	return TileRenderRequest{}, false
}

// Len returns the number of requests currently queued.
func (s *TileScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Generation returns the generation assigned by the most recent Schedule
// call.
func (s *TileScheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}
