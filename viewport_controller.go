package pdfviewport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	ddTracer "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

// RenderDebounce is the single-shot debounce interval RequestRender waits
// before actually dispatching, coalescing bursts of viewport mutation into
// one render (spec §4.G, §5).
const RenderDebounce = 33 * time.Millisecond

// ViewportController maintains viewport state (page, center, scale, DPR,
// size), coordinate math, and the generation-based scheduling discipline
// that ties FrameBufferPool, RenderExecutor and ResultRouter together (spec
// §4.G). It is the Go counterpart of original_source's PDFController: one
// instance per open document view, used from a single goroutine (the "UI
// context" of spec §5) except for the callbacks ResultRouter invokes on its
// own goroutine, which is why Accept/the frame-ready path re-take the lock.
type ViewportController struct {
	mu sync.Mutex

	pdfPath    string
	pageNumber int
	pageWidth  float64
	pageHeight float64

	centerX, centerY float64
	scale            float64
	fitScale         float64
	dpr              float64
	logicalW         float64
	logicalH         float64
	pixelW           int
	pixelH           int

	generation       uint64
	latestGeneration uint64
	inFlight         bool
	pending          bool
	timer            *time.Timer

	docCache   *DocumentCache
	bufferPool *FrameBufferPool
	executor   *RenderExecutor
	frameCache *FrameCache
	router     *ResultRouter

	onPageChanged func()
	onFrameReady  func(generation uint64)

	logger *slog.Logger
}

// ViewportControllerOption configures optional collaborators/callbacks at
// construction time.
type ViewportControllerOption func(*ViewportController)

// WithPageChanged registers a callback invoked after pdfPath, pageNumber,
// pageWidth or pageHeight change (spec §6 signal "pageChanged").
func WithPageChanged(fn func()) ViewportControllerOption {
	return func(c *ViewportController) { c.onPageChanged = fn }
}

// WithFrameReady registers a callback invoked after a frame for a
// not-yet-superseded generation is published to the FrameCache (spec §6
// signal "frameReady(generation)").
func WithFrameReady(fn func(generation uint64)) ViewportControllerOption {
	return func(c *ViewportController) { c.onFrameReady = fn }
}

// WithLogger overrides the default slog.Logger.
func WithLogger(logger *slog.Logger) ViewportControllerOption {
	return func(c *ViewportController) { c.logger = logger }
}

// NewViewportController wires a DocumentCache, FrameBufferPool,
// RenderExecutor and ResultRouter around rasterizer and starts the executor
// and router goroutines. docCacheCapacity <= 0 uses
// DefaultDocumentCacheCapacity.
func NewViewportController(rasterizer Rasterizer, docCacheCapacity int, opts ...ViewportControllerOption) (*ViewportController, error) {
	c := &ViewportController{
		dpr:    1.0,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	docCache, err := NewDocumentCache(rasterizer, docCacheCapacity, c.logger)
	if err != nil {
		return nil, err
	}
	c.docCache = docCache
	c.bufferPool = NewFrameBufferPool(c.logger)

	executor, err := NewRenderExecutor(rasterizer, c.bufferPool)
	if err != nil {
		return nil, err
	}
	c.executor = executor
	c.frameCache = NewFrameCache()
	c.router = NewResultRouter(executor, c.bufferPool, c.frameCache, c, c.handleFrameReady, c.logger)

	c.executor.Start()
	c.router.Start()

	return c, nil
}

// PdfPath returns the current document path.
func (c *ViewportController) PdfPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pdfPath
}

// PageNumber returns the current 0-indexed page number.
func (c *ViewportController) PageNumber() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageNumber
}

// PageWidth returns the current page's width in page units, or 0 in the
// degraded state (spec §7).
func (c *ViewportController) PageWidth() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageWidth
}

// PageHeight returns the current page's height in page units, or 0 in the
// degraded state.
func (c *ViewportController) PageHeight() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageHeight
}

// ZoomPercent returns 100 * scale / fit_scale (spec §6).
func (c *ViewportController) ZoomPercent() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fitScale == 0 {
		return 100
	}
	return 100 * c.scale / c.fitScale
}

// SetPdf changes the open document path, reloads the current page's
// dimensions, re-fits, and schedules a render (spec §4.G, §6).
func (c *ViewportController) SetPdf(path string) {
	span, _ := ddTracer.StartSpanFromContext(context.Background(), "ViewportController.SetPdf")
	defer span.Finish()

	c.mu.Lock()
	c.pdfPath = path
	c.mu.Unlock()

	c.reloadPageDims()
	c.FitPage()
}

// SetPage changes the current page, reloads its dimensions, re-fits, and
// schedules a render.
func (c *ViewportController) SetPage(n int) {
	span, _ := ddTracer.StartSpanFromContext(context.Background(), "ViewportController.SetPage")
	defer span.Finish()

	c.mu.Lock()
	c.pageNumber = n
	c.mu.Unlock()

	c.reloadPageDims()
	c.FitPage()
}

// reloadPageDims looks up the current page's size via DocumentCache. On
// failure it enters the degraded state (zero page dims, no render
// scheduled) and still fires pageChanged (spec §7).
func (c *ViewportController) reloadPageDims() {
	c.mu.Lock()
	path := c.pdfPath
	pageNumber := c.pageNumber
	c.mu.Unlock()

	var width, height float64
	if path != "" {
		if doc, err := c.docCache.Get(path); err != nil {
			c.logger.Warn("viewport controller failed to open document", "path", path, "error", err)
		} else if page, err := doc.Page(pageNumber); err != nil {
			c.logger.Warn("viewport controller failed to load page", "path", path, "page", pageNumber, "error", err)
		} else {
			size := page.Size()
			width, height = size.Width, size.Height
		}
	}

	c.mu.Lock()
	c.pageWidth = width
	c.pageHeight = height
	c.mu.Unlock()

	if c.onPageChanged != nil {
		c.onPageChanged()
	}
}

// FitPage sets scale to the largest value such that the page fits entirely
// within the viewport, and centers the page (spec §4.G, §8.4).
func (c *ViewportController) FitPage() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pdfPath == "" || c.pageWidth <= 0 || c.pageHeight <= 0 {
		return
	}
	if c.pixelW <= 0 || c.pixelH <= 0 {
		return
	}

	scaleX := float64(c.pixelW) / c.pageWidth
	scaleY := float64(c.pixelH) / c.pageHeight
	c.fitScale = min(scaleX, scaleY)
	c.scale = c.fitScale
	c.centerX = c.pageWidth / 2
	c.centerY = c.pageHeight / 2

	c.scheduleRenderLocked()
}

// SetViewportSize updates the logical viewport size and device pixel
// ratio, resizes the FrameBufferPool if the resulting pixel geometry
// changed, and schedules a render.
func (c *ViewportController) SetViewportSize(logicalW, logicalH, dpr float64) {
	if dpr < 1 {
		dpr = 1
	}
	if logicalW < 1 {
		logicalW = 1
	}
	if logicalH < 1 {
		logicalH = 1
	}

	pixelW := int(logicalW * dpr)
	pixelH := int(logicalH * dpr)

	c.mu.Lock()
	c.dpr = dpr
	c.logicalW = logicalW
	c.logicalH = logicalH
	changed := pixelW != c.pixelW || pixelH != c.pixelH
	c.pixelW = pixelW
	c.pixelH = pixelH
	c.mu.Unlock()

	if changed {
		if err := c.bufferPool.Resize(pixelW, pixelH); err != nil {
			c.logger.Error("viewport controller failed to resize frame buffer pool", "error", err)
			return
		}
	}

	c.mu.Lock()
	c.scheduleRenderLocked()
	c.mu.Unlock()
}

// PanBy shifts the viewport center by (dx, dy) logical pixels (spec §4.G).
func (c *ViewportController) PanBy(dx, dy float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scale == 0 {
		return
	}
	c.centerX -= (dx * c.dpr) / c.scale
	c.centerY -= (dy * c.dpr) / c.scale
	c.scheduleRenderLocked()
}

// screenToPDFLocked maps a device-pixel anchor to page coordinates under
// the current center/scale. Callers must hold c.mu.
func (c *ViewportController) screenToPDFLocked(anchorXPx, anchorYPx float64) (pdfX, pdfY float64) {
	pdfX = c.centerX + (anchorXPx-float64(c.pixelW)/2)/c.scale
	pdfY = c.centerY + (anchorYPx-float64(c.pixelH)/2)/c.scale
	return
}

// ZoomAt multiplies scale by factor while keeping the page point under
// (ax, ay) (logical pixels) fixed on screen (spec §4.G, §8.3). factor <= 0
// or a zero current scale are rejected without effect.
func (c *ViewportController) ZoomAt(factor, ax, ay float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if factor <= 0 || c.scale == 0 {
		return
	}

	anchorXPx := ax * c.dpr
	anchorYPx := ay * c.dpr
	pdfX, pdfY := c.screenToPDFLocked(anchorXPx, anchorYPx)

	c.scale *= factor

	c.centerX = pdfX - (anchorXPx-float64(c.pixelW)/2)/c.scale
	c.centerY = pdfY - (anchorYPx-float64(c.pixelH)/2)/c.scale

	c.scheduleRenderLocked()
}

// RequestRender re-arms the debounce timer without otherwise changing
// viewport state; useful after an external event (e.g. a cache warm) that
// should refresh the current frame.
func (c *ViewportController) RequestRender() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleRenderLocked()
}

func (c *ViewportController) scheduleRenderLocked() {
	if c.pdfPath == "" || c.pixelW <= 0 || c.pixelH <= 0 {
		return
	}
	if c.pageWidth <= 0 || c.pageHeight <= 0 {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(RenderDebounce, c.fireRender)
}

// fireRender is the debounce timer callback (spec §4.G "On fire"). It
// assigns a new generation, acquires the next buffer, and dispatches a
// RenderRequest — unless a render is already in flight, in which case it
// just sets the pending bit so the most recent viewport is re-dispatched as
// soon as the in-flight one completes (spec §8.2 "single in-flight").
func (c *ViewportController) fireRender() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fireRenderLocked()
}

func (c *ViewportController) fireRenderLocked() {
	if c.inFlight {
		c.pending = true
		return
	}
	name, _, ok := c.bufferPool.Acquire()
	if !ok {
		return
	}

	c.generation++
	c.latestGeneration = c.generation

	stride := c.bufferPool.Stride()
	req := RenderRequest{
		RequestID:   c.generation,
		PDFPath:     c.pdfPath,
		PageNumber:  c.pageNumber,
		CenterX:     c.centerX,
		CenterY:     c.centerY,
		RenderScale: c.scale,
		PixelW:      c.pixelW,
		PixelH:      c.pixelH,
		BufferName:  name,
		BufferSize:  stride * c.pixelH,
		Stride:      stride,
		DPR:         c.dpr,
		CreatedAt:   time.Now(),
	}

	if err := c.executor.Submit(req); err != nil {
		c.logger.Warn("viewport controller failed to submit render request", "error", err)
		return
	}
	c.inFlight = true
}

// Accept implements GenerationAcceptor: a result is only applied if its
// generation is still the latest one outstanding (spec §4.F "accept").
func (c *ViewportController) Accept(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation == c.latestGeneration
}

// handleFrameReady implements the controller's half of spec §4.G's "On
// FrameReady(g)": clear in-flight and, if a render was coalesced while this
// one was running, dispatch it immediately.
func (c *ViewportController) handleFrameReady(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.latestGeneration {
		return
	}
	c.inFlight = false
	if c.pending {
		c.pending = false
		c.fireRenderLocked()
	}

	if c.onFrameReady != nil {
		fn := c.onFrameReady
		gen := generation
		c.mu.Unlock()
		fn(gen)
		c.mu.Lock()
	}
}

// GetFrame returns the most recently published frame, or false if none has
// rendered yet (spec §6 "Image pull API").
func (c *ViewportController) GetFrame() (Image, bool) {
	return c.frameCache.Get()
}

// Shutdown posts sentinels to both the executor and router, joins them with
// a 1s timeout, and releases shared buffers (spec §7 "Shutdown").
func (c *ViewportController) Shutdown() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	if !c.executor.Stop(time.Second) {
		c.logger.Warn("viewport controller executor did not stop within timeout")
	}
	if !c.router.Stop(time.Second) {
		c.logger.Warn("viewport controller result router did not stop within timeout")
	}
	_ = c.docCache.Close()
	c.bufferPool.Shutdown()
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
