package pdfviewport

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// idlePopTimeout is how long the executor's dequeue loop blocks waiting for
// the next request before re-checking for shutdown. It has no correctness
// role (Close() wakes it immediately); it only bounds how quickly a stuck
// loop would notice a closed queue it somehow missed the wakeup for.
const idlePopTimeout = 250 * time.Millisecond

// RenderRequest is the inbound message to a RenderExecutor (spec §3, §6).
// It is immutable after it is pushed.
type RenderRequest struct {
	RequestID   uint64
	PDFPath     string
	PageNumber  int
	CenterX     float64
	CenterY     float64
	RenderScale float64
	PixelW      int
	PixelH      int
	BufferName  string
	BufferSize  int
	Stride      int
	DPR         float64
	CreatedAt   time.Time
}

// RenderResult is the outbound message from a RenderExecutor (spec §3, §6).
// BufferName is empty on failure, in which case Err explains why and
// RenderDuration/TotalDuration are zero.
type RenderResult struct {
	RequestID      uint64
	BufferName     string
	PixelW         int
	PixelH         int
	Stride         int
	DPR            float64
	CreatedAt      time.Time
	RenderDuration time.Duration
	TotalDuration  time.Duration
	Err            error
}

// Succeeded reports whether the render that produced this result wrote
// pixels into BufferName.
func (r RenderResult) Succeeded() bool { return r.Err == nil && r.BufferName != "" }

// BufferSource resolves a named shared buffer to its byte view. Both
// FrameBufferPool (in-process) and a hypothetical cross-process attach
// implementation satisfy it.
type BufferSource interface {
	View(name string) ([]byte, bool)
}

// RenderExecutor is the isolated, single-threaded owner of one Rasterizer
// (spec §4.E, §5). It runs on a dedicated goroutine pinned to its own OS
// thread via runtime.LockOSThread — the Go equivalent of the "dedicated OS
// thread" alternative spec §4.E allows alongside the separate-process
// design — so the non-reentrant rasterizer is never called from two
// goroutines at once. Documents and buffer views it touches are cached
// locally; on Stop the documents are closed and the buffer views dropped.
type RenderExecutor struct {
	id           uuid.UUID
	rasterizer   Rasterizer
	bufferSource BufferSource
	inbound      *blockingQueue[RenderRequest]
	outbound     *blockingQueue[RenderResult]
	docs         map[string]Document
	buffers      map[string][]byte
	lastProgress atomic.Int64
	done         chan struct{}
	logger       *log.Entry
}

// NewRenderExecutor returns an executor bound to rasterizer and
// bufferSource. Call Start to begin processing.
func NewRenderExecutor(rasterizer Rasterizer, bufferSource BufferSource) (*RenderExecutor, error) {
	if rasterizer == nil {
		return nil, ErrNilRasterizer
	}
	id := uuid.New()
	e := &RenderExecutor{
		id:           id,
		rasterizer:   rasterizer,
		bufferSource: bufferSource,
		inbound:      newBlockingQueue[RenderRequest](),
		outbound:     newBlockingQueue[RenderResult](),
		docs:         make(map[string]Document),
		buffers:      make(map[string][]byte),
		done:         make(chan struct{}),
		logger:       log.WithField("executor_id", id.String()),
	}
	e.lastProgress.Store(time.Now().UnixNano())
	return e, nil
}

// Start launches the executor's event loop.
func (e *RenderExecutor) Start() {
	go e.run()
}

// Submit enqueues a render request. Non-blocking; returns ErrQueueClosed if
// the executor has been stopped.
func (e *RenderExecutor) Submit(req RenderRequest) error {
	select {
	case <-e.done:
		return ErrQueueClosed
	default:
	}
	e.inbound.Push(req)
	return nil
}

// PopResult waits up to timeout for the next outbound result. Callers
// (ResultRouter) should call it in a loop with a short timeout so shutdown
// stays responsive (spec §5).
func (e *RenderExecutor) PopResult(timeout time.Duration) (RenderResult, bool, bool) {
	return e.outbound.Pop(timeout)
}

// Stop posts the sentinel shutdown to the inbound queue and waits for the
// event loop to exit, up to timeout. It reports whether the loop exited in
// time.
func (e *RenderExecutor) Stop(timeout time.Duration) bool {
	e.inbound.Close()
	select {
	case <-e.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// LastProgress returns when the executor last completed (successfully or
// not) a request — used by an optional watchdog to detect a hung
// rasterizer (spec §5, §7).
func (e *RenderExecutor) LastProgress() time.Time {
	return time.Unix(0, e.lastProgress.Load())
}

func (e *RenderExecutor) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.done)
	defer e.cleanup()

	e.logger.Debug("render executor started")
	for {
		req, ok, closed := e.inbound.Pop(idlePopTimeout)
		if closed {
			e.logger.Debug("render executor received shutdown sentinel")
			return
		}
		if !ok {
			continue
		}
		e.processOneSafely(req)
	}
}

// processOneSafely runs processOne with panic recovery: a malformed PDF
// that crashes deep in the rasterizer must fail this one request, not take
// down the executor loop (spec §7: "RenderExecutor never crashes the
// process on a RasterizeFailure; it emits a failure result").
func (e *RenderExecutor) processOneSafely(req RenderRequest) {
	defer func() {
		e.lastProgress.Store(time.Now().UnixNano())
		if r := recover(); r != nil {
			e.logger.WithField("request_id", req.RequestID).Errorf("render panic recovered: %v", r)
			e.emitFailure(req, fmt.Errorf("%w: panic: %v", ErrRasterizeFailure, r))
		}
	}()
	e.processOne(req)
}

func (e *RenderExecutor) processOne(req RenderRequest) {
	start := time.Now()

	doc, err := e.getDocument(req.PDFPath)
	if err != nil {
		e.emitFailure(req, err)
		return
	}

	page, err := doc.Page(req.PageNumber)
	if err != nil {
		e.emitFailure(req, fmt.Errorf("%w: page %d: %s", ErrPageOutOfRange, req.PageNumber, err))
		return
	}

	view, err := e.getBufferView(req.BufferName)
	if err != nil {
		e.emitFailure(req, err)
		return
	}
	if len(view) < req.Stride*req.PixelH {
		e.emitFailure(req, fmt.Errorf("%w: buffer %s too small for %dx%d stride %d", ErrBufferAttachFailure, req.BufferName, req.PixelW, req.PixelH, req.Stride))
		return
	}

	FillWhite(view)

	transform := Transform{
		A:  req.RenderScale,
		D:  req.RenderScale,
		Tx: float64(req.PixelW)/2.0 - req.RenderScale*req.CenterX,
		Ty: float64(req.PixelH)/2.0 - req.RenderScale*req.CenterY,
	}
	clip := ClipRect{X0: 0, Y0: 0, X1: req.PixelW, Y1: req.PixelH}

	renderStart := time.Now()
	if err := page.Render(context.Background(), transform, clip, view, req.Stride); err != nil {
		e.emitFailure(req, fmt.Errorf("%w: %s", ErrRasterizeFailure, err))
		return
	}
	renderDuration := time.Since(renderStart)

	e.outbound.Push(RenderResult{
		RequestID:      req.RequestID,
		BufferName:     req.BufferName,
		PixelW:         req.PixelW,
		PixelH:         req.PixelH,
		Stride:         req.Stride,
		DPR:            req.DPR,
		CreatedAt:      req.CreatedAt,
		RenderDuration: renderDuration,
		TotalDuration:  time.Since(start),
	})
}

func (e *RenderExecutor) emitFailure(req RenderRequest, err error) {
	e.logger.WithField("request_id", req.RequestID).WithError(err).Warn("render failed")
	e.outbound.Push(RenderResult{
		RequestID: req.RequestID,
		CreatedAt: req.CreatedAt,
		Err:       err,
	})
}

func (e *RenderExecutor) getDocument(path string) (Document, error) {
	if doc, ok := e.docs[path]; ok {
		return doc, nil
	}
	doc, err := e.rasterizer.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecodeFailure, err)
	}
	e.docs[path] = doc
	return doc, nil
}

func (e *RenderExecutor) getBufferView(name string) ([]byte, error) {
	if view, ok := e.buffers[name]; ok {
		return view, nil
	}
	if e.bufferSource == nil {
		return nil, fmt.Errorf("%w: no buffer source configured", ErrBufferAttachFailure)
	}
	view, ok := e.bufferSource.View(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown buffer %q", ErrBufferAttachFailure, name)
	}
	e.buffers[name] = view
	return view, nil
}

func (e *RenderExecutor) cleanup() {
	for path, doc := range e.docs {
		if err := doc.Close(); err != nil {
			e.logger.WithField("path", path).WithError(err).Warn("failed to close document on executor shutdown")
		}
	}
	e.docs = make(map[string]Document)
	e.buffers = make(map[string][]byte)
	e.logger.Debug("render executor stopped")
}
