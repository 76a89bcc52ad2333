package pdfviewport

import (
	"context"
	"log/slog"
	"time"

	ddTracer "gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

// resultPopTimeout bounds how long ResultRouter blocks waiting for the next
// result before checking for shutdown (spec §5: "Result reads block with a
// short timeout (≤100 ms)").
const resultPopTimeout = 100 * time.Millisecond

// ResultSource is anything a ResultRouter can drain results from; satisfied
// by *RenderExecutor.
type ResultSource interface {
	PopResult(timeout time.Duration) (result RenderResult, ok bool, closed bool)
}

// GenerationAcceptor decides whether a result for the given generation
// should still be applied, i.e. whether it is the latest outstanding
// generation (spec §4.F, §4.G "accept"). Satisfied by *ViewportController.
type GenerationAcceptor interface {
	Accept(generation uint64) bool
}

// ResultRouter drains a ResultSource, drops failed or stale results, and
// publishes accepted ones to a FrameCache (spec §4.F, §8.8). It never
// copies pixel data: the published Image borrows the shared buffer view
// handed out by bufferSource, which stays valid under the pool's
// round-robin + single-in-flight invariants (spec §5).
type ResultRouter struct {
	source       ResultSource
	bufferSource BufferSource
	frameCache   *FrameCache
	acceptor     GenerationAcceptor
	onFrameReady func(generation uint64)
	logger       *slog.Logger
	done         chan struct{}
	stopped      chan struct{}
}

// NewResultRouter wires a router. onFrameReady is called (synchronously,
// from the router's own goroutine) for every generation that is accepted
// and successfully published.
func NewResultRouter(source ResultSource, bufferSource BufferSource, frameCache *FrameCache, acceptor GenerationAcceptor, onFrameReady func(generation uint64), logger *slog.Logger) *ResultRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultRouter{
		source:       source,
		bufferSource: bufferSource,
		frameCache:   frameCache,
		acceptor:     acceptor,
		onFrameReady: onFrameReady,
		logger:       logger,
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Start launches the router's drain loop.
func (r *ResultRouter) Start() {
	go r.run()
}

// Stop signals the drain loop to exit and waits up to timeout for it to
// actually do so.
func (r *ResultRouter) Stop(timeout time.Duration) bool {
	close(r.done)
	select {
	case <-r.stopped:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (r *ResultRouter) run() {
	defer close(r.stopped)
	for {
		select {
		case <-r.done:
			return
		default:
		}

		result, ok, closed := r.source.PopResult(resultPopTimeout)
		if closed {
			return
		}
		if !ok {
			continue
		}
		r.route(result)
	}
}

func (r *ResultRouter) route(result RenderResult) {
	span, _ := ddTracer.StartSpanFromContext(context.Background(), "ResultRouter.route")
	defer span.Finish()
	span.SetTag("request_id", result.RequestID)

	if !result.Succeeded() {
		r.logger.Debug("result router dropping failed result", "request_id", result.RequestID, "error", result.Err)
		return
	}

	if !r.acceptor.Accept(result.RequestID) {
		r.logger.Debug("result router dropping stale result", "request_id", result.RequestID)
		span.SetTag("dropped_stale", true)
		return
	}

	view, ok := r.bufferSource.View(result.BufferName)
	if !ok {
		r.logger.Warn("result router missing buffer view", "buffer_name", result.BufferName)
		return
	}

	needed := result.Stride * result.PixelH
	if len(view) < needed {
		r.logger.Warn("result router buffer too small", "buffer_name", result.BufferName, "have", len(view), "need", needed)
		return
	}

	img := Image{
		Width:  result.PixelW,
		Height: result.PixelH,
		Stride: result.Stride,
		Format: FormatBGRA8888,
		DPR:    result.DPR,
		Pixels: view[:needed],
	}

	if !r.frameCache.Set(result.RequestID, img) {
		r.logger.Debug("result router frame cache rejected result", "request_id", result.RequestID)
		return
	}

	if r.onFrameReady != nil {
		r.onFrameReady(result.RequestID)
	}
}
