package pdfviewport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// fakeDocSpec configures one path's behavior for fakeRasterizer.
type fakeDocSpec struct {
	pageSize    PageSize
	pageCount   int
	openErr     error
	pageErr     error // returned by Page(n) for any n, if set
	renderErr   error
	closeErr    error
	renderDelay chan struct{} // if non-nil, Render blocks reading from this until closed/sent
}

// fakeRasterizer is the test double backing DocumentCache/RenderExecutor/
// ViewportController tests: a configurable, in-memory Rasterizer that
// records every Open/Close/Render call instead of touching a native
// engine.
type fakeRasterizer struct {
	mu         sync.Mutex
	specs      map[string]fakeDocSpec
	opens      []string
	closes     []string
	renders    int32
	lastCenter struct{ x, y float64 }
	lastXform  Transform
}

func newFakeRasterizer() *fakeRasterizer {
	return &fakeRasterizer{specs: make(map[string]fakeDocSpec)}
}

func (f *fakeRasterizer) withSpec(path string, spec fakeDocSpec) *fakeRasterizer {
	if spec.pageCount == 0 {
		spec.pageCount = 1
	}
	if spec.pageSize == (PageSize{}) {
		spec.pageSize = PageSize{Width: 100, Height: 100}
	}
	f.mu.Lock()
	f.specs[path] = spec
	f.mu.Unlock()
	return f
}

func (f *fakeRasterizer) Open(path string) (Document, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}
	f.mu.Lock()
	spec, ok := f.specs[path]
	if !ok {
		spec = fakeDocSpec{pageSize: PageSize{Width: 100, Height: 100}, pageCount: 1}
	}
	f.opens = append(f.opens, path)
	f.mu.Unlock()

	if spec.openErr != nil {
		return nil, spec.openErr
	}
	return &fakeDocument{raster: f, path: path, spec: spec}, nil
}

func (f *fakeRasterizer) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opens)
}

func (f *fakeRasterizer) closedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.closes))
	copy(out, f.closes)
	return out
}

func (f *fakeRasterizer) renderCount() int32 {
	return atomic.LoadInt32(&f.renders)
}

type fakeDocument struct {
	raster *fakeRasterizer
	path   string
	spec   fakeDocSpec
	closed bool
}

func (d *fakeDocument) PageCount() int { return d.spec.pageCount }

func (d *fakeDocument) Page(n int) (Page, error) {
	if d.spec.pageErr != nil {
		return nil, d.spec.pageErr
	}
	if n < 0 || n >= d.spec.pageCount {
		return nil, ErrPageOutOfRange
	}
	return &fakePage{doc: d}, nil
}

func (d *fakeDocument) Close() error {
	d.closed = true
	d.raster.mu.Lock()
	d.raster.closes = append(d.raster.closes, d.path)
	d.raster.mu.Unlock()
	return d.spec.closeErr
}

type fakePage struct {
	doc *fakeDocument
}

func (p *fakePage) Size() PageSize { return p.doc.spec.pageSize }

func (p *fakePage) Render(ctx context.Context, transform Transform, clip ClipRect, dst []byte, stride int) error {
	atomic.AddInt32(&p.doc.raster.renders, 1)
	p.doc.raster.mu.Lock()
	p.doc.raster.lastXform = transform
	p.doc.raster.mu.Unlock()

	if p.doc.spec.renderDelay != nil {
		<-p.doc.spec.renderDelay
	}
	if p.doc.spec.renderErr != nil {
		return p.doc.spec.renderErr
	}
	if len(dst) < stride {
		return fmt.Errorf("dst too small")
	}
	// Paint a single recognizable pixel so ResultRouter/Image wiring tests
	// can tell a render actually touched the buffer, without asserting on
	// exact pixel content anywhere else.
	if len(dst) >= 4 {
		dst[0] = 0x11
	}
	return nil
}
