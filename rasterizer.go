// Package pdfviewport is the rendering core of an interactive PDF viewer:
// given a document, a current page, and a viewport (size, center in page
// units, zoom), it produces rasterized frames at interactive latency while
// the user pans and zooms.
//
// The heavy lifting — isolating the rasterizer on its own executor,
// zero-copy frame exchange through named shared buffers, and a
// generation-based scheduling discipline that discards stale output — lives
// in RenderExecutor, ResultRouter and ViewportController. DocumentCache holds
// the controller's open document handles; TileCache backs the alternative
// tiled-cache variant driven by TileScheduler.
package pdfviewport

import (
	"context"
	"errors"
	"math"
)

// PixelFormat identifies the in-memory layout of a rendered frame. The
// pipeline always renders BGRA, little-endian byte order (B,G,R,A), which is
// what an ARGB32-native image wraps on a little-endian host.
type PixelFormat int

const (
	// FormatBGRA8888 is 4 bytes per pixel, byte order B,G,R,A.
	FormatBGRA8888 PixelFormat = iota
)

// Transform is the affine page-to-pixel matrix [a 0 0 d tx ty] used by
// Page.Render (spec §4.A): a = d = render scale, (tx, ty) place the
// request's center point (in page units) at the viewport center.
type Transform struct {
	A, D   float64
	Tx, Ty float64
}

// ClipRect bounds the region of the destination buffer a render call may
// touch, in destination pixels.
type ClipRect struct {
	X0, Y0, X1, Y1 int
}

// PageSize is a page's dimensions in page units (typically PDF points).
type PageSize struct {
	Width, Height float64
}

// Page is a single loaded page of a Document, bound to the Rasterizer
// instance that loaded it. It must not be used concurrently with any other
// call into the same Rasterizer (spec §4.A: "must be serialized per
// instance").
type Page interface {
	// Size returns the page's untransformed dimensions in page units.
	Size() PageSize
	// Render rasterizes the page into dst under transform, within clip.
	// dst must already be filled with opaque white by the caller (see
	// FillWhite) and be at least stride*clip.Y1 bytes, laid out as
	// FormatBGRA8888.
	Render(ctx context.Context, transform Transform, clip ClipRect, dst []byte, stride int) error
}

// Document is an opened PDF document bound to the Rasterizer instance that
// opened it.
type Document interface {
	// PageCount returns the number of pages in the document.
	PageCount() int
	// Page loads the given 0-indexed page. Returns ErrPageOutOfRange if n is
	// not a valid page number.
	Page(n int) (Page, error)
	// Close releases any resources held by the document.
	Close() error
}

// Rasterizer is the capability boundary onto the native rasterization
// library (spec §1, §4.A): opaque, non-reentrant, and assumed to crash or
// hang the calling goroutine on malformed input — callers isolate it on a
// dedicated executor (RenderExecutor) rather than calling it from the UI
// context. A concrete implementation wraps whatever PDF engine is linked in
// (MuPDF, pdfium, ...); this package depends only on the interface.
type Rasterizer interface {
	// Open opens the document at path. Returns ErrInvalidPath for an empty
	// path, or a wrapped ErrDecodeFailure if the document cannot be parsed.
	Open(path string) (Document, error)
}

// ErrNilRasterizer is returned by constructors that require a non-nil
// Rasterizer capability.
var ErrNilRasterizer = errors.New("pdfviewport: rasterizer capability is nil")

// FillWhite fills dst with opaque white BGRA pixels (B=G=R=A=0xff), the
// clear step spec §4.A requires before every render.
func FillWhite(dst []byte) {
	for i := range dst {
		dst[i] = 0xff
	}
}

// nullRasterizer is a dependency-free stand-in for the native PDF engine
// spec §1 treats as an opaque, out-of-scope collaborator. Every page is a
// flat page-size rectangle; Render draws a border along its edges so a caller
// can tell the transform was applied without needing real page content.
// Used by cmd/viewportctl as a placeholder until a real engine (MuPDF,
// pdfium, ...) is linked in behind the Rasterizer interface, and by this
// package's own tests.
type nullRasterizer struct {
	pageSize  PageSize
	pageCount int
}

// NewNullRasterizer returns a Rasterizer whose documents all have
// pageCount pages of size pageSize. pageCount <= 0 defaults to 1.
func NewNullRasterizer(pageSize PageSize, pageCount int) Rasterizer {
	if pageCount <= 0 {
		pageCount = 1
	}
	return &nullRasterizer{pageSize: pageSize, pageCount: pageCount}
}

func (r *nullRasterizer) Open(path string) (Document, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}
	return &nullDocument{path: path, pageSize: r.pageSize, pageCount: r.pageCount}, nil
}

type nullDocument struct {
	path      string
	pageSize  PageSize
	pageCount int
	closed    bool
}

func (d *nullDocument) PageCount() int { return d.pageCount }

func (d *nullDocument) Page(n int) (Page, error) {
	if n < 0 || n >= d.pageCount {
		return nil, ErrPageOutOfRange
	}
	return &nullPage{size: d.pageSize}, nil
}

func (d *nullDocument) Close() error {
	d.closed = true
	return nil
}

type nullPage struct {
	size PageSize
}

func (p *nullPage) Size() PageSize { return p.size }

// Render paints dark gray every pixel within 2px (on either side) of an edge
// of the transformed page bounds, leaving the FillWhite fill untouched
// elsewhere.
func (p *nullPage) Render(ctx context.Context, transform Transform, clip ClipRect, dst []byte, stride int) error {
	x0 := transform.Tx
	y0 := transform.Ty
	x1 := x0 + transform.A*p.size.Width
	y1 := y0 + transform.D*p.size.Height

	border := 2
	for y := clip.Y0; y < clip.Y1; y++ {
		if y*stride+clip.X1*BytesPerPixel > len(dst) {
			break
		}
		for x := clip.X0; x < clip.X1; x++ {
			if !nearBorder(float64(x), float64(y), x0, y0, x1, y1, border) {
				continue
			}
			off := y*stride + x*BytesPerPixel
			if off+4 > len(dst) {
				continue
			}
			dst[off+0], dst[off+1], dst[off+2], dst[off+3] = 0x40, 0x40, 0x40, 0xff
		}
	}
	return nil
}

func nearBorder(x, y, x0, y0, x1, y1 float64, border int) bool {
	if x < x0-float64(border) || x > x1+float64(border) || y < y0-float64(border) || y > y1+float64(border) {
		return false
	}
	onVerticalEdge := (math.Abs(x-x0) <= float64(border) || math.Abs(x-x1) <= float64(border)) && y >= y0 && y <= y1
	onHorizontalEdge := (math.Abs(y-y0) <= float64(border) || math.Abs(y-y1) <= float64(border)) && x >= x0 && x <= x1
	return onVerticalEdge || onHorizontalEdge
}
