package pdfviewport

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// FrameBufferCount is the number of named shared buffers FrameBufferPool
// keeps (spec §4.D: N=2, enough to hide one frame of latency under the
// controller's single-in-flight discipline).
const FrameBufferCount = 2

// BytesPerPixel is the per-pixel footprint of FormatBGRA8888.
const BytesPerPixel = 4

// sharedBuffer is a named block of memory intended to be mapped by more
// than one process under the same name. The concrete backing (a /dev/shm
// file mapped with mmap on Linux, a plain slice elsewhere — see
// frame_buffer_pool_linux.go /
// frame_buffer_pool_other.go) is an implementation detail of newSharedBuffer.
type sharedBuffer struct {
	name  string
	bytes []byte
	close func() error
}

// Close releases the OS resources backing the buffer and unlinks its name.
func (b *sharedBuffer) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// FrameBufferPool owns FrameBufferCount named shared buffers sized to the
// current viewport and hands them out round-robin (spec §4.D, §6). Buffers
// are recreated wholesale (old ones closed+unlinked, then new ones created)
// whenever the pixel geometry changes; Resize is idempotent for unchanged
// dimensions. The pool is owned by the UI context; the executor only ever
// attaches buffers it is handed by name in a RenderRequest.
type FrameBufferPool struct {
	mu      sync.Mutex
	pid     int
	buffers []*sharedBuffer
	pixelW  int
	pixelH  int
	stride  int
	next    int
	logger  *slog.Logger
}

// NewFrameBufferPool returns an empty pool; call Resize before Acquire.
func NewFrameBufferPool(logger *slog.Logger) *FrameBufferPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameBufferPool{pid: os.Getpid(), logger: logger}
}

// Resize ensures the pool holds FrameBufferCount buffers sized for a
// pixelW x pixelH BGRA frame. It is a no-op if the pool already has buffers
// of that exact size (spec §4.D: "idempotent for same dimensions"). On a
// real size change, every existing buffer is closed and unlinked before any
// new buffer is created, so two live buffers never momentarily share a name.
func (p *FrameBufferPool) Resize(pixelW, pixelH int) error {
	if pixelW <= 0 || pixelH <= 0 {
		return fmt.Errorf("pdfviewport: invalid buffer geometry %dx%d", pixelW, pixelH)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pixelW == pixelW && p.pixelH == pixelH && len(p.buffers) == FrameBufferCount {
		return nil
	}

	p.closeAllLocked()

	stride := pixelW * BytesPerPixel
	size := stride * pixelH

	buffers := make([]*sharedBuffer, 0, FrameBufferCount)
	for idx := 0; idx < FrameBufferCount; idx++ {
		name := fmt.Sprintf("pdf_viewport_full_%d_%d_%dx%d", p.pid, idx, pixelW, pixelH)
		buf, err := newSharedBuffer(name, size)
		if err != nil {
			// Unwind anything we already created this call before returning.
			for _, b := range buffers {
				_ = b.Close()
			}
			return fmt.Errorf("%w: %s: %s", ErrBufferAttachFailure, name, err)
		}
		buffers = append(buffers, buf)
		p.logger.Debug("frame buffer pool created buffer", "name", name, "size", size)
	}

	p.buffers = buffers
	p.pixelW = pixelW
	p.pixelH = pixelH
	p.stride = stride
	p.next = 0
	return nil
}

// Acquire returns the name and byte view of the next buffer in round-robin
// order. Returns false if the pool has no buffers yet (Resize not called,
// or it failed).
func (p *FrameBufferPool) Acquire() (name string, view []byte, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buffers) == 0 {
		return "", nil, false
	}
	buf := p.buffers[p.next]
	p.next = (p.next + 1) % len(p.buffers)
	return buf.name, buf.bytes, true
}

// View returns the byte slice backing the named buffer, if it is one of
// this pool's current buffers.
func (p *FrameBufferPool) View(name string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, buf := range p.buffers {
		if buf.name == name {
			return buf.bytes, true
		}
	}
	return nil, false
}

// Stride returns the current row stride in bytes (pixelW * BytesPerPixel).
func (p *FrameBufferPool) Stride() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stride
}

// Dimensions returns the pool's current pixel geometry.
func (p *FrameBufferPool) Dimensions() (pixelW, pixelH int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pixelW, p.pixelH
}

// Shutdown closes and unlinks every buffer. The pool may be Resize'd again
// afterward.
func (p *FrameBufferPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeAllLocked()
	p.pixelW, p.pixelH, p.stride = 0, 0, 0
}

func (p *FrameBufferPool) closeAllLocked() {
	for _, buf := range p.buffers {
		if err := buf.Close(); err != nil {
			p.logger.Warn("frame buffer pool close failed", "name", buf.name, "error", err)
		}
	}
	p.buffers = nil
}
