package pdfviewport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeResultSource feeds a fixed sequence of results to ResultRouter, one
// per PopResult call, then reports closed.
type fakeResultSource struct {
	mu      sync.Mutex
	results []RenderResult
}

func (s *fakeResultSource) PopResult(timeout time.Duration) (RenderResult, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return RenderResult{}, false, true
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r, true, false
}

// fakeAcceptor accepts only generations in the accepted set.
type fakeAcceptor struct {
	mu       sync.Mutex
	accepted map[uint64]bool
}

func (a *fakeAcceptor) Accept(generation uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.accepted[generation]
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestResultRouter_DropsFailedResult(t *testing.T) {
	t.Parallel()

	source := &fakeResultSource{results: []RenderResult{{RequestID: 1, Err: errors.New("bad")}}}
	pool := NewFrameBufferPool(nil)
	require.NoError(t, pool.Resize(2, 2))
	frameCache := NewFrameCache()
	acceptor := &fakeAcceptor{accepted: map[uint64]bool{1: true}}

	var ready []uint64
	var mu sync.Mutex
	router := NewResultRouter(source, pool, frameCache, acceptor, func(g uint64) {
		mu.Lock()
		ready = append(ready, g)
		mu.Unlock()
	}, nil)
	router.Start()
	defer router.Stop(time.Second)

	time.Sleep(20 * time.Millisecond)
	_, ok := frameCache.Get()
	require.False(t, ok)
	mu.Lock()
	require.Empty(t, ready)
	mu.Unlock()
}

// TestResultRouter_DropsStaleResult is spec §8 scenario S5: g1 arrives
// after g2 has already been accepted; g1 must be dropped.
func TestResultRouter_DropsStaleResult(t *testing.T) {
	t.Parallel()

	pool := NewFrameBufferPool(nil)
	require.NoError(t, pool.Resize(2, 2))
	name, _, ok := pool.Acquire()
	require.True(t, ok)

	source := &fakeResultSource{results: []RenderResult{
		{RequestID: 1, BufferName: name, PixelW: 2, PixelH: 2, Stride: 2 * BytesPerPixel},
	}}
	frameCache := NewFrameCache()
	// Only generation 2 is the latest outstanding; generation 1 is stale.
	acceptor := &fakeAcceptor{accepted: map[uint64]bool{2: true}}

	router := NewResultRouter(source, pool, frameCache, acceptor, nil, nil)
	router.Start()
	defer router.Stop(time.Second)

	time.Sleep(20 * time.Millisecond)
	_, ok = frameCache.Get()
	require.False(t, ok, "a stale result must never reach FrameCache")
}

func TestResultRouter_PublishesAcceptedResultAndFiresFrameReady(t *testing.T) {
	t.Parallel()

	pool := NewFrameBufferPool(nil)
	require.NoError(t, pool.Resize(2, 2))
	name, view, ok := pool.Acquire()
	require.True(t, ok)
	view[0] = 0x7f

	source := &fakeResultSource{results: []RenderResult{
		{RequestID: 7, BufferName: name, PixelW: 2, PixelH: 2, Stride: 2 * BytesPerPixel, DPR: 2},
	}}
	frameCache := NewFrameCache()
	acceptor := &fakeAcceptor{accepted: map[uint64]bool{7: true}}

	var gotGen uint64
	var mu sync.Mutex
	router := NewResultRouter(source, pool, frameCache, acceptor, func(g uint64) {
		mu.Lock()
		gotGen = g
		mu.Unlock()
	}, nil)
	router.Start()
	defer router.Stop(time.Second)

	waitForCondition(t, time.Second, func() bool {
		_, ok := frameCache.Get()
		return ok
	})

	img, ok := frameCache.Get()
	require.True(t, ok)
	require.Equal(t, 2, img.Width)
	require.Equal(t, 2.0, img.DPR)
	require.Equal(t, byte(0x7f), img.Pixels[0], "published image must carry the rendered pixels")

	view[1] = 0x42
	require.Equal(t, byte(0x42), img.Pixels[1], "router must borrow the buffer, not copy it")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, uint64(7), gotGen)
}
