package pdfviewport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBucketZoom is spec §8 scenario S3.
func TestBucketZoom(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 1.0, BucketZoom(1.0), 1e-9)
	require.InDelta(t, 1.0, BucketZoom(1.05), 1e-9)
	require.InDelta(t, 1.125, BucketZoom(1.07), 1e-9)
	require.InDelta(t, 1.125, BucketZoom(1.125), 1e-9)
}

// TestBucketZoomIdempotent is spec §8 testable property 5.
func TestBucketZoomIdempotent(t *testing.T) {
	t.Parallel()

	for _, z := range []float64{0.1, 0.5, 1.0, 1.3, 2.7, 8.0, 33.3} {
		b := BucketZoom(z)
		require.InDelta(t, b, BucketZoom(b), 1e-9, "zoom=%v", z)
	}
}

func TestTileFingerprint_IsStableAndDistinguishing(t *testing.T) {
	t.Parallel()

	fp1 := TileFingerprint("a.pdf", 0, 1.125, 1, 2)
	fp2 := TileFingerprint("a.pdf", 0, 1.125, 1, 2)
	require.Equal(t, fp1, fp2)

	fp3 := TileFingerprint("a.pdf", 0, 1.125, 1, 3)
	require.NotEqual(t, fp1, fp3)

	fp4 := TileFingerprint("b.pdf", 0, 1.125, 1, 2)
	require.NotEqual(t, fp1, fp4)
}

// TestTileScheduler_CenterFirstPriority is spec §8 scenario S6: viewport
// covers tile rows 0..3, cols 0..3 (midpoint (1.5,1.5)); tile (1,2) has
// priority 1.0 and must dequeue before tile (0,0) at priority 3.0.
func TestTileScheduler_CenterFirstPriority(t *testing.T) {
	t.Parallel()

	cache := NewTileCache(0, nil)
	sched := NewTileScheduler(cache, nil, nil)

	// zoom=1 (bucket=1) => tileUnits = 256; pick a viewport/page so the
	// visible range spans exactly 4x4 tiles (rows/cols 0..3).
	pageW, pageH := 4*256.0, 4*256.0
	sched.Schedule("p.pdf", 0, pageW, pageH, 0, 0, 4*256, 4*256, 1.0)

	var order []struct{ row, col int }
	for {
		req, ok := sched.Dequeue()
		if !ok {
			break
		}
		order = append(order, struct{ row, col int }{req.Row, req.Col})
	}

	indexOf := func(row, col int) int {
		for i, rc := range order {
			if rc.row == row && rc.col == col {
				return i
			}
		}
		t.Fatalf("tile (%d,%d) never enqueued", row, col)
		return -1
	}

	require.Less(t, indexOf(1, 2), indexOf(0, 0))
}

func TestTileScheduler_CacheHitFiresTileReadyWithoutQueueing(t *testing.T) {
	t.Parallel()

	cache := NewTileCache(0, nil)
	fp := TileFingerprint("p.pdf", 0, 1.0, 0, 0)
	cache.Put(fp, imageOfBytes(16))

	var ready []string
	sched := NewTileScheduler(cache, func(fingerprint string, row, col int, bucketZoom float64) {
		ready = append(ready, fingerprint)
	}, nil)

	enqueued := sched.Schedule("p.pdf", 0, 256, 256, 0, 0, 256, 256, 1.0)
	require.Equal(t, 0, enqueued)
	require.Contains(t, ready, fp)
	require.Equal(t, 0, sched.Len())
}

// TestTileScheduler_StaleGenerationDropped is spec §4.H step 6: a second
// Schedule bumps the generation, so requests from the first call are
// silently dropped at Dequeue.
func TestTileScheduler_StaleGenerationDropped(t *testing.T) {
	t.Parallel()

	cache := NewTileCache(0, nil)
	sched := NewTileScheduler(cache, nil, nil)

	sched.Schedule("p.pdf", 0, 256, 256, 0, 0, 256, 256, 1.0)
	firstGen := sched.Generation()

	sched.Schedule("p.pdf", 1, 256, 256, 0, 0, 256, 256, 1.0)

	for {
		req, ok := sched.Dequeue()
		if !ok {
			break
		}
		require.NotEqual(t, firstGen, req.Generation, "a request from the superseded generation must never be returned")
	}
}

func TestTileScheduler_DegenerateRectSkipped(t *testing.T) {
	t.Parallel()

	cache := NewTileCache(0, nil)
	sched := NewTileScheduler(cache, nil, nil)

	// A page smaller than one tile at col/row 1+ produces degenerate rects
	// for every tile beyond (0,0); only (0,0) should be enqueued.
	enqueued := sched.Schedule("p.pdf", 0, 10, 10, 0, 0, 512, 512, 1.0)
	require.Equal(t, 1, enqueued)
}

func TestTileScheduler_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	sched := NewTileScheduler(NewTileCache(0, nil), nil, nil)
	require.Equal(t, 0, sched.Schedule("p.pdf", 0, 100, 100, 0, 0, 100, 100, 0))
	require.Equal(t, 0, sched.Schedule("p.pdf", 0, 100, 100, 0, 0, 0, 100, 1))
}
