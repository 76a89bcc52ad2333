package pdfviewport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func imageOfBytes(n int) Image {
	return Image{Width: 1, Height: 1, Stride: n, Pixels: make([]byte, n)}
}

func TestTileCache_PutRejectsEmptyImage(t *testing.T) {
	t.Parallel()

	cache := NewTileCache(1024, nil)
	require.False(t, cache.Put("k", Image{}))
	require.Equal(t, 0, cache.Len())
}

func TestTileCache_GetMissAndHitTouchesLRU(t *testing.T) {
	t.Parallel()

	cache := NewTileCache(1024, nil)
	_, ok := cache.Get("missing")
	require.False(t, ok)

	require.True(t, cache.Put("k", imageOfBytes(10)))
	img, ok := cache.Get("k")
	require.True(t, ok)
	require.Equal(t, 10, img.Bytes())
}

// TestTileCache_EvictionOrder is spec §8 scenario S4: TileCache(max_bytes=10
// MiB); insert A(4), B(4), C(4) MiB; after C: A evicted, bytes=8.
func TestTileCache_EvictionOrder(t *testing.T) {
	t.Parallel()

	const mib = 1024 * 1024
	cache := NewTileCache(10*mib, nil)

	require.True(t, cache.Put("A", imageOfBytes(4*mib)))
	require.True(t, cache.Put("B", imageOfBytes(4*mib)))
	require.True(t, cache.Put("C", imageOfBytes(4*mib)))

	require.Equal(t, 8*mib, cache.CurrentBytes())
	require.Equal(t, 2, cache.Len())

	_, ok := cache.Get("A")
	require.False(t, ok, "A should have been evicted")
	_, ok = cache.Get("B")
	require.True(t, ok)
	_, ok = cache.Get("C")
	require.True(t, ok)
}

func TestTileCache_ReplaceInPlaceSubtractsOldBytesFirst(t *testing.T) {
	t.Parallel()

	cache := NewTileCache(100, nil)
	require.True(t, cache.Put("k", imageOfBytes(60)))
	require.True(t, cache.Put("k", imageOfBytes(80)))

	require.Equal(t, 80, cache.CurrentBytes())
	require.Equal(t, 1, cache.Len())
}

func TestTileCache_BudgetInvariantHoldsAfterEveryPut(t *testing.T) {
	t.Parallel()

	cache := NewTileCache(50, nil)
	for i := 0; i < 20; i++ {
		ok := cache.Put(string(rune('a'+i)), imageOfBytes(7))
		if ok {
			require.LessOrEqual(t, cache.CurrentBytes(), 50)
		}
	}
}
