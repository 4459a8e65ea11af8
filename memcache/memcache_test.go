package memcache

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// img returns a test image of w×h pixels (4 bytes each for accounting).
func img(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func TestKeyRoundTrip(t *testing.T) {
	t.Parallel()

	key := Key("https://example.com/cat.png", 640, 480)
	assert.Equal(t, "https://example.com/cat.png_640x480", key)
	assert.Equal(t, "https://example.com/cat.png", URIOf(key))
	assert.True(t, SameURI(key, Key("https://example.com/cat.png", 100, 100)))
	assert.False(t, SameURI(key, Key("https://example.com/dog.png", 640, 480)))
}

func TestLRUPutGet(t *testing.T) {
	t.Parallel()

	c := NewLRU(1 << 20)
	picture := img(10, 10)
	require.True(t, c.Put("k", picture))
	assert.Equal(t, picture, c.Get("k"))
	assert.Nil(t, c.Get("absent"))
	assert.Equal(t, int64(400), c.Size())
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	// Room for two 10×10 images (400 bytes each).
	c := NewLRU(800)
	require.True(t, c.Put("a", img(10, 10)))
	require.True(t, c.Put("b", img(10, 10)))
	require.NotNil(t, c.Get("a")) // refresh a
	require.True(t, c.Put("c", img(10, 10)))

	assert.Nil(t, c.Get("b"), "least recently used entry should be evicted")
	assert.NotNil(t, c.Get("a"))
	assert.NotNil(t, c.Get("c"))
}

func TestLRURejectsOversizedImage(t *testing.T) {
	t.Parallel()

	c := NewLRU(100)
	assert.False(t, c.Put("huge", img(100, 100)))
	assert.Nil(t, c.Get("huge"))
}

func TestLRURemoveAndClear(t *testing.T) {
	t.Parallel()

	c := NewLRU(1 << 20)
	require.True(t, c.Put("k", img(2, 2)))
	assert.NotNil(t, c.Remove("k"))
	assert.Nil(t, c.Remove("k"))
	assert.Equal(t, int64(0), c.Size())

	require.True(t, c.Put("x", img(2, 2)))
	c.Clear()
	assert.Nil(t, c.Get("x"))
	assert.Empty(t, c.Keys())
}

func TestFIFOEvictsInInsertionOrder(t *testing.T) {
	t.Parallel()

	c := NewFIFO(800)
	require.True(t, c.Put("a", img(10, 10)))
	require.True(t, c.Put("b", img(10, 10)))
	require.NotNil(t, c.Get("a")) // reads do not refresh
	require.True(t, c.Put("c", img(10, 10)))

	assert.Nil(t, c.Get("a"), "oldest entry should be evicted regardless of reads")
	assert.NotNil(t, c.Get("b"))
	assert.NotNil(t, c.Get("c"))
}

func TestFuzzyDropsOtherSizesOfSameURI(t *testing.T) {
	t.Parallel()

	c := NewFuzzy(NewLRU(1<<20), nil)
	small := Key("https://example.com/cat.png", 100, 100)
	large := Key("https://example.com/cat.png", 640, 480)
	other := Key("https://example.com/dog.png", 100, 100)

	require.True(t, c.Put(small, img(1, 1)))
	require.True(t, c.Put(other, img(1, 1)))
	require.True(t, c.Put(large, img(2, 2)))

	want := []string{other, large}
	if diff := cmp.Diff(want, c.Keys()); diff != "" {
		t.Fatalf("Keys() mismatch (-want +got):\n%s", diff)
	}

	assert.Nil(t, c.Get(small), "same-URI entry should be invalidated")
	assert.NotNil(t, c.Get(large))
	assert.NotNil(t, c.Get(other))
}
