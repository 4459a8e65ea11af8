package cache

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLRU(t *testing.T) *LRUCache {
	t.Helper()

	c, err := NewLRU(t.TempDir(), 1<<20, 100)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLRUSaveAndGetRoundTrip(t *testing.T) {
	t.Parallel()

	c := newLRU(t)
	payload := []byte("image bytes, allegedly")

	saved, err := c.Save("https://example.com/cat.png", bytes.NewReader(payload), nil)
	require.NoError(t, err)
	require.True(t, saved)

	path, err := c.Get("https://example.com/cat.png")
	require.NoError(t, err)
	require.NotEmpty(t, path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestLRUGetMiss(t *testing.T) {
	t.Parallel()

	c := newLRU(t)
	path, err := c.Get("https://example.com/absent.png")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestLRUSaveCancelledByProgress(t *testing.T) {
	t.Parallel()

	c := newLRU(t)
	payload := strings.Repeat("x", 256*1024)

	saved, err := c.Save("https://example.com/big.png", strings.NewReader(payload),
		func(current, total int64) bool { return current == 0 })
	require.NoError(t, err)
	assert.False(t, saved)

	path, err := c.Get("https://example.com/big.png")
	require.NoError(t, err)
	assert.Empty(t, path, "cancelled save must not publish a value")
}

func TestLRUSaveProgressReported(t *testing.T) {
	t.Parallel()

	c := newLRU(t)
	payload := strings.Repeat("x", 100_000)

	var calls int
	var last int64
	saved, err := c.Save("https://example.com/progress.png", strings.NewReader(payload),
		func(current, total int64) bool {
			calls++
			last = current
			return true
		})
	require.NoError(t, err)
	require.True(t, saved)
	assert.Greater(t, calls, 1)
	assert.Equal(t, int64(len(payload)), last)
}

func TestLRUSaveImagePNG(t *testing.T) {
	t.Parallel()

	c := newLRU(t)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	saved, err := c.SaveImage("https://example.com/dot.png", img)
	require.NoError(t, err)
	require.True(t, saved)

	path, err := c.Get("https://example.com/dot.png")
	require.NoError(t, err)
	require.NotEmpty(t, path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 4), decoded.Bounds())
}

func TestLRURemove(t *testing.T) {
	t.Parallel()

	c := newLRU(t)
	saved, err := c.Save("u", strings.NewReader("v"), nil)
	require.NoError(t, err)
	require.True(t, saved)

	assert.True(t, c.Remove("u"))
	assert.False(t, c.Remove("u"))

	path, err := c.Get("u")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestLRUClear(t *testing.T) {
	t.Parallel()

	c := newLRU(t)
	for _, uri := range []string{"a", "b", "c"} {
		saved, err := c.Save(uri, strings.NewReader("value of "+uri), nil)
		require.NoError(t, err)
		require.True(t, saved)
	}

	require.NoError(t, c.Clear())

	for _, uri := range []string{"a", "b", "c"} {
		path, err := c.Get(uri)
		require.NoError(t, err)
		assert.Empty(t, path)
	}

	// The cleared cache accepts new values.
	saved, err := c.Save("d", strings.NewReader("fresh"), nil)
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestLRURejectsNegativeBounds(t *testing.T) {
	t.Parallel()

	_, err := NewLRU(t.TempDir(), -1, 10)
	require.Error(t, err)
	_, err = NewLRU(t.TempDir(), 10, -1)
	require.Error(t, err)
}

func TestLRUZeroBoundsMeanUnbounded(t *testing.T) {
	t.Parallel()

	c, err := NewLRU(t.TempDir(), 0, 0)
	require.NoError(t, err)
	defer c.Close()

	saved, err := c.Save("u", strings.NewReader("v"), nil)
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestLRUReserveDirectoryFallback(t *testing.T) {
	t.Parallel()

	primary := t.TempDir()
	reserve := t.TempDir()

	// Hold the primary directory so the fallback kicks in.
	holder, err := NewLRU(primary, 0, 0)
	require.NoError(t, err)
	defer holder.Close()

	c, err := NewLRU(primary, 0, 0, WithReserveDir(reserve))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, reserve, c.Directory())
}
