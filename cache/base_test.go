package cache

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseSaveAndGet(t *testing.T) {
	t.Parallel()

	c, err := NewBase(t.TempDir())
	require.NoError(t, err)

	saved, err := c.Save("uri", strings.NewReader("payload"), nil)
	require.NoError(t, err)
	require.True(t, saved)

	path, err := c.Get("uri")
	require.NoError(t, err)
	require.NotEmpty(t, path)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestBaseSaveCancelled(t *testing.T) {
	t.Parallel()

	c, err := NewBase(t.TempDir())
	require.NoError(t, err)

	saved, err := c.Save("uri", strings.NewReader("payload"),
		func(current, total int64) bool { return false })
	require.NoError(t, err)
	assert.False(t, saved)

	path, err := c.Get("uri")
	require.NoError(t, err)
	assert.Empty(t, path, "cancelled save must not publish a file")
}

func TestBaseRemoveAndClear(t *testing.T) {
	t.Parallel()

	c, err := NewBase(t.TempDir())
	require.NoError(t, err)

	for _, uri := range []string{"a", "b"} {
		saved, err := c.Save(uri, strings.NewReader(uri), nil)
		require.NoError(t, err)
		require.True(t, saved)
	}

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))

	require.NoError(t, c.Clear())
	path, err := c.Get("b")
	require.NoError(t, err)
	assert.Empty(t, path)
}
