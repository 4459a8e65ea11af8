package cache

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

var errSaveCancelled = errors.New("cache: save cancelled by progress callback")

// BaseCache is an unbounded disk cache without a journal: one file per
// key, published by an atomic write-then-rename. It never evicts; use
// LRUCache when bounds matter.
type BaseCache struct {
	dir        string
	gen        NameGenerator
	bufferSize int
	format     Format
	quality    int
}

// BaseOption configures a BaseCache.
type BaseOption func(*BaseCache)

// BaseWithNameGenerator sets the identifier → key mapping.
// Defaults to DigestNameGenerator.
func BaseWithNameGenerator(gen NameGenerator) BaseOption {
	return func(c *BaseCache) {
		c.gen = gen
	}
}

// BaseWithFormat sets the encoding and quality used by SaveImage.
func BaseWithFormat(format Format, quality int) BaseOption {
	return func(c *BaseCache) {
		c.format = format
		c.quality = quality
	}
}

// BaseWithBufferSize records a copy buffer size. Save and SaveImage hand
// their data straight to the atomic file writer, so the value does not
// change how they copy.
func BaseWithBufferSize(n int) BaseOption {
	return func(c *BaseCache) {
		c.bufferSize = n
	}
}

// NewBase creates an unbounded cache rooted at dir.
func NewBase(dir string, opts ...BaseOption) (*BaseCache, error) {
	if dir == "" {
		return nil, errors.New("cache: dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	c := &BaseCache{
		dir:        dir,
		gen:        DigestNameGenerator,
		bufferSize: DefaultBufferSize,
		format:     FormatPNG,
		quality:    DefaultQuality,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Directory returns the root directory of the cache.
func (c *BaseCache) Directory() string { return c.dir }

func (c *BaseCache) path(uri string) string {
	return filepath.Join(c.dir, c.gen(uri))
}

// Get returns the cached file path for uri, or "" if absent.
func (c *BaseCache) Get(uri string) (string, error) {
	path := c.path(uri)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}

// Save copies r into the cache under uri. The temp file and rename are
// handled by the atomic writer, so readers never observe a partial value.
func (c *BaseCache) Save(uri string, r io.Reader, progress ProgressFunc) (bool, error) {
	pr := &progressReader{r: r, progress: progress}
	err := atomic.WriteFile(c.path(uri), pr)
	if pr.cancelled {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("writing cache file: %w", err)
	}
	return true, nil
}

// SaveImage encodes img into the cache under uri.
func (c *BaseCache) SaveImage(uri string, img image.Image) (bool, error) {
	var buf bytes.Buffer
	if err := encodeImage(&buf, img, c.format, c.quality); err != nil {
		return false, err
	}
	if err := atomic.WriteFile(c.path(uri), &buf); err != nil {
		return false, fmt.Errorf("writing cache file: %w", err)
	}
	return true, nil
}

// Remove drops the value for uri.
func (c *BaseCache) Remove(uri string) bool {
	return os.Remove(c.path(uri)) == nil
}

// Clear removes every cached file.
func (c *BaseCache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, de.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; the cache keeps no open state.
func (c *BaseCache) Close() error { return nil }

var _ DiskCache = (*BaseCache)(nil)

// progressReader reports progress per chunk and cancels the read when the
// callback returns false.
type progressReader struct {
	r         io.Reader
	progress  ProgressFunc
	current   int64
	cancelled bool
}

func (pr *progressReader) Read(p []byte) (int, error) {
	if pr.progress != nil && !pr.progress(pr.current, -1) {
		pr.cancelled = true
		return 0, errSaveCancelled
	}
	n, err := pr.r.Read(p)
	pr.current += int64(n)
	return n, err
}
