package cache

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/meigma/imgload/cache/disk"
)

// Format selects the encoding used when an image is saved to disk.
type Format int

const (
	// FormatPNG is lossless; the quality setting is ignored.
	FormatPNG Format = iota
	// FormatJPEG is lossy; quality 1-100 applies.
	FormatJPEG
)

// DefaultQuality is the encode quality used when none is configured.
const DefaultQuality = 100

const lruAppVersion = 1

// LRUCache is the bounded disk cache: it adapts the journaled disk.Cache
// to URI-keyed image storage with least-recently-used eviction.
type LRUCache struct {
	gen          NameGenerator
	reserveDir   string
	bufferSize   int
	format       Format
	quality      int
	logger       *slog.Logger
	maxSize      int64
	maxFileCount int

	mu    sync.Mutex
	cache *disk.Cache
}

// LRUOption configures an LRUCache.
type LRUOption func(*LRUCache)

// WithNameGenerator sets the identifier → key mapping.
// Defaults to DigestNameGenerator.
func WithNameGenerator(gen NameGenerator) LRUOption {
	return func(c *LRUCache) {
		c.gen = gen
	}
}

// WithReserveDir sets a fallback directory used when the primary cache
// directory cannot be opened.
func WithReserveDir(dir string) LRUOption {
	return func(c *LRUCache) {
		c.reserveDir = dir
	}
}

// WithBufferSize sets the copy buffer for stream saves.
// Defaults to DefaultBufferSize.
func WithBufferSize(n int) LRUOption {
	return func(c *LRUCache) {
		c.bufferSize = n
	}
}

// WithFormat sets the encoding and quality used by SaveImage.
// Defaults to PNG at DefaultQuality.
func WithFormat(format Format, quality int) LRUOption {
	return func(c *LRUCache) {
		c.format = format
		c.quality = quality
	}
}

// WithLogger sets a logger. If nil, logs are discarded.
func WithLogger(logger *slog.Logger) LRUOption {
	return func(c *LRUCache) {
		c.logger = logger
	}
}

// NewLRU opens a bounded disk cache rooted at dir. maxSize of 0 means the
// byte size is unbounded; maxFileCount of 0 means the file count is
// unbounded; negative values are rejected.
func NewLRU(dir string, maxSize int64, maxFileCount int, opts ...LRUOption) (*LRUCache, error) {
	if dir == "" {
		return nil, errors.New("cache: dir is empty")
	}
	if maxSize < 0 {
		return nil, fmt.Errorf("cache: maxSize %d must not be negative", maxSize)
	}
	if maxFileCount < 0 {
		return nil, fmt.Errorf("cache: maxFileCount %d must not be negative", maxFileCount)
	}
	if maxSize == 0 {
		maxSize = math.MaxInt64
	}
	if maxFileCount == 0 {
		maxFileCount = math.MaxInt32
	}

	c := &LRUCache{
		gen:          DigestNameGenerator,
		bufferSize:   DefaultBufferSize,
		format:       FormatPNG,
		quality:      DefaultQuality,
		maxSize:      maxSize,
		maxFileCount: maxFileCount,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	cache, err := c.initCache(dir)
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// initCache opens the journaled cache, retrying once in the reserve
// directory when the primary cannot be opened.
func (c *LRUCache) initCache(dir string) (*disk.Cache, error) {
	cache, err := disk.Open(dir, lruAppVersion, 1, c.maxSize, c.maxFileCount, disk.WithLogger(c.logger))
	if err == nil {
		return cache, nil
	}
	if c.reserveDir != "" && c.reserveDir != dir {
		c.log().Warn("primary cache directory unavailable, using reserve",
			slog.String("dir", dir), slog.Any("error", err))
		if cache, reserveErr := disk.Open(c.reserveDir, lruAppVersion, 1, c.maxSize, c.maxFileCount, disk.WithLogger(c.logger)); reserveErr == nil {
			return cache, nil
		}
	}
	return nil, err
}

func (c *LRUCache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

func (c *LRUCache) disk() *disk.Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache
}

// Directory returns the directory of the underlying cache.
func (c *LRUCache) Directory() string {
	return c.disk().Directory()
}

// Get returns the cached file path for uri, or "" if absent.
func (c *LRUCache) Get(uri string) (string, error) {
	snap, err := c.disk().Get(c.gen(uri))
	if err != nil {
		return "", err
	}
	if snap == nil {
		return "", nil
	}
	// The file is decoded out-of-band; only the path is needed.
	defer snap.Close()
	return snap.File(0), nil
}

// Save copies r into the cache under uri, committing only a complete copy.
func (c *LRUCache) Save(uri string, r io.Reader, progress ProgressFunc) (bool, error) {
	ed, err := c.disk().Edit(c.gen(uri))
	if err != nil {
		return false, err
	}
	if ed == nil {
		return false, nil // another save for this uri is in flight
	}

	w, err := ed.NewWriter(0)
	if err != nil {
		_ = ed.Abort()
		return false, err
	}
	bw := bufio.NewWriterSize(w, c.bufferSize)
	copied, copyErr := copyStream(bw, r, c.bufferSize, progress)
	if copied {
		copied = bw.Flush() == nil
	}
	_ = w.Close()

	if !copied {
		if err := ed.Abort(); err != nil {
			return false, err
		}
		return false, copyErr
	}
	if err := ed.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// SaveImage encodes img into the cache under uri using the configured
// format and quality.
func (c *LRUCache) SaveImage(uri string, img image.Image) (bool, error) {
	ed, err := c.disk().Edit(c.gen(uri))
	if err != nil {
		return false, err
	}
	if ed == nil {
		return false, nil
	}

	w, err := ed.NewWriter(0)
	if err != nil {
		_ = ed.Abort()
		return false, err
	}
	bw := bufio.NewWriterSize(w, c.bufferSize)
	encodeErr := encodeImage(bw, img, c.format, c.quality)
	if encodeErr == nil {
		encodeErr = bw.Flush()
	}
	_ = w.Close()

	if encodeErr != nil {
		if err := ed.Abort(); err != nil {
			return false, err
		}
		return false, encodeErr
	}
	if err := ed.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Remove drops the value for uri.
func (c *LRUCache) Remove(uri string) bool {
	removed, err := c.disk().Remove(c.gen(uri))
	if err != nil {
		c.log().Warn("remove failed", slog.String("uri", uri), slog.Any("error", err))
		return false
	}
	return removed
}

// Clear deletes every cached value and reopens an empty cache with the
// same parameters.
func (c *LRUCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Latch parameters before teardown; the old cache is unusable after
	// Delete.
	dir := c.cache.Directory()
	if err := c.cache.Delete(); err != nil {
		c.log().Warn("deleting cache", slog.Any("error", err))
	}
	cache, err := c.initCache(dir)
	if err != nil {
		return err
	}
	c.cache = cache
	return nil
}

// Close releases the cache. Stored files remain on disk.
func (c *LRUCache) Close() error {
	return c.disk().Close()
}

var _ DiskCache = (*LRUCache)(nil)

// copyStream copies r to w in bufferSize chunks, reporting progress. It
// returns false when the copy was cancelled or failed.
func copyStream(w io.Writer, r io.Reader, bufferSize int, progress ProgressFunc) (bool, error) {
	buf := make([]byte, bufferSize)
	var current int64
	for {
		if progress != nil && !progress(current, -1) {
			return false, nil
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return false, werr
			}
			current += int64(n)
		}
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}

func encodeImage(w io.Writer, img image.Image, format Format, quality int) error {
	switch format {
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	default:
		return png.Encode(w, img)
	}
}
