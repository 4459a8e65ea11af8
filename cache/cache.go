// Package cache adapts free-form identifiers (image URIs) onto disk-backed
// storage. The journaled, bounded implementation lives in the disk
// subpackage; this package maps identifiers through a name generator into
// the cache's constrained key alphabet and wraps save/load with buffering
// and image-encoding options.
package cache

import (
	"image"
	"io"
)

// DefaultBufferSize is the buffer used when copying streams into the cache.
const DefaultBufferSize = 32 * 1024

// ProgressFunc receives copy progress while a stream is saved. Returning
// false cancels the save; the partial value is discarded.
type ProgressFunc func(current, total int64) bool

// DiskCache stores downloaded images as files keyed by their source URI.
//
// Implementations must be safe for concurrent use.
type DiskCache interface {
	// Directory returns the root directory of the cache.
	Directory() string

	// Get returns the path of the cached file for uri, or "" if absent.
	// The file is read out-of-band by the decoder; implementations must
	// keep it valid until it is evicted.
	Get(uri string) (string, error)

	// Save copies r into the cache under uri. The progress callback is
	// optional and may cancel the copy. It reports whether the value was
	// stored.
	Save(uri string, r io.Reader, progress ProgressFunc) (bool, error)

	// SaveImage encodes img into the cache under uri using the
	// implementation's configured format and quality.
	SaveImage(uri string, img image.Image) (bool, error)

	// Remove drops the value for uri, reporting whether one existed.
	Remove(uri string) bool

	// Clear empties the cache.
	Clear() error

	// Close releases the cache. Stored files remain on disk.
	Close() error
}
