package imgload

import (
	"image"
	"log/slog"
	"time"

	"github.com/meigma/imgload/cache"
	"github.com/meigma/imgload/decode"
	"github.com/meigma/imgload/download"
	"github.com/meigma/imgload/memcache"
)

// Defaults applied by New when no option overrides them.
const (
	DefaultUncachedWorkers = 3
	DefaultCachedWorkers   = 4
	DefaultMemCacheSize    = 16 << 20
)

// Option configures a Loader.
type Option func(*Loader) error

// WithMemoryCache sets the decoded-image cache. Pass nil to disable
// memory caching entirely.
func WithMemoryCache(c memcache.Cache) Option {
	return func(l *Loader) error {
		l.memCache = c
		l.memCacheSet = true
		return nil
	}
}

// WithDiskCache sets the disk cache images are downloaded into. Pass nil
// to disable disk caching entirely.
func WithDiskCache(c cache.DiskCache) Option {
	return func(l *Loader) error {
		l.diskCache = c
		l.diskCacheSet = true
		return nil
	}
}

// WithDiskCacheDir opens the default bounded disk cache rooted at dir.
func WithDiskCacheDir(dir string, maxSize int64, maxFileCount int) Option {
	return func(l *Loader) error {
		c, err := cache.NewLRU(dir, maxSize, maxFileCount, cache.WithLogger(l.logger))
		if err != nil {
			return err
		}
		l.diskCache = c
		l.diskCacheSet = true
		return nil
	}
}

// WithDownloader sets the downloader used for cache misses.
func WithDownloader(d download.Downloader) Option {
	return func(l *Loader) error {
		l.downloader = d
		return nil
	}
}

// WithDecoder sets the image decoder.
func WithDecoder(d decode.Decoder) Option {
	return func(l *Loader) error {
		l.decoder = d
		return nil
	}
}

// WithDispatcher sets where display and listener callbacks run. The
// default runs them inline on the task goroutine; UI integrations post to
// their main thread here.
func WithDispatcher(d Dispatcher) Option {
	return func(l *Loader) error {
		l.dispatcher = d
		return nil
	}
}

// WithWorkers sizes the two task pools: uncached runs downloads, cached
// runs disk hits. Keeping them separate stops a burst of downloads from
// starving cheap disk loads.
func WithWorkers(uncached, cached int) Option {
	return func(l *Loader) error {
		l.uncachedWorkers = uncached
		l.cachedWorkers = cached
		return nil
	}
}

// WithMaxDiskImageSize re-encodes each download once it is saved to the
// disk cache, subsampled by an integer factor toward the given bounds, and
// replaces the cached file with the result, trading fidelity for space.
func WithMaxDiskImageSize(width, height int) Option {
	return func(l *Loader) error {
		l.maxDiskSize = decode.Size{Width: width, Height: height}
		return nil
	}
}

// WithDefaultDisplayOptions sets the options a request starts from.
func WithDefaultDisplayOptions(opts DisplayOptions) Option {
	return func(l *Loader) error {
		l.defaults = opts
		return nil
	}
}

// WithLogger sets a logger. If nil, logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) error {
		l.logger = logger
		return nil
	}
}

// DisplayOptions tunes a single display request.
type DisplayOptions struct {
	// ScaleType selects how the decoded image is reduced toward the
	// target size.
	ScaleType decode.ScaleType

	// CacheInMemory stores the decoded image in the memory cache.
	CacheInMemory bool

	// CacheOnDisk stores downloaded bytes in the disk cache.
	CacheOnDisk bool

	// Delay postpones the load, coalescing requests for fast-scrolling
	// surfaces.
	Delay time.Duration

	// Sync runs the whole load on the calling goroutine, dispatcher
	// included.
	Sync bool

	// Placeholder is shown on the target while the load runs.
	Placeholder image.Image

	// FailImage is shown on the target when the load fails.
	FailImage image.Image

	// Extra is passed to the downloader.
	Extra any
}

// DefaultDisplayOptions enables both cache layers and no scaling.
func DefaultDisplayOptions() DisplayOptions {
	return DisplayOptions{
		ScaleType:     decode.ScaleNone,
		CacheInMemory: true,
		CacheOnDisk:   true,
	}
}

// displayParams is a resolved request: options plus callbacks.
type displayParams struct {
	opts     DisplayOptions
	listener LoadingListener
	progress ProgressListener
}

// DisplayOption adjusts one display request.
type DisplayOption func(*displayParams)

// WithOptions replaces the request's options wholesale.
func WithOptions(opts DisplayOptions) DisplayOption {
	return func(p *displayParams) {
		p.opts = opts
	}
}

// WithScaleType sets the scale mode for this request.
func WithScaleType(st decode.ScaleType) DisplayOption {
	return func(p *displayParams) {
		p.opts.ScaleType = st
	}
}

// WithCacheInMemory toggles memory caching for this request.
func WithCacheInMemory(enabled bool) DisplayOption {
	return func(p *displayParams) {
		p.opts.CacheInMemory = enabled
	}
}

// WithCacheOnDisk toggles disk caching for this request.
func WithCacheOnDisk(enabled bool) DisplayOption {
	return func(p *displayParams) {
		p.opts.CacheOnDisk = enabled
	}
}

// WithDelay postpones the load.
func WithDelay(d time.Duration) DisplayOption {
	return func(p *displayParams) {
		p.opts.Delay = d
	}
}

// WithSync runs the request synchronously on the calling goroutine.
func WithSync() DisplayOption {
	return func(p *displayParams) {
		p.opts.Sync = true
	}
}

// WithPlaceholder shows img on the target while the load runs.
func WithPlaceholder(img image.Image) DisplayOption {
	return func(p *displayParams) {
		p.opts.Placeholder = img
	}
}

// WithFailImage shows img on the target when the load fails.
func WithFailImage(img image.Image) DisplayOption {
	return func(p *displayParams) {
		p.opts.FailImage = img
	}
}

// WithExtra passes a downloader-specific value with the request.
func WithExtra(extra any) DisplayOption {
	return func(p *displayParams) {
		p.opts.Extra = extra
	}
}

// WithListener observes this request's lifecycle.
func WithListener(listener LoadingListener) DisplayOption {
	return func(p *displayParams) {
		p.listener = listener
	}
}

// WithProgressListener observes download progress for this request.
func WithProgressListener(progress ProgressListener) DisplayOption {
	return func(p *displayParams) {
		p.progress = progress
	}
}
