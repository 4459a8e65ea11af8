package imgload

import (
	"errors"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/imgload/cache"
	"github.com/meigma/imgload/decode"
	"github.com/meigma/imgload/download"
	"github.com/meigma/imgload/memcache"
)

// DefaultDiskCacheSize bounds the disk cache New creates when none is
// configured.
const DefaultDiskCacheSize = 50 << 20

// Loader is the image-loading pipeline: memory cache → disk cache →
// network → decoder → target. All methods are safe for concurrent use.
type Loader struct {
	memCache   memcache.Cache
	diskCache  cache.DiskCache
	downloader download.Downloader
	denied     download.Downloader
	slow       download.Downloader
	decoder    decode.Decoder
	dispatcher Dispatcher
	logger     *slog.Logger

	uncachedWorkers int
	cachedWorkers   int
	defaults        DisplayOptions
	maxDiskSize     decode.Size

	memCacheSet  bool
	diskCacheSet bool

	engine *engine
}

// New creates a loader. Without options it uses a 16 MiB LRU memory
// cache, a 50 MiB journaled disk cache under the user cache directory, the
// HTTP downloader, and the stdlib decoder.
func New(opts ...Option) (*Loader, error) {
	l := &Loader{
		uncachedWorkers: DefaultUncachedWorkers,
		cachedWorkers:   DefaultCachedWorkers,
		defaults:        DefaultDisplayOptions(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(l); err != nil {
			return nil, err
		}
	}

	if !l.memCacheSet {
		l.memCache = memcache.NewLRU(DefaultMemCacheSize)
	}
	if !l.diskCacheSet {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, err
		}
		dc, err := cache.NewLRU(filepath.Join(base, "imgload"), DefaultDiskCacheSize, 0,
			cache.WithLogger(l.logger))
		if err != nil {
			return nil, err
		}
		l.diskCache = dc
	}
	if l.downloader == nil {
		l.downloader = download.NewHTTP()
	}
	l.denied = download.DenyNetwork(l.downloader)
	l.slow = download.SlowNetwork(l.downloader)
	if l.decoder == nil {
		l.decoder = decode.NewDefault()
	}
	if l.dispatcher == nil {
		l.dispatcher = inlineDispatcher{}
	}

	l.engine = newEngine(l.uncachedWorkers, l.cachedWorkers)
	return l, nil
}

func (l *Loader) log() *slog.Logger {
	if l.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.logger
}

// Display loads uri into target. The call returns once the request is
// scheduled (or, with WithSync, once it finished); results and failures
// reach the listener on the dispatcher.
func (l *Loader) Display(uri string, target Target, opts ...DisplayOption) error {
	if l.engine.stopped.Load() {
		return ErrStopped
	}
	if target == nil {
		return ErrNilTarget
	}

	params := l.resolveParams(opts)
	if uri == "" {
		// Nothing will ever load; unbind the target and tell the listener.
		l.engine.cancelDisplayTaskFor(target)
		t := &displayTask{loader: l, engine: l.engine, target: target, params: params}
		t.fireFail(ErrEmptyURI)
		return ErrEmptyURI
	}

	size := target.Size()
	key := memcache.Key(uri, size.Width, size.Height)
	l.engine.prepareDisplayTaskFor(target, key)
	params.listener.OnLoadingStarted(uri, target)

	task := &displayTask{
		loader: l,
		engine: l.engine,
		uri:    uri,
		key:    key,
		target: target,
		params: params,
		size:   size,
	}

	// The memory cache is consulted synchronously; hits skip the
	// executors entirely.
	if l.memCache != nil {
		if img := l.memCache.Get(key); img != nil {
			task.from = FromMemoryCache
			task.publish(img)
			return nil
		}
	}

	if params.opts.Placeholder != nil {
		target.SetImage(params.opts.Placeholder)
	}
	if params.opts.Sync {
		task.run()
		return nil
	}
	l.submit(task)
	return nil
}

// submit routes the task to the cached or uncached pool after a quick
// synchronous disk probe, so disk hits cannot be starved by downloads.
func (l *Loader) submit(t *displayTask) {
	go func() {
		onDisk := false
		if l.diskCache != nil {
			if path, err := l.diskCache.Get(t.uri); err == nil && path != "" {
				onDisk = true
			}
		}
		if onDisk {
			l.engine.cached.execute(t.run)
		} else {
			l.engine.uncached.execute(t.run)
		}
	}()
}

// Load fetches uri at the given size without an existing display surface
// and returns the target the image will be delivered to.
func (l *Loader) Load(uri string, width, height int, opts ...DisplayOption) (*ImageTarget, error) {
	target := NewImageTarget(width, height)
	if err := l.Display(uri, target, opts...); err != nil {
		return nil, err
	}
	return target, nil
}

// LoadSync fetches uri on the calling goroutine and returns the decoded
// image.
func (l *Loader) LoadSync(uri string, width, height int, opts ...DisplayOption) (image.Image, error) {
	if l.engine.stopped.Load() {
		return nil, ErrStopped
	}
	if uri == "" {
		return nil, ErrEmptyURI
	}

	params := l.resolveParams(opts)
	params.opts.Sync = true
	target := NewImageTarget(width, height)
	size := target.Size()
	key := memcache.Key(uri, size.Width, size.Height)
	l.engine.prepareDisplayTaskFor(target, key)

	task := &displayTask{
		loader: l,
		engine: l.engine,
		uri:    uri,
		key:    key,
		target: target,
		params: params,
		size:   size,
	}
	img, err := task.execute()
	if err != nil {
		return nil, err
	}
	target.SetImage(img)
	return img, nil
}

// Prefetch warms the disk cache for the given URIs. Concurrent prefetches
// and display tasks for one URI share a single download.
func (l *Loader) Prefetch(uris ...string) error {
	if l.engine.stopped.Load() {
		return ErrStopped
	}
	if l.diskCache == nil {
		return errors.New("imgload: prefetch needs a disk cache")
	}

	g := new(errgroup.Group)
	g.SetLimit(l.uncachedWorkers)
	for _, uri := range uris {
		if uri == "" {
			continue
		}
		g.Go(func() error {
			return l.ensureOnDisk(uri, nil, nil)
		})
	}
	return g.Wait()
}

// ensureOnDisk downloads uri into the disk cache unless it is already
// there. Concurrent callers for one URI share the download.
func (l *Loader) ensureOnDisk(uri string, extra any, progress cache.ProgressFunc) error {
	_, err, _ := l.engine.fetches.Do(uri, func() (any, error) {
		// A peer may have just finished this URI.
		if path, err := l.diskCache.Get(uri); err == nil && path != "" {
			return nil, nil
		}

		rc, err := l.activeDownloader().Stream(uri, extra)
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		saved, err := l.diskCache.Save(uri, rc, progress)
		if err != nil {
			return nil, err
		}
		if !saved {
			return nil, errCancelled
		}
		l.resaveBounded(uri)
		return nil, nil
	})
	return err
}

// resaveBounded re-encodes an oversized download at the configured bound
// so the disk cache holds display-sized files.
func (l *Loader) resaveBounded(uri string) {
	if l.maxDiskSize.Width <= 0 && l.maxDiskSize.Height <= 0 {
		return
	}
	path, err := l.diskCache.Get(uri)
	if err != nil || path == "" {
		return
	}
	img, err := l.decoder.Decode(decode.Request{
		Key:         uri,
		URI:         fileURI(path),
		OriginalURI: uri,
		TargetSize:  l.maxDiskSize,
		ScaleType:   decode.ScaleSampleInt,
		ViewScale:   decode.ViewScaleFitInside,
		Downloader:  l.activeDownloader(),
	})
	if err != nil {
		l.log().Warn("resize for disk cache failed", slog.String("uri", uri), slog.Any("error", err))
		return
	}
	if _, err := l.diskCache.SaveImage(uri, img); err != nil {
		l.log().Warn("re-save for disk cache failed", slog.String("uri", uri), slog.Any("error", err))
	}
}

func (l *Loader) activeDownloader() download.Downloader {
	switch {
	case l.engine.networkDenied.Load():
		return l.denied
	case l.engine.slowNetwork.Load():
		return l.slow
	default:
		return l.downloader
	}
}

func (l *Loader) resolveParams(opts []DisplayOption) displayParams {
	params := displayParams{opts: l.defaults}
	for _, opt := range opts {
		if opt != nil {
			opt(&params)
		}
	}
	if params.listener == nil {
		params.listener = ListenerFuncs{}
	}
	return params
}

// Pause holds back new tasks before their disk lookup until Resume.
// Already-running tasks are unaffected.
func (l *Loader) Pause() { l.engine.pause() }

// Resume releases tasks parked by Pause.
func (l *Loader) Resume() { l.engine.resume() }

// Stop cancels scheduled and waiting tasks and rejects new requests.
// Caches are left open; use Close to release them.
func (l *Loader) Stop() { l.engine.stop() }

// Close stops the loader and closes the disk cache.
func (l *Loader) Close() error {
	l.Stop()
	if l.diskCache != nil {
		return l.diskCache.Close()
	}
	return nil
}

// DenyNetworkDownloads toggles failing network URIs instead of fetching
// them. Cached images keep loading.
func (l *Loader) DenyNetworkDownloads(deny bool) { l.engine.networkDenied.Store(deny) }

// HandleSlowNetwork toggles small-chunk reads for network streams.
func (l *Loader) HandleSlowNetwork(slow bool) { l.engine.slowNetwork.Store(slow) }

// CancelDisplayTaskFor cancels the in-flight request for target, if any.
func (l *Loader) CancelDisplayTaskFor(target Target) {
	if target != nil {
		l.engine.cancelDisplayTaskFor(target)
	}
}

// MemoryCache returns the configured memory cache, or nil.
func (l *Loader) MemoryCache() memcache.Cache { return l.memCache }

// DiskCache returns the configured disk cache, or nil.
func (l *Loader) DiskCache() cache.DiskCache { return l.diskCache }

// ClearMemoryCache drops every decoded image from memory.
func (l *Loader) ClearMemoryCache() {
	if l.memCache != nil {
		l.memCache.Clear()
	}
}

// ClearDiskCache empties the disk cache.
func (l *Loader) ClearDiskCache() error {
	if l.diskCache == nil {
		return nil
	}
	return l.diskCache.Clear()
}
