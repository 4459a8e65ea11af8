package imgload

import (
	"errors"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/meigma/imgload/decode"
	"github.com/meigma/imgload/download"
)

// displayTask loads one image and shows it on its target. Tasks for the
// same URI serialise on the URI lock; cancellation is cooperative at the
// checkpoints marked below.
type displayTask struct {
	loader *Loader
	engine *engine
	uri    string
	key    string
	target Target
	params displayParams
	size   decode.Size

	from LoadedFrom
}

func (t *displayTask) run() {
	img, err := t.execute()
	switch {
	case err == nil:
		t.publish(img)
	case errors.Is(err, errCancelled):
		t.fireCancel()
	default:
		t.fireFail(err)
	}
}

// execute walks the pipeline: pause gate → delay → URI lock → memory cache
// → disk cache → network. It returns errCancelled when the target was
// reused or collected or the engine stopped.
func (t *displayTask) execute() (image.Image, error) {
	if !t.engine.waitIfPaused() {
		return nil, errCancelled
	}
	if err := t.checkActual(); err != nil {
		return nil, err
	}

	if d := t.params.opts.Delay; d > 0 {
		t.log().Debug("delaying load", slog.Duration("delay", d), slog.String("key", t.key))
		time.Sleep(d)
		if err := t.checkActual(); err != nil {
			return nil, err
		}
	}

	// Contended peers for the same URI wait here, not in the executor, so
	// a finished download immediately serves the waiters from cache.
	lock := t.engine.locks.acquire(t.uri)
	lock.Lock()
	defer func() {
		lock.Unlock()
		t.engine.locks.release(t.uri, lock)
	}()

	if err := t.checkActual(); err != nil {
		return nil, err
	}

	// A peer may have finished this URI while we waited for the lock.
	if mc := t.loader.memCache; mc != nil {
		if img := mc.Get(t.key); img != nil {
			t.from = FromMemoryCache
			t.log().Debug("memory cache hit after waiting", slog.String("key", t.key))
			return img, nil
		}
	}

	img, err := t.tryLoad()
	if err != nil {
		return nil, err
	}

	if t.params.opts.CacheInMemory && t.loader.memCache != nil {
		t.loader.memCache.Put(t.key, img)
	}
	if err := t.checkActual(); err != nil {
		return nil, err
	}
	return img, nil
}

// tryLoad produces the image from disk if cached, otherwise from the
// network, caching on disk when enabled.
func (t *displayTask) tryLoad() (image.Image, error) {
	if path := t.cachedFile(); path != "" {
		t.from = FromDiskCache
		t.log().Debug("loading from disk cache", slog.String("key", t.key))
		if err := t.checkActual(); err != nil {
			return nil, err
		}
		img, err := t.decodeFrom(fileURI(path))
		if err == nil && validImage(img) {
			return img, nil
		}
		t.log().Warn("cached file is not decodable, falling back to source",
			slog.String("key", t.key), slog.Any("error", err))
	}

	t.from = FromNetwork
	t.log().Debug("loading from source", slog.String("key", t.key))

	decodeURI := t.uri
	if t.params.opts.CacheOnDisk && t.loader.diskCache != nil {
		err := t.loader.ensureOnDisk(t.uri, t.params.opts.Extra, t.copyProgress)
		if errors.Is(err, errCancelled) && t.checkActual() == nil {
			// A shared download was aborted by its cancelled initiator;
			// this task is still wanted, so fetch again as the owner.
			err = t.loader.ensureOnDisk(t.uri, t.params.opts.Extra, t.copyProgress)
		}
		if err != nil {
			return nil, err
		}
		if path := t.cachedFile(); path != "" {
			decodeURI = fileURI(path)
		}
	}

	if err := t.checkActual(); err != nil {
		return nil, err
	}
	img, err := t.decodeFrom(decodeURI)
	if err != nil {
		return nil, err
	}
	if !validImage(img) {
		return nil, errors.Join(decode.ErrUndecodable, errors.New("imgload: decoder produced an empty image"))
	}
	return img, nil
}

// cachedFile returns the non-empty cached file for the task's URI, or "".
func (t *displayTask) cachedFile() string {
	dc := t.loader.diskCache
	if dc == nil {
		return ""
	}
	path, err := dc.Get(t.uri)
	if err != nil || path == "" {
		return ""
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		return ""
	}
	return path
}

func (t *displayTask) decodeFrom(uri string) (image.Image, error) {
	return t.loader.decoder.Decode(decode.Request{
		Key:         t.key,
		URI:         uri,
		OriginalURI: t.uri,
		TargetSize:  t.size,
		ScaleType:   t.params.opts.ScaleType,
		ViewScale:   t.target.ViewScale(),
		Downloader:  t.loader.activeDownloader(),
		Extra:       t.params.opts.Extra,
	})
}

// copyProgress relays save progress to the request's listener and cancels
// the copy once the task is no longer wanted.
func (t *displayTask) copyProgress(current, total int64) bool {
	if t.notActual() {
		return false
	}
	if t.params.progress != nil {
		progress := t.params.progress
		t.dispatch(func() { progress(t.uri, t.target, current, total) })
	}
	return true
}

// checkActual returns errCancelled when the target was reused or
// collected. The engine stopping clears the key map, which reads as reuse.
func (t *displayTask) checkActual() error {
	if t.notActual() {
		return errCancelled
	}
	return nil
}

func (t *displayTask) notActual() bool {
	if t.target.IsCollected() {
		t.log().Debug("target collected, cancelling", slog.String("key", t.key))
		return true
	}
	if current, _ := t.engine.loadingKeyFor(t.target); current != t.key {
		t.log().Debug("target reused, cancelling", slog.String("key", t.key))
		return true
	}
	return false
}

// publish shows the image, re-checking the target at display time.
func (t *displayTask) publish(img image.Image) {
	t.dispatch(func() {
		if t.notActual() {
			t.params.listener.OnLoadingCancelled(t.uri, t.target)
			return
		}
		t.target.SetImage(img)
		t.params.listener.OnLoadingComplete(t.uri, t.target, img, t.from)
	})
}

func (t *displayTask) fireCancel() {
	t.dispatch(func() {
		t.params.listener.OnLoadingCancelled(t.uri, t.target)
	})
}

func (t *displayTask) fireFail(err error) {
	reason := classifyFailure(err)
	t.log().Warn("load failed", slog.String("key", t.key),
		slog.String("type", reason.Type.String()), slog.Any("error", err))
	t.dispatch(func() {
		if t.params.opts.FailImage != nil {
			t.target.SetImage(t.params.opts.FailImage)
		}
		t.params.listener.OnLoadingFailed(t.uri, t.target, reason)
	})
}

// dispatch runs f inline for synchronous requests, otherwise on the
// loader's dispatcher.
func (t *displayTask) dispatch(f func()) {
	if t.params.opts.Sync {
		f()
		return
	}
	t.loader.dispatcher.Post(f)
}

func (t *displayTask) log() *slog.Logger {
	return t.loader.log()
}

func classifyFailure(err error) FailReason {
	switch {
	case errors.Is(err, download.ErrNetworkDenied):
		return FailReason{Type: FailNetworkDenied, Cause: err}
	case errors.Is(err, decode.ErrUndecodable):
		return FailReason{Type: FailDecoding, Cause: err}
	case errors.Is(err, download.ErrUnsupportedScheme):
		return FailReason{Type: FailUnknown, Cause: err}
	default:
		return FailReason{Type: FailIO, Cause: err}
	}
}

func fileURI(path string) string {
	return "file://" + path
}

func validImage(img image.Image) bool {
	return img != nil && img.Bounds().Dx() > 0 && img.Bounds().Dy() > 0
}
