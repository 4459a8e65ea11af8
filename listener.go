package imgload

import "image"

// LoadedFrom tells a listener where a displayed image came from.
type LoadedFrom int

const (
	FromNetwork LoadedFrom = iota
	FromDiskCache
	FromMemoryCache
)

func (f LoadedFrom) String() string {
	switch f {
	case FromDiskCache:
		return "disk_cache"
	case FromMemoryCache:
		return "memory_cache"
	default:
		return "network"
	}
}

// LoadingListener observes the lifecycle of one display request.
// OnLoadingStarted runs on the goroutine that called Display; the other
// callbacks run on the loader's dispatcher, or inline for synchronous
// requests.
type LoadingListener interface {
	OnLoadingStarted(uri string, target Target)
	OnLoadingFailed(uri string, target Target, reason FailReason)
	OnLoadingComplete(uri string, target Target, img image.Image, from LoadedFrom)
	OnLoadingCancelled(uri string, target Target)
}

// ListenerFuncs adapts plain functions to LoadingListener; nil fields are
// skipped.
type ListenerFuncs struct {
	Started   func(uri string, target Target)
	Failed    func(uri string, target Target, reason FailReason)
	Complete  func(uri string, target Target, img image.Image, from LoadedFrom)
	Cancelled func(uri string, target Target)
}

func (l ListenerFuncs) OnLoadingStarted(uri string, target Target) {
	if l.Started != nil {
		l.Started(uri, target)
	}
}

func (l ListenerFuncs) OnLoadingFailed(uri string, target Target, reason FailReason) {
	if l.Failed != nil {
		l.Failed(uri, target, reason)
	}
}

func (l ListenerFuncs) OnLoadingComplete(uri string, target Target, img image.Image, from LoadedFrom) {
	if l.Complete != nil {
		l.Complete(uri, target, img, from)
	}
}

func (l ListenerFuncs) OnLoadingCancelled(uri string, target Target) {
	if l.Cancelled != nil {
		l.Cancelled(uri, target)
	}
}

// ProgressListener receives download progress. total is -1 when unknown.
// Implementations must be safe for concurrent calls.
type ProgressListener func(uri string, target Target, current, total int64)

// Dispatcher posts display and listener callbacks; UI frameworks supply an
// implementation that hops to their main thread.
type Dispatcher interface {
	Post(f func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(f func())

func (d DispatcherFunc) Post(f func()) { d(f) }

// inlineDispatcher runs callbacks on the calling goroutine; the default
// when no main-thread hop is needed.
type inlineDispatcher struct{}

func (inlineDispatcher) Post(f func()) { f() }
