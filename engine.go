package imgload

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// engine owns the task-side state of a loader: the executors, the
// pause/stop gates, the target → key map used for reuse detection, and the
// per-URI locks that make loads single-flight.
type engine struct {
	uncached *executor // downloads; small bounded pool
	cached   *executor // disk hits; must not be starved by downloads

	// keys maps a target's identity to the memory cache key it currently
	// expects. Tasks compare against it at every checkpoint.
	keysMu sync.RWMutex
	keys   map[int64]string

	locks lockPool

	// fetches deduplicates downloads per URI across display tasks and
	// Prefetch.
	fetches singleflight.Group

	paused        atomic.Bool
	networkDenied atomic.Bool
	slowNetwork   atomic.Bool
	stopped       atomic.Bool

	pauseMu   sync.Mutex
	pauseCond *sync.Cond
}

func newEngine(uncachedWorkers, cachedWorkers int) *engine {
	e := &engine{
		uncached: newExecutor(uncachedWorkers),
		cached:   newExecutor(cachedWorkers),
		keys:     map[int64]string{},
	}
	e.locks.m = map[string]*uriLock{}
	e.pauseCond = sync.NewCond(&e.pauseMu)
	return e
}

// prepareDisplayTaskFor binds target to the key it now expects.
func (e *engine) prepareDisplayTaskFor(target Target, key string) {
	e.keysMu.Lock()
	defer e.keysMu.Unlock()
	e.keys[target.ID()] = key
}

// cancelDisplayTaskFor unbinds target; its in-flight task cancels at the
// next checkpoint.
func (e *engine) cancelDisplayTaskFor(target Target) {
	e.keysMu.Lock()
	defer e.keysMu.Unlock()
	delete(e.keys, target.ID())
}

// loadingKeyFor returns the key target currently expects.
func (e *engine) loadingKeyFor(target Target) (string, bool) {
	e.keysMu.RLock()
	defer e.keysMu.RUnlock()
	key, ok := e.keys[target.ID()]
	return key, ok
}

func (e *engine) pause() {
	e.paused.Store(true)
}

func (e *engine) resume() {
	e.paused.Store(false)
	e.pauseMu.Lock()
	e.pauseCond.Broadcast()
	e.pauseMu.Unlock()
}

// stop cancels scheduled and waiting tasks and clears engine state.
// Running tasks observe the stop at their next checkpoint.
func (e *engine) stop() {
	e.stopped.Store(true)
	// Wake anything parked at the pause gate so it can cancel.
	e.pauseMu.Lock()
	e.pauseCond.Broadcast()
	e.pauseMu.Unlock()

	e.keysMu.Lock()
	e.keys = map[int64]string{}
	e.keysMu.Unlock()
}

// waitIfPaused parks until the engine is resumed or stopped. It reports
// whether the task should proceed.
func (e *engine) waitIfPaused() bool {
	if !e.paused.Load() {
		return !e.stopped.Load()
	}
	e.pauseMu.Lock()
	for e.paused.Load() && !e.stopped.Load() {
		e.pauseCond.Wait()
	}
	e.pauseMu.Unlock()
	return !e.stopped.Load()
}

// executor bounds the number of concurrently running tasks. Submissions
// never block the caller; excess tasks wait as parked goroutines, the
// moral equivalent of an unbounded queue.
type executor struct {
	sem chan struct{}
}

func newExecutor(workers int) *executor {
	if workers < 1 {
		workers = 1
	}
	return &executor{sem: make(chan struct{}, workers)}
}

func (x *executor) execute(f func()) {
	go func() {
		x.sem <- struct{}{}
		defer func() { <-x.sem }()
		f()
	}()
}

// lockPool interns one mutex per in-flight URI so concurrent requests for
// the same URI serialise at the load stage. Entries are reference-counted
// and dropped when the last holder releases, so idle URIs do not leak a
// mutex.
type lockPool struct {
	mu sync.Mutex
	m  map[string]*uriLock
}

type uriLock struct {
	sync.Mutex
	refs int
}

func (p *lockPool) acquire(uri string) *uriLock {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.m[uri]
	if !ok {
		l = &uriLock{}
		p.m[uri] = l
	}
	l.refs++
	return l
}

func (p *lockPool) release(uri string, l *uriLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(p.m, uri)
	}
}
