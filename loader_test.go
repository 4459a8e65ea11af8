package imgload

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/imgload/download"
)

// countingDownloader serves a fixed PNG for every URI and counts calls.
type countingDownloader struct {
	payload []byte
	delay   time.Duration
	calls   atomic.Int64
}

func (d *countingDownloader) Stream(uri string, extra any) (io.ReadCloser, error) {
	d.calls.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	return io.NopCloser(bytes.NewReader(d.payload)), nil
}

func testPNG(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

// fileAwareDownloader lets cached file:// decodes work while counting
// network fetches.
type fileAwareDownloader struct {
	network *countingDownloader
	files   download.Downloader
}

func (d *fileAwareDownloader) Stream(uri string, extra any) (io.ReadCloser, error) {
	if download.IsNetworkURI(uri) {
		return d.network.Stream(uri, extra)
	}
	return d.files.Stream(uri, extra)
}

func newTestLoader(t *testing.T, net *countingDownloader, opts ...Option) *Loader {
	t.Helper()

	base := []Option{
		WithDownloader(&fileAwareDownloader{network: net, files: download.NewHTTP()}),
		WithDiskCacheDir(t.TempDir(), 1<<20, 0),
	}
	l, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// resultListener collects terminal callbacks for assertions.
type resultListener struct {
	mu        sync.Mutex
	complete  int
	failed    int
	cancelled int
	lastFrom  LoadedFrom
	lastFail  FailReason
	done      chan struct{}
}

func newResultListener() *resultListener {
	return &resultListener{done: make(chan struct{}, 16)}
}

func (r *resultListener) listener() LoadingListener {
	return ListenerFuncs{
		Complete: func(uri string, target Target, img image.Image, from LoadedFrom) {
			r.mu.Lock()
			r.complete++
			r.lastFrom = from
			r.mu.Unlock()
			r.done <- struct{}{}
		},
		Failed: func(uri string, target Target, reason FailReason) {
			r.mu.Lock()
			r.failed++
			r.lastFail = reason
			r.mu.Unlock()
			r.done <- struct{}{}
		},
		Cancelled: func(uri string, target Target) {
			r.mu.Lock()
			r.cancelled++
			r.mu.Unlock()
			r.done <- struct{}{}
		},
	}
}

func (r *resultListener) wait(t *testing.T) {
	t.Helper()

	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a terminal callback")
	}
}

func (r *resultListener) counts() (complete, failed, cancelled int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.complete, r.failed, r.cancelled
}

func TestDisplayLoadsAndCaches(t *testing.T) {
	t.Parallel()

	net := &countingDownloader{payload: testPNG(t)}
	l := newTestLoader(t, net)

	target := NewImageTarget(0, 0)
	res := newResultListener()
	require.NoError(t, l.Display("https://example.com/cat.png", target, WithListener(res.listener())))
	res.wait(t)

	complete, failed, cancelled := res.counts()
	assert.Equal(t, 1, complete)
	assert.Zero(t, failed)
	assert.Zero(t, cancelled)
	assert.NotNil(t, target.Image())
	assert.EqualValues(t, 1, net.calls.Load())

	// Same URI and size again: served from the memory cache, no fetch.
	target2 := NewImageTarget(0, 0)
	res2 := newResultListener()
	require.NoError(t, l.Display("https://example.com/cat.png", target2, WithListener(res2.listener())))
	res2.wait(t)
	r2complete, _, _ := res2.counts()
	assert.Equal(t, 1, r2complete)
	assert.Equal(t, FromMemoryCache, res2.lastFrom)
	assert.EqualValues(t, 1, net.calls.Load())
}

func TestConcurrentRequestsShareOneDownload(t *testing.T) {
	t.Parallel()

	net := &countingDownloader{payload: testPNG(t), delay: 50 * time.Millisecond}
	l := newTestLoader(t, net, WithMemoryCache(nil))

	const uri = "https://example.com/shared.png"
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		res := newResultListener()
		target := NewImageTarget(0, 0)
		require.NoError(t, l.Display(uri, target, WithListener(res.listener())))
		go func() {
			defer wg.Done()
			res.wait(t)
			complete, failed, cancelled := res.counts()
			assert.Equal(t, 1, complete)
			assert.Zero(t, failed)
			assert.Zero(t, cancelled)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, net.calls.Load(), "concurrent requests for one URI must share a single download")
}

func TestReusedTargetCancelsOlderRequest(t *testing.T) {
	t.Parallel()

	net := &countingDownloader{payload: testPNG(t)}
	l := newTestLoader(t, net)

	target := NewImageTarget(0, 0)
	resA := newResultListener()
	resB := newResultListener()

	l.Pause()
	require.NoError(t, l.Display("https://example.com/a.png", target, WithListener(resA.listener())))
	require.NoError(t, l.Display("https://example.com/b.png", target, WithListener(resB.listener())))
	l.Resume()

	resA.wait(t)
	resB.wait(t)

	aComplete, _, aCancelled := resA.counts()
	assert.Zero(t, aComplete, "reused target must never reach the display dispatcher")
	assert.Equal(t, 1, aCancelled)

	bComplete, _, _ := resB.counts()
	assert.Equal(t, 1, bComplete)
}

func TestCollectedTargetCancels(t *testing.T) {
	t.Parallel()

	net := &countingDownloader{payload: testPNG(t)}
	l := newTestLoader(t, net)

	target := NewImageTarget(0, 0)
	res := newResultListener()

	l.Pause()
	require.NoError(t, l.Display("https://example.com/a.png", target, WithListener(res.listener())))
	target.MarkCollected()
	l.Resume()

	res.wait(t)
	complete, _, cancelled := res.counts()
	assert.Zero(t, complete)
	assert.Equal(t, 1, cancelled)
	assert.Nil(t, target.Image())
}

func TestPauseHoldsTasksUntilResume(t *testing.T) {
	t.Parallel()

	net := &countingDownloader{payload: testPNG(t)}
	l := newTestLoader(t, net)

	l.Pause()
	target := NewImageTarget(0, 0)
	res := newResultListener()
	require.NoError(t, l.Display("https://example.com/paused.png", target, WithListener(res.listener())))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, net.calls.Load(), "paused loader must not start the load")
	complete, failed, cancelled := res.counts()
	assert.Zero(t, complete+failed+cancelled)

	l.Resume()
	res.wait(t)
	complete, _, _ = res.counts()
	assert.Equal(t, 1, complete)
	assert.EqualValues(t, 1, net.calls.Load())
}

func TestDenyNetworkDownloads(t *testing.T) {
	t.Parallel()

	net := &countingDownloader{payload: testPNG(t)}
	l := newTestLoader(t, net)

	l.DenyNetworkDownloads(true)
	res := newResultListener()
	require.NoError(t, l.Display("https://example.com/denied.png", NewImageTarget(0, 0), WithListener(res.listener())))
	res.wait(t)

	_, failed, _ := res.counts()
	require.Equal(t, 1, failed)
	assert.Equal(t, FailNetworkDenied, res.lastFail.Type)
	assert.Zero(t, net.calls.Load())

	// Once a value is on disk, denied downloads still serve it.
	l.DenyNetworkDownloads(false)
	_, err := l.LoadSync("https://example.com/denied.png", 0, 0)
	require.NoError(t, err)
	l.DenyNetworkDownloads(true)
	l.ClearMemoryCache()

	img, err := l.LoadSync("https://example.com/denied.png", 0, 0)
	require.NoError(t, err)
	assert.NotNil(t, img)
}

func TestLoadSync(t *testing.T) {
	t.Parallel()

	net := &countingDownloader{payload: testPNG(t)}
	l := newTestLoader(t, net)

	img, err := l.LoadSync("https://example.com/sync.png", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.EqualValues(t, 1, net.calls.Load())

	// Second call hits the memory cache.
	_, err = l.LoadSync("https://example.com/sync.png", 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, net.calls.Load())
}

func TestPrefetchSharesDownloads(t *testing.T) {
	t.Parallel()

	net := &countingDownloader{payload: testPNG(t)}
	l := newTestLoader(t, net)

	uris := []string{
		"https://example.com/1.png",
		"https://example.com/2.png",
		"https://example.com/1.png",
	}
	require.NoError(t, l.Prefetch(uris...))
	assert.EqualValues(t, 2, net.calls.Load())

	// Display of a prefetched URI needs no further download.
	res := newResultListener()
	require.NoError(t, l.Display("https://example.com/1.png", NewImageTarget(0, 0), WithListener(res.listener())))
	res.wait(t)
	assert.EqualValues(t, 2, net.calls.Load())
	assert.Equal(t, FromDiskCache, res.lastFrom)
}

func TestStopRejectsNewRequests(t *testing.T) {
	t.Parallel()

	net := &countingDownloader{payload: testPNG(t)}
	l := newTestLoader(t, net)

	l.Stop()
	err := l.Display("https://example.com/late.png", NewImageTarget(0, 0))
	assert.ErrorIs(t, err, ErrStopped)
	_, err = l.LoadSync("https://example.com/late.png", 0, 0)
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, l.Prefetch("https://example.com/late.png"), ErrStopped)
}

func TestDisplayValidatesArguments(t *testing.T) {
	t.Parallel()

	net := &countingDownloader{payload: testPNG(t)}
	l := newTestLoader(t, net)

	assert.ErrorIs(t, l.Display("https://example.com/x.png", nil), ErrNilTarget)

	res := newResultListener()
	err := l.Display("", NewImageTarget(0, 0), WithListener(res.listener()))
	assert.ErrorIs(t, err, ErrEmptyURI)
	res.wait(t)
	_, failed, _ := res.counts()
	assert.Equal(t, 1, failed)
}

func TestFailImageShownOnFailure(t *testing.T) {
	t.Parallel()

	net := &countingDownloader{payload: []byte("not an image")}
	l := newTestLoader(t, net)

	fail := image.NewRGBA(image.Rect(0, 0, 1, 1))
	target := NewImageTarget(0, 0)
	res := newResultListener()
	require.NoError(t, l.Display("https://example.com/broken.png", target,
		WithListener(res.listener()), WithFailImage(fail)))
	res.wait(t)

	_, failed, _ := res.counts()
	require.Equal(t, 1, failed)
	assert.Equal(t, FailDecoding, res.lastFail.Type)
	assert.Equal(t, image.Image(fail), target.Image())
}
