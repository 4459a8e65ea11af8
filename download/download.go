// Package download fetches image bytes for a URI. The HTTP downloader is
// the default; wrappers adjust its behavior for denied or slow networks.
package download

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
)

// Sentinel errors.
var (
	// ErrNetworkDenied is returned when network downloads are disabled
	// and the URI requires one.
	ErrNetworkDenied = errors.New("download: network downloads are denied")

	// ErrUnsupportedScheme is returned for URIs no downloader handles.
	ErrUnsupportedScheme = errors.New("download: unsupported URI scheme")
)

// Downloader retrieves the raw bytes behind a URI. extra is passed through
// from the display request and is downloader-specific.
type Downloader interface {
	Stream(uri string, extra any) (io.ReadCloser, error)
}

// IsNetworkURI reports whether uri requires network access.
func IsNetworkURI(uri string) bool {
	switch scheme(uri) {
	case "http", "https":
		return true
	default:
		return false
	}
}

func scheme(uri string) string {
	if i := strings.Index(uri, "://"); i > 0 {
		return strings.ToLower(uri[:i])
	}
	return ""
}

// HTTP downloads http(s) URIs with an injectable client and serves file://
// URIs from the local filesystem. Responses are transparently
// gzip-decompressed.
type HTTP struct {
	client *http.Client
}

// HTTPOption configures an HTTP downloader.
type HTTPOption func(*HTTP)

// WithClient sets the http.Client used for network URIs. The client's
// transport is wrapped for transparent gzip.
func WithClient(client *http.Client) HTTPOption {
	return func(d *HTTP) {
		d.client = client
	}
}

// NewHTTP creates the default downloader.
func NewHTTP(opts ...HTTPOption) *HTTP {
	d := &HTTP{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: 30 * time.Second}
	}
	transport := d.client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	d.client = &http.Client{
		Transport:     gzhttp.Transport(transport),
		CheckRedirect: d.client.CheckRedirect,
		Jar:           d.client.Jar,
		Timeout:       d.client.Timeout,
	}
	return d
}

// Stream implements Downloader. The extra value, when it is an
// http.Header, is merged into the request headers.
func (d *HTTP) Stream(uri string, extra any) (io.ReadCloser, error) {
	switch scheme(uri) {
	case "http", "https":
		return d.streamNetwork(uri, extra)
	case "file":
		return streamFile(uri)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, uri)
	}
}

func (d *HTTP) streamNetwork(uri string, extra any) (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	if headers, ok := extra.(http.Header); ok {
		for k, vs := range headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download: %s returned status %d", uri, resp.StatusCode)
	}
	return resp.Body, nil
}

func streamFile(uri string) (io.ReadCloser, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	return os.Open(u.Path)
}

// DenyNetwork wraps d so network URIs fail with ErrNetworkDenied while
// local schemes keep working.
func DenyNetwork(d Downloader) Downloader {
	return deniedDownloader{d}
}

type deniedDownloader struct {
	wrapped Downloader
}

func (d deniedDownloader) Stream(uri string, extra any) (io.ReadCloser, error) {
	if IsNetworkURI(uri) {
		return nil, ErrNetworkDenied
	}
	return d.wrapped.Stream(uri, extra)
}

// SlowNetworkChunk is the read cap applied by SlowNetwork streams.
const SlowNetworkChunk = 4 * 1024

// SlowNetwork wraps d so network streams are read in small chunks, keeping
// progress callbacks responsive on poor connections.
func SlowNetwork(d Downloader) Downloader {
	return slowDownloader{d}
}

type slowDownloader struct {
	wrapped Downloader
}

func (d slowDownloader) Stream(uri string, extra any) (io.ReadCloser, error) {
	rc, err := d.wrapped.Stream(uri, extra)
	if err != nil || !IsNetworkURI(uri) {
		return rc, err
	}
	return &cappedReader{rc: rc}, nil
}

// cappedReader limits each Read to SlowNetworkChunk bytes.
type cappedReader struct {
	rc io.ReadCloser
}

func (r *cappedReader) Read(p []byte) (int, error) {
	if len(p) > SlowNetworkChunk {
		p = p[:SlowNetworkChunk]
	}
	return r.rc.Read(p)
}

func (r *cappedReader) Close() error { return r.rc.Close() }
