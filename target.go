package imgload

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/meigma/imgload/decode"
)

// Target is the display surface an image is loaded into. A target's
// identity (ID) is how the loader detects reuse: submitting a new request
// for the same ID cancels the older one at its next checkpoint.
type Target interface {
	// ID identifies the display surface. Two requests with equal IDs
	// compete; the newer one wins.
	ID() int64

	// Size is the desired decode size. A zero size disables scaling.
	Size() decode.Size

	// ViewScale describes how the surface fits the image.
	ViewScale() decode.ViewScale

	// SetImage displays img. Called from the loader's dispatcher.
	SetImage(img image.Image)

	// IsCollected reports that the underlying surface is gone and the
	// request should be cancelled. Wrappers over UI views report their
	// view's lifetime here.
	IsCollected() bool
}

var nextTargetID atomic.Int64

// NextTargetID allocates an identity for custom Target implementations.
func NextTargetID() int64 {
	return nextTargetID.Add(1)
}

// ImageTarget is a plain in-memory target: it stores the loaded image and
// can be marked collected by hand. It backs Load and is convenient in
// tests and headless use.
type ImageTarget struct {
	id        int64
	size      decode.Size
	viewScale decode.ViewScale
	collected atomic.Bool

	mu  sync.Mutex
	img image.Image
}

// NewImageTarget creates a target with the given desired size. A zero
// width and height disable scaling.
func NewImageTarget(width, height int) *ImageTarget {
	return &ImageTarget{
		id:   NextTargetID(),
		size: decode.Size{Width: width, Height: height},
	}
}

func (t *ImageTarget) ID() int64                   { return t.id }
func (t *ImageTarget) Size() decode.Size           { return t.size }
func (t *ImageTarget) ViewScale() decode.ViewScale { return t.viewScale }
func (t *ImageTarget) IsCollected() bool           { return t.collected.Load() }

// SetViewScale changes how the image is fitted. Call before submitting.
func (t *ImageTarget) SetViewScale(vs decode.ViewScale) { t.viewScale = vs }

func (t *ImageTarget) SetImage(img image.Image) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.img = img
}

// Image returns the last displayed image.
func (t *ImageTarget) Image() image.Image {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.img
}

// MarkCollected makes the target report collection, cancelling any
// in-flight request at its next checkpoint.
func (t *ImageTarget) MarkCollected() { t.collected.Store(true) }
