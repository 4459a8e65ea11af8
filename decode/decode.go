// Package decode turns downloaded bytes into images, scaled toward the
// display target. PNG, JPEG and GIF are registered by default; callers can
// register further formats through the stdlib image package.
package decode

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/meigma/imgload/download"
)

// ErrUndecodable is wrapped into errors for byte streams no registered
// format can decode.
var ErrUndecodable = errors.New("decode: undecodable image data")

// maxSafeDimension caps ScaleNoneSafe output; textures beyond this size
// commonly fail to upload on mobile GPUs.
const maxSafeDimension = 2048

// ScaleType selects how a decoded image is reduced toward the target size.
type ScaleType int

const (
	// ScaleNone keeps the decoded size.
	ScaleNone ScaleType = iota
	// ScaleNoneSafe only shrinks images that exceed the safe texture
	// size, by an integer factor.
	ScaleNoneSafe
	// ScaleSamplePowerOf2 halves the image until the next halving would
	// undershoot the target. Fast; the usual choice for lists and grids.
	ScaleSamplePowerOf2
	// ScaleSampleInt subsamples by an integer factor.
	ScaleSampleInt
	// ScaleExactly scales down, keeping the aspect ratio, until one side
	// matches the target (which side depends on the ViewScale); smaller
	// images are left alone.
	ScaleExactly
	// ScaleExactlyStretched scales like ScaleExactly but also stretches
	// smaller images up to the target.
	ScaleExactlyStretched
)

// ViewScale describes how the target surface fits the image.
type ViewScale int

const (
	// ViewScaleFitInside sizes the image to fit entirely inside the
	// target.
	ViewScaleFitInside ViewScale = iota
	// ViewScaleCrop sizes the image to fill the target, cropping the
	// excess.
	ViewScaleCrop
)

// Size is a target size in pixels. A zero Size disables scaling.
type Size struct {
	Width  int
	Height int
}

func (s Size) zero() bool { return s.Width <= 0 || s.Height <= 0 }

// Request carries everything needed to decode one image.
type Request struct {
	// Key identifies the request in logs and caches.
	Key string

	// URI is the location the bytes are obtained from. After a download
	// has been cached this is a file:// URI for the cached file.
	URI string

	// OriginalURI is the URI the user asked for.
	OriginalURI string

	TargetSize Size
	ScaleType  ScaleType
	ViewScale  ViewScale

	// Downloader supplies the byte stream for URI.
	Downloader download.Downloader

	// Extra is passed through to the downloader.
	Extra any
}

// Decoder produces a display-ready image for a request.
type Decoder interface {
	Decode(req Request) (image.Image, error)
}

// Default decodes with the stdlib image registry and scales with a
// nearest-neighbor resampler.
type Default struct{}

// NewDefault creates the stdlib-backed decoder.
func NewDefault() *Default { return &Default{} }

// Decode implements Decoder.
func (d *Default) Decode(req Request) (image.Image, error) {
	if req.Downloader == nil {
		return nil, fmt.Errorf("decode: no downloader for %q", req.URI)
	}
	rc, err := req.Downloader.Stream(req.URI, req.Extra)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", req.Key, errors.Join(ErrUndecodable, err))
	}

	src := Size{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
	dst := scaledSize(src, req.TargetSize, req.ScaleType, req.ViewScale)
	if dst == src {
		return img, nil
	}
	return resample(img, dst), nil
}

// scaledSize computes the output size for a decoded image.
func scaledSize(src, target Size, scaleType ScaleType, viewScale ViewScale) Size {
	switch scaleType {
	case ScaleNone:
		return src
	case ScaleNoneSafe:
		k := 1
		for src.Width/k > maxSafeDimension || src.Height/k > maxSafeDimension {
			k++
		}
		return subsampled(src, k)
	case ScaleSamplePowerOf2:
		if target.zero() {
			return src
		}
		// Halve while the next halving still meets the target.
		k := 1
		for atLeast(subsampled(src, k*2), target, viewScale) {
			k *= 2
		}
		return subsampled(src, k)
	case ScaleSampleInt:
		if target.zero() {
			return src
		}
		return subsampled(src, sampleFactor(src, target, viewScale))
	case ScaleExactly:
		if target.zero() || !exceeds(src, target, viewScale) {
			return src
		}
		return exactSize(src, target, viewScale)
	case ScaleExactlyStretched:
		if target.zero() {
			return src
		}
		return exactSize(src, target, viewScale)
	default:
		return src
	}
}

// exceeds reports whether src is still larger than the target under the
// given fit mode.
func exceeds(src, target Size, viewScale ViewScale) bool {
	if viewScale == ViewScaleCrop {
		return src.Width > target.Width && src.Height > target.Height
	}
	return src.Width > target.Width || src.Height > target.Height
}

// atLeast reports whether src still meets the target under the given fit
// mode, counting an exact match as meeting it.
func atLeast(src, target Size, viewScale ViewScale) bool {
	if viewScale == ViewScaleCrop {
		return src.Width >= target.Width && src.Height >= target.Height
	}
	return src.Width >= target.Width || src.Height >= target.Height
}

// sampleFactor returns the integer subsample factor bringing src toward
// target.
func sampleFactor(src, target Size, viewScale ViewScale) int {
	wk := src.Width / target.Width
	hk := src.Height / target.Height
	var k int
	if viewScale == ViewScaleCrop {
		k = min(wk, hk)
	} else {
		k = max(wk, hk)
	}
	if k < 1 {
		k = 1
	}
	return k
}

func subsampled(src Size, k int) Size {
	if k <= 1 {
		return src
	}
	return Size{Width: max(1, src.Width/k), Height: max(1, src.Height/k)}
}

// exactSize scales src to the target, preserving aspect ratio.
func exactSize(src, target Size, viewScale ViewScale) Size {
	wRatio := float64(target.Width) / float64(src.Width)
	hRatio := float64(target.Height) / float64(src.Height)
	ratio := wRatio
	if (viewScale == ViewScaleFitInside && hRatio < wRatio) ||
		(viewScale == ViewScaleCrop && hRatio > wRatio) {
		ratio = hRatio
	}
	return Size{
		Width:  max(1, int(float64(src.Width)*ratio)),
		Height: max(1, int(float64(src.Height)*ratio)),
	}
}

// resample produces a dst-sized RGBA image via nearest-neighbor sampling.
// Quality is secondary here: scaling exists to bound memory, and callers
// wanting filtered scaling can plug in their own Decoder.
func resample(src image.Image, dst Size) image.Image {
	out := image.NewRGBA(image.Rect(0, 0, dst.Width, dst.Height))
	b := src.Bounds()
	for y := 0; y < dst.Height; y++ {
		sy := b.Min.Y + y*b.Dy()/dst.Height
		for x := 0; x < dst.Width; x++ {
			sx := b.Min.X + x*b.Dx()/dst.Width
			out.Set(x, y, src.At(sx, sy))
		}
	}
	return out
}
