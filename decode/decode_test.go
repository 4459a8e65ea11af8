package decode

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDownloader serves a fixed byte payload for any URI.
type stubDownloader struct {
	payload []byte
}

func (d stubDownloader) Stream(uri string, extra any) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(d.payload)), nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestDecodeKeepsSizeWithoutTarget(t *testing.T) {
	t.Parallel()

	d := NewDefault()
	img, err := d.Decode(Request{
		Key:        "k",
		URI:        "https://example.com/a.png",
		Downloader: stubDownloader{payload: pngBytes(t, 64, 48)},
		ScaleType:  ScaleNone,
	})
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestDecodeSamplePowerOf2(t *testing.T) {
	t.Parallel()

	d := NewDefault()
	img, err := d.Decode(Request{
		Key:        "k",
		URI:        "https://example.com/a.png",
		Downloader: stubDownloader{payload: pngBytes(t, 400, 400)},
		TargetSize: Size{Width: 100, Height: 100},
		ScaleType:  ScaleSamplePowerOf2,
		ViewScale:  ViewScaleFitInside,
	})
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())
}

func TestDecodeExactlyDoesNotUpscale(t *testing.T) {
	t.Parallel()

	d := NewDefault()
	img, err := d.Decode(Request{
		Key:        "k",
		URI:        "https://example.com/a.png",
		Downloader: stubDownloader{payload: pngBytes(t, 50, 50)},
		TargetSize: Size{Width: 200, Height: 200},
		ScaleType:  ScaleExactly,
	})
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
}

func TestDecodeExactlyStretchedUpscales(t *testing.T) {
	t.Parallel()

	d := NewDefault()
	img, err := d.Decode(Request{
		Key:        "k",
		URI:        "https://example.com/a.png",
		Downloader: stubDownloader{payload: pngBytes(t, 50, 25)},
		TargetSize: Size{Width: 200, Height: 200},
		ScaleType:  ScaleExactlyStretched,
		ViewScale:  ViewScaleFitInside,
	})
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	d := NewDefault()
	_, err := d.Decode(Request{
		Key:        "k",
		URI:        "https://example.com/a.png",
		Downloader: stubDownloader{payload: []byte("not an image")},
	})
	require.Error(t, err)
}

func TestScaledSizeTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		src       Size
		target    Size
		scaleType ScaleType
		viewScale ViewScale
		want      Size
	}{
		{"none ignores target", Size{800, 600}, Size{100, 100}, ScaleNone, ViewScaleFitInside, Size{800, 600}},
		{"safe caps huge images", Size{8192, 4096}, Size{}, ScaleNoneSafe, ViewScaleFitInside, Size{2048, 1024}},
		{"safe keeps small images", Size{1024, 768}, Size{}, ScaleNoneSafe, ViewScaleFitInside, Size{1024, 768}},
		{"pow2 fit", Size{1000, 1000}, Size{150, 150}, ScaleSamplePowerOf2, ViewScaleFitInside, Size{250, 250}},
		{"int fit", Size{1000, 500}, Size{100, 100}, ScaleSampleInt, ViewScaleFitInside, Size{100, 50}},
		{"int crop", Size{1000, 500}, Size{100, 100}, ScaleSampleInt, ViewScaleCrop, Size{200, 100}},
		{"exact crop fills", Size{1000, 500}, Size{100, 100}, ScaleExactly, ViewScaleCrop, Size{200, 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, scaledSize(tc.src, tc.target, tc.scaleType, tc.viewScale))
		})
	}
}
