package common

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/log"
)

func TestSegmentOffsets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		total, viewport int
		want            []int
	}{
		{2500, 1000, []int{0, 1000, 1500}},
		{2000, 1000, []int{0, 1000}},
		{2001, 1000, []int{0, 1000, 1001}},
		{1000, 1000, []int{0}},
		{500, 1000, []int{0}},
		{500, 0, []int{0}},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, segmentOffsets(tc.total, tc.viewport), "total:%d viewport:%d", tc.total, tc.viewport)
	}
}

func TestScreenshotFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    api.ScreenshotOptions
		want    ImageFormat
		wantErr string
	}{
		{name: "default", want: ImageFormatPNG},
		{name: "jpeg", opts: api.ScreenshotOptions{Format: "jpeg", Quality: 50}, want: ImageFormatJPEG},
		{name: "from_path", opts: api.ScreenshotOptions{Path: "shots/a.jpg"}, want: ImageFormatJPEG},
		{name: "explicit_wins_over_path", opts: api.ScreenshotOptions{Format: "png", Path: "a.jpg"}, want: ImageFormatPNG},
		{name: "unknown", opts: api.ScreenshotOptions{Format: "gif"}, wantErr: "unknown image format"},
		{name: "png_quality", opts: api.ScreenshotOptions{Quality: 50}, wantErr: "quality is unsupported"},
		{name: "quality_range", opts: api.ScreenshotOptions{Format: "jpeg", Quality: 101}, wantErr: "between 0 and 100"},
		{
			name:    "clip_and_full_page",
			opts:    api.ScreenshotOptions{FullPage: true, Clip: &api.Rect{Width: 1, Height: 1}},
			wantErr: "exclusive",
		},
		{name: "empty_clip", opts: api.ScreenshotOptions{Clip: &api.Rect{Width: 10}}, wantErr: "must be positive"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := screenshotFormat(&tc.opts)
			if tc.wantErr != "" {
				require.ErrorIs(t, err, ErrInvalidOption)
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTrimClipToSize(t *testing.T) {
	t.Parallel()

	got, err := trimClipToSize(&api.Rect{X: -10, Y: 20, Width: 50, Height: 200}, 100, 100)
	require.NoError(t, err)
	assert.Equal(t, &api.Rect{X: 0, Y: 20, Width: 40, Height: 80}, got)

	_, err = trimClipToSize(&api.Rect{X: 150, Y: 0, Width: 10, Height: 10}, 100, 100)
	assert.ErrorContains(t, err, "outside the viewport")
}

func TestScaleRect(t *testing.T) {
	t.Parallel()

	assert.Equal(t, image.Rect(20, 40, 220, 140), scaleRect(&api.Rect{X: 10, Y: 20, Width: 100, Height: 50}, 2))
}

func filledImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestCropAndPaste(t *testing.T) {
	t.Parallel()

	red := color.RGBA{R: 0xff, A: 0xff}
	blue := color.RGBA{B: 0xff, A: 0xff}

	src := filledImage(10, 10, red)
	src.SetRGBA(5, 5, blue)

	out, err := crop(src, image.Rect(5, 5, 8, 8))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(3, 3), out.Bounds().Size())
	assert.Equal(t, blue, color.RGBAModel.Convert(out.At(0, 0)))
	assert.Equal(t, red, color.RGBAModel.Convert(out.At(1, 1)))

	_, err = crop(src, image.Rect(20, 20, 30, 30))
	assert.Error(t, err)

	canvas := image.NewRGBA(image.Rect(0, 0, 20, 20))
	paste(canvas, filledImage(10, 10, blue), image.Pt(10, 10), image.Pt(10, 10))
	assert.Equal(t, blue, canvas.RGBAAt(15, 15))
	assert.Equal(t, color.RGBA{}, canvas.RGBAAt(5, 5))

	// Segments of another size are scaled to fit.
	paste(canvas, filledImage(4, 4, red), image.Pt(0, 0), image.Pt(10, 10))
	assert.Equal(t, red, canvas.RGBAAt(9, 9))
	assert.Equal(t, blue, canvas.RGBAAt(10, 10))
}

func TestDecodeDataURL(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, filledImage(3, 2, color.RGBA{G: 0xff, A: 0xff})))

	img, err := decodeDataURL("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(3, 2), img.Bounds().Size())

	for _, bad := range []string{
		"image/png;base64,AAAA",
		"data:image/png,AAAA",
		"data:image/png;base64,!!!",
		"data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("not an image")),
	} {
		_, err := decodeDataURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestEncodeImage(t *testing.T) {
	t.Parallel()

	img := filledImage(4, 4, color.RGBA{R: 0x80, A: 0xff})

	b, err := encodeImage(img, ImageFormatPNG, 0)
	require.NoError(t, err)
	_, format, err := image.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	b, err = encodeImage(img, ImageFormatJPEG, 0)
	require.NoError(t, err)
	_, format, err = image.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestScreenshotterSave(t *testing.T) {
	t.Parallel()

	s := newScreenshotter(nil, 0, log.NewNullLogger())
	require.NoError(t, s.save("", []byte("x")))

	path := filepath.Join(t.TempDir(), "nested", "shot.png")
	require.NoError(t, s.save(path, []byte("x")))
	assert.FileExists(t, path)
}
