/*
 *
 * tabpilot - a remote browser automation control plane
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/liuxd6825/tabpilot/api"
	"github.com/liuxd6825/tabpilot/host"
	"github.com/liuxd6825/tabpilot/log"
)

type screenshotter struct {
	limiter *CaptureLimiter
	settle  time.Duration
	logger  *log.Logger
}

func newScreenshotter(limiter *CaptureLimiter, settle time.Duration, logger *log.Logger) *screenshotter {
	return &screenshotter{limiter: limiter, settle: settle, logger: logger}
}

// screenshotFormat validates opts and returns the image format to encode.
func screenshotFormat(opts *api.ScreenshotOptions) (ImageFormat, error) {
	format := opts.Format
	// Infer file format by path
	if format == "" && opts.Path != "" {
		if strings.HasSuffix(opts.Path, ".jpg") || strings.HasSuffix(opts.Path, ".jpeg") {
			format = string(ImageFormatJPEG)
		}
	}
	f, err := ParseImageFormat(format)
	if err != nil {
		return "", err
	}
	if opts.Quality != 0 && f == ImageFormatPNG {
		return "", fmt.Errorf("%w: quality is unsupported for png screenshots", ErrInvalidOption)
	}
	if opts.Quality < 0 || opts.Quality > 100 {
		return "", fmt.Errorf("%w: quality must be between 0 and 100, got %d", ErrInvalidOption, opts.Quality)
	}
	if opts.Clip != nil {
		if opts.FullPage {
			return "", fmt.Errorf("%w: clip and fullPage are exclusive", ErrInvalidOption)
		}
		if opts.Clip.Width <= 0 || opts.Clip.Height <= 0 {
			return "", fmt.Errorf("%w: clip width and height must be positive", ErrInvalidOption)
		}
	}
	return f, nil
}

// segmentOffsets splits total into viewport sized segments. The last one
// is aligned to the end so no offset is fractional or past the end.
func segmentOffsets(total, viewport int) []int {
	if viewport <= 0 || total <= viewport {
		return []int{0}
	}
	n := (total + viewport - 1) / viewport
	offsets := make([]int, n)
	for i := range offsets {
		if i == n-1 {
			offsets[i] = max(0, total-viewport)
		} else {
			offsets[i] = i * viewport
		}
	}
	return offsets
}

func trimClipToSize(clip *api.Rect, width, height float64) (*api.Rect, error) {
	x1 := math.Max(0, math.Min(clip.X, width))
	y1 := math.Max(0, math.Min(clip.Y, height))
	x2 := math.Max(0, math.Min(clip.X+clip.Width, width))
	y2 := math.Max(0, math.Min(clip.Y+clip.Height, height))
	result := api.Rect{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
	if result.Width == 0 || result.Height == 0 {
		return nil, errors.New("clip area is either empty or outside the viewport")
	}
	return &result, nil
}

// scaleRect converts a rect in CSS pixels to device pixels.
func scaleRect(r *api.Rect, dpr float64) image.Rectangle {
	return image.Rect(
		int(math.Round(r.X*dpr)), int(math.Round(r.Y*dpr)),
		int(math.Round((r.X+r.Width)*dpr)), int(math.Round((r.Y+r.Height)*dpr)),
	)
}

func decodeDataURL(dataURL string) (image.Image, error) {
	i := strings.Index(dataURL, ",")
	if !strings.HasPrefix(dataURL, "data:") || i < 0 {
		return nil, errors.New("capture is not a data URL")
	}
	if !strings.HasSuffix(dataURL[:i], ";base64") {
		return nil, errors.New("capture is not base64 encoded")
	}
	b, err := base64.StdEncoding.DecodeString(dataURL[i+1:])
	if err != nil {
		return nil, fmt.Errorf("decoding capture: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decoding capture image: %w", err)
	}
	return img, nil
}

func encodeImage(img image.Image, format ImageFormat, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case ImageFormatJPEG:
		if quality == 0 {
			quality = DefaultJPEGQuality
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encoding jpeg: %w", err)
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding png: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// crop copies the part r of img into a new image.
func crop(img image.Image, r image.Rectangle) (image.Image, error) {
	r = r.Add(img.Bounds().Min).Intersect(img.Bounds())
	if r.Empty() {
		return nil, errors.New("clip area is outside the captured image")
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst, nil
}

// paste draws a captured segment onto canvas at the device pixel position
// at. Segments not matching the expected size, e.g. because of overlay
// scrollbars, are scaled to it.
func paste(canvas *image.RGBA, img image.Image, at image.Point, size image.Point) {
	r := image.Rectangle{Min: at, Max: at.Add(size)}
	if img.Bounds().Size() == size {
		draw.Draw(canvas, r, img, img.Bounds().Min, draw.Src)
		return
	}
	draw.ApproxBiLinear.Scale(canvas, r, img, img.Bounds(), draw.Src, nil)
}

func (s *screenshotter) captureVisible(p *Progress, target host.TargetID) (image.Image, error) {
	data, err := s.limiter.Capture(p, target, host.CaptureOptions{Format: string(ImageFormatPNG)})
	if err != nil {
		return nil, err
	}
	return decodeDataURL(data)
}

func (s *screenshotter) pageMetrics(p *Progress, ec *ExecutionContext) (*host.PageMetrics, error) {
	var m host.PageMetrics
	if err := ec.EvalInto(p, &m, host.OpPageMetrics); err != nil {
		return nil, fmt.Errorf("getting page metrics: %w", err)
	}
	if m.DevicePixelRatio <= 0 {
		m.DevicePixelRatio = 1
	}
	return &m, nil
}

func (s *screenshotter) scrollTo(p *Progress, ec *ExecutionContext, x, y float64) (host.Point, error) {
	var pt host.Point
	err := ec.EvalInto(p, &pt, host.OpScrollTo, x, y)
	return pt, err
}

// captureFullPage scrolls over the document segment by segment and stitches
// the captures. The scroll position is restored when done, even on errors.
func (s *screenshotter) captureFullPage(
	p *Progress, target host.TargetID, ec *ExecutionContext, m *host.PageMetrics,
) (_ image.Image, err error) {
	dpr := m.DevicePixelRatio
	xs := segmentOffsets(m.ScrollWidth, m.ViewportWidth)
	ys := segmentOffsets(m.ScrollHeight, m.ViewportHeight)
	p.Log("capturing %dx%d segments of %dx%d", len(xs), len(ys), m.ViewportWidth, m.ViewportHeight)

	defer func() {
		rp := NewProgress(context.WithoutCancel(p.Context()), "screenshot.restoreScroll", releaseTimeout, s.logger)
		defer rp.Close()
		if _, rerr := s.scrollTo(rp, ec, m.ScrollX, m.ScrollY); rerr != nil {
			s.logger.Debugf("screenshotter:captureFullPage", "tid:%d restoring scroll: %v", target, rerr)
		}
	}()

	canvas := image.NewRGBA(image.Rect(0, 0,
		int(math.Round(float64(m.ScrollWidth)*dpr)), int(math.Round(float64(m.ScrollHeight)*dpr))))
	segment := image.Pt(
		int(math.Round(float64(min(m.ViewportWidth, m.ScrollWidth))*dpr)),
		int(math.Round(float64(min(m.ViewportHeight, m.ScrollHeight))*dpr)),
	)
	for _, y := range ys {
		for _, x := range xs {
			pt, err := s.scrollTo(p, ec, float64(x), float64(y))
			if err != nil {
				return nil, fmt.Errorf("scrolling to %d,%d: %w", x, y, err)
			}
			if err := p.Sleep(s.settle); err != nil {
				return nil, err
			}
			img, err := s.captureVisible(p, target)
			if err != nil {
				return nil, err
			}
			at := image.Pt(int(math.Round(pt.X*dpr)), int(math.Round(pt.Y*dpr)))
			paste(canvas, img, at, segment)
		}
	}
	return canvas, nil
}

func (s *screenshotter) save(path string, buf []byte) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return fmt.Errorf("creating directory for screenshot: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o664); err != nil { //nolint:gosec
		return fmt.Errorf("saving screenshot to file: %w", err)
	}
	return nil
}

func (s *screenshotter) screenshotPage(p *Progress, page *Page, opts *api.ScreenshotOptions) ([]byte, error) {
	format, err := screenshotFormat(opts)
	if err != nil {
		return nil, err
	}
	ec, err := page.frameManager.MainFrame().executionContext(p, host.UtilityWorld)
	if err != nil {
		return nil, err
	}
	m, err := s.pageMetrics(p, ec)
	if err != nil {
		return nil, err
	}

	var img image.Image
	if opts.FullPage && (m.ScrollWidth > m.ViewportWidth || m.ScrollHeight > m.ViewportHeight) {
		img, err = s.captureFullPage(p, page.targetID, ec, m)
	} else {
		img, err = s.captureVisible(p, page.targetID)
		if err == nil && opts.Clip != nil {
			var clip *api.Rect
			if clip, err = trimClipToSize(opts.Clip, float64(m.ViewportWidth), float64(m.ViewportHeight)); err == nil {
				img, err = crop(img, scaleRect(clip, m.DevicePixelRatio))
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot of page %q: %w", page.URL(), err)
	}

	buf, err := encodeImage(img, format, opts.Quality)
	if err != nil {
		return nil, err
	}
	return buf, s.save(opts.Path, buf)
}

// screenshotElement captures the box of h. The box is relative to the
// viewport of the frame of h, so only elements of the main frame are
// captured accurately.
func (s *screenshotter) screenshotElement(p *Progress, h *ElementHandle, opts *api.ScreenshotOptions) ([]byte, error) {
	if opts.FullPage || opts.Clip != nil {
		return nil, fmt.Errorf("%w: fullPage and clip are unsupported for element screenshots", ErrInvalidOption)
	}
	format, err := screenshotFormat(opts)
	if err != nil {
		return nil, err
	}
	if err := h.evalDone(p, host.OpScrollIntoView); err != nil {
		return nil, err
	}
	box, err := h.boundingBox(p)
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, errors.New("node is either not visible or not an HTMLElement")
	}
	if box.Width <= 0 {
		return nil, errors.New("node has 0 width")
	}
	if box.Height <= 0 {
		return nil, errors.New("node has 0 height")
	}

	m, err := s.pageMetrics(p, h.execCtx)
	if err != nil {
		return nil, err
	}
	clip, err := trimClipToSize(box, float64(m.ViewportWidth), float64(m.ViewportHeight))
	if err != nil {
		return nil, err
	}
	img, err := s.captureVisible(p, h.frame.page.targetID)
	if err != nil {
		return nil, err
	}
	if img, err = crop(img, scaleRect(clip, m.DevicePixelRatio)); err != nil {
		return nil, err
	}

	buf, err := encodeImage(img, format, opts.Quality)
	if err != nil {
		return nil, err
	}
	return buf, s.save(opts.Path, buf)
}
