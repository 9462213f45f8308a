package htmlhost

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/liuxd6825/tabpilot/host"
)

// PixelColor is the color a capture shows at the document position x, y in
// CSS pixels. It varies along both axes so stitched captures can be checked
// pixel by pixel.
func PixelColor(x, y float64) color.RGBA {
	return color.RGBA{
		R: uint8(int(math.Floor(y)) / 4 % 256), //nolint:gosec
		G: uint8(int(math.Floor(x)) / 4 % 256), //nolint:gosec
		B: 0x80,
		A: 0xff,
	}
}

// CaptureVisible renders the viewport of the main frame of target as a
// data URL. Captures requested within CaptureInterval of the previous one
// are refused.
func (h *Host) CaptureVisible(ctx context.Context, target host.TargetID, opts host.CaptureOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	h.mu.Lock()
	_, f, err := h.frameLocked(target, host.MainFrameID)
	if err != nil {
		h.mu.Unlock()
		return "", err
	}
	now := h.clock.Now()
	if h.opts.CaptureInterval > 0 && !h.lastCapture.IsZero() && now.Sub(h.lastCapture) < h.opts.CaptureInterval {
		h.mu.Unlock()
		return "", host.ErrCaptureRateLimited
	}
	h.lastCapture = now
	m := f.doc.metrics()
	h.mu.Unlock()

	dpr := m.DevicePixelRatio
	w := int(math.Round(float64(m.ViewportWidth) * dpr))
	hgt := int(math.Round(float64(m.ViewportHeight) * dpr))
	img := image.NewRGBA(image.Rect(0, 0, w, hgt))
	for py := range hgt {
		y := m.ScrollY + float64(py)/dpr
		for px := range w {
			img.SetRGBA(px, py, PixelColor(m.ScrollX+float64(px)/dpr, y))
		}
	}

	var buf bytes.Buffer
	mime := "image/png"
	switch opts.Format {
	case "jpeg", "jpg":
		mime = "image/jpeg"
		q := opts.Quality
		if q <= 0 {
			q = 80
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: q})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return "", fmt.Errorf("encoding capture: %w", err)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
