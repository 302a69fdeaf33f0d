// Package contents measures how bright the picture on screen is, as a
// perceived luminance in [0,1].
package contents

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// ErrDisabled is returned by the "none" capturer.
var ErrDisabled = errors.New("screen contents capture disabled")

// Source yields the current screen luminance in [0,1]. Implementations are
// safe for concurrent use.
type Source interface {
	Luminance(ctx context.Context) (float64, error)
}

// Capturer names accepted by config.
const (
	CapturerNone    = "none"
	CapturerCommand = "command"
	CapturerFile    = "file"
)

// ValidCapturer reports whether name is a known capturer.
func ValidCapturer(name string) bool {
	switch name {
	case CapturerNone, CapturerCommand, CapturerFile:
		return true
	}
	return false
}

// Disabled never produces a reading.
type Disabled struct{}

func (Disabled) Luminance(context.Context) (float64, error) { return 0, ErrDisabled }

// maxSamples bounds the pixels visited per frame; full-resolution frames
// are strided.
const maxSamples = 128 * 128

// Luma is the perceived brightness of an RGB colour with channels in [0,1]
// (HSP model: sqrt(0.241 R² + 0.691 G² + 0.068 B²)).
func Luma(r, g, b float64) float64 {
	return math.Sqrt(0.241*r*r + 0.691*g*g + 0.068*b*b)
}

// FrameLuminance averages the frame's colour and returns its Luma.
// Fully transparent pixels are skipped.
func FrameLuminance(img image.Image) (float64, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return 0, fmt.Errorf("empty frame")
	}

	step := int(math.Ceil(math.Sqrt(float64(w*h) / maxSamples)))
	if step < 1 {
		step = 1
	}

	var r, g, b float64
	var n int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += step {
		for x := bounds.Min.X; x < bounds.Max.X; x += step {
			c, ok := colorful.MakeColor(img.At(x, y))
			if !ok {
				continue
			}
			r += c.R
			g += c.G
			b += c.B
			n++
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("frame is fully transparent")
	}

	l := Luma(r/float64(n), g/float64(n), b/float64(n))
	return math.Min(1, math.Max(0, l)), nil
}

// DecodeLuminance decodes a PNG or JPEG frame and measures it.
func DecodeLuminance(r io.Reader) (float64, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return 0, fmt.Errorf("failed to decode frame: %w", err)
	}
	if !strings.EqualFold(format, "png") && !strings.EqualFold(format, "jpeg") {
		return 0, fmt.Errorf("unsupported frame format %q", format)
	}
	return FrameLuminance(img)
}
