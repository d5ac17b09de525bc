package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/kiesman99/rasterpeek/pkg/raster"
)

// DefaultMaxValue is the top of the typical surface reflectance range
const DefaultMaxValue = 4000.0

// Normalization scales raw band values into 8 bits
type Normalization struct {
	// MaxValue maps to 255
	MaxValue float64
	// Saturate clamps out-of-range values to [0, 255]. When false values
	// wrap modulo 256 like an unchecked integer cast.
	Saturate bool
}

// DefaultNormalization scales [0, 4000] onto [0, 255] and wraps overflow
var DefaultNormalization = Normalization{MaxValue: DefaultMaxValue}

// Apply converts a single value
func (n Normalization) Apply(v float64) uint8 {
	if math.IsNaN(v) {
		return 0
	}

	scaled := math.Trunc(v * (255 / n.maxValue()))

	if n.Saturate {
		switch {
		case scaled <= 0:
			return 0
		case scaled >= 255:
			return 255
		}
		return uint8(scaled)
	}

	if math.IsInf(scaled, 0) {
		return 0
	}
	wrapped := math.Mod(scaled, 256)
	if wrapped < 0 {
		wrapped += 256
	}
	return uint8(wrapped)
}

func (n Normalization) maxValue() float64 {
	if n.MaxValue <= 0 {
		return DefaultMaxValue
	}
	return n.MaxValue
}

// Compose normalizes three bands and packs them into an opaque RGB image,
// channels in argument order.
func Compose(red, green, blue *raster.Band, n Normalization) (*image.NRGBA, error) {
	for _, b := range []*raster.Band{red, green, blue} {
		if b == nil {
			return nil, fmt.Errorf("missing band for RGB composite")
		}
		if len(b.Data) != b.Width*b.Height {
			return nil, fmt.Errorf("band %d holds %d values, expected %dx%d", b.Index, len(b.Data), b.Width, b.Height)
		}
	}
	if red.Width != green.Width || red.Width != blue.Width ||
		red.Height != green.Height || red.Height != blue.Height {
		return nil, fmt.Errorf("band sizes differ: %dx%d, %dx%d, %dx%d",
			red.Width, red.Height, green.Width, green.Height, blue.Width, blue.Height)
	}

	width, height := red.Width, red.Height
	img := image.NewNRGBA(image.Rect(0, 0, width, height))

	for i := 0; i < width*height; i++ {
		idx := i * 4
		img.Pix[idx] = n.Apply(red.Data[i])
		img.Pix[idx+1] = n.Apply(green.Data[i])
		img.Pix[idx+2] = n.Apply(blue.Data[i])
		img.Pix[idx+3] = 255
	}

	return img, nil
}

// Fit shrinks img so neither side exceeds resolution, keeping the aspect
// ratio. Images already small enough are returned unscaled.
func Fit(img image.Image, resolution int) (*image.NRGBA, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("resolution must be a positive integer, got %d", resolution)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("cannot resize empty image")
	}

	w, h := FitSize(b.Dx(), b.Dy(), resolution)
	if w == b.Dx() && h == b.Dy() {
		return imaging.Clone(img), nil
	}
	return imaging.Resize(img, w, h, imaging.Box), nil
}

// FitSize returns the thumbnail size for a width x height source bounded by
// a resolution x resolution box. The scaled side is floored or ceiled,
// whichever keeps the aspect ratio closer, and is at least 1.
func FitSize(width, height, resolution int) (int, int) {
	if width <= resolution && height <= resolution {
		return width, height
	}

	aspect := float64(width) / float64(height)
	r := float64(resolution)

	if aspect <= 1 {
		w := closestSide(r*aspect, func(n float64) float64 { return math.Abs(aspect - n/r) })
		return w, resolution
	}
	h := closestSide(r/aspect, func(n float64) float64 {
		if n == 0 {
			return 0
		}
		return math.Abs(aspect - r/n)
	})
	return resolution, h
}

// closestSide picks floor(x) or ceil(x) by the lower distance, floor on ties
func closestSide(x float64, distance func(float64) float64) int {
	lo, hi := math.Floor(x), math.Ceil(x)
	n := lo
	if distance(hi) < distance(lo) {
		n = hi
	}
	if n < 1 {
		return 1
	}
	return int(n)
}

// EncodePNG encodes the image as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var output bytes.Buffer
	if err := imaging.Encode(&output, img, imaging.PNG); err != nil {
		return nil, err
	}
	return output.Bytes(), nil
}
