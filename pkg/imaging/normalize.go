package imaging

import (
	"math"

	"github.com/nfnt/resize"
)

// DefaultMaxWidth bounds the width handed to the face detector.
const DefaultMaxWidth = 250

// Normalize downsamples img to maxWidth when it is wider, preserving the
// aspect ratio with Lanczos-3 resampling. Narrower images are returned as is,
// so Normalize is idempotent and never increases width.
func Normalize(img *Raster, maxWidth int) *Raster {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}

	width, height := img.Width(), img.Height()
	if width <= maxWidth {
		return img
	}

	ratio := float64(maxWidth) / float64(width)
	newHeight := int(math.Round(float64(height) * ratio))
	if newHeight < 1 {
		newHeight = 1
	}

	resized := resize.Resize(uint(maxWidth), uint(newHeight), img.img, resize.Lanczos3)
	return &Raster{img: resized, format: img.format}
}
