// Package imaging turns request-supplied image sources into decoded rasters
// and normalizes them to a bounded size before face detection.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrEmptyImage is returned when a decoded image has no pixels.
var ErrEmptyImage = errors.New("image has zero width or height")

// ErrNoData is returned when there are no bytes to decode.
var ErrNoData = errors.New("no image data")

// ErrTooManyPixels is returned when an image header declares more pixels
// than the decode limit.
var ErrTooManyPixels = errors.New("image dimensions exceed pixel limit")

// DefaultMaxPixels bounds width*height of a decoded image.
const DefaultMaxPixels int64 = 40_000_000

// Raster is a decoded in-memory image. It is never mutated; normalization
// returns a new Raster.
type Raster struct {
	img    image.Image
	format string
}

// NewRaster wraps an already decoded image.
func NewRaster(img image.Image, format string) (*Raster, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrEmptyImage
	}
	return &Raster{img: img, format: format}, nil
}

// Decode decodes JPEG, PNG, GIF, BMP, TIFF or WebP bytes into a Raster.
// The header is checked against maxPixels before any pixel buffer is
// allocated; maxPixels <= 0 selects DefaultMaxPixels.
func Decode(data []byte, maxPixels int64) (*Raster, error) {
	if len(data) == 0 {
		return nil, ErrNoData
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot identify image file: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot identify image file: %w", err)
	}
	return NewRaster(img, format)
}

// Width returns the width in pixels.
func (r *Raster) Width() int { return r.img.Bounds().Dx() }

// Height returns the height in pixels.
func (r *Raster) Height() int { return r.img.Bounds().Dy() }

// Format returns the name of the source encoding ("jpeg", "png", ...).
func (r *Raster) Format() string { return r.format }

// JPEG encodes the raster as a baseline JPEG, the only input format the
// dlib loader accepts. Alpha is dropped by the encoder.
func (r *Raster) JPEG() ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, r.img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
