// Package frame defines the timestamped image and spectrum values passed
// between the acquisition, reduction and container stages.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"
)

// ErrCropOutOfBounds is returned when a crop rectangle does not lie entirely
// inside the source image.
var ErrCropOutOfBounds = errors.New("crop rectangle outside frame bounds")

// Timestamped wraps a value with the time window of the photons it was built
// from. Start is at or before the first contributing photon and End at or
// after the last one.
type Timestamped[T any] struct {
	Start time.Time
	End   time.Time
	Data  T
}

// RGBImage is a packed 8-bit RGB image. Pix holds Width*Height*3 bytes in
// row-major order.
type RGBImage struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewRGBImage allocates a black image of the given size.
func NewRGBImage(width, height int) *RGBImage {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &RGBImage{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}
}

// offset returns the index of the first channel of pixel (x, y).
func (m *RGBImage) offset(x, y int) int {
	return (y*m.Width + x) * 3
}

// At returns the channel values of pixel (x, y).
func (m *RGBImage) At(x, y int) (r, g, b uint8) {
	i := m.offset(x, y)
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

// Set writes the channel values of pixel (x, y).
func (m *RGBImage) Set(x, y int, r, g, b uint8) {
	i := m.offset(x, y)
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = r, g, b
}

// FlipHorizontal mirrors the image in place around its vertical axis.
func (m *RGBImage) FlipHorizontal() {
	for y := 0; y < m.Height; y++ {
		for l, r := 0, m.Width-1; l < r; l, r = l+1, r-1 {
			li, ri := m.offset(l, y), m.offset(r, y)
			m.Pix[li], m.Pix[ri] = m.Pix[ri], m.Pix[li]
			m.Pix[li+1], m.Pix[ri+1] = m.Pix[ri+1], m.Pix[li+1]
			m.Pix[li+2], m.Pix[ri+2] = m.Pix[ri+2], m.Pix[li+2]
		}
	}
}

// Crop copies the rectangle r out of the image. The rectangle must lie within
// the image bounds.
func (m *RGBImage) Crop(r image.Rectangle) (*RGBImage, error) {
	bounds := image.Rect(0, 0, m.Width, m.Height)
	if r.Empty() || !r.In(bounds) {
		return nil, fmt.Errorf("%w: %v not in %v", ErrCropOutOfBounds, r, bounds)
	}
	out := NewRGBImage(r.Dx(), r.Dy())
	rowBytes := r.Dx() * 3
	for y := 0; y < r.Dy(); y++ {
		src := m.offset(r.Min.X, r.Min.Y+y)
		copy(out.Pix[y*rowBytes:(y+1)*rowBytes], m.Pix[src:src+rowBytes])
	}
	return out, nil
}

// Clone returns a deep copy of the image.
func (m *RGBImage) Clone() *RGBImage {
	out := &RGBImage{Width: m.Width, Height: m.Height, Pix: make([]uint8, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

// ToRGBA converts the image for use with the image/* encoders.
func (m *RGBImage) ToRGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			r, g, b := m.At(x, y)
			out.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xff})
		}
	}
	return out
}

// SpectrumPoint is a single (wavelength, value) sample, used for spectrum
// channels, peaks, and reference curves.
type SpectrumPoint struct {
	Wavelength float64 `json:"wavelength"`
	Value      float64 `json:"value"`
}
