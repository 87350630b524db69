package camera

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/frame"
	"github.com/banshee-data/spectro.cam/internal/reference"
	"github.com/banshee-data/spectro.cam/internal/timeutil"
)

// Synthetic scene parameters: columns span syntheticLow..syntheticHigh nm.
const (
	syntheticLow  = 380.0
	syntheticHigh = 780.0
	lineWidth     = 2.5 // nm, gaussian sigma of the emission lines
)

// ControlGainPercent is the control id the synthetic device interprets as a
// brightness gain in percent.
const ControlGainPercent = 1

// emission lines of a triphosphor fluorescent tube (mercury, terbium,
// europium) with relative heights.
var syntheticLines = []struct{ wavelength, height float64 }{
	{404.7, 0.25},
	{435.8, 0.8},
	{487.7, 0.35},
	{546.1, 1.0},
	{587.6, 0.3},
	{611.6, 0.9},
}

// channel response peaks and widths used to split intensity into R, G and B
var syntheticChannels = [3]struct{ centre, sigma float64 }{
	{600, 45},
	{540, 40},
	{450, 35},
}

// SyntheticDevice generates a static spectral scene: a tungsten continuum
// with fluorescent emission lines, identical on every row. Polls are paced
// to the requested frame rate on the device clock.
type SyntheticDevice struct {
	clock    timeutil.Clock
	interval time.Duration
	row      []float64 // width*3 channel values in [0,1]
	width    int
	height   int

	mu     sync.Mutex
	gain   float64
	closed bool
}

// NewSyntheticDevice builds the scene for the given format.
func NewSyntheticDevice(clock timeutil.Clock, format config.CameraFormat) (*SyntheticDevice, error) {
	if format.Width <= 0 || format.Height <= 0 {
		return nil, fmt.Errorf("invalid synthetic format %s", format)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	continuum := reference.Config{Scale: 1}
	points, err := reference.FromFilamentTemp(reference.DefaultFilamentTemp)
	if err != nil {
		return nil, err
	}
	continuum.Set(points)

	d := &SyntheticDevice{
		clock:  clock,
		width:  format.Width,
		height: format.Height,
		row:    make([]float64, format.Width*3),
		gain:   1,
	}
	if format.FPS > 0 {
		d.interval = time.Second / time.Duration(format.FPS)
	}

	step := (syntheticHigh - syntheticLow) / float64(format.Width)
	for x := 0; x < format.Width; x++ {
		wl := syntheticLow + float64(x)*step
		v, _ := continuum.ValueAt(wl)
		v *= 0.3
		for _, l := range syntheticLines {
			z := (wl - l.wavelength) / lineWidth
			v += 0.6 * l.height * math.Exp(-0.5*z*z)
		}
		for c, ch := range syntheticChannels {
			z := (wl - ch.centre) / ch.sigma
			d.row[x*3+c] = math.Min(v*math.Exp(-0.5*z*z), 1)
		}
	}
	return d, nil
}

// Poll sleeps for one frame interval and returns the scene.
func (d *SyntheticDevice) Poll() (*frame.RGBImage, error) {
	d.mu.Lock()
	closed, gain := d.closed, d.gain
	d.mu.Unlock()
	if closed {
		return nil, ErrDeviceClosed
	}
	if d.interval > 0 {
		d.clock.Sleep(d.interval)
	}

	img := frame.NewRGBImage(d.width, d.height)
	rowBytes := d.width * 3
	for i, v := range d.row {
		img.Pix[i] = uint8(math.Round(math.Min(v*gain, 1) * 255))
	}
	for y := 1; y < d.height; y++ {
		copy(img.Pix[y*rowBytes:(y+1)*rowBytes], img.Pix[:rowBytes])
	}
	return img, nil
}

// SetControl accepts ControlGainPercent and ignores everything else.
func (d *SyntheticDevice) SetControl(c config.CameraControl) error {
	if c.ID != ControlGainPercent {
		return nil
	}
	if c.Value < 0 {
		return fmt.Errorf("gain must be non-negative, got %d", c.Value)
	}
	d.mu.Lock()
	d.gain = float64(c.Value) / 100
	d.mu.Unlock()
	return nil
}

// Close stops further polls.
func (d *SyntheticDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// SyntheticOpener opens SyntheticDevices for any device id.
type SyntheticOpener struct {
	Clock timeutil.Clock
}

// Open implements Opener.
func (o SyntheticOpener) Open(id int, format config.CameraFormat) (Device, error) {
	return NewSyntheticDevice(o.Clock, format)
}
