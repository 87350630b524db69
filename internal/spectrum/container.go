package spectrum

import (
	"errors"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/monitoring"
)

// ErrNoSpectrum is returned when an operation needs at least one processed
// spectrum.
var ErrNoSpectrum = errors.New("no spectrum data available")

// ErrZeroSignal is returned when a reference calibration would divide by a
// zero column.
var ErrZeroSignal = errors.New("spectrum is zero")

// Spectrum holds the R, G, B and Sum rows of the processed spectrum.
type Spectrum [4][]float64

// Width is the number of columns.
func (s Spectrum) Width() int {
	return len(s[ChannelSum])
}

func (s Spectrum) clone() Spectrum {
	var out Spectrum
	for c := range s {
		out[c] = append([]float64(nil), s[c]...)
	}
	return out
}

// ContainerStats is a snapshot of the container counters.
type ContainerStats struct {
	Processed        uint64 `json:"processed"`
	BroadcastDropped uint64 `json:"broadcast_dropped"`
}

// Container keeps a rolling buffer of raw spectra and the spectrum derived
// from it. It is not safe for concurrent use; the host loop owns it.
type Container struct {
	in        <-chan RawFrame
	broadcast chan<- []byte

	buffer   []RawFrame // newest first, already linearized
	spectrum Spectrum
	zero     *Spectrum

	processed        atomic.Uint64
	broadcastDropped atomic.Uint64
}

// NewContainer creates an empty container draining in. Every processed
// spectrum is offered to broadcast as JSON; broadcast may be nil.
func NewContainer(in <-chan RawFrame, broadcast chan<- []byte) *Container {
	return &Container{in: in, broadcast: broadcast}
}

// ClearBuffer drops all buffered raw spectra.
func (c *Container) ClearBuffer() {
	c.buffer = nil
}

// BufferLen is the number of buffered raw spectra.
func (c *Container) BufferLen() int {
	return len(c.buffer)
}

// Width is the column count of the current spectrum.
func (c *Container) Width() int {
	return c.spectrum.Width()
}

// Stats returns the current counters. Safe to call from any goroutine.
func (c *Container) Stats() ContainerStats {
	return ContainerStats{Processed: c.processed.Load(), BroadcastDropped: c.broadcastDropped.Load()}
}

// Update processes every raw spectrum currently queued, in arrival order, and
// offers a JSON snapshot to the broadcast channel after each one. It returns
// the number processed.
func (c *Container) Update(cfg *config.SpectrometerConfig) int {
	n := 0
	for {
		select {
		case raw, ok := <-c.in:
			if !ok {
				return n
			}
			c.Process(raw, cfg)
			n++
			c.publish(cfg.SpectrumCalibration)
		default:
			return n
		}
	}
}

func (c *Container) publish(cal config.SpectrumCalibration) {
	if c.broadcast == nil {
		return
	}
	payload, err := c.JSON(cal)
	if err != nil {
		monitoring.Logf("[Spectrum] failed to serialize spectrum: %v", err)
		return
	}
	select {
	case c.broadcast <- payload:
	default:
		c.broadcastDropped.Add(1)
	}
}

// Process runs one raw spectrum through the pipeline: linearize, buffer,
// average, gain, sum, filter and subtract the zero reference.
func (c *Container) Process(raw RawFrame, cfg *config.SpectrometerConfig) {
	cal := cfg.SpectrumCalibration
	post := cfg.Postprocessing
	width := raw.Data.Width()

	if len(c.buffer) > 0 && c.buffer[0].Data.Width() != width {
		c.buffer = nil
		c.zero = nil
	}
	if c.zero != nil && c.zero.Width() != width {
		c.zero = nil
	}

	data := raw.Data.clone()
	if cal.Linearize != config.LinearizeOff {
		for _, ch := range data {
			for i, v := range ch {
				ch[i] = cal.Linearize.Apply(v)
			}
		}
	}
	raw.Data = data

	size := post.SpectrumBufferSize
	if size < 1 {
		size = 1
	}
	c.buffer = append([]RawFrame{raw}, c.buffer...)
	if len(c.buffer) > size {
		c.buffer = c.buffer[:size]
	}

	var s Spectrum
	for ch := ChannelR; ch <= ChannelB; ch++ {
		s[ch] = make([]float64, width)
		for _, b := range c.buffer {
			floats.Add(s[ch], b.Data[ch])
		}
		floats.Scale(1/float64(len(c.buffer)), s[ch])
	}
	floats.Scale(cal.GainR, s[ChannelR])
	floats.Scale(cal.GainG, s[ChannelG])
	floats.Scale(cal.GainB, s[ChannelB])

	s[ChannelSum] = make([]float64, width)
	floats.Add(s[ChannelSum], s[ChannelR])
	floats.Add(s[ChannelSum], s[ChannelG])
	floats.Add(s[ChannelSum], s[ChannelB])
	if cal.Scaling != nil {
		for i := range s[ChannelSum] {
			s[ChannelSum][i] *= cal.ScalingAt(i)
		}
	}
	floats.Scale(1.0/3, s[ChannelSum])

	if post.SpectrumFilterActive {
		lowPass(s[:], post.SpectrumFilterCutoff)
	}

	if c.zero != nil {
		for ch := range s {
			floats.Sub(s[ch], c.zero[ch])
		}
	}

	c.spectrum = s
	c.processed.Add(1)
}

// Spectrum returns a copy of the current spectrum.
func (c *Container) Spectrum() Spectrum {
	return c.spectrum.clone()
}

// MaxValue is the largest value across all rows of the spectrum.
func (c *Container) MaxValue() (float64, bool) {
	if c.spectrum.Width() == 0 {
		return 0, false
	}
	m := floats.Max(c.spectrum[0])
	for _, ch := range c.spectrum[1:] {
		m = max(m, floats.Max(ch))
	}
	return m, true
}

// SetZeroReference subtracts the current spectrum from every spectrum
// computed afterwards.
func (c *Container) SetZeroReference() error {
	if c.spectrum.Width() == 0 {
		return ErrNoSpectrum
	}
	z := c.spectrum.clone()
	c.zero = &z
	return nil
}

// ClearZeroReference removes the zero reference.
func (c *Container) ClearZeroReference() {
	c.zero = nil
}

// HasZeroReference reports whether a zero reference is set.
func (c *Container) HasZeroReference() bool {
	return c.zero != nil
}
