// Package spectrum turns cropped camera windows into a calibrated optical
// spectrum: a stateless reduction stage followed by a stateful container that
// averages, corrects, filters and serializes the result.
package spectrum

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/spectro.cam/internal/frame"
	"github.com/banshee-data/spectro.cam/internal/monitoring"
)

// Channel indices of a Spectrum. RawSpectrum uses the first three.
const (
	ChannelR = iota
	ChannelG
	ChannelB
	ChannelSum
)

// RawSpectrum holds per-column R, G and B intensities of a window.
type RawSpectrum [3][]float64

// Width is the number of columns.
func (s RawSpectrum) Width() int {
	return len(s[ChannelR])
}

func (s RawSpectrum) clone() RawSpectrum {
	var out RawSpectrum
	for c := range s {
		out[c] = append([]float64(nil), s[c]...)
	}
	return out
}

// RawFrame is a raw spectrum with the time span of the window it came from.
type RawFrame = frame.Timestamped[RawSpectrum]

// Reduce sums each channel down every column of the window and normalises by
// rows*255*3. A window without rows yields zeros of the window's width.
func Reduce(window *frame.RGBImage) RawSpectrum {
	var s RawSpectrum
	for c := range s {
		s[c] = make([]float64, window.Width)
	}
	if window.Height == 0 || window.Width == 0 {
		return s
	}

	sums := make([]uint64, window.Width*3)
	for y := 0; y < window.Height; y++ {
		row := window.Pix[y*window.Width*3 : (y+1)*window.Width*3]
		for i, v := range row {
			sums[i] += uint64(v)
		}
	}

	norm := float64(window.Height) * 255 * 3
	for x := 0; x < window.Width; x++ {
		for c := 0; c < 3; c++ {
			s[c][x] = float64(sums[x*3+c]) / norm
		}
	}
	return s
}

// ReducerStats is a snapshot of the reducer counters.
type ReducerStats struct {
	Reduced uint64 `json:"reduced"`
	Dropped uint64 `json:"dropped"`
}

// Reducer drains windows, reduces them and forwards raw spectra without
// blocking.
type Reducer struct {
	in  <-chan frame.Timestamped[*frame.RGBImage]
	out chan<- RawFrame

	reduced atomic.Uint64
	dropped atomic.Uint64
}

// NewReducer creates a Reducer reading from in and writing to out.
func NewReducer(in <-chan frame.Timestamped[*frame.RGBImage], out chan<- RawFrame) *Reducer {
	return &Reducer{in: in, out: out}
}

// Run reduces windows until in is closed or ctx is cancelled.
func (r *Reducer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-r.in:
			if !ok {
				monitoring.Debugf("[Reducer] window channel closed, exiting")
				return
			}
			raw := RawFrame{Start: w.Start, End: w.End, Data: Reduce(w.Data)}
			r.reduced.Add(1)
			select {
			case r.out <- raw:
			default:
				if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
					monitoring.Logf("[Reducer] spectrum queue full, %d spectra dropped", n)
				}
			}
		}
	}
}

// Stats returns the current counters.
func (r *Reducer) Stats() ReducerStats {
	return ReducerStats{Reduced: r.reduced.Load(), Dropped: r.dropped.Load()}
}
