package spectrum

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// Low-pass filter parameters. The spectrum is treated as a signal sampled at
// 2 Hz so the cutoff is a fraction of Nyquist.
const (
	filterSampleRate = 2.0
	minFilterCutoff  = 0.001
	maxFilterCutoff  = 1.0
)

var butterworthQ = 1 / math.Sqrt2

// lowPass runs a second-order Butterworth low pass over each channel, forward
// then backward with the filter state carried over, clamping negative output
// to zero after each pass. A cutoff with no realisable design leaves the
// channels unchanged.
func lowPass(channels [][]float64, cutoff float64) {
	cutoff = math.Max(minFilterCutoff, math.Min(maxFilterCutoff, cutoff))
	coeffs := design.Lowpass(cutoff, butterworthQ, filterSampleRate)
	if coeffs == (biquad.Coefficients{}) {
		return
	}

	for _, ch := range channels {
		f := biquad.NewSection(coeffs)
		for i, v := range ch {
			ch[i] = math.Max(f.ProcessSample(v), 0)
		}
		for i := len(ch) - 1; i >= 0; i-- {
			ch[i] = math.Max(f.ProcessSample(ch[i]), 0)
		}
	}
}
