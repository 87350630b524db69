package spectrum

import (
	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/frame"
)

// PeaksAndDips finds strict local maxima (peaks) or minima (dips) of the Sum
// row. A candidate must beat every other sample within find_window columns
// on both sides, and survives deduplication only if it is the extreme among
// candidates strictly within unique_window/2 nm of it.
func (c *Container) PeaksAndDips(peaks bool, cfg *config.SpectrometerConfig) []frame.SpectrumPoint {
	sum := c.spectrum[ChannelSum]
	cal := cfg.SpectrumCalibration
	// a zero window makes every sample a candidate
	half := max(cfg.View.PeaksDipsFindWindow, 0)

	beats := func(a, b float64) bool {
		if peaks {
			return a > b
		}
		return a < b
	}

	var candidates []frame.SpectrumPoint
	for mid := half; mid+half < len(sum); mid++ {
		extreme := true
		for j := mid - half; j <= mid+half; j++ {
			if j != mid && !beats(sum[mid], sum[j]) {
				extreme = false
				break
			}
		}
		if extreme {
			candidates = append(candidates, frame.SpectrumPoint{
				Wavelength: cal.WavelengthAt(mid),
				Value:      sum[mid],
			})
		}
	}

	radius := cfg.View.PeaksDipsUniqueWindow / 2
	var out []frame.SpectrumPoint
	for _, p := range candidates {
		best := p.Value
		for _, q := range candidates {
			if q.Wavelength > p.Wavelength-radius && q.Wavelength < p.Wavelength+radius && beats(q.Value, best) {
				best = q.Value
			}
		}
		if p.Value == best {
			out = append(out, p)
		}
	}
	return out
}
