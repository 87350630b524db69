package reference

import (
	"fmt"
	"math"

	"github.com/banshee-data/spectro.cam/internal/frame"
)

const (
	speedOfLight = 299792458.0     // m/s
	planck       = 6.62607015e-34  // J·s
	boltzmann    = 1.380649e-23    // J/K
	emissivityT0 = 2.200           // reference temperature of the emissivity fit, in kK
	tungstenMin  = 340             // nm
	tungstenMax  = 2000            // nm, exclusive
)

// Filament temperatures accepted by FromFilamentTemp, in kelvin.
const (
	MinFilamentTemp     = 1000
	MaxFilamentTemp     = 3500
	DefaultFilamentTemp = 2800
)

// emissivityBand holds the polynomial fit of tungsten emissivity for
// wavelengths below upper (nm).
type emissivityBand struct {
	upper                      float64
	l0, a0, a1, b0, b1, b2, c0 float64
	c1                         float64
}

// Larrabee fit for tungsten emissivity, per wavelength band.
var emissivityBands = []emissivityBand{
	{upper: 420, l0: 0.380, a0: 0.47245, a1: -0.0155, b0: -0.0086, b1: -0.0229, c0: -2.86},
	{upper: 480, l0: 0.450, a0: 0.46361, a1: -0.0172, b0: -0.1304, c0: 0.52},
	{upper: 580, l0: 0.530, a0: 0.45549, a1: -0.0173, b0: -0.1150, c0: -0.5},
	{upper: 640, l0: 0.610, a0: 0.44297, a1: -0.0177, b0: -0.1482, c0: 0.723},
	{upper: 760, l0: 0.700, a0: 0.43151, a1: -0.0207, b0: -0.1441, b1: -0.0551, c0: -0.278, c1: -0.190},
	{upper: 940, l0: 0.850, a0: 0.40610, a1: -0.0259, b0: -0.1889, b1: 0.0087, b2: 0.0290, c0: -0.126, c1: 0.246},
	{upper: 1600, l0: 1.270, a0: 0.32835, b0: -0.1686, b1: 0.0737, c0: 0.046, c1: 0.016},
}

// lastBand covers 1600..2600 nm inclusive.
var lastBand = emissivityBand{upper: 2600, l0: 2.100, a0: 0.22631, a1: 0.0431, b0: -0.0829, b1: 0.0241, c0: 0.04, c1: -0.026}

func emissivity(wavelength, temp float64) (float64, bool) {
	if wavelength < tungstenMin || wavelength > lastBand.upper {
		return 0, false
	}
	band := lastBand
	for _, b := range emissivityBands {
		if wavelength < b.upper {
			band = b
			break
		}
	}
	dt := temp/1000 - emissivityT0
	dl := wavelength/1000 - band.l0
	return band.a0 + band.a1*dt +
		(band.b0+band.b1*dt+band.b2*dt*dt)*dl +
		(band.c0+band.c1*dt)*dl*dl, true
}

// spectralIrradiance is Planck's law scaled by the filament emissivity.
func spectralIrradiance(wavelength, temp float64) (float64, bool) {
	e, ok := emissivity(wavelength, temp)
	if !ok {
		return 0, false
	}
	lm := wavelength * 1e-9
	return e * 2 * planck * speedOfLight * speedOfLight /
		(math.Pow(lm, 5) * math.Expm1(planck*speedOfLight/(lm*boltzmann*temp))), true
}

// FromFilamentTemp models the emission of a tungsten-halogen lamp at the given
// filament temperature, sampled every nanometre from 340 to 1999 nm and
// normalised to a peak of 1.
func FromFilamentTemp(kelvin int) ([]frame.SpectrumPoint, error) {
	if kelvin < MinFilamentTemp || kelvin > MaxFilamentTemp {
		return nil, fmt.Errorf("filament temperature %d K outside %d..%d K", kelvin, MinFilamentTemp, MaxFilamentTemp)
	}
	points := make([]frame.SpectrumPoint, 0, tungstenMax-tungstenMin)
	maxValue := 0.0
	for wl := tungstenMin; wl < tungstenMax; wl++ {
		v, _ := spectralIrradiance(float64(wl), float64(kelvin))
		points = append(points, frame.SpectrumPoint{Wavelength: float64(wl), Value: v})
		maxValue = math.Max(maxValue, v)
	}
	for i := range points {
		points[i].Value /= maxValue
	}
	return points, nil
}
