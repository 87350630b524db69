package config

import (
	"fmt"
	"math"
)

// Linearize selects the transfer curve used to undo camera gamma encoding.
type Linearize string

const (
	LinearizeOff    Linearize = "off"
	LinearizeRec601 Linearize = "rec601"
	LinearizeRec709 Linearize = "rec709"
	LinearizeSRGB   Linearize = "srgb"
)

// Valid reports whether l names a known curve.
func (l Linearize) Valid() bool {
	switch l {
	case LinearizeOff, LinearizeRec601, LinearizeRec709, LinearizeSRGB:
		return true
	}
	return false
}

// Apply maps an encoded value in [0,1] to linear light.
func (l Linearize) Apply(v float64) float64 {
	switch l {
	case LinearizeRec601, LinearizeRec709:
		if v < 0.081 {
			return v / 4.5
		}
		return math.Pow((v+0.099)/1.099, 1/0.45)
	case LinearizeSRGB:
		if v <= 0.04045 {
			return v / 12.92
		}
		return math.Pow((v+0.055)/1.055, 2.4)
	default:
		return v
	}
}

// GainPreset names a set of per-channel gains.
type GainPreset string

const (
	GainUnity  GainPreset = "unity"
	GainSRGB   GainPreset = "srgb"
	GainRec601 GainPreset = "rec601"
	GainRec709 GainPreset = "rec709"
)

// Gains returns the R, G and B multipliers for the preset. Rec.601 uses the
// luma weights of BT.601; Rec.709 and sRGB share the BT.709 primaries.
func (p GainPreset) Gains() (r, g, b float64, err error) {
	switch p {
	case GainUnity:
		return 1, 1, 1, nil
	case GainRec601:
		return 0.299, 0.587, 0.114, nil
	case GainRec709, GainSRGB:
		return 0.2126, 0.7152, 0.0722, nil
	}
	return 0, 0, 0, fmt.Errorf("unknown gain preset %q", string(p))
}

// SpectrumCalibrationPoint anchors the wavelength map at a pixel column.
type SpectrumCalibrationPoint struct {
	Wavelength int `json:"wavelength"`
	Index      int `json:"index"`
}

// SpectrumCalibration maps pixel columns to wavelengths and carries the
// radiometric corrections.
type SpectrumCalibration struct {
	Low       SpectrumCalibrationPoint `json:"low"`
	High      SpectrumCalibrationPoint `json:"high"`
	GainR     float64                  `json:"gain_r"`
	GainG     float64                  `json:"gain_g"`
	GainB     float64                  `json:"gain_b"`
	Linearize Linearize                `json:"linearize"`
	// Scaling is the per-column correction derived from a reference curve.
	// Nil unless a reference calibration has been committed.
	Scaling []float64 `json:"scaling,omitempty"`
}

// DefaultSpectrumCalibration returns the built-in calibration: the mercury
// 436 nm and 546 nm lines of a fluorescent tube at typical columns.
func DefaultSpectrumCalibration() SpectrumCalibration {
	return SpectrumCalibration{
		Low:       SpectrumCalibrationPoint{Wavelength: 436, Index: 261},
		High:      SpectrumCalibrationPoint{Wavelength: 546, Index: 486},
		GainR:     1,
		GainG:     1,
		GainB:     1,
		Linearize: LinearizeOff,
	}
}

// Validate checks the calibration invariants.
func (c SpectrumCalibration) Validate() error {
	if c.High.Wavelength <= c.Low.Wavelength {
		return fmt.Errorf("calibration high wavelength (%d) must exceed low wavelength (%d)", c.High.Wavelength, c.Low.Wavelength)
	}
	if c.High.Index <= c.Low.Index {
		return fmt.Errorf("calibration high index (%d) must exceed low index (%d)", c.High.Index, c.Low.Index)
	}
	if c.Low.Index < 0 {
		return fmt.Errorf("calibration index must be non-negative, got %d", c.Low.Index)
	}
	if c.GainR < 0 || c.GainG < 0 || c.GainB < 0 {
		return fmt.Errorf("gains must be non-negative, got (%f,%f,%f)", c.GainR, c.GainG, c.GainB)
	}
	if !c.Linearize.Valid() {
		return fmt.Errorf("unknown linearize mode %q", string(c.Linearize))
	}
	return nil
}

// WavelengthDelta is the number of nanometres per pixel column.
func (c SpectrumCalibration) WavelengthDelta() float64 {
	return float64(c.High.Wavelength-c.Low.Wavelength) / float64(c.High.Index-c.Low.Index)
}

// WavelengthAt maps a pixel column to its wavelength. Columns outside the
// calibration points are extrapolated.
func (c SpectrumCalibration) WavelengthAt(index int) float64 {
	return float64(c.Low.Wavelength) + float64(index-c.Low.Index)*c.WavelengthDelta()
}

// ScalingAt returns the reference correction for a column, or 1 when none
// applies.
func (c SpectrumCalibration) ScalingAt(index int) float64 {
	if index < 0 || index >= len(c.Scaling) {
		return 1
	}
	return c.Scaling[index]
}

// SetGainPreset replaces the gains with a named preset.
func (c *SpectrumCalibration) SetGainPreset(p GainPreset) error {
	r, g, b, err := p.Gains()
	if err != nil {
		return err
	}
	c.GainR, c.GainG, c.GainB = r, g, b
	return nil
}
