// Package reference holds known reference curves (intensity as a function of
// wavelength) used for radiometric calibration, with CSV import/export and a
// tungsten-halogen lamp model.
package reference

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/spectro.cam/internal/frame"
)

var (
	// ErrNoReference is returned when an operation needs a loaded curve.
	ErrNoReference = errors.New("no reference curve loaded")
	// ErrOutOfRange is returned when a lookup falls outside the curve.
	ErrOutOfRange = errors.New("wavelength outside reference curve")
	// ErrInvalidCSV is returned by ReadCSV for malformed input.
	ErrInvalidCSV = errors.New("invalid reference csv")
)

// Config is an optional reference curve plus a scale factor applied to every
// looked-up value. A nil Reference means no curve is loaded.
type Config struct {
	Reference []frame.SpectrumPoint `json:"reference,omitempty"`
	Scale     float64               `json:"scale"`
}

// DefaultConfig returns an empty reference with unit scale.
func DefaultConfig() Config {
	return Config{Scale: 1}
}

// Loaded reports whether a curve is present.
func (c Config) Loaded() bool {
	return len(c.Reference) > 0
}

// Set replaces the curve, sorting the points by wavelength.
func (c *Config) Set(points []frame.SpectrumPoint) {
	sorted := make([]frame.SpectrumPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Wavelength < sorted[j].Wavelength
	})
	c.Reference = sorted
}

// Clear removes the curve.
func (c *Config) Clear() {
	c.Reference = nil
}

// ValueAt interpolates the curve linearly at wavelength and applies the scale.
// Wavelengths outside the curve have no value.
func (c Config) ValueAt(wavelength float64) (float64, bool) {
	pts := c.Reference
	if len(pts) == 0 {
		return 0, false
	}
	// index of the first point at or beyond wavelength
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Wavelength >= wavelength })
	if i == len(pts) {
		return 0, false
	}
	if pts[i].Wavelength == wavelength {
		return pts[i].Value * c.Scale, true
	}
	if i == 0 {
		return 0, false
	}
	lo, hi := pts[i-1], pts[i]
	t := (wavelength - lo.Wavelength) / (hi.Wavelength - lo.Wavelength)
	return (lo.Value + t*(hi.Value-lo.Value)) * c.Scale, true
}

// ReadCSV parses wavelength,value rows. A first row with no numeric field is
// treated as a header and skipped.
func ReadCSV(r io.Reader) ([]frame.SpectrumPoint, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	var points []frame.SpectrumPoint
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
		}
		if len(rec) != 2 {
			return nil, fmt.Errorf("%w: line %d: expected 2 fields (wavelength,value), got %d", ErrInvalidCSV, line, len(rec))
		}
		wl, errW := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		v, errV := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if errW != nil || errV != nil {
			if line == 1 && errW != nil && errV != nil {
				continue
			}
			return nil, fmt.Errorf("%w: line %d: invalid number in %q", ErrInvalidCSV, line, strings.Join(rec, ","))
		}
		points = append(points, frame.SpectrumPoint{Wavelength: wl, Value: v})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no points", ErrInvalidCSV)
	}
	return points, nil
}

// WriteCSV writes the curve as wavelength,value rows with a header.
func WriteCSV(w io.Writer, points []frame.SpectrumPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"wavelength", "value"}); err != nil {
		return err
	}
	for _, p := range points {
		rec := []string{
			strconv.FormatFloat(p.Wavelength, 'g', -1, 64),
			strconv.FormatFloat(p.Value, 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
