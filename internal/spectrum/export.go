package spectrum

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/frame"
	"github.com/banshee-data/spectro.cam/internal/reference"
)

// ExportPoint is one column of the spectrum with all four rows.
type ExportPoint struct {
	Wavelength float64 `json:"wavelength"`
	R          float64 `json:"r"`
	G          float64 `json:"g"`
	B          float64 `json:"b"`
	Sum        float64 `json:"sum"`
}

// Snapshot is the serialized spectrum broadcast to feed clients. Start is
// the start of the oldest buffered frame and End the end of the newest.
type Snapshot struct {
	Start    time.Time             `json:"start"`
	End      time.Time             `json:"end"`
	Spectrum []frame.SpectrumPoint `json:"spectrum"`
}

// Channel returns one row of the spectrum against wavelength. An index
// outside 0..3 returns nil.
func (c *Container) Channel(index int, cal config.SpectrumCalibration) []frame.SpectrumPoint {
	if index < ChannelR || index > ChannelSum {
		return nil
	}
	row := c.spectrum[index]
	out := make([]frame.SpectrumPoint, len(row))
	for i, v := range row {
		out[i] = frame.SpectrumPoint{Wavelength: cal.WavelengthAt(i), Value: v}
	}
	return out
}

// ExportPoints returns every column of the spectrum.
func (c *Container) ExportPoints(cal config.SpectrumCalibration) []ExportPoint {
	s := c.spectrum
	out := make([]ExportPoint, s.Width())
	for i := range out {
		out[i] = ExportPoint{
			Wavelength: cal.WavelengthAt(i),
			R:          s[ChannelR][i],
			G:          s[ChannelG][i],
			B:          s[ChannelB][i],
			Sum:        s[ChannelSum][i],
		}
	}
	return out
}

// TimeSpan returns the capture window covered by the buffer.
func (c *Container) TimeSpan() (start, end time.Time, err error) {
	if len(c.buffer) == 0 {
		return time.Time{}, time.Time{}, ErrNoSpectrum
	}
	return c.buffer[len(c.buffer)-1].Start, c.buffer[0].End, nil
}

// Snapshot returns the Sum row with the buffer's time span.
func (c *Container) Snapshot(cal config.SpectrumCalibration) (Snapshot, error) {
	start, end, err := c.TimeSpan()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Start: start, End: end, Spectrum: c.Channel(ChannelSum, cal)}, nil
}

// JSON serializes the current Snapshot.
func (c *Container) JSON(cal config.SpectrumCalibration) ([]byte, error) {
	snap, err := c.Snapshot(cal)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snap)
}

// WriteCSV writes wavelength,r,g,b,sum rows with a header.
func (c *Container) WriteCSV(w io.Writer, cal config.SpectrumCalibration) error {
	return WriteExportCSV(w, c.ExportPoints(cal))
}

// WriteExportCSV writes export points as wavelength,r,g,b,sum rows with a
// header.
func WriteExportCSV(w io.Writer, points []ExportPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"wavelength", "r", "g", "b", "sum"}); err != nil {
		return err
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, p := range points {
		if err := cw.Write([]string{format(p.Wavelength), format(p.R), format(p.G), format(p.B), format(p.Sum)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SetCalibration sets cal.Scaling so that the current Sum row, once scaled,
// matches the reference curve. The calibration is left unchanged on error.
func (c *Container) SetCalibration(cal *config.SpectrumCalibration, ref reference.Config) error {
	if !ref.Loaded() {
		return reference.ErrNoReference
	}
	sum := c.spectrum[ChannelSum]
	if len(sum) == 0 {
		return ErrNoSpectrum
	}
	scaling := make([]float64, len(sum))
	for i, v := range sum {
		wl := cal.WavelengthAt(i)
		rv, ok := ref.ValueAt(wl)
		if !ok {
			return fmt.Errorf("%w: column %d at %.1f nm", reference.ErrOutOfRange, i, wl)
		}
		if v == 0 {
			return fmt.Errorf("%w at column %d (%.1f nm)", ErrZeroSignal, i, wl)
		}
		scaling[i] = rv / v
	}
	cal.Scaling = scaling
	return nil
}
