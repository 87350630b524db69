package spectrum

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/frame"
)

var channelColors = [4]color.Color{
	color.RGBA{R: 220, G: 50, B: 47, A: 255},
	color.RGBA{R: 60, G: 170, B: 60, A: 255},
	color.RGBA{R: 38, G: 110, B: 210, A: 255},
	color.RGBA{R: 30, G: 30, B: 30, A: 255},
}

var channelNames = [4]string{"R", "G", "B", "Sum"}

// WritePlot renders the current spectrum as a PNG line chart with all four
// rows and the detected peaks marked.
func (c *Container) WritePlot(w io.Writer, cfg *config.SpectrometerConfig) error {
	if c.spectrum.Width() == 0 {
		return ErrNoSpectrum
	}
	return WritePlot(w, c.ExportPoints(cfg.SpectrumCalibration), c.PeaksAndDips(true, cfg))
}

// WritePlot renders export points as a PNG line chart. Peaks may be nil.
func WritePlot(w io.Writer, points []ExportPoint, peaks []frame.SpectrumPoint) error {
	p := plot.New()
	p.Title.Text = "Spectrum"
	p.X.Label.Text = "Wavelength (nm)"
	p.Y.Label.Text = "Intensity"

	for ch := ChannelR; ch <= ChannelSum; ch++ {
		pts := make(plotter.XYs, len(points))
		for i, pt := range points {
			pts[i].X = pt.Wavelength
			switch ch {
			case ChannelR:
				pts[i].Y = pt.R
			case ChannelG:
				pts[i].Y = pt.G
			case ChannelB:
				pts[i].Y = pt.B
			default:
				pts[i].Y = pt.Sum
			}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to build %s line: %w", channelNames[ch], err)
		}
		line.Color = channelColors[ch]
		line.Width = vg.Points(1)
		if ch == ChannelSum {
			line.Width = vg.Points(1.5)
		}
		p.Add(line)
		p.Legend.Add(channelNames[ch], line)
	}

	if len(peaks) > 0 {
		pts := make(plotter.XYs, len(peaks))
		for i, pk := range peaks {
			pts[i] = plotter.XY{X: pk.Wavelength, Y: pk.Value}
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("failed to build peak markers: %w", err)
		}
		scatter.GlyphStyle.Shape = draw.TriangleGlyph{}
		scatter.GlyphStyle.Color = channelColors[ChannelSum]
		p.Add(scatter)
		p.Legend.Add("Peaks", scatter)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
