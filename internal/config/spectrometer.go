package config

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/banshee-data/spectro.cam/internal/reference"
)

// DefaultConfigPath is where the spectrometer configuration is read from and
// saved to unless overridden with -config.
const DefaultConfigPath = "spectrometer.json"

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// Rolling buffer bounds.
const (
	MinSpectrumBufferSize = 1
	MaxSpectrumBufferSize = 100
)

// SpectrometerConfig is the root configuration. It is loaded at startup,
// edited at runtime through the API and written back with Save.
type SpectrometerConfig struct {
	CameraID            int                  `json:"camera_id"`
	CameraFormat        CameraFormat         `json:"camera_format"`
	ImageConfig         ImageConfig          `json:"image_config"`
	SpectrumCalibration SpectrumCalibration  `json:"spectrum_calibration"`
	Postprocessing      PostprocessingConfig `json:"postprocessing_config"`
	View                ViewConfig           `json:"view_config"`
	Reference           reference.Config     `json:"reference_config"`
	Feed                FeedConfig           `json:"feed"`
}

// CameraFormat is the exact capture format requested from the device.
type CameraFormat struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	FrameFormat string `json:"frame_format"`
	FPS         int    `json:"fps"`
}

func (f CameraFormat) String() string {
	return fmt.Sprintf("%dx%d %s@%dfps", f.Width, f.Height, f.FrameFormat, f.FPS)
}

// CameraControl is a device control (exposure, gain, white balance, ...)
// identified by a backend-specific id.
type CameraControl struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// Vec2 is an integer pixel coordinate or size.
type Vec2 struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// SpectrumWindow is the rectangle of the camera frame holding the dispersed
// spectral line.
type SpectrumWindow struct {
	Offset Vec2 `json:"offset"`
	Size   Vec2 `json:"size"`
}

// Rect returns the window as an image rectangle.
func (w SpectrumWindow) Rect() image.Rectangle {
	return image.Rect(w.Offset.X, w.Offset.Y, w.Offset.X+w.Size.X, w.Offset.Y+w.Size.Y)
}

// ImageConfig is the part of the configuration the acquisition thread needs.
type ImageConfig struct {
	Controls []CameraControl `json:"controls,omitempty"`
	Window   SpectrumWindow  `json:"window"`
	Flip     bool            `json:"flip"`
}

// PostprocessingConfig controls temporal averaging and the low-pass filter.
type PostprocessingConfig struct {
	SpectrumBufferSize   int     `json:"spectrum_buffer_size"`
	SpectrumFilterActive bool    `json:"spectrum_filter_active"`
	SpectrumFilterCutoff float64 `json:"spectrum_filter_cutoff"`
}

// ViewConfig holds the peak/dip detection windows.
type ViewConfig struct {
	PeaksDipsFindWindow   int     `json:"peaks_dips_find_window"`
	PeaksDipsUniqueWindow float64 `json:"peaks_dips_unique_window"`
}

// FeedConfig configures the TCP spectrum feed.
type FeedConfig struct {
	Address string `json:"address"`
}

// DefaultSpectrometerConfig returns the built-in defaults.
func DefaultSpectrometerConfig() *SpectrometerConfig {
	return &SpectrometerConfig{
		CameraID: 0,
		CameraFormat: CameraFormat{
			Width:       1920,
			Height:      1080,
			FrameFormat: "MJPEG",
			FPS:         30,
		},
		ImageConfig: ImageConfig{
			Window: SpectrumWindow{
				Offset: Vec2{X: 100, Y: 500},
				Size:   Vec2{X: 1500, Y: 1},
			},
			Flip: true,
		},
		SpectrumCalibration: DefaultSpectrumCalibration(),
		Postprocessing: PostprocessingConfig{
			SpectrumBufferSize:   10,
			SpectrumFilterActive: false,
			SpectrumFilterCutoff: 0.5,
		},
		View: ViewConfig{
			PeaksDipsFindWindow:   10,
			PeaksDipsUniqueWindow: 20,
		},
		Reference: reference.DefaultConfig(),
		Feed:      FeedConfig{Address: "127.0.0.1:8888"},
	}
}

// LoadSpectrometerConfig loads a SpectrometerConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadSpectrometerConfig(path string) (*SpectrometerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultSpectrometerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration as indented JSON. The file is replaced
// atomically so a crash mid-write leaves the previous config intact.
func (c *SpectrometerConfig) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".spectrometer-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// Clone returns a deep copy, safe to hand to another goroutine.
func (c *SpectrometerConfig) Clone() *SpectrometerConfig {
	out := *c
	out.ImageConfig.Controls = append([]CameraControl(nil), c.ImageConfig.Controls...)
	if c.SpectrumCalibration.Scaling != nil {
		out.SpectrumCalibration.Scaling = append([]float64(nil), c.SpectrumCalibration.Scaling...)
	}
	if c.Reference.Reference != nil {
		out.Reference.Reference = append(out.Reference.Reference[:0:0], c.Reference.Reference...)
	}
	return &out
}

// Validate checks that the configuration values are valid.
func (c *SpectrometerConfig) Validate() error {
	if c.CameraID < 0 {
		return fmt.Errorf("camera_id must be non-negative, got %d", c.CameraID)
	}
	if c.CameraFormat.Width <= 0 || c.CameraFormat.Height <= 0 {
		return fmt.Errorf("camera_format resolution must be positive, got %dx%d", c.CameraFormat.Width, c.CameraFormat.Height)
	}
	if c.CameraFormat.FPS <= 0 {
		return fmt.Errorf("camera_format fps must be positive, got %d", c.CameraFormat.FPS)
	}

	w := c.ImageConfig.Window
	if w.Offset.X < 0 || w.Offset.Y < 0 {
		return fmt.Errorf("window offset must be non-negative, got (%d,%d)", w.Offset.X, w.Offset.Y)
	}
	if w.Size.X <= 0 || w.Size.Y <= 0 {
		return fmt.Errorf("window size must be positive, got (%d,%d)", w.Size.X, w.Size.Y)
	}

	if err := c.SpectrumCalibration.Validate(); err != nil {
		return err
	}

	p := c.Postprocessing
	if p.SpectrumBufferSize < MinSpectrumBufferSize || p.SpectrumBufferSize > MaxSpectrumBufferSize {
		return fmt.Errorf("spectrum_buffer_size must be between %d and %d, got %d",
			MinSpectrumBufferSize, MaxSpectrumBufferSize, p.SpectrumBufferSize)
	}
	if p.SpectrumFilterCutoff <= 0 {
		return fmt.Errorf("spectrum_filter_cutoff must be positive, got %f", p.SpectrumFilterCutoff)
	}

	if c.View.PeaksDipsFindWindow < 0 {
		return fmt.Errorf("peaks_dips_find_window must be non-negative, got %d", c.View.PeaksDipsFindWindow)
	}
	if c.View.PeaksDipsUniqueWindow < 0 {
		return fmt.Errorf("peaks_dips_unique_window must be non-negative, got %f", c.View.PeaksDipsUniqueWindow)
	}

	if c.Reference.Scale <= 0 {
		return fmt.Errorf("reference scale must be positive, got %f", c.Reference.Scale)
	}
	return nil
}
