package config

import (
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spectro.cam/internal/frame"
)

func TestDefaultSpectrometerConfig(t *testing.T) {
	cfg := DefaultSpectrometerConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, CameraFormat{Width: 1920, Height: 1080, FrameFormat: "MJPEG", FPS: 30}, cfg.CameraFormat)
	assert.Equal(t, image.Rect(100, 500, 1600, 501), cfg.ImageConfig.Window.Rect())
	assert.True(t, cfg.ImageConfig.Flip)
	assert.Equal(t, 10, cfg.Postprocessing.SpectrumBufferSize)
	assert.False(t, cfg.Postprocessing.SpectrumFilterActive)
	assert.Equal(t, 0.5, cfg.Postprocessing.SpectrumFilterCutoff)
	assert.Equal(t, LinearizeOff, cfg.SpectrumCalibration.Linearize)
	assert.Nil(t, cfg.SpectrumCalibration.Scaling)
	assert.False(t, cfg.Reference.Loaded())
	assert.Equal(t, 1.0, cfg.Reference.Scale)
}

func TestLoadSpectrometerConfig_Partial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spectrometer.json")
	doc := `{
  "image_config": {"window": {"offset": {"x": 10, "y": 20}, "size": {"x": 640, "y": 4}}, "flip": false},
  "postprocessing_config": {"spectrum_buffer_size": 25, "spectrum_filter_active": true, "spectrum_filter_cutoff": 0.2},
  "spectrum_calibration": {"linearize": "srgb"}
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadSpectrometerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, SpectrumWindow{Offset: Vec2{10, 20}, Size: Vec2{640, 4}}, cfg.ImageConfig.Window)
	assert.False(t, cfg.ImageConfig.Flip)
	assert.Equal(t, 25, cfg.Postprocessing.SpectrumBufferSize)
	assert.True(t, cfg.Postprocessing.SpectrumFilterActive)
	assert.Equal(t, LinearizeSRGB, cfg.SpectrumCalibration.Linearize)

	// omitted fields keep their defaults
	assert.Equal(t, 436, cfg.SpectrumCalibration.Low.Wavelength)
	assert.Equal(t, 1.0, cfg.SpectrumCalibration.GainG)
	assert.Equal(t, 1920, cfg.CameraFormat.Width)
	assert.Equal(t, "127.0.0.1:8888", cfg.Feed.Address)
}

func TestLoadSpectrometerConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{"missing", filepath.Join(dir, "absent.json"), "failed to stat"},
		{"extension", write("cfg.yaml", "{}"), ".json extension"},
		{"syntax", write("bad.json", "{"), "failed to parse"},
		{"buffer size", write("buf.json", `{"postprocessing_config": {"spectrum_buffer_size": 0}}`), "spectrum_buffer_size"},
		{"calibration order", write("cal.json", `{"spectrum_calibration": {"low": {"wavelength": 600, "index": 10}}}`), "high wavelength"},
		{"linearize", write("lin.json", `{"spectrum_calibration": {"linearize": "gamma22"}}`), "linearize"},
		{"too large", write("big.json", `{"x":"`+strings.Repeat("a", maxConfigFileSize)+`"}`), "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSpectrometerConfig(tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSpectrometerConfig_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")

	cfg := DefaultSpectrometerConfig()
	cfg.SpectrumCalibration.Scaling = []float64{1, 1.5, 2}
	cfg.Reference.Set([]frame.SpectrumPoint{{Wavelength: 400, Value: 0.5}, {Wavelength: 700, Value: 1}})
	cfg.ImageConfig.Controls = []CameraControl{{ID: 3, Name: "exposure", Value: -5}}
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadSpectrometerConfig(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, loaded); diff != "" {
		t.Errorf("saved config mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestSpectrometerConfig_Clone(t *testing.T) {
	cfg := DefaultSpectrometerConfig()
	cfg.SpectrumCalibration.Scaling = []float64{1, 2}
	cfg.ImageConfig.Controls = []CameraControl{{ID: 1, Value: 1}}

	cp := cfg.Clone()
	cp.SpectrumCalibration.Scaling[0] = 9
	cp.ImageConfig.Controls[0].Value = 9

	assert.Equal(t, 1.0, cfg.SpectrumCalibration.Scaling[0])
	assert.Equal(t, 1, cfg.ImageConfig.Controls[0].Value)
}
