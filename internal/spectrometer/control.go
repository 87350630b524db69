package spectrometer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/banshee-data/spectro.cam/internal/camera"
	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/db"
	"github.com/banshee-data/spectro.cam/internal/frame"
	"github.com/banshee-data/spectro.cam/internal/monitoring"
	"github.com/banshee-data/spectro.cam/internal/reference"
	"github.com/banshee-data/spectro.cam/internal/security"
	"github.com/banshee-data/spectro.cam/internal/spectrum"
)

// StartStream opens the configured camera and starts streaming.
func (h *Host) StartStream(ctx context.Context) error {
	return h.Do(ctx, h.startStream)
}

func (h *Host) startStream() {
	h.container.ClearBuffer()
	h.send(camera.ConfigEvent{Config: h.cfg.ImageConfig})
	if len(h.cfg.ImageConfig.Controls) > 0 {
		h.send(camera.ControlsEvent{Controls: h.cfg.ImageConfig.Controls})
	}
	h.send(camera.StartStream{Device: h.cfg.CameraID, Format: h.cfg.CameraFormat})
	h.running = true
}

// StopStream stops the camera stream.
func (h *Host) StopStream(ctx context.Context) error {
	return h.Do(ctx, func() {
		h.send(camera.StopStream{})
		h.running = false
	})
}

// PauseStream suspends capture without closing the camera.
func (h *Host) PauseStream(ctx context.Context) error {
	return h.Do(ctx, func() { h.send(camera.Pause{}) })
}

// ResumeStream continues a paused stream.
func (h *Host) ResumeStream(ctx context.Context) error {
	return h.Do(ctx, func() { h.send(camera.Resume{}) })
}

// Config returns a copy of the active configuration.
func (h *Host) Config(ctx context.Context) (*config.SpectrometerConfig, error) {
	var cfg *config.SpectrometerConfig
	err := h.Do(ctx, func() { cfg = h.cfg.Clone() })
	return cfg, err
}

// UpdateConfig validates and applies cfg. Window and flip changes reach the
// camera immediately; camera id and format apply on the next start.
func (h *Host) UpdateConfig(ctx context.Context, cfg *config.SpectrometerConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	next := cfg.Clone()
	return h.Do(ctx, func() { h.applyConfig(next) })
}

func (h *Host) applyConfig(next *config.SpectrometerConfig) {
	prev := h.cfg
	h.cfg = next

	if prev.SpectrumCalibration.Linearize != next.SpectrumCalibration.Linearize {
		h.container.ClearBuffer()
	}
	if !slices.Equal(prev.ImageConfig.Controls, next.ImageConfig.Controls) {
		h.container.ClearBuffer()
		h.send(camera.ControlsEvent{Controls: next.ImageConfig.Controls})
	}
	if prev.ImageConfig.Window != next.ImageConfig.Window || prev.ImageConfig.Flip != next.ImageConfig.Flip {
		h.send(camera.ConfigEvent{Config: next.ImageConfig})
	}
	if prev.CameraID != next.CameraID || prev.CameraFormat != next.CameraFormat {
		monitoring.Logf("[Spectrometer] camera %d %s takes effect on next start", next.CameraID, next.CameraFormat)
	}
}

// SaveConfig writes the active configuration to the config path.
func (h *Host) SaveConfig(ctx context.Context) error {
	if h.opts.ConfigPath == "" {
		return errors.New("no config path set")
	}
	cfg, err := h.Config(ctx)
	if err != nil {
		return err
	}
	return cfg.Save(h.opts.ConfigPath)
}

// SetGainPreset replaces the channel gains with a named preset.
func (h *Host) SetGainPreset(ctx context.Context, preset config.GainPreset) error {
	var err error
	if doErr := h.Do(ctx, func() { err = h.cfg.SpectrumCalibration.SetGainPreset(preset) }); doErr != nil {
		return doErr
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// CommitCalibration derives per-column scaling from the current spectrum and
// the loaded reference curve, and stores it in the configuration.
func (h *Host) CommitCalibration(ctx context.Context) error {
	var err error
	if doErr := h.Do(ctx, func() {
		err = h.container.SetCalibration(&h.cfg.SpectrumCalibration, h.cfg.Reference)
	}); doErr != nil {
		return doErr
	}
	return err
}

// ClearCalibration removes the reference scaling.
func (h *Host) ClearCalibration(ctx context.Context) error {
	return h.Do(ctx, func() { h.cfg.SpectrumCalibration.Scaling = nil })
}

// SetZeroReference subtracts the current spectrum from later spectra.
func (h *Host) SetZeroReference(ctx context.Context) error {
	var err error
	if doErr := h.Do(ctx, func() { err = h.container.SetZeroReference() }); doErr != nil {
		return doErr
	}
	return err
}

// ClearZeroReference removes the zero reference.
func (h *Host) ClearZeroReference(ctx context.Context) error {
	return h.Do(ctx, h.container.ClearZeroReference)
}

// ImportReference loads a wavelength,value CSV from the export directory as
// the reference curve.
func (h *Host) ImportReference(ctx context.Context, name string) error {
	path, err := security.ResolveInDirectory(h.opts.ExportDir, name, ".csv")
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open reference: %w", err)
	}
	defer f.Close()
	points, err := reference.ReadCSV(f)
	if err != nil {
		return err
	}
	return h.setReference(ctx, points)
}

// SetTungstenReference loads a modelled tungsten-halogen lamp curve.
func (h *Host) SetTungstenReference(ctx context.Context, kelvin int) error {
	points, err := reference.FromFilamentTemp(kelvin)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return h.setReference(ctx, points)
}

func (h *Host) setReference(ctx context.Context, points []frame.SpectrumPoint) error {
	return h.Do(ctx, func() { h.cfg.Reference.Set(points) })
}

// ReferencePoints returns the loaded reference curve.
func (h *Host) ReferencePoints(ctx context.Context) ([]frame.SpectrumPoint, error) {
	var points []frame.SpectrumPoint
	if err := h.Do(ctx, func() { points = slices.Clone(h.cfg.Reference.Reference) }); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, reference.ErrNoReference
	}
	return points, nil
}

// ClearReference unloads the reference curve.
func (h *Host) ClearReference(ctx context.Context) error {
	return h.Do(ctx, func() { h.cfg.Reference.Clear() })
}

// StoreReference saves the loaded reference curve in the database.
func (h *Host) StoreReference(ctx context.Context, name string) error {
	if h.opts.Store == nil {
		return ErrNoStore
	}
	var ref reference.Config
	if err := h.Do(ctx, func() {
		ref = h.cfg.Reference
		ref.Reference = slices.Clone(ref.Reference)
	}); err != nil {
		return err
	}
	return h.opts.Store.SaveReference(name, ref)
}

// LoadReference replaces the reference curve and scale with a stored one.
func (h *Host) LoadReference(ctx context.Context, name string) error {
	if h.opts.Store == nil {
		return ErrNoStore
	}
	ref, err := h.opts.Store.LoadReference(name)
	if err != nil {
		return err
	}
	return h.Do(ctx, func() { h.cfg.Reference = ref })
}

// References lists stored reference curves.
func (h *Host) References() ([]db.StoredReference, error) {
	if h.opts.Store == nil {
		return nil, ErrNoStore
	}
	return h.opts.Store.References()
}

// Peaks returns the detected peaks, or dips when peaks is false.
func (h *Host) Peaks(ctx context.Context, peaks bool) ([]frame.SpectrumPoint, error) {
	var out []frame.SpectrumPoint
	err := h.Do(ctx, func() { out = h.container.PeaksAndDips(peaks, h.cfg) })
	if err == nil && out == nil {
		out = []frame.SpectrumPoint{}
	}
	return out, err
}

// Channel returns one spectrum row against wavelength.
func (h *Host) Channel(ctx context.Context, index int) ([]frame.SpectrumPoint, error) {
	if index < spectrum.ChannelR || index > spectrum.ChannelSum {
		return nil, ErrInvalidChannel
	}
	var out []frame.SpectrumPoint
	err := h.Do(ctx, func() { out = h.container.Channel(index, h.cfg.SpectrumCalibration) })
	return out, err
}

// DeleteStoredReference removes a stored reference curve. The loaded curve is
// not affected.
func (h *Host) DeleteStoredReference(name string) error {
	if h.opts.Store == nil {
		return ErrNoStore
	}
	return h.opts.Store.DeleteReference(name)
}
