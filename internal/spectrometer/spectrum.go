package spectrometer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"tailscale.com/tsweb"

	"github.com/banshee-data/spectro.cam/internal/camera"
	"github.com/banshee-data/spectro.cam/internal/db"
	"github.com/banshee-data/spectro.cam/internal/frame"
	"github.com/banshee-data/spectro.cam/internal/security"
	"github.com/banshee-data/spectro.cam/internal/spectrum"
	"github.com/banshee-data/spectro.cam/internal/version"
)

// Status summarises the pipeline for the status endpoint.
type Status struct {
	Running         bool                    `json:"running"`
	Camera          camera.Stats            `json:"camera"`
	Reducer         spectrum.ReducerStats   `json:"reducer"`
	Container       spectrum.ContainerStats `json:"container"`
	BufferLen       int                     `json:"buffer_len"`
	Width           int                     `json:"width"`
	ZeroReference   bool                    `json:"zero_reference"`
	ReferenceLoaded bool                    `json:"reference_loaded"`
	Calibrated      bool                    `json:"calibrated"`
	LastResult      *ResultInfo             `json:"last_result,omitempty"`
	Version         version.Info            `json:"version"`
}

// Status returns the current pipeline status.
func (h *Host) Status(ctx context.Context) (Status, error) {
	var st Status
	err := h.Do(ctx, func() {
		st = Status{
			Running:         h.running,
			BufferLen:       h.container.BufferLen(),
			Width:           h.container.Width(),
			ZeroReference:   h.container.HasZeroReference(),
			ReferenceLoaded: h.cfg.Reference.Loaded(),
			Calibrated:      h.cfg.SpectrumCalibration.Scaling != nil,
		}
		if h.lastResult != nil {
			r := *h.lastResult
			st.LastResult = &r
		}
	})
	st.Camera = h.thread.Stats()
	st.Reducer = h.reducer.Stats()
	st.Container = h.container.Stats()
	st.Version = version.Current()
	return st, err
}

// Snapshot returns the Sum row with the buffered time span.
func (h *Host) Snapshot(ctx context.Context) (spectrum.Snapshot, error) {
	var (
		snap    spectrum.Snapshot
		snapErr error
	)
	if err := h.Do(ctx, func() { snap, snapErr = h.container.Snapshot(h.cfg.SpectrumCalibration) }); err != nil {
		return spectrum.Snapshot{}, err
	}
	return snap, snapErr
}

// ExportPoints returns every column of the current spectrum.
func (h *Host) ExportPoints(ctx context.Context) ([]spectrum.ExportPoint, error) {
	var points []spectrum.ExportPoint
	if err := h.Do(ctx, func() { points = h.container.ExportPoints(h.cfg.SpectrumCalibration) }); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, spectrum.ErrNoSpectrum
	}
	return points, nil
}

// WriteCSV writes the current spectrum as wavelength,r,g,b,sum rows.
func (h *Host) WriteCSV(ctx context.Context, w io.Writer) error {
	points, err := h.ExportPoints(ctx)
	if err != nil {
		return err
	}
	return spectrum.WriteExportCSV(w, points)
}

// WritePlot renders the current spectrum and its peaks as a PNG.
func (h *Host) WritePlot(ctx context.Context, w io.Writer) error {
	var (
		points []spectrum.ExportPoint
		peaks  []frame.SpectrumPoint
	)
	if err := h.Do(ctx, func() {
		points = h.container.ExportPoints(h.cfg.SpectrumCalibration)
		peaks = h.container.PeaksAndDips(true, h.cfg)
	}); err != nil {
		return err
	}
	if len(points) == 0 {
		return spectrum.ErrNoSpectrum
	}
	return spectrum.WritePlot(w, points, peaks)
}

// Export writes the current spectrum as CSV to name inside the export
// directory and returns the written path.
func (h *Host) Export(ctx context.Context, name string) (string, error) {
	path, err := security.ResolveInDirectory(h.opts.ExportDir, name, ".csv")
	if err != nil {
		return "", err
	}
	points, err := h.ExportPoints(ctx)
	if err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if err := spectrum.WriteExportCSV(f, points); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

// Record stores the current spectrum and returns its id.
func (h *Host) Record(ctx context.Context, label string) (string, error) {
	if h.opts.Store == nil {
		return "", ErrNoStore
	}
	var (
		rec    db.Recording
		recErr error
	)
	if err := h.Do(ctx, func() { rec, recErr = h.recording(label) }); err != nil {
		return "", err
	}
	if recErr != nil {
		return "", recErr
	}
	return h.opts.Store.RecordSpectrum(rec)
}

// Recordings lists stored recordings, newest first.
func (h *Host) Recordings(limit int) ([]db.Recording, error) {
	if h.opts.Store == nil {
		return nil, ErrNoStore
	}
	return h.opts.Store.Recordings(limit)
}

// Recording loads one stored recording.
func (h *Host) Recording(id string) (db.Recording, error) {
	if h.opts.Store == nil {
		return db.Recording{}, ErrNoStore
	}
	return h.opts.Store.Recording(id)
}

// DeleteRecording removes a stored recording.
func (h *Host) DeleteRecording(id string) error {
	if h.opts.Store == nil {
		return ErrNoStore
	}
	return h.opts.Store.DeleteRecording(id)
}

// Preview takes the latest full camera frame. Each frame is returned once.
func (h *Host) Preview() (camera.Window, bool) {
	return h.thread.Preview().Take()
}

// AttachAdminRoutes registers the pipeline debug pages on mux.
func (h *Host) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("pipeline", "Camera, reducer and container counters", func(w http.ResponseWriter, r *http.Request) {
		st, err := h.Status(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(st)
	})
}
