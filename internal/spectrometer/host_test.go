package spectrometer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spectro.cam/internal/camera"
	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/db"
	"github.com/banshee-data/spectro.cam/internal/frame"
	"github.com/banshee-data/spectro.cam/internal/reference"
	"github.com/banshee-data/spectro.cam/internal/security"
	"github.com/banshee-data/spectro.cam/internal/spectrum"
	"github.com/banshee-data/spectro.cam/internal/timeutil"
)

const testWidth = 400

func testConfig() *config.SpectrometerConfig {
	cfg := config.DefaultSpectrometerConfig()
	cfg.CameraFormat = config.CameraFormat{Width: testWidth, Height: 4, FrameFormat: "RGB", FPS: 200}
	cfg.ImageConfig.Window = config.SpectrumWindow{Offset: config.Vec2{X: 0, Y: 1}, Size: config.Vec2{X: testWidth, Y: 2}}
	cfg.ImageConfig.Flip = false
	cfg.Postprocessing.SpectrumBufferSize = 3
	return cfg
}

type testHost struct {
	*Host
	cancel context.CancelFunc
	done   chan struct{}
}

func newTestHost(t *testing.T, opts Options) *testHost {
	t.Helper()
	if opts.Opener == nil {
		opts.Opener = camera.SyntheticOpener{Clock: timeutil.RealClock{}}
	}
	if opts.Config == nil {
		opts.Config = testConfig()
	}
	if opts.Tick == 0 {
		opts.Tick = 5 * time.Millisecond
	}
	h, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	th := &testHost{Host: h, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(th.done)
		if err := h.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()
	t.Cleanup(th.stop)
	return th
}

func (th *testHost) stop() {
	th.cancel()
	select {
	case <-th.done:
	case <-time.After(5 * time.Second):
	}
}

func (th *testHost) status(t *testing.T) Status {
	t.Helper()
	st, err := th.Status(context.Background())
	require.NoError(t, err)
	return st
}

// inject runs raw spectra through the container on the host loop.
func (th *testHost) inject(t *testing.T, values ...float64) {
	t.Helper()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, th.Do(context.Background(), func() {
		for i, v := range values {
			var raw spectrum.RawSpectrum
			for c := range raw {
				raw[c] = make([]float64, 8)
				for j := range raw[c] {
					raw[c][j] = v * float64(j+1) / 8
				}
			}
			th.container.Process(spectrum.RawFrame{
				Start: start.Add(time.Duration(i) * time.Second),
				End:   start.Add(time.Duration(i+1) * time.Second),
				Data:  raw,
			}, th.cfg)
		}
	}))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Postprocessing.SpectrumBufferSize = 0
	_, err = New(Options{Opener: camera.SyntheticOpener{}, Config: cfg})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestHost_StreamProducesSpectrum(t *testing.T) {
	h := newTestHost(t, Options{})
	ctx := context.Background()

	require.NoError(t, h.StartStream(ctx))
	require.Eventually(t, func() bool {
		st := h.status(t)
		return st.Running && st.BufferLen == 3 && st.Width == testWidth
	}, 5*time.Second, 10*time.Millisecond)

	snap, err := h.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Spectrum, testWidth)
	assert.False(t, snap.End.Before(snap.Start))

	select {
	case payload := <-h.Broadcast():
		var got spectrum.Snapshot
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Len(t, got.Spectrum, testWidth)
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast payload")
	}

	win, ok := h.Preview()
	require.True(t, ok)
	assert.Equal(t, testWidth, win.Data.Width)

	st := h.status(t)
	require.NotNil(t, st.LastResult)
	assert.Empty(t, st.LastResult.Error)
	assert.Equal(t, "camera", st.LastResult.Source)

	require.NoError(t, h.StopStream(ctx))
	require.Eventually(t, func() bool {
		st := h.status(t)
		return !st.Running && st.Camera.State == camera.StateIdle
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHost_StartStreamOnRun(t *testing.T) {
	h := newTestHost(t, Options{StartStream: true})
	require.Eventually(t, func() bool { return h.status(t).BufferLen > 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHost_PauseResume(t *testing.T) {
	h := newTestHost(t, Options{})
	ctx := context.Background()
	require.NoError(t, h.StartStream(ctx))
	require.Eventually(t, func() bool { return h.status(t).Camera.State == camera.StateStreaming }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.PauseStream(ctx))
	require.Eventually(t, func() bool { return h.status(t).Camera.State == camera.StatePaused }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, h.ResumeStream(ctx))
	require.Eventually(t, func() bool { return h.status(t).Camera.State == camera.StateStreaming }, 5*time.Second, 10*time.Millisecond)
}

func TestHost_OpenFailureMarksNotRunning(t *testing.T) {
	opener := camera.NewMockOpener(nil)
	opener.Error = errors.New("no such device")
	h := newTestHost(t, Options{Opener: opener})

	require.NoError(t, h.StartStream(context.Background()))
	require.Eventually(t, func() bool {
		st := h.status(t)
		return st.LastResult != nil && !st.Running
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, h.status(t).LastResult.Error, "could not initialize camera")
}

func TestHost_CropErrorKeepsRunning(t *testing.T) {
	cfg := testConfig()
	cfg.ImageConfig.Window.Offset.Y = 10
	h := newTestHost(t, Options{Config: cfg})

	require.NoError(t, h.StartStream(context.Background()))
	require.Eventually(t, func() bool {
		st := h.status(t)
		return st.LastResult != nil && st.LastResult.Error != ""
	}, 5*time.Second, 10*time.Millisecond)

	st := h.status(t)
	assert.True(t, st.Running)
	assert.Zero(t, st.BufferLen)
}

func TestHost_ConfigChangesClearBuffer(t *testing.T) {
	h := newTestHost(t, Options{})
	ctx := context.Background()

	h.inject(t, 0.5, 0.5)
	require.Equal(t, 2, h.status(t).BufferLen)

	cfg, err := h.Config(ctx)
	require.NoError(t, err)
	cfg.Postprocessing.SpectrumFilterActive = true
	require.NoError(t, h.UpdateConfig(ctx, cfg))
	assert.Equal(t, 2, h.status(t).BufferLen, "unrelated change keeps the buffer")

	cfg.SpectrumCalibration.Linearize = config.LinearizeSRGB
	require.NoError(t, h.UpdateConfig(ctx, cfg))
	assert.Zero(t, h.status(t).BufferLen, "linearization change clears the buffer")

	h.inject(t, 0.5)
	cfg.ImageConfig.Controls = []config.CameraControl{{ID: camera.ControlGainPercent, Name: "gain", Value: 50}}
	require.NoError(t, h.UpdateConfig(ctx, cfg))
	assert.Zero(t, h.status(t).BufferLen, "control change clears the buffer")

	got, err := h.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.LinearizeSRGB, got.SpectrumCalibration.Linearize)
	assert.Len(t, got.ImageConfig.Controls, 1)
}

func TestHost_UpdateConfigInvalid(t *testing.T) {
	h := newTestHost(t, Options{})
	cfg := testConfig()
	cfg.ImageConfig.Window.Size.X = 0
	assert.ErrorIs(t, h.UpdateConfig(context.Background(), cfg), ErrInvalidConfig)
}

func TestHost_SaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spectrometer.json")
	h := newTestHost(t, Options{ConfigPath: path})
	ctx := context.Background()

	require.NoError(t, h.SetGainPreset(ctx, config.GainRec601))
	require.NoError(t, h.SaveConfig(ctx))

	loaded, err := config.LoadSpectrometerConfig(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.587, loaded.SpectrumCalibration.GainG, 1e-12)

	assert.ErrorIs(t, h.SetGainPreset(ctx, "bogus"), ErrInvalidConfig)
}

func TestHost_ZeroReference(t *testing.T) {
	h := newTestHost(t, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, h.SetZeroReference(ctx), spectrum.ErrNoSpectrum)

	h.inject(t, 0.5)
	require.NoError(t, h.SetZeroReference(ctx))
	assert.True(t, h.status(t).ZeroReference)

	h.inject(t, 0.5)
	points, err := h.ExportPoints(ctx)
	require.NoError(t, err)
	for _, p := range points {
		assert.InDelta(t, 0, p.Sum, 1e-12)
	}

	require.NoError(t, h.ClearZeroReference(ctx))
	assert.False(t, h.status(t).ZeroReference)
}

func TestHost_Calibration(t *testing.T) {
	h := newTestHost(t, Options{})
	ctx := context.Background()

	assert.ErrorIs(t, h.CommitCalibration(ctx), reference.ErrNoReference)

	require.NoError(t, h.Do(ctx, func() {
		h.cfg.Reference.Set([]frame.SpectrumPoint{{Wavelength: 0, Value: 1}, {Wavelength: 2000, Value: 1}})
	}))
	assert.ErrorIs(t, h.CommitCalibration(ctx), spectrum.ErrNoSpectrum)

	h.inject(t, 0.5)
	require.NoError(t, h.CommitCalibration(ctx))
	assert.True(t, h.status(t).Calibrated)

	require.NoError(t, h.ClearCalibration(ctx))
	assert.False(t, h.status(t).Calibrated)
}

func TestHost_References(t *testing.T) {
	dir := t.TempDir()
	h := newTestHost(t, Options{ExportDir: dir})
	ctx := context.Background()

	_, err := h.ReferencePoints(ctx)
	assert.ErrorIs(t, err, reference.ErrNoReference)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "lamp.csv"), []byte("wavelength,value\n600,0.5\n500,1\n"), 0o644))
	require.NoError(t, h.ImportReference(ctx, "lamp.csv"))
	points, err := h.ReferencePoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, []frame.SpectrumPoint{{Wavelength: 500, Value: 1}, {Wavelength: 600, Value: 0.5}}, points)

	assert.ErrorIs(t, h.ImportReference(ctx, "../lamp.csv"), security.ErrOutsideDirectory)
	assert.Error(t, h.ImportReference(ctx, "missing.csv"))

	require.NoError(t, h.SetTungstenReference(ctx, reference.DefaultFilamentTemp))
	points, err = h.ReferencePoints(ctx)
	require.NoError(t, err)
	assert.Equal(t, 340.0, points[0].Wavelength)
	assert.ErrorIs(t, h.SetTungstenReference(ctx, 100), ErrInvalidConfig)

	require.NoError(t, h.ClearReference(ctx))
	assert.False(t, h.status(t).ReferenceLoaded)
}

func TestHost_Export(t *testing.T) {
	dir := t.TempDir()
	h := newTestHost(t, Options{ExportDir: dir})
	ctx := context.Background()

	_, err := h.Export(ctx, "out.csv")
	assert.ErrorIs(t, err, spectrum.ErrNoSpectrum)

	h.inject(t, 0.5)
	path, err := h.Export(ctx, "out.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out.csv"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, "wavelength,r,g,b,sum", lines[0])
	assert.Len(t, lines, 9)

	_, err = h.Export(ctx, "../out.csv")
	assert.ErrorIs(t, err, security.ErrOutsideDirectory)
	_, err = h.Export(ctx, "out.txt")
	assert.Error(t, err)
}

func TestHost_PeaksAndChannel(t *testing.T) {
	h := newTestHost(t, Options{})
	ctx := context.Background()

	peaks, err := h.Peaks(ctx, true)
	require.NoError(t, err)
	assert.NotNil(t, peaks)
	assert.Empty(t, peaks)

	h.inject(t, 0.5)
	row, err := h.Channel(ctx, spectrum.ChannelSum)
	require.NoError(t, err)
	assert.Len(t, row, 8)

	_, err = h.Channel(ctx, 4)
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestHost_NoStore(t *testing.T) {
	h := newTestHost(t, Options{})
	ctx := context.Background()

	_, err := h.Record(ctx, "")
	assert.ErrorIs(t, err, ErrNoStore)
	_, err = h.Recordings(0)
	assert.ErrorIs(t, err, ErrNoStore)
	assert.ErrorIs(t, h.StoreReference(ctx, "x"), ErrNoStore)
	assert.ErrorIs(t, h.LoadReference(ctx, "x"), ErrNoStore)
}

func TestHost_RecordingsAndStoredReferences(t *testing.T) {
	store, err := db.NewDB(filepath.Join(t.TempDir(), "spectro.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := newTestHost(t, Options{Store: store})
	ctx := context.Background()

	_, err = h.Record(ctx, "dark")
	assert.ErrorIs(t, err, spectrum.ErrNoSpectrum)

	h.inject(t, 0.5)
	id, err := h.Record(ctx, "lamp")
	require.NoError(t, err)

	list, err := h.Recordings(0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "lamp", list[0].Label)

	rec, err := h.Recording(id)
	require.NoError(t, err)
	assert.Len(t, rec.Points, 8)

	require.NoError(t, h.DeleteRecording(id))
	assert.ErrorIs(t, h.DeleteRecording(id), db.ErrNotFound)

	require.NoError(t, h.SetTungstenReference(ctx, 3000))
	require.NoError(t, h.StoreReference(ctx, "halogen"))
	require.NoError(t, h.ClearReference(ctx))
	require.NoError(t, h.LoadReference(ctx, "halogen"))
	assert.True(t, h.status(t).ReferenceLoaded)

	refs, err := h.References()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "halogen", refs[0].Name)
}

func TestHost_PeriodicRecording(t *testing.T) {
	store, err := db.NewDB(filepath.Join(t.TempDir(), "spectro.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := timeutil.NewMockClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	h := newTestHost(t, Options{Store: store, Clock: clock, Opener: camera.NewMockOpener(nil), RecordInterval: time.Minute})

	// the loop has created its tickers once a request has been served
	require.NoError(t, h.Do(context.Background(), func() {}))
	h.inject(t, 0.5)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		list, err := store.Recordings(0)
		return err == nil && len(list) >= 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHost_StoppedRejectsRequests(t *testing.T) {
	h := newTestHost(t, Options{})
	h.stop()

	_, err := h.Status(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	_, ok := <-h.Broadcast()
	assert.False(t, ok)
}

func TestHost_AttachAdminRoutes(t *testing.T) {
	h := newTestHost(t, Options{})
	mux := http.NewServeMux()
	h.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/pipeline", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "dev", st.Version.Version)
	assert.Equal(t, camera.StateIdle, st.Camera.State)
}
