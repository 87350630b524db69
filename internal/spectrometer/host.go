// Package spectrometer runs the acquisition pipeline headless: it owns the
// configuration, the spectrum container and the control side of the camera
// thread, and serializes every API request onto one loop goroutine.
package spectrometer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/spectro.cam/internal/camera"
	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/db"
	"github.com/banshee-data/spectro.cam/internal/frame"
	"github.com/banshee-data/spectro.cam/internal/monitoring"
	"github.com/banshee-data/spectro.cam/internal/reference"
	"github.com/banshee-data/spectro.cam/internal/spectrum"
	"github.com/banshee-data/spectro.cam/internal/timeutil"
)

// Pipeline queue capacities.
const (
	windowQueueSize    = 2
	rawQueueSize       = 32
	broadcastQueueSize = 16
	resultQueueSize    = 8
	eventQueueSize     = 16
)

// DefaultTick is how often the host drains results and updates the spectrum.
const DefaultTick = 20 * time.Millisecond

var (
	// ErrStopped is returned for requests made after the host loop exited.
	ErrStopped = errors.New("spectrometer host is not running")
	// ErrNoStore is returned by recording and stored-reference operations
	// when no database is configured.
	ErrNoStore = errors.New("no recording database configured")
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInvalidChannel is returned for a channel index outside 0..3.
	ErrInvalidChannel = errors.New("channel index must be between 0 and 3")
)

// Store persists recordings and named reference curves. *db.DB implements it.
type Store interface {
	RecordSpectrum(rec db.Recording) (string, error)
	Recordings(limit int) ([]db.Recording, error)
	Recording(id string) (db.Recording, error)
	DeleteRecording(id string) error
	SaveReference(name string, ref reference.Config) error
	LoadReference(name string) (reference.Config, error)
	References() ([]db.StoredReference, error)
	DeleteReference(name string) error
}

// Options configures a Host.
type Options struct {
	Config     *config.SpectrometerConfig
	ConfigPath string
	Opener     camera.Opener
	Clock      timeutil.Clock
	Tick       time.Duration
	// RecordInterval enables periodic recording when positive and Store is set.
	RecordInterval time.Duration
	// ExportDir confines CSV export and reference import paths.
	ExportDir string
	Store     Store
	// StartStream starts the camera as soon as Run begins.
	StartStream bool
}

// ResultInfo is the last stream result, as shown by the status endpoint.
type ResultInfo struct {
	Source string    `json:"source"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// Host wires the camera thread, reducer and container together.
type Host struct {
	opts  Options
	clock timeutil.Clock
	tick  time.Duration

	thread    *camera.Thread
	reducer   *spectrum.Reducer
	container *spectrum.Container

	events    chan camera.Event
	results   chan camera.ThreadResult
	broadcast chan []byte
	requests  chan func()
	stopped   chan struct{}

	// loop goroutine only
	ctx        context.Context
	cfg        *config.SpectrometerConfig
	running    bool
	lastResult *ResultInfo
}

// New builds a host. Nothing runs until Run is called.
func New(opts Options) (*Host, error) {
	if opts.Opener == nil {
		return nil, errors.New("camera opener is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultSpectrometerConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}

	windows := make(chan camera.Window, windowQueueSize)
	raw := make(chan spectrum.RawFrame, rawQueueSize)
	h := &Host{
		opts:      opts,
		clock:     clock,
		tick:      tick,
		events:    make(chan camera.Event, eventQueueSize),
		results:   make(chan camera.ThreadResult, resultQueueSize),
		broadcast: make(chan []byte, broadcastQueueSize),
		requests:  make(chan func()),
		stopped:   make(chan struct{}),
		cfg:       cfg.Clone(),
	}
	h.thread = camera.NewThread(opts.Opener, clock, windows, h.results, nil)
	h.reducer = spectrum.NewReducer(windows, raw)
	h.container = spectrum.NewContainer(raw, h.broadcast)
	return h, nil
}

// Broadcast carries every processed spectrum as JSON. It is closed when Run
// returns.
func (h *Host) Broadcast() <-chan []byte {
	return h.broadcast
}

// Run drives the pipeline until ctx is cancelled. The camera stream is
// stopped and all pipeline goroutines have exited when it returns.
func (h *Host) Run(ctx context.Context) error {
	h.ctx = ctx

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.thread.Run(ctx, h.events)
	}()
	go func() {
		defer wg.Done()
		h.reducer.Run(ctx)
	}()
	defer func() {
		close(h.stopped)
		wg.Wait()
		close(h.broadcast)
		monitoring.Logf("[Spectrometer] stopped")
	}()

	ticker := h.clock.NewTicker(h.tick)
	defer ticker.Stop()

	var recordC <-chan time.Time
	if h.opts.RecordInterval > 0 && h.opts.Store != nil {
		rt := h.clock.NewTicker(h.opts.RecordInterval)
		defer rt.Stop()
		recordC = rt.C()
	}

	h.send(camera.ConfigEvent{Config: h.cfg.ImageConfig})
	if h.opts.StartStream {
		h.startStream()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			h.update()
		case <-recordC:
			h.recordPeriodic()
		case req := <-h.requests:
			req()
		}
	}
}

// Do runs fn on the host loop and waits for it to finish.
func (h *Host) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	req := func() {
		defer close(done)
		fn()
	}
	select {
	case h.requests <- req:
	case <-h.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// update drains stream results and processes queued spectra.
func (h *Host) update() {
	h.drainResults()
	h.container.Update(h.cfg)
}

func (h *Host) drainResults() {
	for {
		select {
		case res := <-h.results:
			h.handleResult(res)
		default:
			return
		}
	}
}

func (h *Host) handleResult(res camera.ThreadResult) {
	info := &ResultInfo{Source: res.Source.String(), At: h.clock.Now()}
	if res.Err != nil {
		info.Error = res.Err.Error()
	}
	h.lastResult = info

	switch {
	case res.Err == nil:
		monitoring.Logf("[Spectrometer] %s ok", res.Source)
	case errors.Is(res.Err, frame.ErrCropOutOfBounds):
		// the stream keeps running; the window is skipped until fixed
		monitoring.Logf("[Spectrometer] %s: %v", res.Source, res.Err)
	default:
		if res.Source == camera.SourceCamera {
			h.running = false
		}
		monitoring.Logf("[Spectrometer] %s error: %v", res.Source, res.Err)
	}
}

// send queues a control event for the camera thread. Results are drained
// while waiting since the thread may itself be blocked delivering one.
func (h *Host) send(ev camera.Event) {
	for {
		select {
		case h.events <- ev:
			return
		case res := <-h.results:
			h.handleResult(res)
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Host) recordPeriodic() {
	rec, err := h.recording("")
	if errors.Is(err, spectrum.ErrNoSpectrum) {
		return
	}
	if err != nil {
		monitoring.Logf("[Recorder] %v", err)
		return
	}
	id, err := h.opts.Store.RecordSpectrum(rec)
	if err != nil {
		monitoring.Logf("[Recorder] failed to store spectrum: %v", err)
		return
	}
	monitoring.Debugf("[Recorder] stored %s (%d points)", id, len(rec.Points))
}

// recording captures the current spectrum. Loop goroutine only.
func (h *Host) recording(label string) (db.Recording, error) {
	start, end, err := h.container.TimeSpan()
	if err != nil {
		return db.Recording{}, err
	}
	if h.container.Width() == 0 {
		return db.Recording{}, spectrum.ErrNoSpectrum
	}
	return db.Recording{
		StartedAt: start,
		EndedAt:   end,
		Label:     label,
		Points:    h.container.ExportPoints(h.cfg.SpectrumCalibration),
	}, nil
}
