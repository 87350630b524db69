package camera

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/frame"
	"github.com/banshee-data/spectro.cam/internal/monitoring"
	"github.com/banshee-data/spectro.cam/internal/timeutil"
)

// Window is a cropped spectrum window with its capture time span.
type Window = frame.Timestamped[*frame.RGBImage]

// State is the lifecycle state of the Thread.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateIdle, StateStarting, StateStreaming, StatePaused} {
		if strings.EqualFold(string(text), st.String()) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown camera state %q", text)
}

// Stats is a snapshot of the thread counters. Counters accumulate across
// streams.
type Stats struct {
	State            State  `json:"state"`
	FramesCaptured   uint64 `json:"frames_captured"`
	WindowsForwarded uint64 `json:"windows_forwarded"`
	WindowsDropped   uint64 `json:"windows_dropped"`
}

// dropWarnInterval rate-limits the backpressure warning.
const dropWarnInterval = 5 * time.Second

// Thread converts control events into device actions. Run is its event loop;
// each started stream gets its own capture goroutine.
type Thread struct {
	opener  Opener
	clock   timeutil.Clock
	windows chan<- Window
	results chan<- ThreadResult
	preview *Slot[Window]

	pendingConfig   Slot[config.ImageConfig]
	pendingControls Slot[[]config.CameraControl]

	// stream and quit are only set by the Run goroutine.
	stream *stream
	quit   <-chan struct{}
	state  atomic.Int32

	captured  atomic.Uint64
	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

// NewThread creates an idle Thread. Windows are sent without blocking to
// windows; full frames are published to preview; stream outcomes go to
// results.
func NewThread(opener Opener, clock timeutil.Clock, windows chan<- Window, results chan<- ThreadResult, preview *Slot[Window]) *Thread {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if preview == nil {
		preview = &Slot[Window]{}
	}
	return &Thread{
		opener:  opener,
		clock:   clock,
		windows: windows,
		results: results,
		preview: preview,
	}
}

// Preview returns the slot holding the most recent full frame.
func (t *Thread) Preview() *Slot[Window] {
	return t.preview
}

// Stats returns the current counters and state.
func (t *Thread) Stats() Stats {
	return Stats{
		State:            State(t.state.Load()),
		FramesCaptured:   t.captured.Load(),
		WindowsForwarded: t.forwarded.Load(),
		WindowsDropped:   t.dropped.Load(),
	}
}

func (t *Thread) setState(s State) {
	t.state.Store(int32(s))
}

// Run processes events until events is closed or ctx is cancelled. A running
// stream is stopped before Run returns.
func (t *Thread) Run(ctx context.Context, events <-chan Event) {
	t.quit = ctx.Done()
	defer t.stopStream()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			t.handle(ev)
		}
	}
}

func (t *Thread) handle(ev Event) {
	t.reap()

	switch e := ev.(type) {
	case StartStream:
		t.startStream(e)
	case StopStream:
		t.stopStream()
	case Pause:
		if t.stream != nil {
			t.stream.setPaused(true)
			t.setState(StatePaused)
		}
	case Resume:
		if t.stream != nil {
			t.stream.setPaused(false)
			t.setState(StateStreaming)
		}
	case ConfigEvent:
		cfg := e.Config
		cfg.Controls = append([]config.CameraControl(nil), cfg.Controls...)
		t.pendingConfig.Put(cfg)
	case ControlsEvent:
		t.pendingControls.Put(append([]config.CameraControl(nil), e.Controls...))
	default:
		monitoring.Logf("[Camera] ignoring unknown event %T", ev)
	}
}

// reap clears a stream whose capture goroutine has already terminated after a
// poll failure.
func (t *Thread) reap() {
	if t.stream == nil {
		return
	}
	select {
	case <-t.stream.done:
		t.stream = nil
		t.setState(StateIdle)
	default:
	}
}

func (t *Thread) startStream(e StartStream) {
	if t.stream != nil {
		monitoring.Logf("[Camera] start ignored: stream is %s", State(t.state.Load()))
		return
	}
	t.setState(StateStarting)

	dev, err := t.opener.Open(e.Device, e.Format)
	if err != nil {
		monitoring.Logf("[Camera] failed to open device %d (%s): %v", e.Device, e.Format, err)
		t.reportFatal(fmt.Errorf("%w: %v", ErrInitCamera, err), nil)
		t.setState(StateIdle)
		return
	}
	if ss, ok := dev.(StreamStarter); ok {
		if err := ss.StartStream(); err != nil {
			monitoring.Logf("[Camera] failed to start stream on device %d: %v", e.Device, err)
			if cerr := dev.Close(); cerr != nil {
				monitoring.Logf("[Camera] failed to close device %d: %v", e.Device, cerr)
			}
			t.reportFatal(fmt.Errorf("%w: %v", ErrOpenStream, err), nil)
			t.setState(StateIdle)
			return
		}
	}

	s := newStream(dev)
	t.stream = s
	t.setState(StateStreaming)
	monitoring.Logf("[Camera] streaming from device %d at %s", e.Device, e.Format)
	t.report(nil)

	go t.capture(s, timeutil.FrameTime(t.clock))
}

// stopStream resumes, signals exit and joins the capture goroutine.
func (t *Thread) stopStream() {
	if t.stream == nil {
		return
	}
	t.stream.stop()
	t.stream = nil
	t.setState(StateIdle)
	monitoring.Logf("[Camera] stream stopped")
}

// report sends a non-fatal outcome, dropping it when results is full.
func (t *Thread) report(err error) {
	select {
	case t.results <- ThreadResult{Source: SourceCamera, Err: err}:
	default:
		monitoring.Logf("[Camera] result channel full, dropping result: %v", err)
	}
}

// reportFatal blocks until err is delivered, Run's context ends or stop is
// closed.
func (t *Thread) reportFatal(err error, stop <-chan struct{}) {
	select {
	case t.results <- ThreadResult{Source: SourceCamera, Err: err}:
	case <-t.quit:
		monitoring.Logf("[Camera] shutting down, result not delivered: %v", err)
	case <-stop:
		monitoring.Logf("[Camera] stream stopped, result not delivered: %v", err)
	}
}

// capture is the per-stream loop. It owns dev until it returns.
func (t *Thread) capture(s *stream, opened time.Time) {
	defer close(s.done)
	defer func() {
		if err := s.dev.Close(); err != nil {
			monitoring.Logf("[Camera] failed to close device: %v", err)
		}
	}()

	var (
		active      config.ImageConfig
		haveConfig  bool
		cropFailed  bool
		prevEnd     = opened
		lastDropLog time.Time
	)

	for {
		if s.waitWhilePaused() {
			return
		}

		if cfg, ok := t.pendingConfig.Take(); ok {
			active = cfg
			haveConfig = true
			cropFailed = false
		}
		if controls, ok := t.pendingControls.Take(); ok {
			for _, c := range controls {
				if err := s.dev.SetControl(c); err != nil {
					monitoring.Logf("[Camera] failed to set control %q (%d) to %d: %v", c.Name, c.ID, c.Value, err)
				}
			}
		}

		img, err := s.dev.Poll()
		if err != nil {
			monitoring.Logf("[Camera] poll failed: %v", err)
			t.reportFatal(fmt.Errorf("%w: %v", ErrPollFrame, err), s.quit)
			t.setState(StateIdle)
			return
		}
		end := timeutil.FrameTime(t.clock)
		start := prevEnd
		if start.After(end) {
			start = end
		}
		prevEnd = end
		t.captured.Add(1)

		if haveConfig {
			if active.Flip {
				img.FlipHorizontal()
			}
			window, err := img.Crop(active.Window.Rect())
			switch {
			case err != nil:
				if !cropFailed {
					cropFailed = true
					t.report(err)
				}
			default:
				select {
				case t.windows <- Window{Start: start, End: end, Data: window}:
					t.forwarded.Add(1)
				default:
					n := t.dropped.Add(1)
					if now := t.clock.Now(); now.Sub(lastDropLog) >= dropWarnInterval {
						lastDropLog = now
						monitoring.Logf("[Camera] window channel full, %d windows dropped so far", n)
					}
				}
			}
		}

		t.preview.Put(Window{Start: start, End: end, Data: img})
		monitoring.Debugf("[Camera] frame %s..%s", start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	}
}

// stream is the handle of one capture goroutine.
type stream struct {
	dev  Device
	done chan struct{}
	quit chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
	exit   bool
}

func newStream(dev Device) *stream {
	s := &stream{dev: dev, done: make(chan struct{}), quit: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// waitWhilePaused blocks while paused and reports whether the loop must exit.
func (s *stream) waitWhilePaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.paused && !s.exit {
		s.cond.Wait()
	}
	return s.exit
}

func (s *stream) setPaused(p bool) {
	s.mu.Lock()
	s.paused = p
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *stream) stop() {
	s.mu.Lock()
	s.paused = false
	if !s.exit {
		s.exit = true
		close(s.quit)
	}
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}
