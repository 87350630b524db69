package camera

import (
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/frame"
)

// ErrDeviceClosed is returned by TestableDevice after Close.
var ErrDeviceClosed = errors.New("device closed")

// TestableDevice implements Device with configurable behaviour for testing.
// It provides fine-grained control over frames, errors and latency.
type TestableDevice struct {
	mu sync.Mutex

	// Frame is copied and returned by every Poll call unless Frames has
	// queued frames.
	Frame *frame.RGBImage

	// Frames are returned in order before falling back to Frame.
	Frames []*frame.RGBImage

	// PollLatency adds a delay to each Poll call
	PollLatency time.Duration

	// PollError is returned by the next Poll call if set
	PollError error

	// ControlError is returned by every SetControl call if set
	ControlError error

	// StartError is returned by StartStream if set
	StartError error

	// CloseError is returned by Close if set
	CloseError error

	// BlockPolls causes Poll to block until Release or Close is called
	BlockPolls bool

	// Closed indicates whether Close was called
	Closed bool

	// Started indicates whether StartStream was called
	Started bool

	// PollCalls records the number of Poll calls
	PollCalls int

	// Controls records every control written
	Controls []config.CameraControl

	pollCond *sync.Cond
}

// NewTestableDevice creates a TestableDevice returning copies of f.
func NewTestableDevice(f *frame.RGBImage) *TestableDevice {
	d := &TestableDevice{Frame: f}
	d.pollCond = sync.NewCond(&d.mu)
	return d
}

// Poll returns the next queued frame or a copy of Frame, optionally
// simulating latency, blocking and errors.
func (d *TestableDevice) Poll() (*frame.RGBImage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.PollCalls++

	if d.Closed {
		return nil, ErrDeviceClosed
	}

	if d.PollError != nil {
		err := d.PollError
		d.PollError = nil
		return nil, err
	}

	if d.PollLatency > 0 {
		d.mu.Unlock()
		time.Sleep(d.PollLatency)
		d.mu.Lock()
	}

	for d.BlockPolls && !d.Closed {
		d.pollCond.Wait()
	}
	if d.Closed {
		return nil, ErrDeviceClosed
	}

	if len(d.Frames) > 0 {
		f := d.Frames[0]
		d.Frames = d.Frames[1:]
		return f.Clone(), nil
	}
	if d.Frame == nil {
		return frame.NewRGBImage(0, 0), nil
	}
	return d.Frame.Clone(), nil
}

// SetControl records the control write.
func (d *TestableDevice) SetControl(c config.CameraControl) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ControlError != nil {
		return d.ControlError
	}
	d.Controls = append(d.Controls, c)
	return nil
}

// StartStream implements StreamStarter.
func (d *TestableDevice) StartStream() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.StartError != nil {
		return d.StartError
	}
	d.Started = true
	return nil
}

// Close marks the device as closed.
func (d *TestableDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Closed = true
	d.pollCond.Broadcast() // Wake up any blocked pollers

	return d.CloseError
}

// Hold makes subsequent polls block until Release.
func (d *TestableDevice) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.BlockPolls = true
}

// Release unblocks pollers held by Hold.
func (d *TestableDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.BlockPolls = false
	d.pollCond.Broadcast()
}

// SetPollError makes the next Poll fail with err.
func (d *TestableDevice) SetPollError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.PollError = err
}

// IsClosed reports whether Close was called.
func (d *TestableDevice) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.Closed
}

// Polls returns the number of Poll calls so far.
func (d *TestableDevice) Polls() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.PollCalls
}

// WrittenControls returns a copy of the recorded control writes.
func (d *TestableDevice) WrittenControls() []config.CameraControl {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]config.CameraControl(nil), d.Controls...)
}

// WaitPolls blocks until at least n polls have been made or timeout passes.
func (d *TestableDevice) WaitPolls(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if d.Polls() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// Reset clears recorded calls and injected errors.
func (d *TestableDevice) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Frames = nil
	d.PollCalls = 0
	d.Controls = nil
	d.Closed = false
	d.Started = false
	d.PollError = nil
	d.ControlError = nil
	d.StartError = nil
	d.CloseError = nil
	d.PollLatency = 0
	d.BlockPolls = false
}

// MockOpener implements Opener for testing.
type MockOpener struct {
	mu sync.Mutex

	// Device is the device to return from Open
	Device Device

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	ID     int
	Format config.CameraFormat
}

// NewMockOpener creates a new MockOpener.
func NewMockOpener(dev Device) *MockOpener {
	return &MockOpener{Device: dev}
}

// Open returns the configured device or error.
func (o *MockOpener) Open(id int, format config.CameraFormat) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.OpenCalls = append(o.OpenCalls, MockOpenCall{ID: id, Format: format})

	if o.Error != nil {
		return nil, o.Error
	}
	return o.Device, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (o *MockOpener) LastCall() *MockOpenCall {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.OpenCalls) == 0 {
		return nil
	}
	c := o.OpenCalls[len(o.OpenCalls)-1]
	return &c
}

// Reset clears all recorded calls.
func (o *MockOpener) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.OpenCalls = nil
	o.Error = nil
}
