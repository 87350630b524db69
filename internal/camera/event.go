package camera

import (
	"errors"

	"github.com/banshee-data/spectro.cam/internal/config"
)

// Event is a control message for the Thread. The set of events is closed;
// see StartStream, StopStream, Pause, Resume, ConfigEvent and ControlsEvent.
type Event interface {
	isEvent()
}

// StartStream opens the device and starts capturing. Ignored unless the
// thread is idle.
type StartStream struct {
	Device int
	Format config.CameraFormat
}

// StopStream stops the running stream and waits for the capture goroutine to
// return.
type StopStream struct{}

// Pause holds the capture loop before its next poll.
type Pause struct{}

// Resume releases a paused capture loop.
type Resume struct{}

// ConfigEvent replaces the active window and flip settings.
type ConfigEvent struct {
	Config config.ImageConfig
}

// ControlsEvent writes device controls on the next loop iteration.
type ControlsEvent struct {
	Controls []config.CameraControl
}

func (StartStream) isEvent()   {}
func (StopStream) isEvent()    {}
func (Pause) isEvent()         {}
func (Resume) isEvent()        {}
func (ConfigEvent) isEvent()   {}
func (ControlsEvent) isEvent() {}

// Source identifies which side of the pipeline produced a ThreadResult.
type Source int

const (
	SourceCamera Source = iota
	SourceMain
)

func (s Source) String() string {
	switch s {
	case SourceCamera:
		return "camera"
	case SourceMain:
		return "main"
	}
	return "unknown"
}

// ThreadResult reports the outcome of a stream transition or a fatal stream
// failure. A nil Err is an Ok result.
type ThreadResult struct {
	Source Source
	Err    error
}

// Stream failures reported through ThreadResult.
var (
	ErrInitCamera = errors.New("could not initialize camera")
	ErrOpenStream = errors.New("could not open stream")
	ErrPollFrame  = errors.New("could not poll for frame")
)
