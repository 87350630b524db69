// Package camera owns the capture device for the lifetime of a stream. A
// single Thread turns control events into device actions and forwards
// timestamped, windowed frames to the reduction stage.
package camera

import (
	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/frame"
)

// Device is an open camera delivering frames in the format it was opened
// with.
type Device interface {
	// Poll blocks until the next frame is available.
	Poll() (*frame.RGBImage, error)
	// SetControl writes a single device control.
	SetControl(c config.CameraControl) error
	Close() error
}

// StreamStarter is implemented by devices that need an explicit call to begin
// streaming after they are opened.
type StreamStarter interface {
	StartStream() error
}

// Opener opens a device by index with an exact capture format.
type Opener interface {
	Open(id int, format config.CameraFormat) (Device, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(id int, format config.CameraFormat) (Device, error)

// Open calls f(id, format).
func (f OpenerFunc) Open(id int, format config.CameraFormat) (Device, error) {
	return f(id, format)
}
