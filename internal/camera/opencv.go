//go:build gocv

package camera

import (
	"fmt"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/spectro.cam/internal/config"
	"github.com/banshee-data/spectro.cam/internal/frame"
)

// OpenCVOpener opens V4L/UVC cameras through OpenCV. Control ids are
// gocv.VideoCaptureProperties values.
type OpenCVOpener struct{}

// Open implements Opener. The capture is configured with the exact
// resolution, pixel format and frame rate, and fails when the device
// reports a different resolution.
func (OpenCVOpener) Open(id int, format config.CameraFormat) (Device, error) {
	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("failed to open video capture %d: %w", id, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video capture %d is not open", id)
	}

	if fourcc := strings.ToUpper(format.FrameFormat); fourcc != "" {
		if fourcc == "MJPEG" {
			fourcc = "MJPG"
		}
		vc.Set(gocv.VideoCaptureFOURCC, vc.ToCodec(fourcc))
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(format.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(format.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(format.FPS))

	w := int(vc.Get(gocv.VideoCaptureFrameWidth))
	h := int(vc.Get(gocv.VideoCaptureFrameHeight))
	if w != format.Width || h != format.Height {
		vc.Close()
		return nil, fmt.Errorf("device %d does not support %s (got %dx%d)", id, format, w, h)
	}

	return &openCVDevice{
		vc:  vc,
		bgr: gocv.NewMat(),
		rgb: gocv.NewMat(),
	}, nil
}

type openCVDevice struct {
	mu  sync.Mutex
	vc  *gocv.VideoCapture
	bgr gocv.Mat
	rgb gocv.Mat
}

func (d *openCVDevice) Poll() (*frame.RGBImage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ok := d.vc.Read(&d.bgr); !ok || d.bgr.Empty() {
		return nil, fmt.Errorf("failed to read frame")
	}
	gocv.CvtColor(d.bgr, &d.rgb, gocv.ColorBGRToRGB)

	img := frame.NewRGBImage(d.rgb.Cols(), d.rgb.Rows())
	copy(img.Pix, d.rgb.ToBytes())
	return img, nil
}

func (d *openCVDevice) SetControl(c config.CameraControl) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.vc.Set(gocv.VideoCaptureProperties(c.ID), float64(c.Value))
	if got := int(d.vc.Get(gocv.VideoCaptureProperties(c.ID))); got != c.Value {
		return fmt.Errorf("control %d reads back %d, want %d", c.ID, got, c.Value)
	}
	return nil
}

func (d *openCVDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.bgr.Close()
	d.rgb.Close()
	return d.vc.Close()
}

// DefaultOpener returns the OpenCV backend.
func DefaultOpener() (Opener, error) {
	return OpenCVOpener{}, nil
}
