//go:build !gocv

package camera

import "errors"

// ErrNoBackend is returned by DefaultOpener in builds without a camera
// backend.
var ErrNoBackend = errors.New("built without a camera backend (rebuild with -tags gocv)")

// DefaultOpener reports that no real camera backend is compiled in.
func DefaultOpener() (Opener, error) {
	return nil, ErrNoBackend
}
