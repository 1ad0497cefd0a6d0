//go:build !linux || !cgo

package capture

import (
	"fmt"
	"runtime"

	"github.com/pion/webrtc/v4"
	"github.com/tphan267/supportcall/pkg/logger"
	"github.com/tphan267/supportcall/pkg/media"
)

// Devices reports every device as unavailable on builds without capture
// drivers. Dialing or answering needs the microphone, so every call on such a
// build ends as DeviceUnavailable.
type Devices struct {
	logger *logger.Logger
}

// New returns a Devices without capture support.
func New(log *logger.Logger) (*Devices, error) {
	log.Warn("[Media] Capture drivers unavailable on %s/%s without cgo", runtime.GOOS, runtime.GOARCH)
	return &Devices{logger: log}, nil
}

// RegisterCodecs registers the default codec set.
func (d *Devices) RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

// CaptureMicrophone implements media.Capturer.
func (d *Devices) CaptureMicrophone() (media.CapturedTrack, error) {
	return nil, fmt.Errorf("%w: microphone capture not supported on %s", media.ErrDeviceUnavailable, runtime.GOOS)
}

// CaptureScreen implements media.Capturer.
func (d *Devices) CaptureScreen() (media.CapturedTrack, error) {
	return nil, fmt.Errorf("%w: screen capture not supported on %s", media.ErrDeviceUnavailable, runtime.GOOS)
}

var _ media.Capturer = (*Devices)(nil)
