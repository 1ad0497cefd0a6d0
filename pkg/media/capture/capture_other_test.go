//go:build !linux || !cgo

package capture

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/tphan267/supportcall/pkg/logger"
	"github.com/tphan267/supportcall/pkg/media"
)

func TestDevicesUnavailableWithoutDrivers(t *testing.T) {
	d, err := New(logger.Discard())
	if err != nil {
		t.Fatalf("Failed to create devices: %v", err)
	}

	if _, err := d.CaptureMicrophone(); !errors.Is(err, media.ErrDeviceUnavailable) {
		t.Errorf("Expected microphone to be unavailable, got %v", err)
	}
	if _, err := d.CaptureScreen(); !errors.Is(err, media.ErrDeviceUnavailable) {
		t.Errorf("Expected screen to be unavailable, got %v", err)
	}
	if err := d.RegisterCodecs(&webrtc.MediaEngine{}); err != nil {
		t.Errorf("Failed to register codecs: %v", err)
	}
}
