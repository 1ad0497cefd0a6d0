//go:build linux && cgo

// Package capture opens real capture devices through pion/mediadevices.
package capture

import (
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/tphan267/supportcall/pkg/logger"
	"github.com/tphan267/supportcall/pkg/media"
)

// Devices captures the microphone and the screen, encoding with opus and VP8.
type Devices struct {
	selector *mediadevices.CodecSelector
	logger   *logger.Logger
}

// New builds the codec selector and logs the devices the drivers found.
func New(log *logger.Logger) (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		log.Warn("[Media] No capture devices found")
	}
	for _, d := range devices {
		log.Debug("[Media] Device kind=%v label=%q", d.Kind, d.Label)
	}

	return &Devices{selector: selector, logger: log}, nil
}

// RegisterCodecs populates me with the codecs the selector can encode.
func (d *Devices) RegisterCodecs(me *webrtc.MediaEngine) error {
	d.selector.Populate(me)
	return nil
}

// CaptureMicrophone implements media.Capturer.
func (d *Devices) CaptureMicrophone() (media.CapturedTrack, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: d.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
	}
	return firstTrack(stream, webrtc.RTPCodecTypeAudio)
}

// CaptureScreen implements media.Capturer.
func (d *Devices) CaptureScreen() (media.CapturedTrack, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormatOneOf{frame.FormatRGBA, frame.FormatI420}
		},
		Codec: d.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDeviceUnavailable, err)
	}
	return firstTrack(stream, webrtc.RTPCodecTypeVideo)
}

func firstTrack(stream mediadevices.MediaStream, kind webrtc.RTPCodecType) (media.CapturedTrack, error) {
	tracks := stream.GetTracks()
	var found mediadevices.Track
	for _, t := range tracks {
		if found == nil && t.Kind() == kind {
			found = t
			continue
		}
		t.Close()
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no %s track in stream", media.ErrDeviceUnavailable, kind)
	}
	return found, nil
}

var _ media.Capturer = (*Devices)(nil)
