// Package media manages the local capture devices used by a call: one
// microphone track and an optional screen-share track.
package media

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrDeviceUnavailable is returned when a capture device is missing,
	// busy or permission was denied.
	ErrDeviceUnavailable = errors.New("media device unavailable")
	// ErrCanceled is returned when an acquisition was abandoned, either by
	// the user dismissing a picker or by the caller's context ending.
	ErrCanceled = errors.New("media acquisition canceled")
)

// Source identifies the kind of capture device behind a track.
type Source int

const (
	Microphone Source = iota
	Screen
)

func (s Source) String() string {
	switch s {
	case Microphone:
		return "microphone"
	case Screen:
		return "screen"
	default:
		return "unknown"
	}
}

// CapturedTrack is a live capture that can be sent on a peer connection.
// Close stops the underlying hardware capture.
type CapturedTrack interface {
	webrtc.TrackLocal
	Close() error
}

// Capturer opens capture devices. Implementations may block while the user
// answers a permission prompt or picks a display.
type Capturer interface {
	CaptureMicrophone() (CapturedTrack, error)
	CaptureScreen() (CapturedTrack, error)
}

// endNotifier is implemented by captures that can stop on their own, such
// as a display capture ended from the desktop environment.
type endNotifier interface {
	OnEnded(func(error))
}
