// Package rtc wraps a pion PeerConnection behind the small surface a call
// session negotiates through.
package rtc

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// ErrNegotiationFailed wraps every description, candidate or transport
// failure. A negotiator that returned it is not reused.
var ErrNegotiationFailed = errors.New("negotiation failed")

// ConnectionState is the coarse connectivity state reported by a Negotiator.
type ConnectionState int

const (
	Connecting ConnectionState = iota
	Connected
	Disconnected
	Failed
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

func stateFromPeer(s webrtc.PeerConnectionState) ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return Connected
	case webrtc.PeerConnectionStateDisconnected:
		return Disconnected
	case webrtc.PeerConnectionStateFailed:
		return Failed
	case webrtc.PeerConnectionStateClosed:
		return Closed
	default:
		return Connecting
	}
}

// Negotiator owns one peer connection. CreateOffer and CreateAnswer also
// apply the description locally. Callbacks run on pion goroutines.
type Negotiator interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error

	// Rollback discards a pending local offer.
	Rollback() error

	AddTrack(track webrtc.TrackLocal) error
	RemoveTrack(track webrtc.TrackLocal) error

	// ReplaceOutboundTrack swaps track into an existing sender of kind
	// without renegotiating. A nil track parks the sender. It reports false
	// when no sender of that kind exists.
	ReplaceOutboundTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (bool, error)

	// OnLocalCandidate is called for each gathered candidate and once with
	// nil when gathering completes.
	OnLocalCandidate(fn func(*webrtc.ICECandidateInit))
	OnStateChange(fn func(ConnectionState))

	Close() error
}
