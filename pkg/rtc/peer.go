package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/tphan267/supportcall/pkg/logger"
)

// PeerNegotiator is the pion backed Negotiator.
type PeerNegotiator struct {
	pc     *webrtc.PeerConnection
	logger *logger.Logger
}

func newPeerNegotiator(pc *webrtc.PeerConnection, log *logger.Logger) *PeerNegotiator {
	return &PeerNegotiator{pc: pc, logger: log}
}

// CreateOffer implements Negotiator.
func (p *PeerNegotiator) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create offer: %v", ErrNegotiationFailed, err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local offer: %v", ErrNegotiationFailed, err)
	}
	return offer, nil
}

// CreateAnswer implements Negotiator.
func (p *PeerNegotiator) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create answer: %v", ErrNegotiationFailed, err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local answer: %v", ErrNegotiationFailed, err)
	}
	return answer, nil
}

// SetRemoteDescription implements Negotiator.
func (p *PeerNegotiator) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := ValidateDescription(desc); err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: set remote %s: %v", ErrNegotiationFailed, desc.Type, err)
	}
	return nil
}

// AddICECandidate implements Negotiator.
func (p *PeerNegotiator) AddICECandidate(c webrtc.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("%w: add candidate: %v", ErrNegotiationFailed, err)
	}
	return nil
}

// Rollback implements Negotiator. It is a no-op without a pending local offer.
func (p *PeerNegotiator) Rollback() error {
	pending := p.pc.PendingLocalDescription()
	if pending == nil || pending.Type != webrtc.SDPTypeOffer {
		return nil
	}
	if err := p.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback, SDP: pending.SDP}); err != nil {
		return fmt.Errorf("%w: rollback: %v", ErrNegotiationFailed, err)
	}
	return nil
}

// AddTrack implements Negotiator.
func (p *PeerNegotiator) AddTrack(track webrtc.TrackLocal) error {
	if _, err := p.pc.AddTrack(track); err != nil {
		return fmt.Errorf("add %s track: %w", track.Kind(), err)
	}
	return nil
}

// RemoveTrack implements Negotiator.
func (p *PeerNegotiator) RemoveTrack(track webrtc.TrackLocal) error {
	for _, sender := range p.pc.GetSenders() {
		if sender.Track() == track {
			if err := p.pc.RemoveTrack(sender); err != nil {
				return fmt.Errorf("remove %s track: %w", track.Kind(), err)
			}
			return nil
		}
	}
	return nil
}

// ReplaceOutboundTrack implements Negotiator.
func (p *PeerNegotiator) ReplaceOutboundTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (bool, error) {
	for _, tr := range p.pc.GetTransceivers() {
		if tr.Kind() != kind || tr.Sender() == nil {
			continue
		}
		if err := tr.Sender().ReplaceTrack(track); err != nil {
			return false, fmt.Errorf("replace %s track: %w", kind, err)
		}
		return true, nil
	}
	return false, nil
}

// OnLocalCandidate implements Negotiator.
func (p *PeerNegotiator) OnLocalCandidate(fn func(*webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&init)
	})
}

// OnStateChange implements Negotiator.
func (p *PeerNegotiator) OnStateChange(fn func(ConnectionState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.logger.Debug("[RTC] Peer connection state %s", s)
		fn(stateFromPeer(s))
	})
}

// Close implements Negotiator.
func (p *PeerNegotiator) Close() error {
	return p.pc.Close()
}

var _ Negotiator = (*PeerNegotiator)(nil)
