// Package rtctest provides an in-memory rtc.Negotiator that follows the
// offer/answer signaling state rules without opening any transport.
package rtctest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/tphan267/supportcall/pkg/rtc"
)

var errNoRemoteDescription = errors.New("no remote description")

type signalingState int

const (
	stable signalingState = iota
	haveLocalOffer
	haveRemoteOffer
)

// Negotiator is a scripted rtc.Negotiator. Descriptions it creates are
// minimal valid SDP; remote descriptions are checked with
// rtc.ValidateDescription.
type Negotiator struct {
	// FailOffer, FailAnswer and FailRemote are returned, wrapped in
	// rtc.ErrNegotiationFailed, by the matching operation when set.
	FailOffer  error
	FailAnswer error
	FailRemote error

	mu          sync.Mutex
	state       signalingState
	haveRemote  bool
	seq         int
	offers      []webrtc.SessionDescription
	answers     []webrtc.SessionDescription
	remotes     []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	rollbacks   int
	senders     map[webrtc.RTPCodecType]webrtc.TrackLocal
	closed      bool
	onCandidate func(*webrtc.ICECandidateInit)
	onState     func(rtc.ConnectionState)
}

// NewNegotiator returns an idle fake.
func NewNegotiator() *Negotiator {
	return &Negotiator{senders: make(map[webrtc.RTPCodecType]webrtc.TrackLocal)}
}

func (n *Negotiator) describe(t webrtc.SDPType) webrtc.SessionDescription {
	n.seq++
	return webrtc.SessionDescription{
		Type: t,
		SDP:  fmt.Sprintf("v=0\r\no=- %d %d IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n", n.seq, n.seq),
	}
}

// CreateOffer implements rtc.Negotiator.
func (n *Negotiator) CreateOffer() (webrtc.SessionDescription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.FailOffer != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", rtc.ErrNegotiationFailed, n.FailOffer)
	}
	if n.closed || n.state == haveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create offer in state %d", rtc.ErrNegotiationFailed, n.state)
	}
	offer := n.describe(webrtc.SDPTypeOffer)
	n.state = haveLocalOffer
	n.offers = append(n.offers, offer)
	return offer, nil
}

// CreateAnswer implements rtc.Negotiator.
func (n *Negotiator) CreateAnswer() (webrtc.SessionDescription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.FailAnswer != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", rtc.ErrNegotiationFailed, n.FailAnswer)
	}
	if n.closed || n.state != haveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create answer in state %d", rtc.ErrNegotiationFailed, n.state)
	}
	answer := n.describe(webrtc.SDPTypeAnswer)
	n.state = stable
	n.answers = append(n.answers, answer)
	return answer, nil
}

// SetRemoteDescription implements rtc.Negotiator.
func (n *Negotiator) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := rtc.ValidateDescription(desc); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.FailRemote != nil {
		return fmt.Errorf("%w: %v", rtc.ErrNegotiationFailed, n.FailRemote)
	}
	switch {
	case n.closed:
		return fmt.Errorf("%w: closed", rtc.ErrNegotiationFailed)
	case desc.Type == webrtc.SDPTypeOffer && n.state == stable:
		n.state = haveRemoteOffer
	case desc.Type == webrtc.SDPTypeAnswer && n.state == haveLocalOffer:
		n.state = stable
	default:
		return fmt.Errorf("%w: remote %s in state %d", rtc.ErrNegotiationFailed, desc.Type, n.state)
	}
	n.haveRemote = true
	n.remotes = append(n.remotes, desc)
	return nil
}

// AddICECandidate implements rtc.Negotiator.
func (n *Negotiator) AddICECandidate(c webrtc.ICECandidateInit) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.haveRemote {
		return fmt.Errorf("%w: %v", rtc.ErrNegotiationFailed, errNoRemoteDescription)
	}
	n.candidates = append(n.candidates, c)
	return nil
}

// Rollback implements rtc.Negotiator.
func (n *Negotiator) Rollback() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == haveLocalOffer {
		n.state = stable
		n.rollbacks++
	}
	return nil
}

// AddTrack implements rtc.Negotiator.
func (n *Negotiator) AddTrack(track webrtc.TrackLocal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.senders[track.Kind()] = track
	return nil
}

// RemoveTrack implements rtc.Negotiator.
func (n *Negotiator) RemoveTrack(track webrtc.TrackLocal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.senders[track.Kind()] == track {
		n.senders[track.Kind()] = nil
	}
	return nil
}

// ReplaceOutboundTrack implements rtc.Negotiator.
func (n *Negotiator) ReplaceOutboundTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.senders[kind]; !ok {
		return false, nil
	}
	n.senders[kind] = track
	return true, nil
}

// OnLocalCandidate implements rtc.Negotiator.
func (n *Negotiator) OnLocalCandidate(fn func(*webrtc.ICECandidateInit)) {
	n.mu.Lock()
	n.onCandidate = fn
	n.mu.Unlock()
}

// OnStateChange implements rtc.Negotiator.
func (n *Negotiator) OnStateChange(fn func(rtc.ConnectionState)) {
	n.mu.Lock()
	n.onState = fn
	n.mu.Unlock()
}

// Close implements rtc.Negotiator.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return nil
}

// Emit reports a connection state change as pion would.
func (n *Negotiator) Emit(s rtc.ConnectionState) {
	n.mu.Lock()
	fn := n.onState
	n.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Gather reports a locally gathered candidate.
func (n *Negotiator) Gather(candidate string) {
	n.mu.Lock()
	fn := n.onCandidate
	n.mu.Unlock()
	if fn != nil {
		init := webrtc.ICECandidateInit{Candidate: candidate}
		fn(&init)
	}
}

// Offers returns the offers created so far.
func (n *Negotiator) Offers() []webrtc.SessionDescription {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), n.offers...)
}

// Answers returns the answers created so far.
func (n *Negotiator) Answers() []webrtc.SessionDescription {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), n.answers...)
}

// Remotes returns the remote descriptions applied so far.
func (n *Negotiator) Remotes() []webrtc.SessionDescription {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), n.remotes...)
}

// Candidates returns the remote candidates applied so far.
func (n *Negotiator) Candidates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.candidates))
	for _, c := range n.candidates {
		out = append(out, c.Candidate)
	}
	return out
}

// Rollbacks counts discarded local offers.
func (n *Negotiator) Rollbacks() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rollbacks
}

// Sender returns the track on the sender of kind and whether a sender exists.
func (n *Negotiator) Sender(kind webrtc.RTPCodecType) (webrtc.TrackLocal, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.senders[kind]
	return t, ok
}

// IsClosed reports whether Close was called.
func (n *Negotiator) IsClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Factory hands out fakes and remembers them.
type Factory struct {
	// Err fails NewNegotiator when set.
	Err error
	// Prepare, when set, configures each fake before it is returned.
	Prepare func(*Negotiator)

	mu      sync.Mutex
	created []*Negotiator
}

// NewNegotiator implements the call package's negotiator factory.
func (f *Factory) NewNegotiator() (rtc.Negotiator, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	n := NewNegotiator()
	if f.Prepare != nil {
		f.Prepare(n)
	}
	f.mu.Lock()
	f.created = append(f.created, n)
	f.mu.Unlock()
	return n, nil
}

// Created returns every fake handed out.
func (f *Factory) Created() []*Negotiator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Negotiator(nil), f.created...)
}

// Last returns the most recent fake, or nil.
func (f *Factory) Last() *Negotiator {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

var _ rtc.Negotiator = (*Negotiator)(nil)
