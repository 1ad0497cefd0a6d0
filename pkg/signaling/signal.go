package signaling

import "github.com/pion/webrtc/v4"

// Kind names a CallSignal variant on the wire.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
	KindEnd       Kind = "end"
)

// Signal is the closed set of messages exchanged over a room relay:
// Offer, Answer, Candidate and End.
type Signal interface {
	Kind() Kind
	isSignal()
}

// Offer proposes a session description and opens negotiation epoch Epoch.
type Offer struct {
	Epoch       uint64
	Description webrtc.SessionDescription
}

// Answer completes the negotiation epoch opened by the matching Offer.
type Answer struct {
	Epoch       uint64
	Description webrtc.SessionDescription
}

// Candidate carries one locally gathered ICE candidate, tagged with the
// sender's epoch at the time it was gathered.
type Candidate struct {
	Epoch     uint64
	Candidate webrtc.ICECandidateInit
}

// End tells the other party the call is over.
type End struct{}

func (Offer) Kind() Kind     { return KindOffer }
func (Answer) Kind() Kind    { return KindAnswer }
func (Candidate) Kind() Kind { return KindCandidate }
func (End) Kind() Kind       { return KindEnd }

func (Offer) isSignal()     {}
func (Answer) isSignal()    {}
func (Candidate) isSignal() {}
func (End) isSignal()       {}

// Message is an inbound signal and the peer that published it.
type Message struct {
	From   string
	Signal Signal
}
