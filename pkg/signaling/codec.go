package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Version is the envelope version written by Encode.
const Version = 1

// Envelope is the JSON form of a Signal. The sdp and candidate objects use the
// browser RTCSessionDescriptionInit / RTCIceCandidateInit shapes.
type Envelope struct {
	Version   int                        `json:"v,omitempty"`
	Type      Kind                       `json:"type"`
	From      string                     `json:"from,omitempty"`
	Epoch     uint64                     `json:"epoch,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Encode serializes sig as published by peer from.
func Encode(from string, sig Signal) ([]byte, error) {
	env := Envelope{Version: Version, From: from}

	switch s := sig.(type) {
	case Offer:
		desc := s.Description
		env.Type, env.Epoch, env.SDP = KindOffer, s.Epoch, &desc
	case Answer:
		desc := s.Description
		env.Type, env.Epoch, env.SDP = KindAnswer, s.Epoch, &desc
	case Candidate:
		cand := s.Candidate
		env.Type, env.Epoch, env.Candidate = KindCandidate, s.Epoch, &cand
	case End:
		env.Type = KindEnd
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownSignal, sig)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s signal: %w", env.Type, err)
	}
	return data, nil
}

// Decode parses an envelope. A missing version is read as version 1.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}
	if env.Version > Version {
		return Message{}, fmt.Errorf("%w: envelope version %d", ErrUnknownSignal, env.Version)
	}

	msg := Message{From: env.From}

	switch env.Type {
	case KindOffer, KindAnswer:
		if env.SDP == nil || env.SDP.SDP == "" {
			return Message{}, fmt.Errorf("%w: %s without sdp", ErrMalformedSignal, env.Type)
		}
		desc := *env.SDP
		if env.Type == KindOffer {
			desc.Type = webrtc.SDPTypeOffer
			msg.Signal = Offer{Epoch: env.Epoch, Description: desc}
		} else {
			desc.Type = webrtc.SDPTypeAnswer
			msg.Signal = Answer{Epoch: env.Epoch, Description: desc}
		}
	case KindCandidate:
		if env.Candidate == nil || env.Candidate.Candidate == "" {
			return Message{}, fmt.Errorf("%w: candidate without body", ErrMalformedSignal)
		}
		msg.Signal = Candidate{Epoch: env.Epoch, Candidate: *env.Candidate}
	case KindEnd:
		msg.Signal = End{}
	default:
		return Message{}, fmt.Errorf("%w: type %q", ErrUnknownSignal, env.Type)
	}

	return msg, nil
}
