package rtc

import (
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// ValidateDescription checks that desc is an offer or answer carrying a
// parseable SDP body.
func ValidateDescription(desc webrtc.SessionDescription) error {
	switch desc.Type {
	case webrtc.SDPTypeOffer, webrtc.SDPTypeAnswer:
	default:
		return fmt.Errorf("%w: unexpected description type %q", ErrNegotiationFailed, desc.Type)
	}

	if desc.SDP == "" {
		return fmt.Errorf("%w: empty %s", ErrNegotiationFailed, desc.Type)
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return fmt.Errorf("%w: malformed %s: %v", ErrNegotiationFailed, desc.Type, err)
	}
	return nil
}

// MediaKinds lists the m-line media types of desc in order, e.g. audio, video.
func MediaKinds(desc webrtc.SessionDescription) ([]string, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}

	kinds := make([]string, 0, len(parsed.MediaDescriptions))
	for _, m := range parsed.MediaDescriptions {
		kinds = append(kinds, m.MediaName.Media)
	}
	return kinds, nil
}
