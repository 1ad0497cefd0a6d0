package rtc_test

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphan267/supportcall/pkg/logger"
	"github.com/tphan267/supportcall/pkg/rtc"
)

func newTestAPI(t *testing.T) *rtc.API {
	t.Helper()
	api, err := rtc.NewAPI(rtc.Options{
		ICEServers: []webrtc.ICEServer{},
		Logger:     logger.Discard(),
	})
	require.NoError(t, err)
	return api
}

func newNegotiator(t *testing.T, api *rtc.API) rtc.Negotiator {
	t.Helper()
	n, err := api.NewNegotiator()
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func audioTrack(t *testing.T, id string) *webrtc.TrackLocalStaticSample {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, "test")
	require.NoError(t, err)
	return track
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	caller := newNegotiator(t, api)
	callee := newNegotiator(t, api)

	require.NoError(t, caller.AddTrack(audioTrack(t, "mic")))

	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)

	kinds, err := rtc.MediaKinds(offer)
	require.NoError(t, err)
	assert.Equal(t, []string{"audio"}, kinds)

	require.NoError(t, callee.SetRemoteDescription(offer))
	answer, err := callee.CreateAnswer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	require.NoError(t, caller.SetRemoteDescription(answer))
}

func TestSetRemoteRejectsMalformed(t *testing.T) {
	n := newNegotiator(t, newTestAPI(t))

	err := n.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "not sdp"})
	assert.ErrorIs(t, err, rtc.ErrNegotiationFailed)

	err = n.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer})
	assert.ErrorIs(t, err, rtc.ErrNegotiationFailed)
}

func TestCandidateBeforeRemoteDescriptionFails(t *testing.T) {
	n := newNegotiator(t, newTestAPI(t))

	err := n.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"})
	assert.ErrorIs(t, err, rtc.ErrNegotiationFailed)
}

func TestReplaceOutboundTrack(t *testing.T) {
	n := newNegotiator(t, newTestAPI(t))

	replaced, err := n.ReplaceOutboundTrack(webrtc.RTPCodecTypeVideo, nil)
	require.NoError(t, err)
	assert.False(t, replaced, "no video sender yet")

	require.NoError(t, n.AddTrack(audioTrack(t, "mic")))
	replaced, err = n.ReplaceOutboundTrack(webrtc.RTPCodecTypeAudio, audioTrack(t, "mic-2"))
	require.NoError(t, err)
	assert.True(t, replaced)
}

func TestRollbackWithoutPendingOffer(t *testing.T) {
	n := newNegotiator(t, newTestAPI(t))
	assert.NoError(t, n.Rollback())
}

func TestValidateDescription(t *testing.T) {
	valid := "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"

	assert.NoError(t, rtc.ValidateDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: valid}))
	assert.ErrorIs(t, rtc.ValidateDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback, SDP: valid}), rtc.ErrNegotiationFailed)
	assert.ErrorIs(t, rtc.ValidateDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"}), rtc.ErrNegotiationFailed)
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "connected", rtc.Connected.String())
	assert.Equal(t, "failed", rtc.Failed.String())
}
