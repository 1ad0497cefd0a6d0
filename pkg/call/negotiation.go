package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/tphan267/supportcall/pkg/media"
	"github.com/tphan267/supportcall/pkg/rtc"
	"github.com/tphan267/supportcall/pkg/signaling"
)

func (s *Session) onSignal(from string, sig signaling.Signal) {
	if s.remotePeer != "" && from != "" && from != s.remotePeer {
		s.log.Debug("[Call] Ignoring %s from third party %s", sig.Kind(), from)
		return
	}

	switch sig := sig.(type) {
	case signaling.Offer:
		s.onOffer(from, sig)
	case signaling.Answer:
		s.onAnswer(from, sig)
	case signaling.Candidate:
		s.onCandidate(sig)
	case signaling.End:
		s.terminate(RemoteEnded, nil)
	}
}

// polite reports whether this side yields when both peers offer at once.
func (s *Session) polite(remote string) bool {
	return s.cfg.PeerID < remote
}

func (s *Session) ensureNegotiator() error {
	if s.neg != nil {
		return nil
	}

	neg, err := s.cfg.Negotiators.NewNegotiator()
	if err != nil {
		return err
	}
	neg.OnLocalCandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			return
		}
		candidate := *c
		s.postLive(func() { s.sendCandidate(candidate) })
	})
	neg.OnStateChange(func(state rtc.ConnectionState) {
		s.postLive(func() { s.onConnectionState(state) })
	})
	s.neg = neg
	return nil
}

func (s *Session) onOffer(from string, o signaling.Offer) {
	epoch := o.Epoch
	if epoch == 0 {
		epoch = s.epoch + 1
	}
	if epoch <= s.remoteEpoch || o.Description.SDP == s.lastOfferSDP {
		s.log.Debug("[Call] Ignoring duplicate offer for epoch %d", epoch)
		return
	}

	if s.State() == Idle {
		if s.cfg.Role != Responder {
			s.log.Warn("[Call] Ignoring offer before the call started")
			return
		}
		s.setState(Ringing)
		s.emit(Event{Type: EventRinging})
	}
	if s.remotePeer == "" {
		s.remotePeer = from
	}
	s.signalled = true

	if err := s.ensureNegotiator(); err != nil {
		s.terminate(NegotiationFailed, err)
		return
	}

	if s.pendingOffer {
		if !s.polite(from) {
			s.log.Info("[Call] Offer collision, keeping ours (epoch %d)", s.epoch)
			return
		}
		s.log.Info("[Call] Offer collision, rolling back ours (epoch %d)", s.epoch)
		if err := s.neg.Rollback(); err != nil {
			s.terminate(NegotiationFailed, err)
			return
		}
		s.pendingOffer = false
		s.renegotiate = true
	}

	if err := s.neg.SetRemoteDescription(o.Description); err != nil {
		s.terminate(NegotiationFailed, err)
		return
	}
	s.lastOfferSDP = o.Description.SDP
	s.remoteEpoch = epoch
	if epoch > s.epoch {
		s.epoch = epoch
	}
	s.needAnswer = true

	if !s.flushCandidates() {
		return
	}

	if s.State() == Ringing && s.opts.ManualAnswer && !s.accepted {
		return
	}
	s.answerWhenReady()
}

// answerWhenReady answers now if the microphone is attached, otherwise
// once it is.
func (s *Session) answerWhenReady() {
	switch {
	case s.mic != nil:
		s.sendAnswer()
	case !s.acquiring:
		s.acquireMicrophone()
	}
}

func (s *Session) sendAnswer() {
	if !s.needAnswer {
		return
	}

	answer, err := s.neg.CreateAnswer()
	if err != nil {
		s.terminate(NegotiationFailed, err)
		return
	}
	s.needAnswer = false

	if err := s.publish(signaling.Answer{Epoch: s.remoteEpoch, Description: answer}); err != nil {
		if s.State() != Connected {
			s.terminate(RelayUnavailable, err)
			return
		}
		s.log.Warn("[Call] Failed to send renegotiation answer: %v", err)
	}

	if s.State() == Ringing || s.State() == Dialing {
		s.setState(Negotiating)
	}
}

func (s *Session) onAnswer(from string, a signaling.Answer) {
	epoch := a.Epoch
	if epoch == 0 {
		epoch = s.epoch
	}
	if !s.pendingOffer || epoch != s.epoch {
		s.log.Debug("[Call] Ignoring stale or duplicate answer for epoch %d (current %d)", epoch, s.epoch)
		return
	}

	if err := s.neg.SetRemoteDescription(a.Description); err != nil {
		s.terminate(NegotiationFailed, err)
		return
	}
	if s.remotePeer == "" {
		s.remotePeer = from
	}
	s.pendingOffer = false
	s.remoteEpoch = epoch

	if !s.flushCandidates() {
		return
	}

	switch s.State() {
	case Dialing:
		s.setState(Negotiating)
	case Connected:
		if s.renegotiate {
			s.renegotiate = false
			s.offer()
		}
	}
}

func (s *Session) onCandidate(c signaling.Candidate) {
	if c.Epoch != 0 && c.Epoch < s.epoch {
		s.log.Debug("[Call] Discarding candidate from stale epoch %d (current %d)", c.Epoch, s.epoch)
		return
	}
	if s.neg == nil || s.remoteEpoch == 0 || c.Epoch > s.remoteEpoch {
		if len(s.buffered) >= maxBufferedCandidates {
			s.log.Debug("[Call] Dropping candidate for epoch %d, buffer full", c.Epoch)
			return
		}
		s.buffered = append(s.buffered, c)
		return
	}
	s.applyCandidate(c)
}

func (s *Session) applyCandidate(c signaling.Candidate) bool {
	if err := s.neg.AddICECandidate(c.Candidate); err != nil {
		s.terminate(NegotiationFailed, err)
		return false
	}
	return true
}

// flushCandidates replays buffered candidates that belong to the epoch
// whose remote description is now set, drops stale ones and keeps the
// rest. It reports false if the session ended.
func (s *Session) flushCandidates() bool {
	pending := s.buffered
	s.buffered = nil

	for _, c := range pending {
		switch {
		case c.Epoch != 0 && c.Epoch < s.epoch:
			s.log.Debug("[Call] Discarding buffered candidate from stale epoch %d", c.Epoch)
		case c.Epoch > s.remoteEpoch:
			s.buffered = append(s.buffered, c)
		default:
			if !s.applyCandidate(c) {
				return false
			}
		}
	}
	return true
}

func (s *Session) sendCandidate(c webrtc.ICECandidateInit) {
	if err := s.publish(signaling.Candidate{Epoch: s.epoch, Candidate: c}); err != nil {
		s.log.Warn("[Call] Failed to send candidate: %v", err)
	}
}

// sendInitialOffer opens epoch 1 and arms the missed-call timer.
func (s *Session) sendInitialOffer() {
	s.epoch++
	offer, err := s.neg.CreateOffer()
	if err != nil {
		s.terminate(NegotiationFailed, err)
		return
	}
	s.pendingOffer = true

	if err := s.publish(signaling.Offer{Epoch: s.epoch, Description: offer}); err != nil {
		s.terminate(RelayUnavailable, err)
		return
	}
	s.signalled = true
	s.armMissTimer()
}

// offer starts a renegotiation epoch. The missed-call timer is not touched.
func (s *Session) offer() {
	if s.pendingOffer || s.needAnswer {
		s.renegotiate = true
		return
	}

	s.epoch++
	offer, err := s.neg.CreateOffer()
	if err != nil {
		s.terminate(NegotiationFailed, err)
		return
	}
	s.pendingOffer = true

	if err := s.publish(signaling.Offer{Epoch: s.epoch, Description: offer}); err != nil {
		s.log.Warn("[Call] Failed to send renegotiation offer for epoch %d: %v", s.epoch, err)
		if err := s.neg.Rollback(); err != nil {
			s.terminate(NegotiationFailed, err)
			return
		}
		s.pendingOffer = false
	}
}

func (s *Session) onConnectionState(state rtc.ConnectionState) {
	switch state {
	case rtc.Connected:
		if s.State() == Connected {
			return
		}
		s.stopMissTimer()
		s.setState(Connected)
		s.connectedAt = time.Now()
		s.startTicker()
		s.emit(Event{Type: EventConnected})

		if s.renegotiate && !s.pendingOffer {
			s.renegotiate = false
			s.offer()
		}
	case rtc.Disconnected:
		s.log.Warn("[Call] Connection interrupted, waiting for ICE to recover")
	case rtc.Failed, rtc.Closed:
		s.terminate(NegotiationFailed, fmt.Errorf("%w: connection %s", rtc.ErrNegotiationFailed, state))
	}
}

func (s *Session) acquireMicrophone() {
	s.acquiring = true
	ctx := s.ctx
	devices := s.cfg.Devices

	go func() {
		t, err := devices.AcquireMicrophone(ctx)
		if err != nil {
			s.postLive(func() {
				s.acquiring = false
				s.terminate(DeviceUnavailable, err)
			})
			return
		}
		s.deliver(t, func() {
			s.acquiring = false
			s.onMicrophone(t)
		})
	}()
}

func (s *Session) onMicrophone(t *media.Track) {
	if err := s.ensureNegotiator(); err != nil {
		s.release(t)
		s.terminate(NegotiationFailed, err)
		return
	}

	s.mic = t
	s.cfg.Devices.SetEnabled(t, !s.muted.Load())
	if err := s.neg.AddTrack(t); err != nil {
		s.terminate(NegotiationFailed, err)
		return
	}

	switch {
	case s.needAnswer:
		s.sendAnswer()
	case s.cfg.Role == Initiator && s.epoch == 0:
		s.sendInitialOffer()
	}
}

func (s *Session) applyMute(muted bool) {
	s.muted.Store(muted)
	if s.mic != nil {
		s.cfg.Devices.SetEnabled(s.mic, !muted)
	}
	s.log.Info("[Call] Microphone muted=%v", muted)
}

func (s *Session) startScreenShare(caller context.Context, ready chan<- error) {
	s.sharePending = true
	ctx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(caller, cancel)
	devices := s.cfg.Devices

	go func() {
		defer cancel()
		defer stop()

		t, err := devices.AcquireScreen(ctx)
		if err != nil {
			s.postLive(func() {
				s.sharePending = false
				if errors.Is(err, media.ErrCanceled) {
					s.log.Info("[Call] Screen share canceled")
				} else {
					s.log.Warn("[Call] Screen share unavailable: %v", err)
				}
			})
			ready <- err
			return
		}
		s.deliver(t, func() {
			s.sharePending = false
			if err := ctx.Err(); err != nil {
				s.log.Info("[Call] Screen share abandoned: %v", err)
				s.release(t)
				ready <- err
				return
			}
			ready <- s.attachScreen(t)
		})
	}()
}

func (s *Session) attachScreen(t *media.Track) error {
	replaced, err := s.neg.ReplaceOutboundTrack(webrtc.RTPCodecTypeVideo, t)
	if err != nil {
		s.release(t)
		return err
	}
	if !replaced {
		if err := s.neg.AddTrack(t); err != nil {
			s.release(t)
			return err
		}
	}

	s.screen = t
	s.sharing.Store(true)
	s.log.Info("[Call] Screen share started (in place: %v)", replaced)

	go func() {
		<-t.Ended()
		s.postLive(func() {
			if s.screen == t {
				s.stopScreenShare()
			}
		})
	}()

	if !replaced {
		s.offer()
	}
	return nil
}

func (s *Session) stopScreenShare() {
	t := s.screen
	if t == nil {
		return
	}
	s.screen = nil
	s.sharing.Store(false)

	if _, err := s.neg.ReplaceOutboundTrack(webrtc.RTPCodecTypeVideo, nil); err != nil {
		s.log.Warn("[Call] Failed to park video sender: %v", err)
	}
	s.release(t)
	s.log.Info("[Call] Screen share stopped")
}
