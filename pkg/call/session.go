// Package call implements the call session state machine: one Session per
// call attempt, driven by local intents, relay signals and the negotiator's
// connectivity events.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tphan267/supportcall/pkg/logger"
	"github.com/tphan267/supportcall/pkg/media"
	"github.com/tphan267/supportcall/pkg/rtc"
	"github.com/tphan267/supportcall/pkg/signaling"
)

const (
	DefaultAnswerTimeout = 90 * time.Second
	DefaultTickInterval  = time.Second

	publishTimeout = 5 * time.Second

	// maxBufferedCandidates bounds the candidates held for a remote
	// description that has not been applied yet.
	maxBufferedCandidates = 64
)

// Devices is the per-call device manager. *media.Manager implements it.
type Devices interface {
	AcquireMicrophone(ctx context.Context) (*media.Track, error)
	AcquireScreen(ctx context.Context) (*media.Track, error)
	SetEnabled(t *media.Track, enabled bool)
	Release(t *media.Track) error
	ReleaseAll()
}

// NegotiatorFactory opens a negotiator for a session. *rtc.API implements it.
type NegotiatorFactory interface {
	NewNegotiator() (rtc.Negotiator, error)
}

// Options tunes session timing.
type Options struct {
	// AnswerTimeout bounds the initiator's wait for a connection.
	AnswerTimeout time.Duration
	// TickInterval is the period of DurationTick events.
	TickInterval time.Duration
	// ManualAnswer holds an incoming call in Ringing until Accept.
	ManualAnswer bool
}

// Config wires a Session to its collaborators.
type Config struct {
	// ID defaults to a random UUID.
	ID       string
	Role     Role
	Room     string
	Identity string
	PeerID   string

	Relay       signaling.Publisher
	Devices     Devices
	Negotiators NegotiatorFactory

	// OnMissed is called once, on its own goroutine, with Identity when the
	// call ends as Missed.
	OnMissed func(identity string)

	// Listener receives every event on the session goroutine. It must not
	// block or call back into the session.
	Listener func(Event)

	Logger  *logger.Logger
	Options Options
}

// Session is one call attempt. Every input is serialized through a single
// goroutine; public methods are safe for concurrent use.
type Session struct {
	id   string
	cfg  Config
	opts Options
	log  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}

	stateMu sync.RWMutex
	state   State
	result  Result

	muted   atomic.Bool
	sharing atomic.Bool

	// owned by the session goroutine
	ended        bool
	neg          rtc.Negotiator
	remotePeer   string
	epoch        uint64
	remoteEpoch  uint64
	lastOfferSDP string
	pendingOffer bool
	needAnswer   bool
	accepted     bool
	renegotiate  bool
	signalled    bool
	acquiring    bool
	sharePending bool
	buffered     []signaling.Candidate
	mic          *media.Track
	screen       *media.Track
	missTimer    *time.Timer
	startedAt    time.Time
	connectedAt  time.Time
}

// New creates an Idle session and starts its goroutine.
func New(cfg Config) *Session {
	opts := cfg.Options
	if opts.AnswerTimeout <= 0 {
		opts.AnswerTimeout = DefaultAnswerTimeout
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("call")
	}

	s := &Session{
		id:        cfg.ID,
		cfg:       cfg,
		opts:      opts,
		log:       cfg.Logger.With("call", cfg.ID),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go s.run()
	return s
}

// ID returns the call id.
func (s *Session) ID() string { return s.id }

// Room returns the room the call is scoped to.
func (s *Session) Room() string { return s.cfg.Room }

// Role returns the side this session plays.
func (s *Session) Role() Role { return s.cfg.Role }

// State returns the current state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Muted reports whether the microphone is muted.
func (s *Session) Muted() bool { return s.muted.Load() }

// Sharing reports whether a screen share is being sent.
func (s *Session) Sharing() bool { return s.sharing.Load() }

// Done is closed once the session ended and released everything it held.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result returns the outcome once the session reached Ended.
func (s *Session) Result() (Result, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.result, s.state == Ended
}

// Start places the call. Only an Idle initiator can start.
func (s *Session) Start() error {
	return s.do(func() error {
		if s.cfg.Role != Initiator || s.state != Idle {
			return fmt.Errorf("%w: start as %s in %s", ErrInvalidState, s.cfg.Role, s.State())
		}
		s.setState(Dialing)
		s.emit(Event{Type: EventDialing})
		s.acquireMicrophone()
		return nil
	})
}

// HandleSignal applies one inbound signal from peer from.
func (s *Session) HandleSignal(from string, sig signaling.Signal) error {
	return s.do(func() error {
		s.onSignal(from, sig)
		return nil
	})
}

// Accept answers a ringing call held by Options.ManualAnswer.
func (s *Session) Accept() error {
	return s.do(func() error {
		if s.cfg.Role != Responder || s.State() != Ringing || s.accepted {
			return fmt.Errorf("%w: accept in %s", ErrInvalidState, s.State())
		}
		s.accepted = true
		s.answerWhenReady()
		return nil
	})
}

// Hangup ends the call locally. Hanging up an ended call is a no-op.
func (s *Session) Hangup() error {
	err := s.do(func() error {
		s.terminate(HungUp, nil)
		return nil
	})
	if errors.Is(err, ErrSessionEnded) {
		return nil
	}
	return err
}

// SetMuted mutes or unmutes the microphone without stopping capture.
func (s *Session) SetMuted(muted bool) error {
	return s.do(func() error {
		s.applyMute(muted)
		return nil
	})
}

// ToggleMute flips the mute state and returns the new value.
func (s *Session) ToggleMute() (bool, error) {
	var muted bool
	err := s.do(func() error {
		muted = !s.muted.Load()
		s.applyMute(muted)
		return nil
	})
	return muted, err
}

// ShareScreen acquires a display capture and sends it. It waits for the
// acquisition; a dismissed picker returns media.ErrCanceled and leaves the
// call untouched. Ending ctx abandons the acquisition, and a capture that
// arrives afterwards is released instead of shared.
func (s *Session) ShareScreen(ctx context.Context) error {
	ready := make(chan error, 1)
	err := s.do(func() error {
		if s.State() != Connected {
			return fmt.Errorf("%w: share screen in %s", ErrInvalidState, s.State())
		}
		if s.screen != nil {
			ready <- nil
			return nil
		}
		if s.sharePending {
			return fmt.Errorf("%w: screen share already pending", ErrInvalidState)
		}
		s.startScreenShare(ctx, ready)
		return nil
	})
	if err != nil {
		return err
	}

	select {
	case err := <-ready:
		return err
	case <-s.done:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopScreenShare stops sending the screen and releases the capture.
func (s *Session) StopScreenShare() error {
	return s.do(func() error {
		s.stopScreenShare()
		return nil
	})
}

// run is the session goroutine. After terminate closes the mailbox it
// drains what was already queued so late results are still released.
func (s *Session) run() {
	defer close(s.done)

	for range s.wake {
		for {
			s.mu.Lock()
			batch := s.queue
			s.queue = nil
			closed := s.closed
			s.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, fn := range batch {
				fn()
			}
		}
	}
}

func (s *Session) post(fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// postLive queues fn to run only while the session is live.
func (s *Session) postLive(fn func()) {
	s.post(func() {
		if !s.ended {
			fn()
		}
	})
}

// do runs fn on the session goroutine and waits for its result.
func (s *Session) do(fn func() error) error {
	errc := make(chan error, 1)
	ok := s.post(func() {
		if s.ended {
			errc <- ErrSessionEnded
			return
		}
		errc <- fn()
	})
	if !ok {
		return ErrSessionEnded
	}
	return <-errc
}

// deliver hands an acquired track to the session goroutine, or releases it
// when the session is already gone.
func (s *Session) deliver(t *media.Track, fn func()) {
	ok := s.post(func() {
		if s.ended {
			s.release(t)
			return
		}
		fn()
	})
	if !ok {
		s.release(t)
	}
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	prev := s.state
	s.state = state
	s.stateMu.Unlock()

	if prev != state {
		s.log.Debug("[Call] %s -> %s", prev, state)
	}
}

func (s *Session) emit(ev Event) {
	ev.CallID = s.id
	ev.Room = s.cfg.Room
	ev.Role = s.cfg.Role.String()
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if s.cfg.Listener != nil {
		s.cfg.Listener(ev)
	}
}

func (s *Session) publish(sig signaling.Signal) error {
	ctx, cancel := context.WithTimeout(s.ctx, publishTimeout)
	defer cancel()
	return s.cfg.Relay.Publish(ctx, s.cfg.Room, sig)
}

func (s *Session) release(t *media.Track) {
	if t == nil {
		return
	}
	if err := s.cfg.Devices.Release(t); err != nil {
		s.log.Warn("[Call] %v", err)
	}
}

func (s *Session) armMissTimer() {
	s.missTimer = time.AfterFunc(s.opts.AnswerTimeout, func() {
		s.postLive(func() {
			if s.State() != Connected {
				s.terminate(Missed, ErrTimeout)
			}
		})
	})
}

func (s *Session) stopMissTimer() {
	if s.missTimer != nil {
		s.missTimer.Stop()
		s.missTimer = nil
	}
}

func (s *Session) startTicker() {
	ctx := s.ctx
	go func() {
		ticker := time.NewTicker(s.opts.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.postLive(s.tick)
			}
		}
	}()
}

func (s *Session) tick() {
	if s.State() != Connected {
		return
	}
	elapsed := time.Since(s.connectedAt)
	s.emit(Event{
		Type:     EventDurationTick,
		Seconds:  int(elapsed / time.Second),
		Duration: FormatDuration(elapsed),
	})
}

// terminate is the single teardown path. Only the first call has effect.
func (s *Session) terminate(reason EndReason, cause error) {
	if s.ended {
		return
	}
	s.ended = true
	s.setState(Ending)
	s.stopMissTimer()

	if s.signalled && reason != RemoteEnded {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := s.cfg.Relay.Publish(ctx, s.cfg.Room, signaling.End{}); err != nil {
			s.log.Warn("[Call] Failed to send end: %v", err)
		}
		cancel()
	}
	s.cancel()

	s.release(s.mic)
	s.release(s.screen)
	s.mic, s.screen = nil, nil
	s.sharing.Store(false)
	s.cfg.Devices.ReleaseAll()

	if s.neg != nil {
		if err := s.neg.Close(); err != nil {
			s.log.Warn("[Call] Failed to close negotiator: %v", err)
		}
	}
	s.buffered = nil

	if reason == Missed && s.cfg.OnMissed != nil {
		go s.cfg.OnMissed(s.cfg.Identity)
	}

	now := time.Now()
	res := Result{Reason: reason, Err: cause, StartedAt: s.startedAt, EndedAt: now}
	if !s.connectedAt.IsZero() {
		res.Connected = true
		res.Duration = now.Sub(s.connectedAt)
	}

	s.stateMu.Lock()
	s.state = Ended
	s.result = res
	s.stateMu.Unlock()

	if cause != nil {
		s.log.Info("[Call] Ended: %s (%v)", reason, cause)
	} else {
		s.log.Info("[Call] Ended: %s", reason)
	}

	ev := Event{Type: EventEnded, Reason: reason, Message: reason.Description(), Err: cause}
	if res.Connected {
		ev.Seconds = int(res.Duration / time.Second)
		ev.Duration = FormatDuration(res.Duration)
	}
	s.emit(ev)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
