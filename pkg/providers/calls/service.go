// Package calls hosts call sessions: it keeps one relay subscription per
// attached room, routes inbound signals to the room's session, creates a
// responder for an unsolicited Offer and records how every call ended.
package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tphan267/supportcall/pkg/call"
	"github.com/tphan267/supportcall/pkg/logger"
	"github.com/tphan267/supportcall/pkg/media"
	"github.com/tphan267/supportcall/pkg/models"
	"github.com/tphan267/supportcall/pkg/providers"
	"github.com/tphan267/supportcall/pkg/signaling"
	"github.com/tphan267/supportcall/pkg/storage"
	"github.com/tphan267/supportcall/pkg/utils"
)

var (
	// ErrCallInProgress is returned by StartCall while the room has a live session.
	ErrCallInProgress = errors.New("a call is already in progress")
	// ErrNotAttached is returned for rooms that were never attached.
	ErrNotAttached = errors.New("room is not attached")
	// ErrNoActiveCall is returned by intents that need a live session.
	ErrNoActiveCall = errors.New("no active call")
)

const (
	// earlyCandidateLimit bounds the candidates kept for a call whose Offer
	// has not arrived yet.
	earlyCandidateLimit = 32

	// endHoldTime is how long an End that arrived with no call open still
	// applies to the next Offer from the same peer.
	endHoldTime = 15 * time.Second

	// seenOfferLimit bounds the remembered offers used to drop redelivered ones.
	seenOfferLimit = 64
)

type room struct {
	name     string
	identity string
	cancel   func()
	done     chan struct{}
	events   *utils.EventSub[call.Event]

	// guarded by Service.mu
	session    *call.Session
	peer       string
	early      []signaling.Message
	lastReason call.EndReason
	lastPeer   string
	lastEnded  time.Time
	pendingEnd map[string]time.Time
	seenOffers map[string]struct{}
}

func offerKey(from string, o signaling.Offer) string {
	return from + "\n" + o.Description.SDP
}

func (r *room) rememberOffer(from string, o signaling.Offer) {
	if r.seenOffers == nil || len(r.seenOffers) >= seenOfferLimit {
		r.seenOffers = make(map[string]struct{})
	}
	r.seenOffers[offerKey(from, o)] = struct{}{}
}

func (r *room) seenOffer(from string, o signaling.Offer) bool {
	_, ok := r.seenOffers[offerKey(from, o)]
	return ok
}

// trailingEnd reports whether an End from peer belongs to the call that just
// ended here, either crossing our own End or redelivered by the relay.
func (r *room) trailingEnd(peer string, now time.Time) bool {
	return peer != "" && peer == r.lastPeer && now.Sub(r.lastEnded) < endHoldTime
}

// holdEnd records an End from peer that matched no call.
func (r *room) holdEnd(peer string, now time.Time) {
	if r.pendingEnd == nil {
		r.pendingEnd = make(map[string]time.Time)
	}
	for p, at := range r.pendingEnd {
		if now.Sub(at) >= endHoldTime {
			delete(r.pendingEnd, p)
		}
	}
	r.pendingEnd[peer] = now
}

// takeEnd reports and clears a held End from peer.
func (r *room) takeEnd(peer string, now time.Time) bool {
	at, ok := r.pendingEnd[peer]
	if !ok {
		return false
	}
	delete(r.pendingEnd, peer)
	return now.Sub(at) < endHoldTime
}

// Service implements providers.CallProvider
type Service struct {
	capturer    media.Capturer
	negotiators call.NegotiatorFactory
	opts        call.Options

	relay     signaling.Channel
	db        storage.Storage
	analytics providers.AnalyticsProvider
	logger    *logger.Logger

	autoIdentity string
	autoRoom     string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	rooms map[string]*room
}

// NewService creates a call host that captures media with capturer and
// opens peer connections with negotiators.
func NewService(capturer media.Capturer, negotiators call.NegotiatorFactory) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		capturer:    capturer,
		negotiators: negotiators,
		ctx:         ctx,
		cancel:      cancel,
		rooms:       make(map[string]*room),
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return "calls"
}

// Initialize picks up the relay, storage and call timing from the registry
func (s *Service) Initialize(ctx context.Context, registry *providers.Registry) error {
	registry.Logger().Println("Initializing calls service")

	s.relay = registry.Relay()
	if s.relay == nil {
		return errors.New("calls service requires a signaling relay")
	}
	s.db = registry.DB()
	s.logger = registry.Logger()

	if analytics, err := registry.GetAnalytics(); err == nil {
		s.analytics = analytics
	}

	if cfg := registry.Config(); cfg != nil {
		s.opts = call.Options{
			AnswerTimeout: cfg.AnswerTimeout(),
			TickInterval:  cfg.TickInterval(),
			ManualAnswer:  cfg.Call.ManualAnswer,
		}
		s.autoIdentity = cfg.Identity
		s.autoRoom = cfg.Room
	}

	return nil
}

// IsRunnable returns true, the service attaches the configured room at start
func (s *Service) IsRunnable() bool {
	return true
}

// Start attaches the configured room, if any, and waits for ctx
func (s *Service) Start(ctx context.Context) error {
	if s.autoRoom != "" && s.autoIdentity != "" {
		if err := s.Attach(s.autoIdentity, s.autoRoom); err != nil {
			return err
		}
	}

	<-ctx.Done()
	return nil
}

// Stop hangs up every call and drops all subscriptions
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.Detach(name); err != nil && !errors.Is(err, ErrNotAttached) {
			s.logger.Warn("[Calls] Failed to detach %s: %v", name, err)
		}
	}

	s.cancel()
	s.wg.Wait()
	return nil
}

// RegisterAPIRoutes registers call routes
func (s *Service) RegisterAPIRoutes(app interface{}) error {
	// Call routes are handled by apiserver
	return nil
}

// Attach subscribes room on the relay on behalf of identity
func (s *Service) Attach(identity, name string) error {
	if identity == "" || name == "" {
		return errors.New("identity and room are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rooms[name]; ok {
		if r.identity != identity {
			return fmt.Errorf("room %s is attached as %s", name, r.identity)
		}
		return nil
	}

	msgs, cancel, err := s.relay.Subscribe(s.ctx, name)
	if err != nil {
		return fmt.Errorf("failed to subscribe to room %s: %w", name, err)
	}

	r := &room{
		name:     name,
		identity: identity,
		cancel:   cancel,
		done:     make(chan struct{}),
		events:   utils.NewEventSub[call.Event](),
	}
	s.rooms[name] = r

	s.wg.Add(1)
	go s.pump(r, msgs)

	s.logger.Info("[Calls] Attached %s to room %s", identity, name)
	return nil
}

// Detach hangs up the room's call and drops its subscription
func (s *Service) Detach(name string) error {
	s.mu.Lock()
	r, ok := s.rooms[name]
	if !ok {
		s.mu.Unlock()
		return ErrNotAttached
	}
	delete(s.rooms, name)
	sess := r.session
	s.mu.Unlock()

	if sess != nil {
		if err := sess.Hangup(); err != nil {
			s.logger.Warn("[Calls] Failed to hang up in %s: %v", name, err)
		}
	}

	r.cancel()
	<-r.done
	r.events.Close()

	s.logger.Info("[Calls] Detached from room %s", name)
	return nil
}

func (s *Service) pump(r *room, msgs <-chan signaling.Message) {
	defer s.wg.Done()
	defer close(r.done)

	for msg := range msgs {
		s.dispatch(r, msg)
	}
}

// dispatch routes one inbound signal. An Offer with no live session opens a
// responder; candidates that arrive first are held for it, and an End that
// arrives first ends it as soon as it opens.
func (s *Service) dispatch(r *room, msg signaling.Message) {
	s.mu.Lock()
	if s.rooms[r.name] != r {
		s.mu.Unlock()
		return
	}

	if sess := r.session; sess != nil && sess.State() < call.Ending {
		if offer, ok := msg.Signal.(signaling.Offer); ok {
			r.rememberOffer(msg.From, offer)
		}
		if r.peer == "" {
			r.peer = msg.From
		}
		s.mu.Unlock()
		s.handle(sess, msg)
		return
	}

	now := time.Now()
	switch sig := msg.Signal.(type) {
	case signaling.Offer:
		if r.seenOffer(msg.From, sig) {
			s.mu.Unlock()
			s.logger.Debug("[Calls] Dropping redelivered offer in %s from %s", r.name, msg.From)
			return
		}
		r.rememberOffer(msg.From, sig)

		sess := s.newSession(r, call.Responder)
		r.peer = msg.From
		early := r.early
		r.early = nil
		ended := r.takeEnd(msg.From, now)
		s.mu.Unlock()

		s.logger.Info("[Calls] Incoming call %s in room %s from %s", sess.ID(), r.name, msg.From)
		s.handle(sess, msg)
		for _, m := range early {
			if m.From == msg.From {
				s.handle(sess, m)
			}
		}
		if ended {
			s.logger.Info("[Calls] Call %s was ended before its offer arrived", sess.ID())
			s.handle(sess, signaling.Message{From: msg.From, Signal: signaling.End{}})
		}
		return
	case signaling.Candidate:
		if len(r.early) < earlyCandidateLimit {
			r.early = append(r.early, msg)
		} else {
			s.logger.Debug("[Calls] Dropping early candidate in %s, buffer full", r.name)
		}
	case signaling.End:
		if r.session != nil || r.trailingEnd(msg.From, now) {
			s.logger.Debug("[Calls] End from %s belongs to the previous call in %s", msg.From, r.name)
		} else {
			r.holdEnd(msg.From, now)
		}
	default:
		s.logger.Debug("[Calls] Dropping %s in %s, no active call", msg.Signal.Kind(), r.name)
	}
	s.mu.Unlock()
}

func (s *Service) handle(sess *call.Session, msg signaling.Message) {
	if err := sess.HandleSignal(msg.From, msg.Signal); err != nil && !errors.Is(err, call.ErrSessionEnded) {
		s.logger.Warn("[Calls] Failed to handle %s: %v", msg.Signal.Kind(), err)
	}
}

// newSession must be called with s.mu held.
func (s *Service) newSession(r *room, role call.Role) *call.Session {
	log := s.logger.With("room", r.name)

	var sess *call.Session
	sess = call.New(call.Config{
		Role:        role,
		Room:        r.name,
		Identity:    r.identity,
		PeerID:      s.relay.PeerID(),
		Relay:       s.relay,
		Devices:     media.NewManager(s.capturer, log),
		Negotiators: s.negotiators,
		OnMissed: func(identity string) {
			s.recordMissed(identity, r.name)
		},
		Listener: func(ev call.Event) {
			s.onEvent(r, sess, ev)
		},
		Logger:  log,
		Options: s.opts,
	})

	r.session = sess
	return sess
}

// onEvent runs on the session goroutine.
func (s *Service) onEvent(r *room, sess *call.Session, ev call.Event) {
	r.events.Publish(ev)
	if ev.Type != call.EventDurationTick {
		s.track(r, ev)
	}
	if ev.Type != call.EventEnded {
		return
	}

	s.mu.Lock()
	if r.session == sess {
		r.session = nil
		r.early = nil
		r.lastReason = ev.Reason
		r.lastPeer = r.peer
		r.lastEnded = time.Now()
		r.peer = ""
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.writeRecord(r, sess)
}

func (s *Service) track(r *room, ev call.Event) {
	if s.analytics == nil {
		return
	}

	data := map[string]interface{}{
		"room":    r.name,
		"call_id": ev.CallID,
		"role":    ev.Role,
	}
	if ev.Type == call.EventEnded {
		data["reason"] = ev.Reason.String()
		data["seconds"] = ev.Seconds
	}

	_ = s.analytics.Track(context.Background(), providers.Event{
		Type:      "call_" + string(ev.Type),
		Timestamp: ev.At,
		UserID:    r.identity,
		Data:      data,
	})
}

func (s *Service) writeRecord(r *room, sess *call.Session) {
	defer s.wg.Done()

	res, ok := sess.Result()
	if !ok || s.db == nil {
		return
	}

	record := &models.CallRecord{
		ID:        sess.ID(),
		Room:      r.name,
		Identity:  r.identity,
		Direction: sess.Role().String(),
		Reason:    res.Reason.String(),
		Connected: res.Connected,
		Seconds:   int(res.Duration / time.Second),
		StartedAt: res.StartedAt,
		EndedAt:   res.EndedAt,
	}
	if err := s.db.CallRecords().Add(record); err != nil {
		s.logger.Error("[Calls] Failed to record call %s: %v", sess.ID(), err)
	}
}

func (s *Service) recordMissed(identity, name string) {
	if s.db == nil {
		return
	}
	if _, err := s.db.MissedCalls().Insert(identity, name); err != nil {
		s.logger.Error("[Calls] Failed to record missed call for %s: %v", identity, err)
		return
	}
	s.logger.Info("[Calls] Missed call recorded for %s in %s", identity, name)
}

func (s *Service) active(name string) (*call.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[name]
	if !ok {
		return nil, ErrNotAttached
	}
	if r.session == nil || r.session.State() >= call.Ending {
		return nil, ErrNoActiveCall
	}
	return r.session, nil
}

// StartCall places an outgoing call in room
func (s *Service) StartCall(name string) (*providers.CallStatus, error) {
	s.mu.Lock()
	r, ok := s.rooms[name]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotAttached
	}
	if r.session != nil && r.session.State() < call.Ending {
		s.mu.Unlock()
		return nil, ErrCallInProgress
	}
	sess := s.newSession(r, call.Initiator)
	s.mu.Unlock()

	if err := sess.Start(); err != nil {
		return nil, err
	}
	s.logger.Info("[Calls] Outgoing call %s in room %s", sess.ID(), name)
	return s.Status(name)
}

// EndCall hangs up the room's call. Ending with no call is a no-op.
func (s *Service) EndCall(name string) error {
	sess, err := s.active(name)
	if errors.Is(err, ErrNoActiveCall) {
		return nil
	}
	if err != nil {
		return err
	}
	return sess.Hangup()
}

// AcceptCall answers a ringing call held for manual answer
func (s *Service) AcceptCall(name string) error {
	sess, err := s.active(name)
	if err != nil {
		return err
	}
	return sess.Accept()
}

// SetMuted mutes or unmutes the microphone of the room's call
func (s *Service) SetMuted(name string, muted bool) error {
	sess, err := s.active(name)
	if err != nil {
		return err
	}
	return sess.SetMuted(muted)
}

// ShareScreen starts sending the screen in the room's call
func (s *Service) ShareScreen(ctx context.Context, name string) error {
	sess, err := s.active(name)
	if err != nil {
		return err
	}
	return sess.ShareScreen(ctx)
}

// StopScreenShare stops sending the screen
func (s *Service) StopScreenShare(name string) error {
	sess, err := s.active(name)
	if err != nil {
		return err
	}
	return sess.StopScreenShare()
}

// Status returns a snapshot of the room's call
func (s *Service) Status(name string) (*providers.CallStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[name]
	if !ok {
		return nil, ErrNotAttached
	}

	status := &providers.CallStatus{
		Room:       r.name,
		Identity:   r.identity,
		State:      call.Idle.String(),
		LastReason: r.lastReason.String(),
	}
	if sess := r.session; sess != nil {
		status.CallID = sess.ID()
		status.State = sess.State().String()
		status.Role = sess.Role().String()
		status.Muted = sess.Muted()
		status.Sharing = sess.Sharing()
	}
	return status, nil
}

// Subscribe streams the room's call events
func (s *Service) Subscribe(name string) (<-chan call.Event, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[name]
	if !ok {
		return nil, nil, ErrNotAttached
	}
	ch, cancel := r.events.Subscribe()
	return ch, cancel, nil
}

// MissedCalls lists the missed calls placed from room
func (s *Service) MissedCalls(name string) ([]*models.MissedCall, error) {
	if s.db == nil {
		return nil, nil
	}
	return s.db.MissedCalls().ListByRoom(name, 0)
}

// History lists the most recent calls of room
func (s *Service) History(name string, limit int) ([]*models.CallRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	return s.db.CallRecords().List(models.CallRecordFilter{Room: name, Limit: limit})
}

// Verify that Service implements both Service and CallProvider interfaces
var _ providers.Service = (*Service)(nil)
var _ providers.CallProvider = (*Service)(nil)
