package rtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/tphan267/supportcall/pkg/logger"
)

// DefaultICEServers is used when Options.ICEServers is nil.
var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
}

// Options configures the peer connections an API creates.
type Options struct {
	ICEServers []webrtc.ICEServer

	// RegisterCodecs fills the media engine. Nil registers pion's defaults.
	RegisterCodecs func(*webrtc.MediaEngine) error

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	Logger *logger.Logger
}

// API creates negotiators sharing one media engine and interceptor chain.
type API struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	logger     *logger.Logger
}

// NewAPI builds the pion API. The ICE timeouts default to 30s disconnected,
// 120s failed and a 2s keepalive so short relay hiccups do not drop a call.
func NewAPI(opts Options) (*API, error) {
	if opts.DisconnectedTimeout == 0 {
		opts.DisconnectedTimeout = 30 * time.Second
	}
	if opts.FailedTimeout == 0 {
		opts.FailedTimeout = 120 * time.Second
	}
	if opts.KeepAliveInterval == 0 {
		opts.KeepAliveInterval = 2 * time.Second
	}
	if opts.ICEServers == nil {
		opts.ICEServers = DefaultICEServers
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewDefault("rtc")
	}

	mediaEngine := &webrtc.MediaEngine{}
	register := opts.RegisterCodecs
	if register == nil {
		register = func(me *webrtc.MediaEngine) error { return me.RegisterDefaultCodecs() }
	}
	if err := register(mediaEngine); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(opts.DisconnectedTimeout, opts.FailedTimeout, opts.KeepAliveInterval)

	return &API{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		iceServers: opts.ICEServers,
		logger:     opts.Logger,
	}, nil
}

// NewNegotiator opens a fresh peer connection.
func (a *API) NewNegotiator() (Negotiator, error) {
	pc, err := a.api.NewPeerConnection(webrtc.Configuration{ICEServers: a.iceServers})
	if err != nil {
		return nil, fmt.Errorf("%w: new peer connection: %v", ErrNegotiationFailed, err)
	}
	return newPeerNegotiator(pc, a.logger), nil
}
