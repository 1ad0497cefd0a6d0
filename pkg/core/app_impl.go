package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tphan267/supportcall/pkg/call"
	"github.com/tphan267/supportcall/pkg/models"
	"github.com/tphan267/supportcall/pkg/providers"
)

var (
	// ErrUnauthorized wraps every token failure
	ErrUnauthorized = errors.New("unauthorized")
	// ErrLoginDisabled is returned by Login unless dev login is enabled
	ErrLoginDisabled = errors.New("login is disabled")
)

// MainApp is the main application implementation
type MainApp struct {
	providers *providers.Registry
}

// NewMainApp creates a new main application instance
func NewMainApp(p *providers.Registry) *MainApp {
	return &MainApp{
		providers: p,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Identity string `json:"identity"`
	Room     string `json:"room"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	Room      string    `json:"room"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login issues a token for an identity in a room and attaches the room
func (a *MainApp) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if cfg := a.providers.Config(); cfg == nil || !cfg.Auth.DevLogin {
		return nil, ErrLoginDisabled
	}
	if req.Identity == "" || req.Room == "" {
		return nil, errors.New("identity and room are required")
	}

	// Get auth provider
	auth, err := a.providers.GetAuth()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth provider: %w", err)
	}

	token, expires, err := auth.IssueToken(ctx, req.Identity, req.Room)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	calls, err := a.providers.GetCalls()
	if err != nil {
		return nil, fmt.Errorf("failed to get calls provider: %w", err)
	}
	if err := calls.Attach(req.Identity, req.Room); err != nil {
		return nil, fmt.Errorf("failed to attach room: %w", err)
	}

	// Track login event
	if analytics, err := a.providers.GetAnalytics(); err == nil {
		_ = analytics.Track(ctx, providers.Event{
			Type:   "login",
			UserID: req.Identity,
			Data: map[string]interface{}{
				"room": req.Room,
			},
		})
	}

	return &LoginResponse{
		Token:     token,
		Identity:  req.Identity,
		Room:      req.Room,
		ExpiresAt: expires,
	}, nil
}

// Authenticate resolves a token to the identity it carries
func (a *MainApp) Authenticate(ctx context.Context, token string) (*providers.Identity, error) {
	auth, err := a.providers.GetAuth()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth provider: %w", err)
	}

	identity, err := auth.ValidateToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return identity, nil
}

// attached validates token and makes sure the caller's room is attached
func (a *MainApp) attached(ctx context.Context, token string) (*providers.Identity, providers.CallProvider, error) {
	identity, err := a.Authenticate(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	calls, err := a.providers.GetCalls()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get calls provider: %w", err)
	}
	if err := calls.Attach(identity.Name, identity.Room); err != nil {
		return nil, nil, fmt.Errorf("failed to attach room: %w", err)
	}
	return identity, calls, nil
}

// StartCall places a call in the caller's room
func (a *MainApp) StartCall(ctx context.Context, token string) (*providers.CallStatus, error) {
	identity, calls, err := a.attached(ctx, token)
	if err != nil {
		return nil, err
	}
	return calls.StartCall(identity.Room)
}

// EndCall hangs up the caller's call
func (a *MainApp) EndCall(ctx context.Context, token string) error {
	identity, calls, err := a.attached(ctx, token)
	if err != nil {
		return err
	}
	return calls.EndCall(identity.Room)
}

// AcceptCall answers a ringing call
func (a *MainApp) AcceptCall(ctx context.Context, token string) error {
	identity, calls, err := a.attached(ctx, token)
	if err != nil {
		return err
	}
	return calls.AcceptCall(identity.Room)
}

// SetMuted mutes or unmutes the caller's microphone
func (a *MainApp) SetMuted(ctx context.Context, token string, muted bool) (*providers.CallStatus, error) {
	identity, calls, err := a.attached(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := calls.SetMuted(identity.Room, muted); err != nil {
		return nil, err
	}
	return calls.Status(identity.Room)
}

// ShareScreen starts sending the screen
func (a *MainApp) ShareScreen(ctx context.Context, token string) (*providers.CallStatus, error) {
	identity, calls, err := a.attached(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := calls.ShareScreen(ctx, identity.Room); err != nil {
		return nil, err
	}
	return calls.Status(identity.Room)
}

// StopScreenShare stops sending the screen
func (a *MainApp) StopScreenShare(ctx context.Context, token string) (*providers.CallStatus, error) {
	identity, calls, err := a.attached(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := calls.StopScreenShare(identity.Room); err != nil {
		return nil, err
	}
	return calls.Status(identity.Room)
}

// CallStatus returns a snapshot of the caller's call
func (a *MainApp) CallStatus(ctx context.Context, token string) (*providers.CallStatus, error) {
	identity, calls, err := a.attached(ctx, token)
	if err != nil {
		return nil, err
	}
	return calls.Status(identity.Room)
}

// CallEvents streams the caller's room events
func (a *MainApp) CallEvents(ctx context.Context, token string) (<-chan call.Event, func(), error) {
	identity, calls, err := a.attached(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	return calls.Subscribe(identity.Room)
}

// MissedCalls lists the missed calls of the caller's room
func (a *MainApp) MissedCalls(ctx context.Context, token string) ([]*models.MissedCall, error) {
	identity, calls, err := a.attached(ctx, token)
	if err != nil {
		return nil, err
	}
	return calls.MissedCalls(identity.Room)
}

// CallHistory lists the recent calls of the caller's room
func (a *MainApp) CallHistory(ctx context.Context, token string, limit int) ([]*models.CallRecord, error) {
	identity, calls, err := a.attached(ctx, token)
	if err != nil {
		return nil, err
	}
	return calls.History(identity.Room, limit)
}

// GetMetrics retrieves analytics metrics
func (a *MainApp) GetMetrics(ctx context.Context, token string, query providers.MetricsQuery) (*providers.MetricsResult, error) {
	if _, err := a.Authenticate(ctx, token); err != nil {
		return nil, err
	}

	// Get analytics provider
	analytics, err := a.providers.GetAnalytics()
	if err != nil {
		return nil, fmt.Errorf("failed to get analytics provider: %w", err)
	}

	// Get metrics
	result, err := analytics.GetMetrics(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}

	return result, nil
}

// Verify that MainApp implements App interface
var _ App = (*MainApp)(nil)
