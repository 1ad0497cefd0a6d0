package core

import (
	"context"

	"github.com/tphan267/supportcall/pkg/call"
	"github.com/tphan267/supportcall/pkg/models"
	"github.com/tphan267/supportcall/pkg/providers"
)

// App defines the core application business logic interface
type App interface {
	// Login issues a token for an identity in a room and attaches the room
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)

	// Authenticate resolves a token to the identity it carries
	Authenticate(ctx context.Context, token string) (*providers.Identity, error)

	StartCall(ctx context.Context, token string) (*providers.CallStatus, error)
	EndCall(ctx context.Context, token string) error
	AcceptCall(ctx context.Context, token string) error
	SetMuted(ctx context.Context, token string, muted bool) (*providers.CallStatus, error)
	ShareScreen(ctx context.Context, token string) (*providers.CallStatus, error)
	StopScreenShare(ctx context.Context, token string) (*providers.CallStatus, error)
	CallStatus(ctx context.Context, token string) (*providers.CallStatus, error)

	// CallEvents streams the caller's room events until cancel is called
	CallEvents(ctx context.Context, token string) (<-chan call.Event, func(), error)

	MissedCalls(ctx context.Context, token string) ([]*models.MissedCall, error)
	CallHistory(ctx context.Context, token string, limit int) ([]*models.CallRecord, error)

	// GetMetrics retrieves analytics metrics
	GetMetrics(ctx context.Context, token string, query providers.MetricsQuery) (*providers.MetricsResult, error)
}
