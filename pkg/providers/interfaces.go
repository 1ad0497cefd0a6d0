package providers

import (
	"context"
	"time"

	"github.com/tphan267/supportcall/pkg/call"
	"github.com/tphan267/supportcall/pkg/models"
)

// Identity is the caller bound to an issued token
type Identity struct {
	Name string
	Room string
}

// AuthProvider defines authentication operations
type AuthProvider interface {
	// IssueToken signs a token for an identity scoped to one room
	IssueToken(ctx context.Context, identity, room string) (string, time.Time, error)
	// ValidateToken verifies a token and returns the identity it carries
	ValidateToken(ctx context.Context, token string) (*Identity, error)
}

// AnalyticsProvider defines analytics operations
type AnalyticsProvider interface {
	// Track records an analytics event
	Track(ctx context.Context, event Event) error
	// GetMetrics retrieves metrics for a given query
	GetMetrics(ctx context.Context, query MetricsQuery) (*MetricsResult, error)
}

// Event represents an analytics event
type Event struct {
	Type      string
	Timestamp time.Time
	UserID    string
	Data      map[string]interface{}
}

// MetricsQuery defines parameters for metrics retrieval
type MetricsQuery struct {
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	EventTypes []string  `json:"event_types"`
}

// MetricsResult contains aggregated metrics
type MetricsResult struct {
	Data  map[string]interface{} `json:"data"`
	Count int64                  `json:"count"`
}

// CallStatus is a snapshot of a room's call
type CallStatus struct {
	Room       string `json:"room"`
	Identity   string `json:"identity"`
	CallID     string `json:"call_id,omitempty"`
	State      string `json:"state"`
	Role       string `json:"role,omitempty"`
	Muted      bool   `json:"muted"`
	Sharing    bool   `json:"sharing"`
	LastReason string `json:"last_reason,omitempty"`
}

// CallProvider hosts the call sessions of attached rooms
type CallProvider interface {
	// Attach subscribes a room on the relay. Attaching twice is a no-op.
	Attach(identity, room string) error
	// Detach hangs up the room's call and drops the subscription
	Detach(room string) error

	StartCall(room string) (*CallStatus, error)
	EndCall(room string) error
	AcceptCall(room string) error
	SetMuted(room string, muted bool) error
	ShareScreen(ctx context.Context, room string) error
	StopScreenShare(room string) error

	Status(room string) (*CallStatus, error)
	// Subscribe streams the room's call events until cancel is called
	Subscribe(room string) (<-chan call.Event, func(), error)

	MissedCalls(room string) ([]*models.MissedCall, error)
	History(room string, limit int) ([]*models.CallRecord, error)
}
