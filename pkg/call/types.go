package call

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is the cause attached to a Missed call.
	ErrTimeout = errors.New("no answer before timeout")
	// ErrInvalidState is returned by intents that do not apply in the
	// session's current state.
	ErrInvalidState = errors.New("invalid call state")
	// ErrSessionEnded is returned by every operation once the session ended.
	ErrSessionEnded = errors.New("call session ended")
)

// State is the visible state of a Session.
type State int

const (
	Idle State = iota
	Dialing
	Ringing
	Negotiating
	Connected
	Ending
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dialing:
		return "dialing"
	case Ringing:
		return "ringing"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Ending:
		return "ending"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Role says which side of the call a Session plays.
type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "outgoing"
	}
	return "incoming"
}

// EndReason is the cause carried by the single terminal event.
type EndReason int

const (
	ReasonNone EndReason = iota
	HungUp
	RemoteEnded
	Missed
	NegotiationFailed
	DeviceUnavailable
	RelayUnavailable
)

// String returns the stable machine code of the reason.
func (r EndReason) String() string {
	switch r {
	case HungUp:
		return "hung_up"
	case RemoteEnded:
		return "remote_ended"
	case Missed:
		return "missed"
	case NegotiationFailed:
		return "negotiation_failed"
	case DeviceUnavailable:
		return "device_unavailable"
	case RelayUnavailable:
		return "relay_unavailable"
	default:
		return ""
	}
}

// Description is the human readable text shown to the user.
func (r EndReason) Description() string {
	switch r {
	case HungUp:
		return "Call ended"
	case RemoteEnded:
		return "The other party ended the call"
	case Missed:
		return "No answer"
	case NegotiationFailed:
		return "The call could not be connected"
	case DeviceUnavailable:
		return "Microphone is unavailable or access was denied"
	case RelayUnavailable:
		return "Calling is unavailable right now"
	default:
		return ""
	}
}

// MarshalText renders the machine code in JSON.
func (r EndReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseEndReason maps a stored machine code back to its reason.
func ParseEndReason(code string) EndReason {
	for r := HungUp; r <= RelayUnavailable; r++ {
		if r.String() == code {
			return r
		}
	}
	return ReasonNone
}

// EventType names the events projected to the presentation layer.
type EventType string

const (
	EventDialing      EventType = "dialing"
	EventRinging      EventType = "ringing"
	EventConnected    EventType = "connected"
	EventEnded        EventType = "ended"
	EventDurationTick EventType = "duration"
)

// Event is one UI projection of a session change.
type Event struct {
	Type     EventType `json:"type"`
	CallID   string    `json:"call_id"`
	Room     string    `json:"room"`
	Role     string    `json:"role"`
	Reason   EndReason `json:"reason,omitempty"`
	Message  string    `json:"message,omitempty"`
	Seconds  int       `json:"seconds,omitempty"`
	Duration string    `json:"duration,omitempty"`
	At       time.Time `json:"at"`

	// Err is the wrapped low level cause of an Ended event, for logs only.
	Err error `json:"-"`
}

// Result is the outcome of an ended session.
type Result struct {
	Reason    EndReason
	Err       error
	Connected bool
	Duration  time.Duration
	StartedAt time.Time
	EndedAt   time.Time
}

// FormatDuration renders d as mm:ss, e.g. 01:05.
func FormatDuration(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
