package signaling

import (
	"context"
	"errors"
)

var (
	// ErrRelayUnavailable is returned when the relay cannot be reached or the
	// channel has been closed.
	ErrRelayUnavailable = errors.New("signaling relay unavailable")
	// ErrUnknownSignal marks an envelope type or version this build does not know.
	ErrUnknownSignal = errors.New("unknown signal")
	// ErrMalformedSignal marks an envelope that is missing required fields.
	ErrMalformedSignal = errors.New("malformed signal")
)

// subscriptionBuffer bounds each subscriber queue. Delivery is best effort:
// a subscriber that falls this far behind loses messages.
const subscriptionBuffer = 64

// Publisher sends a signal to every other subscriber of a room.
type Publisher interface {
	Publish(ctx context.Context, room string, sig Signal) error
}

// Channel is a room-scoped broadcast relay. Delivery is unordered and at
// least once; nothing published before a subscriber exists is replayed, and
// a peer never receives its own messages.
type Channel interface {
	Publisher

	// Subscribe streams signals published to room by other peers until
	// cancel is called, ctx ends, or the channel is closed.
	Subscribe(ctx context.Context, room string) (<-chan Message, func(), error)

	// PeerID identifies this endpoint in the from field of published envelopes.
	PeerID() string

	Close() error
}

// Topic returns the broadcast topic for a room.
func Topic(room string) string {
	return "room:" + room
}
