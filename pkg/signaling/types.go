package signaling

import (
	"context"
	"encoding/json"
)

// Frame types understood by the websocket relay.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePublish     = "publish"
	FrameMessage     = "message"
	FrameError       = "error"
)

// RelayFrame is the unit exchanged with the websocket relay. For publish and
// message frames Data holds an encoded Envelope.
type RelayFrame struct {
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	From *string         `json:"from,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// FrameHandler handles one inbound relay frame
type FrameHandler func(ctx context.Context, frame *RelayFrame) error

// OnConnectHandler is a function called when the relay client connects
type OnConnectHandler func(ctx context.Context) error
