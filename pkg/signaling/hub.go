package signaling

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Hub is an in-process relay. Every endpoint joined to the same hub sees the
// others' messages for the rooms it subscribes to. It backs the "memory"
// relay backend and the tests.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[*HubChannel]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{endpoints: make(map[*HubChannel]struct{})}
}

// Join attaches a new endpoint identified by peerID.
func (h *Hub) Join(peerID string) *HubChannel {
	c := &HubChannel{hub: h, peer: peerID, subs: newRoomSet()}

	h.mu.Lock()
	h.endpoints[c] = struct{}{}
	h.mu.Unlock()

	return c
}

func (h *Hub) leave(c *HubChannel) {
	h.mu.Lock()
	delete(h.endpoints, c)
	h.mu.Unlock()
}

func (h *Hub) broadcast(from *HubChannel, room string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ep := range h.endpoints {
		if ep == from {
			continue
		}
		ep.subs.deliver(room, msg)
	}
}

// HubChannel is one endpoint of a Hub.
type HubChannel struct {
	hub    *Hub
	peer   string
	subs   *roomSet
	closed atomic.Bool
}

// PeerID implements Channel.
func (c *HubChannel) PeerID() string {
	return c.peer
}

// Publish round-trips sig through the wire codec and delivers it to the
// other endpoints subscribed to room.
func (c *HubChannel) Publish(ctx context.Context, room string, sig Signal) error {
	if c.closed.Load() {
		return ErrRelayUnavailable
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}

	data, err := Encode(c.peer, sig)
	if err != nil {
		return err
	}
	msg, err := Decode(data)
	if err != nil {
		return err
	}

	c.hub.broadcast(c, room, msg)
	return nil
}

// Subscribe implements Channel.
func (c *HubChannel) Subscribe(ctx context.Context, room string) (<-chan Message, func(), error) {
	if c.closed.Load() {
		return nil, nil, ErrRelayUnavailable
	}
	ch, cancel := c.subs.subscription(ctx, room, nil)
	return ch, cancel, nil
}

// Close detaches the endpoint and ends its subscriptions.
func (c *HubChannel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.hub.leave(c)
	c.subs.closeAll()
	return nil
}

var _ Channel = (*HubChannel)(nil)
