package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tphan267/supportcall/pkg/logger"
)

var errNotConnected = errors.New("not connected to relay")

// Client is a Channel backed by a websocket relay. One connection carries
// every room; subscriptions are replayed after each reconnect.
type Client struct {
	relayURL string
	apiKey   string
	peerID   string
	conn     *websocket.Conn
	mutex    sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc

	frameHandlers     map[string]FrameHandler
	onConnectHandlers []OnConnectHandler
	handlerMutex      sync.RWMutex

	subs *roomSet

	logger *logger.Logger

	reconnecting   bool
	reconnectMutex sync.Mutex
}

// NewClient creates a relay client for peerID. Call Connect to dial.
func NewClient(relayURL, apiKey, peerID string, log *logger.Logger) *Client {
	c := &Client{
		relayURL:      relayURL,
		apiKey:        apiKey,
		peerID:        peerID,
		frameHandlers: make(map[string]FrameHandler),
		subs:          newRoomSet(),
		logger:        log,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.SetFrameHandler(FrameMessage, c.handleMessage)
	c.SetFrameHandler(FrameError, c.handleRelayError)
	c.AddOnConnectHandler(c.resubscribe)

	return c
}

// Connect establishes the websocket connection. If the first attempt fails
// it keeps retrying in the background and returns immediately.
func (c *Client) Connect(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)

	go c.keepalive()

	if err := c.connectOnce(c.ctx); err != nil {
		c.logger.Printf("[Signaling] Connection failed: %v", err)
		c.logger.Printf("[Signaling] Will retry in background...")
		go c.reconnect()
	}
}

func (c *Client) endpoint() string {
	relayURL := c.relayURL
	if after, ok := strings.CutPrefix(relayURL, "http://"); ok {
		relayURL = "ws://" + after
	} else if after, ok := strings.CutPrefix(relayURL, "https://"); ok {
		relayURL = "wss://" + after
	}
	return fmt.Sprintf("%s/signal/ws?peer=%s", strings.TrimSuffix(relayURL, "/"), url.QueryEscape(c.peerID))
}

// connectOnce performs a single connection attempt
func (c *Client) connectOnce(ctx context.Context) error {
	wsURL := c.endpoint()
	c.logger.Printf("[Signaling] Connecting to %s", wsURL)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	headers := make(map[string][]string)
	if c.apiKey != "" {
		headers["Authorization"] = []string{"Bearer " + c.apiKey}
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.mutex.Lock()
	c.conn = conn
	c.mutex.Unlock()

	c.logger.Printf("[Signaling] Connected to relay as %s", c.peerID)

	c.handlerMutex.RLock()
	handlers := make([]OnConnectHandler, len(c.onConnectHandlers))
	copy(handlers, c.onConnectHandlers)
	c.handlerMutex.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx); err != nil {
			c.logger.Printf("[Signaling] OnConnect handler error: %v", err)
		}
	}

	go c.readMessages(conn)

	return nil
}

// readMessages reads frames from conn until it fails
func (c *Client) readMessages(conn *websocket.Conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Printf("[Signaling] Read error: %v", err)
				go c.reconnect()
			}
			return
		}

		var frame RelayFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Printf("[Signaling] Failed to unmarshal frame: %v", err)
			continue
		}

		c.handlerMutex.RLock()
		handler, exists := c.frameHandlers[frame.Type]
		c.handlerMutex.RUnlock()

		if exists {
			if err := handler(c.ctx, &frame); err != nil {
				c.logger.Printf("[Signaling] Handler error for %s: %v", frame.Type, err)
			}
		} else {
			c.logger.Debug("[Signaling] No handler for frame type: %s", frame.Type)
		}
	}
}

// sendFrame writes one frame on the current connection
func (c *Client) sendFrame(ctx context.Context, frame RelayFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.conn == nil {
		return errNotConnected
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// Publish implements Publisher.
func (c *Client) Publish(ctx context.Context, room string, sig Signal) error {
	data, err := Encode(c.peerID, sig)
	if err != nil {
		return err
	}

	from := c.peerID
	if err := c.sendFrame(ctx, RelayFrame{Type: FramePublish, Room: room, From: &from, Data: data}); err != nil {
		return fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	return nil
}

// Subscribe implements Channel. A subscription made while disconnected is
// sent to the relay on the next successful connect.
func (c *Client) Subscribe(ctx context.Context, room string) (<-chan Message, func(), error) {
	if c.ctx.Err() != nil {
		return nil, nil, ErrRelayUnavailable
	}

	ch, cancel := c.subs.subscription(ctx, room, func() {
		if err := c.sendFrame(context.Background(), RelayFrame{Type: FrameUnsubscribe, Room: room}); err != nil && !errors.Is(err, errNotConnected) {
			c.logger.Printf("[Signaling] Failed to unsubscribe from %s: %v", room, err)
		}
	})

	if err := c.sendFrame(ctx, RelayFrame{Type: FrameSubscribe, Room: room}); err != nil {
		c.logger.Warn("[Signaling] Subscribe to %s deferred until reconnect: %v", room, err)
	}

	return ch, cancel, nil
}

func (c *Client) handleMessage(ctx context.Context, frame *RelayFrame) error {
	msg, err := Decode(frame.Data)
	if err != nil {
		return fmt.Errorf("room %s: %w", frame.Room, err)
	}
	if msg.From == c.peerID {
		return nil
	}
	if dropped := c.subs.deliver(frame.Room, msg); dropped > 0 {
		c.logger.Warn("[Signaling] Dropped %s for %d slow subscriber(s) in %s", msg.Signal.Kind(), dropped, frame.Room)
	}
	return nil
}

func (c *Client) handleRelayError(ctx context.Context, frame *RelayFrame) error {
	c.logger.Warn("[Signaling] Relay error for room %q: %s", frame.Room, string(frame.Data))
	return nil
}

func (c *Client) resubscribe(ctx context.Context) error {
	for _, room := range c.subs.rooms() {
		if err := c.sendFrame(ctx, RelayFrame{Type: FrameSubscribe, Room: room}); err != nil {
			return fmt.Errorf("resubscribe %s: %w", room, err)
		}
	}
	return nil
}

// SetFrameHandler adds a handler for a specific frame type
func (c *Client) SetFrameHandler(frameType string, handler FrameHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.frameHandlers[frameType] = handler
}

// AddOnConnectHandler adds a handler to be called on connection
func (c *Client) AddOnConnectHandler(handler OnConnectHandler) {
	c.handlerMutex.Lock()
	defer c.handlerMutex.Unlock()
	c.onConnectHandlers = append(c.onConnectHandlers, handler)
}

// keepalive sends periodic ping messages
func (c *Client) keepalive() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mutex.Lock()
			if c.conn != nil {
				if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					c.logger.Printf("[Signaling] Ping failed: %v", err)
				}
			}
			c.mutex.Unlock()
		}
	}
}

// reconnect attempts to reconnect to the relay with exponential backoff
func (c *Client) reconnect() {
	c.reconnectMutex.Lock()
	if c.reconnecting {
		c.reconnectMutex.Unlock()
		return
	}
	c.reconnecting = true
	c.reconnectMutex.Unlock()

	defer func() {
		c.reconnectMutex.Lock()
		c.reconnecting = false
		c.reconnectMutex.Unlock()
	}()

	c.mutex.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mutex.Unlock()

	c.logger.Printf("[Signaling] Attempting to reconnect...")

	backoff := 1 * time.Second
	maxBackoff := 60 * time.Second
	attempt := 1

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Println("[Signaling] Reconnection stopped - context cancelled")
			return
		default:
		}

		if err := c.connectOnce(c.ctx); err != nil {
			c.logger.Printf("[Signaling] Reconnect attempt #%d failed: %v (retrying in %v)", attempt, err, backoff)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			attempt++
			continue
		}

		c.logger.Printf("[Signaling] Reconnected successfully on attempt #%d", attempt)
		return
	}
}

// PeerID implements Channel.
func (c *Client) PeerID() string {
	return c.peerID
}

// Close closes the relay connection and ends all subscriptions
func (c *Client) Close() error {
	c.cancel()

	c.mutex.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mutex.Unlock()

	c.subs.closeAll()
	c.logger.Printf("[Signaling] Connection closed")
	return nil
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.conn != nil
}

var _ Channel = (*Client)(nil)
