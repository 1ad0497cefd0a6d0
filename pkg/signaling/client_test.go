package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphan267/supportcall/pkg/logger"
)

// testRelay is a minimal websocket relay: publish frames are rebroadcast as
// message frames to every connection subscribed to the room, sender included.
type testRelay struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	rooms    map[string]map[*relayConn]struct{}
	authz    []string
}

type relayConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *relayConn) write(frame RelayFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteJSON(frame)
}

func newTestRelay() *testRelay {
	return &testRelay{rooms: make(map[string]map[*relayConn]struct{})}
}

func (r *testRelay) subscribers(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}

func (r *testRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.authz = append(r.authz, req.Header.Get("Authorization"))
	r.mu.Unlock()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	rc := &relayConn{conn: conn}
	defer func() {
		r.mu.Lock()
		for _, set := range r.rooms {
			delete(set, rc)
		}
		r.mu.Unlock()
		conn.Close()
	}()

	for {
		var frame RelayFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case FrameSubscribe:
			r.mu.Lock()
			if r.rooms[frame.Room] == nil {
				r.rooms[frame.Room] = make(map[*relayConn]struct{})
			}
			r.rooms[frame.Room][rc] = struct{}{}
			r.mu.Unlock()
		case FrameUnsubscribe:
			r.mu.Lock()
			delete(r.rooms[frame.Room], rc)
			r.mu.Unlock()
		case FramePublish:
			r.mu.Lock()
			targets := make([]*relayConn, 0, len(r.rooms[frame.Room]))
			for c := range r.rooms[frame.Room] {
				targets = append(targets, c)
			}
			r.mu.Unlock()
			for _, c := range targets {
				c.write(RelayFrame{Type: FrameMessage, Room: frame.Room, From: frame.From, Data: frame.Data})
			}
		}
	}
}

func connectedClient(t *testing.T, srv *httptest.Server, peer string) *Client {
	t.Helper()
	c := NewClient(srv.URL, "secret", peer, logger.Discard())
	c.Connect(context.Background())
	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientRelaysBetweenPeers(t *testing.T) {
	relay := newTestRelay()
	srv := httptest.NewServer(relay)
	defer srv.Close()

	a := connectedClient(t, srv, "agent")
	b := connectedClient(t, srv, "visitor")

	chA, cancelA, err := a.Subscribe(context.Background(), "chat-1")
	require.NoError(t, err)
	defer cancelA()
	chB, cancelB, err := b.Subscribe(context.Background(), "chat-1")
	require.NoError(t, err)
	defer cancelB()

	require.Eventually(t, func() bool { return relay.subscribers("chat-1") == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Publish(context.Background(), "chat-1", Candidate{Epoch: 1}.withBody("candidate:1 1 udp 1 10.0.0.1 5000 typ host")))

	msg := receive(t, chB)
	assert.Equal(t, "agent", msg.From)
	assert.Equal(t, KindCandidate, msg.Signal.Kind())

	// the relay echoes to the publisher; the client filters its own messages
	assertSilent(t, chA)

	relay.mu.Lock()
	assert.Contains(t, relay.authz, "Bearer secret")
	relay.mu.Unlock()
}

func TestClientPublishWhileDisconnected(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", "peer", logger.Discard())
	defer c.Close()

	err := c.Publish(context.Background(), "chat-1", End{})
	assert.ErrorIs(t, err, ErrRelayUnavailable)
}

func TestClientEndpoint(t *testing.T) {
	c := NewClient("https://relay.example.com/", "", "peer 1", logger.Discard())
	assert.Equal(t, "wss://relay.example.com/signal/ws?peer=peer+1", c.endpoint())
}

func TestRelayFrameShape(t *testing.T) {
	from := "agent"
	data, err := json.Marshal(RelayFrame{Type: FramePublish, Room: "chat-1", From: &from, Data: json.RawMessage(`{"type":"end"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"publish","room":"chat-1","from":"agent","data":{"type":"end"}}`, string(data))
}

func (c Candidate) withBody(body string) Candidate {
	c.Candidate.Candidate = body
	return c
}
