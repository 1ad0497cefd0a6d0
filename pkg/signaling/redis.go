package signaling

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tphan267/supportcall/pkg/logger"
)

// RedisChannel relays signals over redis pub/sub, one redis channel per room
// topic. Redis delivers a publisher's own messages back to it; those are
// filtered by peer id.
type RedisChannel struct {
	client *redis.Client
	peerID string
	logger *logger.Logger
	closed atomic.Bool
}

// NewRedisChannel connects to redis and verifies the connection.
func NewRedisChannel(ctx context.Context, opts *redis.Options, peerID string, log *logger.Logger) (*RedisChannel, error) {
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis %s: %v", ErrRelayUnavailable, opts.Addr, err)
	}

	log.Info("[Signaling] Connected to redis relay at %s", opts.Addr)

	return &RedisChannel{client: client, peerID: peerID, logger: log}, nil
}

// PeerID implements Channel.
func (r *RedisChannel) PeerID() string {
	return r.peerID
}

// Publish implements Publisher.
func (r *RedisChannel) Publish(ctx context.Context, room string, sig Signal) error {
	if r.closed.Load() {
		return ErrRelayUnavailable
	}

	data, err := Encode(r.peerID, sig)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, Topic(room), data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	return nil
}

// Subscribe implements Channel.
func (r *RedisChannel) Subscribe(ctx context.Context, room string) (<-chan Message, func(), error) {
	if r.closed.Load() {
		return nil, nil, ErrRelayUnavailable
	}

	pubsub := r.client.Subscribe(ctx, Topic(room))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("%w: subscribe %s: %v", ErrRelayUnavailable, Topic(room), err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Message, subscriptionBuffer)

	go func() {
		defer close(out)
		defer pubsub.Close()

		in := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg, err := Decode([]byte(m.Payload))
				if err != nil {
					r.logger.Warn("[Signaling] Dropping message on %s: %v", m.Channel, err)
					continue
				}
				if msg.From == r.peerID {
					continue
				}
				select {
				case out <- msg:
				default:
					r.logger.Warn("[Signaling] Subscriber for %s is full, dropped %s", room, msg.Signal.Kind())
				}
			}
		}
	}()

	return out, cancel, nil
}

// Close shuts the redis client; open subscriptions end.
func (r *RedisChannel) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.client.Close()
}

var _ Channel = (*RedisChannel)(nil)
