package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

var _ Bus = (*RedisBridge)(nil)

// envelope is the JSON form of a Message on a Redis channel.
type envelope struct {
	Origin   string            `json:"origin,omitempty"`
	Payload  []byte            `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RedisBridge implements Bus on Redis PUBLISH/SUBSCRIBE so that several relay
// instances see each other's messages.
type RedisBridge struct {
	rdb        *redis.Client
	ownsClient bool

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedisBridge connects to the Redis server at redisURL.
func NewRedisBridge(redisURL string) (*RedisBridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	b := NewRedisBridgeWithClient(redis.NewClient(opts))
	b.ownsClient = true
	return b, nil
}

// NewRedisBridgeWithClient shares an existing client. Close leaves the client open.
func NewRedisBridgeWithClient(rdb *redis.Client) *RedisBridge {
	return &RedisBridge{rdb: rdb}
}

// Publish implements Publisher.
func (b *RedisBridge) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(envelope{Origin: msg.Origin, Payload: msg.Payload, Metadata: msg.Metadata})
	if err != nil {
		return fmt.Errorf("encode bus message: %w", err)
	}
	if err := b.rdb.Publish(ctx, msg.Topic, data).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe implements Subscriber.
func (b *RedisBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("redis bridge closed")
	}
	ps := b.rdb.Subscribe(ctx, topic)
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	// Wait for the subscription confirmation so no publish is missed after we return.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("redis subscribe to %s: %w", topic, err)
	}
	slog.InfoContext(ctx, "Subscribed to redis channel", "event", "bus_subscribed", "topic", topic)

	// Channel pings the server and resubscribes after network errors.
	msgs := ps.Channel()
	go func() {
		defer ps.Close()
		relay(ctx, topic, msgs, handler)
	}()

	return nil
}

// relay hands every message from msgs to handler until ctx ends or msgs is
// closed by Close.
func relay(ctx context.Context, topic string, msgs <-chan *redis.Message, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case rmsg, ok := <-msgs:
			if !ok {
				slog.Debug("Bus subscription ended", "event", "bus_subscription_end", "topic", topic)
				return
			}

			var env envelope
			if err := json.Unmarshal([]byte(rmsg.Payload), &env); err != nil {
				slog.Warn("Dropping undecodable bus message", "event", "bus_message_invalid", "topic", topic, "error", err)
				continue
			}

			msg := Message{Topic: rmsg.Channel, Origin: env.Origin, Payload: env.Payload, Metadata: env.Metadata}
			if err := handler(ctx, msg); err != nil {
				slog.Error("Failed to handle bus message", "event", "bus_handler_failure", "topic", topic, "error", err)
			}
		}
	}
}

// Close implements Publisher and Subscriber.
func (b *RedisBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for _, ps := range b.subs {
		if err := ps.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if b.ownsClient {
		if err := b.rdb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
