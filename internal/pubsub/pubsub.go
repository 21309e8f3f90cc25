// Package pubsub provides the optional fan-out bus that lets several relay
// instances share accepted messages.
package pubsub

import (
	"context"
)

// Message is the structure passed between relay instances on the bus.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g., "chat.messages").
	Topic string
	// Origin identifies the relay instance that published the message.
	Origin string
	// Payload is the encoded chat.Message.
	Payload []byte
	// Metadata carries arbitrary key-value context (e.g., message_id).
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the bus.
type Subscriber interface {
	// Subscribe starts delivering messages for topic to handler in the
	// background and returns once the subscription is active. Delivery stops
	// when ctx is canceled or the subscriber is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bus is a Publisher and Subscriber sharing one backend.
type Bus interface {
	Publisher
	Subscriber
}
