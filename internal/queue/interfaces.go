package queue

import (
	"context"
	"errors"
)

// ErrBrokerUnavailable wraps connection and channel failures against the broker.
var ErrBrokerUnavailable = errors.New("queue: broker unavailable")

// Handle settles a single delivered message. It is bound to the session that
// produced it and must be settled at most once.
type Handle interface {
	// Ack removes the message from the queue permanently.
	Ack(ctx context.Context) error
	// Nack returns the message to the queue when requeue is true and drops it otherwise.
	Nack(ctx context.Context, requeue bool) error
}

// Message is one delivery taken from the queue
type Message struct {
	ID     string
	Body   []byte
	Handle Handle
}

// Session is a broker connection scoped to one ingestion cycle.
type Session interface {
	// Receive returns up to max messages without waiting for new ones.
	// An empty result means the queue is drained.
	Receive(ctx context.Context, max int) ([]Message, error)
	Close() error
}

// Broker opens sessions against the configured queue
type Broker interface {
	Open(ctx context.Context) (Session, error)
	// Ping verifies the broker accepts connections.
	Ping(ctx context.Context) error
}

// QueuePublisher defines the interface for publishing activity events to a queue
type QueuePublisher interface {
	Publish(ctx context.Context, body []byte) error
}
