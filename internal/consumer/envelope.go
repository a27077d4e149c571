package consumer

import (
	"context"
	"errors"

	"github.com/pasthortown/message-sender/internal/domain"
	"github.com/pasthortown/message-sender/internal/queue"
)

// ErrAlreadySettled is returned when a delivery is acknowledged twice.
var ErrAlreadySettled = errors.New("consumer: delivery already settled")

// Envelope wraps a decoded activity event with its single-use delivery handle
type Envelope struct {
	Event     *domain.ActivityEvent
	MessageID string
	handle    queue.Handle
	settled   bool
}

// NewEnvelope creates a new message envelope
func NewEnvelope(event *domain.ActivityEvent, msg queue.Message) *Envelope {
	return &Envelope{
		Event:     event,
		MessageID: msg.ID,
		handle:    msg.Handle,
	}
}

// Ack acknowledges successful processing
func (e *Envelope) Ack(ctx context.Context) error {
	return e.settle(func(h queue.Handle) error { return h.Ack(ctx) })
}

// Nack returns the message to the queue for a later cycle
func (e *Envelope) Nack(ctx context.Context) error {
	return e.settle(func(h queue.Handle) error { return h.Nack(ctx, true) })
}

// Reject drops the message without requeue
func (e *Envelope) Reject(ctx context.Context) error {
	return e.settle(func(h queue.Handle) error { return h.Nack(ctx, false) })
}

// Settled reports whether the envelope has been acked, nacked or rejected
func (e *Envelope) Settled() bool {
	return e.settled
}

// settle issues fn at most once. A failed settlement still counts: the
// handle is never retried.
func (e *Envelope) settle(fn func(queue.Handle) error) error {
	if e.settled {
		return ErrAlreadySettled
	}
	e.settled = true
	if e.handle == nil {
		return nil
	}
	return fn(e.handle)
}
