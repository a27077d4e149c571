package consumer

import (
	"context"

	"go.uber.org/zap"

	"github.com/pasthortown/message-sender/internal/queue"
)

// CollectorConfig configures the batch collector
type CollectorConfig struct {
	// DrainCap bounds the messages taken from the queue in one cycle.
	DrainCap int
	// ReceiveChunk is the size of each Receive call against the session.
	ReceiveChunk int
}

// Collection is the result of draining the queue once
type Collection struct {
	Envelopes []*Envelope
	Received  int
	Rejected  int
}

// BatchCollector drains the queue and decodes messages into envelopes
type BatchCollector struct {
	parser MessageParser
	config CollectorConfig
	log    *zap.Logger
}

// NewBatchCollector creates a new batch collector
func NewBatchCollector(parser MessageParser, config CollectorConfig, log *zap.Logger) *BatchCollector {
	if config.ReceiveChunk <= 0 || config.ReceiveChunk > config.DrainCap {
		config.ReceiveChunk = config.DrainCap
	}
	return &BatchCollector{
		parser: parser,
		config: config,
		log:    log,
	}
}

// Collect receives until the drain cap is reached or the queue is empty.
// Undecodable messages are rejected without requeue as they arrive. On a
// receive error the envelopes gathered so far are returned with the error.
func (c *BatchCollector) Collect(ctx context.Context, session queue.Session) (*Collection, error) {
	collection := &Collection{}

	for collection.Received < c.config.DrainCap {
		want := min(c.config.ReceiveChunk, c.config.DrainCap-collection.Received)

		messages, err := session.Receive(ctx, want)
		for _, msg := range messages {
			collection.Received++
			if envelope := c.decode(ctx, msg); envelope != nil {
				collection.Envelopes = append(collection.Envelopes, envelope)
			} else {
				collection.Rejected++
			}
		}

		if err != nil {
			c.log.Error("Error receiving messages from queue",
				zap.Int("received", collection.Received),
				zap.Error(err))
			return collection, err
		}

		if len(messages) < want {
			break
		}
	}

	if collection.Received > 0 {
		c.log.Info("Collected messages from queue",
			zap.Int("received", collection.Received),
			zap.Int("decoded", len(collection.Envelopes)),
			zap.Int("rejected", collection.Rejected))
	}

	return collection, nil
}

// decode parses one message. Malformed messages are rejected and nil is returned.
func (c *BatchCollector) decode(ctx context.Context, msg queue.Message) *Envelope {
	event, err := c.parser.Parse(msg.Body)
	if err == nil {
		return NewEnvelope(event, msg)
	}

	c.log.Warn("Failed to parse message",
		zap.String("message_id", msg.ID),
		zap.Error(err))

	rejected := NewEnvelope(nil, msg)
	if err := rejected.Reject(ctx); err != nil {
		c.log.Error("Failed to reject malformed message",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return nil
	}

	c.log.Info("Rejected malformed message", zap.String("message_id", msg.ID))
	return nil
}
