package rabbitmq

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	envConfig "github.com/pasthortown/message-sender/internal/config"
	"github.com/pasthortown/message-sender/internal/queue"
)

// channel is the subset of *amqp.Channel used by a session.
type channel interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple bool, requeue bool) error
	Close() error
}

// Client represents a RabbitMQ client bound to one durable queue
type Client struct {
	config   envConfig.RabbitMQ
	prefetch int
	log      *zap.Logger
}

// NewClient creates a new RabbitMQ client. No connection is made until Open,
// Ping or Publish is called.
func NewClient(rabbitConfig envConfig.RabbitMQ, prefetch int, log *zap.Logger) *Client {
	log.Info("RabbitMQ client created",
		zap.String("host", rabbitConfig.Host),
		zap.Int("port", rabbitConfig.Port),
		zap.String("queue", rabbitConfig.Queue),
		zap.Int("prefetch", prefetch))

	return &Client{
		config:   rabbitConfig,
		prefetch: prefetch,
		log:      log,
	}
}

// Ping dials the broker and closes the connection straight away
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	return conn.Close()
}

// Open connects, declares the durable queue and applies the prefetch ceiling.
func (c *Client) Open(ctx context.Context) (queue.Session, error) {
	conn, ch, err := c.openChannel()
	if err != nil {
		return nil, err
	}

	// basic.qos only limits pushed deliveries; basic.get ignores it. The
	// collector bounds each Receive to the prefetch value instead.
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		closeQuietly(ch, conn)
		return nil, fmt.Errorf("%w: failed to set prefetch: %w", queue.ErrBrokerUnavailable, err)
	}

	return newSession(conn, ch, c.config.Queue, c.log), nil
}

// Publish sends one persistent message to the queue through the default exchange
func (c *Client) Publish(ctx context.Context, body []byte) error {
	conn, ch, err := c.openChannel()
	if err != nil {
		return err
	}
	defer closeQuietly(ch, conn)

	err = ch.PublishWithContext(ctx, "", c.config.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		c.log.Error("Failed to publish message to RabbitMQ",
			zap.String("queue", c.config.Queue),
			zap.Error(err))
		return fmt.Errorf("failed to publish message: %w", err)
	}

	c.log.Info("Message published to RabbitMQ", zap.String("queue", c.config.Queue))
	return nil
}

func (c *Client) dial() (*amqp.Connection, error) {
	conn, err := amqp.Dial(c.config.URL())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", queue.ErrBrokerUnavailable, err)
	}
	return conn, nil
}

func (c *Client) openChannel() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: failed to open channel: %w", queue.ErrBrokerUnavailable, err)
	}

	if _, err := ch.QueueDeclare(c.config.Queue, true, false, false, false, nil); err != nil {
		closeQuietly(ch, conn)
		return nil, nil, fmt.Errorf("%w: failed to declare queue %s: %w", queue.ErrBrokerUnavailable, c.config.Queue, err)
	}

	return conn, ch, nil
}

// session drains one queue over a single channel
type session struct {
	conn  io.Closer
	ch    channel
	queue string
	log   *zap.Logger
}

func newSession(conn io.Closer, ch channel, queueName string, log *zap.Logger) *session {
	return &session{
		conn:  conn,
		ch:    ch,
		queue: queueName,
		log:   log,
	}
}

// Receive polls basic.get until max messages are held or the queue is empty
func (s *session) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	messages := make([]queue.Message, 0, min(max, 1024))

	for len(messages) < max {
		if err := ctx.Err(); err != nil {
			return messages, err
		}

		d, ok, err := s.ch.Get(s.queue, false)
		if err != nil {
			return messages, fmt.Errorf("%w: basic.get on %s: %w", queue.ErrBrokerUnavailable, s.queue, err)
		}
		if !ok {
			break
		}

		id := d.MessageId
		if id == "" {
			id = strconv.FormatUint(d.DeliveryTag, 10)
		}

		messages = append(messages, queue.Message{
			ID:     id,
			Body:   d.Body,
			Handle: &delivery{ch: s.ch, tag: d.DeliveryTag},
		})
	}

	return messages, nil
}

// Close closes the channel and the connection. Unsettled deliveries are
// returned to the queue by the broker.
func (s *session) Close() error {
	chErr := s.ch.Close()
	connErr := s.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

type delivery struct {
	ch  channel
	tag uint64
}

func (d *delivery) Ack(ctx context.Context) error {
	return d.ch.Ack(d.tag, false)
}

func (d *delivery) Nack(ctx context.Context, requeue bool) error {
	return d.ch.Nack(d.tag, false, requeue)
}

func closeQuietly(ch *amqp.Channel, conn *amqp.Connection) {
	_ = ch.Close()
	_ = conn.Close()
}
