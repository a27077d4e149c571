package sqs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	envConfig "github.com/pasthortown/message-sender/internal/config"
	"github.com/pasthortown/message-sender/internal/queue"
)

// maxBatch is the SQS limit for a single ReceiveMessage call.
const maxBatch = 10

// API is the subset of the SQS client used by the broker
type API interface {
	ReceiveMessage(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, input *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, input *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Client represents an SQS client
type Client struct {
	api    API
	config envConfig.SQS
	log    *zap.Logger
}

// NewClient creates a new SQS client
func NewClient(ctx context.Context, SQSConfig envConfig.SQS, log *zap.Logger) (*Client, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(SQSConfig.Region),
	}

	var clientOpts []func(*sqs.Options)

	// Configure for local development with ElasticMQ
	if SQSConfig.Endpoint != "" {
		log.Info("Configuring SQS for local development",
			zap.String("endpoint", SQSConfig.Endpoint))
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(SQSConfig.Endpoint)
		})
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("SQS client created",
		zap.String("region", SQSConfig.Region),
		zap.String("queue_url", SQSConfig.QueueURL))

	return NewClientWithAPI(sqs.NewFromConfig(cfg, clientOpts...), SQSConfig, log), nil
}

// NewClientWithAPI wraps an existing SQS API implementation
func NewClientWithAPI(api API, SQSConfig envConfig.SQS, log *zap.Logger) *Client {
	return &Client{
		api:    api,
		config: SQSConfig,
		log:    log,
	}
}

// Ping checks that the queue is reachable
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(c.config.QueueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", queue.ErrBrokerUnavailable, err)
	}
	return nil
}

// Open returns the client itself; SQS has no connection-scoped state.
func (c *Client) Open(ctx context.Context) (queue.Session, error) {
	return c, nil
}

// Close is a no-op for SQS
func (c *Client) Close() error {
	return nil
}

// Receive short-polls SQS until max messages are held or a poll comes back empty
func (c *Client) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	var messages []queue.Message

	for len(messages) < max {
		batch := int32(min(maxBatch, max-len(messages)))

		result, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(c.config.QueueURL),
			MaxNumberOfMessages:   batch,
			WaitTimeSeconds:       0,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			c.log.Error("Error receiving messages from SQS", zap.Error(err))
			return messages, fmt.Errorf("%w: %w", queue.ErrBrokerUnavailable, err)
		}

		if len(result.Messages) == 0 {
			break
		}

		for _, msg := range result.Messages {
			messages = append(messages, queue.Message{
				ID:     aws.ToString(msg.MessageId),
				Body:   []byte(aws.ToString(msg.Body)),
				Handle: &receipt{client: c, messageID: aws.ToString(msg.MessageId), handle: msg.ReceiptHandle},
			})
		}
	}

	return messages, nil
}

// Publish sends one message body to the queue
func (c *Client) Publish(ctx context.Context, body []byte) error {
	_, err := c.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(c.config.QueueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		c.log.Error("Failed to send message to SQS", zap.Error(err))
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	c.log.Info("Message published to SQS", zap.String("queue_url", c.config.QueueURL))
	return nil
}

// receipt settles one SQS message through its receipt handle
type receipt struct {
	client    *Client
	messageID string
	handle    *string
}

// Ack deletes the message from SQS
func (r *receipt) Ack(ctx context.Context) error {
	return r.delete(ctx)
}

// Nack makes the message visible again immediately when requeue is set and
// deletes it otherwise.
func (r *receipt) Nack(ctx context.Context, requeue bool) error {
	if !requeue {
		return r.delete(ctx)
	}

	_, err := r.client.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(r.client.config.QueueURL),
		ReceiptHandle:     r.handle,
		VisibilityTimeout: 0,
	})
	if err != nil {
		r.client.log.Error("Failed to requeue message",
			zap.String("message_id", r.messageID),
			zap.Error(err))
		return err
	}
	return nil
}

func (r *receipt) delete(ctx context.Context) error {
	_, err := r.client.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(r.client.config.QueueURL),
		ReceiptHandle: r.handle,
	})
	if err != nil {
		r.client.log.Error("Failed to delete message",
			zap.String("message_id", r.messageID),
			zap.Error(err))
		return err
	}
	return nil
}
