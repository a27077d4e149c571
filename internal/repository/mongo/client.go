package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/pasthortown/message-sender/internal/config"
)

const (
	RecordsCollection    = "messagereport"
	CountersCollection   = "_counters"
	IdentitiesCollection = "users"
)

// Client wraps the MongoDB connection and the configured database
type Client struct {
	client *mongo.Client
	db     *mongo.Database
	config *config.Mongo
	log    *zap.Logger
}

// NewClient creates a new MongoDB client with the given configuration
func NewClient(ctx context.Context, config *config.Mongo, log *zap.Logger) (*Client, error) {
	log.Info("Connecting to MongoDB",
		zap.String("host", config.Host),
		zap.String("port", config.Port),
		zap.String("database", config.Database))

	opts := options.Client().
		ApplyURI(config.URI()).
		SetConnectTimeout(5 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		log.Error("Failed to connect to MongoDB", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		log.Error("Failed to ping MongoDB", zap.Error(err))
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Info("MongoDB connection established successfully")

	return &Client{
		client: client,
		db:     client.Database(config.Database),
		config: config,
		log:    log,
	}, nil
}

// Database returns the configured database handle
func (c *Client) Database() *mongo.Database {
	return c.db
}

// Ping checks that the primary is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

// InitSchema creates the indexes used by ingestion and the reaper.
// CreateMany is idempotent for identical index definitions.
func (c *Client) InitSchema(ctx context.Context) error {
	collections := map[string][]mongo.IndexModel{
		RecordsCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}},
			{Keys: bson.D{{Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "item_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		IdentitiesCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}},
		},
	}

	for name, indexes := range collections {
		if _, err := c.db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", name, err)
		}
	}

	c.log.Info("MongoDB indexes initialized successfully")
	return nil
}

// Close disconnects from MongoDB
func (c *Client) Close(ctx context.Context) error {
	c.log.Info("Closing MongoDB connection")
	if err := c.client.Disconnect(ctx); err != nil {
		c.log.Error("Error closing MongoDB connection", zap.Error(err))
		return err
	}
	c.log.Info("MongoDB connection closed successfully")
	return nil
}
