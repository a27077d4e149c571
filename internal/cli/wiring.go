package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/pasthortown/message-sender/internal/config"
	"github.com/pasthortown/message-sender/internal/consumer"
	"github.com/pasthortown/message-sender/internal/logger"
	"github.com/pasthortown/message-sender/internal/queue"
	"github.com/pasthortown/message-sender/internal/queue/rabbitmq"
	"github.com/pasthortown/message-sender/internal/queue/sqs"
	"github.com/pasthortown/message-sender/internal/reaper"
	"github.com/pasthortown/message-sender/internal/repository"
	"github.com/pasthortown/message-sender/internal/repository/clickhouse"
	"github.com/pasthortown/message-sender/internal/repository/mongo"
	"github.com/pasthortown/message-sender/internal/scheduler"
	"github.com/pasthortown/message-sender/internal/sequence"
)

// brokerClient is a queue driver usable both for draining and publishing
type brokerClient interface {
	queue.Broker
	queue.QueuePublisher
}

// appEnv holds the configuration and logger shared by every command
type appEnv struct {
	cfg *config.Config
	log *zap.Logger
}

func loadAppEnv(opts *RootOptions) (*appEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Service.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}

	log, err := logger.New(cfg.Service.Environment, level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &appEnv{cfg: cfg, log: log}, nil
}

func (e *appEnv) sync() {
	// stderr sync fails with EINVAL on some terminals; nothing to do about it
	_ = e.log.Sync()
}

func newBroker(ctx context.Context, cfg *config.Config, log *zap.Logger) (brokerClient, error) {
	switch cfg.Broker.Driver {
	case config.BrokerSQS:
		client, err := sqs.NewClient(ctx, cfg.SQS, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQS client: %w", err)
		}
		return client, nil
	default:
		return rabbitmq.NewClient(cfg.RabbitMQ, cfg.Monitor.Prefetch, log), nil
	}
}

// stores owns the database clients and the repositories built on them
type stores struct {
	mongo      *mongo.Client
	clickhouse *clickhouse.Client

	counters   *mongo.CounterRepository
	records    repository.RecordRepository
	identities repository.IdentityRepository

	log *zap.Logger
}

// openStores connects to MongoDB and, when configured, ClickHouse, then
// makes sure collections and tables carry their indexes.
func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	mongoClient, err := mongo.NewClient(ctx, &cfg.Mongo, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create MongoDB client: %w", err)
	}

	s := &stores{
		mongo:      mongoClient,
		counters:   mongo.NewCounterRepository(mongoClient),
		records:    mongo.NewRecordRepository(mongoClient, log),
		identities: mongo.NewIdentityRepository(mongoClient, log),
		log:        log,
	}

	if cfg.Monitor.ActivityStore == config.ActivityStoreClickHouse {
		chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
		if err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		s.clickhouse = chClient
		s.records = clickhouse.NewRepository(chClient, log)

		// users and _counters still live in MongoDB
		if err := mongoClient.InitSchema(ctx); err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("failed to initialize MongoDB indexes: %w", err)
		}
	}

	if err := s.records.InitSchema(ctx); err != nil {
		s.close(ctx)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Info("Database schema initialized", zap.String("activity_store", cfg.Monitor.ActivityStore))

	return s, nil
}

func (s *stores) close(ctx context.Context) {
	if s.clickhouse != nil {
		if err := s.clickhouse.Close(); err != nil {
			s.log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}
	if err := s.mongo.Close(ctx); err != nil {
		s.log.Error("Failed to close MongoDB client", zap.Error(err))
	}
}

func newPipeline(cfg *config.Config, broker queue.Broker, s *stores, log *zap.Logger) *consumer.IngestionPipeline {
	collector := consumer.NewBatchCollector(consumer.NewJSONActivityParser(), consumer.CollectorConfig{
		DrainCap:     cfg.Monitor.DrainCap,
		ReceiveChunk: cfg.Monitor.Prefetch,
	}, log)

	return consumer.NewIngestionPipeline(
		broker,
		collector,
		sequence.NewAllocator(s.counters, log),
		s.records,
		consumer.PipelineConfig{
			CounterName:       cfg.Monitor.CounterName,
			GapAlertThreshold: cfg.Monitor.GapAlertThreshold,
		},
		log,
	)
}

func newReaper(cfg *config.Config, s *stores, dryRun bool, log *zap.Logger) *reaper.InactivityReaper {
	return reaper.NewInactivityReaper(s.records, s.identities, reaper.Config{
		RetentionMonths: cfg.Monitor.RetentionMonths,
		DryRun:          dryRun,
	}, log)
}

func newScheduler(cfg *config.Config, broker queue.Broker, pipeline *consumer.IngestionPipeline, r *reaper.InactivityReaper, log *zap.Logger) *scheduler.Scheduler {
	return scheduler.NewScheduler(broker, pipeline, r, scheduler.Config{
		CycleInterval: cfg.Monitor.CycleInterval,
		ConnectRetry:  cfg.Monitor.ConnectRetry,
	}, log)
}

// writeJSON prints v indented, for one-shot command results.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
