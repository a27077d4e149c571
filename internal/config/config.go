package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerSQS      = "sqs"

	ActivityStoreMongo      = "mongo"
	ActivityStoreClickHouse = "clickhouse"
)

type Config struct {
	Service    Service
	Mongo      Mongo
	Broker     Broker
	RabbitMQ   RabbitMQ
	SQS        SQS
	ClickHouse ClickHouse
	Monitor    Monitor
}

type Service struct {
	Environment     string `envconfig:"SERVICE_ENVIRONMENT" default:"development"`
	LogLevel        string `envconfig:"SERVICE_LOG_LEVEL" default:"info"`
	HealthCheckPort string `envconfig:"SERVICE_HEALTH_CHECK_PORT" default:"8081"`
}

type Mongo struct {
	Host     string `envconfig:"MONGO_HOST" required:"true"`
	Port     string `envconfig:"MONGO_PORT" default:"27017"`
	User     string `envconfig:"MONGO_USER" default:""`
	Password string `envconfig:"MONGO_PASSWORD" default:""`
	Database string `envconfig:"MONGO_DATABASE" required:"true"`
}

// URI builds the connection string, omitting credentials when no user is set.
func (m Mongo) URI() string {
	if m.User == "" {
		return fmt.Sprintf("mongodb://%s:%s/", m.Host, m.Port)
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%s/", m.User, m.Password, m.Host, m.Port)
}

type Broker struct {
	Driver string `envconfig:"BROKER_DRIVER" default:"rabbitmq"`
}

type RabbitMQ struct {
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USERNAME" default:"guest"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"guest"`
	Queue    string `envconfig:"RABBITMQ_QUEUE" default:"activity_queue"`
}

// URL returns the AMQP dial URL.
func (r RabbitMQ) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", r.User, r.Password, r.Host, r.Port)
}

type SQS struct {
	Endpoint string `envconfig:"SQS_ENDPOINT"`
	QueueURL string `envconfig:"SQS_QUEUE_URL"`
	Region   string `envconfig:"SQS_REGION" default:"eu-central-1"`
}

type ClickHouse struct {
	Host            string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port            string `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	Database        string `envconfig:"CLICKHOUSE_DB" default:"default"`
	User            string `envconfig:"CLICKHOUSE_USER" default:""`
	Password        string `envconfig:"CLICKHOUSE_PASSWORD" default:""`
	UseTLS          bool   `envconfig:"CLICKHOUSE_USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"CLICKHOUSE_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"CLICKHOUSE_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CLICKHOUSE_CONN_MAX_LIFETIME_SEC" default:"3600"`
}

type Monitor struct {
	ActivityStore     string        `envconfig:"ACTIVITY_STORE" default:"mongo"`
	CycleInterval     time.Duration `envconfig:"MONITOR_CYCLE_INTERVAL" default:"600s"`
	DrainCap          int           `envconfig:"MONITOR_DRAIN_CAP" default:"10000"`
	Prefetch          int           `envconfig:"MONITOR_PREFETCH" default:"1000"`
	RetentionMonths   int           `envconfig:"MONITOR_RETENTION_MONTHS" default:"4"`
	ConnectRetry      time.Duration `envconfig:"MONITOR_CONNECT_RETRY" default:"5s"`
	CounterName       string        `envconfig:"MONITOR_COUNTER_NAME" default:"messagereport"`
	GapAlertThreshold int64         `envconfig:"MONITOR_GAP_ALERT_THRESHOLD" default:"100000"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks enumerated values and limits that envconfig cannot express.
func (c *Config) Validate() error {
	switch c.Broker.Driver {
	case BrokerRabbitMQ:
	case BrokerSQS:
		if c.SQS.QueueURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required when BROKER_DRIVER=%s", BrokerSQS)
		}
	default:
		return fmt.Errorf("unsupported broker driver %q (supported: %s, %s)", c.Broker.Driver, BrokerRabbitMQ, BrokerSQS)
	}

	switch c.Monitor.ActivityStore {
	case ActivityStoreMongo, ActivityStoreClickHouse:
	default:
		return fmt.Errorf("unsupported activity store %q (supported: %s, %s)",
			c.Monitor.ActivityStore, ActivityStoreMongo, ActivityStoreClickHouse)
	}

	if c.Monitor.DrainCap <= 0 {
		return fmt.Errorf("MONITOR_DRAIN_CAP must be positive, got %d", c.Monitor.DrainCap)
	}
	if c.Monitor.Prefetch <= 0 {
		return fmt.Errorf("MONITOR_PREFETCH must be positive, got %d", c.Monitor.Prefetch)
	}
	if c.Monitor.RetentionMonths <= 0 {
		return fmt.Errorf("MONITOR_RETENTION_MONTHS must be positive, got %d", c.Monitor.RetentionMonths)
	}
	if c.Monitor.CycleInterval <= 0 || c.Monitor.ConnectRetry <= 0 {
		return fmt.Errorf("MONITOR_CYCLE_INTERVAL and MONITOR_CONNECT_RETRY must be positive")
	}
	if c.Monitor.CounterName == "" {
		return fmt.Errorf("MONITOR_COUNTER_NAME must not be empty")
	}

	return nil
}
