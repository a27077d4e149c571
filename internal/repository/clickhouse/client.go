package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/pasthortown/message-sender/internal/config"
)

const dialTimeout = 5 * time.Second

// Client owns the ClickHouse connection used as the activity record store
type Client struct {
	conn driver.Conn
	log  *zap.Logger
}

// NewClient opens and pings a ClickHouse connection
func NewClient(ctx context.Context, cfg *config.ClickHouse, log *zap.Logger) (*Client, error) {
	log.Info("Connecting to ClickHouse activity store",
		zap.String("host", cfg.Host),
		zap.String("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.Bool("tls", cfg.UseTLS))

	conn, err := clickhouse.Open(connOptions(cfg))
	if err != nil {
		log.Error("Failed to open ClickHouse connection", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		log.Error("Failed to ping ClickHouse", zap.Error(err))
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Client{conn: conn, log: log}, nil
}

// connOptions maps configuration onto driver options. Queries carry no
// server-side execution limit; only dialing is bounded. Batches of up to a
// full drain are sent LZ4-compressed.
func connOptions(cfg *config.ClickHouse) *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:      dialTimeout,
		MaxOpenConns:     cfg.MaxOpenConns,
		MaxIdleConns:     cfg.MaxIdleConns,
		ConnMaxLifetime:  time.Duration(cfg.ConnMaxLifetime) * time.Second,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}

	if cfg.UseTLS {
		opts.TLS = &tls.Config{ServerName: cfg.Host}
	}

	return opts
}

// Conn returns the underlying connection
func (c *Client) Conn() driver.Conn {
	return c.conn
}

// Close closes the connection
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil {
		c.log.Error("Failed to close ClickHouse connection", zap.Error(err))
		return err
	}
	c.log.Info("ClickHouse connection closed")
	return nil
}
