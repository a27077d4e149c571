package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/pasthortown/message-sender/internal/domain"
	"github.com/pasthortown/message-sender/internal/repository"
)

const lastActivityQuery = `
	SELECT
		email,
		max(timestamp) AS last_ts
	FROM messagereport FINAL
	WHERE email != ''
	GROUP BY email
`

// Repository implements RecordRepository for ClickHouse. Counters and
// identities stay in the document store.
type Repository struct {
	conn driver.Conn
	log  *zap.Logger
}

// NewRepository creates a new ClickHouse repository
func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{
		conn: client.Conn(),
		log:  log,
	}
}

// InitSchema creates the messagereport table with ReplacingMergeTree keyed on item_id
func (r *Repository) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS messagereport (
		message_id String,
		email String,
		zona String,
		estado LowCardinality(String),
		timestamp DateTime64(3, 'UTC'),
		item_id Int64
	) ENGINE = ReplacingMergeTree
	ORDER BY (item_id)
	PARTITION BY toYYYYMM(timestamp)
	SETTINGS index_granularity = 8192
	`

	if err := r.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create messagereport table: %w", err)
	}

	r.log.Info("ClickHouse schema initialized successfully")
	return nil
}

// InsertBatch sends all records in one native batch. ClickHouse accepts or
// rejects a block as a whole, so the result never carries per-record failures.
func (r *Repository) InsertBatch(ctx context.Context, records []*domain.ActivityRecord) (repository.InsertResult, error) {
	if len(records) == 0 {
		return repository.InsertResult{}, nil
	}

	batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO messagereport")
	if err != nil {
		return repository.InsertResult{}, fmt.Errorf("%w: failed to prepare batch: %w", repository.ErrStoreWrite, err)
	}

	for _, record := range records {
		err := batch.Append(
			scalarString(record.MessageID),
			record.Email,
			scalarString(record.Zone),
			record.State,
			record.Timestamp,
			record.ItemID,
		)
		if err != nil {
			_ = batch.Abort()
			return repository.InsertResult{}, fmt.Errorf("%w: failed to append record %d: %w", repository.ErrStoreWrite, record.ItemID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return repository.InsertResult{}, fmt.Errorf("%w: failed to send batch: %w", repository.ErrStoreWrite, err)
	}

	return repository.InsertResult{Inserted: len(records)}, nil
}

// LastActivity returns max(timestamp) per non-empty identity
func (r *Repository) LastActivity(ctx context.Context) ([]domain.IdentityActivity, error) {
	rows, err := r.conn.Query(ctx, lastActivityQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query last activity: %w", err)
	}
	defer func(rows driver.Rows) {
		if err := rows.Close(); err != nil {
			r.log.Error("Failed to close last activity rows", zap.Error(err))
		}
	}(rows)

	var activities []domain.IdentityActivity
	for rows.Next() {
		var (
			email  string
			lastTS time.Time
		)
		if err := rows.Scan(&email, &lastTS); err != nil {
			return nil, fmt.Errorf("failed to scan last activity row: %w", err)
		}
		activities = append(activities, domain.IdentityActivity{Email: email, LastActivity: lastTS.UTC()})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating last activity rows: %w", err)
	}

	return activities, nil
}

// Ping checks if the ClickHouse connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.conn.Ping(ctx)
}

// scalarString renders a loosely typed wire value for a String column.
func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
