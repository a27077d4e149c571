package repository

import (
	"context"
	"errors"

	"github.com/pasthortown/message-sender/internal/domain"
)

// ErrStoreWrite is returned when a bulk insert fails as a whole.
var ErrStoreWrite = errors.New("repository: bulk insert failed")

// InsertFailure describes one record the store refused inside an otherwise
// accepted bulk insert.
type InsertFailure struct {
	ItemID  int64
	Message string
}

// InsertResult reports the outcome of an unordered bulk insert
type InsertResult struct {
	Inserted int
	Failures []InsertFailure
}

// RecordRepository persists activity records and answers last-activity queries
type RecordRepository interface {
	// InsertBatch inserts records without ordering guarantees. Per-record
	// failures are reported in the result; only a failure of the call itself
	// is returned as an error.
	InsertBatch(ctx context.Context, records []*domain.ActivityRecord) (InsertResult, error)

	// LastActivity returns the latest timestamp of every identity that has
	// at least one record with a non-empty identity.
	LastActivity(ctx context.Context) ([]domain.IdentityActivity, error)

	// InitSchema creates tables or indexes if they don't exist
	InitSchema(ctx context.Context) error

	// Ping checks if the store connection is alive
	Ping(ctx context.Context) error
}

// IdentityRepository manages the active-identity rows
type IdentityRepository interface {
	// DeleteByIdentity removes every row whose identity is in emails and
	// returns the number of rows deleted.
	DeleteByIdentity(ctx context.Context, emails []string) (int64, error)
}
