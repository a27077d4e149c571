package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/pasthortown/message-sender/internal/domain"
	"github.com/pasthortown/message-sender/internal/repository"
	"github.com/pasthortown/message-sender/internal/timestamp"
)

// RecordRepository implements repository.RecordRepository on the messagereport collection
type RecordRepository struct {
	client     *Client
	collection *mongo.Collection
	log        *zap.Logger
}

// NewRecordRepository creates a new MongoDB record repository
func NewRecordRepository(client *Client, log *zap.Logger) *RecordRepository {
	return &RecordRepository{
		client:     client,
		collection: client.Database().Collection(RecordsCollection),
		log:        log,
	}
}

// InitSchema creates the collection indexes
func (r *RecordRepository) InitSchema(ctx context.Context) error {
	return r.client.InitSchema(ctx)
}

// Ping checks if the MongoDB connection is alive
func (r *RecordRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

// InsertBatch inserts records with ordered=false so one bad document does not
// stop the others.
func (r *RecordRepository) InsertBatch(ctx context.Context, records []*domain.ActivityRecord) (repository.InsertResult, error) {
	if len(records) == 0 {
		return repository.InsertResult{}, nil
	}

	docs := make([]any, len(records))
	for i, record := range records {
		docs[i] = record
	}

	_, err := r.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return insertResult(records, err)
}

// insertResult separates per-document write errors, which are tolerated,
// from failures of the bulk call itself.
func insertResult(records []*domain.ActivityRecord, err error) (repository.InsertResult, error) {
	if err == nil {
		return repository.InsertResult{Inserted: len(records)}, nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return repository.InsertResult{}, fmt.Errorf("%w: %w", repository.ErrStoreWrite, err)
	}

	result := repository.InsertResult{Inserted: len(records)}
	for _, we := range bwe.WriteErrors {
		failure := repository.InsertFailure{Message: we.Message}
		if we.Index >= 0 && we.Index < len(records) {
			failure.ItemID = records[we.Index].ItemID
		}
		result.Failures = append(result.Failures, failure)
		result.Inserted--
	}

	return result, nil
}

type lastActivityRow struct {
	ID     any `bson:"_id"`
	LastTS any `bson:"last_ts"`
}

// lastActivityPipeline groups records by identity and keeps the latest timestamp.
func lastActivityPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "email", Value: bson.D{
				{Key: "$exists", Value: true},
				{Key: "$nin", Value: bson.A{nil, ""}},
			}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$email"},
			{Key: "last_ts", Value: bson.D{{Key: "$max", Value: "$timestamp"}}},
		}}},
	}
}

// LastActivity aggregates the latest activity instant per identity
func (r *RecordRepository) LastActivity(ctx context.Context) ([]domain.IdentityActivity, error) {
	cursor, err := r.collection.Aggregate(ctx, lastActivityPipeline(), options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate last activity: %w", err)
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			r.log.Error("Failed to close last activity cursor", zap.Error(err))
		}
	}()

	var activities []domain.IdentityActivity
	for cursor.Next(ctx) {
		var row lastActivityRow
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode last activity row: %w", err)
		}

		activity, ok := toIdentityActivity(row)
		if !ok {
			r.log.Debug("Skipping identity without usable activity", zap.Any("identity", row.ID))
			continue
		}
		activities = append(activities, activity)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating last activity rows: %w", err)
	}

	return activities, nil
}

// toIdentityActivity keeps rows with a string identity and a timestamp that
// normalizes to a real instant.
func toIdentityActivity(row lastActivityRow) (domain.IdentityActivity, bool) {
	email, ok := row.ID.(string)
	if !ok || email == "" {
		return domain.IdentityActivity{}, false
	}

	last := timestamp.Normalize(row.LastTS)
	if timestamp.IsSentinel(last) {
		return domain.IdentityActivity{}, false
	}

	return domain.IdentityActivity{Email: email, LastActivity: last}, true
}
