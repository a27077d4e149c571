package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type counterDoc struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

// CounterRepository implements sequence.CounterStore on the _counters collection
type CounterRepository struct {
	collection *mongo.Collection
}

// NewCounterRepository creates a new counter repository
func NewCounterRepository(client *Client) *CounterRepository {
	return &CounterRepository{collection: client.Database().Collection(CountersCollection)}
}

// Increment adds by to the named counter and returns the new value in one
// findOneAndUpdate. The counter document is created on first use.
func (r *CounterRepository) Increment(ctx context.Context, name string, by int64) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc counterDoc
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": by}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}

	return doc.Seq, nil
}
