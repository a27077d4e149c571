package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
)

// IdentityRepository implements repository.IdentityRepository on the users collection
type IdentityRepository struct {
	collection *mongo.Collection
	log        *zap.Logger
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(client *Client, log *zap.Logger) *IdentityRepository {
	return &IdentityRepository{
		collection: client.Database().Collection(IdentitiesCollection),
		log:        log,
	}
}

// DeleteByIdentity removes all membership rows of the given identities
func (r *IdentityRepository) DeleteByIdentity(ctx context.Context, emails []string) (int64, error) {
	if len(emails) == 0 {
		return 0, nil
	}

	res, err := r.collection.DeleteMany(ctx, bson.M{"email": bson.M{"$in": emails}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete identities: %w", err)
	}

	r.log.Debug("Deleted identity rows",
		zap.Int("identities", len(emails)),
		zap.Int64("rows", res.DeletedCount))

	return res.DeletedCount, nil
}
