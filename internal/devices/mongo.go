package devices

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultMongoCollection is the collection holding registrations.
const DefaultMongoCollection = "devicetokens"

// tokenDocument is the stored shape of a registration.
type tokenDocument struct {
	Token     string    `bson:"token"`
	Email     string    `bson:"email"`
	CreatedAt time.Time `bson:"createdAt"`
}

// MongoRegistry stores registrations in a MongoDB collection with a unique
// index on token.
type MongoRegistry struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoRegistry uses collectionName in db, creating the unique token index
// if it does not exist yet.
func NewMongoRegistry(ctx context.Context, client *mongo.Client, db *mongo.Database, collectionName string) (*MongoRegistry, error) {
	if collectionName == "" {
		collectionName = DefaultMongoCollection
	}
	coll := db.Collection(collectionName)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "token", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create token index: %w", err)
	}
	return &MongoRegistry{client: client, collection: coll}, nil
}

// FindAll returns every registration, oldest first.
func (r *MongoRegistry) FindAll(ctx context.Context) ([]Registration, error) {
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list device tokens: %w", err)
	}
	defer cursor.Close(ctx)

	regs := make([]Registration, 0)
	for cursor.Next(ctx) {
		var doc tokenDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode device token: %w", err)
		}
		regs = append(regs, Registration{Token: doc.Token, Email: doc.Email, CreatedAt: doc.CreatedAt})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return regs, nil
}

// Exists reports whether token is registered.
func (r *MongoRegistry) Exists(ctx context.Context, token string) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"token": token}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check device token: %w", err)
	}
	return n > 0, nil
}

// Create inserts reg. A token that is already present yields ErrDuplicateToken.
func (r *MongoRegistry) Create(ctx context.Context, reg Registration) error {
	_, err := r.collection.InsertOne(ctx, tokenDocument{
		Token:     reg.Token,
		Email:     reg.Email,
		CreatedAt: reg.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return errors.Mark(err, ErrDuplicateToken)
	}
	if err != nil {
		return fmt.Errorf("insert device token: %w", err)
	}
	return nil
}

// Ping verifies the primary is reachable.
func (r *MongoRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}
