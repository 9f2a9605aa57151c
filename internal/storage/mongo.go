package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hacknation/dozin/internal/models"
)

// listingDocument is the MongoDB representation of a listing
type listingDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Category    string             `bson:"category"`
	City        string             `bson:"city"`
	Description string             `bson:"description"`
	Phone       string             `bson:"phone"`
	Name        string             `bson:"name,omitempty"`
	Date        string             `bson:"date"`
	Images      []string           `bson:"images"`
	CreatedAt   time.Time          `bson:"created_at"`
}

func toListingDocument(l models.Listing, now time.Time) listingDocument {
	images := l.Images
	if images == nil {
		images = []string{}
	}
	return listingDocument{
		Category:    l.Category,
		City:        l.City,
		Description: l.Description,
		Phone:       l.Phone,
		Name:        l.Name,
		Date:        l.Date,
		Images:      images,
		CreatedAt:   now,
	}
}

func (d listingDocument) toListing() models.Listing {
	images := d.Images
	if images == nil {
		images = []string{}
	}
	return models.Listing{
		ID:          d.ID.Hex(),
		Category:    d.Category,
		City:        d.City,
		Description: d.Description,
		Phone:       d.Phone,
		Name:        d.Name,
		Date:        d.Date,
		Images:      images,
		CreatedAt:   d.CreatedAt,
	}
}

// MongoStorage is the MongoDB-backed document store.
// Subscribe relies on change streams, so the server must run as a replica set.
type MongoStorage struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStorage connects to uri and verifies the connection with a ping
func NewMongoStorage(ctx context.Context, uri, dbName string) (*MongoStorage, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	collection := client.Database(dbName).Collection("listings")
	_, err = collection.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create created_at index")
	}

	log.Info().Str("database", dbName).Msg("MongoDB storage initialized")

	return &MongoStorage{client: client, collection: collection}, nil
}

// Create inserts a listing and returns the hex of its ObjectID
func (s *MongoStorage) Create(ctx context.Context, l models.Listing) (string, error) {
	doc := toListingDocument(l, time.Now().UTC())

	res, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		log.Error().Err(err).Msg("Failed to save listing to mongodb")
		return "", fmt.Errorf("failed to insert listing: %w", err)
	}

	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	return id.Hex(), nil
}

// List returns all listings, newest first
func (s *MongoStorage) List(ctx context.Context) ([]models.Listing, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []listingDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	listings := make([]models.Listing, 0, len(docs))
	for _, d := range docs {
		listings = append(listings, d.toListing())
	}
	return listings, nil
}

// Subscribe opens a change stream on the collection, delivers the current
// snapshot, then a fresh snapshot per insert event.
func (s *MongoStorage) Subscribe(ctx context.Context, fn SnapshotFunc) (*Subscription, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"operationType": "insert"}}},
	}

	sub, subCtx := newSubscription(ctx)

	stream, err := s.collection.Watch(subCtx, pipeline)
	if err != nil {
		sub.cancel()
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}

	go func() {
		defer stream.Close(context.Background())

		snapshot, err := s.List(subCtx)
		if err != nil {
			sub.finish(err)
			return
		}
		sub.deliver(subCtx, fn, snapshot)

		for stream.Next(subCtx) {
			// coalesce events that are already buffered
			for stream.RemainingBatchLength() > 0 && stream.Next(subCtx) {
			}
			snapshot, err := s.List(subCtx)
			if err != nil {
				if subCtx.Err() != nil {
					break
				}
				log.Error().Err(err).Msg("Failed to refresh listings snapshot")
				continue
			}
			sub.deliver(subCtx, fn, snapshot)
		}

		if subCtx.Err() != nil {
			sub.finish(subCtx.Err())
			return
		}
		sub.finish(stream.Err())
	}()

	return sub, nil
}

// HealthCheck pings the primary
func (s *MongoStorage) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client
func (s *MongoStorage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
