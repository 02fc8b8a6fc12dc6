package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoOpTimeout = 10 * time.Second

// Mongo is a Store backed by one MongoDB collection; the document id is _id.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// OpenMongo connects to uri and pings the deployment.
func OpenMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	if uri == "" {
		return nil, fmt.Errorf("store: mongo: uri is required")
	}
	opts := options.Client().ApplyURI(uri).SetAppName("docsync-server")
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("store: mongo: connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, fmt.Errorf("store: mongo: ping: %w", err)
	}
	return &Mongo{
		client: client,
		coll:   client.Database(database).Collection(collection),
		now:    time.Now,
	}, nil
}

func (m *Mongo) Load(ctx context.Context, id string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var doc Document
	err := m.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if err != nil {
		return nil, mongoErr("load", id, err)
	}
	return &doc, nil
}

func (m *Mongo) Save(ctx context.Context, id string, p Patch) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	set := bson.D{{Key: "updated_at", Value: m.now().UTC()}}
	if p.Title != nil && *p.Title != "" {
		set = append(set, bson.E{Key: "title", Value: *p.Title})
	}
	if p.Content != nil {
		set = append(set, bson.E{Key: "content", Value: *p.Content})
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc Document
	err := m.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: set}},
		opts,
	).Decode(&doc)
	if err != nil {
		return nil, mongoErr("save", id, err)
	}
	return &doc, nil
}

func (m *Mongo) Exists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	n, err := m.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: id}}, options.Count().SetLimit(1))
	if err != nil {
		return false, mongoErr("exists", id, err)
	}
	return n > 0, nil
}

func (m *Mongo) Create(ctx context.Context, title, content string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	now := m.now().UTC()
	doc := Document{ID: newID(), Title: title, Content: content, CreatedAt: now, UpdatedAt: now}
	if _, err := m.coll.InsertOne(ctx, doc); err != nil {
		return nil, mongoErr("create", doc.ID, err)
	}
	return &doc, nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func mongoErr(op, id string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return fmt.Errorf("store: mongo: %s %q: %w", op, id, err)
}
