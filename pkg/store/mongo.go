package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matzehuels/panelsync/pkg/errors"
	"github.com/matzehuels/panelsync/pkg/panel"
	"github.com/matzehuels/panelsync/pkg/remote"
)

// Mongo defaults.
const (
	DefaultMongoDatabase   = "panelsync"
	DefaultMongoCollection = "layouts"
)

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI        string // e.g. "mongodb://localhost:27017"
	Database   string // default DefaultMongoDatabase
	Collection string // default DefaultMongoCollection
}

// MongoStore keeps one document per project, keyed by project id.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	opts   options
	owned  bool
}

type mongoLayout struct {
	ProjectID   string        `bson:"_id"`
	Panels      []panel.Panel `bson:"panels"`
	Width       float64       `bson:"width"`
	Height      float64       `bson:"height"`
	Scale       float64       `bson:"scale"`
	LastUpdated time.Time     `bson:"last_updated"`
	Revision    int64         `bson:"revision"`
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(ctx context.Context, cfg MongoConfig, opts ...Option) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "mongo uri is required")
	}
	client, err := mongo.Connect(ctx, mongoopts.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTransport, err, "connect to mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(errors.ErrCodeTransport, err, "ping mongo")
	}
	s := NewMongoStoreFromClient(client, cfg, opts...)
	s.owned = true
	return s, nil
}

// NewMongoStoreFromClient wraps an existing client. Close does not
// disconnect a client it did not create.
func NewMongoStoreFromClient(client *mongo.Client, cfg MongoConfig, opts ...Option) *MongoStore {
	db := cfg.Database
	if db == "" {
		db = DefaultMongoDatabase
	}
	coll := cfg.Collection
	if coll == "" {
		coll = DefaultMongoCollection
	}
	return &MongoStore{
		client: client,
		coll:   client.Database(db).Collection(coll),
		opts:   buildOptions(opts),
	}
}

// Collection returns the backing collection.
func (s *MongoStore) Collection() *mongo.Collection { return s.coll }

// FetchLayout implements [remote.Gateway].
func (s *MongoStore) FetchLayout(ctx context.Context, projectID string) (*remote.Layout, error) {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	var doc mongoLayout
	err := s.coll.FindOne(ctx, bson.M{"_id": projectID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.New(errors.ErrCodeNotFound, "project %s not found", projectID)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTransport, err, "fetch layout %s", projectID)
	}
	return doc.layout(), nil
}

// PersistLayout implements [remote.Gateway].
//
// The revision check and the write are one atomic operation: inserts rely
// on the unique _id and updates filter on the base revision.
func (s *MongoStore) PersistLayout(ctx context.Context, projectID string, req remote.PersistRequest) (*remote.Ack, error) {
	if err := errors.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if err := validatePanels(req.Panels); err != nil {
		return nil, err
	}
	now := s.opts.now().UTC().Truncate(time.Millisecond)

	if req.BaseRevision == 0 {
		next := apply(projectID, nil, req, now)
		_, err := s.coll.InsertOne(ctx, newMongoLayout(next))
		if mongo.IsDuplicateKeyError(err) {
			return nil, errors.New(errors.ErrCodeConflict, "project %s already exists", projectID)
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeTransport, err, "create layout %s", projectID)
		}
		return &remote.Ack{Revision: next.Revision, LastUpdated: next.LastUpdated}, nil
	}

	panels := panel.CloneAll(req.Panels)
	if panels == nil {
		panels = []panel.Panel{}
	}
	set := bson.M{
		"panels":       panels,
		"last_updated": now,
		"revision":     req.BaseRevision + 1,
	}
	if req.Width > 0 {
		set["width"] = req.Width
	}
	if req.Height > 0 {
		set["height"] = req.Height
	}
	if req.Scale > 0 {
		set["scale"] = req.Scale
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": projectID, "revision": req.BaseRevision},
		bson.M{"$set": set},
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTransport, err, "persist layout %s", projectID)
	}
	if res.MatchedCount == 0 {
		n, err := s.coll.CountDocuments(ctx, bson.M{"_id": projectID})
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeTransport, err, "persist layout %s", projectID)
		}
		if n == 0 {
			return nil, errors.New(errors.ErrCodeNotFound, "project %s not found", projectID)
		}
		return nil, errors.New(errors.ErrCodeConflict, "project %s changed since revision %d", projectID, req.BaseRevision)
	}
	return &remote.Ack{Revision: req.BaseRevision + 1, LastUpdated: now}, nil
}

// Close disconnects the client if the store created it.
func (s *MongoStore) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func newMongoLayout(l *remote.Layout) mongoLayout {
	return mongoLayout{
		ProjectID:   l.ProjectID,
		Panels:      l.Panels,
		Width:       l.Width,
		Height:      l.Height,
		Scale:       l.Scale,
		LastUpdated: l.LastUpdated,
		Revision:    l.Revision,
	}
}

func (d mongoLayout) layout() *remote.Layout {
	panels := d.Panels
	if panels == nil {
		panels = []panel.Panel{}
	}
	return &remote.Layout{
		ProjectID:   d.ProjectID,
		Panels:      panels,
		Width:       d.Width,
		Height:      d.Height,
		Scale:       d.Scale,
		LastUpdated: d.LastUpdated.UTC(),
		Revision:    d.Revision,
	}
}
