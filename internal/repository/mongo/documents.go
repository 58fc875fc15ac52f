package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Rrens/ally-chat/internal/config"
	"github.com/Rrens/ally-chat/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const countersCollection = "counters"

type documentRecord struct {
	Path      string    `bson:"_id"`
	Parent    string    `bson:"parent"`
	Key       string    `bson:"key"`
	Data      string    `bson:"data"`
	Version   int64     `bson:"version"`
	CreatedAt time.Time `bson:"createdAt"`
	Seq       int64     `bson:"seq"`
}

func (r documentRecord) document() *domain.Document {
	return &domain.Document{
		Data:      []byte(r.Data),
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
	}
}

// DocumentStore implements domain.DocumentStore on a MongoDB collection
type DocumentStore struct {
	client   *mongo.Client
	docs     *mongo.Collection
	counters *mongo.Collection
	now      func() time.Time
}

// Connect opens a client and prepares the collection indexes
func Connect(ctx context.Context, cfg config.MongoConfig) (*DocumentStore, error) {
	clientOpts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	s := NewDocumentStore(client, client.Database(cfg.Database), cfg.Collection)
	if err := s.EnsureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// NewDocumentStore wraps an existing database
func NewDocumentStore(client *mongo.Client, db *mongo.Database, collection string) *DocumentStore {
	if collection == "" {
		collection = "documents"
	}
	return &DocumentStore{
		client:   client,
		docs:     db.Collection(collection),
		counters: db.Collection(countersCollection),
		now:      time.Now,
	}
}

// EnsureIndexes creates the listing index
func (s *DocumentStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.docs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "parent", Value: 1}, {Key: "seq", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, path string) (*domain.Document, error) {
	var rec documentRecord
	err := s.docs.FindOne(ctx, bson.M{"_id": path}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return rec.document(), nil
}

func (s *DocumentStore) Put(ctx context.Context, path string, data []byte) error {
	seq, err := s.nextSeq(ctx)
	if err != nil {
		return err
	}

	parent, key := domain.SplitPath(path)
	update := bson.M{
		"$set": bson.M{"data": string(data)},
		"$inc": bson.M{"version": int64(1)},
		"$setOnInsert": bson.M{
			"parent":    parent,
			"key":       key,
			"createdAt": s.now().UTC(),
			"seq":       seq,
		},
	}
	_, err = s.docs.UpdateOne(ctx, bson.M{"_id": path}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}
	return nil
}

func (s *DocumentStore) PutIfVersion(ctx context.Context, path string, data []byte, version int64) error {
	if version == 0 {
		seq, err := s.nextSeq(ctx)
		if err != nil {
			return err
		}
		parent, key := domain.SplitPath(path)
		_, err = s.docs.InsertOne(ctx, documentRecord{
			Path:      path,
			Parent:    parent,
			Key:       key,
			Data:      string(data),
			Version:   1,
			CreatedAt: s.now().UTC(),
			Seq:       seq,
		})
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		return nil
	}

	res, err := s.docs.UpdateOne(ctx,
		bson.M{"_id": path, "version": version},
		bson.M{"$set": bson.M{"data": string(data)}, "$inc": bson.M{"version": int64(1)}},
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (s *DocumentStore) List(ctx context.Context, parent string) ([]domain.Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := s.docs.Find(ctx, bson.M{"parent": parent}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer cursor.Close(ctx)

	var records []documentRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}

	entries := make([]domain.Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, domain.Entry{Key: r.Key, Document: *r.document()})
	}
	return entries, nil
}

func (s *DocumentStore) DeleteTree(ctx context.Context, path string) error {
	filter := bson.M{"$or": bson.A{
		bson.M{"_id": path},
		bson.M{"_id": bson.M{"$regex": subtreePattern(path)}},
	}}
	if _, err := s.docs.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *DocumentStore) Close() error {
	if s.client != nil {
		return s.client.Disconnect(context.Background())
	}
	return nil
}

func (s *DocumentStore) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": s.docs.Name()},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	return counter.Value, nil
}

func subtreePattern(path string) string {
	return "^" + regexp.QuoteMeta(path+"/")
}
