package blob

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// collection is the subset of *mongo.Collection used by MongoStore.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error)
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any, opts ...options.Lister[options.DeleteOneOptions]) (*mongo.DeleteResult, error)
}

type blobDoc struct {
	Key       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore keeps one document per blob, keyed by _id.
type MongoStore struct {
	coll collection
	now  func() time.Time
}

// NewMongoStore uses the given collection.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll, now: time.Now}
}

// ConnectMongo opens a client and returns the store plus a close function.
func ConnectMongo(ctx context.Context, uri, database, coll string) (*MongoStore, func(context.Context) error, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, eris.Wrap(err, "blob: mongo connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, eris.Wrap(err, "blob: mongo ping")
	}
	return NewMongoStore(client.Database(database).Collection(coll)), client.Disconnect, nil
}

// Get reads a blob.
func (s *MongoStore) Get(ctx context.Context, key string) ([]byte, error) {
	var doc blobDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: find %s", key)
	}
	return doc.Data, nil
}

// Put upserts a blob.
func (s *MongoStore) Put(ctx context.Context, key string, data []byte) error {
	if !validKey(key) {
		return eris.Errorf("blob: invalid key %q", key)
	}
	doc := blobDoc{Key: key, Data: data, UpdatedAt: s.now().UTC()}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return eris.Wrapf(err, "blob: replace %s", key)
}

// Append reads, concatenates and replaces. Callers serialize writers.
func (s *MongoStore) Append(ctx context.Context, key string, data []byte) error {
	current, err := s.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.Put(ctx, key, append(current, data...))
}

// List returns keys with the prefix.
func (s *MongoStore) List(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, eris.Wrapf(err, "blob: list %s", prefix)
	}
	var docs []blobDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, eris.Wrapf(err, "blob: decode keys under %s", prefix)
	}
	keys := make([]string, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, d.Key)
	}
	return keys, nil
}

// Delete removes a blob.
func (s *MongoStore) Delete(ctx context.Context, key string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": key})
	return eris.Wrapf(err, "blob: delete %s", key)
}
