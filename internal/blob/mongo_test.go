package blob

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// fakeCollection keeps documents in a map and understands the two filter
// shapes MongoStore issues.
type fakeCollection struct {
	docs map[string]blobDoc
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]blobDoc)}
}

func (f *fakeCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) *mongo.SingleResult {
	key, _ := filter.(bson.M)["_id"].(string)
	doc, ok := f.docs[key]
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

func (f *fakeCollection) Find(_ context.Context, filter any, _ ...options.Lister[options.FindOptions]) (*mongo.Cursor, error) {
	pattern := filter.(bson.M)["_id"].(bson.M)["$regex"].(string)
	re := regexp.MustCompile(pattern)
	var keys []string
	for k := range f.docs {
		if re.MatchString(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	docs := make([]any, 0, len(keys))
	for _, k := range keys {
		docs = append(docs, f.docs[k])
	}
	return mongo.NewCursorFromDocuments(docs, nil, nil)
}

func (f *fakeCollection) ReplaceOne(_ context.Context, _ any, replacement any, _ ...options.Lister[options.ReplaceOptions]) (*mongo.UpdateResult, error) {
	doc := replacement.(blobDoc)
	f.docs[doc.Key] = doc
	return &mongo.UpdateResult{MatchedCount: 1}, nil
}

func (f *fakeCollection) DeleteOne(_ context.Context, filter any, _ ...options.Lister[options.DeleteOneOptions]) (*mongo.DeleteResult, error) {
	key, _ := filter.(bson.M)["_id"].(string)
	delete(f.docs, key)
	return &mongo.DeleteResult{DeletedCount: 1}, nil
}

func newTestMongoStore() *MongoStore {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &MongoStore{coll: newFakeCollection(), now: func() time.Time { return fixed }}
}

func TestMongoStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestMongoStore()

	if _, err := s.Get(ctx, "projects/torre.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on missing key = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, "projects/torre.json", []byte("v1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Append(ctx, "projects/torre.json", []byte("+v2")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	got, err := s.Get(ctx, "projects/torre.json")
	if err != nil || string(got) != "v1+v2" {
		t.Errorf("Get() = %q, %v", got, err)
	}
}

func TestMongoStore_ListQuotesPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestMongoStore()
	for _, k := range []string{"faq/a.json", "faq/b.json", "faqxa.json", "projects/a.json"} {
		_ = s.Put(ctx, k, []byte("{}"))
	}

	keys, err := s.List(ctx, "faq/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "faq/a.json" || keys[1] != "faq/b.json" {
		t.Errorf("List(faq/) = %v", keys)
	}

	keys, _ = s.List(ctx, "faq.")
	if len(keys) != 0 {
		t.Errorf("dot in prefix must be literal, got %v", keys)
	}
}
