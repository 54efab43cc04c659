// Package blob stores the concierge's persistent artifacts under slash
// separated keys: projects/, faq/, conversations/, reports/ and downloads/.
package blob

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jkindrix/leadconcierge/internal/metrics"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is a flat key/value blob store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// Append adds data to the end of the blob, creating it if missing.
	Append(ctx context.Context, key string, data []byte) error
	// List returns the keys starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// validKey rejects keys that could escape the bucket.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

type instrumented struct {
	next    Store
	metrics *metrics.Metrics
}

// Instrument records the duration and errors of every operation.
func Instrument(s Store, m *metrics.Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumented{next: s, metrics: m}
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	s.metrics.RecordBlobOperation(op, time.Since(start), err)
}

func (s *instrumented) Get(ctx context.Context, key string) (data []byte, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return s.next.Get(ctx, key)
}

func (s *instrumented) Put(ctx context.Context, key string, data []byte) (err error) {
	defer func(start time.Time) { s.observe("put", start, err) }(time.Now())
	return s.next.Put(ctx, key, data)
}

func (s *instrumented) Append(ctx context.Context, key string, data []byte) (err error) {
	defer func(start time.Time) { s.observe("append", start, err) }(time.Now())
	return s.next.Append(ctx, key, data)
}

func (s *instrumented) List(ctx context.Context, prefix string) (keys []string, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())
	return s.next.List(ctx, prefix)
}

func (s *instrumented) Delete(ctx context.Context, key string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())
	return s.next.Delete(ctx, key)
}
