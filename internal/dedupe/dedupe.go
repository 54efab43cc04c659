// Package dedupe drops webhook retries by remembering provider message ids.
package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/jkindrix/leadconcierge/internal/clock"
)

const keyPrefix = "leadconcierge:inbound:"

// Store claims message ids.
type Store interface {
	// Claim returns true the first time id is seen within the TTL.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets id so a retry is processed again.
	Release(ctx context.Context, id string) error
}

type redisCmds interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps ids in Redis with a TTL.
type RedisStore struct {
	client redisCmds
	ttl    time.Duration
}

// NewRedisStore parses url and returns a store and the client to close.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, eris.Wrap(err, "dedupe: parse redis url")
	}
	client := redis.NewClient(opts)
	return &RedisStore{client: client, ttl: ttl}, client, nil
}

// Ping checks the connection.
func Ping(ctx context.Context, client *redis.Client) error {
	return eris.Wrap(client.Ping(ctx).Err(), "dedupe: ping redis")
}

// Claim uses SET NX so concurrent retries race safely.
func (s *RedisStore) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+id, 1, s.ttl).Result()
	if err != nil {
		return false, eris.Wrapf(err, "dedupe: claim %s", id)
	}
	return ok, nil
}

// Release deletes the id.
func (s *RedisStore) Release(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, keyPrefix+id).Err(); err != nil {
		return eris.Wrapf(err, "dedupe: release %s", id)
	}
	return nil
}

// MemoryStore keeps ids in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	clock clock.Clock
	ttl   time.Duration
	seen  map[string]time.Time
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(ttl time.Duration, clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{clock: clk, ttl: ttl, seen: make(map[string]time.Time)}
}

// Claim records id and sweeps expired ids.
func (s *MemoryStore) Claim(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for k, exp := range s.seen {
		if !now.Before(exp) {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[id]; ok {
		return false, nil
	}
	s.seen[id] = now.Add(s.ttl)
	return true, nil
}

// Release forgets id.
func (s *MemoryStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, id)
	return nil
}
