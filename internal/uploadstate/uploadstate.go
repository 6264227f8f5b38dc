// Package uploadstate holds the short-lived handles bridging the
// two-phase upload protocol: request a handle, then confirm it. Handles
// expire on their own; nothing here is relied on for durable correctness.
package uploadstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"horse.fit/stipend/internal/globaltime"
)

const keyPrefix = "stipend:upload:"

// Handle is one pending upload authorization.
type Handle struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Purpose   string    `json:"purpose"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps pending handles with an expiry. Take consumes: a handle can
// be confirmed at most once.
type Store interface {
	Put(ctx context.Context, handle Handle) error
	Take(ctx context.Context, token string) (Handle, bool, error)
}

// RedisStore keeps handles in redis so confirmation works across
// instances and process restarts.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, handle Handle) error {
	encoded, err := json.Marshal(handle)
	if err != nil {
		return fmt.Errorf("encode upload handle: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+handle.Token, encoded, s.ttl).Err(); err != nil {
		return fmt.Errorf("store upload handle: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, token string) (Handle, bool, error) {
	raw, err := s.client.GetDel(ctx, keyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return Handle{}, false, nil
	}
	if err != nil {
		return Handle{}, false, fmt.Errorf("take upload handle: %w", err)
	}
	var handle Handle
	if err := json.Unmarshal([]byte(raw), &handle); err != nil {
		return Handle{}, false, fmt.Errorf("decode upload handle: %w", err)
	}
	return handle, true, nil
}

// MemoryStore is the single-instance fallback when no redis address is
// configured. Expiry is enforced on read.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	handle    Handle
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: map[string]memoryEntry{},
	}
}

func (s *MemoryStore) Put(_ context.Context, handle Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[handle.Token] = memoryEntry{
		handle:    handle,
		expiresAt: globaltime.UTC().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Take(_ context.Context, token string) (Handle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[token]
	if !ok {
		return Handle{}, false, nil
	}
	delete(s.entries, token)
	if globaltime.UTC().After(entry.expiresAt) {
		return Handle{}, false, nil
	}
	return entry.handle, true, nil
}
