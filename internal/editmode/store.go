package editmode

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore keeps the edit state of each session. A missing entry reads
// as StateReadOnly.
type StateStore interface {
	Get(ctx context.Context, sessionID string) (State, error)
	Set(ctx context.Context, sessionID string, s State) error
	Clear(ctx context.Context, sessionID string) error
}

// MemoryStateStore is a StateStore for a single process.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

func (m *MemoryStateStore) Get(_ context.Context, sessionID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[sessionID]; ok {
		return s, nil
	}
	return StateReadOnly, nil
}

func (m *MemoryStateStore) Set(_ context.Context, sessionID string, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[sessionID] = s
	return nil
}

func (m *MemoryStateStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	return nil
}

// KeyPrefix is the Redis key prefix for edit state.
const KeyPrefix = "editmode:"

// RedisStateStore shares edit state between instances. Entries expire with
// the session.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{client: client, ttl: ttl}
}

func (r *RedisStateStore) Get(ctx context.Context, sessionID string) (State, error) {
	v, err := r.client.Get(ctx, KeyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return StateReadOnly, nil
	}
	if err != nil {
		return StateReadOnly, err
	}
	if State(v) == StateEditing {
		return StateEditing, nil
	}
	return StateReadOnly, nil
}

func (r *RedisStateStore) Set(ctx context.Context, sessionID string, s State) error {
	if s == StateReadOnly {
		return r.Clear(ctx, sessionID)
	}
	return r.client.Set(ctx, KeyPrefix+sessionID, string(s), r.ttl).Err()
}

func (r *RedisStateStore) Clear(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, KeyPrefix+sessionID).Err()
}
