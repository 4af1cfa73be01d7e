package session

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Registry stores session key -> channel id with insert-if-absent
// semantics. PutIfAbsent returns the committed channel id, which is the
// caller's only when inserted is true.
type Registry interface {
	Get(ctx context.Context, key string) (string, error)
	PutIfAbsent(ctx context.Context, key, channelID string) (committed string, inserted bool, err error)
}

type MemoryRegistry struct {
	mu       sync.Mutex
	sessions map[string]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[string]string)}
}

func (r *MemoryRegistry) Get(_ context.Context, key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key], nil
}

func (r *MemoryRegistry) PutIfAbsent(_ context.Context, key, channelID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[key]; ok {
		return existing, false, nil
	}
	r.sessions[key] = channelID
	return channelID, true, nil
}

const redisKeyPrefix = "mkt:sessions:"

// RedisRegistry shares the registry across replicas via SET NX.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

func NewRedisRegistry(client *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = redisKeyPrefix
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (r *RedisRegistry) PutIfAbsent(ctx context.Context, key, channelID string) (string, bool, error) {
	inserted, err := r.client.SetNX(ctx, r.prefix+key, channelID, 0).Result()
	if err != nil {
		return "", false, err
	}
	if inserted {
		return channelID, true, nil
	}
	existing, err := r.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// SessionStore is the durable insert-if-absent table behind the
// registry.
type SessionStore interface {
	InsertSessionIfAbsent(ctx context.Context, sessionKey, channelID string) (string, bool, error)
	GetSession(ctx context.Context, sessionKey string) (string, error)
}

type StoreRegistry struct {
	store SessionStore
}

func NewStoreRegistry(store SessionStore) *StoreRegistry {
	return &StoreRegistry{store: store}
}

func (r *StoreRegistry) Get(ctx context.Context, key string) (string, error) {
	return r.store.GetSession(ctx, key)
}

func (r *StoreRegistry) PutIfAbsent(ctx context.Context, key, channelID string) (string, bool, error) {
	return r.store.InsertSessionIfAbsent(ctx, key, channelID)
}

// LayeredRegistry puts the durable registry in front for correctness
// and keeps a fast shared layer warm for lookups. Fast-layer failures
// never fail the operation.
type LayeredRegistry struct {
	durable Registry
	fast    Registry
}

func NewLayeredRegistry(durable, fast Registry) *LayeredRegistry {
	return &LayeredRegistry{durable: durable, fast: fast}
}

func (r *LayeredRegistry) Get(ctx context.Context, key string) (string, error) {
	if r.fast != nil {
		if id, err := r.fast.Get(ctx, key); err == nil && id != "" {
			return id, nil
		}
	}
	id, err := r.durable.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if id != "" && r.fast != nil {
		_, _, _ = r.fast.PutIfAbsent(ctx, key, id)
	}
	return id, nil
}

func (r *LayeredRegistry) PutIfAbsent(ctx context.Context, key, channelID string) (string, bool, error) {
	committed, inserted, err := r.durable.PutIfAbsent(ctx, key, channelID)
	if err != nil {
		return "", false, err
	}
	if r.fast != nil {
		_, _, _ = r.fast.PutIfAbsent(ctx, key, committed)
	}
	return committed, inserted, nil
}
