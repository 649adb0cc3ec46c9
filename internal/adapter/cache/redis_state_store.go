package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AI-codelabs/leadloopr-integrations/internal/domain"
	"github.com/AI-codelabs/leadloopr-integrations/internal/repository"
)

// RedisStateStore implements ConnectStateStore backed by Redis. The state key
// bridges the connect redirect and the provider callback, which arrives
// without tenant headers.
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ repository.ConnectStateStore = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed connect-state store.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// SaveState stores the encoded connect state with TTL.
func (s *RedisStateStore) SaveState(ctx context.Context, key string, data domain.ConnectState, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// GetState loads and decodes the state payload. A missing key yields (nil, nil).
func (s *RedisStateStore) GetState(ctx context.Context, key string) (*domain.ConnectState, error) {
	bytes, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	var state domain.ConnectState
	if err := json.Unmarshal(bytes, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

// DeleteState removes the persisted state key.
func (s *RedisStateStore) DeleteState(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}
