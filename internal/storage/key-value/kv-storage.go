package key_value

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultOpTimeout = 3 * time.Second

// KVStorage keeps every key as a plain redis string. Operations are
// synchronous; each one gets its own timeout.
type KVStorage struct {
	rdb       redis.UniversalClient
	prefix    string
	opTimeout time.Duration
}

func NewKVStorage(rdb redis.UniversalClient, prefix string, opTimeout time.Duration) *KVStorage {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &KVStorage{
		rdb:       rdb,
		prefix:    prefix,
		opTimeout: opTimeout,
	}
}

func (s *KVStorage) Get(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	value, err := s.rdb.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *KVStorage) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	if err := s.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *KVStorage) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

func (s *KVStorage) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *KVStorage) key(key string) string {
	return s.prefix + key
}
