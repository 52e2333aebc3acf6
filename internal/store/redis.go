package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisListStore backs conversation transcripts with Redis lists.
type RedisListStore struct {
	client *redis.Client
}

func NewRedisListStore(redisURL string) (*RedisListStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &RedisListStore{client: redis.NewClient(opts)}, nil
}

// NewRedisListStoreFromClient wraps an already configured client.
func NewRedisListStoreFromClient(client *redis.Client) *RedisListStore {
	return &RedisListStore{client: client}
}

func (s *RedisListStore) Append(ctx context.Context, key string, entry []byte, maxLen int, ttl time.Duration) error {
	// MULTI/EXEC keeps concurrent appends to the same key from interleaving with the trim.
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, entry)
		pipe.LTrim(ctx, key, int64(-maxLen), -1)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", key, err)
	}
	return nil
}

func (s *RedisListStore) Tail(ctx context.Context, key string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, key, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	entries := make([][]byte, 0, len(raw))
	for _, item := range raw {
		entries = append(entries, []byte(item))
	}
	return entries, nil
}

func (s *RedisListStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisListStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *RedisListStore) Close() error {
	return s.client.Close()
}
