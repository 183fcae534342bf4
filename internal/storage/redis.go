package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the sorted set holding the catalog.
const DefaultRedisKey = "packs:catalog"

// RedisStorage keeps the catalog in a sorted set scored by pack size, which
// lets several service instances share one catalog.
type RedisStorage struct {
	client *redis.Client
	key    string
}

// NewRedisStorage wraps an existing client. The storage takes ownership of
// the client and closes it on Close.
func NewRedisStorage(client *redis.Client, key string) *RedisStorage {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStorage{client: client, key: key}
}

// GetPackSizes returns the stored sizes in ascending order.
func (s *RedisStorage) GetPackSizes(ctx context.Context) ([]int, error) {
	members, err := s.client.ZRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read catalog: %w", err)
	}

	sizes := make([]int, 0, len(members))
	for _, member := range members {
		size, err := strconv.Atoi(member)
		if err != nil {
			return nil, fmt.Errorf("redis: invalid pack size %q: %w", member, err)
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}

// SetPackSizes replaces the sorted set inside a MULTI/EXEC block so readers
// never see a partially written catalog.
func (s *RedisStorage) SetPackSizes(ctx context.Context, sizes []int) error {
	members := make([]redis.Z, len(sizes))
	for i, size := range sizes {
		members[i] = redis.Z{Score: float64(size), Member: strconv.Itoa(size)}
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(members) > 0 {
			pipe.ZAdd(ctx, s.key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: write catalog: %w", err)
	}
	return nil
}

// Ping checks server connectivity.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
