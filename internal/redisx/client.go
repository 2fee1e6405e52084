package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// IdemStore hands out one-shot idempotency tokens backed by SET NX.
type IdemStore struct {
	RDB *redis.Client
	TTL time.Duration
}

// Acquire returns true if this key was not claimed before. The claim
// expires after TTL.
func (s *IdemStore) Acquire(ctx context.Context, key string) (bool, error) {
	return s.RDB.SetNX(ctx, key, "1", s.TTL).Result()
}

// Release gives the key back so a redelivery can retry after a transient
// failure.
func (s *IdemStore) Release(ctx context.Context, key string) error {
	return s.RDB.Del(ctx, key).Err()
}
