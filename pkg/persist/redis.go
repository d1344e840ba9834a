package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPersist backs the Store interface with a Redis hash: every item is a
// field on a single hash key, so a whole fragment's or database's state can
// be fetched or wiped with one round trip.
type RedisPersist struct {
	client *redis.Client
	hash   string
}

// NewRedisPersist returns a RedisPersist that stores items as fields of
// hashKey on client.
func NewRedisPersist(client *redis.Client, hashKey string) *RedisPersist {
	return &RedisPersist{client: client, hash: hashKey}
}

func (r *RedisPersist) GetItem(ctx context.Context, name string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.hash, name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("persist(redis): hget %s/%s: %w", r.hash, name, err)
	}
	return v, true, nil
}

func (r *RedisPersist) SetItem(ctx context.Context, name, value string) error {
	if err := r.client.HSet(ctx, r.hash, name, value).Err(); err != nil {
		return fmt.Errorf("persist(redis): hset %s/%s: %w", r.hash, name, err)
	}
	return nil
}

func (r *RedisPersist) Location() string { return r.hash }
