package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is the common content-cache contract; Cache (file-backed) and
// Redis both satisfy it. CACHE_BACKEND is read into the config, but the
// service always builds the file-backed Cache; nothing constructs Redis.
// Wiring go-redis here gives it a concrete home in this spec since
// no other component in SPEC_FULL.md touches Redis.
type Backend interface {
	Get(kind Kind, id string, dest any) bool
	Set(kind Kind, id string, value any) error
	Clear() (int, error)
}

var (
	_ Backend = (*Cache)(nil)
	_ Backend = (*Redis)(nil)
)

// Redis is a go-redis-backed Backend. Keys are "cortex:cache:{kind}:{id}".
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis constructs a Redis cache backend against addr with an optional
// TTL (0 disables expiry).
func NewRedis(addr string, ttl time.Duration) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr}), ttl: ttl}
}

func (r *Redis) key(kind Kind, id string) string {
	return "cortex:cache:" + string(kind) + ":" + id
}

func (r *Redis) Get(kind Kind, id string, dest any) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := r.client.Get(ctx, r.key(kind, id)).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false
	}
	return true
}

func (r *Redis) Set(kind Kind, id string, value any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(kind, id), raw, r.ttl).Err()
}

func (r *Redis) Clear() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var count int
	iter := r.client.Scan(ctx, 0, "cortex:cache:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err == nil {
			count++
		}
	}
	return count, iter.Err()
}
