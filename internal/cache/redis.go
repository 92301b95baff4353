package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/utils"
)

const redisNamespace = "policy:eff:"

// Redis is the shared cache variant for multi-instance deployments, so an
// invalidation issued on one instance is observed by every instance's next
// read.
type Redis struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewRedis(log *logger.Logger) (*Redis, error) {
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{log: log.With("service", "RedisCache"), rdb: rdb}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	raw, err := r.rdb.Get(ctx, redisNamespace+key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return json.RawMessage(raw), true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, redisNamespace+key, []byte(value), ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) InvalidatePrefix(ctx context.Context, prefix string) error {
	return r.deleteByPattern(ctx, redisNamespace+prefix+"*")
}

func (r *Redis) Clear(ctx context.Context) error {
	return r.deleteByPattern(ctx, redisNamespace+"*")
}

func (r *Redis) deleteByPattern(ctx context.Context, pattern string) error {
	iter := r.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	keys := make([]string, 0, 64)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %q: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
