package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis constructs a redis-backed refresh token store.
func NewRedis(cfg Config) (Storage, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "ordersync:refresh"
	}
	return &redisStore{
		client: client,
		ttl:    cfg.ttl(),
		prefix: prefix,
	}, nil
}

func (s *redisStore) key(tenant string) string {
	return s.prefix + ":" + tenant
}

func (s *redisStore) Get(ctx context.Context, tenant string) (string, error) {
	token, err := s.client.Get(ctx, s.key(tenant)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *redisStore) Set(ctx context.Context, tenant, token string) error {
	if token == "" {
		return s.Clear(ctx, tenant)
	}
	now := time.Now()
	expiry := expiryFor(token, now, s.ttl).Sub(now)
	return s.client.Set(ctx, s.key(tenant), token, expiry).Err()
}

func (s *redisStore) Clear(ctx context.Context, tenant string) error {
	return s.client.Del(ctx, s.key(tenant)).Err()
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
