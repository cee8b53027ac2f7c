package store

import (
	"context"
	"time"
)

// Storage keeps one refresh token per tenant. A tenant without a token
// yields "" and a nil error.
type Storage interface {
	Get(ctx context.Context, tenant string) (string, error)
	Set(ctx context.Context, tenant, token string) error
	Clear(ctx context.Context, tenant string) error
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver string
	// TTL applies to tokens whose expiry cannot be decoded.
	TTL    time.Duration
	Redis  *RedisConfig
	SQLite *SQLiteConfig
	Memory *MemoryConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	GCInterval time.Duration
}

// SQLiteConfig locates the database file.
type SQLiteConfig struct {
	DSN string
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

const defaultTTL = 30 * 24 * time.Hour

func (c Config) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return defaultTTL
}
