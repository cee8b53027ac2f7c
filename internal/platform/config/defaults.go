package config

import "time"

// DefaultConfig returns the configuration used when no file overrides a value.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "ordersync.log",
		},
		Ordering: OrderingConfig{
			AnonymousAuth:  true,
			RequestTimeout: 15 * time.Second,
		},
		Auth: AuthConfig{
			ExpiryMargin:        10 * time.Second,
			NegativeCacheWindow: 30 * time.Second,
			GateTimeout:         250 * time.Millisecond,
			RefreshStore: RefreshStoreConfig{
				Type: "memory",
				TTL:  30 * 24 * time.Hour,
				Redis: RefreshRedisStore{
					Addr:   "127.0.0.1:6379",
					Prefix: "ordersync:refresh",
				},
				SQLite: RefreshSQLiteStore{
					DSN: "data/ordersync.db",
				},
			},
		},
		Connection: ConnectionConfig{
			ReconnectDelay:    20 * time.Second,
			HeartbeatIncoming: 4 * time.Second,
			HeartbeatOutgoing: 4 * time.Second,
			HandshakeTimeout:  10 * time.Second,
			TokenRetry: RetryConfig{
				MaxAttempts: 10,
				BaseDelay:   time.Second,
				Multiplier:  2,
				MaxDelay:    30 * time.Second,
			},
			Steering:       true,
			AuthRetryDelay: time.Minute,
		},
		Orders: OrdersConfig{
			InboxSize: 256,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8090",
		},
		Journal: JournalConfig{
			Enabled:   false,
			DSN:       "data/ordersync.db",
			Retention: 7 * 24 * time.Hour,
		},
	}
}
