package config

import (
	"time"
)

type Config struct {
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	Ordering      OrderingConfig      `yaml:"ordering" mapstructure:"ordering"`
	Auth          AuthConfig          `yaml:"auth" mapstructure:"auth"`
	Connection    ConnectionConfig    `yaml:"connection" mapstructure:"connection"`
	Orders        OrdersConfig        `yaml:"orders" mapstructure:"orders"`
	HTTP          HTTPConfig          `yaml:"http" mapstructure:"http"`
	Journal       JournalConfig       `yaml:"journal" mapstructure:"journal"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

// OrderingConfig describes the tenant this process synchronises.
type OrderingConfig struct {
	BaseURL              string        `yaml:"base_url" mapstructure:"base_url"`
	BrokerURL            string        `yaml:"broker_url,omitempty" mapstructure:"broker_url"`
	Tenant               string        `yaml:"tenant" mapstructure:"tenant"`
	Venue                string        `yaml:"venue" mapstructure:"venue"`
	BasicAuth            string        `yaml:"basic_auth" mapstructure:"basic_auth"`
	AnonymousAuth        bool          `yaml:"anonymous_auth" mapstructure:"anonymous_auth"`
	KDS                  bool          `yaml:"kds" mapstructure:"kds"`
	OnlyCompletedForUser bool          `yaml:"only_completed_for_user" mapstructure:"only_completed_for_user"`
	RequestTimeout       time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

type AuthConfig struct {
	ExpiryMargin        time.Duration      `yaml:"expiry_margin" mapstructure:"expiry_margin"`
	NegativeCacheWindow time.Duration      `yaml:"negative_cache_window" mapstructure:"negative_cache_window"`
	GateTimeout         time.Duration      `yaml:"gate_timeout" mapstructure:"gate_timeout"`
	RefreshStore        RefreshStoreConfig `yaml:"refresh_store" mapstructure:"refresh_store"`
}

type RefreshStoreConfig struct {
	Type   string             `yaml:"type" mapstructure:"type"`
	TTL    time.Duration      `yaml:"ttl" mapstructure:"ttl"`
	Redis  RefreshRedisStore  `yaml:"redis,omitempty" mapstructure:"redis"`
	SQLite RefreshSQLiteStore `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
}

type RefreshRedisStore struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Username string `yaml:"username,omitempty" mapstructure:"username"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	DB       int    `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

type RefreshSQLiteStore struct {
	DSN string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

type ConnectionConfig struct {
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay"`
	HeartbeatIncoming time.Duration `yaml:"heartbeat_incoming" mapstructure:"heartbeat_incoming"`
	HeartbeatOutgoing time.Duration `yaml:"heartbeat_outgoing" mapstructure:"heartbeat_outgoing"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" mapstructure:"handshake_timeout"`
	BrokerErrorDelay  time.Duration `yaml:"broker_error_delay" mapstructure:"broker_error_delay"`
	TokenRetry        RetryConfig   `yaml:"token_retry" mapstructure:"token_retry"`
	Steering          bool          `yaml:"steering" mapstructure:"steering"`

	// AuthRetryDelay is the pause before reconnecting after the token retry
	// budget ran out. Zero makes the daemon exit instead.
	AuthRetryDelay time.Duration `yaml:"auth_retry_delay" mapstructure:"auth_retry_delay"`
	Debug             bool          `yaml:"debug" mapstructure:"debug"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	Multiplier  float64       `yaml:"multiplier" mapstructure:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
}

type OrdersConfig struct {
	InboxSize int `yaml:"inbox_size" mapstructure:"inbox_size"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`

	// StaticDir, when set, is served at /dashboard.
	StaticDir string `yaml:"static_dir,omitempty" mapstructure:"static_dir"`
}

// JournalConfig controls persistence of connection lifecycle events.
type JournalConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	DSN       string        `yaml:"dsn" mapstructure:"dsn"`
	Retention time.Duration `yaml:"retention" mapstructure:"retention"`
}

type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}
