package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "ordersync-go/internal/platform/errors"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "ORDERSYNC_"

// Loader reads a YAML file over DefaultConfig and applies environment overrides.
type Loader struct {
	path      string
	useDotEnv bool
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader for the given YAML path. An empty path skips the file.
func NewLoader(path string) *Loader {
	return &Loader{
		path:      path,
		useDotEnv: true,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithLookup overrides environment lookups (useful for tests).
func (l *Loader) WithLookup(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load merges defaults, file and environment, then validates the result.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// a missing .env is normal outside development
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindConfig, "load", "read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrap(apperrors.KindConfig, "load", "parse config file", err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: l.path}, nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"BASE_URL":       &cfg.Ordering.BaseURL,
		"BROKER_URL":     &cfg.Ordering.BrokerURL,
		"TENANT":         &cfg.Ordering.Tenant,
		"VENUE":          &cfg.Ordering.Venue,
		"BASIC_AUTH":     &cfg.Ordering.BasicAuth,
		"LOG_LEVEL":      &cfg.Log.Level,
		"LOG_DIR":        &cfg.Log.Dir,
		"REFRESH_STORE":  &cfg.Auth.RefreshStore.Type,
		"REDIS_ADDR":     &cfg.Auth.RefreshStore.Redis.Addr,
		"REDIS_PASSWORD": &cfg.Auth.RefreshStore.Redis.Password,
		"SQLITE_DSN":     &cfg.Auth.RefreshStore.SQLite.DSN,
		"HTTP_ADDR":      &cfg.HTTP.Addr,
		"JOURNAL_DSN":    &cfg.Journal.DSN,
	}
	for key, dst := range strs {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"ANONYMOUS_AUTH":   &cfg.Ordering.AnonymousAuth,
		"KDS":              &cfg.Ordering.KDS,
		"HTTP_ENABLED":     &cfg.HTTP.Enabled,
		"CONNECTION_DEBUG": &cfg.Connection.Debug,
		"JOURNAL_ENABLED":  &cfg.Journal.Enabled,
	}
	for key, dst := range bools {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok {
			parsed, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return apperrors.Wrap(apperrors.KindConfig, "env", EnvPrefix+key, err)
			}
			*dst = parsed
		}
	}

	durations := map[string]*time.Duration{
		"RECONNECT_DELAY":  &cfg.Connection.ReconnectDelay,
		"GATE_TIMEOUT":     &cfg.Auth.GateTimeout,
		"AUTH_RETRY_DELAY": &cfg.Connection.AuthRetryDelay,
	}
	for key, dst := range durations {
		if v, ok := l.lookupEnv(EnvPrefix + key); ok {
			parsed, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return apperrors.Wrap(apperrors.KindConfig, "env", EnvPrefix+key, err)
			}
			*dst = parsed
		}
	}
	return nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch {
	case c.Ordering.BaseURL == "":
		return apperrors.New(apperrors.KindConfig, "validate", "ordering.base_url is required")
	case c.Ordering.Tenant == "":
		return apperrors.New(apperrors.KindConfig, "validate", "ordering.tenant is required")
	case c.Ordering.KDS && c.Ordering.Venue == "":
		return apperrors.New(apperrors.KindConfig, "validate", "ordering.venue is required in kds mode")
	case c.Orders.InboxSize <= 0:
		return apperrors.New(apperrors.KindConfig, "validate", "orders.inbox_size must be positive")
	case c.Connection.TokenRetry.MaxAttempts <= 0:
		return apperrors.New(apperrors.KindConfig, "validate", "connection.token_retry.max_attempts must be positive")
	case c.Connection.AuthRetryDelay < 0:
		return apperrors.New(apperrors.KindConfig, "validate", "connection.auth_retry_delay must not be negative")
	}

	switch strings.ToLower(c.Auth.RefreshStore.Type) {
	case "", "memory", "redis", "sqlite":
	default:
		return apperrors.New(apperrors.KindConfig, "validate",
			fmt.Sprintf("unknown auth.refresh_store.type %q", c.Auth.RefreshStore.Type))
	}
	return nil
}
