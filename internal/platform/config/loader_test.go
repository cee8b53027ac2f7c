package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "ordersync-go/internal/platform/errors"
)

func noEnv(string) (string, bool) { return "", false }

func TestLoader_Load(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "ordersync.yaml")

	configContent := `
log:
  log_level: "DEBUG"
  log_dir: "/tmp/logs"
ordering:
  base_url: "https://api.example.test"
  tenant: "acme"
  venue: "v1"
  kds: true
connection:
  reconnect_delay: 5s
  token_retry:
    max_attempts: 3
`
	if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	res, err := NewLoader(configFile).WithDotEnv(false).WithLookup(noEnv).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg := res.Config

	if cfg.Ordering.Tenant != "acme" {
		t.Errorf("expected tenant acme, got %s", cfg.Ordering.Tenant)
	}
	if cfg.Connection.ReconnectDelay != 5*time.Second {
		t.Errorf("expected reconnect delay 5s, got %s", cfg.Connection.ReconnectDelay)
	}
	if cfg.Connection.TokenRetry.MaxAttempts != 3 {
		t.Errorf("expected 3 token attempts, got %d", cfg.Connection.TokenRetry.MaxAttempts)
	}
	// untouched keys keep their defaults
	if cfg.Connection.TokenRetry.MaxDelay != 30*time.Second {
		t.Errorf("expected default max delay 30s, got %s", cfg.Connection.TokenRetry.MaxDelay)
	}
	if cfg.Auth.GateTimeout != 250*time.Millisecond {
		t.Errorf("expected default gate timeout 250ms, got %s", cfg.Auth.GateTimeout)
	}
	if cfg.Log.Level != "DEBUG" {
		t.Errorf("expected log level DEBUG, got %s", cfg.Log.Level)
	}
}

func TestLoader_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"ORDERSYNC_BASE_URL":         "https://env.example.test",
		"ORDERSYNC_TENANT":           "env-tenant",
		"ORDERSYNC_ANONYMOUS_AUTH":   "false",
		"ORDERSYNC_RECONNECT_DELAY":  "1s",
		"ORDERSYNC_AUTH_RETRY_DELAY": "0s",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	res, err := NewLoader("").WithDotEnv(false).WithLookup(lookup).Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if res.Config.Ordering.BaseURL != "https://env.example.test" {
		t.Errorf("unexpected base url %s", res.Config.Ordering.BaseURL)
	}
	if res.Config.Ordering.AnonymousAuth {
		t.Error("expected anonymous auth disabled by env")
	}
	if res.Config.Connection.ReconnectDelay != time.Second {
		t.Errorf("expected reconnect delay 1s, got %s", res.Config.Connection.ReconnectDelay)
	}
	if res.Config.Connection.AuthRetryDelay != 0 {
		t.Errorf("expected auth retry disabled by env, got %s", res.Config.Connection.AuthRetryDelay)
	}
}

func TestLoader_BadEnvValue(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "ORDERSYNC_KDS" {
			return "maybe", true
		}
		return "", false
	}
	_, err := NewLoader("").WithDotEnv(false).WithLookup(lookup).Load()
	if !apperrors.IsKind(err, apperrors.KindConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Ordering.BaseURL = "https://api.example.test"
		cfg.Ordering.Tenant = "acme"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "missing base url", mutate: func(c *Config) { c.Ordering.BaseURL = "" }, wantErr: true},
		{name: "missing tenant", mutate: func(c *Config) { c.Ordering.Tenant = "" }, wantErr: true},
		{name: "kds without venue", mutate: func(c *Config) { c.Ordering.KDS = true }, wantErr: true},
		{name: "unknown store", mutate: func(c *Config) { c.Auth.RefreshStore.Type = "etcd" }, wantErr: true},
		{name: "zero inbox", mutate: func(c *Config) { c.Orders.InboxSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
