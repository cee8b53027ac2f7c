package testutil

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ordersync-go/internal/platform/config"
	"ordersync-go/internal/platform/logging"
)

// SetupTestConfig returns a valid configuration pointing at baseURL with
// delays shrunk for tests.
func SetupTestConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Log = config.LogConfig{Level: "DEBUG"}
	cfg.Ordering.BaseURL = baseURL
	cfg.Ordering.Tenant = "test-tenant"
	cfg.Ordering.Venue = "v1"
	cfg.Ordering.BasicAuth = "dGVzdDp0ZXN0"
	cfg.Connection.ReconnectDelay = 20 * time.Millisecond
	cfg.Connection.HeartbeatIncoming = 0
	cfg.Connection.HeartbeatOutgoing = 0
	cfg.Connection.TokenRetry = config.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    20 * time.Millisecond,
	}
	return cfg
}

// SetupTestLogger returns a console logger whose output is captured in the
// returned buffer.
func SetupTestLogger(t *testing.T) (*logging.Logger, *SyncBuffer) {
	t.Helper()
	buf := &SyncBuffer{}
	return logging.NewWithWriter(buf, "debug"), buf
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// MintJWT signs an HS256 token expiring at exp. A zero exp omits the claim.
func MintJWT(t *testing.T, subject string, exp time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
	}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
