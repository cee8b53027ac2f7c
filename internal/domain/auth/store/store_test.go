package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"gorm.io/gorm"

	"ordersync-go/internal/platform/storage"
	"ordersync-go/internal/platform/testutil"
)

func newTestSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := storage.Open(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close(db) })
	return db
}

// exerciseStorage runs the common Get/Set/Clear contract against s.
func exerciseStorage(t *testing.T, s Storage) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Get(ctx, "acme")
	if err != nil {
		t.Fatalf("Get on empty store: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}

	jwtToken := testutil.MintJWT(t, "user-1", time.Now().Add(time.Hour))
	if err := s.Set(ctx, "acme", jwtToken); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if got, _ = s.Get(ctx, "acme"); got != jwtToken {
		t.Fatalf("unexpected token: %q", got)
	}

	// overwrite with an opaque token
	if err := s.Set(ctx, "acme", "opaque-refresh"); err != nil {
		t.Fatalf("Set opaque error: %v", err)
	}
	if got, _ = s.Get(ctx, "acme"); got != "opaque-refresh" {
		t.Fatalf("expected opaque token, got %q", got)
	}

	// tenants are isolated
	if got, _ = s.Get(ctx, "other"); got != "" {
		t.Fatalf("expected no token for other tenant, got %q", got)
	}

	if err := s.Clear(ctx, "acme"); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if got, _ = s.Get(ctx, "acme"); got != "" {
		t.Fatalf("expected cleared token, got %q", got)
	}

	// setting an empty token clears
	_ = s.Set(ctx, "acme", "opaque-refresh")
	if err := s.Set(ctx, "acme", ""); err != nil {
		t.Fatalf("Set empty error: %v", err)
	}
	if got, _ = s.Get(ctx, "acme"); got != "" {
		t.Fatalf("expected empty after Set(\"\"), got %q", got)
	}
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemory(Config{})
	defer s.Close(context.Background())
	exerciseStorage(t, s)
}

func TestMemoryStorage_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(Config{TTL: 20 * time.Millisecond, Memory: &MemoryConfig{GCInterval: 5 * time.Millisecond}})
	defer s.Close(ctx)

	if err := s.Set(ctx, "acme", "opaque"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got, _ := s.Get(ctx, "acme"); got != "" {
		t.Fatalf("expected token to expire, got %q", got)
	}
}

func TestRedisStorage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	s, err := NewRedis(Config{Redis: &RedisConfig{Addr: mr.Addr(), Prefix: "test:refresh"}})
	if err != nil {
		t.Fatalf("NewRedis error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	exerciseStorage(t, s)
}

func TestRedisStorage_TTLFromClaims(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	s, err := NewRedis(Config{TTL: time.Hour, Redis: &RedisConfig{Addr: mr.Addr()}})
	if err != nil {
		t.Fatalf("NewRedis error: %v", err)
	}
	defer s.Close(ctx)

	token := testutil.MintJWT(t, "user-1", time.Now().Add(10*time.Minute))
	if err := s.Set(ctx, "acme", token); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	ttl := mr.TTL("ordersync:refresh:acme")
	if ttl <= 9*time.Minute || ttl > 10*time.Minute {
		t.Fatalf("expected ttl close to 10m, got %s", ttl)
	}

	mr.FastForward(11 * time.Minute)
	if got, _ := s.Get(ctx, "acme"); got != "" {
		t.Fatalf("expected expired key, got %q", got)
	}
}

func TestRedisStorage_Unreachable(t *testing.T) {
	if _, err := NewRedis(Config{Redis: &RedisConfig{Addr: "127.0.0.1:1"}}); err == nil {
		t.Fatal("expected ping failure")
	}
	if _, err := NewRedis(Config{}); err == nil {
		t.Fatal("expected missing config error")
	}
}

func TestSQLiteStorage(t *testing.T) {
	s, err := NewSQLite(newTestSQLiteDB(t), Config{})
	if err != nil {
		t.Fatalf("NewSQLite error: %v", err)
	}
	exerciseStorage(t, s)
}

func TestSQLiteStorage_ExpiredRowIsDropped(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDB(t)
	s, err := NewSQLite(db, Config{})
	if err != nil {
		t.Fatalf("NewSQLite error: %v", err)
	}

	if err := s.Set(ctx, "acme", "opaque"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	if err := db.Model(&storage.RefreshToken{}).Where("tenant = ?", "acme").Update("expires_at", past).Error; err != nil {
		t.Fatalf("update expiry: %v", err)
	}

	if got, _ := s.Get(ctx, "acme"); got != "" {
		t.Fatalf("expected expired row to be ignored, got %q", got)
	}
	var count int64
	db.Model(&storage.RefreshToken{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected expired row deleted, %d left", count)
	}
}

func TestSQLiteStorage_KeepsClaims(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLiteDB(t)
	s, _ := NewSQLite(db, Config{})

	token := testutil.MintJWT(t, "user-42", time.Now().Add(time.Hour))
	if err := s.Set(ctx, "acme", token); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	var record storage.RefreshToken
	if err := db.Where("tenant = ?", "acme").First(&record).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if len(record.Claims) == 0 {
		t.Fatal("expected decoded claims to be stored")
	}
}

func TestFactory(t *testing.T) {
	ctx := context.Background()

	s, err := New(Config{}, Dependencies{})
	if err != nil {
		t.Fatalf("New default store: %v", err)
	}
	_ = s.Close(ctx)

	if _, err := New(Config{Driver: DriverSQLite}, Dependencies{}); err == nil {
		t.Fatal("expected sqlite without handle to fail")
	}
	s, err = New(Config{Driver: "SQLite"}, Dependencies{SQLiteDB: newTestSQLiteDB(t)})
	if err != nil {
		t.Fatalf("New sqlite store: %v", err)
	}
	_ = s.Close(ctx)

	if _, err := New(Config{Driver: "etcd"}, Dependencies{}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}
