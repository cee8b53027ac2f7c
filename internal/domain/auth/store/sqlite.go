package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ordersync-go/internal/domain/auth/model"
	"ordersync-go/internal/platform/storage"
)

type sqliteStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewSQLite builds a SQLite-backed refresh token store on a migrated handle.
func NewSQLite(db *gorm.DB, cfg Config) (Storage, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{
		db:  db,
		ttl: cfg.ttl(),
	}, nil
}

func (s *sqliteStore) Get(ctx context.Context, tenant string) (string, error) {
	var record storage.RefreshToken
	err := s.db.WithContext(ctx).Where("tenant = ?", tenant).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if record.ExpiresAt != nil && time.Now().After(*record.ExpiresAt) {
		_ = s.Clear(ctx, tenant)
		return "", nil
	}
	return record.Token, nil
}

func (s *sqliteStore) Set(ctx context.Context, tenant, token string) error {
	if token == "" {
		return s.Clear(ctx, tenant)
	}

	now := time.Now()
	expiresAt := expiryFor(token, now, s.ttl)
	record := &storage.RefreshToken{
		Tenant:    tenant,
		Token:     token,
		ExpiresAt: &expiresAt,
		UpdatedAt: now,
	}
	if claims, err := model.DecodeClaims(token); err == nil {
		if raw, err := json.Marshal(claims); err == nil {
			record.Claims = datatypes.JSON(raw)
		}
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "expires_at", "claims", "updated_at"}),
	}).Create(record).Error
}

func (s *sqliteStore) Clear(ctx context.Context, tenant string) error {
	return s.db.WithContext(ctx).Where("tenant = ?", tenant).Delete(&storage.RefreshToken{}).Error
}

// Close leaves the shared handle open; its owner closes it.
func (s *sqliteStore) Close(context.Context) error {
	return nil
}
