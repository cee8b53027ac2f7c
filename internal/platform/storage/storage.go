package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ordersync-go/internal/platform/errors"
	"ordersync-go/internal/platform/storage/migrations"
)

// RefreshToken is the persisted refresh credential of one tenant.
type RefreshToken struct {
	ID        uint           `gorm:"primaryKey"`
	Tenant    string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"tenant"`
	Token     string         `gorm:"not null"                               json:"token"`
	ExpiresAt *time.Time     `                                              json:"expires_at,omitempty"`
	Claims    datatypes.JSON `                                              json:"claims,omitempty"`
	UpdatedAt time.Time      `                                              json:"updated_at"`
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// ConnectionEvent is one persisted connection lifecycle event.
type ConnectionEvent struct {
	ID        uint           `gorm:"primaryKey"`
	EventType string         `gorm:"type:varchar(64);not null"  json:"event_type"`
	Tenant    string         `gorm:"type:varchar(255);not null" json:"tenant"`
	Venue     string         `gorm:"type:varchar(255)"          json:"venue,omitempty"`
	State     string         `gorm:"type:varchar(32)"           json:"state,omitempty"`
	Reason    string         `                                  json:"reason,omitempty"`
	Data      datatypes.JSON `                                  json:"data,omitempty"`
	CreatedAt time.Time      `                                  json:"created_at"`
}

func (ConnectionEvent) TableName() string {
	return "connection_events"
}

// Open opens (or creates) the sqlite database at dsn and applies migrations.
// In-memory DSNs ("file:...mode=memory" or ":memory:") skip directory creation.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New(errors.KindStorage, "open", "sqlite dsn is empty")
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, errors.Wrap(errors.KindStorage, "open", "failed to create data directory", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "open", "failed to open database", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate runs the schema migrations on db.
func Migrate(db *gorm.DB) error {
	manager := NewMigrationManager(db)
	manager.AddMigration(&migrations.Migration001RefreshTokens{})
	manager.AddMigration(&migrations.Migration002ConnectionEvents{})
	return manager.RunMigrations()
}

// Close releases the underlying sql.DB.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
