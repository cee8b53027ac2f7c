package migrations

import (
	"gorm.io/gorm"
)

// Migration001RefreshTokens creates the per-tenant refresh token table.
type Migration001RefreshTokens struct{}

func (m *Migration001RefreshTokens) Version() string {
	return "001_refresh_tokens"
}

func (m *Migration001RefreshTokens) Description() string {
	return "Create refresh_tokens table keyed by tenant"
}

func (m *Migration001RefreshTokens) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS refresh_tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant VARCHAR(255) NOT NULL UNIQUE,
			token TEXT NOT NULL,
			expires_at DATETIME,
			claims JSON,
			updated_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires_at ON refresh_tokens(expires_at)`).Error
}

func (m *Migration001RefreshTokens) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS refresh_tokens`).Error
}
