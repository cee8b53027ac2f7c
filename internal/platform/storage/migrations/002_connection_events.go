package migrations

import (
	"gorm.io/gorm"
)

// Migration002ConnectionEvents creates the connection lifecycle journal.
type Migration002ConnectionEvents struct{}

func (m *Migration002ConnectionEvents) Version() string {
	return "002_connection_events"
}

func (m *Migration002ConnectionEvents) Description() string {
	return "Create connection_events journal"
}

func (m *Migration002ConnectionEvents) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS connection_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type VARCHAR(64) NOT NULL,
			tenant VARCHAR(255) NOT NULL,
			venue VARCHAR(255),
			state VARCHAR(32),
			reason TEXT,
			data JSON,
			created_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_connection_events_tenant_created ON connection_events(tenant, created_at)`).Error
}

func (m *Migration002ConnectionEvents) Down(db *gorm.DB) error {
	return db.Exec(`DROP TABLE IF EXISTS connection_events`).Error
}
