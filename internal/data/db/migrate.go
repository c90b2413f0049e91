package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/gonasi/gonasi-backend/internal/domain"
)

// postgresIndexes are constraints AutoMigrate cannot express.
var postgresIndexes = []string{
	// At most one current version per course.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_published_course_current
		ON published_courses (course_id) WHERE is_current_version`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_refund_lookup
		ON wallet_ledger_entries (payment_reference, destination_wallet_type, related_entity_id)`,
}

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(types.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	for _, stmt := range postgresIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
