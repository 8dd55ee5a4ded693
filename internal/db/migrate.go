package db

import (
	"fmt"

	"github.com/zulandar/opal/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model in the history store.
func AllModels() []interface{} {
	return []interface{}{
		&models.JobRecord{},
		&models.IngestRecord{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
