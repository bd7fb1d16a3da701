package db

import (
	"fmt"

	"github.com/mcphub-dev/mcphub/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for all registry tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	return conn.AutoMigrate(
		&models.Server{},
		&models.HealthCheck{},
		&models.ServerHealthLatest{},
		&models.ScoreSnapshot{},
		&models.APIKey{},
	)
}
