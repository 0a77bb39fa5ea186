package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Conte777/tg-session-migrator/config"
	"github.com/Conte777/tg-session-migrator/internal/domain/migration/entities"
)

// NewPostgresDB creates a new PostgreSQL database connection and brings the
// journal table up to date
func NewPostgresDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		return nil, err
	}

	return db, nil
}

// RunMigrations creates or alters the tables owned by the migrator
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(&entities.MigrationJournalModel{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}
