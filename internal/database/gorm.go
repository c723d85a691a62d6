package database

import (
	"fmt"
	"log"

	"omnichat-gateway/internal/config"
	"omnichat-gateway/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitGorm opens the configured database and runs migrations. The returned
// handle is passed down to the resolvers; nothing in this package holds
// global state, so multiple gateway instances can share one database.
func InitGorm(cfg *config.Config) *gorm.DB {
	var (
		db  *gorm.DB
		err error
	)

	switch cfg.DBDriver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
	default:
		db, err = gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
	}

	if err != nil {
		log.Fatalf("Failed to connect to database (%s): %v", cfg.DBDriver, err)
	}

	if err := Migrate(db); err != nil {
		log.Fatalf("Failed to run auto-migration: %v", err)
	}

	log.Printf("Database initialized successfully (%s)", cfg.DBDriver)
	return db
}

// Migrate creates or updates the schema, including the unique constraints the
// ingestion pipeline relies on for idempotence.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.PlatformAccount{},
		&models.Customer{},
		&models.CustomerIdentity{},
		&models.Conversation{},
		&models.Message{},
		&models.DeadLetterEvent{},
	)
}
