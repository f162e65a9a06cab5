package db

import (
	"log"
	"time"

	"anypay-backend/internal/config"
	"anypay-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB connects to Postgres and migrates the schema. Only called when the
// configured database driver is "postgres"; the memory backend needs no setup.
func InitDB() {
	var err error

	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		log.Fatalf("Database DSN is required")
	}

	dsn := config.AppConfig.Database.DSN

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatalf("Failed to get underlying sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("✅ Database connected successfully")

	log.Println("🚀 Starting database schema migration with GORM AutoMigrate...")
	if err := DB.AutoMigrate(
		&models.DepositRecord{},
	); err != nil {
		log.Fatalf("AutoMigrate failed: %v", err)
	}

	log.Println("✅ Database schema migrated successfully")
}
