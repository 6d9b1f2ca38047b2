package db

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nutribin-backend/config"
	"nutribin-backend/internal/model"
)

// Models lists every table managed by AutoMigrate, parents before children.
var Models = []any{
	&model.Customer{},
	&model.Staff{},
	&model.Admin{},
	&model.ArchivedCustomer{},
	&model.Authentication{},
	&model.LoginAttempt{},
	&model.VerificationCode{},
	&model.MachineSerial{},
	&model.Machine{},
	&model.FertilizerReading{},
	&model.PushSubscription{},
	&model.FirmwareRelease{},
	&model.Repair{},
	&model.SupportTicket{},
	&model.SupportMessage{},
	&model.Announcement{},
	&model.Sale{},
}

// Init opens the connection pool and runs migrations.
func Init(cfg *config.DatabaseConfig, logLevel string, log *zap.Logger) (*gorm.DB, error) {
	gormLevel := logger.Warn
	if logLevel == "debug" {
		gormLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:         logger.Default.LogMode(gormLevel),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Info("running database migrations", zap.Int("models", len(Models)))
	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("database initialization complete")
	return db, nil
}

// Migrate creates or updates every table in Models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}
