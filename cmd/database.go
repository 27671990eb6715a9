package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"library/config"
	"library/infrastructure/persistence/gormstore"
	"library/pkg/logger"

	"gorm.io/gorm"
)

func NewDatabaseConfig(cfg *config.Config) *gormstore.Config {
	return &gormstore.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Username:        cfg.Database.Username,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		Path:            cfg.Database.Path,
		LogLevel:        cfg.Database.LogLevel,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
}

// OpenDatabase connects the write store, pings it and migrates the schema when enabled.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	dbCfg := NewDatabaseConfig(cfg)
	if dbCfg.Driver == gormstore.DriverSQLite && dbCfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(dbCfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := dbCfg.Connect()
	if err != nil {
		return nil, err
	}
	if err := gormstore.Ping(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, err
		}
		logger.Info("Write store schema migrated")
	}
	return db, nil
}

// CloseDatabase releases the pool.
func CloseDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
