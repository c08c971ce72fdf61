package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"cvc-go/internal/config"
	"cvc-go/internal/cvc"
)

// Database is a cvc.Database that can also migrate its own schema.
type Database interface {
	cvc.Database
	MigrateUp() error
}

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
func NewDatabaseFromConfig(ctx context.Context, cfg config.DatabaseConfig, instanceID string) (Database, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		db, err := NewSQLiteDatabase(SQLitePath(cfg, instanceID))
		if err != nil {
			return nil, err
		}
		return db, nil
	case "memory":
		db, err := NewSQLiteDatabase(":memory:")
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		if cfg.URL == "" {
			return nil, fmt.Errorf("url required for postgres database")
		}
		db, err := NewPostgresDatabase(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// SQLitePath returns the database file used for a sqlite config.
func SQLitePath(cfg config.DatabaseConfig, instanceID string) string {
	return filepath.Join(cfg.DataDir, instanceID+".db")
}
