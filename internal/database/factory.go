package database

import (
	"fmt"
	"os"
	"path/filepath"

	"fbagent/internal/config"
)

// NewRepositoryFromConfig creates a repository based on the database config type.
// The schema is migrated to the latest version.
func NewRepositoryFromConfig(cfg config.DatabaseConfig, hostID string) (*SQLiteRepository, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteRepository(filepath.Join(cfg.DataDir, hostID+".db"))
	case "memory":
		return NewSQLiteRepository(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
